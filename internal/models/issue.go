package models

import "time"

// IssueRequest captures the parameters of one token issuance. Time
// fields are raw strings: date-only or date-time, normalized by the
// lifecycle engine.
type IssueRequest struct {
	UserID string `json:"-"`
	Count  int    `json:"count" validate:"omitempty,min=1"`
	// ActivateAt: validity start. Empty means no lower bound.
	ActivateAt string `json:"activate_at"`
	// DeactivateAt: validity end. Empty means no upper bound.
	DeactivateAt string `json:"deactivate_at"`
	// RetireAt: "" or "immediate" (delete on first use), "never", an absolute
	// date/date-time, minutes as an integer, or a duration like "45m".
	RetireAt string `json:"retire_at"`
	// Redirect is the relative landing path after a successful login.
	Redirect string `json:"redirect" validate:"omitempty,startswith=/"`
}

// IssueResult reports a completed issuance.
type IssueResult struct {
	UserID string   `json:"user_id"`
	URLs   []string `json:"urls"`
	// Tokens are the newly appended records, in issuance order.
	Tokens []LoginToken `json:"-"`
	// CleanupAt is set when a one-shot cleanup was scheduled.
	CleanupAt *time.Time `json:"cleanup_at,omitempty"`
}

// ValidateRequest is the explicit request context of one login
// attempt: the parsed query parameters plus whether the caller already
// holds a session (used only to tailor the failure message).
type ValidateRequest struct {
	UserID          string
	Secret          string
	SessionActive   bool
	SessionUserName string
}

// ValidateResult reports a successful validation.
type ValidateResult struct {
	User           *User
	RedirectTarget string
}

// CleanupJob is one persisted one-shot cleanup registration.
type CleanupJob struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	RunAt     time.Time `db:"run_at" json:"run_at"`
	Secrets   []byte    `db:"secrets" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
