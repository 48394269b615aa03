package models

import (
	"crypto/subtle"
	"time"
)

// LoginToken is one issued single-use (or windowed multi-use) login
// credential. The full list for a user is serialized as JSON and kept
// under a fixed user_meta key.
type LoginToken struct {
	// Secret is the presented credential, a 40-char hex string.
	Secret string `json:"secret"`
	// ActivateAt is the inclusive lower bound of the usable window.
	ActivateAt time.Time `json:"activate_at"`
	// DeactivateAt is the inclusive upper bound of the usable window.
	DeactivateAt time.Time `json:"deactivate_at"`
	// RetireAt is the absolute deletion instant. nil means the token
	// is deleted on first successful use, unless RetireNever is set.
	RetireAt    *time.Time `json:"retire_at,omitempty"`
	RetireNever bool       `json:"retire_never,omitempty"`
	// RedirectTarget overrides the default landing page after a
	// successful login. Relative path.
	RedirectTarget string    `json:"redirect_target,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
}

// RetireImmediately reports whether the token must be removed on its
// first successful validation.
func (t LoginToken) RetireImmediately() bool {
	return !t.RetireNever && t.RetireAt == nil
}

// Retired reports whether a finite retirement instant has passed.
// Retired tokens are dropped the next time the set is loaded, used or
// not.
func (t LoginToken) Retired(now time.Time) bool {
	return !t.RetireNever && t.RetireAt != nil && now.After(*t.RetireAt)
}

// InWindow reports whether now lies within [ActivateAt, DeactivateAt],
// bounds inclusive.
func (t LoginToken) InWindow(now time.Time) bool {
	return !now.Before(t.ActivateAt) && !now.After(t.DeactivateAt)
}

// MatchesSecret compares the presented value in constant time.
func (t LoginToken) MatchesSecret(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(t.Secret), []byte(presented)) == 1
}

// MaskedSecret exposes enough of the secret for admin listings without
// making the listing itself a credential leak.
func (t LoginToken) MaskedSecret() string {
	if len(t.Secret) <= 8 {
		return "********"
	}
	return t.Secret[:4] + "..." + t.Secret[len(t.Secret)-4:]
}

// TokenView is the admin-facing projection of a LoginToken.
type TokenView struct {
	Secret         string     `json:"secret"`
	ActivateAt     time.Time  `json:"activate_at"`
	DeactivateAt   time.Time  `json:"deactivate_at"`
	RetireAt       *time.Time `json:"retire_at,omitempty"`
	RetireNever    bool       `json:"retire_never"`
	RedirectTarget string     `json:"redirect_target,omitempty"`
	IssuedAt       time.Time  `json:"issued_at"`
}

// View returns the masked projection.
func (t LoginToken) View() TokenView {
	return TokenView{
		Secret:         t.MaskedSecret(),
		ActivateAt:     t.ActivateAt,
		DeactivateAt:   t.DeactivateAt,
		RetireAt:       t.RetireAt,
		RetireNever:    t.RetireNever,
		RedirectTarget: t.RedirectTarget,
		IssuedAt:       t.IssuedAt,
	}
}
