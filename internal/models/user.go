package models

import "time"

// UserRole represents the available roles for the admin surface.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleMember     UserRole = "MEMBER"
)

// User represents an application user stored in the users table.
type User struct {
	ID           string    `db:"id" json:"id"`
	Login        string    `db:"login" json:"login"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	Role         UserRole  `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// UserMeta is one row of the user_meta key/value collaborator.
type UserMeta struct {
	UserID    string    `db:"user_id" json:"user_id"`
	MetaKey   string    `db:"meta_key" json:"meta_key"`
	MetaValue []byte    `db:"meta_value" json:"meta_value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
