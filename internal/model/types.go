package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the canonical account role. Stored and signed lower-case.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ErrInvalidRole is returned by ParseRole for anything other than admin/user.
var ErrInvalidRole = errors.New("invalid role")

// ParseRole normalizes a role string case-insensitively ("ADMIN", " user ").
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(RoleAdmin):
		return RoleAdmin, nil
	case string(RoleUser):
		return RoleUser, nil
	default:
		return "", ErrInvalidRole
	}
}

// IsAdmin reports whether r is the admin role
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// User represents an account
type User struct {
	ID           uuid.UUID
	Email        string
	Username     string
	Name         string
	PasswordHash string
	GoogleID     *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName falls back to the username when no name is set
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// PasswordResetToken is a stored, hashed reset token. The raw token only ever leaves via email.
type PasswordResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
