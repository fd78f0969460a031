// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	MaxUsernameLen = 64
	MaxEmailLen    = 254
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameInvalid = errors.New("username must not contain ':' or whitespace")

	// ErrInvalidToken is returned by authenticators for missing, malformed,
	// expired or forged tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUserInactive covers unknown, disabled and unverified accounts.
	ErrUserInactive = errors.New("user not found or inactive")
)

// User is a persisted account.
type User struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"is_active"`
	Verified     bool      `json:"is_verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// CanSignal reports whether the account may join signaling rooms.
func (u *User) CanSignal() bool {
	return u != nil && u.Active && u.Verified
}

// Identity is what a verified token resolves to.
type Identity struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	if strings.ContainsAny(username, ": \t\r\n") {
		return ErrUsernameInvalid
	}
	return nil
}
