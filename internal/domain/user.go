// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUsernameLen  = 36
	DefaultUsername = "Anonymous"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUser never fails: a missing name falls back to DefaultUsername.
func NewUser(id UserID, username string) *User {
	return &User{ID: id, Username: NormalizeUsername(username)}
}

// NormalizeUsername trims and truncates a client supplied display name.
func NormalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	if username == "" {
		return DefaultUsername
	}
	if len(username) > MaxUsernameLen {
		username = strings.ToValidUTF8(username[:MaxUsernameLen], "")
	}
	return username
}

// ValidateUsername rejects names that NormalizeUsername would rewrite.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

func (u *User) SetUsername(username string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	u.Username = strings.TrimSpace(username)
	return nil
}
