// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
)

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
// An empty username gets the placeholder derived from the id.
func NewUser(id UserID, username string) (*User, error) {
	if username == "" {
		username = DefaultUsername(id)
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &User{ID: id, Username: username}, nil
}

func (u *User) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}

// DefaultUsername mirrors the "User_xxxxx" placeholder clients expect.
func DefaultUsername(id UserID) string {
	s := string(id)
	if len(s) > 5 {
		s = s[:5]
	}
	return fmt.Sprintf("User_%s", s)
}
