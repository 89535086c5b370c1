package models

import (
	"errors"
	"time"
)

// ErrUnknownIdentity is returned by identity lookups for a user that does not exist.
var ErrUnknownIdentity = errors.New("unknown user")

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the presentation view of a user shown next to their messages.
type Identity struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

func (u *User) Identity() Identity {
	return Identity{Username: u.Username, DisplayName: u.DisplayName}
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
