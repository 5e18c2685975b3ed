package model

import (
	"errors"
	"strings"
)

// ErrInvalidUsername is returned for usernames that are empty after trimming.
var ErrInvalidUsername = errors.New("username must not be empty")

// User is the hub's view of a participant.
type User struct {
	Username  string `json:"username"`
	Online    bool   `json:"online"`
	Recording bool   `json:"recording"`
}

// NormalizeUsername trims surrounding whitespace from a requested username.
// Names are compared case-sensitively and no character set is enforced; the
// only requirement is that something is left after trimming.
func NormalizeUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrInvalidUsername
	}
	return name, nil
}
