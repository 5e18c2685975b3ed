// Package model defines the core domain types for walkie.
package model

// Presence is a point-in-time listing of usernames, ordered by join time.
type Presence []string

// Contains reports whether username is part of the listing.
func (p Presence) Contains(username string) bool {
	for _, u := range p {
		if u == username {
			return true
		}
	}
	return false
}

// Users expands the listing into User values. recording may be nil.
func (p Presence) Users(recording func(string) bool) []User {
	users := make([]User, 0, len(p))
	for _, name := range p {
		u := User{Username: name, Online: true}
		if recording != nil {
			u.Recording = recording(name)
		}
		users = append(users, u)
	}
	return users
}
