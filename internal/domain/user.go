package domain

import "time"

// User is the profile shape returned by the user-lookup endpoint. It is
// consumed for display purposes only; this layer never mutates profiles.
type User struct {
	ID       string     `json:"_id"`
	Username string     `json:"username"`
	Email    string     `json:"email,omitempty"`
	Avatar   string     `json:"avatar,omitempty"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// PresenceEntry is the merged presence status for one user. Last write
// wins, ordered by arrival.
type PresenceEntry struct {
	UserID   string
	Online   bool
	LastSeen *time.Time
}
