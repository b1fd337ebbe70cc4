// Package presence merges online/offline/last-seen deltas into a roster
// keyed by user id. Last write wins, ordered by arrival; only the most
// recent status is meaningful, so no clock comparison is done.
package presence

import (
	"time"

	"github.com/immxrtalbeast/chatsync/internal/domain"
	"github.com/samber/lo"
)

type Tracker struct {
	entries map[string]domain.PresenceEntry
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]domain.PresenceEntry)}
}

// Apply merges one status delta.
func (t *Tracker) Apply(userID string, online bool, lastSeen *time.Time) {
	t.entries[userID] = domain.PresenceEntry{
		UserID:   userID,
		Online:   online,
		LastSeen: lastSeen,
	}
}

// Get returns the current entry for one user.
func (t *Tracker) Get(userID string) (domain.PresenceEntry, bool) {
	e, ok := t.entries[userID]
	return e, ok
}

// Snapshot returns every known entry.
func (t *Tracker) Snapshot() []domain.PresenceEntry {
	return lo.Values(t.entries)
}
