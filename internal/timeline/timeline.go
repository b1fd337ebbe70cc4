// Package timeline keeps the per-room ordered message store and is the
// single merge authority for message deltas. Every apply operation is an
// idempotent merge keyed by message id: the transport is at-least-once,
// so any delta may arrive more than once and must converge to the same
// state.
package timeline

import (
	"log/slog"
	"time"

	"github.com/immxrtalbeast/chatsync/internal/domain"
	"github.com/samber/lo"
)

type room struct {
	order []string
	byID  map[string]*domain.Message
}

func newRoom() *room {
	return &room{byID: make(map[string]*domain.Message)}
}

// Store holds the timelines of every room seen so far.
type Store struct {
	log   *slog.Logger
	rooms map[string]*room
}

func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		log:   log,
		rooms: make(map[string]*room),
	}
}

func (s *Store) room(roomID string) *room {
	r, ok := s.rooms[roomID]
	if !ok {
		r = newRoom()
		s.rooms[roomID] = r
	}
	return r
}

func (s *Store) find(id string) (*room, *domain.Message) {
	for _, r := range s.rooms {
		if m, ok := r.byID[id]; ok {
			return r, m
		}
	}
	return nil, nil
}

// Seed replaces a room's content with an externally loaded page. This is
// the reload path used on room open and after a reconnect gap.
func (s *Store) Seed(roomID string, msgs []domain.Message) {
	r := newRoom()
	for i := range msgs {
		m := msgs[i]
		if _, ok := r.byID[m.ID]; ok {
			continue
		}
		r.order = append(r.order, m.ID)
		r.byID[m.ID] = &m
	}
	s.rooms[roomID] = r
}

// ApplyCreate appends a message to its room, or merges it in place when
// the id is already present (duplicate delivery, or an edit arriving as a
// full message). Receipt sets only ever grow.
func (s *Store) ApplyCreate(msg domain.Message) {
	r := s.room(msg.RoomID)
	existing, ok := r.byID[msg.ID]
	if !ok {
		m := msg
		r.order = append(r.order, m.ID)
		r.byID[m.ID] = &m
		return
	}

	existing.Content = msg.Content
	if msg.Attachment != nil {
		existing.Attachment = msg.Attachment
	}
	if msg.EditedAt != nil {
		existing.EditedAt = msg.EditedAt
	}
	existing.DeliveredTo = lo.Union(existing.DeliveredTo, msg.DeliveredTo)
	existing.ReadBy = lo.Union(existing.ReadBy, msg.ReadBy)
	existing.StarredBy = lo.Union(existing.StarredBy, msg.StarredBy)
}

// ApplyEdit updates content in place. An edit for a message not yet
// loaded is dropped; the next full reload carries the edited content.
func (s *Store) ApplyEdit(id, content string, editedAt *time.Time) {
	_, m := s.find(id)
	if m == nil {
		s.log.Debug("edit for unknown message dropped", slog.String("message_id", id))
		return
	}
	m.Content = content
	if editedAt != nil {
		m.EditedAt = editedAt
	}
}

// ApplyDelete removes the message from its room's ordered sequence.
// Deletion is a tombstone: once applied the message is simply absent.
func (s *Store) ApplyDelete(id string) {
	r, m := s.find(id)
	if m == nil {
		return
	}
	delete(r.byID, id)
	r.order = lo.Reject(r.order, func(mid string, _ int) bool { return mid == id })
}

// ApplyDelivered adds userID to the message's delivered set.
func (s *Store) ApplyDelivered(id, userID string) {
	_, m := s.find(id)
	if m == nil {
		return
	}
	if !m.DeliveredFor(userID) {
		m.DeliveredTo = append(m.DeliveredTo, userID)
	}
}

// ApplyRead adds userID to the message's read set.
func (s *Store) ApplyRead(id, userID string) {
	_, m := s.find(id)
	if m == nil {
		return
	}
	if !m.ReadFor(userID) {
		m.ReadBy = append(m.ReadBy, userID)
	}
}

// ApplyStarred adds userID to the message's starred set.
func (s *Store) ApplyStarred(id, userID string) {
	_, m := s.find(id)
	if m == nil {
		return
	}
	if !m.StarredFor(userID) {
		m.StarredBy = append(m.StarredBy, userID)
	}
}

// ApplyUnstarred removes userID from the message's starred set. Starring
// is the one viewer-controlled set, so unlike receipts it may shrink.
func (s *Store) ApplyUnstarred(id, userID string) {
	_, m := s.find(id)
	if m == nil {
		return
	}
	m.StarredBy = lo.Reject(m.StarredBy, func(uid string, _ int) bool { return uid == userID })
}

// Get returns a copy of one message by id.
func (s *Store) Get(id string) (domain.Message, bool) {
	_, m := s.find(id)
	if m == nil {
		return domain.Message{}, false
	}
	return *m, true
}

// Snapshot returns the room's messages in timeline order. The copies are
// safe to hand to rendering code.
func (s *Store) Snapshot(roomID string) []domain.Message {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.Message, 0, len(r.order))
	for _, id := range r.order {
		if m, ok := r.byID[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

// Starred returns the room's messages starred by userID, in timeline order.
func (s *Store) Starred(roomID, userID string) []domain.Message {
	return lo.Filter(s.Snapshot(roomID), func(m domain.Message, _ int) bool {
		return m.StarredFor(userID)
	})
}
