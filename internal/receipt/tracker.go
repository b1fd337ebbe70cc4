// Package receipt decides which messages in the open room still need a
// delivered or read acknowledgement from the local viewer, and emits each
// at most once. There is no separate dedupe cache: the scan checks current
// set membership in the timeline and reflects the emission back into it in
// the same event turn, so re-scanning is naturally idempotent.
package receipt

import (
	"log/slog"

	"github.com/immxrtalbeast/chatsync/internal/channel"
	"github.com/immxrtalbeast/chatsync/internal/timeline"
	"github.com/immxrtalbeast/chatsync/lib/logger/sl"
)

// Emitter sends one receipt event to the server.
type Emitter interface {
	Emit(event string, payload any) error
}

type Tracker struct {
	store   *timeline.Store
	emitter Emitter
	log     *slog.Logger
}

func NewTracker(store *timeline.Store, emitter Emitter, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		store:   store,
		emitter: emitter,
		log:     log,
	}
}

// Scan walks the open room's snapshot and emits the missing delivered and
// read receipts for viewerID. Messages authored by the viewer and messages
// already deleted never produce a receipt. Each emission is applied to the
// timeline immediately so the next scan sees the membership and skips it.
func (t *Tracker) Scan(roomID, viewerID string) {
	for _, msg := range t.store.Snapshot(roomID) {
		if msg.SenderID == viewerID {
			continue
		}

		if !msg.DeliveredFor(viewerID) {
			t.send(channel.EventDelivered, msg.ID, viewerID, roomID)
			t.store.ApplyDelivered(msg.ID, viewerID)
		}

		if !msg.ReadFor(viewerID) {
			t.send(channel.EventRead, msg.ID, viewerID, roomID)
			t.store.ApplyRead(msg.ID, viewerID)
		}
	}
}

func (t *Tracker) send(event, messageID, userID, roomID string) {
	err := t.emitter.Emit(event, channel.ReceiptPayload{
		MessageID: messageID,
		UserID:    userID,
		RoomID:    roomID,
	})
	if err != nil {
		t.log.Warn("receipt emission failed", slog.String("event", event), sl.Err(err))
	}
}
