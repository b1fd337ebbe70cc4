package receipt

import (
	"testing"
	"time"

	"github.com/immxrtalbeast/chatsync/internal/channel"
	"github.com/immxrtalbeast/chatsync/internal/domain"
	"github.com/immxrtalbeast/chatsync/internal/timeline"
	"github.com/stretchr/testify/require"
)

type recordedEmit struct {
	event   string
	payload channel.ReceiptPayload
}

type fakeEmitter struct {
	emits []recordedEmit
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.emits = append(f.emits, recordedEmit{event: event, payload: payload.(channel.ReceiptPayload)})
	return nil
}

func (f *fakeEmitter) count(event, messageID string) int {
	n := 0
	for _, e := range f.emits {
		if e.event == event && e.payload.MessageID == messageID {
			n++
		}
	}
	return n
}

func seed(store *timeline.Store, id, sender string) {
	store.ApplyCreate(domain.Message{
		ID:        id,
		RoomID:    "r1",
		SenderID:  sender,
		Content:   "x",
		CreatedAt: time.Now(),
	})
}

func TestTracker_EmitsMissingReceipts(t *testing.T) {
	store := timeline.NewStore(nil)
	emitter := &fakeEmitter{}
	tracker := NewTracker(store, emitter, nil)

	seed(store, "m1", "alice")
	tracker.Scan("r1", "viewer")

	require.Equal(t, 1, emitter.count(channel.EventDelivered, "m1"))
	require.Equal(t, 1, emitter.count(channel.EventRead, "m1"))

	got, _ := store.Get("m1")
	require.True(t, got.DeliveredFor("viewer"))
	require.True(t, got.ReadFor("viewer"))
}

func TestTracker_RescanEmitsAtMostOnce(t *testing.T) {
	store := timeline.NewStore(nil)
	emitter := &fakeEmitter{}
	tracker := NewTracker(store, emitter, nil)

	seed(store, "m1", "alice")
	tracker.Scan("r1", "viewer")
	tracker.Scan("r1", "viewer")
	tracker.Scan("r1", "viewer")

	require.Equal(t, 1, emitter.count(channel.EventDelivered, "m1"))
	require.Equal(t, 1, emitter.count(channel.EventRead, "m1"))
}

func TestTracker_SkipsOwnMessages(t *testing.T) {
	store := timeline.NewStore(nil)
	emitter := &fakeEmitter{}
	tracker := NewTracker(store, emitter, nil)

	seed(store, "m1", "viewer")
	tracker.Scan("r1", "viewer")

	require.Empty(t, emitter.emits)
}

func TestTracker_DeletedMessageProducesNoReceipt(t *testing.T) {
	store := timeline.NewStore(nil)
	emitter := &fakeEmitter{}
	tracker := NewTracker(store, emitter, nil)

	seed(store, "m1", "alice")
	store.ApplyDelete("m1")
	tracker.Scan("r1", "viewer")

	require.Empty(t, emitter.emits)
}

func TestTracker_SkipsAlreadyAcknowledged(t *testing.T) {
	store := timeline.NewStore(nil)
	emitter := &fakeEmitter{}
	tracker := NewTracker(store, emitter, nil)

	seed(store, "m1", "alice")
	store.ApplyDelivered("m1", "viewer")
	tracker.Scan("r1", "viewer")

	require.Equal(t, 0, emitter.count(channel.EventDelivered, "m1"))
	require.Equal(t, 1, emitter.count(channel.EventRead, "m1"))
}
