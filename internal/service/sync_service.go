// Package service wires the push channel into the state-holding
// components and serializes every mutation through one event loop:
// inbound events, timer completions, and user actions all run to
// completion on a single goroutine, so no component needs locking.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/immxrtalbeast/chatsync/internal/call"
	"github.com/immxrtalbeast/chatsync/internal/channel"
	"github.com/immxrtalbeast/chatsync/internal/domain"
	"github.com/immxrtalbeast/chatsync/internal/presence"
	"github.com/immxrtalbeast/chatsync/internal/receipt"
	"github.com/immxrtalbeast/chatsync/internal/timeline"
	"github.com/immxrtalbeast/chatsync/internal/typing"
	"github.com/immxrtalbeast/chatsync/lib/logger/sl"
	"github.com/samber/lo"
)

var (
	ErrNotStarted     = errors.New("sync service is not started")
	ErrNoRoomSelected = errors.New("no room is open")
)

type Options struct {
	TypingDebounce time.Duration
	TypingExpiry   time.Duration
	EndedLinger    time.Duration
}

func (o *Options) defaults() {
	if o.TypingDebounce == 0 {
		o.TypingDebounce = 1500 * time.Millisecond
	}
	if o.TypingExpiry == 0 {
		o.TypingExpiry = 6 * time.Second
	}
	if o.EndedLinger == 0 {
		o.EndedLinger = 1500 * time.Millisecond
	}
}

// SyncService owns the login-scoped synchronization state. It is created
// once per process and driven through Start/Stop around the login
// lifetime.
type SyncService struct {
	log  *slog.Logger
	opts Options
	api  API
	ch   Transport

	store    *timeline.Store
	receipts *receipt.Tracker
	typing   *typing.Coordinator
	presence *presence.Tracker
	session  *call.Session
	router   *call.Router

	userID   string
	openRoom string
	missed   []domain.MissedCall

	tasks       chan func()
	done        chan struct{}
	started     bool
	stateHooked bool
	lastState   channel.State
	cancelReset func()
	unsubs      []func()
}

func NewSyncService(api API, ch Transport, media call.MediaSource, factory call.TransportFactory, opts Options, log *slog.Logger) *SyncService {
	if log == nil {
		log = slog.Default()
	}
	opts.defaults()

	s := &SyncService{
		log:      log,
		opts:     opts,
		api:      api,
		ch:       ch,
		store:    timeline.NewStore(log),
		presence: presence.NewTracker(),
		tasks:    make(chan func(), 256),
		done:     make(chan struct{}),
	}

	s.receipts = receipt.NewTracker(s.store, ch, log)
	s.typing = typing.NewCoordinator(ch, opts.TypingDebounce, opts.TypingExpiry, log)
	s.session = call.NewSession(ch, media, factory, s.post, log)
	s.session.OnEnded(s.scheduleReset)
	s.router = call.NewRouter(s.session, log)

	return s
}

// Start connects the channel with the given credential and begins
// processing events. It is the explicit beginning of the login-scoped
// singleton lifetime.
func (s *SyncService) Start(ctx context.Context, userID, token string) error {
	if s.started {
		return nil
	}

	// fresh loop channels each login, so a Start after Stop does not
	// inherit a closed done channel and a dead loop
	s.tasks = make(chan func(), 256)
	s.done = make(chan struct{})

	s.userID = userID
	s.api.SetToken(token)
	s.registerHandlers()

	go s.run()
	s.started = true

	if err := s.ch.Connect(ctx, token); err != nil {
		s.Stop()
		return err
	}

	s.log.Info("sync started", slog.String("user_id", userID))
	return nil
}

// Stop tears the channel down and halts the loop; the counterpart of
// Start, invoked on logout.
func (s *SyncService) Stop() {
	if !s.started {
		return
	}
	s.started = false

	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	if err := s.ch.Close(); err != nil {
		s.log.Debug("channel close failed", sl.Err(err))
	}
	close(s.done)
	s.log.Info("sync stopped")
}

func (s *SyncService) run() {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.done:
			return
		}
	}
}

// post schedules one unit of work on the event loop.
func (s *SyncService) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// sync runs fn on the loop and waits for it, so user actions can return
// results.
func (s *SyncService) sync(fn func()) {
	doneCh := make(chan struct{})
	s.post(func() {
		defer close(doneCh)
		fn()
	})
	select {
	case <-doneCh:
	case <-s.done:
	}
}

func (s *SyncService) registerHandlers() {
	s.on(channel.EventNewMessage, s.handleNewMessage)
	s.on(channel.EventDelivered, s.handleDelivered)
	s.on(channel.EventRead, s.handleRead)
	s.on(channel.EventTyping, s.handleTyping)
	s.on(channel.EventStopTyping, s.handleStopTyping)
	s.on(channel.EventUserStatus, s.handleUserStatus)
	s.on(channel.EventCallIncoming, s.handleCallIncoming)
	s.on(channel.EventCallAccepted, s.handleCallAccepted)
	s.on(channel.EventCallRejected, s.handleCallRejected)
	s.on(channel.EventCallEnded, s.handleCallEnded)
	s.on(channel.EventCallSignal, s.handleCallSignal)
	s.on(channel.EventCallMissed, s.handleCallMissed)

	// the channel offers no removal for state hooks, so register once
	// across restarts
	if !s.stateHooked {
		s.ch.OnState(s.handleChannelState)
		s.stateHooked = true
	}
}

func (s *SyncService) on(event string, h channel.Handler) {
	s.unsubs = append(s.unsubs, s.ch.On(event, h))
}

func (s *SyncService) handleNewMessage(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.MessagePayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() {
		if payload.Deleted {
			s.store.ApplyDelete(payload.ID)
			return
		}
		s.store.ApplyCreate(payload.Message)
		s.typing.ClearUser(payload.SenderID, payload.RoomID)
		if payload.RoomID == s.openRoom && payload.SenderID != s.userID {
			s.receipts.Scan(s.openRoom, s.userID)
		}
	})
}

func (s *SyncService) handleDelivered(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.ReceiptPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() { s.store.ApplyDelivered(payload.MessageID, payload.UserID) })
}

func (s *SyncService) handleRead(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.ReceiptPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() { s.store.ApplyRead(payload.MessageID, payload.UserID) })
}

func (s *SyncService) handleTyping(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.TypingPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() {
		if payload.RoomID == s.openRoom && payload.UserID != s.userID {
			s.typing.HandleTyping(payload.UserID, payload.RoomID)
		}
	})
}

func (s *SyncService) handleStopTyping(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.TypingPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() { s.typing.HandleStopTyping(payload.UserID, payload.RoomID) })
}

func (s *SyncService) handleUserStatus(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.UserStatusPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() { s.presence.Apply(payload.UserID, payload.Online, payload.LastSeen) })
}

func (s *SyncService) handleCallIncoming(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.CallOfferPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() {
		s.session.ReceiveIncoming(payload.From, payload.RoomID, payload.CallType)
		if s.session.State() != domain.CallRingingIncoming {
			return
		}
		s.resolvePeer(payload.From)
	})
}

// resolvePeer looks the caller's profile up off the loop and attaches it
// when it resolves, falling back to a bare id on error.
func (s *SyncService) resolvePeer(userID string) {
	go func() {
		user, err := s.api.User(context.Background(), userID)
		if err != nil {
			s.log.Warn("caller lookup failed", slog.String("user_id", userID), sl.Err(err))
			user = &domain.User{ID: userID, Username: "Unknown"}
		}
		s.post(func() {
			if s.session.PeerID() == userID {
				s.session.SetPeerUser(user)
			}
		})
	}()
}

func (s *SyncService) handleCallAccepted(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.CallControlPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() { s.session.ReceiveAccepted(payload.From) })
}

func (s *SyncService) handleCallRejected(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.CallControlPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() { s.session.ReceiveRejected(payload.From) })
}

func (s *SyncService) handleCallEnded(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.CallControlPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() { s.session.ReceiveEnded(payload.From) })
}

func (s *SyncService) handleCallSignal(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.CallSignalPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() { s.router.Route(payload.From, payload.Data) })
}

func (s *SyncService) handleCallMissed(event string, data json.RawMessage) {
	payload, err := channel.Decode[channel.CallOfferPayload](data)
	if err != nil {
		s.dropPayload(event, err)
		return
	}
	s.post(func() {
		s.missed = append(s.missed, domain.MissedCall{
			From:   payload.From,
			RoomID: payload.RoomID,
			Kind:   payload.CallType,
			At:     time.Now(),
		})
	})
}

// handleChannelState resynchronizes the open room after a reconnect,
// since events sent during the gap are lost.
func (s *SyncService) handleChannelState(state channel.State) {
	s.post(func() {
		reconnected := s.lastState == channel.StateReconnecting && state == channel.StateConnected
		s.lastState = state
		if !reconnected || s.openRoom == "" {
			return
		}

		roomID := s.openRoom
		if err := s.ch.Subscribe(roomID); err != nil {
			s.log.Warn("room rejoin failed", slog.String("room", roomID), sl.Err(err))
		}
		go func() {
			msgs, err := s.api.Messages(context.Background(), roomID)
			if err != nil {
				s.log.Warn("room resync failed", slog.String("room", roomID), sl.Err(err))
				return
			}
			s.post(func() {
				if s.openRoom != roomID {
					return
				}
				s.store.Seed(roomID, msgs)
				s.receipts.Scan(roomID, s.userID)
			})
		}()
	})
}

func (s *SyncService) dropPayload(event string, err error) {
	s.log.Debug("malformed payload dropped", slog.String("event", event), sl.Err(err))
}

func (s *SyncService) scheduleReset() {
	if s.cancelReset != nil {
		s.cancelReset()
	}
	t := time.AfterFunc(s.opts.EndedLinger, func() {
		s.post(s.session.Reset)
	})
	s.cancelReset = func() { t.Stop() }
}

// --- user actions ---

// OpenRoom switches the viewer to roomID: leaves the old topic, joins the
// new one, seeds the timeline and starred list from the REST page, clears
// the room's missed calls, and emits the pending receipts.
func (s *SyncService) OpenRoom(ctx context.Context, roomID string) error {
	if !s.started {
		return ErrNotStarted
	}

	msgs, err := s.api.Messages(ctx, roomID)
	if err != nil {
		return err
	}
	starred, err := s.api.Starred(ctx, roomID)
	if err != nil {
		return err
	}

	s.sync(func() {
		if s.openRoom != "" && s.openRoom != roomID {
			if err := s.ch.Unsubscribe(s.openRoom); err != nil {
				s.log.Debug("room leave failed", sl.Err(err))
			}
		}
		if err := s.ch.Subscribe(roomID); err != nil {
			s.log.Warn("room join failed", slog.String("room", roomID), sl.Err(err))
		}

		s.openRoom = roomID
		s.store.Seed(roomID, msgs)
		for _, m := range starred {
			s.store.ApplyStarred(m.ID, s.userID)
		}
		s.missed = lo.Reject(s.missed, func(c domain.MissedCall, _ int) bool {
			return c.RoomID == roomID
		})
		s.receipts.Scan(roomID, s.userID)
	})
	return nil
}

// SendMessage emits a text message into the open room.
func (s *SyncService) SendMessage(content string) error {
	if !s.started {
		return ErrNotStarted
	}

	var err error
	s.sync(func() {
		if s.openRoom == "" {
			err = ErrNoRoomSelected
			return
		}
		err = s.ch.Emit(channel.EventSendMessage, channel.SendMessagePayload{
			RoomID:  s.openRoom,
			Content: content,
		})
	})
	return err
}

// SendAttachment uploads a file over REST, merges the resulting message
// locally, and echoes it to the room.
func (s *SyncService) SendAttachment(ctx context.Context, filename string, r io.Reader) error {
	if !s.started {
		return ErrNotStarted
	}

	var roomID string
	s.sync(func() { roomID = s.openRoom })
	if roomID == "" {
		return ErrNoRoomSelected
	}

	msg, err := s.api.UploadAttachment(ctx, roomID, filename, r)
	if err != nil {
		return err
	}

	s.sync(func() {
		s.store.ApplyCreate(*msg)
		if emitErr := s.ch.Emit(channel.EventNewMessage, channel.MessagePayload{Message: *msg}); emitErr != nil {
			s.log.Warn("attachment echo failed", sl.Err(emitErr))
		}
	})
	return nil
}

// EditMessage updates a message over REST, applies the server's version
// locally, and echoes the edit to the room.
func (s *SyncService) EditMessage(ctx context.Context, messageID, content string) error {
	if !s.started {
		return ErrNotStarted
	}

	updated, err := s.api.Edit(ctx, messageID, content)
	if err != nil {
		return err
	}

	s.sync(func() {
		s.store.ApplyEdit(updated.ID, updated.Content, updated.EditedAt)
		if updated.RoomID == "" {
			updated.RoomID = s.openRoom
		}
		if emitErr := s.ch.Emit(channel.EventNewMessage, channel.MessagePayload{Message: *updated}); emitErr != nil {
			s.log.Warn("edit echo failed", sl.Err(emitErr))
		}
	})
	return nil
}

// DeleteMessage removes a message over REST, drops it locally, and echoes
// the tombstone to the room.
func (s *SyncService) DeleteMessage(ctx context.Context, messageID string) error {
	if !s.started {
		return ErrNotStarted
	}

	if err := s.api.Delete(ctx, messageID); err != nil {
		return err
	}

	s.sync(func() {
		s.store.ApplyDelete(messageID)
		tombstone := channel.MessagePayload{
			Message: domain.Message{ID: messageID, RoomID: s.openRoom},
			Deleted: true,
		}
		if emitErr := s.ch.Emit(channel.EventNewMessage, tombstone); emitErr != nil {
			s.log.Warn("delete echo failed", sl.Err(emitErr))
		}
	})
	return nil
}

// Star marks a message starred for the viewer.
func (s *SyncService) Star(ctx context.Context, messageID string) error {
	if !s.started {
		return ErrNotStarted
	}
	if err := s.api.Star(ctx, messageID); err != nil {
		return err
	}
	s.sync(func() { s.store.ApplyStarred(messageID, s.userID) })
	return nil
}

// Unstar removes the viewer's star from a message.
func (s *SyncService) Unstar(ctx context.Context, messageID string) error {
	if !s.started {
		return ErrNotStarted
	}
	if err := s.api.Unstar(ctx, messageID); err != nil {
		return err
	}
	s.sync(func() { s.store.ApplyUnstarred(messageID, s.userID) })
	return nil
}

// TypingInput reacts to one keystroke in the open room's composer.
func (s *SyncService) TypingInput() {
	s.post(func() {
		if s.openRoom != "" {
			s.typing.InputChanged(s.openRoom)
		}
	})
}

// StartCall requests a call with targetUserID in the open room.
func (s *SyncService) StartCall(targetUserID string, kind domain.CallKind) error {
	if !s.started {
		return ErrNotStarted
	}

	var err error
	s.sync(func() {
		if s.openRoom == "" {
			err = ErrNoRoomSelected
			return
		}
		err = s.session.StartOutgoing(targetUserID, s.openRoom, kind)
	})
	return err
}

// AcceptCall answers the ringing incoming call.
func (s *SyncService) AcceptCall() error {
	var err error
	s.sync(func() { err = s.session.Accept() })
	return err
}

// RejectCall declines the ringing incoming call.
func (s *SyncService) RejectCall() error {
	var err error
	s.sync(func() { err = s.session.Reject() })
	return err
}

// EndCall hangs up the current call from any state.
func (s *SyncService) EndCall() error {
	var err error
	s.sync(func() { err = s.session.End() })
	return err
}

// ToggleMute flips local audio muting.
func (s *SyncService) ToggleMute() bool {
	var muted bool
	s.sync(func() { muted = s.session.ToggleMute() })
	return muted
}

// ToggleCamera flips local video.
func (s *SyncService) ToggleCamera() bool {
	var off bool
	s.sync(func() { off = s.session.ToggleCamera() })
	return off
}

// --- queries ---

// Messages returns the open timeline of one room in order.
func (s *SyncService) Messages(roomID string) []domain.Message {
	var out []domain.Message
	s.sync(func() { out = s.store.Snapshot(roomID) })
	return out
}

// StarredMessages returns the viewer's starred messages in one room.
func (s *SyncService) StarredMessages(roomID string) []domain.Message {
	var out []domain.Message
	s.sync(func() { out = s.store.Starred(roomID, s.userID) })
	return out
}

// TypingUsers returns who is typing in the open room right now.
func (s *SyncService) TypingUsers() []string {
	var out []string
	s.sync(func() { out = s.typing.Active(s.openRoom) })
	return out
}

// Presence returns the merged presence roster.
func (s *SyncService) Presence() []domain.PresenceEntry {
	var out []domain.PresenceEntry
	s.sync(func() { out = s.presence.Snapshot() })
	return out
}

// MissedCalls returns the local missed-call records.
func (s *SyncService) MissedCalls() []domain.MissedCall {
	var out []domain.MissedCall
	s.sync(func() { out = append(out, s.missed...) })
	return out
}

// CallSnapshot returns the current call session view.
func (s *SyncService) CallSnapshot() call.Snapshot {
	var snap call.Snapshot
	s.sync(func() { snap = s.session.Snapshot() })
	return snap
}

// OpenedRoom returns the currently open room id.
func (s *SyncService) OpenedRoom() string {
	var roomID string
	s.sync(func() { roomID = s.openRoom })
	return roomID
}
