// Package typing debounces local typing emission and aggregates remote
// typing signals per room with staleness expiry.
package typing

import (
	"log/slog"
	"time"

	"github.com/immxrtalbeast/chatsync/internal/channel"
	"github.com/immxrtalbeast/chatsync/lib/logger/sl"
)

// Emitter sends typing/stopTyping events to the server.
type Emitter interface {
	Emit(event string, payload any) error
}

// Scheduler arms a timer and returns its cancel func. The default is
// time.AfterFunc; tests substitute a manual one.
type Scheduler func(d time.Duration, fn func()) (cancel func())

type Coordinator struct {
	emitter  Emitter
	log      *slog.Logger
	debounce time.Duration
	expiry   time.Duration
	schedule Scheduler
	now      func() time.Time

	pendingRoom string
	cancelStop  func()

	remote map[string]map[string]time.Time
}

func NewCoordinator(emitter Emitter, debounce, expiry time.Duration, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		emitter:  emitter,
		log:      log,
		debounce: debounce,
		expiry:   expiry,
		schedule: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
		now:    time.Now,
		remote: make(map[string]map[string]time.Time),
	}
}

// SetScheduler replaces timer arming, for tests.
func (c *Coordinator) SetScheduler(s Scheduler) { c.schedule = s }

// SetClock replaces the time source, for tests.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// InputChanged reacts to one local keystroke in roomID. The first
// keystroke emits typing; every keystroke re-arms the stop window, and
// stopTyping goes out only when the window elapses with no further input.
func (c *Coordinator) InputChanged(roomID string) {
	if c.pendingRoom != roomID {
		if c.cancelStop != nil {
			c.cancelStop()
			c.flushStop(c.pendingRoom)
		}
		if err := c.emitter.Emit(channel.EventTyping, roomID); err != nil {
			c.log.Debug("typing emission failed", sl.Err(err))
		}
		c.pendingRoom = roomID
	} else if c.cancelStop != nil {
		c.cancelStop()
	}

	room := roomID
	c.cancelStop = c.schedule(c.debounce, func() { c.StopElapsed(room) })
}

// StopElapsed is the debounce-window completion event.
func (c *Coordinator) StopElapsed(roomID string) {
	if c.pendingRoom != roomID {
		return
	}
	c.flushStop(roomID)
}

func (c *Coordinator) flushStop(roomID string) {
	if roomID == "" {
		return
	}
	if err := c.emitter.Emit(channel.EventStopTyping, roomID); err != nil {
		c.log.Debug("stopTyping emission failed", sl.Err(err))
	}
	c.pendingRoom = ""
	c.cancelStop = nil
}

// HandleTyping records a remote user typing in a room, with an expiry
// deadline in case the stop signal never arrives.
func (c *Coordinator) HandleTyping(userID, roomID string) {
	users, ok := c.remote[roomID]
	if !ok {
		users = make(map[string]time.Time)
		c.remote[roomID] = users
	}
	users[userID] = c.now().Add(c.expiry)
}

// HandleStopTyping removes a remote user from a room's typing set.
func (c *Coordinator) HandleStopTyping(userID, roomID string) {
	delete(c.remote[roomID], userID)
}

// ClearUser drops a user's typing entry. A message arriving from that
// user implicitly ends their typing state; the rule from the original
// behavior is kept, made explicit here.
func (c *Coordinator) ClearUser(userID, roomID string) {
	delete(c.remote[roomID], userID)
}

// Active returns the users currently typing in roomID, dropping entries
// whose deadline has elapsed.
func (c *Coordinator) Active(roomID string) []string {
	users := c.remote[roomID]
	now := c.now()

	var active []string
	for userID, deadline := range users {
		if now.After(deadline) {
			delete(users, userID)
			continue
		}
		active = append(active, userID)
	}
	return active
}
