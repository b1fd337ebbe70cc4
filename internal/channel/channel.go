// Package channel owns the single logical connection to the push
// transport. It decodes and validates inbound envelopes, dispatches them
// to registered handlers in arrival order, and reconnects with backoff
// when the connection drops. It holds no chat state itself.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/chatsync/lib/logger/sl"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var ErrNotConnected = errors.New("channel is not connected")

// Handler receives one inbound event. Handlers run synchronously on the
// read loop, so delivery order matches the order the server sent events.
type Handler func(event string, data json.RawMessage)

type Options struct {
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxAttempts   int
}

func (o *Options) defaults() {
	if o.ReconnectBase == 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectMax == 0 {
		o.ReconnectMax = 30 * time.Second
	}
}

type subscription struct {
	event string
	id    int
}

type Channel struct {
	rawURL string
	opts   Options
	log    *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	closed   bool
	token    string
	nextID   int
	handlers map[string]map[int]Handler
	onState  []func(State)
}

func New(socketURL string, opts Options, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	opts.defaults()
	return &Channel{
		rawURL:   socketURL,
		opts:     opts,
		log:      log,
		state:    StateDisconnected,
		handlers: make(map[string]map[int]Handler),
	}
}

// On registers a handler for one event name and returns its unsubscribe
// handle.
func (c *Channel) On(event string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][id] = h

	sub := subscription{event: event, id: id}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[sub.event], sub.id)
	}
}

// OnState registers a handler for connection state transitions.
func (c *Channel) OnState(h func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, h)
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the transport with the given credential and starts the
// read loop. Connection loss afterwards is reported through OnState, not
// as an error.
func (c *Channel) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.token = credential
	c.closed = false
	c.mu.Unlock()
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(ctx, conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial socket: %w", err)
	}
	return conn, nil
}

// Close tears the connection down for good; no reconnect follows.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	c.setState(StateDisconnected)

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Emit sends one named event to the server.
func (c *Channel) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.state != StateConnected {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(Envelope{Event: event, Data: data})
}

// Subscribe joins a room topic so its events start flowing.
func (c *Channel) Subscribe(roomID string) error {
	return c.Emit(EventJoinRoom, roomID)
}

// Unsubscribe leaves a room topic.
func (c *Channel) Unsubscribe(roomID string) error {
	return c.Emit(EventLeaveRoom, roomID)
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			c.log.Warn("socket read failed", sl.Err(err))
			c.reconnect(ctx)
			return
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env Envelope) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers[env.Event]))
	for _, h := range c.handlers[env.Event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(env.Event, env.Data)
	}
}

// reconnect retries the dial with exponential backoff and jitter until it
// succeeds, the attempt budget runs out, or the channel is closed.
func (c *Channel) reconnect(ctx context.Context) {
	c.setState(StateReconnecting)

	for attempt := 0; c.opts.MaxAttempts == 0 || attempt < c.opts.MaxAttempts; attempt++ {
		jitter := time.Duration(rand.Float64() * float64(c.opts.ReconnectBase) * 0.5)
		delay := time.Duration(math.Min(
			float64(c.opts.ReconnectBase)*math.Pow(2, float64(attempt))+float64(jitter),
			float64(c.opts.ReconnectMax),
		))

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Debug("reconnect attempt failed", slog.Int("attempt", attempt+1), sl.Err(err))
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		go c.readLoop(ctx, conn)
		return
	}

	c.log.Error("reconnect attempts exhausted")
	c.setState(StateDisconnected)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	handlers := append([]func(State){}, c.onState...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}
