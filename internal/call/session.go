// Package call drives the lifecycle of a single peer-to-peer call: the
// ringing handshake, offer/answer/ICE negotiation over the push channel,
// and the teardown that releases every held media resource. All session
// methods must run on the owner's event loop; asynchronous completions
// (media acquisition, ICE gathering, remote tracks) are posted back into
// that loop rather than mutating the session from foreign goroutines.
package call

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/chatsync/internal/channel"
	"github.com/immxrtalbeast/chatsync/internal/domain"
	"github.com/immxrtalbeast/chatsync/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

var (
	ErrCallInProgress = errors.New("another call is in progress")
	ErrNoActiveCall   = errors.New("no active call")
	ErrBadTransition  = errors.New("transition not allowed in current state")
)

// Emitter sends outbound call events to the server.
type Emitter interface {
	Emit(event string, payload any) error
}

// Session is the single-call state machine. At most one session is
// non-idle at a time; the sync service owns exactly one Session value and
// reuses it across calls.
type Session struct {
	log          *slog.Logger
	emitter      Emitter
	media        MediaSource
	newTransport TransportFactory
	post         func(func())
	onEnded      func()

	state     domain.CallState
	kind      domain.CallKind
	direction domain.CallDirection
	caller    bool
	peerID    string
	roomID    string
	peerUser  *domain.User
	exchange  uuid.UUID

	transport    PeerTransport
	local        *LocalMedia
	remoteTracks []*webrtc.TrackRemote
	connectedAt  time.Time
	reason       domain.EndReason

	muted     bool
	cameraOff bool
}

// Snapshot is a read-only view of the session for rendering and queries.
type Snapshot struct {
	State       domain.CallState
	Kind        domain.CallKind
	Direction   domain.CallDirection
	PeerID      string
	RoomID      string
	PeerUser    *domain.User
	ConnectedAt time.Time
	Reason      domain.EndReason
	Muted       bool
	CameraOff   bool
}

// NewSession wires the session's collaborators. post serializes async
// completions into the owner's event loop.
func NewSession(emitter Emitter, media MediaSource, factory TransportFactory, post func(func()), log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if post == nil {
		post = func(fn func()) { fn() }
	}
	return &Session{
		log:          log,
		emitter:      emitter,
		media:        media,
		newTransport: factory,
		post:         post,
		state:        domain.CallIdle,
	}
}

func (s *Session) State() domain.CallState { return s.state }
func (s *Session) PeerID() string          { return s.peerID }
func (s *Session) Reason() domain.EndReason {
	return s.reason
}

// HeldTracks counts every media track the session currently holds, local
// and remote. It is zero after teardown.
func (s *Session) HeldTracks() int {
	return s.local.TrackCount() + len(s.remoteTracks)
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		State:       s.state,
		Kind:        s.kind,
		Direction:   s.direction,
		PeerID:      s.peerID,
		RoomID:      s.roomID,
		PeerUser:    s.peerUser,
		ConnectedAt: s.connectedAt,
		Reason:      s.reason,
		Muted:       s.muted,
		CameraOff:   s.cameraOff,
	}
}

// SetPeerUser attaches the resolved profile of the other party, for
// display only.
func (s *Session) SetPeerUser(u *domain.User) { s.peerUser = u }

// OnEnded registers a hook invoked once per terminal transition, on the
// owner's loop. The owner uses it to arm the Ended-to-Idle reset, so it
// must fire for internal teardowns (media failure, transport failure)
// as well as the user-visible end paths.
func (s *Session) OnEnded(fn func()) { s.onEnded = fn }

// StartOutgoing requests a call to targetUser in room. No media is
// acquired yet; that waits for the remote accept.
func (s *Session) StartOutgoing(targetUser, roomID string, kind domain.CallKind) error {
	if s.state != domain.CallIdle {
		return ErrCallInProgress
	}

	s.begin(targetUser, roomID, kind, domain.CallOutgoing)
	s.state = domain.CallRingingOutgoing

	err := s.emitter.Emit(channel.EventCallRequest, channel.CallRequestPayload{
		TargetUserID: targetUser,
		RoomID:       roomID,
		CallType:     kind,
	})
	if err != nil {
		s.teardown(domain.EndReasonLocalEnd)
		return err
	}

	s.log.Info("outgoing call started",
		slog.String("peer", targetUser),
		slog.String("room", roomID),
		slog.String("kind", string(kind)),
	)
	return nil
}

// ReceiveIncoming rings for a remote request. A request arriving while
// another session is live is dropped; the server reports it missed.
func (s *Session) ReceiveIncoming(from, roomID string, kind domain.CallKind) {
	if s.state != domain.CallIdle {
		s.log.Debug("incoming call ignored, session busy", slog.String("from", from))
		return
	}

	s.begin(from, roomID, kind, domain.CallIncoming)
	s.state = domain.CallRingingIncoming
	s.log.Info("incoming call", slog.String("peer", from), slog.String("kind", string(kind)))
}

// ReceiveAccepted moves the caller side into negotiation: acquire media,
// then create and send the offer.
func (s *Session) ReceiveAccepted(from string) {
	if s.state != domain.CallRingingOutgoing || from != s.peerID {
		s.log.Debug("stale call:accepted ignored", slog.String("from", from))
		return
	}
	s.beginNegotiation(true)
}

// Accept answers an incoming call: emit the accept signal, then acquire
// media and await the offer.
func (s *Session) Accept() error {
	if s.state != domain.CallRingingIncoming {
		return ErrBadTransition
	}

	err := s.emitter.Emit(channel.EventCallAccept, channel.CallRequestPayload{
		TargetUserID: s.peerID,
		RoomID:       s.roomID,
	})
	if err != nil {
		return err
	}

	s.beginNegotiation(false)
	return nil
}

// Reject declines an incoming call.
func (s *Session) Reject() error {
	if s.state != domain.CallRingingIncoming {
		return ErrBadTransition
	}

	err := s.emitter.Emit(channel.EventCallReject, channel.CallRequestPayload{
		TargetUserID: s.peerID,
		RoomID:       s.roomID,
	})
	s.teardown(domain.EndReasonLocalReject)
	return err
}

// End hangs up from any state. It is the single cancellation primitive:
// safe to invoke at any time, and after it returns no further signaling
// is emitted for this session.
func (s *Session) End() error {
	if s.state == domain.CallIdle || s.state == domain.CallEnded {
		return ErrNoActiveCall
	}

	err := s.emitter.Emit(channel.EventCallEnd, channel.CallRequestPayload{
		TargetUserID: s.peerID,
		RoomID:       s.roomID,
	})
	s.teardown(domain.EndReasonLocalEnd)
	return err
}

// ReceiveRejected handles the remote declining our request.
func (s *Session) ReceiveRejected(from string) {
	if s.state == domain.CallIdle || s.state == domain.CallEnded || from != s.peerID {
		s.log.Debug("stale call:rejected ignored", slog.String("from", from))
		return
	}
	s.teardown(domain.EndReasonRemoteReject)
}

// ReceiveEnded handles a remote hangup, including one racing our own
// transitions: it is valid in every non-terminal state.
func (s *Session) ReceiveEnded(from string) {
	if s.state == domain.CallIdle || s.state == domain.CallEnded || from != s.peerID {
		s.log.Debug("stale call:ended ignored", slog.String("from", from))
		return
	}
	s.teardown(domain.EndReasonRemoteEnd)
}

// Reset returns an ended session to idle. The sync service invokes it
// after the configured linger delay so a terminal status stays visible.
func (s *Session) Reset() {
	if s.state != domain.CallEnded {
		return
	}
	s.state = domain.CallIdle
	s.reason = domain.EndReasonNone
}

// HandleSignal applies one negotiation step. The router has already
// verified the sender and state; errors here are logged by the router and
// never surface to the user.
func (s *Session) HandleSignal(sig domain.SignalMessage) error {
	if s.transport == nil {
		return ErrNoActiveCall
	}

	switch sig.Type {
	case domain.SignalOffer:
		if sig.SDP == nil {
			return errors.New("offer without sdp")
		}
		if err := s.transport.SetRemoteDescription(*sig.SDP); err != nil {
			return err
		}
		answer, err := s.transport.CreateAnswer()
		if err != nil {
			return err
		}
		if err := s.transport.SetLocalDescription(answer); err != nil {
			return err
		}
		return s.emitSignal(domain.SignalMessage{Type: domain.SignalAnswer, SDP: &answer})

	case domain.SignalAnswer:
		if sig.SDP == nil {
			return errors.New("answer without sdp")
		}
		return s.transport.SetRemoteDescription(*sig.SDP)

	case domain.SignalICECandidate:
		if sig.Candidate == nil {
			return errors.New("ice signal without candidate")
		}
		return s.transport.AddICECandidate(*sig.Candidate)

	default:
		return errors.New("unsupported signal type: " + sig.Type)
	}
}

// MediaReady is the completion event of the asynchronous media
// acquisition. A completion for a previous exchange, or one arriving
// after teardown, releases the media immediately and changes nothing.
func (s *Session) MediaReady(exchange uuid.UUID, media *LocalMedia, err error) {
	if exchange != s.exchange || s.state != domain.CallNegotiating {
		media.Release()
		return
	}

	if err != nil {
		s.log.Warn("media acquisition failed", sl.Err(err))
		s.teardown(domain.EndReasonMediaFailure)
		return
	}

	s.local = media
	for _, track := range media.Tracks {
		if addErr := s.transport.AddTrack(track); addErr != nil {
			s.log.Warn("failed to add local track", sl.Err(addErr))
			s.teardown(domain.EndReasonMediaFailure)
			return
		}
	}

	if s.caller {
		offer, offerErr := s.transport.CreateOffer()
		if offerErr == nil {
			offerErr = s.transport.SetLocalDescription(offer)
		}
		if offerErr != nil {
			s.log.Warn("offer creation failed", sl.Err(offerErr))
			s.teardown(domain.EndReasonMediaFailure)
			return
		}
		if emitErr := s.emitSignal(domain.SignalMessage{Type: domain.SignalOffer, SDP: &offer}); emitErr != nil {
			s.log.Warn("offer emission failed", sl.Err(emitErr))
		}
	}

	s.checkActive()
}

// RemoteTrackStarted is the first-frame event for one remote track.
func (s *Session) RemoteTrackStarted(exchange uuid.UUID, track *webrtc.TrackRemote) {
	if exchange != s.exchange {
		return
	}
	if s.state != domain.CallNegotiating && s.state != domain.CallActive {
		return
	}
	s.remoteTracks = append(s.remoteTracks, track)
	s.checkActive()
}

// ToggleMute flips local audio muting, pausing the audio capture, and
// reports the new value.
func (s *Session) ToggleMute() bool {
	s.muted = !s.muted
	s.local.SetPaused(domain.CallKindAudio, s.muted)
	return s.muted
}

// ToggleCamera flips local video, pausing the video capture, and reports
// whether the camera is off.
func (s *Session) ToggleCamera() bool {
	s.cameraOff = !s.cameraOff
	s.local.SetPaused(domain.CallKindVideo, s.cameraOff)
	return s.cameraOff
}

func (s *Session) begin(peerID, roomID string, kind domain.CallKind, direction domain.CallDirection) {
	s.peerID = peerID
	s.roomID = roomID
	s.kind = kind
	s.direction = direction
	s.exchange = uuid.New()
	s.reason = domain.EndReasonNone
	s.muted = false
	s.cameraOff = false
}

func (s *Session) beginNegotiation(caller bool) {
	s.caller = caller
	s.state = domain.CallNegotiating

	transport, err := s.newTransport()
	if err != nil {
		s.log.Warn("transport creation failed", sl.Err(err))
		s.teardown(domain.EndReasonMediaFailure)
		return
	}
	s.transport = transport

	exchange := s.exchange
	transport.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		c := candidate
		s.post(func() {
			if exchange != s.exchange {
				return
			}
			if s.state != domain.CallNegotiating && s.state != domain.CallActive {
				return
			}
			if err := s.emitSignal(domain.SignalMessage{Type: domain.SignalICECandidate, Candidate: &c}); err != nil {
				s.log.Debug("candidate emission failed", sl.Err(err))
			}
		})
	})
	transport.OnTrack(func(track *webrtc.TrackRemote) {
		s.post(func() { s.RemoteTrackStarted(exchange, track) })
	})

	go func() {
		media, acquireErr := s.media.Acquire(context.Background(), s.kind)
		s.post(func() { s.MediaReady(exchange, media, acquireErr) })
	}()
}

// checkActive promotes the session once local and remote media are both
// flowing, and starts the connection clock exactly once for that span.
func (s *Session) checkActive() {
	if s.local == nil || len(s.remoteTracks) == 0 {
		s.connectedAt = time.Time{}
		return
	}
	if s.state == domain.CallNegotiating {
		s.state = domain.CallActive
		s.log.Info("call active", slog.String("peer", s.peerID))
	}
	if s.connectedAt.IsZero() {
		s.connectedAt = time.Now()
	}
}

func (s *Session) emitSignal(sig domain.SignalMessage) error {
	return s.emitter.Emit(channel.EventCallSignal, channel.CallSignalOut{
		TargetUserID: s.peerID,
		Data:         sig,
	})
}

// teardown is the single terminal transition. It closes the transport,
// releases every held track, and clears session identity, so any signal
// arriving afterwards no longer matches and gets dropped by the router.
// Invoking it on an already ended session is a no-op.
func (s *Session) teardown(reason domain.EndReason) {
	if s.state == domain.CallEnded {
		return
	}

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.log.Debug("transport close failed", sl.Err(err))
		}
		s.transport = nil
	}

	s.local.Release()
	s.local = nil
	s.remoteTracks = nil

	s.peerID = ""
	s.roomID = ""
	s.peerUser = nil
	s.connectedAt = time.Time{}
	s.exchange = uuid.Nil

	s.state = domain.CallEnded
	s.reason = reason
	s.log.Info("call ended", slog.String("reason", string(reason)))

	if s.onEnded != nil {
		s.onEnded()
	}
}
