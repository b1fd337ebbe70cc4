package call

import (
	"context"
	"testing"
	"time"

	"github.com/immxrtalbeast/chatsync/internal/channel"
	"github.com/immxrtalbeast/chatsync/internal/domain"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload any
}

type fakeEmitter struct {
	emits []emitted
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.emits = append(f.emits, emitted{event: event, payload: payload})
	return nil
}

func (f *fakeEmitter) count(event string) int {
	n := 0
	for _, e := range f.emits {
		if e.event == event {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	added      []webrtc.TrackLocal
	remoteDesc *webrtc.SessionDescription
	localDesc  *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(*webrtc.TrackRemote)
	closed     bool
}

func (t *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	t.added = append(t.added, track)
	return nil
}

func (t *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (t *fakeTransport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	t.localDesc = &sdp
	return nil
}

func (t *fakeTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	t.remoteDesc = &sdp
	return nil
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { t.onICE = fn }
func (t *fakeTransport) OnTrack(fn func(*webrtc.TrackRemote))           { t.onTrack = fn }
func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

type pauseEvent struct {
	kind   domain.CallKind
	paused bool
}

// gatedMedia blocks acquisition until the gate opens, so tests can race
// hangups against a pending permission prompt.
type gatedMedia struct {
	gate     chan struct{}
	err      error
	released bool
	pauses   []pauseEvent
}

func (m *gatedMedia) Acquire(_ context.Context, _ domain.CallKind) (*LocalMedia, error) {
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return nil, m.err
	}
	track, _ := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test",
	)
	lm := NewLocalMedia([]webrtc.TrackLocal{track}, func() { m.released = true })
	lm.SetPauseHook(func(kind domain.CallKind, paused bool) {
		m.pauses = append(m.pauses, pauseEvent{kind: kind, paused: paused})
	})
	return lm, nil
}

// testLoop stands in for the sync service event loop.
type testLoop struct {
	tasks chan func()
}

func newTestLoop() *testLoop {
	return &testLoop{tasks: make(chan func(), 32)}
}

func (l *testLoop) post(fn func()) { l.tasks <- fn }

// step runs the next posted task, waiting for async producers.
func (l *testLoop) step(t *testing.T) {
	t.Helper()
	select {
	case fn := <-l.tasks:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("no task posted to loop")
	}
}

// drain runs everything already queued.
func (l *testLoop) drain() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		default:
			return
		}
	}
}

type fixture struct {
	session   *Session
	emitter   *fakeEmitter
	media     *gatedMedia
	transport *fakeTransport
	loop      *testLoop
}

func newFixture() *fixture {
	f := &fixture{
		emitter:   &fakeEmitter{},
		media:     &gatedMedia{},
		transport: &fakeTransport{},
		loop:      newTestLoop(),
	}
	factory := func() (PeerTransport, error) { return f.transport, nil }
	f.session = NewSession(f.emitter, f.media, factory, f.loop.post, nil)
	return f
}

// negotiate drives an outgoing call to the point where media is attached
// and the offer is out.
func (f *fixture) negotiate(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.StartOutgoing("bob", "r1", domain.CallKindVideo))
	f.session.ReceiveAccepted("bob")
	f.loop.step(t) // MediaReady
}

func TestSession_OutgoingCallReachesActive(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.session.StartOutgoing("bob", "r1", domain.CallKindVideo))
	require.Equal(t, domain.CallRingingOutgoing, f.session.State())
	require.Equal(t, 1, f.emitter.count(channel.EventCallRequest))
	require.Zero(t, f.session.HeldTracks())

	f.session.ReceiveAccepted("bob")
	require.Equal(t, domain.CallNegotiating, f.session.State())

	f.loop.step(t) // media acquisition completes
	require.Equal(t, 1, f.session.HeldTracks())
	require.Len(t, f.transport.added, 1)
	require.NotNil(t, f.transport.localDesc)
	require.Equal(t, 1, f.emitter.count(channel.EventCallSignal))

	f.session.RemoteTrackStarted(f.session.exchange, nil)
	require.Equal(t, domain.CallActive, f.session.State())
	require.False(t, f.session.Snapshot().ConnectedAt.IsZero())
}

func TestSession_IncomingAcceptAnswersOffer(t *testing.T) {
	f := newFixture()

	f.session.ReceiveIncoming("alice", "r1", domain.CallKindAudio)
	require.Equal(t, domain.CallRingingIncoming, f.session.State())

	require.NoError(t, f.session.Accept())
	require.Equal(t, 1, f.emitter.count(channel.EventCallAccept))
	f.loop.step(t) // media ready, callee sends no offer
	require.Equal(t, 0, f.emitter.count(channel.EventCallSignal))

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	require.NoError(t, f.session.HandleSignal(domain.SignalMessage{Type: domain.SignalOffer, SDP: &offer}))
	require.NotNil(t, f.transport.remoteDesc)
	require.Equal(t, 1, f.emitter.count(channel.EventCallSignal))
}

func TestSession_EndReleasesEverything(t *testing.T) {
	f := newFixture()
	f.negotiate(t)
	f.session.RemoteTrackStarted(f.session.exchange, nil)
	require.Equal(t, domain.CallActive, f.session.State())

	require.NoError(t, f.session.End())

	require.Equal(t, domain.CallEnded, f.session.State())
	require.Equal(t, domain.EndReasonLocalEnd, f.session.Reason())
	require.Zero(t, f.session.HeldTracks())
	require.True(t, f.transport.closed)
	require.True(t, f.media.released)
	require.Empty(t, f.session.PeerID())
}

func TestSession_TeardownIsIdempotent(t *testing.T) {
	f := newFixture()
	f.negotiate(t)

	require.NoError(t, f.session.End())
	require.Error(t, f.session.End())
	f.session.ReceiveEnded("bob")

	require.Equal(t, domain.CallEnded, f.session.State())
	require.Equal(t, domain.EndReasonLocalEnd, f.session.Reason())
}

func TestSession_RejectFromEveryRingingState(t *testing.T) {
	f := newFixture()

	f.session.ReceiveIncoming("alice", "r1", domain.CallKindVideo)
	require.NoError(t, f.session.Reject())
	require.Equal(t, domain.CallEnded, f.session.State())
	require.Equal(t, domain.EndReasonLocalReject, f.session.Reason())
	require.Equal(t, 1, f.emitter.count(channel.EventCallReject))
	require.Zero(t, f.session.HeldTracks())
}

func TestSession_HangupRace_LateAcceptIgnored(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.session.StartOutgoing("bob", "r1", domain.CallKindAudio))

	// remote hangs up before the accept arrives
	f.session.ReceiveEnded("bob")
	require.Equal(t, domain.CallEnded, f.session.State())

	// the late accept no longer matches a live exchange
	f.session.ReceiveAccepted("bob")
	require.Equal(t, domain.CallEnded, f.session.State())
	require.Equal(t, domain.EndReasonRemoteEnd, f.session.Reason())
}

func TestSession_RemoteEndWhileMediaPending(t *testing.T) {
	f := newFixture()
	f.media.gate = make(chan struct{})

	require.NoError(t, f.session.StartOutgoing("bob", "r1", domain.CallKindVideo))
	f.session.ReceiveAccepted("bob")
	require.Equal(t, domain.CallNegotiating, f.session.State())

	// hangup lands while the permission prompt is still open
	f.session.ReceiveEnded("bob")
	require.Equal(t, domain.CallEnded, f.session.State())

	close(f.media.gate)
	f.loop.step(t) // stale MediaReady

	require.True(t, f.media.released)
	require.Zero(t, f.session.HeldTracks())
	require.Empty(t, f.transport.added)
}

func TestSession_MediaFailureEndsCall(t *testing.T) {
	f := newFixture()
	f.media.err = context.DeadlineExceeded

	f.session.ReceiveIncoming("alice", "r1", domain.CallKindVideo)
	require.NoError(t, f.session.Accept())
	f.loop.step(t) // acquisition failure

	require.Equal(t, domain.CallEnded, f.session.State())
	require.Equal(t, domain.EndReasonMediaFailure, f.session.Reason())
	require.Zero(t, f.session.HeldTracks())
	require.True(t, f.transport.closed)
}

func TestSession_SecondIncomingWhileBusyIgnored(t *testing.T) {
	f := newFixture()

	f.session.ReceiveIncoming("alice", "r1", domain.CallKindAudio)
	f.session.ReceiveIncoming("mallory", "r2", domain.CallKindAudio)

	require.Equal(t, domain.CallRingingIncoming, f.session.State())
	require.Equal(t, "alice", f.session.PeerID())
}

func TestSession_StartWhileBusyFails(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.session.StartOutgoing("bob", "r1", domain.CallKindAudio))
	require.ErrorIs(t, f.session.StartOutgoing("carol", "r1", domain.CallKindAudio), ErrCallInProgress)
}

func TestSession_ResetReturnsToIdle(t *testing.T) {
	f := newFixture()

	f.session.ReceiveIncoming("alice", "r1", domain.CallKindAudio)
	require.NoError(t, f.session.Reject())
	require.Equal(t, domain.CallEnded, f.session.State())

	f.session.Reset()
	require.Equal(t, domain.CallIdle, f.session.State())
	require.Equal(t, domain.EndReasonNone, f.session.Reason())

	// ready for the next call
	require.NoError(t, f.session.StartOutgoing("bob", "r1", domain.CallKindVideo))
}

func TestSession_NoSignalingAfterTeardown(t *testing.T) {
	f := newFixture()
	f.negotiate(t)
	require.NotNil(t, f.transport.onICE)

	require.NoError(t, f.session.End())
	before := f.emitter.count(channel.EventCallSignal)

	// a candidate gathered after the hangup must not go out
	f.transport.onICE(webrtc.ICECandidateInit{Candidate: "candidate:late"})
	f.loop.drain()

	require.Equal(t, before, f.emitter.count(channel.EventCallSignal))
}

func TestSession_TogglesPauseLocalCapture(t *testing.T) {
	f := newFixture()
	f.negotiate(t)

	require.True(t, f.session.ToggleMute())
	require.True(t, f.session.ToggleCamera())
	require.False(t, f.session.ToggleMute())

	require.Equal(t, []pauseEvent{
		{kind: domain.CallKindAudio, paused: true},
		{kind: domain.CallKindVideo, paused: true},
		{kind: domain.CallKindAudio, paused: false},
	}, f.media.pauses)
}

func TestSession_EndedHookFiresOnEveryTerminalPath(t *testing.T) {
	f := newFixture()
	ended := 0
	f.session.OnEnded(func() { ended++ })

	// internal teardown: media acquisition failure
	f.media.err = context.DeadlineExceeded
	f.session.ReceiveIncoming("alice", "r1", domain.CallKindAudio)
	require.NoError(t, f.session.Accept())
	f.loop.step(t)
	require.Equal(t, domain.CallEnded, f.session.State())
	require.Equal(t, 1, ended)

	// user-visible teardown after the next call
	f.session.Reset()
	f.media.err = nil
	require.NoError(t, f.session.StartOutgoing("bob", "r1", domain.CallKindAudio))
	require.NoError(t, f.session.End())
	require.Equal(t, 2, ended)

	// already-ended teardown attempts do not refire
	f.session.ReceiveEnded("bob")
	require.Equal(t, 2, ended)
}

func TestSession_ConnectionClockStartsOnce(t *testing.T) {
	f := newFixture()
	f.negotiate(t)

	f.session.RemoteTrackStarted(f.session.exchange, nil)
	first := f.session.Snapshot().ConnectedAt
	require.False(t, first.IsZero())

	f.session.RemoteTrackStarted(f.session.exchange, nil)
	require.Equal(t, first, f.session.Snapshot().ConnectedAt)
}
