package call

import (
	"context"
	"fmt"

	"github.com/immxrtalbeast/chatsync/internal/domain"
	"github.com/pion/webrtc/v3"
)

// LocalMedia holds the local capture tracks acquired for one call and
// their release hook. Release is idempotent.
type LocalMedia struct {
	Tracks  []webrtc.TrackLocal
	release func()
	pause   func(kind domain.CallKind, paused bool)
}

func NewLocalMedia(tracks []webrtc.TrackLocal, release func()) *LocalMedia {
	return &LocalMedia{Tracks: tracks, release: release}
}

// SetPauseHook installs the capture pipeline's pause control, invoked by
// SetPaused per kind.
func (m *LocalMedia) SetPauseHook(fn func(kind domain.CallKind, paused bool)) {
	m.pause = fn
}

// SetPaused pauses or resumes capture of one kind. A source without a
// pause control ignores it.
func (m *LocalMedia) SetPaused(kind domain.CallKind, paused bool) {
	if m == nil || m.pause == nil {
		return
	}
	m.pause(kind, paused)
}

func (m *LocalMedia) Release() {
	if m == nil {
		return
	}
	if m.release != nil {
		m.release()
		m.release = nil
	}
	m.Tracks = nil
}

func (m *LocalMedia) TrackCount() int {
	if m == nil {
		return 0
	}
	return len(m.Tracks)
}

// MediaSource acquires local capture for a call kind. Acquisition can
// take unbounded wall-clock time (permission prompts, busy devices), so
// callers run it off the event loop and feed the result back as an event.
type MediaSource interface {
	Acquire(ctx context.Context, kind domain.CallKind) (*LocalMedia, error)
}

// StaticSource produces static sample tracks. It stands in for device
// capture on headless clients; a real capture pipeline plugs in through
// the same interface.
type StaticSource struct{}

func (StaticSource) Acquire(_ context.Context, kind domain.CallKind) (*LocalMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "chatsync",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	tracks := []webrtc.TrackLocal{audio}

	if kind == domain.CallKindVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "chatsync",
		)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		tracks = append(tracks, video)
	}

	return NewLocalMedia(tracks, nil), nil
}

// PeerTransport is the negotiation surface of the peer media connection.
// The session is its only owner; it is created when negotiation starts
// and closed exactly once during teardown.
type PeerTransport interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(*webrtc.TrackRemote))
	Close() error
}

// TransportFactory builds a fresh transport for one call.
type TransportFactory func() (PeerTransport, error)

// NewWebRTCFactory returns a factory producing pion peer connections with
// the given STUN servers.
func NewWebRTCFactory(stunServers []string) TransportFactory {
	return func() (PeerTransport, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
		})
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		return &webrtcTransport{pc: pc}, nil
	}
}

type webrtcTransport struct {
	pc *webrtc.PeerConnection
}

func (t *webrtcTransport) AddTrack(track webrtc.TrackLocal) error {
	_, err := t.pc.AddTrack(track)
	return err
}

func (t *webrtcTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

func (t *webrtcTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *webrtcTransport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

func (t *webrtcTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

func (t *webrtcTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *webrtcTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

func (t *webrtcTransport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

func (t *webrtcTransport) Close() error {
	return t.pc.Close()
}
