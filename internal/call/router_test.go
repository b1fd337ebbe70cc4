package call

import (
	"testing"

	"github.com/immxrtalbeast/chatsync/internal/domain"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

func TestRouter_DropsSignalWithoutNegotiation(t *testing.T) {
	f := newFixture()
	router := NewRouter(f.session, nil)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	router.Route("bob", domain.SignalMessage{Type: domain.SignalOffer, SDP: &offer})

	require.Equal(t, domain.CallIdle, f.session.State())
	require.Nil(t, f.transport.remoteDesc)
}

func TestRouter_DropsSignalFromWrongPeer(t *testing.T) {
	f := newFixture()
	f.negotiate(t)
	router := NewRouter(f.session, nil)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	router.Route("mallory", domain.SignalMessage{Type: domain.SignalAnswer, SDP: &answer})

	require.Nil(t, f.transport.remoteDesc)
}

func TestRouter_ForwardsSignalFromCurrentPeer(t *testing.T) {
	f := newFixture()
	f.negotiate(t)
	router := NewRouter(f.session, nil)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	router.Route("bob", domain.SignalMessage{Type: domain.SignalAnswer, SDP: &answer})

	require.NotNil(t, f.transport.remoteDesc)
	require.Equal(t, webrtc.SDPTypeAnswer, f.transport.remoteDesc.Type)
}

func TestRouter_StaleSignalAfterHangup(t *testing.T) {
	f := newFixture()
	f.negotiate(t)
	router := NewRouter(f.session, nil)

	require.NoError(t, f.session.End())

	ice := webrtc.ICECandidateInit{Candidate: "candidate:1"}
	router.Route("bob", domain.SignalMessage{Type: domain.SignalICECandidate, Candidate: &ice})

	require.Equal(t, domain.CallEnded, f.session.State())
	require.Empty(t, f.transport.candidates)
}

func TestRouter_MalformedSignalDoesNotTearDownCall(t *testing.T) {
	f := newFixture()
	f.negotiate(t)
	router := NewRouter(f.session, nil)

	// offer without an SDP body is logged and dropped
	router.Route("bob", domain.SignalMessage{Type: domain.SignalOffer})

	require.Equal(t, domain.CallNegotiating, f.session.State())
}
