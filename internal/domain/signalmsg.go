package domain

import "github.com/pion/webrtc/v3"

const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
)

// SignalMessage is one step of the offer/answer/ICE exchange between two
// peers. Exactly one of SDP or Candidate is set, discriminated by Type.
type SignalMessage struct {
	Type      string                     `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}
