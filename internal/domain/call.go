package domain

import "time"

type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

type CallDirection string

const (
	CallOutgoing CallDirection = "outgoing"
	CallIncoming CallDirection = "incoming"
)

// CallState is the lifecycle position of a call session. Invalid flag
// combinations of the kind "incoming and active at once" are
// unrepresentable: a session is in exactly one state.
type CallState int

const (
	CallIdle CallState = iota
	CallRingingOutgoing
	CallRingingIncoming
	CallNegotiating
	CallActive
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallRingingOutgoing:
		return "ringing-outgoing"
	case CallRingingIncoming:
		return "ringing-incoming"
	case CallNegotiating:
		return "negotiating"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EndReason distinguishes why a session reached CallEnded.
type EndReason string

const (
	EndReasonNone         EndReason = ""
	EndReasonLocalEnd     EndReason = "ended"
	EndReasonRemoteEnd    EndReason = "remote-ended"
	EndReasonLocalReject  EndReason = "rejected"
	EndReasonRemoteReject EndReason = "remote-rejected"
	EndReasonMediaFailure EndReason = "media-failure"
)

// MissedCall is an append-only local record of a call that was never
// answered. Records for a room are cleared when that room is opened.
type MissedCall struct {
	From   string    `json:"from"`
	RoomID string    `json:"roomId"`
	Kind   CallKind  `json:"callType"`
	At     time.Time `json:"timestamp"`
}
