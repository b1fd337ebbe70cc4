package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/immxrtalbeast/chatsync/internal/domain"
)

// Inbound event names delivered by the push transport.
const (
	EventNewMessage   = "newMessage"
	EventDelivered    = "message:delivered"
	EventRead         = "message:read"
	EventTyping       = "typing"
	EventStopTyping   = "stopTyping"
	EventUserStatus   = "user:status"
	EventCallIncoming = "call:incoming"
	EventCallAccepted = "call:accepted"
	EventCallRejected = "call:rejected"
	EventCallEnded    = "call:ended"
	EventCallSignal   = "call:signal"
	EventCallMissed   = "call:missed"
)

// Outbound event names emitted by this client.
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
	EventCallRequest = "call:request"
	EventCallAccept  = "call:accept"
	EventCallReject  = "call:reject"
	EventCallEnd     = "call:end"
)

// Envelope is the wire format of every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessagePayload carries a message delta. A create, an edit and a delete
// all arrive as newMessage; Deleted marks the tombstone case.
type MessagePayload struct {
	domain.Message
	Deleted bool `json:"deleted,omitempty"`
}

type ReceiptPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	RoomID    string `json:"roomId,omitempty"`
}

type TypingPayload struct {
	UserID string `json:"userId" validate:"required"`
	RoomID string `json:"roomId" validate:"required"`
}

type UserStatusPayload struct {
	UserID   string     `json:"userId" validate:"required"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// CallOfferPayload is shared by call:incoming and call:missed.
type CallOfferPayload struct {
	From     string          `json:"from" validate:"required"`
	RoomID   string          `json:"roomId" validate:"required"`
	CallType domain.CallKind `json:"callType" validate:"required,oneof=audio video"`
}

// CallControlPayload is shared by call:accepted, call:rejected, call:ended.
type CallControlPayload struct {
	From   string `json:"from" validate:"required"`
	RoomID string `json:"roomId,omitempty"`
}

type CallSignalPayload struct {
	From string               `json:"from" validate:"required"`
	Data domain.SignalMessage `json:"data" validate:"required"`
}

// Outbound payloads.

type SendMessagePayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type CallRequestPayload struct {
	TargetUserID string          `json:"targetUserId"`
	RoomID       string          `json:"roomId"`
	CallType     domain.CallKind `json:"callType,omitempty"`
}

type CallSignalOut struct {
	TargetUserID string               `json:"targetUserId"`
	Data         domain.SignalMessage `json:"data"`
}

var validate = validator.New()

// Decode unmarshals a raw payload into its fixed schema and validates it.
// Malformed payloads never reach the timeline or the call session.
func Decode[T any](raw json.RawMessage) (T, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if err := validate.Struct(&payload); err != nil {
		return payload, fmt.Errorf("validate payload: %w", err)
	}
	return payload, nil
}
