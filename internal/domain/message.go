package domain

import (
	"time"

	"github.com/samber/lo"
)

// Attachment points at an uploaded file carried by a message.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Message is one entry of a room timeline. The ID is assigned by the
// server and opaque to this layer. DeliveredTo, ReadBy and StarredBy only
// grow while the message exists; a deleted message is removed from the
// timeline entirely rather than flagged.
type Message struct {
	ID          string      `json:"_id" validate:"required"`
	RoomID      string      `json:"room" validate:"required"`
	SenderID    string      `json:"senderId"`
	Content     string      `json:"content,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	EditedAt    *time.Time  `json:"editedAt,omitempty"`
	DeliveredTo []string    `json:"deliveredTo,omitempty"`
	ReadBy      []string    `json:"readBy,omitempty"`
	StarredBy   []string    `json:"starredBy,omitempty"`
}

// DeliveredFor reports whether userID already acknowledged delivery.
func (m *Message) DeliveredFor(userID string) bool {
	return lo.Contains(m.DeliveredTo, userID)
}

// ReadFor reports whether userID already acknowledged reading.
func (m *Message) ReadFor(userID string) bool {
	return lo.Contains(m.ReadBy, userID)
}

// StarredFor reports whether userID starred the message.
func (m *Message) StarredFor(userID string) bool {
	return lo.Contains(m.StarredBy, userID)
}
