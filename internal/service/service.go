package service

import (
	"context"
	"io"

	"github.com/immxrtalbeast/chatsync/internal/channel"
	"github.com/immxrtalbeast/chatsync/internal/domain"
)

// API is the REST collaborator contract: timeline seeding, user lookup,
// and the direct user actions that go over HTTP.
type API interface {
	SetToken(token string)
	Messages(ctx context.Context, roomID string) ([]domain.Message, error)
	Starred(ctx context.Context, roomID string) ([]domain.Message, error)
	User(ctx context.Context, userID string) (*domain.User, error)
	Edit(ctx context.Context, messageID, content string) (*domain.Message, error)
	Delete(ctx context.Context, messageID string) error
	Star(ctx context.Context, messageID string) error
	Unstar(ctx context.Context, messageID string) error
	UploadAttachment(ctx context.Context, roomID, filename string, r io.Reader) (*domain.Message, error)
}

// Transport is the push-channel contract consumed by the sync service.
type Transport interface {
	Connect(ctx context.Context, credential string) error
	Close() error
	Emit(event string, payload any) error
	Subscribe(roomID string) error
	Unsubscribe(roomID string) error
	On(event string, h channel.Handler) func()
	OnState(h func(channel.State))
}
