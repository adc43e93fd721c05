package session

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for account sessions. Tokens are stored
// hashed; the plaintext never reaches the repository.
type Repository interface {
	Create(ctx context.Context, session *Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	UpdateLastSeen(ctx context.Context, sessionID uuid.UUID) error
	DeleteByID(ctx context.Context, sessionID uuid.UUID) error
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteExpired(ctx context.Context) (int, error)
}
