package account

import (
	"context"

	"github.com/google/uuid"
)

// Filter controls account listing.
type Filter struct {
	Role   *Role
	Status *Status
}

// Repository defines persistence for accounts.
type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, accountID uuid.UUID) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Account, error)
	Update(ctx context.Context, a *Account) error
	Count(ctx context.Context) (int64, error)
}
