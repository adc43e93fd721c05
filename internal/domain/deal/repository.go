package deal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter controls deal listing.
type Filter struct {
	Status    *Status
	CreatedBy *uuid.UUID
}

// Repository defines persistence for deals.
type Repository interface {
	Create(ctx context.Context, d *Deal) error
	GetByID(ctx context.Context, dealID uuid.UUID) (*Deal, error)
	GetByNumber(ctx context.Context, number string) (*Deal, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Deal, error)
	// UpdateStatus writes status and the allPartiesConfirmed derived flag.
	UpdateStatus(ctx context.Context, dealID uuid.UUID, status Status, allPartiesConfirmed bool) error
	// NextSequence reserves the next deal sequence number.
	NextSequence(ctx context.Context) (int64, error)
}

// PartyRepository defines persistence for parties and their members.
type PartyRepository interface {
	Create(ctx context.Context, p *Party) error
	GetByID(ctx context.Context, partyID uuid.UUID) (*Party, error)
	GetByToken(ctx context.Context, token string) (*Party, error)
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*Party, error)
	UpdateInvitation(ctx context.Context, partyID uuid.UUID, status InvitationStatus, respondedAt time.Time) error
	UpdateToken(ctx context.Context, partyID uuid.UUID, token string, invitedAt time.Time) error
	CountByDeal(ctx context.Context, dealID uuid.UUID) (int, error)
	// CountNotAccepted counts parties whose invitation status is not ACCEPTED.
	// The all-accepted check is this count compared against zero, computed
	// from persisted state at decision time.
	CountNotAccepted(ctx context.Context, dealID uuid.UUID) (int, error)
	AddMember(ctx context.Context, m *PartyMember) error
	ListMembers(ctx context.Context, partyID uuid.UUID) ([]*PartyMember, error)
	IsMember(ctx context.Context, partyID, accountID uuid.UUID) (bool, error)
}

// ContractRepository defines persistence for versioned contracts.
type ContractRepository interface {
	Create(ctx context.Context, c *Contract) error
	GetByID(ctx context.Context, contractID uuid.UUID) (*Contract, error)
	// GetEffective returns the single effective contract, or nil.
	GetEffective(ctx context.Context, dealID uuid.UUID) (*Contract, error)
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*Contract, error)
	// MarkEffective atomically clears the previous effective version and sets
	// the new one.
	MarkEffective(ctx context.Context, dealID, contractID uuid.UUID, at time.Time) error
	NextVersion(ctx context.Context, dealID uuid.UUID) (int, error)
}
