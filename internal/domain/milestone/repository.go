package milestone

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for milestones and party responses.
type Repository interface {
	Create(ctx context.Context, m *Milestone) error
	GetByID(ctx context.Context, milestoneID uuid.UUID) (*Milestone, error)
	ListByContract(ctx context.Context, contractID uuid.UUID) ([]*Milestone, error)
	UpdateStatus(ctx context.Context, milestoneID uuid.UUID, status Status) error
	CountByContract(ctx context.Context, contractID uuid.UUID) (int, error)
	// CountNotApproved counts milestones of the contract whose status is not
	// APPROVED; the all-approved check compares this against zero at
	// decision time.
	CountNotApproved(ctx context.Context, contractID uuid.UUID) (int, error)
	// UpsertResponse replaces the live response keyed by
	// (milestone_id, party_id).
	UpsertResponse(ctx context.Context, r *PartyResponse) error
	ListResponses(ctx context.Context, milestoneID uuid.UUID) ([]*PartyResponse, error)
}
