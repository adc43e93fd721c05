package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/escrow-hub/escrow-hub/internal/domain/milestone"
)

// MockRepository is a mock implementation of milestone.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, ms *milestone.Milestone) error {
	args := m.Called(ctx, ms)
	return args.Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, milestoneID uuid.UUID) (*milestone.Milestone, error) {
	args := m.Called(ctx, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*milestone.Milestone), args.Error(1)
}

func (m *MockRepository) ListByContract(ctx context.Context, contractID uuid.UUID) ([]*milestone.Milestone, error) {
	args := m.Called(ctx, contractID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*milestone.Milestone), args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, milestoneID uuid.UUID, status milestone.Status) error {
	args := m.Called(ctx, milestoneID, status)
	return args.Error(0)
}

func (m *MockRepository) CountByContract(ctx context.Context, contractID uuid.UUID) (int, error) {
	args := m.Called(ctx, contractID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) CountNotApproved(ctx context.Context, contractID uuid.UUID) (int, error) {
	args := m.Called(ctx, contractID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) UpsertResponse(ctx context.Context, r *milestone.PartyResponse) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRepository) ListResponses(ctx context.Context, milestoneID uuid.UUID) ([]*milestone.PartyResponse, error) {
	args := m.Called(ctx, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*milestone.PartyResponse), args.Error(1)
}
