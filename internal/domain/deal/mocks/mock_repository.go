package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
)

// MockRepository is a mock implementation of deal.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, d *deal.Deal) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, dealID uuid.UUID) (*deal.Deal, error) {
	args := m.Called(ctx, dealID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deal.Deal), args.Error(1)
}

func (m *MockRepository) GetByNumber(ctx context.Context, number string) (*deal.Deal, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deal.Deal), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context, filter deal.Filter, limit, offset int) ([]*deal.Deal, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*deal.Deal), args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, dealID uuid.UUID, status deal.Status, allPartiesConfirmed bool) error {
	args := m.Called(ctx, dealID, status, allPartiesConfirmed)
	return args.Error(0)
}

func (m *MockRepository) NextSequence(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockPartyRepository is a mock implementation of deal.PartyRepository
type MockPartyRepository struct {
	mock.Mock
}

func (m *MockPartyRepository) Create(ctx context.Context, p *deal.Party) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPartyRepository) GetByID(ctx context.Context, partyID uuid.UUID) (*deal.Party, error) {
	args := m.Called(ctx, partyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deal.Party), args.Error(1)
}

func (m *MockPartyRepository) GetByToken(ctx context.Context, token string) (*deal.Party, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deal.Party), args.Error(1)
}

func (m *MockPartyRepository) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*deal.Party, error) {
	args := m.Called(ctx, dealID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*deal.Party), args.Error(1)
}

func (m *MockPartyRepository) UpdateInvitation(ctx context.Context, partyID uuid.UUID, status deal.InvitationStatus, respondedAt time.Time) error {
	args := m.Called(ctx, partyID, status, respondedAt)
	return args.Error(0)
}

func (m *MockPartyRepository) UpdateToken(ctx context.Context, partyID uuid.UUID, token string, invitedAt time.Time) error {
	args := m.Called(ctx, partyID, token, invitedAt)
	return args.Error(0)
}

func (m *MockPartyRepository) CountByDeal(ctx context.Context, dealID uuid.UUID) (int, error) {
	args := m.Called(ctx, dealID)
	return args.Int(0), args.Error(1)
}

func (m *MockPartyRepository) CountNotAccepted(ctx context.Context, dealID uuid.UUID) (int, error) {
	args := m.Called(ctx, dealID)
	return args.Int(0), args.Error(1)
}

func (m *MockPartyRepository) AddMember(ctx context.Context, member *deal.PartyMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockPartyRepository) ListMembers(ctx context.Context, partyID uuid.UUID) ([]*deal.PartyMember, error) {
	args := m.Called(ctx, partyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*deal.PartyMember), args.Error(1)
}

func (m *MockPartyRepository) IsMember(ctx context.Context, partyID, accountID uuid.UUID) (bool, error) {
	args := m.Called(ctx, partyID, accountID)
	return args.Bool(0), args.Error(1)
}

// MockContractRepository is a mock implementation of deal.ContractRepository
type MockContractRepository struct {
	mock.Mock
}

func (m *MockContractRepository) Create(ctx context.Context, c *deal.Contract) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockContractRepository) GetByID(ctx context.Context, contractID uuid.UUID) (*deal.Contract, error) {
	args := m.Called(ctx, contractID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deal.Contract), args.Error(1)
}

func (m *MockContractRepository) GetEffective(ctx context.Context, dealID uuid.UUID) (*deal.Contract, error) {
	args := m.Called(ctx, dealID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deal.Contract), args.Error(1)
}

func (m *MockContractRepository) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*deal.Contract, error) {
	args := m.Called(ctx, dealID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*deal.Contract), args.Error(1)
}

func (m *MockContractRepository) MarkEffective(ctx context.Context, dealID, contractID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, dealID, contractID, at)
	return args.Error(0)
}

func (m *MockContractRepository) NextVersion(ctx context.Context, dealID uuid.UUID) (int, error) {
	args := m.Called(ctx, dealID)
	return args.Int(0), args.Error(1)
}
