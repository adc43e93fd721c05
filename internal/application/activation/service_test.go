package activation

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/escrow-hub/escrow-hub/internal/domain/audit"
	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
	dealmocks "github.com/escrow-hub/escrow-hub/internal/domain/deal/mocks"
	milestonemocks "github.com/escrow-hub/escrow-hub/internal/domain/milestone/mocks"
	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
)

type auditRecorder struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (r *auditRecorder) Log(_ context.Context, e *audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *auditRecorder) countByType(t audit.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.EventType == t {
			n++
		}
	}
	return n
}

type notifyRecorder struct {
	mu    sync.Mutex
	kinds []notification.EventKind
}

func (r *notifyRecorder) EnqueueDealEvent(_ context.Context, _ uuid.UUID, kind notification.EventKind, _, _ string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *notifyRecorder) countByKind(kind notification.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	svc           *Service
	dealRepo      *dealmocks.MockRepository
	partyRepo     *dealmocks.MockPartyRepository
	contractRepo  *dealmocks.MockContractRepository
	milestoneRepo *milestonemocks.MockRepository
	audits        *auditRecorder
	notifies      *notifyRecorder
}

func newFixture() *fixture {
	f := &fixture{
		dealRepo:      new(dealmocks.MockRepository),
		partyRepo:     new(dealmocks.MockPartyRepository),
		contractRepo:  new(dealmocks.MockContractRepository),
		milestoneRepo: new(milestonemocks.MockRepository),
		audits:        &auditRecorder{},
		notifies:      &notifyRecorder{},
	}
	f.svc = NewService(f.dealRepo, f.partyRepo, f.contractRepo, f.milestoneRepo, f.audits, f.notifies, zerolog.Nop())
	return f
}

func testDeal(status deal.Status) *deal.Deal {
	return &deal.Deal{
		DealID: uuid.New(),
		Number: "DL-2026-000042",
		Status: status,
	}
}

func TestCheckAndActivate_AlreadyActivated(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusAccepted)
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)

	res, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")

	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Equal(t, deal.StatusAccepted, res.Status)
	assert.Equal(t, "already activated", res.Reason)
	f.dealRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, f.audits.countByType(audit.EventDealActivated))
}

func TestCheckAndActivate_CancelledDealReportsStatus(t *testing.T) {
	for _, status := range []deal.Status{deal.StatusCancelled, deal.StatusDisputed} {
		f := newFixture()
		d := testDeal(status)
		f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)

		res, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")

		require.NoError(t, err)
		assert.False(t, res.Activated)
		assert.Equal(t, "deal is "+string(status), res.Reason)
		f.dealRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestCheckAndActivate_NotFound(t *testing.T) {
	f := newFixture()
	dealID := uuid.New()
	f.dealRepo.On("GetByID", mock.Anything, dealID).Return(nil, nil)

	_, err := f.svc.CheckAndActivate(context.Background(), dealID, "account:alice")

	assert.ErrorIs(t, err, deal.ErrDealNotFound)
}

func TestCheckAndActivate_InvitationsNotSent(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusCreated)
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)

	res, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")

	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Equal(t, "invitations not sent", res.Reason)
}

func TestCheckAndActivate_WaitingForParties(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusInvited)
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, d.DealID).Return(2, nil)

	res, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")

	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Equal(t, deal.StatusInvited, res.Status)
	assert.Equal(t, "waiting for 2 parties", res.Reason)
}

func TestCheckAndActivate_EntersNegotiation(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusInvited)
	contract := &deal.Contract{ContractID: uuid.New(), DealID: d.DealID, Version: 1, IsEffective: true}
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, d.DealID).Return(0, nil)
	f.contractRepo.On("GetEffective", mock.Anything, d.DealID).Return(contract, nil)
	f.milestoneRepo.On("CountByContract", mock.Anything, contract.ContractID).Return(3, nil)
	f.milestoneRepo.On("CountNotApproved", mock.Anything, contract.ContractID).Return(2, nil)
	f.dealRepo.On("UpdateStatus", mock.Anything, d.DealID, deal.StatusPendingNegotiation, false).Return(nil)

	res, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")

	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Equal(t, deal.StatusPendingNegotiation, res.Status)
	assert.Equal(t, "waiting for 2 milestones", res.Reason)
	f.dealRepo.AssertCalled(t, "UpdateStatus", mock.Anything, d.DealID, deal.StatusPendingNegotiation, false)
	assert.Equal(t, 1, f.audits.countByType(audit.EventDealStatusChanged))
	assert.Equal(t, 1, f.notifies.countByKind(notification.KindDealNegotiation))
}

func TestCheckAndActivate_AlreadyNegotiatingStaysPut(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusPendingNegotiation)
	contract := &deal.Contract{ContractID: uuid.New(), DealID: d.DealID, Version: 1, IsEffective: true}
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, d.DealID).Return(0, nil)
	f.contractRepo.On("GetEffective", mock.Anything, d.DealID).Return(contract, nil)
	f.milestoneRepo.On("CountByContract", mock.Anything, contract.ContractID).Return(1, nil)
	f.milestoneRepo.On("CountNotApproved", mock.Anything, contract.ContractID).Return(1, nil)

	res, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")

	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Equal(t, deal.StatusPendingNegotiation, res.Status)
	f.dealRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckAndActivate_Activates(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusInvited)
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, d.DealID).Return(0, nil)
	f.contractRepo.On("GetEffective", mock.Anything, d.DealID).Return(nil, nil)
	f.dealRepo.On("UpdateStatus", mock.Anything, d.DealID, deal.StatusAccepted, true).Return(nil)

	res, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")

	require.NoError(t, err)
	assert.True(t, res.Activated)
	assert.Equal(t, deal.StatusAccepted, res.Status)
	assert.True(t, d.AllPartiesConfirmed)
	require.NotNil(t, d.ActivatedAt)
	assert.Equal(t, 1, f.audits.countByType(audit.EventDealActivated))
	assert.Equal(t, 1, f.notifies.countByKind(notification.KindDealActivated))
}

func TestCheckAndActivate_ZeroMilestonesVacuouslyNegotiated(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusPendingNegotiation)
	contract := &deal.Contract{ContractID: uuid.New(), DealID: d.DealID, Version: 2, IsEffective: true}
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, d.DealID).Return(0, nil)
	f.contractRepo.On("GetEffective", mock.Anything, d.DealID).Return(contract, nil)
	f.milestoneRepo.On("CountByContract", mock.Anything, contract.ContractID).Return(0, nil)
	f.dealRepo.On("UpdateStatus", mock.Anything, d.DealID, deal.StatusAccepted, true).Return(nil)

	res, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")

	require.NoError(t, err)
	assert.True(t, res.Activated)
	f.milestoneRepo.AssertNotCalled(t, "CountNotApproved", mock.Anything, mock.Anything)
}

func TestCheckAndActivate_Idempotent(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusInvited)
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, d.DealID).Return(0, nil)
	f.contractRepo.On("GetEffective", mock.Anything, d.DealID).Return(nil, nil)
	f.dealRepo.On("UpdateStatus", mock.Anything, d.DealID, deal.StatusAccepted, true).Return(nil)

	first, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")
	require.NoError(t, err)
	second, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")
	require.NoError(t, err)

	assert.True(t, first.Activated)
	assert.False(t, second.Activated)
	assert.Equal(t, "already activated", second.Reason)
	f.dealRepo.AssertNumberOfCalls(t, "UpdateStatus", 1)
	assert.Equal(t, 1, f.audits.countByType(audit.EventDealActivated))
	assert.Equal(t, 1, f.notifies.countByKind(notification.KindDealActivated))
}

func TestCheckAndActivate_ConcurrentCallsActivateOnce(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusInvited)
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, d.DealID).Return(0, nil)
	f.contractRepo.On("GetEffective", mock.Anything, d.DealID).Return(nil, nil)
	f.dealRepo.On("UpdateStatus", mock.Anything, d.DealID, deal.StatusAccepted, true).Return(nil)

	const workers = 16
	var wg sync.WaitGroup
	activated := make([]bool, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.CheckAndActivate(context.Background(), d.DealID, "account:alice")
			if err != nil {
				errs[i] = err
				return
			}
			activated[i] = res.Activated
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if activated[i] {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one caller must observe the activation")
	f.dealRepo.AssertNumberOfCalls(t, "UpdateStatus", 1)
	assert.Equal(t, 1, f.audits.countByType(audit.EventDealActivated))
}

func TestTransition_NoOpWhenAlreadyInTarget(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusFunded)
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)

	got, err := f.svc.Transition(context.Background(), d.DealID, deal.StatusFunded, "account:alice", "")

	require.NoError(t, err)
	assert.Equal(t, deal.StatusFunded, got.Status)
	f.dealRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.audits.entries)
}

func TestTransition_Valid(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusAccepted)
	d.AllPartiesConfirmed = true
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)
	f.dealRepo.On("UpdateStatus", mock.Anything, d.DealID, deal.StatusFunded, true).Return(nil)

	got, err := f.svc.Transition(context.Background(), d.DealID, deal.StatusFunded, "account:alice", "escrow funded")

	require.NoError(t, err)
	assert.Equal(t, deal.StatusFunded, got.Status)
	assert.Equal(t, 1, f.audits.countByType(audit.EventDealStatusChanged))
	assert.Equal(t, 1, f.notifies.countByKind(notification.KindDealStatusChanged))
}

func TestTransition_Invalid(t *testing.T) {
	f := newFixture()
	d := testDeal(deal.StatusCreated)
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)

	_, err := f.svc.Transition(context.Background(), d.DealID, deal.StatusFunded, "account:alice", "")

	var terr *deal.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, deal.StatusCreated, terr.From)
	assert.Equal(t, deal.StatusFunded, terr.To)
	f.dealRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
