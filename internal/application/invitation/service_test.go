package invitation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/escrow-hub/escrow-hub/internal/application/activation"
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
	svc          *Service
	dealRepo     *dealmocks.MockRepository
	partyRepo    *dealmocks.MockPartyRepository
	contractRepo *dealmocks.MockContractRepository
	audits       *auditRecorder
	notifies     *notifyRecorder
}

func newFixture() *fixture {
	f := &fixture{
		dealRepo:     new(dealmocks.MockRepository),
		partyRepo:    new(dealmocks.MockPartyRepository),
		contractRepo: new(dealmocks.MockContractRepository),
		audits:       &auditRecorder{},
		notifies:     &notifyRecorder{},
	}
	activationSvc := activation.NewService(
		f.dealRepo, f.partyRepo, f.contractRepo,
		new(milestonemocks.MockRepository),
		f.audits, f.notifies, zerolog.Nop(),
	)
	f.svc = NewService(f.dealRepo, f.partyRepo, activationSvc, f.audits, f.notifies, zerolog.Nop())
	return f
}

func pendingParty(dealID uuid.UUID) *deal.Party {
	invited := time.Now().UTC().Add(-time.Hour)
	return &deal.Party{
		PartyID:          uuid.New(),
		DealID:           dealID,
		Name:             "Acme Logistics",
		Role:             deal.RoleSeller,
		InvitationStatus: deal.InvitationPending,
		InvitationToken:  "tok-acme",
		InvitedAt:        &invited,
	}
}

func TestRecordResponse_UnknownToken(t *testing.T) {
	f := newFixture()
	f.partyRepo.On("GetByToken", mock.Anything, "bogus").Return(nil, nil)

	_, err := f.svc.RecordResponse(context.Background(), "bogus", deal.InvitationAccepted)

	assert.ErrorIs(t, err, deal.ErrPartyNotFound)
}

func TestRecordResponse_AcceptNotLast(t *testing.T) {
	f := newFixture()
	dealID := uuid.New()
	p := pendingParty(dealID)
	f.partyRepo.On("GetByToken", mock.Anything, p.InvitationToken).Return(p, nil)
	f.partyRepo.On("UpdateInvitation", mock.Anything, p.PartyID, deal.InvitationAccepted, mock.Anything).Return(nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, dealID).Return(1, nil)

	res, err := f.svc.RecordResponse(context.Background(), p.InvitationToken, deal.InvitationAccepted)

	require.NoError(t, err)
	assert.False(t, res.AllAccepted)
	assert.False(t, res.AlreadyResponded)
	assert.Equal(t, deal.InvitationAccepted, res.Party.InvitationStatus)
	assert.NotNil(t, res.Party.RespondedAt)
	assert.Equal(t, 1, f.audits.countByType(audit.EventPartyAccepted))
	assert.Equal(t, 1, f.notifies.countByKind(notification.KindPartyResponded))
	// Activation is never consulted while parties are outstanding.
	f.dealRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestRecordResponse_LastAcceptActivates(t *testing.T) {
	f := newFixture()
	d := &deal.Deal{DealID: uuid.New(), Number: "DL-2026-000007", Status: deal.StatusInvited}
	p := pendingParty(d.DealID)
	f.partyRepo.On("GetByToken", mock.Anything, p.InvitationToken).Return(p, nil)
	f.partyRepo.On("UpdateInvitation", mock.Anything, p.PartyID, deal.InvitationAccepted, mock.Anything).Return(nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, d.DealID).Return(0, nil)
	f.dealRepo.On("GetByID", mock.Anything, d.DealID).Return(d, nil)
	f.contractRepo.On("GetEffective", mock.Anything, d.DealID).Return(nil, nil)
	f.dealRepo.On("UpdateStatus", mock.Anything, d.DealID, deal.StatusAccepted, true).Return(nil)

	res, err := f.svc.RecordResponse(context.Background(), p.InvitationToken, deal.InvitationAccepted)

	require.NoError(t, err)
	assert.True(t, res.AllAccepted)
	assert.Equal(t, deal.StatusAccepted, d.Status)
	assert.Equal(t, 1, f.audits.countByType(audit.EventPartyAccepted))
	assert.Equal(t, 1, f.audits.countByType(audit.EventDealActivated))
	assert.Equal(t, 1, f.notifies.countByKind(notification.KindDealActivated))
}

func TestRecordResponse_Decline(t *testing.T) {
	f := newFixture()
	dealID := uuid.New()
	p := pendingParty(dealID)
	f.partyRepo.On("GetByToken", mock.Anything, p.InvitationToken).Return(p, nil)
	f.partyRepo.On("UpdateInvitation", mock.Anything, p.PartyID, deal.InvitationDeclined, mock.Anything).Return(nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, dealID).Return(2, nil)

	res, err := f.svc.RecordResponse(context.Background(), p.InvitationToken, deal.InvitationDeclined)

	require.NoError(t, err)
	assert.False(t, res.AllAccepted)
	assert.Equal(t, deal.InvitationDeclined, res.Party.InvitationStatus)
	assert.Equal(t, 1, f.audits.countByType(audit.EventPartyDeclined))
	assert.Equal(t, 1, f.notifies.countByKind(notification.KindPartyResponded))
}

func TestRecordResponse_DeclineIsTerminal(t *testing.T) {
	f := newFixture()
	p := pendingParty(uuid.New())
	p.InvitationStatus = deal.InvitationDeclined
	f.partyRepo.On("GetByToken", mock.Anything, p.InvitationToken).Return(p, nil)

	_, err := f.svc.RecordResponse(context.Background(), p.InvitationToken, deal.InvitationAccepted)

	assert.ErrorIs(t, err, deal.ErrInvitationDeclined)
	f.partyRepo.AssertNotCalled(t, "UpdateInvitation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordResponse_ReacceptIsIdempotent(t *testing.T) {
	f := newFixture()
	dealID := uuid.New()
	p := pendingParty(dealID)
	p.InvitationStatus = deal.InvitationAccepted
	responded := time.Now().UTC().Add(-time.Minute)
	p.RespondedAt = &responded
	f.partyRepo.On("GetByToken", mock.Anything, p.InvitationToken).Return(p, nil)
	f.partyRepo.On("CountNotAccepted", mock.Anything, dealID).Return(1, nil)

	res, err := f.svc.RecordResponse(context.Background(), p.InvitationToken, deal.InvitationAccepted)

	require.NoError(t, err)
	assert.True(t, res.AlreadyResponded)
	assert.Equal(t, responded, *res.Party.RespondedAt)
	f.partyRepo.AssertNotCalled(t, "UpdateInvitation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.audits.entries)
	assert.Empty(t, f.notifies.kinds)
}

func TestRecordResponse_AcceptedCannotDecline(t *testing.T) {
	f := newFixture()
	p := pendingParty(uuid.New())
	p.InvitationStatus = deal.InvitationAccepted
	f.partyRepo.On("GetByToken", mock.Anything, p.InvitationToken).Return(p, nil)

	_, err := f.svc.RecordResponse(context.Background(), p.InvitationToken, deal.InvitationDeclined)

	assert.ErrorIs(t, err, deal.ErrInvitationAccepted)
}

func TestResend_RotatesToken(t *testing.T) {
	f := newFixture()
	p := pendingParty(uuid.New())
	oldToken := p.InvitationToken
	f.partyRepo.On("GetByID", mock.Anything, p.PartyID).Return(p, nil)
	f.partyRepo.On("UpdateToken", mock.Anything, p.PartyID, mock.Anything, mock.Anything).Return(nil)

	got, err := f.svc.Resend(context.Background(), p.PartyID, "account:alice")

	require.NoError(t, err)
	assert.NotEqual(t, oldToken, got.InvitationToken)
	assert.NotEmpty(t, got.InvitationToken)
	assert.Equal(t, 1, f.audits.countByType(audit.EventPartyInvited))
}

func TestResend_GuardsTerminalDecisions(t *testing.T) {
	f := newFixture()

	declined := pendingParty(uuid.New())
	declined.InvitationStatus = deal.InvitationDeclined
	f.partyRepo.On("GetByID", mock.Anything, declined.PartyID).Return(declined, nil)
	_, err := f.svc.Resend(context.Background(), declined.PartyID, "account:alice")
	assert.ErrorIs(t, err, deal.ErrInvitationDeclined)

	accepted := pendingParty(uuid.New())
	accepted.InvitationStatus = deal.InvitationAccepted
	f.partyRepo.On("GetByID", mock.Anything, accepted.PartyID).Return(accepted, nil)
	_, err = f.svc.Resend(context.Background(), accepted.PartyID, "account:alice")
	assert.ErrorIs(t, err, deal.ErrInvitationAccepted)

	f.partyRepo.AssertNotCalled(t, "UpdateToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
