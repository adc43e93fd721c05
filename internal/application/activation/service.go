package activation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/domain/audit"
	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
)

// AuditLogger records audit entries asynchronously.
type AuditLogger interface {
	Log(ctx context.Context, entry *audit.Entry)
}

// Notifier enqueues notification jobs for a deal event. Enqueue failures are
// the notifier's problem; callers never observe them.
type Notifier interface {
	EnqueueDealEvent(ctx context.Context, dealID uuid.UUID, kind notification.EventKind, title, body string, payload map[string]interface{})
}

// Result reports an activation attempt.
type Result struct {
	Activated bool        `json:"activated"`
	Status    deal.Status `json:"status"`
	Reason    string      `json:"reason,omitempty"`
}

// Service is the single authority for deal status writes. Every transition,
// whether triggered by invitation acceptance, milestone consensus, or an
// explicit lifecycle operation, goes through here so the transition table is
// enforced in exactly one place.
//
// Status writes are serialized per deal with a keyed mutex. Aggregate checks
// (all parties accepted, all milestones approved) are counting queries over
// persisted state, so a recheck under the lock always sees fresh writes.
type Service struct {
	dealRepo      deal.Repository
	partyRepo     deal.PartyRepository
	contractRepo  deal.ContractRepository
	milestoneRepo countingMilestoneRepo
	auditSvc      AuditLogger
	notifier      Notifier
	logger        zerolog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*dealLock
}

// countingMilestoneRepo is the slice of the milestone repository the
// activation check needs.
type countingMilestoneRepo interface {
	CountByContract(ctx context.Context, contractID uuid.UUID) (int, error)
	CountNotApproved(ctx context.Context, contractID uuid.UUID) (int, error)
}

type dealLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates an activation service.
func NewService(
	dealRepo deal.Repository,
	partyRepo deal.PartyRepository,
	contractRepo deal.ContractRepository,
	milestoneRepo countingMilestoneRepo,
	auditSvc AuditLogger,
	notifier Notifier,
	logger zerolog.Logger,
) *Service {
	return &Service{
		dealRepo:      dealRepo,
		partyRepo:     partyRepo,
		contractRepo:  contractRepo,
		milestoneRepo: milestoneRepo,
		auditSvc:      auditSvc,
		notifier:      notifier,
		logger:        logger.With().Str("service", "activation").Logger(),
		locks:         make(map[uuid.UUID]*dealLock),
	}
}

func (s *Service) acquire(dealID uuid.UUID) *dealLock {
	s.mu.Lock()
	l, ok := s.locks[dealID]
	if !ok {
		l = &dealLock{}
		s.locks[dealID] = l
	}
	l.refs++
	s.mu.Unlock()
	l.mu.Lock()
	return l
}

func (s *Service) release(dealID uuid.UUID, l *dealLock) {
	l.mu.Unlock()
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, dealID)
	}
	s.mu.Unlock()
}

// CheckAndActivate is the single authority for the
// INVITED/PENDING_NEGOTIATION -> ACCEPTED transition. Safe to call
// redundantly from any trigger path: already-activated deals are a no-op.
func (s *Service) CheckAndActivate(ctx context.Context, dealID uuid.UUID, actor string) (*Result, error) {
	l := s.acquire(dealID)
	defer s.release(dealID, l)

	d, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, deal.ErrDealNotFound
	}

	if d.Status.ActivatedOrLater() {
		// CANCELLED and DISPUTED are reachable without ever activating;
		// report the actual status instead of claiming activation.
		reason := "already activated"
		if d.Status == deal.StatusCancelled || d.Status == deal.StatusDisputed {
			reason = fmt.Sprintf("deal is %s", d.Status)
		}
		return &Result{Activated: false, Status: d.Status, Reason: reason}, nil
	}
	if d.Status == deal.StatusCreated {
		return &Result{Activated: false, Status: d.Status, Reason: "invitations not sent"}, nil
	}

	notAccepted, err := s.partyRepo.CountNotAccepted(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if notAccepted > 0 {
		return &Result{
			Activated: false,
			Status:    d.Status,
			Reason:    fmt.Sprintf("waiting for %d parties", notAccepted),
		}, nil
	}

	// Milestone gate applies only to the effective contract. No effective
	// contract, or an effective contract with zero milestones, is vacuously
	// negotiated.
	effective, err := s.contractRepo.GetEffective(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if effective != nil {
		total, err := s.milestoneRepo.CountByContract(ctx, effective.ContractID)
		if err != nil {
			return nil, err
		}
		if total > 0 {
			notApproved, err := s.milestoneRepo.CountNotApproved(ctx, effective.ContractID)
			if err != nil {
				return nil, err
			}
			if notApproved > 0 {
				if d.Status != deal.StatusPendingNegotiation {
					if _, err := s.transitionLocked(ctx, d, deal.StatusPendingNegotiation, false, actor, "awaiting milestone consensus"); err != nil {
						return nil, err
					}
				}
				return &Result{
					Activated: false,
					Status:    deal.StatusPendingNegotiation,
					Reason:    fmt.Sprintf("waiting for %d milestones", notApproved),
				}, nil
			}
		}
	}

	if err := deal.ValidateTransition(d.Status, deal.StatusAccepted); err != nil {
		s.logger.Error().
			Str("dealId", dealID.String()).
			Str("from", string(d.Status)).
			Msg("activation blocked by transition table")
		return nil, err
	}
	oldStatus := d.Status
	if err := s.dealRepo.UpdateStatus(ctx, dealID, deal.StatusAccepted, true); err != nil {
		return nil, err
	}
	d.Status = deal.StatusAccepted
	d.AllPartiesConfirmed = true
	now := time.Now().UTC()
	d.ActivatedAt = &now

	old := string(oldStatus)
	s.auditSvc.Log(ctx, &audit.Entry{
		DealID:     &d.DealID,
		EventType:  audit.EventDealActivated,
		EntityType: audit.EntityTypeDeal,
		EntityID:   d.DealID.String(),
		Actor:      actor,
		OldState:   &old,
		NewState:   string(deal.StatusAccepted),
		Reason:     "all parties accepted and all milestones approved",
	})
	s.notifier.EnqueueDealEvent(ctx, d.DealID, notification.KindDealActivated,
		"Deal activated",
		fmt.Sprintf("Deal %s is now active", d.Number),
		map[string]interface{}{
			"dealId":     d.DealID.String(),
			"dealNumber": d.Number,
			"status":     string(d.Status),
		})

	s.logger.Info().
		Str("dealId", dealID.String()).
		Str("dealNumber", d.Number).
		Str("from", old).
		Msg("deal activated")

	return &Result{Activated: true, Status: deal.StatusAccepted}, nil
}

// Transition applies a lifecycle transition. Already-in-target-state is a
// successful no-op; anything not in the transition table fails with
// deal.TransitionError.
func (s *Service) Transition(ctx context.Context, dealID uuid.UUID, to deal.Status, actor, reason string) (*deal.Deal, error) {
	l := s.acquire(dealID)
	defer s.release(dealID, l)

	d, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, deal.ErrDealNotFound
	}
	return s.transitionLocked(ctx, d, to, d.AllPartiesConfirmed, actor, reason)
}

// transitionLocked writes a status change under the caller-held deal lock.
func (s *Service) transitionLocked(ctx context.Context, d *deal.Deal, to deal.Status, allPartiesConfirmed bool, actor, reason string) (*deal.Deal, error) {
	if d.Status == to {
		return d, nil
	}
	if err := deal.ValidateTransition(d.Status, to); err != nil {
		s.logger.Error().
			Str("dealId", d.DealID.String()).
			Str("from", string(d.Status)).
			Str("to", string(to)).
			Msg("invalid deal status transition attempted")
		return nil, err
	}
	if err := s.dealRepo.UpdateStatus(ctx, d.DealID, to, allPartiesConfirmed); err != nil {
		return nil, err
	}
	old := string(d.Status)
	d.Status = to
	d.AllPartiesConfirmed = allPartiesConfirmed

	s.auditSvc.Log(ctx, &audit.Entry{
		DealID:     &d.DealID,
		EventType:  audit.EventDealStatusChanged,
		EntityType: audit.EntityTypeDeal,
		EntityID:   d.DealID.String(),
		Actor:      actor,
		OldState:   &old,
		NewState:   string(to),
		Reason:     reason,
	})

	kind := notification.KindDealStatusChanged
	title := "Deal status changed"
	if to == deal.StatusPendingNegotiation {
		kind = notification.KindDealNegotiation
		title = "Deal entered negotiation"
	}
	s.notifier.EnqueueDealEvent(ctx, d.DealID, kind, title,
		fmt.Sprintf("Deal %s moved from %s to %s", d.Number, old, to),
		map[string]interface{}{
			"dealId":     d.DealID.String(),
			"dealNumber": d.Number,
			"oldStatus":  old,
			"newStatus":  string(to),
			"reason":     reason,
		})

	s.logger.Info().
		Str("dealId", d.DealID.String()).
		Str("from", old).
		Str("to", string(to)).
		Str("actor", actor).
		Msg("deal status changed")

	return d, nil
}
