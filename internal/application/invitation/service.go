package invitation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/application/activation"
	"github.com/escrow-hub/escrow-hub/internal/domain/audit"
	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
)

// Result reports a recorded invitation decision.
type Result struct {
	Party            *deal.Party `json:"party"`
	AllAccepted      bool        `json:"allAccepted"`
	AlreadyResponded bool        `json:"alreadyResponded"`
}

// Service aggregates party invitation responses and decides when the group
// has unanimously accepted.
type Service struct {
	dealRepo      deal.Repository
	partyRepo     deal.PartyRepository
	activationSvc *activation.Service
	auditSvc      activation.AuditLogger
	notifier      activation.Notifier
	logger        zerolog.Logger
}

// NewService creates an invitation service.
func NewService(
	dealRepo deal.Repository,
	partyRepo deal.PartyRepository,
	activationSvc *activation.Service,
	auditSvc activation.AuditLogger,
	notifier activation.Notifier,
	logger zerolog.Logger,
) *Service {
	return &Service{
		dealRepo:      dealRepo,
		partyRepo:     partyRepo,
		activationSvc: activationSvc,
		auditSvc:      auditSvc,
		notifier:      notifier,
		logger:        logger.With().Str("service", "invitation").Logger(),
	}
}

// RecordResponse records a party's invitation decision, looked up by the
// out-of-band invitation token.
//
// DECLINED is terminal. Re-accepting while already ACCEPTED is an idempotent
// no-op that emits no new audit record or notification. The all-accepted
// check counts persisted parties at decision time; responses race across
// network calls, so request-local state is never trusted.
func (s *Service) RecordResponse(ctx context.Context, partyToken string, decision deal.InvitationStatus) (*Result, error) {
	p, err := s.partyRepo.GetByToken(ctx, partyToken)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, deal.ErrPartyNotFound
	}

	now := time.Now().UTC()
	prior := p.InvitationStatus
	if err := p.Respond(decision, now); err != nil {
		return nil, err
	}
	if prior == deal.InvitationAccepted && decision == deal.InvitationAccepted {
		allAccepted, err := s.allAccepted(ctx, p.DealID)
		if err != nil {
			return nil, err
		}
		return &Result{Party: p, AllAccepted: allAccepted, AlreadyResponded: true}, nil
	}

	if err := s.partyRepo.UpdateInvitation(ctx, p.PartyID, p.InvitationStatus, now); err != nil {
		return nil, err
	}

	allAccepted, err := s.allAccepted(ctx, p.DealID)
	if err != nil {
		return nil, err
	}

	eventType := audit.EventPartyAccepted
	if decision == deal.InvitationDeclined {
		eventType = audit.EventPartyDeclined
	}
	old := string(prior)
	s.auditSvc.Log(ctx, &audit.Entry{
		DealID:     &p.DealID,
		EventType:  eventType,
		EntityType: audit.EntityTypeParty,
		EntityID:   p.PartyID.String(),
		Actor:      "party:" + p.Name,
		OldState:   &old,
		NewState:   string(p.InvitationStatus),
	})
	s.notifyDecision(ctx, p, allAccepted)

	s.logger.Info().
		Str("dealId", p.DealID.String()).
		Str("partyId", p.PartyID.String()).
		Str("decision", string(p.InvitationStatus)).
		Bool("allAccepted", allAccepted).
		Msg("invitation response recorded")

	if allAccepted {
		if _, err := s.activationSvc.CheckAndActivate(ctx, p.DealID, "party:"+p.Name); err != nil {
			return nil, fmt.Errorf("activation check failed: %w", err)
		}
	}

	return &Result{Party: p, AllAccepted: allAccepted}, nil
}

// Resend reissues a fresh invitation token for a pending party.
func (s *Service) Resend(ctx context.Context, partyID uuid.UUID, actor string) (*deal.Party, error) {
	p, err := s.partyRepo.GetByID(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, deal.ErrPartyNotFound
	}
	switch p.InvitationStatus {
	case deal.InvitationDeclined:
		return nil, deal.ErrInvitationDeclined
	case deal.InvitationAccepted:
		return nil, deal.ErrInvitationAccepted
	}
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.partyRepo.UpdateToken(ctx, partyID, token, now); err != nil {
		return nil, err
	}
	p.InvitationToken = token
	p.InvitedAt = &now

	s.auditSvc.Log(ctx, &audit.Entry{
		DealID:     &p.DealID,
		EventType:  audit.EventPartyInvited,
		EntityType: audit.EntityTypeParty,
		EntityID:   p.PartyID.String(),
		Actor:      actor,
		NewState:   string(p.InvitationStatus),
		Reason:     "invitation resent",
	})
	return p, nil
}

// GetParty returns a party by public ID.
func (s *Service) GetParty(ctx context.Context, partyID uuid.UUID) (*deal.Party, error) {
	p, err := s.partyRepo.GetByID(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, deal.ErrPartyNotFound
	}
	return p, nil
}

func (s *Service) allAccepted(ctx context.Context, dealID uuid.UUID) (bool, error) {
	notAccepted, err := s.partyRepo.CountNotAccepted(ctx, dealID)
	if err != nil {
		return false, err
	}
	return notAccepted == 0, nil
}

func (s *Service) notifyDecision(ctx context.Context, p *deal.Party, allAccepted bool) {
	payload := map[string]interface{}{
		"dealId":      p.DealID.String(),
		"partyId":     p.PartyID.String(),
		"partyName":   p.Name,
		"decision":    string(p.InvitationStatus),
		"allAccepted": allAccepted,
	}
	title := "Party accepted invitation"
	body := fmt.Sprintf("%s accepted the deal invitation", p.Name)
	if p.InvitationStatus == deal.InvitationDeclined {
		title = "Party declined invitation"
		body = fmt.Sprintf("%s declined the deal invitation", p.Name)
	}
	s.notifier.EnqueueDealEvent(ctx, p.DealID, notification.KindPartyResponded, title, body, payload)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
