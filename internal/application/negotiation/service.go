package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/application/activation"
	"github.com/escrow-hub/escrow-hub/internal/domain/audit"
	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
	"github.com/escrow-hub/escrow-hub/internal/domain/milestone"
	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
)

// SubmitInput carries one party's response to a milestone.
type SubmitInput struct {
	Type     milestone.ResponseType
	Proposal json.RawMessage
	Comment  *string
}

// SubmitResult reports a recorded milestone response.
type SubmitResult struct {
	Response  *milestone.PartyResponse `json:"response"`
	OldStatus milestone.Status         `json:"oldStatus"`
	NewStatus milestone.Status         `json:"newStatus"`
	Summary   milestone.Summary        `json:"summary"`
}

// ResponsesResult is the live response set plus its summary.
type ResponsesResult struct {
	Responses []*milestone.PartyResponse `json:"responses"`
	Summary   milestone.Summary          `json:"summary"`
}

// Actor is the authenticated identity submitting on behalf of a party.
type Actor struct {
	AccountID uuid.UUID
	Username  string
}

func (a Actor) String() string {
	return "account:" + a.Username
}

// Service runs unanimity-with-veto consensus over milestone responses.
type Service struct {
	milestoneRepo milestone.Repository
	partyRepo     deal.PartyRepository
	dealRepo      deal.Repository
	contractRepo  deal.ContractRepository
	activationSvc *activation.Service
	auditSvc      activation.AuditLogger
	notifier      activation.Notifier
	logger        zerolog.Logger
}

// NewService creates a negotiation service.
func NewService(
	milestoneRepo milestone.Repository,
	partyRepo deal.PartyRepository,
	dealRepo deal.Repository,
	contractRepo deal.ContractRepository,
	activationSvc *activation.Service,
	auditSvc activation.AuditLogger,
	notifier activation.Notifier,
	logger zerolog.Logger,
) *Service {
	return &Service{
		milestoneRepo: milestoneRepo,
		partyRepo:     partyRepo,
		dealRepo:      dealRepo,
		contractRepo:  contractRepo,
		activationSvc: activationSvc,
		auditSvc:      auditSvc,
		notifier:      notifier,
		logger:        logger.With().Str("service", "negotiation").Logger(),
	}
}

// SubmitResponse upserts a party's response to a milestone and recomputes the
// milestone's aggregate status. A later submission from the same party
// replaces the earlier one; parties may flip freely until the milestone is
// APPROVED.
//
// The transition into APPROVED fans out exactly one approval notification
// (guarded by old vs new status) and then asks the activation service whether
// the deal as a whole is ready.
func (s *Service) SubmitResponse(ctx context.Context, milestoneID, partyID uuid.UUID, actor Actor, input SubmitInput) (*SubmitResult, error) {
	if err := milestone.ValidateResponseType(input.Type); err != nil {
		return nil, err
	}
	if input.Type == milestone.ResponseAmendmentProposed && len(input.Proposal) == 0 {
		return nil, milestone.ErrProposalMissing
	}

	ms, err := s.milestoneRepo.GetByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if ms == nil {
		return nil, milestone.ErrNotFound
	}

	p, err := s.partyRepo.GetByID(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, deal.ErrPartyNotFound
	}
	if p.DealID != ms.DealID {
		return nil, deal.ErrPartyNotInDeal
	}
	isMember, err := s.partyRepo.IsMember(ctx, partyID, actor.AccountID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, deal.ErrNotPartyMember
	}

	if ms.Status == milestone.StatusApproved {
		return nil, milestone.ErrAlreadyApproved
	}

	// Only milestones of the effective contract are negotiable. Draft
	// versions stay inert until marked effective.
	c, err := s.contractRepo.GetByID(ctx, ms.ContractID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, deal.ErrContractNotFound
	}
	if !c.IsEffective {
		return nil, deal.ErrContractNotEffective
	}

	resp := &milestone.PartyResponse{
		ResponseID:  uuid.New(),
		MilestoneID: milestoneID,
		PartyID:     partyID,
		Type:        input.Type,
		Proposal:    input.Proposal,
		Comment:     input.Comment,
		SubmittedBy: actor.String(),
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.milestoneRepo.UpsertResponse(ctx, resp); err != nil {
		return nil, err
	}

	partyCount, err := s.partyRepo.CountByDeal(ctx, ms.DealID)
	if err != nil {
		return nil, err
	}
	responses, err := s.milestoneRepo.ListResponses(ctx, milestoneID)
	if err != nil {
		return nil, err
	}

	oldStatus := ms.Status
	newStatus := milestone.DeriveStatus(responses, partyCount)
	if newStatus != oldStatus {
		if err := s.milestoneRepo.UpdateStatus(ctx, milestoneID, newStatus); err != nil {
			return nil, err
		}
		ms.Status = newStatus
	}
	summary := milestone.Summarize(responses, partyCount)

	old := string(oldStatus)
	s.auditSvc.Log(ctx, &audit.Entry{
		DealID:     &ms.DealID,
		EventType:  audit.EventMilestoneResponse,
		EntityType: audit.EntityTypeMilestone,
		EntityID:   milestoneID.String(),
		Actor:      actor.String(),
		OldState:   &old,
		NewState:   string(newStatus),
		Metadata: map[string]interface{}{
			"partyId":      partyID.String(),
			"responseType": string(input.Type),
			"accepted":     summary.Accepted,
			"total":        summary.Total,
		},
	})
	s.notifier.EnqueueDealEvent(ctx, ms.DealID, notification.KindMilestoneResponse,
		"Milestone response received",
		fmt.Sprintf("%s responded %s to milestone %q (%d/%d accepted)", p.Name, input.Type, ms.Title, summary.Accepted, summary.Total),
		map[string]interface{}{
			"dealId":       ms.DealID.String(),
			"milestoneId":  milestoneID.String(),
			"partyId":      partyID.String(),
			"responseType": string(input.Type),
			"status":       string(newStatus),
			"accepted":     summary.Accepted,
			"total":        summary.Total,
		})

	s.logger.Info().
		Str("milestoneId", milestoneID.String()).
		Str("partyId", partyID.String()).
		Str("responseType", string(input.Type)).
		Str("status", string(newStatus)).
		Msg("milestone response recorded")

	if newStatus == milestone.StatusApproved && oldStatus != milestone.StatusApproved {
		s.auditSvc.Log(ctx, &audit.Entry{
			DealID:     &ms.DealID,
			EventType:  audit.EventMilestoneApproved,
			EntityType: audit.EntityTypeMilestone,
			EntityID:   milestoneID.String(),
			Actor:      actor.String(),
			OldState:   &old,
			NewState:   string(milestone.StatusApproved),
			Reason:     "all parties accepted",
		})
		s.notifier.EnqueueDealEvent(ctx, ms.DealID, notification.KindMilestoneApproved,
			"Milestone approved",
			fmt.Sprintf("Milestone %q approved unanimously", ms.Title),
			map[string]interface{}{
				"dealId":      ms.DealID.String(),
				"milestoneId": milestoneID.String(),
				"total":       summary.Total,
			})

		if _, err := s.activationSvc.CheckAndActivate(ctx, ms.DealID, actor.String()); err != nil {
			return nil, fmt.Errorf("activation check failed: %w", err)
		}
	}

	return &SubmitResult{
		Response:  resp,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Summary:   summary,
	}, nil
}

// GetResponses returns the live responses and summary for a milestone.
func (s *Service) GetResponses(ctx context.Context, milestoneID uuid.UUID) (*ResponsesResult, error) {
	ms, err := s.milestoneRepo.GetByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if ms == nil {
		return nil, milestone.ErrNotFound
	}
	responses, err := s.milestoneRepo.ListResponses(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	partyCount, err := s.partyRepo.CountByDeal(ctx, ms.DealID)
	if err != nil {
		return nil, err
	}
	return &ResponsesResult{
		Responses: responses,
		Summary:   milestone.Summarize(responses, partyCount),
	}, nil
}

// GetMilestone returns a milestone by public ID.
func (s *Service) GetMilestone(ctx context.Context, milestoneID uuid.UUID) (*milestone.Milestone, error) {
	ms, err := s.milestoneRepo.GetByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if ms == nil {
		return nil, milestone.ErrNotFound
	}
	return ms, nil
}

// ListMilestones returns the milestones of a contract ordered by sequence.
func (s *Service) ListMilestones(ctx context.Context, contractID uuid.UUID) ([]*milestone.Milestone, error) {
	return s.milestoneRepo.ListByContract(ctx, contractID)
}
