package deal

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/application/activation"
	"github.com/escrow-hub/escrow-hub/internal/domain/audit"
	domainDeal "github.com/escrow-hub/escrow-hub/internal/domain/deal"
	"github.com/escrow-hub/escrow-hub/internal/domain/milestone"
	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
)

// CreateInput describes a new deal.
type CreateInput struct {
	Title       string
	Description string
}

// PartyInput describes a party to add to a deal.
type PartyInput struct {
	Name         string
	Role         domainDeal.PartyRole
	ContactEmail string
}

// MilestoneInput describes one milestone of a new contract version.
type MilestoneInput struct {
	Order       int
	Title       string
	Description string
	Amount      *int64
	Currency    *string
	Details     json.RawMessage
}

// ContractInput describes a new contract version with its milestones.
type ContractInput struct {
	Terms      json.RawMessage
	Milestones []MilestoneInput
}

// Service owns the deal lifecycle outside of consensus: creation, party
// management, invitation send, contract versioning, and the post-activation
// custody operations. All status writes funnel through the activation
// service.
type Service struct {
	dealRepo      domainDeal.Repository
	partyRepo     domainDeal.PartyRepository
	contractRepo  domainDeal.ContractRepository
	milestoneRepo milestone.Repository
	activationSvc *activation.Service
	auditSvc      activation.AuditLogger
	notifier      activation.Notifier
	logger        zerolog.Logger
}

// NewService creates a deal service.
func NewService(
	dealRepo domainDeal.Repository,
	partyRepo domainDeal.PartyRepository,
	contractRepo domainDeal.ContractRepository,
	milestoneRepo milestone.Repository,
	activationSvc *activation.Service,
	auditSvc activation.AuditLogger,
	notifier activation.Notifier,
	logger zerolog.Logger,
) *Service {
	return &Service{
		dealRepo:      dealRepo,
		partyRepo:     partyRepo,
		contractRepo:  contractRepo,
		milestoneRepo: milestoneRepo,
		activationSvc: activationSvc,
		auditSvc:      auditSvc,
		notifier:      notifier,
		logger:        logger.With().Str("service", "deal").Logger(),
	}
}

// Create creates a deal in CREATED status with a fresh sequence number.
func (s *Service) Create(ctx context.Context, input CreateInput, createdBy uuid.UUID, actor string) (*domainDeal.Deal, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("deal title is required")
	}
	seq, err := s.dealRepo.NextSequence(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	d := &domainDeal.Deal{
		DealID:      uuid.New(),
		Number:      domainDeal.FormatNumber(now.Year(), seq),
		Title:       input.Title,
		Description: input.Description,
		Status:      domainDeal.StatusCreated,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.dealRepo.Create(ctx, d); err != nil {
		return nil, err
	}

	s.auditSvc.Log(ctx, &audit.Entry{
		DealID:     &d.DealID,
		EventType:  audit.EventDealStatusChanged,
		EntityType: audit.EntityTypeDeal,
		EntityID:   d.DealID.String(),
		Actor:      actor,
		NewState:   string(domainDeal.StatusCreated),
		Reason:     "deal created",
	})

	s.logger.Info().
		Str("dealId", d.DealID.String()).
		Str("dealNumber", d.Number).
		Msg("deal created")
	return d, nil
}

// Get returns a deal by public ID.
func (s *Service) Get(ctx context.Context, dealID uuid.UUID) (*domainDeal.Deal, error) {
	d, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, domainDeal.ErrDealNotFound
	}
	return d, nil
}

// List returns deals matching the filter.
func (s *Service) List(ctx context.Context, filter domainDeal.Filter, limit, offset int) ([]*domainDeal.Deal, error) {
	return s.dealRepo.List(ctx, filter, limit, offset)
}

// AddParty adds a party to a deal still in CREATED status.
func (s *Service) AddParty(ctx context.Context, dealID uuid.UUID, input PartyInput) (*domainDeal.Party, error) {
	if err := domainDeal.ValidatePartyRole(input.Role); err != nil {
		return nil, err
	}
	if input.Name == "" {
		return nil, fmt.Errorf("party name is required")
	}
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if d.Status != domainDeal.StatusCreated {
		return nil, fmt.Errorf("parties can only be added before invitations are sent")
	}
	p := &domainDeal.Party{
		PartyID:          uuid.New(),
		DealID:           dealID,
		Name:             input.Name,
		Role:             input.Role,
		ContactEmail:     input.ContactEmail,
		InvitationStatus: domainDeal.InvitationPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.partyRepo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListParties returns the parties of a deal.
func (s *Service) ListParties(ctx context.Context, dealID uuid.UUID) ([]*domainDeal.Party, error) {
	return s.partyRepo.ListByDeal(ctx, dealID)
}

// AddPartyMember links an authenticated account to a party.
func (s *Service) AddPartyMember(ctx context.Context, partyID, accountID uuid.UUID, addedBy string) (*domainDeal.PartyMember, error) {
	p, err := s.partyRepo.GetByID(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domainDeal.ErrPartyNotFound
	}
	m := &domainDeal.PartyMember{
		PartyID:   partyID,
		AccountID: accountID,
		AddedBy:   &addedBy,
		AddedAt:   time.Now().UTC(),
	}
	if err := s.partyRepo.AddMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// SendInvitations issues fresh invitation tokens to every pending party and
// moves the deal CREATED -> INVITED. Returned parties carry the plaintext
// tokens for out-of-band delivery; tokens are not readable afterwards.
func (s *Service) SendInvitations(ctx context.Context, dealID uuid.UUID, actor string) ([]*domainDeal.Party, error) {
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	parties, err := s.partyRepo.ListByDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if len(parties) == 0 {
		return nil, fmt.Errorf("deal has no parties to invite")
	}

	now := time.Now().UTC()
	for _, p := range parties {
		if p.InvitationStatus != domainDeal.InvitationPending {
			continue
		}
		token, err := generateInvitationToken()
		if err != nil {
			return nil, err
		}
		if err := s.partyRepo.UpdateToken(ctx, p.PartyID, token, now); err != nil {
			return nil, err
		}
		p.InvitationToken = token
		p.InvitedAt = &now

		s.auditSvc.Log(ctx, &audit.Entry{
			DealID:     &d.DealID,
			EventType:  audit.EventPartyInvited,
			EntityType: audit.EntityTypeParty,
			EntityID:   p.PartyID.String(),
			Actor:      actor,
			NewState:   string(domainDeal.InvitationPending),
		})
	}

	if _, err := s.activationSvc.Transition(ctx, dealID, domainDeal.StatusInvited, actor, "invitations sent"); err != nil {
		return nil, err
	}

	s.notifier.EnqueueDealEvent(ctx, d.DealID, notification.KindPartyInvited,
		"Invitations sent",
		fmt.Sprintf("Invitations sent for deal %s to %d parties", d.Number, len(parties)),
		map[string]interface{}{
			"dealId":     d.DealID.String(),
			"dealNumber": d.Number,
			"parties":    len(parties),
		})
	return parties, nil
}

// CreateContract creates a new contract version with its milestones. The new
// version is not effective until MarkContractEffective.
func (s *Service) CreateContract(ctx context.Context, dealID uuid.UUID, input ContractInput, actor string) (*domainDeal.Contract, []*milestone.Milestone, error) {
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return nil, nil, err
	}
	version, err := s.contractRepo.NextVersion(ctx, dealID)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	c := &domainDeal.Contract{
		ContractID: uuid.New(),
		DealID:     dealID,
		Version:    version,
		Terms:      input.Terms,
		CreatedBy:  actor,
		CreatedAt:  now,
	}
	if err := s.contractRepo.Create(ctx, c); err != nil {
		return nil, nil, err
	}

	milestones := make([]*milestone.Milestone, 0, len(input.Milestones))
	for _, mi := range input.Milestones {
		m := &milestone.Milestone{
			MilestoneID: uuid.New(),
			ContractID:  c.ContractID,
			DealID:      dealID,
			Order:       mi.Order,
			Title:       mi.Title,
			Description: mi.Description,
			Amount:      mi.Amount,
			Currency:    mi.Currency,
			Status:      milestone.StatusPendingResponses,
			Details:     mi.Details,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.milestoneRepo.Create(ctx, m); err != nil {
			return nil, nil, err
		}
		milestones = append(milestones, m)
	}

	s.logger.Info().
		Str("dealId", d.DealID.String()).
		Str("contractId", c.ContractID.String()).
		Int("version", version).
		Int("milestones", len(milestones)).
		Msg("contract version created")
	return c, milestones, nil
}

// GetContracts returns all contract versions of a deal.
func (s *Service) GetContracts(ctx context.Context, dealID uuid.UUID) ([]*domainDeal.Contract, error) {
	return s.contractRepo.ListByDeal(ctx, dealID)
}

// MarkContractEffective atomically makes the given version the single
// effective contract of the deal, then rechecks activation: a contract with
// zero milestones may satisfy the negotiation gate immediately.
func (s *Service) MarkContractEffective(ctx context.Context, dealID, contractID uuid.UUID, actor string) (*domainDeal.Contract, error) {
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	c, err := s.contractRepo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.DealID != dealID {
		return nil, domainDeal.ErrContractNotFound
	}
	now := time.Now().UTC()
	if err := s.contractRepo.MarkEffective(ctx, dealID, contractID, now); err != nil {
		return nil, err
	}
	c.IsEffective = true
	c.EffectiveAt = &now

	s.auditSvc.Log(ctx, &audit.Entry{
		DealID:     &d.DealID,
		EventType:  audit.EventContractEffective,
		EntityType: audit.EntityTypeContract,
		EntityID:   c.ContractID.String(),
		Actor:      actor,
		NewState:   fmt.Sprintf("v%d effective", c.Version),
	})

	if d.Status == domainDeal.StatusInvited || d.Status == domainDeal.StatusPendingNegotiation {
		if _, err := s.activationSvc.CheckAndActivate(ctx, dealID, actor); err != nil {
			return nil, fmt.Errorf("activation check failed: %w", err)
		}
	}
	return c, nil
}

// CheckActivation re-runs the activation gate for a deal.
func (s *Service) CheckActivation(ctx context.Context, dealID uuid.UUID, actor string) (*activation.Result, error) {
	return s.activationSvc.CheckAndActivate(ctx, dealID, actor)
}

// Fund marks escrow funds received: ACCEPTED -> FUNDED.
func (s *Service) Fund(ctx context.Context, dealID uuid.UUID, actor, reason string) (*domainDeal.Deal, error) {
	return s.activationSvc.Transition(ctx, dealID, domainDeal.StatusFunded, actor, reason)
}

// Start begins execution: FUNDED -> IN_PROGRESS.
func (s *Service) Start(ctx context.Context, dealID uuid.UUID, actor, reason string) (*domainDeal.Deal, error) {
	return s.activationSvc.Transition(ctx, dealID, domainDeal.StatusInProgress, actor, reason)
}

// MarkReady signals completion of performance: IN_PROGRESS -> READY_TO_RELEASE.
func (s *Service) MarkReady(ctx context.Context, dealID uuid.UUID, actor, reason string) (*domainDeal.Deal, error) {
	return s.activationSvc.Transition(ctx, dealID, domainDeal.StatusReadyToRelease, actor, reason)
}

// Release releases escrowed funds: READY_TO_RELEASE -> RELEASED.
func (s *Service) Release(ctx context.Context, dealID uuid.UUID, actor, reason string) (*domainDeal.Deal, error) {
	return s.activationSvc.Transition(ctx, dealID, domainDeal.StatusReleased, actor, reason)
}

// Complete closes the deal: RELEASED -> COMPLETED.
func (s *Service) Complete(ctx context.Context, dealID uuid.UUID, actor, reason string) (*domainDeal.Deal, error) {
	return s.activationSvc.Transition(ctx, dealID, domainDeal.StatusCompleted, actor, reason)
}

// Dispute flags the deal: -> DISPUTED where the table allows.
func (s *Service) Dispute(ctx context.Context, dealID uuid.UUID, actor, reason string) (*domainDeal.Deal, error) {
	return s.activationSvc.Transition(ctx, dealID, domainDeal.StatusDisputed, actor, reason)
}

// Resolve returns a disputed deal to execution: DISPUTED -> IN_PROGRESS.
func (s *Service) Resolve(ctx context.Context, dealID uuid.UUID, actor, reason string) (*domainDeal.Deal, error) {
	return s.activationSvc.Transition(ctx, dealID, domainDeal.StatusInProgress, actor, reason)
}

// Cancel cancels the deal: -> CANCELLED where the table allows.
func (s *Service) Cancel(ctx context.Context, dealID uuid.UUID, actor, reason string) (*domainDeal.Deal, error) {
	return s.activationSvc.Transition(ctx, dealID, domainDeal.StatusCancelled, actor, reason)
}

func generateInvitationToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
