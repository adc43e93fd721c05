package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domain "github.com/escrow-hub/escrow-hub/internal/domain/account"
)

// Service handles account management.
type Service struct {
	repo   domain.Repository
	logger zerolog.Logger
}

// NewService creates an account service.
func NewService(repo domain.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "account").Logger(),
	}
}

// CreateInput defines account creation input.
type CreateInput struct {
	Username    string
	Password    string
	DisplayName string
	Email       string
	Role        domain.Role
	Status      domain.Status
}

// UpdateInput defines account update input.
type UpdateInput struct {
	DisplayName *string
	Email       *string
	Role        *domain.Role
	Status      *domain.Status
}

func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Account, error) {
	username := domain.NormalizeUsername(input.Username)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(input.Password, username); err != nil {
		return nil, err
	}
	if err := domain.ValidateRole(input.Role); err != nil {
		return nil, err
	}
	if input.Status == "" {
		input.Status = domain.StatusActive
	}
	if err := domain.ValidateStatus(input.Status); err != nil {
		return nil, err
	}

	hash, err := domain.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	a := &domain.Account{
		AccountID:    uuid.New(),
		Username:     username,
		PasswordHash: hash,
		DisplayName:  input.DisplayName,
		Email:        input.Email,
		Role:         input.Role,
		Status:       input.Status,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info().Str("account_id", a.AccountID.String()).Str("username", a.Username).Msg("account created")
	return a, nil
}

// Bootstrap creates the first admin account when none exist.
func (s *Service) Bootstrap(ctx context.Context, username, password string) (*domain.Account, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("accounts already exist")
	}
	return s.Create(ctx, CreateInput{
		Username: username,
		Password: password,
		Role:     domain.RoleAdmin,
	})
}

func (s *Service) Update(ctx context.Context, accountID uuid.UUID, input UpdateInput) (*domain.Account, error) {
	a, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("account not found: %s", accountID)
	}
	if input.DisplayName != nil {
		a.DisplayName = *input.DisplayName
	}
	if input.Email != nil {
		a.Email = *input.Email
	}
	if input.Role != nil {
		if err := domain.ValidateRole(*input.Role); err != nil {
			return nil, err
		}
		a.Role = *input.Role
	}
	if input.Status != nil {
		if err := domain.ValidateStatus(*input.Status); err != nil {
			return nil, err
		}
		a.Status = *input.Status
	}
	a.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) SetPassword(ctx context.Context, accountID uuid.UUID, password string) error {
	a, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("account not found: %s", accountID)
	}
	if err := domain.ValidatePassword(password, a.Username); err != nil {
		return err
	}
	hash, err := domain.HashPassword(password)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	a.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, a)
}

func (s *Service) Get(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.GetByID(ctx, accountID)
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return s.repo.GetByUsername(ctx, domain.NormalizeUsername(username))
}

func (s *Service) List(ctx context.Context, filter domain.Filter, limit, offset int) ([]*domain.Account, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}
