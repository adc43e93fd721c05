package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
	"github.com/escrow-hub/escrow-hub/internal/domain/rule"
)

// DealGroup is the SSE group name every deal-scoped notification targets.
func DealGroup(dealID uuid.UUID) string {
	return "deal:" + dealID.String()
}

// Service enqueues and dispatches notification jobs. The consensus engine
// calls EnqueueDealEvent and never observes delivery outcomes.
type Service struct {
	notificationRepo notification.Repository
	ruleRepo         rule.Repository
	dealRepo         deal.Repository
	sseHub           notification.SSEHub
	ttl              time.Duration
	logger           zerolog.Logger
}

// NewService creates a notification service.
func NewService(
	notificationRepo notification.Repository,
	ruleRepo rule.Repository,
	dealRepo deal.Repository,
	sseHub notification.SSEHub,
	ttl time.Duration,
	logger zerolog.Logger,
) *Service {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Service{
		notificationRepo: notificationRepo,
		ruleRepo:         ruleRepo,
		dealRepo:         dealRepo,
		sseHub:           sseHub,
		ttl:              ttl,
		logger:           logger.With().Str("service", "notification").Logger(),
	}
}

// EnqueueDealEvent enqueues notification jobs for a deal event, fire and
// forget. Failures are logged; the triggering state transition has already
// happened and must not be affected.
func (s *Service) EnqueueDealEvent(ctx context.Context, dealID uuid.UUID, kind notification.EventKind, title, body string, payload map[string]interface{}) {
	go func() {
		if err := s.enqueue(context.Background(), dealID, kind, title, body, payload); err != nil {
			s.logger.Error().Err(err).
				Str("dealId", dealID.String()).
				Str("kind", string(kind)).
				Msg("failed to enqueue deal event notifications")
		}
	}()
}

func (s *Service) enqueue(ctx context.Context, dealID uuid.UUID, kind notification.EventKind, title, body string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("dealId", dealID.String()).Msg("failed to marshal notification payload, using empty")
		data = []byte("{}")
	}

	priority := defaultPriority(kind)
	expiry := time.Now().UTC().Add(s.ttl)

	// One job for everyone watching the deal.
	group := DealGroup(dealID)
	n := notification.NewNotification(dealID, kind, notification.ChannelSSE, priority, title, body, data)
	n.SetTarget(nil, &group)
	n.SetExpiry(expiry)
	if err := s.notificationRepo.Create(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	// A declined invitation additionally notifies the deal creator directly.
	if kind == notification.KindPartyResponded {
		if decision, ok := payload["decision"].(string); ok && decision == string(deal.InvitationDeclined) {
			if err := s.enqueueForCreator(ctx, dealID, kind, title, body, data, expiry); err != nil {
				s.logger.Warn().Err(err).Str("dealId", dealID.String()).Msg("failed to notify deal creator")
			}
		}
	}

	// Routing rules may add recipients or raise priority.
	rules, err := s.ruleRepo.ListEnabledByKind(ctx, kind)
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", string(kind)).Msg("failed to load routing rules")
		return nil
	}
	for _, r := range rules {
		matched, err := EvaluateCondition(r.Condition, data)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("ruleId", r.RuleID.String()).
				Msg("routing rule condition failed to evaluate")
			continue
		}
		if !matched {
			continue
		}
		p := priority
		if r.Priority != nil {
			p = *r.Priority
		}
		extra := notification.NewNotification(dealID, kind, notification.ChannelSSE, p, title, body, data)
		extra.SetTarget(nil, r.TargetGroup)
		extra.SetExpiry(expiry)
		if err := s.notificationRepo.Create(ctx, extra); err != nil {
			s.logger.Warn().Err(err).
				Str("ruleId", r.RuleID.String()).
				Msg("failed to create rule-routed notification")
		}
	}

	s.logger.Debug().
		Str("dealId", dealID.String()).
		Str("kind", string(kind)).
		Int("rules", len(rules)).
		Msg("deal event notifications enqueued")
	return nil
}

func (s *Service) enqueueForCreator(ctx context.Context, dealID uuid.UUID, kind notification.EventKind, title, body string, data json.RawMessage, expiry time.Time) error {
	d, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		return err
	}
	if d == nil {
		return deal.ErrDealNotFound
	}
	accountID := d.CreatedBy.String()
	n := notification.NewNotification(dealID, kind, notification.ChannelSSE, notification.PriorityHigh, title, body, data)
	n.SetTarget(&accountID, nil)
	n.SetExpiry(expiry)
	return s.notificationRepo.Create(ctx, n)
}

func defaultPriority(kind notification.EventKind) notification.Priority {
	switch kind {
	case notification.KindDealActivated, notification.KindDealStatusChanged:
		return notification.PriorityHigh
	case notification.KindMilestoneApproved, notification.KindDealNegotiation:
		return notification.PriorityMedium
	default:
		return notification.PriorityLow
	}
}

// Send dispatches one notification through its channel.
func (s *Service) Send(ctx context.Context, notificationID uuid.UUID) error {
	n, err := s.notificationRepo.GetByID(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("failed to get notification: %w", err)
	}
	if n == nil {
		return fmt.Errorf("notification not found: %s", notificationID)
	}

	if n.IsExpired() {
		n.Status = notification.StatusExpired
		if err := s.notificationRepo.Update(ctx, n); err != nil {
			s.logger.Warn().
				Str("notificationId", n.NotificationID.String()).
				Err(err).
				Msg("failed to persist expired status")
		}
		return notification.ErrExpired
	}

	// Persist SENT before dispatching.
	if err := n.MarkSent(); err != nil {
		return fmt.Errorf("failed to mark notification as sent: %w", err)
	}
	if err := s.notificationRepo.Update(ctx, n); err != nil {
		return fmt.Errorf("failed to persist sent status: %w", err)
	}

	var sendErr error
	switch n.Channel {
	case notification.ChannelSSE:
		sendErr = s.sendViaSSE(n)
	default:
		sendErr = fmt.Errorf("unsupported channel: %s", n.Channel)
	}

	if sendErr != nil {
		if err := n.MarkFailed(sendErr.Error()); err != nil {
			s.logger.Warn().
				Str("notificationId", n.NotificationID.String()).
				Err(err).
				Msg("failed to mark notification failed")
		}
		s.logger.Warn().
			Str("notificationId", n.NotificationID.String()).
			Err(sendErr).
			Int("retryCount", n.RetryCount).
			Msg("notification send failed")
	} else {
		if err := n.MarkDelivered(); err != nil {
			s.logger.Warn().
				Str("notificationId", n.NotificationID.String()).
				Err(err).
				Msg("failed to mark notification delivered")
		}
	}

	if err := s.notificationRepo.Update(ctx, n); err != nil {
		s.logger.Error().
			Str("notificationId", n.NotificationID.String()).
			Err(err).
			Msg("failed to persist final notification state")
		return err
	}
	return sendErr
}

func (s *Service) sendViaSSE(n *notification.Notification) error {
	msg := notification.NewSSEMessage(string(n.Kind), n.Payload)
	switch {
	case n.TargetAccountID != nil:
		s.sseHub.BroadcastToAccount(*n.TargetAccountID, msg)
	case n.TargetGroup != nil:
		s.sseHub.BroadcastToGroup(*n.TargetGroup, msg)
	default:
		s.sseHub.BroadcastToAll(msg)
	}
	return nil
}

// ProcessPending dispatches pending notifications, oldest first.
func (s *Service) ProcessPending(ctx context.Context, limit int) (int, error) {
	notifications, err := s.notificationRepo.ListPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending notifications: %w", err)
	}

	processed := 0
	for _, n := range notifications {
		if err := s.Send(ctx, n.NotificationID); err != nil {
			s.logger.Warn().
				Str("notificationId", n.NotificationID.String()).
				Err(err).
				Msg("failed to send pending notification")
			continue
		}
		processed++
	}
	return processed, nil
}

// ProcessRetryable re-dispatches failed notifications with retries left.
func (s *Service) ProcessRetryable(ctx context.Context, limit int) (int, error) {
	notifications, err := s.notificationRepo.ListRetryable(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable notifications: %w", err)
	}

	retried := 0
	for _, n := range notifications {
		if err := n.ResetForRetry(); err != nil {
			s.logger.Warn().
				Str("notificationId", n.NotificationID.String()).
				Err(err).
				Msg("failed to reset notification for retry")
			continue
		}
		if err := s.notificationRepo.Update(ctx, n); err != nil {
			s.logger.Error().
				Str("notificationId", n.NotificationID.String()).
				Err(err).
				Msg("failed to persist notification reset state")
			continue
		}
		if err := s.Send(ctx, n.NotificationID); err != nil {
			s.logger.Warn().
				Str("notificationId", n.NotificationID.String()).
				Err(err).
				Int("retryCount", n.RetryCount).
				Msg("retry failed")
			continue
		}
		retried++
	}
	return retried, nil
}

// Expire marks pending notifications past their expiry.
func (s *Service) Expire(ctx context.Context) (int64, error) {
	return s.notificationRepo.ExpirePending(ctx)
}

// Get retrieves a notification by ID.
func (s *Service) Get(ctx context.Context, notificationID uuid.UUID) (*notification.Notification, error) {
	n, err := s.notificationRepo.GetByID(ctx, notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	if n == nil {
		return nil, fmt.Errorf("notification not found: %s", notificationID)
	}
	return n, nil
}

// List lists notifications with filters.
func (s *Service) List(ctx context.Context, filter notification.Filter, limit, offset int) ([]*notification.Notification, error) {
	return s.notificationRepo.List(ctx, filter, limit, offset)
}

// ListByDeal retrieves notifications for a deal.
func (s *Service) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*notification.Notification, error) {
	return s.notificationRepo.GetByDealID(ctx, dealID)
}

// ClientCount returns the number of connected SSE clients.
func (s *Service) ClientCount() int {
	return s.sseHub.GetClientCount()
}

// CreateRule validates and persists a routing rule.
func (s *Service) CreateRule(ctx context.Context, r *rule.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Condition != "" {
		if _, err := govaluate.NewEvaluableExpression(r.Condition); err != nil {
			return fmt.Errorf("invalid rule condition: %w", err)
		}
	}
	r.RuleID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	return s.ruleRepo.Create(ctx, r)
}

// ListRules lists routing rules.
func (s *Service) ListRules(ctx context.Context, limit, offset int) ([]*rule.Rule, error) {
	return s.ruleRepo.List(ctx, limit, offset)
}

// SetRuleEnabled toggles a routing rule.
func (s *Service) SetRuleEnabled(ctx context.Context, ruleID uuid.UUID, enabled bool) error {
	return s.ruleRepo.SetEnabled(ctx, ruleID, enabled)
}
