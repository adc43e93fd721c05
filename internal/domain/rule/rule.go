package rule

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
)

// Rule routes deal-event notifications. When its condition evaluates true
// against the event payload, the rule adds a recipient group and may raise
// the notification priority.
type Rule struct {
	ID          int64                 `json:"id"`
	RuleID      uuid.UUID             `json:"ruleId"`
	Kind        notification.EventKind `json:"kind"`
	Condition   string                `json:"condition"`
	TargetGroup *string               `json:"targetGroup,omitempty"`
	Priority    *notification.Priority `json:"priority,omitempty"`
	Enabled     bool                  `json:"enabled"`
	CreatedBy   string                `json:"createdBy"`
	CreatedAt   time.Time             `json:"createdAt"`
}

// Validate checks rule fields before persistence.
func (r *Rule) Validate() error {
	if r.Kind == "" {
		return errors.New("rule kind is required")
	}
	if r.TargetGroup == nil && r.Priority == nil {
		return errors.New("rule must set a target group or a priority")
	}
	if r.TargetGroup != nil && strings.TrimSpace(*r.TargetGroup) == "" {
		return errors.New("target group must not be blank")
	}
	return nil
}

// Repository defines persistence for notification routing rules.
type Repository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, ruleID uuid.UUID) (*Rule, error)
	ListEnabledByKind(ctx context.Context, kind notification.EventKind) ([]*Rule, error)
	List(ctx context.Context, limit, offset int) ([]*Rule, error)
	SetEnabled(ctx context.Context, ruleID uuid.UUID, enabled bool) error
}
