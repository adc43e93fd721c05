package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType represents the type of entity being audited.
type EntityType string

const (
	EntityTypeDeal      EntityType = "DEAL"
	EntityTypeParty     EntityType = "PARTY"
	EntityTypeContract  EntityType = "CONTRACT"
	EntityTypeMilestone EntityType = "MILESTONE"
	EntityTypeAccount   EntityType = "ACCOUNT"
)

// EventType represents the audited event.
type EventType string

const (
	EventPartyInvited       EventType = "PARTY_INVITED"
	EventPartyAccepted      EventType = "PARTY_ACCEPTED"
	EventPartyDeclined      EventType = "PARTY_DECLINED"
	EventMilestoneResponse  EventType = "MILESTONE_RESPONSE_SUBMITTED"
	EventMilestoneApproved  EventType = "MILESTONE_APPROVED"
	EventDealStatusChanged  EventType = "DEAL_STATUS_CHANGED"
	EventDealActivated      EventType = "DEAL_ACTIVATED"
	EventContractEffective  EventType = "CONTRACT_EFFECTIVE"
	EventAccountLogin       EventType = "ACCOUNT_LOGIN"
	EventAccountBootstrap   EventType = "ACCOUNT_BOOTSTRAP"
)

// RiskLevel classifies the audited operation.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// AuditLog represents a persisted audit record.
type AuditLog struct {
	ID         int64           `json:"id"`
	AuditID    uuid.UUID       `json:"auditId"`
	DealID     *uuid.UUID      `json:"dealId,omitempty"`
	EventType  EventType       `json:"eventType"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Actor      string          `json:"actor"`
	ActorRoles []string        `json:"actorRoles,omitempty"`
	OldState   *string         `json:"oldState,omitempty"`
	NewState   string          `json:"newState"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	RiskLevel  RiskLevel       `json:"riskLevel"`
	Signature  []byte          `json:"signature,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Entry is the input for creating an audit record.
type Entry struct {
	DealID     *uuid.UUID
	EventType  EventType
	EntityType EntityType
	EntityID   string
	Actor      string
	ActorRoles []string
	OldState   *string
	NewState   string
	Metadata   interface{}
	Reason     string
}

// QueryFilter represents filters for querying audit records.
type QueryFilter struct {
	DealID     *uuid.UUID
	EventType  *EventType
	EntityType *EntityType
	EntityID   *string
	Actor      *string
	RiskLevel  *RiskLevel
	StartTime  *time.Time
	EndTime    *time.Time
}

// Cursor is a pagination cursor over (created_at, id).
type Cursor struct {
	CreatedAt time.Time `json:"ts"`
	ID        int64     `json:"id"`
}

// Repository defines persistence for audit records.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	GetByID(ctx context.Context, auditID uuid.UUID) (*AuditLog, error)
	Query(ctx context.Context, filter QueryFilter, cursor *Cursor, limit int) ([]*AuditLog, *Cursor, error)
	GetByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*AuditLog, error)
	Count(ctx context.Context, filter QueryFilter) (int64, error)
	VerifySignature(ctx context.Context, auditID uuid.UUID, key []byte) (bool, error)
}

// DetermineRiskLevel classifies events. Fund-custody adjacent transitions
// are the ones operators page on.
func DetermineRiskLevel(event EventType, newState string) RiskLevel {
	switch event {
	case EventDealStatusChanged:
		switch newState {
		case "RELEASED", "CANCELLED":
			return RiskLevelCritical
		case "FUNDED", "DISPUTED":
			return RiskLevelHigh
		default:
			return RiskLevelMedium
		}
	case EventDealActivated, EventContractEffective:
		return RiskLevelMedium
	case EventAccountBootstrap:
		return RiskLevelHigh
	default:
		return RiskLevelLow
	}
}

// NewAuditLog creates an AuditLog from an Entry.
func NewAuditLog(entry *Entry) (*AuditLog, error) {
	log := &AuditLog{
		AuditID:    uuid.New(),
		DealID:     entry.DealID,
		EventType:  entry.EventType,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Actor:      entry.Actor,
		ActorRoles: entry.ActorRoles,
		OldState:   entry.OldState,
		NewState:   entry.NewState,
		Reason:     entry.Reason,
		RiskLevel:  DetermineRiskLevel(entry.EventType, entry.NewState),
		CreatedAt:  time.Now().UTC(),
	}
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, err
		}
		log.Metadata = data
	}
	return log, nil
}
