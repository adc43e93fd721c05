package notification

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the delivery status of a notification
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
)

// Channel represents the notification delivery channel
type Channel string

const (
	ChannelSSE     Channel = "SSE"
	ChannelWebhook Channel = "WEBHOOK"
	ChannelEmail   Channel = "EMAIL"
)

// Priority represents the notification priority
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// EventKind identifies which deal event produced the notification.
type EventKind string

const (
	KindPartyInvited      EventKind = "PARTY_INVITED"
	KindPartyResponded    EventKind = "PARTY_RESPONDED"
	KindMilestoneResponse EventKind = "MILESTONE_RESPONSE"
	KindMilestoneApproved EventKind = "MILESTONE_APPROVED"
	KindDealNegotiation   EventKind = "DEAL_NEGOTIATION"
	KindDealActivated     EventKind = "DEAL_ACTIVATED"
	KindDealStatusChanged EventKind = "DEAL_STATUS_CHANGED"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrExpired           = errors.New("notification has expired")
	ErrClientNotFound    = errors.New("SSE client not found")
	ErrChannelFull       = errors.New("SSE message channel full")
	ErrCannotRetry       = errors.New("cannot retry notification")
)

// Notification represents one logical notification job for one recipient.
// The engine enqueues it and never observes delivery success or failure.
type Notification struct {
	ID              int64           `json:"id"`
	NotificationID  uuid.UUID       `json:"notificationId"`
	DealID          uuid.UUID       `json:"dealId"`
	Kind            EventKind       `json:"kind"`
	DedupeKey       *string         `json:"dedupeKey,omitempty"`
	Channel         Channel         `json:"channel"`
	Priority        Priority        `json:"priority"`
	Title           string          `json:"title"`
	Body            string          `json:"body"`
	Payload         json.RawMessage `json:"payload"`
	Status          Status          `json:"status"`
	TargetAccountID *string         `json:"targetAccountId,omitempty"`
	TargetGroup     *string         `json:"targetGroup,omitempty"`
	RetryCount      int             `json:"retryCount"`
	MaxRetries      int             `json:"maxRetries"`
	LastError       *string         `json:"lastError,omitempty"`
	ExpiresAt       *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	SentAt          *time.Time      `json:"sentAt,omitempty"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	FailedAt        *time.Time      `json:"failedAt,omitempty"`
}

// NewNotification creates a new notification job
func NewNotification(
	dealID uuid.UUID,
	kind EventKind,
	channel Channel,
	priority Priority,
	title string,
	body string,
	payload json.RawMessage,
) *Notification {
	return &Notification{
		NotificationID: uuid.New(),
		DealID:         dealID,
		Kind:           kind,
		Channel:        channel,
		Priority:       priority,
		Title:          title,
		Body:           body,
		Payload:        payload,
		Status:         StatusPending,
		MaxRetries:     3,
		CreatedAt:      time.Now().UTC(),
	}
}

// SetTarget sets the notification target (account or group)
func (n *Notification) SetTarget(accountID *string, group *string) {
	n.TargetAccountID = accountID
	n.TargetGroup = group
}

// SetExpiry sets the expiration time
func (n *Notification) SetExpiry(expiresAt time.Time) {
	n.ExpiresAt = &expiresAt
}

// IsExpired checks if the notification has expired
func (n *Notification) IsExpired() bool {
	if n.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*n.ExpiresAt)
}

// CanTransitionTo checks if a transition to the target status is valid
func (n *Notification) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusPending:   {StatusSent, StatusFailed, StatusExpired},
		StatusSent:      {StatusDelivered, StatusFailed},
		StatusDelivered: {},
		StatusFailed:    {StatusPending}, // Retry
		StatusExpired:   {},
	}

	allowed, ok := transitions[n.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// MarkSent marks the notification as sent
func (n *Notification) MarkSent() error {
	if n.IsExpired() {
		n.Status = StatusExpired
		return ErrExpired
	}
	if !n.CanTransitionTo(StatusSent) {
		return ErrInvalidTransition
	}
	n.Status = StatusSent
	now := time.Now().UTC()
	n.SentAt = &now
	return nil
}

// MarkDelivered marks the notification as delivered
func (n *Notification) MarkDelivered() error {
	if !n.CanTransitionTo(StatusDelivered) {
		return ErrInvalidTransition
	}
	n.Status = StatusDelivered
	now := time.Now().UTC()
	n.DeliveredAt = &now
	return nil
}

// MarkFailed marks the notification as failed
func (n *Notification) MarkFailed(errMsg string) error {
	// Expired notifications transition to EXPIRED, not FAILED
	if n.IsExpired() {
		n.Status = StatusExpired
		return ErrExpired
	}
	if !n.CanTransitionTo(StatusFailed) {
		return ErrInvalidTransition
	}
	n.Status = StatusFailed
	now := time.Now().UTC()
	n.FailedAt = &now
	n.LastError = &errMsg
	n.RetryCount++
	return nil
}

// CanRetry checks if the notification can be retried
func (n *Notification) CanRetry() bool {
	return n.Status == StatusFailed && n.RetryCount < n.MaxRetries && !n.IsExpired()
}

// ResetForRetry resets the notification for retry
func (n *Notification) ResetForRetry() error {
	if !n.CanRetry() {
		return ErrCannotRetry
	}
	n.Status = StatusPending
	n.FailedAt = nil
	return nil
}

// IsTerminal returns true if the notification is in a terminal state
func (n *Notification) IsTerminal() bool {
	return n.Status == StatusDelivered ||
		n.Status == StatusExpired ||
		(n.Status == StatusFailed && !n.CanRetry())
}

// SSEClient represents an active SSE connection
type SSEClient struct {
	ClientID    string
	AccountID   *string
	Groups      []string
	ConnectedAt time.Time
	MessageChan chan *SSEMessage
}

// NewSSEClient creates a new SSE client
func NewSSEClient(clientID string, accountID *string, groups []string) *SSEClient {
	return &SSEClient{
		ClientID:    clientID,
		AccountID:   accountID,
		Groups:      groups,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *SSEMessage, 100),
	}
}

// Close closes the client's message channel
func (c *SSEClient) Close() {
	close(c.MessageChan)
}

// SSEMessage represents a message to be sent via SSE
type SSEMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSSEMessage creates a new SSE message
func NewSSEMessage(event string, data json.RawMessage) *SSEMessage {
	return &SSEMessage{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Filter represents filters for querying notifications
type Filter struct {
	DealID          *uuid.UUID
	Kind            *EventKind
	Channel         *Channel
	Status          *Status
	Priority        *Priority
	TargetAccountID *string
	TargetGroup     *string
	Since           *time.Time
	Until           *time.Time
}
