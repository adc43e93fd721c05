package notification

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotification(t *testing.T) {
	dealID := uuid.New()
	payload := json.RawMessage(`{"key": "value"}`)

	n := NewNotification(dealID, KindDealActivated, ChannelSSE, PriorityHigh, "Test Title", "Test Body", payload)

	require.NotNil(t, n)
	assert.NotEqual(t, uuid.Nil, n.NotificationID)
	assert.Equal(t, dealID, n.DealID)
	assert.Equal(t, KindDealActivated, n.Kind)
	assert.Equal(t, ChannelSSE, n.Channel)
	assert.Equal(t, PriorityHigh, n.Priority)
	assert.Equal(t, "Test Title", n.Title)
	assert.Equal(t, "Test Body", n.Body)
	assert.Equal(t, payload, n.Payload)
	assert.Equal(t, StatusPending, n.Status)
	assert.Equal(t, 3, n.MaxRetries)
	assert.Equal(t, 0, n.RetryCount)
	assert.False(t, n.CreatedAt.IsZero())
	assert.Nil(t, n.TargetAccountID)
	assert.Nil(t, n.TargetGroup)
	assert.Nil(t, n.ExpiresAt)
}

func TestNotification_SetTarget(t *testing.T) {
	t.Run("set account target", func(t *testing.T) {
		n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)
		accountID := "account-123"

		n.SetTarget(&accountID, nil)

		require.NotNil(t, n.TargetAccountID)
		assert.Equal(t, "account-123", *n.TargetAccountID)
		assert.Nil(t, n.TargetGroup)
	})

	t.Run("set group target", func(t *testing.T) {
		n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)
		group := "ops-group"

		n.SetTarget(nil, &group)

		assert.Nil(t, n.TargetAccountID)
		require.NotNil(t, n.TargetGroup)
		assert.Equal(t, "ops-group", *n.TargetGroup)
	})
}

func TestNotification_IsExpired(t *testing.T) {
	t.Run("not expired when ExpiresAt is nil", func(t *testing.T) {
		n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)
		assert.False(t, n.IsExpired())
	})

	t.Run("not expired in the future", func(t *testing.T) {
		n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)
		n.SetExpiry(time.Now().Add(1 * time.Hour))
		assert.False(t, n.IsExpired())
	})

	t.Run("expired in the past", func(t *testing.T) {
		n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)
		n.SetExpiry(time.Now().Add(-1 * time.Hour))
		assert.True(t, n.IsExpired())
	})
}

func TestNotification_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name     string
		from     Status
		to       Status
		expected bool
	}{
		{name: "PENDING -> SENT", from: StatusPending, to: StatusSent, expected: true},
		{name: "PENDING -> FAILED", from: StatusPending, to: StatusFailed, expected: true},
		{name: "PENDING -> EXPIRED", from: StatusPending, to: StatusExpired, expected: true},
		{name: "PENDING -> DELIVERED (invalid)", from: StatusPending, to: StatusDelivered, expected: false},
		{name: "SENT -> DELIVERED", from: StatusSent, to: StatusDelivered, expected: true},
		{name: "SENT -> FAILED", from: StatusSent, to: StatusFailed, expected: true},
		{name: "SENT -> PENDING (invalid)", from: StatusSent, to: StatusPending, expected: false},
		{name: "DELIVERED -> FAILED (invalid)", from: StatusDelivered, to: StatusFailed, expected: false},
		{name: "FAILED -> PENDING (retry)", from: StatusFailed, to: StatusPending, expected: true},
		{name: "FAILED -> SENT (invalid)", from: StatusFailed, to: StatusSent, expected: false},
		{name: "EXPIRED -> PENDING (invalid)", from: StatusExpired, to: StatusPending, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)
			n.Status = tt.from
			assert.Equal(t, tt.expected, n.CanTransitionTo(tt.to))
		})
	}
}

func TestNotification_MarkSent(t *testing.T) {
	t.Run("success from PENDING", func(t *testing.T) {
		n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)

		err := n.MarkSent()

		require.NoError(t, err)
		assert.Equal(t, StatusSent, n.Status)
		require.NotNil(t, n.SentAt)
	})

	t.Run("error when already expired", func(t *testing.T) {
		n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)
		n.SetExpiry(time.Now().Add(-1 * time.Hour))

		err := n.MarkSent()

		assert.ErrorIs(t, err, ErrExpired)
		assert.Equal(t, StatusExpired, n.Status)
	})

	t.Run("error from invalid state", func(t *testing.T) {
		n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)
		n.Status = StatusDelivered

		err := n.MarkSent()

		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, StatusDelivered, n.Status)
	})
}

func TestNotification_MarkFailed(t *testing.T) {
	t.Run("increments retry count", func(t *testing.T) {
		n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)

		err := n.MarkFailed("connection refused")

		require.NoError(t, err)
		assert.Equal(t, StatusFailed, n.Status)
		assert.Equal(t, 1, n.RetryCount)
		require.NotNil(t, n.LastError)
		assert.Equal(t, "connection refused", *n.LastError)
	})

	t.Run("expired goes to EXPIRED not FAILED", func(t *testing.T) {
		n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)
		n.SetExpiry(time.Now().Add(-1 * time.Hour))

		err := n.MarkFailed("connection refused")

		assert.ErrorIs(t, err, ErrExpired)
		assert.Equal(t, StatusExpired, n.Status)
	})
}

func TestNotification_RetryCycle(t *testing.T) {
	n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)

	require.NoError(t, n.MarkFailed("error 1"))
	assert.True(t, n.CanRetry())
	require.NoError(t, n.ResetForRetry())
	assert.Equal(t, StatusPending, n.Status)
	assert.Nil(t, n.FailedAt)

	require.NoError(t, n.MarkFailed("error 2"))
	require.NoError(t, n.ResetForRetry())
	require.NoError(t, n.MarkFailed("error 3"))

	assert.Equal(t, 3, n.RetryCount)
	assert.False(t, n.CanRetry())
	assert.ErrorIs(t, n.ResetForRetry(), ErrCannotRetry)
	assert.True(t, n.IsTerminal())
}

func TestNotification_IsTerminal(t *testing.T) {
	tests := []struct {
		name       string
		status     Status
		retryCount int
		expected   bool
	}{
		{name: "DELIVERED is terminal", status: StatusDelivered, expected: true},
		{name: "EXPIRED is terminal", status: StatusExpired, expected: true},
		{name: "FAILED with no retries left is terminal", status: StatusFailed, retryCount: 3, expected: true},
		{name: "FAILED with retries remaining is not terminal", status: StatusFailed, retryCount: 1, expected: false},
		{name: "PENDING is not terminal", status: StatusPending, expected: false},
		{name: "SENT is not terminal", status: StatusSent, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNotification(uuid.New(), KindPartyInvited, ChannelSSE, PriorityMedium, "Title", "Body", nil)
			n.Status = tt.status
			n.RetryCount = tt.retryCount
			assert.Equal(t, tt.expected, n.IsTerminal())
		})
	}
}

func TestNewSSEClient(t *testing.T) {
	t.Run("with account and groups", func(t *testing.T) {
		accountID := "account-456"
		groups := []string{"group1", "group2"}

		client := NewSSEClient("client-123", &accountID, groups)

		require.NotNil(t, client)
		assert.Equal(t, "client-123", client.ClientID)
		require.NotNil(t, client.AccountID)
		assert.Equal(t, accountID, *client.AccountID)
		assert.Equal(t, groups, client.Groups)
		assert.NotNil(t, client.MessageChan)
	})

	t.Run("with nil account", func(t *testing.T) {
		client := NewSSEClient("client-123", nil, nil)
		assert.Nil(t, client.AccountID)
		assert.Nil(t, client.Groups)
	})
}

func TestNewSSEMessage(t *testing.T) {
	data := json.RawMessage(`{"title": "Test"}`)

	message := NewSSEMessage("deal.activated", data)

	require.NotNil(t, message)
	assert.NotEmpty(t, message.ID)
	assert.Equal(t, "deal.activated", message.Event)
	assert.Equal(t, data, message.Data)
	assert.False(t, message.Timestamp.IsZero())
}
