package notification

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCondition(t *testing.T) {
	payload := json.RawMessage(`{
		"decision": "DECLINED",
		"allAccepted": false,
		"accepted": 2,
		"total": 3,
		"milestone": {"amount": 5000, "currency": "EUR"}
	}`)

	tests := []struct {
		name      string
		condition string
		expected  bool
	}{
		{"empty condition matches", "", true},
		{"whitespace condition matches", "   ", true},
		{"literal true", "true", true},
		{"literal false", "false", false},
		{"string equality", `decision == "DECLINED"`, true},
		{"string inequality", `decision != "DECLINED"`, false},
		{"numeric comparison", "accepted < total", true},
		{"boolean field", "allAccepted == false", true},
		{"nested field via dotted path", `[milestone.amount] >= 1000`, true},
		{"nested string field", `[milestone.currency] == "EUR"`, true},
		{"compound condition", `decision == "DECLINED" && total > 2`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(tt.condition, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluateCondition_Errors(t *testing.T) {
	payload := json.RawMessage(`{"accepted": 2}`)

	_, err := EvaluateCondition("accepted ==", payload)
	assert.Error(t, err, "unparseable expression")

	_, err = EvaluateCondition("accepted + 1", payload)
	assert.Error(t, err, "non-boolean result")

	_, err = EvaluateCondition(`missing == "x"`, payload)
	assert.Error(t, err, "unknown parameter")
}

func TestEvaluateCondition_MalformedPayload(t *testing.T) {
	got, err := EvaluateCondition("", json.RawMessage(`not json`))
	require.NoError(t, err)
	assert.True(t, got, "empty condition ignores the payload entirely")
}

func TestDealGroup(t *testing.T) {
	const id = "0d9b39ba-94a3-4a2d-8a16-6468d9f9b5cf"
	assert.Equal(t, "deal:"+id, DealGroup(uuid.MustParse(id)))
}
