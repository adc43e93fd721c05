package notification

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/Knetic/govaluate"
)

// EvaluateCondition evaluates a routing rule condition against a notification
// payload. Empty condition returns true. Supports "true"/"false" literals.
// Nested payload fields are addressable as dotted paths.
func EvaluateCondition(condition string, payload json.RawMessage) (bool, error) {
	cond := strings.TrimSpace(condition)
	if cond == "" {
		return true, nil
	}
	switch strings.ToLower(cond) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	params := buildPayloadParams(payload)
	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return false, err
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, errors.New("condition did not evaluate to boolean")
	}
}

func buildPayloadParams(payload json.RawMessage) map[string]interface{} {
	params := map[string]interface{}{}
	if len(payload) == 0 {
		return params
	}
	var raw interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return params
	}
	if m, ok := raw.(map[string]interface{}); ok {
		for k, v := range m {
			params[k] = v
		}
		flattenPayload("", m, params)
	}
	return params
}

func flattenPayload(prefix string, m map[string]interface{}, out map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			flattenPayload(key, vv, out)
		default:
			out[key] = vv
		}
	}
}
