package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"
)

type signaturePayload struct {
	AuditID    string   `json:"auditId"`
	DealID     string   `json:"dealId,omitempty"`
	EventType  string   `json:"eventType"`
	EntityType string   `json:"entityType"`
	EntityID   string   `json:"entityId"`
	Actor      string   `json:"actor"`
	ActorRoles []string `json:"actorRoles,omitempty"`
	OldState   string   `json:"oldState,omitempty"`
	NewState   string   `json:"newState"`
	Metadata   string   `json:"metadata,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	RiskLevel  string   `json:"riskLevel"`
	CreatedAt  string   `json:"createdAt"`
}

func buildSignaturePayload(log *AuditLog) signaturePayload {
	payload := signaturePayload{
		AuditID:    log.AuditID.String(),
		EventType:  string(log.EventType),
		EntityType: string(log.EntityType),
		EntityID:   log.EntityID,
		Actor:      log.Actor,
		ActorRoles: log.ActorRoles,
		NewState:   log.NewState,
		Reason:     log.Reason,
		RiskLevel:  string(log.RiskLevel),
		CreatedAt:  log.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if log.DealID != nil {
		payload.DealID = log.DealID.String()
	}
	if log.OldState != nil {
		payload.OldState = *log.OldState
	}
	if len(log.Metadata) > 0 {
		payload.Metadata = base64.StdEncoding.EncodeToString(log.Metadata)
	}
	return payload
}

// SignAuditLog generates an HMAC signature for the audit record.
func SignAuditLog(log *AuditLog, key []byte) ([]byte, error) {
	payload := buildSignaturePayload(log)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil), nil
}

// VerifyAuditLogSignature verifies the HMAC signature for the audit record.
func VerifyAuditLogSignature(log *AuditLog, key []byte) (bool, error) {
	if len(log.Signature) == 0 {
		return false, nil
	}
	expected, err := SignAuditLog(log, key)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, log.Signature), nil
}
