package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

// GatewayNotification is the webhook body delivered by the payment gateway,
// over HTTP or the notifications topic.
type GatewayNotification struct {
	IdempotencyKey string `json:"idempotency_key"`
	RemoteRef      string `json:"remote_ref"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
}

// DecodeNotification parses a raw webhook body.
func DecodeNotification(body []byte) (models.Notification, error) {
	var payload GatewayNotification
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Notification{}, &models.ValidationError{Field: "body", Reason: "malformed notification", Err: err}
	}
	n, err := payload.ToNotification()
	if err != nil {
		return models.Notification{}, err
	}
	n.Payload = body
	return n, nil
}

func (g GatewayNotification) ToNotification() (models.Notification, error) {
	if g.IdempotencyKey == "" && g.RemoteRef == "" {
		return models.Notification{}, &models.ValidationError{Field: "idempotency_key", Reason: "idempotency_key or remote_ref required"}
	}
	var outcome models.Outcome
	switch strings.ToLower(g.Status) {
	case "confirmed", "success", "successful", "completed":
		outcome = models.OutcomeConfirmed
	case "rejected", "failed", "declined":
		outcome = models.OutcomeRejected
	default:
		return models.Notification{}, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", g.Status)}
	}
	return models.Notification{
		IdempotencyKey: g.IdempotencyKey,
		RemoteRef:      g.RemoteRef,
		Outcome:        outcome,
		Reason:         g.Reason,
	}, nil
}
