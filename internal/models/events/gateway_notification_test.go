package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

func TestDecodeNotification(t *testing.T) {
	body := []byte(`{"idempotency_key":"k-1","remote_ref":"MM-9","status":"SUCCESS"}`)
	n, err := DecodeNotification(body)
	require.NoError(t, err)
	assert.Equal(t, "k-1", n.IdempotencyKey)
	assert.Equal(t, "MM-9", n.RemoteRef)
	assert.Equal(t, models.OutcomeConfirmed, n.Outcome)
	assert.Equal(t, body, n.Payload)

	n, err = DecodeNotification([]byte(`{"remote_ref":"MM-9","status":"declined","reason":"no funds"}`))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, n.Outcome)
	assert.Equal(t, "no funds", n.Reason)
}

func TestDecodeNotification_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"malformed":      `{"idempotency_key":`,
		"no identifiers": `{"status":"confirmed"}`,
		"unknown status": `{"idempotency_key":"k","status":"pending"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeNotification([]byte(body))
			assert.True(t, models.IsValidation(err))
		})
	}
}
