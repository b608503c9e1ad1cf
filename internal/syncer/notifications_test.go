package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

func TestHandleNotification_UnmatchedGoesToDeadLetters(t *testing.T) {
	h := newHarness(t, Config{})
	e := h.contribution(t, 10_000)

	res, err := h.engine.HandleNotification(context.Background(), models.Notification{
		IdempotencyKey: "unknown-key", Outcome: models.OutcomeConfirmed, Payload: []byte(`{"idempotency_key":"unknown-key"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, NotificationDeadLetter, res)

	letters, err := h.ledger.DeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "unknown-key", letters[0].IdempotencyKey)

	got := h.entry(t, e.ID)
	assert.Equal(t, models.StatePending, got.State, "no entry is touched")
	assert.Equal(t, e.UpdatedAt, got.UpdatedAt)
}

func TestHandleNotification_ConfirmsPendingEntry(t *testing.T) {
	h := newHarness(t, Config{})
	e := h.contribution(t, 100_000)

	res, err := h.engine.HandleNotification(context.Background(), models.Notification{
		IdempotencyKey: e.IdempotencyKey, RemoteRef: "MM-778", Outcome: models.OutcomeConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, NotificationApplied, res)

	got := h.entry(t, e.ID)
	assert.Equal(t, models.StateConfirmed, got.State)
	assert.Equal(t, "MM-778", got.RemoteRef)
	_, err = h.item(t, e.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// nothing left for the engine to send
	report, err := h.engine.Trigger(context.Background(), Online)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)
	assert.Equal(t, 0, h.sim.Calls(e.IdempotencyKey))

	// a duplicate delivery, found by remote reference, is a no-op
	res, err = h.engine.HandleNotification(context.Background(), models.Notification{
		RemoteRef: "MM-778", Outcome: models.OutcomeConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, NotificationNoOp, res)
}

func TestHandleNotification_DisagreementGoesToReview(t *testing.T) {
	h := newHarness(t, Config{})
	e := h.contribution(t, 10_000)
	_, err := h.engine.Trigger(context.Background(), Online)
	require.NoError(t, err)
	require.Equal(t, models.StateConfirmed, h.entry(t, e.ID).State)

	res, err := h.engine.HandleNotification(context.Background(), models.Notification{
		IdempotencyKey: e.IdempotencyKey, Outcome: models.OutcomeRejected, Reason: "insufficient funds",
	})
	require.NoError(t, err)
	assert.Equal(t, NotificationConflict, res)

	got := h.entry(t, e.ID)
	assert.Equal(t, models.StateConfirmed, got.State, "first definitive outcome wins")
	assert.True(t, got.ReviewRequired)

	items, err := h.ledger.ReviewItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, e.ID, items[0].EntryID)
	assert.Equal(t, models.StateConfirmed, items[0].LocalState)
	assert.Equal(t, models.OutcomeRejected, items[0].RemoteOutcome)
}

func TestHandleNotification_RejectionWhileQueued(t *testing.T) {
	h := newHarness(t, Config{})
	e := h.payout(t, 10_000, "256782555000")

	res, err := h.engine.HandleNotification(context.Background(), models.Notification{
		IdempotencyKey: e.IdempotencyKey, Outcome: models.OutcomeRejected, Reason: "account closed",
	})
	require.NoError(t, err)
	assert.Equal(t, NotificationApplied, res)

	got := h.entry(t, e.ID)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Equal(t, "account closed", got.LastError)
	_, err = h.item(t, e.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHandleNotification_SettlesCommissionTransfer(t *testing.T) {
	h := newHarness(t, Config{})
	h.contribution(t, 100_000)
	_, err := h.engine.Trigger(context.Background(), Online)
	require.NoError(t, err)

	h.sim.FailNext(1)
	_, err = h.ledger.TransferCommission(context.Background(), models.UGX)
	require.True(t, models.IsTransient(err))
	summary, err := h.ledger.CommissionSummary(context.Background())
	require.NoError(t, err)
	key := summary.Records[0].TransferKey
	require.NotEmpty(t, key)

	res, err := h.engine.HandleNotification(context.Background(), models.Notification{
		IdempotencyKey: key, RemoteRef: "TRF-1", Outcome: models.OutcomeConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, NotificationTransfer, res)

	summary, err = h.ledger.CommissionSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), summary.Totals[0].Transferred)
}

func TestHandleNotification_Validation(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.engine.HandleNotification(context.Background(), models.Notification{Outcome: models.OutcomeConfirmed})
	assert.True(t, models.IsValidation(err))
	_, err = h.engine.HandleNotification(context.Background(), models.Notification{IdempotencyKey: "k", Outcome: "maybe"})
	assert.True(t, models.IsValidation(err))
}
