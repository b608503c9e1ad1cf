package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/reconcile"
)

// NotificationResult says what a gateway notification did.
type NotificationResult string

const (
	NotificationApplied    NotificationResult = "applied"
	NotificationNoOp       NotificationResult = "noop"
	NotificationConflict   NotificationResult = "conflict"
	NotificationDeadLetter NotificationResult = "dead_letter"
	NotificationTransfer   NotificationResult = "transfer"
)

// HandleNotification applies a gateway-initiated outcome. The entry is
// found by idempotency key, then by remote reference. An outcome for an
// entry that is still open is applied like a direct response; a second
// outcome goes through the first-definitive-wins rule. Notifications that
// match nothing are kept in the dead-letter set and change no entry.
func (e *Engine) HandleNotification(ctx context.Context, n models.Notification) (NotificationResult, error) {
	if !n.Outcome.Valid() {
		return "", &models.ValidationError{Field: "outcome", Reason: fmt.Sprintf("unknown outcome %q", n.Outcome)}
	}
	if n.IdempotencyKey == "" && n.RemoteRef == "" {
		return "", &models.ValidationError{Field: "idempotency_key", Reason: "idempotency_key or remote_ref required"}
	}

	var (
		result   NotificationResult
		settled  models.LedgerEntry
		conflict *models.ReconciliationConflict
	)
	err := e.store.WithTx(ctx, func(tx interfaces.Tx) error {
		entry, err := tx.FindEntry(ctx, models.EntryLookup{IdempotencyKey: n.IdempotencyKey, RemoteRef: n.RemoteRef})
		if errors.Is(err, models.ErrNotFound) {
			result = NotificationDeadLetter
			return nil
		}
		if err != nil {
			return err
		}

		decision, detail := reconcile.Decide(entry, n.Outcome, n.RemoteRef)
		switch decision {
		case reconcile.Apply:
			result = NotificationApplied
			if n.Outcome == models.OutcomeConfirmed {
				settled, err = e.ledger.Confirm(ctx, tx, entry, n.RemoteRef)
				if err != nil {
					return err
				}
			} else {
				if err := entry.Transition(models.StateFailed, "", e.clock()); err != nil {
					return err
				}
				entry.LastError = detailOr(n.Reason, "rejected by gateway notification")
				if err := tx.UpdateEntry(ctx, entry); err != nil {
					return err
				}
				settled = entry
			}
			return removeItem(ctx, tx, entry.ID)
		case reconcile.NoOp:
			result = NotificationNoOp
			return nil
		default:
			result = NotificationConflict
			conflict = &models.ReconciliationConflict{
				EntryID: entry.ID, IdempotencyKey: entry.IdempotencyKey,
				Local: entry.State, Remote: n.Outcome, Detail: detail,
			}
			return e.flagConflict(ctx, tx, entry, conflict, n.RemoteRef)
		}
	})
	if err != nil {
		return "", fmt.Errorf("apply notification: %w", err)
	}

	if result == NotificationDeadLetter {
		return e.unmatched(ctx, n)
	}

	e.metrics.Notification(string(result))
	log := e.log.With().Str("idempotency_key", n.IdempotencyKey).Str("remote_ref", n.RemoteRef).Str("outcome", string(n.Outcome)).Logger()
	switch result {
	case NotificationApplied:
		log.Info().Str("entry_id", settled.ID).Str("state", string(settled.State)).Msg("notification applied")
		e.publishSettled(ctx, settled)
	case NotificationConflict:
		log.Error().Err(conflict).Msg("notification conflicts with recorded outcome")
	default:
		log.Debug().Msg("duplicate notification")
	}
	return result, nil
}

// unmatched settles a commission transfer notification or dead-letters it.
func (e *Engine) unmatched(ctx context.Context, n models.Notification) (NotificationResult, error) {
	ok, err := e.ledger.SettleTransfer(ctx, n)
	if err != nil {
		return "", err
	}
	if ok {
		e.metrics.Notification(string(NotificationTransfer))
		return NotificationTransfer, nil
	}

	letter := models.DeadLetter{
		ID:             uuid.New().String(),
		IdempotencyKey: n.IdempotencyKey,
		RemoteRef:      n.RemoteRef,
		Outcome:        n.Outcome,
		Reason:         n.Reason,
		Payload:        n.Payload,
		ReceivedAt:     e.clock(),
	}
	err = e.store.WithTx(ctx, func(tx interfaces.Tx) error {
		return tx.InsertDeadLetter(ctx, letter)
	})
	if err != nil {
		return "", fmt.Errorf("dead-letter notification: %w", err)
	}
	e.metrics.Notification(string(NotificationDeadLetter))
	e.log.Warn().Str("idempotency_key", n.IdempotencyKey).Str("remote_ref", n.RemoteRef).Msg("notification matched no entry, dead-lettered")
	return NotificationDeadLetter, nil
}
