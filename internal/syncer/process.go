package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/queue"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/reconcile"
)

type itemOutcome int

const (
	outcomeConfirmed itemOutcome = iota
	outcomeFailed
	outcomeRetry
	outcomeNoOp
	outcomeConflict
	outcomeError
)

func (o itemOutcome) String() string {
	switch o {
	case outcomeConfirmed:
		return "confirmed"
	case outcomeFailed:
		return "rejected"
	case outcomeRetry:
		return "retry"
	case outcomeNoOp:
		return "noop"
	case outcomeConflict:
		return "conflict"
	default:
		return "error"
	}
}

// submitAmount is what moves on the gateway: contributions are collected
// gross, payouts disburse the net after commission.
func submitAmount(e models.LedgerEntry) int64 {
	if e.Kind == models.KindPayout {
		return e.Net
	}
	return e.Gross
}

// process takes one claimed item through queued -> in-flight -> result.
// It issues exactly one gateway call and applies its result in a single
// transaction.
func (e *Engine) process(ctx context.Context, item models.QueueItem) (itemOutcome, error) {
	entry, proceed, err := e.begin(ctx, item)
	if err != nil || !proceed {
		return outcomeNoOp, err
	}

	log := e.log.With().
		Str("entry_id", entry.ID).
		Str("idempotency_key", item.IdempotencyKey).
		Int("attempt", item.Attempts+1).
		Logger()

	// The call runs to completion even if the pass is cancelled, bounded by
	// the call timeout, so its result is never lost.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	started := time.Now()
	receipt, callErr := e.gateway.Submit(callCtx, models.SubmitRequest{
		Operation:      entry.Kind.Operation(),
		Amount:         submitAmount(entry),
		Currency:       entry.Currency,
		Destination:    entry.Destination,
		IdempotencyKey: item.IdempotencyKey,
	})
	cancel()
	e.metrics.GatewayCall(string(entry.Kind.Operation()), time.Since(started))
	if callErr != nil && !models.IsDefinitive(callErr) && !models.IsTransient(callErr) {
		callErr = &models.TransientGatewayError{Op: string(entry.Kind.Operation()), Err: callErr}
	}

	applyCtx := context.WithoutCancel(ctx)
	var (
		outcome  itemOutcome
		settled  models.LedgerEntry
		conflict *models.ReconciliationConflict
	)
	err = e.store.WithTx(applyCtx, func(tx interfaces.Tx) error {
		current, err := tx.GetEntry(applyCtx, item.EntryID)
		if err != nil {
			return err
		}

		if callErr != nil && models.IsTransient(callErr) {
			if current.State.Terminal() {
				// settled by a notification while the call was out
				outcome = outcomeNoOp
				return removeItem(applyCtx, tx, item.EntryID)
			}
			settled, err = e.queue.MarkAttempt(applyCtx, tx, item, queue.Retryable, callErr)
			if err != nil {
				return err
			}
			outcome = outcomeRetry
			if settled.State == models.StateFailed {
				outcome = outcomeFailed
			}
			return nil
		}

		remote, ref, reason := models.OutcomeConfirmed, receipt.RemoteRef, ""
		if callErr != nil {
			remote, ref, reason = models.OutcomeRejected, "", callErr.Error()
		}
		decision, detail := reconcile.Decide(current, remote, ref)
		switch decision {
		case reconcile.Apply:
			if remote == models.OutcomeConfirmed {
				settled, err = e.ledger.Confirm(applyCtx, tx, current, ref)
				if err != nil {
					return err
				}
				outcome = outcomeConfirmed
				_, err = e.queue.MarkAttempt(applyCtx, tx, item, queue.Succeeded, nil)
				return err
			}
			settled, err = e.queue.MarkAttempt(applyCtx, tx, item, queue.Rejected, callErr)
			outcome = outcomeFailed
			return err
		case reconcile.NoOp:
			outcome = outcomeNoOp
			return removeItem(applyCtx, tx, item.EntryID)
		default:
			outcome = outcomeConflict
			conflict = &models.ReconciliationConflict{
				EntryID: current.ID, IdempotencyKey: current.IdempotencyKey,
				Local: current.State, Remote: remote, Detail: detailOr(detail, reason),
			}
			if err := e.flagConflict(applyCtx, tx, current, conflict, ref); err != nil {
				return err
			}
			return removeItem(applyCtx, tx, item.EntryID)
		}
	})
	if err != nil {
		return outcomeError, err
	}

	e.metrics.Attempt(outcome.String())
	switch outcome {
	case outcomeConfirmed:
		log.Info().Str("remote_ref", settled.RemoteRef).Msg("entry confirmed")
		e.publishSettled(applyCtx, settled)
	case outcomeFailed:
		log.Warn().Str("reason", settled.LastError).Msg("entry failed")
		e.publishSettled(applyCtx, settled)
	case outcomeRetry:
		log.Warn().Err(callErr).Msg("gateway call failed, retry scheduled")
	case outcomeConflict:
		log.Error().Err(conflict).Msg("reconciliation conflict sent to review")
	case outcomeNoOp:
		log.Debug().Msg("entry already settled")
	}
	return outcome, nil
}

// begin moves a pending entry to submitted before the first call. It
// reports false when the entry was settled since the claim, in which case
// the item has been dropped.
func (e *Engine) begin(ctx context.Context, item models.QueueItem) (models.LedgerEntry, bool, error) {
	var entry models.LedgerEntry
	proceed := true
	err := e.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		entry, err = tx.GetEntry(ctx, item.EntryID)
		if err != nil {
			return err
		}
		switch {
		case entry.State.Terminal():
			proceed = false
			return removeItem(ctx, tx, item.EntryID)
		case entry.State == models.StatePending:
			if err := entry.Transition(models.StateSubmitted, "", e.clock()); err != nil {
				return err
			}
			return tx.UpdateEntry(ctx, entry)
		}
		return nil
	})
	return entry, proceed, err
}

func (e *Engine) flagConflict(ctx context.Context, tx interfaces.Tx, entry models.LedgerEntry, c *models.ReconciliationConflict, remoteRef string) error {
	now := e.clock()
	entry.ReviewRequired = true
	entry.UpdatedAt = now
	if err := tx.UpdateEntry(ctx, entry); err != nil {
		return err
	}
	return tx.InsertReviewItem(ctx, models.ReviewItem{
		ID:             uuid.New().String(),
		EntryID:        entry.ID,
		IdempotencyKey: entry.IdempotencyKey,
		LocalState:     c.Local,
		RemoteOutcome:  c.Remote,
		RemoteRef:      remoteRef,
		Detail:         c.Detail,
		CreatedAt:      now,
	})
}

func removeItem(ctx context.Context, tx interfaces.Tx, entryID string) error {
	item, err := tx.GetQueueItemByEntry(ctx, entryID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load queue item for %s: %w", entryID, err)
	}
	return tx.DeleteQueueItem(ctx, item.ID)
}

func detailOr(detail, fallback string) string {
	if detail != "" {
		return detail
	}
	return fallback
}
