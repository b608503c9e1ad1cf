// Package queue is the durable operation queue drained by the sync engine.
// Items live in the ledger store next to the entries they reference, so an
// item is always created and removed in the same transaction as the entry
// change that justifies it.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/reconcile"
)

// Outcome classifies the result of one gateway attempt.
type Outcome int

const (
	// Succeeded: the entry reached a definitive state; drop the item.
	Succeeded Outcome = iota
	// Retryable: transient failure; reschedule with backoff.
	Retryable
	// Rejected: definitive failure; fail the entry and drop the item.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Retryable:
		return "retryable"
	default:
		return "rejected"
	}
}

const CancelledReason = "cancelled before submission"

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type Queue struct {
	store       interfaces.LedgerStore
	backoff     reconcile.Backoff
	maxAttempts int
	now         func() time.Time
}

type Option func(*Queue)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithBackoff replaces the backoff derived from Config.
func WithBackoff(b reconcile.Backoff) Option {
	return func(q *Queue) { q.backoff = b }
}

func New(store interfaces.LedgerStore, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		backoff:     reconcile.NewBackoff(cfg.BaseDelay, cfg.MaxDelay),
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = 5
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Now() time.Time { return q.now().UTC() }

func (q *Queue) MaxAttempts() int { return q.maxAttempts }

// Enqueue adds the work item for e inside the caller's transaction. The
// item carries the entry's idempotency key unchanged.
func (q *Queue) Enqueue(ctx context.Context, tx interfaces.Tx, e models.LedgerEntry) (models.QueueItem, error) {
	now := q.Now()
	item := models.QueueItem{
		ID:             uuid.New().String(),
		EntryID:        e.ID,
		Kind:           e.Kind,
		IdempotencyKey: e.IdempotencyKey,
		Priority:       e.Kind.Priority(),
		NextEligibleAt: now,
		CreatedAt:      now,
	}
	if err := tx.InsertQueueItem(ctx, item); err != nil {
		return models.QueueItem{}, fmt.Errorf("enqueue entry %s: %w", e.ID, err)
	}
	return item, nil
}

// DequeueReady claims up to limit ready items for owner in drain order:
// payouts before contributions, oldest first. Claimed items stay invisible
// to other callers until marked or released.
func (q *Queue) DequeueReady(ctx context.Context, limit int, owner string) ([]models.QueueItem, error) {
	var items []models.QueueItem
	err := q.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		items, err = tx.ClaimReadyItems(ctx, q.Now(), limit, owner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue ready items: %w", err)
	}
	return items, nil
}

// MarkAttempt records the result of one attempt on item inside the
// caller's transaction and returns the entry as it stands afterwards.
//
// On Succeeded the caller has already moved the entry to its definitive
// state; the item is removed. On Retryable the attempt count grows and the
// item is rescheduled, unless attempts are exhausted, in which case the
// entry fails like on Rejected.
func (q *Queue) MarkAttempt(ctx context.Context, tx interfaces.Tx, item models.QueueItem, outcome Outcome, cause error) (models.LedgerEntry, error) {
	entry, err := tx.GetEntry(ctx, item.EntryID)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("load entry %s: %w", item.EntryID, err)
	}
	now := q.Now()

	switch outcome {
	case Succeeded:
		return entry, q.remove(ctx, tx, item)

	case Retryable:
		item.Attempts++
		item.LastError = errorText(cause)
		if item.Attempts >= q.maxAttempts {
			reason := fmt.Sprintf("gave up after %d attempts: %s", item.Attempts, item.LastError)
			return q.fail(ctx, tx, entry, item, reason, now)
		}
		item.NextEligibleAt = now.Add(q.backoff.Delay(item.Attempts))
		item.InFlight = false
		item.ClaimedBy = ""
		item.ClaimedAt = time.Time{}
		if err := tx.UpdateQueueItem(ctx, item); err != nil {
			return models.LedgerEntry{}, fmt.Errorf("reschedule item %s: %w", item.ID, err)
		}
		entry.LastError = item.LastError
		entry.UpdatedAt = now
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return models.LedgerEntry{}, fmt.Errorf("record error on entry %s: %w", entry.ID, err)
		}
		return entry, nil

	default:
		item.Attempts++
		return q.fail(ctx, tx, entry, item, errorText(cause), now)
	}
}

// Cancel fails the entry of a queued item that is not in flight.
func (q *Queue) Cancel(ctx context.Context, tx interfaces.Tx, entryID string) (models.LedgerEntry, error) {
	item, err := tx.GetQueueItemByEntry(ctx, entryID)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("cancel entry %s: %w", entryID, err)
	}
	if item.InFlight {
		return models.LedgerEntry{}, fmt.Errorf("cancel entry %s: %w", entryID, models.ErrInFlight)
	}
	entry, err := tx.GetEntry(ctx, entryID)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("cancel entry %s: %w", entryID, err)
	}
	return q.fail(ctx, tx, entry, item, CancelledReason, q.Now())
}

// Release returns claimed items that were never attempted to the ready
// pool without counting an attempt.
func (q *Queue) Release(ctx context.Context, items []models.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	return q.store.WithTx(ctx, func(tx interfaces.Tx) error {
		for _, it := range items {
			current, err := tx.GetQueueItemByEntry(ctx, it.EntryID)
			if err != nil {
				continue
			}
			if !current.InFlight || current.ClaimedBy != it.ClaimedBy {
				continue
			}
			current.InFlight = false
			current.ClaimedBy = ""
			current.ClaimedAt = time.Time{}
			if err := tx.UpdateQueueItem(ctx, current); err != nil {
				return fmt.Errorf("release item %s: %w", current.ID, err)
			}
		}
		return nil
	})
}

// ReleaseStale frees claims older than ttl, left behind by a worker that
// stopped without marking its items.
func (q *Queue) ReleaseStale(ctx context.Context, ttl time.Duration) (int, error) {
	var n int
	err := q.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		n, err = tx.ReleaseClaims(ctx, q.Now().Add(-ttl))
		return err
	})
	return n, err
}

// Depth reports queued and in-flight item counts.
func (q *Queue) Depth(ctx context.Context) (queued, inFlight int, err error) {
	err = q.store.WithTx(ctx, func(tx interfaces.Tx) error {
		items, err := tx.ListQueueItems(ctx)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.InFlight {
				inFlight++
			} else {
				queued++
			}
		}
		return nil
	})
	return queued, inFlight, err
}

func (q *Queue) fail(ctx context.Context, tx interfaces.Tx, entry models.LedgerEntry, item models.QueueItem, reason string, now time.Time) (models.LedgerEntry, error) {
	if err := entry.Transition(models.StateFailed, "", now); err != nil {
		return models.LedgerEntry{}, err
	}
	entry.LastError = reason
	if err := tx.UpdateEntry(ctx, entry); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("fail entry %s: %w", entry.ID, err)
	}
	return entry, q.remove(ctx, tx, item)
}

func (q *Queue) remove(ctx context.Context, tx interfaces.Tx, item models.QueueItem) error {
	if err := tx.DeleteQueueItem(ctx, item.ID); err != nil {
		return fmt.Errorf("remove item %s: %w", item.ID, err)
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
