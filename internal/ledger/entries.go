package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/commission"
	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models/events"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/reconcile"
)

// CreateEntry validates the request, computes commission and persists the
// pending entry together with its queue item.
func (l *Ledger) CreateEntry(ctx context.Context, req models.EntryRequest) (models.LedgerEntry, error) {
	rule, ok := kindRules[req.Kind]
	if !ok {
		return models.LedgerEntry{}, invalid("kind", "unknown entry kind %q", req.Kind)
	}
	if !req.Currency.Valid() {
		return models.LedgerEntry{}, invalid("currency", "unsupported currency %q", req.Currency)
	}
	req.GroupID = strings.TrimSpace(req.GroupID)
	req.MemberID = strings.TrimSpace(req.MemberID)
	if req.GroupID == "" {
		return models.LedgerEntry{}, invalid("group_id", "group is required")
	}
	if req.MemberID == "" {
		return models.LedgerEntry{}, invalid("member_id", "member is required")
	}
	if err := l.checkBounds(req.Gross, req.Currency); err != nil {
		return models.LedgerEntry{}, err
	}
	fee, net, err := commission.Compute(req.Gross, l.cfg.CommissionRate)
	if err != nil {
		return models.LedgerEntry{}, &models.ValidationError{Field: "gross", Reason: "commission", Err: err}
	}

	// The address provider may be remote; resolve the destination outside
	// the write transaction.
	var member models.Member
	err = l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		member, err = checkParties(ctx, tx, req.GroupID, req.MemberID)
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	destination, err := rule.destination(ctx, l, req, member)
	if err != nil {
		return models.LedgerEntry{}, err
	}

	now := l.clock()
	id := uuid.New().String()
	entry := models.LedgerEntry{
		ID:             id,
		Kind:           req.Kind,
		GroupID:        req.GroupID,
		MemberID:       req.MemberID,
		Gross:          req.Gross,
		Commission:     fee,
		Net:            net,
		Currency:       req.Currency,
		Rate:           l.cfg.CommissionRate,
		Destination:    destination,
		State:          models.StatePending,
		IdempotencyKey: reconcile.IdempotencyKey(id, req.Kind.Operation()),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		if _, err := checkParties(ctx, tx, req.GroupID, req.MemberID); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		_, err := l.queue.Enqueue(ctx, tx, entry)
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("create %s: %w", req.Kind, err)
	}

	l.log.Info().
		Str("entry_id", entry.ID).
		Str("kind", string(entry.Kind)).
		Str("group_id", entry.GroupID).
		Int64("gross", entry.Gross).
		Int64("commission", entry.Commission).
		Str("currency", string(entry.Currency)).
		Msg("entry recorded")
	return entry, nil
}

func (l *Ledger) RecordContribution(ctx context.Context, req models.EntryRequest) (models.LedgerEntry, error) {
	req.Kind = models.KindContribution
	return l.CreateEntry(ctx, req)
}

func (l *Ledger) RecordPayout(ctx context.Context, req models.EntryRequest) (models.LedgerEntry, error) {
	req.Kind = models.KindPayout
	return l.CreateEntry(ctx, req)
}

func (l *Ledger) checkBounds(gross int64, c models.Currency) error {
	if gross <= 0 {
		return invalid("gross", "amount must be positive")
	}
	b, ok := l.cfg.Bounds[c]
	if !ok {
		return nil
	}
	if b.Min > 0 && gross < b.Min {
		return invalid("gross", "%s is below the minimum of %s %s", c.FromMinor(gross), c.FromMinor(b.Min), c)
	}
	if b.Max > 0 && gross > b.Max {
		return invalid("gross", "%s exceeds the maximum of %s %s", c.FromMinor(gross), c.FromMinor(b.Max), c)
	}
	return nil
}

func (l *Ledger) GetEntry(ctx context.Context, id string) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		e, err = tx.GetEntry(ctx, id)
		return err
	})
	return e, err
}

// ListEntries returns matching entries, newest first.
func (l *Ledger) ListEntries(ctx context.Context, f models.EntryFilter) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		entries, err = tx.ListEntries(ctx, f)
		return err
	})
	return entries, err
}

// TransitionEntry moves an entry to a new state under the transition table.
// Reversal and manual retry have side effects of their own and are routed
// to Reverse and Retry.
func (l *Ledger) TransitionEntry(ctx context.Context, id string, to models.EntryState, remoteRef string) (models.LedgerEntry, error) {
	switch to {
	case models.StateReversed:
		orig, _, err := l.Reverse(ctx, id)
		return orig, err
	case models.StatePending:
		return l.Retry(ctx, id)
	}

	mu := l.getLock(id)
	mu.Lock()
	defer mu.Unlock()

	var entry models.LedgerEntry
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		entry, err = tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		switch to {
		case models.StateConfirmed:
			if remoteRef == "" {
				return invalid("remote_ref", "a confirmed entry needs the gateway reference")
			}
			if err := l.dropQueueItem(ctx, tx, id); err != nil {
				return err
			}
			entry, err = l.Confirm(ctx, tx, entry, remoteRef)
			return err
		case models.StateFailed:
			if err := l.dropQueueItem(ctx, tx, id); err != nil {
				return err
			}
			if err := entry.Transition(to, "", l.clock()); err != nil {
				return err
			}
			return tx.UpdateEntry(ctx, entry)
		default:
			if err := entry.Transition(to, remoteRef, l.clock()); err != nil {
				return err
			}
			return tx.UpdateEntry(ctx, entry)
		}
	})
	if err != nil {
		if models.IsInvalidTransition(err) {
			l.log.Error().Err(err).Str("entry_id", id).Msg("rejected state transition")
		}
		return models.LedgerEntry{}, err
	}
	l.publishSettled(ctx, entry)
	return entry, nil
}

// Confirm marks the entry confirmed with the gateway's reference and accrues
// its commission, inside the caller's transaction. The caller removes the
// queue item.
func (l *Ledger) Confirm(ctx context.Context, tx interfaces.Tx, entry models.LedgerEntry, remoteRef string) (models.LedgerEntry, error) {
	now := l.clock()
	if err := entry.Transition(models.StateConfirmed, remoteRef, now); err != nil {
		return models.LedgerEntry{}, err
	}
	entry.LastError = ""
	if entry.Commission != 0 {
		rec, err := accrue(ctx, tx, entry.Currency, entry.Commission, now)
		if err != nil {
			return models.LedgerEntry{}, err
		}
		entry.CommissionRecordID = rec.ID
	}
	if err := tx.UpdateEntry(ctx, entry); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("confirm entry %s: %w", entry.ID, err)
	}
	return entry, nil
}

// dropQueueItem removes the entry's queue item before a manual settlement.
// A claimed item has a gateway call out whose response must still be
// applied, so it is left alone and ErrInFlight returned.
func (l *Ledger) dropQueueItem(ctx context.Context, tx interfaces.Tx, entryID string) error {
	item, err := tx.GetQueueItemByEntry(ctx, entryID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if item.InFlight {
		return fmt.Errorf("settle entry %s: %w", entryID, models.ErrInFlight)
	}
	return tx.DeleteQueueItem(ctx, item.ID)
}

// Retry puts a failed entry back in the queue under its original
// idempotency key.
func (l *Ledger) Retry(ctx context.Context, id string) (models.LedgerEntry, error) {
	mu := l.getLock(id)
	mu.Lock()
	defer mu.Unlock()

	var entry models.LedgerEntry
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		entry, err = tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if entry.ReversalOf != "" {
			return invalid("id", "reversal entries are never submitted")
		}
		if err := entry.Transition(models.StatePending, "", l.clock()); err != nil {
			return err
		}
		entry.LastError = ""
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		_, err = l.queue.Enqueue(ctx, tx, entry)
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("retry entry %s: %w", id, err)
	}
	l.log.Info().Str("entry_id", id).Str("idempotency_key", entry.IdempotencyKey).Msg("entry re-queued")
	return entry, nil
}

// Cancel fails an entry whose queue item has not been claimed yet.
func (l *Ledger) Cancel(ctx context.Context, id string) (models.LedgerEntry, error) {
	mu := l.getLock(id)
	mu.Lock()
	defer mu.Unlock()

	var entry models.LedgerEntry
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		entry, err = l.queue.Cancel(ctx, tx, id)
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	l.publishSettled(ctx, entry)
	return entry, nil
}

// Reverse undoes a confirmed entry. The original becomes reversed and an
// offsetting entry of the opposite kind is recorded as already confirmed;
// it is a local correction and never goes to the gateway. Commission
// counted for the original is taken back from its record while that record
// is still open, or booked as a negative accrual on the current record
// once the original record has been sealed or transferred.
func (l *Ledger) Reverse(ctx context.Context, id string) (orig, offset models.LedgerEntry, err error) {
	mu := l.getLock(id)
	mu.Lock()
	defer mu.Unlock()

	err = l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		orig, err = tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if orig.ReversalOf != "" {
			return invalid("id", "entry %s is itself a reversal", id)
		}
		now := l.clock()
		if err := orig.Transition(models.StateReversed, "", now); err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, orig); err != nil {
			return err
		}

		offset = models.LedgerEntry{
			ID:             uuid.New().String(),
			Kind:           orig.Kind.Opposite(),
			GroupID:        orig.GroupID,
			MemberID:       orig.MemberID,
			Gross:          orig.Gross,
			Net:            orig.Gross,
			Currency:       orig.Currency,
			Destination:    orig.Destination,
			State:          models.StateConfirmed,
			IdempotencyKey: reconcile.ReversalKey(orig.ID),
			RemoteRef:      "reversal:" + orig.RemoteRef,
			ReversalOf:     orig.ID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertEntry(ctx, offset); err != nil {
			return err
		}
		return l.takeBackCommission(ctx, tx, orig, now)
	})
	if err != nil {
		if models.IsInvalidTransition(err) {
			l.log.Error().Err(err).Str("entry_id", id).Msg("rejected reversal")
		}
		return models.LedgerEntry{}, models.LedgerEntry{}, fmt.Errorf("reverse entry %s: %w", id, err)
	}

	l.log.Info().Str("entry_id", id).Str("offset_id", offset.ID).Int64("gross", orig.Gross).Msg("entry reversed")
	l.publish(ctx, events.TopicEntryReversed, events.NewEntrySettled(orig, orig.UpdatedAt))
	return orig, offset, nil
}

func (l *Ledger) takeBackCommission(ctx context.Context, tx interfaces.Tx, orig models.LedgerEntry, now time.Time) error {
	if orig.Commission == 0 || orig.CommissionRecordID == "" {
		return nil
	}
	rec, err := tx.GetCommissionRecord(ctx, orig.CommissionRecordID)
	if err != nil {
		return fmt.Errorf("load commission record %s: %w", orig.CommissionRecordID, err)
	}
	if rec.Open() {
		rec.Total -= orig.Commission
		return tx.UpdateCommissionRecord(ctx, rec)
	}
	_, err = accrue(ctx, tx, orig.Currency, -orig.Commission, now)
	return err
}

func (l *Ledger) publishSettled(ctx context.Context, e models.LedgerEntry) {
	switch e.State {
	case models.StateConfirmed:
		l.publish(ctx, events.TopicEntryConfirmed, events.NewEntrySettled(e, e.UpdatedAt))
	case models.StateFailed:
		l.publish(ctx, events.TopicEntryFailed, events.NewEntrySettled(e, e.UpdatedAt))
	}
}
