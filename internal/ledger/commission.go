package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/commission"
	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models/events"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/reconcile"
)

// accrue adds amount (negative for a take-back) to the open record of the
// current period, creating it if needed.
func accrue(ctx context.Context, tx interfaces.Tx, c models.Currency, amount int64, at time.Time) (models.CommissionRecord, error) {
	period := models.AccrualPeriod(at)
	rec, err := tx.OpenCommissionRecord(ctx, period, c)
	if errors.Is(err, models.ErrNotFound) {
		rec = models.CommissionRecord{
			ID:        uuid.New().String(),
			Period:    period,
			Currency:  c,
			Total:     amount,
			CreatedAt: at,
		}
		if err := tx.InsertCommissionRecord(ctx, rec); err != nil {
			return models.CommissionRecord{}, fmt.Errorf("open commission record %s %s: %w", period, c, err)
		}
		return rec, nil
	}
	if err != nil {
		return models.CommissionRecord{}, err
	}
	rec.Total += amount
	if err := tx.UpdateCommissionRecord(ctx, rec); err != nil {
		return models.CommissionRecord{}, fmt.Errorf("accrue commission %s %s: %w", period, c, err)
	}
	return rec, nil
}

// CommissionTotal summarises commission for one currency. UGXEquivalent
// prices the pending amount at the current quoted rate and is nil when no
// rate could be fetched.
type CommissionTotal struct {
	Currency      models.Currency `json:"currency"`
	Accrued       int64           `json:"accrued"`
	Transferred   int64           `json:"transferred"`
	Pending       int64           `json:"pending"`
	InTransfer    int64           `json:"in_transfer"`
	UGXEquivalent *int64          `json:"ugx_equivalent,omitempty"`
}

type CommissionSummary struct {
	Totals  []CommissionTotal         `json:"totals"`
	Records []models.CommissionRecord `json:"records"`
}

func (l *Ledger) CommissionSummary(ctx context.Context) (CommissionSummary, error) {
	var records []models.CommissionRecord
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		records, err = tx.ListCommissionRecords(ctx, models.CommissionFilter{})
		return err
	})
	if err != nil {
		return CommissionSummary{}, fmt.Errorf("commission summary: %w", err)
	}

	byCurrency := make(map[models.Currency]*CommissionTotal)
	for _, r := range records {
		t, ok := byCurrency[r.Currency]
		if !ok {
			t = &CommissionTotal{Currency: r.Currency}
			byCurrency[r.Currency] = t
		}
		t.Accrued += r.Total
		switch {
		case r.Transferred:
			t.Transferred += r.Total
		case r.TransferKey != "":
			t.InTransfer += r.Total
			t.Pending += r.Total
		default:
			t.Pending += r.Total
		}
	}

	summary := CommissionSummary{Records: records}
	for _, c := range models.Currencies {
		t, ok := byCurrency[c]
		if !ok {
			continue
		}
		t.UGXEquivalent = l.ugxEquivalent(ctx, c, t.Pending)
		summary.Totals = append(summary.Totals, *t)
	}
	return summary, nil
}

func (l *Ledger) ugxEquivalent(ctx context.Context, c models.Currency, amount int64) *int64 {
	if c == models.UGX {
		return &amount
	}
	if l.rates == nil {
		return nil
	}
	pair := models.CurrencyPair{Base: c, Quote: models.UGX}
	rate, err := l.rates.FetchRate(ctx, pair)
	if err != nil {
		l.log.Debug().Err(err).Str("pair", pair.String()).Msg("rate unavailable, omitting UGX equivalent")
		return nil
	}
	v := commission.Convert(amount, c, models.UGX, rate)
	return &v
}

// TransferResult describes a completed commission transfer.
type TransferResult struct {
	Currency    models.Currency `json:"currency"`
	Amount      int64           `json:"amount"`
	RecordIDs   []string        `json:"record_ids"`
	TransferKey string          `json:"transfer_key"`
	RemoteRef   string          `json:"remote_ref"`
	At          time.Time       `json:"transferred_at"`
}

// TransferCommission moves the pending commission for one currency to the
// commission account. Records are sealed under a transfer key before the
// gateway call and flagged transferred only once the gateway confirms. A
// rejection unseals them; a transient failure leaves them sealed so the
// next attempt reuses the same key.
func (l *Ledger) TransferCommission(ctx context.Context, c models.Currency) (TransferResult, error) {
	if !c.Valid() {
		return TransferResult{}, invalid("currency", "unsupported currency %q", c)
	}
	if l.gateway == nil {
		return TransferResult{}, &models.TransientGatewayError{Op: "commission transfer", Err: errors.New("no gateway configured")}
	}

	mu := l.getLock("transfer:" + string(c))
	mu.Lock()
	defer mu.Unlock()

	sealed, err := l.sealPending(ctx, c)
	if err != nil {
		return TransferResult{}, err
	}
	res := TransferResult{Currency: c, TransferKey: sealed[0].TransferKey}
	for _, r := range sealed {
		res.Amount += r.Total
		res.RecordIDs = append(res.RecordIDs, r.ID)
	}

	log := l.log.With().Str("currency", string(c)).Str("transfer_key", res.TransferKey).Int64("amount", res.Amount).Logger()
	receipt, err := l.gateway.Submit(ctx, models.SubmitRequest{
		Operation:      models.OpCommissionTransfer,
		Amount:         res.Amount,
		Currency:       c,
		Destination:    l.cfg.CommissionAccount,
		IdempotencyKey: res.TransferKey,
	})
	switch {
	case err == nil:
	case models.IsDefinitive(err):
		log.Warn().Err(err).Msg("commission transfer rejected, unsealing records")
		if uerr := l.unseal(ctx, res.TransferKey); uerr != nil {
			return TransferResult{}, errors.Join(err, uerr)
		}
		return TransferResult{}, err
	default:
		log.Warn().Err(err).Msg("commission transfer not confirmed, records stay sealed")
		if !models.IsTransient(err) {
			err = &models.TransientGatewayError{Op: "commission transfer", Err: err}
		}
		return TransferResult{}, err
	}

	res.RemoteRef = receipt.RemoteRef
	res.At = l.clock()
	err = l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		records, err := tx.ListCommissionRecords(ctx, models.CommissionFilter{TransferKey: res.TransferKey})
		if err != nil {
			return err
		}
		for _, r := range records {
			at := res.At
			r.Transferred = true
			r.TransferredAt = &at
			r.TransferRef = receipt.RemoteRef
			if err := tx.UpdateCommissionRecord(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, fmt.Errorf("record commission transfer %s: %w", res.TransferKey, err)
	}

	log.Info().Str("remote_ref", res.RemoteRef).Msg("commission transferred")
	l.publish(ctx, events.TopicCommissionTransferred, events.CommissionTransferred{
		Currency:    c,
		Amount:      res.Amount,
		RecordIDs:   res.RecordIDs,
		TransferKey: res.TransferKey,
		RemoteRef:   res.RemoteRef,
		OccurredAt:  res.At,
	})
	return res, nil
}

// sealPending returns the records to transfer, all carrying one transfer
// key. A set sealed by an earlier unconfirmed attempt is resumed as is.
func (l *Ledger) sealPending(ctx context.Context, c models.Currency) ([]models.CommissionRecord, error) {
	var sealed []models.CommissionRecord
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		pending, err := tx.ListCommissionRecords(ctx, models.CommissionFilter{Currency: c, Pending: true})
		if err != nil {
			return err
		}
		var open []models.CommissionRecord
		var total int64
		for _, r := range pending {
			if r.TransferKey != "" {
				sealed = append(sealed, r)
				continue
			}
			open = append(open, r)
			total += r.Total
		}
		if len(sealed) > 0 {
			key := sealed[0].TransferKey
			resumed := sealed[:0]
			for _, r := range sealed {
				if r.TransferKey == key {
					resumed = append(resumed, r)
				}
			}
			sealed = resumed
			return nil
		}
		if len(open) == 0 || total <= 0 {
			return models.ErrNothingToTransfer
		}

		ids := make([]string, 0, len(open))
		for _, r := range open {
			ids = append(ids, r.ID)
		}
		sort.Strings(ids)
		key := reconcile.TransferKey(ids, l.clock())
		for _, r := range open {
			r.TransferKey = key
			if err := tx.UpdateCommissionRecord(ctx, r); err != nil {
				return err
			}
			sealed = append(sealed, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

func (l *Ledger) unseal(ctx context.Context, key string) error {
	return l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		records, err := tx.ListCommissionRecords(ctx, models.CommissionFilter{TransferKey: key})
		if err != nil {
			return err
		}
		for _, r := range records {
			r.TransferKey = ""
			if err := tx.UpdateCommissionRecord(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// SettleTransfer applies a gateway notification to the commission records
// sealed under its key. It reports false when no record carries the key.
func (l *Ledger) SettleTransfer(ctx context.Context, n models.Notification) (bool, error) {
	if n.IdempotencyKey == "" {
		return false, nil
	}
	var settled *events.CommissionTransferred
	var found bool
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		records, err := tx.ListCommissionRecords(ctx, models.CommissionFilter{TransferKey: n.IdempotencyKey})
		if err != nil || len(records) == 0 {
			return err
		}
		found = true
		now := l.clock()
		ev := events.CommissionTransferred{Currency: records[0].Currency, TransferKey: n.IdempotencyKey, RemoteRef: n.RemoteRef, OccurredAt: now}
		for _, r := range records {
			if r.Transferred {
				continue
			}
			switch n.Outcome {
			case models.OutcomeConfirmed:
				at := now
				r.Transferred = true
				r.TransferredAt = &at
				r.TransferRef = n.RemoteRef
				ev.Amount += r.Total
				ev.RecordIDs = append(ev.RecordIDs, r.ID)
			case models.OutcomeRejected:
				r.TransferKey = ""
			}
			if err := tx.UpdateCommissionRecord(ctx, r); err != nil {
				return err
			}
		}
		if len(ev.RecordIDs) > 0 {
			settled = &ev
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("settle commission transfer %s: %w", n.IdempotencyKey, err)
	}
	if settled != nil {
		l.publish(ctx, events.TopicCommissionTransferred, *settled)
	}
	return found, nil
}
