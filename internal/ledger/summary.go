package ledger

import (
	"context"
	"fmt"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

// GroupBalance is a group's savings position in one currency. Only
// confirmed entries count; a reversed entry and its offset cancel out and
// are both left out.
type GroupBalance struct {
	Currency      models.Currency `json:"currency"`
	Contributions int64           `json:"contributions"`
	Payouts       int64           `json:"payouts"`
	Commission    int64           `json:"commission"`
	// Balance is what the pool holds: contributions net of commission
	// minus payouts.
	Balance      int64 `json:"balance"`
	PendingCount int   `json:"pending_count"`
}

type SavingsSummary struct {
	GroupID  string         `json:"group_id"`
	Members  int            `json:"members"`
	Balances []GroupBalance `json:"balances"`
}

func (l *Ledger) SavingsSummary(ctx context.Context, groupID string) (SavingsSummary, error) {
	var entries []models.LedgerEntry
	var members []models.Member
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		if _, err := tx.GetGroup(ctx, groupID); err != nil {
			return err
		}
		var err error
		if members, err = tx.ListGroupMembers(ctx, groupID); err != nil {
			return err
		}
		entries, err = tx.ListEntries(ctx, models.EntryFilter{GroupID: groupID})
		return err
	})
	if err != nil {
		return SavingsSummary{}, fmt.Errorf("savings summary for %s: %w", groupID, err)
	}

	byCurrency := make(map[models.Currency]*GroupBalance)
	for _, e := range entries {
		b, ok := byCurrency[e.Currency]
		if !ok {
			b = &GroupBalance{Currency: e.Currency}
			byCurrency[e.Currency] = b
		}
		if !e.State.Terminal() {
			b.PendingCount++
			continue
		}
		if e.State != models.StateConfirmed || e.ReversalOf != "" {
			continue
		}
		b.Commission += e.Commission
		switch e.Kind {
		case models.KindContribution:
			b.Contributions += e.Gross
			b.Balance += e.Net
		case models.KindPayout:
			b.Payouts += e.Gross
			b.Balance -= e.Gross
		}
	}

	summary := SavingsSummary{GroupID: groupID, Members: len(members)}
	for _, c := range models.Currencies {
		if b, ok := byCurrency[c]; ok {
			summary.Balances = append(summary.Balances, *b)
		}
	}
	return summary, nil
}

// ReviewItems lists reconciliation conflicts awaiting a person.
func (l *Ledger) ReviewItems(ctx context.Context) ([]models.ReviewItem, error) {
	var items []models.ReviewItem
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		items, err = tx.ListReviewItems(ctx)
		return err
	})
	return items, err
}

// DeadLetters lists gateway notifications that matched no entry.
func (l *Ledger) DeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	var letters []models.DeadLetter
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		letters, err = tx.ListDeadLetters(ctx)
		return err
	})
	return letters, err
}
