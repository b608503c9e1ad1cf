package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]EntryState]bool{
		{StatePending, StateSubmitted}:   true,
		{StatePending, StateConfirmed}:   true,
		{StatePending, StateFailed}:      true,
		{StateSubmitted, StateConfirmed}: true,
		{StateSubmitted, StateFailed}:    true,
		{StateConfirmed, StateReversed}:  true,
		{StateFailed, StatePending}:      true,
	}
	states := []EntryState{StatePending, StateSubmitted, StateConfirmed, StateFailed, StateReversed}
	for _, from := range states {
		for _, to := range states {
			assert.Equal(t, allowed[[2]EntryState{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestLedgerEntryTransition(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := LedgerEntry{ID: "e1", State: StatePending}

	require.NoError(t, e.Transition(StateSubmitted, "", at))
	require.NoError(t, e.Transition(StateConfirmed, "MM-1", at))
	assert.Equal(t, "MM-1", e.RemoteRef)
	assert.Equal(t, at, e.UpdatedAt)

	err := e.Transition(StatePending, "", at)
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, StateConfirmed, e.State)

	// a confirmed reference never changes
	err = e.Transition(StateReversed, "MM-2", at)
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, "MM-1", e.RemoteRef)
}

func TestCurrencyToMinor(t *testing.T) {
	tests := []struct {
		currency Currency
		amount   string
		want     int64
		wantErr  bool
	}{
		{UGX, "100000", 100_000, false},
		{UGX, "10.5", 0, true},
		{BTC, "0.00012345", 12_345, false},
		{BTC, "1", 100_000_000, false},
		{BTC, "0.000000001", 0, true},
		{USDT, "25.5", 25_500_000, false},
		{USDT, "99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.currency, tt.amount), func(t *testing.T) {
			got, err := tt.currency.ToMinor(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, tt.currency.FromMinor(got).Equal(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency(" usdt ")
	require.NoError(t, err)
	assert.Equal(t, USDT, c)
	assert.True(t, c.IsCrypto())
	assert.False(t, UGX.IsCrypto())

	_, err = ParseCurrency("KES")
	assert.True(t, IsValidation(err))
}

func TestQueueLess(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	payout := QueueItem{ID: "b", Priority: KindPayout.Priority(), CreatedAt: t0.Add(time.Hour)}
	early := QueueItem{ID: "c", Priority: KindContribution.Priority(), CreatedAt: t0}
	late := QueueItem{ID: "a", Priority: KindContribution.Priority(), CreatedAt: t0.Add(time.Minute)}

	assert.True(t, QueueLess(payout, early))
	assert.True(t, QueueLess(early, late))
	assert.False(t, QueueLess(late, early))
}

func TestQueueItemReady(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, QueueItem{NextEligibleAt: now}.Ready(now))
	assert.False(t, QueueItem{NextEligibleAt: now.Add(time.Second)}.Ready(now))
	assert.False(t, QueueItem{NextEligibleAt: now, InFlight: true}.Ready(now))
}

func TestErrorClassification(t *testing.T) {
	transient := fmt.Errorf("submit: %w", &TransientGatewayError{Op: "collect", Err: errors.New("timeout")})
	definitive := fmt.Errorf("submit: %w", &DefinitiveGatewayError{Reason: "invalid account", Code: "422"})

	assert.True(t, IsTransient(transient))
	assert.False(t, IsDefinitive(transient))
	assert.True(t, IsDefinitive(definitive))
	assert.False(t, IsTransient(definitive))
	assert.Contains(t, definitive.Error(), "invalid account")

	v := &ValidationError{Field: "gross", Reason: "must be positive"}
	assert.Equal(t, "validation failed on gross: must be positive", v.Error())
}

func TestAccrualPeriod(t *testing.T) {
	kampala := time.FixedZone("EAT", 3*60*60)
	at := time.Date(2026, 4, 1, 1, 0, 0, 0, kampala)
	assert.Equal(t, "2026-03", AccrualPeriod(at))
}
