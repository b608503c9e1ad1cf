package simulator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

func req(key string) models.SubmitRequest {
	return models.SubmitRequest{Operation: models.OpCollect, Amount: 100_000, Currency: models.UGX, Destination: "256772000111", IdempotencyKey: key}
}

func TestSubmit_SameKeyAppliedOnce(t *testing.T) {
	sim := New()
	r1, err := sim.Submit(context.Background(), req("k1"))
	require.NoError(t, err)
	r2, err := sim.Submit(context.Background(), req("k1"))
	require.NoError(t, err)

	assert.Equal(t, r1.RemoteRef, r2.RemoteRef)
	assert.Equal(t, 1, sim.Applied())
	assert.Equal(t, 2, sim.Calls("k1"))
	assert.Equal(t, int64(100_000), sim.Settled(models.OpCollect))
}

func TestSubmit_LostResponseStillApplied(t *testing.T) {
	sim := New()
	sim.LoseNext(1)

	_, err := sim.Submit(context.Background(), req("k1"))
	assert.True(t, models.IsTransient(err))
	assert.Equal(t, 1, sim.Applied())

	r, err := sim.Submit(context.Background(), req("k1"))
	require.NoError(t, err)
	assert.Equal(t, "SIM-000001", r.RemoteRef)
	assert.Equal(t, 1, sim.Applied())
}

func TestSubmit_RejectionIsRemembered(t *testing.T) {
	sim := New()
	sim.RejectDestination("bad", "invalid destination")
	r := req("k1")
	r.Destination = "bad"

	_, err := sim.Submit(context.Background(), r)
	assert.True(t, models.IsDefinitive(err))

	sim.ClearRejections()
	_, err = sim.Submit(context.Background(), r)
	assert.True(t, models.IsDefinitive(err), "first definitive outcome wins for the key")

	n, ok := sim.Notification("k1")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeRejected, n.Outcome)
}

func TestOfflineAndRates(t *testing.T) {
	sim := New()
	pair := models.CurrencyPair{Base: models.BTC, Quote: models.UGX}
	sim.SetRate(pair, decimal.NewFromInt(250_000_000))

	rate, err := sim.FetchRate(context.Background(), pair)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(250_000_000)))

	sim.SetOnline(false)
	_, err = sim.FetchRate(context.Background(), pair)
	assert.True(t, models.IsTransient(err))
	_, err = sim.Submit(context.Background(), req("k2"))
	assert.True(t, models.IsTransient(err))
	assert.Equal(t, 0, sim.Applied())

	addr, err := sim.GenerateAddress(context.Background(), models.BTC)
	require.NoError(t, err)
	assert.Equal(t, "sim-BTC-0001", addr)
}
