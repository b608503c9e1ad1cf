package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/config"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/syncer"
)

func TestNew_EndToEndWithSimulator(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	g, err := a.Ledger.CreateGroup(ctx, "Wandegeya Market")
	require.NoError(t, err)
	m, err := a.Ledger.RegisterMember(ctx, "Auma Ruth", "256789000333")
	require.NoError(t, err)
	require.NoError(t, a.Ledger.AddMemberToGroup(ctx, g.ID, m.ID))

	e, err := a.Ledger.RecordContribution(ctx, models.EntryRequest{GroupID: g.ID, MemberID: m.ID, Gross: 100_000, Currency: models.UGX})
	require.NoError(t, err)

	report, err := a.Engine.Trigger(ctx, syncer.Online)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Confirmed)

	got, err := a.Ledger.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, got.State)
	assert.Equal(t, "closed", a.Gateway.State())
}

func TestLedgerConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.CommissionRate = "0.025"
	lc, err := LedgerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "0.025", lc.CommissionRate.String())
	assert.Equal(t, int64(1_000), lc.Bounds[models.UGX].Min)

	cfg.Ledger.Bounds["XYZ"] = config.Bounds{}
	_, err = LedgerConfig(cfg)
	assert.True(t, models.IsValidation(err))
}

func TestApplyNotification_DropsInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.NoError(t, a.applyNotification(context.Background(), models.Notification{Outcome: "maybe", IdempotencyKey: "k"}))
	assert.NoError(t, a.applyNotification(context.Background(), models.Notification{Outcome: models.OutcomeConfirmed, IdempotencyKey: "k"}))
	letters, err := a.Ledger.DeadLetters(context.Background())
	require.NoError(t, err)
	assert.Len(t, letters, 1)
}
