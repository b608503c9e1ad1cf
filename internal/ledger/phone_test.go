package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+256772000111", "256772000111"},
		{"256772000111", "256772000111"},
		{"0772000111", "256772000111"},
		{"772000111", "256772000111"},
		{" +256 (772) 000-111 ", "256772000111"},
	}
	for _, tt := range tests {
		got, err := normalizePhone("phone", tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"", "abc", "25677200011", "+254772000111", "07720001112", "sim-BTC-0001"} {
		_, err := normalizePhone("phone", bad)
		assert.True(t, models.IsValidation(err), "%q should be refused", bad)
	}
}

func TestRegisterMember_NormalizesPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.ledger.RegisterMember(ctx, "Kato Moses", "0701 234 567")
	require.NoError(t, err)
	assert.Equal(t, "256701234567", m.Phone)

	noPhone, err := f.ledger.RegisterMember(ctx, "Wallet Only", "")
	require.NoError(t, err)
	assert.Empty(t, noPhone.Phone)

	_, err = f.ledger.RegisterMember(ctx, "Opio Denis", "12345")
	assert.True(t, models.IsValidation(err))
}

func TestCreateEntry_MobileMoneyDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(20_000, models.UGX)
	req.Destination = "+256 772 000 999"
	p, err := f.ledger.RecordPayout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "256772000999", p.Destination)

	req.Destination = "not-a-phone"
	_, err = f.ledger.RecordPayout(ctx, req)
	assert.True(t, models.IsValidation(err))
	_, err = f.ledger.RecordContribution(ctx, req)
	assert.True(t, models.IsValidation(err))

	crypto := f.request(5_000_000, models.USDT)
	crypto.Destination = "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE"
	c, err := f.ledger.RecordPayout(ctx, crypto)
	require.NoError(t, err)
	assert.Equal(t, crypto.Destination, c.Destination, "wallet addresses pass through")
}
