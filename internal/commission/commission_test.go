package commission

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

func TestCompute_OnePercentOfContribution(t *testing.T) {
	commission, net, err := Compute(100_000, decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), commission)
	assert.Equal(t, int64(99_000), net)
}

func TestCompute_RoundsHalfUp(t *testing.T) {
	tests := []struct {
		gross int64
		rate  string
		want  int64
	}{
		{gross: 150, rate: "0.01", want: 2},      // 1.5 -> 2
		{gross: 149, rate: "0.01", want: 1},      // 1.49 -> 1
		{gross: 250, rate: "0.01", want: 3},      // 2.5 -> 3
		{gross: 1, rate: "0.5", want: 1},         // 0.5 -> 1
		{gross: 12345, rate: "0.025", want: 309}, // 308.625 -> 309
		{gross: 0, rate: "0.01", want: 0},
		{gross: 20_000, rate: "0.01", want: 200},
		{gross: 99, rate: "0", want: 0},
		{gross: 99, rate: "1", want: 99},
	}
	for _, tt := range tests {
		commission, net, err := Compute(tt.gross, decimal.RequireFromString(tt.rate))
		require.NoError(t, err)
		assert.Equal(t, tt.want, commission, "gross=%d rate=%s", tt.gross, tt.rate)
		assert.Equal(t, tt.gross-tt.want, net)
	}
}

func TestCompute_BalancedAndDeterministic(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 2000; i++ {
		gross := r.Int64N(1_000_000_000_000)
		rate := decimal.New(r.Int64N(10_001), -4) // 0.0000 .. 1.0000

		c1, n1, err := Compute(gross, rate)
		require.NoError(t, err)
		c2, n2, err := Compute(gross, rate)
		require.NoError(t, err)

		assert.Equal(t, gross, c1+n1)
		assert.Equal(t, c1, c2)
		assert.Equal(t, n1, n2)
		assert.GreaterOrEqual(t, c1, int64(0))
		assert.LessOrEqual(t, c1, gross)
	}
}

func TestCompute_RejectsBadInput(t *testing.T) {
	_, _, err := Compute(-1, decimal.RequireFromString("0.01"))
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, _, err = Compute(100, decimal.RequireFromString("-0.01"))
	assert.ErrorIs(t, err, ErrRateRange)

	_, _, err = Compute(100, decimal.RequireFromString("1.5"))
	assert.ErrorIs(t, err, ErrRateRange)
}

func TestConvert(t *testing.T) {
	// 0.001 BTC at 45,000,000 UGX/BTC
	got := Convert(100_000, models.BTC, models.UGX, decimal.NewFromInt(45_000_000))
	assert.Equal(t, int64(45_000), got)

	// 2.5 USDT at 3800 UGX/USDT
	got = Convert(2_500_000, models.USDT, models.UGX, decimal.NewFromInt(3800))
	assert.Equal(t, int64(9_500), got)

	// UGX to BTC, 22.5 satoshi rounds up
	got = Convert(1, models.UGX, models.BTC, decimal.RequireFromString("0.000000225"))
	assert.Equal(t, int64(23), got)
}
