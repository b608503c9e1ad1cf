package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

type stubRates struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *stubRates) FetchRate(context.Context, models.CurrencyPair) (decimal.Decimal, error) {
	s.calls++
	return s.rate, s.err
}

var btcUGX = models.CurrencyPair{Base: models.BTC, Quote: models.UGX}

func TestFetchRate_CacheHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	up := &stubRates{}
	c := NewCache(db, up, time.Minute, zerolog.Nop())

	mock.ExpectGet("ajo:rate:BTC/UGX").SetVal("250000000")
	rate, err := c.FetchRate(context.Background(), btcUGX)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(250_000_000)))
	assert.Equal(t, 0, up.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRate_MissFetchesAndCaches(t *testing.T) {
	db, mock := redismock.NewClientMock()
	up := &stubRates{rate: decimal.RequireFromString("3800.5")}
	c := NewCache(db, up, time.Minute, zerolog.Nop())

	pair := models.CurrencyPair{Base: models.USDT, Quote: models.UGX}
	mock.ExpectGet("ajo:rate:USDT/UGX").RedisNil()
	mock.ExpectSet("ajo:rate:USDT/UGX", "3800.5", time.Minute).SetVal("OK")

	rate, err := c.FetchRate(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, "3800.5", rate.String())
	assert.Equal(t, 1, up.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRate_RedisDownFallsThrough(t *testing.T) {
	db, mock := redismock.NewClientMock()
	up := &stubRates{rate: decimal.NewFromInt(250_000_000)}
	c := NewCache(db, up, time.Minute, zerolog.Nop())

	mock.ExpectGet("ajo:rate:BTC/UGX").SetErr(errors.New("connection refused"))
	mock.ExpectSet("ajo:rate:BTC/UGX", "250000000", time.Minute).SetErr(errors.New("connection refused"))

	rate, err := c.FetchRate(context.Background(), btcUGX)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(250_000_000)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRate_UpstreamOfflineIsReturned(t *testing.T) {
	db, mock := redismock.NewClientMock()
	up := &stubRates{err: &models.TransientGatewayError{Op: "rate", Err: errors.New("offline")}}
	c := NewCache(db, up, time.Minute, zerolog.Nop())

	mock.ExpectGet("ajo:rate:BTC/UGX").RedisNil()
	_, err := c.FetchRate(context.Background(), btcUGX)
	assert.True(t, models.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRate_SameCurrency(t *testing.T) {
	db, _ := redismock.NewClientMock()
	rate, err := NewCache(db, &stubRates{}, 0, zerolog.Nop()).FetchRate(context.Background(), models.CurrencyPair{Base: models.UGX, Quote: models.UGX})
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}
