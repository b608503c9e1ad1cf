// Package rates caches quoted exchange rates in Redis.
package rates

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

const keyPrefix = "ajo:rate:"

// Cache is a RateProvider that serves quotes from Redis and fetches misses
// from the upstream provider. A Redis outage degrades to upstream calls.
type Cache struct {
	client   *redis.Client
	upstream interfaces.RateProvider
	ttl      time.Duration
	log      zerolog.Logger
}

func NewCache(client *redis.Client, upstream interfaces.RateProvider, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, upstream: upstream, ttl: ttl, log: log.With().Str("component", "rates").Logger()}
}

func Key(pair models.CurrencyPair) string {
	return keyPrefix + pair.String()
}

func (c *Cache) FetchRate(ctx context.Context, pair models.CurrencyPair) (decimal.Decimal, error) {
	if pair.Base == pair.Quote {
		return decimal.NewFromInt(1), nil
	}
	key := Key(pair)

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		rate, perr := decimal.NewFromString(val)
		if perr == nil && rate.IsPositive() {
			return rate, nil
		}
		c.log.Warn().Str("key", key).Str("value", val).Msg("discarding unparsable cached rate")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("key", key).Msg("rate cache unavailable")
	}

	rate, err := c.upstream.FetchRate(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.client.Set(ctx, key, rate.String(), c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("caching rate failed")
	}
	return rate, nil
}

var _ interfaces.RateProvider = (*Cache)(nil)
