// Package gateway guards a gateway client with a circuit breaker and an
// outbound rate limit.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	cb "github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

type GuardConfig struct {
	// RequestsPerSecond <= 0 disables the limiter.
	RequestsPerSecond float64
	Burst             int
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{RequestsPerSecond: 10, Burst: 5, ConsecutiveFailures: 3, OpenTimeout: 60 * time.Second}
}

// Guard is a GatewayClient. Only transient failures count against the
// breaker; a rejection is a healthy answer. An open breaker fails fast
// with a transient error, so queue items back off instead of piling calls
// onto a gateway that is down.
type Guard struct {
	next    interfaces.GatewayClient
	breaker *cb.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewGuard(next interfaces.GatewayClient, cfg GuardConfig, log zerolog.Logger) *Guard {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	g := &Guard{next: next, log: log.With().Str("component", "gateway").Logger()}

	st := cb.Settings{Name: "gateway"}
	st.Interval = 60 * time.Second
	st.Timeout = cfg.OpenTimeout
	st.ReadyToTrip = func(counts cb.Counts) bool {
		return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
	}
	st.IsSuccessful = func(err error) bool {
		return err == nil || models.IsDefinitive(err)
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		g.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	}
	g.breaker = cb.NewCircuitBreaker(st)

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g
}

// State reports the breaker state, e.g. for the health endpoint.
func (g *Guard) State() string { return g.breaker.State().String() }

func (g *Guard) Submit(ctx context.Context, req models.SubmitRequest) (models.Receipt, error) {
	out, err := g.execute(ctx, string(req.Operation), func() (any, error) {
		return g.next.Submit(ctx, req)
	})
	if err != nil {
		return models.Receipt{}, err
	}
	return out.(models.Receipt), nil
}

func (g *Guard) FetchRate(ctx context.Context, pair models.CurrencyPair) (decimal.Decimal, error) {
	out, err := g.execute(ctx, "rate", func() (any, error) {
		return g.next.FetchRate(ctx, pair)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return out.(decimal.Decimal), nil
}

// GenerateAddress delegates to the wrapped client when it can hand out
// deposit addresses.
func (g *Guard) GenerateAddress(ctx context.Context, c models.Currency) (string, error) {
	ap, ok := g.next.(interfaces.AddressProvider)
	if !ok {
		return "", errors.New("gateway cannot generate addresses")
	}
	out, err := g.execute(ctx, "address", func() (any, error) {
		return ap.GenerateAddress(ctx, c)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (g *Guard) execute(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &models.TransientGatewayError{Op: op, Err: err}
		}
	}
	out, err := g.breaker.Execute(fn)
	if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
		return nil, &models.TransientGatewayError{Op: op, Err: err}
	}
	return out, err
}

var (
	_ interfaces.GatewayClient   = (*Guard)(nil)
	_ interfaces.AddressProvider = (*Guard)(nil)
)
