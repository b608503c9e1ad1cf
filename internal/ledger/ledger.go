package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/queue"
)

// Bounds are the accepted gross amounts, in smallest units, for one currency.
type Bounds struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

type Config struct {
	CommissionRate decimal.Decimal
	Bounds         map[models.Currency]Bounds
	// CommissionAccount receives commission transfers.
	CommissionAccount string
}

// DefaultConfig charges 1% and accepts 1,000 to 10,000,000 UGX per entry.
func DefaultConfig() Config {
	return Config{
		CommissionRate: decimal.RequireFromString("0.01"),
		Bounds: map[models.Currency]Bounds{
			models.UGX:  {Min: 1_000, Max: 10_000_000},
			models.BTC:  {Min: 10_000, Max: 100_000_000},
			models.USDT: {Min: 1_000_000, Max: 10_000_000_000},
		},
		CommissionAccount: "ajo-commission",
	}
}

// Ledger records contributions and payouts and owns every entry and
// commission record change. Entry creation commits the entry and its queue
// item together; the sync engine takes it from there.
type Ledger struct {
	store     interfaces.LedgerStore
	queue     *queue.Queue
	cfg       Config
	addresses interfaces.AddressProvider
	gateway   interfaces.GatewayClient
	rates     interfaces.RateProvider
	publisher interfaces.EventPublisher
	now       func() time.Time
	log       zerolog.Logger

	muMap map[string]*sync.Mutex // one writer per entry, or per currency for transfers
	mapMu sync.Mutex             // protects muMap
}

type Option func(*Ledger)

func WithAddressProvider(p interfaces.AddressProvider) Option {
	return func(l *Ledger) { l.addresses = p }
}

// WithGateway sets the gateway used for commission transfers. It also
// serves quoted rates unless WithRates is given.
func WithGateway(g interfaces.GatewayClient) Option {
	return func(l *Ledger) {
		l.gateway = g
		if l.rates == nil {
			l.rates = g
		}
	}
}

func WithRates(r interfaces.RateProvider) Option {
	return func(l *Ledger) { l.rates = r }
}

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log.With().Str("component", "ledger").Logger() }
}

// NewLedger wires the service to a store and the queue that drains it.
func NewLedger(store interfaces.LedgerStore, q *queue.Queue, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		queue: q,
		cfg:   cfg,
		now:   time.Now,
		log:   zerolog.Nop(),
		muMap: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Config() Config { return l.cfg }

func (l *Ledger) clock() time.Time { return l.now().UTC() }

func (l *Ledger) getLock(key string) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[key]; !exists {
		l.muMap[key] = &sync.Mutex{}
	}
	return l.muMap[key]
}

// publish sends an event after commit. The ledger is already consistent at
// that point, so a failed publish is logged and dropped.
func (l *Ledger) publish(ctx context.Context, topic string, event any) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, topic, event); err != nil {
		l.log.Warn().Err(err).Str("topic", topic).Msg("publish event failed")
	}
}
