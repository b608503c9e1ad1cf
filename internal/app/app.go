// Package app wires configuration into a running ledger.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/config"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/events/kafka"
	evmemory "github.com/sheikh-saqib/ajo-savings-ledger/internal/events/memory"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/gateway"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/gateway/httpgw"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/gateway/simulator"
	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/ledger"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/metrics"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/queue"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/rates"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/server"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/storage"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/syncer"
)

type App struct {
	Config  config.Config
	Log     zerolog.Logger
	Store   interfaces.LedgerStore
	Queue   *queue.Queue
	Ledger  *ledger.Ledger
	Engine  *syncer.Engine
	Metrics *metrics.Metrics
	Gateway *gateway.Guard

	closers []func() error
}

// New opens the store and builds every component. Close releases what New
// opened.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	var upstream interfaces.GatewayClient
	switch cfg.Gateway.Driver {
	case "http":
		upstream = httpgw.New(httpgw.Config{BaseURL: cfg.Gateway.BaseURL, APIKey: cfg.Gateway.APIKey, Timeout: cfg.Gateway.Timeout})
	default:
		log.Warn().Msg("using the in-process gateway simulator")
		upstream = simulator.New()
	}
	a.Gateway = gateway.NewGuard(upstream, gateway.GuardConfig{
		RequestsPerSecond:   cfg.Gateway.RequestsPerSecond,
		Burst:               cfg.Gateway.Burst,
		ConsecutiveFailures: cfg.Gateway.BreakerFailures,
		OpenTimeout:         cfg.Gateway.BreakerTimeout,
	}, log)

	var publisher interfaces.EventPublisher = evmemory.NewPublisher(1000)
	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewPublisher(cfg.Kafka.Brokers)
		publisher = kp
		a.closers = append(a.closers, kp.Close)
	}

	ledgerCfg, err := LedgerConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Queue = queue.New(store, queue.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseDelay:   cfg.Queue.BaseDelay,
		MaxDelay:    cfg.Queue.MaxDelay,
	})

	opts := []ledger.Option{
		ledger.WithGateway(a.Gateway),
		ledger.WithAddressProvider(a.Gateway),
		ledger.WithPublisher(publisher),
		ledger.WithLogger(log),
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, client.Close)
		opts = append(opts, ledger.WithRates(rates.NewCache(client, a.Gateway, cfg.Redis.RateTTL, log)))
	}
	a.Ledger = ledger.NewLedger(store, a.Queue, ledgerCfg, opts...)

	a.Engine = syncer.NewEngine(store, a.Ledger, a.Queue, a.Gateway, syncer.Config{
		Workers:     cfg.Sync.Workers,
		BatchSize:   cfg.Sync.BatchSize,
		Interval:    cfg.Sync.Interval,
		CallTimeout: cfg.Sync.CallTimeout,
		ClaimTTL:    cfg.Sync.ClaimTTL,
		Owner:       cfg.Sync.Owner,
	}, syncer.WithPublisher(publisher), syncer.WithMetrics(a.Metrics), syncer.WithLogger(log))
	return a, nil
}

// LedgerConfig translates the ledger section.
func LedgerConfig(cfg config.Config) (ledger.Config, error) {
	rate, err := cfg.CommissionRate()
	if err != nil {
		return ledger.Config{}, err
	}
	out := ledger.Config{
		CommissionRate:    rate,
		CommissionAccount: cfg.Ledger.CommissionAccount,
		Bounds:            make(map[models.Currency]ledger.Bounds, len(cfg.Ledger.Bounds)),
	}
	for name, b := range cfg.Ledger.Bounds {
		c, err := models.ParseCurrency(name)
		if err != nil {
			return ledger.Config{}, err
		}
		out.Bounds[c] = ledger.Bounds{Min: b.Min, Max: b.Max}
	}
	return out, nil
}

// Serve runs the HTTP API, the sync loop and, when Kafka is configured, the
// notification consumer until ctx is done or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan syncer.Connectivity, 1)
	srv := server.New(server.Config{
		Addr:         a.Config.HTTP.Addr,
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
	}, a.Ledger, a.Engine, a.Metrics, a.Log, server.WithConnectivity(signals))

	errCh := make(chan error, 3)
	running := 0
	start := func(name string, fn func() error) {
		running++
		go func() {
			err := fn()
			if err != nil {
				err = fmt.Errorf("%s: %w", name, err)
			}
			errCh <- err
		}()
	}

	start("http", srv.Start)
	start("sync", func() error { return a.Engine.Run(ctx, syncer.Online, signals) })
	if len(a.Config.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(a.Config.Kafka.Brokers, a.Config.Kafka.GroupID, a.Config.Kafka.NotificationsTopic, a.applyNotification, a.Log)
		defer consumer.Close()
		start("notifications", func() error { return consumer.Run(ctx) })
	}

	var first error
	select {
	case <-ctx.Done():
	case first = <-errCh:
		running--
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Error().Err(err).Msg("http shutdown")
	}
	for ; running > 0; running-- {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// applyNotification drops notifications that can never apply so they do
// not block the topic.
func (a *App) applyNotification(ctx context.Context, n models.Notification) error {
	_, err := a.Engine.HandleNotification(ctx, n)
	if models.IsValidation(err) {
		a.Log.Warn().Err(err).Msg("discarding invalid notification")
		return nil
	}
	return err
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
