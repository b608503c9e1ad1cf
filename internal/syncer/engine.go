// Package syncer drains the operation queue against the payment gateway
// and applies gateway notifications to the ledger.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/ledger"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/metrics"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models/events"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/queue"
)

// Connectivity is the caller's view of the network at trigger time. The
// engine keeps no global notion of being online.
type Connectivity int

const (
	Offline Connectivity = iota
	Online
)

func (c Connectivity) String() string {
	if c == Online {
		return "online"
	}
	return "offline"
}

type Config struct {
	Workers   int
	BatchSize int
	// Interval between scheduled passes in Run.
	Interval time.Duration
	// CallTimeout bounds each gateway call; expiry is a transient failure.
	CallTimeout time.Duration
	// ClaimTTL is how old a claim must be before Run's startup treats it as
	// abandoned.
	ClaimTTL time.Duration
	// Owner tags claims made by this engine.
	Owner string
}

func DefaultConfig() Config {
	return Config{
		Workers:     4,
		BatchSize:   50,
		Interval:    5 * time.Minute,
		CallTimeout: 30 * time.Second,
		ClaimTTL:    10 * time.Minute,
	}
}

// Report summarises one drain pass.
type Report struct {
	Skipped   bool `json:"skipped"`
	Claimed   int  `json:"claimed"`
	Confirmed int  `json:"confirmed"`
	Failed    int  `json:"failed"`
	Retried   int  `json:"retried"`
	NoOps     int  `json:"noops"`
	Conflicts int  `json:"conflicts"`
	Errors    int  `json:"errors"`
	Released  int  `json:"released"`
}

func (r *Report) add(o itemOutcome) {
	switch o {
	case outcomeConfirmed:
		r.Confirmed++
	case outcomeFailed:
		r.Failed++
	case outcomeRetry:
		r.Retried++
	case outcomeNoOp:
		r.NoOps++
	case outcomeConflict:
		r.Conflicts++
	case outcomeError:
		r.Errors++
	}
}

type Engine struct {
	store     interfaces.LedgerStore
	ledger    *ledger.Ledger
	queue     *queue.Queue
	gateway   interfaces.GatewayClient
	publisher interfaces.EventPublisher
	metrics   *metrics.Metrics
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

type Option func(*Engine)

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log.With().Str("component", "syncer").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store interfaces.LedgerStore, l *ledger.Ledger, q *queue.Queue, gw interfaces.GatewayClient, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if cfg.Owner == "" {
		cfg.Owner = "sync-" + uuid.New().String()[:8]
	}
	e := &Engine{
		store:   store,
		ledger:  l,
		queue:   q,
		gateway: gw,
		cfg:     cfg,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Trigger runs one drain pass: it claims ready items batch by batch and
// submits each once. Offline, it does nothing. When ctx is cancelled,
// calls already started finish and are applied, and claims not yet started
// are released before Trigger returns.
func (e *Engine) Trigger(ctx context.Context, conn Connectivity) (Report, error) {
	var report Report
	if conn != Online {
		report.Skipped = true
		e.metrics.Pass("skipped")
		return report, nil
	}

	// An item is attempted at most once per pass; one that comes back ready
	// in the same pass waits for the next one.
	seen := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			e.metrics.Pass("cancelled")
			return report, err
		}
		claimed, err := e.queue.DequeueReady(ctx, e.cfg.BatchSize, e.cfg.Owner)
		if err != nil {
			e.metrics.Pass("error")
			return report, err
		}
		if len(claimed) == 0 {
			break
		}
		items, again := splitSeen(claimed, seen)
		if len(again) > 0 {
			if err := e.queue.Release(context.WithoutCancel(ctx), again); err != nil {
				e.log.Error().Err(err).Int("items", len(again)).Msg("release repeated claims")
			}
		}
		if len(items) == 0 {
			break
		}
		report.Claimed += len(items)

		unstarted := e.drain(ctx, items, &report)
		if len(unstarted) > 0 {
			if err := e.queue.Release(context.WithoutCancel(ctx), unstarted); err != nil {
				e.log.Error().Err(err).Int("items", len(unstarted)).Msg("release unstarted claims")
			}
			report.Released += len(unstarted)
		}
		if len(claimed) < e.cfg.BatchSize {
			break
		}
	}

	if queued, inFlight, err := e.queue.Depth(context.WithoutCancel(ctx)); err == nil {
		e.metrics.QueueDepth(queued, inFlight)
	}
	if err := ctx.Err(); err != nil {
		e.metrics.Pass("cancelled")
		return report, err
	}
	e.metrics.Pass("completed")
	if report.Claimed > 0 {
		e.log.Info().
			Int("claimed", report.Claimed).
			Int("confirmed", report.Confirmed).
			Int("failed", report.Failed).
			Int("retried", report.Retried).
			Int("conflicts", report.Conflicts).
			Msg("sync pass finished")
	}
	return report, nil
}

// drain hands items to the worker pool and returns those never started.
// Once ctx is done no new item starts; items already started finish.
func (e *Engine) drain(ctx context.Context, items []models.QueueItem, report *Report) []models.QueueItem {
	type result struct {
		idx     int
		outcome itemOutcome
		started bool
	}
	indexCh := make(chan int)
	results := make(chan result, len(items))
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if ctx.Err() != nil {
				results <- result{idx: idx}
				continue
			}
			results <- result{idx: idx, outcome: e.safeProcess(ctx, items[idx]), started: true}
		}
	}
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go worker()
	}

	sent := 0
Loop:
	for sent < len(items) {
		select {
		case indexCh <- sent:
			sent++
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(results)

	unstarted := append([]models.QueueItem(nil), items[sent:]...)
	for r := range results {
		if !r.started {
			unstarted = append(unstarted, items[r.idx])
			continue
		}
		report.add(r.outcome)
	}
	return unstarted
}

// safeProcess keeps one item's failure, including a panic, from stopping
// the pass. The failure is counted as an attempt so the item backs off and
// is eventually given up on.
func (e *Engine) safeProcess(ctx context.Context, item models.QueueItem) (out itemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("entry_id", item.EntryID).Msg("sync item panicked")
			out = outcomeError
			e.recordFailure(context.WithoutCancel(ctx), item, fmt.Errorf("sync item panicked: %v", r))
		}
	}()
	out, err := e.process(ctx, item)
	if err != nil {
		ev := e.log.Error().Err(err).Str("entry_id", item.EntryID).Str("idempotency_key", item.IdempotencyKey)
		if models.IsInvalidTransition(err) {
			ev = ev.Bool("integrity", true)
		}
		ev.Msg("sync item failed")
		e.recordFailure(context.WithoutCancel(ctx), item, err)
		return outcomeError
	}
	return out
}

// recordFailure writes a processing error onto the entry and its queue item
// in a transaction of its own, as a retryable attempt. Items no longer held
// by this claim are left as they are.
func (e *Engine) recordFailure(ctx context.Context, item models.QueueItem, cause error) {
	var settled models.LedgerEntry
	err := e.store.WithTx(ctx, func(tx interfaces.Tx) error {
		current, err := tx.GetQueueItemByEntry(ctx, item.EntryID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !current.InFlight || current.ClaimedBy != item.ClaimedBy {
			return nil
		}
		entry, err := tx.GetEntry(ctx, item.EntryID)
		if err != nil {
			return err
		}
		if entry.State.Terminal() {
			return tx.DeleteQueueItem(ctx, current.ID)
		}
		settled, err = e.queue.MarkAttempt(ctx, tx, current, queue.Retryable, cause)
		return err
	})
	if err != nil {
		e.log.Error().Err(err).Str("entry_id", item.EntryID).Msg("record failed attempt")
		if rerr := e.queue.Release(ctx, []models.QueueItem{item}); rerr != nil {
			e.log.Error().Err(rerr).Str("entry_id", item.EntryID).Msg("release after error")
		}
		return
	}
	if settled.State == models.StateFailed {
		e.log.Warn().Str("entry_id", settled.ID).Str("reason", settled.LastError).Msg("entry failed")
		e.publishSettled(ctx, settled)
	}
}

func splitSeen(items []models.QueueItem, seen map[string]struct{}) (fresh, again []models.QueueItem) {
	for _, it := range items {
		if _, ok := seen[it.EntryID]; ok {
			again = append(again, it)
			continue
		}
		seen[it.EntryID] = struct{}{}
		fresh = append(fresh, it)
	}
	return fresh, again
}

// Run drains on every Interval tick and whenever the connectivity signal
// reports the network is back. It starts by releasing claims abandoned by a
// previous process and returns when ctx is done.
func (e *Engine) Run(ctx context.Context, initial Connectivity, signals <-chan Connectivity) error {
	if n, err := e.queue.ReleaseStale(ctx, e.cfg.ClaimTTL); err != nil {
		e.log.Warn().Err(err).Msg("release stale claims")
	} else if n > 0 {
		e.log.Info().Int("released", n).Msg("released stale claims")
	}

	conn := initial
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	pass := func(reason string) {
		if _, err := e.Trigger(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error().Err(err).Str("reason", reason).Msg("sync pass failed")
		}
	}
	pass("startup")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pass("interval")
		case c, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			was := conn
			conn = c
			e.log.Info().Str("connectivity", c.String()).Msg("connectivity changed")
			if was != Online && c == Online {
				pass("reconnected")
			}
		}
	}
}

func (e *Engine) publishSettled(ctx context.Context, entry models.LedgerEntry) {
	e.metrics.Settled(string(entry.Kind), string(entry.State))
	if e.publisher == nil {
		return
	}
	topic := events.TopicEntryConfirmed
	if entry.State == models.StateFailed {
		topic = events.TopicEntryFailed
	}
	if err := e.publisher.Publish(ctx, topic, events.NewEntrySettled(entry, entry.UpdatedAt)); err != nil {
		e.log.Warn().Err(err).Str("topic", topic).Str("entry_id", entry.ID).Msg("publish event failed")
	}
}

func (e *Engine) clock() time.Time { return e.now().UTC() }
