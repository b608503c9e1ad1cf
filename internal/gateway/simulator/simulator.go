// Package simulator is an in-process payment gateway. It honours
// idempotency keys the way the real gateway does: the first definitive
// outcome for a key is remembered and replayed for every later submit.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

var ErrTimeout = errors.New("simulated gateway timeout")

type outcome struct {
	receipt models.Receipt
	reject  *models.DefinitiveGatewayError
	req     models.SubmitRequest
}

type Simulator struct {
	mu          sync.Mutex
	online      bool
	outcomes    map[string]outcome
	calls       map[string]int
	order       []string
	transient   int
	lost        int
	rejectDest  map[string]string
	rates       map[models.CurrencyPair]decimal.Decimal
	addressSeq  int
	refSeq      int
	latency     time.Duration
	now         func() time.Time
	hook        func(req models.SubmitRequest) error
	confirmedBy map[models.Operation]int64
}

func New() *Simulator {
	return &Simulator{
		online:      true,
		outcomes:    make(map[string]outcome),
		calls:       make(map[string]int),
		rejectDest:  make(map[string]string),
		rates:       make(map[models.CurrencyPair]decimal.Decimal),
		now:         time.Now,
		confirmedBy: make(map[models.Operation]int64),
	}
}

// SetOnline toggles reachability. Offline calls fail transiently.
func (s *Simulator) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

// FailNext makes the next n submits time out before reaching the gateway.
func (s *Simulator) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transient = n
}

// LoseNext makes the next n submits succeed remotely but time out on the
// way back, so the caller sees a transient error for an applied operation.
func (s *Simulator) LoseNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lost = n
}

// RejectDestination rejects every new submit to dest with reason.
func (s *Simulator) RejectDestination(dest, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectDest[dest] = reason
}

// ClearRejections stops rejecting destinations.
func (s *Simulator) ClearRejections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectDest = make(map[string]string)
}

// SetLatency delays every submit, honouring context cancellation.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetHook runs fn before each submit; a non-nil error is returned as is.
func (s *Simulator) SetHook(fn func(req models.SubmitRequest) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

func (s *Simulator) SetRate(pair models.CurrencyPair, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pair] = rate
}

func (s *Simulator) Submit(ctx context.Context, req models.SubmitRequest) (models.Receipt, error) {
	s.mu.Lock()
	latency, hook := s.latency, s.hook
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return models.Receipt{}, &models.TransientGatewayError{Op: string(req.Operation), Err: ctx.Err()}
		}
	}
	if hook != nil {
		if err := hook(req); err != nil {
			return models.Receipt{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[req.IdempotencyKey]++
	if !s.online {
		return models.Receipt{}, &models.TransientGatewayError{Op: string(req.Operation), Err: errors.New("gateway unreachable")}
	}
	if s.transient > 0 {
		s.transient--
		return models.Receipt{}, &models.TransientGatewayError{Op: string(req.Operation), Err: ErrTimeout}
	}

	o, seen := s.outcomes[req.IdempotencyKey]
	if !seen {
		o = s.decide(req)
		s.outcomes[req.IdempotencyKey] = o
		s.order = append(s.order, req.IdempotencyKey)
		if o.reject == nil {
			s.confirmedBy[req.Operation] += req.Amount
		}
	}

	if s.lost > 0 {
		s.lost--
		return models.Receipt{}, &models.TransientGatewayError{Op: string(req.Operation), Err: ErrTimeout}
	}
	if o.reject != nil {
		return models.Receipt{}, o.reject
	}
	return o.receipt, nil
}

func (s *Simulator) decide(req models.SubmitRequest) outcome {
	if reason, ok := s.rejectDest[req.Destination]; ok {
		return outcome{req: req, reject: &models.DefinitiveGatewayError{Reason: reason, Code: "rejected"}}
	}
	if req.Amount <= 0 {
		return outcome{req: req, reject: &models.DefinitiveGatewayError{Reason: "amount must be positive", Code: "invalid_amount"}}
	}
	s.refSeq++
	return outcome{req: req, receipt: models.Receipt{
		RemoteRef:   fmt.Sprintf("SIM-%06d", s.refSeq),
		ConfirmedAt: s.now().UTC(),
	}}
}

func (s *Simulator) FetchRate(_ context.Context, pair models.CurrencyPair) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return decimal.Decimal{}, &models.TransientGatewayError{Op: "rate", Err: errors.New("gateway unreachable")}
	}
	rate, ok := s.rates[pair]
	if !ok {
		return decimal.Decimal{}, &models.DefinitiveGatewayError{Reason: "no quote for " + pair.String(), Code: "unknown_pair"}
	}
	return rate, nil
}

func (s *Simulator) GenerateAddress(_ context.Context, c models.Currency) (string, error) {
	if !c.IsCrypto() {
		return "", fmt.Errorf("no deposit addresses for %s", c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressSeq++
	return fmt.Sprintf("sim-%s-%04d", c, s.addressSeq), nil
}

// Calls reports how many submits carried key, including replays.
func (s *Simulator) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

// Applied reports how many distinct operations the gateway has settled.
func (s *Simulator) Applied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Settled returns the total amount confirmed for op.
func (s *Simulator) Settled(op models.Operation) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmedBy[op]
}

// Notification builds the webhook the gateway would push for key.
func (s *Simulator) Notification(key string) (models.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outcomes[key]
	if !ok {
		return models.Notification{}, false
	}
	if o.reject != nil {
		return models.Notification{IdempotencyKey: key, Outcome: models.OutcomeRejected, Reason: o.reject.Reason}, true
	}
	return models.Notification{IdempotencyKey: key, RemoteRef: o.receipt.RemoteRef, Outcome: models.OutcomeConfirmed}, true
}

var (
	_ interfaces.GatewayClient   = (*Simulator)(nil)
	_ interfaces.AddressProvider = (*Simulator)(nil)
)
