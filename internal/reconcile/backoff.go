package reconcile

import (
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays with jitter, capped at Ceiling.
// The jitter is bounded by half the exponential step, so delays never
// decrease as the attempt count grows.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration
	// Jitter returns a value in [0, n). Defaults to math/rand/v2.
	Jitter func(n int64) int64
}

func NewBackoff(base, ceiling time.Duration) Backoff {
	return Backoff{Base: base, Ceiling: ceiling}
}

// Delay returns the wait before the next attempt after `attempt` failures
// (attempt >= 1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	step := base
	for i := 1; i < attempt; i++ {
		if b.Ceiling > 0 && step >= b.Ceiling {
			break
		}
		step *= 2
	}
	delay := step
	if half := int64(step / 2); half > 0 {
		delay += time.Duration(b.jitter(half))
	}
	if b.Ceiling > 0 && delay > b.Ceiling {
		delay = b.Ceiling
	}
	return delay
}

func (b Backoff) jitter(n int64) int64 {
	if b.Jitter != nil {
		return b.Jitter(n)
	}
	return rand.Int64N(n)
}
