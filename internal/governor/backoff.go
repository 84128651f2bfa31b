package governor

import (
	"context"
	"time"
)

// Backoff is a counter with an exponential decay function: the delay is
// 2^counter seconds capped at a maximum. The scanner advances it between
// empty scans and the store uses it when retrying locked transactions.
// Not safe for concurrent use; each worker owns its own.
type Backoff struct {
	counter int
	max     time.Duration
}

// NewBackoff returns a Backoff capped at max. A non-positive max means 60s.
func NewBackoff(max time.Duration) *Backoff {
	if max <= 0 {
		max = 60 * time.Second
	}
	return &Backoff{max: max}
}

// Increment advances the counter, lengthening the next delay.
func (b *Backoff) Increment() { b.counter++ }

// Reset clears the counter so the next delay is short again.
func (b *Backoff) Reset() { b.counter = 0 }

// Counter reports increments since the last reset.
func (b *Backoff) Counter() int { return b.counter }

// Delay returns min(2^counter seconds, max).
func (b *Backoff) Delay() time.Duration {
	n := b.counter
	if n > 12 {
		n = 12 // 2^12s is already beyond any sane cap
	}
	d := time.Duration(1<<uint(n)) * time.Second
	if d > b.max {
		d = b.max
	}
	return d
}

// Sleep blocks for Delay() or until ctx is cancelled.
func (b *Backoff) Sleep(ctx context.Context) error {
	t := time.NewTimer(b.Delay())
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
