package governor

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// FixedLimiter paces outbound calls to at most one per interval. Unlike
// Backoff it never grows; remote transcription requests and other outbound
// traffic go through one of these.
type FixedLimiter struct {
	limiter *rate.Limiter
}

// NewFixedLimiter allows one event per interval. A non-positive interval
// imposes no pacing.
func NewFixedLimiter(interval time.Duration) *FixedLimiter {
	if interval <= 0 {
		return &FixedLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &FixedLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next call is allowed or ctx is cancelled.
func (l *FixedLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
