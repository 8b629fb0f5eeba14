// Package ratelimit enforces a minimum spacing between outbound requests.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the spacing used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Limiter spaces calls to Wait at least Interval apart. The first call
// returns immediately. One Limiter is shared by every component that issues
// requests during a run; it is safe for concurrent use.
type Limiter struct {
	interval time.Duration
	lim      *rate.Limiter
}

// New returns a Limiter with the given minimum interval. A non-positive
// interval disables limiting.
func New(interval time.Duration) *Limiter {
	l := &Limiter{interval: interval}
	if interval > 0 {
		l.lim = rate.NewLimiter(rate.Every(interval), 1)
	} else {
		l.lim = rate.NewLimiter(rate.Inf, 1)
	}
	return l
}

// Interval returns the configured minimum interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until a request may be issued or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.lim.Wait(ctx)
}
