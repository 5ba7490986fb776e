// Package ratelimit wraps golang.org/x/time/rate with 429/Retry-After
// handling: a single shared limiter per provider, whose waits are pushed
// out by a response header instead of only ticking down at its configured
// rate.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket limiter for one upstream provider, plus an
// explicit backoff deadline a 429 response can push out.
type Limiter struct {
	l *rate.Limiter

	mu           sync.Mutex
	blockedUntil time.Time
}

// New builds a Limiter allowing requestsPerMinute sustained, with a burst
// of one (the teacher's own TradingView limiter uses the same burst).
func New(requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	interval := time.Minute / time.Duration(requestsPerMinute)
	return &Limiter{l: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until a token is available, honoring both the configured
// rate and any outstanding Retry-After backoff, or until ctx is done.
func (lr *Limiter) Wait(ctx context.Context) error {
	lr.mu.Lock()
	until := lr.blockedUntil
	lr.mu.Unlock()

	if d := time.Until(until); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lr.l.Wait(ctx)
}

// ApplyRetryAfter reads a 429 response's Retry-After header (seconds or
// HTTP-date) and pushes the limiter's backoff deadline out that far, so
// the next Wait call actually backs off instead of immediately retrying
// into another rate limit.
func (lr *Limiter) ApplyRetryAfter(resp *http.Response) {
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		return
	}
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return
	}

	var until time.Time
	if secs, err := strconv.Atoi(ra); err == nil {
		until = time.Now().Add(time.Duration(secs) * time.Second)
	} else if when, err := http.ParseTime(ra); err == nil {
		until = when
	} else {
		return
	}

	lr.mu.Lock()
	if until.After(lr.blockedUntil) {
		lr.blockedUntil = until
	}
	lr.mu.Unlock()
}
