// Package ratelimit paces page fetches with a fixed per-host delay.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces fetches to the same host at least delay apart. The first
// fetch to a host is never delayed. Limiters are shared between concurrent
// runs, so two jobs walking the same site share one pace.
type Limiter struct {
	mu      sync.Mutex
	delay   time.Duration
	perHost map[string]*rate.Limiter
}

// NewLimiter creates a limiter with the given inter-page delay. A delay of
// zero or less disables pacing.
func NewLimiter(delay time.Duration) *Limiter {
	if delay < 0 {
		delay = 0
	}
	return &Limiter{
		delay:   delay,
		perHost: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) limit() rate.Limit {
	if l.delay <= 0 {
		return rate.Inf
	}
	return rate.Every(l.delay)
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	host = strings.ToLower(host)

	l.mu.Lock()
	defer l.mu.Unlock()

	hl, ok := l.perHost[host]
	if !ok {
		hl = rate.NewLimiter(l.limit(), 1)
		l.perHost[host] = hl
	}
	return hl
}

// Wait blocks until a fetch to host is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.hostLimiter(host).Wait(ctx)
}

// Allow reports whether a fetch to host may happen now, consuming the slot
// if it may.
func (l *Limiter) Allow(host string) bool {
	return l.hostLimiter(host).Allow()
}

// SetDelay changes the delay for all hosts.
func (l *Limiter) SetDelay(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.delay = delay
	for _, hl := range l.perHost {
		hl.SetLimit(l.limit())
	}
}

// Delay returns the configured delay.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterStats{
		HostCount: len(l.perHost),
		Delay:     l.delay,
	}
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	HostCount int           `json:"host_count"`
	Delay     time.Duration `json:"delay"`
}
