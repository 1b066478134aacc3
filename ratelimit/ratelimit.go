// Package ratelimit throttles inbound frames on a single connection.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	DefaultRate          = 100 // frames per second
	DefaultBurst         = 200
	DefaultMaxViolations = 1000
)

// Limiter is a token bucket that also counts rejected frames so a
// persistently abusive connection can be closed.
type Limiter struct {
	bucket        *rate.Limiter
	maxViolations int

	mu         sync.Mutex
	violations int
}

func NewLimiter(perSecond float64, burst, maxViolations int) *Limiter {
	return &Limiter{
		bucket:        rate.NewLimiter(rate.Limit(perSecond), burst),
		maxViolations: maxViolations,
	}
}

// NewDefault returns a limiter with 100 frames/s, burst 200, closing after
// 1000 rejected frames.
func NewDefault() *Limiter {
	return NewLimiter(DefaultRate, DefaultBurst, DefaultMaxViolations)
}

// Allow consumes one token. It reports whether the frame may be processed
// and whether the connection has exceeded its violation budget.
func (l *Limiter) Allow() (allowed, exhausted bool) {
	if l.bucket.Allow() {
		return true, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.violations++
	return false, l.maxViolations > 0 && l.violations >= l.maxViolations
}

// Violations returns the number of rejected frames so far.
func (l *Limiter) Violations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.violations
}
