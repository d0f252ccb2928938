// Package ratelimit paces claim submissions. Two strategies are used
// depending on the configured rate: a token bucket for high (>=10/s) and
// fractional (<1/s) rates, and fixed-interval pacing for the 1..10/s range.
package ratelimit

import (
	"log"
	"math"
	"sync"
	"time"
)

// Limiter blocks callers so that sustained throughput does not exceed the
// configured rate. A stream of N Acquire calls takes at least (N-1)/rate
// seconds: the first call returns immediately, later calls pace.
type Limiter struct {
	mu sync.Mutex

	rate     float64 // claims per second
	pacing   bool    // fixed-interval strategy for 1 <= rate < 10
	interval time.Duration

	// Token bucket state.
	capacity   float64
	tokens     float64
	tick       time.Duration
	lastRefill time.Time

	// Pacing state.
	lastAcquire time.Time

	logger *log.Logger
	sleep  func(time.Duration) // overridable in tests
}

// New creates a limiter for the given rate in claims per second. Rates <= 0
// are coerced to 1.
func New(rate float64) *Limiter {
	l := &Limiter{
		logger: log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
		sleep:  time.Sleep,
	}
	l.configure(rate)
	return l
}

func (l *Limiter) configure(rate float64) {
	if rate <= 0 {
		rate = 1
	}
	l.rate = rate
	l.pacing = rate >= 1 && rate < 10
	if l.pacing {
		l.interval = time.Duration(1000/rate) * time.Millisecond
		l.lastAcquire = time.Time{}
		return
	}

	l.capacity = math.Ceil(rate)
	// Start with a single token: the first caller passes immediately, the
	// rest are refill-paced.
	l.tokens = 1
	l.lastRefill = time.Now()
	switch {
	case rate >= 10:
		l.tick = 100 * time.Millisecond
	default: // rate < 1
		l.tick = time.Duration(1000/rate) * time.Millisecond
	}
}

// Rate returns the configured rate.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// SetRate reconfigures the limiter atomically; safe while Acquire is in use.
func (l *Limiter) SetRate(rate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configure(rate)
	l.logger.Printf("Rate limit updated to %.2f claims/sec", rate)
}

// Acquire blocks until the caller may submit one claim.
func (l *Limiter) Acquire() {
	l.mu.Lock()
	if l.pacing {
		now := time.Now()
		if l.lastAcquire.IsZero() {
			l.lastAcquire = now
			l.mu.Unlock()
			return
		}
		next := l.lastAcquire.Add(l.interval)
		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
			next = now
		}
		l.lastAcquire = next
		sleep := l.sleep
		l.mu.Unlock()
		if wait > 0 {
			sleep(wait)
		}
		return
	}

	for {
		l.refillLocked()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return
		}
		wait := time.Duration((1-l.tokens)/l.rate*1000) * time.Millisecond
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		sleep := l.sleep
		l.mu.Unlock()
		sleep(wait)
		l.mu.Lock()
	}
}

// refillLocked credits tokens for elapsed whole refill ticks.
func (l *Limiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed < l.tick {
		return
	}
	ticks := elapsed / l.tick
	l.tokens += float64(ticks) * l.rate * l.tick.Seconds()
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastRefill = l.lastRefill.Add(ticks * l.tick)
}
