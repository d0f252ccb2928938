package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_FirstAcquireImmediate(t *testing.T) {
	for _, rate := range []float64{0.5, 2, 50} {
		l := New(rate)
		start := time.Now()
		l.Acquire()
		assert.Less(t, time.Since(start), 50*time.Millisecond,
			"first Acquire at rate %.1f should not block", rate)
	}
}

func TestLimiter_PacingStrategyHonorsMinimumDuration(t *testing.T) {
	// 1 <= rate < 10 selects fixed-interval pacing.
	const rate = 5.0
	const n = 6
	l := New(rate)

	start := time.Now()
	for i := 0; i < n; i++ {
		l.Acquire()
	}
	elapsed := time.Since(start)

	min := time.Duration(float64(n-1) / rate * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed, min-20*time.Millisecond,
		"N acquires at rate r must take at least (N-1)/r seconds")
}

func TestLimiter_TokenBucketHonorsMinimumDuration(t *testing.T) {
	const rate = 20.0
	const n = 5
	l := New(rate)

	start := time.Now()
	for i := 0; i < n; i++ {
		l.Acquire()
	}
	elapsed := time.Since(start)

	min := time.Duration(float64(n-1) / rate * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed, min-20*time.Millisecond)
}

func TestLimiter_FractionalRateUsesTokenBucket(t *testing.T) {
	l := New(0.5)
	assert.False(t, l.pacing)
	assert.Equal(t, 1.0, l.capacity)
	assert.Equal(t, 2*time.Second, l.tick)
}

func TestLimiter_StrategySelection(t *testing.T) {
	cases := []struct {
		rate   float64
		pacing bool
		tick   time.Duration
	}{
		{50, false, 100 * time.Millisecond},
		{10, false, 100 * time.Millisecond},
		{9.9, true, 0},
		{1, true, 0},
		{0.25, false, 4 * time.Second},
	}
	for _, tc := range cases {
		l := New(tc.rate)
		assert.Equal(t, tc.pacing, l.pacing, "rate %.2f", tc.rate)
		if !tc.pacing {
			assert.Equal(t, tc.tick, l.tick, "rate %.2f", tc.rate)
		}
	}
}

func TestLimiter_SetRateSwitchesStrategy(t *testing.T) {
	l := New(2)
	assert.True(t, l.pacing)
	l.SetRate(100)
	assert.False(t, l.pacing)
	assert.Equal(t, 100.0, l.Rate())
}

func TestLimiter_InvalidRateCoerced(t *testing.T) {
	l := New(0)
	assert.Equal(t, 1.0, l.Rate())
	l = New(-3)
	assert.Equal(t, 1.0, l.Rate())
}

func TestLimiter_ConcurrentAcquireSafe(t *testing.T) {
	l := New(200)
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Acquire()
		}()
	}
	wg.Wait()
	// 20 acquires at 200/s: at least (20-1)/200 = 95ms.
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}
