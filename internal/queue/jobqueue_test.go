package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestJobQueue_ProcessesJobsFIFO(t *testing.T) {
	q := New[int]("fifo", 1)
	defer q.Close()

	var mu sync.Mutex
	var got []int
	q.Process(func(ctx context.Context, n int) error {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		return nil
	})

	for i := 1; i <= 5; i++ {
		q.Add(i, AddOptions{})
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got, "concurrency=1 must preserve FIFO order")
}

func TestJobQueue_DelayedJobNotRunEarly(t *testing.T) {
	q := New[string]("delayed", 1)
	defer q.Close()

	var ranAt atomic.Int64
	q.Process(func(ctx context.Context, s string) error {
		ranAt.Store(time.Now().UnixNano())
		return nil
	})

	start := time.Now()
	q.Add("later", AddOptions{Delay: 120 * time.Millisecond})

	waitFor(t, 2*time.Second, func() bool { return ranAt.Load() != 0 })
	elapsed := time.Duration(ranAt.Load() - start.UnixNano())
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "delayed job ran too early")
}

func TestJobQueue_RetryThenSucceed(t *testing.T) {
	q := New[string]("retry-ok", 1)
	q.SetRetryBase(10 * time.Millisecond)
	defer q.Close()

	var calls atomic.Int32
	var completed atomic.Int32
	q.OnJobCompleted = func(job Job[string]) { completed.Add(1) }

	q.Process(func(ctx context.Context, s string) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	q.Add("flaky", AddOptions{MaxAttempts: 3})

	waitFor(t, 3*time.Second, func() bool { return completed.Load() == 1 })
	assert.Equal(t, int32(3), calls.Load(), "handler should be attempted exactly 3 times")

	done := q.Completed()
	require.Len(t, done, 1)
	assert.Equal(t, StateCompleted, done[0].State)
	assert.Equal(t, 3, done[0].Attempts)
}

func TestJobQueue_ExhaustedAttemptsFail(t *testing.T) {
	q := New[string]("retry-fail", 1)
	q.SetRetryBase(5 * time.Millisecond)
	defer q.Close()

	var failed atomic.Int32
	q.OnJobFailed = func(job Job[string]) { failed.Add(1) }

	var calls atomic.Int32
	q.Process(func(ctx context.Context, s string) error {
		calls.Add(1)
		return errors.New("permanent")
	})

	q.Add("doomed", AddOptions{MaxAttempts: 3})

	waitFor(t, 3*time.Second, func() bool { return failed.Load() == 1 })
	assert.Equal(t, int32(3), calls.Load())

	bad := q.Failed()
	require.Len(t, bad, 1)
	assert.Equal(t, StateFailed, bad[0].State)
	assert.Contains(t, bad[0].LastError, "permanent")
	assert.Equal(t, 1, q.Stats().Failed)
}

func TestJobQueue_PanicCountsAsFailedAttempt(t *testing.T) {
	q := New[string]("panicky", 1)
	q.SetRetryBase(5 * time.Millisecond)
	defer q.Close()

	var calls atomic.Int32
	var completed atomic.Int32
	q.OnJobCompleted = func(job Job[string]) { completed.Add(1) }
	q.Process(func(ctx context.Context, s string) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})

	q.Add("x", AddOptions{MaxAttempts: 2})
	waitFor(t, 2*time.Second, func() bool { return completed.Load() == 1 })
	assert.Equal(t, int32(2), calls.Load())
}

func TestJobQueue_ConcurrencyBound(t *testing.T) {
	const limit = 3
	q := New[int]("bounded", limit)
	defer q.Close()

	var inFlight, peak atomic.Int32
	var done atomic.Int32
	q.Process(func(ctx context.Context, n int) error {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
		return nil
	})

	for i := 0; i < 12; i++ {
		q.Add(i, AddOptions{})
	}

	waitFor(t, 5*time.Second, func() bool { return done.Load() == 12 })
	assert.LessOrEqual(t, peak.Load(), int32(limit), "in-flight handlers exceeded concurrency")
	assert.Greater(t, peak.Load(), int32(1), "expected some parallelism")
}

func TestJobQueue_PauseBlocksDispatchNotAdd(t *testing.T) {
	q := New[int]("paused", 1)
	defer q.Close()

	var ran atomic.Int32
	q.Process(func(ctx context.Context, n int) error {
		ran.Add(1)
		return nil
	})

	q.Pause()
	q.Add(1, AddOptions{})
	q.Add(2, AddOptions{})

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load(), "paused queue must not dispatch")
	assert.Equal(t, 2, q.Stats().Pending, "Add must keep accepting while paused")

	q.Resume()
	waitFor(t, 2*time.Second, func() bool { return ran.Load() == 2 })
}

func TestJobQueue_ClearDropsPending(t *testing.T) {
	q := New[int]("cleared", 1)
	defer q.Close()
	q.Pause()
	q.Process(func(ctx context.Context, n int) error { return nil })

	q.Add(1, AddOptions{})
	q.Add(2, AddOptions{})
	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Stats().Pending)
}

func TestJobQueue_ObserverHooks(t *testing.T) {
	q := New[string]("observed", 1)
	defer q.Close()

	var added, completed atomic.Int32
	q.OnJobAdded = func(job Job[string]) { added.Add(1) }
	q.OnJobCompleted = func(job Job[string]) { completed.Add(1) }

	q.Process(func(ctx context.Context, s string) error { return nil })
	q.Add("a", AddOptions{})
	q.Add("b", AddOptions{})

	waitFor(t, 2*time.Second, func() bool { return completed.Load() == 2 })
	assert.Equal(t, int32(2), added.Load())
}

func TestJobQueue_DrainWaitsForIdle(t *testing.T) {
	q := New[int]("drained", 2)
	defer q.Close()

	var done atomic.Int32
	q.Process(func(ctx context.Context, n int) error {
		time.Sleep(20 * time.Millisecond)
		done.Add(1)
		return nil
	})
	for i := 0; i < 6; i++ {
		q.Add(i, AddOptions{})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.Equal(t, int32(6), done.Load())
}

func TestRing_DiscardsOldest(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 5; i++ {
		r.push(i)
	}
	assert.Equal(t, []int{3, 4, 5}, r.items())
}
