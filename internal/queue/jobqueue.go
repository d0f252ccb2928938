// Package queue provides the in-process job queues that connect the pipeline
// stages. Each queue carries one payload type, runs one registered handler
// with bounded concurrency, and retries failed jobs with exponential backoff.
package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// JobState tracks a job through its lifecycle.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

const (
	// DefaultMaxAttempts is applied when AddOptions does not set one.
	DefaultMaxAttempts = 3

	// DefaultRetryBase is the first retry delay; attempt n waits
	// retryBase * 2^(n-1).
	DefaultRetryBase = time.Second

	completedRingSize = 100
	failedRingSize    = 50
)

// Job is a unit of work on a queue.
type Job[T any] struct {
	ID          string
	Payload     T
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
	AddedAt     time.Time
	State       JobState
	LastError   string
}

// Handler processes one job payload. A non-nil error (or a panic) counts as
// a failed attempt.
type Handler[T any] func(ctx context.Context, payload T) error

// AddOptions tunes a single Add call.
type AddOptions struct {
	// Delay makes the job eligible only after now+Delay.
	Delay time.Duration

	// MaxAttempts overrides DefaultMaxAttempts when > 0.
	MaxAttempts int
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	Name        string `json:"name"`
	Pending     int    `json:"pending"`
	Running     int    `json:"running"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	Concurrency int    `json:"concurrency"`
	Paused      bool   `json:"paused"`
}

// JobQueue is a multi-producer queue with one handler, bounded handler
// concurrency, FIFO dispatch among eligible jobs, and retry with exponential
// backoff. Add is always safe to call concurrently and never fails.
type JobQueue[T any] struct {
	name        string
	concurrency int
	retryBase   time.Duration
	logger      *log.Logger

	mu       sync.Mutex
	pending  []*Job[T]
	running  int
	paused   bool
	closed   bool
	handler  Handler[T]
	started  bool
	totalOK  int64
	totalBad int64

	// Bounded diagnostic rings of finished job metadata.
	completed *ring[Job[T]]
	failed    *ring[Job[T]]

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
	seq  atomic.Int64

	// Typed observer hooks, invoked outside the queue lock.
	OnJobAdded     func(job Job[T])
	OnJobCompleted func(job Job[T])
	OnJobFailed    func(job Job[T])
}

// New creates a queue. Concurrency < 1 is coerced to 1; strict FIFO ordering
// of handler execution holds only at concurrency 1.
func New[T any](name string, concurrency int) *JobQueue[T] {
	if concurrency < 1 {
		concurrency = 1
	}
	return &JobQueue[T]{
		name:        name,
		concurrency: concurrency,
		retryBase:   DefaultRetryBase,
		logger:      log.New(log.Writer(), fmt.Sprintf("[QUEUE:%s] ", name), log.LstdFlags),
		completed:   newRing[Job[T]](completedRingSize),
		failed:      newRing[Job[T]](failedRingSize),
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
	}
}

// SetRetryBase overrides the base retry delay. Intended for wiring and tests;
// not safe to call after Process.
func (q *JobQueue[T]) SetRetryBase(d time.Duration) {
	if d > 0 {
		q.retryBase = d
	}
}

// Name returns the queue name.
func (q *JobQueue[T]) Name() string { return q.name }

// Add enqueues a payload and returns the job id. It never blocks on queue
// capacity and cannot fail under normal operation.
func (q *JobQueue[T]) Add(payload T, opts AddOptions) string {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := time.Now()
	job := &Job[T]{
		ID:          fmt.Sprintf("%s-job-%d", q.name, q.seq.Add(1)),
		Payload:     payload,
		MaxAttempts: maxAttempts,
		NotBefore:   now.Add(opts.Delay),
		AddedAt:     now,
		State:       StatePending,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Printf("⚠️  Add after close, dropping job %s", job.ID)
		return job.ID
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	if q.OnJobAdded != nil {
		q.OnJobAdded(*job)
	}
	q.poke()
	return job.ID
}

// Process registers the handler and starts the dispatcher. Each queue has
// exactly one handler; calling Process twice replaces it only if the queue
// has not started.
func (q *JobQueue[T]) Process(handler Handler[T]) {
	q.mu.Lock()
	q.handler = handler
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.dispatch()
}

// Pause stops the dispatcher from starting new jobs. Add keeps accepting;
// in-flight handlers run to completion.
func (q *JobQueue[T]) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume re-enables dispatch.
func (q *JobQueue[T]) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.poke()
}

// Clear drops all pending jobs. Running jobs are unaffected.
func (q *JobQueue[T]) Clear() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	return n
}

// Stats returns a snapshot of queue counters.
func (q *JobQueue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Name:        q.name,
		Pending:     len(q.pending),
		Running:     q.running,
		Completed:   int(q.totalOK),
		Failed:      int(q.totalBad),
		Concurrency: q.concurrency,
		Paused:      q.paused,
	}
}

// Completed returns the retained metadata of recently completed jobs,
// oldest first.
func (q *JobQueue[T]) Completed() []Job[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed.items()
}

// Failed returns the retained metadata of recently failed jobs, oldest first.
func (q *JobQueue[T]) Failed() []Job[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed.items()
}

// Drain blocks until the queue is empty and idle, or ctx expires.
func (q *JobQueue[T]) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idle := len(q.pending) == 0 && q.running == 0
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the dispatcher and waits for in-flight handlers. Pending jobs
// that never ran stay pending and are discarded with the queue.
func (q *JobQueue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.quit)
	q.wg.Wait()
}

// poke nudges the dispatcher without blocking.
func (q *JobQueue[T]) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch is the scheduling loop: it launches eligible jobs FIFO up to the
// concurrency limit, then sleeps until woken or until the next delayed job
// becomes eligible.
func (q *JobQueue[T]) dispatch() {
	defer q.wg.Done()

	var workers sync.WaitGroup
	defer workers.Wait()

	for {
		next := q.launchEligible(&workers)

		var timer <-chan time.Time
		if !next.IsZero() {
			d := time.Until(next)
			if d < time.Millisecond {
				d = time.Millisecond
			}
			t := time.NewTimer(d)
			timer = t.C
			select {
			case <-q.quit:
				t.Stop()
				return
			case <-q.wake:
				t.Stop()
			case <-timer:
			}
			continue
		}

		select {
		case <-q.quit:
			return
		case <-q.wake:
		}
	}
}

// launchEligible starts as many eligible jobs as concurrency allows and
// returns the NotBefore of the nearest still-delayed job (zero if none).
func (q *JobQueue[T]) launchEligible(workers *sync.WaitGroup) time.Time {
	now := time.Now()
	var nextDelayed time.Time

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || q.handler == nil {
		return time.Time{}
	}

	i := 0
	for i < len(q.pending) && q.running < q.concurrency {
		job := q.pending[i]
		if job.NotBefore.After(now) {
			if nextDelayed.IsZero() || job.NotBefore.Before(nextDelayed) {
				nextDelayed = job.NotBefore
			}
			i++
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.running++
		job.State = StateRunning
		job.Attempts++

		workers.Add(1)
		go q.run(workers, job)
	}

	// A delayed job may still be nearest even if concurrency is saturated;
	// workers poke on completion so that case resolves itself.
	return nextDelayed
}

// run executes one handler attempt and settles the job.
func (q *JobQueue[T]) run(workers *sync.WaitGroup, job *Job[T]) {
	defer workers.Done()

	err := q.invoke(job)

	q.mu.Lock()
	q.running--
	if err == nil {
		job.State = StateCompleted
		job.LastError = ""
		q.totalOK++
		q.completed.push(*job)
		q.mu.Unlock()
		if q.OnJobCompleted != nil {
			q.OnJobCompleted(*job)
		}
		q.poke()
		return
	}

	job.LastError = err.Error()
	if job.Attempts < job.MaxAttempts {
		backoff := q.retryBase << (job.Attempts - 1)
		job.State = StatePending
		job.NotBefore = time.Now().Add(backoff)
		q.pending = append(q.pending, job)
		q.mu.Unlock()
		q.logger.Printf("⚠️  Job %s attempt %d/%d failed, retrying in %s: %v",
			job.ID, job.Attempts, job.MaxAttempts, backoff, err)
		q.poke()
		return
	}

	job.State = StateFailed
	q.totalBad++
	q.failed.push(*job)
	q.mu.Unlock()
	q.logger.Printf("❌ Job %s failed permanently after %d attempts: %v",
		job.ID, job.Attempts, err)
	if q.OnJobFailed != nil {
		q.OnJobFailed(*job)
	}
	q.poke()
}

// invoke calls the handler, converting panics into errors so a panicking
// handler burns an attempt instead of killing the worker.
func (q *JobQueue[T]) invoke(job *Job[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return q.handler(context.Background(), job.Payload)
}

// ring is a fixed-capacity FIFO that discards its oldest entry when full.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring[T]) items() []T {
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
