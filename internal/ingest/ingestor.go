package ingest

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/claimsim/internal/events"
	"github.com/medflow/claimsim/internal/model"
	"github.com/medflow/claimsim/internal/queue"
	"github.com/medflow/claimsim/internal/ratelimit"
	"github.com/medflow/claimsim/internal/store"
)

// Status is the ingestor's progress snapshot.
type Status struct {
	Running        bool    `json:"running"`
	ClaimsIngested int     `json:"claims_ingested"`
	TotalClaims    int     `json:"total_claims"`
	CurrentRate    float64 `json:"current_rate"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ProgressPct    float64 `json:"progress_pct"`
}

// Ingestor drains a ClaimSource through the rate limiter onto the
// clearinghouse queue, assigning each claim a fresh correlation id.
type Ingestor struct {
	limiter *ratelimit.Limiter
	out     *queue.JobQueue[model.ClaimEnvelope]
	claims  store.ClaimStore
	emitter events.EventEmitter
	logger  *log.Logger

	running  atomic.Bool
	ingested atomic.Int64
	total    atomic.Int64
	started  atomic.Int64 // unix nanos; 0 before first Run

	wg sync.WaitGroup

	// OnIngested is invoked after each envelope is enqueued; used by the
	// pipeline metrics.
	OnIngested func(env model.ClaimEnvelope)
}

// NewIngestor wires the ingestor. claims may be a store.NoopStore.
func NewIngestor(limiter *ratelimit.Limiter, out *queue.JobQueue[model.ClaimEnvelope],
	claims store.ClaimStore, emitter events.EventEmitter) *Ingestor {
	return &Ingestor{
		limiter: limiter,
		out:     out,
		claims:  claims,
		emitter: emitter,
		logger:  log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Start begins draining the source in a background goroutine. It returns
// immediately; progress is visible via Status.
func (in *Ingestor) Start(source ClaimSource) {
	in.running.Store(true)
	in.ingested.Store(0)
	in.total.Store(int64(source.Total()))
	in.started.Store(time.Now().UnixNano())

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.run(source)
	}()
}

// run is the ingestion loop. The stop flag is checked between items; an
// in-flight item is never revoked.
func (in *Ingestor) run(source ClaimSource) {
	in.logger.Printf("🚀 Ingestion started: %d claims queued for submission", source.Total())
	for {
		if !in.running.Load() {
			in.logger.Printf("🛑 Ingestion stopped after %d claims", in.ingested.Load())
			return
		}
		claim, ok := source.Next()
		if !ok {
			break
		}

		in.limiter.Acquire()

		env := model.ClaimEnvelope{
			CorrelationID: uuid.NewString(),
			Claim:         claim,
			IngestedAt:    time.Now(),
		}

		ctx := context.Background()
		if err := in.claims.StoreNewClaim(ctx, env); err != nil {
			in.logger.Printf("⚠️  Claim store rejected %s: %v", claim.ClaimID, err)
		}
		if err := in.claims.MarkIngested(ctx, claim.ClaimID); err != nil {
			in.logger.Printf("⚠️  Failed to mark %s ingested: %v", claim.ClaimID, err)
		}

		in.out.Add(env, queue.AddOptions{})
		in.ingested.Add(1)

		if in.emitter != nil {
			in.emitter.Emit(events.TypeClaimIngested, "/pipeline/ingest", env.CorrelationID,
				map[string]interface{}{
					"claim_id": claim.ClaimID,
					"payer_id": claim.PayerID(),
					"billed":   claim.TotalBilled(),
				})
		}
		if in.OnIngested != nil {
			in.OnIngested(env)
		}
	}
	in.running.Store(false)
	in.logger.Printf("✅ Ingestion complete: %d/%d claims submitted", in.ingested.Load(), in.total.Load())
}

// Stop signals the loop to exit between items and waits for it.
func (in *Ingestor) Stop() {
	in.running.Store(false)
	in.wg.Wait()
}

// Running reports whether the ingestion loop is active.
func (in *Ingestor) Running() bool { return in.running.Load() }

// Status returns a progress snapshot.
func (in *Ingestor) Status() Status {
	ingested := in.ingested.Load()
	total := in.total.Load()

	var elapsed, rate, pct float64
	if start := in.started.Load(); start > 0 {
		elapsed = time.Since(time.Unix(0, start)).Seconds()
		if elapsed > 0 {
			rate = float64(ingested) / elapsed
		}
	}
	if total > 0 {
		pct = float64(ingested) / float64(total) * 100
	}
	return Status{
		Running:        in.running.Load(),
		ClaimsIngested: int(ingested),
		TotalClaims:    int(total),
		CurrentRate:    rate,
		ElapsedSeconds: elapsed,
		ProgressPct:    pct,
	}
}
