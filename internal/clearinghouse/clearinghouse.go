// Package clearinghouse routes ingested claim envelopes to the correct
// per-payer queue, recording each submission for correlation and AR-aging
// bookkeeping before the claim leaves the routing stage.
package clearinghouse

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/medflow/claimsim/internal/aging"
	"github.com/medflow/claimsim/internal/config"
	"github.com/medflow/claimsim/internal/events"
	"github.com/medflow/claimsim/internal/model"
	"github.com/medflow/claimsim/internal/queue"
	"github.com/medflow/claimsim/internal/registry"
	"github.com/medflow/claimsim/internal/store"
)

// Stats are the clearinghouse counters.
type Stats struct {
	Routed    int64 `json:"routed"`
	Fallbacks int64 `json:"fallbacks"`
	Failed    int64 `json:"failed"`
}

// Clearinghouse consumes the claims queue and fans envelopes out to payer
// queues. It never mutates the claim. Routing of a claim naming an unknown
// payer falls back, deterministically, to the first configured payer.
type Clearinghouse struct {
	payers      []config.PayerConfig
	payerQueues map[string]*queue.JobQueue[model.ClaimEnvelope]
	correlation *registry.CorrelationRegistry
	aging       *aging.Service
	claims      store.ClaimStore
	emitter     events.EventEmitter
	logger      *log.Logger

	routed    atomic.Int64
	fallbacks atomic.Int64
	failed    atomic.Int64

	// OnRouted observes successful routing decisions (metrics).
	OnRouted func(env model.ClaimEnvelope, payerID string, usedFallback bool)
}

// New wires a clearinghouse. payerQueues must contain one queue per
// configured payer, keyed by payer id.
func New(payers []config.PayerConfig,
	payerQueues map[string]*queue.JobQueue[model.ClaimEnvelope],
	correlation *registry.CorrelationRegistry,
	agingSvc *aging.Service,
	claims store.ClaimStore,
	emitter events.EventEmitter) *Clearinghouse {
	return &Clearinghouse{
		payers:      payers,
		payerQueues: payerQueues,
		correlation: correlation,
		aging:       agingSvc,
		claims:      claims,
		emitter:     emitter,
		logger:      log.New(log.Writer(), "[CLEARINGHOUSE] ", log.LstdFlags),
	}
}

// Handler returns the claims-queue handler.
func (ch *Clearinghouse) Handler() queue.Handler[model.ClaimEnvelope] {
	return ch.route
}

// resolve picks the destination payer for an envelope.
func (ch *Clearinghouse) resolve(env model.ClaimEnvelope) (config.PayerConfig, bool, error) {
	if len(ch.payers) == 0 {
		return config.PayerConfig{}, false, fmt.Errorf("no payers configured")
	}
	target := env.Claim.PayerID()
	for _, p := range ch.payers {
		if p.PayerID == target {
			return p, false, nil
		}
	}
	return ch.payers[0], true, nil
}

func (ch *Clearinghouse) route(ctx context.Context, env model.ClaimEnvelope) error {
	payer, usedFallback, err := ch.resolve(env)
	if err != nil {
		ch.failed.Add(1)
		return err
	}
	if usedFallback {
		ch.fallbacks.Add(1)
		ch.logger.Printf("⚠️  Unknown payer %q on claim %s, fallback to %s",
			env.Claim.PayerID(), env.Claim.ClaimID, payer.PayerID)
	}

	q, ok := ch.payerQueues[payer.PayerID]
	if !ok {
		ch.failed.Add(1)
		return fmt.Errorf("no queue for payer %s", payer.PayerID)
	}

	// Submission is recorded before the envelope reaches the payer queue,
	// so completion can never be observed first.
	ch.correlation.RecordSubmission(env, payer.PayerID, payer.Name)
	ch.aging.RecordSubmission(env, payer.PayerID, payer.Name)
	if err := ch.claims.MarkRouted(ctx, env.Claim.ClaimID, payer.PayerID, payer.Name); err != nil {
		ch.logger.Printf("⚠️  Failed to mark %s routed: %v", env.Claim.ClaimID, err)
	}

	q.Add(env, queue.AddOptions{})
	ch.routed.Add(1)

	if ch.emitter != nil {
		ch.emitter.Emit(events.TypeClaimRouted, "/pipeline/clearinghouse", env.CorrelationID,
			map[string]interface{}{
				"claim_id": env.Claim.ClaimID,
				"payer_id": payer.PayerID,
				"fallback": usedFallback,
			})
	}
	if ch.OnRouted != nil {
		ch.OnRouted(env, payer.PayerID, usedFallback)
	}
	return nil
}

// Stats returns routing counters.
func (ch *Clearinghouse) Stats() Stats {
	return Stats{
		Routed:    ch.routed.Load(),
		Fallbacks: ch.fallbacks.Load(),
		Failed:    ch.failed.Load(),
	}
}
