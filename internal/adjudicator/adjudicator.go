// Package adjudicator implements the per-payer decision engine: simulated
// processing delay, claim- and line-level denial draws, payment arithmetic
// with cent rounding, and remittance assembly.
package adjudicator

import (
	"context"
	"log"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/medflow/claimsim/internal/config"
	"github.com/medflow/claimsim/internal/denial"
	"github.com/medflow/claimsim/internal/edi"
	"github.com/medflow/claimsim/internal/events"
	"github.com/medflow/claimsim/internal/model"
	"github.com/medflow/claimsim/internal/queue"
	"github.com/medflow/claimsim/internal/store"
)

// LineDenialFactor scales the claim denial rate down for individual line
// denials: a payer with denial_rate d denies any given line with
// probability d * LineDenialFactor (after the claim survives the
// claim-level draw).
const LineDenialFactor = 0.33

// Stats are the per-payer adjudication counters.
type Stats struct {
	PayerID        string  `json:"payer_id"`
	Processed      int64   `json:"processed"`
	ClaimDenials   int64   `json:"claim_denials"`
	LineDenials    int64   `json:"line_denials"`
	AvgProcessMS   float64 `json:"avg_process_ms"`
	TotalDeniedAmt float64 `json:"total_denied_amount"`
}

// Adjudicator simulates one payer. Each handler invocation owns its envelope
// from pickup to remittance emission; there is no re-entrancy.
type Adjudicator struct {
	payer   config.PayerConfig
	catalog *denial.Catalog
	encoder *edi.Encoder
	out     *queue.JobQueue[model.RemittanceMessage]
	claims  store.ClaimStore
	emitter events.EventEmitter
	logger  *log.Logger

	// rng drives the documented decision draws (claim denial, line denial,
	// payment variation) and is replaceable for deterministic tests.
	// Reason/category selection uses a separate source so pinning rng does
	// not change the draw sequence.
	rng       func() float64
	pickRng   *rand.Rand
	sleep     func(time.Duration)

	processed    atomic.Int64
	claimDenials atomic.Int64
	lineDenials  atomic.Int64
	deniedCents  atomic.Int64
	totalMS      atomic.Int64

	// OnRemittance observes every emitted remittance message (metrics).
	OnRemittance func(msg model.RemittanceMessage)
}

// New creates an adjudicator for one payer.
func New(payer config.PayerConfig, catalog *denial.Catalog, encoder *edi.Encoder,
	out *queue.JobQueue[model.RemittanceMessage], claims store.ClaimStore,
	emitter events.EventEmitter) *Adjudicator {
	return &Adjudicator{
		payer:   payer,
		catalog: catalog,
		encoder: encoder,
		out:     out,
		claims:  claims,
		emitter: emitter,
		logger:  log.New(log.Writer(), "[PAYER:"+payer.PayerID+"] ", log.LstdFlags),
		rng:     rand.Float64,
		pickRng: rand.New(rand.NewSource(rand.Int63())),
		sleep:   time.Sleep,
	}
}

// SetRandom replaces the decision RNG. Test hook.
func (a *Adjudicator) SetRandom(rng func() float64) { a.rng = rng }

// SetSleep replaces the delay sleeper. Test hook.
func (a *Adjudicator) SetSleep(sleep func(time.Duration)) { a.sleep = sleep }

// Handler returns the payer-queue handler.
func (a *Adjudicator) Handler() queue.Handler[model.ClaimEnvelope] {
	return a.process
}

func (a *Adjudicator) process(ctx context.Context, env model.ClaimEnvelope) error {
	start := time.Now()

	// Simulated payer turnaround, uniform over the configured range.
	a.simulateDelay()

	rem := a.Adjudicate(&env.Claim, env.CorrelationID)
	rem.EDI835 = a.encoder.Encode(rem, &env.Claim, edi.EncodeOptions{PayerName: a.payer.Name})

	processingMS := float64(time.Since(start).Microseconds()) / 1000

	outcome := store.OutcomeFromRemittance(rem, processingMS)
	if err := a.claims.MarkAdjudicated(ctx, env.Claim.ClaimID, outcome); err != nil {
		a.logger.Printf("⚠️  Failed to persist adjudication for %s: %v", env.Claim.ClaimID, err)
	}

	msg := model.RemittanceMessage{
		Remittance:   *rem,
		Envelope:     env,
		ProcessingMS: processingMS,
	}
	a.out.Add(msg, queue.AddOptions{})

	a.processed.Add(1)
	a.totalMS.Add(int64(processingMS))
	if rem.TotalDeniedAmount > 0 {
		a.deniedCents.Add(int64(rem.TotalDeniedAmount * 100))
	}

	if a.emitter != nil {
		a.emitter.Emit(events.TypeRemittanceIssued, "/pipeline/payer/"+a.payer.PayerID,
			env.CorrelationID, map[string]interface{}{
				"claim_id": env.Claim.ClaimID,
				"payer_id": a.payer.PayerID,
				"status":   string(rem.OverallStatus),
				"paid":     rem.TotalPaid(),
			})
	}
	if a.OnRemittance != nil {
		a.OnRemittance(msg)
	}
	return nil
}

func (a *Adjudicator) simulateDelay() {
	min := a.payer.ProcessingDelayMS.MinMS
	max := a.payer.ProcessingDelayMS.MaxMS
	if max <= 0 {
		return
	}
	delayMS := float64(min)
	if max > min {
		delayMS += a.rng() * float64(max-min)
	}
	a.sleep(time.Duration(delayMS * float64(time.Millisecond)))
}

// Adjudicate runs the decision pipeline for one claim and returns the
// remittance. Exported for direct use by the replay CLI and tests; queue
// consumers go through Handler.
func (a *Adjudicator) Adjudicate(claim *model.Claim, correlationID string) *model.Remittance {
	rem := &model.Remittance{
		CorrelationID: correlationID,
		ClaimID:       claim.ClaimID,
		PayerID:       a.payer.PayerID,
		PayerName:     a.payer.Name,
		ProcessedAt:   time.Now(),
	}

	denialRate := 0.0
	if a.payer.Denial != nil {
		denialRate = a.payer.Denial.DenialRate
	}

	// Claim-level denial draw.
	if u := a.rng(); a.payer.Denial != nil && u < denialRate {
		a.claimDenials.Add(1)
		rem.RemittanceLines = a.denyAllLines(claim)
		rem.OverallStatus = model.StatusDenied
		for _, rl := range rem.RemittanceLines {
			rem.TotalDeniedAmount += rl.BilledAmount
		}
		rem.TotalDeniedAmount = model.RoundToCents(rem.TotalDeniedAmount)
		return rem
	}

	lines := make([]model.RemittanceLine, 0, len(claim.ServiceLines))
	for _, sl := range claim.ServiceLines {
		lines = append(lines, a.adjudicateLine(sl, denialRate))
	}
	rem.RemittanceLines = lines
	rem.OverallStatus = model.OverallStatusFromLines(lines)
	for _, rl := range lines {
		if rl.Status == model.LineDenied {
			rem.TotalDeniedAmount += rl.BilledAmount
		}
	}
	rem.TotalDeniedAmount = model.RoundToCents(rem.TotalDeniedAmount)
	return rem
}

// denyAllLines produces the whole-claim denial: every line unpaid, with a
// reason drawn from the payer's preferred categories when configured.
func (a *Adjudicator) denyAllLines(claim *model.Claim) []model.RemittanceLine {
	category := ""
	if a.payer.Denial != nil && len(a.payer.Denial.PreferredCategories) > 0 {
		cats := a.payer.Denial.PreferredCategories
		category = cats[a.pickRng.Intn(len(cats))]
	}

	lines := make([]model.RemittanceLine, 0, len(claim.ServiceLines))
	for _, sl := range claim.ServiceLines {
		billed := sl.BilledAmount()
		rl := model.RemittanceLine{
			ServiceLineID: sl.ServiceLineID,
			BilledAmount:  model.RoundToCents(billed),
			Status:        model.LineDenied,
		}
		if billed >= 0 {
			rl.NotAllowed = model.RoundToCents(billed)
		} else {
			rl.NotAllowed = model.RoundToCents(-billed)
		}
		info := a.pickReason(category)
		rl.DenialInfo = &info
		lines = append(lines, rl)
	}
	return lines
}

// adjudicateLine decides one service line: degenerate amounts, the scaled
// line-denial draw, then the payment arithmetic.
func (a *Adjudicator) adjudicateLine(sl model.ServiceLine, denialRate float64) model.RemittanceLine {
	billed := sl.BilledAmount()

	if billed <= 0 {
		return model.RemittanceLine{
			ServiceLineID: sl.ServiceLineID,
			BilledAmount:  model.RoundToCents(billed),
			NotAllowed:    model.RoundToCents(math.Max(0, -billed)),
			Status:        model.LineDenied,
		}
	}

	if u := a.rng(); a.payer.Denial != nil && u < denialRate*LineDenialFactor {
		a.lineDenials.Add(1)
		info := a.pickReason("")
		return model.RemittanceLine{
			ServiceLineID: sl.ServiceLineID,
			BilledAmount:  model.RoundToCents(billed),
			NotAllowed:    model.RoundToCents(billed),
			Status:        model.LineDenied,
			DenialInfo:    &info,
		}
	}

	rules := a.payer.Adjudication

	// ±10% variation on the payer's contracted percentage.
	factor := 0.9 + a.rng()*0.2
	payerPaid := math.Max(0, billed*rules.PayerPercentage*factor)
	copay := math.Max(0, math.Min(rules.CopayFixedAmount, billed-payerPaid))
	remainder := billed - payerPaid - copay
	deductible := math.Max(0, remainder*rules.DeductiblePercentage)
	coinsurance := math.Max(0, remainder-deductible)
	notAllowed := math.Max(0, billed-(payerPaid+copay+deductible+coinsurance))

	rl := model.RemittanceLine{
		ServiceLineID: sl.ServiceLineID,
		BilledAmount:  model.RoundToCents(billed),
		PayerPaid:     model.RoundToCents(payerPaid),
		Coinsurance:   model.RoundToCents(coinsurance),
		Copay:         model.RoundToCents(copay),
		Deductible:    model.RoundToCents(deductible),
		NotAllowed:    model.RoundToCents(notAllowed),
		Status:        model.LineApproved,
	}
	return rebalance(rl)
}

// rebalance absorbs cent-rounding drift so the six components sum back to
// the billed amount: residual goes to not_allowed, clamped at zero, with any
// remaining deficit taken from payer_paid.
func rebalance(rl model.RemittanceLine) model.RemittanceLine {
	sum := rl.PayerPaid + rl.Coinsurance + rl.Copay + rl.Deductible + rl.NotAllowed
	residual := model.RoundToCents(rl.BilledAmount - sum)
	if residual == 0 {
		return rl
	}
	rl.NotAllowed = model.RoundToCents(rl.NotAllowed + residual)
	if rl.NotAllowed < 0 {
		deficit := rl.NotAllowed
		rl.NotAllowed = 0
		rl.PayerPaid = model.RoundToCents(rl.PayerPaid + deficit)
		if rl.PayerPaid < 0 {
			rl.PayerPaid = 0
		}
	}
	return rl
}

// pickReason selects a denial reason, honoring the payer's hard denial rate.
// An empty category means any category.
func (a *Adjudicator) pickReason(category string) model.DenialInfo {
	severity := model.SeveritySoft
	if a.payer.Denial != nil && a.pickRng.Float64() < a.payer.Denial.HardDenialRate {
		severity = model.SeverityHard
	}
	if category != "" {
		return a.catalog.PickByCategorySeverity(category, severity)
	}
	return a.catalog.PickRandom()
}

// PayerID returns the payer this adjudicator simulates.
func (a *Adjudicator) PayerID() string { return a.payer.PayerID }

// Stats returns adjudication counters.
func (a *Adjudicator) Stats() Stats {
	processed := a.processed.Load()
	s := Stats{
		PayerID:        a.payer.PayerID,
		Processed:      processed,
		ClaimDenials:   a.claimDenials.Load(),
		LineDenials:    a.lineDenials.Load(),
		TotalDeniedAmt: float64(a.deniedCents.Load()) / 100,
	}
	if processed > 0 {
		s.AvgProcessMS = float64(a.totalMS.Load()) / float64(processed)
	}
	return s
}
