// Package billing aggregates remittances into running financial totals,
// per-payer breakdowns, and patient cost-share balances, and settles each
// claim's correlation and aging records.
package billing

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/medflow/claimsim/internal/aging"
	"github.com/medflow/claimsim/internal/events"
	"github.com/medflow/claimsim/internal/model"
	"github.com/medflow/claimsim/internal/queue"
	"github.com/medflow/claimsim/internal/registry"
	"github.com/medflow/claimsim/internal/store"
)

// maxDurationSamples bounds the processing-time window used for the
// average; older samples are discarded.
const maxDurationSamples = 1000

// topPatientShares is how many patient balances the periodic report prints.
const topPatientShares = 5

// PayerTotals is the per-payer slice of the aggregate.
type PayerTotals struct {
	PayerID     string  `json:"payer_id"`
	PayerName   string  `json:"payer_name"`
	Claims      int     `json:"claims"`
	Approved    int     `json:"approved"`
	Denied      int     `json:"denied"`
	Partial     int     `json:"partial"`
	TotalBilled float64 `json:"total_billed"`
	TotalPaid   float64 `json:"total_paid"`
}

// Summary is a point-in-time snapshot of the aggregate.
type Summary struct {
	TotalClaims       int                `json:"total_claims"`
	Approved          int                `json:"approved"`
	Denied            int                `json:"denied"`
	PartialDenials    int                `json:"partial_denials"`
	TotalBilled       float64            `json:"total_billed"`
	TotalPaid         float64            `json:"total_paid"`
	TotalPatientShare float64            `json:"total_patient_share"`
	TotalDenied       float64            `json:"total_denied"`
	Duplicates        int64              `json:"duplicates"`
	AvgProcessingMS   float64            `json:"avg_processing_ms"`
	Payers            []PayerTotals      `json:"payers"`
	PatientBalances   map[string]float64 `json:"patient_balances"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// Aggregator consumes the remittance queue. Exactly one completion is
// counted per correlation id; replays are dropped and counted as duplicates.
type Aggregator struct {
	correlation *registry.CorrelationRegistry
	aging       *aging.Service
	claims      store.ClaimStore
	emitter     events.EventEmitter
	logger      *log.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu              sync.Mutex
	seen            map[string]struct{}
	totalClaims     int
	approved        int
	denied          int
	partial         int
	totalBilled     float64
	totalPaid       float64
	totalShare      float64
	totalDenied     float64
	duplicates      int64
	payers          map[string]*PayerTotals
	patientBalances map[string]float64
	durations       []float64
	durIdx          int

	// OnClaimProcessed observes every counted completion (metrics).
	OnClaimProcessed func(msg model.RemittanceMessage)
}

// NewAggregator wires a billing aggregator. interval is the periodic report
// cadence; zero disables the reporter.
func NewAggregator(correlation *registry.CorrelationRegistry, agingSvc *aging.Service,
	claims store.ClaimStore, emitter events.EventEmitter, interval time.Duration) *Aggregator {
	return &Aggregator{
		correlation:     correlation,
		aging:           agingSvc,
		claims:          claims,
		emitter:         emitter,
		logger:          log.New(log.Writer(), "[BILLING] ", log.LstdFlags),
		interval:        interval,
		stopCh:          make(chan struct{}),
		seen:            make(map[string]struct{}),
		payers:          make(map[string]*PayerTotals),
		patientBalances: make(map[string]float64),
		durations:       make([]float64, 0, maxDurationSamples),
	}
}

// Handler returns the remittance-queue handler.
func (b *Aggregator) Handler() queue.Handler[model.RemittanceMessage] {
	return b.process
}

// patientKey derives the ledger key for a patient balance from the claim's
// correlation id. Correlation ids are uuids, so the last six characters are
// enough to keep synthetic patients distinct within a run.
func patientKey(correlationID string) string {
	suffix := correlationID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "patient_" + suffix
}

func (b *Aggregator) process(ctx context.Context, msg model.RemittanceMessage) error {
	rem := &msg.Remittance

	b.mu.Lock()
	if _, dup := b.seen[rem.CorrelationID]; dup {
		b.duplicates++
		b.mu.Unlock()
		b.logger.Printf("⚠️  Duplicate remittance for %s dropped", rem.CorrelationID)
		return nil
	}
	b.seen[rem.CorrelationID] = struct{}{}

	b.totalClaims++
	switch rem.OverallStatus {
	case model.StatusApproved:
		b.approved++
	case model.StatusDenied:
		b.denied++
	case model.StatusPartialDenial:
		b.partial++
	}

	billed := rem.TotalBilled()
	paid := rem.TotalPaid()
	share := rem.TotalPatientShare()
	b.totalBilled = model.RoundToCents(b.totalBilled + billed)
	b.totalPaid = model.RoundToCents(b.totalPaid + paid)
	b.totalShare = model.RoundToCents(b.totalShare + share)
	b.totalDenied = model.RoundToCents(b.totalDenied + rem.TotalDeniedAmount)

	pt, ok := b.payers[rem.PayerID]
	if !ok {
		pt = &PayerTotals{PayerID: rem.PayerID, PayerName: rem.PayerName}
		b.payers[rem.PayerID] = pt
	}
	pt.Claims++
	switch rem.OverallStatus {
	case model.StatusApproved:
		pt.Approved++
	case model.StatusDenied:
		pt.Denied++
	case model.StatusPartialDenial:
		pt.Partial++
	}
	pt.TotalBilled = model.RoundToCents(pt.TotalBilled + billed)
	pt.TotalPaid = model.RoundToCents(pt.TotalPaid + paid)

	if share > 0 {
		key := patientKey(rem.CorrelationID)
		b.patientBalances[key] = model.RoundToCents(b.patientBalances[key] + share)
	}

	b.pushDuration(msg.ProcessingMS)
	b.mu.Unlock()

	// Settles the claim everywhere downstream of billing.
	b.correlation.RecordCompletion(*rem)
	b.aging.RecordCompletion(*rem)
	if err := b.claims.MarkBilled(ctx, rem.ClaimID); err != nil {
		b.logger.Printf("⚠️  Failed to mark %s billed: %v", rem.ClaimID, err)
	}

	if b.emitter != nil {
		b.emitter.Emit(events.TypeClaimBilled, "/pipeline/billing", rem.CorrelationID,
			map[string]interface{}{
				"claim_id": rem.ClaimID,
				"payer_id": rem.PayerID,
				"status":   string(rem.OverallStatus),
				"billed":   billed,
				"paid":     paid,
			})
	}
	if b.OnClaimProcessed != nil {
		b.OnClaimProcessed(msg)
	}
	return nil
}

// pushDuration records a processing-time sample in the bounded window.
// Caller holds b.mu.
func (b *Aggregator) pushDuration(ms float64) {
	if len(b.durations) < maxDurationSamples {
		b.durations = append(b.durations, ms)
		return
	}
	b.durations[b.durIdx] = ms
	b.durIdx = (b.durIdx + 1) % maxDurationSamples
}

// Summary snapshots the aggregate totals.
func (b *Aggregator) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Summary{
		TotalClaims:       b.totalClaims,
		Approved:          b.approved,
		Denied:            b.denied,
		PartialDenials:    b.partial,
		TotalBilled:       b.totalBilled,
		TotalPaid:         b.totalPaid,
		TotalPatientShare: b.totalShare,
		TotalDenied:       b.totalDenied,
		Duplicates:        b.duplicates,
		PatientBalances:   make(map[string]float64, len(b.patientBalances)),
		GeneratedAt:       time.Now(),
	}
	if n := len(b.durations); n > 0 {
		var sum float64
		for _, d := range b.durations {
			sum += d
		}
		s.AvgProcessingMS = sum / float64(n)
	}
	for k, v := range b.patientBalances {
		s.PatientBalances[k] = v
	}
	s.Payers = make([]PayerTotals, 0, len(b.payers))
	for _, pt := range b.payers {
		s.Payers = append(s.Payers, *pt)
	}
	sort.Slice(s.Payers, func(i, j int) bool { return s.Payers[i].PayerID < s.Payers[j].PayerID })
	return s
}

// Start launches the periodic report loop. No-op when the interval is zero.
func (b *Aggregator) Start() {
	if b.interval <= 0 {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.logReport()
			case <-b.stopCh:
				return
			}
		}
	}()
	b.logger.Printf("🚀 Billing reporter started (every %s)", b.interval)
}

// Stop halts the periodic reporter and prints a final report.
func (b *Aggregator) Stop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	b.wg.Wait()
	b.logReport()
}

func (b *Aggregator) logReport() {
	s := b.Summary()
	b.logger.Printf("📊 Billing report: %d claims (%d approved, %d partial, %d denied) billed=$%.2f paid=$%.2f patient=$%.2f denied=$%.2f avg=%.1fms",
		s.TotalClaims, s.Approved, s.PartialDenials, s.Denied,
		s.TotalBilled, s.TotalPaid, s.TotalPatientShare, s.TotalDenied, s.AvgProcessingMS)
	for _, pt := range s.Payers {
		b.logger.Printf("   %s (%s): %d claims, billed=$%.2f paid=$%.2f",
			pt.PayerID, pt.PayerName, pt.Claims, pt.TotalBilled, pt.TotalPaid)
	}
	for _, entry := range topBalances(s.PatientBalances, topPatientShares) {
		b.logger.Printf("   💰 %s owes $%.2f", entry.key, entry.amount)
	}
}

type balanceEntry struct {
	key    string
	amount float64
}

func topBalances(balances map[string]float64, n int) []balanceEntry {
	entries := make([]balanceEntry, 0, len(balances))
	for k, v := range balances {
		entries = append(entries, balanceEntry{k, v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].amount != entries[j].amount {
			return entries[i].amount > entries[j].amount
		}
		return entries[i].key < entries[j].key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
