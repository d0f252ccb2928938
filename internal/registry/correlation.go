// Package registry tracks the correlation between submitted claims and their
// remittances. It is the bookkeeping source of truth for which claims are
// still outstanding.
package registry

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/medflow/claimsim/internal/model"
)

// CorrelationRecord binds one submission to its eventual remittance.
// Outstanding means RemittedAt is unset.
type CorrelationRecord struct {
	CorrelationID string     `json:"correlation_id"`
	ClaimID       string     `json:"claim_id"`
	PayerID       string     `json:"payer_id"`
	PayerName     string     `json:"payer_name"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	RemittedAt    *time.Time `json:"remitted_at,omitempty"`
	Billed        float64    `json:"billed"`
	Paid          float64    `json:"paid"`
	PatientShare  float64    `json:"patient_share"`
	NotAllowed    float64    `json:"not_allowed"`
	Status        string     `json:"status,omitempty"`
	IsOutstanding bool       `json:"is_outstanding"`
}

// StateStats summarizes registry state.
type StateStats struct {
	Total                int `json:"total"`
	Outstanding          int `json:"outstanding"`
	Completed            int `json:"completed"`
	UnknownCompletions   int `json:"unknown_completions"`
	ChronologyViolations int `json:"chronology_violations"`
	DuplicateSubmissions int `json:"duplicate_submissions"`
}

// CorrelationRegistry maps correlation id to record, with a secondary payer
// index for payer-scoped queries. Safe for concurrent use, though in the
// default pipeline wiring all writes come from single-concurrency stages.
type CorrelationRegistry struct {
	mu      sync.RWMutex
	records map[string]*CorrelationRecord
	byPayer map[string]map[string]struct{}

	unknownCompletions   int
	chronologyViolations int
	duplicateSubmissions int

	logger *log.Logger
	now    func() time.Time
}

// NewCorrelationRegistry creates an empty registry.
func NewCorrelationRegistry() *CorrelationRegistry {
	return &CorrelationRegistry{
		records: make(map[string]*CorrelationRecord),
		byPayer: make(map[string]map[string]struct{}),
		logger:  log.New(log.Writer(), "[CORRELATION] ", log.LstdFlags),
		now:     time.Now,
	}
}

// RecordSubmission registers (or, last-write-wins, overwrites) the record for
// an envelope routed to the resolved payer.
func (r *CorrelationRegistry) RecordSubmission(env model.ClaimEnvelope, payerID, payerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.records[env.CorrelationID]; exists {
		r.duplicateSubmissions++
		r.logger.Printf("⚠️  Duplicate submission for %s (was payer %s), overwriting",
			env.CorrelationID, old.PayerID)
		delete(r.byPayer[old.PayerID], env.CorrelationID)
	}

	rec := &CorrelationRecord{
		CorrelationID: env.CorrelationID,
		ClaimID:       env.Claim.ClaimID,
		PayerID:       payerID,
		PayerName:     payerName,
		SubmittedAt:   r.now(),
		Billed:        env.Claim.TotalBilled(),
		IsOutstanding: true,
	}
	r.records[env.CorrelationID] = rec
	if r.byPayer[payerID] == nil {
		r.byPayer[payerID] = make(map[string]struct{})
	}
	r.byPayer[payerID][env.CorrelationID] = struct{}{}
}

// RecordCompletion updates the record for a remittance. Unknown correlation
// ids are a warn-and-skip; a remittance timestamped before its submission
// raises a validation warning but the record is still updated.
func (r *CorrelationRegistry) RecordCompletion(rem model.Remittance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[rem.CorrelationID]
	if !exists {
		r.unknownCompletions++
		r.logger.Printf("⚠️  Completion for unknown correlation id %s (claim %s), ignoring",
			rem.CorrelationID, rem.ClaimID)
		return
	}

	remittedAt := rem.ProcessedAt
	if remittedAt.IsZero() {
		remittedAt = r.now()
	}
	if remittedAt.Before(rec.SubmittedAt) {
		r.chronologyViolations++
		r.logger.Printf("⚠️  Chronology violation for %s: remitted %s before submitted %s",
			rem.CorrelationID, remittedAt.Format(time.RFC3339Nano), rec.SubmittedAt.Format(time.RFC3339Nano))
	}

	rec.RemittedAt = &remittedAt
	rec.Paid = rem.TotalPaid()
	rec.PatientShare = rem.TotalPatientShare()
	rec.NotAllowed = rec.Billed - rec.Paid - rec.PatientShare
	if rec.NotAllowed < 0 {
		rec.NotAllowed = 0
	}
	rec.Status = string(rem.OverallStatus)
	rec.IsOutstanding = false
}

// Get returns a copy of the record for a correlation id.
func (r *CorrelationRegistry) Get(correlationID string) (CorrelationRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[correlationID]
	if !ok {
		return CorrelationRecord{}, false
	}
	return *rec, true
}

// ByPayer returns copies of all records routed to a payer.
func (r *CorrelationRegistry) ByPayer(payerID string) []CorrelationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byPayer[payerID]
	out := make([]CorrelationRecord, 0, len(ids))
	for id := range ids {
		out = append(out, *r.records[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// Outstanding returns all records with no remittance yet, oldest first.
func (r *CorrelationRegistry) Outstanding() []CorrelationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CorrelationRecord, 0)
	for _, rec := range r.records {
		if rec.IsOutstanding {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// Critical returns outstanding records older than the threshold, oldest
// first.
func (r *CorrelationRegistry) Critical(threshold time.Duration) []CorrelationRecord {
	cutoff := r.now().Add(-threshold)
	out := make([]CorrelationRecord, 0)
	r.mu.RLock()
	for _, rec := range r.records {
		if rec.IsOutstanding && !rec.SubmittedAt.After(cutoff) {
			out = append(out, *rec)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// Stats returns registry counters.
func (r *CorrelationRegistry) Stats() StateStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := StateStats{
		Total:                len(r.records),
		UnknownCompletions:   r.unknownCompletions,
		ChronologyViolations: r.chronologyViolations,
		DuplicateSubmissions: r.duplicateSubmissions,
	}
	for _, rec := range r.records {
		if rec.IsOutstanding {
			s.Outstanding++
		} else {
			s.Completed++
		}
	}
	return s
}
