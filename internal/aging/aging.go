// Package aging tracks accounts-receivable aging: how long each claim takes
// (or is taking) from submission to remittance, bucketed into fixed age
// ranges, with threshold alerts for stuck or slow claims.
package aging

import (
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/medflow/claimsim/internal/model"
)

// Alert types.
const (
	AlertHighAging      = "HIGH_AGING"
	AlertStuckClaims    = "STUCK_CLAIMS"
	AlertPayerDelay     = "PAYER_DELAY"
	AlertDataValidation = "DATA_VALIDATION"
)

// Alert severities.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// BucketLabels name the four aging buckets, in minutes since submission.
var BucketLabels = [4]string{"0-1m", "1-2m", "2-3m", "3m+"}

// BucketIndex maps an age in minutes to its bucket.
func BucketIndex(ageMinutes float64) int {
	switch {
	case ageMinutes < 1:
		return 0
	case ageMinutes < 2:
		return 1
	case ageMinutes < 3:
		return 2
	default:
		return 3
	}
}

// Alert is a structured aging alert, delivered through the logger and the
// optional OnAlert hook.
type Alert struct {
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	PayerID    string    `json:"payer_id,omitempty"`
	ClaimCount int       `json:"claim_count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Record is one claim's aging entry.
type Record struct {
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
	Outstanding   bool       `json:"outstanding"`
}

// AgeAt returns the record's age: completed records age up to their
// remittance, outstanding ones keep aging against now.
func (r *Record) AgeAt(now time.Time) time.Duration {
	if r.RemittedAt != nil {
		return r.RemittedAt.Sub(r.SubmittedAt)
	}
	return now.Sub(r.SubmittedAt)
}

// PayerReport is the per-payer slice of an aging report.
type PayerReport struct {
	PayerID        string  `json:"payer_id"`
	PayerName      string  `json:"payer_name"`
	Buckets        [4]int  `json:"buckets"`
	TotalClaims    int     `json:"total_claims"`
	TotalBilled    float64 `json:"total_billed"`
	TotalPaid      float64 `json:"total_paid"`
	Outstanding    int     `json:"outstanding"`
	AverageAgeMins float64 `json:"average_age_minutes"`
	OldestAgeMins  float64 `json:"oldest_age_minutes"`
}

// Config carries the aging thresholds.
type Config struct {
	CriticalAgeMinutes  float64
	HighVolumeThreshold int
	PayerDelayThreshold float64 // minutes
	ReportingInterval   time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		CriticalAgeMinutes:  3,
		HighVolumeThreshold: 10,
		PayerDelayThreshold: 2,
		ReportingInterval:   5 * time.Second,
	}
}

// Service is the AR aging tracker.
type Service struct {
	mu      sync.RWMutex
	records map[string]*Record
	byPayer map[string][]string // payer id -> correlation ids, submission order
	alerts  []Alert

	cfg    Config
	logger *log.Logger
	now    func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup

	// OnAlert observes every emitted alert (metrics, event bus).
	OnAlert func(Alert)
}

// NewService creates an aging service with the given thresholds.
func NewService(cfg Config) *Service {
	if cfg.CriticalAgeMinutes <= 0 {
		cfg.CriticalAgeMinutes = 3
	}
	if cfg.HighVolumeThreshold <= 0 {
		cfg.HighVolumeThreshold = 10
	}
	if cfg.PayerDelayThreshold <= 0 {
		cfg.PayerDelayThreshold = 2
	}
	return &Service{
		records: make(map[string]*Record),
		byPayer: make(map[string][]string),
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[AR-AGING] ", log.LstdFlags),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// RecordSubmission registers a routed claim. Claims failing basic validation
// (empty ids, non-positive billed amount) raise a DATA_VALIDATION alert and
// are not tracked.
func (s *Service) RecordSubmission(env model.ClaimEnvelope, payerID, payerName string) {
	billed := env.Claim.TotalBilled()
	if env.Claim.ClaimID == "" || payerID == "" || billed <= 0 {
		s.emitAlert(Alert{
			Type:     AlertDataValidation,
			Severity: SeverityMedium,
			Message: fmt.Sprintf("submission rejected for aging: claim_id=%q payer_id=%q billed=%.2f",
				env.Claim.ClaimID, payerID, billed),
			PayerID:   payerID,
			Timestamp: s.now(),
		})
		return
	}

	s.mu.Lock()
	s.records[env.CorrelationID] = &Record{
		CorrelationID: env.CorrelationID,
		ClaimID:       env.Claim.ClaimID,
		PayerID:       payerID,
		PayerName:     payerName,
		SubmittedAt:   s.now(),
		Billed:        billed,
		Outstanding:   true,
	}
	s.byPayer[payerID] = append(s.byPayer[payerID], env.CorrelationID)
	s.mu.Unlock()
}

// RecordCompletion settles a claim's aging entry from its remittance.
// Reconciliation and chronology problems alert but still update the record.
func (s *Service) RecordCompletion(rem model.Remittance) {
	s.mu.Lock()
	rec, ok := s.records[rem.CorrelationID]
	if !ok {
		s.mu.Unlock()
		s.logger.Printf("⚠️  Completion for untracked correlation id %s", rem.CorrelationID)
		return
	}

	remittedAt := rem.ProcessedAt
	if remittedAt.IsZero() {
		remittedAt = s.now()
	}
	paid := rem.TotalPaid()
	patientShare := rem.TotalPatientShare()
	notAllowed := rec.Billed - paid - patientShare

	rec.RemittedAt = &remittedAt
	rec.Paid = paid
	rec.PatientShare = patientShare
	rec.NotAllowed = math.Max(0, notAllowed)
	rec.Outstanding = false
	ageMins := rec.AgeAt(remittedAt).Minutes()
	chronologyBad := remittedAt.Before(rec.SubmittedAt)
	var reconciliationDrift float64
	for _, rl := range rem.RemittanceLines {
		sum := rl.PayerPaid + rl.Coinsurance + rl.Copay + rl.Deductible + rl.NotAllowed
		if drift := math.Abs(rl.BilledAmount - sum); drift > reconciliationDrift {
			reconciliationDrift = drift
		}
	}
	s.mu.Unlock()

	if chronologyBad {
		s.emitAlert(Alert{
			Type:     AlertDataValidation,
			Severity: SeverityHigh,
			Message: fmt.Sprintf("claim %s remitted before submission (remitted=%s submitted=%s)",
				rec.ClaimID, remittedAt.Format(time.RFC3339), rec.SubmittedAt.Format(time.RFC3339)),
			PayerID:   rec.PayerID,
			Timestamp: s.now(),
		})
	}
	if reconciliationDrift > model.ReconciliationTolerance {
		s.emitAlert(Alert{
			Type:     AlertDataValidation,
			Severity: SeverityHigh,
			Message: fmt.Sprintf("claim %s fails reconciliation by $%.4f (tolerance $%.2f)",
				rec.ClaimID, reconciliationDrift, model.ReconciliationTolerance),
			PayerID:   rec.PayerID,
			Timestamp: s.now(),
		})
	}
	if ageMins >= s.cfg.CriticalAgeMinutes {
		s.emitAlert(Alert{
			Type:     AlertHighAging,
			Severity: SeverityHigh,
			Message: fmt.Sprintf("claim %s completed after %.1f minutes (critical threshold %.1f)",
				rec.ClaimID, ageMins, s.cfg.CriticalAgeMinutes),
			PayerID:    rec.PayerID,
			ClaimCount: 1,
			Timestamp:  s.now(),
		})
	}
}

// GenerateReport returns per-payer aging metrics, sorted by payer id.
func (s *Service) GenerateReport() []PayerReport {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	payerIDs := make([]string, 0, len(s.byPayer))
	for pid := range s.byPayer {
		payerIDs = append(payerIDs, pid)
	}
	sort.Strings(payerIDs)

	reports := make([]PayerReport, 0, len(payerIDs))
	for _, pid := range payerIDs {
		ids := s.byPayer[pid]
		if len(ids) == 0 {
			continue
		}
		rep := PayerReport{PayerID: pid}
		var totalAge float64
		for _, id := range ids {
			rec := s.records[id]
			rep.PayerName = rec.PayerName
			age := rec.AgeAt(now).Minutes()
			rep.Buckets[BucketIndex(age)]++
			rep.TotalClaims++
			rep.TotalBilled += rec.Billed
			rep.TotalPaid += rec.Paid
			if rec.Outstanding {
				rep.Outstanding++
			}
			totalAge += age
			if age > rep.OldestAgeMins {
				rep.OldestAgeMins = age
			}
		}
		rep.AverageAgeMins = totalAge / float64(rep.TotalClaims)
		reports = append(reports, rep)
	}
	return reports
}

// CriticalClaims returns records aged at least the critical threshold,
// oldest first.
func (s *Service) CriticalClaims() []Record {
	now := s.now()
	threshold := time.Duration(s.cfg.CriticalAgeMinutes * float64(time.Minute))

	s.mu.RLock()
	out := make([]Record, 0)
	for _, rec := range s.records {
		if rec.AgeAt(now) >= threshold {
			out = append(out, *rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// Alerts returns all alerts emitted so far.
func (s *Service) Alerts() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// OutstandingCount returns the number of claims still awaiting remittance.
func (s *Service) OutstandingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if rec.Outstanding {
			n++
		}
	}
	return n
}

// Start launches the periodic reporter. A non-positive interval disables it.
func (s *Service) Start() {
	if s.cfg.ReportingInterval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.ReportingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.reportAndCheck()
			}
		}
	}()
}

// Stop halts the periodic reporter.
func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// reportAndCheck logs the aging report and runs the threshold checks.
func (s *Service) reportAndCheck() {
	reports := s.GenerateReport()
	if len(reports) == 0 {
		return
	}

	s.logger.Printf("📊 AR aging report (%d payers):", len(reports))
	for _, rep := range reports {
		s.logger.Printf("   %s (%s): %d claims [%s:%d %s:%d %s:%d %s:%d] outstanding=%d avg=%.1fm oldest=%.1fm",
			rep.PayerName, rep.PayerID, rep.TotalClaims,
			BucketLabels[0], rep.Buckets[0], BucketLabels[1], rep.Buckets[1],
			BucketLabels[2], rep.Buckets[2], BucketLabels[3], rep.Buckets[3],
			rep.Outstanding, rep.AverageAgeMins, rep.OldestAgeMins)

		if rep.Buckets[3] >= s.cfg.HighVolumeThreshold {
			s.emitAlert(Alert{
				Type:     AlertStuckClaims,
				Severity: SeverityCritical,
				Message: fmt.Sprintf("%d claims aged over 3 minutes for payer %s (threshold %d)",
					rep.Buckets[3], rep.PayerID, s.cfg.HighVolumeThreshold),
				PayerID:    rep.PayerID,
				ClaimCount: rep.Buckets[3],
				Timestamp:  s.now(),
			})
		}
		if rep.AverageAgeMins >= s.cfg.PayerDelayThreshold {
			s.emitAlert(Alert{
				Type:     AlertPayerDelay,
				Severity: SeverityMedium,
				Message: fmt.Sprintf("payer %s average claim age %.1f minutes exceeds %.1f",
					rep.PayerID, rep.AverageAgeMins, s.cfg.PayerDelayThreshold),
				PayerID:    rep.PayerID,
				ClaimCount: rep.TotalClaims,
				Timestamp:  s.now(),
			})
		}
	}
}

func (s *Service) emitAlert(alert Alert) {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()

	s.logger.Printf("🚨 [%s/%s] %s", alert.Type, alert.Severity, alert.Message)
	if s.OnAlert != nil {
		s.OnAlert(alert)
	}
}
