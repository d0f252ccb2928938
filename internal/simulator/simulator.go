// Package simulator assembles the claims pipeline: ingestion, clearinghouse
// routing, per-payer adjudication, billing aggregation, and AR aging, all
// connected by in-process job queues.
package simulator

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/medflow/claimsim/internal/adjudicator"
	"github.com/medflow/claimsim/internal/aging"
	"github.com/medflow/claimsim/internal/billing"
	"github.com/medflow/claimsim/internal/clearinghouse"
	"github.com/medflow/claimsim/internal/config"
	"github.com/medflow/claimsim/internal/denial"
	"github.com/medflow/claimsim/internal/edi"
	"github.com/medflow/claimsim/internal/events"
	"github.com/medflow/claimsim/internal/ingest"
	"github.com/medflow/claimsim/internal/metrics"
	"github.com/medflow/claimsim/internal/model"
	"github.com/medflow/claimsim/internal/queue"
	"github.com/medflow/claimsim/internal/ratelimit"
	"github.com/medflow/claimsim/internal/registry"
	"github.com/medflow/claimsim/internal/store"
)

// drainTimeout bounds how long Stop waits for each stage to go idle.
const drainTimeout = 30 * time.Second

// Options carries the optional collaborators. Zero value means in-memory
// only: no persistence, no events, no metrics.
type Options struct {
	Store   store.ClaimStore
	Emitter events.EventEmitter
	Metrics *metrics.Metrics
}

// Status is the control-surface snapshot of the running pipeline.
type Status struct {
	Running       bool                   `json:"running"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Ingestion     ingest.Status          `json:"ingestion"`
	Clearinghouse clearinghouse.Stats    `json:"clearinghouse"`
	Queues        map[string]queue.Stats `json:"queues"`
	Payers        []adjudicator.Stats    `json:"payers"`
	Registry      registry.StateStats    `json:"registry"`
	Outstanding   int                    `json:"outstanding_claims"`
}

// Stats extends Status with the financial aggregate and aging reports.
type Stats struct {
	Status
	Billing billing.Summary     `json:"billing"`
	Aging   []aging.PayerReport `json:"aging"`
}

// SystemInfo reports process-level runtime details.
type SystemInfo struct {
	GoVersion     string  `json:"go_version"`
	NumCPU        int     `json:"num_cpu"`
	NumGoroutine  int     `json:"num_goroutine"`
	AllocMB       float64 `json:"alloc_mb"`
	SysMB         float64 `json:"sys_mb"`
	NumGC         uint32  `json:"num_gc"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Simulator owns every pipeline component and their lifecycles.
type Simulator struct {
	cfg    *config.Config
	opts   Options
	logger *log.Logger

	limiter     *ratelimit.Limiter
	claimsQueue *queue.JobQueue[model.ClaimEnvelope]
	payerQueues map[string]*queue.JobQueue[model.ClaimEnvelope]
	remitQueue  *queue.JobQueue[model.RemittanceMessage]

	correlation  *registry.CorrelationRegistry
	agingSvc     *aging.Service
	ingestor     *ingest.Ingestor
	clearing     *clearinghouse.Clearinghouse
	adjudicators map[string]*adjudicator.Adjudicator
	aggregator   *billing.Aggregator

	mu      sync.Mutex
	running bool
	started time.Time
	created time.Time
}

// New builds and wires the pipeline from validated configuration. Nothing
// runs until Start.
func New(cfg *config.Config, opts Options) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.Store == nil {
		opts.Store = store.NoopStore{}
	}

	s := &Simulator{
		cfg:          cfg,
		opts:         opts,
		logger:       log.New(log.Writer(), "[SIMULATOR] ", log.LstdFlags),
		limiter:      ratelimit.New(cfg.Ingestion.RateLimit),
		payerQueues:  make(map[string]*queue.JobQueue[model.ClaimEnvelope]),
		adjudicators: make(map[string]*adjudicator.Adjudicator),
		correlation:  registry.NewCorrelationRegistry(),
		created:      time.Now(),
	}

	s.claimsQueue = queue.New[model.ClaimEnvelope]("claims", cfg.Queues.ClearinghouseConcurrency)
	s.remitQueue = queue.New[model.RemittanceMessage]("remittance", cfg.Queues.RemittanceConcurrency)

	s.agingSvc = aging.NewService(aging.Config{
		CriticalAgeMinutes:  cfg.Aging.CriticalAgeMinutes,
		HighVolumeThreshold: cfg.Aging.HighVolumeThreshold,
		PayerDelayThreshold: cfg.Aging.PayerDelayThreshold,
		ReportingInterval:   time.Duration(cfg.Aging.ReportingIntervalSeconds) * time.Second,
	})

	catalog := denial.NewCatalog()
	encoder := edi.NewEncoder()
	for _, p := range cfg.Payers {
		q := queue.New[model.ClaimEnvelope]("payer-"+p.PayerID, p.WorkerCount())
		s.payerQueues[p.PayerID] = q
		s.adjudicators[p.PayerID] = adjudicator.New(p, catalog, encoder, s.remitQueue, opts.Store, opts.Emitter)
	}

	s.clearing = clearinghouse.New(cfg.Payers, s.payerQueues, s.correlation, s.agingSvc, opts.Store, opts.Emitter)
	s.ingestor = ingest.NewIngestor(s.limiter, s.claimsQueue, opts.Store, opts.Emitter)
	s.aggregator = billing.NewAggregator(s.correlation, s.agingSvc, opts.Store, opts.Emitter,
		time.Duration(cfg.Billing.ReportingIntervalSeconds)*time.Second)

	s.wireHooks()
	return s, nil
}

// wireHooks connects the observer hooks to metrics and the event bus.
func (s *Simulator) wireHooks() {
	m := s.opts.Metrics

	s.agingSvc.OnAlert = func(a aging.Alert) {
		if m != nil {
			m.AgingAlerts.WithLabelValues(a.Type, a.Severity).Inc()
		}
		if s.opts.Emitter != nil {
			s.opts.Emitter.Emit(events.TypeAgingAlert, "/pipeline/aging", a.PayerID,
				map[string]interface{}{
					"type":        a.Type,
					"severity":    a.Severity,
					"message":     a.Message,
					"payer_id":    a.PayerID,
					"claim_count": a.ClaimCount,
				})
		}
	}

	if m == nil {
		return
	}

	s.ingestor.OnIngested = func(model.ClaimEnvelope) {
		m.ClaimsIngested.Inc()
	}
	s.clearing.OnRouted = func(_ model.ClaimEnvelope, payerID string, usedFallback bool) {
		m.ClaimsRouted.WithLabelValues(payerID).Inc()
		if usedFallback {
			m.FallbackRoutes.Inc()
		}
	}
	for _, adj := range s.adjudicators {
		a := adj
		a.OnRemittance = func(msg model.RemittanceMessage) {
			m.RecordRemittance(a.PayerID(), string(msg.Remittance.OverallStatus),
				msg.ProcessingMS/1000, msg.Remittance.TotalDeniedAmount)
		}
	}
	s.aggregator.OnClaimProcessed = func(msg model.RemittanceMessage) {
		m.BilledTotal.Add(msg.Remittance.TotalBilled())
		m.PaidTotal.Add(msg.Remittance.TotalPaid())
		m.OutstandingClaims.Set(float64(s.agingSvc.OutstandingCount()))
	}

	instrumentQueue(m, s.claimsQueue)
	instrumentQueue(m, s.remitQueue)
	for _, q := range s.payerQueues {
		instrumentQueue(m, q)
	}
}

// instrumentQueue mirrors one queue's depth, retry, and failure counters
// into Prometheus.
func instrumentQueue[T any](m *metrics.Metrics, q *queue.JobQueue[T]) {
	q.OnJobAdded = func(queue.Job[T]) {
		m.QueueDepth.WithLabelValues(q.Name()).Set(float64(q.Stats().Pending))
	}
	q.OnJobCompleted = func(job queue.Job[T]) {
		m.QueueDepth.WithLabelValues(q.Name()).Set(float64(q.Stats().Pending))
		if job.Attempts > 1 {
			m.JobRetries.WithLabelValues(q.Name()).Add(float64(job.Attempts - 1))
		}
	}
	q.OnJobFailed = func(job queue.Job[T]) {
		m.JobsFailed.WithLabelValues(q.Name()).Inc()
		if job.Attempts > 1 {
			m.JobRetries.WithLabelValues(q.Name()).Add(float64(job.Attempts - 1))
		}
	}
}

// Start brings the pipeline up leaf first and begins draining the source.
// Returns an error if the simulator is already running.
func (s *Simulator) Start(source ingest.ClaimSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("simulator already running")
	}

	s.logger.Printf("🚀 Starting pipeline: %d payers, rate limit %.1f claims/s",
		len(s.cfg.Payers), s.cfg.Ingestion.RateLimit)

	s.agingSvc.Start()
	s.aggregator.Start()
	s.remitQueue.Process(s.aggregator.Handler())
	for id, adj := range s.adjudicators {
		s.payerQueues[id].Process(adj.Handler())
	}
	s.claimsQueue.Process(s.clearing.Handler())
	s.ingestor.Start(source)

	s.running = true
	s.started = time.Now()
	return nil
}

// Stop shuts the pipeline down front to back: stop accepting, let each stage
// drain (best effort, bounded), then stop the reporters and close the queues.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Printf("🛑 Stopping pipeline...")
	s.ingestor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.claimsQueue.Drain(ctx); err != nil {
		s.logger.Printf("⚠️  Claims queue did not drain: %v", err)
	}
	for id, q := range s.payerQueues {
		if err := q.Drain(ctx); err != nil {
			s.logger.Printf("⚠️  Payer queue %s did not drain: %v", id, err)
		}
	}
	if err := s.remitQueue.Drain(ctx); err != nil {
		s.logger.Printf("⚠️  Remittance queue did not drain: %v", err)
	}

	s.aggregator.Stop()
	s.agingSvc.Stop()

	s.claimsQueue.Close()
	for _, q := range s.payerQueues {
		q.Close()
	}
	s.remitQueue.Close()

	s.logger.Printf("✅ Pipeline stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetIngestionRate reconfigures the limiter at runtime.
func (s *Simulator) SetIngestionRate(rate float64) {
	s.limiter.SetRate(rate)
	s.logger.Printf("📊 Ingestion rate limit set to %.1f claims/s", rate)
}

// Status snapshots the pipeline state.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	running := s.running
	started := s.started
	s.mu.Unlock()

	st := Status{
		Running:       running,
		Ingestion:     s.ingestor.Status(),
		Clearinghouse: s.clearing.Stats(),
		Queues:        make(map[string]queue.Stats),
		Registry:      s.correlation.Stats(),
		Outstanding:   s.agingSvc.OutstandingCount(),
	}
	if running {
		st.UptimeSeconds = time.Since(started).Seconds()
	}

	st.Queues[s.claimsQueue.Name()] = s.claimsQueue.Stats()
	st.Queues[s.remitQueue.Name()] = s.remitQueue.Stats()
	for _, q := range s.payerQueues {
		st.Queues[q.Name()] = q.Stats()
	}

	for _, adj := range s.adjudicators {
		st.Payers = append(st.Payers, adj.Stats())
	}
	sort.Slice(st.Payers, func(i, j int) bool { return st.Payers[i].PayerID < st.Payers[j].PayerID })
	return st
}

// Stats snapshots the pipeline state plus the financial aggregate.
func (s *Simulator) Stats() Stats {
	return Stats{
		Status:  s.Status(),
		Billing: s.aggregator.Summary(),
		Aging:   s.agingSvc.GenerateReport(),
	}
}

// Billing exposes the aggregator for the replay CLI's final report.
func (s *Simulator) Billing() *billing.Aggregator { return s.aggregator }

// Aging exposes the AR aging service.
func (s *Simulator) Aging() *aging.Service { return s.agingSvc }

// Registry exposes the correlation registry.
func (s *Simulator) Registry() *registry.CorrelationRegistry { return s.correlation }

// SystemInfo reports runtime details for the diagnostics endpoint.
func (s *Simulator) SystemInfo() SystemInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumCPU:        runtime.NumCPU(),
		NumGoroutine:  runtime.NumGoroutine(),
		AllocMB:       float64(mem.Alloc) / 1024 / 1024,
		SysMB:         float64(mem.Sys) / 1024 / 1024,
		NumGC:         mem.NumGC,
		UptimeSeconds: time.Since(s.created).Seconds(),
	}
}
