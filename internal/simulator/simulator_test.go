package simulator

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/claimsim/internal/config"
	"github.com/medflow/claimsim/internal/events"
	"github.com/medflow/claimsim/internal/ingest"
	"github.com/medflow/claimsim/internal/metrics"
	"github.com/medflow/claimsim/internal/model"
)

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Ingestion.RateLimit = 500
	cfg.Billing.ReportingIntervalSeconds = 0
	cfg.Aging.ReportingIntervalSeconds = 0
	cfg.Payers = []config.PayerConfig{
		{
			PayerID:           "FAST",
			Name:              "Fast Payer",
			ProcessingDelayMS: config.DelayRange{MinMS: 0, MaxMS: 1},
			Adjudication: config.AdjudicationRules{
				PayerPercentage:      0.8,
				CopayFixedAmount:     10,
				DeductiblePercentage: 0.1,
			},
		},
		{
			PayerID:           "SLOW",
			Name:              "Slow Payer",
			ProcessingDelayMS: config.DelayRange{MinMS: 1, MaxMS: 2},
			Adjudication: config.AdjudicationRules{
				PayerPercentage: 0.6,
			},
		},
	}
	return &cfg
}

func sourceClaims(n int, payerID string) []model.Claim {
	claims := make([]model.Claim, 0, n)
	for i := 0; i < n; i++ {
		claims = append(claims, model.Claim{
			ClaimID:   "CLM-" + payerID + "-" + string(rune('A'+i)),
			Patient:   model.Patient{FirstName: "Pat", LastName: "Smith"},
			Insurance: model.Insurance{PayerID: payerID},
			ServiceLines: []model.ServiceLine{
				{ServiceLineID: "L1", UnitChargeAmount: 120, Units: 1, Currency: "USD"},
			},
		})
	}
	return claims
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Payers = nil
	_, err := New(&cfg, Options{})
	require.Error(t, err)
}

func TestPipeline_EndToEnd(t *testing.T) {
	cfg := fastConfig()
	sim, err := New(cfg, Options{})
	require.NoError(t, err)

	claims := append(sourceClaims(5, "FAST"), sourceClaims(3, "SLOW")...)
	require.NoError(t, sim.Start(ingest.NewSliceSource(claims)))

	require.Eventually(t, func() bool {
		return sim.Billing().Summary().TotalClaims == 8
	}, 10*time.Second, 20*time.Millisecond, "all claims should complete")

	sim.Stop()

	stats := sim.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, 8, stats.Ingestion.ClaimsIngested)
	assert.Equal(t, int64(8), stats.Clearinghouse.Routed)
	assert.Equal(t, int64(0), stats.Clearinghouse.Fallbacks)
	assert.Equal(t, 8, stats.Billing.TotalClaims)
	assert.Equal(t, 0, stats.Outstanding)
	assert.InDelta(t, 8*120.0, stats.Billing.TotalBilled, 0.01)

	require.Len(t, stats.Payers, 2)
	assert.Equal(t, "FAST", stats.Payers[0].PayerID)
	assert.Equal(t, int64(5), stats.Payers[0].Processed)
	assert.Equal(t, "SLOW", stats.Payers[1].PayerID)
	assert.Equal(t, int64(3), stats.Payers[1].Processed)

	assert.Equal(t, 8, stats.Registry.Completed)
	assert.Equal(t, 0, stats.Registry.Outstanding)
}

func TestPipeline_UnknownPayerFallsBack(t *testing.T) {
	cfg := fastConfig()
	sim, err := New(cfg, Options{})
	require.NoError(t, err)

	require.NoError(t, sim.Start(ingest.NewSliceSource(sourceClaims(2, "NOBODY"))))
	require.Eventually(t, func() bool {
		return sim.Billing().Summary().TotalClaims == 2
	}, 10*time.Second, 20*time.Millisecond)
	sim.Stop()

	stats := sim.Stats()
	assert.Equal(t, int64(2), stats.Clearinghouse.Fallbacks)
	assert.Equal(t, int64(2), stats.Payers[0].Processed, "fallback claims land on the first payer")
}

func TestStart_TwiceFails(t *testing.T) {
	sim, err := New(fastConfig(), Options{})
	require.NoError(t, err)

	require.NoError(t, sim.Start(ingest.NewSliceSource(nil)))
	assert.Error(t, sim.Start(ingest.NewSliceSource(nil)))
	sim.Stop()
}

func TestStop_Idempotent(t *testing.T) {
	sim, err := New(fastConfig(), Options{})
	require.NoError(t, err)
	require.NoError(t, sim.Start(ingest.NewSliceSource(nil)))
	sim.Stop()
	sim.Stop() // second call is a no-op
	assert.False(t, sim.Running())
}

func TestPipeline_EventsAndMetrics(t *testing.T) {
	cfg := fastConfig()
	bus := events.NewEventBus()
	billed := bus.Subscribe(events.TypeClaimBilled)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	sim, err := New(cfg, Options{Emitter: bus, Metrics: m})
	require.NoError(t, err)

	require.NoError(t, sim.Start(ingest.NewSliceSource(sourceClaims(1, "FAST"))))

	select {
	case ev := <-billed:
		assert.Equal(t, events.TypeClaimBilled, ev.Type)
		assert.Equal(t, "FAST", ev.Data["payer_id"])
	case <-time.After(10 * time.Second):
		t.Fatal("no claim.billed event observed")
	}
	sim.Stop()
}

func TestSystemInfo(t *testing.T) {
	sim, err := New(fastConfig(), Options{})
	require.NoError(t, err)

	info := sim.SystemInfo()
	assert.Greater(t, info.NumCPU, 0)
	assert.Greater(t, info.NumGoroutine, 0)
	assert.NotEmpty(t, info.GoVersion)
}
