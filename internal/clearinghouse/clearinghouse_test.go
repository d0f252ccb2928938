package clearinghouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/claimsim/internal/aging"
	"github.com/medflow/claimsim/internal/config"
	"github.com/medflow/claimsim/internal/model"
	"github.com/medflow/claimsim/internal/queue"
	"github.com/medflow/claimsim/internal/registry"
	"github.com/medflow/claimsim/internal/store"
)

func testPayers() []config.PayerConfig {
	return []config.PayerConfig{
		{PayerID: "A", Name: "Payer Alpha"},
		{PayerID: "B", Name: "Payer Beta"},
	}
}

func testEnvelope(corrID, payerID string) model.ClaimEnvelope {
	return model.ClaimEnvelope{
		CorrelationID: corrID,
		Claim: model.Claim{
			ClaimID:   "CLM-" + corrID,
			Patient:   model.Patient{FirstName: "Jane", LastName: "Doe"},
			Insurance: model.Insurance{PayerID: payerID},
			ServiceLines: []model.ServiceLine{
				{ServiceLineID: "L1", UnitChargeAmount: 100, Units: 1, Currency: "USD"},
			},
		},
		IngestedAt: time.Now(),
	}
}

func newTestClearinghouse(t *testing.T, payers []config.PayerConfig) (*Clearinghouse, map[string]*queue.JobQueue[model.ClaimEnvelope], *registry.CorrelationRegistry) {
	t.Helper()
	queues := make(map[string]*queue.JobQueue[model.ClaimEnvelope])
	for _, p := range payers {
		q := queue.New[model.ClaimEnvelope]("payer-"+p.PayerID, 1)
		q.Pause() // inspect rather than run
		q.Process(func(ctx context.Context, env model.ClaimEnvelope) error { return nil })
		t.Cleanup(q.Close)
		queues[p.PayerID] = q
	}
	reg := registry.NewCorrelationRegistry()
	ch := New(payers, queues, reg, aging.NewService(aging.DefaultConfig()), store.NoopStore{}, nil)
	return ch, queues, reg
}

func TestRoute_KnownPayer(t *testing.T) {
	ch, queues, reg := newTestClearinghouse(t, testPayers())

	require.NoError(t, ch.route(context.Background(), testEnvelope("c1", "B")))

	assert.Equal(t, 1, queues["B"].Stats().Pending)
	assert.Equal(t, 0, queues["A"].Stats().Pending)

	rec, ok := reg.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "B", rec.PayerID)
	assert.Equal(t, "Payer Beta", rec.PayerName)
	assert.Equal(t, int64(1), ch.Stats().Routed)
	assert.Equal(t, int64(0), ch.Stats().Fallbacks)
}

func TestRoute_UnknownPayerFallsBackDeterministically(t *testing.T) {
	ch, queues, reg := newTestClearinghouse(t, testPayers())

	for i := 0; i < 5; i++ {
		env := testEnvelope("c-unknown-"+string(rune('0'+i)), "NOPE")
		require.NoError(t, ch.route(context.Background(), env))
	}

	assert.Equal(t, 5, queues["A"].Stats().Pending, "fallback is always the first configured payer")
	assert.Equal(t, 0, queues["B"].Stats().Pending)
	assert.Equal(t, int64(5), ch.Stats().Fallbacks)

	rec, ok := reg.Get("c-unknown-0")
	require.True(t, ok)
	assert.Equal(t, "A", rec.PayerID, "registry records the resolved payer, not the declared one")
}

func TestRoute_EmptyPayerSetFailsJob(t *testing.T) {
	reg := registry.NewCorrelationRegistry()
	ch := New(nil, nil, reg, aging.NewService(aging.DefaultConfig()), store.NoopStore{}, nil)

	err := ch.route(context.Background(), testEnvelope("c1", "A"))
	assert.Error(t, err)
	assert.Equal(t, int64(1), ch.Stats().Failed)
}

func TestRoute_SubmissionRecordedBeforeEnqueue(t *testing.T) {
	payers := testPayers()
	queues := make(map[string]*queue.JobQueue[model.ClaimEnvelope])
	reg := registry.NewCorrelationRegistry()

	recordedFirst := make(chan bool, 1)
	q := queue.New[model.ClaimEnvelope]("payer-A", 1)
	t.Cleanup(q.Close)
	q.Process(func(ctx context.Context, env model.ClaimEnvelope) error {
		_, ok := reg.Get(env.CorrelationID)
		recordedFirst <- ok
		return nil
	})
	queues["A"] = q
	queues["B"] = queue.New[model.ClaimEnvelope]("payer-B", 1)
	t.Cleanup(queues["B"].Close)

	ch := New(payers, queues, reg, aging.NewService(aging.DefaultConfig()), store.NoopStore{}, nil)
	require.NoError(t, ch.route(context.Background(), testEnvelope("c-hb", "A")))

	select {
	case ok := <-recordedFirst:
		assert.True(t, ok, "submission must be visible before the payer handler runs")
	case <-time.After(2 * time.Second):
		t.Fatal("payer handler never ran")
	}
}

func TestRoute_OnRoutedHook(t *testing.T) {
	ch, _, _ := newTestClearinghouse(t, testPayers())

	var gotPayer string
	var gotFallback bool
	ch.OnRouted = func(env model.ClaimEnvelope, payerID string, usedFallback bool) {
		gotPayer = payerID
		gotFallback = usedFallback
	}

	require.NoError(t, ch.route(context.Background(), testEnvelope("c9", "ZZZ")))
	assert.Equal(t, "A", gotPayer)
	assert.True(t, gotFallback)
}
