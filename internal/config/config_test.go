package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
ingestion:
  rate_limit: 8
billing:
  reporting_interval_seconds: 60
aging:
  critical_age_minutes: 2
payers:
  - payer_id: MEDICARE
    name: Medicare
    processing_delay_ms:
      min: 100
      max: 500
    adjudication_rules:
      payer_percentage: 0.8
      copay_fixed_amount: 25
      deductible_percentage: 0.1
    denial_settings:
      denial_rate: 0.1
      hard_denial_rate: 0.4
      preferred_categories: [AUTHORIZATION]
  - payer_id: AETNA
    name: Aetna
    processing_delay_ms:
      min: 0
      max: 0
    adjudication_rules:
      payer_percentage: 0.7
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ParsesAndDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 8.0, cfg.Ingestion.RateLimit)
	assert.Equal(t, 60, cfg.Billing.ReportingIntervalSeconds)
	assert.Equal(t, 2.0, cfg.Aging.CriticalAgeMinutes)
	// Unset aging fields pick up defaults.
	assert.Equal(t, 5, cfg.Aging.ReportingIntervalSeconds)
	assert.Equal(t, 10, cfg.Aging.HighVolumeThreshold)

	require.Len(t, cfg.Payers, 2)
	medicare := cfg.Payers[0]
	assert.Equal(t, "MEDICARE", medicare.PayerID)
	assert.Equal(t, 0.8, medicare.Adjudication.PayerPercentage)
	require.NotNil(t, medicare.Denial)
	assert.Equal(t, []string{"AUTHORIZATION"}, medicare.Denial.PreferredCategories)
	assert.Nil(t, cfg.Payers[1].Denial, "payer without denial_settings")

	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadConfigs(t *testing.T) {
	base := func() Config {
		c := Default()
		c.Payers = []PayerConfig{{PayerID: "P1", Name: "One"}}
		return c
	}

	t.Run("no payers", func(t *testing.T) {
		c := Default()
		assert.Error(t, c.Validate())
	})
	t.Run("zero rate", func(t *testing.T) {
		c := base()
		c.Ingestion.RateLimit = 0
		assert.Error(t, c.Validate())
	})
	t.Run("inverted delay range", func(t *testing.T) {
		c := base()
		c.Payers[0].ProcessingDelayMS = DelayRange{MinMS: 500, MaxMS: 100}
		assert.Error(t, c.Validate())
	})
	t.Run("duplicate payer id", func(t *testing.T) {
		c := base()
		c.Payers = append(c.Payers, PayerConfig{PayerID: "P1", Name: "Dup"})
		assert.Error(t, c.Validate())
	})
	t.Run("denial rate out of range", func(t *testing.T) {
		c := base()
		c.Payers[0].Denial = &DenialSettings{DenialRate: 1.5}
		assert.Error(t, c.Validate())
	})
}

func TestPayerLookupAndFallback(t *testing.T) {
	c := Default()
	c.Payers = []PayerConfig{
		{PayerID: "A", Name: "Alpha"},
		{PayerID: "B", Name: "Beta"},
	}

	p, ok := c.PayerByID("B")
	assert.True(t, ok)
	assert.Equal(t, "Beta", p.Name)

	_, ok = c.PayerByID("C")
	assert.False(t, ok)

	// Fallback is deterministically the first configured payer.
	for i := 0; i < 5; i++ {
		assert.Equal(t, "A", c.FallbackPayer().PayerID)
	}
}

func TestWorkerCount_ScalesWithDelay(t *testing.T) {
	cases := []struct {
		min, max int
		want     int
	}{
		{0, 0, 5},
		{1000, 3000, 5},       // avg 2000 -> not > 2000
		{2000, 3000, 10},      // avg 2500
		{4000, 8000, 15},      // avg 6000
		{10000, 20000, 20},    // avg 15000
	}
	for _, tc := range cases {
		p := PayerConfig{ProcessingDelayMS: DelayRange{MinMS: tc.min, MaxMS: tc.max}}
		assert.Equal(t, tc.want, p.WorkerCount(), "delay [%d,%d]", tc.min, tc.max)
	}

	override := PayerConfig{QueueConcurrency: 7}
	assert.Equal(t, 7, override.WorkerCount())
}
