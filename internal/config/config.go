// Package config loads and validates the simulation configuration: ingestion
// pacing, billing and AR-aging reporting cadences, and the per-payer
// adjudication behavior.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the full simulation configuration.
type Config struct {
	Ingestion IngestionConfig `yaml:"ingestion"`
	Billing   BillingConfig   `yaml:"billing"`
	Aging     AgingConfig     `yaml:"aging"`
	Queues    QueueConfig     `yaml:"queues"`
	Payers    []PayerConfig   `yaml:"payers"`
}

type IngestionConfig struct {
	// RateLimit is the target claims per second; it selects the limiter
	// strategy (token bucket vs. fixed pacing).
	RateLimit float64 `yaml:"rate_limit"`
}

type BillingConfig struct {
	// ReportingIntervalSeconds is the billing summary cadence; 0 disables.
	ReportingIntervalSeconds int `yaml:"reporting_interval_seconds"`
}

type AgingConfig struct {
	ReportingIntervalSeconds int     `yaml:"reporting_interval_seconds"`
	CriticalAgeMinutes       float64 `yaml:"critical_age_minutes"`
	HighVolumeThreshold      int     `yaml:"high_volume_threshold"`
	PayerDelayThreshold      float64 `yaml:"payer_delay_threshold"`
}

// QueueConfig tunes per-stage worker counts. Zero values keep the defaults
// (clearinghouse and remittance at 1 to preserve ordering and single-writer
// billing state; payer queues scale with declared delay).
type QueueConfig struct {
	ClearinghouseConcurrency int `yaml:"clearinghouse_concurrency"`
	RemittanceConcurrency    int `yaml:"remittance_concurrency"`
}

// DelayRange is the simulated adjudication delay, uniform in [Min,Max] ms.
type DelayRange struct {
	MinMS int `yaml:"min"`
	MaxMS int `yaml:"max"`
}

// AdjudicationRules drives the payment arithmetic for approved lines.
type AdjudicationRules struct {
	PayerPercentage      float64 `yaml:"payer_percentage"`
	CopayFixedAmount     float64 `yaml:"copay_fixed_amount"`
	DeductiblePercentage float64 `yaml:"deductible_percentage"`
}

// DenialSettings drives denial behavior. A payer without denial settings
// never denies.
type DenialSettings struct {
	DenialRate          float64  `yaml:"denial_rate"`
	HardDenialRate      float64  `yaml:"hard_denial_rate"`
	PreferredCategories []string `yaml:"preferred_categories"`
}

// PayerConfig describes one payer. Order matters: the first configured payer
// is the deterministic fallback for claims naming an unknown payer.
type PayerConfig struct {
	PayerID           string            `yaml:"payer_id"`
	Name              string            `yaml:"name"`
	ProcessingDelayMS DelayRange        `yaml:"processing_delay_ms"`
	Adjudication      AdjudicationRules `yaml:"adjudication_rules"`
	Denial            *DenialSettings   `yaml:"denial_settings"`

	// QueueConcurrency overrides the delay-derived worker count when > 0.
	QueueConcurrency int `yaml:"queue_concurrency"`
}

// AverageDelayMS is the midpoint of the configured delay range.
func (p PayerConfig) AverageDelayMS() float64 {
	return float64(p.ProcessingDelayMS.MinMS+p.ProcessingDelayMS.MaxMS) / 2
}

// WorkerCount returns the payer queue concurrency: explicit override if set,
// otherwise scaled with the declared delay so throughput stays roughly
// independent of latency.
func (p PayerConfig) WorkerCount() int {
	if p.QueueConcurrency > 0 {
		return p.QueueConcurrency
	}
	avg := p.AverageDelayMS()
	switch {
	case avg > 10000:
		return 20
	case avg > 5000:
		return 15
	case avg > 2000:
		return 10
	default:
		return 5
	}
}

// Default fills in sane defaults for a config loaded with gaps.
func Default() Config {
	return Config{
		Ingestion: IngestionConfig{RateLimit: 5},
		Billing:   BillingConfig{ReportingIntervalSeconds: 30},
		Aging: AgingConfig{
			ReportingIntervalSeconds: 5,
			CriticalAgeMinutes:       3,
			HighVolumeThreshold:      10,
			PayerDelayThreshold:      2,
		},
	}
}

// Load reads a YAML config file and applies defaults for unset fields.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Ingestion.RateLimit == 0 {
		c.Ingestion.RateLimit = d.Ingestion.RateLimit
	}
	if c.Aging.ReportingIntervalSeconds == 0 {
		c.Aging.ReportingIntervalSeconds = d.Aging.ReportingIntervalSeconds
	}
	if c.Aging.CriticalAgeMinutes == 0 {
		c.Aging.CriticalAgeMinutes = d.Aging.CriticalAgeMinutes
	}
	if c.Aging.HighVolumeThreshold == 0 {
		c.Aging.HighVolumeThreshold = d.Aging.HighVolumeThreshold
	}
	if c.Aging.PayerDelayThreshold == 0 {
		c.Aging.PayerDelayThreshold = d.Aging.PayerDelayThreshold
	}
}

// Validate rejects configurations the orchestrator must refuse to start with.
func (c *Config) Validate() error {
	if c.Ingestion.RateLimit <= 0 {
		return fmt.Errorf("ingestion.rate_limit must be > 0, got %v", c.Ingestion.RateLimit)
	}
	if len(c.Payers) == 0 {
		return fmt.Errorf("at least one payer must be configured")
	}
	seen := make(map[string]bool, len(c.Payers))
	for i, p := range c.Payers {
		if p.PayerID == "" {
			return fmt.Errorf("payers[%d]: payer_id is required", i)
		}
		if seen[p.PayerID] {
			return fmt.Errorf("payers[%d]: duplicate payer_id %q", i, p.PayerID)
		}
		seen[p.PayerID] = true
		if p.ProcessingDelayMS.MinMS < 0 || p.ProcessingDelayMS.MaxMS < p.ProcessingDelayMS.MinMS {
			return fmt.Errorf("payer %s: invalid delay range [%d,%d]",
				p.PayerID, p.ProcessingDelayMS.MinMS, p.ProcessingDelayMS.MaxMS)
		}
		if p.Adjudication.PayerPercentage < 0 || p.Adjudication.PayerPercentage > 1 {
			return fmt.Errorf("payer %s: payer_percentage must be in [0,1]", p.PayerID)
		}
		if p.Adjudication.CopayFixedAmount < 0 {
			return fmt.Errorf("payer %s: copay_fixed_amount must be >= 0", p.PayerID)
		}
		if p.Adjudication.DeductiblePercentage < 0 || p.Adjudication.DeductiblePercentage > 1 {
			return fmt.Errorf("payer %s: deductible_percentage must be in [0,1]", p.PayerID)
		}
		if p.Denial != nil {
			if p.Denial.DenialRate < 0 || p.Denial.DenialRate > 1 {
				return fmt.Errorf("payer %s: denial_rate must be in [0,1]", p.PayerID)
			}
			if p.Denial.HardDenialRate < 0 || p.Denial.HardDenialRate > 1 {
				return fmt.Errorf("payer %s: hard_denial_rate must be in [0,1]", p.PayerID)
			}
		}
	}
	return nil
}

// PayerByID looks up a payer config; ok is false for unknown ids.
func (c *Config) PayerByID(id string) (PayerConfig, bool) {
	for _, p := range c.Payers {
		if p.PayerID == id {
			return p, true
		}
	}
	return PayerConfig{}, false
}

// FallbackPayer is the deterministic routing fallback: the first configured
// payer.
func (c *Config) FallbackPayer() PayerConfig {
	return c.Payers[0]
}
