// Package ingest feeds claims into the pipeline: a JSONL parser that
// validates raw claims into a ClaimSource, and the Ingestor that paces them
// onto the clearinghouse queue with a fresh correlation id each.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/medflow/claimsim/internal/model"
)

// highChargeWarnThreshold triggers a warning (not a rejection) for claims
// billing more than this total.
const highChargeWarnThreshold = 10000.0

// ClaimSource supplies validated claims as a pull iterator. Next returns
// ok=false when exhausted. Total is the number of claims the source will
// yield, used for progress reporting.
type ClaimSource interface {
	Next() (model.Claim, bool)
	Total() int
}

// SliceSource adapts a parsed claim slice to ClaimSource.
type SliceSource struct {
	claims []model.Claim
	pos    int
}

// NewSliceSource wraps claims in a source.
func NewSliceSource(claims []model.Claim) *SliceSource {
	return &SliceSource{claims: claims}
}

func (s *SliceSource) Next() (model.Claim, bool) {
	if s.pos >= len(s.claims) {
		return model.Claim{}, false
	}
	c := s.claims[s.pos]
	s.pos++
	return c, true
}

func (s *SliceSource) Total() int { return len(s.claims) }

// ParseStats summarizes one parse run.
type ParseStats struct {
	Lines    int `json:"lines"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Warnings int `json:"warnings"`
}

// Parser reads JSONL claim files, one claim object per line, and keeps only
// claims that pass schema validation. Validation failures are logged and
// skipped, never fatal.
type Parser struct {
	logger *log.Logger
}

// NewParser creates a claim file parser.
func NewParser() *Parser {
	return &Parser{logger: log.New(log.Writer(), "[PARSER] ", log.LstdFlags)}
}

// ParseFile parses a JSONL file from disk.
func (p *Parser) ParseFile(path string) ([]model.Claim, ParseStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("open claim file: %w", err)
	}
	defer f.Close()
	claims, stats := p.Parse(f)
	return claims, stats, nil
}

// Parse parses JSONL claims from a reader.
func (p *Parser) Parse(r io.Reader) ([]model.Claim, ParseStats) {
	var stats ParseStats
	var claims []model.Claim

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		var claim model.Claim
		if err := json.Unmarshal(line, &claim); err != nil {
			stats.Rejected++
			p.logger.Printf("⚠️  Line %d: invalid JSON, skipping: %v", stats.Lines, err)
			continue
		}
		if err := ValidateClaim(&claim); err != nil {
			stats.Rejected++
			p.logger.Printf("⚠️  Line %d: claim rejected: %v", stats.Lines, err)
			continue
		}
		for _, w := range ClaimWarnings(&claim) {
			stats.Warnings++
			p.logger.Printf("⚠️  Claim %s: %s", claim.ClaimID, w)
		}
		stats.Accepted++
		claims = append(claims, claim)
	}
	if err := scanner.Err(); err != nil {
		p.logger.Printf("❌ Scanner error after %d lines: %v", stats.Lines, err)
	}
	return claims, stats
}

// ValidateClaim applies the acceptance schema: required identity fields, at
// least one service line, and well-formed amounts on every line.
func ValidateClaim(c *model.Claim) error {
	if c.ClaimID == "" {
		return fmt.Errorf("missing claim_id")
	}
	if c.Patient.FirstName == "" {
		return fmt.Errorf("claim %s: missing patient.first_name", c.ClaimID)
	}
	if c.Patient.LastName == "" {
		return fmt.Errorf("claim %s: missing patient.last_name", c.ClaimID)
	}
	if c.Insurance.PayerID == "" {
		return fmt.Errorf("claim %s: missing insurance.payer_id", c.ClaimID)
	}
	if len(c.ServiceLines) == 0 {
		return fmt.Errorf("claim %s: no service lines", c.ClaimID)
	}
	for i, sl := range c.ServiceLines {
		if sl.ServiceLineID == "" {
			return fmt.Errorf("claim %s: service line %d missing service_line_id", c.ClaimID, i)
		}
		if sl.UnitChargeAmount < 0 {
			return fmt.Errorf("claim %s line %s: negative unit_charge_amount", c.ClaimID, sl.ServiceLineID)
		}
		if sl.Units < 0 {
			return fmt.Errorf("claim %s line %s: negative units", c.ClaimID, sl.ServiceLineID)
		}
		if sl.Details == "" {
			return fmt.Errorf("claim %s line %s: missing details", c.ClaimID, sl.ServiceLineID)
		}
		if sl.Currency == "" {
			return fmt.Errorf("claim %s line %s: missing currency", c.ClaimID, sl.ServiceLineID)
		}
	}
	return nil
}

// ClaimWarnings returns advisory findings that do not reject the claim.
func ClaimWarnings(c *model.Claim) []string {
	var warnings []string
	for _, sl := range c.ServiceLines {
		if sl.UnitChargeAmount == 0 {
			warnings = append(warnings,
				fmt.Sprintf("service line %s has zero unit_charge_amount", sl.ServiceLineID))
		}
	}
	if total := c.TotalBilled(); total > highChargeWarnThreshold {
		warnings = append(warnings,
			fmt.Sprintf("total billed $%.2f exceeds $%.2f", total, highChargeWarnThreshold))
	}
	return warnings
}
