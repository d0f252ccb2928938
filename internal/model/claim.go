// Package model defines the domain types that flow through the claims
// pipeline: claims as submitted by providers, the envelopes that carry them
// between stages, and the remittance advice produced by payer adjudication.
package model

import (
	"math"
	"time"
)

// LineStatus is the adjudication outcome of a single service line.
type LineStatus string

const (
	LineApproved LineStatus = "APPROVED"
	LineDenied   LineStatus = "DENIED"
)

// RemittanceStatus is the claim-level adjudication outcome.
type RemittanceStatus string

const (
	StatusApproved      RemittanceStatus = "APPROVED"
	StatusDenied        RemittanceStatus = "DENIED"
	StatusPartialDenial RemittanceStatus = "PARTIAL_DENIAL"
)

// DenialSeverity distinguishes terminal denials from appealable ones.
type DenialSeverity string

const (
	SeverityHard DenialSeverity = "HARD"
	SeveritySoft DenialSeverity = "SOFT"
)

// ReconciliationTolerance is the maximum drift allowed between a line's
// billed amount and the sum of its six adjudicated components, in dollars.
// Cent rounding of five components can move the sum by up to $0.05 before
// re-balancing, so this must not be tightened.
const ReconciliationTolerance = 0.03

// Patient identifies the subject of a claim.
type Patient struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	MiddleName  string `json:"middle_name,omitempty"`
	DateOfBirth string `json:"dob,omitempty"`
	Gender      string `json:"gender,omitempty"`
}

// Insurance carries the payer declared on the claim.
type Insurance struct {
	PayerID   string `json:"payer_id"`
	PayerName string `json:"payer_name,omitempty"`
	MemberID  string `json:"member_id,omitempty"`
}

// ServiceLine is one billable service on a claim.
type ServiceLine struct {
	ServiceLineID    string  `json:"service_line_id"`
	ProcedureCode    string  `json:"procedure_code,omitempty"`
	Details          string  `json:"details"`
	UnitChargeAmount float64 `json:"unit_charge_amount"`
	Units            float64 `json:"units"`
	Currency         string  `json:"currency"`
}

// BilledAmount is unit charge times units for this line.
func (sl ServiceLine) BilledAmount() float64 {
	return sl.UnitChargeAmount * sl.Units
}

// Claim is a submitted healthcare claim. Immutable once ingested.
type Claim struct {
	ClaimID      string        `json:"claim_id"`
	Patient      Patient       `json:"patient"`
	Insurance    Insurance     `json:"insurance"`
	ServiceLines []ServiceLine `json:"service_lines"`
}

// PayerID returns the payer declared on the claim.
func (c *Claim) PayerID() string {
	return c.Insurance.PayerID
}

// TotalBilled sums the billed amounts of all service lines.
func (c *Claim) TotalBilled() float64 {
	var total float64
	for _, sl := range c.ServiceLines {
		total += sl.BilledAmount()
	}
	return total
}

// ClaimEnvelope wraps a claim with the correlation id assigned at ingestion.
// Created by the ingestor and never mutated afterwards.
type ClaimEnvelope struct {
	CorrelationID string    `json:"correlation_id"`
	Claim         Claim     `json:"claim"`
	IngestedAt    time.Time `json:"ingested_at"`
}

// DenialInfo explains why a line (or whole claim) was not paid.
type DenialInfo struct {
	Code        string         `json:"code"`
	GroupCode   string         `json:"group_code"`
	ReasonCode  string         `json:"reason_code"`
	Category    string         `json:"category"`
	Severity    DenialSeverity `json:"severity"`
	Description string         `json:"description"`
	Explanation string         `json:"explanation,omitempty"`
}

// RemittanceLine is the per-service-line adjudication result. For any
// non-negative billed amount the six money fields are all non-negative and
// reconcile to the billed amount within ReconciliationTolerance.
type RemittanceLine struct {
	ServiceLineID string      `json:"service_line_id"`
	BilledAmount  float64     `json:"billed_amount"`
	PayerPaid     float64     `json:"payer_paid"`
	Coinsurance   float64     `json:"coinsurance"`
	Copay         float64     `json:"copay"`
	Deductible    float64     `json:"deductible"`
	NotAllowed    float64     `json:"not_allowed"`
	Status        LineStatus  `json:"status"`
	DenialInfo    *DenialInfo `json:"denial_info,omitempty"`
}

// PatientShare is the portion of the line the patient owes.
func (rl RemittanceLine) PatientShare() float64 {
	return rl.Copay + rl.Coinsurance + rl.Deductible
}

// Reconciles reports whether the six components sum back to the billed
// amount within the tolerance.
func (rl RemittanceLine) Reconciles() bool {
	sum := rl.PayerPaid + rl.Coinsurance + rl.Copay + rl.Deductible + rl.NotAllowed
	return math.Abs(rl.BilledAmount-sum) <= ReconciliationTolerance
}

// Remittance is the payer's advice for one adjudicated claim. Exactly one is
// produced per envelope that survives to completion.
type Remittance struct {
	CorrelationID     string           `json:"correlation_id"`
	ClaimID           string           `json:"claim_id"`
	PayerID           string           `json:"payer_id"`
	PayerName         string           `json:"payer_name,omitempty"`
	RemittanceLines   []RemittanceLine `json:"remittance_lines"`
	ProcessedAt       time.Time        `json:"processed_at"`
	OverallStatus     RemittanceStatus `json:"overall_status"`
	TotalDeniedAmount float64          `json:"total_denied_amount,omitempty"`
	EDI835            string           `json:"edi_835,omitempty"`
}

// TotalBilled sums billed amounts across remittance lines.
func (r *Remittance) TotalBilled() float64 {
	var total float64
	for _, rl := range r.RemittanceLines {
		total += rl.BilledAmount
	}
	return total
}

// TotalPaid sums payer payments across remittance lines.
func (r *Remittance) TotalPaid() float64 {
	var total float64
	for _, rl := range r.RemittanceLines {
		total += rl.PayerPaid
	}
	return total
}

// TotalPatientShare sums copay, coinsurance and deductible across lines.
func (r *Remittance) TotalPatientShare() float64 {
	var total float64
	for _, rl := range r.RemittanceLines {
		total += rl.PatientShare()
	}
	return total
}

// OverallStatusFromLines derives the claim-level status: APPROVED iff every
// line approved, DENIED iff every line denied, PARTIAL_DENIAL otherwise.
func OverallStatusFromLines(lines []RemittanceLine) RemittanceStatus {
	approved, denied := 0, 0
	for _, rl := range lines {
		switch rl.Status {
		case LineApproved:
			approved++
		case LineDenied:
			denied++
		}
	}
	switch {
	case denied == 0:
		return StatusApproved
	case approved == 0:
		return StatusDenied
	default:
		return StatusPartialDenial
	}
}

// RemittanceMessage is the payload carried on the remittance queue from the
// payer adjudicators to the billing aggregator.
type RemittanceMessage struct {
	Remittance   Remittance    `json:"remittance"`
	Envelope     ClaimEnvelope `json:"envelope"`
	ProcessingMS float64       `json:"processing_ms"`
}

// RoundToCents rounds a dollar amount to the nearest cent, half away from
// zero.
func RoundToCents(amount float64) float64 {
	if amount < 0 {
		return -math.Floor(-amount*100+0.5) / 100
	}
	return math.Floor(amount*100+0.5) / 100
}
