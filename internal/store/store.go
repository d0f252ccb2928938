// Package store defines the optional persistence port for claim lifecycle
// tracking, with Postgres and Redis implementations plus a no-op stub for
// pure in-memory simulation runs.
package store

import (
	"context"

	"github.com/medflow/claimsim/internal/model"
)

// Adjudication statuses persisted by MarkAdjudicated.
const (
	AdjudicationPaid    = "paid"
	AdjudicationDenied  = "denied"
	AdjudicationPartial = "partial"
)

// AdjudicationOutcome is the persisted summary of a payer decision.
type AdjudicationOutcome struct {
	Status                string  `json:"status"` // paid, denied, partial
	PaidAmount            float64 `json:"paid_amount"`
	PatientResponsibility float64 `json:"patient_responsibility"`
	DenialReason          string  `json:"denial_reason,omitempty"`
	DenialCode            string  `json:"denial_code,omitempty"`
	ProcessingTimeMS      float64 `json:"processing_time_ms"`
}

// OutcomeFromRemittance derives the persisted outcome from a remittance.
func OutcomeFromRemittance(rem *model.Remittance, processingMS float64) AdjudicationOutcome {
	out := AdjudicationOutcome{
		PaidAmount:            rem.TotalPaid(),
		PatientResponsibility: rem.TotalPatientShare(),
		ProcessingTimeMS:      processingMS,
	}
	switch rem.OverallStatus {
	case model.StatusDenied:
		out.Status = AdjudicationDenied
	case model.StatusPartialDenial:
		out.Status = AdjudicationPartial
	default:
		out.Status = AdjudicationPaid
	}
	for _, rl := range rem.RemittanceLines {
		if rl.Status == model.LineDenied && rl.DenialInfo != nil {
			out.DenialReason = rl.DenialInfo.Description
			out.DenialCode = rl.DenialInfo.Code
			break
		}
	}
	return out
}

// ClaimStore persists claim lifecycle transitions. Implementations must
// tolerate repeated calls for the same claim (the pipeline retries).
type ClaimStore interface {
	StoreNewClaim(ctx context.Context, env model.ClaimEnvelope) error
	MarkIngested(ctx context.Context, claimID string) error
	MarkRouted(ctx context.Context, claimID, payerID, payerName string) error
	MarkAdjudicated(ctx context.Context, claimID string, outcome AdjudicationOutcome) error
	MarkBilled(ctx context.Context, claimID string) error
}

// NoopStore discards everything; used when persistence is not configured.
type NoopStore struct{}

func (NoopStore) StoreNewClaim(context.Context, model.ClaimEnvelope) error { return nil }
func (NoopStore) MarkIngested(context.Context, string) error              { return nil }
func (NoopStore) MarkRouted(context.Context, string, string, string) error {
	return nil
}
func (NoopStore) MarkAdjudicated(context.Context, string, AdjudicationOutcome) error {
	return nil
}
func (NoopStore) MarkBilled(context.Context, string) error { return nil }

var _ ClaimStore = NoopStore{}
