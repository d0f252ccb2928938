// Package edi renders remittances as X12 835 (Health Care Claim
// Payment/Advice) interchange text. The output is structurally faithful
// (segment order, qualifiers, envelope trailers) but is simulation output,
// not a certified EDI implementation.
package edi

import (
	"fmt"
	"strings"
	"time"

	"github.com/medflow/claimsim/internal/model"
)

const (
	segmentTerminator = "~"
	elementSeparator  = "*"
)

// EncodeOptions carries payer identity fields that are not part of the
// remittance itself.
type EncodeOptions struct {
	PayerName    string
	PayerContact string
}

// Encoder builds 835 interchanges. A single encoder is shared by all payer
// adjudicators; control numbers only need to be unique per process.
type Encoder struct {
	senderID   string
	receiverID string
}

// NewEncoder creates an 835 encoder with the simulator's fixed trading
// partner identifiers.
func NewEncoder() *Encoder {
	return &Encoder{senderID: "CLAIMSIM", receiverID: "PROVIDER"}
}

// Encode renders one remittance as an 835 interchange.
func (e *Encoder) Encode(rem *model.Remittance, claim *model.Claim, opts EncodeOptions) string {
	now := rem.ProcessedAt
	if now.IsZero() {
		now = time.Now()
	}
	control := now.UnixNano() % 1_000_000_000

	var b strings.Builder
	seg := func(elems ...string) {
		b.WriteString(strings.Join(elems, elementSeparator))
		b.WriteString(segmentTerminator)
		b.WriteString("\n")
	}

	payerName := opts.PayerName
	if payerName == "" {
		payerName = rem.PayerID
	}

	// Interchange and functional group envelope.
	seg("ISA", "00", strings.Repeat(" ", 10), "00", strings.Repeat(" ", 10),
		"ZZ", fmt.Sprintf("%-15s", e.senderID), "ZZ", fmt.Sprintf("%-15s", e.receiverID),
		now.Format("060102"), now.Format("1504"), "^", "00501",
		fmt.Sprintf("%09d", control), "0", "P", ":")
	seg("GS", "HP", e.senderID, e.receiverID, now.Format("20060102"), now.Format("1504"),
		fmt.Sprintf("%d", control), "X", "005010X221A1")
	seg("ST", "835", "0001")

	// BPR: total actual payment.
	seg("BPR", "I", fmt.Sprintf("%.2f", rem.TotalPaid()), "C", "ACH", "CCP",
		"", "", "", "", "", "", "", "", "", now.Format("20060102"))
	// TRN: reissue trace keyed by correlation id.
	seg("TRN", "1", rem.CorrelationID, "1"+rem.PayerID)
	seg("DTM", "405", now.Format("20060102"))

	// Payer identification.
	seg("N1", "PR", payerName)
	if opts.PayerContact != "" {
		seg("PER", "CX", opts.PayerContact)
	}
	// Payee identification.
	seg("N1", "PE", "PROVIDER OF RECORD")

	// CLP: claim payment information.
	// Status 1 = processed as primary, 4 = denied, 22 = reversal (unused).
	clpStatus := "1"
	if rem.OverallStatus == model.StatusDenied {
		clpStatus = "4"
	}
	patientShare := rem.TotalPatientShare()
	seg("CLP", rem.ClaimID, clpStatus,
		fmt.Sprintf("%.2f", rem.TotalBilled()),
		fmt.Sprintf("%.2f", rem.TotalPaid()),
		fmt.Sprintf("%.2f", patientShare),
		"12", rem.CorrelationID)

	if claim != nil {
		last := strings.ToUpper(claim.Patient.LastName)
		first := strings.ToUpper(claim.Patient.FirstName)
		seg("NM1", "QC", "1", last, first, "", "", "", "MI", claim.Insurance.MemberID)
	}

	// Service lines.
	for _, rl := range rem.RemittanceLines {
		seg("SVC", "HC:"+rl.ServiceLineID,
			fmt.Sprintf("%.2f", rl.BilledAmount),
			fmt.Sprintf("%.2f", rl.PayerPaid))
		seg("DTM", "472", now.Format("20060102"))

		// CAS adjustments: patient responsibility (PR) then contractual (CO).
		if share := rl.PatientShare(); share > 0 {
			seg("CAS", "PR", "1", fmt.Sprintf("%.2f", share))
		}
		if rl.NotAllowed > 0 {
			reason := "45" // charge exceeds fee schedule
			if rl.DenialInfo != nil {
				reason = rl.DenialInfo.ReasonCode
			}
			seg("CAS", "CO", reason, fmt.Sprintf("%.2f", rl.NotAllowed))
		}
	}

	// SE02 counts ST through SE inclusive: everything written so far minus
	// the ISA and GS envelope, plus the SE itself.
	segCount := strings.Count(b.String(), segmentTerminator) - 1
	seg("SE", fmt.Sprintf("%d", segCount), "0001")
	seg("GE", "1", fmt.Sprintf("%d", control))
	seg("IEA", "1", fmt.Sprintf("%09d", control))

	return b.String()
}
