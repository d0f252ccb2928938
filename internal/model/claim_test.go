package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToCents(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{1.004, 1.00},
		{1.0049999, 1.00},
		{19.999, 20.00},
		{-1.004, -1.00},
		// Exact binary halves round away from zero, not toward even.
		{0.125, 0.13},
		{-0.125, -0.13},
		{0.375, 0.38},
		{80.0000001, 80.00},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, RoundToCents(tc.in), 1e-9, "RoundToCents(%v)", tc.in)
	}
}

func TestOverallStatusFromLines(t *testing.T) {
	approved := RemittanceLine{Status: LineApproved}
	denied := RemittanceLine{Status: LineDenied}

	assert.Equal(t, StatusApproved, OverallStatusFromLines([]RemittanceLine{approved, approved}))
	assert.Equal(t, StatusDenied, OverallStatusFromLines([]RemittanceLine{denied, denied}))
	assert.Equal(t, StatusPartialDenial, OverallStatusFromLines([]RemittanceLine{approved, denied}))
	assert.Equal(t, StatusApproved, OverallStatusFromLines(nil), "no lines means nothing denied")
}

func TestReconciles(t *testing.T) {
	rl := RemittanceLine{
		BilledAmount: 100,
		PayerPaid:    80,
		Coinsurance:  10,
		Copay:        5,
		Deductible:   3,
		NotAllowed:   2,
	}
	assert.True(t, rl.Reconciles())

	rl.NotAllowed = 2.02 // within tolerance
	assert.True(t, rl.Reconciles())

	rl.NotAllowed = 2.05
	assert.False(t, rl.Reconciles())
}

func TestClaimTotals(t *testing.T) {
	c := Claim{
		ServiceLines: []ServiceLine{
			{UnitChargeAmount: 25.50, Units: 2},
			{UnitChargeAmount: 10, Units: 0.5},
		},
	}
	assert.InDelta(t, 56.0, c.TotalBilled(), 1e-9)
}

func TestRemittanceTotals(t *testing.T) {
	r := Remittance{
		RemittanceLines: []RemittanceLine{
			{BilledAmount: 100, PayerPaid: 80, Copay: 10, Coinsurance: 5, Deductible: 5},
			{BilledAmount: 50, PayerPaid: 40, Coinsurance: 10},
		},
	}
	assert.InDelta(t, 150.0, r.TotalBilled(), 1e-9)
	assert.InDelta(t, 120.0, r.TotalPaid(), 1e-9)
	assert.InDelta(t, 30.0, r.TotalPatientShare(), 1e-9)
}
