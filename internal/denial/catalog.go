// Package denial holds the catalogue of adjudication denial reasons used by
// the payer simulators. Reasons follow the CARC group/reason code shape and
// are grouped into coarse categories; severity distinguishes terminal (HARD)
// denials from appealable (SOFT) ones.
package denial

import (
	"math/rand"
	"sync"

	"github.com/medflow/claimsim/internal/model"
)

// Denial categories.
const (
	CategoryAuthorization    = "AUTHORIZATION"
	CategoryMedicalNecessity = "MEDICAL_NECESSITY"
	CategoryCoverage         = "COVERAGE"
	CategoryCoding           = "CODING"
	CategoryTimelyFiling     = "TIMELY_FILING"
	CategoryDuplicate        = "DUPLICATE"
)

// Catalog serves denial reasons for the adjudicators. Safe for concurrent
// use; randomness is seeded per catalog so tests can pin it.
type Catalog struct {
	mu       sync.Mutex
	rng      *rand.Rand
	reasons  []model.DenialInfo
	byCat    map[string][]model.DenialInfo
	catNames []string
}

// NewCatalog builds the default catalogue with a time-seeded RNG.
func NewCatalog() *Catalog {
	return NewCatalogWithRand(rand.New(rand.NewSource(rand.Int63())))
}

// NewCatalogWithRand builds the default catalogue with a caller-supplied RNG.
func NewCatalogWithRand(rng *rand.Rand) *Catalog {
	c := &Catalog{
		rng:     rng,
		reasons: defaultReasons(),
		byCat:   make(map[string][]model.DenialInfo),
	}
	for _, r := range c.reasons {
		if _, seen := c.byCat[r.Category]; !seen {
			c.catNames = append(c.catNames, r.Category)
		}
		c.byCat[r.Category] = append(c.byCat[r.Category], r)
	}
	return c
}

// Categories lists the known category names in catalogue order.
func (c *Catalog) Categories() []string {
	out := make([]string, len(c.catNames))
	copy(out, c.catNames)
	return out
}

// PickRandom returns a uniformly random reason from the whole catalogue.
func (c *Catalog) PickRandom() model.DenialInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reasons[c.rng.Intn(len(c.reasons))]
}

// PickByCategory returns a uniformly random reason from one category.
// Unknown categories fall back to the whole catalogue.
func (c *Catalog) PickByCategory(category string) model.DenialInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool := c.byCat[category]
	if len(pool) == 0 {
		return c.reasons[c.rng.Intn(len(c.reasons))]
	}
	return pool[c.rng.Intn(len(pool))]
}

// PickByCategorySeverity prefers a reason of the given severity within the
// category, falling back to any reason in the category when none matches.
func (c *Catalog) PickByCategorySeverity(category string, severity model.DenialSeverity) model.DenialInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool := c.byCat[category]
	if len(pool) == 0 {
		pool = c.reasons
	}
	matching := make([]model.DenialInfo, 0, len(pool))
	for _, r := range pool {
		if r.Severity == severity {
			matching = append(matching, r)
		}
	}
	if len(matching) == 0 {
		matching = pool
	}
	return matching[c.rng.Intn(len(matching))]
}

// defaultReasons is the built-in CARC-style reason set.
func defaultReasons() []model.DenialInfo {
	return []model.DenialInfo{
		{
			Code: "CO-197", GroupCode: "CO", ReasonCode: "197",
			Category: CategoryAuthorization, Severity: model.SeverityHard,
			Description: "Precertification/authorization absent",
			Explanation: "Services require prior authorization that was not obtained before the date of service.",
		},
		{
			Code: "CO-198", GroupCode: "CO", ReasonCode: "198",
			Category: CategoryAuthorization, Severity: model.SeveritySoft,
			Description: "Precertification/authorization exceeded",
			Explanation: "The number of authorized visits or units has been exhausted.",
		},
		{
			Code: "CO-15", GroupCode: "CO", ReasonCode: "15",
			Category: CategoryAuthorization, Severity: model.SeveritySoft,
			Description: "Authorization number missing or invalid",
			Explanation: "The authorization number submitted does not match payer records.",
		},
		{
			Code: "CO-50", GroupCode: "CO", ReasonCode: "50",
			Category: CategoryMedicalNecessity, Severity: model.SeverityHard,
			Description: "Not deemed a medical necessity",
			Explanation: "The service is not considered medically necessary per the payer's coverage policy.",
		},
		{
			Code: "CO-56", GroupCode: "CO", ReasonCode: "56",
			Category: CategoryMedicalNecessity, Severity: model.SeveritySoft,
			Description: "Procedure deemed experimental/investigational",
			Explanation: "Supporting clinical documentation may establish necessity on appeal.",
		},
		{
			Code: "PR-204", GroupCode: "PR", ReasonCode: "204",
			Category: CategoryCoverage, Severity: model.SeverityHard,
			Description: "Service not covered under the patient's current benefit plan",
			Explanation: "The member's plan excludes this service category.",
		},
		{
			Code: "CO-27", GroupCode: "CO", ReasonCode: "27",
			Category: CategoryCoverage, Severity: model.SeverityHard,
			Description: "Expenses incurred after coverage terminated",
			Explanation: "Coverage had lapsed on the date of service.",
		},
		{
			Code: "PR-26", GroupCode: "PR", ReasonCode: "26",
			Category: CategoryCoverage, Severity: model.SeveritySoft,
			Description: "Expenses incurred prior to coverage",
			Explanation: "The date of service precedes the member's effective date; eligibility may be re-verified.",
		},
		{
			Code: "CO-16", GroupCode: "CO", ReasonCode: "16",
			Category: CategoryCoding, Severity: model.SeveritySoft,
			Description: "Claim lacks information needed for adjudication",
			Explanation: "Correct and resubmit with the missing or invalid information.",
		},
		{
			Code: "CO-11", GroupCode: "CO", ReasonCode: "11",
			Category: CategoryCoding, Severity: model.SeveritySoft,
			Description: "Diagnosis inconsistent with the procedure",
			Explanation: "The diagnosis code does not support the billed procedure.",
		},
		{
			Code: "CO-4", GroupCode: "CO", ReasonCode: "4",
			Category: CategoryCoding, Severity: model.SeveritySoft,
			Description: "Procedure code inconsistent with the modifier used",
			Explanation: "A required modifier is missing or invalid for this procedure.",
		},
		{
			Code: "CO-29", GroupCode: "CO", ReasonCode: "29",
			Category: CategoryTimelyFiling, Severity: model.SeverityHard,
			Description: "Time limit for filing has expired",
			Explanation: "The claim was received after the payer's timely filing deadline.",
		},
		{
			Code: "CO-18", GroupCode: "CO", ReasonCode: "18",
			Category: CategoryDuplicate, Severity: model.SeverityHard,
			Description: "Exact duplicate claim/service",
			Explanation: "This claim duplicates one already adjudicated.",
		},
	}
}
