package model

import "time"

// KPICategory groups sustainability KPIs by ESG pillar.
type KPICategory string

const (
	CategoryEnvironmental KPICategory = "environmental"
	CategorySocial        KPICategory = "social"
	CategoryGovernance    KPICategory = "governance"
)

// KPI is a measurable sustainability covenant with baseline and target values.
// Target must differ from baseline unless the KPI is flagged non-quantitative,
// so that progress toward target always has a non-zero denominator.
type KPI struct {
	ID              string      `json:"id"`
	LoanID          string      `json:"loan_id"`
	Name            string      `json:"name"`
	Category        KPICategory `json:"category"`
	Unit            string      `json:"unit"`
	Baseline        float64     `json:"baseline"`
	Target          float64     `json:"target"`
	Frequency       string      `json:"frequency"` // e.g. "quarterly", "annual"
	NonQuantitative bool        `json:"non_quantitative,omitempty"`
}

// Decreasing reports whether the KPI improves downward (e.g. emissions
// reduction targets, where target < baseline).
func (k KPI) Decreasing() bool {
	return k.Target < k.Baseline
}

// Progress returns the fraction of the baseline-to-target distance covered by
// value, capped to [0, 1]. Returns 0 for non-quantitative KPIs.
func (k KPI) Progress(value float64) float64 {
	span := k.Target - k.Baseline
	if k.NonQuantitative || span == 0 {
		return 0
	}
	p := (value - k.Baseline) / span
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Measurement is a borrower-reported value for a KPI in one reporting period.
// Measurements are immutable; a later period supersedes, never edits.
type Measurement struct {
	ID           string    `json:"id"`
	KPIID        string    `json:"kpi_id"`
	Period       time.Time `json:"period"`
	ClaimedValue float64   `json:"claimed_value"`
	CreatedAt    time.Time `json:"created_at"`
}
