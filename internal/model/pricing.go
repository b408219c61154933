package model

import "time"

// PricingTier is a discrete bucket of ESG performance mapped to a fixed
// margin adjustment.
type PricingTier string

const (
	TierExcellent PricingTier = "excellent"
	TierGood      PricingTier = "good"
	TierFair      PricingTier = "fair"
	TierPoor      PricingTier = "poor"
	TierCritical  PricingTier = "critical"
)

// PricingRecord is one pricing computation for a loan. History is an
// append-only ordered sequence; scenario records are not persisted.
type PricingRecord struct {
	ID                  string      `json:"id"`
	LoanID              string      `json:"loan_id"`
	EffectiveAt         time.Time   `json:"effective_at"`
	ESGPerformanceScore float64     `json:"esg_performance_score"`
	Tier                PricingTier `json:"pricing_tier"`
	MarginAdjustmentBps int         `json:"margin_adjustment_bps"`
	ProjectedTotalRate  float64     `json:"projected_total_rate"` // percent
	AnnualDollarImpact  float64     `json:"annual_dollar_impact"` // positive = cost to borrower
	Scenario            bool        `json:"scenario,omitempty"`
	ImpactNote          string      `json:"impact_note,omitempty"`
}
