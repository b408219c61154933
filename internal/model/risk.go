package model

import "time"

// RiskCategory bands the composite risk score.
type RiskCategory string

const (
	RiskCategoryLow      RiskCategory = "low"      // [0, 40)
	RiskCategoryModerate RiskCategory = "moderate" // [40, 60)
	RiskCategoryElevated RiskCategory = "elevated" // [60, 80)
	RiskCategoryHigh     RiskCategory = "high"     // [80, 100]
)

// RiskTrend describes the direction of recent composite scores.
type RiskTrend string

const (
	TrendIncreasing RiskTrend = "increasing"
	TrendStable     RiskTrend = "stable"
	TrendDecreasing RiskTrend = "decreasing"
)

// RiskFactor is one named component of an assessment with its own severity.
type RiskFactor struct {
	Score       float64 `json:"score"`
	Severity    string  `json:"severity"` // low | moderate | high
	Description string  `json:"description"`
}

// RiskAssessment is an immutable point-in-time risk computation for a loan.
// Each Assess call appends a new record; records are never patched.
type RiskAssessment struct {
	ID                  string                `json:"id"`
	LoanID              string                `json:"loan_id"`
	AssessedAt          time.Time             `json:"assessed_at"`
	BreachProbability   float64               `json:"covenant_breach_probability"` // 0-1
	ESGRiskScore        float64               `json:"esg_risk_score"`              // 0-100
	FinancialRiskScore  float64               `json:"financial_risk_score"`        // 0-100
	RiskScore           float64               `json:"risk_score"`                  // 0-100 composite
	RiskCategory        RiskCategory          `json:"risk_category"`
	PredictedBreachDate *time.Time            `json:"predicted_breach_date,omitempty"`
	Confidence          float64               `json:"confidence_score"` // 0-1
	Factors             map[string]RiskFactor `json:"risk_factors"`
	Recommendations     []string              `json:"recommendations"`
	Trend               RiskTrend             `json:"trend"`
}
