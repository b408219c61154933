package model

import "time"

// Provenance tags where a SourceReading came from.
type Provenance string

const (
	ProvenanceLive     Provenance = "live"
	ProvenanceFallback Provenance = "fallback"
)

// SourceReading is one verified measurement obtained from an external
// provider (or from the cache/simulator on the degraded path). Readings are
// owned by the verification run that requested them and are persisted only as
// part of that run's record.
type SourceReading struct {
	Provider    string     `json:"provider"`
	Reliability float64    `json:"reliability"` // 0-100, from the provider catalogue
	Value       float64    `json:"value"`
	Unit        string     `json:"unit"`
	Timestamp   time.Time  `json:"timestamp"`
	Provenance  Provenance `json:"provenance"`
}

// VerificationStatus is the run state machine: pending -> running ->
// completed | failed. Completed and failed are terminal.
type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationRunning   VerificationStatus = "running"
	VerificationCompleted VerificationStatus = "completed"
	VerificationFailed    VerificationStatus = "failed"
)

// RiskLevel is the deterministic banding of the worst KPI discrepancy in a run.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// KPIResult holds the per-KPI outcome of a verification run.
type KPIResult struct {
	KPIID          string          `json:"kpi_id"`
	KPIName        string          `json:"kpi_name"`
	ClaimedValue   float64         `json:"claimed_value"`
	VerifiedValue  float64         `json:"verified_value"`
	DiscrepancyPct float64         `json:"discrepancy_pct"`
	Breached       bool            `json:"breached"`
	Readings       []SourceReading `json:"readings"`
	Excluded       bool            `json:"excluded,omitempty"`
	ExcludedReason string          `json:"excluded_reason,omitempty"`
}

// LiveReadings counts readings with live provenance.
func (r KPIResult) LiveReadings() int {
	n := 0
	for _, sr := range r.Readings {
		if sr.Provenance == ProvenanceLive {
			n++
		}
	}
	return n
}

// Findings summarizes a verification run for the presentation layer.
type Findings struct {
	TotalKPIs      int     `json:"total_kpis"`
	VerifiedCount  int     `json:"verified_count"`
	BreachedCount  int     `json:"breached_count"`
	AvgDiscrepancy float64 `json:"avg_discrepancy"`
	LiveCoverage   float64 `json:"live_coverage"` // fraction of KPIs with >=1 live reading
}

// Verification is the record of one multi-source verification run. It is
// mutated only by the run that created it and is terminal once status reaches
// completed or failed.
type Verification struct {
	ID              string             `json:"id"`
	LoanID          string             `json:"loan_id"`
	Status          VerificationStatus `json:"status"`
	ConfidenceScore float64            `json:"confidence_score"` // 0-100
	RiskLevel       RiskLevel          `json:"risk_level"`
	Results         []KPIResult        `json:"results"`
	Findings        Findings           `json:"findings"`
	Recommendations string             `json:"recommendations"`
	Error           string             `json:"error,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
}
