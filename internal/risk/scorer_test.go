package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esglend/verify-cli/internal/config"
	"github.com/esglend/verify-cli/internal/model"
	"github.com/esglend/verify-cli/internal/store"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		CovenantWeight:  0.40,
		ESGWeight:       0.30,
		FinancialWeight: 0.30,
		TrendPoints:     6,
		HorizonMonths:   12,
	}
}

func testVerificationConfig() config.VerificationConfig {
	return config.VerificationConfig{MaterialityThresholdPct: 10}
}

func setupScorer(t *testing.T) (*Scorer, store.Store, *model.Loan) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	loan, err := s.CreateLoan(context.Background(), model.Loan{
		BorrowerName:  "Greenfield Manufacturing",
		Principal:     100_000_000,
		BaseRate:      4.5,
		CurrentMargin: 2.0,
		Status:        model.LoanStatusActive,
	})
	require.NoError(t, err)

	scorer := NewScorer(s, testRiskConfig(), testVerificationConfig())
	return scorer, s, loan
}

func addCompletedVerification(t *testing.T, s store.Store, loanID string, startedAt time.Time, avgDiscrepancy float64, results []model.KPIResult) {
	t.Helper()
	v := &model.Verification{LoanID: loanID, StartedAt: startedAt}
	require.NoError(t, s.CreateVerification(context.Background(), v))

	completedAt := startedAt.Add(time.Minute)
	v.Status = model.VerificationCompleted
	v.Results = results
	v.Findings = model.Findings{
		TotalKPIs:      len(results),
		VerifiedCount:  len(results),
		AvgDiscrepancy: avgDiscrepancy,
	}
	v.CompletedAt = &completedAt
	require.NoError(t, s.CompleteVerification(context.Background(), v))
}

func TestCompositeWeights(t *testing.T) {
	scorer := &Scorer{cfg: testRiskConfig()}

	// 0.40*40 + 0.30*20 + 0.30*30 = 31
	got := scorer.composite(0.40, 20, 30)
	assert.InDelta(t, 31.0, got, 0.001)
	assert.Equal(t, model.RiskCategoryLow, categoryFor(got))
}

func TestCategoryBands(t *testing.T) {
	tests := []struct {
		score float64
		want  model.RiskCategory
	}{
		{0, model.RiskCategoryLow},
		{39.99, model.RiskCategoryLow},
		{40, model.RiskCategoryModerate},
		{59.99, model.RiskCategoryModerate},
		{60, model.RiskCategoryElevated},
		{79.99, model.RiskCategoryElevated},
		{80, model.RiskCategoryHigh},
		{100, model.RiskCategoryHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categoryFor(tt.score), "score %.2f", tt.score)
	}
}

func TestOLSFit(t *testing.T) {
	// y = 8 - 2x
	slope, intercept := olsFit(
		[]float64{0, 1, 2, 3},
		[]float64{8, 6, 4, 2},
	)
	assert.InDelta(t, -2.0, slope, 0.001)
	assert.InDelta(t, 8.0, intercept, 0.001)

	// Degenerate x spread.
	slope, intercept = olsFit([]float64{1, 1}, []float64{3, 5})
	assert.Zero(t, slope)
	assert.InDelta(t, 4.0, intercept, 0.001)
}

func TestBreachPredictionSinglePointIsNeutral(t *testing.T) {
	scorer := &Scorer{cfg: testRiskConfig(), vcfg: testVerificationConfig()}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	window := []model.Verification{{
		StartedAt: now.AddDate(0, -1, 0),
		Findings:  model.Findings{AvgDiscrepancy: 4},
	}}
	prob, date, conf := scorer.breachPrediction(window, now)
	assert.InDelta(t, 0.5, prob, 0.001)
	assert.Nil(t, date)
	assert.LessOrEqual(t, conf, 0.4)
}

func TestBreachPredictionShrinkingMargin(t *testing.T) {
	scorer := &Scorer{cfg: testRiskConfig(), vcfg: testVerificationConfig()}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Discrepancy grows ~2 points per month: the 10% threshold margin shrinks
	// from 8 to 2 over three months and crosses zero about a month out.
	var window []model.Verification
	for i, disc := range []float64{2, 4, 6, 8} {
		window = append(window, model.Verification{
			StartedAt: now.AddDate(0, i-3, 0),
			Findings:  model.Findings{AvgDiscrepancy: disc},
		})
	}

	prob, date, conf := scorer.breachPrediction(window, now)
	assert.Greater(t, prob, 0.85, "crossing projected about a month out")
	require.NotNil(t, date)
	assert.False(t, date.Before(now), "breach date never in the past")
	assert.WithinDuration(t, now.AddDate(0, 1, 0), *date, 15*24*time.Hour)
	assert.Greater(t, conf, 0.4)
}

func TestBreachPredictionWideningMargin(t *testing.T) {
	scorer := &Scorer{cfg: testRiskConfig(), vcfg: testVerificationConfig()}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var window []model.Verification
	for i, disc := range []float64{8, 6, 4, 2} {
		window = append(window, model.Verification{
			StartedAt: now.AddDate(0, i-3, 0),
			Findings:  model.Findings{AvgDiscrepancy: disc},
		})
	}

	prob, date, _ := scorer.breachPrediction(window, now)
	assert.Less(t, prob, 0.25)
	assert.Nil(t, date)
}

func TestBreachPredictionAlreadyPastThreshold(t *testing.T) {
	scorer := &Scorer{cfg: testRiskConfig(), vcfg: testVerificationConfig()}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var window []model.Verification
	for i, disc := range []float64{9, 11, 13, 15} {
		window = append(window, model.Verification{
			StartedAt: now.AddDate(0, i-3, 0),
			Findings:  model.Findings{AvgDiscrepancy: disc},
		})
	}

	prob, date, _ := scorer.breachPrediction(window, now)
	assert.InDelta(t, 0.95, prob, 0.001)
	require.NotNil(t, date)
	assert.Equal(t, now, *date)
}

func TestFinancialRisk(t *testing.T) {
	scorer := &Scorer{cfg: testRiskConfig()}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	active := model.Loan{Status: model.LoanStatusActive}
	assert.InDelta(t, 20.0, scorer.financialRisk(active, 0, 4, now), 0.001)

	defaulted := model.Loan{Status: model.LoanStatusDefaulted}
	assert.InDelta(t, 95.0, scorer.financialRisk(defaulted, 0, 4, now), 0.001)

	// Half the runs failed: +10.
	assert.InDelta(t, 30.0, scorer.financialRisk(active, 2, 4, now), 0.001)

	// Maturity inside a year: +15.
	soon := now.AddDate(0, 6, 0)
	nearMaturity := model.Loan{Status: model.LoanStatusActive, MaturityDate: &soon}
	assert.InDelta(t, 35.0, scorer.financialRisk(nearMaturity, 0, 4, now), 0.001)

	// Clamped at 100.
	capped := model.Loan{Status: model.LoanStatusDefaulted, MaturityDate: &soon}
	assert.InDelta(t, 100.0, scorer.financialRisk(capped, 4, 4, now), 0.001)
}

func TestTrendFor(t *testing.T) {
	history := []model.RiskAssessment{{RiskScore: 50}, {RiskScore: 50}}
	assert.Equal(t, model.TrendIncreasing, trendFor(60, history))
	assert.Equal(t, model.TrendDecreasing, trendFor(40, history))
	assert.Equal(t, model.TrendStable, trendFor(52, history))
	assert.Equal(t, model.TrendStable, trendFor(90, nil))
}

func TestAssessRequiresCompletedVerification(t *testing.T) {
	scorer, _, loan := setupScorer(t)

	_, err := scorer.Assess(context.Background(), loan.ID)
	var ide *InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, loan.ID, ide.LoanID)
}

func TestAssessUnknownLoan(t *testing.T) {
	scorer, _, _ := setupScorer(t)
	_, err := scorer.Assess(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAssessEndToEnd(t *testing.T) {
	scorer, s, loan := setupScorer(t)
	ctx := context.Background()

	kpi, err := s.CreateKPI(ctx, model.KPI{
		LoanID:   loan.ID,
		Name:     "Scope 1 Emissions",
		Category: model.CategoryEnvironmental,
		Baseline: 100,
		Target:   70,
	})
	require.NoError(t, err)

	base := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	for i, disc := range []float64{2, 3, 4} {
		addCompletedVerification(t, s, loan.ID, base.AddDate(0, i, 0), disc, []model.KPIResult{{
			KPIID:         kpi.ID,
			KPIName:       kpi.Name,
			VerifiedValue: 73, // 90% of the way from 100 to 70
		}})
	}

	a, err := scorer.Assess(ctx, loan.ID)
	require.NoError(t, err)

	assert.Equal(t, loan.ID, a.LoanID)
	assert.InDelta(t, 15.0, a.ESGRiskScore, 0.001, "strong progress maps to the lowest risk band")
	assert.Equal(t, model.TrendStable, a.Trend, "first assessment has no history")
	assert.Contains(t, a.Factors, "covenant_breach")
	assert.Contains(t, a.Factors, "esg_performance")
	assert.Contains(t, a.Factors, "financial_condition")
	assert.NotEmpty(t, a.Recommendations)
	assert.GreaterOrEqual(t, a.RiskScore, 0.0)
	assert.LessOrEqual(t, a.RiskScore, 100.0)

	// The record is persisted append-only.
	history, err := s.ListRiskAssessments(ctx, loan.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, a.ID, history[0].ID)

	// A second assessment appends rather than replaces.
	_, err = scorer.Assess(ctx, loan.ID)
	require.NoError(t, err)
	history, err = s.ListRiskAssessments(ctx, loan.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSeverityBands(t *testing.T) {
	assert.Equal(t, "low", severityFor(20))
	assert.Equal(t, "moderate", severityFor(55))
	assert.Equal(t, "high", severityFor(85))
}
