package pricing

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

func setupEngine(t *testing.T) (*Engine, store.Store, *model.Loan) {
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
	})
	require.NoError(t, err)

	cfg := config.PricingConfig{Tiers: config.DefaultTiers()}
	require.NoError(t, cfg.Validate())
	return NewEngine(s, cfg), s, loan
}

// seedVerifiedKPIs creates one KPI per category, all verified at the given
// fraction of the baseline-to-target distance.
func seedVerifiedKPIs(t *testing.T, s store.Store, loanID string, progress float64) {
	t.Helper()
	ctx := context.Background()

	var results []model.KPIResult
	for _, cat := range []model.KPICategory{
		model.CategoryEnvironmental, model.CategorySocial, model.CategoryGovernance,
	} {
		kpi, err := s.CreateKPI(ctx, model.KPI{
			LoanID:   loanID,
			Name:     string(cat) + " kpi",
			Category: cat,
			Baseline: 0,
			Target:   100,
		})
		require.NoError(t, err)
		results = append(results, model.KPIResult{
			KPIID:         kpi.ID,
			KPIName:       kpi.Name,
			VerifiedValue: progress * 100,
		})
	}

	v := &model.Verification{LoanID: loanID, StartedAt: time.Now().UTC().Add(-time.Hour)}
	require.NoError(t, s.CreateVerification(ctx, v))
	completedAt := time.Now().UTC()
	v.Status = model.VerificationCompleted
	v.Results = results
	v.Findings = model.Findings{TotalKPIs: len(results), VerifiedCount: len(results)}
	v.CompletedAt = &completedAt
	require.NoError(t, s.CompleteVerification(ctx, v))
}

func TestCalculateGoodTier(t *testing.T) {
	e, s, loan := setupEngine(t)
	seedVerifiedKPIs(t, s, loan.ID, 0.85)

	r, err := e.Calculate(context.Background(), loan.ID)
	require.NoError(t, err)

	assert.InDelta(t, 85.0, r.ESGPerformanceScore, 0.001)
	assert.Equal(t, model.TierGood, r.Tier)
	assert.Equal(t, -10, r.MarginAdjustmentBps)
	// 4.5 + 2.0 - 0.10
	assert.InDelta(t, 6.4, r.ProjectedTotalRate, 0.001)
	// 100M * -10 / 10000
	assert.InDelta(t, -100_000.0, r.AnnualDollarImpact, 0.001)
	assert.Contains(t, r.ImpactNote, "100,000")
	assert.Contains(t, r.ImpactNote, "saving")
	assert.False(t, r.Scenario)
}

func TestCalculateIdempotentValues(t *testing.T) {
	e, s, loan := setupEngine(t)
	seedVerifiedKPIs(t, s, loan.ID, 0.85)
	ctx := context.Background()

	r1, err := e.Calculate(ctx, loan.ID)
	require.NoError(t, err)
	r2, err := e.Calculate(ctx, loan.ID)
	require.NoError(t, err)

	assert.Equal(t, r1.Tier, r2.Tier)
	assert.Equal(t, r1.MarginAdjustmentBps, r2.MarginAdjustmentBps)
	assert.InDelta(t, r1.ESGPerformanceScore, r2.ESGPerformanceScore, 0.001)

	// Both calls append to history.
	history, err := e.History(ctx, loan.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCalculateNotYetVerified(t *testing.T) {
	e, _, loan := setupEngine(t)

	_, err := e.Calculate(context.Background(), loan.ID)
	var nve *NotYetVerifiedError
	require.ErrorAs(t, err, &nve)
	assert.Equal(t, loan.ID, nve.LoanID)
}

func TestCalculateUnknownLoan(t *testing.T) {
	e, _, _ := setupEngine(t)
	_, err := e.Calculate(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTierBoundaries(t *testing.T) {
	e, _, _ := setupEngine(t)

	tests := []struct {
		score float64
		tier  string
		bps   int
	}{
		{100, "excellent", -25},
		{90, "excellent", -25},
		{89.99, "good", -10},
		{75, "good", -10},
		{74.99, "fair", 0},
		{60, "fair", 0},
		{59.99, "poor", 15},
		{40, "poor", 15},
		{39.99, "critical", 40},
		{0, "critical", 40},
	}
	for _, tt := range tests {
		tier := e.tierFor(tt.score)
		assert.Equal(t, tt.tier, tier.Name, "score %.2f", tt.score)
		assert.Equal(t, tt.bps, tier.AdjustmentBps, "score %.2f", tt.score)
	}
}

func TestAdjustmentMonotonicOverScores(t *testing.T) {
	e, _, _ := setupEngine(t)

	prev := e.tierFor(0).AdjustmentBps
	for score := 1.0; score <= 100; score++ {
		cur := e.tierFor(score).AdjustmentBps
		assert.LessOrEqual(t, cur, prev, "score %.0f", score)
		prev = cur
	}
}

func TestSimulateScenarios(t *testing.T) {
	e, _, loan := setupEngine(t)

	scenarios, err := e.SimulateScenarios(context.Background(), loan.ID)
	require.NoError(t, err)
	require.Len(t, scenarios, 5)

	for i, sc := range scenarios {
		assert.True(t, sc.Scenario)
		assert.Equal(t, string(config.DefaultTiers()[i].Name), string(sc.Tier))
		assert.Equal(t, config.DefaultTiers()[i].AdjustmentBps, sc.MarginAdjustmentBps)
		assert.InDelta(t, config.DefaultTiers()[i].MinScore, sc.ESGPerformanceScore, 0.001,
			"scenarios price each tier at its lower bound")
	}

	// Scenario runs leave the history untouched.
	history, err := e.History(context.Background(), loan.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPerformanceScoreRenormalizesMissingPillars(t *testing.T) {
	e, s, loan := setupEngine(t)
	ctx := context.Background()

	// Only an environmental KPI is verified; its achievement carries the
	// whole score instead of being dragged down by absent pillars.
	kpi, err := s.CreateKPI(ctx, model.KPI{
		LoanID:   loan.ID,
		Name:     "Scope 1 Emissions",
		Category: model.CategoryEnvironmental,
		Baseline: 0,
		Target:   100,
	})
	require.NoError(t, err)

	v := &model.Verification{LoanID: loan.ID, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateVerification(ctx, v))
	completedAt := time.Now().UTC()
	v.Status = model.VerificationCompleted
	v.Results = []model.KPIResult{{KPIID: kpi.ID, VerifiedValue: 92}}
	v.CompletedAt = &completedAt
	require.NoError(t, s.CompleteVerification(ctx, v))

	r, err := e.Calculate(ctx, loan.ID)
	require.NoError(t, err)
	assert.InDelta(t, 92.0, r.ESGPerformanceScore, 0.001)
	assert.Equal(t, model.TierExcellent, r.Tier)
}

func TestPoorTierCostsBorrower(t *testing.T) {
	e, s, loan := setupEngine(t)
	seedVerifiedKPIs(t, s, loan.ID, 0.45)

	r, err := e.Calculate(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierPoor, r.Tier)
	assert.Equal(t, 15, r.MarginAdjustmentBps)
	assert.InDelta(t, 150_000.0, r.AnnualDollarImpact, 0.001)
	assert.Contains(t, r.ImpactNote, "costing")
	assert.Contains(t, r.ImpactNote, "150,000")
}
