// Package risk computes covenant breach predictions and composite risk
// scores from a loan's verification history.
package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/esglend/verify-cli/internal/config"
	"github.com/esglend/verify-cli/internal/model"
	"github.com/esglend/verify-cli/internal/store"
)

// loanStatusRisk maps servicing status to a baseline financial risk score.
var loanStatusRisk = map[model.LoanStatus]float64{
	model.LoanStatusActive:       20,
	model.LoanStatusUnderReview:  45,
	model.LoanStatusRestructured: 60,
	model.LoanStatusAtRisk:       70,
	model.LoanStatusDefaulted:    95,
}

// Scorer produces point-in-time risk assessments. Each call appends a new
// immutable record to the loan's assessment history.
type Scorer struct {
	store store.Store
	cfg   config.RiskConfig
	vcfg  config.VerificationConfig
	now   func() time.Time
}

// NewScorer builds a risk scorer.
func NewScorer(st store.Store, cfg config.RiskConfig, vcfg config.VerificationConfig) *Scorer {
	return &Scorer{store: st, cfg: cfg, vcfg: vcfg, now: time.Now}
}

// Assess computes and persists a risk assessment for the loan. At least one
// completed verification is required; the breach trend degrades gracefully
// below the configured window (a single point yields the neutral 0.5
// probability with low confidence).
func (s *Scorer) Assess(ctx context.Context, loanID string) (*model.RiskAssessment, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	all, err := s.store.ListVerifications(ctx, loanID, 100)
	if err != nil {
		return nil, err
	}

	var completed []model.Verification
	failedRuns := 0
	for _, v := range all {
		switch v.Status {
		case model.VerificationCompleted:
			completed = append(completed, v)
		case model.VerificationFailed:
			failedRuns++
		}
	}
	if len(completed) == 0 {
		return nil, &InsufficientDataError{LoanID: loanID}
	}

	// Oldest first for trend extrapolation.
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].StartedAt.Before(completed[j].StartedAt)
	})
	window := completed
	if len(window) > s.cfg.TrendPoints {
		window = window[len(window)-s.cfg.TrendPoints:]
	}

	now := s.now().UTC()
	prob, breachDate, probConfidence := s.breachPrediction(window, now)
	esgRisk := s.esgRisk(ctx, loanID, completed[len(completed)-1])
	finRisk := s.financialRisk(*loan, failedRuns, len(all), now)

	composite := s.composite(prob, esgRisk, finRisk)
	category := categoryFor(composite)

	history, err := s.store.ListRiskAssessments(ctx, loanID, s.cfg.TrendPoints)
	if err != nil {
		return nil, err
	}
	trend := trendFor(composite, history)

	a := model.RiskAssessment{
		LoanID:              loanID,
		AssessedAt:          now,
		BreachProbability:   prob,
		ESGRiskScore:        esgRisk,
		FinancialRiskScore:  finRisk,
		RiskScore:           composite,
		RiskCategory:        category,
		PredictedBreachDate: breachDate,
		Confidence:          probConfidence,
		Factors:             s.factors(prob, esgRisk, finRisk, *loan),
		Recommendations:     s.recommend(category, prob, breachDate),
		Trend:               trend,
	}

	saved, err := s.store.AppendRiskAssessment(ctx, a)
	if err != nil {
		return nil, err
	}

	zap.L().Info("risk assessed",
		zap.String("loan_id", loanID),
		zap.Float64("risk_score", composite),
		zap.String("category", string(category)),
		zap.Float64("breach_probability", prob),
	)
	return saved, nil
}

// composite blends the three components on the configured weights. The
// breach probability enters on a 0-100 scale.
func (s *Scorer) composite(prob, esgRisk, finRisk float64) float64 {
	score := s.cfg.CovenantWeight*(prob*100) +
		s.cfg.ESGWeight*esgRisk +
		s.cfg.FinancialWeight*finRisk
	return clamp(score, 0, 100)
}

func categoryFor(score float64) model.RiskCategory {
	switch {
	case score < 40:
		return model.RiskCategoryLow
	case score < 60:
		return model.RiskCategoryModerate
	case score < 80:
		return model.RiskCategoryElevated
	default:
		return model.RiskCategoryHigh
	}
}

// breachPrediction extrapolates the compliance margin (materiality threshold
// minus average discrepancy) over the verification window with ordinary least
// squares. A shrinking margin that crosses zero inside the horizon raises the
// probability and dates the crossing; the date is never in the past.
func (s *Scorer) breachPrediction(window []model.Verification, now time.Time) (float64, *time.Time, float64) {
	if len(window) < 2 {
		return 0.5, nil, 0.4
	}

	t0 := window[0].StartedAt
	xs := make([]float64, len(window))
	ys := make([]float64, len(window))
	for i, v := range window {
		xs[i] = monthsBetween(t0, v.StartedAt)
		ys[i] = s.vcfg.MaterialityThresholdPct - v.Findings.AvgDiscrepancy
	}

	slope, intercept := olsFit(xs, ys)
	xNow := monthsBetween(t0, now)
	marginNow := intercept + slope*xNow
	horizon := float64(s.cfg.HorizonMonths)

	confidence := clamp(0.3+0.1*float64(len(window)), 0, 0.9)

	if marginNow <= 0 {
		// Already past the threshold on trend.
		d := now
		return 0.95, &d, confidence
	}
	if slope >= 0 {
		// Margin stable or widening: residual probability only.
		return clamp(0.05+0.02*float64(len(window)), 0, 0.2), nil, confidence
	}

	monthsToCross := marginNow / -slope
	if monthsToCross > horizon {
		return clamp(0.1+0.1*(horizon/monthsToCross), 0, 0.3), nil, confidence
	}

	prob := clamp(1-monthsToCross/horizon, 0.05, 0.95)
	breach := now.AddDate(0, 0, int(monthsToCross*30.44))
	if breach.Before(now) {
		breach = now
	}
	return prob, &breach, confidence
}

// esgRisk converts verified progress toward KPI targets into a risk score.
// Strong progress maps to low risk in coarse bands rather than a linear
// inversion, so a single lagging KPI does not drown in the average.
func (s *Scorer) esgRisk(ctx context.Context, loanID string, latest model.Verification) float64 {
	kpis, err := s.store.ListKPIs(ctx, loanID)
	if err != nil {
		zap.L().Warn("esg risk falling back to neutral", zap.Error(err))
		return 50
	}
	byID := make(map[string]model.KPI, len(kpis))
	for _, k := range kpis {
		byID[k.ID] = k
	}

	var progressSum float64
	var counted int
	for _, r := range latest.Results {
		if r.Excluded {
			continue
		}
		kpi, ok := byID[r.KPIID]
		if !ok {
			continue
		}
		progressSum += kpi.Progress(r.VerifiedValue)
		counted++
	}
	if counted == 0 {
		return 50
	}

	avg := progressSum / float64(counted)
	switch {
	case avg >= 0.8:
		return 15
	case avg >= 0.6:
		return 35
	case avg >= 0.4:
		return 55
	case avg >= 0.2:
		return 75
	default:
		return 90
	}
}

// financialRisk starts from the servicing status baseline and adds pressure
// from failed verification runs and near-term maturity.
func (s *Scorer) financialRisk(loan model.Loan, failedRuns, totalRuns int, now time.Time) float64 {
	score, ok := loanStatusRisk[loan.Status]
	if !ok {
		score = 50
	}

	if totalRuns > 0 {
		failureRatio := float64(failedRuns) / float64(totalRuns)
		score += failureRatio * 20
	}

	if loan.MaturityDate != nil {
		monthsToMaturity := monthsBetween(now, *loan.MaturityDate)
		switch {
		case monthsToMaturity <= 12:
			score += 15
		case monthsToMaturity <= 24:
			score += 8
		}
	}

	return clamp(score, 0, 100)
}

func (s *Scorer) factors(prob, esgRisk, finRisk float64, loan model.Loan) map[string]model.RiskFactor {
	return map[string]model.RiskFactor{
		"covenant_breach": {
			Score:       prob * 100,
			Severity:    severityFor(prob * 100),
			Description: fmt.Sprintf("Covenant breach probability %.0f%% over the prediction horizon.", prob*100),
		},
		"esg_performance": {
			Score:       esgRisk,
			Severity:    severityFor(esgRisk),
			Description: "Verified progress toward sustainability targets.",
		},
		"financial_condition": {
			Score:       finRisk,
			Severity:    severityFor(finRisk),
			Description: fmt.Sprintf("Servicing status %s with verification track record and maturity profile.", loan.Status),
		},
	}
}

func severityFor(score float64) string {
	switch {
	case score < 40:
		return "low"
	case score < 70:
		return "moderate"
	default:
		return "high"
	}
}

func (s *Scorer) recommend(category model.RiskCategory, prob float64, breachDate *time.Time) []string {
	var recs []string
	switch category {
	case model.RiskCategoryHigh:
		recs = append(recs, "Move the loan to the watch list and schedule a covenant review with the borrower.")
	case model.RiskCategoryElevated:
		recs = append(recs, "Increase verification frequency and request an updated sustainability action plan.")
	case model.RiskCategoryModerate:
		recs = append(recs, "Monitor KPI trajectories at the next scheduled verification.")
	default:
		recs = append(recs, "Maintain standard monitoring cadence.")
	}
	if breachDate != nil {
		recs = append(recs, fmt.Sprintf("Trend projects a covenant breach around %s; engage before the next margin reset.", breachDate.Format("January 2006")))
	} else if prob >= 0.5 {
		recs = append(recs, "Breach probability is elevated despite no dated crossing; review KPI discrepancies.")
	}
	return recs
}

// trendFor compares the new composite against the mean of recent assessments.
func trendFor(score float64, history []model.RiskAssessment) model.RiskTrend {
	if len(history) == 0 {
		return model.TrendStable
	}
	var sum float64
	for _, a := range history {
		sum += a.RiskScore
	}
	mean := sum / float64(len(history))
	switch {
	case score > mean+5:
		return model.TrendIncreasing
	case score < mean-5:
		return model.TrendDecreasing
	default:
		return model.TrendStable
	}
}

// olsFit returns the least-squares slope and intercept of y over x.
func olsFit(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func monthsBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24 / 30.44
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
