// Package pricing translates verified ESG performance into margin
// adjustments on sustainability-linked loans.
package pricing

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/esglend/verify-cli/internal/config"
	"github.com/esglend/verify-cli/internal/model"
	"github.com/esglend/verify-cli/internal/store"
)

// Pillar weights for the blended performance score. Categories absent from
// the verification are renormalized out rather than counted as zero.
var categoryWeights = map[model.KPICategory]float64{
	model.CategoryEnvironmental: 0.40,
	model.CategorySocial:        0.30,
	model.CategoryGovernance:    0.30,
}

// Engine computes pricing outcomes from the latest completed verification.
type Engine struct {
	store   store.Store
	cfg     config.PricingConfig
	printer *message.Printer
	now     func() time.Time
}

// NewEngine builds a pricing engine. cfg must have passed Validate.
func NewEngine(st store.Store, cfg config.PricingConfig) *Engine {
	return &Engine{
		store:   st,
		cfg:     cfg,
		printer: message.NewPrinter(language.AmericanEnglish),
		now:     time.Now,
	}
}

// Calculate prices the loan off its latest completed verification and appends
// the result to the pricing history. Repeated calls against the same
// verification produce the same figures.
func (e *Engine) Calculate(ctx context.Context, loanID string) (*model.PricingRecord, error) {
	loan, err := e.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	v, err := e.store.LatestCompletedVerification(ctx, loanID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &NotYetVerifiedError{LoanID: loanID}
		}
		return nil, err
	}

	score, err := e.performanceScore(ctx, loanID, v)
	if err != nil {
		return nil, err
	}

	record := e.price(*loan, score)
	saved, err := e.store.AppendPricingRecord(ctx, *record)
	if err != nil {
		return nil, err
	}

	zap.L().Info("pricing calculated",
		zap.String("loan_id", loanID),
		zap.Float64("esg_score", score),
		zap.String("tier", string(saved.Tier)),
		zap.Int("adjustment_bps", saved.MarginAdjustmentBps),
	)
	return saved, nil
}

// SimulateScenarios prices the loan at each tier's lower-bound score, giving a
// side-by-side comparison. Scenario records are never persisted.
func (e *Engine) SimulateScenarios(ctx context.Context, loanID string) ([]model.PricingRecord, error) {
	loan, err := e.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	out := make([]model.PricingRecord, 0, len(e.cfg.Tiers))
	for _, tier := range e.cfg.Tiers {
		r := e.price(*loan, tier.MinScore)
		r.Scenario = true
		out = append(out, *r)
	}
	return out, nil
}

// History returns the persisted pricing records, newest first.
func (e *Engine) History(ctx context.Context, loanID string, limit int) ([]model.PricingRecord, error) {
	if _, err := e.store.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return e.store.ListPricingRecords(ctx, loanID, limit)
}

// price maps a performance score onto the tier table and derives the rate and
// dollar impact.
func (e *Engine) price(loan model.Loan, score float64) *model.PricingRecord {
	tier := e.tierFor(score)

	bps := tier.AdjustmentBps
	projected := loan.BaseRate + loan.CurrentMargin + float64(bps)/100
	impact := loan.Principal * float64(bps) / 10_000

	return &model.PricingRecord{
		LoanID:              loan.ID,
		EffectiveAt:         e.now().UTC(),
		ESGPerformanceScore: score,
		Tier:                model.PricingTier(tier.Name),
		MarginAdjustmentBps: bps,
		ProjectedTotalRate:  projected,
		AnnualDollarImpact:  impact,
		ImpactNote:          e.impactNote(tier, impact),
	}
}

// tierFor returns the first tier whose floor the score clears. The table is
// validated to be descending with the last floor at zero, so the scan always
// lands.
func (e *Engine) tierFor(score float64) config.TierConfig {
	for _, t := range e.cfg.Tiers {
		if score >= t.MinScore {
			return t
		}
	}
	return e.cfg.Tiers[len(e.cfg.Tiers)-1]
}

func (e *Engine) impactNote(tier config.TierConfig, impact float64) string {
	abs := int64(math.Round(math.Abs(impact)))
	switch {
	case impact < 0:
		return e.printer.Sprintf("Tier %s earns a %d bps margin reduction, saving the borrower $%d annually.",
			tier.Name, -tier.AdjustmentBps, abs)
	case impact > 0:
		return e.printer.Sprintf("Tier %s triggers a %d bps margin increase, costing the borrower $%d annually.",
			tier.Name, tier.AdjustmentBps, abs)
	default:
		return e.printer.Sprintf("Tier %s leaves the margin unchanged.", tier.Name)
	}
}

// performanceScore blends per-pillar target achievement on the category
// weights, renormalized over the pillars actually verified.
func (e *Engine) performanceScore(ctx context.Context, loanID string, v *model.Verification) (float64, error) {
	kpis, err := e.store.ListKPIs(ctx, loanID)
	if err != nil {
		return 0, err
	}
	byID := make(map[string]model.KPI, len(kpis))
	for _, k := range kpis {
		byID[k.ID] = k
	}

	sums := make(map[model.KPICategory]float64)
	counts := make(map[model.KPICategory]int)
	for _, r := range v.Results {
		if r.Excluded {
			continue
		}
		kpi, ok := byID[r.KPIID]
		if !ok {
			continue
		}
		sums[kpi.Category] += kpi.Progress(r.VerifiedValue) * 100
		counts[kpi.Category]++
	}

	var weighted, weightSum float64
	for cat, w := range categoryWeights {
		if counts[cat] == 0 {
			continue
		}
		weighted += w * (sums[cat] / float64(counts[cat]))
		weightSum += w
	}
	if weightSum == 0 {
		return 0, &NotYetVerifiedError{LoanID: loanID}
	}
	return weighted / weightSum, nil
}
