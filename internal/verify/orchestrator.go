// Package verify runs multi-source KPI verification: it fans borrower-reported
// measurements out across the provider gateway, aggregates readings into
// verified values, and scores discrepancies against the loan's covenants.
package verify

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/esglend/verify-cli/internal/config"
	"github.com/esglend/verify-cli/internal/model"
	"github.com/esglend/verify-cli/internal/store"
)

// Gateway is the provider surface the orchestrator fans out against. Fetch
// errors only on configuration defects; transport failures degrade to
// fallback readings inside the gateway.
type Gateway interface {
	ProvidersFor(cat model.KPICategory) []string
	Fetch(ctx context.Context, provider string, loan model.Loan, kpi model.KPI) (model.SourceReading, error)
}

// Orchestrator coordinates verification runs. Safe for concurrent use; runs
// are single-flight per loan.
type Orchestrator struct {
	store   store.Store
	gateway Gateway
	cfg     config.VerificationConfig
	gwcfg   config.GatewayConfig

	mu      sync.Mutex
	running map[string]bool

	now func() time.Time
}

// NewOrchestrator builds a verification orchestrator.
func NewOrchestrator(st store.Store, gw Gateway, cfg config.VerificationConfig, gwcfg config.GatewayConfig) *Orchestrator {
	return &Orchestrator{
		store:   st,
		gateway: gw,
		cfg:     cfg,
		gwcfg:   gwcfg,
		running: make(map[string]bool),
		now:     time.Now,
	}
}

// Verify runs one verification for the loan. The run is bounded by the
// configured budget; provider calls that miss it degrade to fallback readings
// rather than failing the run. The returned record is terminal (completed or
// failed).
func (o *Orchestrator) Verify(ctx context.Context, loanID string) (*model.Verification, error) {
	loan, err := o.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	if !o.acquire(loanID) {
		return nil, &AlreadyRunningError{LoanID: loanID}
	}
	defer o.release(loanID)

	v := &model.Verification{
		LoanID:    loanID,
		Status:    model.VerificationPending,
		StartedAt: o.now().UTC(),
	}
	if err := o.store.CreateVerification(ctx, v); err != nil {
		return nil, err
	}

	kpis, err := o.store.ListKPIs(ctx, loanID)
	if err != nil {
		return nil, o.fail(ctx, v, err)
	}
	if len(kpis) == 0 {
		return nil, o.fail(ctx, v, eris.Errorf("verify: loan %s has no KPIs", loanID))
	}

	if err := o.store.UpdateVerificationStatus(ctx, v.ID, model.VerificationRunning); err != nil {
		return nil, err
	}
	v.Status = model.VerificationRunning

	zap.L().Info("verification started",
		zap.String("loan_id", loanID),
		zap.String("verification_id", v.ID),
		zap.Int("kpis", len(kpis)),
	)

	runCtx, cancel := context.WithTimeout(ctx, o.gwcfg.RunBudget())
	defer cancel()

	results, err := o.verifyKPIs(runCtx, *loan, kpis)
	if err != nil {
		return nil, o.fail(ctx, v, err)
	}

	o.aggregate(v, results)
	if v.Findings.VerifiedCount == 0 {
		return nil, o.fail(ctx, v, eris.Errorf("verify: loan %s: no KPI could be verified", loanID))
	}
	completedAt := o.now().UTC()
	v.Status = model.VerificationCompleted
	v.CompletedAt = &completedAt

	if err := o.store.CompleteVerification(ctx, v); err != nil {
		return nil, err
	}

	zap.L().Info("verification completed",
		zap.String("loan_id", loanID),
		zap.String("verification_id", v.ID),
		zap.Float64("confidence", v.ConfidenceScore),
		zap.String("risk_level", string(v.RiskLevel)),
		zap.Int("breached", v.Findings.BreachedCount),
	)
	return v, nil
}

// verifyKPIs resolves the latest claimed value per KPI and fans reads out
// across providers. Results keep the input KPI order.
func (o *Orchestrator) verifyKPIs(ctx context.Context, loan model.Loan, kpis []model.KPI) ([]model.KPIResult, error) {
	results := make([]model.KPIResult, len(kpis))

	type call struct {
		kpiIdx   int
		provider string
	}
	var calls []call

	for i, kpi := range kpis {
		results[i] = model.KPIResult{KPIID: kpi.ID, KPIName: kpi.Name}

		if err := o.validateKPI(ctx, kpi, &results[i]); err != nil {
			var ve *ValidationError
			if eris.As(err, &ve) {
				results[i].Excluded = true
				results[i].ExcludedReason = ve.Reason
				zap.L().Warn("kpi excluded from verification",
					zap.String("kpi", kpi.Name),
					zap.String("reason", ve.Reason),
				)
				continue
			}
			return nil, err
		}

		providers := o.gateway.ProvidersFor(kpi.Category)
		if len(providers) == 0 {
			results[i].Excluded = true
			results[i].ExcludedReason = fmt.Sprintf("no providers for category %s", kpi.Category)
			continue
		}
		for _, p := range providers {
			calls = append(calls, call{kpiIdx: i, provider: p})
		}
	}

	readings := make([][]model.SourceReading, len(kpis))
	var mu sync.Mutex
	var confErr error
	confFailures := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.gwcfg.MaxConcurrentCalls)
	for _, c := range calls {
		g.Go(func() error {
			// Transport failures degrade inside the gateway; an error here is
			// a configuration defect for this provider/loan pairing.
			r, err := o.gateway.Fetch(gctx, c.provider, loan, kpis[c.kpiIdx])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				confFailures++
				confErr = err
				zap.L().Warn("provider call misconfigured for loan",
					zap.String("provider", c.provider),
					zap.String("kpi", kpis[c.kpiIdx].Name),
					zap.Error(err),
				)
				return nil
			}
			readings[c.kpiIdx] = append(readings[c.kpiIdx], r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "verify: fan-out")
	}

	// Individual misconfigured calls leave their KPI to the remaining
	// providers; when every call failed that way the run cannot produce a
	// single reading and fails.
	if len(calls) > 0 && confFailures == len(calls) {
		return nil, eris.Wrap(confErr, "verify: every provider call misconfigured")
	}

	for i := range results {
		if results[i].Excluded {
			continue
		}
		o.scoreKPI(&results[i], readings[i])
	}
	return results, nil
}

// validateKPI loads the latest claimed value, or returns a ValidationError
// when the KPI cannot be verified.
func (o *Orchestrator) validateKPI(ctx context.Context, kpi model.KPI, res *model.KPIResult) error {
	if kpi.NonQuantitative {
		return &ValidationError{KPIID: kpi.ID, Reason: "non-quantitative covenant"}
	}

	ms, err := o.store.ListMeasurements(ctx, kpi.ID)
	if err != nil {
		return err
	}
	if len(ms) == 0 {
		return &ValidationError{KPIID: kpi.ID, Reason: "no reported measurement"}
	}
	res.ClaimedValue = ms[0].ClaimedValue
	return nil
}

// scoreKPI computes the reliability-weighted verified value and the
// discrepancy against the claimed value. Fallback readings carry a reduced
// weight so a fully degraded run still resolves but with less influence per
// source.
func (o *Orchestrator) scoreKPI(res *model.KPIResult, readings []model.SourceReading) {
	res.Readings = readings

	var weightSum, valueSum float64
	for _, r := range readings {
		w := r.Reliability
		if r.Provenance != model.ProvenanceLive {
			w *= o.cfg.FallbackWeightFactor
		}
		weightSum += w
		valueSum += w * r.Value
	}
	if weightSum == 0 {
		res.Excluded = true
		res.ExcludedReason = "no usable readings"
		return
	}

	res.VerifiedValue = valueSum / weightSum

	denom := math.Max(math.Abs(res.VerifiedValue), o.cfg.Epsilon)
	res.DiscrepancyPct = math.Abs(res.ClaimedValue-res.VerifiedValue) / denom * 100
	res.Breached = res.DiscrepancyPct > o.cfg.MaterialityThresholdPct
}

// aggregate rolls per-KPI results into run-level findings, confidence, and
// the discrepancy risk level.
func (o *Orchestrator) aggregate(v *model.Verification, results []model.KPIResult) {
	v.Results = results

	var verified, breached, live int
	var discrepancySum, worst float64
	var reliabilitySum float64
	var readingCount int

	for _, r := range results {
		if r.Excluded {
			continue
		}
		verified++
		discrepancySum += r.DiscrepancyPct
		if r.DiscrepancyPct > worst {
			worst = r.DiscrepancyPct
		}
		if r.Breached {
			breached++
		}
		if r.LiveReadings() > 0 {
			live++
		}
		for _, sr := range r.Readings {
			reliabilitySum += sr.Reliability
			readingCount++
		}
	}

	v.Findings = model.Findings{
		TotalKPIs:     len(results),
		VerifiedCount: verified,
		BreachedCount: breached,
	}
	if verified > 0 {
		v.Findings.AvgDiscrepancy = discrepancySum / float64(verified)
		v.Findings.LiveCoverage = float64(live) / float64(verified)
	}

	meanReliability := 0.0
	if readingCount > 0 {
		meanReliability = reliabilitySum / float64(readingCount)
	}
	confidence := o.cfg.ReliabilityWeight*meanReliability +
		(1-o.cfg.ReliabilityWeight)*v.Findings.LiveCoverage*100
	v.ConfidenceScore = clamp(confidence, o.cfg.ConfidenceFloor, o.cfg.ConfidenceCeiling)

	v.RiskLevel = riskLevelFor(worst)
	v.Recommendations = o.recommend(v)
}

func riskLevelFor(worstDiscrepancy float64) model.RiskLevel {
	switch {
	case worstDiscrepancy < 10:
		return model.RiskLevelLow
	case worstDiscrepancy < 25:
		return model.RiskLevelMedium
	default:
		return model.RiskLevelHigh
	}
}

func (o *Orchestrator) recommend(v *model.Verification) string {
	var recs []string

	if v.Findings.BreachedCount > 0 {
		recs = append(recs, fmt.Sprintf(
			"Escalate to the relationship manager: %d of %d verified KPIs show material discrepancies.",
			v.Findings.BreachedCount, v.Findings.VerifiedCount))
	}
	if v.RiskLevel == model.RiskLevelHigh {
		recs = append(recs, "Request supporting documentation from the borrower before the next margin reset.")
	}
	if v.Findings.LiveCoverage < 0.5 && v.Findings.VerifiedCount > 0 {
		recs = append(recs, "Verification relied mostly on fallback data; re-run when providers recover.")
	}
	if v.Findings.VerifiedCount < v.Findings.TotalKPIs {
		recs = append(recs, fmt.Sprintf(
			"%d KPIs were excluded and need manual review.",
			v.Findings.TotalKPIs-v.Findings.VerifiedCount))
	}
	if len(recs) == 0 {
		recs = append(recs, "All KPIs verified within tolerance; continue standard monitoring.")
	}
	return strings.Join(recs, " ")
}

// fail marks the run failed and returns the original error.
func (o *Orchestrator) fail(ctx context.Context, v *model.Verification, cause error) error {
	completedAt := o.now().UTC()
	v.Status = model.VerificationFailed
	v.Error = cause.Error()
	v.CompletedAt = &completedAt

	if err := o.store.CompleteVerification(ctx, v); err != nil {
		zap.L().Error("failed to persist failed verification",
			zap.String("verification_id", v.ID),
			zap.Error(err),
		)
	}
	return cause
}

func (o *Orchestrator) acquire(loanID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[loanID] {
		return false
	}
	o.running[loanID] = true
	return true
}

func (o *Orchestrator) release(loanID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, loanID)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
