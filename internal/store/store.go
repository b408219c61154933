// Package store persists loans, KPIs, and the verification, risk, and pricing
// records derived from them. Two backends exist: SQLite for single-operator
// CLI use and Postgres for the shared API deployment.
package store

import (
	"context"
	"errors"

	"github.com/esglend/verify-cli/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist. Callers
// check it with errors.Is; backends wrap it with the entity and id.
var ErrNotFound = errors.New("store: not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store defines the persistence interface for the verification pipeline.
type Store interface {
	// Loans
	CreateLoan(ctx context.Context, loan model.Loan) (*model.Loan, error)
	GetLoan(ctx context.Context, loanID string) (*model.Loan, error)
	ListLoans(ctx context.Context) ([]model.Loan, error)

	// KPIs and borrower-reported measurements
	CreateKPI(ctx context.Context, kpi model.KPI) (*model.KPI, error)
	ListKPIs(ctx context.Context, loanID string) ([]model.KPI, error)
	AddMeasurement(ctx context.Context, m model.Measurement) (*model.Measurement, error)
	ListMeasurements(ctx context.Context, kpiID string) ([]model.Measurement, error)

	// Verification runs
	CreateVerification(ctx context.Context, v *model.Verification) error
	UpdateVerificationStatus(ctx context.Context, verificationID string, status model.VerificationStatus) error
	CompleteVerification(ctx context.Context, v *model.Verification) error
	ListVerifications(ctx context.Context, loanID string, limit int) ([]model.Verification, error)
	LatestCompletedVerification(ctx context.Context, loanID string) (*model.Verification, error)

	// Risk assessments (append-only)
	AppendRiskAssessment(ctx context.Context, a model.RiskAssessment) (*model.RiskAssessment, error)
	ListRiskAssessments(ctx context.Context, loanID string, limit int) ([]model.RiskAssessment, error)

	// Pricing history (append-only, scenarios are never persisted)
	AppendPricingRecord(ctx context.Context, r model.PricingRecord) (*model.PricingRecord, error)
	ListPricingRecords(ctx context.Context, loanID string, limit int) ([]model.PricingRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
