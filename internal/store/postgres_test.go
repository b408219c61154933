package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esglend/verify-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresCreateLoan(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO loans`)).
		WithArgs(pgxmock.AnyArg(), "Greenfield Manufacturing", 100_000_000.0, 4.5, 2.0,
			"active", 51.5, -0.12, "EC1A", "GFM", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	loan, err := s.CreateLoan(context.Background(), model.Loan{
		BorrowerName:  "Greenfield Manufacturing",
		Principal:     100_000_000,
		BaseRate:      4.5,
		CurrentMargin: 2.0,
		Location:      model.GeoPoint{Latitude: 51.5, Longitude: -0.12},
		Postcode:      "EC1A",
		TickerSymbol:  "GFM",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, loan.ID)
	assert.Equal(t, model.LoanStatusActive, loan.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetLoanNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+loanColumns+` FROM loans WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLoan(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateVerificationStatusNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE verifications SET status = $1 WHERE id = $2`)).
		WithArgs("running", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateVerificationStatus(context.Background(), "missing", model.VerificationRunning)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendPricingRecord(t *testing.T) {
	s, mock := newMockStore(t)

	effective := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO pricing_records`)).
		WithArgs(pgxmock.AnyArg(), "loan-1", effective, 85.0, "good", -10, 6.4, -100_000.0, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r, err := s.AppendPricingRecord(context.Background(), model.PricingRecord{
		LoanID:              "loan-1",
		EffectiveAt:         effective,
		ESGPerformanceScore: 85,
		Tier:                model.TierGood,
		MarginAdjustmentBps: -10,
		ProjectedTotalRate:  6.4,
		AnnualDollarImpact:  -100_000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListKPIs(t *testing.T) {
	s, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"id", "loan_id", "name", "category", "unit", "baseline", "target", "frequency", "non_quantitative"}).
		AddRow("kpi-1", "loan-1", "Scope 1 Emissions", "environmental", "tCO2e", 100.0, 70.0, "quarterly", false).
		AddRow("kpi-2", "loan-1", "Workforce Diversity", "social", "percent", 30.0, 40.0, "annual", false)

	mock.ExpectQuery(`SELECT id, loan_id, name, category, unit, baseline, target, frequency, non_quantitative`).
		WithArgs("loan-1").
		WillReturnRows(rows)

	kpis, err := s.ListKPIs(context.Background(), "loan-1")
	require.NoError(t, err)
	require.Len(t, kpis, 2)
	assert.Equal(t, model.CategoryEnvironmental, kpis[0].Category)
	assert.Equal(t, model.CategorySocial, kpis[1].Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}
