package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/esglend/verify-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS loans (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	borrower_name  TEXT NOT NULL,
	principal      DOUBLE PRECISION NOT NULL,
	base_rate      DOUBLE PRECISION NOT NULL,
	current_margin DOUBLE PRECISION NOT NULL,
	status         TEXT NOT NULL DEFAULT 'active',
	latitude       DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude      DOUBLE PRECISION NOT NULL DEFAULT 0,
	postcode       TEXT,
	ticker_symbol  TEXT,
	maturity_date  TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS kpis (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	loan_id          TEXT NOT NULL REFERENCES loans(id),
	name             TEXT NOT NULL,
	category         TEXT NOT NULL,
	unit             TEXT,
	baseline         DOUBLE PRECISION NOT NULL,
	target           DOUBLE PRECISION NOT NULL,
	frequency        TEXT,
	non_quantitative BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS measurements (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kpi_id        TEXT NOT NULL REFERENCES kpis(id),
	period        TIMESTAMPTZ NOT NULL,
	claimed_value DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS verifications (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	loan_id          TEXT NOT NULL REFERENCES loans(id),
	status           TEXT NOT NULL DEFAULT 'pending',
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	risk_level       TEXT,
	results          JSONB,
	findings         JSONB,
	recommendations  TEXT,
	error            TEXT,
	started_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS risk_assessments (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	loan_id               TEXT NOT NULL REFERENCES loans(id),
	assessed_at           TIMESTAMPTZ NOT NULL,
	breach_probability    DOUBLE PRECISION NOT NULL,
	esg_risk_score        DOUBLE PRECISION NOT NULL,
	financial_risk_score  DOUBLE PRECISION NOT NULL,
	risk_score            DOUBLE PRECISION NOT NULL,
	risk_category         TEXT NOT NULL,
	predicted_breach_date TIMESTAMPTZ,
	confidence            DOUBLE PRECISION NOT NULL,
	factors               JSONB,
	recommendations       JSONB,
	trend                 TEXT NOT NULL DEFAULT 'stable'
);

CREATE TABLE IF NOT EXISTS pricing_records (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	loan_id               TEXT NOT NULL REFERENCES loans(id),
	effective_at          TIMESTAMPTZ NOT NULL,
	esg_performance_score DOUBLE PRECISION NOT NULL,
	tier                  TEXT NOT NULL,
	margin_adjustment_bps INTEGER NOT NULL,
	projected_total_rate  DOUBLE PRECISION NOT NULL,
	annual_dollar_impact  DOUBLE PRECISION NOT NULL,
	impact_note           TEXT
);

CREATE INDEX IF NOT EXISTS idx_kpis_loan_id ON kpis(loan_id);
CREATE INDEX IF NOT EXISTS idx_measurements_kpi_id ON measurements(kpi_id);
CREATE INDEX IF NOT EXISTS idx_verifications_loan_id ON verifications(loan_id);
CREATE INDEX IF NOT EXISTS idx_verifications_loan_status ON verifications(loan_id, status);
CREATE INDEX IF NOT EXISTS idx_risk_assessments_loan_id ON risk_assessments(loan_id);
CREATE INDEX IF NOT EXISTS idx_pricing_records_loan_id ON pricing_records(loan_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) CreateLoan(ctx context.Context, loan model.Loan) (*model.Loan, error) {
	if loan.ID == "" {
		loan.ID = uuid.New().String()
	}
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = time.Now().UTC()
	}
	if loan.Status == "" {
		loan.Status = model.LoanStatusActive
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO loans (id, borrower_name, principal, base_rate, current_margin, status, latitude, longitude, postcode, ticker_symbol, maturity_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		loan.ID, loan.BorrowerName, loan.Principal, loan.BaseRate, loan.CurrentMargin,
		string(loan.Status), loan.Location.Latitude, loan.Location.Longitude,
		loan.Postcode, loan.TickerSymbol, loan.MaturityDate, loan.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert loan")
	}
	return &loan, nil
}

func (s *PostgresStore) GetLoan(ctx context.Context, loanID string) (*model.Loan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`, loanID)
	loan, err := scanLoan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "loan %s", loanID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get loan %s", loanID)
	}
	return loan, nil
}

func (s *PostgresStore) ListLoans(ctx context.Context) ([]model.Loan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+loanColumns+` FROM loans ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list loans")
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan loan")
		}
		loans = append(loans, *l)
	}
	return loans, eris.Wrap(rows.Err(), "postgres: list loans iterate")
}

func (s *PostgresStore) CreateKPI(ctx context.Context, kpi model.KPI) (*model.KPI, error) {
	if kpi.ID == "" {
		kpi.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO kpis (id, loan_id, name, category, unit, baseline, target, frequency, non_quantitative)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		kpi.ID, kpi.LoanID, kpi.Name, string(kpi.Category), kpi.Unit,
		kpi.Baseline, kpi.Target, kpi.Frequency, kpi.NonQuantitative,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert kpi for loan %s", kpi.LoanID)
	}
	return &kpi, nil
}

func (s *PostgresStore) ListKPIs(ctx context.Context, loanID string) ([]model.KPI, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, loan_id, name, category, unit, baseline, target, frequency, non_quantitative
		 FROM kpis WHERE loan_id = $1 ORDER BY name`, loanID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list kpis")
	}
	defer rows.Close()

	var kpis []model.KPI
	for rows.Next() {
		var k model.KPI
		if err := rows.Scan(&k.ID, &k.LoanID, &k.Name, &k.Category, &k.Unit,
			&k.Baseline, &k.Target, &k.Frequency, &k.NonQuantitative); err != nil {
			return nil, eris.Wrap(err, "postgres: scan kpi")
		}
		kpis = append(kpis, k)
	}
	return kpis, eris.Wrap(rows.Err(), "postgres: list kpis iterate")
}

func (s *PostgresStore) AddMeasurement(ctx context.Context, m model.Measurement) (*model.Measurement, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO measurements (id, kpi_id, period, claimed_value, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.KPIID, m.Period, m.ClaimedValue, m.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert measurement for kpi %s", m.KPIID)
	}
	return &m, nil
}

func (s *PostgresStore) ListMeasurements(ctx context.Context, kpiID string) ([]model.Measurement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kpi_id, period, claimed_value, created_at
		 FROM measurements WHERE kpi_id = $1 ORDER BY period DESC`, kpiID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list measurements")
	}
	defer rows.Close()

	var ms []model.Measurement
	for rows.Next() {
		var m model.Measurement
		if err := rows.Scan(&m.ID, &m.KPIID, &m.Period, &m.ClaimedValue, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan measurement")
		}
		ms = append(ms, m)
	}
	return ms, eris.Wrap(rows.Err(), "postgres: list measurements iterate")
}

func (s *PostgresStore) CreateVerification(ctx context.Context, v *model.Verification) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.StartedAt.IsZero() {
		v.StartedAt = time.Now().UTC()
	}
	if v.Status == "" {
		v.Status = model.VerificationPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO verifications (id, loan_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		v.ID, v.LoanID, string(v.Status), v.StartedAt,
	)
	return eris.Wrapf(err, "postgres: insert verification for loan %s", v.LoanID)
}

func (s *PostgresStore) UpdateVerificationStatus(ctx context.Context, verificationID string, status model.VerificationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE verifications SET status = $1 WHERE id = $2`,
		string(status), verificationID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update verification status %s", verificationID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "verification %s", verificationID)
	}
	return nil
}

func (s *PostgresStore) CompleteVerification(ctx context.Context, v *model.Verification) error {
	resultsJSON, err := json.Marshal(v.Results)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal results")
	}
	findingsJSON, err := json.Marshal(v.Findings)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal findings")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE verifications
		 SET status = $1, confidence_score = $2, risk_level = $3, results = $4, findings = $5, recommendations = $6, error = $7, completed_at = $8
		 WHERE id = $9`,
		string(v.Status), v.ConfidenceScore, string(v.RiskLevel),
		resultsJSON, findingsJSON, v.Recommendations, v.Error, v.CompletedAt, v.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete verification %s", v.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "verification %s", v.ID)
	}
	return nil
}

func (s *PostgresStore) ListVerifications(ctx context.Context, loanID string, limit int) ([]model.Verification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+verificationColumns+` FROM verifications WHERE loan_id = $1 ORDER BY started_at DESC LIMIT $2`,
		loanID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list verifications")
	}
	defer rows.Close()

	var vs []model.Verification
	for rows.Next() {
		v, err := scanPgVerification(rows)
		if err != nil {
			return nil, err
		}
		vs = append(vs, *v)
	}
	return vs, eris.Wrap(rows.Err(), "postgres: list verifications iterate")
}

func (s *PostgresStore) LatestCompletedVerification(ctx context.Context, loanID string) (*model.Verification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+verificationColumns+` FROM verifications
		 WHERE loan_id = $1 AND status = $2 ORDER BY completed_at DESC LIMIT 1`,
		loanID, string(model.VerificationCompleted))
	v, err := scanPgVerification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "completed verification for loan %s", loanID)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *PostgresStore) AppendRiskAssessment(ctx context.Context, a model.RiskAssessment) (*model.RiskAssessment, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.AssessedAt.IsZero() {
		a.AssessedAt = time.Now().UTC()
	}

	factorsJSON, err := json.Marshal(a.Factors)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal risk factors")
	}
	recsJSON, err := json.Marshal(a.Recommendations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal risk recommendations")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO risk_assessments (id, loan_id, assessed_at, breach_probability, esg_risk_score, financial_risk_score, risk_score, risk_category, predicted_breach_date, confidence, factors, recommendations, trend)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.LoanID, a.AssessedAt, a.BreachProbability, a.ESGRiskScore,
		a.FinancialRiskScore, a.RiskScore, string(a.RiskCategory),
		a.PredictedBreachDate, a.Confidence, factorsJSON, recsJSON, string(a.Trend),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert risk assessment for loan %s", a.LoanID)
	}
	return &a, nil
}

func (s *PostgresStore) ListRiskAssessments(ctx context.Context, loanID string, limit int) ([]model.RiskAssessment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, loan_id, assessed_at, breach_probability, esg_risk_score, financial_risk_score, risk_score, risk_category, predicted_breach_date, confidence, factors, recommendations, trend
		 FROM risk_assessments WHERE loan_id = $1 ORDER BY assessed_at DESC LIMIT $2`,
		loanID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list risk assessments")
	}
	defer rows.Close()

	var as []model.RiskAssessment
	for rows.Next() {
		var a model.RiskAssessment
		var factorsJSON, recsJSON []byte
		if err := rows.Scan(&a.ID, &a.LoanID, &a.AssessedAt, &a.BreachProbability,
			&a.ESGRiskScore, &a.FinancialRiskScore, &a.RiskScore, &a.RiskCategory,
			&a.PredictedBreachDate, &a.Confidence, &factorsJSON, &recsJSON, &a.Trend); err != nil {
			return nil, eris.Wrap(err, "postgres: scan risk assessment")
		}
		if len(factorsJSON) > 0 {
			if err := json.Unmarshal(factorsJSON, &a.Factors); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal risk factors")
			}
		}
		if len(recsJSON) > 0 {
			if err := json.Unmarshal(recsJSON, &a.Recommendations); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal risk recommendations")
			}
		}
		as = append(as, a)
	}
	return as, eris.Wrap(rows.Err(), "postgres: list risk assessments iterate")
}

func (s *PostgresStore) AppendPricingRecord(ctx context.Context, r model.PricingRecord) (*model.PricingRecord, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.EffectiveAt.IsZero() {
		r.EffectiveAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO pricing_records (id, loan_id, effective_at, esg_performance_score, tier, margin_adjustment_bps, projected_total_rate, annual_dollar_impact, impact_note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.LoanID, r.EffectiveAt, r.ESGPerformanceScore, string(r.Tier),
		r.MarginAdjustmentBps, r.ProjectedTotalRate, r.AnnualDollarImpact, r.ImpactNote,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert pricing record for loan %s", r.LoanID)
	}
	return &r, nil
}

func (s *PostgresStore) ListPricingRecords(ctx context.Context, loanID string, limit int) ([]model.PricingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, loan_id, effective_at, esg_performance_score, tier, margin_adjustment_bps, projected_total_rate, annual_dollar_impact, impact_note
		 FROM pricing_records WHERE loan_id = $1 ORDER BY effective_at DESC LIMIT $2`,
		loanID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pricing records")
	}
	defer rows.Close()

	var rs []model.PricingRecord
	for rows.Next() {
		var r model.PricingRecord
		if err := rows.Scan(&r.ID, &r.LoanID, &r.EffectiveAt, &r.ESGPerformanceScore,
			&r.Tier, &r.MarginAdjustmentBps, &r.ProjectedTotalRate, &r.AnnualDollarImpact,
			&r.ImpactNote); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pricing record")
		}
		rs = append(rs, r)
	}
	return rs, eris.Wrap(rows.Err(), "postgres: list pricing records iterate")
}

func scanPgVerification(row scannable) (*model.Verification, error) {
	var v model.Verification
	var riskLevel, recommendations, errText *string
	var resultsJSON, findingsJSON []byte

	err := row.Scan(&v.ID, &v.LoanID, &v.Status, &v.ConfidenceScore, &riskLevel,
		&resultsJSON, &findingsJSON, &recommendations, &errText, &v.StartedAt, &v.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan verification")
	}

	if riskLevel != nil {
		v.RiskLevel = model.RiskLevel(*riskLevel)
	}
	if recommendations != nil {
		v.Recommendations = *recommendations
	}
	if errText != nil {
		v.Error = *errText
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &v.Results); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal results")
		}
	}
	if len(findingsJSON) > 0 {
		if err := json.Unmarshal(findingsJSON, &v.Findings); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal findings")
		}
	}
	return &v, nil
}
