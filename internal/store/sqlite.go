package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/esglend/verify-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS loans (
	id             TEXT PRIMARY KEY,
	borrower_name  TEXT NOT NULL,
	principal      REAL NOT NULL,
	base_rate      REAL NOT NULL,
	current_margin REAL NOT NULL,
	status         TEXT NOT NULL DEFAULT 'active',
	latitude       REAL NOT NULL DEFAULT 0,
	longitude      REAL NOT NULL DEFAULT 0,
	postcode       TEXT,
	ticker_symbol  TEXT,
	maturity_date  DATETIME,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS kpis (
	id               TEXT PRIMARY KEY,
	loan_id          TEXT NOT NULL REFERENCES loans(id),
	name             TEXT NOT NULL,
	category         TEXT NOT NULL,
	unit             TEXT,
	baseline         REAL NOT NULL,
	target           REAL NOT NULL,
	frequency        TEXT,
	non_quantitative INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS measurements (
	id            TEXT PRIMARY KEY,
	kpi_id        TEXT NOT NULL REFERENCES kpis(id),
	period        DATETIME NOT NULL,
	claimed_value REAL NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS verifications (
	id               TEXT PRIMARY KEY,
	loan_id          TEXT NOT NULL REFERENCES loans(id),
	status           TEXT NOT NULL DEFAULT 'pending',
	confidence_score REAL NOT NULL DEFAULT 0,
	risk_level       TEXT,
	results          TEXT,
	findings         TEXT,
	recommendations  TEXT,
	error            TEXT,
	started_at       DATETIME NOT NULL,
	completed_at     DATETIME
);

CREATE TABLE IF NOT EXISTS risk_assessments (
	id                    TEXT PRIMARY KEY,
	loan_id               TEXT NOT NULL REFERENCES loans(id),
	assessed_at           DATETIME NOT NULL,
	breach_probability    REAL NOT NULL,
	esg_risk_score        REAL NOT NULL,
	financial_risk_score  REAL NOT NULL,
	risk_score            REAL NOT NULL,
	risk_category         TEXT NOT NULL,
	predicted_breach_date DATETIME,
	confidence            REAL NOT NULL,
	factors               TEXT,
	recommendations       TEXT,
	trend                 TEXT NOT NULL DEFAULT 'stable'
);

CREATE TABLE IF NOT EXISTS pricing_records (
	id                    TEXT PRIMARY KEY,
	loan_id               TEXT NOT NULL REFERENCES loans(id),
	effective_at          DATETIME NOT NULL,
	esg_performance_score REAL NOT NULL,
	tier                  TEXT NOT NULL,
	margin_adjustment_bps INTEGER NOT NULL,
	projected_total_rate  REAL NOT NULL,
	annual_dollar_impact  REAL NOT NULL,
	impact_note           TEXT
);

CREATE INDEX IF NOT EXISTS idx_kpis_loan_id ON kpis(loan_id);
CREATE INDEX IF NOT EXISTS idx_measurements_kpi_id ON measurements(kpi_id);
CREATE INDEX IF NOT EXISTS idx_verifications_loan_id ON verifications(loan_id);
CREATE INDEX IF NOT EXISTS idx_verifications_loan_status ON verifications(loan_id, status);
CREATE INDEX IF NOT EXISTS idx_risk_assessments_loan_id ON risk_assessments(loan_id);
CREATE INDEX IF NOT EXISTS idx_pricing_records_loan_id ON pricing_records(loan_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateLoan(ctx context.Context, loan model.Loan) (*model.Loan, error) {
	if loan.ID == "" {
		loan.ID = uuid.New().String()
	}
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = time.Now().UTC()
	}
	if loan.Status == "" {
		loan.Status = model.LoanStatusActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (id, borrower_name, principal, base_rate, current_margin, status, latitude, longitude, postcode, ticker_symbol, maturity_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.BorrowerName, loan.Principal, loan.BaseRate, loan.CurrentMargin,
		string(loan.Status), loan.Location.Latitude, loan.Location.Longitude,
		loan.Postcode, loan.TickerSymbol, loan.MaturityDate, loan.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert loan")
	}
	return &loan, nil
}

const loanColumns = `id, borrower_name, principal, base_rate, current_margin, status, latitude, longitude, postcode, ticker_symbol, maturity_date, created_at`

func (s *SQLiteStore) GetLoan(ctx context.Context, loanID string) (*model.Loan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = ?`, loanID)
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "loan %s", loanID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get loan %s", loanID)
	}
	return loan, nil
}

func (s *SQLiteStore) ListLoans(ctx context.Context) ([]model.Loan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list loans")
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan loan")
		}
		loans = append(loans, *l)
	}
	return loans, eris.Wrap(rows.Err(), "sqlite: list loans iterate")
}

func (s *SQLiteStore) CreateKPI(ctx context.Context, kpi model.KPI) (*model.KPI, error) {
	if kpi.ID == "" {
		kpi.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kpis (id, loan_id, name, category, unit, baseline, target, frequency, non_quantitative)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		kpi.ID, kpi.LoanID, kpi.Name, string(kpi.Category), kpi.Unit,
		kpi.Baseline, kpi.Target, kpi.Frequency, kpi.NonQuantitative,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert kpi for loan %s", kpi.LoanID)
	}
	return &kpi, nil
}

func (s *SQLiteStore) ListKPIs(ctx context.Context, loanID string) ([]model.KPI, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, loan_id, name, category, unit, baseline, target, frequency, non_quantitative
		 FROM kpis WHERE loan_id = ? ORDER BY name`, loanID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list kpis")
	}
	defer rows.Close()

	var kpis []model.KPI
	for rows.Next() {
		var k model.KPI
		if err := rows.Scan(&k.ID, &k.LoanID, &k.Name, &k.Category, &k.Unit,
			&k.Baseline, &k.Target, &k.Frequency, &k.NonQuantitative); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan kpi")
		}
		kpis = append(kpis, k)
	}
	return kpis, eris.Wrap(rows.Err(), "sqlite: list kpis iterate")
}

func (s *SQLiteStore) AddMeasurement(ctx context.Context, m model.Measurement) (*model.Measurement, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO measurements (id, kpi_id, period, claimed_value, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.KPIID, m.Period, m.ClaimedValue, m.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert measurement for kpi %s", m.KPIID)
	}
	return &m, nil
}

func (s *SQLiteStore) ListMeasurements(ctx context.Context, kpiID string) ([]model.Measurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kpi_id, period, claimed_value, created_at
		 FROM measurements WHERE kpi_id = ? ORDER BY period DESC`, kpiID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list measurements")
	}
	defer rows.Close()

	var ms []model.Measurement
	for rows.Next() {
		var m model.Measurement
		if err := rows.Scan(&m.ID, &m.KPIID, &m.Period, &m.ClaimedValue, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan measurement")
		}
		ms = append(ms, m)
	}
	return ms, eris.Wrap(rows.Err(), "sqlite: list measurements iterate")
}

func (s *SQLiteStore) CreateVerification(ctx context.Context, v *model.Verification) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.StartedAt.IsZero() {
		v.StartedAt = time.Now().UTC()
	}
	if v.Status == "" {
		v.Status = model.VerificationPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verifications (id, loan_id, status, started_at) VALUES (?, ?, ?, ?)`,
		v.ID, v.LoanID, string(v.Status), v.StartedAt,
	)
	return eris.Wrapf(err, "sqlite: insert verification for loan %s", v.LoanID)
}

func (s *SQLiteStore) UpdateVerificationStatus(ctx context.Context, verificationID string, status model.VerificationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE verifications SET status = ? WHERE id = ?`,
		string(status), verificationID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update verification status %s", verificationID)
	}
	return checkRowsAffected(res, "verification", verificationID)
}

func (s *SQLiteStore) CompleteVerification(ctx context.Context, v *model.Verification) error {
	resultsJSON, err := json.Marshal(v.Results)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal results")
	}
	findingsJSON, err := json.Marshal(v.Findings)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal findings")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE verifications
		 SET status = ?, confidence_score = ?, risk_level = ?, results = ?, findings = ?, recommendations = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		string(v.Status), v.ConfidenceScore, string(v.RiskLevel),
		string(resultsJSON), string(findingsJSON), v.Recommendations, v.Error,
		v.CompletedAt, v.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete verification %s", v.ID)
	}
	return checkRowsAffected(res, "verification", v.ID)
}

const verificationColumns = `id, loan_id, status, confidence_score, risk_level, results, findings, recommendations, error, started_at, completed_at`

func (s *SQLiteStore) ListVerifications(ctx context.Context, loanID string, limit int) ([]model.Verification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications WHERE loan_id = ? ORDER BY started_at DESC LIMIT ?`,
		loanID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list verifications")
	}
	defer rows.Close()

	var vs []model.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		vs = append(vs, *v)
	}
	return vs, eris.Wrap(rows.Err(), "sqlite: list verifications iterate")
}

func (s *SQLiteStore) LatestCompletedVerification(ctx context.Context, loanID string) (*model.Verification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications
		 WHERE loan_id = ? AND status = ? ORDER BY completed_at DESC LIMIT 1`,
		loanID, string(model.VerificationCompleted))
	v, err := scanVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "completed verification for loan %s", loanID)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *SQLiteStore) AppendRiskAssessment(ctx context.Context, a model.RiskAssessment) (*model.RiskAssessment, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.AssessedAt.IsZero() {
		a.AssessedAt = time.Now().UTC()
	}

	factorsJSON, err := json.Marshal(a.Factors)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal risk factors")
	}
	recsJSON, err := json.Marshal(a.Recommendations)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal risk recommendations")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO risk_assessments (id, loan_id, assessed_at, breach_probability, esg_risk_score, financial_risk_score, risk_score, risk_category, predicted_breach_date, confidence, factors, recommendations, trend)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LoanID, a.AssessedAt, a.BreachProbability, a.ESGRiskScore,
		a.FinancialRiskScore, a.RiskScore, string(a.RiskCategory),
		a.PredictedBreachDate, a.Confidence, string(factorsJSON), string(recsJSON), string(a.Trend),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert risk assessment for loan %s", a.LoanID)
	}
	return &a, nil
}

func (s *SQLiteStore) ListRiskAssessments(ctx context.Context, loanID string, limit int) ([]model.RiskAssessment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, loan_id, assessed_at, breach_probability, esg_risk_score, financial_risk_score, risk_score, risk_category, predicted_breach_date, confidence, factors, recommendations, trend
		 FROM risk_assessments WHERE loan_id = ? ORDER BY assessed_at DESC LIMIT ?`,
		loanID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list risk assessments")
	}
	defer rows.Close()

	var as []model.RiskAssessment
	for rows.Next() {
		var a model.RiskAssessment
		var factorsJSON, recsJSON sql.NullString
		if err := rows.Scan(&a.ID, &a.LoanID, &a.AssessedAt, &a.BreachProbability,
			&a.ESGRiskScore, &a.FinancialRiskScore, &a.RiskScore, &a.RiskCategory,
			&a.PredictedBreachDate, &a.Confidence, &factorsJSON, &recsJSON, &a.Trend); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan risk assessment")
		}
		if factorsJSON.Valid && factorsJSON.String != "" {
			if err := json.Unmarshal([]byte(factorsJSON.String), &a.Factors); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal risk factors")
			}
		}
		if recsJSON.Valid && recsJSON.String != "" {
			if err := json.Unmarshal([]byte(recsJSON.String), &a.Recommendations); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal risk recommendations")
			}
		}
		as = append(as, a)
	}
	return as, eris.Wrap(rows.Err(), "sqlite: list risk assessments iterate")
}

func (s *SQLiteStore) AppendPricingRecord(ctx context.Context, r model.PricingRecord) (*model.PricingRecord, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.EffectiveAt.IsZero() {
		r.EffectiveAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pricing_records (id, loan_id, effective_at, esg_performance_score, tier, margin_adjustment_bps, projected_total_rate, annual_dollar_impact, impact_note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.LoanID, r.EffectiveAt, r.ESGPerformanceScore, string(r.Tier),
		r.MarginAdjustmentBps, r.ProjectedTotalRate, r.AnnualDollarImpact, r.ImpactNote,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert pricing record for loan %s", r.LoanID)
	}
	return &r, nil
}

func (s *SQLiteStore) ListPricingRecords(ctx context.Context, loanID string, limit int) ([]model.PricingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, loan_id, effective_at, esg_performance_score, tier, margin_adjustment_bps, projected_total_rate, annual_dollar_impact, impact_note
		 FROM pricing_records WHERE loan_id = ? ORDER BY effective_at DESC LIMIT ?`,
		loanID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pricing records")
	}
	defer rows.Close()

	var rs []model.PricingRecord
	for rows.Next() {
		var r model.PricingRecord
		if err := rows.Scan(&r.ID, &r.LoanID, &r.EffectiveAt, &r.ESGPerformanceScore,
			&r.Tier, &r.MarginAdjustmentBps, &r.ProjectedTotalRate, &r.AnnualDollarImpact,
			&r.ImpactNote); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pricing record")
		}
		rs = append(rs, r)
	}
	return rs, eris.Wrap(rows.Err(), "sqlite: list pricing records iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLoan(row scannable) (*model.Loan, error) {
	var l model.Loan
	var status string
	var postcode, ticker sql.NullString
	err := row.Scan(&l.ID, &l.BorrowerName, &l.Principal, &l.BaseRate, &l.CurrentMargin,
		&status, &l.Location.Latitude, &l.Location.Longitude, &postcode, &ticker,
		&l.MaturityDate, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.Status = model.LoanStatus(status)
	l.Postcode = postcode.String
	l.TickerSymbol = ticker.String
	return &l, nil
}

func scanVerification(row scannable) (*model.Verification, error) {
	var v model.Verification
	var riskLevel, resultsJSON, findingsJSON, recommendations, errText sql.NullString

	err := row.Scan(&v.ID, &v.LoanID, &v.Status, &v.ConfidenceScore, &riskLevel,
		&resultsJSON, &findingsJSON, &recommendations, &errText, &v.StartedAt, &v.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan verification")
	}

	v.RiskLevel = model.RiskLevel(riskLevel.String)
	v.Recommendations = recommendations.String
	v.Error = errText.String
	if resultsJSON.Valid && resultsJSON.String != "" {
		if err := json.Unmarshal([]byte(resultsJSON.String), &v.Results); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal results")
		}
	}
	if findingsJSON.Valid && findingsJSON.String != "" {
		if err := json.Unmarshal([]byte(findingsJSON.String), &v.Findings); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal findings")
		}
	}
	return &v, nil
}
