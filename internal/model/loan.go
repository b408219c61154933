package model

import "time"

// LoanStatus represents the servicing state of a loan.
type LoanStatus string

const (
	LoanStatusActive       LoanStatus = "active"
	LoanStatusUnderReview  LoanStatus = "under_review"
	LoanStatusAtRisk       LoanStatus = "at_risk"
	LoanStatusDefaulted    LoanStatus = "defaulted"
	LoanStatusRestructured LoanStatus = "restructured"
)

// GeoPoint is a borrower facility location in WGS84 coordinates.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Loan represents a sustainability-linked loan whose margin varies with
// verified ESG performance.
type Loan struct {
	ID            string     `json:"id"`
	BorrowerName  string     `json:"borrower_name"`
	Principal     float64    `json:"principal"`      // outstanding principal in dollars
	BaseRate      float64    `json:"base_rate"`      // percent
	CurrentMargin float64    `json:"current_margin"` // percent
	Status        LoanStatus `json:"status"`
	Location      GeoPoint   `json:"location"`
	Postcode      string     `json:"postcode,omitempty"`
	TickerSymbol  string     `json:"ticker_symbol,omitempty"`
	MaturityDate  *time.Time `json:"maturity_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
