package pricing

import "fmt"

// NotYetVerifiedError is returned when pricing is requested for a loan with
// no completed verification. Margin adjustments only move on verified data.
type NotYetVerifiedError struct {
	LoanID string
}

func (e *NotYetVerifiedError) Error() string {
	return fmt.Sprintf("pricing: loan %s has no completed verification", e.LoanID)
}
