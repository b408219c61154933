package risk

import "fmt"

// InsufficientDataError is returned when a loan has no completed verification
// to assess risk from.
type InsufficientDataError struct {
	LoanID string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("risk: loan %s has no completed verifications", e.LoanID)
}
