package verify

import "fmt"

// AlreadyRunningError is returned when a verification is requested for a loan
// that already has one in flight. Runs are single-flight per loan.
type AlreadyRunningError struct {
	LoanID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("verify: verification already running for loan %s", e.LoanID)
}

// ValidationError marks a KPI that cannot be verified (no reported
// measurement, or a non-quantitative covenant). The KPI is excluded from the
// run rather than failing it.
type ValidationError struct {
	KPIID  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("verify: kpi %s: %s", e.KPIID, e.Reason)
}
