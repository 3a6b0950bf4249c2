package services

import (
	"errors"
	"fmt"
)

var (
	ErrNoStock             = errors.New("no stock available")
	ErrEligibilityNotFound = errors.New("eligibility not found")
	ErrWorkflowInProgress  = errors.New("a workflow is already in progress")
	ErrForgeRequestInvalid = errors.New("invalid forge request")
	ErrNoWallet            = errors.New("player has no active wallet")
	ErrReservationLost     = errors.New("catalog reservation no longer held by workflow")

	ErrEligibilityNeedsRemediation = errors.New("eligibility has an unresolved mint awaiting remediation")
)

// WorkflowInProgressError carries the id of the workflow that already holds
// the subject. errors.Is(err, ErrWorkflowInProgress) matches it.
type WorkflowInProgressError struct {
	WorkflowID string
}

func (e *WorkflowInProgressError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWorkflowInProgress, e.WorkflowID)
}

func (e *WorkflowInProgressError) Is(target error) bool {
	return target == ErrWorkflowInProgress
}

// RemediationPendingError names the failed mint that still holds the
// eligibility. errors.Is(err, ErrEligibilityNeedsRemediation) matches it.
type RemediationPendingError struct {
	WorkflowID string
}

func (e *RemediationPendingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrEligibilityNeedsRemediation, e.WorkflowID)
}

func (e *RemediationPendingError) Is(target error) bool {
	return target == ErrEligibilityNeedsRemediation
}

func invalidForge(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForgeRequestInvalid, fmt.Sprintf(format, args...))
}
