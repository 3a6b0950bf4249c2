package workflow

import (
	"errors"
	"fmt"

	"nft-reward-system/models"
)

var (
	ErrNotFound         = errors.New("workflow instance not found")
	ErrInstanceBusy     = errors.New("workflow instance is being advanced by another worker")
	ErrCancelNotAllowed = errors.New("workflow has passed its point of no return")
	ErrAlreadyTerminal  = errors.New("workflow instance already finished")
	ErrUnknownType      = errors.New("no definition registered for workflow type")
	ErrCheckpointLost   = errors.New("workflow instance changed while the step ran")

	// ErrPending is returned by a poll-step whose external event has not
	// happened yet. The engine re-invokes the step after the poll interval.
	ErrPending = errors.New("step pending")
)

// ErrorClass tells the engine whether a step failure may be retried.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassTerminal
)

func (c ErrorClass) String() string {
	if c == ClassTerminal {
		return "terminal"
	}
	return "transient"
}

// StepError is how a step classifies its own failure. The engine never
// inspects the wrapped error beyond this classification.
type StepError struct {
	Class    ErrorClass
	Category models.FailureCategory
	Err      error
}

func (e *StepError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("%s %s: %v", e.Class, e.Category, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Terminal marks err as non-retryable with the given failure category.
func Terminal(category models.FailureCategory, err error) error {
	return &StepError{Class: ClassTerminal, Category: category, Err: err}
}

// Transient marks err as retryable.
func Transient(err error) error {
	return &StepError{Class: ClassTransient, Category: models.FailureInfrastructure, Err: err}
}

// Classify returns the class and category of a step error. Unclassified
// errors are transient infrastructure failures.
func Classify(err error) (ErrorClass, models.FailureCategory) {
	var se *StepError
	if errors.As(err, &se) {
		cat := se.Category
		if cat == "" {
			if se.Class == ClassTerminal {
				cat = models.FailureBusinessRule
			} else {
				cat = models.FailureInfrastructure
			}
		}
		return se.Class, cat
	}
	return ClassTransient, models.FailureInfrastructure
}

// IsTerminal reports whether err is classified as terminal.
func IsTerminal(err error) bool {
	class, _ := Classify(err)
	return class == ClassTerminal
}

// Message returns the innermost message of a step error, without the
// class prefix added by StepError.
func Message(err error) string {
	var se *StepError
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}
