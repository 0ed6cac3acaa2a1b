package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrCircleNotFound is returned when a circle id does not resolve
	ErrCircleNotFound = errors.New("circle not found")
	// ErrFunctionNotFound is returned when a function id does not resolve
	ErrFunctionNotFound = errors.New("function not found")
	// ErrNoDefaultCircle is returned when a program has no DEFAULT circle to
	// attach a new promoter to
	ErrNoDefaultCircle = errors.New("program has no default circle")
	// ErrInvalidFunction is returned for functions whose configuration cannot
	// be evaluated
	ErrInvalidFunction = errors.New("invalid function")
	// ErrInvalidEvent is returned when a trigger event fails validation
	ErrInvalidEvent = errors.New("invalid trigger event")
	// ErrDuplicateEvent marks an already-processed source event. Evaluate
	// never returns it; it returns the stored outcome instead.
	ErrDuplicateEvent = errors.New("event already processed")
	// ErrDuplicateCommission is returned by stores when the
	// (source event, function) pair already has a commission
	ErrDuplicateCommission = errors.New("commission already exists for event and function")
	// ErrAlreadyExists is returned when creating a record whose id is taken
	ErrAlreadyExists = errors.New("already exists")
	// ErrCircleInUse is returned when deleting a circle that is still referenced
	ErrCircleInUse = errors.New("circle is referenced")
	// ErrTransient is wrapped by stores around retryable persistence failures
	ErrTransient = errors.New("transient persistence failure")
)

// InvalidConditionError reports a condition whose operator or value violates
// its parameter's contract.
type InvalidConditionError struct {
	Parameter Parameter
	Operator  Operator
	Reason    string
}

func (e *InvalidConditionError) Error() string {
	return fmt.Sprintf("invalid condition %s %s: %s", e.Parameter, e.Operator, e.Reason)
}

// InvalidTargetCircleError reports a switch effect pointing at a missing
// circle or one owned by another program.
type InvalidTargetCircleError struct {
	TargetCircleID string
	ProgramID      string
	Reason         string
}

func (e *InvalidTargetCircleError) Error() string {
	return fmt.Sprintf("invalid target circle %q for program %q: %s", e.TargetCircleID, e.ProgramID, e.Reason)
}

// EvaluationFailedError wraps any failure of the match-execute-persist
// sequence. Nothing from the failed evaluation is visible.
type EvaluationFailedError struct {
	SourceEventID string
	Transient     bool
	Err           error
}

func (e *EvaluationFailedError) Error() string {
	return fmt.Sprintf("evaluation of event %q failed: %v", e.SourceEventID, e.Err)
}

func (e *EvaluationFailedError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable persistence failure
func IsTransient(err error) bool {
	var failed *EvaluationFailedError
	if errors.As(err, &failed) {
		return failed.Transient
	}
	return errors.Is(err, ErrTransient)
}
