package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a condition that ended a batch or a cycle early.
//
// Runtime errors include:
//   - Source unavailable: the table could not be read
//   - Throttled: the platform asked us to back off
//   - Group invalid: the group reference stayed invalid after a refresh
//   - Too many errors: unexpected per-record failures tripped the breaker
//   - Cycle panic: a cycle panicked and was recovered
//
// None of them stop the poll loop; the next cycle retries.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Stage is the status filter of the batch that was running.
	Stage string

	// Message is a human-readable description.
	Message string

	// Cycle is the correlation token of the affected cycle.
	Cycle string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeSourceUnavailable indicates the table read or write failed.
	ErrCodeSourceUnavailable RuntimeErrorCode = "SOURCE_UNAVAILABLE"

	// ErrCodeThrottled indicates flood control aborted the batch.
	ErrCodeThrottled RuntimeErrorCode = "THROTTLED"

	// ErrCodeGroupInvalid indicates the group could not be re-resolved.
	ErrCodeGroupInvalid RuntimeErrorCode = "GROUP_INVALID"

	// ErrCodeTooManyErrors indicates the per-batch error breaker tripped.
	ErrCodeTooManyErrors RuntimeErrorCode = "TOO_MANY_ERRORS"

	// ErrCodeCyclePanic indicates a recovered panic.
	ErrCodeCyclePanic RuntimeErrorCode = "CYCLE_PANIC"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Stage != "" {
		msg += fmt.Sprintf(" (stage=%s)", e.Stage)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsThrottled reports whether err is a flood-control abort.
func IsThrottled(err error) bool { return hasCode(err, ErrCodeThrottled) }

// IsGroupInvalid reports whether err is a group-invalid abort.
func IsGroupInvalid(err error) bool { return hasCode(err, ErrCodeGroupInvalid) }

// IsSourceUnavailable reports whether err is a table failure.
func IsSourceUnavailable(err error) bool { return hasCode(err, ErrCodeSourceUnavailable) }

// IsTooManyErrors reports whether err is a breaker abort.
func IsTooManyErrors(err error) bool { return hasCode(err, ErrCodeTooManyErrors) }

// IsCyclePanic reports whether err is a recovered panic.
func IsCyclePanic(err error) bool { return hasCode(err, ErrCodeCyclePanic) }

func newSourceError(stage, op string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeSourceUnavailable,
		Stage:   stage,
		Message: op + " failed",
		Details: map[string]string{"op": op},
		Err:     err,
	}
}

func newThrottledError(stage, recordID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeThrottled,
		Stage:   stage,
		Message: "flood control, batch aborted",
		Details: map[string]string{"record_id": recordID},
		Err:     err,
	}
}

func newGroupInvalidError(stage, recordID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeGroupInvalid,
		Stage:   stage,
		Message: "group reference invalid after refresh, batch aborted",
		Details: map[string]string{"record_id": recordID},
		Err:     err,
	}
}

func newTooManyErrors(stage string, count, max int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeTooManyErrors,
		Stage:   stage,
		Message: fmt.Sprintf("%d unexpected errors (max %d), batch aborted", count, max),
		Details: map[string]string{
			"errors":     fmt.Sprintf("%d", count),
			"max_errors": fmt.Sprintf("%d", max),
		},
	}
}

func newPanicError(v any) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCyclePanic,
		Message: fmt.Sprintf("recovered: %v", v),
	}
}
