package domain

import "errors"

// ErrorClass partitions handler failures for the queue dispatcher.
type ErrorClass int

const (
	// ClassRetryable failures get backoff and another attempt.
	ClassRetryable ErrorClass = iota
	// ClassTerminal failures fail the run immediately.
	ClassTerminal
)

// RetryableError marks an error as transient regardless of its cause.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so Classify treats it as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// TerminalError marks an error as permanent regardless of its cause.
type TerminalError struct{ Err error }

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so Classify treats it as permanent.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// Classify maps a handler error to a retry class. Explicit wrappers win;
// otherwise validation, auth, conflict, missing-row and quality-gate
// failures are permanent and everything else, including unexpected
// internal errors, retries within the attempt budget.
func Classify(err error) ErrorClass {
	var re *RetryableError
	if errors.As(err, &re) {
		return ClassRetryable
	}
	var te *TerminalError
	if errors.As(err, &te) {
		return ClassTerminal
	}
	switch {
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrNotAuthorized),
		errors.Is(err, ErrAuthFailed),
		errors.Is(err, ErrQualityBlocked),
		errors.Is(err, ErrConfigFatal):
		return ClassTerminal
	}
	return ClassRetryable
}
