package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying every failure the reconciler acts on.
// Wrap with %w so callers can classify with errors.Is.
var (
	// ErrAuthentication marks credential failures. Fatal, never retried.
	ErrAuthentication = errors.New("authentication failed")

	// ErrQuotaExceeded marks cloud quota exhaustion. Retryable with
	// backoff up to a bounded attempt count.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTransientNetwork marks transient network failures. Retryable.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrValidationTimeout marks a stage whose validation predicate never
	// passed within the retry budget. The stage is FAILED and surfaced to
	// the operator; not auto-retried.
	ErrValidationTimeout = errors.New("validation timed out")

	// ErrDependencyNotSatisfied marks an attempt to run a stage before
	// its dependencies were validated. An ordering bug; fatal.
	ErrDependencyNotSatisfied = errors.New("stage dependency not satisfied")

	// ErrStateCorrupted marks a plan store record that failed integrity
	// checks. Fatal; requires manual intervention, never silently repaired.
	ErrStateCorrupted = errors.New("deployment state corrupted")

	// ErrInvalidSpec marks a deployment spec that failed validation. Fatal.
	ErrInvalidSpec = errors.New("invalid deployment spec")
)

// Recoverable reports whether an error is eligible for a reconciler-level
// retry of the run.
func Recoverable(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrTransientNetwork)
}

// Fatal reports whether an error must abort immediately with no retry.
func Fatal(err error) bool {
	return errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrDependencyNotSatisfied) ||
		errors.Is(err, ErrStateCorrupted) ||
		errors.Is(err, ErrInvalidSpec)
}

// Authentication wraps err as an authentication failure
func Authentication(err error) error {
	return fmt.Errorf("%w: %w", ErrAuthentication, err)
}

// QuotaExceeded wraps err as a quota failure
func QuotaExceeded(err error) error {
	return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
}

// TransientNetwork wraps err as a transient network failure
func TransientNetwork(err error) error {
	return fmt.Errorf("%w: %w", ErrTransientNetwork, err)
}

// StateCorrupted wraps err as a state corruption failure
func StateCorrupted(err error) error {
	return fmt.Errorf("%w: %w", ErrStateCorrupted, err)
}

// StageError annotates an underlying error with the stage and attempt
// count it occurred in. The stage runner wraps every error it propagates
// to the reconciler.
type StageError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (attempt %d): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// WithStage wraps err with stage context, preserving classification
func WithStage(stage string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Attempts: attempts, Err: err}
}
