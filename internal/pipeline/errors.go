// Package pipeline holds the error taxonomy the stages use to classify
// failures and the typed event bus they publish progress on. The stage
// orchestrator and its periodic jobs live in internal/orchestrator.
package pipeline

import "errors"

// TransientIOError wraps a failure that is expected to clear on retry: DB
// deadlocks, broker unavailability, HTTP 5xx from a collaborator.
type TransientIOError struct {
	Cause error
}

func (e *TransientIOError) Error() string { return "transient io error: " + e.Cause.Error() }
func (e *TransientIOError) Unwrap() error  { return e.Cause }

// ExtractError is a deterministic inability to parse raw input. Not retried;
// recorded on the RawListing's parse_errors field.
type ExtractError struct {
	Cause error
}

func (e *ExtractError) Error() string { return "extract error: " + e.Cause.Error() }
func (e *ExtractError) Unwrap() error  { return e.Cause }

// InvariantError signals a data-model contract violation (duplicate-pointer
// cycle, orphan raw listing, ...). Non-retryable; surfaces to operations.
type InvariantError struct {
	Cause error
}

func (e *InvariantError) Error() string { return "invariant violated: " + e.Cause.Error() }
func (e *InvariantError) Unwrap() error  { return e.Cause }

// InsufficientError signals comparables below the minimum sample size. Not a
// failure — a valid signal the Scorer handles by rejecting the listing when
// comparables are required, and otherwise by scoring it without market data,
// in which case it cannot reach approval.
type InsufficientError struct {
	Cause error
}

func (e *InsufficientError) Error() string { return "insufficient: " + e.Cause.Error() }
func (e *InsufficientError) Unwrap() error  { return e.Cause }

// ExternalServiceError is a failure from the LLM or notification collaborator.
// Recorded on the listing's Evaluation/Score; the pipeline continues with
// degraded output rather than aborting the stage.
type ExternalServiceError struct {
	Cause error
}

func (e *ExternalServiceError) Error() string { return "external service error: " + e.Cause.Error() }
func (e *ExternalServiceError) Unwrap() error  { return e.Cause }

// Retryable reports whether err should be retried with backoff, per the
// classification in spec §7: transient and external-service failures retry,
// extract/invariant failures do not.
func Retryable(err error) bool {
	var transient *TransientIOError
	var external *ExternalServiceError
	return errors.As(err, &transient) || errors.As(err, &external)
}

// Insufficient reports whether err represents the non-fatal "not enough
// market data" signal rather than a true failure.
func Insufficient(err error) bool {
	var ins *InsufficientError
	return errors.As(err, &ins)
}
