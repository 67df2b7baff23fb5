package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrBrokerUnavailable is returned when the shared store cannot be reached or is not configured
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrJobNotFound is returned when a job cannot be found in its queue
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownKind is returned for a job kind that is not in the catalog
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrRateLimited is returned by a claim when the kind's rate window is exhausted
	ErrRateLimited = errors.New("rate limit reached")

	// ErrLeaseLost is returned when a worker reports on a job it no longer holds
	ErrLeaseLost = errors.New("job lease lost")

	// ErrTimeout is returned when an external capability call exceeds its deadline
	ErrTimeout = errors.New("capability call timed out")

	// ErrBatchNotFound is returned when no progress record exists for a batch
	ErrBatchNotFound = errors.New("batch not found")

	// ErrCreatorNotFound is returned when no progress record exists for a creator
	ErrCreatorNotFound = errors.New("creator not found")

	// ErrInvalidStatus is returned for a status value outside the allowed set
	ErrInvalidStatus = errors.New("invalid status")
)

// ValidationError reports a malformed job payload. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

// NewValidationError creates a new validation error
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// CapabilityError wraps a failure of an external analysis or scrape call
type CapabilityError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s failed: %v", e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// NewCapabilityError creates a retryable capability error
func NewCapabilityError(op string, err error) error {
	return &CapabilityError{Op: op, Err: err, Retryable: true}
}

// NewPermanentCapabilityError creates a capability error that must not be retried,
// e.g. the provider rejected the media outright.
func NewPermanentCapabilityError(op string, err error) error {
	return &CapabilityError{Op: op, Err: err, Retryable: false}
}

// IsRetryable reports whether a handler error should send the job back to the queue
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}

	var capabilityErr *CapabilityError
	if errors.As(err, &capabilityErr) {
		return capabilityErr.Retryable
	}

	// a coordinate job that lost the broker has already failed its batch
	if errors.Is(err, ErrBrokerUnavailable) {
		return false
	}

	if errors.Is(err, ErrTimeout) {
		return true
	}

	// Unknown handler errors are treated as transient
	return !errors.Is(err, ErrUnknownKind)
}

// BulkError names the jobs of a bulk admission that were not submitted
type BulkError struct {
	Failed map[string]error
}

func (e *BulkError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("bulk enqueue failed for %d job(s): %s", len(ids), strings.Join(ids, ", "))
}

func (e *BulkError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}
