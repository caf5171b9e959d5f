package job

import "errors"

var (
	// ErrJobNotFound is returned when a job id cannot be resolved.
	ErrJobNotFound = errors.New("job not found")

	// ErrDatasetNotFound is returned when a dataset reference cannot be
	// resolved for the requester. The core fails closed on it.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrInvalidState is returned when an operation requires a status the
	// job is not in (cancel on non-PROCESSING, result on non-COMPLETED).
	ErrInvalidState = errors.New("job is not in a valid state for this operation")

	// ErrJobAlreadyClaimed is returned when a worker attempts to claim a
	// job that is no longer PENDING.
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in PENDING status")

	// ErrUnsupportedFormat marks a conversion target the system cannot
	// produce. Never retried.
	ErrUnsupportedFormat = errors.New("unsupported target format")
)

// ValidationError rejects a malformed submission before any job row exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a submission validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError wraps an execution failure that is worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}
