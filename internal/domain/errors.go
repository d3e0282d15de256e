package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds surfaced by the pipeline.
var (
	ErrConfiguration        = errors.New("configuration error")
	ErrTransient            = errors.New("transient service error")
	ErrPermanent            = errors.New("permanent service error")
	ErrSingleFlightConflict = errors.New("run already in progress")
	ErrRunNotFound          = errors.New("run not found")
)

// Configuration builds an ErrConfiguration with a formatted detail.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Transient marks err as retryable.
func Transient(operation string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrTransient, operation)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransient, operation, err)
}

// Permanent marks err as not retryable.
func Permanent(operation string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrPermanent, operation)
	}
	return fmt.Errorf("%w: %s: %w", ErrPermanent, operation, err)
}

// IsTransient reports whether a failed call may be retried.
// Deadline errors count as transient because they come from per-call timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// ErrorKind names the class of err for persisted run errors.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrPermanent):
		return "permanent"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "unknown"
	}
}

// QuotaUnmetWarning reports a category whose minimum could not be reached.
// It is attached to the run, never returned as a failure.
type QuotaUnmetWarning struct {
	Category string `json:"category"`
	MinCount int    `json:"min_count"`
	Selected int    `json:"selected"`
}

func (w QuotaUnmetWarning) Error() string {
	return fmt.Sprintf("quota unmet for category %s: selected %d of minimum %d", w.Category, w.Selected, w.MinCount)
}
