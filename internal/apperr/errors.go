// Package apperr defines the error kinds surfaced by the ledger and how
// they map onto HTTP responses.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Callers wrap them with fmt.Errorf("...: %w", kind) so the
// offending value travels with the kind.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrRuleViolation       = errors.New("rule violation")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("conflict")
	ErrStorageFailure      = errors.New("storage failure")
	ErrInvalidRequest      = errors.New("invalid request")
)

// Storage wraps a backend error as a retryable storage failure. Errors that
// already carry a ledger kind are returned unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsKnown(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: timed out: %w", op, ErrStorageFailure)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageFailure, err)
}

// Invalid builds an ErrInvalidRequest carrying a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// IsKnown reports whether err already belongs to one of the ledger kinds.
func IsKnown(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// Retryable reports whether the caller may resubmit unchanged.
func Retryable(err error) bool { return errors.Is(err, ErrStorageFailure) }

var kinds = []error{
	ErrUnauthorized,
	ErrNotFound,
	ErrRuleViolation,
	ErrInsufficientBalance,
	ErrConflict,
	ErrStorageFailure,
	ErrInvalidRequest,
}

// HTTPStatus maps an error onto the status code returned to API clients.
// Validation-kind errors (including unknown tokens) are 400s.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrStorageFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrRuleViolation),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
