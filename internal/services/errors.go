package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	// ErrRejected marks a request the backend refused for a reason that will
	// not change on retry (4xx other than 404/408/409/429).
	ErrRejected = errors.New("rejected by backend")
	// ErrConflict marks a write that collided with an existing row.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized marks a missing or expired session.
	ErrUnauthorized = errors.New("unauthorized")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether repeating the failed operation later can succeed.
// Unmarked errors are treated as retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrRejected),
		errors.Is(err, ErrUnauthorized):
		return false
	default:
		return true
	}
}

// Hint returns a short operator-facing suggestion for the error class.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "log in again with 'linesync login'"
	case errors.Is(err, ErrConfiguration):
		return "check backend.url and backend.api_key"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrRejected):
		return "inspect the record with 'linesync queue list' and remove or fix it"
	case errors.Is(err, ErrNotFound):
		return "verify the table and bucket names in the config"
	default:
		return "will retry on next flush"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{component, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
