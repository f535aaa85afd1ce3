package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const maxDiagnosticChars = 512

// BackendError represents a failed call: a non-success HTTP status, a
// process exit with no usable output, or an error the backend itself
// reported in an otherwise well-formed response.
type BackendError struct {
	Provider   string
	StatusCode int    // HTTP status or process exit code, 0 when not applicable
	Message    string // truncated diagnostic text
	Reported   bool   // true when the backend flagged the result as an error
}

func (e *BackendError) Error() string {
	if e.Reported {
		return fmt.Sprintf("%s: backend reported error: %s", e.Provider, e.Message)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend error %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: backend error: %s", e.Provider, e.Message)
}

func newBackendError(provider string, status int, body string) *BackendError {
	return &BackendError{Provider: provider, StatusCode: status, Message: truncateDiagnostic(body)}
}

func newReportedError(provider string, code int, message string) *BackendError {
	return &BackendError{Provider: provider, StatusCode: code, Message: truncateDiagnostic(message), Reported: true}
}

// TimeoutError is a distinct error kind so callers can decide to retry with
// a different provider.
type TimeoutError struct {
	Provider string
	Op       string
	Limit    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out after %s", e.Provider, e.Op, e.Limit)
}

// IsTimeout reports whether err is (or wraps) a provider timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// wrapCallError maps a failed call to the taxonomy: deadline expiry becomes
// a TimeoutError, everything else a BackendError with truncated diagnostics.
func wrapCallError(ctx context.Context, provider, op string, limit time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider, Op: op, Limit: limit}
	}
	return newBackendError(provider, 0, err.Error())
}

func truncateDiagnostic(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDiagnosticChars {
		return s
	}
	return string(runes[:maxDiagnosticChars]) + "..."
}
