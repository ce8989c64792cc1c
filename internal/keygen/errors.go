package keygen

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when the account or product identifier is
// missing. Remote calls are never attempted in that state.
var ErrNotConfigured = errors.New("licensing server is not configured")

// ErrTokenRequired is returned by authenticated operations when no API token
// is configured. Key validation does not require a token; everything else does.
var ErrTokenRequired = errors.New("licensing API token is not configured")

// APIError is a terminal error response from the licensing server. It is not
// retryable; the request itself was understood and rejected.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("licensing server error %d (%s): %s", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("licensing server error %d: %s", e.StatusCode, e.Detail)
}

// ConnectionError wraps a transport-level failure (DNS, dial, TLS, timeout).
// Callers may retry; the revalidation path uses it to trigger grace-period
// fallback.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("licensing server unreachable: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a transport failure rather than a
// remote rejection.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
