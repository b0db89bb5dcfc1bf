package aiconnectors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aideepspeak/internal/retry"
)

// ErrorKind classifies a connector failure for retry and scheduling policy
type ErrorKind int

const (
	// ErrTransient covers network faults, timeouts and rate limits; retryable
	ErrTransient ErrorKind = iota
	// ErrAuth covers rejected credentials; never retried
	ErrAuth
	// ErrInvalidResponse covers empty or malformed model output; retried up to the bound
	ErrInvalidResponse
	// ErrUnavailable covers providers or models that cannot serve at all; fatal for that provider
	ErrUnavailable
)

// String returns the reason label recorded in retry results and logs
func (k ErrorKind) String() string {
	switch k {
	case ErrTransient:
		return "transient"
	case ErrAuth:
		return "auth"
	case ErrInvalidResponse:
		return "invalid_response"
	case ErrUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ConnectorError wraps a provider failure with its classified kind
type ConnectorError struct {
	Kind     ErrorKind
	Provider Provider
	Err      error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("%s error from provider %s: %v", e.Kind, e.Provider, e.Err)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed
func (e *ConnectorError) Retryable() bool {
	return e.Kind == ErrTransient || e.Kind == ErrInvalidResponse
}

// Error markers that indicate rejected credentials
var authErrorMarkers = []string{
	"401",
	"403",
	"unauthorized",
	"invalid api key",
	"incorrect api key",
	"api key not valid",
	"invalid x-api-key",
	"authentication",
	"permission denied",
}

// Error markers that indicate the provider or model cannot serve at all
var unavailableErrorMarkers = []string{
	"404",
	"model not found",
	"no such model",
	"does not exist",
	"unsupported provider",
	"has been deprecated",
}

// Classify wraps a raw provider error as a ConnectorError. Already classified
// errors pass through unchanged. Auth markers win over transient ones because
// some providers phrase credential rejections as retryable-looking HTTP noise.
func Classify(provider Provider, err error) *ConnectorError {
	if err == nil {
		return nil
	}

	var connErr *ConnectorError
	if errors.As(err, &connErr) {
		return connErr
	}

	errStr := strings.ToLower(err.Error())

	for _, marker := range authErrorMarkers {
		if strings.Contains(errStr, marker) {
			return &ConnectorError{Kind: ErrAuth, Provider: provider, Err: err}
		}
	}

	if retry.IsRetryableError(err) {
		return &ConnectorError{Kind: ErrTransient, Provider: provider, Err: err}
	}

	for _, marker := range unavailableErrorMarkers {
		if strings.Contains(errStr, marker) {
			return &ConnectorError{Kind: ErrUnavailable, Provider: provider, Err: err}
		}
	}

	return &ConnectorError{Kind: ErrUnavailable, Provider: provider, Err: err}
}

// IsKind reports whether err carries the given connector error kind
func IsKind(err error, kind ErrorKind) bool {
	var connErr *ConnectorError
	if errors.As(err, &connErr) {
		return connErr.Kind == kind
	}
	return false
}

// RetryableError reports whether err is a connector error worth another attempt
func RetryableError(err error) bool {
	var connErr *ConnectorError
	if errors.As(err, &connErr) {
		return connErr.Retryable()
	}
	return false
}
