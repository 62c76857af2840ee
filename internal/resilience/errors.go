package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError marks a geocoding failure that may succeed on a later
// attempt. StatusCode is 0 for transport failures.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// ExhaustedError is returned by DoVal when every attempt failed with a
// retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err came from a retry loop that ran out of attempts.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// transientMessages are substrings of transport failures that resolve on
// their own: dropped connections, DNS hiccups and handshake timeouts.
var transientMessages = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"i/o timeout",
	"handshake timeout",
	"server closed idle connection",
}

// IsTransient reports whether a geocoding request that failed with err is
// worth repeating.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.As(err, new(*TransientError)):
		return true
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code means the
// geocoding service is temporarily unavailable or timed out. Rate limiting
// and quota statuses are not transient: retrying them burns quota.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
