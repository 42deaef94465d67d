package driven

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across driven adapters and the application layer.
var (
	// ErrInvalidCredentials indicates the vendor rejected the configured
	// username/password. Terminal: callers must not retry automatically.
	ErrInvalidCredentials = errors.New("vendor rejected credentials")

	// ErrMachineNotFound indicates the vendor does not know the machine id.
	ErrMachineNotFound = errors.New("machine not found")

	// ErrMachineUnavailable indicates the machine cannot be started right
	// now (occupied, reserved, or out of order).
	ErrMachineUnavailable = errors.New("machine not available to start")

	// ErrInsufficientBalance indicates the selected card cannot cover the
	// cycle price.
	ErrInsufficientBalance = errors.New("insufficient card balance")

	// ErrNoSnapshot is returned by snapshot readers before the first
	// successful poll.
	ErrNoSnapshot = errors.New("no snapshot published yet")
)

// TransportError wraps transient HTTP-level failures: network errors,
// timeouts, and 5xx responses. Callers may retry with backoff.
type TransportError struct {
	Op     string
	Status int // 0 when the request never produced a response
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: vendor returned HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ThrottledError indicates the vendor rate-limited the request. RetryAfter
// carries the server's hint; callers must not attempt again before it
// elapses.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("vendor throttled request, retry after %s", e.RetryAfter)
}

// IsTransient reports whether err is worth retrying with backoff: transport
// failures and throttling, but never credential rejection or domain
// rejections.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var th *ThrottledError
	return errors.As(err, &th)
}
