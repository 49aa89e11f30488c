package sandbox

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoActiveSandbox is returned by operations that need a live sandbox
// when none exists. The message is the instruction shown to callers.
var ErrNoActiveSandbox = errors.New("no active sandbox, call CreateSandbox first")

// ErrNotFound marks a file or sandbox the provider reports as missing,
// as opposed to a transport failure. Match with errors.Is.
var ErrNotFound = errors.New("not found")

// TimeoutError reports a client-side deadline breach. It is distinct from
// provider/transport errors so callers can tell "the command is slow" from
// "the sandbox is unreachable".
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %dms", e.After.Milliseconds())
}

// IsTimeout reports whether err is (or wraps) a client-side timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// APIError is a non-success response from a sandbox provider. The status
// and raw body are preserved for diagnostics.
type APIError struct {
	Op     string // operation that failed, e.g. "create sandbox"
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: provider returned %d: %s", e.Op, e.Status, e.Body)
}
