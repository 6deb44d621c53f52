package sterbox

import (
	"errors"
	"fmt"
)

// Domain errors for the Sterbox bridge package.
var (
	// ErrAuthenticationFailed is returned when the device rejects or never
	// answers the authentication request.
	ErrAuthenticationFailed = errors.New("sterbox: authentication failed")

	// ErrConnectionFailed wraps transport-level failures of a device request.
	ErrConnectionFailed = errors.New("sterbox: connection to device failed")

	// ErrRetriesExhausted is returned by the transport when a request kept
	// failing with a server error after every retry.
	ErrRetriesExhausted = errors.New("sterbox: server error retries exhausted")

	// ErrProtocolMismatch is returned when the number of response tokens
	// differs from the number of variables in the section.
	ErrProtocolMismatch = errors.New("sterbox: response does not match section")

	// ErrValueFault is returned for a single variable that reported the
	// error sentinel or an unparsable number.
	ErrValueFault = errors.New("sterbox: value fault")
)

// ValueFaultError describes one failed variable reading.
type ValueFaultError struct {
	Variable string
	Token    string

	// Attempt is the variable's consecutive failure count including this one.
	Attempt int

	// MaxRetries is the soft retry window.
	MaxRetries int

	// Cause is the parse error, nil for the device error sentinel.
	Cause error
}

// Suppressed reports whether the variable is past its soft retry window.
func (e *ValueFaultError) Suppressed() bool {
	return e.Attempt > e.MaxRetries
}

func (e *ValueFaultError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sterbox: value fault for %s (%q): %v, attempt %d of %d", e.Variable, e.Token, e.Cause, e.Attempt, e.MaxRetries)
	}
	return fmt.Sprintf("sterbox: value fault for %s (%q), attempt %d of %d", e.Variable, e.Token, e.Attempt, e.MaxRetries)
}

// Unwrap lets errors.Is match ErrValueFault.
func (e *ValueFaultError) Unwrap() error {
	return ErrValueFault
}
