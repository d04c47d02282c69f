package happyeyeballs

import (
	"errors"
	"fmt"

	"github.com/PayRpc/happyeyeballs/internal/netx"
)

// ErrNoAddresses is returned when name resolution produced an empty
// endpoint list. It is netx.ErrNoAddresses re-exported at the public API
// boundary, reachable via errors.Is against the *ResolutionError returned
// from a failed CreateConnection call.
var ErrNoAddresses = netx.ErrNoAddresses

// ErrRaceTimeout is returned when the race's overall deadline elapsed
// before any attempt connected.
var ErrRaceTimeout = errors.New("happyeyeballs: connection race timed out")

// ErrAllAttemptsFailed is returned when every endpoint in the race was
// tried and none connected. Use errors.Unwrap to reach the last
// underlying OS error.
var ErrAllAttemptsFailed = errors.New("happyeyeballs: all connection attempts failed")

// AggregateConnectError is the error returned to the caller when a race
// exhausts every candidate endpoint without connecting. It carries the
// last attempt error encountered, in resolver order.
type AggregateConnectError struct {
	// Host and Port identify the destination that was being dialed.
	Host string
	Port int
	// Attempts is the number of candidate endpoints the race was given.
	// When the race ended early (a zero timeout or a canceled context),
	// not every one of them was necessarily tried. It is zero for the
	// error returned by an open circuit breaker.
	Attempts int
	// Last is the error from the most recently failed attempt.
	Last error
}

func (e *AggregateConnectError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("happyeyeballs: connect to %s:%d failed after %d attempts", e.Host, e.Port, e.Attempts)
	}
	return fmt.Sprintf("happyeyeballs: connect to %s:%d failed after %d attempts: %v", e.Host, e.Port, e.Attempts, e.Last)
}

func (e *AggregateConnectError) Unwrap() error {
	if e.Last != nil {
		return e.Last
	}
	return ErrAllAttemptsFailed
}

// Is reports whether target is ErrAllAttemptsFailed, so callers can use
// errors.Is(err, ErrAllAttemptsFailed) without caring about the Last payload.
func (e *AggregateConnectError) Is(target error) bool {
	return target == ErrAllAttemptsFailed
}

// ResolutionError wraps a failure from the name resolver.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("happyeyeballs: resolve %q: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
