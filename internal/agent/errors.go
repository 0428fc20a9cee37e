// ABOUTME: Error taxonomy for the agent pool: sentinels plus transport and persistence wrappers
// ABOUTME: Callers classify failures with errors.Is and errors.As

package agent

import (
	"errors"
	"fmt"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
)

var (
	// ErrNotFound indicates the agent id is not in the pool or the store.
	ErrNotFound = errors.New("agent not found")

	// ErrUnsupported indicates a tool or auth call the credential variant cannot serve.
	ErrUnsupported = errors.New("not supported by this agent type")

	// ErrConfiguration indicates missing environment or transport configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotRunning indicates a tool was called on an agent that is not running.
	ErrNotRunning = errors.New("agent is not running")

	// ErrUnknownTool indicates the tool name is not recognized.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArgument indicates a malformed request to the pool.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAuthNotStarted indicates AuthSubmit was called without a pending AuthStart.
	ErrAuthNotStarted = errors.New("auth not started")

	// Re-exported so callers of this package need not import store or transport.
	ErrInvalidCredentials = store.ErrInvalidCredentials
	ErrInvalidBehavior    = store.ErrInvalidBehavior
	ErrPasswordRequired   = transport.ErrPasswordRequired
)

// errNeedsAuth is returned by a session credential whose stored session is not authorized.
var errNeedsAuth = errors.New("session is not authorized, complete interactive auth")

// TransportError wraps a failure reported by the transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure reported by the store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// persistErr wraps err, translating store.ErrNotFound to ErrNotFound.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return &PersistenceError{Op: op, Err: err}
}
