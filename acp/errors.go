package acp

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoActiveSession is returned when a turn or switch is requested
	// before session/new has succeeded.
	ErrNoActiveSession = errors.New("no active session")

	// ErrTurnInProgress is returned when a turn is requested while another
	// turn is running. Turns are never queued.
	ErrTurnInProgress = errors.New("turn already in progress")

	// ErrNoTurnInProgress is returned by Cancel when nothing is running.
	ErrNoTurnInProgress = errors.New("no turn in progress")

	// ErrInvalidState is returned for invalid state transitions.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrSessionClosed is returned once the session is Closing or Closed.
	ErrSessionClosed = errors.New("session is closed")

	// ErrTransportClosed is returned for requests that were pending when
	// the agent process went away.
	ErrTransportClosed = errors.New("transport closed")

	// ErrNoPendingPermission is returned by RespondPermission when no
	// permission prompt is outstanding.
	ErrNoPendingPermission = errors.New("no pending permission request")

	// ErrAuthRequired is returned when the agent insists on authentication
	// before creating a session.
	ErrAuthRequired = errors.New("authentication required")

	// ErrUnknownAuthMethod is returned when authenticating with a method id
	// the agent did not advertise.
	ErrUnknownAuthMethod = errors.New("unknown auth method")

	// ErrAgentUnresponsive is returned when the agent did not end a
	// cancelled turn in time and the session was forced closed.
	ErrAgentUnresponsive = errors.New("agent did not acknowledge cancellation")
)

// RPCError represents a JSON-RPC error from the agent.
type RPCError struct {
	Message string
	Code    int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ProcessError represents an error with the agent subprocess.
type ProcessError struct {
	Cause    error
	Message  string
	ExitCode int
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.ExitCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// ProtocolError represents a malformed or unexpected message.
type ProtocolError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// DecodingError is returned when a closed enumeration or tagged union meets
// a value it does not know.
type DecodingError struct {
	Field string
	Value string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("unrecognized %s %q", e.Field, e.Value)
}

// AuthError is returned when the agent rejects an authentication attempt.
type AuthError struct {
	Cause    error
	MethodID string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication with %q rejected: %v", e.MethodID, e.Cause)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}
