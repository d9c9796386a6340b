package contract

import (
	"encoding/json"
	"fmt"
)

// Direction tells which side of a call failed validation.
type Direction string

const (
	DirectionArguments Direction = "arguments"
	DirectionResult    Direction = "result"
	DirectionEvent     Direction = "event"
)

// ValidationError is returned when operation arguments, an operation result
// or a stream event does not match its schema. Argument failures are raised
// before anything is transmitted.
type ValidationError struct {
	Op        string
	Direction Direction
	Cause     error
}

func (e *ValidationError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("workspaces: invalid %s: %v", e.Direction, e.Cause)
	}
	return fmt.Sprintf("workspaces: %s: invalid %s: %v", e.Op, e.Direction, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// RemoteOperationError is returned when the authority explicitly rejects an
// operation. Message is passed through verbatim.
type RemoteOperationError struct {
	Op      string
	Args    json.RawMessage
	Message string
}

func (e *RemoteOperationError) Error() string {
	return fmt.Sprintf("workspaces: %s rejected: %s", e.Op, e.Message)
}

// RemoteCommunicationError is returned when the bus could not carry a call:
// the control method never became available, the call timed out, or the
// response envelope was empty or malformed.
type RemoteCommunicationError struct {
	Op    string
	Args  json.RawMessage
	Cause error
}

func (e *RemoteCommunicationError) Error() string {
	if len(e.Args) > 0 {
		return fmt.Sprintf("workspaces: %s failed (args %s): %v", e.Op, e.Args, e.Cause)
	}
	return fmt.Sprintf("workspaces: %s failed: %v", e.Op, e.Cause)
}

func (e *RemoteCommunicationError) Unwrap() error { return e.Cause }

// ProgrammingError reports a disallowed call pattern detected locally,
// without any remote call.
type ProgrammingError struct {
	Message string
}

func (e *ProgrammingError) Error() string {
	return "workspaces: " + e.Message
}

// Programming builds a ProgrammingError from a format string.
func Programming(format string, args ...any) error {
	return &ProgrammingError{Message: fmt.Sprintf(format, args...)}
}

// UnsupportedError is returned when the connected host does not serve an
// operation, e.g. frame state changes on hosts without window state control.
type UnsupportedError struct {
	Op         string
	Capability string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("workspaces: the host does not support %s (operation %s)", e.Capability, e.Op)
}
