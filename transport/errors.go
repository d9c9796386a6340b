package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyEnvelope is returned when an invoke result carries no return value.
var ErrEmptyEnvelope = errors.New("transport: empty response envelope")

// ErrRemote is returned by Bus implementations when the remote method ran and
// rejected the call. Any other Invoke error is treated as a transport failure.
type ErrRemote struct {
	Method  string
	Message string
}

func (e *ErrRemote) Error() string {
	return fmt.Sprintf("transport: %s rejected: %s", e.Method, e.Message)
}

// ErrMethodUnavailable is returned when a method was not advertised within
// the readiness wait.
type ErrMethodUnavailable struct {
	Method string
	Waited time.Duration
}

func (e *ErrMethodUnavailable) Error() string {
	return fmt.Sprintf("transport: method %s not available after %s", e.Method, e.Waited)
}

// ErrTimeout is returned when an invoke exceeds the call timeout.
type ErrTimeout struct {
	Method string
	After  time.Duration
	Cause  error
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("transport: %s timed out after %s", e.Method, e.After)
}

func (e *ErrTimeout) Unwrap() error { return e.Cause }

// ErrStreamClosed is returned when operating on a closed stream.
var ErrStreamClosed = errors.New("transport: stream closed")
