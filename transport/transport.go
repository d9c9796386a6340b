// Package transport wraps an application-interop bus. The Bus interface is
// the only thing the engine needs from a bus implementation: RPC invoke,
// stream subscription and method readiness probing. Transport adds the
// engine's calling convention on top: every workspace operation travels
// through one control method, waits a bounded time for that method to be
// advertised, and is cut off by a per-call timeout.
//
//	tr := transport.New(bus, transport.WithCallTimeout(10*time.Second))
//	raw, err := tr.Send(ctx, "getWorkspaceSnapshot", args)
//
// No call is ever retried; callers own retry policy.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hazyhaar/workspaces/contract"
)

// DefaultControlMethod is the bus method every operation is invoked through.
const DefaultControlMethod = "Workspaces.Control"

// InvokeOptions tune a single invoke.
type InvokeOptions struct {
	Timeout time.Duration
}

// ReturnValue is one server's answer inside an invoke result.
type ReturnValue struct {
	Returned json.RawMessage `json:"returned"`
	Executor string          `json:"executor,omitempty"`
}

// InvokeResult is the bus-level response envelope.
type InvokeResult struct {
	Method          string        `json:"method,omitempty"`
	AllReturnValues []ReturnValue `json:"all_return_values"`
}

// MethodInfo describes a method advertised on the bus. Operations, when not
// empty, lists the catalog operations a control method serves; an empty
// list means the host serves the whole catalog.
type MethodInfo struct {
	Name       string   `json:"name"`
	Operations []string `json:"operations,omitempty"`
}

// Stream is an open remote subscription.
type Stream interface {
	// OnData registers the handler receiving raw stream messages. Only one
	// handler is kept; a later call replaces the earlier one.
	OnData(func(data []byte))
	Close() error
}

// Bus is the interop bus consumed by the engine.
type Bus interface {
	Invoke(ctx context.Context, method string, args json.RawMessage, opts InvokeOptions) (*InvokeResult, error)
	Subscribe(ctx context.Context, stream string, args json.RawMessage) (Stream, error)
	Methods() []MethodInfo
	MethodAdded(func(MethodInfo)) (unsubscribe func())
}

// ControlArgs is the argument envelope of the control method.
type ControlArgs struct {
	Operation          string          `json:"operation"`
	OperationArguments json.RawMessage `json:"operationArguments,omitempty"`
}

// Transport sends catalog operations over a Bus.
type Transport struct {
	bus           Bus
	controlMethod string
	methodWait    time.Duration
	callTimeout   time.Duration
	logger        *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithControlMethod overrides DefaultControlMethod.
func WithControlMethod(name string) Option {
	return func(t *Transport) { t.controlMethod = name }
}

// WithMethodWait bounds how long Send waits for the control method to be
// advertised. Default: 5s.
func WithMethodWait(d time.Duration) Option {
	return func(t *Transport) { t.methodWait = d }
}

// WithCallTimeout bounds each invoke. Default: 30s.
func WithCallTimeout(d time.Duration) Option {
	return func(t *Transport) { t.callTimeout = d }
}

// New creates a Transport over bus.
func New(bus Bus, opts ...Option) *Transport {
	t := &Transport{
		bus:           bus,
		controlMethod: DefaultControlMethod,
		methodWait:    5 * time.Second,
		callTimeout:   30 * time.Second,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Bus returns the wrapped bus.
func (t *Transport) Bus() Bus { return t.bus }

// Send invokes op through the control method and returns the first returned
// value. A remote rejection surfaces as *contract.RemoteOperationError, any
// other failure as *contract.RemoteCommunicationError.
func (t *Transport) Send(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	if err := t.WaitForMethod(ctx, t.controlMethod); err != nil {
		return nil, &contract.RemoteCommunicationError{Op: op, Args: args, Cause: err}
	}

	payload, err := json.Marshal(ControlArgs{Operation: op, OperationArguments: args})
	if err != nil {
		return nil, &contract.RemoteCommunicationError{Op: op, Args: args, Cause: err}
	}

	if t.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.callTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := t.bus.Invoke(ctx, t.controlMethod, payload, InvokeOptions{Timeout: t.callTimeout})
	dur := time.Since(start)
	if err != nil {
		var remote *ErrRemote
		if errors.As(err, &remote) {
			t.logger.DebugContext(ctx, "transport: operation rejected",
				"op", op, "duration_ms", dur.Milliseconds(), "message", remote.Message)
			return nil, &contract.RemoteOperationError{Op: op, Args: args, Message: remote.Message}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &ErrTimeout{Method: t.controlMethod, After: t.callTimeout, Cause: err}
		}
		t.logger.WarnContext(ctx, "transport: invoke failed",
			"op", op, "duration_ms", dur.Milliseconds(), "error", err)
		return nil, &contract.RemoteCommunicationError{Op: op, Args: args, Cause: err}
	}
	if res == nil || len(res.AllReturnValues) == 0 {
		return nil, &contract.RemoteCommunicationError{Op: op, Args: args, Cause: ErrEmptyEnvelope}
	}

	t.logger.DebugContext(ctx, "transport: operation ok",
		"op", op, "duration_ms", dur.Milliseconds(), "response_bytes", len(res.AllReturnValues[0].Returned))
	return res.AllReturnValues[0].Returned, nil
}

// Subscribe opens stream with args marshalled to JSON. Streams have no
// timeout; they live until closed.
func (t *Transport) Subscribe(ctx context.Context, stream string, args any) (Stream, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal stream args: %w", err)
	}
	s, err := t.bus.Subscribe(ctx, stream, raw)
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe %s: %w", stream, err)
	}
	return s, nil
}

// Supports reports whether the control method serves op. Unknown until the
// method is advertised, in which case it answers true.
func (t *Transport) Supports(op string) bool {
	for _, m := range t.bus.Methods() {
		if m.Name != t.controlMethod {
			continue
		}
		return len(m.Operations) == 0 || slices.Contains(m.Operations, op)
	}
	return true
}

// WaitForMethod blocks until name is advertised on the bus, the method wait
// expires, or ctx is done.
func (t *Transport) WaitForMethod(ctx context.Context, name string) error {
	if t.hasMethod(name) {
		return nil
	}

	added := make(chan struct{}, 1)
	unsubscribe := t.bus.MethodAdded(func(m MethodInfo) {
		if m.Name != name {
			return
		}
		select {
		case added <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// The method may have appeared between the first check and MethodAdded.
	if t.hasMethod(name) {
		return nil
	}

	t.logger.DebugContext(ctx, "transport: waiting for method", "method", name, "wait", t.methodWait)
	timer := time.NewTimer(t.methodWait)
	defer timer.Stop()
	select {
	case <-added:
		return nil
	case <-timer.C:
		return &ErrMethodUnavailable{Method: name, Waited: t.methodWait}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) hasMethod(name string) bool {
	for _, m := range t.bus.Methods() {
		if m.Name == name {
			return true
		}
	}
	return false
}
