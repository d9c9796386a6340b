// Package localbus is an in-process transport.Bus. Methods are dispatched
// through a connectivity.Router registered with local handlers, so the same
// handler code can later be moved behind a remote route. Streams are kept in
// a branch-keyed hub: a subscriber opening a stream with {"branch": "x"}
// receives only what is published to branch "x".
//
//	bus := localbus.New()
//	bus.Register(transport.MethodInfo{Name: "Workspaces.Control"}, handler)
//	bus.Publish(contract.StreamWindow, "workspace_42", data)
//
// It backs host-embedded deployments and the test authority.
package localbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pkg/connectivity"
	"github.com/hazyhaar/pkg/idgen"

	"github.com/hazyhaar/workspaces/transport"
)

// Handler is a local method implementation: JSON arguments in, JSON result
// out. Returning an error means the method rejected the call.
type Handler = connectivity.Handler

// Bus is safe for concurrent use.
type Bus struct {
	router *connectivity.Router
	mw     connectivity.HandlerMiddleware
	newID  idgen.Generator
	logger *slog.Logger

	mu         sync.Mutex
	methods    []transport.MethodInfo
	listeners  map[uint64]func(transport.MethodInfo)
	nextListen uint64
	subs       map[string]map[string]*stream // stream name -> subscription id -> stream
	opened     map[string]int               // stream name -> Subscribe calls
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithIDGenerator sets the generator used for subscription ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(b *Bus) { b.newID = gen }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		newID:     idgen.Prefixed("sub_", idgen.Default),
		logger:    slog.Default(),
		listeners: make(map[uint64]func(transport.MethodInfo)),
		subs:      make(map[string]map[string]*stream),
		opened:    make(map[string]int),
	}
	for _, o := range opts {
		o(b)
	}
	b.router = connectivity.New(connectivity.WithLogger(b.logger))
	b.mw = connectivity.Chain(connectivity.Recovery(b.logger), connectivity.Logging(b.logger))
	return b
}

// Register exposes h as method info.Name and notifies MethodAdded listeners.
// Registering an existing name replaces its handler and info.
func (b *Bus) Register(info transport.MethodInfo, h Handler) {
	b.router.RegisterLocal(info.Name, b.mw(h))

	b.mu.Lock()
	replaced := false
	for i, m := range b.methods {
		if m.Name == info.Name {
			b.methods[i] = info
			replaced = true
		}
	}
	if !replaced {
		b.methods = append(b.methods, info)
	}
	listeners := make([]func(transport.MethodInfo), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(info)
	}
}

// Invoke implements transport.Bus.
func (b *Bus) Invoke(ctx context.Context, method string, args json.RawMessage, _ transport.InvokeOptions) (*transport.InvokeResult, error) {
	resp, err := b.router.Call(ctx, method, args)
	if err != nil {
		var notFound *connectivity.ErrServiceNotFound
		var panicked *connectivity.ErrPanic
		switch {
		case errors.As(err, &notFound), errors.As(err, &panicked):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		var remote *transport.ErrRemote
		if errors.As(err, &remote) {
			return nil, remote
		}
		return nil, &transport.ErrRemote{Method: method, Message: err.Error()}
	}
	return &transport.InvokeResult{
		Method:          method,
		AllReturnValues: []transport.ReturnValue{{Returned: resp, Executor: "local"}},
	}, nil
}

// Methods implements transport.Bus.
func (b *Bus) Methods() []transport.MethodInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]transport.MethodInfo, len(b.methods))
	copy(out, b.methods)
	return out
}

// MethodAdded implements transport.Bus.
func (b *Bus) MethodAdded(fn func(transport.MethodInfo)) func() {
	b.mu.Lock()
	b.nextListen++
	id := b.nextListen
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Subscribe implements transport.Bus.
func (b *Bus) Subscribe(_ context.Context, name string, args json.RawMessage) (transport.Stream, error) {
	var parsed struct {
		Branch string `json:"branch"`
	}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, err
		}
	}
	s := &stream{bus: b, name: name, id: b.newID(), branch: parsed.Branch}

	b.mu.Lock()
	if b.subs[name] == nil {
		b.subs[name] = make(map[string]*stream)
	}
	b.subs[name][s.id] = s
	b.opened[name]++
	b.mu.Unlock()

	b.logger.Debug("localbus: stream opened", "stream", name, "branch", s.branch, "id", s.id)
	return s, nil
}

// Publish delivers data to every open subscription of name on branch and
// returns how many received it. Handlers run on the caller's goroutine.
func (b *Bus) Publish(name, branch string, data []byte) int {
	b.mu.Lock()
	var targets []*stream
	for _, s := range b.subs[name] {
		if s.branch == branch {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	n := 0
	for _, s := range targets {
		if s.deliver(data) {
			n++
		}
	}
	return n
}

// OpenStreams returns the number of currently open subscriptions of name.
func (b *Bus) OpenStreams(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}

// SubscribeCalls returns how many times name has been subscribed.
func (b *Bus) SubscribeCalls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened[name]
}

type stream struct {
	bus    *Bus
	name   string
	id     string
	branch string

	mu      sync.Mutex
	handler func([]byte)
	closed  bool
}

func (s *stream) OnData(fn func([]byte)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *stream) deliver(data []byte) bool {
	s.mu.Lock()
	fn, closed := s.handler, s.closed
	s.mu.Unlock()
	if closed || fn == nil {
		return false
	}
	fn(data)
	return true
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrStreamClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.bus.mu.Lock()
	delete(s.bus.subs[s.name], s.id)
	s.bus.mu.Unlock()
	s.bus.logger.Debug("localbus: stream closed", "stream", s.name, "branch", s.branch, "id", s.id)
	return nil
}
