// Package bridge joins the transport, the operation catalog and the callback
// registry. Send is the only way the engine talks to the authority: it
// validates arguments before anything is transmitted and validates the
// result before anything is returned. Subscribe demultiplexes remote event
// streams into local callbacks, opening at most one remote stream per
// (event type, scope, scope id) and closing it when the last local
// subscriber leaves.
//
// Two subscription modes exist. ModeFiltered asks the host to filter each
// stream by branch ("global" or "<scope>_<id>"). ModeShared, for hosts
// without server-side filtering, opens a single platform stream once and
// matches scopes locally against ids carried in each payload.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pkg/idgen"

	"github.com/hazyhaar/workspaces/contract"
	"github.com/hazyhaar/workspaces/registry"
	"github.com/hazyhaar/workspaces/transport"
)

// Mode selects how subscriptions map onto remote streams.
type Mode int

const (
	ModeFiltered Mode = iota
	ModeShared
)

// SubscriptionConfig describes one local subscription.
type SubscriptionConfig struct {
	EventType contract.EventType
	Scope     contract.Scope
	ScopeID   string
	Action    string
	Callback  func(contract.Event) error
}

// ActiveSubscription is a read-only view of an open remote stream.
type ActiveSubscription struct {
	ID        string
	EventType contract.EventType
	Scope     contract.Scope
	ScopeID   string
	Stream    string
	RefCount  int
}

type subKey struct {
	eventType contract.EventType
	scope     contract.Scope
	scopeID   string
}

// subscription is the active record for one remote stream. It is inserted
// into the table before the stream is opened; ready is closed once the open
// attempt finished, with err set on failure.
type subscription struct {
	id       string
	key      subKey
	stream   string
	branch   string
	shared   bool
	refCount int

	ready  chan struct{}
	err    error
	handle transport.Stream
	box    *mailbox
}

// Bridge is safe for concurrent use.
type Bridge struct {
	tr           *transport.Transport
	reg          *registry.Registry[contract.Event]
	mode         Mode
	sharedStream string
	newID        idgen.Generator
	logger       *slog.Logger

	mu     sync.Mutex
	active map[subKey]*subscription
	shared *subscription
	closed bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMode selects the subscription mode. Default: ModeFiltered.
func WithMode(m Mode) Option {
	return func(b *Bridge) { b.mode = m }
}

// WithSharedStream overrides contract.SharedStream for ModeShared.
func WithSharedStream(name string) Option {
	return func(b *Bridge) { b.sharedStream = name }
}

// WithIDGenerator sets the generator for subscription record ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(b *Bridge) { b.newID = gen }
}

// New creates a Bridge sending through tr.
func New(tr *transport.Transport, opts ...Option) *Bridge {
	b := &Bridge{
		tr:           tr,
		sharedStream: contract.SharedStream,
		newID:        idgen.Prefixed("wsub_", idgen.Default),
		logger:       slog.Default(),
		active:       make(map[subKey]*subscription),
	}
	for _, o := range opts {
		o(b)
	}
	b.reg = registry.New[contract.Event](registry.WithLogger(b.logger))
	return b
}

// Supports reports whether the host serves op.
func (b *Bridge) Supports(op string) bool { return b.tr.Supports(op) }

// Send validates args against op's schema, transmits it and validates the
// result. Nothing is transmitted when validation fails. args may be nil for
// operations without arguments.
func (b *Bridge) Send(ctx context.Context, op string, args any) (json.RawMessage, error) {
	entry, ok := contract.Lookup(op)
	if !ok {
		return nil, contract.Programming("unknown operation %q", op)
	}

	var raw json.RawMessage
	if args != nil || entry.HasArgs() {
		var err error
		if raw, err = entry.ValidateArgs(args); err != nil {
			return nil, err
		}
	}

	if !b.tr.Supports(op) {
		capability := entry.Capability
		if capability == "" {
			capability = op
		}
		return nil, &contract.UnsupportedError{Op: op, Capability: capability}
	}

	res, err := b.tr.Send(ctx, op, raw)
	if err != nil {
		return nil, err
	}
	if err := entry.ValidateResult(res); err != nil {
		b.logger.WarnContext(ctx, "bridge: result rejected", "op", op, "error", err)
		return nil, err
	}
	return res, nil
}

// SendInto is Send followed by decoding the result into out.
func (b *Bridge) SendInto(ctx context.Context, op string, args, out any) error {
	res, err := b.Send(ctx, op, args)
	if err != nil {
		return err
	}
	if out == nil || len(res) == 0 {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return &contract.ValidationError{Op: op, Direction: contract.DirectionResult, Cause: err}
	}
	return nil
}

// BranchKey returns the stream branch for a scope.
func BranchKey(scope contract.Scope, scopeID string) string {
	if scope == contract.ScopeGlobal {
		return "global"
	}
	return string(scope) + "_" + scopeID
}

func registryKey(parts ...string) string {
	key := parts[0]
	for _, p := range parts[1:] {
		key += "-" + p
	}
	return key
}

// Subscribe registers cfg.Callback and returns a function removing it. The
// first subscriber for a scope opens the remote stream; later ones share it.
func (b *Bridge) Subscribe(ctx context.Context, cfg SubscriptionConfig) (func(), error) {
	if cfg.Callback == nil {
		return nil, contract.Programming("subscribe %s/%s: callback is required", cfg.EventType, cfg.Action)
	}
	if cfg.Scope == "" {
		cfg.Scope = contract.ScopeGlobal
	}
	if cfg.Scope != contract.ScopeGlobal && cfg.ScopeID == "" {
		return nil, contract.Programming("subscribe %s/%s: scope %s requires an id", cfg.EventType, cfg.Action, cfg.Scope)
	}
	if !contract.ValidAction(cfg.EventType, cfg.Action) {
		return nil, contract.Programming("subscribe: action %q is not defined for %s events", cfg.Action, cfg.EventType)
	}

	if b.mode == ModeShared {
		return b.subscribeShared(ctx, cfg)
	}

	key := subKey{cfg.EventType, cfg.Scope, cfg.ScopeID}
	branch := BranchKey(cfg.Scope, cfg.ScopeID)
	stream, err := contract.StreamFor(cfg.EventType)
	if err != nil {
		return nil, contract.Programming("subscribe: %v", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, contract.Programming("subscribe on a closed bridge")
	}
	sub, exists := b.active[key]
	if !exists {
		sub = &subscription{
			id:     b.newID(),
			key:    key,
			stream: stream,
			branch: branch,
			ready:  make(chan struct{}),
		}
		b.active[key] = sub
	}
	sub.refCount++
	b.mu.Unlock()

	if !exists {
		b.open(ctx, sub, contract.StreamArgs{Branch: branch})
	}
	if err := b.await(ctx, sub); err != nil {
		return nil, err
	}

	off := b.reg.Add(registryKey(string(cfg.EventType), branch, cfg.Action), cfg.Callback)
	var once sync.Once
	return func() {
		once.Do(func() {
			off()
			b.release(sub)
		})
	}, nil
}

// open performs the remote subscribe for a freshly inserted record and
// releases everyone waiting on it.
func (b *Bridge) open(ctx context.Context, sub *subscription, args contract.StreamArgs) {
	defer close(sub.ready)

	handle, err := b.tr.Subscribe(ctx, sub.stream, args)
	if err != nil {
		b.mu.Lock()
		if b.active[sub.key] == sub {
			delete(b.active, sub.key)
		}
		if b.shared == sub {
			b.shared = nil
		}
		b.mu.Unlock()
		sub.err = &contract.RemoteCommunicationError{Op: "subscribe " + sub.stream, Cause: err}
		b.logger.WarnContext(ctx, "bridge: stream open failed", "stream", sub.stream, "branch", sub.branch, "error", err)
		return
	}

	sub.handle = handle
	sub.box = newMailbox(func(data []byte) { b.dispatch(sub, data) })
	handle.OnData(sub.box.push)
	b.logger.DebugContext(ctx, "bridge: stream opened", "stream", sub.stream, "branch", sub.branch, "id", sub.id)
}

func (b *Bridge) await(ctx context.Context, sub *subscription) error {
	select {
	case <-sub.ready:
	case <-ctx.Done():
		b.release(sub)
		return ctx.Err()
	}
	return sub.err
}

// release drops one reference and closes the stream at zero.
func (b *Bridge) release(sub *subscription) {
	b.mu.Lock()
	sub.refCount--
	if sub.refCount > 0 || sub.shared {
		b.mu.Unlock()
		return
	}
	if b.active[sub.key] == sub {
		delete(b.active, sub.key)
	}
	b.mu.Unlock()
	b.closeSub(sub)
}

func (b *Bridge) closeSub(sub *subscription) {
	<-sub.ready
	if sub.handle == nil {
		return
	}
	sub.box.close()
	if err := sub.handle.Close(); err != nil {
		b.logger.Debug("bridge: stream close", "stream", sub.stream, "error", err)
	}
	b.logger.Debug("bridge: stream closed", "stream", sub.stream, "branch", sub.branch, "id", sub.id)
}

// dispatch validates one raw message and fans it out. Invalid messages are
// logged and dropped.
func (b *Bridge) dispatch(sub *subscription, data []byte) {
	ev, err := contract.ParseEvent(data)
	if err != nil {
		b.logger.Warn("bridge: invalid event", "stream", sub.stream, "branch", sub.branch, "error", err)
		return
	}
	if sub.shared {
		b.reg.Execute(registryKey(string(ev.Type), ev.Action), ev)
		return
	}
	branch := ev.Branch
	if branch == "" {
		branch = sub.branch
	}
	b.reg.Execute(registryKey(string(ev.Type), branch, ev.Action), ev)
}

func (b *Bridge) subscribeShared(ctx context.Context, cfg SubscriptionConfig) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, contract.Programming("subscribe on a closed bridge")
	}
	sub := b.shared
	opener := sub == nil
	if opener {
		sub = &subscription{
			id:     b.newID(),
			stream: b.sharedStream,
			shared: true,
			ready:  make(chan struct{}),
		}
		b.shared = sub
	}
	sub.refCount++
	b.mu.Unlock()

	if opener {
		b.open(ctx, sub, contract.StreamArgs{})
	}
	if err := b.await(ctx, sub); err != nil {
		return nil, err
	}

	cb := cfg.Callback
	off := b.reg.Add(registryKey(string(cfg.EventType), cfg.Action), func(ev contract.Event) error {
		if !matchesScope(cfg.Scope, cfg.ScopeID, ev) {
			return nil
		}
		return cb(ev)
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			off()
			b.mu.Lock()
			sub.refCount--
			b.mu.Unlock()
		})
	}, nil
}

func matchesScope(scope contract.Scope, id string, ev contract.Event) bool {
	switch scope {
	case contract.ScopeFrame:
		return ev.FrameID() == id
	case contract.ScopeWorkspace:
		return ev.WorkspaceID() == id
	case contract.ScopeWindow:
		return ev.WindowID() == id
	}
	return true
}

// ActiveSubscriptions lists the open remote streams.
func (b *Bridge) ActiveSubscriptions() []ActiveSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ActiveSubscription, 0, len(b.active)+1)
	for _, s := range b.active {
		out = append(out, ActiveSubscription{
			ID: s.id, EventType: s.key.eventType, Scope: s.key.scope, ScopeID: s.key.scopeID,
			Stream: s.stream, RefCount: s.refCount,
		})
	}
	if b.shared != nil {
		out = append(out, ActiveSubscription{ID: b.shared.id, Stream: b.shared.stream, RefCount: b.shared.refCount})
	}
	return out
}

// Close closes every remote stream and drops every callback. Subscribe
// fails afterwards; Send keeps working.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.active)+1)
	for _, s := range b.active {
		subs = append(subs, s)
	}
	if b.shared != nil {
		subs = append(subs, b.shared)
	}
	b.active = make(map[subKey]*subscription)
	b.shared = nil
	b.mu.Unlock()

	for _, s := range subs {
		b.closeSub(s)
	}
	b.reg.ClearAll()
	if len(subs) > 0 {
		b.logger.Debug("bridge: closed", "streams", len(subs))
	}
	return nil
}

func (s ActiveSubscription) String() string {
	if s.Scope == "" {
		return fmt.Sprintf("%s (shared, refs=%d)", s.Stream, s.RefCount)
	}
	return fmt.Sprintf("%s %s (refs=%d)", s.Stream, BranchKey(s.Scope, s.ScopeID), s.RefCount)
}
