// Package authoritytest runs an in-process stand-in for the remote layout
// authority on a localbus.Bus. It keeps a small layout tree, answers every
// catalog operation through the control method and publishes matching events
// on the branch streams, so engine tests can drive the whole
// mutate-then-reconcile loop without a host.
//
//	auth := authoritytest.New(authoritytest.WithoutOperations(contract.OpChangeFrameState))
//	client, _ := workspaces.New(auth.Bus(), workspaces.WithWindows(auth.Windows()))
package authoritytest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/pkg/idgen"

	"github.com/hazyhaar/workspaces/bridge"
	"github.com/hazyhaar/workspaces/contract"
	"github.com/hazyhaar/workspaces/transport"
	"github.com/hazyhaar/workspaces/transport/localbus"
)

// Authority is safe for concurrent use.
type Authority struct {
	bus       *localbus.Bus
	windows   *Windows
	logger    *slog.Logger
	newID     idgen.Generator
	shared    bool
	without   map[string]bool
	loadDelay time.Duration

	mu      sync.Mutex
	frames  []*frame
	layouts map[string]contract.Layout
	calls   map[string]int
}

// Option configures an Authority.
type Option func(*Authority)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authority) { a.logger = l }
}

// WithoutOperations makes the control method advertise the catalog minus ops,
// and reject ops if they are sent anyway.
func WithoutOperations(ops ...string) Option {
	return func(a *Authority) {
		for _, op := range ops {
			a.without[op] = true
		}
	}
}

// WithSharedStream publishes every event once more on contract.SharedStream,
// as a host-embedded platform does.
func WithSharedStream() Option {
	return func(a *Authority) { a.shared = true }
}

// WithLoadDelay delays the host window report that follows forceLoadWindow
// and ejectWindow.
func WithLoadDelay(d time.Duration) Option {
	return func(a *Authority) { a.loadDelay = d }
}

// New starts an authority on a fresh localbus.
func New(opts ...Option) *Authority {
	a := &Authority{
		windows: newWindows(),
		logger:  slog.Default(),
		newID:   idgen.NanoID(8),
		without: map[string]bool{},
		layouts: map[string]contract.Layout{},
		calls:   map[string]int{},
	}
	for _, o := range opts {
		o(a)
	}
	a.bus = localbus.New(localbus.WithLogger(a.logger))

	info := transport.MethodInfo{Name: transport.DefaultControlMethod}
	if len(a.without) > 0 {
		for _, op := range contract.Operations() {
			if !a.without[op] {
				info.Operations = append(info.Operations, op)
			}
		}
	}
	a.bus.Register(info, a.control)
	return a
}

// Bus returns the bus the control method is registered on.
func (a *Authority) Bus() *localbus.Bus { return a.bus }

// Windows returns the host window collaborator fed by window loads.
func (a *Authority) Windows() *Windows { return a.windows }

// Calls returns how many times op reached the authority.
func (a *Authority) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

// TotalCalls returns the number of operations received.
func (a *Authority) TotalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		n += c
	}
	return n
}

// pending is one event to publish once the tree lock is released.
type pending struct {
	stream   string
	ev       contract.Event
	branches []string
}

type effects struct {
	events []pending
	hosts  []contract.HostWindow
}

func (fx *effects) frameEvent(f *frame, action string) {
	fx.events = append(fx.events, pending{
		stream:   contract.StreamFrame,
		ev:       contract.Event{Type: contract.EventFrame, Action: action, FrameSummary: &contract.FrameSummary{ID: f.id}},
		branches: []string{"global", bridge.BranchKey(contract.ScopeFrame, f.id)},
	})
}

func (fx *effects) workspaceEvent(w *workspace, action string) {
	fx.events = append(fx.events, pending{
		stream: contract.StreamWorkspace,
		ev: contract.Event{Type: contract.EventWorkspace, Action: action,
			WorkspaceSummary: w.summary(), FrameSummary: &contract.FrameSummary{ID: w.frame.id}},
		branches: []string{"global",
			bridge.BranchKey(contract.ScopeFrame, w.frame.id),
			bridge.BranchKey(contract.ScopeWorkspace, w.id)},
	})
}

func (fx *effects) containerEvent(n *node, action string) {
	fx.events = append(fx.events, pending{
		stream: contract.StreamContainer,
		ev:     contract.Event{Type: contract.EventContainer, Action: action, ContainerSummary: n.containerSummary()},
		branches: []string{"global",
			bridge.BranchKey(contract.ScopeFrame, n.ws.frame.id),
			bridge.BranchKey(contract.ScopeWorkspace, n.ws.id)},
	})
}

func (fx *effects) windowEvent(n *node, action string) {
	fx.events = append(fx.events, pending{
		stream: contract.StreamWindow,
		ev:     contract.Event{Type: contract.EventWindow, Action: action, WindowSummary: n.windowSummary()},
		branches: []string{"global",
			bridge.BranchKey(contract.ScopeFrame, n.ws.frame.id),
			bridge.BranchKey(contract.ScopeWorkspace, n.ws.id),
			bridge.BranchKey(contract.ScopeWindow, n.id)},
	})
}

// subtreeEvents emits one event per container and window under n.
func (fx *effects) subtreeEvents(n *node, containerAction, windowAction string) {
	n.walk(func(c *node) {
		if c.typ == contract.TypeWindow {
			fx.windowEvent(c, windowAction)
		} else if containerAction != "" {
			fx.containerEvent(c, containerAction)
		}
	})
}

func (a *Authority) control(ctx context.Context, payload []byte) ([]byte, error) {
	var req transport.ControlArgs
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("malformed control arguments: %w", err)
	}

	a.mu.Lock()
	a.calls[req.Operation]++
	if a.without[req.Operation] {
		a.mu.Unlock()
		return nil, fmt.Errorf("operation %s is not supported by this host", req.Operation)
	}
	var fx effects
	res, err := a.apply(req.Operation, req.OperationArguments, &fx)
	a.mu.Unlock()
	if err != nil {
		a.logger.DebugContext(ctx, "authoritytest: rejected", "op", req.Operation, "error", err)
		return nil, err
	}

	for _, p := range fx.events {
		a.publish(p)
	}
	if len(fx.hosts) > 0 {
		if a.loadDelay > 0 {
			hosts := fx.hosts
			time.AfterFunc(a.loadDelay, func() {
				for _, h := range hosts {
					a.windows.add(h)
				}
			})
		} else {
			for _, h := range fx.hosts {
				a.windows.add(h)
			}
		}
	}
	if res == nil {
		res = map[string]any{}
	}
	return json.Marshal(res)
}

func (a *Authority) publish(p pending) {
	for _, branch := range p.branches {
		data, err := contract.EncodeEvent(p.ev, contract.StreamArgs{Branch: branch})
		if err != nil {
			a.logger.Error("authoritytest: encode event", "error", err)
			return
		}
		a.bus.Publish(p.stream, branch, data)
	}
	if a.shared {
		data, _ := contract.EncodeEvent(p.ev, contract.StreamArgs{})
		a.bus.Publish(contract.SharedStream, "", data)
	}
}

// Windows is a host window collaborator double. Windows appear in it when
// the authority loads or ejects them.
type Windows struct {
	mu        sync.Mutex
	list      []contract.HostWindow
	listeners map[int]func(contract.HostWindow)
	next      int
}

func newWindows() *Windows {
	return &Windows{listeners: map[int]func(contract.HostWindow){}}
}

// List returns the known host windows.
func (w *Windows) List(context.Context) ([]contract.HostWindow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.list), nil
}

// OnWindowAdded registers fn for windows reported from now on.
func (w *Windows) OnWindowAdded(fn func(contract.HostWindow)) func() {
	w.mu.Lock()
	id := w.next
	w.next++
	w.listeners[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

func (w *Windows) add(h contract.HostWindow) {
	w.mu.Lock()
	if slices.ContainsFunc(w.list, func(x contract.HostWindow) bool { return x.ID == h.ID }) {
		w.mu.Unlock()
		return
	}
	w.list = append(w.list, h)
	fns := make([]func(contract.HostWindow), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(h)
	}
}
