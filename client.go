// Package workspaces is a client-side mirror of remotely owned window
// layouts. Frames hold workspaces, workspaces hold nested rows, columns and
// groups, and the leaves are hosted windows. Every structural change is a
// remote operation; after each one the affected workspace is re-fetched and
// reconciled into the local facades, which keep their identity as long as
// the authority keeps the node.
//
// A Client is built over a transport.Bus:
//
//	c, err := workspaces.New(bus, workspaces.WithMyWindowID("win-1"))
//	ws, err := c.GetBuilder(nil).Create(ctx)
//
// or dialed from configuration with Open.
package workspaces

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/workspaces/bridge"
	"github.com/hazyhaar/workspaces/builder"
	"github.com/hazyhaar/workspaces/contract"
	"github.com/hazyhaar/workspaces/layouts"
	"github.com/hazyhaar/workspaces/transport"
	"github.com/hazyhaar/workspaces/transport/mcpbus"
	"github.com/hazyhaar/workspaces/transport/wsbus"
)

// Client is the entry point of the engine. It is safe for concurrent use.
type Client struct {
	ctl     *controller
	bridge  *bridge.Bridge
	store   *layouts.Store
	closers []io.Closer
	cancel  context.CancelFunc
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

type settings struct {
	cfg        *Config
	logger     *slog.Logger
	windows    Windows
	layouts    Layouts
	contexts   Contexts
	myWindowID string
}

// Option configures a Client.
type Option func(*settings)

// WithConfig sets the configuration. Default: DefaultConfig().
func WithConfig(cfg *Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithWindows sets the host window collaborator used by Window.ForceLoad
// and Window.HostWindow.
func WithWindows(w Windows) Option {
	return func(s *settings) { s.windows = w }
}

// WithLayouts replaces the layout collaborator chosen from the config.
func WithLayouts(l Layouts) Option {
	return func(s *settings) { s.layouts = l }
}

// WithContexts replaces the SQLite context store.
func WithContexts(c Contexts) Option {
	return func(s *settings) { s.contexts = c }
}

// WithMyWindowID sets the id of the window this client runs in, overriding
// the config.
func WithMyWindowID(id string) Option {
	return func(s *settings) { s.myWindowID = id }
}

func resolve(opts []Option) settings {
	s := settings{cfg: DefaultConfig(), logger: slog.Default()}
	for _, o := range opts {
		o(&s)
	}
	if s.myWindowID == "" {
		s.myWindowID = s.cfg.MyWindowID
	}
	return s
}

// New creates a Client over bus. The bus is not closed by Client.Close.
func New(bus transport.Bus, opts ...Option) (*Client, error) {
	return newClient(bus, resolve(opts))
}

func newClient(bus transport.Bus, s settings) (*Client, error) {
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("workspaces: %w", err)
	}

	tr := transport.New(bus,
		transport.WithLogger(s.logger),
		transport.WithControlMethod(cfg.Bus.ControlMethod),
		transport.WithMethodWait(cfg.Timeouts.MethodWait),
		transport.WithCallTimeout(cfg.Timeouts.Call),
	)
	mode := bridge.ModeFiltered
	if cfg.Subscriptions.Mode == "shared" {
		mode = bridge.ModeShared
	}
	br := bridge.New(tr,
		bridge.WithLogger(s.logger),
		bridge.WithMode(mode),
		bridge.WithSharedStream(cfg.Subscriptions.SharedStream),
	)

	base, cancel := context.WithCancel(context.Background())
	ctl := &controller{
		bridge:     br,
		pd:         newPrivateData(),
		windows:    s.windows,
		layouts:    s.layouts,
		contexts:   s.contexts,
		myWindowID: s.myWindowID,
		hostWait:   cfg.Timeouts.HostWindow,
		logger:     s.logger,
		base:       base,
	}
	c := &Client{ctl: ctl, bridge: br, cancel: cancel, logger: s.logger}

	needStore := ctl.contexts == nil || (ctl.layouts == nil && cfg.Layouts.Source == "local")
	if needStore {
		store, err := layouts.Open(cfg.Layouts.DBPath,
			layouts.WithLogger(s.logger),
			layouts.WithSnapshotter(ctl.workspaceSnapshot),
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("workspaces: open layout store: %w", err)
		}
		c.store = store
		if ctl.contexts == nil {
			ctl.contexts = store
		}
	}
	if ctl.layouts == nil {
		if cfg.Layouts.Source == "local" {
			ctl.layouts = c.store
		} else {
			ctl.layouts = layouts.NewRemote(br)
		}
	}
	return c, nil
}

// Open dials the bus named by cfg and creates a Client over it. The bus
// connection is closed with the Client.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := resolve(append(opts, WithConfig(cfg)))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("workspaces: %w", err)
	}

	var (
		bus    transport.Bus
		closer io.Closer
	)
	switch cfg.Bus.Kind {
	case BusWebsocket:
		wc, err := wsbus.Dial(ctx, cfg.Bus.Endpoint, wsbus.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		bus, closer = wc, wc
	case BusMCP:
		mc, err := mcpbus.DialCommand(ctx, cfg.Bus.MCPCommand[0], cfg.Bus.MCPCommand[1:], mcpbus.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		bus, closer = mc, mc
	default:
		return nil, contract.Programming("bus kind %q cannot be dialed; use New with an in-process bus", cfg.Bus.Kind)
	}

	c, err := newClient(bus, s)
	if err != nil {
		closer.Close()
		return nil, err
	}
	c.closers = append(c.closers, closer)
	s.logger.Info("workspaces: connected", "bus", cfg.Bus.Kind, "subscriptions", cfg.Subscriptions.Mode)
	return c, nil
}

// Close drops every subscription, cancels callback work in flight and
// releases the layout store and any dialed bus.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if err := c.bridge.Close(); err != nil {
			errs = append(errs, err)
		}
		c.cancel()
		if c.store != nil {
			if err := c.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, cl := range c.closers {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// GetBuilder starts a workspace definition that can be created directly.
func (c *Client) GetBuilder(cfg *contract.WorkspaceCreateConfig) *WorkspaceBuilder {
	return &WorkspaceBuilder{Builder: builder.NewWorkspace(cfg), ctl: c.ctl}
}

// GetMyFrame returns the frame holding this client's window.
func (c *Client) GetMyFrame(ctx context.Context) (*Frame, error) {
	if c.ctl.myWindowID == "" {
		return nil, contract.Programming("my frame: no window id configured")
	}
	var sum contract.FrameSummary
	if err := c.bridge.SendInto(ctx, contract.OpGetFrameSummary, itemArgs{ItemID: c.ctl.myWindowID}, &sum); err != nil {
		return nil, err
	}
	return c.ctl.newFrame(sum), nil
}

// GetAllFrames returns one facade per open frame.
func (c *Client) GetAllFrames(ctx context.Context) ([]*Frame, error) {
	var res summaries[contract.FrameSummary]
	if err := c.bridge.SendInto(ctx, contract.OpGetAllFramesSummaries, nil, &res); err != nil {
		return nil, err
	}
	out := make([]*Frame, 0, len(res.Summaries))
	for _, s := range res.Summaries {
		out = append(out, c.ctl.newFrame(s))
	}
	return out, nil
}

// GetFrame returns the first frame matching pred.
func (c *Client) GetFrame(ctx context.Context, pred func(*Frame) bool) (*Frame, error) {
	if pred == nil {
		return nil, contract.Programming("get frame: nil predicate")
	}
	frames, err := c.GetAllFrames(ctx)
	if err != nil {
		return nil, err
	}
	if f := first(frames, pred); f != nil {
		return f, nil
	}
	return nil, fmt.Errorf("workspaces: frame: %w", ErrNotFound)
}

// GetMyWorkspace returns the workspace holding this client's window.
func (c *Client) GetMyWorkspace(ctx context.Context) (*Workspace, error) {
	id := c.ctl.myWindowID
	if id == "" {
		return nil, contract.Programming("my workspace: no window id configured")
	}
	var res struct {
		InWorkspace bool `json:"inWorkspace"`
	}
	if err := c.bridge.SendInto(ctx, contract.OpIsWindowInWorkspace, itemArgs{ItemID: id}, &res); err != nil {
		return nil, err
	}
	if !res.InWorkspace {
		return nil, fmt.Errorf("workspaces: window %s is not in a workspace: %w", id, ErrNotFound)
	}
	return c.ctl.fetchWorkspace(ctx, id)
}

// GetAllWorkspaces fetches every workspace concurrently and returns them in
// the authority's order.
func (c *Client) GetAllWorkspaces(ctx context.Context) ([]*Workspace, error) {
	var res summaries[contract.WorkspaceSummary]
	if err := c.bridge.SendInto(ctx, contract.OpGetAllWorkspacesSummaries, nil, &res); err != nil {
		return nil, err
	}
	out := make([]*Workspace, len(res.Summaries))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range res.Summaries {
		g.Go(func() error {
			ws, err := c.ctl.fetchWorkspace(gctx, s.ID)
			if err != nil {
				return err
			}
			out[i] = ws
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetWorkspace returns the first workspace matching pred.
func (c *Client) GetWorkspace(ctx context.Context, pred func(*Workspace) bool) (*Workspace, error) {
	if pred == nil {
		return nil, contract.Programming("get workspace: nil predicate")
	}
	all, err := c.GetAllWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	if ws := first(all, pred); ws != nil {
		return ws, nil
	}
	return nil, fmt.Errorf("workspaces: workspace: %w", ErrNotFound)
}

// GetWorkspaceByID fetches one workspace. Any item id inside it works too.
func (c *Client) GetWorkspaceByID(ctx context.Context, id string) (*Workspace, error) {
	if id == "" {
		return nil, contract.Programming("get workspace: empty id")
	}
	return c.ctl.fetchWorkspace(ctx, id)
}

// GetWindow returns the first window, across all workspaces, matching pred.
func (c *Client) GetWindow(ctx context.Context, pred func(*Window) bool) (*Window, error) {
	if pred == nil {
		return nil, contract.Programming("get window: nil predicate")
	}
	all, err := c.GetAllWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	for _, ws := range all {
		if w, err := ws.GetWindow(pred); err == nil {
			return w, nil
		}
	}
	return nil, fmt.Errorf("workspaces: window: %w", ErrNotFound)
}

// GetBox returns the first row, column or group, across all workspaces,
// matching pred.
func (c *Client) GetBox(ctx context.Context, pred func(*Box) bool) (*Box, error) {
	if pred == nil {
		return nil, contract.Programming("get box: nil predicate")
	}
	all, err := c.GetAllWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	for _, ws := range all {
		if b, err := ws.GetBox(pred); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("workspaces: box: %w", ErrNotFound)
}

// CreateWorkspace creates a workspace from a plain definition. The
// definition is checked against the builder rules before anything is sent.
func (c *Client) CreateWorkspace(ctx context.Context, def contract.WorkspaceDefinition) (*Workspace, error) {
	check := builder.NewWorkspace(def.Config)
	for _, child := range def.Children {
		if err := check.AddDefinition(child); err != nil {
			return nil, err
		}
	}
	return c.ctl.createWorkspace(ctx, def)
}

// RestoreWorkspace opens the layout saved under name.
func (c *Client) RestoreWorkspace(ctx context.Context, name string, opts *contract.RestoreOptions) (*Workspace, error) {
	return c.ctl.restoreWorkspace(ctx, name, opts)
}

// Layouts returns the layout collaborator in use.
func (c *Client) Layouts() Layouts { return c.ctl.layouts }

// OnFrameOpened calls fn with each new frame.
func (c *Client) OnFrameOpened(ctx context.Context, fn func(*Frame)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("frame opened: nil callback")
	}
	return c.ctl.subscribe(ctx, contract.EventFrame, contract.ScopeGlobal, "", contract.ActionOpened,
		func(ev contract.Event) error {
			fn(c.ctl.newFrame(contract.FrameSummary{ID: ev.FrameID()}))
			return nil
		})
}

// OnFrameClosed calls fn with the id of each closed frame.
func (c *Client) OnFrameClosed(ctx context.Context, fn func(frameID string)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("frame closed: nil callback")
	}
	return c.ctl.subscribe(ctx, contract.EventFrame, contract.ScopeGlobal, "", contract.ActionClosed,
		func(ev contract.Event) error {
			fn(ev.FrameID())
			return nil
		})
}

func (c *Client) OnWorkspaceOpened(ctx context.Context, fn func(*Workspace)) (func(), error) {
	return c.ctl.onWorkspaceOpened(ctx, contract.ScopeGlobal, "", fn)
}

func (c *Client) OnWorkspaceClosed(ctx context.Context, fn func(WorkspaceClosed)) (func(), error) {
	return c.ctl.onWorkspaceClosed(ctx, contract.ScopeGlobal, "", fn)
}

// OnWindowAdded calls fn with each window placed in any workspace. Every
// callback registered for the same event receives the same *Window.
func (c *Client) OnWindowAdded(ctx context.Context, fn func(*Window)) (func(), error) {
	return c.ctl.onWindow(ctx, contract.ScopeGlobal, "", contract.ActionAdded, fn)
}

func (c *Client) OnWindowLoaded(ctx context.Context, fn func(*Window)) (func(), error) {
	return c.ctl.onWindow(ctx, contract.ScopeGlobal, "", contract.ActionLoaded, fn)
}

func (c *Client) OnWindowRemoved(ctx context.Context, fn func(WindowRemoved)) (func(), error) {
	return c.ctl.onWindowRemoved(ctx, contract.ScopeGlobal, "", fn)
}

// ActiveSubscriptions lists the remote streams currently open.
func (c *Client) ActiveSubscriptions() []bridge.ActiveSubscription {
	return c.bridge.ActiveSubscriptions()
}

// WorkspaceBuilder is a workspace builder bound to a Client.
type WorkspaceBuilder struct {
	*builder.Builder
	ctl *controller
}

// Create sends the built definition and returns the new workspace.
func (b *WorkspaceBuilder) Create(ctx context.Context) (*Workspace, error) {
	def, err := b.WorkspaceDefinition()
	if err != nil {
		return nil, err
	}
	return b.ctl.createWorkspace(ctx, def)
}
