package workspaces

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/workspaces/bridge"
	"github.com/hazyhaar/workspaces/contract"
	"github.com/hazyhaar/workspaces/layouts"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("workspaces: not found")

// controller carries every remote operation of the facades. Mutations
// validate locally, send, then re-fetch the affected workspace and reconcile
// it. Overlapping mutations are not serialized: the last snapshot applied
// wins.
type controller struct {
	bridge     *bridge.Bridge
	pd         *privateData
	windows    Windows
	layouts    Layouts
	contexts   Contexts
	myWindowID string
	hostWait   time.Duration
	logger     *slog.Logger

	// base bounds work started by stream callbacks; cancelled by Client.Close.
	base context.Context
}

type itemArgs struct {
	ItemID string `json:"itemId"`
}

type workspaceArgs struct {
	WorkspaceID string `json:"workspaceId"`
}

type resizeArgs struct {
	ItemID string `json:"itemId"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type moveFrameArgs struct {
	ItemID   string `json:"itemId"`
	Top      int    `json:"top"`
	Left     int    `json:"left"`
	Relative bool   `json:"relative,omitempty"`
}

type titleArgs struct {
	ItemID string `json:"itemId"`
	Title  string `json:"title"`
}

type addArgs struct {
	Definition contract.Definition `json:"definition"`
	ParentID   string              `json:"parentId"`
	ParentType contract.ItemType   `json:"parentType"`
}

type addResult struct {
	ItemID   string `json:"itemId"`
	WindowID string `json:"windowId,omitempty"`
}

type windowIDResult struct {
	WindowID string `json:"windowId"`
}

type moveWindowArgs struct {
	ItemID      string `json:"itemId"`
	ContainerID string `json:"containerId"`
}

type lockWorkspaceArgs struct {
	WorkspaceID string        `json:"workspaceId"`
	Config      WorkspaceLock `json:"config"`
}

type lockContainerArgs struct {
	ItemID string            `json:"itemId"`
	Type   contract.ItemType `json:"type"`
	Config ContainerLock     `json:"config"`
}

type lockWindowArgs struct {
	PlacementID string     `json:"windowPlacementId"`
	Config      WindowLock `json:"config"`
}

type bundleArgs struct {
	Type        contract.ItemType `json:"type"`
	WorkspaceID string            `json:"workspaceId"`
}

type frameStateArgs struct {
	FrameID        string              `json:"frameId"`
	RequestedState contract.FrameState `json:"requestedState"`
}

type openWorkspaceArgs struct {
	Name           string                   `json:"name"`
	RestoreOptions *contract.RestoreOptions `json:"restoreOptions,omitempty"`
}

type summaries[T any] struct {
	Summaries []T `json:"summaries"`
}

func (c *controller) send(ctx context.Context, op string, args any) error {
	_, err := c.bridge.Send(ctx, op, args)
	return err
}

// mutate sends op and reconciles ws from a fresh snapshot.
func (c *controller) mutate(ctx context.Context, ws *Workspace, op string, args any) error {
	if err := c.send(ctx, op, args); err != nil {
		return err
	}
	return c.refreshReference(ctx, ws)
}

func (c *controller) workspaceSnapshot(ctx context.Context, itemID string) (contract.WorkspaceSnapshot, error) {
	var snap contract.WorkspaceSnapshot
	err := c.bridge.SendInto(ctx, contract.OpGetWorkspaceSnapshot, itemArgs{ItemID: itemID}, &snap)
	return snap, err
}

func (c *controller) frameSnapshot(ctx context.Context, frameID string) (contract.FrameSnapshot, error) {
	var snap contract.FrameSnapshot
	err := c.bridge.SendInto(ctx, contract.OpGetFrameSnapshot, itemArgs{ItemID: frameID}, &snap)
	return snap, err
}

// refreshReference re-fetches ws and reconciles it.
func (c *controller) refreshReference(ctx context.Context, ws *Workspace) error {
	snap, err := c.workspaceSnapshot(ctx, ws.ID())
	if err != nil {
		return err
	}
	return c.applySnapshot(ws, snap)
}

func (c *controller) fetchWorkspace(ctx context.Context, itemID string) (*Workspace, error) {
	snap, err := c.workspaceSnapshot(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return c.workspaceFromSnapshot(snap)
}

func (c *controller) createWorkspace(ctx context.Context, def contract.WorkspaceDefinition) (*Workspace, error) {
	if def.Children == nil {
		def.Children = []contract.Definition{}
	}
	var snap contract.WorkspaceSnapshot
	if err := c.bridge.SendInto(ctx, contract.OpCreateWorkspace, def, &snap); err != nil {
		return nil, err
	}
	ws, err := c.workspaceFromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	if data := contextOf(def); data != nil && c.contexts != nil {
		if err := c.contexts.SetContext(ctx, ws.ID(), data); err != nil {
			return ws, fmt.Errorf("workspaces: store context of %s: %w", ws.ID(), err)
		}
	}
	return ws, nil
}

func contextOf(def contract.WorkspaceDefinition) map[string]any {
	if def.Context != nil {
		return def.Context
	}
	if def.Config != nil {
		return def.Config.Context
	}
	return nil
}

// restoreWorkspace opens a saved layout. Layouts kept by a local store are
// expanded here and sent as a plain createWorkspace; otherwise the
// authority resolves the name.
func (c *controller) restoreWorkspace(ctx context.Context, name string, opts *contract.RestoreOptions) (*Workspace, error) {
	if name == "" {
		return nil, contract.Programming("restore: layout name is required")
	}
	loader, ok := c.layouts.(layoutLoader)
	if !ok {
		var snap contract.WorkspaceSnapshot
		if err := c.bridge.SendInto(ctx, contract.OpOpenWorkspace, openWorkspaceArgs{Name: name, RestoreOptions: opts}, &snap); err != nil {
			return nil, err
		}
		return c.workspaceFromSnapshot(snap)
	}

	layout, err := loader.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	children, err := layouts.Definitions(layout)
	if err != nil {
		return nil, err
	}
	cfg := &contract.WorkspaceCreateConfig{Title: name}
	def := contract.WorkspaceDefinition{Children: children, Config: cfg}
	if ctxData, ok := layout.Metadata["context"].(map[string]any); ok {
		def.Context = ctxData
	}
	if opts != nil {
		if opts.Title != "" {
			cfg.Title = opts.Title
		}
		cfg.FrameID = opts.FrameID
		cfg.NewFrame = opts.NewFrame
		if opts.Context != nil {
			def.Context = opts.Context
		}
	}
	return c.createWorkspace(ctx, def)
}

// lookupWindow finds the window with placement id inside ws, trying the
// placement index first.
func (c *controller) lookupWindow(ws *Workspace, placementID string) *Window {
	c.pd.mu.RLock()
	defer c.pd.mu.RUnlock()
	if w := c.pd.placement(placementID); w != nil && w.d.workspace == ws {
		return w
	}
	for _, w := range collectWindows(ws.d.children) {
		if w.d.id == placementID {
			return w
		}
	}
	return nil
}

func (c *controller) lookupBox(ws *Workspace, id string) *Box {
	c.pd.mu.RLock()
	defer c.pd.mu.RUnlock()
	for _, b := range collectBoxes(ws.d.children) {
		if b.d.id == id {
			return b
		}
	}
	return nil
}

// addChild sends addWindow or addContainer under parent and returns the
// reconciled facade of the new item.
func (c *controller) addChild(ctx context.Context, ws *Workspace, op string, args addArgs) (Item, error) {
	var res addResult
	if err := c.bridge.SendInto(ctx, op, args, &res); err != nil {
		return nil, err
	}
	if err := c.refreshReference(ctx, ws); err != nil {
		return nil, err
	}
	if op == contract.OpAddWindow {
		if w := c.lookupWindow(ws, res.ItemID); w != nil {
			return w, nil
		}
	} else if b := c.lookupBox(ws, res.ItemID); b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("workspaces: %s %s missing from the refreshed workspace: %w", args.Definition.Type, res.ItemID, ErrNotFound)
}

// waitForHost blocks until the Windows collaborator reports windowID.
func (c *controller) waitForHost(ctx context.Context, windowID string) error {
	if c.windows == nil {
		return nil
	}
	found := make(chan struct{}, 1)
	unsubscribe := c.windows.OnWindowAdded(func(h contract.HostWindow) {
		if h.ID != windowID {
			return
		}
		select {
		case found <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	list, err := c.windows.List(ctx)
	if err != nil {
		return err
	}
	for _, h := range list {
		if h.ID == windowID {
			return nil
		}
	}

	if c.hostWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.hostWait)
		defer cancel()
	}
	select {
	case <-found:
		return nil
	case <-ctx.Done():
		return &contract.RemoteCommunicationError{Op: contract.OpForceLoadWindow,
			Cause: fmt.Errorf("window %s was not reported by the host: %w", windowID, ctx.Err())}
	}
}
