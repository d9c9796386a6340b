package workspaces

import (
	"context"

	"github.com/hazyhaar/workspaces/bridge"
	"github.com/hazyhaar/workspaces/contract"
)

// WorkspaceClosed describes a closed workspace.
type WorkspaceClosed struct {
	WorkspaceID string
	FrameID     string
}

// WindowRemoved describes a window placement that left a workspace.
type WindowRemoved struct {
	PlacementID string
	WindowID    string
	WorkspaceID string
	FrameID     string
}

func windowRemoved(ev contract.Event) WindowRemoved {
	r := WindowRemoved{PlacementID: ev.WindowID(), WorkspaceID: ev.WorkspaceID(), FrameID: ev.FrameID()}
	if ev.WindowSummary != nil {
		r.WindowID = ev.WindowSummary.Config.WindowID
	}
	return r
}

// subscribe routes one (type, scope, id, action) registration through the
// bridge, which shares a single remote stream per (type, scope, id).
func (c *controller) subscribe(ctx context.Context, t contract.EventType, scope contract.Scope, id, action string, fn func(contract.Event) error) (func(), error) {
	return c.bridge.Subscribe(ctx, bridge.SubscriptionConfig{
		EventType: t,
		Scope:     scope,
		ScopeID:   id,
		Action:    action,
		Callback:  fn,
	})
}

// onWorkspaceOpened resolves each opened workspace to a fresh facade.
func (c *controller) onWorkspaceOpened(ctx context.Context, scope contract.Scope, id string, fn func(*Workspace)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("workspace opened: nil callback")
	}
	return c.subscribe(ctx, contract.EventWorkspace, scope, id, contract.ActionOpened,
		func(ev contract.Event) error {
			ws, err := c.fetchWorkspace(c.base, ev.WorkspaceID())
			if err != nil {
				return err
			}
			fn(ws)
			return nil
		})
}

func (c *controller) onWorkspaceClosed(ctx context.Context, scope contract.Scope, id string, fn func(WorkspaceClosed)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("workspace closed: nil callback")
	}
	return c.subscribe(ctx, contract.EventWorkspace, scope, id, contract.ActionClosed,
		func(ev contract.Event) error {
			fn(WorkspaceClosed{WorkspaceID: ev.WorkspaceID(), FrameID: ev.FrameID()})
			return nil
		})
}

// onWindow resolves the window of each event to a facade before calling fn.
func (c *controller) onWindow(ctx context.Context, scope contract.Scope, id, action string, fn func(*Window)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("window %s: nil callback", action)
	}
	return c.subscribe(ctx, contract.EventWindow, scope, id, action,
		func(ev contract.Event) error {
			win, err := c.resolveWindow(c.base, ev)
			if err != nil {
				return err
			}
			if win == nil {
				c.logger.Debug("workspaces: window gone before callback", "workspace", ev.WorkspaceID(), "window", ev.WindowID())
				return nil
			}
			fn(win)
			return nil
		})
}

// resolveWindow returns the facade of the window ev is about. A placement
// already mirrored in the same workspace is refreshed through that
// workspace, so every callback of one event gets the same *Window.
// Otherwise the workspace is fetched anew.
func (c *controller) resolveWindow(ctx context.Context, ev contract.Event) (*Window, error) {
	id := ev.WindowID()
	c.pd.mu.RLock()
	var ws *Workspace
	if known := c.pd.placement(id); known != nil {
		ws = known.d.workspace
	}
	c.pd.mu.RUnlock()

	if ws != nil && ws.ID() == ev.WorkspaceID() {
		if err := c.refreshReference(ctx, ws); err != nil {
			return nil, err
		}
		if w := c.lookupWindow(ws, id); w != nil {
			return w, nil
		}
	}
	ws, err := c.fetchWorkspace(ctx, ev.WorkspaceID())
	if err != nil {
		return nil, err
	}
	return c.lookupWindow(ws, id), nil
}

func (c *controller) onWindowRemoved(ctx context.Context, scope contract.Scope, id string, fn func(WindowRemoved)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("window removed: nil callback")
	}
	return c.subscribe(ctx, contract.EventWindow, scope, id, contract.ActionRemoved,
		func(ev contract.Event) error {
			fn(windowRemoved(ev))
			return nil
		})
}
