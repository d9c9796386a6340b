package workspaces

import (
	"context"
	"fmt"

	"github.com/hazyhaar/workspaces/contract"
)

// Window is a window placement inside a workspace. ID is the placement id;
// WindowID is the hosted window's id, empty until the window has loaded.
type Window struct {
	ctl *controller
	d   *windowData
}

// ID returns the placement id.
func (w *Window) ID() string { return w.d.id }

// Type returns contract.TypeWindow.
func (w *Window) Type() contract.ItemType { return contract.TypeWindow }

// Config returns the last known window configuration.
func (w *Window) Config() contract.WindowConfig {
	w.ctl.pd.mu.RLock()
	defer w.ctl.pd.mu.RUnlock()
	return w.d.config
}

func (w *Window) WindowID() string { return w.Config().WindowID }
func (w *Window) AppName() string { return w.Config().AppName }
func (w *Window) Title() string { return w.Config().Title }
func (w *Window) URL() string { return w.Config().URL }
func (w *Window) IsLoaded() bool { return w.Config().IsLoaded }
func (w *Window) IsFocused() bool { return w.Config().IsFocused }
func (w *Window) IsMaximized() bool { return w.Config().IsMaximized }
func (w *Window) IsSelected() bool { return w.Config().IsSelected }
func (w *Window) PositionIndex() int { return w.Config().PositionIndex }
func (w *Window) Width() int { return w.Config().Width }
func (w *Window) Height() int { return w.Config().Height }
func (w *Window) FrameID() string { return w.Config().FrameID }
func (w *Window) WorkspaceID() string { return w.Config().WorkspaceID }

// Parent returns the enclosing box, or the workspace if the window sits at
// the root.
func (w *Window) Parent() Node {
	w.ctl.pd.mu.RLock()
	defer w.ctl.pd.mu.RUnlock()
	if w.d.parent != nil {
		return w.d.parent
	}
	if w.d.workspace != nil {
		return w.d.workspace
	}
	return nil
}

// Workspace returns the workspace the window was last seen in.
func (w *Window) Workspace() *Workspace {
	w.ctl.pd.mu.RLock()
	defer w.ctl.pd.mu.RUnlock()
	return w.d.workspace
}

// Frame returns the frame of the window's workspace.
func (w *Window) Frame() *Frame {
	if ws := w.Workspace(); ws != nil {
		return ws.Frame()
	}
	return nil
}

func (w *Window) live() (*Workspace, error) {
	w.ctl.pd.mu.RLock()
	defer w.ctl.pd.mu.RUnlock()
	if w.d.disposed {
		return nil, contract.Programming("window %s was disposed", w.d.id)
	}
	if w.d.workspace == nil {
		return nil, contract.Programming("window %s is not attached to a workspace", w.d.id)
	}
	return w.d.workspace, nil
}

func (w *Window) mutate(ctx context.Context, op string, args any) error {
	ws, err := w.live()
	if err != nil {
		return err
	}
	return w.ctl.mutate(ctx, ws, op, args)
}

// ForceLoad loads a window that has not been shown yet and waits until the
// host reports it. It returns the hosted window id.
func (w *Window) ForceLoad(ctx context.Context) (string, error) {
	ws, err := w.live()
	if err != nil {
		return "", err
	}
	if cfg := w.Config(); cfg.IsLoaded && cfg.WindowID != "" {
		return cfg.WindowID, nil
	}
	var res windowIDResult
	if err := w.ctl.bridge.SendInto(ctx, contract.OpForceLoadWindow, itemArgs{ItemID: w.ID()}, &res); err != nil {
		return "", err
	}
	if err := w.ctl.waitForHost(ctx, res.WindowID); err != nil {
		return "", err
	}
	if err := w.ctl.refreshReference(ctx, ws); err != nil {
		return "", err
	}
	return res.WindowID, nil
}

// Focus focuses the window.
func (w *Window) Focus(ctx context.Context) error {
	return w.mutate(ctx, contract.OpFocusItem, itemArgs{ItemID: w.ID()})
}

// Close removes the window from its workspace.
func (w *Window) Close(ctx context.Context) error {
	return w.mutate(ctx, contract.OpCloseItem, itemArgs{ItemID: w.ID()})
}

// SetTitle changes the window tab title.
func (w *Window) SetTitle(ctx context.Context, title string) error {
	return w.mutate(ctx, contract.OpSetItemTitle, titleArgs{ItemID: w.ID(), Title: title})
}

// Maximize maximizes the window inside its workspace.
func (w *Window) Maximize(ctx context.Context) error {
	return w.mutate(ctx, contract.OpMaximizeItem, itemArgs{ItemID: w.ID()})
}

// Restore restores a maximized window.
func (w *Window) Restore(ctx context.Context) error {
	return w.mutate(ctx, contract.OpRestoreItem, itemArgs{ItemID: w.ID()})
}

// Lock changes the window lock configuration.
func (w *Window) Lock(ctx context.Context, lock WindowLock) error {
	if err := checkLock("window", lock, nil); err != nil {
		return err
	}
	return w.mutate(ctx, contract.OpLockWindow, lockWindowArgs{PlacementID: w.ID(), Config: lock})
}

// SetSize resizes the window.
func (w *Window) SetSize(ctx context.Context, size Size) error {
	if err := size.check("window", true, true); err != nil {
		return err
	}
	return w.mutate(ctx, contract.OpResizeItem, resizeArgs{ItemID: w.ID(), Width: size.Width, Height: size.Height})
}

// Eject takes the window out of the workspace into a standalone host
// window and returns its id.
func (w *Window) Eject(ctx context.Context) (string, error) {
	ws, err := w.live()
	if err != nil {
		return "", err
	}
	var res windowIDResult
	if err := w.ctl.bridge.SendInto(ctx, contract.OpEjectWindow, itemArgs{ItemID: w.ID()}, &res); err != nil {
		return "", err
	}
	if err := w.ctl.refreshReference(ctx, ws); err != nil {
		return "", err
	}
	return res.WindowID, nil
}

// MoveTo moves the window into target, possibly in another workspace. Both
// workspaces are refreshed.
func (w *Window) MoveTo(ctx context.Context, target *Box) error {
	if target == nil {
		return contract.Programming("move window: nil target")
	}
	ws, err := w.live()
	if err != nil {
		return err
	}
	_, dest, err := target.live()
	if err != nil {
		return err
	}
	if err := w.ctl.send(ctx, contract.OpMoveWindowTo, moveWindowArgs{ItemID: w.ID(), ContainerID: target.ID()}); err != nil {
		return err
	}
	if err := w.ctl.refreshReference(ctx, ws); err != nil {
		return err
	}
	if dest != ws {
		return w.ctl.refreshReference(ctx, dest)
	}
	return nil
}

// HostWindow returns the hosted window as reported by the Windows
// collaborator.
func (w *Window) HostWindow(ctx context.Context) (contract.HostWindow, error) {
	cfg := w.Config()
	if cfg.WindowID == "" {
		return contract.HostWindow{}, contract.Programming("window %s has not loaded yet", w.ID())
	}
	if w.ctl.windows == nil {
		return contract.HostWindow{ID: cfg.WindowID, AppName: cfg.AppName, Title: cfg.Title}, nil
	}
	list, err := w.ctl.windows.List(ctx)
	if err != nil {
		return contract.HostWindow{}, err
	}
	for _, h := range list {
		if h.ID == cfg.WindowID {
			return h, nil
		}
	}
	return contract.HostWindow{}, fmt.Errorf("workspaces: host window %s: %w", cfg.WindowID, ErrNotFound)
}

// Dispose drops the window record and its placement index entry.
func (w *Window) Dispose() {
	w.ctl.pd.deleteData(w)
}

// OnRemoved calls fn when this placement is removed.
func (w *Window) OnRemoved(ctx context.Context, fn func()) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("window removed: nil callback")
	}
	return w.ctl.subscribe(ctx, contract.EventWindow, contract.ScopeWindow, w.ID(), contract.ActionRemoved,
		func(contract.Event) error {
			fn()
			return nil
		})
}
