package workspaces

import (
	"context"

	"github.com/hazyhaar/workspaces/contract"
)

// Frame is a host window holding workspaces.
type Frame struct {
	ctl *controller
	d   *frameData
}

// ID returns the frame id.
func (f *Frame) ID() string {
	f.ctl.pd.mu.RLock()
	defer f.ctl.pd.mu.RUnlock()
	return f.d.summary.ID
}

// Summary returns the last known frame summary.
func (f *Frame) Summary() contract.FrameSummary {
	f.ctl.pd.mu.RLock()
	defer f.ctl.pd.mu.RUnlock()
	return f.d.summary
}

// Workspaces fetches the frame snapshot and returns one facade per workspace.
func (f *Frame) Workspaces(ctx context.Context) ([]*Workspace, error) {
	snap, err := f.ctl.frameSnapshot(ctx, f.ID())
	if err != nil {
		return nil, err
	}
	out := make([]*Workspace, 0, len(snap.Workspaces))
	for _, ws := range snap.Workspaces {
		w, err := f.ctl.workspaceFromSnapshot(ws)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Snapshot returns the raw frame tree.
func (f *Frame) Snapshot(ctx context.Context) (contract.FrameSnapshot, error) {
	return f.ctl.frameSnapshot(ctx, f.ID())
}

// CreateWorkspace creates a workspace inside this frame.
func (f *Frame) CreateWorkspace(ctx context.Context, def contract.WorkspaceDefinition) (*Workspace, error) {
	cfg := contract.WorkspaceCreateConfig{}
	if def.Config != nil {
		cfg = *def.Config
	}
	cfg.FrameID = f.ID()
	cfg.NewFrame = false
	def.Config = &cfg
	return f.ctl.createWorkspace(ctx, def)
}

// Close closes the frame and every workspace in it.
func (f *Frame) Close(ctx context.Context) error {
	return f.ctl.send(ctx, contract.OpCloseItem, itemArgs{ItemID: f.ID()})
}

// Focus brings the frame to the front.
func (f *Frame) Focus(ctx context.Context) error {
	return f.ctl.send(ctx, contract.OpFocusItem, itemArgs{ItemID: f.ID()})
}

// Resize sets the frame bounds size.
func (f *Frame) Resize(ctx context.Context, size Size) error {
	if err := size.check("frame", true, true); err != nil {
		return err
	}
	return f.ctl.send(ctx, contract.OpResizeItem, resizeArgs{ItemID: f.ID(), Width: size.Width, Height: size.Height})
}

// Move places the frame at top, left in screen coordinates.
func (f *Frame) Move(ctx context.Context, top, left int) error {
	return f.ctl.send(ctx, contract.OpMoveFrame, moveFrameArgs{ItemID: f.ID(), Top: top, Left: left})
}

// State returns the frame window state. Hosts without window state control
// answer with *contract.UnsupportedError.
func (f *Frame) State(ctx context.Context) (contract.FrameState, error) {
	var res struct {
		State contract.FrameState `json:"state"`
	}
	if err := f.ctl.bridge.SendInto(ctx, contract.OpGetFrameState, itemArgs{ItemID: f.ID()}, &res); err != nil {
		return "", err
	}
	return res.State, nil
}

func (f *Frame) changeState(ctx context.Context, state contract.FrameState) error {
	return f.ctl.send(ctx, contract.OpChangeFrameState, frameStateArgs{FrameID: f.ID(), RequestedState: state})
}

// Maximize maximizes the frame.
func (f *Frame) Maximize(ctx context.Context) error { return f.changeState(ctx, contract.FrameMaximized) }

// Minimize minimizes the frame.
func (f *Frame) Minimize(ctx context.Context) error { return f.changeState(ctx, contract.FrameMinimized) }

// Restore returns the frame to its normal state.
func (f *Frame) Restore(ctx context.Context) error { return f.changeState(ctx, contract.FrameNormal) }

// OnClosed calls fn when the frame closes.
func (f *Frame) OnClosed(ctx context.Context, fn func()) (func(), error) {
	return f.onAction(ctx, contract.ActionClosed, fn)
}

// OnMaximized calls fn when the frame is maximized.
func (f *Frame) OnMaximized(ctx context.Context, fn func()) (func(), error) {
	return f.onAction(ctx, contract.ActionMaximized, fn)
}

// OnMinimized calls fn when the frame is minimized.
func (f *Frame) OnMinimized(ctx context.Context, fn func()) (func(), error) {
	return f.onAction(ctx, contract.ActionMinimized, fn)
}

// OnNormal calls fn when the frame returns to its normal state.
func (f *Frame) OnNormal(ctx context.Context, fn func()) (func(), error) {
	return f.onAction(ctx, contract.ActionNormal, fn)
}

func (f *Frame) onAction(ctx context.Context, action string, fn func()) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("frame %s: nil callback", action)
	}
	return f.ctl.subscribe(ctx, contract.EventFrame, contract.ScopeFrame, f.ID(), action,
		func(contract.Event) error {
			fn()
			return nil
		})
}

// OnWorkspaceOpened calls fn with each workspace opened in this frame.
func (f *Frame) OnWorkspaceOpened(ctx context.Context, fn func(*Workspace)) (func(), error) {
	return f.ctl.onWorkspaceOpened(ctx, contract.ScopeFrame, f.ID(), fn)
}

// OnWorkspaceClosed calls fn for each workspace closed in this frame.
func (f *Frame) OnWorkspaceClosed(ctx context.Context, fn func(WorkspaceClosed)) (func(), error) {
	return f.ctl.onWorkspaceClosed(ctx, contract.ScopeFrame, f.ID(), fn)
}

// OnWindowAdded calls fn with each window placed in this frame.
func (f *Frame) OnWindowAdded(ctx context.Context, fn func(*Window)) (func(), error) {
	return f.ctl.onWindow(ctx, contract.ScopeFrame, f.ID(), contract.ActionAdded, fn)
}

// OnWindowLoaded calls fn with each window of this frame that finishes
// loading.
func (f *Frame) OnWindowLoaded(ctx context.Context, fn func(*Window)) (func(), error) {
	return f.ctl.onWindow(ctx, contract.ScopeFrame, f.ID(), contract.ActionLoaded, fn)
}

// OnWindowRemoved calls fn for each window removed from this frame.
func (f *Frame) OnWindowRemoved(ctx context.Context, fn func(WindowRemoved)) (func(), error) {
	return f.ctl.onWindowRemoved(ctx, contract.ScopeFrame, f.ID(), fn)
}
