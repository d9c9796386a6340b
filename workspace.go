package workspaces

import (
	"context"
	"slices"

	"github.com/hazyhaar/workspaces/builder"
	"github.com/hazyhaar/workspaces/contract"
	"github.com/hazyhaar/workspaces/layouts"
)

// Workspace mirrors one workspace tree. Mutations refresh it from the
// authority, keeping the identity of boxes and windows that survive.
type Workspace struct {
	ctl *controller
	d   *workspaceData
}

// ID returns the workspace id.
func (w *Workspace) ID() string { return w.d.id }

// Type returns contract.TypeWorkspace.
func (w *Workspace) Type() contract.ItemType { return contract.TypeWorkspace }

// Config returns the last known workspace configuration.
func (w *Workspace) Config() contract.WorkspaceConfig {
	w.ctl.pd.mu.RLock()
	defer w.ctl.pd.mu.RUnlock()
	return w.d.config
}

func (w *Workspace) Title() string { return w.Config().Title }
func (w *Workspace) FrameID() string { return w.Config().FrameID }
func (w *Workspace) PositionIndex() int { return w.Config().PositionIndex }
func (w *Workspace) LayoutName() string { return w.Config().LayoutName }
func (w *Workspace) IsSelected() bool { return w.Config().IsSelected }
func (w *Workspace) IsHibernated() bool { return w.Config().IsHibernated }

// Frame returns the frame facade the workspace was last seen in.
func (w *Workspace) Frame() *Frame {
	w.ctl.pd.mu.RLock()
	defer w.ctl.pd.mu.RUnlock()
	return w.d.frame
}

// Children returns the root boxes in position order.
func (w *Workspace) Children() []Item {
	w.ctl.pd.mu.RLock()
	defer w.ctl.pd.mu.RUnlock()
	return slices.Clone(w.d.children)
}

// Windows returns every window of the tree, depth-first.
func (w *Workspace) Windows() []*Window {
	w.ctl.pd.mu.RLock()
	defer w.ctl.pd.mu.RUnlock()
	return collectWindows(w.d.children)
}

// Boxes returns every row, column and group of the tree, depth-first.
func (w *Workspace) Boxes() []*Box {
	w.ctl.pd.mu.RLock()
	defer w.ctl.pd.mu.RUnlock()
	return collectBoxes(w.d.children)
}

func (w *Workspace) Rows() []*Box { return filter(w.Boxes(), isKind(contract.TypeRow)) }
func (w *Workspace) Columns() []*Box { return filter(w.Boxes(), isKind(contract.TypeColumn)) }
func (w *Workspace) Groups() []*Box { return filter(w.Boxes(), isKind(contract.TypeGroup)) }

// GetWindow returns the first window matching pred, or ErrNotFound.
func (w *Workspace) GetWindow(pred func(*Window) bool) (*Window, error) {
	return find("window", w.Windows(), pred)
}

// GetBox returns the first box matching pred, or ErrNotFound.
func (w *Workspace) GetBox(pred func(*Box) bool) (*Box, error) {
	return find("box", w.Boxes(), pred)
}

// Refresh reconciles the workspace with the authority's current tree.
func (w *Workspace) Refresh(ctx context.Context) error {
	return w.ctl.refreshReference(ctx, w)
}

// Snapshot returns the raw workspace tree without touching the mirror.
func (w *Workspace) Snapshot(ctx context.Context) (contract.WorkspaceSnapshot, error) {
	return w.ctl.workspaceSnapshot(ctx, w.ID())
}

// Close closes the workspace and its windows.
func (w *Workspace) Close(ctx context.Context) error {
	return w.ctl.send(ctx, contract.OpCloseItem, itemArgs{ItemID: w.ID()})
}

// Focus selects the workspace in its frame.
func (w *Workspace) Focus(ctx context.Context) error {
	return w.ctl.mutate(ctx, w, contract.OpFocusItem, itemArgs{ItemID: w.ID()})
}

// SetTitle renames the workspace.
func (w *Workspace) SetTitle(ctx context.Context, title string) error {
	return w.ctl.mutate(ctx, w, contract.OpSetItemTitle, titleArgs{ItemID: w.ID(), Title: title})
}

// Lock changes the workspace lock configuration.
func (w *Workspace) Lock(ctx context.Context, lock WorkspaceLock) error {
	if err := checkLock("workspace", lock, nil); err != nil {
		return err
	}
	return w.ctl.mutate(ctx, w, contract.OpLockWorkspace, lockWorkspaceArgs{WorkspaceID: w.ID(), Config: lock})
}

// Hibernate closes the workspace windows while keeping its layout.
func (w *Workspace) Hibernate(ctx context.Context) error {
	return w.ctl.mutate(ctx, w, contract.OpHibernateWorkspace, workspaceArgs{WorkspaceID: w.ID()})
}

// Resume reopens a hibernated workspace.
func (w *Workspace) Resume(ctx context.Context) error {
	return w.ctl.mutate(ctx, w, contract.OpResumeWorkspace, workspaceArgs{WorkspaceID: w.ID()})
}

// Bundle regroups every window into a single row or column.
func (w *Workspace) Bundle(ctx context.Context, kind contract.ItemType) error {
	if kind != contract.TypeRow && kind != contract.TypeColumn {
		return contract.Programming("bundle: want row or column, got %q", kind)
	}
	return w.ctl.mutate(ctx, w, contract.OpBundleWorkspace, bundleArgs{Type: kind, WorkspaceID: w.ID()})
}

// SaveLayout saves the workspace under name through the layouts
// collaborator.
func (w *Workspace) SaveLayout(ctx context.Context, name string, saveContext bool) error {
	if name == "" {
		return contract.Programming("save layout: name is required")
	}
	if w.ctl.layouts == nil {
		return contract.Programming("save layout: no layouts collaborator configured")
	}
	if err := w.ctl.layouts.Save(ctx, layouts.SaveRequest{Name: name, WorkspaceID: w.ID(), SaveContext: saveContext}); err != nil {
		return err
	}
	return w.Refresh(ctx)
}

// AddRow appends a row at the root. The root holds only rows, only columns
// or a single group; anything else fails before any remote call.
func (w *Workspace) AddRow(ctx context.Context, config map[string]any) (*Box, error) {
	return w.addRoot(ctx, contract.Definition{Type: contract.TypeRow, Config: config})
}

// AddColumn appends a column at the root.
func (w *Workspace) AddColumn(ctx context.Context, config map[string]any) (*Box, error) {
	return w.addRoot(ctx, contract.Definition{Type: contract.TypeColumn, Config: config})
}

// AddGroup adds the single root group.
func (w *Workspace) AddGroup(ctx context.Context, config map[string]any) (*Box, error) {
	return w.addRoot(ctx, contract.Definition{Type: contract.TypeGroup, Config: config})
}

// AddContainer adds a container built offline at the root.
func (w *Workspace) AddContainer(ctx context.Context, b *builder.Builder) (*Box, error) {
	if b == nil || !b.Kind().IsContainer() {
		return nil, contract.Programming("add container: a row, column or group builder is required")
	}
	return w.addRoot(ctx, b.Definition())
}

func (w *Workspace) addRoot(ctx context.Context, def contract.Definition) (*Box, error) {
	w.ctl.pd.mu.RLock()
	kinds := make([]contract.ItemType, 0, len(w.d.children))
	for _, c := range w.d.children {
		kinds = append(kinds, kindOf(c))
	}
	w.ctl.pd.mu.RUnlock()
	if err := builder.CheckRoot(kinds, def.Type); err != nil {
		return nil, err
	}

	it, err := w.ctl.addChild(ctx, w, contract.OpAddContainer,
		addArgs{Definition: def, ParentID: w.ID(), ParentType: contract.TypeWorkspace})
	if err != nil {
		return nil, err
	}
	return it.(*Box), nil
}

// RemoveChild closes the first root child matching pred. It is a no-op when
// nothing matches.
func (w *Workspace) RemoveChild(ctx context.Context, pred func(Item) bool) error {
	if pred == nil {
		return contract.Programming("remove child: nil predicate")
	}
	child := first(w.Children(), pred)
	if child == nil {
		return nil
	}
	return w.ctl.mutate(ctx, w, contract.OpCloseItem, itemArgs{ItemID: child.ID()})
}

// GetContext returns the workspace context.
func (w *Workspace) GetContext(ctx context.Context) (map[string]any, error) {
	if w.ctl.contexts == nil {
		return nil, contract.Programming("context: no contexts collaborator configured")
	}
	return w.ctl.contexts.GetContext(ctx, w.ID())
}

// SetContext replaces the workspace context.
func (w *Workspace) SetContext(ctx context.Context, data map[string]any) error {
	if w.ctl.contexts == nil {
		return contract.Programming("context: no contexts collaborator configured")
	}
	return w.ctl.contexts.SetContext(ctx, w.ID(), data)
}

// UpdateContext merges delta into the workspace context.
func (w *Workspace) UpdateContext(ctx context.Context, delta map[string]any) error {
	if w.ctl.contexts == nil {
		return contract.Programming("context: no contexts collaborator configured")
	}
	return w.ctl.contexts.UpdateContext(ctx, w.ID(), delta)
}

// OnContextUpdated calls fn with the full context after every change.
func (w *Workspace) OnContextUpdated(fn func(map[string]any)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("context: nil callback")
	}
	if w.ctl.contexts == nil {
		return nil, contract.Programming("context: no contexts collaborator configured")
	}
	return w.ctl.contexts.SubscribeContext(w.ID(), fn), nil
}

// OnClosed calls fn when the workspace closes.
func (w *Workspace) OnClosed(ctx context.Context, fn func()) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("workspace closed: nil callback")
	}
	return w.ctl.subscribe(ctx, contract.EventWorkspace, contract.ScopeWorkspace, w.ID(), contract.ActionClosed,
		func(contract.Event) error {
			fn()
			return nil
		})
}

// OnSelected calls fn, after a refresh, when the workspace is selected.
func (w *Workspace) OnSelected(ctx context.Context, fn func()) (func(), error) {
	return w.onRefreshed(ctx, contract.ActionSelected, fn)
}

// OnHibernated calls fn, after a refresh, when the workspace hibernates.
func (w *Workspace) OnHibernated(ctx context.Context, fn func()) (func(), error) {
	return w.onRefreshed(ctx, contract.ActionHibernated, fn)
}

// OnResumed calls fn, after a refresh, when the workspace resumes.
func (w *Workspace) OnResumed(ctx context.Context, fn func()) (func(), error) {
	return w.onRefreshed(ctx, contract.ActionResumed, fn)
}

// OnLockConfigurationChanged calls fn, after a refresh, when the workspace
// lock configuration changes.
func (w *Workspace) OnLockConfigurationChanged(ctx context.Context, fn func()) (func(), error) {
	return w.onRefreshed(ctx, contract.ActionLockConfigurationChanged, fn)
}

func (w *Workspace) onRefreshed(ctx context.Context, action string, fn func()) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("workspace %s: nil callback", action)
	}
	return w.ctl.subscribe(ctx, contract.EventWorkspace, contract.ScopeWorkspace, w.ID(), action,
		func(contract.Event) error {
			if err := w.ctl.refreshReference(w.ctl.base, w); err != nil {
				return err
			}
			fn()
			return nil
		})
}

// OnWindowAdded calls fn with the window facade of this workspace, after a
// refresh, each time a window is placed in it.
func (w *Workspace) OnWindowAdded(ctx context.Context, fn func(*Window)) (func(), error) {
	return w.onWindow(ctx, contract.ActionAdded, fn)
}

// OnWindowLoaded calls fn with each window of this workspace that finishes
// loading.
func (w *Workspace) OnWindowLoaded(ctx context.Context, fn func(*Window)) (func(), error) {
	return w.onWindow(ctx, contract.ActionLoaded, fn)
}

func (w *Workspace) onWindow(ctx context.Context, action string, fn func(*Window)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("window %s: nil callback", action)
	}
	return w.ctl.subscribe(ctx, contract.EventWindow, contract.ScopeWorkspace, w.ID(), action,
		func(ev contract.Event) error {
			if err := w.ctl.refreshReference(w.ctl.base, w); err != nil {
				return err
			}
			win := w.ctl.lookupWindow(w, ev.WindowID())
			if win == nil {
				w.ctl.logger.Debug("workspaces: window gone before callback", "workspace", w.ID(), "window", ev.WindowID())
				return nil
			}
			fn(win)
			return nil
		})
}

// OnWindowRemoved calls fn, after a refresh, for each window removed from
// the workspace.
func (w *Workspace) OnWindowRemoved(ctx context.Context, fn func(WindowRemoved)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("window removed: nil callback")
	}
	return w.ctl.subscribe(ctx, contract.EventWindow, contract.ScopeWorkspace, w.ID(), contract.ActionRemoved,
		func(ev contract.Event) error {
			if err := w.ctl.refreshReference(w.ctl.base, w); err != nil {
				return err
			}
			fn(windowRemoved(ev))
			return nil
		})
}

// OnContainerAdded calls fn with the new box facade after a refresh.
func (w *Workspace) OnContainerAdded(ctx context.Context, fn func(*Box)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("container added: nil callback")
	}
	return w.ctl.subscribe(ctx, contract.EventContainer, contract.ScopeWorkspace, w.ID(), contract.ActionAdded,
		func(ev contract.Event) error {
			if err := w.ctl.refreshReference(w.ctl.base, w); err != nil {
				return err
			}
			if b := w.ctl.lookupBox(w, ev.ContainerSummary.ItemID); b != nil {
				fn(b)
			}
			return nil
		})
}

// OnContainerRemoved calls fn with the removed container id after a refresh.
func (w *Workspace) OnContainerRemoved(ctx context.Context, fn func(id string)) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("container removed: nil callback")
	}
	return w.ctl.subscribe(ctx, contract.EventContainer, contract.ScopeWorkspace, w.ID(), contract.ActionRemoved,
		func(ev contract.Event) error {
			if err := w.ctl.refreshReference(w.ctl.base, w); err != nil {
				return err
			}
			fn(ev.ContainerSummary.ItemID)
			return nil
		})
}
