package workspaces

import (
	"context"
	"maps"
	"slices"

	"github.com/hazyhaar/workspaces/builder"
	"github.com/hazyhaar/workspaces/contract"
)

// Box is a row, column or group. What a box accepts (children, size
// dimensions, lock options, maximize) depends on its kind:
//
//	row     columns, groups, windows   height   allowDrop, allowSplitters
//	column  rows, groups, windows      width    allowDrop, allowSplitters
//	group   windows                    both     allowDrop, allowExtract, allowReorder,
//	                                            showMaximizeButton, showEjectButton,
//	                                            showAddWindowButton; maximize/restore
type Box struct {
	ctl *controller
	d   *boxData
}

// ID returns the box id.
func (b *Box) ID() string { return b.d.id }

// Type returns the box kind.
func (b *Box) Type() contract.ItemType {
	b.ctl.pd.mu.RLock()
	defer b.ctl.pd.mu.RUnlock()
	return b.d.kind
}

// Config returns the last known box configuration.
func (b *Box) Config() contract.ContainerConfig {
	b.ctl.pd.mu.RLock()
	defer b.ctl.pd.mu.RUnlock()
	return b.d.config
}

func (b *Box) PositionIndex() int { return b.Config().PositionIndex }
func (b *Box) Width() int { return b.Config().Width }
func (b *Box) Height() int { return b.Config().Height }
func (b *Box) IsMaximized() bool { return b.Config().IsMaximized }

// Parent returns the enclosing box, or the workspace at the root.
func (b *Box) Parent() Node {
	b.ctl.pd.mu.RLock()
	defer b.ctl.pd.mu.RUnlock()
	if b.d.parent != nil {
		return b.d.parent
	}
	if b.d.workspace != nil {
		return b.d.workspace
	}
	return nil
}

// Workspace returns the workspace the box was last seen in.
func (b *Box) Workspace() *Workspace {
	b.ctl.pd.mu.RLock()
	defer b.ctl.pd.mu.RUnlock()
	return b.d.workspace
}

// Frame returns the frame of the box's workspace.
func (b *Box) Frame() *Frame {
	if ws := b.Workspace(); ws != nil {
		return ws.Frame()
	}
	return nil
}

// Children returns the direct children in position order.
func (b *Box) Children() []Item {
	b.ctl.pd.mu.RLock()
	defer b.ctl.pd.mu.RUnlock()
	return slices.Clone(b.d.children)
}

// Windows returns every window below the box, depth-first.
func (b *Box) Windows() []*Window {
	b.ctl.pd.mu.RLock()
	defer b.ctl.pd.mu.RUnlock()
	return collectWindows(b.d.children)
}

// Boxes returns every box below this one, depth-first.
func (b *Box) Boxes() []*Box {
	b.ctl.pd.mu.RLock()
	defer b.ctl.pd.mu.RUnlock()
	return collectBoxes(b.d.children)
}

// GetWindow returns the first window below the box matching pred.
func (b *Box) GetWindow(pred func(*Window) bool) (*Window, error) {
	return find("window", b.Windows(), pred)
}

// GetBox returns the first box below this one matching pred.
func (b *Box) GetBox(pred func(*Box) bool) (*Box, error) {
	return find("box", b.Boxes(), pred)
}

// live returns the box kind and workspace, failing for disposed or
// detached boxes.
func (b *Box) live() (contract.ItemType, *Workspace, error) {
	b.ctl.pd.mu.RLock()
	defer b.ctl.pd.mu.RUnlock()
	if b.d.disposed {
		return "", nil, contract.Programming("box %s was disposed", b.d.id)
	}
	if b.d.workspace == nil {
		return "", nil, contract.Programming("box %s is not attached to a workspace", b.d.id)
	}
	return b.d.kind, b.d.workspace, nil
}

func (b *Box) accepts(kind, child contract.ItemType) error {
	if !slices.Contains(boxRules[kind].children, child) {
		return contract.Programming("a %s cannot hold a %s", kind, child)
	}
	return nil
}

// AddWindow places a new window in the box.
func (b *Box) AddWindow(ctx context.Context, w builder.Window) (*Window, error) {
	kind, ws, err := b.live()
	if err != nil {
		return nil, err
	}
	def := contract.Definition{
		Type:     contract.TypeWindow,
		AppName:  w.AppName,
		WindowID: w.WindowID,
		URL:      w.URL,
		Context:  maps.Clone(w.Context),
		Config:   maps.Clone(w.Config),
	}
	it, err := b.ctl.addChild(ctx, ws, contract.OpAddWindow, addArgs{Definition: def, ParentID: b.ID(), ParentType: kind})
	if err != nil {
		return nil, err
	}
	return it.(*Window), nil
}

// AddRow appends a row to a column.
func (b *Box) AddRow(ctx context.Context, config map[string]any) (*Box, error) {
	return b.addContainer(ctx, contract.Definition{Type: contract.TypeRow, Config: maps.Clone(config)})
}

// AddColumn appends a column to a row.
func (b *Box) AddColumn(ctx context.Context, config map[string]any) (*Box, error) {
	return b.addContainer(ctx, contract.Definition{Type: contract.TypeColumn, Config: maps.Clone(config)})
}

// AddGroup appends a group to a row or column.
func (b *Box) AddGroup(ctx context.Context, config map[string]any) (*Box, error) {
	return b.addContainer(ctx, contract.Definition{Type: contract.TypeGroup, Config: maps.Clone(config)})
}

// AddContainer appends a container built offline.
func (b *Box) AddContainer(ctx context.Context, nested *builder.Builder) (*Box, error) {
	if nested == nil || !nested.Kind().IsContainer() {
		return nil, contract.Programming("add container: a row, column or group builder is required")
	}
	return b.addContainer(ctx, nested.Definition())
}

func (b *Box) addContainer(ctx context.Context, def contract.Definition) (*Box, error) {
	kind, ws, err := b.live()
	if err != nil {
		return nil, err
	}
	if err := b.accepts(kind, def.Type); err != nil {
		return nil, err
	}
	it, err := b.ctl.addChild(ctx, ws, contract.OpAddContainer, addArgs{Definition: def, ParentID: b.ID(), ParentType: kind})
	if err != nil {
		return nil, err
	}
	return it.(*Box), nil
}

// RemoveChild closes the first direct child matching pred. It is a no-op
// when nothing matches.
func (b *Box) RemoveChild(ctx context.Context, pred func(Item) bool) error {
	if pred == nil {
		return contract.Programming("remove child: nil predicate")
	}
	_, ws, err := b.live()
	if err != nil {
		return err
	}
	child := first(b.Children(), pred)
	if child == nil {
		return nil
	}
	return b.ctl.mutate(ctx, ws, contract.OpCloseItem, itemArgs{ItemID: child.ID()})
}

// Close removes the box and everything below it.
func (b *Box) Close(ctx context.Context) error {
	_, ws, err := b.live()
	if err != nil {
		return err
	}
	return b.ctl.mutate(ctx, ws, contract.OpCloseItem, itemArgs{ItemID: b.ID()})
}

// Lock changes the lock configuration. Options that do not apply to the
// box kind fail before any remote call.
func (b *Box) Lock(ctx context.Context, lock ContainerLock) error {
	kind, ws, err := b.live()
	if err != nil {
		return err
	}
	if err := checkLock(string(kind), lock, boxRules[kind].locks); err != nil {
		return err
	}
	return b.ctl.mutate(ctx, ws, contract.OpLockContainer, lockContainerArgs{ItemID: b.ID(), Type: kind, Config: lock})
}

// SetSize resizes the box: height for rows, width for columns, either for
// groups.
func (b *Box) SetSize(ctx context.Context, size Size) error {
	kind, ws, err := b.live()
	if err != nil {
		return err
	}
	rules := boxRules[kind]
	if err := size.check(string(kind), rules.width, rules.height); err != nil {
		return err
	}
	return b.ctl.mutate(ctx, ws, contract.OpResizeItem, resizeArgs{ItemID: b.ID(), Width: size.Width, Height: size.Height})
}

// Maximize maximizes a group.
func (b *Box) Maximize(ctx context.Context) error {
	return b.maximizeOrRestore(ctx, contract.OpMaximizeItem)
}

// Restore restores a maximized group.
func (b *Box) Restore(ctx context.Context) error {
	return b.maximizeOrRestore(ctx, contract.OpRestoreItem)
}

func (b *Box) maximizeOrRestore(ctx context.Context, op string) error {
	kind, ws, err := b.live()
	if err != nil {
		return err
	}
	if !boxRules[kind].maximizable {
		return contract.Programming("a %s cannot be maximized or restored", kind)
	}
	return b.ctl.mutate(ctx, ws, op, itemArgs{ItemID: b.ID()})
}

// Dispose drops the box record. The facade keeps its id; every operation on
// it fails afterwards.
func (b *Box) Dispose() {
	b.ctl.pd.deleteData(b)
}

// OnLockConfigurationChanged calls fn, after a refresh, when this box's
// lock configuration changes.
func (b *Box) OnLockConfigurationChanged(ctx context.Context, fn func()) (func(), error) {
	return b.onAction(ctx, contract.ActionLockConfigurationChanged, fn)
}

// OnMaximized calls fn, after a refresh, when this group is maximized.
func (b *Box) OnMaximized(ctx context.Context, fn func()) (func(), error) {
	kind, _, err := b.live()
	if err != nil {
		return nil, err
	}
	if !boxRules[kind].maximizable {
		return nil, contract.Programming("a %s cannot be maximized", kind)
	}
	return b.onAction(ctx, contract.ActionMaximized, fn)
}

// OnRestored calls fn, after a refresh, when this group is restored.
func (b *Box) OnRestored(ctx context.Context, fn func()) (func(), error) {
	kind, _, err := b.live()
	if err != nil {
		return nil, err
	}
	if !boxRules[kind].maximizable {
		return nil, contract.Programming("a %s cannot be restored", kind)
	}
	return b.onAction(ctx, contract.ActionRestored, fn)
}

func (b *Box) onAction(ctx context.Context, action string, fn func()) (func(), error) {
	if fn == nil {
		return nil, contract.Programming("container %s: nil callback", action)
	}
	_, ws, err := b.live()
	if err != nil {
		return nil, err
	}
	id := b.ID()
	return b.ctl.subscribe(ctx, contract.EventContainer, contract.ScopeWorkspace, ws.ID(), action,
		func(ev contract.Event) error {
			if ev.ContainerSummary.ItemID != id {
				return nil
			}
			if ws := b.Workspace(); ws != nil {
				if err := b.ctl.refreshReference(b.ctl.base, ws); err != nil {
					return err
				}
			}
			fn()
			return nil
		})
}
