package authoritytest

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/hazyhaar/workspaces/contract"
)

type itemArgs struct {
	ItemID string `json:"itemId"`
}

type wsArgs struct {
	WorkspaceID string `json:"workspaceId"`
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

// apply runs op against the tree. Called with a.mu held.
func (a *Authority) apply(op string, raw json.RawMessage, fx *effects) (any, error) {
	switch op {
	case contract.OpGetAllFramesSummaries:
		out := make([]contract.FrameSummary, 0, len(a.frames))
		for _, f := range a.frames {
			out = append(out, contract.FrameSummary{ID: f.id})
		}
		return map[string]any{"summaries": out}, nil

	case contract.OpGetFrameSummary:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		f, err := a.frameOf(args.ItemID)
		if err != nil {
			return nil, err
		}
		return contract.FrameSummary{ID: f.id}, nil

	case contract.OpGetFrameSnapshot:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		f, err := a.frameOf(args.ItemID)
		if err != nil {
			return nil, err
		}
		snap := contract.FrameSnapshot{ID: f.id, Workspaces: []contract.WorkspaceSnapshot{}}
		for _, w := range f.workspaces {
			snap.Workspaces = append(snap.Workspaces, w.snapshot())
		}
		return snap, nil

	case contract.OpGetFrameState:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		f, err := a.findFrame(args.ItemID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"state": f.state}, nil

	case contract.OpChangeFrameState:
		args, err := decode[struct {
			FrameID        string              `json:"frameId"`
			RequestedState contract.FrameState `json:"requestedState"`
		}](raw)
		if err != nil {
			return nil, err
		}
		f, err := a.findFrame(args.FrameID)
		if err != nil {
			return nil, err
		}
		f.state = args.RequestedState
		fx.frameEvent(f, string(args.RequestedState))
		return nil, nil

	case contract.OpMoveFrame:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		_, err = a.findFrame(args.ItemID)
		return nil, err

	case contract.OpGetAllWorkspacesSummaries:
		out := []*contract.WorkspaceSummary{}
		for _, f := range a.frames {
			for _, w := range f.workspaces {
				out = append(out, w.summary())
			}
		}
		return map[string]any{"summaries": out}, nil

	case contract.OpGetWorkspaceSnapshot:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		w, err := a.workspaceOf(args.ItemID)
		if err != nil {
			return nil, err
		}
		return w.snapshot(), nil

	case contract.OpCreateWorkspace:
		def, err := decode[contract.WorkspaceDefinition](raw)
		if err != nil {
			return nil, err
		}
		w, err := a.createWorkspace(def, fx)
		if err != nil {
			return nil, err
		}
		return w.snapshot(), nil

	case contract.OpOpenWorkspace:
		args, err := decode[struct {
			Name           string                  `json:"name"`
			RestoreOptions contract.RestoreOptions `json:"restoreOptions"`
		}](raw)
		if err != nil {
			return nil, err
		}
		layout, ok := a.layouts[args.Name]
		if !ok {
			return nil, fmt.Errorf("layout %s not found", args.Name)
		}
		var children []contract.Definition
		if err := json.Unmarshal(layout.Components, &children); err != nil {
			return nil, fmt.Errorf("layout %s: %w", args.Name, err)
		}
		title := args.RestoreOptions.Title
		if title == "" {
			title = args.Name
		}
		w, err := a.createWorkspace(contract.WorkspaceDefinition{
			Children: children,
			Config:   &contract.WorkspaceCreateConfig{Title: title, FrameID: args.RestoreOptions.FrameID, NewFrame: args.RestoreOptions.NewFrame},
			Context:  args.RestoreOptions.Context,
		}, fx)
		if err != nil {
			return nil, err
		}
		w.layoutName = args.Name
		return w.snapshot(), nil

	case contract.OpIsWindowInWorkspace:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		return map[string]any{"inWorkspace": a.findHostWindow(args.ItemID) != nil}, nil

	case contract.OpCloseItem:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, a.closeItem(args.ItemID, fx)

	case contract.OpFocusItem:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, a.focusItem(args.ItemID, fx)

	case contract.OpMaximizeItem, contract.OpRestoreItem:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		n, err := a.findNode(args.ItemID)
		if err != nil {
			return nil, err
		}
		if n.typ != contract.TypeGroup && n.typ != contract.TypeWindow {
			return nil, fmt.Errorf("a %s cannot be maximized", n.typ)
		}
		n.maximized = op == contract.OpMaximizeItem
		action := contract.ActionRestored
		if n.maximized {
			action = contract.ActionMaximized
		}
		if n.typ == contract.TypeGroup {
			fx.containerEvent(n, action)
		} else {
			fx.windowEvent(n, action)
		}
		return nil, nil

	case contract.OpResizeItem:
		args, err := decode[struct {
			ItemID string `json:"itemId"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		}](raw)
		if err != nil {
			return nil, err
		}
		if _, err := a.findFrame(args.ItemID); err == nil {
			return nil, nil
		}
		n, err := a.findNode(args.ItemID)
		if err != nil {
			return nil, err
		}
		if args.Width > 0 {
			n.width = args.Width
		}
		if args.Height > 0 {
			n.height = args.Height
		}
		return nil, nil

	case contract.OpSetItemTitle:
		args, err := decode[struct {
			ItemID string `json:"itemId"`
			Title  string `json:"title"`
		}](raw)
		if err != nil {
			return nil, err
		}
		if w := a.findWorkspace(args.ItemID); w != nil {
			w.title = args.Title
			return nil, nil
		}
		n, err := a.findNode(args.ItemID)
		if err != nil {
			return nil, err
		}
		if n.typ != contract.TypeWindow {
			return nil, fmt.Errorf("a %s has no title", n.typ)
		}
		n.title = args.Title
		return nil, nil

	case contract.OpAddWindow:
		args, err := decode[struct {
			Definition contract.Definition `json:"definition"`
			ParentID   string              `json:"parentId"`
			ParentType contract.ItemType   `json:"parentType"`
		}](raw)
		if err != nil {
			return nil, err
		}
		if args.ParentType == contract.TypeWorkspace {
			return nil, errors.New("windows cannot be placed directly in a workspace")
		}
		n, err := a.attach(args.ParentID, args.Definition, fx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"itemId": n.id, "windowId": n.windowID}, nil

	case contract.OpAddContainer:
		args, err := decode[struct {
			Definition contract.Definition `json:"definition"`
			ParentID   string              `json:"parentId"`
		}](raw)
		if err != nil {
			return nil, err
		}
		n, err := a.attach(args.ParentID, args.Definition, fx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"itemId": n.id}, nil

	case contract.OpForceLoadWindow:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		n, err := a.findWindow(args.ItemID)
		if err != nil {
			return nil, err
		}
		if !n.loaded {
			a.load(n, fx)
			fx.windowEvent(n, contract.ActionLoaded)
		}
		return map[string]any{"windowId": n.windowID}, nil

	case contract.OpEjectWindow:
		args, err := decode[itemArgs](raw)
		if err != nil {
			return nil, err
		}
		n, err := a.findWindow(args.ItemID)
		if err != nil {
			return nil, err
		}
		if !n.loaded {
			a.load(n, fx)
		}
		fx.windowEvent(n, contract.ActionRemoved)
		n.detach()
		return map[string]any{"windowId": n.windowID}, nil

	case contract.OpMoveWindowTo:
		args, err := decode[struct {
			ItemID      string `json:"itemId"`
			ContainerID string `json:"containerId"`
		}](raw)
		if err != nil {
			return nil, err
		}
		n, err := a.findWindow(args.ItemID)
		if err != nil {
			return nil, err
		}
		target, err := a.findNode(args.ContainerID)
		if err != nil {
			return nil, err
		}
		if !target.typ.IsContainer() {
			return nil, fmt.Errorf("%s is not a container", args.ContainerID)
		}
		fx.windowEvent(n, contract.ActionRemoved)
		n.detach()
		n.parent, n.ws = target, target.ws
		target.children = append(target.children, n)
		fx.windowEvent(n, contract.ActionAdded)
		return nil, nil

	case contract.OpLockWorkspace:
		args, err := decode[struct {
			WorkspaceID string          `json:"workspaceId"`
			Config      map[string]bool `json:"config"`
		}](raw)
		if err != nil {
			return nil, err
		}
		w := a.findWorkspace(args.WorkspaceID)
		if w == nil {
			return nil, fmt.Errorf("workspace %s not found", args.WorkspaceID)
		}
		maps.Copy(w.lock, args.Config)
		fx.workspaceEvent(w, contract.ActionLockConfigurationChanged)
		return nil, nil

	case contract.OpLockContainer:
		args, err := decode[struct {
			ItemID string          `json:"itemId"`
			Config map[string]bool `json:"config"`
		}](raw)
		if err != nil {
			return nil, err
		}
		n, err := a.findNode(args.ItemID)
		if err != nil {
			return nil, err
		}
		maps.Copy(n.lock, args.Config)
		fx.containerEvent(n, contract.ActionLockConfigurationChanged)
		return nil, nil

	case contract.OpLockWindow:
		args, err := decode[struct {
			PlacementID string          `json:"windowPlacementId"`
			Config      map[string]bool `json:"config"`
		}](raw)
		if err != nil {
			return nil, err
		}
		n, err := a.findWindow(args.PlacementID)
		if err != nil {
			return nil, err
		}
		maps.Copy(n.lock, args.Config)
		fx.windowEvent(n, contract.ActionLockConfigurationChanged)
		return nil, nil

	case contract.OpHibernateWorkspace, contract.OpResumeWorkspace:
		args, err := decode[wsArgs](raw)
		if err != nil {
			return nil, err
		}
		w := a.findWorkspace(args.WorkspaceID)
		if w == nil {
			return nil, fmt.Errorf("workspace %s not found", args.WorkspaceID)
		}
		hibernate := op == contract.OpHibernateWorkspace
		if hibernate && w.selected {
			return nil, errors.New("cannot hibernate the selected workspace")
		}
		w.hibernated = hibernate
		if hibernate {
			fx.workspaceEvent(w, contract.ActionHibernated)
		} else {
			fx.workspaceEvent(w, contract.ActionResumed)
		}
		return nil, nil

	case contract.OpBundleWorkspace:
		args, err := decode[struct {
			Type        contract.ItemType `json:"type"`
			WorkspaceID string            `json:"workspaceId"`
		}](raw)
		if err != nil {
			return nil, err
		}
		w := a.findWorkspace(args.WorkspaceID)
		if w == nil {
			return nil, fmt.Errorf("workspace %s not found", args.WorkspaceID)
		}
		a.bundle(w, args.Type, fx)
		return nil, nil

	case contract.OpSaveLayout:
		args, err := decode[struct {
			Name        string `json:"name"`
			WorkspaceID string `json:"workspaceId"`
			SaveContext bool   `json:"saveContext"`
		}](raw)
		if err != nil {
			return nil, err
		}
		w := a.findWorkspace(args.WorkspaceID)
		if w == nil {
			return nil, fmt.Errorf("workspace %s not found", args.WorkspaceID)
		}
		defs := []contract.Definition{}
		for _, c := range w.children {
			defs = append(defs, c.definition())
		}
		components, _ := json.Marshal(defs)
		layout := contract.Layout{Name: args.Name, Type: "Workspace", Components: components}
		if args.SaveContext && len(w.context) > 0 {
			layout.Metadata = map[string]any{"context": maps.Clone(w.context)}
		}
		a.layouts[args.Name] = layout
		w.layoutName = args.Name
		return nil, nil

	case contract.OpDeleteLayout:
		args, err := decode[struct {
			Name string `json:"name"`
		}](raw)
		if err != nil {
			return nil, err
		}
		if _, ok := a.layouts[args.Name]; !ok {
			return nil, fmt.Errorf("layout %s not found", args.Name)
		}
		delete(a.layouts, args.Name)
		return nil, nil

	case contract.OpImportLayout:
		args, err := decode[struct {
			Layout contract.Layout `json:"layout"`
			Mode   string          `json:"mode"`
		}](raw)
		if err != nil {
			return nil, err
		}
		if _, exists := a.layouts[args.Layout.Name]; exists && args.Mode == "merge" {
			return nil, nil
		}
		a.layouts[args.Layout.Name] = args.Layout
		return nil, nil

	case contract.OpExportAllLayouts:
		return map[string]any{"layouts": a.sortedLayouts()}, nil

	case contract.OpGetAllLayoutsSummaries:
		out := []contract.LayoutSummary{}
		for _, l := range a.sortedLayouts() {
			out = append(out, contract.LayoutSummary{Name: l.Name})
		}
		return map[string]any{"summaries": out}, nil
	}
	return nil, fmt.Errorf("unknown operation %s", op)
}

func (a *Authority) sortedLayouts() []contract.Layout {
	out := make([]contract.Layout, 0, len(a.layouts))
	for _, l := range a.layouts {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *Authority) newFrame(fx *effects) *frame {
	f := &frame{id: "frame_" + a.newID(), state: contract.FrameNormal}
	a.frames = append(a.frames, f)
	fx.frameEvent(f, contract.ActionOpened)
	return f
}

func (a *Authority) createWorkspace(def contract.WorkspaceDefinition, fx *effects) (*workspace, error) {
	cfg := def.Config
	if cfg == nil {
		cfg = &contract.WorkspaceCreateConfig{}
	}
	if err := checkRoot(def.Children); err != nil {
		return nil, err
	}

	var f *frame
	switch {
	case cfg.FrameID != "":
		var err error
		if f, err = a.findFrame(cfg.FrameID); err != nil {
			return nil, err
		}
	case cfg.NewFrame || len(a.frames) == 0:
		f = a.newFrame(fx)
	default:
		f = a.frames[0]
	}

	w := &workspace{
		id:      "ws_" + a.newID(),
		frame:   f,
		title:   cfg.Title,
		lock:    defaultWorkspaceLock(),
		context: maps.Clone(def.Context),
	}
	if w.title == "" {
		w.title = fmt.Sprintf("Untitled %d", len(f.workspaces)+1)
	}
	if w.context == nil {
		w.context = maps.Clone(cfg.Context)
	}
	for _, c := range def.Children {
		n, err := a.build(w, nil, c)
		if err != nil {
			return nil, err
		}
		w.children = append(w.children, n)
	}
	if cfg.IsSelected == nil || *cfg.IsSelected {
		for _, other := range f.workspaces {
			other.selected = false
		}
		w.selected = true
	}
	f.workspaces = append(f.workspaces, w)

	fx.workspaceEvent(w, contract.ActionOpened)
	for _, win := range w.windows() {
		fx.windowEvent(win, contract.ActionAdded)
	}
	return w, nil
}

func checkRoot(children []contract.Definition) error {
	if len(children) == 0 {
		return nil
	}
	first := children[0].Type
	for _, c := range children {
		if !c.Type.IsContainer() || c.Type != first || (first == contract.TypeGroup && len(children) > 1) {
			return errors.New("a workspace root holds only rows, only columns or a single group")
		}
	}
	return nil
}

var childKinds = map[contract.ItemType][]contract.ItemType{
	contract.TypeRow:    {contract.TypeColumn, contract.TypeGroup, contract.TypeWindow},
	contract.TypeColumn: {contract.TypeRow, contract.TypeGroup, contract.TypeWindow},
	contract.TypeGroup:  {contract.TypeWindow},
}

func (a *Authority) build(w *workspace, parent *node, def contract.Definition) (*node, error) {
	if def.Type != contract.TypeWindow && !def.Type.IsContainer() {
		return nil, fmt.Errorf("unknown item type %q", def.Type)
	}
	if parent != nil && !slices.Contains(childKinds[parent.typ], def.Type) {
		return nil, fmt.Errorf("a %s cannot hold a %s", parent.typ, def.Type)
	}
	n := &node{
		id:     string(def.Type) + "_" + a.newID(),
		typ:    def.Type,
		ws:     w,
		parent: parent,
		lock:   defaultLock(def.Type),
		width:  intOf(def.Config["width"]),
		height: intOf(def.Config["height"]),
	}
	if def.Type == contract.TypeWindow {
		n.appName = def.AppName
		n.windowID = def.WindowID
		n.url = def.URL
		n.title = def.AppName
		if t, ok := def.Config["title"].(string); ok && t != "" {
			n.title = t
		}
		n.loaded = def.WindowID != ""
		n.context = maps.Clone(def.Context)
		n.selected = true
		return n, nil
	}
	for _, c := range def.Children {
		child, err := a.build(w, n, c)
		if err != nil {
			return nil, err
		}
		if child.typ == contract.TypeWindow {
			for _, s := range n.children {
				s.selected = false
			}
		}
		n.children = append(n.children, child)
	}
	return n, nil
}

func intOf(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	}
	return 0
}

// attach builds def under the workspace or container parentID.
func (a *Authority) attach(parentID string, def contract.Definition, fx *effects) (*node, error) {
	var (
		w      *workspace
		parent *node
	)
	if w = a.findWorkspace(parentID); w != nil {
		kinds := make([]contract.Definition, 0, len(w.children)+1)
		for _, c := range w.children {
			kinds = append(kinds, contract.Definition{Type: c.typ})
		}
		if err := checkRoot(append(kinds, contract.Definition{Type: def.Type})); err != nil {
			return nil, err
		}
	} else {
		var err error
		if parent, err = a.findNode(parentID); err != nil {
			return nil, err
		}
		if !parent.typ.IsContainer() {
			return nil, fmt.Errorf("%s is not a container", parentID)
		}
		w = parent.ws
	}

	n, err := a.build(w, parent, def)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		if n.typ == contract.TypeWindow {
			for _, s := range parent.children {
				s.selected = false
			}
		}
		parent.children = append(parent.children, n)
	} else {
		w.children = append(w.children, n)
	}
	fx.subtreeEvents(n, contract.ActionAdded, contract.ActionAdded)
	return n, nil
}

func (a *Authority) load(n *node, fx *effects) {
	if n.windowID == "" {
		n.windowID = "win-" + a.newID()
	}
	n.loaded = true
	fx.hosts = append(fx.hosts, contract.HostWindow{ID: n.windowID, AppName: n.appName, Title: n.title})
}

func (a *Authority) closeItem(id string, fx *effects) error {
	if i := slices.IndexFunc(a.frames, func(f *frame) bool { return f.id == id }); i >= 0 {
		f := a.frames[i]
		for _, w := range f.workspaces {
			a.closeWorkspaceEvents(w, fx)
		}
		fx.frameEvent(f, contract.ActionClosed)
		a.frames = slices.Delete(a.frames, i, i+1)
		return nil
	}
	if w := a.findWorkspace(id); w != nil {
		a.closeWorkspaceEvents(w, fx)
		w.frame.workspaces = slices.DeleteFunc(w.frame.workspaces, func(x *workspace) bool { return x == w })
		return nil
	}
	n, err := a.findNode(id)
	if err != nil {
		return err
	}
	fx.subtreeEvents(n, contract.ActionRemoved, contract.ActionRemoved)
	n.detach()
	return nil
}

func (a *Authority) closeWorkspaceEvents(w *workspace, fx *effects) {
	for _, win := range w.windows() {
		fx.windowEvent(win, contract.ActionRemoved)
	}
	fx.workspaceEvent(w, contract.ActionClosed)
}

func (a *Authority) focusItem(id string, fx *effects) error {
	if f, err := a.findFrame(id); err == nil {
		fx.frameEvent(f, contract.ActionFocus)
		return nil
	}
	if w := a.findWorkspace(id); w != nil {
		for _, other := range w.frame.workspaces {
			other.selected = other == w
		}
		fx.workspaceEvent(w, contract.ActionSelected)
		return nil
	}
	n, err := a.findWindow(id)
	if err != nil {
		return err
	}
	for _, f := range a.frames {
		for _, w := range f.workspaces {
			for _, win := range w.windows() {
				win.focused = win == n
			}
		}
	}
	fx.windowEvent(n, contract.ActionFocus)
	return nil
}

// bundle regroups every window of w into one row or column holding one
// group per window.
func (a *Authority) bundle(w *workspace, kind contract.ItemType, fx *effects) {
	wins := w.windows()
	for _, c := range w.children {
		fx.containerEvent(c, contract.ActionRemoved)
	}
	root := &node{id: string(kind) + "_" + a.newID(), typ: kind, ws: w, lock: defaultLock(kind)}
	for _, win := range wins {
		g := &node{id: "group_" + a.newID(), typ: contract.TypeGroup, ws: w, parent: root, lock: defaultLock(contract.TypeGroup)}
		win.parent = g
		win.selected = true
		g.children = []*node{win}
		root.children = append(root.children, g)
	}
	w.children = []*node{root}
	fx.containerEvent(root, contract.ActionAdded)
}

func (a *Authority) findFrame(id string) (*frame, error) {
	for _, f := range a.frames {
		if f.id == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("frame %s not found", id)
}

func (a *Authority) findWorkspace(id string) *workspace {
	for _, f := range a.frames {
		for _, w := range f.workspaces {
			if w.id == id {
				return w
			}
		}
	}
	return nil
}

func (a *Authority) findNode(id string) (*node, error) {
	var found *node
	for _, f := range a.frames {
		for _, w := range f.workspaces {
			w.walk(func(n *node) {
				if n.id == id {
					found = n
				}
			})
		}
	}
	if found == nil {
		return nil, fmt.Errorf("item %s not found", id)
	}
	return found, nil
}

func (a *Authority) findWindow(id string) (*node, error) {
	n, err := a.findNode(id)
	if err != nil {
		return nil, err
	}
	if n.typ != contract.TypeWindow {
		return nil, fmt.Errorf("item %s is not a window", id)
	}
	return n, nil
}

// findHostWindow finds the placement hosting the window with host id.
func (a *Authority) findHostWindow(windowID string) *node {
	if windowID == "" {
		return nil
	}
	for _, f := range a.frames {
		for _, w := range f.workspaces {
			for _, win := range w.windows() {
				if win.windowID == windowID {
					return win
				}
			}
		}
	}
	return nil
}

// workspaceOf resolves a workspace id, an item id or a host window id to
// the workspace containing it.
func (a *Authority) workspaceOf(id string) (*workspace, error) {
	if w := a.findWorkspace(id); w != nil {
		return w, nil
	}
	if n, err := a.findNode(id); err == nil {
		return n.ws, nil
	}
	if n := a.findHostWindow(id); n != nil {
		return n.ws, nil
	}
	return nil, fmt.Errorf("workspace for %s not found", id)
}

// frameOf resolves a frame id or anything workspaceOf accepts to a frame.
func (a *Authority) frameOf(id string) (*frame, error) {
	if f, err := a.findFrame(id); err == nil {
		return f, nil
	}
	w, err := a.workspaceOf(id)
	if err != nil {
		if strings.HasPrefix(id, "frame_") {
			return nil, fmt.Errorf("frame %s not found", id)
		}
		return nil, err
	}
	return w.frame, nil
}
