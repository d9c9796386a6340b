package authoritytest

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/hazyhaar/workspaces/contract"
)

type frame struct {
	id         string
	state      contract.FrameState
	workspaces []*workspace
}

type workspace struct {
	id         string
	frame      *frame
	title      string
	layoutName string
	selected   bool
	hibernated bool
	lock       map[string]bool
	context    map[string]any
	children   []*node
}

type node struct {
	id       string
	typ      contract.ItemType
	ws       *workspace
	parent   *node
	children []*node

	width, height int
	maximized     bool
	lock          map[string]bool

	// windows only
	appName  string
	windowID string
	url      string
	title    string
	loaded   bool
	focused  bool
	selected bool
	context  map[string]any
}

func defaultWorkspaceLock() map[string]bool {
	return map[string]bool{
		"allowDrop": true, "allowExtract": true, "allowSplitters": true, "allowWindowReorder": true,
		"showCloseButton": true, "showSaveButton": true, "showWindowCloseButtons": true,
		"showEjectButtons": true, "showAddWindowButtons": true,
	}
}

func defaultLock(t contract.ItemType) map[string]bool {
	switch t {
	case contract.TypeRow, contract.TypeColumn:
		return map[string]bool{"allowDrop": true, "allowSplitters": true}
	case contract.TypeGroup:
		return map[string]bool{
			"allowDrop": true, "allowExtract": true, "allowReorder": true,
			"showMaximizeButton": true, "showEjectButton": true, "showAddWindowButton": true,
		}
	}
	return map[string]bool{"allowExtract": true, "showCloseButton": true}
}

func (w *workspace) position() int {
	return slices.Index(w.frame.workspaces, w)
}

func (n *node) siblings() []*node {
	if n.parent != nil {
		return n.parent.children
	}
	return n.ws.children
}

func (n *node) position() int {
	return slices.Index(n.siblings(), n)
}

// detach removes n from its parent list.
func (n *node) detach() {
	if n.parent != nil {
		n.parent.children = slices.DeleteFunc(n.parent.children, func(c *node) bool { return c == n })
		return
	}
	n.ws.children = slices.DeleteFunc(n.ws.children, func(c *node) bool { return c == n })
}

// walk visits n and its descendants depth-first.
func (n *node) walk(fn func(*node)) {
	fn(n)
	for _, c := range n.children {
		c.walk(fn)
	}
}

func (w *workspace) walk(fn func(*node)) {
	for _, c := range w.children {
		c.walk(fn)
	}
}

func (w *workspace) windows() []*node {
	var out []*node
	w.walk(func(n *node) {
		if n.typ == contract.TypeWindow {
			out = append(out, n)
		}
	})
	return out
}

func (w *workspace) config() contract.WorkspaceConfig {
	m := map[string]any{
		"frameId":       w.frame.id,
		"title":         w.title,
		"positionIndex": w.position(),
		"layoutName":    w.layoutName,
		"isHibernated":  w.hibernated,
		"isSelected":    w.selected,
	}
	for k, v := range w.lock {
		m[k] = v
	}
	var cfg contract.WorkspaceConfig
	remarshal(m, &cfg)
	return cfg
}

func (w *workspace) summary() *contract.WorkspaceSummary {
	return &contract.WorkspaceSummary{ID: w.id, Config: w.config()}
}

func (w *workspace) snapshot() contract.WorkspaceSnapshot {
	snap := contract.WorkspaceSnapshot{
		ID:           w.id,
		Config:       w.config(),
		FrameSummary: contract.FrameSummary{ID: w.frame.id},
		Children:     []contract.SnapshotNode{},
	}
	for _, c := range w.children {
		snap.Children = append(snap.Children, c.snapshot())
	}
	return snap
}

func (n *node) configMap() map[string]any {
	m := map[string]any{
		"workspaceId":   n.ws.id,
		"frameId":       n.ws.frame.id,
		"positionIndex": n.position(),
	}
	for k, v := range n.lock {
		m[k] = v
	}
	if n.width > 0 {
		m["width"] = n.width
	}
	if n.height > 0 {
		m["height"] = n.height
	}
	switch n.typ {
	case contract.TypeWindow:
		m["appName"] = n.appName
		m["windowId"] = n.windowID
		m["url"] = n.url
		m["title"] = n.title
		m["isLoaded"] = n.loaded
		m["isFocused"] = n.focused
		m["isSelected"] = n.selected
		m["isMaximized"] = n.maximized
	case contract.TypeGroup:
		m["isMaximized"] = n.maximized
	}
	return m
}

func (n *node) snapshot() contract.SnapshotNode {
	raw, _ := json.Marshal(n.configMap())
	sn := contract.SnapshotNode{ID: n.id, Type: n.typ, Config: raw}
	for _, c := range n.children {
		sn.Children = append(sn.Children, c.snapshot())
	}
	return sn
}

func (n *node) windowSummary() *contract.WindowSummary {
	s := &contract.WindowSummary{ItemID: n.id}
	if n.parent != nil {
		s.ParentID = n.parent.id
	}
	remarshal(n.configMap(), &s.Config)
	return s
}

func (n *node) containerSummary() *contract.ContainerSummary {
	s := &contract.ContainerSummary{ItemID: n.id, Type: n.typ}
	remarshal(n.configMap(), &s.Config)
	return s
}

// definition converts a live subtree back into a plain definition, used to
// save layouts.
func (n *node) definition() contract.Definition {
	def := contract.Definition{Type: n.typ}
	if n.typ == contract.TypeWindow {
		def.AppName = n.appName
		def.URL = n.url
		def.Context = maps.Clone(n.context)
		return def
	}
	for _, c := range n.children {
		def.Children = append(def.Children, c.definition())
	}
	return def
}

func remarshal(in, out any) {
	raw, _ := json.Marshal(in)
	json.Unmarshal(raw, out)
}
