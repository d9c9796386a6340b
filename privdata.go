package workspaces

import (
	"sync"
	"weak"

	"github.com/hazyhaar/workspaces/contract"
)

// privateData owns the records behind every facade of one Client. Records
// hang off the facades through unexported fields; this type holds the single
// lock guarding all of them and the placement index. Getters take the read
// lock; reconciliation applies a whole snapshot under the write lock.
type privateData struct {
	mu sync.RWMutex

	// placement id -> the first live Window facade reconciled for it in its
	// workspace. A new facade replaces it once that one is collected,
	// disposed or seen in another workspace.
	placements map[string]weak.Pointer[Window]
}

func newPrivateData() *privateData {
	return &privateData{placements: map[string]weak.Pointer[Window]{}}
}

type frameData struct {
	summary contract.FrameSummary
}

type workspaceData struct {
	id       string
	config   contract.WorkspaceConfig
	children []Item
	frame    *Frame
}

type boxData struct {
	id        string
	kind      contract.ItemType
	config    contract.ContainerConfig
	parent    *Box // nil at the workspace root
	workspace *Workspace
	children  []Item
	disposed  bool
}

type windowData struct {
	id        string
	config    contract.WindowConfig
	parent    *Box
	workspace *Workspace
	disposed  bool
}

// remapChild merges the supplied fields into an existing box or window
// record. Nil parent and workspace leave the current values in place.
// Called with mu held for writing.
func (p *privateData) remapChild(item Item, parent *Box, ws *Workspace, config any) {
	switch it := item.(type) {
	case *Window:
		if parent != nil {
			it.d.parent = parent
		}
		if ws != nil {
			it.d.workspace = ws
		}
		if cfg, ok := config.(contract.WindowConfig); ok {
			it.d.config = cfg
		}
	case *Box:
		if parent != nil {
			it.d.parent = parent
		}
		if ws != nil {
			it.d.workspace = ws
		}
		if cfg, ok := config.(contract.ContainerConfig); ok {
			it.d.config = cfg
		}
	}
}

// remapWorkspace replaces the workspace config and, when frame is not nil,
// its frame. Called with mu held for writing.
func (p *privateData) remapWorkspace(ws *Workspace, config contract.WorkspaceConfig, frame *Frame) {
	ws.d.config = config
	if frame != nil {
		ws.d.frame = frame
	}
}

// remapFrame updates a frame summary in place. Called with mu held for
// writing.
func (p *privateData) remapFrame(f *Frame, summary contract.FrameSummary) {
	f.d.summary = summary
}

// setPlacement points the index at w, unless a live facade of the same
// placement in the same workspace is already indexed: the first one stays
// the facade handed to event callbacks. Called with mu held for writing.
func (p *privateData) setPlacement(w *Window) {
	if cur := p.placement(w.d.id); cur != nil && cur != w && sameWorkspace(cur, w) {
		return
	}
	p.placements[w.d.id] = weak.Make(w)
}

func sameWorkspace(a, b *Window) bool {
	if a.d.disposed || a.d.workspace == nil || b.d.workspace == nil {
		return false
	}
	return a.d.workspace.d.id == b.d.workspace.d.id
}

// placement returns the live facade indexed for id, or nil. Called with mu
// held.
func (p *privateData) placement(id string) *Window {
	ptr, ok := p.placements[id]
	if !ok {
		return nil
	}
	return ptr.Value()
}

// dropPlacement removes the index entry for w if it still points at w.
// Called with mu held for writing.
func (p *privateData) dropPlacement(w *Window) {
	if p.placement(w.d.id) == w {
		delete(p.placements, w.d.id)
	}
}

// deleteData purges the record behind item. The facade keeps its id and
// reports zero values afterwards; operations on it fail.
func (p *privateData) deleteData(item Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch it := item.(type) {
	case *Window:
		p.dropPlacement(it)
		it.d.config = contract.WindowConfig{}
		it.d.parent, it.d.workspace = nil, nil
		it.d.disposed = true
	case *Box:
		it.d.config = contract.ContainerConfig{}
		it.d.parent, it.d.workspace, it.d.children = nil, nil, nil
		it.d.disposed = true
	}
}

// prune drops stale index entries whose facade was collected.
func (p *privateData) prune() {
	for id, ptr := range p.placements {
		if ptr.Value() == nil {
			delete(p.placements, id)
		}
	}
}
