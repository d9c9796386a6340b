package workspaces

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hazyhaar/workspaces/contract"
)

// parsedNode is a snapshot node with its config decoded. Snapshots are
// parsed completely before the write lock is taken, so a malformed snapshot
// leaves the mirror untouched.
type parsedNode struct {
	id       string
	kind     contract.ItemType
	position int
	window   contract.WindowConfig
	box      contract.ContainerConfig
	children []parsedNode
}

// parseNodes decodes nodes recursively and orders each level by
// positionIndex, keeping snapshot order for ties.
func parseNodes(nodes []contract.SnapshotNode) ([]parsedNode, error) {
	out := make([]parsedNode, 0, len(nodes))
	for _, n := range nodes {
		p := parsedNode{id: n.ID, kind: n.Type}
		switch {
		case n.Type == contract.TypeWindow:
			if err := n.DecodeConfig(&p.window); err != nil {
				return nil, err
			}
			p.position = p.window.PositionIndex
		case n.Type.IsContainer():
			if err := n.DecodeConfig(&p.box); err != nil {
				return nil, err
			}
			p.position = p.box.PositionIndex
			children, err := parseNodes(n.Children)
			if err != nil {
				return nil, err
			}
			p.children = children
		default:
			return nil, &contract.ValidationError{Direction: contract.DirectionResult,
				Cause: fmt.Errorf("node %s has unknown type %q", n.ID, n.Type)}
		}
		out = append(out, p)
	}
	slices.SortStableFunc(out, func(a, b parsedNode) int { return cmp.Compare(a.position, b.position) })
	return out, nil
}

// applySnapshot reconciles snap into ws: the workspace config and frame are
// remapped, existing boxes and windows are matched by id and updated in
// place, unknown ids get new facades, and every children list is replaced
// wholesale. Nodes absent from the snapshot are dropped from the tree; their
// facades keep their last values.
func (c *controller) applySnapshot(ws *Workspace, snap contract.WorkspaceSnapshot) error {
	tree, err := parseNodes(snap.Children)
	if err != nil {
		return err
	}

	c.pd.mu.Lock()
	defer c.pd.mu.Unlock()

	c.pd.remapWorkspace(ws, snap.Config, c.frameFor(ws, snap.FrameSummary))

	existing := map[string]Item{}
	walkItems(ws.d.children, func(it Item) {
		if !disposed(it) {
			existing[it.ID()] = it
		}
	})

	seen := map[string]bool{}
	ws.d.children = c.refreshChildren(nil, existing, tree, ws, seen)

	for id, it := range existing {
		if w, ok := it.(*Window); ok && !seen[id] {
			c.pd.dropPlacement(w)
		}
	}
	c.pd.prune()
	return nil
}

// frameFor returns the frame facade to hang under ws: the current one,
// updated in place, when the id is unchanged, else a new facade.
func (c *controller) frameFor(ws *Workspace, summary contract.FrameSummary) *Frame {
	if cur := ws.d.frame; cur != nil && cur.d.summary.ID == summary.ID {
		c.pd.remapFrame(cur, summary)
		return cur
	}
	return c.newFrame(summary)
}

func (c *controller) refreshChildren(parent *Box, existing map[string]Item, nodes []parsedNode, ws *Workspace, seen map[string]bool) []Item {
	out := make([]Item, 0, len(nodes))
	for _, n := range nodes {
		if n.kind == contract.TypeWindow {
			w, ok := existing[n.id].(*Window)
			if ok {
				w.d.parent = parent
				c.pd.remapChild(w, parent, ws, n.window)
			} else {
				w = c.newWindow(n.id, parent, ws, n.window)
			}
			c.pd.setPlacement(w)
			seen[n.id] = true
			out = append(out, w)
			continue
		}

		b, ok := existing[n.id].(*Box)
		if ok && b.d.kind == n.kind {
			b.d.parent = parent
			c.pd.remapChild(b, parent, ws, n.box)
		} else {
			b = c.newBox(n.id, n.kind, parent, ws, n.box)
		}
		b.d.children = c.refreshChildren(b, existing, n.children, ws, seen)
		out = append(out, b)
	}
	return out
}

func disposed(it Item) bool {
	switch x := it.(type) {
	case *Box:
		return x.d.disposed
	case *Window:
		return x.d.disposed
	}
	return false
}

// walkItems visits items and their descendants depth-first.
func walkItems(items []Item, fn func(Item)) {
	for _, it := range items {
		fn(it)
		if b, ok := it.(*Box); ok {
			walkItems(b.d.children, fn)
		}
	}
}
