package workspaces

import (
	"github.com/hazyhaar/workspaces/contract"
)

// The constructors below are the only places facades and their records are
// created. Callers that attach a facade to a tree hold pd.mu for writing.

func (c *controller) newFrame(summary contract.FrameSummary) *Frame {
	return &Frame{ctl: c, d: &frameData{summary: summary}}
}

func (c *controller) newWorkspaceFacade(id string) *Workspace {
	return &Workspace{ctl: c, d: &workspaceData{id: id}}
}

func (c *controller) newBox(id string, kind contract.ItemType, parent *Box, ws *Workspace, config contract.ContainerConfig) *Box {
	return &Box{ctl: c, d: &boxData{id: id, kind: kind, parent: parent, workspace: ws, config: config}}
}

func (c *controller) newWindow(id string, parent *Box, ws *Workspace, config contract.WindowConfig) *Window {
	return &Window{ctl: c, d: &windowData{id: id, parent: parent, workspace: ws, config: config}}
}

// workspaceFromSnapshot builds a complete workspace facade tree.
func (c *controller) workspaceFromSnapshot(snap contract.WorkspaceSnapshot) (*Workspace, error) {
	ws := c.newWorkspaceFacade(snap.ID)
	if err := c.applySnapshot(ws, snap); err != nil {
		return nil, err
	}
	return ws, nil
}
