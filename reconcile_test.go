package workspaces

import (
	"encoding/json"
	"testing"

	"github.com/hazyhaar/workspaces/contract"
)

func snapNode(t *testing.T, id string, typ contract.ItemType, cfg any, children ...contract.SnapshotNode) contract.SnapshotNode {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return contract.SnapshotNode{ID: id, Type: typ, Config: raw, Children: children}
}

func snapWindow(t *testing.T, id, app string, pos int) contract.SnapshotNode {
	return snapNode(t, id, contract.TypeWindow, contract.WindowConfig{AppName: app, PositionIndex: pos, WorkspaceID: "ws_1"})
}

func appNames(ws []*Window) []string {
	var out []string
	for _, w := range ws {
		out = append(out, w.AppName())
	}
	return out
}

func TestApplySnapshot_FollowsPositionIndex(t *testing.T) {
	c, _ := setup(t, nil)
	ws := c.ctl.newWorkspaceFacade("ws_1")

	// Listed a, b but positioned b, a.
	first := contract.WorkspaceSnapshot{
		ID:           "ws_1",
		FrameSummary: contract.FrameSummary{ID: "frame_1"},
		Children: []contract.SnapshotNode{
			snapNode(t, "row_1", contract.TypeRow, contract.ContainerConfig{},
				snapWindow(t, "w1", "a", 1),
				snapWindow(t, "w2", "b", 0),
			),
		},
	}
	if err := c.ctl.applySnapshot(ws, first); err != nil {
		t.Fatal(err)
	}
	row := ws.Rows()[0]
	if got := appNames(row.Windows()); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("order: %v, want [b a]", got)
	}
	w1, w2 := row.Windows()[1], row.Windows()[0]

	// Same nodes, positions swapped.
	second := first
	second.Children = []contract.SnapshotNode{
		snapNode(t, "row_1", contract.TypeRow, contract.ContainerConfig{},
			snapWindow(t, "w1", "a", 0),
			snapWindow(t, "w2", "b", 1),
		),
	}
	if err := c.ctl.applySnapshot(ws, second); err != nil {
		t.Fatal(err)
	}
	if ws.Rows()[0] != row {
		t.Fatal("row replaced")
	}
	got := row.Windows()
	if len(got) != 2 || got[0] != w1 || got[1] != w2 {
		t.Fatalf("reordered windows: %v", appNames(got))
	}
	if w1.PositionIndex() != 0 || w2.PositionIndex() != 1 {
		t.Fatalf("positions: w1=%d w2=%d", w1.PositionIndex(), w2.PositionIndex())
	}
}

func TestApplySnapshot_FrameSubstitution(t *testing.T) {
	c, _ := setup(t, nil)
	ws := c.ctl.newWorkspaceFacade("ws_1")
	tree := func(wins ...contract.SnapshotNode) []contract.SnapshotNode {
		return []contract.SnapshotNode{snapNode(t, "row_1", contract.TypeRow, contract.ContainerConfig{}, wins...)}
	}

	snap := contract.WorkspaceSnapshot{
		ID:           "ws_1",
		FrameSummary: contract.FrameSummary{ID: "frame_1"},
		Children:     tree(snapWindow(t, "w1", "a", 0), snapWindow(t, "w2", "b", 1)),
	}
	if err := c.ctl.applySnapshot(ws, snap); err != nil {
		t.Fatal(err)
	}
	frame := ws.Frame()
	w2 := ws.Windows()[1]

	snap.Config.Title = "renamed"
	if err := c.ctl.applySnapshot(ws, snap); err != nil {
		t.Fatal(err)
	}
	if ws.Frame() != frame || ws.Title() != "renamed" {
		t.Fatal("unchanged frame id produced a new frame facade")
	}

	snap.FrameSummary = contract.FrameSummary{ID: "frame_2"}
	snap.Children = tree(snapWindow(t, "w1", "a", 0))
	if err := c.ctl.applySnapshot(ws, snap); err != nil {
		t.Fatal(err)
	}
	moved := ws.Frame()
	if moved == frame || moved.ID() != "frame_2" {
		t.Fatalf("frame after move: %s", moved.ID())
	}
	if frame.ID() != "frame_1" {
		t.Fatalf("old frame facade rewritten: %s", frame.ID())
	}

	if n := len(ws.Windows()); n != 1 {
		t.Fatalf("windows after w2 left: %d", n)
	}
	if w2.ID() != "w2" || w2.AppName() != "b" {
		t.Fatal("stale window lost its last values")
	}
}

func TestApplySnapshot_MalformedLeavesMirror(t *testing.T) {
	c, _ := setup(t, nil)
	ws := c.ctl.newWorkspaceFacade("ws_1")
	snap := contract.WorkspaceSnapshot{
		ID:           "ws_1",
		FrameSummary: contract.FrameSummary{ID: "frame_1"},
		Children:     []contract.SnapshotNode{snapNode(t, "row_1", contract.TypeRow, contract.ContainerConfig{}, snapWindow(t, "w1", "a", 0))},
	}
	if err := c.ctl.applySnapshot(ws, snap); err != nil {
		t.Fatal(err)
	}
	row := ws.Rows()[0]

	snap.Children = []contract.SnapshotNode{{ID: "tab_1", Type: "tab"}}
	if err := c.ctl.applySnapshot(ws, snap); err == nil {
		t.Fatal("unknown node type accepted")
	}
	if len(ws.Rows()) != 1 || ws.Rows()[0] != row || len(row.Windows()) != 1 {
		t.Fatal("malformed snapshot changed the mirror")
	}
}
