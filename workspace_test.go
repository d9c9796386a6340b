package workspaces

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/workspaces/builder"
	"github.com/hazyhaar/workspaces/contract"
	"github.com/hazyhaar/workspaces/internal/authoritytest"
)

func TestMutations_PreserveIdentity(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)

	row, group, wins := ws.Rows()[0], ws.Groups()[0], ws.Windows()

	if err := ws.SetTitle(ctx, "renamed"); err != nil {
		t.Fatal(err)
	}
	if ws.Title() != "renamed" {
		t.Fatalf("title: got %q", ws.Title())
	}
	if ws.Rows()[0] != row || ws.Groups()[0] != group {
		t.Fatal("boxes replaced by an unrelated mutation")
	}

	added, err := group.AddWindow(ctx, builder.Window{AppName: "mail"})
	if err != nil {
		t.Fatal(err)
	}
	got := group.Windows()
	if len(got) != 3 || got[0] != wins[0] || got[1] != wins[1] || got[2] != added {
		t.Fatalf("group windows after add: %d", len(got))
	}
	if added.Parent() != group {
		t.Fatal("new window parent is not the group")
	}

	if err := ws.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if ws.Windows()[0] != wins[0] {
		t.Fatal("refresh replaced a live facade")
	}
}

func TestClose_DetachesStaleNodes(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)
	notes, chat := ws.Windows()[0], ws.Windows()[1]

	if err := notes.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.GetWindow(func(w *Window) bool { return w == notes }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("closed window still reachable from the workspace: %v", err)
	}
	if rest := ws.Groups()[0].Windows(); len(rest) != 1 || rest[0] != chat {
		t.Fatalf("remaining windows: %d", len(rest))
	}
	if notes.ID() == "" || notes.AppName() != "notes" {
		t.Fatal("detached facade lost its last values")
	}

	group := ws.Groups()[0]
	if err := ws.Rows()[0].RemoveChild(ctx, func(it Item) bool { return it == Item(group) }); err != nil {
		t.Fatal(err)
	}
	if len(ws.Groups()) != 0 || len(ws.Windows()) != 0 {
		t.Fatalf("after removing the group: groups=%d windows=%d", len(ws.Groups()), len(ws.Windows()))
	}
}

func TestSubscriptions_RefCounted(t *testing.T) {
	c, auth := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)
	bus := auth.Bus()
	before := bus.SubscribeCalls(contract.StreamWindow)

	var offs []func()
	for range 3 {
		off, err := ws.OnWindowAdded(ctx, func(*Window) {})
		if err != nil {
			t.Fatal(err)
		}
		offs = append(offs, off)
	}
	off, err := ws.OnWindowRemoved(ctx, func(WindowRemoved) {})
	if err != nil {
		t.Fatal(err)
	}
	offs = append(offs, off)

	if n := bus.SubscribeCalls(contract.StreamWindow) - before; n != 1 {
		t.Fatalf("remote subscribes: got %d, want 1", n)
	}
	active := c.ActiveSubscriptions()
	if len(active) != 1 || active[0].RefCount != 4 {
		t.Fatalf("active: %v", active)
	}

	for i, off := range offs[:3] {
		off()
		off()
		if n := bus.OpenStreams(contract.StreamWindow); n != 1 {
			t.Fatalf("after %d unsubscribes: open streams %d", i+1, n)
		}
	}
	offs[3]()
	if n := bus.OpenStreams(contract.StreamWindow); n != 0 {
		t.Fatalf("stream left open: %d", n)
	}
	if n := len(c.ActiveSubscriptions()); n != 0 {
		t.Fatalf("active after release: %d", n)
	}
}

func TestAddRoot_Homogeneous(t *testing.T) {
	c, auth := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)
	before := auth.TotalCalls()

	_, err := ws.AddColumn(ctx, nil)
	wantProgramming(t, err)
	_, err = ws.AddGroup(ctx, nil)
	wantProgramming(t, err)
	col, _ := builder.NewContainer(contract.TypeColumn, nil)
	_, err = ws.AddContainer(ctx, col)
	wantProgramming(t, err)

	if n := auth.TotalCalls() - before; n != 0 {
		t.Fatalf("authority received %d calls", n)
	}

	row, err := ws.AddRow(ctx, nil)
	if err != nil {
		t.Fatalf("AddRow: %v", err)
	}
	if len(ws.Rows()) != 2 || ws.Children()[1] != Item(row) {
		t.Fatal("second row not mirrored")
	}
}

func TestValidation_FailsBeforeSending(t *testing.T) {
	c, auth := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)
	row, group, win := ws.Rows()[0], ws.Groups()[0], ws.Windows()[0]
	before := auth.TotalCalls()

	cases := map[string]func() error{
		"row width":           func() error { return row.SetSize(ctx, Size{Width: 100}) },
		"negative size":       func() error { return win.SetSize(ctx, Size{Width: -3}) },
		"empty size":          func() error { return group.SetSize(ctx, Size{}) },
		"group splitters":     func() error { return group.Lock(ctx, ContainerLock{AllowSplitters: Bool(false)}) },
		"row extract":         func() error { return row.Lock(ctx, ContainerLock{AllowExtract: Bool(false)}) },
		"empty lock":          func() error { return win.Lock(ctx, WindowLock{}) },
		"row maximize":        func() error { return row.Maximize(ctx) },
		"bundle into group":   func() error { return ws.Bundle(ctx, contract.TypeGroup) },
		"group holds row":     func() error { _, err := group.AddRow(ctx, nil); return err },
		"empty layout name":   func() error { return ws.SaveLayout(ctx, "", false) },
		"nil remove":          func() error { return ws.RemoveChild(ctx, nil) },
		"row maximized event": func() error { _, err := row.OnMaximized(ctx, func() {}); return err },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			wantProgramming(t, fn())
		})
	}

	// Schema violations are caught by the catalog before transmission.
	err := c.ctl.send(ctx, contract.OpResizeItem, resizeArgs{ItemID: win.ID()})
	var ve *contract.ValidationError
	if !errors.As(err, &ve) || ve.Direction != contract.DirectionArguments {
		t.Fatalf("expected argument ValidationError, got %v", err)
	}

	if n := auth.TotalCalls() - before; n != 0 {
		t.Fatalf("authority received %d calls", n)
	}
}

func TestRowAddWindow_KeepsRow(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()

	ws, err := c.CreateWorkspace(ctx, contract.WorkspaceDefinition{Children: []contract.Definition{{
		Type:     contract.TypeRow,
		Children: []contract.Definition{{Type: contract.TypeWindow, AppName: "app1"}},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	rows := ws.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows: %d", len(rows))
	}
	row := rows[0]

	if _, err := row.AddWindow(ctx, builder.Window{AppName: "app2"}); err != nil {
		t.Fatal(err)
	}
	if n := len(ws.Windows()); n != 2 {
		t.Fatalf("windows: %d", n)
	}
	if ws.Rows()[0] != row {
		t.Fatal("row replaced by the add")
	}
	if w, err := ws.GetWindow(func(w *Window) bool { return w.AppName() == "app2" }); err != nil || w.Parent() != row {
		t.Fatalf("app2: %v", err)
	}
}

func TestCreateMutateVerify(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()

	b := c.GetBuilder(nil)
	col, _ := b.AddColumn(nil)
	g, _ := col.AddGroup(nil)
	if err := g.AddWindow(builder.Window{AppName: "editor", URL: "https://example.test/editor"}); err != nil {
		t.Fatal(err)
	}
	ws, err := b.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	column, group, win := ws.Columns()[0], ws.Groups()[0], ws.Windows()[0]

	if err := column.SetSize(ctx, Size{Width: 640}); err != nil {
		t.Fatal(err)
	}
	if column.Width() != 640 {
		t.Fatalf("column width: %d", column.Width())
	}
	if err := win.SetTitle(ctx, "draft"); err != nil {
		t.Fatal(err)
	}
	if win.Title() != "draft" || win.URL() != "https://example.test/editor" {
		t.Fatalf("window: title=%q url=%q", win.Title(), win.URL())
	}
	if err := group.Lock(ctx, ContainerLock{AllowExtract: Bool(false)}); err != nil {
		t.Fatal(err)
	}
	if group.Config().AllowExtract || !group.Config().AllowDrop {
		t.Fatalf("group lock: %+v", group.Config())
	}
	if err := group.Maximize(ctx); err != nil {
		t.Fatal(err)
	}
	if !group.IsMaximized() {
		t.Fatal("group not maximized")
	}
	if err := group.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if group.IsMaximized() {
		t.Fatal("group still maximized")
	}
	if err := ws.Lock(ctx, WorkspaceLock{AllowDrop: Bool(false)}); err != nil {
		t.Fatal(err)
	}
	if ws.Config().AllowDrop || !ws.Config().AllowExtract {
		t.Fatalf("workspace lock: %+v", ws.Config())
	}

	snap, err := ws.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Children) != 1 || snap.Children[0].ID != column.ID() {
		t.Fatalf("authority root: %+v", snap.Children)
	}
	leaf := snap.Children[0].Children[0].Children[0]
	var cfg contract.WindowConfig
	if err := leaf.DecodeConfig(&cfg); err != nil {
		t.Fatal(err)
	}
	if leaf.ID != win.ID() || cfg.Title != "draft" {
		t.Fatalf("authority window: id=%s title=%q", leaf.ID, cfg.Title)
	}
}

func TestRemoteError_Verbatim(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()

	ws, err := c.GetBuilder(nil).Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	err = ws.Hibernate(ctx)
	var re *contract.RemoteOperationError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteOperationError, got %T: %v", err, err)
	}
	if re.Message != "cannot hibernate the selected workspace" {
		t.Fatalf("message: %q", re.Message)
	}
}

func TestHibernateAndResume(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	first := twoWindowWorkspace(t, c)
	second := twoWindowWorkspace(t, c)

	if err := first.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if first.IsSelected() || !second.IsSelected() {
		t.Fatal("the newest workspace should be selected")
	}
	if err := first.Hibernate(ctx); err != nil {
		t.Fatal(err)
	}
	if !first.IsHibernated() {
		t.Fatal("not hibernated")
	}
	if err := first.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if first.IsHibernated() {
		t.Fatal("still hibernated")
	}
	if err := first.Focus(ctx); err != nil {
		t.Fatal(err)
	}
	if !first.IsSelected() {
		t.Fatal("focus did not select the workspace")
	}
}

func TestBundle_KeepsWindows(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)
	wins := ws.Windows()

	if err := ws.Bundle(ctx, contract.TypeColumn); err != nil {
		t.Fatal(err)
	}
	if len(ws.Rows()) != 0 || len(ws.Columns()) != 1 || len(ws.Groups()) != 2 {
		t.Fatalf("bundled: rows=%d columns=%d groups=%d", len(ws.Rows()), len(ws.Columns()), len(ws.Groups()))
	}
	got := ws.Windows()
	if len(got) != 2 || got[0] != wins[0] || got[1] != wins[1] {
		t.Fatal("bundle replaced window facades")
	}
	for i, g := range ws.Groups() {
		if got[i].Parent() != g {
			t.Fatalf("window %d not reparented", i)
		}
	}
}

func TestWindow_MoveTo(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)
	chat := ws.Windows()[1]

	target, err := ws.Rows()[0].AddGroup(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := chat.MoveTo(ctx, target); err != nil {
		t.Fatal(err)
	}
	if got := target.Windows(); len(got) != 1 || got[0] != chat {
		t.Fatal("moved window is not the same facade")
	}
	if chat.Parent() != target {
		t.Fatal("parent not updated")
	}
	if n := len(ws.Groups()[0].Windows()); n != 1 {
		t.Fatalf("source group windows: %d", n)
	}
}

func TestWindow_ForceLoadWaitsForHost(t *testing.T) {
	c, auth := setup(t, []authoritytest.Option{authoritytest.WithLoadDelay(50 * time.Millisecond)})
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)
	w := ws.Windows()[0]

	if w.IsLoaded() || w.WindowID() != "" {
		t.Fatal("window loaded before ForceLoad")
	}
	id, err := w.ForceLoad(ctx)
	if err != nil {
		t.Fatalf("ForceLoad: %v", err)
	}
	if id == "" || w.WindowID() != id || !w.IsLoaded() {
		t.Fatalf("after ForceLoad: id=%q windowID=%q loaded=%v", id, w.WindowID(), w.IsLoaded())
	}
	h, err := w.HostWindow(ctx)
	if err != nil || h.ID != id || h.AppName != "notes" {
		t.Fatalf("HostWindow: %+v, %v", h, err)
	}

	calls := auth.Calls(contract.OpForceLoadWindow)
	again, err := w.ForceLoad(ctx)
	if err != nil || again != id {
		t.Fatalf("second ForceLoad: %q, %v", again, err)
	}
	if auth.Calls(contract.OpForceLoadWindow) != calls {
		t.Fatal("loaded window was force-loaded again")
	}
}

func TestWindow_ForceLoadTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.Timeouts.HostWindow = 20 * time.Millisecond
	c, _ := setup(t, []authoritytest.Option{authoritytest.WithLoadDelay(time.Second)}, WithConfig(cfg))
	ws := twoWindowWorkspace(t, c)

	_, err := ws.Windows()[0].ForceLoad(context.Background())
	var ce *contract.RemoteCommunicationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected RemoteCommunicationError, got %T: %v", err, err)
	}
}

func TestWindow_Eject(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)

	id, err := ws.Windows()[0].Eject(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("no host window id")
	}
	if n := len(ws.Windows()); n != 1 {
		t.Fatalf("windows after eject: %d", n)
	}
}

func TestDispose(t *testing.T) {
	c, auth := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)
	group, win := ws.Groups()[0], ws.Windows()[0]

	group.Dispose()
	win.Dispose()
	before := auth.TotalCalls()

	_, err := group.AddWindow(ctx, builder.Window{AppName: "mail"})
	wantProgramming(t, err)
	wantProgramming(t, win.Focus(ctx))
	for name, on := range map[string]func(context.Context, func()) (func(), error){
		"maximized": group.OnMaximized,
		"restored":  group.OnRestored,
	} {
		_, err := on(ctx, func() {})
		wantProgramming(t, err)
		if !strings.Contains(err.Error(), "disposed") {
			t.Errorf("%s on a disposed group: %v", name, err)
		}
	}
	if auth.TotalCalls() != before {
		t.Fatal("disposed facades reached the authority")
	}

	if err := ws.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if ws.Groups()[0] == group {
		t.Fatal("disposed box reused by reconciliation")
	}
	if ws.Groups()[0].ID() != group.ID() {
		t.Fatal("group id changed")
	}
}

func TestFrame_UnsupportedState(t *testing.T) {
	c, auth := setup(t, []authoritytest.Option{authoritytest.WithoutOperations(contract.OpChangeFrameState, contract.OpGetFrameState)})
	ctx := context.Background()
	f := twoWindowWorkspace(t, c).Frame()

	err := f.Minimize(ctx)
	var ue *contract.UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedError, got %T: %v", err, err)
	}
	if n := auth.Calls(contract.OpChangeFrameState); n != 0 {
		t.Fatalf("changeFrameState reached the authority %d times", n)
	}
	if err := f.Focus(ctx); err != nil {
		t.Fatalf("Focus: %v", err)
	}
}

func TestFrame_StateEvents(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	f := twoWindowWorkspace(t, c).Frame()

	maximized := make(chan struct{}, 1)
	off, err := f.OnMaximized(ctx, func() { maximized <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	defer off()

	if err := f.Maximize(ctx); err != nil {
		t.Fatal(err)
	}
	recv(t, maximized)
	state, err := f.State(ctx)
	if err != nil || state != contract.FrameMaximized {
		t.Fatalf("state: %s, %v", state, err)
	}
}

func TestWorkspace_WindowEvents(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)

	added := make(chan *Window, 1)
	removed := make(chan WindowRemoved, 1)
	offAdded, err := ws.OnWindowAdded(ctx, func(w *Window) { added <- w })
	if err != nil {
		t.Fatal(err)
	}
	defer offAdded()
	offRemoved, err := ws.OnWindowRemoved(ctx, func(r WindowRemoved) { removed <- r })
	if err != nil {
		t.Fatal(err)
	}
	defer offRemoved()

	w, err := ws.Groups()[0].AddWindow(ctx, builder.Window{AppName: "mail"})
	if err != nil {
		t.Fatal(err)
	}
	if got := recv(t, added); got != w {
		t.Fatal("workspace callback received another facade")
	}

	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}
	r := recv(t, removed)
	if r.PlacementID != w.ID() || r.WorkspaceID != ws.ID() {
		t.Fatalf("removed: %+v", r)
	}
}

func TestWorkspace_Context(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)

	updates := make(chan map[string]any, 4)
	off, err := ws.OnContextUpdated(func(m map[string]any) { updates <- m })
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.SetContext(ctx, map[string]any{"user": "ana"}); err != nil {
		t.Fatal(err)
	}
	if err := ws.UpdateContext(ctx, map[string]any{"theme": "dark"}); err != nil {
		t.Fatal(err)
	}
	if got := recv(t, updates); got["user"] != "ana" {
		t.Fatalf("first update: %v", got)
	}
	if got := recv(t, updates); got["user"] != "ana" || got["theme"] != "dark" {
		t.Fatalf("merged update: %v", got)
	}

	data, err := ws.GetContext(ctx)
	if err != nil || len(data) != 2 {
		t.Fatalf("GetContext: %v, %v", data, err)
	}

	off()
	if err := ws.SetContext(ctx, map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if len(updates) != 0 {
		t.Fatal("callback ran after unsubscribe")
	}
}

func TestLayouts_RemoteRestore(t *testing.T) {
	c, auth := setup(t, nil)
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)

	if err := ws.SaveLayout(ctx, "daily", false); err != nil {
		t.Fatal(err)
	}
	if ws.LayoutName() != "daily" {
		t.Fatalf("layout name: %q", ws.LayoutName())
	}
	list, err := c.Layouts().List(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "daily" {
		t.Fatalf("List: %v, %v", list, err)
	}

	restored, err := c.RestoreWorkspace(ctx, "daily", nil)
	if err != nil {
		t.Fatal(err)
	}
	if restored.ID() == ws.ID() || len(restored.Windows()) != 2 || restored.Title() != "daily" {
		t.Fatalf("restored: id=%s windows=%d title=%q", restored.ID(), len(restored.Windows()), restored.Title())
	}
	if auth.Calls(contract.OpOpenWorkspace) != 1 {
		t.Fatal("restore did not go through the authority")
	}

	if err := c.Layouts().Delete(ctx, "daily"); err != nil {
		t.Fatal(err)
	}
	var re *contract.RemoteOperationError
	if _, err := c.RestoreWorkspace(ctx, "daily", nil); !errors.As(err, &re) {
		t.Fatalf("restore of a deleted layout: %v", err)
	}
}

func TestLayouts_LocalRestore(t *testing.T) {
	cfg := testConfig()
	cfg.Layouts.Source = "local"
	c, auth := setup(t, nil, WithConfig(cfg))
	ctx := context.Background()
	ws := twoWindowWorkspace(t, c)

	if err := ws.SetContext(ctx, map[string]any{"user": "ana"}); err != nil {
		t.Fatal(err)
	}
	if err := ws.SaveLayout(ctx, "daily", true); err != nil {
		t.Fatal(err)
	}
	if auth.Calls(contract.OpSaveLayout) != 0 {
		t.Fatal("local layout sent to the authority")
	}

	restored, err := c.RestoreWorkspace(ctx, "daily", &contract.RestoreOptions{Title: "copy"})
	if err != nil {
		t.Fatal(err)
	}
	if auth.Calls(contract.OpOpenWorkspace) != 0 {
		t.Fatal("local restore used openWorkspace")
	}
	if restored.Title() != "copy" || len(restored.Rows()) != 1 || len(restored.Windows()) != 2 {
		t.Fatalf("restored: title=%q rows=%d windows=%d", restored.Title(), len(restored.Rows()), len(restored.Windows()))
	}
	if restored.Windows()[1].AppName() != "chat" {
		t.Fatalf("window order: %s", restored.Windows()[1].AppName())
	}
	data, err := restored.GetContext(ctx)
	if err != nil || data["user"] != "ana" {
		t.Fatalf("restored context: %v, %v", data, err)
	}
}
