package layouts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hazyhaar/pkg/dbopen"

	"github.com/hazyhaar/workspaces/contract"
)

func node(t *testing.T, id string, typ contract.ItemType, cfg map[string]any, children ...contract.SnapshotNode) contract.SnapshotNode {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return contract.SnapshotNode{ID: id, Type: typ, Config: raw, Children: children}
}

// fakeWorkspace is column(width 640) > group > {notes, chat titled "Team"}.
func fakeWorkspace(t *testing.T) SnapshotFunc {
	tree := []contract.SnapshotNode{
		node(t, "column_1", contract.TypeColumn, map[string]any{"width": 640, "allowDrop": true},
			node(t, "group_1", contract.TypeGroup, map[string]any{"isMaximized": false},
				node(t, "window_1", contract.TypeWindow, map[string]any{"appName": "notes", "title": "notes", "windowId": "win-1"}),
				node(t, "window_2", contract.TypeWindow, map[string]any{"appName": "chat", "title": "Team", "url": "https://chat.test"}),
			),
		),
	}
	return func(_ context.Context, id string) (contract.WorkspaceSnapshot, error) {
		if id != "ws_1" {
			return contract.WorkspaceSnapshot{}, errors.New("unknown workspace")
		}
		return contract.WorkspaceSnapshot{ID: id, Children: tree}, nil
	}
}

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(dbopen.OpenMemory(t), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSave_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, WithSnapshotter(fakeWorkspace(t)))

	if err := s.Save(ctx, SaveRequest{Name: "daily", WorkspaceID: "ws_1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]contract.LayoutSummary{{Name: "daily"}}, list); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	l, err := s.Load(ctx, "daily")
	if err != nil {
		t.Fatal(err)
	}
	if l.Type != "Workspace" || l.Metadata != nil {
		t.Errorf("layout: type=%q metadata=%v", l.Type, l.Metadata)
	}
	defs, err := Definitions(l)
	if err != nil {
		t.Fatal(err)
	}
	want := []contract.Definition{{
		Type:   contract.TypeColumn,
		Config: map[string]any{"width": float64(640)},
		Children: []contract.Definition{{
			Type: contract.TypeGroup,
			Children: []contract.Definition{
				{Type: contract.TypeWindow, AppName: "notes"},
				{Type: contract.TypeWindow, AppName: "chat", URL: "https://chat.test", Config: map[string]any{"title": "Team"}},
			},
		}},
	}}
	if diff := cmp.Diff(want, defs); diff != "" {
		t.Errorf("definitions mismatch (-want +got):\n%s", diff)
	}
}

func TestSave_WithContext(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, WithSnapshotter(fakeWorkspace(t)))

	if err := s.SetContext(ctx, "ws_1", map[string]any{"user": "ana"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, SaveRequest{Name: "daily", WorkspaceID: "ws_1", SaveContext: true}); err != nil {
		t.Fatal(err)
	}
	l, err := s.Load(ctx, "daily")
	if err != nil {
		t.Fatal(err)
	}
	saved, _ := l.Metadata["context"].(map[string]any)
	if saved["user"] != "ana" {
		t.Fatalf("saved context: %v", l.Metadata)
	}
}

func TestSave_Rejects(t *testing.T) {
	ctx := context.Background()
	var pe *contract.ProgrammingError

	if err := newStore(t).Save(ctx, SaveRequest{Name: "x", WorkspaceID: "ws_1"}); !errors.As(err, &pe) {
		t.Errorf("no snapshotter: %v", err)
	}
	s := newStore(t, WithSnapshotter(fakeWorkspace(t)))
	if err := s.Save(ctx, SaveRequest{WorkspaceID: "ws_1"}); !errors.As(err, &pe) {
		t.Errorf("no name: %v", err)
	}
	if err := s.Save(ctx, SaveRequest{Name: "x", WorkspaceID: "ws_404"}); err == nil {
		t.Error("expected the snapshot error")
	}
}

func TestDelete_NotFound(t *testing.T) {
	s := newStore(t)
	err := s.Delete(context.Background(), "nope")
	if !errors.Is(err, ErrLayoutNotFound) {
		t.Fatalf("got %v, want ErrLayoutNotFound", err)
	}
	if _, err := s.Load(context.Background(), "nope"); !errors.Is(err, ErrLayoutNotFound) {
		t.Fatalf("Load: got %v", err)
	}
}

func TestImport_Modes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first := []contract.Layout{
		{Name: "b", Components: json.RawMessage(`[{"type":"row"}]`)},
		{Name: "a"},
	}
	if err := s.Import(ctx, first, ImportReplace); err != nil {
		t.Fatal(err)
	}

	second := []contract.Layout{
		{Name: "b", Components: json.RawMessage(`[{"type":"column"}]`)},
		{Name: "c"},
	}
	if err := s.Import(ctx, second, ImportMerge); err != nil {
		t.Fatal(err)
	}
	b, err := s.Load(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if string(b.Components) != `[{"type":"row"}]` {
		t.Errorf("merge overwrote b: %s", b.Components)
	}

	if err := s.Import(ctx, second[:1], ImportReplace); err != nil {
		t.Fatal(err)
	}
	if b, _ = s.Load(ctx, "b"); string(b.Components) != `[{"type":"column"}]` {
		t.Errorf("replace kept b: %s", b.Components)
	}

	all, err := s.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, l := range all {
		names = append(names, l.Name)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, names); diff != "" {
		t.Errorf("export order (-want +got):\n%s", diff)
	}
	if a := all[0]; a.Type != "Workspace" || string(a.Components) != "[]" {
		t.Errorf("defaults of a: %+v", a)
	}

	if err := s.Import(ctx, []contract.Layout{{Name: "d"}, {}}, ImportReplace); err == nil {
		t.Fatal("expected an error for a nameless layout")
	}
	if _, err := s.Load(ctx, "d"); !errors.Is(err, ErrLayoutNotFound) {
		t.Fatal("failed import was not rolled back")
	}
}

func TestContexts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	data, err := s.GetContext(ctx, "ws_1")
	if err != nil || len(data) != 0 {
		t.Fatalf("empty context: %v, %v", data, err)
	}

	var got []map[string]any
	off := s.SubscribeContext("ws_1", func(m map[string]any) { got = append(got, m) })
	s.SubscribeContext("ws_1", func(map[string]any) { panic("boom") })
	s.SubscribeContext("ws_2", func(m map[string]any) { t.Errorf("wrong workspace notified: %v", m) })

	if err := s.SetContext(ctx, "ws_1", map[string]any{"user": "ana", "n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateContext(ctx, "ws_1", map[string]any{"n": 2, "theme": "dark"}); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || got[0]["user"] != "ana" || got[1]["theme"] != "dark" || got[1]["user"] != "ana" {
		t.Fatalf("notifications: %v", got)
	}

	stored, err := s.GetContext(ctx, "ws_1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"user": "ana", "n": float64(2), "theme": "dark"}, stored); diff != "" {
		t.Errorf("stored context (-want +got):\n%s", diff)
	}

	off()
	off()
	if err := s.SetContext(ctx, "ws_1", nil); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("callback ran after unsubscribe: %d", len(got))
	}
	if stored, _ := s.GetContext(ctx, "ws_1"); len(stored) != 0 {
		t.Fatalf("nil context should clear: %v", stored)
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.SetContext(context.Background(), "ws_1", map[string]any{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if data, _ := s.GetContext(context.Background(), "ws_1"); data["k"] != "v" {
		t.Fatalf("context lost across connections: %v", data)
	}
}

func TestContexts_RegistrationOrder(t *testing.T) {
	s := newStore(t)
	var order []int
	for i := range 8 {
		s.SubscribeContext("ws_1", func(map[string]any) { order = append(order, i) })
	}
	if err := s.SetContext(context.Background(), "ws_1", map[string]any{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6, 7}, order); diff != "" {
		t.Errorf("subscriber order (-want +got):\n%s", diff)
	}
}
