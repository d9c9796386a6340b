package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/workspaces/contract"
	"github.com/hazyhaar/workspaces/transport"
	"github.com/hazyhaar/workspaces/transport/localbus"
)

// countingBus records every Invoke and can refuse stream opens.
type countingBus struct {
	*localbus.Bus
	invokes       atomic.Int32
	failSubscribe bool
}

func (c *countingBus) Invoke(ctx context.Context, method string, args json.RawMessage, opts transport.InvokeOptions) (*transport.InvokeResult, error) {
	c.invokes.Add(1)
	return c.Bus.Invoke(ctx, method, args, opts)
}

func (c *countingBus) Subscribe(ctx context.Context, name string, args json.RawMessage) (transport.Stream, error) {
	if c.failSubscribe {
		return nil, errors.New("stream refused")
	}
	return c.Bus.Subscribe(ctx, name, args)
}

func setup(t *testing.T, handler localbus.Handler, opts ...Option) (*Bridge, *countingBus) {
	t.Helper()
	bus := &countingBus{Bus: localbus.New()}
	if handler != nil {
		bus.Register(transport.MethodInfo{Name: transport.DefaultControlMethod}, handler)
	}
	b := New(transport.New(bus, transport.WithMethodWait(50*time.Millisecond)), opts...)
	t.Cleanup(func() { b.Close() })
	return b, bus
}

func reply(v any) localbus.Handler {
	return func(context.Context, []byte) ([]byte, error) { return json.Marshal(v) }
}

func TestSend_InvalidArgumentsNeverTransmitted(t *testing.T) {
	b, bus := setup(t, reply(map[string]any{}))

	_, err := b.Send(context.Background(), contract.OpResizeItem, map[string]any{"itemId": "w1", "width": -5})
	var ve *contract.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if ve.Direction != contract.DirectionArguments {
		t.Fatalf("direction: got %s", ve.Direction)
	}
	if n := bus.invokes.Load(); n != 0 {
		t.Fatalf("invoke called %d times", n)
	}
}

func TestSend_ResultValidated(t *testing.T) {
	b, bus := setup(t, reply(map[string]any{"unexpected": true}))

	_, err := b.Send(context.Background(), contract.OpGetFrameSummary, map[string]any{"itemId": "f1"})
	var ve *contract.ValidationError
	if !errors.As(err, &ve) || ve.Direction != contract.DirectionResult {
		t.Fatalf("expected result ValidationError, got %v", err)
	}
	if bus.invokes.Load() != 1 {
		t.Fatalf("invokes: got %d", bus.invokes.Load())
	}
}

func TestSendInto(t *testing.T) {
	b, _ := setup(t, reply(contract.FrameSummary{ID: "f1"}))

	var fs contract.FrameSummary
	if err := b.SendInto(context.Background(), contract.OpGetFrameSummary, map[string]any{"itemId": "w"}, &fs); err != nil {
		t.Fatalf("SendInto: %v", err)
	}
	if fs.ID != "f1" {
		t.Fatalf("id: got %q", fs.ID)
	}
}

func TestSend_UnknownOperation(t *testing.T) {
	b, bus := setup(t, reply(nil))
	_, err := b.Send(context.Background(), "teleportWindow", nil)
	var pe *contract.ProgrammingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProgrammingError, got %T: %v", err, err)
	}
	if bus.invokes.Load() != 0 {
		t.Fatal("unknown operation reached the bus")
	}
}

func TestSend_UnsupportedCapability(t *testing.T) {
	bus := &countingBus{Bus: localbus.New()}
	bus.Register(transport.MethodInfo{
		Name:       transport.DefaultControlMethod,
		Operations: []string{contract.OpGetFrameSummary},
	}, reply(nil))
	b := New(transport.New(bus))
	defer b.Close()

	_, err := b.Send(context.Background(), contract.OpChangeFrameState,
		map[string]any{"frameId": "f1", "requestedState": "minimized"})
	var ue *contract.UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedError, got %T: %v", err, err)
	}
	if ue.Capability != contract.CapFrameState {
		t.Fatalf("capability: got %q", ue.Capability)
	}
	if bus.invokes.Load() != 0 {
		t.Fatal("unsupported operation reached the bus")
	}
}

func TestSend_RemoteRejectionVerbatim(t *testing.T) {
	b, _ := setup(t, func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("workspace ws-9 is locked")
	})
	_, err := b.Send(context.Background(), contract.OpCloseItem, map[string]any{"itemId": "ws-9"})
	var re *contract.RemoteOperationError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteOperationError, got %T: %v", err, err)
	}
	if re.Message != "workspace ws-9 is locked" {
		t.Fatalf("message: got %q", re.Message)
	}
}

func TestSend_MethodUnavailable(t *testing.T) {
	b, _ := setup(t, nil)
	_, err := b.Send(context.Background(), contract.OpCloseItem, map[string]any{"itemId": "x"})
	var ce *contract.RemoteCommunicationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected RemoteCommunicationError, got %T: %v", err, err)
	}
	if ce.Op != contract.OpCloseItem || string(ce.Args) != `{"itemId":"x"}` {
		t.Fatalf("error lost the attempted call: %+v", ce)
	}
}

func windowAdded(t *testing.T, branch, placement, workspace, app string) []byte {
	t.Helper()
	data, err := contract.EncodeEvent(contract.Event{
		Type:   contract.EventWindow,
		Action: contract.ActionAdded,
		WindowSummary: &contract.WindowSummary{
			ItemID: placement,
			Config: contract.WindowConfig{FrameID: "f1", WorkspaceID: workspace, AppName: app},
		},
	}, contract.StreamArgs{Branch: branch})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	return data
}

func subscribe(t *testing.T, b *Bridge, scope contract.Scope, id string, cb func(contract.Event) error) func() {
	t.Helper()
	off, err := b.Subscribe(context.Background(), SubscriptionConfig{
		EventType: contract.EventWindow,
		Scope:     scope,
		ScopeID:   id,
		Action:    contract.ActionAdded,
		Callback:  cb,
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return off
}

func TestSubscribe_RefCounted(t *testing.T) {
	b, bus := setup(t, nil)
	noop := func(contract.Event) error { return nil }

	offs := []func(){
		subscribe(t, b, contract.ScopeWorkspace, "w1", noop),
		subscribe(t, b, contract.ScopeWorkspace, "w1", noop),
		subscribe(t, b, contract.ScopeWorkspace, "w1", noop),
	}
	if got := bus.SubscribeCalls(contract.StreamWindow); got != 1 {
		t.Fatalf("remote opens: got %d, want 1", got)
	}

	offs[0]()
	offs[1]()
	offs[1]()
	if got := bus.OpenStreams(contract.StreamWindow); got != 1 {
		t.Fatalf("open streams after 2 unsubscribes: got %d, want 1", got)
	}
	offs[2]()
	if got := bus.OpenStreams(contract.StreamWindow); got != 0 {
		t.Fatalf("open streams after last unsubscribe: got %d, want 0", got)
	}
	if len(b.ActiveSubscriptions()) != 0 {
		t.Fatal("active record survived")
	}
}

func TestSubscribe_DistinctScopesOpenDistinctStreams(t *testing.T) {
	b, bus := setup(t, nil)
	noop := func(contract.Event) error { return nil }
	subscribe(t, b, contract.ScopeWorkspace, "w1", noop)
	subscribe(t, b, contract.ScopeWorkspace, "w2", noop)
	subscribe(t, b, contract.ScopeGlobal, "", noop)

	if got := bus.SubscribeCalls(contract.StreamWindow); got != 3 {
		t.Fatalf("remote opens: got %d, want 3", got)
	}
	if got := len(b.ActiveSubscriptions()); got != 3 {
		t.Fatalf("active: got %d", got)
	}
}

func TestSubscribe_ConcurrentFirstSubscribersShareOneStream(t *testing.T) {
	b, bus := setup(t, nil)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Subscribe(context.Background(), SubscriptionConfig{
				EventType: contract.EventWindow, Scope: contract.ScopeGlobal,
				Action: contract.ActionAdded, Callback: func(contract.Event) error { return nil },
			})
			if err != nil {
				t.Errorf("Subscribe: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := bus.SubscribeCalls(contract.StreamWindow); got != 1 {
		t.Fatalf("remote opens: got %d, want 1", got)
	}
}

func TestSubscribe_FanOutInRegistrationOrder(t *testing.T) {
	b, bus := setup(t, nil)

	var mu sync.Mutex
	var calls []string
	done := make(chan struct{}, 2)
	record := func(name string) func(contract.Event) error {
		return func(ev contract.Event) error {
			mu.Lock()
			calls = append(calls, name+":"+ev.WindowSummary.Config.AppName)
			mu.Unlock()
			done <- struct{}{}
			return nil
		}
	}
	subscribe(t, b, contract.ScopeWorkspace, "w1", record("first"))
	subscribe(t, b, contract.ScopeWorkspace, "w1", record("second"))

	bus.Publish(contract.StreamWindow, "workspace_w1", windowAdded(t, "workspace_w1", "p1", "w1", "app1"))
	for range 2 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("callbacks not invoked")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first:app1", "second:app1"}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("calls: got %v, want %v", calls, want)
	}
}

func TestSubscribe_InvalidEventsDropped(t *testing.T) {
	b, bus := setup(t, nil)
	got := make(chan contract.Event, 4)
	subscribe(t, b, contract.ScopeGlobal, "", func(ev contract.Event) error { got <- ev; return nil })

	bus.Publish(contract.StreamWindow, "global", []byte(`{"action":"added"}`))
	bus.Publish(contract.StreamWindow, "global", []byte(`{"action":"exploded","type":"window","payload":{}}`))
	bus.Publish(contract.StreamWindow, "global", windowAdded(t, "global", "p2", "w1", "ok"))

	select {
	case ev := <-got:
		if ev.WindowID() != "p2" {
			t.Fatalf("first delivered event: got %s", ev.WindowID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid event not delivered")
	}
	select {
	case ev := <-got:
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_FailingCallbackDoesNotBlockSiblings(t *testing.T) {
	b, bus := setup(t, nil)
	got := make(chan struct{}, 1)
	subscribe(t, b, contract.ScopeGlobal, "", func(contract.Event) error { panic("bad callback") })
	subscribe(t, b, contract.ScopeGlobal, "", func(contract.Event) error { got <- struct{}{}; return nil })

	bus.Publish(contract.StreamWindow, "global", windowAdded(t, "global", "p1", "w1", "a"))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling callback not invoked")
	}
}

func TestSubscribe_OpenFailure(t *testing.T) {
	b, bus := setup(t, nil)
	bus.failSubscribe = true

	_, err := b.Subscribe(context.Background(), SubscriptionConfig{
		EventType: contract.EventFrame, Scope: contract.ScopeGlobal,
		Action: contract.ActionOpened, Callback: func(contract.Event) error { return nil },
	})
	var ce *contract.RemoteCommunicationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected RemoteCommunicationError, got %T: %v", err, err)
	}
	if len(b.ActiveSubscriptions()) != 0 {
		t.Fatal("failed open left an active record")
	}
}

func TestSubscribe_ProgrammingErrors(t *testing.T) {
	b, bus := setup(t, nil)
	cb := func(contract.Event) error { return nil }
	cases := []struct {
		name string
		cfg  SubscriptionConfig
	}{
		{"nil callback", SubscriptionConfig{EventType: contract.EventWindow, Action: contract.ActionAdded}},
		{"missing scope id", SubscriptionConfig{EventType: contract.EventWindow, Scope: contract.ScopeWorkspace, Action: contract.ActionAdded, Callback: cb}},
		{"undeclared action", SubscriptionConfig{EventType: contract.EventFrame, Action: contract.ActionLoaded, Callback: cb}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.Subscribe(context.Background(), tc.cfg)
			var pe *contract.ProgrammingError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProgrammingError, got %T: %v", err, err)
			}
		})
	}
	if bus.SubscribeCalls(contract.StreamWindow)+bus.SubscribeCalls(contract.StreamFrame) != 0 {
		t.Fatal("invalid subscription reached the bus")
	}
}

func TestSharedMode_ScopeMatchedLocally(t *testing.T) {
	b, bus := setup(t, nil, WithMode(ModeShared))

	w1 := make(chan string, 2)
	w2 := make(chan string, 2)
	all := make(chan string, 2)
	subscribe(t, b, contract.ScopeWorkspace, "w1", func(ev contract.Event) error { w1 <- ev.WindowID(); return nil })
	subscribe(t, b, contract.ScopeWorkspace, "w2", func(ev contract.Event) error { w2 <- ev.WindowID(); return nil })
	subscribe(t, b, contract.ScopeGlobal, "", func(ev contract.Event) error { all <- ev.WindowID(); return nil })

	if got := bus.SubscribeCalls(contract.SharedStream); got != 1 {
		t.Fatalf("shared stream opens: got %d, want 1", got)
	}

	bus.Publish(contract.SharedStream, "", windowAdded(t, "", "p1", "w1", "a"))

	for _, ch := range []chan string{w1, all} {
		select {
		case id := <-ch:
			if id != "p1" {
				t.Fatalf("window id: got %q", id)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("matching subscriber not invoked")
		}
	}
	select {
	case id := <-w2:
		t.Fatalf("w2 subscriber received %q", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_ReleasesStreamsAndGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := &countingBus{Bus: localbus.New()}
	b := New(transport.New(bus))
	noop := func(contract.Event) error { return nil }

	off := subscribe(t, b, contract.ScopeWorkspace, "w1", noop)
	subscribe(t, b, contract.ScopeFrame, "f1", noop)
	off()
	if bus.OpenStreams(contract.StreamWindow) != 1 {
		t.Fatalf("open streams after one unsubscribe: got %d, want 1", bus.OpenStreams(contract.StreamWindow))
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bus.OpenStreams(contract.StreamWindow) != 0 {
		t.Fatal("stream left open after Close")
	}
	if _, err := b.Subscribe(context.Background(), SubscriptionConfig{
		EventType: contract.EventWindow, Action: contract.ActionAdded, Callback: noop,
	}); err == nil {
		t.Fatal("Subscribe after Close succeeded")
	}
}
