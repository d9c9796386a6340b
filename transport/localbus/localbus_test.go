package localbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/pkg/connectivity"

	"github.com/hazyhaar/workspaces/contract"
	"github.com/hazyhaar/workspaces/transport"
)

func echo(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

func TestInvoke_Echo(t *testing.T) {
	b := New()
	b.Register(transport.MethodInfo{Name: "Echo"}, echo)

	res, err := b.Invoke(context.Background(), "Echo", json.RawMessage(`{"x":1}`), transport.InvokeOptions{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(res.AllReturnValues) != 1 {
		t.Fatalf("return values: got %d, want 1", len(res.AllReturnValues))
	}
	if got := string(res.AllReturnValues[0].Returned); got != `{"x":1}` {
		t.Fatalf("returned: got %s", got)
	}
}

func TestInvoke_UnknownMethod(t *testing.T) {
	b := New()
	_, err := b.Invoke(context.Background(), "Missing", nil, transport.InvokeOptions{})
	var nf *connectivity.ErrServiceNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrServiceNotFound, got %T: %v", err, err)
	}
}

func TestInvoke_HandlerErrorIsRemoteRejection(t *testing.T) {
	b := New()
	b.Register(transport.MethodInfo{Name: "Fail"}, func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("no such workspace")
	})

	_, err := b.Invoke(context.Background(), "Fail", nil, transport.InvokeOptions{})
	var remote *transport.ErrRemote
	if !errors.As(err, &remote) {
		t.Fatalf("expected ErrRemote, got %T: %v", err, err)
	}
	if remote.Message != "no such workspace" {
		t.Fatalf("message: got %q", remote.Message)
	}
}

func TestInvoke_PanicIsNotARejection(t *testing.T) {
	b := New()
	b.Register(transport.MethodInfo{Name: "Boom"}, func(context.Context, []byte) ([]byte, error) {
		panic("boom")
	})

	_, err := b.Invoke(context.Background(), "Boom", nil, transport.InvokeOptions{})
	var p *connectivity.ErrPanic
	if !errors.As(err, &p) {
		t.Fatalf("expected ErrPanic, got %T: %v", err, err)
	}
}

func TestMethodAdded(t *testing.T) {
	b := New()
	var seen []string
	off := b.MethodAdded(func(m transport.MethodInfo) { seen = append(seen, m.Name) })

	b.Register(transport.MethodInfo{Name: "A"}, echo)
	off()
	b.Register(transport.MethodInfo{Name: "B"}, echo)

	if len(seen) != 1 || seen[0] != "A" {
		t.Fatalf("seen: got %v, want [A]", seen)
	}
	if got := len(b.Methods()); got != 2 {
		t.Fatalf("methods: got %d, want 2", got)
	}
}

func TestRegister_ReplacesInfo(t *testing.T) {
	b := New()
	b.Register(transport.MethodInfo{Name: "A"}, echo)
	b.Register(transport.MethodInfo{Name: "A", Operations: []string{"x"}}, echo)

	ms := b.Methods()
	if len(ms) != 1 || len(ms[0].Operations) != 1 {
		t.Fatalf("methods: got %+v", ms)
	}
}

func TestPublish_BranchRouting(t *testing.T) {
	b := New()
	ctx := context.Background()

	global, err := b.Subscribe(ctx, contract.StreamWindow, json.RawMessage(`{"branch":"global"}`))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	scoped, err := b.Subscribe(ctx, contract.StreamWindow, json.RawMessage(`{"branch":"workspace_w1"}`))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	got := make(chan string, 4)
	global.OnData(func(d []byte) { got <- "global:" + string(d) })
	scoped.OnData(func(d []byte) { got <- "scoped:" + string(d) })

	if n := b.Publish(contract.StreamWindow, "workspace_w1", []byte("m1")); n != 1 {
		t.Fatalf("delivered: got %d, want 1", n)
	}
	select {
	case s := <-got:
		if s != "scoped:m1" {
			t.Fatalf("got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	if n := b.Publish(contract.StreamWindow, "frame_f1", []byte("m2")); n != 0 {
		t.Fatalf("delivered to unknown branch: %d", n)
	}
}

func TestStreamClose(t *testing.T) {
	b := New()
	s, err := b.Subscribe(context.Background(), contract.StreamFrame, json.RawMessage(`{"branch":"global"}`))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	s.OnData(func([]byte) { t.Error("delivered after close") })

	if b.OpenStreams(contract.StreamFrame) != 1 {
		t.Fatal("stream not counted as open")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, transport.ErrStreamClosed) {
		t.Fatalf("second Close: got %v", err)
	}
	if b.OpenStreams(contract.StreamFrame) != 0 {
		t.Fatal("stream still open")
	}
	if b.SubscribeCalls(contract.StreamFrame) != 1 {
		t.Fatalf("subscribe calls: got %d", b.SubscribeCalls(contract.StreamFrame))
	}
	b.Publish(contract.StreamFrame, "global", []byte("late"))
}

func TestTransportOverLocalBus(t *testing.T) {
	b := New()
	tr := transport.New(b, transport.WithMethodWait(time.Second))

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Register(transport.MethodInfo{Name: transport.DefaultControlMethod}, func(_ context.Context, p []byte) ([]byte, error) {
			var ca transport.ControlArgs
			if err := json.Unmarshal(p, &ca); err != nil {
				return nil, err
			}
			if ca.Operation == contract.OpCloseItem {
				return nil, errors.New("item not found")
			}
			return json.Marshal(map[string]string{"op": ca.Operation})
		})
	}()

	raw, err := tr.Send(context.Background(), contract.OpGetFrameSummary, json.RawMessage(`{"itemId":"f1"}`))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(raw) != `{"op":"getFrameSummary"}` {
		t.Fatalf("raw: got %s", raw)
	}

	_, err = tr.Send(context.Background(), contract.OpCloseItem, json.RawMessage(`{"itemId":"x"}`))
	var opErr *contract.RemoteOperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected RemoteOperationError, got %T: %v", err, err)
	}
}

func TestTransport_MethodNeverAppears(t *testing.T) {
	tr := transport.New(New(), transport.WithMethodWait(30*time.Millisecond))
	_, err := tr.Send(context.Background(), contract.OpGetFrameSummary, nil)

	var comm *contract.RemoteCommunicationError
	if !errors.As(err, &comm) {
		t.Fatalf("expected RemoteCommunicationError, got %T: %v", err, err)
	}
	var unavailable *transport.ErrMethodUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrMethodUnavailable in chain, got %v", err)
	}
}

func TestTransport_CallTimeout(t *testing.T) {
	b := New()
	b.Register(transport.MethodInfo{Name: transport.DefaultControlMethod}, func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	tr := transport.New(b, transport.WithCallTimeout(20*time.Millisecond))

	_, err := tr.Send(context.Background(), contract.OpGetFrameSummary, nil)
	var to *transport.ErrTimeout
	if !errors.As(err, &to) {
		t.Fatalf("expected ErrTimeout, got %T: %v", err, err)
	}
}

func TestTransport_Supports(t *testing.T) {
	b := New()
	tr := transport.New(b)
	if !tr.Supports(contract.OpChangeFrameState) {
		t.Fatal("unknown method should answer true")
	}
	b.Register(transport.MethodInfo{
		Name:       transport.DefaultControlMethod,
		Operations: []string{contract.OpGetFrameSummary},
	}, echo)
	if tr.Supports(contract.OpChangeFrameState) {
		t.Fatal("unadvertised operation reported as supported")
	}
	if !tr.Supports(contract.OpGetFrameSummary) {
		t.Fatal("advertised operation reported as unsupported")
	}
}
