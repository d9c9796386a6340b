// Package wsbus carries the interop bus over a WebSocket. One connection
// multiplexes invokes, stream subscriptions and method advertisements as
// JSON frames.
//
// Client implements transport.Bus against a remote host. Server exposes any
// transport.Bus (typically a localbus.Bus) to remote clients:
//
//	http.Handle("/bus", wsbus.NewServer(local))
//	c, err := wsbus.Dial(ctx, "ws://host/bus")
package wsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/hazyhaar/pkg/idgen"

	"github.com/hazyhaar/workspaces/transport"
)

// ErrClosed is returned by calls made after the connection went down.
var ErrClosed = errors.New("wsbus: connection closed")

// Client is safe for concurrent use.
type Client struct {
	conn   *websocket.Conn
	newID  idgen.Generator
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	pending    map[string]chan frame
	streams    map[string]*stream
	methods    []transport.MethodInfo
	listeners  map[uint64]func(transport.MethodInfo)
	nextListen uint64
	err        error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithIDGenerator sets the generator for request and subscription ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(c *Client) { c.newID = gen }
}

// Dial connects to a wsbus server at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection and starts its read loop.
func NewClient(conn *websocket.Conn, opts ...Option) *Client {
	c := &Client{
		conn:      conn,
		newID:     idgen.Prefixed("req_", idgen.NanoID(12)),
		logger:    slog.Default(),
		done:      make(chan struct{}),
		pending:   make(map[string]chan frame),
		streams:   make(map[string]*stream),
		listeners: make(map[uint64]func(transport.MethodInfo)),
	}
	for _, o := range opts {
		o(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.readLoop()
	return c
}

// Close shuts the connection down and waits for the read loop to exit.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var f frame
		if err := wsjson.Read(c.ctx, c.conn, &f); err != nil {
			c.fail(err)
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Kind {
	case kindMethods, kindMethodAdded:
		// Methods are never withdrawn, so the initial list and later
		// additions are merged in whatever order they arrive.
		c.mu.Lock()
		c.methods = upsertMethods(c.methods, f.Methods)
		listeners := make([]func(transport.MethodInfo), 0, len(c.listeners))
		for _, fn := range c.listeners {
			listeners = append(listeners, fn)
		}
		c.mu.Unlock()
		for _, m := range f.Methods {
			for _, fn := range listeners {
				fn(m)
			}
		}
	case kindData:
		c.mu.Lock()
		s := c.streams[f.ID]
		c.mu.Unlock()
		if s != nil {
			s.deliver(f.Data)
		}
	case kindResult, kindSubscribed, kindError:
		c.mu.Lock()
		ch := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- f
		}
	default:
		c.logger.Warn("wsbus: unknown frame", "kind", f.Kind, "id", f.ID)
	}
}

func upsertMethods(list, add []transport.MethodInfo) []transport.MethodInfo {
	for _, m := range add {
		found := false
		for i := range list {
			if list[i].Name == m.Name {
				list[i] = m
				found = true
			}
		}
		if !found {
			list = append(list, m)
		}
	}
	return list
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	c.pending = make(map[string]chan frame)
	streams := c.streams
	c.streams = make(map[string]*stream)
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- frame{Kind: kindError, ID: id, Error: ErrClosed.Error()}
	}
	for _, s := range streams {
		s.markClosed()
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure || c.ctx.Err() != nil {
		c.logger.Debug("wsbus: connection closed")
		return
	}
	c.logger.Warn("wsbus: connection lost", "error", err)
}

// request sends f and waits for the matching reply.
func (c *Client) request(ctx context.Context, f frame) (frame, error) {
	ch := make(chan frame, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return frame{}, ErrClosed
	}
	c.pending[f.ID] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, f); err != nil {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return frame{}, fmt.Errorf("wsbus: write %s: %w", f.Kind, err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return frame{}, ctx.Err()
	}
}

// Invoke implements transport.Bus.
func (c *Client) Invoke(ctx context.Context, method string, args json.RawMessage, _ transport.InvokeOptions) (*transport.InvokeResult, error) {
	reply, err := c.request(ctx, frame{Kind: kindInvoke, ID: c.newID(), Method: method, Args: args})
	if err != nil {
		return nil, err
	}
	if reply.Kind == kindError {
		if reply.Rejected {
			return nil, &transport.ErrRemote{Method: method, Message: reply.Error}
		}
		return nil, errors.New(reply.Error)
	}
	return reply.Result, nil
}

// Subscribe implements transport.Bus.
func (c *Client) Subscribe(ctx context.Context, name string, args json.RawMessage) (transport.Stream, error) {
	id := c.newID()
	s := &stream{client: c, id: id}
	// Registered before the request so no data frame is lost between the
	// server's ack and our bookkeeping.
	c.mu.Lock()
	c.streams[id] = s
	c.mu.Unlock()

	reply, err := c.request(ctx, frame{Kind: kindSubscribe, ID: id, Method: name, Args: args})
	if err == nil && reply.Kind == kindError {
		err = errors.New(reply.Error)
	}
	if err != nil {
		c.mu.Lock()
		delete(c.streams, id)
		c.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// Methods implements transport.Bus.
func (c *Client) Methods() []transport.MethodInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.MethodInfo, len(c.methods))
	copy(out, c.methods)
	return out
}

// MethodAdded implements transport.Bus.
func (c *Client) MethodAdded(fn func(transport.MethodInfo)) func() {
	c.mu.Lock()
	c.nextListen++
	id := c.nextListen
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

type stream struct {
	client *Client
	id     string

	mu      sync.Mutex
	handler func([]byte)
	backlog [][]byte
	closed  bool
}

// OnData replays the backlog, then installs fn. Frames that arrive during
// the replay join the backlog, so fn sees them in arrival order.
func (s *stream) OnData(fn func([]byte)) {
	for {
		s.mu.Lock()
		backlog := s.backlog
		s.backlog = nil
		if len(backlog) == 0 {
			s.handler = fn
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		for _, d := range backlog {
			fn(d)
		}
	}
}

func (s *stream) deliver(data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn := s.handler
	if fn == nil {
		s.backlog = append(s.backlog, data)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn(data)
}

func (s *stream) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrStreamClosed
	}
	s.closed = true
	s.mu.Unlock()

	c := s.client
	c.mu.Lock()
	delete(c.streams, s.id)
	down := c.err != nil
	c.mu.Unlock()
	if down {
		return nil
	}
	return wsjson.Write(c.ctx, c.conn, frame{Kind: kindUnsubscribe, ID: s.id})
}
