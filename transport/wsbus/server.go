package wsbus

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hazyhaar/workspaces/transport"
)

// Server is an http.Handler exposing a transport.Bus over WebSocket.
type Server struct {
	bus    transport.Bus
	logger *slog.Logger
	accept *websocket.AcceptOptions
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets a custom logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithOriginPatterns allows cross-origin handshakes from the given host
// patterns.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) { s.accept = &websocket.AcceptOptions{OriginPatterns: patterns} }
}

// NewServer creates a handler serving bus.
func NewServer(bus transport.Bus, opts ...ServerOption) *Server {
	s := &Server{bus: bus, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, s.accept)
	if err != nil {
		s.logger.Warn("wsbus: accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sess := &session{
		bus:     s.bus,
		conn:    conn,
		logger:  s.logger.With("remote", r.RemoteAddr),
		streams: make(map[string]transport.Stream),
	}
	sess.serve(r.Context())
}

type session struct {
	bus    transport.Bus
	conn   *websocket.Conn
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]transport.Stream
	wg      sync.WaitGroup
}

func (s *session) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		s.wg.Wait()
		s.closeStreams()
		s.conn.CloseNow()
	}()

	unsubscribe := s.bus.MethodAdded(func(m transport.MethodInfo) {
		s.write(ctx, frame{Kind: kindMethodAdded, Methods: []transport.MethodInfo{m}})
	})
	defer unsubscribe()

	if err := wsjson.Write(ctx, s.conn, frame{Kind: kindMethods, Methods: s.bus.Methods()}); err != nil {
		return
	}

	for {
		var f frame
		if err := wsjson.Read(ctx, s.conn, &f); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				s.logger.Debug("wsbus: session ended", "error", err)
			}
			return
		}
		switch f.Kind {
		case kindInvoke:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.invoke(ctx, f)
			}()
		case kindSubscribe:
			s.subscribe(ctx, f)
		case kindUnsubscribe:
			s.unsubscribe(f.ID)
		default:
			s.write(ctx, frame{Kind: kindError, ID: f.ID, Error: "unknown frame kind " + f.Kind})
		}
	}
}

func (s *session) write(ctx context.Context, f frame) {
	if err := wsjson.Write(ctx, s.conn, f); err != nil && ctx.Err() == nil {
		s.logger.Warn("wsbus: write failed", "kind", f.Kind, "id", f.ID, "error", err)
	}
}

func (s *session) invoke(ctx context.Context, f frame) {
	res, err := s.bus.Invoke(ctx, f.Method, f.Args, transport.InvokeOptions{})
	if err != nil {
		var remote *transport.ErrRemote
		if errors.As(err, &remote) {
			s.write(ctx, frame{Kind: kindError, ID: f.ID, Error: remote.Message, Rejected: true})
			return
		}
		s.write(ctx, frame{Kind: kindError, ID: f.ID, Error: err.Error()})
		return
	}
	s.write(ctx, frame{Kind: kindResult, ID: f.ID, Result: res})
}

func (s *session) subscribe(ctx context.Context, f frame) {
	st, err := s.bus.Subscribe(ctx, f.Method, f.Args)
	if err != nil {
		s.write(ctx, frame{Kind: kindError, ID: f.ID, Error: err.Error()})
		return
	}
	s.mu.Lock()
	s.streams[f.ID] = st
	s.mu.Unlock()

	// Ack before wiring data so the reply precedes the first data frame.
	s.write(ctx, frame{Kind: kindSubscribed, ID: f.ID})
	id := f.ID
	st.OnData(func(data []byte) {
		s.write(ctx, frame{Kind: kindData, ID: id, Data: data})
	})
}

func (s *session) unsubscribe(id string) {
	s.mu.Lock()
	st := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()
	if st != nil {
		_ = st.Close()
	}
}

func (s *session) closeStreams() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]transport.Stream)
	s.mu.Unlock()
	for _, st := range streams {
		_ = st.Close()
	}
}
