package hubsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/flight-control/fcc/internal/auth"
	"github.com/flight-control/fcc/internal/hub"
	"github.com/flight-control/fcc/internal/sim"
)

// Actor is anything the hub can host.
type Actor interface {
	ID() string
	Call(ctx context.Context, module, method string, params []json.RawMessage) (interface{}, error)
	Subscribe(fn sim.EventFunc) (cancel func())
}

// callQueueSize bounds calls waiting on one session.
const callQueueSize = 64

// Server routes caller frames to hosted actors.
type Server struct {
	logger   *slog.Logger
	verifier *auth.Verifier
	allowed  []*net.IPNet
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	actors   map[string]Actor
	sessions map[*session]struct{}
	closed   bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger.With(slog.String("component", "hubsim")) }
}

// WithVerifier requires callers to present a token with the fly scope.
func WithVerifier(v *auth.Verifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithAllowedCIDRs restricts callers to the given networks.
func WithAllowedCIDRs(nets []*net.IPNet) Option {
	return func(s *Server) { s.allowed = nets }
}

// NewServer returns a hub with no actors.
func NewServer(opts ...Option) *Server {
	s := &Server{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		actors:   make(map[string]Actor),
		sessions: make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an actor. Ids must be unique.
func (s *Server) Register(a Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actors[a.ID()]; exists {
		return fmt.Errorf("actor %s already registered", a.ID())
	}
	s.actors[a.ID()] = a
	s.logger.Info("actor registered", "actor", a.ID())
	return nil
}

// Actors lists the hosted actor ids in order.
func (s *Server) Actors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.actors))
	for id := range s.actors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sessions returns the number of connected callers.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) actor(id string) (Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	return a, ok
}

// Handler serves the websocket endpoint and the health probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(hub.WebsocketPath, s.handleWebsocket)
	mux.HandleFunc(auth.HealthPath, s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","actors":%d,"sessions":%d}`, len(s.Actors()), s.Sessions())
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !s.allowedAddr(r.RemoteAddr) {
		s.logger.Warn("rejected caller outside allowed networks", "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if s.verifier != nil {
		token, err := auth.BearerToken(r)
		if err == nil {
			_, err = s.verifier.Authorize(token, auth.ScopeFly)
		}
		if err != nil {
			s.logger.Warn("rejected caller", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.Serve(context.Background(), hub.WebsocketConn(ws), r.RemoteAddr)
}

// GRPCServer returns a grpc server exposing the hub session stream.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&grpc.ServiceDesc{
		ServiceName: hub.ServiceName,
		HandlerType: (*interface{})(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    hub.SessionStreamName,
			Handler:       s.sessionStream,
			ServerStreams: true,
			ClientStreams: true,
		}},
		Metadata: "hub.proto",
	}, s)
	return gs
}

func (s *Server) sessionStream(_ interface{}, stream grpc.ServerStream) error {
	ctx := stream.Context()
	remote := ""
	if p, ok := peer.FromContext(ctx); ok {
		remote = p.Addr.String()
	}
	if !s.allowedAddr(remote) {
		return status.Error(codes.PermissionDenied, "caller outside allowed networks")
	}
	if s.verifier != nil {
		token := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				token = strings.TrimPrefix(v[0], "Bearer ")
			}
		}
		if _, err := s.verifier.Authorize(token, auth.ScopeFly); err != nil {
			s.logger.Warn("rejected caller", "remote", remote, "error", err)
			return status.Error(codes.Unauthenticated, err.Error())
		}
	}

	s.Serve(ctx, hub.StreamConn(stream, nil), remote)
	return nil
}

func (s *Server) allowedAddr(remote string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range s.allowed {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Close ends every session. Later connections are refused.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.conn.Close()
	}
	return nil
}

// Serve runs one caller session until conn fails or ctx ends.
func (s *Server) Serve(ctx context.Context, conn hub.Conn, remote string) {
	ctx, cancel := context.WithCancel(ctx)
	sess := &session{
		srv:    s,
		conn:   conn,
		remote: remote,
		calls:  make(chan *hub.Frame, callQueueSize),
		subs:   make(map[string]func()),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("caller connected", "remote", remote)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		sess.work(ctx)
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	sess.read(ctx)
	stop()

	cancel()
	close(sess.calls)
	<-workerDone
	sess.unsubscribeAll()
	_ = conn.Close()

	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.logger.Info("caller disconnected", "remote", remote)
}

type session struct {
	srv    *Server
	conn   hub.Conn
	remote string
	calls  chan *hub.Frame

	mu   sync.Mutex
	subs map[string]func()
}

// read queues calls until the connection fails.
func (sess *session) read(ctx context.Context) {
	for {
		f, err := sess.conn.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				sess.srv.logger.Debug("session read ended", "remote", sess.remote, "error", err)
			}
			return
		}
		if f.Type != hub.FrameCall {
			sess.reply(hub.ErrorFrame(f, hub.CodeBadFrame, fmt.Errorf("unexpected frame type %q", f.Type)))
			continue
		}
		select {
		case sess.calls <- f:
		case <-ctx.Done():
			return
		}
	}
}

// work executes calls one at a time, in arrival order.
func (sess *session) work(ctx context.Context) {
	for f := range sess.calls {
		if ctx.Err() != nil {
			continue
		}
		sess.dispatch(ctx, f)
	}
}

func (sess *session) dispatch(ctx context.Context, f *hub.Frame) {
	a, ok := sess.srv.actor(f.Actor)
	if !ok {
		sess.reply(hub.ErrorFrame(f, hub.CodeUnknownActor, fmt.Errorf("unknown actor %q", f.Actor)))
		return
	}
	sess.subscribe(a)

	start := time.Now()
	result, err := a.Call(ctx, f.Module, f.Method, f.Params)
	sess.srv.logger.Debug("call",
		"remote", sess.remote, "actor", f.Actor, "module", f.Module, "method", f.Method,
		"latency", time.Since(start), "error", err)
	if err != nil {
		code := hub.CodeActor
		if errors.Is(err, sim.ErrUnknownModule) {
			code = hub.CodeUnknownModule
		}
		sess.reply(hub.ErrorFrame(f, code, err))
		return
	}

	reply, err := hub.ResultFrame(f, result)
	if err != nil {
		sess.reply(hub.ErrorFrame(f, hub.CodeActor, err))
		return
	}
	sess.reply(reply)
}

// subscribe forwards the actor's events to this caller from its first call.
func (sess *session) subscribe(a Actor) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, ok := sess.subs[a.ID()]; ok {
		return
	}
	id := a.ID()
	sess.subs[id] = a.Subscribe(func(module, event string, data interface{}) {
		f, err := hub.EventFrame(id, module, event, data)
		if err != nil {
			sess.srv.logger.Warn("event encode failed", "actor", id, "event", event, "error", err)
			return
		}
		sess.reply(f)
	})
}

func (sess *session) unsubscribeAll() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for id, cancel := range sess.subs {
		cancel()
		delete(sess.subs, id)
	}
}

func (sess *session) reply(f *hub.Frame) {
	if err := sess.conn.Send(f); err != nil {
		sess.srv.logger.Debug("send failed", "remote", sess.remote, "type", f.Type, "error", err)
	}
}
