package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventHandler receives one module event. It runs on the connection's
// reader goroutine and must not block.
type EventHandler func(event string, data json.RawMessage)

// Option configures Dial.
type Option func(*options)

type options struct {
	transport string
	token     string
	logger    *slog.Logger
}

// WithTransport selects websocket (default) or grpc.
func WithTransport(transport string) Option {
	return func(o *options) { o.transport = transport }
}

// WithToken presents a bearer token to the hub.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger.With(slog.String("component", "hub")) }
}

// Client is a caller connection to the hub.
type Client struct {
	conn   Conn
	logger *slog.Logger
	nextID atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]chan *Frame
	handlers map[string]EventHandler
	closing  bool
	err      error

	done chan struct{}
}

// Dial connects to the hub at address.
func Dial(ctx context.Context, address string, opts ...Option) (*Client, error) {
	o := options{
		transport: TransportWebsocket,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		conn Conn
		err  error
	)
	switch o.transport {
	case TransportWebsocket, "":
		conn, err = dialWebsocket(ctx, address, o.token)
	case TransportGRPC:
		conn, err = dialGRPC(ctx, address, o.token)
	default:
		return nil, fmt.Errorf("unknown hub transport %q", o.transport)
	}
	if err != nil {
		return nil, err
	}

	c := NewClient(conn, o.logger)
	o.logger.Info("connected to hub", "address", address, "transport", o.transport)
	return c, nil
}

// NewClient runs a client over an established connection.
func NewClient(conn Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Client{
		conn:     conn,
		logger:   logger,
		pending:  make(map[uint64]chan *Frame),
		handlers: make(map[string]EventHandler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Actor returns a handle on an actor hosted by the hub. Nothing is sent
// until a module method is called.
func (c *Client) Actor(id string) *Actor {
	return &Actor{client: c, id: id}
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Disconnect closes the hub session. Outstanding calls fail with ErrClosed.
// It is safe to call more than once.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	err := c.conn.Close()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.logger.Info("disconnected from hub")
	return err
}

func (c *Client) call(ctx context.Context, actor, module, method string, params []interface{}) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := &Frame{Type: FrameCall, ID: c.nextID.Add(1), Actor: actor, Module: module, Method: method}
	for _, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s parameter: %w", method, err)
		}
		f.Params = append(f.Params, raw)
	}

	reply := make(chan *Frame, 1)
	c.mu.Lock()
	if c.closing || c.err != nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[f.ID] = reply
	c.mu.Unlock()
	defer c.forget(f.ID)

	if err := c.conn.Send(f); err != nil {
		return nil, fmt.Errorf("%w: send %s: %v", ErrClosed, method, err)
	}

	select {
	case r := <-reply:
		if r.Type == FrameError {
			return r.Result, &RemoteError{Code: r.Code, Message: r.Error}
		}
		return r.Result, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		f, err := c.conn.Recv()
		if err != nil {
			c.mu.Lock()
			if c.closing {
				c.err = ErrClosed
			} else {
				c.err = fmt.Errorf("%w: %v", ErrClosed, err)
				c.logger.Warn("hub connection lost", "error", err)
			}
			c.mu.Unlock()
			return
		}

		switch f.Type {
		case FrameResult, FrameError:
			c.mu.Lock()
			reply, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				reply <- f
			}
		case FrameEvent:
			c.mu.Lock()
			h := c.handlers[moduleKey(f.Actor, f.Module)]
			c.mu.Unlock()
			if h != nil {
				h(f.Event, f.Data)
			}
		default:
			c.logger.Debug("ignoring frame", "type", f.Type)
		}
	}
}

func moduleKey(actor, module string) string {
	return actor + "/" + module
}

// Actor is a hub-hosted actor.
type Actor struct {
	client *Client
	id     string
}

// ID returns the actor id.
func (a *Actor) ID() string { return a.id }

// Module returns a handle on one of the actor's modules.
func (a *Actor) Module(name string) *Module {
	return &Module{client: a.client, actor: a.id, name: name}
}

// Module is an actor module; it implements vehicle.Caller.
type Module struct {
	client *Client
	actor  string
	name   string
}

// Call invokes method with params and waits for the reply.
func (m *Module) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	return m.client.call(ctx, m.actor, m.name, method, params)
}

// OnEvent sets the handler for the module's events, replacing any other.
// A nil handler stops delivery.
func (m *Module) OnEvent(h EventHandler) {
	m.client.mu.Lock()
	defer m.client.mu.Unlock()
	if h == nil {
		delete(m.client.handlers, moduleKey(m.actor, m.name))
		return
	}
	m.client.handlers[moduleKey(m.actor, m.name)] = h
}
