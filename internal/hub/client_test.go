package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// pipeConn is an in-memory Conn. The test plays the hub on the other end.
type pipeConn struct {
	sent   chan *Frame
	recv   chan *Frame
	once   sync.Once
	closed chan struct{}
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		sent:   make(chan *Frame, 16),
		recv:   make(chan *Frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) Send(f *Frame) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case c.sent <- f:
		return nil
	}
}

func (c *pipeConn) Recv() (*Frame, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case f := <-c.recv:
		return f, nil
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func nextSent(t *testing.T, c *pipeConn) *Frame {
	t.Helper()
	select {
	case f := <-c.sent:
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame sent")
		return nil
	}
}

func TestCallMatchesReplies(t *testing.T) {
	conn := newPipeConn()
	c := NewClient(conn, nil)
	defer c.Disconnect(context.Background())
	m := c.Actor("arducopter:1").Module("ArduCopter")

	type result struct {
		raw json.RawMessage
		err error
	}
	first, second := make(chan result, 1), make(chan result, 1)
	go func() {
		raw, err := m.Call(context.Background(), "setMode", "GUIDED")
		first <- result{raw, err}
	}()
	f1 := nextSent(t, conn)
	go func() {
		raw, err := m.Call(context.Background(), "arm", true)
		second <- result{raw, err}
	}()
	f2 := nextSent(t, conn)

	if f1.Type != FrameCall || f1.Actor != "arducopter:1" || f1.Module != "ArduCopter" || f1.Method != "setMode" {
		t.Fatalf("call frame = %+v", f1)
	}
	if len(f1.Params) != 1 || string(f1.Params[0]) != `"GUIDED"` {
		t.Errorf("params = %s, want [\"GUIDED\"]", f1.Params)
	}
	if f1.ID == f2.ID {
		t.Fatalf("calls share id %d", f1.ID)
	}

	// Replies out of order still reach their callers.
	r2, _ := ResultFrame(f2, "armed")
	conn.recv <- r2
	conn.recv <- ErrorFrame(f1, CodeActor, errors.New("mode NOT ALLOWED"))

	got2 := <-second
	if got2.err != nil || string(got2.raw) != `"armed"` {
		t.Errorf("arm = %s, %v", got2.raw, got2.err)
	}
	got1 := <-first
	var re *RemoteError
	if !errors.As(got1.err, &re) || re.Code != CodeActor || re.Message != "mode NOT ALLOWED" {
		t.Errorf("setMode error = %v, want RemoteError ACTOR_ERROR", got1.err)
	}
}

func TestRemoteErrorSentinels(t *testing.T) {
	tests := []struct {
		code   string
		target error
		want   bool
	}{
		{CodeUnknownActor, ErrUnknownActor, true},
		{CodeUnauthorized, ErrUnauthorized, true},
		{CodeActor, ErrUnknownActor, false},
		{CodeUnknownModule, ErrUnauthorized, false},
	}
	for _, tt := range tests {
		err := error(&RemoteError{Code: tt.code, Message: "x"})
		if got := errors.Is(err, tt.target); got != tt.want {
			t.Errorf("errors.Is(%s, %v) = %v, want %v", tt.code, tt.target, got, tt.want)
		}
	}
}

func TestEventsRouteToModuleHandler(t *testing.T) {
	conn := newPipeConn()
	c := NewClient(conn, nil)
	defer c.Disconnect(context.Background())

	got := make(chan string, 4)
	c.Actor("a").Module("M").OnEvent(func(event string, data json.RawMessage) {
		got <- event + " " + string(data)
	})

	other, _ := EventFrame("b", "M", "mode", map[string]string{"mode": "LAND"})
	mine, _ := EventFrame("a", "M", "mode", map[string]string{"mode": "GUIDED"})
	conn.recv <- other
	conn.recv <- mine

	select {
	case ev := <-got:
		if ev != `mode {"mode":"GUIDED"}` {
			t.Errorf("event = %s", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	c.Actor("a").Module("M").OnEvent(nil)
	conn.recv <- mine
	// A later reply proves the reader has moved past the event.
	first := make(chan error, 1)
	go func() {
		_, err := c.Actor("a").Module("M").Call(context.Background(), "ping")
		first <- err
	}()
	f := nextSent(t, conn)
	r, _ := ResultFrame(f, nil)
	conn.recv <- r
	<-first
	if len(got) != 0 {
		t.Errorf("event delivered after handler removed: %s", <-got)
	}
}

func TestDisconnectFailsPendingCalls(t *testing.T) {
	conn := newPipeConn()
	c := NewClient(conn, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Actor("a").Module("M").Call(context.Background(), "land")
		done <- err
	}()
	nextSent(t, conn)

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() failed: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("pending call error = %v, want ErrClosed", err)
	}
	if _, err := c.Actor("a").Module("M").Call(context.Background(), "land"); !errors.Is(err, ErrClosed) {
		t.Errorf("call after Disconnect error = %v, want ErrClosed", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("second Disconnect() = %v", err)
	}
	if !errors.Is(c.Err(), ErrClosed) {
		t.Errorf("Err() = %v, want ErrClosed", c.Err())
	}
}

func TestCallHonoursContext(t *testing.T) {
	conn := newPipeConn()
	c := NewClient(conn, nil)
	defer c.Disconnect(context.Background())
	m := c.Actor("a").Module("M")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Call(cancelled, "land"); !errors.Is(err, context.Canceled) {
		t.Errorf("Call(cancelled) error = %v, want context.Canceled", err)
	}

	ctx, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if _, err := m.Call(ctx, "land"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() unanswered error = %v, want DeadlineExceeded", err)
	}
}

func TestDialUnknownTransport(t *testing.T) {
	if _, err := Dial(context.Background(), "ws://localhost:1", WithTransport("carrier-pigeon")); err == nil {
		t.Error("Dial() expected error for unknown transport")
	}
}
