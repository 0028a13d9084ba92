package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
)

// Transports.
const (
	TransportWebsocket = "websocket"
	TransportGRPC      = "grpc"
)

// WebsocketPath is where the hub accepts websocket callers.
const WebsocketPath = "/hub"

// gRPC service exposed by the hub. Frames travel as JSON on a bidi stream.
const (
	ServiceName       = "fcc.hub.Hub"
	SessionStreamName = "Session"
	SessionMethod     = "/" + ServiceName + "/" + SessionStreamName
	CodecName         = "json"
)

// SessionStreamDesc describes the bidi frame stream.
var SessionStreamDesc = grpc.StreamDesc{
	StreamName:    SessionStreamName,
	ServerStreams: true,
	ClientStreams: true,
}

// jsonCodec lets grpc carry Frames without generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Conn is a bidirectional Frame connection. Send may be called from many
// goroutines; Recv from one.
type Conn interface {
	Send(f *Frame) error
	Recv() (*Frame, error)
	Close() error
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	err     error
}

// WebsocketConn adapts a gorilla connection.
func WebsocketConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(f)
}

func (c *wsConn) Recv() (*Frame, error) {
	var f Frame
	if err := c.conn.ReadJSON(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *wsConn) Close() error {
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.err = c.conn.Close()
	})
	return c.err
}

// MsgStream is the part of a grpc stream a Conn needs.
type MsgStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

type streamConn struct {
	stream  MsgStream
	sendMu  sync.Mutex
	closeFn func() error
	once    sync.Once
	err     error
}

// StreamConn adapts a grpc client or server stream. closeFn ends it.
func StreamConn(stream MsgStream, closeFn func() error) Conn {
	return &streamConn{stream: stream, closeFn: closeFn}
}

func (c *streamConn) Send(f *Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.SendMsg(f)
}

func (c *streamConn) Recv() (*Frame, error) {
	var f Frame
	if err := c.stream.RecvMsg(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *streamConn) Close() error {
	c.once.Do(func() {
		if c.closeFn != nil {
			c.err = c.closeFn()
		}
	})
	return c.err
}

func dialWebsocket(ctx context.Context, address, token string) (Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid hub address %q: %w", address, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = WebsocketPath
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &RemoteError{Code: CodeUnauthorized, Message: "hub refused credentials"}
		}
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return WebsocketConn(conn), nil
}

func dialGRPC(ctx context.Context, address, token string) (Conn, error) {
	target := address
	if u, err := url.Parse(address); err == nil && u.Host != "" {
		target = u.Host
	}
	target = strings.TrimPrefix(target, "grpc://")

	cc, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	// The stream outlives the dial context; Close ends it.
	streamCtx, cancel := context.WithCancel(context.Background())
	if token != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+token)
	}
	stop := context.AfterFunc(ctx, cancel)

	stream, err := cc.NewStream(streamCtx, &SessionStreamDesc, SessionMethod)
	stop()
	if err != nil {
		cancel()
		_ = cc.Close()
		return nil, fmt.Errorf("open session stream: %w", err)
	}

	return StreamConn(stream, func() error {
		_ = stream.CloseSend()
		cancel()
		return cc.Close()
	}), nil
}
