package chat

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/coder/websocket"
)

const defaultWriteTimeout = 5 * time.Second

// Conn is the slice of a websocket connection the core needs. Tests
// substitute in-process fakes; production uses coder/websocket.
type Conn interface {
	// Read blocks until a text/binary frame arrives or the connection
	// dies. The returned error carries the close status when the peer
	// closed the socket.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer establishes connections to an endpoint URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials real websocket endpoints.
type WebsocketDialer struct {
	// Opts are passed through to websocket.Dial; nil means defaults.
	Opts *websocket.DialOptions
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, d.Opts)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(parent context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(parent, defaultWriteTimeout)
	defer cancel()
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrCleanClose   // peer closed with 1000
	readErrPeerClose    // peer closed with any other status
	readErrCtxDone      // our own context was cancelled
	readErrConnClosed   // connection died without a close frame
)

func classifyReadErr(err error) readErrKind {
	if status := websocket.CloseStatus(err); status != -1 {
		if status == websocket.StatusNormalClosure {
			return readErrCleanClose
		}
		return readErrPeerClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
