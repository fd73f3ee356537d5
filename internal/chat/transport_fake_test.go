package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the test deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeConn is an in-process Conn scriptable from the test: the test
// pushes inbound frames and simulates peer closures.
type fakeConn struct {
	frames chan []byte
	done   chan struct{}

	mu        sync.Mutex
	writes    [][]byte
	readErr   error
	closed    bool
	closeCode websocket.StatusCode
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 64),
		done:    make(chan struct{}),
		readErr: net.ErrClosed,
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.readErr
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.readErr = websocket.CloseError{Code: code}
	close(c.done)
	return nil
}

// push delivers an inbound frame to the reader.
func (c *fakeConn) push(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.frames <- []byte(frame):
	case <-time.After(time.Second):
		t.Fatal("fake conn frame buffer full")
	}
}

// peerClose simulates the peer closing the socket with code.
func (c *fakeConn) peerClose(code websocket.StatusCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.readErr = websocket.CloseError{Code: code}
	close(c.done)
}

// peerDrop simulates the connection dying without a close frame.
func (c *fakeConn) peerDrop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.readErr = net.ErrClosed
	close(c.done)
}

func (c *fakeConn) sentFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) closedWith() (bool, websocket.StatusCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

// fakeDialer vends fakeConns and records every dial attempt.
type fakeDialer struct {
	mu       sync.Mutex
	dials    []dialRecord
	failures int // fail this many dials before succeeding
	failAll  bool
}

type dialRecord struct {
	url  string
	conn *fakeConn // nil when the dial failed
}

var errDialRefused = errors.New("dial refused")

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failAll || d.failures > 0 {
		if d.failures > 0 {
			d.failures--
		}
		d.dials = append(d.dials, dialRecord{url: url})
		return nil, errDialRefused
	}

	c := newFakeConn()
	d.dials = append(d.dials, dialRecord{url: url, conn: c})
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

// lastConnFor returns the most recent live connection whose URL
// contains substr, or nil.
func (d *fakeDialer) lastConnFor(substr string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := len(d.dials) - 1; i >= 0; i-- {
		if d.dials[i].conn != nil && strings.Contains(d.dials[i].url, substr) {
			return d.dials[i].conn
		}
	}
	return nil
}
