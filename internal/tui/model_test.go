package tui

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/websocket"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/chat"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/storage"
)

// stubConn blocks reads until closed and swallows writes.
type stubConn struct {
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func newStubConn() *stubConn {
	return &stubConn{done: make(chan struct{})}
}

func (c *stubConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, websocket.CloseError{Code: websocket.StatusNormalClosure}
	}
}

func (c *stubConn) Write(context.Context, []byte) error { return nil }

func (c *stubConn) Close(websocket.StatusCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

type stubDialer struct{}

func (stubDialer) Dial(context.Context, string) (chat.Conn, error) {
	return newStubConn(), nil
}

func newTestSession(t *testing.T) *chat.Session {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess, err := chat.NewSession(log, storage.NewMemoryKV(), chat.Config{
		BaseURL:    "http://api.test",
		UserID:     "42",
		RoomLinger: -1,
	}, chat.WithDialer(stubDialer{}))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(sess.Close)
	return sess
}

func testRooms() []v1.RoomSummary {
	return []v1.RoomSummary{
		{ID: "7", Name: "Backend role"},
		{ID: "8", Name: "Design role"},
	}
}

func newTestModel(t *testing.T) *Model {
	t.Helper()
	return New(newTestSession(t), "42", testRooms())
}

func keyMsg(s string) tea.KeyMsg {
	if s == "enter" {
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	if s == "esc" {
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestRoomsViewListsRoomsWithBadges(t *testing.T) {
	m := newTestModel(t)

	if err := m.sess.Unread().Increment(context.Background(), "8"); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	out := m.View()
	if !strings.Contains(out, "Backend role") || !strings.Contains(out, "Design role") {
		t.Fatalf("rooms missing from view:\n%s", out)
	}
	if !strings.Contains(out, "1") {
		t.Fatalf("unread badge missing:\n%s", out)
	}
}

func TestEnterOpensRoomAndEscLeaves(t *testing.T) {
	m := newTestModel(t)

	m.Update(keyMsg("enter"))
	if m.view != viewChat || m.active != "7" {
		t.Fatalf("view=%v active=%q after enter", m.view, m.active)
	}
	if m.channel == nil {
		t.Fatal("no channel after opening a room")
	}

	m.Update(keyMsg("esc"))
	if m.view != viewRooms || m.active != "" || m.channel != nil {
		t.Fatalf("room not fully left: view=%v active=%q", m.view, m.active)
	}
}

func TestRoomMessageAppendsToActiveRoomOnly(t *testing.T) {
	m := newTestModel(t)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m.Update(keyMsg("enter")) // opens room 7

	msg := v1.Message{Content: "hello there", Sender: "99", SentAt: time.Now().UTC().Format(time.RFC3339Nano), Room: "7"}
	m.Update(roomMessageMsg{room: "7", msg: msg})
	m.Update(roomMessageMsg{room: "8", msg: v1.Message{Content: "elsewhere", Sender: "99", SentAt: "t", Room: "8"}})

	out := m.View()
	if !strings.Contains(out, "hello there") {
		t.Fatalf("active room message missing:\n%s", out)
	}
	if strings.Contains(out, "elsewhere") {
		t.Fatalf("foreign room message leaked into view:\n%s", out)
	}
}

func TestModelReplaysEventsPublishedBeforeSubscribe(t *testing.T) {
	sess := newTestSession(t)

	// Published before the model exists, like a fallback event drained
	// at session start.
	sess.Events().Publish(v1.GlobalEvent{
		Type:      v1.EventNewMessage,
		SenderID:  "99",
		RoomID:    "8",
		Content:   "early",
		Timestamp: time.Now().UnixMilli(),
	})

	m := New(sess, "42", testRooms())
	got := m.Init()()
	ev, ok := got.(globalEventMsg)
	if !ok {
		t.Fatalf("first bridged msg = %T, want globalEventMsg", got)
	}
	if ev.event.RoomID != "8" || ev.event.Content != "early" {
		t.Fatalf("replayed event = %+v", ev.event)
	}
}

func TestOwnMessagesRenderAsYou(t *testing.T) {
	m := newTestModel(t)

	line := m.renderMessage(v1.Message{Content: "mine", Sender: "42", SentAt: "t", Room: "7"})
	if !strings.Contains(line, "you") {
		t.Fatalf("own message not marked: %q", line)
	}
	other := m.renderMessage(v1.Message{Content: "theirs", Sender: "99", SentAt: "t", Room: "7"})
	if strings.Contains(other, "you") {
		t.Fatalf("peer message marked as own: %q", other)
	}
}
