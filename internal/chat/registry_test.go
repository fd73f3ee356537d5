package chat

import (
	"context"
	"testing"

	"github.com/coder/websocket"
)

func TestAtMostOneConnectionPerRoom(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(t, d)

	var chans []*Channel
	for i := 0; i < 5; i++ {
		ch, err := s.OpenRoom("7", Callbacks{})
		if err != nil {
			t.Fatalf("OpenRoom #%d: %v", i, err)
		}
		chans = append(chans, ch)
	}

	waitFor(t, "room socket open", func() bool {
		state, _ := chans[0].State()
		return state == StateOpen
	})

	if got := d.dialCount(); got != 1 {
		t.Fatalf("dialed %d times for one room, want 1", got)
	}
	if got := s.registry.OpenCount(); got != 1 {
		t.Fatalf("OpenCount=%d want 1", got)
	}

	// Releasing all but one keeps the socket.
	for _, ch := range chans[1:] {
		ch.Close()
	}
	if got := s.registry.OpenCount(); got != 1 {
		t.Fatalf("OpenCount after partial release=%d want 1", got)
	}

	// Releasing the last reference closes it (no linger in tests).
	chans[0].Close()
	waitFor(t, "socket closed", func() bool { return s.registry.OpenCount() == 0 })

	conn := d.lastConnFor("/ws/7")
	if closed, code := conn.closedWith(); !closed || code != websocket.StatusNormalClosure {
		t.Fatalf("closed=%v code=%v want clean 1000 close", closed, code)
	}
}

func TestRapidResubscribeReusesOpenSocket(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(t, d)

	first, err := s.OpenRoom("7", Callbacks{})
	if err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}
	waitFor(t, "room socket open", func() bool {
		state, _ := first.State()
		return state == StateOpen
	})

	// Second subscriber attaches, then the first unmounts: the socket
	// must survive untouched.
	second, err := s.OpenRoom("7", Callbacks{})
	if err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}
	first.Close()

	if state, _ := second.State(); state != StateOpen {
		t.Fatalf("state after handoff=%v want open", state)
	}
	if got := d.dialCount(); got != 1 {
		t.Fatalf("dialed %d times, want 1", got)
	}
	second.Close()
}

func TestAcquireReplacesDeadEntry(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(t, d)

	ch, err := s.OpenRoom("7", Callbacks{})
	if err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}
	waitFor(t, "room socket open", func() bool {
		state, _ := ch.State()
		return state == StateOpen
	})

	// Server drops the socket abnormally.
	d.lastConnFor("/ws/7").peerClose(websocket.StatusInternalError)
	waitFor(t, "socket closed", func() bool {
		state, _ := ch.State()
		return state == StateClosed
	})
	if _, reason := ch.State(); reason == nil {
		t.Fatal("abnormal close reported no error")
	}
	ch.Close()

	// Resubscribing establishes a fresh connection.
	again, err := s.OpenRoom("7", Callbacks{})
	if err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}
	defer again.Close()

	waitFor(t, "fresh socket open", func() bool {
		state, _ := again.State()
		return state == StateOpen
	})
	if got := d.dialCount(); got != 2 {
		t.Fatalf("dialed %d times, want 2", got)
	}
}

func TestSendRequiresOpenSocket(t *testing.T) {
	t.Parallel()

	// Dial fails: the channel lands in Closed and sends must refuse.
	d := &fakeDialer{failures: 1}
	s, _ := newTestSession(t, d)

	ch, err := s.OpenRoom("7", Callbacks{})
	if err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}
	defer ch.Close()

	waitFor(t, "dial failure settles", func() bool {
		state, _ := ch.State()
		return state == StateClosed
	})

	if ch.SendMessage(context.Background(), "hello") {
		t.Fatal("SendMessage=true with no open socket")
	}
	if s.registry.Send(context.Background(), "7", []byte("x")) {
		t.Fatal("registry.Send=true with no open socket")
	}
	if s.registry.Send(context.Background(), "never-opened", []byte("x")) {
		t.Fatal("registry.Send=true for unknown room")
	}
}

func TestDisconnectForceClosesSharedSocket(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(t, d)

	a, _ := s.OpenRoom("7", Callbacks{})
	b, _ := s.OpenRoom("7", Callbacks{})
	waitFor(t, "room socket open", func() bool {
		state, _ := a.State()
		return state == StateOpen
	})

	// Disconnect overrides the other live subscription.
	a.Disconnect()

	waitFor(t, "socket force-closed", func() bool {
		state, _ := b.State()
		return state == StateClosed
	})
	if closed, code := d.lastConnFor("/ws/7").closedWith(); !closed || code != websocket.StatusNormalClosure {
		t.Fatalf("closed=%v code=%v want explicit 1000 close", closed, code)
	}
	b.Close()
}

func TestSessionCloseClosesAllRooms(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(t, d)

	a, _ := s.OpenRoom("7", Callbacks{})
	b, _ := s.OpenRoom("8", Callbacks{})
	waitFor(t, "both sockets open", func() bool {
		sa, _ := a.State()
		sb, _ := b.State()
		return sa == StateOpen && sb == StateOpen
	})

	s.Close()

	waitFor(t, "all sockets closed", func() bool { return s.registry.OpenCount() == 0 })
	for _, room := range []string{"/ws/7", "/ws/8"} {
		if closed, _ := d.lastConnFor(room).closedWith(); !closed {
			t.Fatalf("%s still open after session close", room)
		}
	}
}
