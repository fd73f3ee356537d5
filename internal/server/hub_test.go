package server

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-c.Send:
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestRoomBroadcastSkipsFullAndClosed(t *testing.T) {
	t.Parallel()

	room := NewRoom(testLogger(), "7")

	healthy := NewClient("1", "s1", 4)
	full := NewClient("2", "s2", 1)
	gone := NewClient("3", "s3", 4)

	room.Join(healthy)
	room.Join(full)
	room.Join(gone)

	full.Send <- []byte("stuck")
	gone.Close()

	room.Broadcast([]byte("hello"))

	if got := drain(healthy); len(got) != 1 || string(got[0]) != "hello" {
		t.Fatalf("healthy got %q", got)
	}
	if got := drain(full); len(got) != 1 || string(got[0]) != "stuck" {
		t.Fatalf("full queue was written to: %q", got)
	}
	if got := drain(gone); len(got) != 0 {
		t.Fatalf("closed client got %q", got)
	}
}

func TestRoomLeaveClosesClientAndKeepsParticipant(t *testing.T) {
	t.Parallel()

	room := NewRoom(testLogger(), "7")
	cl := NewClient("42", "s1", 4)
	room.Join(cl)
	room.Leave("s1")

	select {
	case <-cl.Done():
	default:
		t.Fatal("Leave did not close the client")
	}

	room.Broadcast([]byte("after"))
	if got := drain(cl); len(got) != 0 {
		t.Fatalf("departed member got %q", got)
	}

	// Participant history drives cross-room notifications after leave.
	parts := room.Participants()
	if len(parts) != 1 || parts[0] != "42" {
		t.Fatalf("Participants=%v want [42]", parts)
	}
}

func TestHubReturnsStableRoomHandles(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	if hub.GetOrCreateRoom("7") != hub.GetOrCreateRoom("7") {
		t.Fatal("same room id produced different handles")
	}
	if hub.GetOrCreateRoom("7") == hub.GetOrCreateRoom("8") {
		t.Fatal("different room ids shared a handle")
	}
}

func TestHubNotificationSocketLastWins(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())

	first := NewClient("42", "s1", 4)
	second := NewClient("42", "s2", 4)

	hub.AttachUser("42", first)
	hub.AttachUser("42", second)

	select {
	case <-first.Done():
	default:
		t.Fatal("displaced socket not closed")
	}

	if !hub.NotifyUser("42", []byte("ev")) {
		t.Fatal("NotifyUser failed for live socket")
	}
	if got := drain(second); len(got) != 1 || string(got[0]) != "ev" {
		t.Fatalf("second got %q", got)
	}
	if got := drain(first); len(got) != 0 {
		t.Fatalf("displaced socket got %q", got)
	}

	// A displaced socket's detach must not unhook its replacement.
	hub.DetachUser("42", first)
	if !hub.NotifyUser("42", []byte("ev2")) {
		t.Fatal("replacement unhooked by stale detach")
	}

	hub.DetachUser("42", second)
	if hub.NotifyUser("42", []byte("ev3")) {
		t.Fatal("NotifyUser delivered after detach")
	}
}
