package server

import (
	"log/slog"
	"sync"
)

// Room is an in-memory membership and broadcast fanout primitive for
// one conversation.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed here.
//
// Room remembers every user id that ever joined: cross-room
// notifications go to participants, not just to sockets currently in
// the room.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
	seen    map[string]struct{}
}

// NewRoom constructs a room.
func NewRoom(log *slog.Logger, id string) *Room {
	return &Room{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
		seen:    make(map[string]struct{}),
	}
}

// Join adds a client to membership and records its user id as a
// participant.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.SessionID] = client
	if client.UserID != "" {
		r.seen[client.UserID] = struct{}{}
	}
	r.mu.Unlock()

	r.log.Info("room.member.join", "room_id", r.ID, "session_id", client.SessionID, "user_id", client.UserID)
}

// Leave removes a client from membership and signals shutdown for that
// client. Participant history is kept.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	cl := r.members[sessionID]
	delete(r.members, sessionID)
	r.mu.Unlock()

	// Signal client shutdown after removing it from membership, so no
	// broadcaster picks it up mid-teardown.
	if cl != nil {
		cl.Close()
	}

	r.log.Info("room.member.leave", "room_id", r.ID, "session_id", sessionID)
}

// Broadcast fanouts a frame to all members. Non-blocking: a member with
// a full queue or mid-shutdown is skipped.
func (r *Room) Broadcast(frame []byte) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- frame:
		default:
			// Drop rather than block the whole room.
		}
	}
}

// Participants returns every user id that ever joined the room.
func (r *Room) Participants() []string {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.seen))
	for id := range r.seen {
		out = append(out, id)
	}
	return out
}
