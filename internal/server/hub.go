package server

import (
	"log/slog"
	"sync"
)

// Hub owns in-memory rooms and the per-user notification sockets.
// Persistence lives behind MessageStore.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
	users map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
		users: make(map[string]*Client),
	}
}

// GetOrCreateRoom returns a stable in-memory room handle.
func (h *Hub) GetOrCreateRoom(roomID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[roomID]; ok {
		return r
	}

	r := NewRoom(h.log, roomID)
	h.rooms[roomID] = r
	return r
}

// AttachUser registers userID's notification socket, displacing any
// previous one. Last connection wins; the displaced socket is closed.
func (h *Hub) AttachUser(userID string, client *Client) {
	if userID == "" || client == nil {
		return
	}

	h.mu.Lock()
	prev := h.users[userID]
	h.users[userID] = client
	h.mu.Unlock()

	if prev != nil && prev != client {
		prev.Close()
		h.log.Info("hub.user.displaced", "user_id", userID, "session_id", prev.SessionID)
	}
	h.log.Info("hub.user.attach", "user_id", userID, "session_id", client.SessionID)
}

// DetachUser drops userID's notification socket, but only if it is
// still the given client. A displaced socket must not unhook its
// replacement.
func (h *Hub) DetachUser(userID string, client *Client) {
	if userID == "" {
		return
	}

	h.mu.Lock()
	if h.users[userID] == client {
		delete(h.users, userID)
	}
	h.mu.Unlock()

	if client != nil {
		client.Close()
	}
	h.log.Info("hub.user.detach", "user_id", userID)
}

// NotifyUser enqueues a frame on userID's notification socket, if any.
// Non-blocking; reports whether the frame was enqueued.
func (h *Hub) NotifyUser(userID string, frame []byte) bool {
	h.mu.RLock()
	cl := h.users[userID]
	h.mu.RUnlock()

	if cl == nil {
		return false
	}

	select {
	case <-cl.Done():
		return false
	default:
	}

	select {
	case cl.Send <- frame:
		return true
	default:
		return false
	}
}
