// Package unread tracks per-room unread message counters for one user,
// persisted locally so badges survive app restarts.
package unread

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/storage"
)

const storageKeyPrefix = "unread_messages_"

// Store holds per-room unread counters for a single user identity.
//
// Rooms are never stored with an explicit zero: a missing key means
// read, which keeps "has unread" a presence test. The total is always
// recomputed from the map, never stored.
type Store struct {
	log    *slog.Logger
	kv     storage.KV
	userID string

	mu     sync.RWMutex
	counts map[string]int
}

// NewStore constructs a store for userID backed by kv. Call Load to
// pick up counters persisted by a previous session.
func NewStore(log *slog.Logger, kv storage.KV, userID string) *Store {
	return &Store{
		log:    log,
		kv:     kv,
		userID: userID,
		counts: make(map[string]int),
	}
}

func (s *Store) key() string {
	return storageKeyPrefix + s.userID
}

// Load replaces in-memory counters with the persisted ones, if any.
func (s *Store) Load(ctx context.Context) error {
	data, found, err := s.kv.Get(ctx, s.key())
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	counts := make(map[string]int)
	if err := json.Unmarshal(data, &counts); err != nil {
		// A corrupt blob should not brick badges; start fresh.
		s.log.Warn("unread.load.corrupt", "user_id", s.userID, "err", err)
		counts = make(map[string]int)
	}
	for room, n := range counts {
		if n <= 0 {
			delete(counts, room)
		}
	}

	s.mu.Lock()
	s.counts = counts
	s.mu.Unlock()
	return nil
}

// Increment adds one unread message to roomID's counter.
func (s *Store) Increment(ctx context.Context, roomID string) error {
	if roomID == "" {
		return nil
	}

	s.mu.Lock()
	s.counts[roomID]++
	n := s.counts[roomID]
	s.mu.Unlock()

	s.log.Debug("unread.increment", "room_id", roomID, "count", n)
	return s.persist(ctx)
}

// MarkRead deletes roomID's counter entirely.
func (s *Store) MarkRead(ctx context.Context, roomID string) error {
	s.mu.Lock()
	_, had := s.counts[roomID]
	delete(s.counts, roomID)
	s.mu.Unlock()

	if !had {
		return nil
	}
	return s.persist(ctx)
}

// SetCount pins roomID's counter to n; n <= 0 deletes the key.
func (s *Store) SetCount(ctx context.Context, roomID string, n int) error {
	s.mu.Lock()
	if n <= 0 {
		delete(s.counts, roomID)
	} else {
		s.counts[roomID] = n
	}
	s.mu.Unlock()

	return s.persist(ctx)
}

// Initialize seeds counters from the server's conversation list,
// replacing whatever the client observed locally. Used once after the
// REST collaborator returns authoritative summaries.
func (s *Store) Initialize(ctx context.Context, rooms []v1.RoomSummary) error {
	counts := make(map[string]int, len(rooms))
	for _, r := range rooms {
		if r.ID != "" && r.UnreadCount > 0 {
			counts[r.ID] = r.UnreadCount
		}
	}

	s.mu.Lock()
	s.counts = counts
	s.mu.Unlock()

	return s.persist(ctx)
}

// Count returns roomID's unread counter (zero when absent).
func (s *Store) Count(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[roomID]
}

// Counts returns a copy of the per-room counters.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.counts))
	for room, n := range s.counts {
		out[room] = n
	}
	return out
}

// Total returns the sum of all counters, recomputed on every call.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, n := range s.counts {
		total += n
	}
	return total
}

// Reset drops in-memory counters without touching persistence, so the
// same identity finds them again at next login.
func (s *Store) Reset() {
	s.mu.Lock()
	s.counts = make(map[string]int)
	s.mu.Unlock()
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.RLock()
	data, err := json.Marshal(s.counts)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key(), data)
}
