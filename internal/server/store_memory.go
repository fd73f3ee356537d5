package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const memMaxMessagesPerRoom = 10_000

// InMemoryStore is the fallback MessageStore when no database is
// configured.
type InMemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*memRoom
}

type memRoom struct {
	seq    int64
	dedupe map[string]StoredMessage // fingerprint -> stored message
	msgs   []StoredMessage          // ordered by seq
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rooms: make(map[string]*memRoom)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append persists a message with idempotency and monotonic sequence
// allocation.
func (s *InMemoryStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if in.RoomID == "" || in.Fingerprint == "" || in.Sender == "" {
		return AppendResult{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[in.RoomID]
	if r == nil {
		r = &memRoom{
			dedupe: make(map[string]StoredMessage),
			msgs:   make([]StoredMessage, 0, 256),
		}
		s.rooms[in.RoomID] = r
	}

	if existing, ok := r.dedupe[in.Fingerprint]; ok {
		return AppendResult{Stored: existing, Duplicated: true}, nil
	}

	r.seq++
	msg := StoredMessage{
		RoomID:      in.RoomID,
		Fingerprint: in.Fingerprint,
		MessageID:   ulid.Make().String(),
		Seq:         r.seq,
		Sender:      in.Sender,
		Content:     in.Content,
		SentAt:      in.SentAt,
		ServerTS:    now,
	}
	r.dedupe[in.Fingerprint] = msg
	r.msgs = append(r.msgs, msg)

	// Bound memory growth; the dedupe index keeps idempotency intact.
	if len(r.msgs) > memMaxMessagesPerRoom {
		r.msgs = r.msgs[len(r.msgs)-memMaxMessagesPerRoom:]
	}

	return AppendResult{Stored: msg, Duplicated: false}, nil
}
