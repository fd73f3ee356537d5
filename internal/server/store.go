package server

import (
	"context"
	"time"
)

// StoredMessage is the canonical persisted message representation.
type StoredMessage struct {
	RoomID      string
	Fingerprint string
	MessageID   string
	Seq         int64
	Sender      string
	Content     string
	SentAt      string
	ServerTS    time.Time
}

// MessageStore persists room messages.
//
// Requirements:
//   - Idempotency per (room_id, fingerprint): retransmitted frames must
//     not produce a second row.
//   - Monotonic seq per room, with no gaps for duplicates.
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (AppendResult, error)
	Close() error
}

// AppendInput describes a message append request.
type AppendInput struct {
	RoomID      string
	Fingerprint string
	Sender      string
	Content     string
	SentAt      string
	Now         time.Time
}

// AppendResult is the append operation result.
type AppendResult struct {
	Stored     StoredMessage
	Duplicated bool
}
