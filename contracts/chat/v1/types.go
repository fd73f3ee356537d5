// Package v1 defines the Skillly chat wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the client core and the server to keep the wire
// shapes authoritative.
package v1

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventNewMessage is emitted on the global per-user socket (and on the
// in-process bus as a local echo) whenever a message is accepted.
const EventNewMessage = "new_message"

// fingerprintSep separates fingerprint fields. It is a control byte so
// field boundaries cannot be forged by message content.
const fingerprintSep = "\x1f"

// Message is a chat message as it travels on a room socket.
//
// SentAt stays a string on purpose: deduplication compares the exact
// wire form, never a parsed timestamp, so two renderings of the same
// instant are distinct messages.
type Message struct {
	Content string `json:"content"`
	Sender  string `json:"sender"`
	SentAt  string `json:"sent_at"`
	Room    string `json:"room"`
}

// NewMessage stamps a message with the current time in RFC 3339 form.
func NewMessage(room, sender, content string, now time.Time) Message {
	return Message{
		Content: content,
		Sender:  sender,
		SentAt:  now.UTC().Format(time.RFC3339Nano),
		Room:    room,
	}
}

// Validate performs structural validation for a Message.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Room) == "" {
		return errors.New("missing field: room")
	}
	if strings.TrimSpace(m.Sender) == "" {
		return errors.New("missing field: sender")
	}
	if m.SentAt == "" {
		return errors.New("missing field: sent_at")
	}
	if m.Content == "" {
		return errors.New("missing field: content")
	}
	return nil
}

// Fingerprint derives the identity used for deduplication.
// It must be computable before the message reaches any consumer, so it
// uses only fields guaranteed present at receipt time (no server id).
func (m Message) Fingerprint() string {
	return m.Content + fingerprintSep + m.Sender + fingerprintSep + m.SentAt
}

// GlobalEvent is a cross-room notification delivered on the per-user
// global socket, and echoed locally on the bus for the sender's own
// device.
type GlobalEvent struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId"`
	RoomID   string `json:"roomId"`
	Content  string `json:"content,omitempty"`

	// Timestamp is unix milliseconds; it keys the processed markers of
	// the durable echo fallback.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Validate performs structural validation for a GlobalEvent.
func (e GlobalEvent) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if e.Type != EventNewMessage {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	if strings.TrimSpace(e.SenderID) == "" {
		return errors.New("missing field: senderId")
	}
	if strings.TrimSpace(e.RoomID) == "" {
		return errors.New("missing field: roomId")
	}
	return nil
}

// RoomSummary is the slice of a REST conversation summary the messaging
// core consumes: the room id and the server's authoritative unread
// count, used once to seed local counters after login.
type RoomSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	UnreadCount int    `json:"unreadCount,omitempty"`
}
