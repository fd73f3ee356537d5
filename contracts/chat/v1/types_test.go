package v1

import (
	"testing"
	"time"
)

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	base := NewMessage("7", "42", "hi", time.Now())

	cases := []struct {
		name   string
		mutate func(*Message)
		wantOK bool
	}{
		{name: "valid", mutate: func(*Message) {}, wantOK: true},
		{name: "missing room", mutate: func(m *Message) { m.Room = "" }},
		{name: "missing sender", mutate: func(m *Message) { m.Sender = " " }},
		{name: "missing sent_at", mutate: func(m *Message) { m.SentAt = "" }},
		{name: "missing content", mutate: func(m *Message) { m.Content = "" }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := base
			tc.mutate(&m)
			err := m.Validate()
			if tc.wantOK && err != nil {
				t.Fatalf("Validate()=%v want nil", err)
			}
			if !tc.wantOK && err == nil {
				t.Fatal("Validate()=nil want error")
			}
		})
	}
}

func TestFingerprintDistinguishesContent(t *testing.T) {
	t.Parallel()

	// Same millisecond, different content: both must be delivered.
	a := Message{Content: "hello", Sender: "1", SentAt: "2025-01-02T03:04:05.006Z", Room: "7"}
	b := Message{Content: "hello!", Sender: "1", SentAt: "2025-01-02T03:04:05.006Z", Room: "7"}

	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("fingerprints collide for distinct content")
	}
}

func TestFingerprintUsesExactWireForm(t *testing.T) {
	t.Parallel()

	// Equivalent instants in different renderings are distinct on purpose.
	a := Message{Content: "x", Sender: "1", SentAt: "2025-01-02T03:04:05Z", Room: "7"}
	b := Message{Content: "x", Sender: "1", SentAt: "2025-01-02T03:04:05.000Z", Room: "7"}

	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("fingerprint normalized timestamps; exact string form required")
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	t.Parallel()

	a := Message{Content: "ab", Sender: "c", SentAt: "t", Room: "7"}
	b := Message{Content: "a", Sender: "bc", SentAt: "t", Room: "7"}

	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("fingerprint field boundaries are forgeable")
	}
}

func TestGlobalEventValidate(t *testing.T) {
	t.Parallel()

	valid := GlobalEvent{Type: EventNewMessage, SenderID: "42", RoomID: "7"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate()=%v want nil", err)
	}

	unknown := GlobalEvent{Type: "presence", SenderID: "42", RoomID: "7"}
	if err := unknown.Validate(); err == nil {
		t.Fatal("Validate() accepted unknown type")
	}

	missing := GlobalEvent{Type: EventNewMessage, RoomID: "7"}
	if err := missing.Validate(); err == nil {
		t.Fatal("Validate() accepted missing senderId")
	}
}
