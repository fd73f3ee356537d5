package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
)

// Callbacks is what a subscriber wires into a room channel. Either
// callback may be nil. They are invoked from the connection's read
// goroutine and must not block.
type Callbacks struct {
	OnMessage func(v1.Message)
	OnState   func(State, error)
}

// Channel is one subscription to a room's realtime link. Several
// channels for the same room share one socket through the registry;
// closing a channel releases its reference, it does not necessarily
// close the socket.
type Channel struct {
	id     string
	roomID string
	sess   *Session
	cb     Callbacks
	link   *roomLink

	closeOnce sync.Once
}

func newChannel(sess *Session, roomID string, cb Callbacks) *Channel {
	ch := &Channel{
		id:     ulid.Make().String(),
		roomID: roomID,
		sess:   sess,
		cb:     cb,
	}
	ch.link = sess.registry.acquire(roomID, ch)
	return ch
}

// Room returns the room id this channel is bound to.
func (c *Channel) Room() string { return c.roomID }

// State returns a snapshot of the underlying link state and, when
// closed abnormally, its reason.
func (c *Channel) State() (State, error) {
	if c.link == nil {
		return StateClosed, nil
	}
	return c.link.snapshot()
}

// SendMessage stamps content with the current time and fires it at the
// room socket. It reports false when the socket is not open; the
// message is not queued or retried, the caller decides what to show.
//
// On success the message is also published on the session bus as a
// local echo, so badges and previews update before any server echo.
func (c *Channel) SendMessage(ctx context.Context, content string) bool {
	if c.link == nil || content == "" {
		return false
	}

	now := time.Now()
	msg := v1.NewMessage(c.roomID, c.sess.userID, content, now)
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	if !c.sess.registry.Send(ctx, c.roomID, payload) {
		return false
	}

	c.sess.publishEcho(ctx, msg, now)
	return true
}

// Close releases this subscription's reference on the room link.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		if c.link != nil {
			c.link.release(c)
		}
	})
}

// Disconnect force-closes the room's socket with a normal close code,
// regardless of other live subscriptions, then releases this one.
func (c *Channel) Disconnect() {
	if c.link != nil {
		c.link.close(websocket.StatusNormalClosure, "disconnect requested")
	}
	c.Close()
}

func (c *Channel) deliver(msg v1.Message) {
	if c.cb.OnMessage != nil {
		c.cb.OnMessage(msg)
	}
}

func (c *Channel) notifyState(state State, err error) {
	if c.cb.OnState != nil {
		c.cb.OnState(state, err)
	}
}
