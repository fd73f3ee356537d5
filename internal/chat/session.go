// Package chat implements the realtime messaging core: per-room
// connections with at-most-one socket per room, inbound deduplication,
// a per-user global notification channel feeding unread counters, and
// a local echo bus for the sender's own device.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/bus"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/storage"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/unread"
)

const defaultRoomLinger = 30 * time.Second

// ErrSessionClosed is returned when a closed session is asked to open
// rooms.
var ErrSessionClosed = errors.New("chat: session closed")

// Config carries the per-session knobs.
type Config struct {
	// BaseURL is the API base; ws endpoints are derived from it.
	BaseURL string
	// UserID is the authenticated user identity owning this session.
	UserID string

	// ReconnectDelay is the global channel's fixed retry delay.
	ReconnectDelay time.Duration
	// MaxReconnects caps consecutive global reconnect attempts.
	MaxReconnects int
	// RoomLinger keeps a released room socket warm for resubscription.
	// Zero means the 30 s default; negative closes immediately.
	RoomLinger time.Duration
}

// Session owns every piece of messaging state for one authenticated
// user: the connection registry, the dedup cache, the bus, the unread
// store, and the global channel. It is created at login and closed at
// logout; nothing here is ambient global state.
type Session struct {
	log    *slog.Logger
	cfg    Config
	userID string

	events   *bus.Bus
	fallback *bus.Fallback
	unread   *unread.Store
	dedupe   *Dedupe
	registry *Registry
	global   *GlobalChannel

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	dialer  Dialer
	onEvent func(v1.GlobalEvent)
}

// WithDialer substitutes the websocket dialer (tests use in-process
// fakes).
func WithDialer(d Dialer) SessionOption {
	return func(o *sessionOptions) { o.dialer = d }
}

// WithEventTap registers a callback invoked for every cross-room event
// the session sees, socket-borne or locally echoed. Conversation-list
// previews hang off this.
func WithEventTap(fn func(v1.GlobalEvent)) SessionOption {
	return func(o *sessionOptions) { o.onEvent = fn }
}

// NewSession wires a session for cfg.UserID persisting through kv.
func NewSession(log *slog.Logger, kv storage.KV, cfg Config, opts ...SessionOption) (*Session, error) {
	if cfg.UserID == "" {
		return nil, errors.New("chat: missing user id")
	}
	if cfg.RoomLinger == 0 {
		cfg.RoomLinger = defaultRoomLinger
	}

	var o sessionOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.dialer == nil {
		o.dialer = &WebsocketDialer{}
	}

	urls := URLs{Base: cfg.BaseURL}
	events := bus.New(log)
	store := unread.NewStore(log, kv, cfg.UserID)
	dedupe := NewDedupe()

	s := &Session{
		log:      log,
		cfg:      cfg,
		userID:   cfg.UserID,
		events:   events,
		fallback: bus.NewFallback(log, kv),
		unread:   store,
		dedupe:   dedupe,
	}
	s.registry = NewRegistry(log, o.dialer, urls, cfg.UserID, dedupe, cfg.RoomLinger)
	s.global = newGlobalChannel(log, o.dialer, urls, cfg.UserID, store, events,
		cfg.ReconnectDelay, cfg.MaxReconnects, o.onEvent)

	return s, nil
}

// Start loads persisted unread counters, connects the global channel,
// and catches up on the durable echo fallback.
func (s *Session) Start(ctx context.Context) error {
	if err := s.unread.Load(ctx); err != nil {
		return err
	}

	s.global.Start()

	if err := s.fallback.CatchUp(ctx, s.userID, s.global.handleEvent); err != nil {
		s.log.Warn("bus.fallback.catchup.fail", "err", err)
	}
	if err := s.fallback.CleanupProcessed(ctx, s.userID, time.Now()); err != nil {
		s.log.Warn("bus.fallback.cleanup.fail", "err", err)
	}

	s.log.Info("session.start", "user_id", s.userID, "unread_total", s.unread.Total())
	return nil
}

// OpenRoom subscribes to a room's realtime link, reusing the room's
// existing socket when one is live.
func (s *Session) OpenRoom(roomID string, cb Callbacks) (*Channel, error) {
	if roomID == "" {
		return nil, errors.New("chat: missing room id")
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	return newChannel(s, roomID, cb), nil
}

// SetActiveRoom marks roomID as foregrounded: its unread counter is
// cleared and stays flat while the user is reading it.
func (s *Session) SetActiveRoom(ctx context.Context, roomID string) error {
	s.global.SetForeground(roomID)
	return s.unread.MarkRead(ctx, roomID)
}

// ClearActiveRoom marks no room as foregrounded.
func (s *Session) ClearActiveRoom() {
	s.global.ClearForeground()
}

// Unread exposes the session's unread counters.
func (s *Session) Unread() *unread.Store { return s.unread }

// Events exposes the session's local echo bus.
func (s *Session) Events() *bus.Bus { return s.events }

// GlobalState reports the notification channel's lifecycle state.
func (s *Session) GlobalState() GlobalState { return s.global.State() }

// Rearm resets the global channel's reconnect budget; wired to app
// resume and re-login.
func (s *Session) Rearm() { s.global.Rearm() }

// Close tears the session down: the global channel closes with a
// normal status, every room socket is force-closed, and in-memory
// counters reset. Persisted counters survive for the same identity.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.global.Stop()
		s.registry.Close()
		s.unread.Reset()
		s.log.Info("session.close", "user_id", s.userID)
	})
}

// publishEcho fans a just-sent message out locally and records it in
// the durable fallback slot.
func (s *Session) publishEcho(ctx context.Context, msg v1.Message, now time.Time) {
	event := v1.GlobalEvent{
		Type:      v1.EventNewMessage,
		SenderID:  msg.Sender,
		RoomID:    msg.Room,
		Content:   msg.Content,
		Timestamp: now.UnixMilli(),
	}

	s.events.Publish(event)

	if err := s.fallback.Record(ctx, event); err != nil {
		s.log.Warn("bus.fallback.record.fail", "err", err)
	}
}
