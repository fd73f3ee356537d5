package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/bus"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/unread"
)

const (
	defaultReconnectDelay = 2 * time.Second
	defaultMaxReconnects  = 5
)

// GlobalChannel is the per-user cross-room notification link. It feeds
// unread counters for rooms the user is not looking at, survives the
// UI (rooms come and go, this stays), and reconnects on its own with
// a fixed delay and a hard attempt cap, after which it degrades
// silently until re-armed by a session lifecycle event.
type GlobalChannel struct {
	log    *slog.Logger
	dialer Dialer
	urls   URLs
	userID string
	store  *unread.Store
	events *bus.Bus

	delay       time.Duration
	maxAttempts int
	onEvent     func(v1.GlobalEvent)

	runCtx context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          GlobalState
	attempts       int
	conn           Conn
	foreground     string
	reconnectTimer *time.Timer
	unsub          func()
	stopped        bool
}

func newGlobalChannel(
	log *slog.Logger,
	dialer Dialer,
	urls URLs,
	userID string,
	store *unread.Store,
	events *bus.Bus,
	delay time.Duration,
	maxAttempts int,
	onEvent func(v1.GlobalEvent),
) *GlobalChannel {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxReconnects
	}
	return &GlobalChannel{
		log:         log,
		dialer:      dialer,
		urls:        urls,
		userID:      userID,
		store:       store,
		events:      events,
		delay:       delay,
		maxAttempts: maxAttempts,
		onEvent:     onEvent,
		state:       GlobalDisconnected,
	}
}

// Start connects the channel and subscribes it to local echo events.
func (g *GlobalChannel) Start() {
	g.runCtx, g.cancel = context.WithCancel(context.Background())

	// Local echo keeps the sender's own surfaces consistent before any
	// server round trip; handleEvent suppresses self-increments.
	unsub := g.events.Subscribe(v1.EventNewMessage, g.handleEvent)

	g.mu.Lock()
	g.unsub = unsub
	g.mu.Unlock()

	go g.connect()
}

// Stop closes the socket with a normal close code and cancels any
// pending reconnect timer. The channel stays down until re-armed.
func (g *GlobalChannel) Stop() {
	g.mu.Lock()
	g.stopped = true
	conn := g.conn
	g.conn = nil
	timer := g.reconnectTimer
	g.reconnectTimer = nil
	unsub := g.unsub
	g.unsub = nil
	g.state = GlobalDisconnected
	g.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if unsub != nil {
		unsub()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "session teardown")
	}
	if g.cancel != nil {
		g.cancel()
	}
}

// Rearm resets the attempt budget and reconnects a degraded channel.
// Callers invoke it on app resume or re-login.
func (g *GlobalChannel) Rearm() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.attempts = 0
	reconnect := g.state == GlobalDisconnected && g.reconnectTimer == nil
	g.mu.Unlock()

	if reconnect {
		go g.connect()
	}
}

// State returns the channel's current lifecycle state.
func (g *GlobalChannel) State() GlobalState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SetForeground marks roomID as the room the user is actively reading,
// so its events stop inflating the badge.
func (g *GlobalChannel) SetForeground(roomID string) {
	g.mu.Lock()
	g.foreground = roomID
	g.mu.Unlock()
}

// ClearForeground marks no room as foregrounded.
func (g *GlobalChannel) ClearForeground() {
	g.SetForeground("")
}

func (g *GlobalChannel) connect() {
	g.mu.Lock()
	if g.stopped || g.state != GlobalDisconnected {
		g.mu.Unlock()
		return
	}
	g.state = GlobalConnecting
	g.reconnectTimer = nil
	g.mu.Unlock()

	conn, err := g.dialer.Dial(g.runCtx, g.urls.Global(g.userID))
	if err != nil {
		g.log.Warn("ws.global.connect.fail", "err", err)
		g.settle(true, err)
		return
	}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "session teardown")
		return
	}
	g.conn = conn
	g.state = GlobalConnected
	g.attempts = 0
	g.mu.Unlock()

	g.log.Info("ws.global.open", "user_id", g.userID)
	go g.readLoop(conn)
}

func (g *GlobalChannel) readLoop(conn Conn) {
	for {
		data, err := conn.Read(g.runCtx)
		if err != nil {
			kind := classifyReadErr(err)
			abnormal := kind != readErrCleanClose && kind != readErrCtxDone
			if abnormal {
				g.log.Warn("ws.global.close.abnormal", "err", err)
			} else {
				g.log.Info("ws.global.close")
			}
			g.settle(abnormal, err)
			return
		}

		var event v1.GlobalEvent
		if err := json.Unmarshal(data, &event); err != nil {
			g.log.Warn("ws.global.frame.drop", "err", err)
			continue
		}
		g.handleEvent(event)
	}
}

// settle records a dead connection and, for abnormal closures within
// the attempt budget, schedules the next fixed-delay reconnect.
func (g *GlobalChannel) settle(abnormal bool, cause error) {
	g.mu.Lock()
	g.conn = nil
	g.state = GlobalDisconnected

	if !abnormal || g.stopped {
		g.mu.Unlock()
		return
	}
	if g.attempts >= g.maxAttempts {
		g.mu.Unlock()
		g.log.Warn("ws.global.degraded", "attempts", g.maxAttempts, "err", cause)
		return
	}
	g.attempts++
	attempt := g.attempts
	g.reconnectTimer = time.AfterFunc(g.delay, g.connect)
	g.mu.Unlock()

	metricReconnects.Inc()
	g.log.Info("ws.global.reconnect.schedule", "attempt", attempt, "delay", g.delay)
}

// handleEvent applies one cross-room event, whether it arrived on the
// socket or as a local echo from the bus.
func (g *GlobalChannel) handleEvent(event v1.GlobalEvent) {
	if err := event.Validate(); err != nil {
		g.log.Debug("ws.global.event.drop", "err", err)
		return
	}

	if g.onEvent != nil {
		g.onEvent(event)
	}

	// Never count one's own messages as unread.
	if event.SenderID == g.userID {
		return
	}

	g.mu.Lock()
	suppressed := g.foreground != "" && event.RoomID == g.foreground
	stopped := g.stopped
	g.mu.Unlock()

	// The room being read right now does not accumulate a badge.
	if suppressed || stopped {
		return
	}

	if err := g.store.Increment(g.runCtx, event.RoomID); err != nil {
		g.log.Warn("unread.increment.fail", "room_id", event.RoomID, "err", err)
	}
}
