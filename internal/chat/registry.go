package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
)

// Registry maps room ids to their single live connection. No matter
// how often the UI mounts and unmounts a room view, a room never holds
// more than one open socket, which is what keeps delivery and send
// side effects single-shot.
type Registry struct {
	log    *slog.Logger
	dialer Dialer
	urls   URLs
	userID string
	dedupe *Dedupe
	linger time.Duration

	mu      sync.Mutex
	entries map[string]*roomLink
	closed  bool
}

// NewRegistry constructs a registry for one user session. linger keeps
// a released connection warm for fast resubscription before it closes.
func NewRegistry(log *slog.Logger, dialer Dialer, urls URLs, userID string, dedupe *Dedupe, linger time.Duration) *Registry {
	return &Registry{
		log:     log,
		dialer:  dialer,
		urls:    urls,
		userID:  userID,
		dedupe:  dedupe,
		linger:  linger,
		entries: make(map[string]*roomLink),
	}
}

// acquire attaches ch to the room's link, reusing a healthy existing
// connection or establishing a new one asynchronously. A link that is
// already closing is torn down and replaced.
func (r *Registry) acquire(roomID string, ch *Channel) *roomLink {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil
	}

	if l := r.entries[roomID]; l != nil {
		l.mu.Lock()
		healthy := l.state == StateIdle || l.state == StateConnecting || l.state == StateOpen
		if healthy {
			l.attachLocked(ch)
			l.mu.Unlock()
			r.mu.Unlock()
			l.notifyOne(ch)
			return l
		}
		l.mu.Unlock()
		delete(r.entries, roomID)
	}

	l := &roomLink{
		reg:    r,
		roomID: roomID,
		state:  StateIdle,
		subs:   make(map[string]*Channel),
	}
	l.mu.Lock()
	l.attachLocked(ch)
	l.mu.Unlock()
	r.entries[roomID] = l
	r.mu.Unlock()

	go l.connect()
	return l
}

// Send writes payload to the room's socket. When the socket is not
// open it reports false and nothing else happens: no queueing, no
// retry; the caller owns the failure.
func (r *Registry) Send(ctx context.Context, roomID string, payload []byte) bool {
	r.mu.Lock()
	l := r.entries[roomID]
	r.mu.Unlock()

	if l == nil {
		metricSendFailures.Inc()
		return false
	}

	l.mu.Lock()
	conn := l.conn
	open := l.state == StateOpen
	l.mu.Unlock()

	if !open || conn == nil {
		metricSendFailures.Inc()
		return false
	}

	if err := conn.Write(ctx, payload); err != nil {
		r.log.Warn("ws.send.fail", "room_id", roomID, "err", err)
		metricSendFailures.Inc()
		return false
	}

	l.touch()
	return true
}

// OpenCount reports how many room sockets are currently open.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, l := range r.entries {
		l.mu.Lock()
		if l.state == StateOpen {
			n++
		}
		l.mu.Unlock()
	}
	return n
}

// Close force-closes every link. The registry accepts no acquisitions
// afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	links := make([]*roomLink, 0, len(r.entries))
	for _, l := range r.entries {
		links = append(links, l)
	}
	r.mu.Unlock()

	for _, l := range links {
		l.close(websocket.StatusNormalClosure, "session closed")
	}
}

func (r *Registry) remove(l *roomLink) {
	r.mu.Lock()
	if r.entries[l.roomID] == l {
		delete(r.entries, l.roomID)
	}
	r.mu.Unlock()
}

// roomLink owns one room's socket: its state machine, its read loop,
// and the subscribers sharing it.
type roomLink struct {
	reg    *Registry
	roomID string

	mu           sync.Mutex
	state        State
	closeErr     error
	conn         Conn
	refs         int
	subs         map[string]*Channel
	lastActivity time.Time
	lingerTimer  *time.Timer
	cancelRead   context.CancelFunc
}

func (l *roomLink) attachLocked(ch *Channel) {
	l.subs[ch.id] = ch
	l.refs++
	if l.lingerTimer != nil {
		l.lingerTimer.Stop()
		l.lingerTimer = nil
	}
}

// release detaches ch. At zero references the connection lingers for
// the configured delay, then closes; a re-acquire within the window
// reuses it.
func (l *roomLink) release(ch *Channel) {
	l.mu.Lock()
	if _, attached := l.subs[ch.id]; !attached {
		l.mu.Unlock()
		return
	}
	delete(l.subs, ch.id)
	l.refs--
	if l.refs > 0 {
		l.mu.Unlock()
		return
	}

	linger := l.reg.linger
	if linger <= 0 {
		l.mu.Unlock()
		l.close(websocket.StatusNormalClosure, "released")
		return
	}
	l.lingerTimer = time.AfterFunc(linger, func() {
		l.mu.Lock()
		idle := l.refs == 0
		l.mu.Unlock()
		if idle {
			l.close(websocket.StatusNormalClosure, "idle")
		}
	})
	l.mu.Unlock()
}

func (l *roomLink) connect() {
	l.mu.Lock()
	if l.state != StateIdle {
		l.mu.Unlock()
		return
	}
	l.state = StateConnecting
	l.mu.Unlock()
	l.notifyState()

	// No dial timeout on purpose: a stalled Connecting state persists
	// until the transport itself errors or the link is closed.
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := l.reg.dialer.Dial(ctx, l.reg.urls.Room(l.roomID, l.reg.userID))

	l.mu.Lock()
	if l.state != StateConnecting {
		// Closed while the dial was in flight.
		l.mu.Unlock()
		cancel()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		l.state = StateClosed
		l.closeErr = err
		l.mu.Unlock()
		cancel()
		l.reg.log.Warn("ws.connect.fail", "room_id", l.roomID, "err", err)
		l.notifyState()
		l.reg.remove(l)
		return
	}

	l.conn = conn
	l.cancelRead = cancel
	l.state = StateOpen
	l.lastActivity = time.Now()
	l.mu.Unlock()

	metricOpenConns.Inc()
	l.reg.log.Info("ws.connect.open", "room_id", l.roomID)
	l.notifyState()

	go l.readLoop(ctx, conn)
}

func (l *roomLink) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			l.finish(err)
			return
		}
		l.handleFrame(data)
	}
}

// finish settles the link after its socket died, normally or not.
// The registry entry is destroyed with the socket.
func (l *roomLink) finish(readErr error) {
	kind := classifyReadErr(readErr)

	l.mu.Lock()
	wasOpen := l.state == StateOpen
	l.state = StateClosed
	switch kind {
	case readErrCleanClose, readErrCtxDone:
		l.closeErr = nil
	default:
		l.closeErr = readErr
	}
	err := l.closeErr
	if l.lingerTimer != nil {
		l.lingerTimer.Stop()
		l.lingerTimer = nil
	}
	l.mu.Unlock()

	if wasOpen {
		metricOpenConns.Dec()
	}
	if err != nil {
		l.reg.log.Warn("ws.close.abnormal", "room_id", l.roomID, "err", err)
	} else {
		l.reg.log.Info("ws.close", "room_id", l.roomID)
	}

	l.notifyState()
	l.reg.remove(l)
}

// close initiates an explicit shutdown: Closing, close frame, read
// loop cancellation. finish settles the terminal state.
func (l *roomLink) close(code websocket.StatusCode, reason string) {
	l.mu.Lock()
	switch l.state {
	case StateClosing, StateClosed:
		l.mu.Unlock()
		return
	case StateIdle, StateConnecting:
		// Not connected yet: mark closed, connect() discards the dial.
		l.state = StateClosed
		l.mu.Unlock()
		l.notifyState()
		l.reg.remove(l)
		return
	}
	l.state = StateClosing
	conn := l.conn
	cancel := l.cancelRead
	l.mu.Unlock()

	l.notifyState()
	if conn != nil {
		_ = conn.Close(code, reason)
	}
	if cancel != nil {
		cancel()
	}
}

func (l *roomLink) handleFrame(data []byte) {
	var msg v1.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		l.reg.log.Warn("ws.frame.drop", "room_id", l.roomID, "err", err)
		metricDropped.Inc()
		return
	}

	// The socket already identifies the room; servers may omit the
	// field on room frames.
	if msg.Room == "" {
		msg.Room = l.roomID
	}
	if err := msg.Validate(); err != nil {
		l.reg.log.Warn("ws.frame.drop", "room_id", l.roomID, "err", err)
		metricDropped.Inc()
		return
	}

	if !l.reg.dedupe.ShouldDeliver(l.roomID, msg) {
		l.reg.log.Debug("ws.frame.duplicate", "room_id", l.roomID, "sender", msg.Sender)
		metricDuplicates.Inc()
		return
	}

	metricDelivered.Inc()
	l.touch()

	for _, ch := range l.subscribers() {
		ch.deliver(msg)
	}
}

func (l *roomLink) touch() {
	l.mu.Lock()
	l.lastActivity = time.Now()
	l.mu.Unlock()
}

func (l *roomLink) subscribers() []*Channel {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Channel, 0, len(l.subs))
	for _, ch := range l.subs {
		out = append(out, ch)
	}
	return out
}

func (l *roomLink) snapshot() (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.closeErr
}

func (l *roomLink) notifyState() {
	state, err := l.snapshot()
	for _, ch := range l.subscribers() {
		ch.notifyState(state, err)
	}
}

func (l *roomLink) notifyOne(ch *Channel) {
	state, err := l.snapshot()
	ch.notifyState(state, err)
}
