package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Mobile and terminal clients send no Origin header, so origin
	// enforcement is opt-in. Browsers still get an allowlist once the
	// header is present.
	wsDefaultOriginRequired = false
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the websocket entrypoint. It terminates two socket kinds:
// per-room sockets at /ws/{room}?id={user} and per-user notification
// sockets at /ws/user/{user}. Room frames are validated, persisted
// idempotently, broadcast to the room, and fanned out as cross-room
// events to every other participant's notification socket.
type Gateway struct {
	log   *slog.Logger
	hub   *Hub
	store MessageStore

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks. Accept authorizes
	// same-host origins by default; cross-origin needs OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway. When hub/store are nil it falls back
// to in-memory implementations.
func NewGateway(log *slog.Logger, hub *Hub, store MessageStore) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if store == nil {
		store = NewInMemoryStore()
	}

	g := &Gateway{log: log, hub: hub, store: store}

	// TLS verification escape hatch for dev, not an origin policy.
	g.devInsecure = envBoolWS("SKILLLY_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("SKILLLY_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("SKILLLY_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)

	g.writeTimeout = envDurationWS("SKILLLY_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("SKILLLY_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("SKILLLY_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("SKILLLY_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("SKILLLY_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("SKILLLY_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("SKILLLY_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// Register mounts the websocket endpoints on mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/user/{user}", g.HandleGlobal)
	mux.HandleFunc("GET /ws/{room}", g.HandleRoom)
}

// HandleRoom upgrades a per-room socket and runs its frame loop.
func (g *Gateway) HandleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.PathValue("room"))
	userID := strings.TrimSpace(r.URL.Query().Get("id"))
	if roomID == "" || userID == "" {
		http.Error(w, "room and id required", http.StatusBadRequest)
		return
	}

	conn, ok := g.accept(w, r)
	if !ok {
		return
	}

	sessionID := ulid.Make().String()
	client := NewClient(userID, sessionID, g.sendQueueSize)
	room := g.hub.GetOrCreateRoom(roomID)
	room.Join(client)

	metricSockets.Inc()
	defer metricSockets.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			room.Leave(sessionID)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := g.startWriter(ctx, conn, client, sessionID, shutdown)
	heartbeatDone := g.startHeartbeat(ctx, conn, client, sessionID, shutdown)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose, readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			default:
				g.log.Info("ws.room.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		g.handleRoomFrame(ctx, room, userID, sessionID, data, now)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// handleRoomFrame validates, persists, broadcasts, and fans out one
// inbound room frame. Malformed frames are dropped without killing the
// socket.
func (g *Gateway) handleRoomFrame(ctx context.Context, room *Room, userID, sessionID string, data []byte, now time.Time) {
	var m v1.Message
	if err := json.Unmarshal(data, &m); err != nil {
		g.log.Info("ws.room.frame.drop", "session_id", sessionID, "err", err)
		return
	}

	if m.Sender == "" {
		m.Sender = userID
	}
	if m.Room == "" {
		m.Room = room.ID
	}
	if m.Room != room.ID {
		g.log.Info("ws.room.frame.drop", "session_id", sessionID, "err", "room mismatch")
		return
	}
	if err := m.Validate(); err != nil {
		g.log.Info("ws.room.frame.drop", "session_id", sessionID, "err", err)
		return
	}
	if len([]rune(m.Content)) > maxContentChars {
		g.log.Info("ws.room.frame.drop", "session_id", sessionID, "err", "content too long")
		return
	}

	res, err := g.store.Append(ctx, AppendInput{
		RoomID:      room.ID,
		Fingerprint: m.Fingerprint(),
		Sender:      m.Sender,
		Content:     m.Content,
		SentAt:      m.SentAt,
		Now:         now,
	})
	if err != nil {
		g.log.Error("ws.room.store.fail", "room_id", room.ID, "err", err)
		return
	}
	if res.Duplicated {
		metricDuplicates.Inc()
		return
	}
	metricMessages.Inc()

	frame, err := json.Marshal(m)
	if err != nil {
		return
	}
	room.Broadcast(frame)

	g.fanOut(room, m, now)
}

// fanOut pushes a cross-room event to every participant's notification
// socket except the sender's.
func (g *Gateway) fanOut(room *Room, m v1.Message, now time.Time) {
	event := v1.GlobalEvent{
		Type:      v1.EventNewMessage,
		SenderID:  m.Sender,
		RoomID:    room.ID,
		Content:   m.Content,
		Timestamp: eventTimestamp(m.SentAt, now),
	}
	frame, err := json.Marshal(event)
	if err != nil {
		return
	}

	for _, uid := range room.Participants() {
		if uid == m.Sender {
			continue
		}
		if g.hub.NotifyUser(uid, frame) {
			metricNotified.Inc()
		}
	}
}

// HandleGlobal upgrades a per-user notification socket. It is a push
// channel: inbound frames are drained and discarded.
func (g *Gateway) HandleGlobal(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("user"))
	if userID == "" {
		http.Error(w, "user required", http.StatusBadRequest)
		return
	}

	conn, ok := g.accept(w, r)
	if !ok {
		return
	}

	sessionID := ulid.Make().String()
	client := NewClient(userID, sessionID, g.sendQueueSize)
	g.hub.AttachUser(userID, client)

	metricSockets.Inc()
	defer metricSockets.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.DetachUser(userID, client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := g.startWriter(ctx, conn, client, sessionID, shutdown)
	heartbeatDone := g.startHeartbeat(ctx, conn, client, sessionID, shutdown)

	for {
		if _, err := readFrame(ctx, conn); err != nil {
			switch classifyReadErr(err) {
			case readErrClose, readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			default:
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break
		}
	}

	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- connection plumbing ----

func (g *Gateway) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, false
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return nil, false
	}

	conn.SetReadLimit(maxFrameBytes)
	return conn, true
}

func (g *Gateway) startWriter(ctx context.Context, conn *websocket.Conn, client *Client, sessionID string, shutdown func(websocket.StatusCode, string)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case frame := <-client.Send:
				if err := writeFrame(ctx, conn, frame, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()
	return done
}

func (g *Gateway) startHeartbeat(ctx context.Context, conn *websocket.Conn, client *Client, sessionID string, shutdown func(websocket.StatusCode, string)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()
	return done
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

// eventTimestamp derives the cross-room event timestamp from the wire
// sent_at when it parses, and from receipt time otherwise.
func eventTimestamp(sentAt string, now time.Time) int64 {
	if ts, err := time.Parse(time.RFC3339Nano, sentAt); err == nil {
		return ts.UnixMilli()
	}
	return now.UnixMilli()
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Discouraged, but honored when explicitly configured.
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host.
	// Only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
