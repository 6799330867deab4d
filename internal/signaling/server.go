// Package signaling implements the WebSocket signaling surface: one session
// loop per peer connection, translating transport events into relay engine
// calls.
package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Raj9229/VeeCall/internal/metrics"
	"github.com/Raj9229/VeeCall/internal/ratelimit"
	"github.com/Raj9229/VeeCall/internal/relay"
	"github.com/Raj9229/VeeCall/internal/room"
)

// CloseInvalidRoomID is the application close code sent when a connect
// request names an empty or whitespace-only room. The connection is rejected
// before any member record exists, so the code is the only signal the client
// gets.
const CloseInvalidRoomID = 4000

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Engine  *relay.Engine
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// IdleTimeout bounds how long a connection may sit without an inbound
	// message before it is treated as a normal disconnect.
	IdleTimeout time.Duration

	// Inbound signaling hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// AllowedOrigins restricts browser origins at upgrade time. Empty allows
	// any origin.
	AllowedOrigins []string
}

// Server implements the signaling endpoints:
//   - GET /ws/{room_id}             : WebSocket signaling for one room
//   - GET /api/rooms/{room_id}/info : room inspection query
type Server struct {
	Engine  *relay.Engine
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	IdleTimeout          time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	AllowedOrigins       []string

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
}

func NewServer(cfg Config) *Server {
	return &Server{
		Engine:  cfg.Engine,
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger,

		IdleTimeout:          cfg.IdleTimeout,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		AllowedOrigins:       cfg.AllowedOrigins,

		sessions: make(map[*wsSession]struct{}),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{room_id}", s.handleSignal)
	mux.HandleFunc("GET /api/rooms/{room_id}/info", s.handleRoomInfo)
}

// Close disconnects every live signaling session. Used on shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*wsSession, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = nil
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return 300 * time.Second
	}
	return s.IdleTimeout
}

func (s *Server) maxMessageBytes() int64 {
	if s.MaxMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.MaxMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.MaxMessagesPerSecond <= 0 {
		return 50
	}
	return s.MaxMessagesPerSecond
}

func (s *Server) handleRoomInfo(w http.ResponseWriter, r *http.Request) {
	info := s.Engine.Registry().RoomInfo(r.PathValue("room_id"))
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), s.AllowedOrigins)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wss := &wsSession{
		srv:    s,
		ch:     newWSChannel(conn),
		conn:   conn,
		roomID: r.PathValue("room_id"),
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.maxMessagesPerSecond()),
			int64(s.maxMessagesPerSecond()),
		),
	}

	s.track(wss)
	wss.run()
}

func (s *Server) track(wss *wsSession) {
	s.mu.Lock()
	if s.sessions == nil {
		s.sessions = make(map[*wsSession]struct{})
	}
	s.sessions[wss] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(wss *wsSession) {
	s.mu.Lock()
	if s.sessions != nil {
		delete(s.sessions, wss)
	}
	s.mu.Unlock()
}

// originAllowed implements the upgrade-time origin policy: non-browser
// clients (no Origin header) and an empty allowlist pass, otherwise the
// normalized scheme://host must match an allowlist entry.
func originAllowed(originHeader string, allowed []string) bool {
	originHeader = strings.TrimSpace(originHeader)
	if originHeader == "" || len(allowed) == 0 {
		return true
	}

	u, err := url.Parse(originHeader)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	normalized := strings.ToLower(u.Scheme + "://" + u.Host)

	for _, entry := range allowed {
		if strings.ToLower(strings.TrimSpace(entry)) == normalized {
			return true
		}
	}
	return false
}

// wsSession is the per-connection state machine: Connecting (join) → Active
// (read loop) → Closing/Closed (Close, exactly once).
type wsSession struct {
	srv    *Server
	ch     *wsChannel
	conn   *websocket.Conn
	roomID string

	// userID stays empty until the join succeeds; cleanup uses it as the
	// "was an identity ever assigned" sentinel.
	userID string

	limiter *ratelimit.TokenBucket

	closeOnce sync.Once
}

func (wss *wsSession) run() {
	defer wss.Close()

	log := wss.srv.logger()
	wss.conn.SetReadLimit(wss.srv.maxMessageBytes())

	userID, err := wss.srv.Engine.Join(wss.roomID, wss.ch)
	if err != nil {
		if errors.Is(err, room.ErrInvalidRoomID) {
			wss.srv.Metrics.Inc(metrics.InvalidRoomRejected)
			log.Warn("rejecting connect with invalid room id")
			_ = wss.ch.Close(CloseInvalidRoomID, "invalid room id")
			return
		}
		// The join itself succeeded but the room-info delivery did not; the
		// engine has already disconnected the peer.
		wss.userID = userID
		return
	}
	wss.userID = userID

	log = log.With("user_id", userID, "room_id", wss.roomID)
	log.Info("peer connected")

	for {
		_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout()))

		_, data, err := wss.conn.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				wss.srv.Metrics.Inc(metrics.IdleTimeout)
				log.Warn("idle timeout, disconnecting")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Info("peer disconnected")
			default:
				log.Error("read failed", "err", err)
			}
			return
		}

		// Rate-limit after reading so bytes already in the TCP receive buffer
		// are consumed; closing with unread data can turn into an abortive
		// close (RST) that hides the close code from the client.
		if wss.limiter != nil && !wss.limiter.Allow(1) {
			wss.srv.Metrics.Inc(metrics.RateLimited)
			log.Warn("rate limit exceeded, disconnecting")
			_ = wss.ch.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		payload, err := parsePayload(data)
		if err != nil {
			wss.srv.Metrics.Inc(metrics.BadMessage)
			log.Warn("malformed payload", "err", err)
			if sendErr := wss.ch.Send(errorEvent{Type: eventError, Message: invalidMessageText}); sendErr != nil {
				return
			}
			continue
		}

		wss.srv.Engine.Relay(userID, payload)
	}
}

// Close runs the leave/cleanup path exactly once, from whichever trigger
// fires first (read loop exit, server shutdown, failed join).
func (wss *wsSession) Close() {
	wss.closeOnce.Do(func() {
		if wss.userID != "" {
			wss.srv.Engine.Disconnect(wss.userID)
		}
		_ = wss.ch.Close(0, "")
		wss.srv.untrack(wss)
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
