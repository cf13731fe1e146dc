package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nerrad567/overlay-core/internal/infrastructure/config"
	"github.com/nerrad567/overlay-core/internal/infrastructure/logging"
)

// Hub tracks connected sessions and fans snapshots out to them.
//
// The hub remembers the last snapshot it sent. Join queues that snapshot to
// the new session under the same lock Broadcast takes, so a session always
// starts from the latest state and never sees an older one afterwards.
type Hub struct {
	logger   *logging.Logger
	mu       sync.Mutex
	sessions map[*Session]struct{}
	latest   []byte
}

// Session is one connected WebSocket client.
type Session struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	// closeCode is sent in the close frame once send is closed.
	closeCode int
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[*Session]struct{}),
	}
}

// newSession creates a session with the configured buffer and rate limit.
func newSession(conn *websocket.Conn, cfg config.WebSocketConfig) *Session {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 1
	}
	s := &Session{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, buffer),
		closeCode: websocket.CloseGoingAway,
	}
	if cfg.CommandsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.CommandsPerSecond), cfg.CommandsPerSecond)
	}
	return s
}

// ID returns the session identifier used in logs.
func (c *Session) ID() string {
	return c.id
}

// Run blocks until ctx is cancelled, then disconnects every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Join registers a session and queues the latest snapshot to it.
func (h *Hub) Join(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	if h.latest != nil {
		h.enqueueLocked(s, h.latest)
	}
	count := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("websocket session joined", "session_id", s.id, "sessions", count)
}

// Leave removes a session. Only the call that removes it closes its send
// channel, so Leave and a concurrent drop never double-close.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	h.removeLocked(s, websocket.CloseNormalClosure)
	count := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("websocket session left", "session_id", s.id, "sessions", count)
}

// Broadcast records data as the latest snapshot and queues it to every
// session. A session whose buffer is full is disconnected; it reconnects and
// starts again from a fresh snapshot.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = data
	for s := range h.sessions {
		h.enqueueLocked(s, data)
	}
}

// SendTo queues data to a single session, if it is still connected.
func (h *Hub) SendTo(s *Session, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; ok {
		h.enqueueLocked(s, data)
	}
}

// Latest returns the last broadcast snapshot.
func (h *Hub) Latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) enqueueLocked(s *Session, data []byte) {
	select {
	case s.send <- data:
	default:
		h.logger.Warn("websocket session too slow, disconnecting", "session_id", s.id)
		h.removeLocked(s, websocket.CloseTryAgainLater)
	}
}

func (h *Hub) removeLocked(s *Session, code int) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	s.closeCode = code
	close(s.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		h.removeLocked(s, websocket.CloseGoingAway)
	}
}

// handleWebSocket upgrades the connection and starts the session pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := newSession(conn, s.wsCfg)
	s.hub.Join(session)

	go session.writePump(s.wsCfg)
	go s.readPump(session)
}

// readPump decodes command frames and hands them to the writer goroutine.
func (s *Server) readPump(session *Session) {
	defer func() {
		s.hub.Leave(session)
		session.conn.Close()
	}()

	cfg := s.wsCfg
	if cfg.MaxMessageSize > 0 {
		session.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	extendDeadline := func() {
		if pingInterval > 0 {
			//nolint:errcheck // Best-effort deadline reset
			session.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		}
	}
	extendDeadline()
	session.conn.SetPongHandler(func(string) error {
		extendDeadline()
		return nil
	})

	for {
		_, message, err := session.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "session_id", session.id, "error", err)
			}
			return
		}
		extendDeadline()

		if session.limiter != nil && !session.limiter.Allow() {
			s.hub.SendTo(session, errorFrame(&commandError{Code: ErrCodeRateLimited, Message: "too many commands"}))
			s.recordCommand("unknown", ErrCodeRateLimited, 0)
			continue
		}

		cmd, err := DecodeCommand(message)
		if err != nil {
			s.rejectDecoded(session, err)
			continue
		}
		if err := s.submit(s.ctx, request{cmd: cmd, source: "websocket", origin: session}); err != nil {
			return
		}
	}
}

func (s *Server) rejectDecoded(session *Session, err error) {
	cerr, ok := err.(*commandError) //nolint:errorlint // DecodeCommand returns it unwrapped
	if !ok {
		cerr = &commandError{Code: ErrCodeBadRequest, Message: err.Error()}
	}
	s.hub.SendTo(session, errorFrame(cerr))
	s.recordCommand("unknown", cerr.Code, 0)
}

// writePump writes queued frames and keepalive pings until the hub closes
// the send channel.
func (c *Session) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = time.Hour
	}
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
