package connections

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/protocol"
)

// Close reasons
const (
	ReasonClientRequested  = "client_requested"
	ReasonTransportClosed  = "transport_closed"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonWriteFailed      = "write_failed"
	ReasonSlowConsumer     = "slow_consumer"
	ReasonServerShutdown   = "server_shutdown"
	ReasonHandshakeFailed  = "handshake_failed"
	ReasonSessionEvicted   = "session_evicted"
)

// Error codes reported by the manager itself
const (
	ErrorCodeInternal         = "internal_error"
	ErrorCodeCapacityExceeded = "capacity_exceeded"
)

// Handler receives every successfully decoded frame.
type Handler interface {
	Handle(ctx context.Context, conn *Connection, msg protocol.Inbound)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn *Connection, msg protocol.Inbound)

func (f HandlerFunc) Handle(ctx context.Context, conn *Connection, msg protocol.Inbound) {
	f(ctx, conn, msg)
}

// Config holds the connection limits and timers.
type Config struct {
	HeartbeatTimeout time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	CloseGrace       time.Duration
	MaxMessageSize   int64
	SendBuffer       int
	MaxConnections   int
	// Production hides internal error details from clients.
	Production bool
}

// Stats are the manager counters.
type Stats struct {
	Total         int64   `json:"total_connections"`
	Active        int     `json:"active_connections"`
	Sent          int64   `json:"messages_sent"`
	Received      int64   `json:"messages_received"`
	Errors        int64   `json:"errors_count"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Sessions      int     `json:"active_sessions"`
}

// Filter selects connections for Broadcast. A nil filter selects all.
type Filter func(*Connection) bool

// ExcludeSessions returns a filter that skips connections bound to ids.
func ExcludeSessions(ids ...string) Filter {
	skip := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	return func(c *Connection) bool {
		_, excluded := skip[c.SessionID()]
		return !excluded
	}
}

// Manager owns the registry of live connections. Its lock guards only the
// registry and session index; it is never held across socket I/O or
// pipeline calls.
type Manager struct {
	cfg    Config
	codec  *protocol.Codec
	logger *zap.Logger

	mu        sync.RWMutex
	conns     map[string]*Connection
	bySession map[string]map[string]*Connection
	closed    bool

	handler atomic.Value // Handler

	total    atomic.Int64
	sent     atomic.Int64
	received atomic.Int64
	errors   atomic.Int64
	started  time.Time

	fatalOnce sync.Once
	fatal     chan error
	wg        sync.WaitGroup
}

// NewManager creates a connection manager.
func NewManager(cfg Config, codec *protocol.Codec, logger *zap.Logger) *Manager {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = 5 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		codec:     codec,
		logger:    logger,
		conns:     make(map[string]*Connection),
		bySession: make(map[string]map[string]*Connection),
		started:   time.Now(),
		fatal:     make(chan error, 1),
	}
}

// SetHandler installs the message handler. It must be called before Serve.
func (m *Manager) SetHandler(h Handler) {
	m.handler.Store(h)
}

// Fatal delivers at most one error that requires a graceful process shutdown.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

func (m *Manager) reportFatal(err error) {
	m.fatalOnce.Do(func() {
		m.logger.Error("connection manager fatal error", zap.Error(err))
		m.fatal <- err
	})
}

// Register adds a socket in CONNECTING state and starts its heartbeat timer.
func (m *Manager) Register(socket Socket, remoteAddr string) (*Connection, error) {
	now := time.Now()
	conn := &Connection{
		ID:            uuid.NewString(),
		RemoteAddr:    remoteAddr,
		ConnectedAt:   now,
		socket:        socket,
		send:          make(chan []byte, m.cfg.SendBuffer),
		done:          make(chan struct{}),
		state:         StateConnecting,
		lastHeartbeat: now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if m.cfg.MaxConnections > 0 && len(m.conns) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		m.errors.Add(1)
		return nil, ErrCapacityExceeded
	}
	m.conns[conn.ID] = conn
	m.mu.Unlock()

	m.total.Add(1)

	id := conn.ID
	conn.mu.Lock()
	conn.heartbeat = time.AfterFunc(m.cfg.HeartbeatTimeout, func() { m.heartbeatExpired(id) })
	conn.mu.Unlock()

	m.logger.Info("connection registered",
		zap.String("connection_id", conn.ID),
		zap.String("remote_addr", remoteAddr))
	return conn, nil
}

// Bind attaches a session id to a connection. Binding is permanent: the same
// id is accepted again, a different one fails with ErrAlreadyBound.
func (m *Manager) Bind(connID, sessionID string) error {
	conn, ok := m.Connection(connID)
	if !ok {
		return ErrConnectionNotFound
	}

	conn.mu.Lock()
	switch {
	case conn.state == StateClosing || conn.state == StateClosed:
		conn.mu.Unlock()
		return ErrConnectionClosed
	case conn.sessionID == sessionID:
		conn.mu.Unlock()
		return nil
	case conn.sessionID != "":
		conn.mu.Unlock()
		return ErrAlreadyBound
	}
	conn.sessionID = sessionID
	conn.mu.Unlock()

	m.mu.Lock()
	set := m.bySession[sessionID]
	if set == nil {
		set = make(map[string]*Connection)
		m.bySession[sessionID] = set
	}
	set[conn.ID] = conn
	m.mu.Unlock()
	return nil
}

// Open completes the handshake: CONNECTING to OPEN.
func (m *Manager) Open(connID string) error {
	conn, ok := m.Connection(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.transition(StateOpen)
}

// Dispatch decodes a raw frame and hands it to the handler. Decode failures
// and handler panics are answered on this connection only.
func (m *Manager) Dispatch(ctx context.Context, connID string, raw []byte) {
	conn, ok := m.Connection(connID)
	if !ok {
		return
	}
	if s := conn.State(); s == StateClosing || s == StateClosed {
		return
	}
	m.received.Add(1)

	msg, err := m.codec.Decode(raw)
	if err != nil {
		m.errors.Add(1)
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			_ = m.Send(connID, protocol.Error(conn.SessionID(), de.ErrorData()))
		}
		m.logger.Debug("rejected frame",
			zap.String("connection_id", connID),
			zap.Error(err))
		return
	}

	if msg.Kind() == protocol.TypePing {
		m.Heartbeat(connID)
	}

	h, _ := m.handler.Load().(Handler)
	if h == nil {
		m.errors.Add(1)
		_ = m.Send(connID, protocol.Error(conn.SessionID(), protocol.ErrorData{Error: ErrorCodeInternal, Message: "server is not ready"}))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.errors.Add(1)
			m.logger.Error("panic while handling message",
				zap.String("connection_id", connID),
				zap.String("type", string(msg.Kind())),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			data := protocol.ErrorData{Error: ErrorCodeInternal, Message: "internal server error"}
			if !m.cfg.Production {
				data.Details = fmt.Sprint(r)
			}
			_ = m.Send(connID, protocol.Error(conn.SessionID(), data))
		}
	}()
	h.Handle(ctx, conn, msg)
}

// Heartbeat records a client ping and pushes the deadline out.
func (m *Manager) Heartbeat(connID string) {
	conn, ok := m.Connection(connID)
	if !ok {
		return
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.state == StateClosing || conn.state == StateClosed {
		return
	}
	conn.lastHeartbeat = time.Now()
	if conn.heartbeat != nil {
		conn.heartbeat.Reset(m.cfg.HeartbeatTimeout)
	}
}

func (m *Manager) heartbeatExpired(connID string) {
	conn, ok := m.Connection(connID)
	if !ok {
		return
	}
	conn.mu.Lock()
	state := conn.state
	expired := time.Since(conn.lastHeartbeat) >= m.cfg.HeartbeatTimeout
	conn.mu.Unlock()
	if state != StateOpen && state != StateConnecting {
		return
	}
	if !expired {
		// a ping raced the timer
		return
	}

	m.logger.Info("heartbeat timeout",
		zap.String("connection_id", connID),
		zap.String("session_id", conn.SessionID()))
	m.finalize(conn, ReasonHeartbeatTimeout)
}

// Send encodes env and queues it on one connection. A full queue closes the
// connection.
func (m *Manager) Send(connID string, env protocol.Envelope) error {
	conn, ok := m.Connection(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	frame, err := m.codec.Encode(env)
	if err != nil {
		m.errors.Add(1)
		return err
	}
	return m.enqueue(conn, frame)
}

func (m *Manager) enqueue(conn *Connection, frame []byte) error {
	err := conn.enqueue(frame)
	if errors.Is(err, ErrBufferFull) {
		m.errors.Add(1)
		m.logger.Warn("send buffer full, closing connection",
			zap.String("connection_id", conn.ID),
			zap.String("session_id", conn.SessionID()))
		m.finalize(conn, ReasonSlowConsumer)
	}
	return err
}

// SendToSession queues env on every OPEN connection bound to sessionID and
// returns how many accepted it.
func (m *Manager) SendToSession(sessionID string, env protocol.Envelope) int {
	frame, err := m.codec.Encode(env)
	if err != nil {
		m.errors.Add(1)
		return 0
	}
	delivered := 0
	for _, conn := range m.SessionConnections(sessionID) {
		if conn.State() != StateOpen {
			continue
		}
		if m.enqueue(conn, frame) == nil {
			delivered++
		}
	}
	return delivered
}

// Broadcast queues env on every OPEN connection selected by filter.
func (m *Manager) Broadcast(env protocol.Envelope, filter Filter) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.State() != StateOpen {
			continue
		}
		if filter != nil && !filter(conn) {
			continue
		}
		e := env
		if e.SessionID == "" {
			e.SessionID = conn.SessionID()
		}
		frame, err := m.codec.Encode(e)
		if err != nil {
			m.errors.Add(1)
			continue
		}
		if m.enqueue(conn, frame) == nil {
			delivered++
		}
	}
	return delivered
}

// Unregister starts an orderly close: OPEN to CLOSING, then CLOSED once the
// outbound queue drains or the grace period ends. The bound session is not
// touched.
func (m *Manager) Unregister(connID, reason string) {
	conn, ok := m.Connection(connID)
	if !ok {
		return
	}
	if !conn.beginClose(reason) {
		return
	}

	m.logger.Info("connection closing",
		zap.String("connection_id", connID),
		zap.String("session_id", conn.SessionID()),
		zap.String("reason", reason))

	conn.mu.Lock()
	conn.grace = time.AfterFunc(m.cfg.CloseGrace, func() { m.finalize(conn, reason) })
	conn.mu.Unlock()
}

// finalize moves a connection to CLOSED, closes its socket and removes it
// from the registry. It is idempotent.
func (m *Manager) finalize(conn *Connection, reason string) {
	conn.finalizeOnce.Do(func() {
		conn.mu.Lock()
		if conn.closeReason == "" {
			conn.closeReason = reason
		}
		conn.state = StateClosed
		if conn.heartbeat != nil {
			conn.heartbeat.Stop()
		}
		if conn.grace != nil {
			conn.grace.Stop()
		}
		if !conn.sendClosed {
			conn.sendClosed = true
			close(conn.send)
		}
		sessionID := conn.sessionID
		conn.mu.Unlock()

		_ = conn.socket.Close()

		m.mu.Lock()
		delete(m.conns, conn.ID)
		if set := m.bySession[sessionID]; set != nil {
			delete(set, conn.ID)
			if len(set) == 0 {
				delete(m.bySession, sessionID)
			}
		}
		m.mu.Unlock()

		close(conn.done)

		m.logger.Info("connection closed",
			zap.String("connection_id", conn.ID),
			zap.String("session_id", sessionID),
			zap.String("reason", reason))
	})
}

// Connection looks up a live connection.
func (m *Manager) Connection(connID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

// SessionConnections returns the live connections bound to sessionID.
func (m *Manager) SessionConnections(sessionID string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.bySession[sessionID]
	out := make([]*Connection, 0, len(set))
	for _, conn := range set {
		out = append(out, conn)
	}
	return out
}

// Connections returns a snapshot of every live connection.
func (m *Manager) Connections() []Info {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn.Info())
	}
	return out
}

// ConnectedSessions returns the ids of sessions with at least one live connection.
func (m *Manager) ConnectedSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.bySession))
	for id := range m.bySession {
		out = append(out, id)
	}
	return out
}

// Stats reports the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	active := len(m.conns)
	sessionsN := len(m.bySession)
	m.mu.RUnlock()

	return Stats{
		Total:         m.total.Load(),
		Active:        active,
		Sent:          m.sent.Load(),
		Received:      m.received.Load(),
		Errors:        m.errors.Load(),
		UptimeSeconds: time.Since(m.started).Seconds(),
		Sessions:      sessionsN,
	}
}

// CountError records an error observed outside the manager, for example a
// pipeline failure reported to the client.
func (m *Manager) CountError() {
	m.errors.Add(1)
}

// Shutdown refuses new connections, closes every live one and waits for the
// pumps to exit or ctx to expire. Sessions are not affected.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		m.Unregister(conn.ID, ReasonServerShutdown)
	}

	done := make(chan struct{})
	go func() {
		for _, conn := range conns {
			<-conn.done
		}
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, conn := range conns {
			m.finalize(conn, ReasonServerShutdown)
		}
		return ctx.Err()
	}
}

// closeFrame builds the websocket close payload for a reason.
func closeFrame(reason string) []byte {
	code := websocket.CloseNormalClosure
	switch reason {
	case ReasonServerShutdown:
		code = websocket.CloseGoingAway
	case ReasonHeartbeatTimeout, ReasonSlowConsumer:
		code = websocket.ClosePolicyViolation
	case ReasonHandshakeFailed:
		code = websocket.CloseInternalServerErr
	}
	return websocket.FormatCloseMessage(code, reason)
}
