// Package connections owns live client connections: their state machines,
// heartbeat supervision, outbound queues and the session delivery index.
package connections

import (
	"net/url"
	"sync"
	"time"
)

// State is the lifecycle state of a connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// allowed lists the legal transitions.
var allowed = map[State][]State{
	StateConnecting: {StateOpen, StateClosing, StateClosed},
	StateOpen:       {StateClosing, StateClosed},
	StateClosing:    {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Socket is the transport a connection writes to. *websocket.Conn satisfies it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is one live transport link. It references its session only by id.
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
	// Query holds the upgrade request's query parameters. It is set before
	// Serve and read-only afterwards.
	Query url.Values

	socket Socket
	send   chan []byte
	done   chan struct{}

	mu            sync.Mutex
	state         State
	sessionID     string
	lastHeartbeat time.Time
	heartbeat     *time.Timer
	grace         *time.Timer
	sendClosed    bool
	closeReason   string
	finalizeOnce  sync.Once
}

// Info is a point-in-time view of a connection.
type Info struct {
	ID              string    `json:"connection_id"`
	SessionID       string    `json:"session_id,omitempty"`
	State           string    `json:"state"`
	RemoteAddr      string    `json:"client_address"`
	ConnectedAt     time.Time `json:"connected_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	QueuedFrames    int       `json:"queued_frames"`
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Connection) LastHeartbeatAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Done is closed once the connection reaches CLOSED.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// CloseReason is the reason recorded by the first close request.
func (c *Connection) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *Connection) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		ID:              c.ID,
		SessionID:       c.sessionID,
		State:           c.state.String(),
		RemoteAddr:      c.RemoteAddr,
		ConnectedAt:     c.ConnectedAt,
		LastHeartbeatAt: c.lastHeartbeat,
		QueuedFrames:    len(c.send),
	}
}

// transition moves the state machine. Caller holds c.mu.
func (c *Connection) transition(to State) error {
	if !canTransition(c.state, to) {
		return &TransitionError{ConnectionID: c.ID, From: c.state, To: to}
	}
	c.state = to
	return nil
}

// enqueue queues a frame without blocking.
func (c *Connection) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed || c.state == StateClosed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// beginClose enters CLOSING and closes the outbound queue so the writer can
// drain it. It reports false when the connection was already closing.
func (c *Connection) beginClose(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosing || c.state == StateClosed {
		return false
	}
	_ = c.transition(StateClosing)
	c.closeReason = reason
	if c.heartbeat != nil {
		c.heartbeat.Stop()
	}
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
	return true
}
