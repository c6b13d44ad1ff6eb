package connections

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeSocket is an in-memory Socket. Frames pushed with deliver are returned
// by ReadMessage; frames written by the server are collected in written.
type fakeSocket struct {
	inbound chan []byte
	written chan []byte

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
	controls []int
	block    chan struct{} // when set, WriteMessage waits on it
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound:  make(chan []byte, 16),
		written:  make(chan []byte, 64),
		closedCh: make(chan struct{}),
	}
}

func (s *fakeSocket) deliver(frame string) {
	s.inbound <- []byte(frame)
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-s.inbound:
		return websocket.TextMessage, frame, nil
	case <-s.closedCh:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("use of closed socket")
	}
	s.written <- data
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("use of closed socket")
	}
	s.controls = append(s.controls, messageType)
	return nil
}

func (s *fakeSocket) SetReadLimit(limit int64) {}

func (s *fakeSocket) SetWriteDeadline(t time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closedCh)
	}
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) sentControl(messageType int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.controls {
		if c == messageType {
			return true
		}
	}
	return false
}

// next returns the next written frame decoded as a generic envelope.
func (s *fakeSocket) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case frame := <-s.written:
		var env map[string]any
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}
