package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/audit"
	"github.com/mockinterview/interviewd/internal/connections"
	"github.com/mockinterview/interviewd/internal/pipeline"
	"github.com/mockinterview/interviewd/internal/protocol"
	"github.com/mockinterview/interviewd/internal/sessions"
)

type fakeSocket struct {
	inbound  chan []byte
	written  chan []byte
	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound:  make(chan []byte, 64),
		written:  make(chan []byte, 256),
		closedCh: make(chan struct{}),
	}
}

func (s *fakeSocket) deliver(frame string) { s.inbound <- []byte(frame) }

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-s.inbound:
		return websocket.TextMessage, frame, nil
	case <-s.closedCh:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("use of closed socket")
	}
	s.written <- data
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error { return nil }
func (s *fakeSocket) SetReadLimit(limit int64)                                           {}
func (s *fakeSocket) SetWriteDeadline(t time.Time) error                                 { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closedCh)
	}
	return nil
}

// next returns the next frame the server wrote.
func (s *fakeSocket) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case frame := <-s.written:
		var env map[string]any
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

// expect reads the next frame and checks its type.
func (s *fakeSocket) expect(t *testing.T, typ protocol.MessageType) map[string]any {
	t.Helper()
	env := s.next(t)
	require.Equal(t, string(typ), env["type"], "frame: %v", env)
	data, _ := env["data"].(map[string]any)
	return data
}

type stubPipeline struct {
	transcribe func(ctx context.Context, audio []byte, format string) (*pipeline.Transcript, error)
	plan       func(ctx context.Context, conv pipeline.Conversation, latest sessions.Turn) (*pipeline.Plan, error)
	respond    func(ctx context.Context, conv pipeline.Conversation, plan *pipeline.Plan) (*pipeline.Reply, error)
}

func (s *stubPipeline) Transcribe(ctx context.Context, audio []byte, format string) (*pipeline.Transcript, error) {
	if s.transcribe != nil {
		return s.transcribe(ctx, audio, format)
	}
	return &pipeline.Transcript{Text: "transcribed answer", Confidence: 0.95, DurationMs: 1200, Language: "en"}, nil
}

func (s *stubPipeline) Plan(ctx context.Context, conv pipeline.Conversation, latest sessions.Turn) (*pipeline.Plan, error) {
	if s.plan != nil {
		return s.plan(ctx, conv, latest)
	}
	return &pipeline.Plan{Strategy: pipeline.StrategyDeepDive, FocusArea: "general"}, nil
}

func (s *stubPipeline) Respond(ctx context.Context, conv pipeline.Conversation, plan *pipeline.Plan) (*pipeline.Reply, error) {
	if s.respond != nil {
		return s.respond(ctx, conv, plan)
	}
	latest := conv.Turns[len(conv.Turns)-1]
	return &pipeline.Reply{Text: fmt.Sprintf("echo: %s", latest.Content), ResponseType: pipeline.ResponseTypeFollowUp, Confidence: 0.8}, nil
}

type harness struct {
	store  *sessions.Store
	conns  *connections.Manager
	router *Router
	logs   *audit.MemoryStore
}

func newHarness(t *testing.T, pipe pipeline.Pipeline, opts ...Option) *harness {
	t.Helper()
	logger := zap.NewNop()
	store := sessions.NewStore()
	codec := protocol.NewCodec(1<<20, []string{"wav", "webm"})
	conns := connections.NewManager(connections.Config{
		HeartbeatTimeout: time.Minute,
		CloseGrace:       time.Second,
		SendBuffer:       256,
	}, codec, logger)

	logs := audit.NewMemoryStore()
	opts = append([]Option{WithRecorder(audit.NewLogger(logs))}, opts...)
	r := New(store, pipe, conns, logger, opts...)
	conns.SetHandler(r)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conns.Shutdown(ctx)
		_ = r.Wait(ctx)
	})
	return &harness{store: store, conns: conns, router: r, logs: logs}
}

// connect opens a served connection attached to sessionID and consumes the
// connected frame.
func (h *harness) connect(t *testing.T, sessionID string, cfg sessions.Config) (*connections.Connection, *fakeSocket, map[string]any) {
	t.Helper()
	sock := newFakeSocket()
	conn, err := h.conns.Register(sock, "127.0.0.1:4000")
	require.NoError(t, err)
	go h.conns.Serve(context.Background(), conn)

	_, err = h.router.Attach(context.Background(), conn, sessionID, cfg)
	require.NoError(t, err)
	data := sock.expect(t, protocol.TypeConnected)
	return conn, sock, data
}

func (h *harness) waitTurns(t *testing.T, sessionID string, n int) sessions.Session {
	t.Helper()
	var sess sessions.Session
	require.Eventually(t, func() bool {
		var err error
		sess, err = h.store.Get(sessionID)
		return err == nil && len(sess.Turns) >= n
	}, 3*time.Second, 5*time.Millisecond)
	return sess
}
