package router

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/connections"
	"github.com/mockinterview/interviewd/internal/pipeline"
	"github.com/mockinterview/interviewd/internal/pipeline/scripted"
	"github.com/mockinterview/interviewd/internal/protocol"
	"github.com/mockinterview/interviewd/internal/sessions"
)

const longAnswer = "In my last role I coordinated a migration across three teams and we shipped two weeks early with no incidents."

func textFrame(sessionID, text string) string {
	return fmt.Sprintf(`{"type":"text_input","session_id":%q,"data":{"text":%q}}`, sessionID, text)
}

func TestFormalInterviewScenario(t *testing.T) {
	h := newHarness(t, scripted.New(12, zap.NewNop()))
	ctx := context.Background()

	_, sock, connected := h.connect(t, "S1", sessions.Config{Style: sessions.StyleFormal})
	assert.Equal(t, "S1", connected["session_id"])
	assert.Equal(t, false, connected["resumed"])
	assert.Equal(t, scripted.DefaultQuestions[0].Text, connected["first_question"])

	sock.deliver(textFrame("S1", "I led a team of five."))
	data := sock.expect(t, protocol.TypeAIResponse)
	assert.Equal(t, "I led a team of five.", data["user_input"])
	assert.Contains(t, pipeline.KnownResponseTypes, data["response_type"])
	assert.Equal(t, false, data["interview_completed"])

	sess, err := h.store.Get("S1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 3)
	assert.Equal(t, sessions.RoleAssistant, sess.Turns[0].Role)
	assert.Equal(t, sessions.RoleUser, sess.Turns[1].Role)
	assert.Equal(t, "I led a team of five.", sess.Turns[1].Content)
	assert.Equal(t, sessions.RoleAssistant, sess.Turns[2].Role)
	assert.False(t, sess.Completed)

	// the HTTP path shares the same session
	var last *Result
	for i := 0; i < len(scripted.DefaultQuestions); i++ {
		last, err = h.router.Process(ctx, "S1", Input{Modality: sessions.ModalityText, Text: longAnswer})
		require.NoError(t, err)
	}
	assert.True(t, last.Completed)
	assert.Equal(t, pipeline.ResponseTypeInterviewCompleted, last.Reply.ResponseType)
	assert.Equal(t, pipeline.CompletionMessage, last.Reply.Text)

	sess, err = h.store.Get("S1")
	require.NoError(t, err)
	assert.True(t, sess.Completed)
	turns := len(sess.Turns)

	_, err = h.router.Process(ctx, "S1", Input{Modality: sessions.ModalityText, Text: "one more thing"})
	assert.ErrorIs(t, err, sessions.ErrCompleted)

	sock.deliver(textFrame("S1", "and another"))
	data = sock.expect(t, protocol.TypeError)
	assert.Equal(t, ErrorCodeSessionCompleted, data["error"])

	sess, err = h.store.Get("S1")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, turns)
}

func TestTurnOrderAcrossInterleavedSessions(t *testing.T) {
	var calls atomic.Int64
	pipe := &stubPipeline{
		plan: func(ctx context.Context, conv pipeline.Conversation, latest sessions.Turn) (*pipeline.Plan, error) {
			// uneven latency so lanes finish out of step
			time.Sleep(time.Duration(calls.Add(1)%3) * time.Millisecond)
			return &pipeline.Plan{Strategy: pipeline.StrategyFollowThread}, nil
		},
	}
	h := newHarness(t, pipe)

	const nSessions, nMessages = 4, 12
	socks := make([]*fakeSocket, nSessions)
	for s := 0; s < nSessions; s++ {
		_, socks[s], _ = h.connect(t, fmt.Sprintf("S%d", s), sessions.Config{})
	}
	for m := 0; m < nMessages; m++ {
		for s := 0; s < nSessions; s++ {
			socks[s].deliver(textFrame(fmt.Sprintf("S%d", s), fmt.Sprintf("S%d-m%02d", s, m)))
		}
	}

	for s := 0; s < nSessions; s++ {
		id := fmt.Sprintf("S%d", s)
		sess := h.waitTurns(t, id, 2*nMessages)

		var got []string
		for _, turn := range sess.TurnsByRole(sessions.RoleUser) {
			got = append(got, turn.Content)
		}
		want := make([]string, nMessages)
		for m := range want {
			want[m] = fmt.Sprintf("%s-m%02d", id, m)
		}
		assert.Equal(t, want, got, id)

		for i := 0; i < len(sess.Turns); i += 2 {
			assert.Equal(t, sessions.RoleUser, sess.Turns[i].Role)
			assert.Equal(t, sessions.RoleAssistant, sess.Turns[i+1].Role)
			assert.Equal(t, "echo: "+sess.Turns[i].Content, sess.Turns[i+1].Content)
		}
	}
}

func TestAtMostOneInFlightPerSession(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	enter := func() {
		n := inFlight.Add(1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
	}
	pipe := &stubPipeline{
		plan: func(ctx context.Context, conv pipeline.Conversation, latest sessions.Turn) (*pipeline.Plan, error) {
			enter()
			defer inFlight.Add(-1)
			time.Sleep(2 * time.Millisecond)
			return &pipeline.Plan{Strategy: pipeline.StrategyDeepDive}, nil
		},
		respond: func(ctx context.Context, conv pipeline.Conversation, plan *pipeline.Plan) (*pipeline.Reply, error) {
			enter()
			defer inFlight.Add(-1)
			time.Sleep(2 * time.Millisecond)
			return &pipeline.Reply{Text: "ok", ResponseType: pipeline.ResponseTypeFollowUp, Confidence: 0.5}, nil
		},
	}
	h := newHarness(t, pipe)
	_, err := h.router.Start(context.Background(), "S1", sessions.Config{})
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.router.Process(context.Background(), "S1", Input{Modality: sessions.ModalityText, Text: fmt.Sprintf("answer %d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	sess, err := h.store.Get("S1")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 2*n)
	assert.Equal(t, 0, h.router.Pending("S1"))
}

func TestDisconnectDoesNotLoseWork(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	pipe := &stubPipeline{
		transcribe: func(ctx context.Context, audio []byte, format string) (*pipeline.Transcript, error) {
			close(started)
			<-release
			return &pipeline.Transcript{Text: "I mentored two juniors", Confidence: 0.9, DurationMs: 2100}, nil
		},
	}
	h := newHarness(t, pipe)

	connA, sockA, _ := h.connect(t, "S1", sessions.Config{})
	audio := base64.StdEncoding.EncodeToString([]byte("RIFF....WAVE"))
	sockA.deliver(`{"type":"audio_input","session_id":"S1","data":{"audio_data":"` + audio + `","audio_format":"wav"}}`)
	<-started

	h.conns.Unregister(connA.ID, connections.ReasonClientRequested)
	<-connA.Done()

	_, sockB, connected := h.connect(t, "S1", sessions.Config{})
	assert.Equal(t, true, connected["resumed"])

	close(release)

	tr := sockB.expect(t, protocol.TypeTranscription)
	assert.Equal(t, "I mentored two juniors", tr["text"])
	data := sockB.expect(t, protocol.TypeAIResponse)
	assert.Equal(t, "I mentored two juniors", data["user_input"])
	info := data["transcription_info"].(map[string]any)
	assert.Equal(t, float64(2100), info["duration_ms"])

	require.NoError(t, h.router.Wait(context.Background()))
	sess, err := h.store.Get("S1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, sessions.ModalityAudio, sess.Turns[0].InputModality)
	assert.Equal(t, "I mentored two juniors", sess.Turns[0].Content)
	assert.Equal(t, sessions.RoleAssistant, sess.Turns[1].Role)
}

func TestWorkCompletesWithNoConnectionLeft(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	pipe := &stubPipeline{
		plan: func(ctx context.Context, conv pipeline.Conversation, latest sessions.Turn) (*pipeline.Plan, error) {
			close(started)
			<-release
			return &pipeline.Plan{Strategy: pipeline.StrategyDeepDive}, nil
		},
	}
	h := newHarness(t, pipe)
	conn, sock, _ := h.connect(t, "S1", sessions.Config{})

	sock.deliver(textFrame("S1", "first answer"))
	<-started

	h.conns.Unregister(conn.ID, connections.ReasonTransportClosed)
	<-conn.Done()
	close(release)

	sess := h.waitTurns(t, "S1", 2)
	assert.Equal(t, "first answer", sess.Turns[0].Content)
	assert.Equal(t, "echo: first answer", sess.Turns[1].Content)
}

func TestPipelineErrorsCommitNothing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{name: "timeout", err: pipeline.NewTimeoutError(pipeline.StageRespond, context.DeadlineExceeded), code: "pipeline_timeout"},
		{name: "quota", err: pipeline.NewQuotaExceededError(pipeline.StageRespond, "daily limit"), code: "quota_exceeded"},
		{name: "rejected", err: pipeline.NewUpstreamRejectedError(pipeline.StageRespond, "content policy"), code: "upstream_rejected"},
		{name: "untyped", err: errors.New("connection reset by peer"), code: "upstream_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe := &stubPipeline{
				respond: func(ctx context.Context, conv pipeline.Conversation, plan *pipeline.Plan) (*pipeline.Reply, error) {
					return nil, tt.err
				},
			}
			h := newHarness(t, pipe)
			_, sock, _ := h.connect(t, "S1", sessions.Config{})

			sock.deliver(textFrame("S1", "my answer"))
			data := sock.expect(t, protocol.TypeError)
			assert.Equal(t, tt.code, data["error"])
			assert.NotEmpty(t, data["message"])
			assert.NotEmpty(t, data["details"])
			fallback := data["fallback"].(map[string]any)
			assert.Equal(t, pipeline.ResponseTypeErrorFallback, fallback["response_type"])
			assert.Equal(t, pipeline.StrategyErrorRecovery, fallback["strategy_used"])

			sess, err := h.store.Get("S1")
			require.NoError(t, err)
			assert.Empty(t, sess.Turns)
			assert.Equal(t, 1, h.logs.Len())
		})
	}
}

func TestTranscriptionFailureReportsError(t *testing.T) {
	pipe := &stubPipeline{
		transcribe: func(ctx context.Context, audio []byte, format string) (*pipeline.Transcript, error) {
			return &pipeline.Transcript{Text: "  "}, nil
		},
	}
	h := newHarness(t, pipe)
	_, err := h.router.Start(context.Background(), "S1", sessions.Config{})
	require.NoError(t, err)

	_, err = h.router.Process(context.Background(), "S1", Input{Modality: sessions.ModalityAudio, Audio: []byte("x"), Format: "wav"})
	var pe *pipeline.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, pipeline.KindUpstreamRejected, pe.Kind)
	assert.Equal(t, pipeline.StageTranscribe, pe.Stage)

	sess, _ := h.store.Get("S1")
	assert.Empty(t, sess.Turns)
}

func TestUnknownResponseTypeIsRejected(t *testing.T) {
	pipe := &stubPipeline{
		respond: func(ctx context.Context, conv pipeline.Conversation, plan *pipeline.Plan) (*pipeline.Reply, error) {
			return &pipeline.Reply{Text: "hmm", ResponseType: "monologue"}, nil
		},
	}
	h := newHarness(t, pipe)
	_, err := h.router.Start(context.Background(), "S1", sessions.Config{})
	require.NoError(t, err)

	_, err = h.router.Process(context.Background(), "S1", Input{Modality: sessions.ModalityText, Text: "answer"})
	var pe *pipeline.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, pipeline.KindUpstreamRejected, pe.Kind)
}

func TestProcessUnknownSession(t *testing.T) {
	h := newHarness(t, &stubPipeline{})
	_, err := h.router.Process(context.Background(), "missing", Input{Modality: sessions.ModalityText, Text: "hi"})
	assert.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestConnectPingDisconnect(t *testing.T) {
	h := newHarness(t, &stubPipeline{})
	conn, sock, _ := h.connect(t, "S1", sessions.Config{Style: sessions.StyleCasual, CandidateName: "Ada"})

	sock.deliver(`{"type":"connect","session_id":"S1"}`)
	status := sock.expect(t, protocol.TypeStatus)
	assert.Equal(t, "configured", status["status"])
	cfg := status["config"].(map[string]any)
	assert.Equal(t, "casual", cfg["style"])
	assert.Equal(t, "Ada", cfg["candidate_name"])

	sock.deliver(`{"type":"connect","session_id":"S2"}`)
	data := sock.expect(t, protocol.TypeError)
	assert.Equal(t, ErrorCodeSessionRebind, data["error"])
	assert.Equal(t, "S1", conn.SessionID())

	sock.deliver(textFrame("S2", "wrong session"))
	data = sock.expect(t, protocol.TypeError)
	assert.Equal(t, ErrorCodeSessionRebind, data["error"])

	sock.deliver(`{"type":"ping","session_id":"S1"}`)
	pong := sock.expect(t, protocol.TypePong)
	assert.NotEmpty(t, pong["timestamp"])

	sock.deliver(`{"type":"disconnect","session_id":"S1","data":{"reason":"done"}}`)
	select {
	case <-conn.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connection not closed after disconnect")
	}
	assert.Equal(t, connections.ReasonClientRequested, conn.CloseReason())

	_, err := h.store.Get("S1")
	assert.NoError(t, err, "session outlives its connection")
}

func TestContentBeforeBindIsRejected(t *testing.T) {
	h := newHarness(t, &stubPipeline{})
	sock := newFakeSocket()
	conn, err := h.conns.Register(sock, "127.0.0.1:4000")
	require.NoError(t, err)
	go h.conns.Serve(context.Background(), conn)

	sock.deliver(textFrame("", "hello"))
	data := sock.expect(t, protocol.TypeError)
	assert.Equal(t, ErrorCodeSessionRequired, data["error"])
}

func TestConnectMessageBindsBareConnection(t *testing.T) {
	h := newHarness(t, &stubPipeline{})

	serve := func(query url.Values) (*connections.Connection, *fakeSocket) {
		sock := newFakeSocket()
		conn, err := h.conns.Register(sock, "127.0.0.1:4000")
		require.NoError(t, err)
		conn.Query = query
		go h.conns.Serve(context.Background(), conn)
		return conn, sock
	}

	t.Run("null id mints a session", func(t *testing.T) {
		conn, sock := serve(url.Values{"candidate_name": {"Grace"}})
		sock.deliver(`{"type":"connect","session_id":null,"data":{"interview_style":"campus"}}`)

		data := sock.expect(t, protocol.TypeConnected)
		sid, _ := data["session_id"].(string)
		require.NotEmpty(t, sid)
		assert.Equal(t, false, data["resumed"])
		assert.Equal(t, sid, conn.SessionID())
		assert.Equal(t, connections.StateOpen, conn.State())

		sess, err := h.store.Get(sid)
		require.NoError(t, err)
		assert.Equal(t, sessions.StyleCampus, sess.Config.Style)
		assert.Equal(t, "Grace", sess.Config.CandidateName)

		sock.deliver(textFrame(sid, "hello"))
		reply := sock.expect(t, protocol.TypeAIResponse)
		assert.Equal(t, "echo: hello", reply["ai_response"])
	})

	t.Run("existing id resumes", func(t *testing.T) {
		_, err := h.router.Start(context.Background(), "S9", sessions.Config{Style: sessions.StyleCasual})
		require.NoError(t, err)

		conn, sock := serve(nil)
		sock.deliver(`{"type":"connect","session_id":"S9","data":{"interview_style":"formal"}}`)

		data := sock.expect(t, protocol.TypeConnected)
		assert.Equal(t, "S9", data["session_id"])
		assert.Equal(t, true, data["resumed"])
		assert.Equal(t, "S9", conn.SessionID())

		sess, err := h.store.Get("S9")
		require.NoError(t, err)
		assert.Equal(t, sessions.StyleCasual, sess.Config.Style, "resume keeps the original config")

		sock.deliver(`{"type":"connect","session_id":"S9"}`)
		status := sock.expect(t, protocol.TypeStatus)
		assert.Equal(t, "configured", status["status"])
	})

	t.Run("invalid style keeps the connection unbound", func(t *testing.T) {
		conn, sock := serve(nil)
		sock.deliver(`{"type":"connect","data":{"interview_style":"hostile"}}`)

		data := sock.expect(t, protocol.TypeError)
		assert.Equal(t, ErrorCodeInvalidSessionConfig, data["error"])
		assert.Empty(t, conn.SessionID())

		sock.deliver(`{"type":"connect"}`)
		data = sock.expect(t, protocol.TypeConnected)
		assert.NotEmpty(t, data["session_id"])
	})
}

func TestAbandonedCallHoldsTheLane(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	pipe := &stubPipeline{
		plan: func(ctx context.Context, conv pipeline.Conversation, latest sessions.Turn) (*pipeline.Plan, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(100 * time.Millisecond) // ignores ctx
			return &pipeline.Plan{Strategy: pipeline.StrategyDeepDive}, nil
		},
	}
	h := newHarness(t, pipeline.WithTimeout(pipe, 20*time.Millisecond))
	_, err := h.router.Start(context.Background(), "S1", sessions.Config{})
	require.NoError(t, err)

	const n = 3
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.router.Process(context.Background(), "S1", Input{Modality: sessions.ModalityText, Text: fmt.Sprintf("answer %d", i)})
			var pe *pipeline.Error
			if assert.ErrorAs(t, err, &pe) {
				assert.Equal(t, pipeline.KindTimeout, pe.Kind)
				assert.Equal(t, pipeline.StagePlan, pe.Stage)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	require.Eventually(t, func() bool { return inFlight.Load() == 0 && h.router.Pending("S1") == 0 }, 2*time.Second, 10*time.Millisecond)

	sess, err := h.store.Get("S1")
	require.NoError(t, err)
	assert.Empty(t, sess.Turns, "timed out answers commit nothing")
}

func TestProcessCallerTimeoutReportsQueueStage(t *testing.T) {
	release := make(chan struct{})
	pipe := &stubPipeline{
		plan: func(ctx context.Context, conv pipeline.Conversation, latest sessions.Turn) (*pipeline.Plan, error) {
			<-release
			return &pipeline.Plan{Strategy: pipeline.StrategyDeepDive}, nil
		},
	}
	h := newHarness(t, pipe)
	_, err := h.router.Start(context.Background(), "S1", sessions.Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.router.Process(ctx, "S1", Input{Modality: sessions.ModalityText, Text: "still thinking"})
	var pe *pipeline.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, pipeline.KindTimeout, pe.Kind)
	assert.Equal(t, pipeline.StageQueue, pe.Stage)

	close(release)
	h.waitTurns(t, "S1", 2)
}

func TestMaxQuestionsPolicyEndsInterview(t *testing.T) {
	h := newHarness(t, scripted.New(1, zap.NewNop()), WithCompletionPolicy(DefaultPolicy(2)))
	ctx := context.Background()
	_, err := h.router.Start(ctx, "S1", sessions.Config{})
	require.NoError(t, err)

	res, err := h.router.Process(ctx, "S1", Input{Modality: sessions.ModalityText, Text: longAnswer})
	require.NoError(t, err)
	assert.Equal(t, pipeline.ResponseTypeNextQuestion, res.Reply.ResponseType)
	assert.False(t, res.Completed)

	res, err = h.router.Process(ctx, "S1", Input{Modality: sessions.ModalityText, Text: longAnswer})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, pipeline.ResponseTypeInterviewCompleted, res.Reply.ResponseType)
	assert.Equal(t, pipeline.CompletionMessage, res.Reply.Text)

	sess, _ := h.store.Get("S1")
	assert.True(t, sess.Completed)
	assert.Equal(t, 2, QuestionsAsked(sess.Turns))
}

func TestStartResumesWithoutReopening(t *testing.T) {
	h := newHarness(t, scripted.New(12, zap.NewNop()))
	ctx := context.Background()

	first, err := h.router.Start(ctx, "", sessions.Config{Style: sessions.StyleCampus})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.Session.ID)
	assert.Len(t, first.Session.Turns, 1)
	assert.Equal(t, scripted.DefaultQuestions[0].Text, first.FirstQuestion)

	again, err := h.router.Start(ctx, first.Session.ID, sessions.Config{Style: sessions.StyleFormal})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Empty(t, again.FirstQuestion)
	assert.Equal(t, sessions.StyleCampus, again.Session.Config.Style)
	assert.Len(t, again.Session.Turns, 1)
}

func TestStartRejectsInvalidStyle(t *testing.T) {
	h := newHarness(t, &stubPipeline{})
	_, err := h.router.Start(context.Background(), "", sessions.Config{Style: "interrogation"})
	assert.ErrorIs(t, err, sessions.ErrInvalidConfig)
	assert.Equal(t, ErrorCodeInvalidSessionConfig, ErrorData(err, true).Error)
}

func TestErrorDataHidesDetailsInProduction(t *testing.T) {
	err := pipeline.NewUnavailableError(pipeline.StagePlan, errors.New("dial tcp 10.0.0.7:443: connection refused"))

	dev := ErrorData(err, false)
	assert.Equal(t, "upstream_unavailable", dev.Error)
	assert.True(t, strings.Contains(dev.Details, "10.0.0.7"))

	prod := ErrorData(err, true)
	assert.Empty(t, prod.Details)
	assert.NotContains(t, prod.Message, "10.0.0.7")
	require.NotNil(t, prod.Fallback)

	assert.Equal(t, ErrorCodeInternal, ErrorData(errors.New("boom"), true).Error)
	assert.Empty(t, ErrorData(errors.New("boom"), true).Details)
	assert.Equal(t, ErrorCodeSessionNotFound, ErrorData(sessions.NewNotFoundError("x"), true).Error)
}

func TestAuditRecordsSuccess(t *testing.T) {
	h := newHarness(t, &stubPipeline{})
	_, err := h.router.Start(context.Background(), "S1", sessions.Config{})
	require.NoError(t, err)

	_, err = h.router.Process(context.Background(), "S1", Input{Modality: sessions.ModalityText, Text: "hello there"})
	require.NoError(t, err)

	logs, err := h.logs.GetInteractionsBySession(context.Background(), "S1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, "hello there", logs[0].UserInput)
	assert.Equal(t, "echo: hello there", logs[0].AIResponse)
	assert.Equal(t, pipeline.StrategyDeepDive, logs[0].Strategy)
}
