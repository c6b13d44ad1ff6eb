// Package router turns decoded client messages into pipeline calls and session
// commits, one session lane at a time.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/audit"
	"github.com/mockinterview/interviewd/internal/connections"
	"github.com/mockinterview/interviewd/internal/pipeline"
	"github.com/mockinterview/interviewd/internal/protocol"
	"github.com/mockinterview/interviewd/internal/sessions"
)

// Turn meta keys written by the router
const (
	MetaResponseType = "response_type"
	MetaStrategy     = "strategy"
	MetaFocusArea    = "focus_area"
	MetaConfidence   = "confidence"
	MetaContext      = "context"
	MetaConnectionID = "connection_id"
	MetaAudioFormat  = "audio_format"
)

// Input is one candidate answer.
type Input struct {
	Modality     sessions.Modality
	Text         string
	Audio        []byte
	Format       string
	Context      string
	ConnectionID string
}

// Result is a committed interaction.
type Result struct {
	SessionID         string
	UserInput         string
	Modality          sessions.Modality
	Plan              pipeline.Plan
	Reply             pipeline.Reply
	Transcript        *pipeline.Transcript
	TranscriptionTime time.Duration
	ProcessingTime    time.Duration
	Completed         bool
}

// AIResponseData renders the result as an ai_response payload.
func (r *Result) AIResponseData() protocol.AIResponseData {
	data := protocol.AIResponseData{
		UserInput:          r.UserInput,
		AIResponse:         r.Reply.Text,
		ResponseType:       r.Reply.ResponseType,
		StrategyUsed:       r.Plan.Strategy,
		FocusArea:          r.Plan.FocusArea,
		Confidence:         r.Reply.Confidence,
		ProcessingTime:     r.ProcessingTime.Seconds(),
		InterviewCompleted: r.Completed,
		Success:            true,
	}
	if r.Transcript != nil {
		data.TranscriptionInfo = &protocol.TranscriptionInfo{
			Confidence:        r.Transcript.Confidence,
			DurationMs:        r.Transcript.DurationMs,
			Language:          r.Transcript.Language,
			TranscriptionTime: r.TranscriptionTime.Seconds(),
		}
	}
	return data
}

// Opening is the outcome of starting or resuming a session.
type Opening struct {
	Session       sessions.Session
	Created       bool
	FirstQuestion string
}

// Router dispatches inbound messages. It implements connections.Handler.
type Router struct {
	store    *sessions.Store
	pipe     pipeline.Pipeline
	conns    *connections.Manager
	policy   CompletionPolicy
	recorder audit.Recorder
	logger   *zap.Logger

	production bool
	now        func() time.Time

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithCompletionPolicy replaces the default ResponseTypePolicy.
func WithCompletionPolicy(p CompletionPolicy) Option {
	return func(r *Router) { r.policy = p }
}

// WithRecorder sets the audit recorder.
func WithRecorder(rec audit.Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithProduction hides internal error details from clients.
func WithProduction(production bool) Option {
	return func(r *Router) { r.production = production }
}

// New creates a router. conns may be nil when only the HTTP path is used.
func New(store *sessions.Store, pipe pipeline.Pipeline, conns *connections.Manager, logger *zap.Logger, opts ...Option) *Router {
	r := &Router{
		store:    store,
		pipe:     pipe,
		conns:    conns,
		policy:   ResponseTypePolicy{},
		recorder: audit.Discard{},
		logger:   logger,
		now:      time.Now,
		lanes:    make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ connections.Handler = (*Router)(nil)

// Handle implements connections.Handler.
func (r *Router) Handle(ctx context.Context, conn *connections.Connection, msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.Connect:
		r.handleConnect(ctx, conn, m)
	case protocol.TextInput:
		r.handleContent(ctx, conn, m.Session(), Input{
			Modality:     sessions.ModalityText,
			Text:         m.Text,
			Context:      m.Context,
			ConnectionID: conn.ID,
		})
	case protocol.AudioInput:
		r.handleContent(ctx, conn, m.Session(), Input{
			Modality:     sessions.ModalityAudio,
			Audio:        m.Audio,
			Format:       m.Format,
			Context:      m.Context,
			ConnectionID: conn.ID,
		})
	case protocol.Ping:
		r.reply(conn, protocol.Pong(conn.SessionID()))
	case protocol.Disconnect:
		r.logger.Debug("client requested disconnect",
			zap.String("connection_id", conn.ID),
			zap.String("reason", m.Reason))
		r.conns.Unregister(conn.ID, connections.ReasonClientRequested)
	default:
		r.reply(conn, protocol.Error(conn.SessionID(), protocol.ErrorData{
			Error:        protocol.ErrorCodeUnknownType,
			Message:      fmt.Sprintf("unhandled message type: %s", msg.Kind()),
			ReceivedType: string(msg.Kind()),
		}))
	}
}

// Attach performs the WebSocket handshake: it resolves the session, binds and
// opens the connection and sends the connected envelope.
func (r *Router) Attach(ctx context.Context, conn *connections.Connection, sessionID string, cfg sessions.Config) (*Opening, error) {
	opening, err := r.Start(ctx, sessionID, cfg)
	if err != nil {
		return nil, err
	}
	sid := opening.Session.ID
	if err := r.conns.Bind(conn.ID, sid); err != nil {
		return nil, err
	}
	if err := r.conns.Open(conn.ID); err != nil {
		return nil, err
	}

	r.reply(conn, protocol.Connected(sid, protocol.ConnectedData{
		ConnectionID:  conn.ID,
		Resumed:       !opening.Created,
		Completed:     opening.Session.Completed,
		FirstQuestion: opening.FirstQuestion,
	}))

	r.logger.Info("connection attached",
		zap.String("connection_id", conn.ID),
		zap.String("session_id", sid),
		zap.Bool("resumed", !opening.Created))
	return opening, nil
}

// Start creates or resumes a session. A new session gets its opening question
// from the backend, committed as the first assistant turn.
func (r *Router) Start(ctx context.Context, sessionID string, cfg sessions.Config) (*Opening, error) {
	sess, created, err := r.store.GetOrCreate(sessionID, cfg)
	if err != nil {
		return nil, err
	}
	opening := &Opening{Session: sess, Created: created}
	if !created {
		return opening, nil
	}

	opener, ok := r.pipe.(pipeline.Opener)
	if !ok {
		return opening, nil
	}

	err = r.do(ctx, sess.ID, func(jctx context.Context) {
		current, err := r.store.Get(sess.ID)
		if err != nil || len(current.Turns) > 0 {
			return
		}
		reply, err := opener.Open(jctx, pipeline.Conversation{SessionID: sess.ID, Config: sess.Config, Turns: current.Turns})
		if err != nil {
			r.logger.Warn("failed to open interview",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			return
		}
		if reply == nil || strings.TrimSpace(reply.Text) == "" {
			return
		}
		turn := sessions.Turn{
			Role:          sessions.RoleAssistant,
			Content:       reply.Text,
			InputModality: sessions.ModalityText,
			Meta:          replyMeta(reply, nil),
		}
		if err := r.store.AppendTurns(sess.ID, turn); err != nil {
			r.logger.Warn("failed to commit opening question",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			return
		}
		opening.FirstQuestion = reply.Text
	})
	if err != nil {
		return nil, err
	}

	if snap, err := r.store.Get(sess.ID); err == nil {
		opening.Session = snap
	}
	return opening, nil
}

// Process runs one answer through the session's lane and waits for the
// result. If ctx ends first the answer is still processed and committed.
func (r *Router) Process(ctx context.Context, sessionID string, in Input) (*Result, error) {
	var (
		res  *Result
		perr error
	)
	err := r.do(ctx, sessionID, func(jctx context.Context) {
		res, perr = r.process(jctx, sessionID, in, nil)
	})
	if err != nil {
		return nil, pipeline.NewTimeoutError(pipeline.StageQueue, err)
	}
	return res, perr
}

func (r *Router) handleConnect(ctx context.Context, conn *connections.Connection, m protocol.Connect) {
	bound := conn.SessionID()
	if bound == "" {
		// first connect on a bare /ws socket is the handshake
		cfg := sessions.Config{Style: sessions.Style(m.Style), CandidateName: m.CandidateName}
		if cfg.Style == "" {
			cfg.Style = sessions.Style(conn.Query.Get("style"))
		}
		if cfg.CandidateName == "" {
			cfg.CandidateName = conn.Query.Get("candidate_name")
		}
		if _, err := r.Attach(ctx, conn, m.Session(), cfg); err != nil {
			r.logger.Warn("connect handshake failed",
				zap.String("connection_id", conn.ID),
				zap.String("session_id", m.Session()),
				zap.Error(err))
			r.replyError(conn, m.Session(), err)
		}
		return
	}
	if m.Session() != "" && m.Session() != bound {
		r.replyError(conn, bound, connections.ErrAlreadyBound)
		return
	}

	sess, err := r.store.Get(bound)
	if err != nil {
		r.replyError(conn, bound, err)
		return
	}
	r.reply(conn, protocol.Status(bound, map[string]any{
		"status":     "configured",
		"session_id": bound,
		"config":     sess.Config,
		"completed":  sess.Completed,
		"turn_count": len(sess.Turns),
	}))
}

func (r *Router) handleContent(ctx context.Context, conn *connections.Connection, claimed string, in Input) {
	sid := conn.SessionID()
	switch {
	case sid == "":
		r.replyError(conn, "", ErrSessionRequired)
		return
	case claimed != "" && claimed != sid:
		r.replyError(conn, sid, connections.ErrAlreadyBound)
		return
	}

	connID := conn.ID
	r.submit(ctx, sid, func(jctx context.Context) {
		onTranscript := func(t *pipeline.Transcript) {
			r.deliver(connID, sid, protocol.Transcription(sid, protocol.TranscriptionData{
				Text:       t.Text,
				Confidence: t.Confidence,
				DurationMs: t.DurationMs,
				Language:   t.Language,
			}))
		}
		res, err := r.process(jctx, sid, in, onTranscript)
		if err != nil {
			r.conns.CountError()
			r.deliver(connID, sid, protocol.Error(sid, ErrorData(err, r.production)))
			return
		}
		r.deliver(connID, sid, protocol.AIResponse(sid, res.AIResponseData()))
	})
}

// process is the per-answer algorithm. It must only run inside the session's
// lane.
func (r *Router) process(ctx context.Context, sessionID string, in Input, onTranscript func(*pipeline.Transcript)) (*Result, error) {
	started := r.now()
	res := &Result{SessionID: sessionID, Modality: in.Modality}

	sess, err := r.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed {
		return nil, sessions.NewCompletedError(sessionID)
	}

	text := in.Text
	if in.Modality == sessions.ModalityAudio {
		t0 := r.now()
		transcript, err := r.pipe.Transcribe(ctx, in.Audio, in.Format)
		if err == nil && (transcript == nil || strings.TrimSpace(transcript.Text) == "") {
			err = pipeline.NewUpstreamRejectedError(pipeline.StageTranscribe, "no speech detected")
		}
		if err != nil {
			return nil, r.failed(ctx, sessionID, in, "", pipeline.Classify(pipeline.StageTranscribe, err), started)
		}
		res.Transcript = transcript
		res.TranscriptionTime = r.now().Sub(t0)
		text = transcript.Text
		if onTranscript != nil {
			onTranscript(transcript)
		}
	}
	res.UserInput = text

	user := sessions.Turn{
		Role:          sessions.RoleUser,
		Content:       text,
		ProducedAt:    r.now(),
		InputModality: in.Modality,
		Meta:          userMeta(in),
	}
	conv := pipeline.Conversation{
		SessionID: sessionID,
		Config:    sess.Config,
		Turns:     append(sess.Turns, user),
	}

	plan, err := r.pipe.Plan(ctx, conv, user)
	if err == nil && plan == nil {
		err = pipeline.NewUpstreamRejectedError(pipeline.StagePlan, "empty plan")
	}
	if err != nil {
		return nil, r.failed(ctx, sessionID, in, text, pipeline.Classify(pipeline.StagePlan, err), started)
	}

	reply, err := r.pipe.Respond(ctx, conv, plan)
	if err == nil {
		err = validateReply(reply)
	}
	if err != nil {
		return nil, r.failed(ctx, sessionID, in, text, pipeline.Classify(pipeline.StageRespond, err), started)
	}

	completed := r.policy.Completed(conv, reply)
	if completed && reply.ResponseType != pipeline.ResponseTypeInterviewCompleted {
		reply = &pipeline.Reply{
			Text:         pipeline.CompletionMessage,
			ResponseType: pipeline.ResponseTypeInterviewCompleted,
			Confidence:   1.0,
			Meta:         reply.Meta,
		}
	}

	assistant := sessions.Turn{
		Role:          sessions.RoleAssistant,
		Content:       reply.Text,
		InputModality: sessions.ModalityText,
		Meta:          replyMeta(reply, plan),
	}
	if err := r.store.Commit(sessionID, completed, user, assistant); err != nil {
		return nil, err
	}

	res.Plan = *plan
	res.Reply = *reply
	res.Completed = completed
	res.ProcessingTime = r.now().Sub(started)

	r.logger.Info("interaction committed",
		zap.String("session_id", sessionID),
		zap.String("modality", string(in.Modality)),
		zap.String("response_type", reply.ResponseType),
		zap.String("strategy", plan.Strategy),
		zap.Bool("completed", completed),
		zap.Duration("processing_time", res.ProcessingTime))

	r.record(ctx, &audit.InteractionLog{
		SessionID:     sessionID,
		ConnectionID:  in.ConnectionID,
		InputModality: string(in.Modality),
		UserInput:     text,
		AIResponse:    reply.Text,
		ResponseType:  reply.ResponseType,
		Strategy:      plan.Strategy,
		ProcessingMs:  res.ProcessingTime.Milliseconds(),
		Success:       true,
	})
	return res, nil
}

// failed logs and audits a pipeline error. Nothing is committed.
func (r *Router) failed(ctx context.Context, sessionID string, in Input, userText string, perr *pipeline.Error, started time.Time) error {
	r.logger.Warn("pipeline call failed",
		zap.String("session_id", sessionID),
		zap.String("stage", perr.Stage),
		zap.String("kind", perr.Kind.String()),
		zap.Error(perr))

	r.record(ctx, &audit.InteractionLog{
		SessionID:     sessionID,
		ConnectionID:  in.ConnectionID,
		InputModality: string(in.Modality),
		UserInput:     userText,
		ResponseType:  pipeline.ResponseTypeErrorFallback,
		Strategy:      pipeline.StrategyErrorRecovery,
		ProcessingMs:  r.now().Sub(started).Milliseconds(),
		Success:       false,
		ErrorCode:     perr.Kind.Code(),
	})
	return perr
}

func (r *Router) record(ctx context.Context, log *audit.InteractionLog) {
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.recorder.Record(rctx, log); err != nil {
		r.logger.Warn("failed to record interaction",
			zap.String("session_id", log.SessionID),
			zap.Error(err))
	}
}

// deliver sends to the originating connection, or to any live connection of
// the session once the originator is gone.
func (r *Router) deliver(connID, sessionID string, env protocol.Envelope) {
	err := r.conns.Send(connID, env)
	if err == nil {
		return
	}
	if !errors.Is(err, connections.ErrConnectionNotFound) && !errors.Is(err, connections.ErrConnectionClosed) {
		r.logger.Warn("failed to deliver envelope",
			zap.String("connection_id", connID),
			zap.String("session_id", sessionID),
			zap.String("type", string(env.Type)),
			zap.Error(err))
		return
	}
	if n := r.conns.SendToSession(sessionID, env); n == 0 {
		r.logger.Debug("no live connection for session, result kept in session",
			zap.String("session_id", sessionID),
			zap.String("type", string(env.Type)))
	}
}

func (r *Router) reply(conn *connections.Connection, env protocol.Envelope) {
	if err := r.conns.Send(conn.ID, env); err != nil {
		r.logger.Debug("failed to reply",
			zap.String("connection_id", conn.ID),
			zap.String("type", string(env.Type)),
			zap.Error(err))
	}
}

func (r *Router) replyError(conn *connections.Connection, sessionID string, err error) {
	r.conns.CountError()
	r.reply(conn, protocol.Error(sessionID, ErrorData(err, r.production)))
}

func validateReply(reply *pipeline.Reply) error {
	switch {
	case reply == nil:
		return pipeline.NewUpstreamRejectedError(pipeline.StageRespond, "empty reply")
	case strings.TrimSpace(reply.Text) == "":
		return pipeline.NewUpstreamRejectedError(pipeline.StageRespond, "reply text is empty")
	case !pipeline.IsKnownResponseType(reply.ResponseType):
		return pipeline.NewUpstreamRejectedError(pipeline.StageRespond, fmt.Sprintf("unknown response type %q", reply.ResponseType))
	}
	return nil
}

func userMeta(in Input) map[string]any {
	meta := map[string]any{}
	if in.Context != "" {
		meta[MetaContext] = in.Context
	}
	if in.ConnectionID != "" {
		meta[MetaConnectionID] = in.ConnectionID
	}
	if in.Modality == sessions.ModalityAudio {
		meta[MetaAudioFormat] = in.Format
	}
	return meta
}

func replyMeta(reply *pipeline.Reply, plan *pipeline.Plan) map[string]any {
	meta := make(map[string]any, len(reply.Meta)+4)
	for k, v := range reply.Meta {
		meta[k] = v
	}
	meta[MetaResponseType] = reply.ResponseType
	meta[MetaConfidence] = reply.Confidence
	if plan != nil {
		meta[MetaStrategy] = plan.Strategy
		if plan.FocusArea != "" {
			meta[MetaFocusArea] = plan.FocusArea
		}
	}
	return meta
}
