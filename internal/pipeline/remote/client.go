// Package remote provides a pipeline backend that calls an external AI
// service over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/pipeline"
	"github.com/mockinterview/interviewd/internal/sessions"
)

// Client is an HTTP client for the AI service API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new AI service client. The per-call deadline comes from
// the caller's context; the transport timeout is only a backstop.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger,
	}
}

var _ pipeline.Pipeline = (*Client)(nil)

// TurnPayload is the wire form of a session turn.
type TurnPayload struct {
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	ProducedAt    time.Time      `json:"produced_at"`
	InputModality string         `json:"input_modality"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// ConversationPayload is the wire form of a pipeline.Conversation.
type ConversationPayload struct {
	SessionID     string        `json:"session_id"`
	Style         string        `json:"interview_style"`
	CandidateName string        `json:"candidate_name"`
	Turns         []TurnPayload `json:"turns"`
}

// PlanRequest is the body of POST /v1/plan.
type PlanRequest struct {
	Conversation ConversationPayload `json:"conversation"`
	Latest       TurnPayload         `json:"latest_user_turn"`
}

// PlanResponse is the body returned by POST /v1/plan.
type PlanResponse struct {
	Strategy      string         `json:"strategy"`
	FocusArea     string         `json:"focus_area"`
	Reasoning     string         `json:"reasoning"`
	NeedsFollowUp bool           `json:"needs_followup"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// RespondRequest is the body of POST /v1/respond.
type RespondRequest struct {
	Conversation ConversationPayload `json:"conversation"`
	Plan         PlanResponse        `json:"plan"`
}

// ReplyResponse is the body returned by POST /v1/respond and POST /v1/open.
type ReplyResponse struct {
	Text         string         `json:"text"`
	ResponseType string         `json:"response_type"`
	Confidence   float64        `json:"confidence"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// TranscribeResponse is the body returned by POST /v1/transcribe.
type TranscribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	DurationMs int64   `json:"duration_ms"`
	Language   string  `json:"language"`
}

// ErrorResponse represents an error response from the AI service.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Transcribe calls POST /v1/transcribe with a multipart audio upload.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format string) (*pipeline.Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("format", format); err != nil {
		return nil, fmt.Errorf("failed to write format field: %w", err)
	}
	part, err := mw.CreateFormFile("file", "answer."+format)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	var out TranscribeResponse
	if err := c.do(ctx, pipeline.StageTranscribe, "/v1/transcribe", mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, pipeline.NewUpstreamRejectedError(pipeline.StageTranscribe, "no speech detected")
	}

	return &pipeline.Transcript{
		Text:       out.Text,
		Confidence: out.Confidence,
		DurationMs: out.DurationMs,
		Language:   out.Language,
	}, nil
}

// Plan calls POST /v1/plan.
func (c *Client) Plan(ctx context.Context, conv pipeline.Conversation, latest sessions.Turn) (*pipeline.Plan, error) {
	req := PlanRequest{Conversation: conversationPayload(conv), Latest: turnPayload(latest)}

	var out PlanResponse
	if err := c.postJSON(ctx, pipeline.StagePlan, "/v1/plan", req, &out); err != nil {
		return nil, err
	}

	return &pipeline.Plan{
		Strategy:      out.Strategy,
		FocusArea:     out.FocusArea,
		Reasoning:     out.Reasoning,
		NeedsFollowUp: out.NeedsFollowUp,
		Meta:          out.Meta,
	}, nil
}

// Respond calls POST /v1/respond.
func (c *Client) Respond(ctx context.Context, conv pipeline.Conversation, plan *pipeline.Plan) (*pipeline.Reply, error) {
	req := RespondRequest{Conversation: conversationPayload(conv)}
	if plan != nil {
		req.Plan = PlanResponse{
			Strategy:      plan.Strategy,
			FocusArea:     plan.FocusArea,
			Reasoning:     plan.Reasoning,
			NeedsFollowUp: plan.NeedsFollowUp,
			Meta:          plan.Meta,
		}
	}

	var out ReplyResponse
	if err := c.postJSON(ctx, pipeline.StageRespond, "/v1/respond", req, &out); err != nil {
		return nil, err
	}
	return replyFrom(pipeline.StageRespond, out)
}

// Open calls POST /v1/open. A 404 means the service has no opening question.
func (c *Client) Open(ctx context.Context, conv pipeline.Conversation) (*pipeline.Reply, error) {
	var out ReplyResponse
	err := c.postJSON(ctx, pipeline.StageOpen, "/v1/open", struct {
		Conversation ConversationPayload `json:"conversation"`
	}{conversationPayload(conv)}, &out)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return replyFrom(pipeline.StageOpen, out)
}

// Check calls GET /health.
func (c *Client) Check(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("AI service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("AI service health returned status %d", resp.StatusCode)
	}
	return nil
}

func replyFrom(stage string, out ReplyResponse) (*pipeline.Reply, error) {
	if strings.TrimSpace(out.Text) == "" {
		return nil, pipeline.NewUpstreamRejectedError(stage, "empty reply text")
	}
	if !pipeline.IsKnownResponseType(out.ResponseType) {
		return nil, pipeline.NewUpstreamRejectedError(stage, fmt.Sprintf("unknown response type %q", out.ResponseType))
	}
	return &pipeline.Reply{
		Text:         out.Text,
		ResponseType: out.ResponseType,
		Confidence:   out.Confidence,
		Meta:         out.Meta,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, stage, path string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", stage, err)
	}
	return c.do(ctx, stage, path, "application/json", bytes.NewReader(body), out)
}

func (c *Client) do(ctx context.Context, stage, path, contentType string, body io.Reader, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return pipeline.NewTimeoutError(stage, err)
		}
		return pipeline.NewUnavailableError(stage, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("AI service call",
		zap.String("stage", stage),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return classifyStatus(stage, resp.StatusCode, respBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pipeline.NewUpstreamRejectedError(stage, fmt.Sprintf("failed to decode %s response: %v", stage, err))
	}
	return nil
}

// statusError carries the upstream HTTP status.
type statusError struct {
	code   int
	detail string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("AI service returned status %d: %s", e.code, e.detail)
}

func classifyStatus(stage string, code int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Message != "" {
			detail = errResp.Message
		} else if errResp.Error != "" {
			detail = errResp.Error
		}
	}
	cause := &statusError{code: code, detail: detail}

	var pe *pipeline.Error
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		pe = pipeline.NewTimeoutError(stage, cause)
	case code == http.StatusTooManyRequests:
		pe = pipeline.NewQuotaExceededError(stage, detail)
	case code >= 400 && code < 500:
		pe = pipeline.NewUpstreamRejectedError(stage, detail)
	default:
		pe = pipeline.NewUnavailableError(stage, cause)
	}
	pe.Cause = cause
	return pe
}

func conversationPayload(conv pipeline.Conversation) ConversationPayload {
	turns := make([]TurnPayload, 0, len(conv.Turns))
	for _, t := range conv.Turns {
		turns = append(turns, turnPayload(t))
	}
	return ConversationPayload{
		SessionID:     conv.SessionID,
		Style:         string(conv.Config.Style),
		CandidateName: conv.Config.CandidateName,
		Turns:         turns,
	}
}

func turnPayload(t sessions.Turn) TurnPayload {
	return TurnPayload{
		Role:          string(t.Role),
		Content:       t.Content,
		ProducedAt:    t.ProducedAt,
		InputModality: string(t.InputModality),
		Meta:          t.Meta,
	}
}
