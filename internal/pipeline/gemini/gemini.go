// Package gemini provides a pipeline backend on Google's Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/mockinterview/interviewd/internal/pipeline"
	"github.com/mockinterview/interviewd/internal/sessions"
)

// generator is the subset of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config configures the Gemini backend.
type Config struct {
	APIKey     string
	Model      string
	Language   string
	MaxRetries int
}

// Backend implements pipeline.Pipeline with Gemini.
type Backend struct {
	models     generator
	model      string
	language   string
	maxRetries int
	logger     *zap.Logger
}

var _ pipeline.Pipeline = (*Backend)(nil)

// New creates a Gemini backend.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newBackend(client.Models, cfg, logger), nil
}

func newBackend(models generator, cfg Config, logger *zap.Logger) *Backend {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Backend{
		models:     models,
		model:      cfg.Model,
		language:   cfg.Language,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

var mimeTypes = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mp3",
	"m4a":  "audio/mp4",
	"webm": "audio/webm",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"aac":  "audio/aac",
}

const transcribePrompt = "Transcribe this interview answer verbatim. Reply with the spoken words only. If there is no speech, reply with an empty string."

// Transcribe sends the audio inline and returns the transcript.
func (b *Backend) Transcribe(ctx context.Context, audio []byte, format string) (*pipeline.Transcript, error) {
	mime, ok := mimeTypes[format]
	if !ok {
		return nil, pipeline.NewUpstreamRejectedError(pipeline.StageTranscribe, fmt.Sprintf("format %q not supported by gemini", format))
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribePrompt),
			genai.NewPartFromBytes(audio, mime),
		}, genai.RoleUser),
	}

	text, err := b.generate(ctx, pipeline.StageTranscribe, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, pipeline.NewUpstreamRejectedError(pipeline.StageTranscribe, "no speech detected")
	}

	return &pipeline.Transcript{
		Text:       text,
		Confidence: 0.9,
		Language:   b.language,
	}, nil
}

type planJSON struct {
	Strategy      string `json:"strategy"`
	FocusArea     string `json:"focus_area"`
	Reasoning     string `json:"reasoning"`
	NeedsFollowUp bool   `json:"needs_followup"`
}

// Plan asks the model to assess the latest answer.
func (b *Backend) Plan(ctx context.Context, conv pipeline.Conversation, latest sessions.Turn) (*pipeline.Plan, error) {
	prompt := fmt.Sprintf(`You are planning the next move of a %s job interview with %s.
Conversation so far:
%s
Assess the candidate's latest answer: %q
Reply with JSON {"strategy": one of [%s], "focus_area": string, "reasoning": string, "needs_followup": bool}.`,
		conv.Config.Style, conv.Config.CandidateName, transcript(conv.Turns), latest.Content, strings.Join(strategies, ", "))

	text, err := b.generate(ctx, pipeline.StagePlan, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	})
	if err != nil {
		return nil, err
	}

	var out planJSON
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, pipeline.NewUpstreamRejectedError(pipeline.StagePlan, "model returned malformed plan")
	}
	return &pipeline.Plan{
		Strategy:      out.Strategy,
		FocusArea:     out.FocusArea,
		Reasoning:     out.Reasoning,
		NeedsFollowUp: out.NeedsFollowUp,
	}, nil
}

type replyJSON struct {
	Text         string  `json:"text"`
	ResponseType string  `json:"response_type"`
	Confidence   float64 `json:"confidence"`
}

// Respond asks the model for the interviewer's next utterance.
func (b *Backend) Respond(ctx context.Context, conv pipeline.Conversation, plan *pipeline.Plan) (*pipeline.Reply, error) {
	if plan == nil {
		plan = &pipeline.Plan{}
	}
	prompt := fmt.Sprintf(`You are the interviewer in a %s job interview with %s.
Conversation so far:
%s
Plan: strategy=%s focus=%s needs_followup=%t.
Ask exactly one question. When the interview has covered enough ground, close it politely and use response_type "interview_completed".
Reply with JSON {"text": string, "response_type": one of ["followup", "next_question", "interview_completed"], "confidence": number between 0 and 1}.`,
		conv.Config.Style, conv.Config.CandidateName, transcript(conv.Turns), plan.Strategy, plan.FocusArea, plan.NeedsFollowUp)

	text, err := b.generate(ctx, pipeline.StageRespond, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.7),
	})
	if err != nil {
		return nil, err
	}

	var out replyJSON
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, pipeline.NewUpstreamRejectedError(pipeline.StageRespond, "model returned malformed reply")
	}
	if strings.TrimSpace(out.Text) == "" || !pipeline.IsKnownResponseType(out.ResponseType) {
		return nil, pipeline.NewUpstreamRejectedError(pipeline.StageRespond, fmt.Sprintf("model returned unusable reply (type %q)", out.ResponseType))
	}
	return &pipeline.Reply{
		Text:         out.Text,
		ResponseType: out.ResponseType,
		Confidence:   out.Confidence,
		Meta:         map[string]any{"model": b.model},
	}, nil
}

// Check issues a minimal generation request.
func (b *Backend) Check(ctx context.Context) error {
	_, err := b.models.GenerateContent(ctx, b.model, genai.Text("ping"), nil)
	return err
}

func (b *Backend) generate(ctx context.Context, stage string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	var lastErr *pipeline.Error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		resp, err := b.models.GenerateContent(ctx, b.model, contents, cfg)
		if err == nil {
			return resp.Text(), nil
		}
		lastErr = classify(stage, err)
		if lastErr.Kind != pipeline.KindUnavailable || ctx.Err() != nil {
			break
		}
		b.logger.Warn("gemini call failed, retrying",
			zap.String("stage", stage),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", lastErr
}

// classify maps Gemini API errors onto pipeline error kinds.
func classify(stage string, err error) *pipeline.Error {
	code := 0
	message := ""
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, message = apiErr.Code, apiErr.Message
	case errors.As(err, &apiErrPtr):
		code, message = apiErrPtr.Code, apiErrPtr.Message
	default:
		return pipeline.Classify(stage, err)
	}

	var pe *pipeline.Error
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		pe = pipeline.NewTimeoutError(stage, err)
	case code == http.StatusTooManyRequests:
		pe = pipeline.NewQuotaExceededError(stage, message)
	case code >= 400 && code < 500:
		pe = pipeline.NewUpstreamRejectedError(stage, message)
	default:
		pe = pipeline.NewUnavailableError(stage, err)
	}
	pe.Cause = err
	return pe
}

var strategies = []string{
	pipeline.StrategyDeepDive,
	pipeline.StrategyBehavioralExplore,
	pipeline.StrategySituationalTest,
	pipeline.StrategyCompetencyAssess,
	pipeline.StrategyReflectionGuide,
	pipeline.StrategyChallengeProbe,
	pipeline.StrategyFollowThread,
}

func transcript(turns []sessions.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		speaker := "Candidate"
		if t.Role == sessions.RoleAssistant {
			speaker = "Interviewer"
		} else if t.Role == sessions.RoleSystem {
			speaker = "System"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, t.Content)
	}
	return sb.String()
}
