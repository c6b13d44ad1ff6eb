// Package scripted is a deterministic interviewer that walks a fixed question
// list with at most one follow-up per question. Its progress is recovered from
// assistant turn metadata, so it holds no per-session state of its own.
package scripted

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/pipeline"
	"github.com/mockinterview/interviewd/internal/sessions"
)

// Turn meta keys written on assistant turns.
const (
	MetaQuestionIndex = "question_index"
	MetaFollowUpCount = "followup_count"
	MetaCategory      = "category"
)

const maxFollowUps = 1

// Interviewer implements pipeline.Pipeline and pipeline.Opener.
type Interviewer struct {
	questions      []Question
	minAnswerWords int
	stt            pipeline.Transcriber
	logger         *zap.Logger
}

// Option configures an Interviewer.
type Option func(*Interviewer)

// WithQuestions replaces DefaultQuestions.
func WithQuestions(qs []Question) Option {
	return func(i *Interviewer) { i.questions = qs }
}

// WithTranscriber delegates speech-to-text to stt.
func WithTranscriber(stt pipeline.Transcriber) Option {
	return func(i *Interviewer) { i.stt = stt }
}

// New creates a scripted interviewer. Answers shorter than minAnswerWords get
// a follow-up question.
func New(minAnswerWords int, logger *zap.Logger, opts ...Option) *Interviewer {
	i := &Interviewer{
		questions:      DefaultQuestions,
		minAnswerWords: minAnswerWords,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

var _ pipeline.Pipeline = (*Interviewer)(nil)
var _ pipeline.Opener = (*Interviewer)(nil)

// Transcribe uses the configured speech-to-text backend, if any.
func (i *Interviewer) Transcribe(ctx context.Context, audio []byte, format string) (*pipeline.Transcript, error) {
	if i.stt == nil {
		return nil, pipeline.NewUnavailableError(pipeline.StageTranscribe, fmt.Errorf("no speech recognizer configured"))
	}
	return i.stt.Transcribe(ctx, audio, format)
}

// Open returns the first question.
func (i *Interviewer) Open(ctx context.Context, conv pipeline.Conversation) (*pipeline.Reply, error) {
	q := i.questions[0]
	return &pipeline.Reply{
		Text:         q.Text,
		ResponseType: pipeline.ResponseTypeQuestion,
		Confidence:   1.0,
		Meta:         i.meta(0, 0),
	}, nil
}

// Plan scores the latest answer against the current question.
func (i *Interviewer) Plan(ctx context.Context, conv pipeline.Conversation, latest sessions.Turn) (*pipeline.Plan, error) {
	idx, followUps := progress(conv.Turns)
	if idx >= len(i.questions) {
		return nil, pipeline.NewUpstreamRejectedError(pipeline.StagePlan, "all questions have already been asked")
	}

	words := len(strings.Fields(latest.Content))
	focus := focusArea(latest.Content)
	q := i.questions[idx]

	strategy := categoryStrategy[q.Category]
	if strategy == "" {
		strategy = pipeline.StrategyFollowThread
	}
	needsFollowUp := words < i.minAnswerWords
	if needsFollowUp {
		strategy = pipeline.StrategyFollowThread
	}

	i.logger.Debug("planned next move",
		zap.String("session_id", conv.SessionID),
		zap.Int("question_index", idx),
		zap.Int("answer_words", words),
		zap.Bool("needs_followup", needsFollowUp))

	return &pipeline.Plan{
		Strategy:      strategy,
		FocusArea:     focus,
		Reasoning:     fmt.Sprintf("answer to %s has %d words", q.Category, words),
		NeedsFollowUp: needsFollowUp,
		Meta: map[string]any{
			MetaQuestionIndex: idx,
			MetaFollowUpCount: followUps,
			"answer_words":    words,
		},
	}, nil
}

// Respond asks a follow-up, moves to the next question or completes.
func (i *Interviewer) Respond(ctx context.Context, conv pipeline.Conversation, plan *pipeline.Plan) (*pipeline.Reply, error) {
	idx, followUps := progress(conv.Turns)

	if idx < len(i.questions) && followUps < maxFollowUps && plan.NeedsFollowUp {
		templates := followUpTemplates[plan.FocusArea]
		if len(templates) == 0 {
			templates = followUpTemplates["general"]
		}
		text := templates[len(conv.Turns)%len(templates)]
		return &pipeline.Reply{
			Text:         styled(text, conv.Config.Style),
			ResponseType: pipeline.ResponseTypeFollowUp,
			Confidence:   0.7,
			Meta:         i.meta(idx, followUps+1),
		}, nil
	}

	next := idx + 1
	if next < len(i.questions) {
		return &pipeline.Reply{
			Text:         i.questions[next].Text,
			ResponseType: pipeline.ResponseTypeNextQuestion,
			Confidence:   0.9,
			Meta:         i.meta(next, 0),
		}, nil
	}

	return &pipeline.Reply{
		Text:         CompletionMessage,
		ResponseType: pipeline.ResponseTypeInterviewCompleted,
		Confidence:   1.0,
		Meta:         map[string]any{MetaQuestionIndex: len(i.questions), MetaFollowUpCount: 0, MetaCategory: "completion"},
	}, nil
}

// Check reports the speech recognizer health when one is configured.
func (i *Interviewer) Check(ctx context.Context) error {
	if checker, ok := i.stt.(pipeline.Checker); ok {
		return checker.Check(ctx)
	}
	return nil
}

func (i *Interviewer) meta(idx, followUps int) map[string]any {
	return map[string]any{
		MetaQuestionIndex: idx,
		MetaFollowUpCount: followUps,
		MetaCategory:      i.questions[idx].Category,
	}
}

// progress reads the question index and follow-up count from the most recent
// assistant turn. Without one, the candidate is answering the first question.
func progress(turns []sessions.Turn) (int, int) {
	for j := len(turns) - 1; j >= 0; j-- {
		t := turns[j]
		if t.Role != sessions.RoleAssistant {
			continue
		}
		idx, ok := intMeta(t.Meta, MetaQuestionIndex)
		if !ok {
			continue
		}
		followUps, _ := intMeta(t.Meta, MetaFollowUpCount)
		return idx, followUps
	}
	return 0, 0
}

func intMeta(meta map[string]any, key string) (int, bool) {
	switch v := meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

var focusKeywords = []struct {
	area     string
	keywords []string
}{
	{"leadership", []string{"led", "lead", "manage", "mentor"}},
	{"teamwork", []string{"team", "colleague", "collaborat"}},
	{"problem_solving", []string{"problem", "challenge", "conflict", "issue", "bug"}},
	{"results_impact", []string{"result", "impact", "increase", "reduce", "%"}},
}

func focusArea(answer string) string {
	lower := strings.ToLower(answer)
	for _, fk := range focusKeywords {
		for _, kw := range fk.keywords {
			if strings.Contains(lower, kw) {
				return fk.area
			}
		}
	}
	if len(strings.Fields(answer)) < 5 {
		return "specific_details"
	}
	return "general"
}

// styled adjusts a follow-up question to the interviewer persona.
func styled(question string, style sessions.Style) string {
	q := strings.TrimSpace(question)
	if q == "" {
		q = "Can you tell me more about that experience?"
	}
	if !strings.HasSuffix(q, "?") {
		q += "?"
	}
	switch style {
	case sessions.StyleCasual:
		if strings.HasPrefix(q, "What") || strings.HasPrefix(q, "How") {
			q = "So, " + lowerFirst(q)
		}
	case sessions.StyleCampus:
		q = "That's interesting! " + q
	}
	return q
}

func lowerFirst(s string) string {
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
