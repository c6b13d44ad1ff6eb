// Package pipeline defines the transcribe, plan and respond capabilities the
// router drives for every answer, independent of the AI backend behind them.
package pipeline

import (
	"context"

	"github.com/mockinterview/interviewd/internal/sessions"
)

// Response types produced by Respond.
const (
	ResponseTypeQuestion           = "question"
	ResponseTypeFollowUp           = "followup"
	ResponseTypeNextQuestion       = "next_question"
	ResponseTypeInterviewCompleted = "interview_completed"
	ResponseTypeErrorFallback      = "error_fallback"
)

// CompletionMessage is the closing line of a finished interview.
const CompletionMessage = "Thank you for completing the interview! All questions have been covered."

// KnownResponseTypes is the closed set a backend may return.
var KnownResponseTypes = []string{
	ResponseTypeQuestion,
	ResponseTypeFollowUp,
	ResponseTypeNextQuestion,
	ResponseTypeInterviewCompleted,
}

// IsKnownResponseType reports whether t is in KnownResponseTypes.
func IsKnownResponseType(t string) bool {
	for _, known := range KnownResponseTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Interview strategies a planner may choose.
const (
	StrategyDeepDive          = "deep_dive"
	StrategyBehavioralExplore = "behavioral_explore"
	StrategySituationalTest   = "situational_test"
	StrategyCompetencyAssess  = "competency_assess"
	StrategyReflectionGuide   = "reflection_guide"
	StrategyChallengeProbe    = "challenge_probe"
	StrategyFollowThread      = "follow_thread"
	StrategyErrorRecovery     = "error_recovery"
)

// Conversation is the read-only view of a session handed to the backend.
// Turns holds every committed turn in order followed by the pending user turn
// that Plan and Respond are working on.
type Conversation struct {
	SessionID string
	Config    sessions.Config
	Turns     []sessions.Turn
}

// Transcript is the result of speech-to-text.
type Transcript struct {
	Text       string
	Confidence float64
	DurationMs int64
	Language   string
}

// Plan is the planner's decision for the next interviewer move.
type Plan struct {
	Strategy      string
	FocusArea     string
	Reasoning     string
	NeedsFollowUp bool
	Meta          map[string]any
}

// Reply is the interviewer's next utterance. Meta is stored on the assistant
// turn and may be used by the backend to recover its own progress.
type Reply struct {
	Text         string
	ResponseType string
	Confidence   float64
	Meta         map[string]any
}

// Transcriber is the speech-to-text stage on its own.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (*Transcript, error)
}

// Pipeline is the AI capability chain. Transcribe is only invoked for audio
// input and always completes before Plan and Respond for that turn.
type Pipeline interface {
	Transcriber
	Plan(ctx context.Context, conv Conversation, latest sessions.Turn) (*Plan, error)
	Respond(ctx context.Context, conv Conversation, plan *Plan) (*Reply, error)
}

// Opener is implemented by backends that produce the opening question for a
// fresh session.
type Opener interface {
	Open(ctx context.Context, conv Conversation) (*Reply, error)
}

// Checker is implemented by backends that can report their own health.
type Checker interface {
	Check(ctx context.Context) error
}

// withTranscriber routes Transcribe to a separate speech-to-text backend.
type withTranscriber struct {
	Pipeline
	stt Transcriber
}

// WithTranscriber replaces the Transcribe stage of p with stt.
func WithTranscriber(p Pipeline, stt Transcriber) Pipeline {
	return &withTranscriber{Pipeline: p, stt: stt}
}

func (w *withTranscriber) Transcribe(ctx context.Context, audio []byte, format string) (*Transcript, error) {
	return w.stt.Transcribe(ctx, audio, format)
}

func (w *withTranscriber) Open(ctx context.Context, conv Conversation) (*Reply, error) {
	if opener, ok := w.Pipeline.(Opener); ok {
		return opener.Open(ctx, conv)
	}
	return nil, nil
}

func (w *withTranscriber) Check(ctx context.Context) error {
	if checker, ok := w.Pipeline.(Checker); ok {
		if err := checker.Check(ctx); err != nil {
			return err
		}
	}
	if checker, ok := w.stt.(Checker); ok {
		return checker.Check(ctx)
	}
	return nil
}
