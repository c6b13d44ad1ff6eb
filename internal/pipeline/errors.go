package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. Every kind is retryable by the caller.
type Kind int

const (
	KindUnavailable Kind = iota
	KindTimeout
	KindQuotaExceeded
	KindUpstreamRejected
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindUpstreamRejected:
		return "upstream_rejected"
	default:
		return "unavailable"
	}
}

// Code is the stable machine-readable code reported to clients.
func (k Kind) Code() string {
	switch k {
	case KindTimeout:
		return "pipeline_timeout"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindUpstreamRejected:
		return "upstream_rejected"
	default:
		return "upstream_unavailable"
	}
}

// Message is the user-facing description of the kind.
func (k Kind) Message() string {
	switch k {
	case KindTimeout:
		return "The interviewer took too long to respond. Please try again."
	case KindQuotaExceeded:
		return "The interviewer is busy right now. Please try again shortly."
	case KindUpstreamRejected:
		return "The interviewer could not process that answer. Please rephrase and try again."
	default:
		return "The interviewer is temporarily unavailable. Please try again."
	}
}

// Error is the typed failure every backend returns.
type Error struct {
	Kind   Kind
	Stage  string // transcribe, plan, respond, open or queue
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("pipeline error [%s]", e.Kind)
	if e.Stage != "" {
		msg += " during " + e.Stage
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Pipeline stages
const (
	StageTranscribe = "transcribe"
	StagePlan       = "plan"
	StageRespond    = "respond"
	StageOpen       = "open"
	// StageQueue is reported when the caller stops waiting on the session
	// lane, whichever stage the answer had reached.
	StageQueue = "queue"
)

func NewTimeoutError(stage string, cause error) *Error {
	return &Error{Kind: KindTimeout, Stage: stage, Reason: "deadline exceeded", Cause: cause}
}

func NewQuotaExceededError(stage, reason string) *Error {
	return &Error{Kind: KindQuotaExceeded, Stage: stage, Reason: reason}
}

func NewUpstreamRejectedError(stage, reason string) *Error {
	return &Error{Kind: KindUpstreamRejected, Stage: stage, Reason: reason}
}

func NewUnavailableError(stage string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Stage: stage, Reason: "upstream unavailable", Cause: cause}
}

// Classify converts any error into a *Error. Context deadlines become
// KindTimeout; anything unrecognised becomes KindUnavailable.
func Classify(stage string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Stage == "" {
			cp := *pe
			cp.Stage = stage
			return &cp
		}
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(stage, err)
	}
	return NewUnavailableError(stage, err)
}

// Fallback is the defined degraded reply reported alongside a pipeline error.
// It is never committed as a turn.
func Fallback() Reply {
	return Reply{
		Text:         "I apologize, but I encountered an issue processing your input. Could you please try again?",
		ResponseType: ResponseTypeErrorFallback,
		Confidence:   0.1,
		Meta:         map[string]any{"strategy": StrategyErrorRecovery},
	}
}
