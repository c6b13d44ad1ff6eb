package router

import (
	"github.com/mockinterview/interviewd/internal/pipeline"
	"github.com/mockinterview/interviewd/internal/sessions"
)

// CompletionPolicy decides whether a reply ends the interview. conv holds the
// committed turns followed by the pending user turn.
type CompletionPolicy interface {
	Completed(conv pipeline.Conversation, reply *pipeline.Reply) bool
}

// ResponseTypePolicy trusts the backend's interview_completed classification.
type ResponseTypePolicy struct{}

func (ResponseTypePolicy) Completed(conv pipeline.Conversation, reply *pipeline.Reply) bool {
	return reply.ResponseType == pipeline.ResponseTypeInterviewCompleted
}

// MaxQuestionsPolicy ends the interview once Max primary questions have been
// asked and answered and the backend wants to move on. Zero disables it.
type MaxQuestionsPolicy struct {
	Max int
}

func (p MaxQuestionsPolicy) Completed(conv pipeline.Conversation, reply *pipeline.Reply) bool {
	if p.Max <= 0 || reply.ResponseType != pipeline.ResponseTypeNextQuestion {
		return false
	}
	return QuestionsAsked(conv.Turns) >= p.Max
}

// AnyPolicy completes when any of its policies does.
type AnyPolicy []CompletionPolicy

func (a AnyPolicy) Completed(conv pipeline.Conversation, reply *pipeline.Reply) bool {
	for _, p := range a {
		if p.Completed(conv, reply) {
			return true
		}
	}
	return false
}

// DefaultPolicy combines the response type check with an optional question cap.
func DefaultPolicy(maxQuestions int) CompletionPolicy {
	if maxQuestions <= 0 {
		return ResponseTypePolicy{}
	}
	return AnyPolicy{ResponseTypePolicy{}, MaxQuestionsPolicy{Max: maxQuestions}}
}

// QuestionsAsked counts assistant turns that opened a new question.
func QuestionsAsked(turns []sessions.Turn) int {
	n := 0
	for _, t := range turns {
		if t.Role != sessions.RoleAssistant {
			continue
		}
		switch t.Meta[MetaResponseType] {
		case pipeline.ResponseTypeQuestion, pipeline.ResponseTypeNextQuestion:
			n++
		}
	}
	return n
}
