package scripted

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/pipeline"
	"github.com/mockinterview/interviewd/internal/sessions"
)

const longAnswer = "In my last role I owned the billing migration end to end, coordinating four engineers and two product managers over six months."

type conversation struct {
	t     *testing.T
	iv    *Interviewer
	conv  pipeline.Conversation
	style sessions.Style
}

func newConversation(t *testing.T, style sessions.Style) *conversation {
	iv := New(12, zap.NewNop())
	c := &conversation{t: t, iv: iv, style: style}
	c.conv = pipeline.Conversation{SessionID: "S1", Config: sessions.Config{Style: style, CandidateName: "Ada"}}

	opening, err := iv.Open(context.Background(), c.conv)
	require.NoError(t, err)
	c.conv.Turns = append(c.conv.Turns, sessions.Turn{Role: sessions.RoleAssistant, Content: opening.Text, Meta: opening.Meta, InputModality: sessions.ModalityText})
	return c
}

func (c *conversation) answer(text string) *pipeline.Reply {
	user := sessions.Turn{Role: sessions.RoleUser, Content: text, InputModality: sessions.ModalityText}
	c.conv.Turns = append(c.conv.Turns, user)

	plan, err := c.iv.Plan(context.Background(), c.conv, user)
	require.NoError(c.t, err)
	reply, err := c.iv.Respond(context.Background(), c.conv, plan)
	require.NoError(c.t, err)

	c.conv.Turns = append(c.conv.Turns, sessions.Turn{Role: sessions.RoleAssistant, Content: reply.Text, Meta: reply.Meta, InputModality: sessions.ModalityText})
	return reply
}

func TestOpenAsksFirstQuestion(t *testing.T) {
	iv := New(12, zap.NewNop())
	reply, err := iv.Open(context.Background(), pipeline.Conversation{})
	require.NoError(t, err)
	assert.Equal(t, DefaultQuestions[0].Text, reply.Text)
	assert.Equal(t, pipeline.ResponseTypeQuestion, reply.ResponseType)
	assert.Equal(t, 0, reply.Meta[MetaQuestionIndex])
}

func TestFullInterviewWithFollowUps(t *testing.T) {
	c := newConversation(t, sessions.StyleFormal)

	// short answer triggers one follow-up
	reply := c.answer("I led a team of five.")
	assert.Equal(t, pipeline.ResponseTypeFollowUp, reply.ResponseType)
	assert.True(t, strings.HasSuffix(reply.Text, "?"))

	// a second short answer moves on: at most one follow-up per question
	reply = c.answer("It went fine.")
	assert.Equal(t, pipeline.ResponseTypeNextQuestion, reply.ResponseType)
	assert.Equal(t, DefaultQuestions[1].Text, reply.Text)
	assert.Equal(t, 0.9, reply.Confidence)

	reply = c.answer(longAnswer)
	assert.Equal(t, pipeline.ResponseTypeNextQuestion, reply.ResponseType)
	assert.Equal(t, DefaultQuestions[2].Text, reply.Text)

	reply = c.answer(longAnswer)
	assert.Equal(t, DefaultQuestions[3].Text, reply.Text)

	reply = c.answer(longAnswer)
	assert.Equal(t, pipeline.ResponseTypeInterviewCompleted, reply.ResponseType)
	assert.Equal(t, CompletionMessage, reply.Text)

	// nothing left to plan
	user := sessions.Turn{Role: sessions.RoleUser, Content: longAnswer}
	_, err := c.iv.Plan(context.Background(), c.conv, user)
	var pe *pipeline.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, pipeline.KindUpstreamRejected, pe.Kind)
}

func TestPlanWithoutOpeningTurn(t *testing.T) {
	iv := New(12, zap.NewNop())
	user := sessions.Turn{Role: sessions.RoleUser, Content: longAnswer}
	conv := pipeline.Conversation{SessionID: "S1", Turns: []sessions.Turn{user}}

	plan, err := iv.Plan(context.Background(), conv, user)
	require.NoError(t, err)
	assert.False(t, plan.NeedsFollowUp)
	assert.Equal(t, "competency_assess", plan.Strategy)

	reply, err := iv.Respond(context.Background(), conv, plan)
	require.NoError(t, err)
	assert.Equal(t, DefaultQuestions[1].Text, reply.Text)
}

func TestProgressAcceptsJSONNumbers(t *testing.T) {
	turns := []sessions.Turn{
		{Role: sessions.RoleAssistant, Meta: map[string]any{MetaQuestionIndex: float64(2), MetaFollowUpCount: float64(1)}},
		{Role: sessions.RoleUser, Content: "answer"},
	}
	idx, followUps := progress(turns)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 1, followUps)
}

func TestFocusArea(t *testing.T) {
	assert.Equal(t, "leadership", focusArea("I led the migration"))
	assert.Equal(t, "teamwork", focusArea("my team shipped it together on time for the launch"))
	assert.Equal(t, "problem_solving", focusArea("there was a conflict with QA about priorities and scope"))
	assert.Equal(t, "specific_details", focusArea("it was good"))
	assert.Equal(t, "general", focusArea("I enjoy building products that people use every single day"))
}

func TestStyled(t *testing.T) {
	assert.Equal(t, "So, how did you do it?", styled("How did you do it?", sessions.StyleCasual))
	assert.Equal(t, "Can you elaborate?", styled("Can you elaborate", sessions.StyleCasual))
	assert.Equal(t, "That's interesting! What happened next?", styled("What happened next?", sessions.StyleCampus))
	assert.Equal(t, "What happened next?", styled("What happened next?", sessions.StyleFormal))
}

type fakeSTT struct{}

func (fakeSTT) Transcribe(ctx context.Context, audio []byte, format string) (*pipeline.Transcript, error) {
	return &pipeline.Transcript{Text: "spoken answer", Confidence: 0.95}, nil
}

func TestTranscribe(t *testing.T) {
	_, err := New(12, zap.NewNop()).Transcribe(context.Background(), []byte("x"), "wav")
	var pe *pipeline.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, pipeline.KindUnavailable, pe.Kind)

	tr, err := New(12, zap.NewNop(), WithTranscriber(fakeSTT{})).Transcribe(context.Background(), []byte("x"), "wav")
	require.NoError(t, err)
	assert.Equal(t, "spoken answer", tr.Text)
}
