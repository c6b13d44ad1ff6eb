package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockinterview/interviewd/internal/sessions"
)

type stubPipeline struct {
	transcribeDelay time.Duration
	planErr         error
	respondErr      error
}

func (s *stubPipeline) Transcribe(ctx context.Context, audio []byte, format string) (*Transcript, error) {
	select {
	case <-time.After(s.transcribeDelay):
		return &Transcript{Text: "hello", Confidence: 0.8}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stubPipeline) Plan(ctx context.Context, conv Conversation, latest sessions.Turn) (*Plan, error) {
	if s.planErr != nil {
		return nil, s.planErr
	}
	return &Plan{Strategy: StrategyDeepDive}, nil
}

func (s *stubPipeline) Respond(ctx context.Context, conv Conversation, plan *Plan) (*Reply, error) {
	if s.respondErr != nil {
		return nil, s.respondErr
	}
	return &Reply{Text: "Why?", ResponseType: ResponseTypeFollowUp}, nil
}

// stuckPipeline ignores its context entirely.
type stuckPipeline struct {
	stubPipeline
	release chan struct{}
}

func (s *stuckPipeline) Respond(ctx context.Context, conv Conversation, plan *Plan) (*Reply, error) {
	<-s.release
	return &Reply{Text: "late"}, nil
}

func TestWithTimeoutPassesResults(t *testing.T) {
	p := WithTimeout(&stubPipeline{}, time.Second)

	tr, err := p.Transcribe(context.Background(), []byte("x"), "wav")
	require.NoError(t, err)
	assert.Equal(t, "hello", tr.Text)

	reply, err := p.Respond(context.Background(), Conversation{}, &Plan{})
	require.NoError(t, err)
	assert.Equal(t, ResponseTypeFollowUp, reply.ResponseType)
}

func TestWithTimeoutBecomesTimeoutError(t *testing.T) {
	p := WithTimeout(&stubPipeline{transcribeDelay: time.Second}, 20*time.Millisecond)

	_, err := p.Transcribe(context.Background(), []byte("x"), "wav")
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindTimeout, pe.Kind)
	assert.Equal(t, StageTranscribe, pe.Stage)
	assert.Equal(t, "pipeline_timeout", pe.Kind.Code())
}

func TestWithTimeoutAbandonsStuckBackend(t *testing.T) {
	stuck := &stuckPipeline{release: make(chan struct{})}
	defer close(stuck.release)
	p := WithTimeout(stuck, 20*time.Millisecond)

	start := time.Now()
	_, err := p.Respond(context.Background(), Conversation{}, &Plan{})
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindTimeout, pe.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTrackCallsWaitsForAbandonedBackend(t *testing.T) {
	stuck := &stuckPipeline{release: make(chan struct{})}
	p := WithTimeout(stuck, 20*time.Millisecond)

	var wg sync.WaitGroup
	_, err := p.Respond(TrackCalls(context.Background(), &wg), Conversation{}, &Plan{})
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindTimeout, pe.Kind)

	returned := make(chan struct{})
	go func() {
		wg.Wait()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("wait group released while the backend was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(stuck.release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("wait group not released after the backend returned")
	}
}

func TestWithTimeoutKeepsTypedErrors(t *testing.T) {
	p := WithTimeout(&stubPipeline{planErr: NewQuotaExceededError("", "rate limited")}, time.Second)

	_, err := p.Plan(context.Background(), Conversation{}, sessions.Turn{})
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindQuotaExceeded, pe.Kind)
	assert.Equal(t, StagePlan, pe.Stage)
}

func TestWithTimeoutNoOpener(t *testing.T) {
	p := WithTimeout(&stubPipeline{}, time.Second)
	opener, ok := p.(Opener)
	require.True(t, ok)

	reply, err := opener.Open(context.Background(), Conversation{})
	assert.NoError(t, err)
	assert.Nil(t, reply)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), kind: KindTimeout},
		{name: "unknown", err: errors.New("connection refused"), kind: KindUnavailable},
		{name: "canceled", err: context.Canceled, kind: KindUnavailable},
		{name: "typed", err: fmt.Errorf("wrapped: %w", NewUpstreamRejectedError(StageRespond, "content policy")), kind: KindUpstreamRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify(StageRespond, tt.err)
			require.NotNil(t, pe)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, StageRespond, pe.Stage)
		})
	}

	assert.Nil(t, Classify(StagePlan, nil))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := NewUnavailableError(StagePlan, errors.New("dial tcp: refused"))
	assert.Contains(t, err.Error(), "unavailable")
	assert.Contains(t, err.Error(), "dial tcp: refused")
	assert.True(t, errors.Is(err, err.Cause))
}

func TestFallback(t *testing.T) {
	fb := Fallback()
	assert.Equal(t, ResponseTypeErrorFallback, fb.ResponseType)
	assert.Equal(t, 0.1, fb.Confidence)
	assert.Equal(t, StrategyErrorRecovery, fb.Meta["strategy"])
	assert.False(t, IsKnownResponseType(fb.ResponseType))
	assert.True(t, IsKnownResponseType(ResponseTypeInterviewCompleted))
}
