package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mockinterview/interviewd/internal/sessions"
)

// timeoutPipeline bounds every call with its own deadline and normalises the
// returned errors to *Error.
type timeoutPipeline struct {
	next    Pipeline
	timeout time.Duration
}

// WithTimeout wraps p so that each stage runs with deadline d. A backend that
// ignores its context is abandoned once the deadline passes. The wrapper keeps
// the Opener and Checker capabilities of p.
func WithTimeout(p Pipeline, d time.Duration) Pipeline {
	return &timeoutPipeline{next: p, timeout: d}
}

type callsKey struct{}

// TrackCalls returns a context under which every backend call made through
// WithTimeout is counted in wg until the backend returns, including calls
// abandoned at their deadline.
func TrackCalls(ctx context.Context, wg *sync.WaitGroup) context.Context {
	return context.WithValue(ctx, callsKey{}, wg)
}

type result[T any] struct {
	val T
	err error
}

func bounded[T any](ctx context.Context, d time.Duration, stage string, fn func(context.Context) (T, error)) (T, error) {
	var cancel context.CancelFunc
	if d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	wg, _ := ctx.Value(callsKey{}).(*sync.WaitGroup)
	if wg != nil {
		wg.Add(1)
	}

	done := make(chan result[T], 1)
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		val, err := fn(ctx)
		done <- result[T]{val: val, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			return zero, classifyWithin(ctx, stage, r.err)
		}
		return r.val, nil
	case <-ctx.Done():
		return zero, classifyWithin(ctx, stage, ctx.Err())
	}
}

func classifyWithin(ctx context.Context, stage string, err error) *Error {
	var pe *Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.As(err, &pe) {
		return NewTimeoutError(stage, err)
	}
	return Classify(stage, err)
}

func (t *timeoutPipeline) Transcribe(ctx context.Context, audio []byte, format string) (*Transcript, error) {
	return bounded(ctx, t.timeout, StageTranscribe, func(ctx context.Context) (*Transcript, error) {
		return t.next.Transcribe(ctx, audio, format)
	})
}

func (t *timeoutPipeline) Plan(ctx context.Context, conv Conversation, latest sessions.Turn) (*Plan, error) {
	return bounded(ctx, t.timeout, StagePlan, func(ctx context.Context) (*Plan, error) {
		return t.next.Plan(ctx, conv, latest)
	})
}

func (t *timeoutPipeline) Respond(ctx context.Context, conv Conversation, plan *Plan) (*Reply, error) {
	return bounded(ctx, t.timeout, StageRespond, func(ctx context.Context) (*Reply, error) {
		return t.next.Respond(ctx, conv, plan)
	})
}

// Open delegates to the wrapped backend. It returns a nil reply when the
// backend has no opening question.
func (t *timeoutPipeline) Open(ctx context.Context, conv Conversation) (*Reply, error) {
	opener, ok := t.next.(Opener)
	if !ok {
		return nil, nil
	}
	return bounded(ctx, t.timeout, StageOpen, func(ctx context.Context) (*Reply, error) {
		return opener.Open(ctx, conv)
	})
}

// Check delegates to the wrapped backend when it is a Checker.
func (t *timeoutPipeline) Check(ctx context.Context) error {
	if checker, ok := t.next.(Checker); ok {
		return checker.Check(ctx)
	}
	return nil
}
