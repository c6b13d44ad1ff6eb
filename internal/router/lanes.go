package router

import (
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/pipeline"
)

type job func(ctx context.Context)

// lane is the FIFO of pending work for one session. At most one goroutine
// drains it, so a session never has two pipeline calls in flight.
type lane struct {
	queue   []queued
	running bool
}

type queued struct {
	ctx context.Context
	run job
}

// submit admits fn to the session's lane. Admission order is execution order.
// fn runs on a context detached from ctx's cancellation.
func (r *Router) submit(ctx context.Context, sessionID string, fn job) {
	r.mu.Lock()
	l := r.lanes[sessionID]
	if l == nil {
		l = &lane{}
		r.lanes[sessionID] = l
	}
	l.queue = append(l.queue, queued{ctx: context.WithoutCancel(ctx), run: fn})
	start := !l.running
	if start {
		l.running = true
		r.wg.Add(1)
	}
	r.mu.Unlock()

	if start {
		go r.drain(sessionID, l)
	}
}

func (r *Router) drain(sessionID string, l *lane) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			delete(r.lanes, sessionID)
			r.mu.Unlock()
			return
		}
		next := l.queue[0]
		l.queue[0] = queued{}
		l.queue = l.queue[1:]
		r.mu.Unlock()

		r.runJob(sessionID, next)
	}
}

// runJob runs one job and then holds the lane until every backend call the
// job started has returned, so a call abandoned at its deadline never
// overlaps the next job.
func (r *Router) runJob(sessionID string, q queued) {
	var calls sync.WaitGroup
	defer calls.Wait()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in session lane",
				zap.String("session_id", sessionID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	q.run(pipeline.TrackCalls(q.ctx, &calls))
}

// do runs fn in the session's lane and waits for it. If ctx ends first the
// work still runs to completion.
func (r *Router) do(ctx context.Context, sessionID string, fn job) error {
	done := make(chan struct{})
	r.submit(ctx, sessionID, func(jctx context.Context) {
		defer close(done)
		fn(jctx)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued jobs for a session, excluding the one
// running.
func (r *Router) Pending(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l := r.lanes[sessionID]; l != nil {
		return len(l.queue)
	}
	return 0
}

// Wait blocks until every lane is drained or ctx ends.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
