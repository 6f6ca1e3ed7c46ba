// Package sched runs the attempt's periodic and background tasks as one
// cancelable group.
//
// Detection loops, timers, and event pumps all register here so that ending
// the attempt, whether by completion or termination, cancels everything
// in one step and waits for it to stop. Tick handlers run synchronously in
// their loop goroutine: if a handler is still running when the next tick
// arrives, that tick is dropped, never queued.
package sched

import (
	"context"
	"sync"
	"time"
)

// Scheduler owns a group of cancelable tasks.
type Scheduler struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a scheduler whose tasks are children of parent.
func New(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// Context returns the group context.
func (s *Scheduler) Context() context.Context {
	return s.ctx
}

// Go runs fn as a tracked task. fn must return when its context is done.
func (s *Scheduler) Go(name string, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Every runs fn on the given cadence until the group is stopped. fn runs
// synchronously; a slow call causes later ticks to be skipped rather than
// queued, so there is never a backlog.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
				// A tick that landed while fn ran sits buffered in the
				// ticker channel. Drop it, or a slow handler would be
				// followed by an immediate re-run.
				select {
				case <-ticker.C:
				default:
				}
			}
		}
	})
}

// After runs fn once after d unless the group stops first.
func (s *Scheduler) After(name string, d time.Duration, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
		case <-timer.C:
			fn(ctx)
		}
	})
}

// Stop cancels every task and waits for all of them to return. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
