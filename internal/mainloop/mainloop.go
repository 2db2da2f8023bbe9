// Package mainloop serializes deferred work onto a single goroutine.
package mainloop

import (
	"context"
	"log/slog"
	"sync"
)

// Queue is an unbounded FIFO of functions executed by Run. Defer never
// blocks, so engine goroutines can hand work back without waiting on the
// loop.
type Queue struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewQueue creates an empty queue. A nil logger falls back to slog.Default.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Defer schedules fn to run on the loop goroutine. Functions deferred after
// Close are dropped.
func (q *Queue) Defer(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("Dropping deferred call on closed main loop")
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting work. Run drains what was queued before Close and
// then returns.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
}

// Run executes queued functions in order until ctx is done or the queue is
// closed and drained. It must be called from one goroutine only.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for q.runOne() {
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		case <-q.done:
			for q.runOne() {
			}
			return nil
		}
	}
}

func (q *Queue) runOne() bool {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return false
	}
	fn := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.mu.Unlock()

	q.call(fn)
	return true
}

func (q *Queue) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Deferred call panicked", "panic", r)
		}
	}()
	fn()
}
