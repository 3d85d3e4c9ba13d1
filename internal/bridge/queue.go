package bridge

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("bridge: task queue closed")

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Queue runs tasks one at a time in arrival order on a single worker.
// A task must not call Do on its own queue.
type Queue struct {
	tasks   chan task
	stopped chan struct{}
	closing chan struct{}
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	q := &Queue{
		tasks:   make(chan task, size),
		stopped: make(chan struct{}),
		closing: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.stopped)
	for t := range q.tasks {
		err := t.fn(t.ctx)
		if t.done != nil {
			t.done <- err
		}
	}
}

// Do enqueues fn and waits for it to finish.
func (q *Queue) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	// Close signals closing before it takes the write lock, so a blocked
	// send gives up the read lock instead of stalling Close.
	select {
	case q.tasks <- t:
		q.mu.RUnlock()
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	case <-q.closing:
		q.mu.RUnlock()
		return ErrQueueClosed
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post enqueues fn without waiting. It reports false when the queue is
// full or closed and the task was dropped. The task runs detached from
// ctx cancellation.
func (q *Queue) Post(ctx context.Context, fn func(context.Context)) bool {
	t := task{
		ctx: context.WithoutCancel(ctx),
		fn: func(ctx context.Context) error {
			fn(ctx)
			return nil
		},
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- t:
		return true
	default:
		return false
	}
}

// Close stops accepting tasks, runs what is queued and waits for the worker.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.closing) })
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	<-q.stopped
}
