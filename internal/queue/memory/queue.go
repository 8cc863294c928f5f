// Package memory provides an in-process job queue for single-binary runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/docsort/internal/docsort"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch        chan docsort.Job
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan docsort.Job, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a job, blocking while the buffer is full until ctx ends or
// the queue closes.
func (q *Queue) Enqueue(ctx context.Context, job docsort.Job) error {
	select {
	case <-q.done:
		return docsort.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return docsort.ErrQueueClosed
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job. Buffered jobs are still handed out after Close;
// once drained, Dequeue returns docsort.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (docsort.Job, error) {
	select {
	case job := <-q.ch:
		return job, nil
	default:
	}
	select {
	case <-ctx.Done():
		return docsort.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job := <-q.ch:
		return job, nil
	case <-q.done:
		select {
		case job := <-q.ch:
			return job, nil
		default:
			return docsort.Job{}, docsort.ErrQueueClosed
		}
	}
}

// Len returns the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting jobs. It is safe to call more than once.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
