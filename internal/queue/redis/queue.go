// Package redis implements a job queue on a Redis list so API servers and
// standalone workers can share work.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/docsort/internal/docsort"
)

const defaultPollTimeout = time.Second

// Client is the subset of go-redis used by the queue.
type Client interface {
	LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd
	LLen(ctx context.Context, key string) *goredis.IntCmd
}

// Queue pushes jobs with LPUSH and pops them with BRPOP, giving FIFO order.
type Queue struct {
	client      Client
	key         string
	pollTimeout time.Duration
	closed      atomic.Bool
}

// New builds a Queue on key. pollTimeout bounds each BRPOP so Dequeue notices
// cancellation and Close.
func New(client Client, key string, pollTimeout time.Duration) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		return nil, errors.New("queue key is required")
	}
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &Queue{client: client, key: key, pollTimeout: pollTimeout}, nil
}

// Enqueue serializes job and pushes it onto the list.
func (q *Queue) Enqueue(ctx context.Context, job docsort.Job) error {
	if q.closed.Load() {
		return docsort.ErrQueueClosed
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

// Dequeue blocks until a job is available, ctx ends, or the queue closes.
func (q *Queue) Dequeue(ctx context.Context) (docsort.Job, error) {
	for {
		if q.closed.Load() {
			return docsort.Job{}, docsort.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return docsort.Job{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		vals, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return docsort.Job{}, fmt.Errorf("dequeue canceled: %w", ctxErr)
			}
			return docsort.Job{}, fmt.Errorf("brpop %s: %w", q.key, err)
		}
		// BRPOP replies with [key, value].
		if len(vals) != 2 {
			return docsort.Job{}, fmt.Errorf("brpop %s: unexpected reply of %d elements", q.key, len(vals))
		}
		var job docsort.Job
		if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
			return docsort.Job{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

// Len reports the number of queued jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return n, nil
}

// Close stops the queue; the Redis client is owned by the caller.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}
