package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsort/internal/docsort"
)

// fakeList emulates a Redis list with LPUSH/BRPOP semantics.
type fakeList struct {
	mu       sync.Mutex
	items    []string
	pushErr  error
	timeouts int
}

func (f *fakeList) LPush(_ context.Context, _ string, values ...any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return goredis.NewIntResult(0, f.pushErr)
	}
	for _, v := range values {
		f.items = append([]string{string(v.([]byte))}, f.items...)
	}
	return goredis.NewIntResult(int64(len(f.items)), nil)
}

func (f *fakeList) BRPop(ctx context.Context, _ time.Duration, keys ...string) *goredis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return goredis.NewStringSliceResult(nil, err)
	}
	if len(f.items) == 0 {
		f.timeouts++
		return goredis.NewStringSliceResult(nil, goredis.Nil)
	}
	last := f.items[len(f.items)-1]
	f.items = f.items[:len(f.items)-1]
	return goredis.NewStringSliceResult([]string{keys[0], last}, nil)
}

func (f *fakeList) LLen(context.Context, string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return goredis.NewIntResult(int64(len(f.items)), nil)
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	list := &fakeList{}
	q, err := New(list, "docsort:jobs", 10*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, docsort.Job{ID: "a", ProjectID: 1, Operation: docsort.OperationProcessProject}))
	require.NoError(t, q.Enqueue(ctx, docsort.Job{
		ID:        "b",
		ProjectID: 2,
		Operation: docsort.OperationReclassify,
		Params:    docsort.Params{Prompt: "move it", RegeneratePDF: true},
	}))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", first.ID)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", second.ID)
	require.True(t, second.Params.RegeneratePDF)
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	list := &fakeList{}
	q, err := New(list, "docsort:jobs", time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Positive(t, list.timeouts)
}

func TestQueueEnqueueErrors(t *testing.T) {
	t.Parallel()

	list := &fakeList{pushErr: errors.New("READONLY")}
	q, err := New(list, "docsort:jobs", 0)
	require.NoError(t, err)

	require.ErrorContains(t, q.Enqueue(context.Background(), docsort.Job{ID: "a"}), "READONLY")

	require.NoError(t, q.Close())
	require.ErrorIs(t, q.Enqueue(context.Background(), docsort.Job{ID: "a"}), docsort.ErrQueueClosed)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, docsort.ErrQueueClosed)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "k", 0)
	require.Error(t, err)
	_, err = New(&fakeList{}, "", 0)
	require.Error(t, err)
}
