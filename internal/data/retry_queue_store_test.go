package data

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/biz"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Data) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, &Data{rdb: rdb}
}

func testJob(id string, priority int, processAfter time.Time) *biz.RetryJob {
	return &biz.RetryJob{
		ID:           id,
		WorkItemID:   "r-" + id,
		OrderID:      "o-" + id,
		Priority:     priority,
		MaxAttempts:  3,
		CreatedAt:    time.Now(),
		ProcessAfter: processAfter,
	}
}

func TestRetryQueueStore_PriorityThenFIFO(t *testing.T) {
	_, d := newTestRedis(t)
	s := newRetryQueueStore(d, "test:retry", log.DefaultLogger)
	ctx := context.Background()
	now := time.Now()

	for _, j := range []*biz.RetryJob{
		testJob("a", 0, now),
		testJob("b", 5, now),
		testJob("c", 0, now),
		testJob("d", 5, now),
		testJob("e", -3, now),
	} {
		require.NoError(t, s.Push(ctx, j))
	}

	var got []string
	for {
		job, err := s.PopReady(ctx, now)
		require.NoError(t, err)
		if job == nil {
			break
		}
		got = append(got, job.ID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c", "e"}, got)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRetryQueueStore_DelayedJobsBecomeReady(t *testing.T) {
	_, d := newTestRedis(t)
	s := newRetryQueueStore(d, "test:retry", log.DefaultLogger)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Push(ctx, testJob("later", 10, now.Add(time.Minute))))
	require.NoError(t, s.Push(ctx, testJob("now", 0, now)))

	job, err := s.PopReady(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "now", job.ID)

	job, err = s.PopReady(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, job, "delayed job must not be visible before process_after")

	job, err = s.PopReady(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "later", job.ID)
	assert.Equal(t, 10, job.Priority)
	assert.Equal(t, "r-later", job.WorkItemID)
	assert.Equal(t, now.Add(time.Minute).UnixMilli(), job.ProcessAfter.UnixMilli())
}

func TestRetryQueueStore_GetRemoveAndRepush(t *testing.T) {
	_, d := newTestRedis(t)
	s := newRetryQueueStore(d, "test:retry", log.DefaultLogger)
	ctx := context.Background()
	now := time.Now()

	job := testJob("x", 1, now)
	require.NoError(t, s.Push(ctx, job))

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "o-x", got.OrderID)

	// 重复 push 覆盖而不是生成两份
	job.Attempts = 2
	job.LastError = "boom"
	require.NoError(t, s.Push(ctx, job))
	n, _ := s.Len(ctx)
	assert.Equal(t, int64(1), n)
	got, _ = s.Get(ctx, "x")
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "boom", got.LastError)

	removed, err := s.Remove(ctx, "x")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Remove(ctx, "x")
	require.NoError(t, err)
	assert.False(t, removed)

	got, err = s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, got)
	job2, err := s.PopReady(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, job2)
}

func TestRetryQueueStore_KeysShareHashSlot(t *testing.T) {
	mr, d := newTestRedis(t)
	s := newRetryQueueStore(d, "test:retry", log.DefaultLogger)
	require.NoError(t, s.Push(context.Background(), testJob("k", 0, time.Now().Add(time.Hour))))

	assert.True(t, mr.Exists("{test:retry}:jobs"))
	assert.True(t, mr.Exists("{test:retry}:delayed"))
	assert.False(t, mr.Exists("{test:retry}:ready"))
}

func TestRetryQueueStore_Unavailable(t *testing.T) {
	mr, d := newTestRedis(t)
	s := newRetryQueueStore(d, "test:retry", log.DefaultLogger)
	mr.Close()

	_, err := s.PopReady(context.Background(), time.Now())
	assert.Error(t, err)
	assert.Error(t, s.Push(context.Background(), testJob("z", 0, time.Now())))
}

func TestRetryQueueStore_ClampedPriority(t *testing.T) {
	_, d := newTestRedis(t)
	s := newRetryQueueStore(d, "test:retry", log.DefaultLogger)
	ctx := context.Background()

	assert.Equal(t, 1000, clampPriority(5000))
	assert.Equal(t, -1000, clampPriority(-5000))

	require.NoError(t, s.Push(ctx, testJob("big", 5000, time.Now())))
	require.NoError(t, s.Push(ctx, testJob("max", 1000, time.Now())))
	job, err := s.PopReady(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "big", job.ID, "clamped priorities tie and keep insertion order")
	assert.Equal(t, 5000, job.Priority)
}

func TestRetryQueueStore_ConcurrentPopReturnsEachJobOnce(t *testing.T) {
	_, d := newTestRedis(t)
	s := newRetryQueueStore(d, "test:retry", log.DefaultLogger)
	ctx := context.Background()
	now := time.Now()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		require.NoError(t, s.Push(ctx, testJob(fmt.Sprintf("j%02d", i), i%4, now)))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for {
				job, err := s.PopReady(gctx, now)
				if err != nil {
					return err
				}
				if job == nil {
					return nil
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s popped more than once", id)
	}
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
