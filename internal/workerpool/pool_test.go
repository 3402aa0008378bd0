package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkphotos/pkg/logger"
)

func countingJob(key string, n int, delay time.Duration, calls *int32) Job {
	return Job{
		Key: key,
		Run: func(ctx context.Context) (int, error) {
			atomic.AddInt32(calls, 1)
			if delay > 0 {
				time.Sleep(delay)
			}
			return n, nil
		},
	}
}

func TestPoolBasicFunctionality(t *testing.T) {
	var calls int32
	pool := New(context.Background(), 3, logger.NewNopLogger())
	pool.Start()

	var results []Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range pool.Results() {
			results = append(results, result)
		}
	}()

	numJobs := 10
	for i := 0; i < numJobs; i++ {
		require.NoError(t, pool.Submit(countingJob(fmt.Sprintf("album%d", i), i, 5*time.Millisecond, &calls)))
	}

	pool.Stop()
	wg.Wait()

	assert.Len(t, results, numJobs)
	assert.Equal(t, int32(numJobs), atomic.LoadInt32(&calls))

	total := 0
	for _, r := range results {
		assert.NoError(t, r.Err)
		total += r.Count
	}
	assert.Equal(t, 45, total)
}

func TestPoolRunsConcurrently(t *testing.T) {
	var running, peak int32
	job := func(key string) Job {
		return Job{Key: key, Run: func(ctx context.Context) (int, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return 1, nil
		}}
	}

	jobs := []Job{job("a"), job("b"), job("c"), job("d")}
	results := Run(context.Background(), 4, jobs, nil)

	require.Len(t, results, 4)
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestRunPreservesOrder(t *testing.T) {
	var calls int32
	jobs := make([]Job, 8)
	for i := range jobs {
		// Earlier jobs sleep longer so they finish last.
		jobs[i] = countingJob(fmt.Sprintf("job%d", i), i, time.Duration(8-i)*3*time.Millisecond, &calls)
	}

	results := Run(context.Background(), 4, jobs, logger.NewNopLogger())

	require.Len(t, results, len(jobs))
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("job%d", i), r.Job.Key)
		assert.Equal(t, i, r.Count)
	}
}

func TestRunReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	jobs := []Job{
		{Key: "ok", Run: func(ctx context.Context) (int, error) { return 2, nil }},
		{Key: "bad", Run: func(ctx context.Context) (int, error) { return 1, boom }},
	}

	results := Run(context.Background(), 2, jobs, nil)

	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.Equal(t, 1, results[1].Count)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	jobs := []Job{
		countingJob("a", 1, 0, &calls),
		countingJob("b", 1, 0, &calls),
	}
	results := Run(ctx, 1, jobs, nil)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestNewClampsWorkers(t *testing.T) {
	pool := New(context.Background(), 0, nil)
	assert.Equal(t, 1, pool.Size())
}
