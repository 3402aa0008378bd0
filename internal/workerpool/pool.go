package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vkphotos/pkg/logger"
)

// Job is a single unit of synchronization work, usually one album.
type Job struct {
	// Key identifies the job in logs and results.
	Key string
	// Run performs the work and returns how many records it handled.
	Run func(ctx context.Context) (int, error)

	seq int
}

// Result represents the outcome of a job
type Result struct {
	Job      Job
	Count    int
	Err      error
	Duration time.Duration
}

// Pool runs jobs on a fixed number of workers
type Pool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      logger.Logger
}

// New creates a pool whose workers stop early when ctx is cancelled.
func New(ctx context.Context, numWorkers int, log logger.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2), // Buffer size = 2x workers
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.OrNop(log),
	}
}

// Start initializes and starts all workers
func (p *Pool) Start() {
	p.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop waits for queued jobs to finish and closes the result channel.
// Results must be drained concurrently or Stop blocks.
func (p *Pool) Stop() {
	close(p.jobQueue)
	p.wg.Wait()
	close(p.resultQueue)
	p.cancel()

	p.logger.Debug("Worker pool stopped")
}

// Submit adds a job to the queue
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", p.ctx.Err())
	}
}

// Results returns the result channel
func (p *Pool) Results() <-chan Result {
	return p.resultQueue
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.numWorkers
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		var result Result
		if err := p.ctx.Err(); err != nil {
			// Drain remaining jobs so every submission gets a result.
			result = Result{Job: job, Err: err}
		} else {
			result = p.process(job, id)
		}
		p.resultQueue <- result
	}
}

func (p *Pool) process(job Job, workerID int) Result {
	start := time.Now()
	count, err := job.Run(p.ctx)
	result := Result{Job: job, Count: count, Err: err, Duration: time.Since(start)}

	fields := map[string]interface{}{
		"worker_id": workerID,
		"job":       job.Key,
		"count":     count,
		"duration":  result.Duration,
	}
	if err != nil {
		p.logger.WithError(err).ErrorWithFields("Job failed", fields)
	} else {
		p.logger.DebugWithFields("Job completed", fields)
	}
	return result
}

// Run executes jobs on numWorkers workers and returns their results in
// submission order. Jobs that could not be submitted because ctx ended carry
// the context error.
func Run(ctx context.Context, numWorkers int, jobs []Job, log logger.Logger) []Result {
	pool := New(ctx, numWorkers, log)
	pool.Start()

	results := make([]Result, len(jobs))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range pool.Results() {
			results[r.Job.seq] = r
		}
	}()

	for i, job := range jobs {
		job.seq = i
		if err := pool.Submit(job); err != nil {
			for j := i; j < len(jobs); j++ {
				results[j] = Result{Job: jobs[j], Err: err}
			}
			break
		}
	}
	pool.Stop()
	<-done

	return results
}
