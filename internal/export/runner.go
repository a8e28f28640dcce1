package export

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/geo-beacon/report-exporter/internal/metrics"
)

// Job is one unit of pipeline work: a dispatcher run, a scheduler pass,
// or the upload of one partition.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner is a fixed-size worker pool behind a bounded job channel.
// Submission is fire-and-forget: when the channel is full the job is
// dropped and counted, the next periodic trigger catches up.
type Runner struct {
	jobs   chan Job
	logger *zap.Logger
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewRunner(buffer int, logger *zap.Logger) *Runner {
	return &Runner{
		jobs:   make(chan Job, buffer),
		logger: logger,
	}
}

// Start launches the workers. They run until ctx is cancelled and the
// job channel is drained.
func (r *Runner) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for job := range r.jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := job.Run(ctx); err != nil {
					r.logger.Error("job failed",
						zap.String("job", job.Name),
						zap.Error(err),
					)
				}
			}
		}()
	}
}

// Submit queues a job without blocking. It reports false when the pool
// is saturated or stopped.
func (r *Runner) Submit(job Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	select {
	case r.jobs <- job:
		return true
	default:
		metrics.JobsDroppedTotal.WithLabelValues(job.Name).Inc()
		r.logger.Warn("job dropped, worker pool saturated", zap.String("job", job.Name))
		return false
	}
}

// Stop refuses further submissions and waits for queued jobs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.jobs)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
