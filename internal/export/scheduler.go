package export

import (
	"context"

	"go.uber.org/zap"
)

// Scheduler walks every partition of every export queue and hands a
// fire-and-forget upload job to the runner for each one whose batch is
// ready.
type Scheduler struct {
	registry *Registry
	uploader *Uploader
	runner   *Runner
	logger   *zap.Logger
}

func NewScheduler(registry *Registry, uploader *Uploader, runner *Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		uploader: uploader,
		runner:   runner,
		logger:   logger,
	}
}

// Run performs one scheduling pass. Queues that fail their partition
// scan or readiness check are logged and skipped, the pass continues.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, q := range s.registry.All() {
		partitions, err := q.Partitions(ctx)
		if err != nil {
			s.logger.Error("listing partitions failed",
				zap.String("queue", q.Name()),
				zap.Error(err),
			)
			continue
		}
		for _, partitionKey := range partitions {
			ready, err := q.Ready(ctx, partitionKey)
			if err != nil {
				s.logger.Error("readiness check failed",
					zap.String("queue", q.Name()),
					zap.String("partition", partitionKey),
					zap.Error(err),
				)
				continue
			}
			if ready {
				s.runner.Submit(s.uploader.Job(q.Name(), partitionKey))
			}
		}
	}
	return nil
}
