package export

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/geo-beacon/report-exporter/internal/queue"
	"github.com/geo-beacon/report-exporter/internal/report"
)

// Dispatcher drains the ingress queue and copies each submitter's
// envelopes into every export queue whose skip list allows the key.
type Dispatcher struct {
	incoming *queue.DataQueue
	registry *Registry
	client   *redis.Client
	runner   *Runner
	logger   *zap.Logger
}

func NewDispatcher(incoming *queue.DataQueue, registry *Registry, client *redis.Client,
	runner *Runner, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		incoming: incoming,
		registry: registry,
		client:   client,
		runner:   runner,
		logger:   logger,
	}
}

// Run drains one ingress batch. Envelopes are grouped by api key with
// arrival order preserved inside each group, and every copy lands
// through a single transaction so a store error leaves all export
// queues untouched. When more items are waiting afterwards the
// dispatcher re-arms itself on the runner.
func (d *Dispatcher) Run(ctx context.Context) error {
	items, err := d.incoming.Dequeue(ctx, 0)
	if err != nil {
		return fmt.Errorf("draining ingress queue: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	var order []string
	grouped := make(map[string][][]byte)
	for _, item := range items {
		var env report.Envelope
		if err := json.Unmarshal(item, &env); err != nil {
			d.logger.Warn("dropping undecodable ingress item", zap.Error(err))
			continue
		}
		if _, seen := grouped[env.APIKey]; !seen {
			order = append(order, env.APIKey)
		}
		grouped[env.APIKey] = append(grouped[env.APIKey], item)
	}

	pipe := d.client.TxPipeline()
	for _, apiKey := range order {
		for _, q := range d.registry.All() {
			if !q.ExportAllowed(apiKey) {
				continue
			}
			if err := q.Enqueue(ctx, pipe, q.QueueKey(apiKey), grouped[apiKey]); err != nil {
				return fmt.Errorf("enqueueing into %s: %w", q.Name(), err)
			}
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("committing dispatch of %d items: %w", len(items), err)
	}

	d.logger.Debug("dispatched ingress batch",
		zap.Int("items", len(items)),
		zap.Int("submitters", len(order)),
	)

	ready, err := d.incoming.Ready(ctx)
	if err != nil {
		return fmt.Errorf("checking ingress queue: %w", err)
	}
	if ready && d.runner != nil {
		d.runner.Submit(Job{Name: "dispatch", Run: d.Run})
	}
	return nil
}
