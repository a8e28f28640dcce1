package export

import (
	"context"

	"go.uber.org/zap"

	"github.com/geo-beacon/report-exporter/internal/metrics"
	"github.com/geo-beacon/report-exporter/internal/queue"
)

// Monitor publishes queue depth gauges for every pipeline queue and
// every export queue that exposes a monitor name.
type Monitor struct {
	catalog  *queue.Catalog
	registry *Registry
	logger   *zap.Logger
}

func NewMonitor(catalog *queue.Catalog, registry *Registry, logger *zap.Logger) *Monitor {
	return &Monitor{catalog: catalog, registry: registry, logger: logger}
}

// Run takes one size snapshot. Queues that fail to size are logged and
// skipped so one store hiccup does not blank the whole pass.
func (m *Monitor) Run(ctx context.Context) error {
	for _, q := range m.catalog.All() {
		size, err := q.Size(ctx)
		if err != nil {
			m.logger.Warn("sizing queue failed", zap.String("queue", q.Name()), zap.Error(err))
			continue
		}
		metrics.QueueSize.WithLabelValues(q.Name()).Set(float64(size))
	}

	for _, eq := range m.registry.All() {
		name := eq.MonitorName()
		if name == "" {
			continue
		}
		size, err := eq.Size(ctx, name)
		if err != nil {
			m.logger.Warn("sizing export queue failed", zap.String("queue", name), zap.Error(err))
			continue
		}
		metrics.QueueSize.WithLabelValues(name).Set(float64(size))
	}
	return nil
}
