package export

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/geo-beacon/report-exporter/internal/metrics"
)

const (
	// uploadRetries bounds attempts per batch. Beyond it the batch is
	// lost: the partition was already drained.
	uploadRetries = 3

	// uploadRetryWait scales the backoff between attempts: on zero-based
	// attempt i the wait is uploadRetryWait * (i*i + 1).
	uploadRetryWait = time.Second
)

// Uploader drains one partition per job, serializes the batch for its
// sink and retries retriable failures with quadratic backoff.
type Uploader struct {
	registry *Registry
	runner   *Runner
	logger   *zap.Logger

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func NewUploader(registry *Registry, runner *Runner, logger *zap.Logger) *Uploader {
	return &Uploader{
		registry: registry,
		runner:   runner,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// Job wraps one partition upload for the runner.
func (u *Uploader) Job(queueName, partitionKey string) Job {
	return Job{
		Name: "upload " + partitionKey,
		Run: func(ctx context.Context) error {
			return u.Upload(ctx, queueName, partitionKey)
		},
	}
}

// Upload drains and delivers one partition batch. An empty partition is
// a scheduling race and exits silently. After a successful upload the
// job re-arms itself when the partition is ready again.
func (u *Uploader) Upload(ctx context.Context, queueName, partitionKey string) error {
	q, ok := u.registry.Get(queueName)
	if !ok {
		return fmt.Errorf("unknown export queue %s", queueName)
	}

	items, err := q.Dequeue(ctx, partitionKey)
	if err != nil {
		return fmt.Errorf("draining partition %s: %w", partitionKey, err)
	}
	if len(items) == 0 {
		return nil
	}

	payload, err := buildPayload(items, q.Metadata())
	if err != nil {
		return fmt.Errorf("assembling payload for %s: %w", partitionKey, err)
	}

	sink := q.Sink()
	var lastErr error
	for i := 0; i < uploadRetries; i++ {
		lastErr = sink.Upload(ctx, partitionKey, payload)
		if lastErr == nil {
			break
		}
		if !sink.Retriable(lastErr) {
			return fmt.Errorf("uploading batch from %s: %w", partitionKey, lastErr)
		}
		u.sleep(uploadRetryWait * time.Duration(i*i+1))
	}
	if lastErr != nil {
		// Retry budget exhausted. The batch was already dequeued and is
		// now lost.
		return fmt.Errorf("abandoning batch of %d items from %s: %w",
			len(items), partitionKey, lastErr)
	}

	metrics.ExportBatchesTotal.WithLabelValues(q.MetricTag()).Inc()

	ready, err := q.Ready(ctx, partitionKey)
	if err != nil {
		return fmt.Errorf("checking partition %s: %w", partitionKey, err)
	}
	if ready && u.runner != nil {
		u.runner.Submit(u.Job(queueName, partitionKey))
	}
	return nil
}

// buildPayload serializes one batch. Metadata sinks receive the full
// envelopes as a JSON array; every other sink sees only the inner
// reports wrapped as {"items": [...]}.
func buildPayload(items [][]byte, metadata bool) ([]byte, error) {
	raw := make([]jsoniter.RawMessage, len(items))
	for i, item := range items {
		raw[i] = jsoniter.RawMessage(item)
	}
	if metadata {
		return json.Marshal(raw)
	}

	inner := make([]jsoniter.RawMessage, 0, len(items))
	for _, item := range items {
		var env struct {
			Report jsoniter.RawMessage `json:"report"`
		}
		if err := json.Unmarshal(item, &env); err != nil {
			return nil, fmt.Errorf("decoding envelope: %w", err)
		}
		inner = append(inner, env.Report)
	}
	return json.Marshal(map[string][]jsoniter.RawMessage{"items": inner})
}
