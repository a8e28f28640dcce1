package export

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/minio/minio-go/v7"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/geo-beacon/report-exporter/internal/config"
	"github.com/geo-beacon/report-exporter/internal/queue"
)

// QueuePrefix is prepended to every export queue name. The metric tag
// strips it again.
const QueuePrefix = "queue_export_"

// Kind selects the sink behind an export queue, derived from the URL
// scheme of its target.
type Kind string

const (
	KindDummy    Kind = "dummy"
	KindHTTP     Kind = "http"
	KindS3       Kind = "s3"
	KindKafka    Kind = "kafka"
	KindInternal Kind = "internal"
)

// kindForURL maps a target URL to its sink kind. Unknown schemes fall
// back to the no-op sink.
func kindForURL(raw string) Kind {
	if raw == "" {
		return KindDummy
	}
	u, err := url.Parse(raw)
	if err != nil {
		return KindDummy
	}
	switch u.Scheme {
	case "http", "https":
		return KindHTTP
	case "s3":
		return KindS3
	case "kafka":
		return KindKafka
	case "internal":
		return KindInternal
	}
	return KindDummy
}

// SinkEnv carries the shared clients sinks are built from. Nil fields
// disable the corresponding sink kind.
type SinkEnv struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	S3         *minio.Client
	KafkaOpts  []kgo.Opt
	Internal   *InternalSink
}

// Queue is one configured export destination: a partitioned Redis queue
// plus the sink that drains it.
type Queue struct {
	name     string
	kind     Kind
	skipKeys map[string]struct{}
	client   *redis.Client
	base     queue.Options
	sink     Sink
}

// Registry is the fixed set of export queues, built once at startup and
// read-only afterwards.
type Registry struct {
	queues map[string]*Queue
}

// NewRegistry builds one export queue per configured target. The tag
// (config key) names the queue as queue_export_<tag>.
func NewRegistry(client *redis.Client, targets map[string]config.ExportTarget,
	ttl, maxAge time.Duration, env SinkEnv) (*Registry, error) {

	r := &Registry{queues: make(map[string]*Queue)}
	for tag, target := range targets {
		q, err := newQueue(tag, target, client, ttl, maxAge, env)
		if err != nil {
			return nil, fmt.Errorf("building export queue %s: %w", tag, err)
		}
		r.queues[q.name] = q
	}
	return r, nil
}

func newQueue(tag string, target config.ExportTarget, client *redis.Client,
	ttl, maxAge time.Duration, env SinkEnv) (*Queue, error) {

	kind := kindForURL(target.URL)
	q := &Queue{
		name:     QueuePrefix + tag,
		kind:     kind,
		skipKeys: target.SkipKeySet(),
		client:   client,
		base:     queue.Options{TTL: ttl, MaxAge: maxAge, Batch: target.Batch, Compress: target.Compress},
	}

	switch kind {
	case KindHTTP:
		q.sink = newHTTPSink(target.URL, q.MetricTag(), env.HTTPClient)
	case KindS3:
		if env.S3 == nil {
			return nil, fmt.Errorf("s3 target %q without an object-store client", target.URL)
		}
		sink, err := newS3Sink(target.URL, q.MetricTag(), env.S3)
		if err != nil {
			return nil, err
		}
		q.sink = sink
	case KindKafka:
		sink, err := newKafkaSink(target.URL, env.KafkaOpts)
		if err != nil {
			return nil, err
		}
		q.sink = sink
	case KindInternal:
		if env.Internal == nil {
			return nil, fmt.Errorf("internal target %q without an internal sink", target.URL)
		}
		q.sink = env.Internal
	default:
		q.sink = dummySink{}
	}
	return q, nil
}

// Get returns the export queue registered under name.
func (r *Registry) Get(name string) (*Queue, bool) {
	q, ok := r.queues[name]
	return q, ok
}

// All returns every export queue in name order.
func (r *Registry) All() []*Queue {
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Queue, 0, len(names))
	for _, name := range names {
		out = append(out, r.queues[name])
	}
	return out
}

// Close releases sink resources that hold connections.
func (r *Registry) Close() {
	for _, q := range r.queues {
		if c, ok := q.sink.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Kind() Kind { return q.kind }

func (q *Queue) Sink() Sink { return q.sink }

// MetricTag is the queue name without the export prefix.
func (q *Queue) MetricTag() string { return strings.TrimPrefix(q.name, QueuePrefix) }

// Metadata reports whether the sink consumes full envelopes. Every
// other sink only sees the inner reports.
func (q *Queue) Metadata() bool { return q.kind == KindInternal }

// MonitorName is the partition the queue monitor sizes, empty for
// object-store queues: their per-api-key partitions would blow up the
// metric label space, so they go unmonitored.
func (q *Queue) MonitorName() string {
	if q.kind == KindS3 {
		return ""
	}
	return q.name
}

// ExportAllowed reports whether reports under apiKey may be copied into
// this queue.
func (q *Queue) ExportAllowed(apiKey string) bool {
	_, skip := q.skipKeys[apiKey]
	return !skip
}

// QueueKey returns the partition key for one submitter. Only
// object-store queues partition by api key.
func (q *Queue) QueueKey(apiKey string) string {
	if q.kind != KindS3 {
		return q.name
	}
	if apiKey == "" {
		apiKey = "no_key"
	}
	return q.name + ":" + apiKey
}

// Partitions lists the live partition keys of this queue. Non-partitioned
// kinds are their own single partition.
func (q *Queue) Partitions(ctx context.Context) ([]string, error) {
	if q.kind != KindS3 {
		return []string{q.name}, nil
	}

	var parts []string
	iter := q.client.Scan(ctx, 0, q.name+":*", 100).Iterator()
	for iter.Next(ctx) {
		parts = append(parts, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning partitions of %s: %w", q.name, err)
	}
	sort.Strings(parts)
	return parts, nil
}

func (q *Queue) dataQueue(partitionKey string) *queue.DataQueue {
	return queue.NewDataQueue(partitionKey, q.client, q.base)
}

func (q *Queue) Enqueue(ctx context.Context, pipe redis.Pipeliner, partitionKey string, items [][]byte) error {
	return q.dataQueue(partitionKey).Enqueue(ctx, pipe, items)
}

func (q *Queue) Dequeue(ctx context.Context, partitionKey string) ([][]byte, error) {
	return q.dataQueue(partitionKey).Dequeue(ctx, 0)
}

func (q *Queue) Ready(ctx context.Context, partitionKey string) (bool, error) {
	return q.dataQueue(partitionKey).Ready(ctx)
}

func (q *Queue) Size(ctx context.Context, partitionKey string) (int64, error) {
	return q.dataQueue(partitionKey).Size(ctx)
}
