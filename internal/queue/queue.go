// Package queue implements the Redis-list backed data queues that carry
// encoded report batches between pipeline stages.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultTTL is how long a queue key lives after the last enqueue.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxAge is how long items may wait before the queue reports
	// ready regardless of batch size.
	DefaultMaxAge = time.Hour

	// pushChunk caps the number of items per RPUSH command.
	pushChunk = 100
)

// Options control batching, expiry and encoding of a single data queue.
type Options struct {
	// Batch is the preferred number of items per dequeue. At or above
	// this size the queue reports ready. Zero means no size trigger and
	// dequeue drains everything.
	Batch int

	// TTL is the expiry set on the queue key at every enqueue.
	TTL time.Duration

	// MaxAge is the queue age at which the queue reports ready even
	// below the batch size. Age is derived from TTL decay since the
	// last enqueue.
	MaxAge time.Duration

	// Compress gzips every item on enqueue and gunzips on dequeue.
	Compress bool
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	return o
}

// DataQueue is a named Redis list holding opaque encoded items. Enqueues
// refresh the key expiry; dequeues atomically read and trim the head of
// the list so concurrent consumers never see the same item twice.
type DataQueue struct {
	name   string
	client *redis.Client
	opts   Options
}

func NewDataQueue(name string, client *redis.Client, opts Options) *DataQueue {
	return &DataQueue{
		name:   name,
		client: client,
		opts:   opts.withDefaults(),
	}
}

func (q *DataQueue) Name() string { return q.name }

func (q *DataQueue) Batch() int { return q.opts.Batch }

// Enqueue appends items to the tail of the list and refreshes the key
// expiry. When pipe is non-nil the commands are queued on it and the
// caller owns execution, which lets one transaction cover several queues.
func (q *DataQueue) Enqueue(ctx context.Context, pipe redis.Pipeliner, items [][]byte) error {
	if len(items) == 0 {
		return nil
	}

	if q.opts.Compress {
		compressed := make([][]byte, len(items))
		for i, item := range items {
			data, err := EncodeGzip(item, defaultGzipLevel)
			if err != nil {
				return fmt.Errorf("compressing queue item: %w", err)
			}
			compressed[i] = data
		}
		items = compressed
	}

	if pipe != nil {
		q.push(ctx, pipe, items)
		return nil
	}

	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		q.push(ctx, p, items)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueueing %d items to %s: %w", len(items), q.name, err)
	}
	return nil
}

func (q *DataQueue) push(ctx context.Context, pipe redis.Pipeliner, items [][]byte) {
	for start := 0; start < len(items); start += pushChunk {
		end := start + pushChunk
		if end > len(items) {
			end = len(items)
		}
		args := make([]interface{}, 0, end-start)
		for _, item := range items[start:end] {
			args = append(args, item)
		}
		pipe.RPush(ctx, q.name, args...)
	}
	pipe.Expire(ctx, q.name, q.opts.TTL)
}

// Dequeue atomically removes and returns up to limit items from the head
// of the list. A limit at or below zero uses the queue batch size; when
// that is also zero the whole list is drained.
func (q *DataQueue) Dequeue(ctx context.Context, limit int) ([][]byte, error) {
	if limit <= 0 {
		limit = q.opts.Batch
	}

	var rangeCmd *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if limit > 0 {
			rangeCmd = pipe.LRange(ctx, q.name, 0, int64(limit-1))
			pipe.LTrim(ctx, q.name, int64(limit), -1)
		} else {
			rangeCmd = pipe.LRange(ctx, q.name, 0, -1)
			pipe.LTrim(ctx, q.name, 1, 0)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dequeueing from %s: %w", q.name, err)
	}

	raw := rangeCmd.Val()
	items := make([][]byte, 0, len(raw))
	for _, r := range raw {
		item := []byte(r)
		if q.opts.Compress {
			data, err := DecodeGzip(item)
			if err != nil {
				return nil, fmt.Errorf("decompressing item from %s: %w", q.name, err)
			}
			item = data
		}
		items = append(items, item)
	}
	return items, nil
}

// Ready reports whether the queue holds a full batch, or holds anything
// older than MaxAge. Age is inferred from how far the key TTL has
// decayed since the last enqueue refreshed it.
func (q *DataQueue) Ready(ctx context.Context) (bool, error) {
	var (
		ttlCmd  *redis.DurationCmd
		sizeCmd *redis.IntCmd
	)
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ttlCmd = pipe.TTL(ctx, q.name)
		sizeCmd = pipe.LLen(ctx, q.name)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking readiness of %s: %w", q.name, err)
	}

	size := sizeCmd.Val()
	if size == 0 {
		return false, nil
	}
	if q.opts.Batch > 0 && size >= int64(q.opts.Batch) {
		return true, nil
	}
	age := q.opts.TTL - ttlCmd.Val()
	return age >= q.opts.MaxAge, nil
}

// Size returns the number of items currently in the queue.
func (q *DataQueue) Size(ctx context.Context) (int64, error) {
	size, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("sizing %s: %w", q.name, err)
	}
	return size, nil
}
