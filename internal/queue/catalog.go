package queue

import (
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// IncomingQueue is the ingress queue fed by the web tier.
const IncomingQueue = "update_incoming"

// Batch sizes for the downstream queues consumed by the station and map
// updaters. Station queues favour larger batches, map and score updates
// are cheap and flush earlier.
const (
	stationBatch = 500
	datamapBatch = 250
	scoreBatch   = 250
)

var (
	hexShards  = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "a", "b", "c", "d", "e", "f"}
	cellShards = []string{"gsm", "wcdma", "lte"}
	mapShards  = []string{"ne", "nw", "se", "sw"}
)

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// CatalogOptions configure the queue set. Zero values fall back to the
// package defaults.
type CatalogOptions struct {
	IncomingBatch    int
	IncomingCompress bool
	TTL              int // seconds
	MaxAge           int // seconds
}

// Catalog is the fixed set of data queues the pipeline reads and feeds:
// the ingress queue plus the sharded downstream queues.
type Catalog struct {
	queues map[string]*DataQueue
}

// NewCatalog builds every pipeline queue against the given Redis client.
func NewCatalog(client *redis.Client, opts CatalogOptions) *Catalog {
	base := Options{}
	if opts.TTL > 0 {
		base.TTL = secs(opts.TTL)
	}
	if opts.MaxAge > 0 {
		base.MaxAge = secs(opts.MaxAge)
	}

	c := &Catalog{queues: make(map[string]*DataQueue)}

	incoming := base
	incoming.Batch = opts.IncomingBatch
	if incoming.Batch <= 0 {
		incoming.Batch = 100
	}
	incoming.Compress = opts.IncomingCompress
	c.add(NewDataQueue(IncomingQueue, client, incoming))

	station := base
	station.Batch = stationBatch
	for _, shard := range hexShards {
		c.add(NewDataQueue("update_blue_"+shard, client, station))
		c.add(NewDataQueue("update_wifi_"+shard, client, station))
	}
	for _, shard := range cellShards {
		c.add(NewDataQueue("update_cell_"+shard, client, station))
	}

	datamap := base
	datamap.Batch = datamapBatch
	for _, shard := range mapShards {
		c.add(NewDataQueue("update_datamap_"+shard, client, datamap))
	}

	score := base
	score.Batch = scoreBatch
	c.add(NewDataQueue("update_score", client, score))

	return c
}

func (c *Catalog) add(q *DataQueue) {
	c.queues[q.Name()] = q
}

// Get returns the queue registered under name.
func (c *Catalog) Get(name string) (*DataQueue, bool) {
	q, ok := c.queues[name]
	return q, ok
}

// Incoming returns the ingress queue.
func (c *Catalog) Incoming() *DataQueue {
	return c.queues[IncomingQueue]
}

// All returns every queue in name order.
func (c *Catalog) All() []*DataQueue {
	names := make([]string, 0, len(c.queues))
	for name := range c.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*DataQueue, 0, len(names))
	for _, name := range names {
		out = append(out, c.queues[name])
	}
	return out
}
