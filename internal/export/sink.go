// Package export implements the fan-out from the ingress queue into the
// configured export queues and the upload jobs that drain them: HTTP
// partners, object-store archives, a Kafka topic, and the internal
// observation pipeline.
package export

import (
	"context"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink delivers one serialized batch to its destination. Sinks emit
// their own transport metrics; the uploader counts delivered batches.
type Sink interface {
	// Upload sends one payload. partitionKey identifies the queue
	// partition the batch was drained from.
	Upload(ctx context.Context, partitionKey string, data []byte) error

	// Retriable reports whether a failed upload may be retried.
	Retriable(err error) bool
}

// dummySink drops payloads. Targets with an empty or unknown URL scheme
// get this sink, which lets configuration toggle an export off without
// removing it.
type dummySink struct{}

func (dummySink) Upload(context.Context, string, []byte) error { return nil }

func (dummySink) Retriable(error) bool { return false }
