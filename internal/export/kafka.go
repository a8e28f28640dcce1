package export

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
)

// kafkaSink produces one record per batch to a Kafka topic. The URL
// carries the brokers and topic: kafka://host1,host2/topic.
type kafkaSink struct {
	client *kgo.Client
	topic  string
}

func newKafkaSink(rawURL string, opts []kgo.Opt) (*kafkaSink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing kafka url %q: %w", rawURL, err)
	}
	brokers := strings.Split(u.Host, ",")
	topic := strings.TrimPrefix(u.Path, "/")
	if len(brokers) == 0 || brokers[0] == "" || topic == "" {
		return nil, fmt.Errorf("kafka url %q needs brokers and a topic", rawURL)
	}

	opts = append(opts, kgo.SeedBrokers(brokers...), kgo.DefaultProduceTopic(topic))
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &kafkaSink{client: client, topic: topic}, nil
}

func (s *kafkaSink) Upload(ctx context.Context, _ string, data []byte) error {
	rec := &kgo.Record{Value: data}
	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("producing batch to %s: %w", s.topic, err)
	}
	return nil
}

// Retriable covers broker and network errors alike.
func (s *kafkaSink) Retriable(error) bool { return true }

func (s *kafkaSink) Close() { s.client.Close() }
