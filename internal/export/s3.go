package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geo-beacon/report-exporter/internal/metrics"
	"github.com/geo-beacon/report-exporter/internal/queue"
)

// s3GzipLevel favours small archive objects over upload speed.
const s3GzipLevel = 7

// objectPutter is the slice of the minio client the sink needs.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader,
		size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// s3Sink archives batches as gzip JSON objects. Object keys are built
// from a path template holding {api_key}, {year}, {month} and {day}
// placeholders, plus a fresh v1 uuid so keys never collide.
type s3Sink struct {
	client   objectPutter
	bucket   string
	template string
	tag      string
	now      func() time.Time
}

func newS3Sink(rawURL, tag string, client *minio.Client) (*s3Sink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing s3 url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("s3 url %q has no bucket", rawURL)
	}

	// Object keys start without a leading slash and the template always
	// ends with one so the object name appends cleanly.
	template := strings.TrimPrefix(u.Path, "/")
	if template != "" && !strings.HasSuffix(template, "/") {
		template += "/"
	}

	return &s3Sink{
		client:   client,
		bucket:   u.Host,
		template: template,
		tag:      tag,
		now:      time.Now,
	}, nil
}

// objectKey renders the path template for one partition and date.
func (s *s3Sink) objectKey(partitionKey string, now time.Time) (string, error) {
	// The api key is the partition suffix after the queue name.
	apiKey := partitionKey
	if i := strings.LastIndex(partitionKey, ":"); i >= 0 {
		apiKey = partitionKey[i+1:]
	}

	year, month, day := now.UTC().Date()
	key := strings.NewReplacer(
		"{api_key}", apiKey,
		"{year}", strconv.Itoa(year),
		"{month}", strconv.Itoa(int(month)),
		"{day}", strconv.Itoa(day),
	).Replace(s.template)

	id, err := uuid.NewUUID()
	if err != nil {
		return "", fmt.Errorf("generating object id: %w", err)
	}
	return key + strings.ReplaceAll(id.String(), "-", "") + ".json.gz", nil
}

func (s *s3Sink) Upload(ctx context.Context, partitionKey string, data []byte) error {
	key, err := s.objectKey(partitionKey, s.now())
	if err != nil {
		return err
	}

	body, err := queue.EncodeGzip(data, s3GzipLevel)
	if err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}

	timer := prometheus.NewTimer(metrics.ExportUploadDuration.WithLabelValues(s.tag))
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{
			ContentType:     "application/json",
			ContentEncoding: "gzip",
		})
	timer.ObserveDuration()

	if err != nil {
		metrics.ExportUploadsTotal.WithLabelValues(s.tag, "failure").Inc()
		return fmt.Errorf("uploading %s to bucket %s: %w", key, s.bucket, err)
	}
	metrics.ExportUploadsTotal.WithLabelValues(s.tag, "success").Inc()
	return nil
}

// Retriable covers IO failures and object-store client and server
// errors alike.
func (s *s3Sink) Retriable(error) bool { return true }
