package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/geo-beacon/report-exporter/internal/metrics"
	"github.com/geo-beacon/report-exporter/internal/queue"
)

const (
	// uploadTimeout bounds one POST including the response body.
	uploadTimeout = 60 * time.Second

	// httpGzipLevel trades compression for speed on partner uploads.
	httpGzipLevel = 5

	userAgent = "ichnaea"
)

// httpSink POSTs gzip-compressed JSON batches to a partner endpoint.
type httpSink struct {
	url    string
	tag    string
	client *http.Client
}

func newHTTPSink(url, tag string, client *http.Client) *httpSink {
	if client == nil {
		client = &http.Client{Timeout: uploadTimeout}
	}
	return &httpSink{url: url, tag: tag, client: client}
}

// httpError reports a non-2xx response. The partner may recover, so the
// status family does not matter: every status error is retried.
type httpError struct {
	status int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("unexpected response status %d", e.status)
}

func (s *httpSink) Upload(ctx context.Context, _ string, data []byte) error {
	body, err := queue.EncodeGzip(data, httpGzipLevel)
	if err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	timer := prometheus.NewTimer(metrics.ExportUploadDuration.WithLabelValues(s.tag))
	resp, err := s.client.Do(req)
	timer.ObserveDuration()
	if err != nil {
		return fmt.Errorf("posting batch to %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	metrics.ExportUploadsTotal.WithLabelValues(s.tag, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &httpError{status: resp.StatusCode}
	}
	return nil
}

// Retriable treats transport failures and bad statuses alike.
func (s *httpSink) Retriable(error) bool { return true }
