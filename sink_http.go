package spanpipe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPSink posts JSON-encoded span batches to a collector endpoint.
//
// Classification follows the collector's status code: 4xx means the batch
// itself was rejected and retrying cannot help (fatal); transport errors and
// 5xx responses are transient. Retry policy lives in the batching exporter,
// so the underlying client performs no retries of its own.
type HTTPSink struct {
	client   *resty.Client
	endpoint string
}

// spanBatch is the JSON envelope posted to the collector.
type spanBatch struct {
	Spans []Span `json:"spans"`
}

// NewHTTPSink creates a sink posting batches to endpoint. timeout bounds a
// single request; zero disables the client-side timeout (the exporter still
// applies its own per-attempt deadline).
func NewHTTPSink(endpoint string, timeout time.Duration) *HTTPSink {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &HTTPSink{
		client:   client,
		endpoint: endpoint,
	}
}

// Export posts one batch of finished spans.
func (s *HTTPSink) Export(ctx context.Context, spans []Span) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(spanBatch{Spans: spans}).
		Post(s.endpoint)
	if err != nil {
		return fmt.Errorf("post span batch: %w", err)
	}

	if resp.IsError() {
		if resp.StatusCode() >= http.StatusBadRequest && resp.StatusCode() < http.StatusInternalServerError {
			return Fatal(fmt.Errorf("collector rejected batch: %s", resp.Status()))
		}
		return fmt.Errorf("collector unavailable: %s", resp.Status())
	}
	return nil
}

// Shutdown releases idle connections.
func (s *HTTPSink) Shutdown(context.Context) error {
	s.client.GetClient().CloseIdleConnections()
	return nil
}
