package spanpipe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testBatch() []Span {
	return []Span{
		{
			TraceID: "0123456789abcdef0123456789abcdef",
			SpanID:  "0123456789abcdef",
			Name:    "process_payment",
			Attributes: map[string]any{
				"payment.amount": RedactedMarker,
			},
		},
	}
}

func TestHTTPSinkExport(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json content type, got %q", ct)
		}

		var batch spanBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("Failed to decode batch: %v", err)
		}
		received.Add(int64(len(batch.Spans)))
		if len(batch.Spans) == 1 && batch.Spans[0].Name != "process_payment" {
			t.Errorf("Unexpected span name %q", batch.Spans[0].Name)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, 5*time.Second)
	if err := sink.Export(context.Background(), testBatch()); err != nil {
		t.Fatalf("Unexpected Export error: %v", err)
	}
	if received.Load() != 1 {
		t.Errorf("Expected 1 received span, got %d", received.Load())
	}

	if err := sink.Shutdown(context.Background()); err != nil {
		t.Errorf("Unexpected Shutdown error: %v", err)
	}
}

func TestHTTPSinkRejectedBatchIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "malformed batch", http.StatusBadRequest)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, 5*time.Second)
	err := sink.Export(context.Background(), testBatch())
	if err == nil {
		t.Fatal("Expected an error for a 400 response")
	}
	if !IsFatal(err) {
		t.Errorf("Expected a 4xx rejection to be fatal, got %v", err)
	}
}

func TestHTTPSinkUnavailableIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, 5*time.Second)
	err := sink.Export(context.Background(), testBatch())
	if err == nil {
		t.Fatal("Expected an error for a 503 response")
	}
	if IsFatal(err) {
		t.Errorf("Expected a 5xx response to stay retryable, got fatal: %v", err)
	}
}

func TestHTTPSinkTransportErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // Nothing listening.

	sink := NewHTTPSink(server.URL, time.Second)
	err := sink.Export(context.Background(), testBatch())
	if err == nil {
		t.Fatal("Expected an error for a refused connection")
	}
	if IsFatal(err) {
		t.Errorf("Expected a transport error to stay retryable, got fatal: %v", err)
	}
}

// TestHTTPSinkBehindExporter wires the real sink under the batching exporter
// against a live test server.
func TestHTTPSinkBehindExporter(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch spanBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("Failed to decode batch: %v", err)
		}
		received.Add(int64(len(batch.Spans)))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exporter := NewBatchExporter(NewHTTPSink(server.URL, 5*time.Second), BatchConfig{
		MaxBatchSize:  10,
		FlushInterval: time.Hour,
	})
	tracer := New()
	tracer.Register(NewEnrichProcessor())
	tracer.Register(exporter)

	endSpans(t, tracer, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracer.Shutdown(ctx); err != nil {
		t.Fatalf("Unexpected Shutdown error: %v", err)
	}

	if received.Load() != 4 {
		t.Errorf("Expected 4 spans delivered to the collector, got %d", received.Load())
	}
}
