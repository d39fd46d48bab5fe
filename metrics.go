package spanpipe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for pipeline health. The pipeline
// never surfaces its failures to workflow code; drops, retries, and panicking
// processors are visible here and in the logs only.
type Metrics struct {
	spansStarted    prometheus.Counter
	spansEnded      prometheus.Counter
	spansExported   prometheus.Counter
	spansDropped    *prometheus.CounterVec
	exportAttempts  prometheus.Counter
	exportFailures  prometheus.Counter
	batchesExported prometheus.Counter
	batchSize       prometheus.Histogram
	processorPanics *prometheus.CounterVec
}

// Drop reasons used as the "reason" label on spanpipe_spans_dropped_total.
const (
	dropReasonClosed         = "exporter_closed"
	dropReasonRetryExhausted = "retry_exhausted"
	dropReasonFatal          = "fatal"
)

// NewMetrics creates pipeline metrics registered against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		spansStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "spanpipe_spans_started_total",
			Help: "Total number of spans created by the tracer",
		}),

		spansEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "spanpipe_spans_ended_total",
			Help: "Total number of spans ended and dispatched through the chain",
		}),

		spansExported: factory.NewCounter(prometheus.CounterOpts{
			Name: "spanpipe_spans_exported_total",
			Help: "Total number of spans successfully handed to the sink",
		}),

		spansDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spanpipe_spans_dropped_total",
			Help: "Total number of spans dropped, by reason",
		}, []string{"reason"}),

		exportAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "spanpipe_export_attempts_total",
			Help: "Total number of sink export calls, including retries",
		}),

		exportFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "spanpipe_export_failures_total",
			Help: "Total number of failed sink export calls",
		}),

		batchesExported: factory.NewCounter(prometheus.CounterOpts{
			Name: "spanpipe_batches_exported_total",
			Help: "Total number of batches successfully exported",
		}),

		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spanpipe_batch_size_spans",
			Help:    "Size distribution of exported batches",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		processorPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spanpipe_processor_panics_total",
			Help: "Total number of recovered span-processor panics, by hook",
		}, []string{"hook"}),
	}
}

// newUnregisteredMetrics backs components whose caller did not supply
// metrics. Collectors still count but are not exposed anywhere.
func newUnregisteredMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
