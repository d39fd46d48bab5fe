// Package spanpipe implements a span-processing pipeline for distributed
// tracing instrumentation: spans flow through an ordered chain of processors
// that enrich and sanitize them before a batching exporter hands them to a
// remote collector.
//
// Core Components:
//   - Tracer: creates spans and dispatches lifecycle hooks to the chain.
//   - ActiveSpan: mutable span builder, sealed after the end-of-life chain.
//   - Span: the immutable value handed to the exporter.
//   - Processor: pluggable lifecycle stage (OnStart/OnEnd/ForceFlush/Shutdown).
//   - BatchExporter: terminal stage buffering finished spans for the Sink.
//
// Basic Usage:
//
//	tracer := spanpipe.New()
//	tracer.Register(spanpipe.NewEnrichProcessor())
//	tracer.Register(spanpipe.NewRedactProcessor("payment.amount"))
//	tracer.Register(spanpipe.NewBatchExporter(sink, spanpipe.BatchConfig{}))
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.StartSpan(ctx, "operation")
//	span.SetAttribute("user.id", "123")
//	defer span.End()
//
// Processor Ordering:
//
// Processors run in registration order for both OnStart and OnEnd, on the
// calling goroutine. The exporter must be registered last: redaction applied
// by an earlier stage is then guaranteed to complete before the exporter
// snapshots the span. Registering the exporter first leaks unredacted data.
//
// Failure Isolation:
//
// A panicking processor hook is recovered, logged, and counted; it never
// reaches the instrumented workload and never stops the remaining stages.
// Export failures are retried with bounded backoff, then dropped and
// reported. Telemetry failures surface only through the pipeline's own logs
// and metrics.
package spanpipe

// Attribute is a key-value pair applied to a span at start time.
type Attribute struct {
	Value any
	Key   string
}

// Attr builds an Attribute for use with StartSpan.
func Attr(key string, value any) Attribute {
	return Attribute{Key: key, Value: value}
}

// Attribute keys stamped by the enrichment processor.
const (
	AttrTraceID  = "trace.id"
	AttrSpanID   = "span.id"
	AttrParentID = "parent.id"
)
