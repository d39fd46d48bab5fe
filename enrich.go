package spanpipe

import "context"

// EnrichProcessor stamps span identity onto the attribute map at start time,
// so logs and backends can correlate by plain attributes. Pure and total: it
// operates only on in-flight spans and has no failure conditions.
type EnrichProcessor struct{}

// NewEnrichProcessor creates the identity-stamping processor.
func NewEnrichProcessor() *EnrichProcessor {
	return &EnrichProcessor{}
}

// OnStart writes trace.id, span.id and, for child spans, parent.id.
// Workflow code may overwrite or add attributes afterwards.
func (*EnrichProcessor) OnStart(_ context.Context, span *ActiveSpan) {
	span.SetAttribute(AttrTraceID, span.TraceID())
	span.SetAttribute(AttrSpanID, span.SpanID())
	if parent := span.ParentID(); parent != "" {
		span.SetAttribute(AttrParentID, parent)
	}
}

// OnEnd is a no-op.
func (*EnrichProcessor) OnEnd(*ActiveSpan) {}

// ForceFlush is a no-op: enrichment holds no state.
func (*EnrichProcessor) ForceFlush(context.Context) error { return nil }

// Shutdown is a no-op.
func (*EnrichProcessor) Shutdown(context.Context) error { return nil }
