package spanpipe

import "context"

// Processor is a pipeline stage invoked at span lifecycle transitions.
// Hooks run synchronously on the goroutine that starts or ends the span, in
// the order processors were registered with the tracer.
type Processor interface {
	// OnStart runs when a span is created, before StartSpan returns to the
	// workflow. ctx is the parent context the span was started from.
	OnStart(ctx context.Context, span *ActiveSpan)

	// OnEnd runs when a span is ended, before the span seals. The span is
	// still mutable: redaction and other end-of-life rewrites happen here.
	OnEnd(span *ActiveSpan)

	// ForceFlush pushes any buffered state downstream, honoring ctx.
	ForceFlush(ctx context.Context) error

	// Shutdown releases processor resources. Hooks arriving afterwards are
	// ignored. Must honor ctx and never block indefinitely.
	Shutdown(ctx context.Context) error
}
