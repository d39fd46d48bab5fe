package spanpipe

import "context"

// Sink is the external system that durably receives exported batches. The
// wire encoding and transport are the sink's own business; the pipeline only
// cares whether an attempt succeeded, failed transiently, or failed fatally.
//
// Errors returned from Export are retryable unless wrapped with Fatal.
type Sink interface {
	// Export delivers one batch of finished spans. Called from the
	// exporter's flush path with no buffer lock held; must honor ctx.
	Export(ctx context.Context, spans []Span) error

	// Shutdown releases sink resources after the final flush.
	Shutdown(ctx context.Context) error
}
