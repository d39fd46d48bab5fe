package spanpipe

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// contextBundle holds both tracer and span to reduce context allocations.
type contextBundle struct {
	tracer *Tracer
	span   *ActiveSpan
}

// Tracer creates spans and dispatches lifecycle hooks to the processor chain.
// Safe for concurrent use by multiple goroutines.
//
// Parent-child linkage flows through context.Context: the context chain is
// the per-execution active-span stack, so spans from concurrent executions
// never cross-link unless their contexts are explicitly shared.
type Tracer struct {
	clock       clockz.Clock
	log         *zap.Logger
	metrics     *Metrics
	processors  []Processor
	traceIDPool *idPool
	spanIDPool  *idPool
	idPoolOnce  sync.Once
	mu          sync.RWMutex // Guards processors during registration.
	shutdown    sync.Once
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock injects a clock, enabling deterministic tests.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) { t.clock = clock }
}

// WithLogger sets the logger used to report pipeline failures.
func WithLogger(log *zap.Logger) Option {
	return func(t *Tracer) { t.log = log }
}

// WithMetrics sets the metrics sink for pipeline health counters.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracer) { t.metrics = m }
}

// New creates a tracer with no registered processors.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		clock: clockz.RealClock,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = newUnregisteredMetrics()
	}
	return t
}

// Register appends a processor to the chain. Position determines execution
// order for both OnStart and OnEnd; the exporting stage must come last so it
// only observes fully processed spans. Registration happens once during
// initialization, before spans flow.
func (t *Tracer) Register(p Processor) {
	if p == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processors = append(t.processors, p)
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for contention balance.
		poolSize := runtime.NumCPU() * 100

		t.traceIDPool = newIDPool(poolSize, func() string {
			bytes := make([]byte, 16)
			if _, err := rand.Read(bytes); err != nil {
				// Fallback to time-based ID if crypto/rand fails.
				return hex.EncodeToString([]byte(t.clock.Now().Format(time.RFC3339Nano)))
			}
			return hex.EncodeToString(bytes)
		})

		t.spanIDPool = newIDPool(poolSize, func() string {
			bytes := make([]byte, 8)
			if _, err := rand.Read(bytes); err != nil {
				// Fallback to time-based ID if crypto/rand fails.
				return hex.EncodeToString([]byte(t.clock.Now().Format("15:04:05.000000")))
			}
			return hex.EncodeToString(bytes)
		})
	})
}

// StartSpan creates a new span and dispatches the OnStart chain before
// returning, so every processor observes the span ahead of any workflow code.
// If ctx contains an existing span, the new span becomes its child and shares
// its trace ID.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...Attribute) (context.Context, *ActiveSpan) {
	// Handle nil context by creating a new one.
	if ctx == nil {
		ctx = context.Background()
	}

	span := &Span{
		SpanID:    t.generateSpanID(),
		Name:      name,
		StartTime: t.clock.Now(),
	}

	// A parented span joins its parent's trace; only roots mint a new one.
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID()
		span.ParentID = parent.SpanID()
	} else {
		span.TraceID = t.generateTraceID()
	}

	active := &ActiveSpan{
		span:   span,
		tracer: t,
	}

	for _, attr := range attrs {
		active.SetAttribute(attr.Key, attr.Value)
	}

	t.metrics.spansStarted.Inc()
	t.dispatchStart(ctx, active)

	// Bundle tracer and span into one context value (single allocation).
	bundle := &contextBundle{tracer: t, span: active}
	newCtx := context.WithValue(ctx, bundleKey, bundle)

	return newCtx, active
}

// dispatchStart invokes every processor's OnStart in registration order.
func (t *Tracer) dispatchStart(ctx context.Context, span *ActiveSpan) {
	for _, p := range t.chain() {
		t.safeOnStart(p, ctx, span)
	}
}

// dispatchEnd invokes every processor's OnEnd in registration order.
// Called from ActiveSpan.End exactly once per span.
func (t *Tracer) dispatchEnd(span *ActiveSpan) {
	t.metrics.spansEnded.Inc()
	for _, p := range t.chain() {
		t.safeOnEnd(p, span)
	}
}

// chain returns the registered processors. The slice is append-only and
// registration finishes before spans flow, so no copy is needed.
func (t *Tracer) chain() []Processor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.processors
}

// safeOnStart isolates a panicking hook: the failure is logged and counted,
// and the remaining processors still run for this and every other span.
func (t *Tracer) safeOnStart(p Processor, ctx context.Context, span *ActiveSpan) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.processorPanics.WithLabelValues("on_start").Inc()
			t.log.Error("span processor panicked in OnStart",
				zap.Any("panic", r),
				zap.String("span", span.Name()))
		}
	}()
	p.OnStart(ctx, span)
}

func (t *Tracer) safeOnEnd(p Processor, span *ActiveSpan) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.processorPanics.WithLabelValues("on_end").Inc()
			t.log.Error("span processor panicked in OnEnd",
				zap.Any("panic", r),
				zap.String("span", span.Name()))
		}
	}()
	p.OnEnd(span)
}

// ForceFlush flushes every processor in registration order, draining each
// fully before the next. Honors ctx; partial failures are joined.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	var errs []error
	for _, p := range t.chain() {
		if err := p.ForceFlush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown tears the pipeline down once: processors shut down in registration
// order, so the exporter's final flush happens after every upstream stage has
// finalized. Subsequent calls are no-ops.
func (t *Tracer) Shutdown(ctx context.Context) error {
	var err error
	t.shutdown.Do(func() {
		var errs []error
		for _, p := range t.chain() {
			if serr := p.Shutdown(ctx); serr != nil {
				errs = append(errs, serr)
			}
		}

		if t.traceIDPool != nil {
			t.traceIDPool.close()
		}
		if t.spanIDPool != nil {
			t.spanIDPool.close()
		}
		err = errors.Join(errs...)
	})
	return err
}

// generateTraceID mints a new trace ID for a root span.
func (t *Tracer) generateTraceID() string {
	t.ensureIDPools()
	return t.traceIDPool.get()
}

// generateSpanID creates a new span ID using the ID pool.
func (t *Tracer) generateSpanID() string {
	t.ensureIDPools()
	return t.spanIDPool.get()
}
