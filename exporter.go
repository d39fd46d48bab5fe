package spanpipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// BatchConfig tunes the batching exporter. Zero values select defaults.
type BatchConfig struct {
	// MaxBatchSize caps spans per export call; reaching it triggers an
	// asynchronous flush. Default 512.
	MaxBatchSize int

	// FlushInterval is the periodic flush cadence. Default 2s.
	FlushInterval time.Duration

	// RetryLimit is the number of retries after a failed export attempt
	// before the batch is dropped. Zero selects the default of 3; a negative
	// value disables retries entirely.
	RetryLimit int

	// RetryBackoff is the initial backoff between retries; subsequent
	// waits grow exponentially. Default 100ms.
	RetryBackoff time.Duration

	// ExportTimeout bounds a single sink call. Default 10s.
	ExportTimeout time.Duration

	Clock   clockz.Clock
	Logger  *zap.Logger
	Metrics *Metrics
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 512
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.RetryLimit == 0 {
		c.RetryLimit = 3
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockz.RealClock
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = newUnregisteredMetrics()
	}
	return c
}

// BatchExporter is the terminal pipeline stage: it snapshots finished spans
// into a bounded buffer and flushes them to the Sink in batches, on a size
// threshold, a periodic interval, or an explicit flush. Ending a span never
// blocks on network I/O; the sink is only ever called from the flush path.
// Safe for concurrent use by multiple goroutines.
type BatchExporter struct {
	sink    Sink
	clock   clockz.Clock
	log     *zap.Logger
	metrics *Metrics

	maxBatch      int
	interval      time.Duration
	retryLimit    int
	retryBackoff  time.Duration
	exportTimeout time.Duration

	mu      sync.Mutex // Guards buf only; never held during sink calls.
	buf     []Span
	flushMu sync.Mutex // Serializes flushes so batches export in formation order.

	flushCh  chan struct{}
	stopCh   chan struct{}
	loopDone chan struct{}
	closed   atomic.Bool
	shutdown sync.Once
	dropped  atomic.Int64
}

// NewBatchExporter creates a batching exporter around sink and starts its
// background flush loop.
func NewBatchExporter(sink Sink, cfg BatchConfig) *BatchExporter {
	cfg = cfg.withDefaults()
	e := &BatchExporter{
		sink:          sink,
		clock:         cfg.Clock,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
		maxBatch:      cfg.MaxBatchSize,
		interval:      cfg.FlushInterval,
		retryLimit:    cfg.RetryLimit,
		retryBackoff:  cfg.RetryBackoff,
		exportTimeout: cfg.ExportTimeout,
		buf:           make([]Span, 0, 8),
		flushCh:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	go e.run()
	return e
}

// OnStart is a no-op: the exporter only cares about finished spans.
func (*BatchExporter) OnStart(context.Context, *ActiveSpan) {}

// OnEnd snapshots the finished span into the buffer. By the time the chain
// reaches this (last) stage, every upstream mutation - including redaction -
// has already happened, and the snapshot shares no state with the builder.
// After Shutdown the span is dropped and counted.
func (e *BatchExporter) OnEnd(span *ActiveSpan) {
	if e.closed.Load() {
		e.dropped.Add(1)
		e.metrics.spansDropped.WithLabelValues(dropReasonClosed).Inc()
		e.log.Debug("span dropped after exporter shutdown", zap.String("span", span.Name()))
		return
	}

	snap := span.Snapshot()

	e.mu.Lock()
	e.buf = append(e.buf, snap)
	n := len(e.buf)
	e.mu.Unlock()

	if n >= e.maxBatch {
		e.signalFlush()
	}
}

// signalFlush nudges the background loop without blocking the caller.
func (e *BatchExporter) signalFlush() {
	select {
	case e.flushCh <- struct{}{}:
	default:
		// A flush is already pending.
	}
}

// run is the background flush loop, torn down by Shutdown.
func (e *BatchExporter) run() {
	defer close(e.loopDone)

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.flushCh:
			e.flush(context.Background()) //nolint:errcheck // Failures are logged and counted in flush.
		case <-e.clock.After(e.interval):
			e.flush(context.Background()) //nolint:errcheck // Failures are logged and counted in flush.
		}
	}
}

// flush swaps the buffer out under the lock, then exports the swapped batch
// in chunks of at most MaxBatchSize. Flushes are serialized so spans leave in
// the order their batches were formed; producer appends are never blocked by
// an in-flight sink call.
func (e *BatchExporter) flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	batch := e.buf
	e.buf = make([]Span, 0, 8)
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var errs []error
	for start := 0; start < len(batch); start += e.maxBatch {
		end := min(start+e.maxBatch, len(batch))
		if err := e.export(ctx, batch[start:end]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// export delivers one batch, retrying transient failures with exponential
// backoff up to the retry limit. Fatal failures and exhausted retries drop
// the batch: reported and counted, never silently duplicated.
func (e *BatchExporter) export(ctx context.Context, batch []Span) error {
	attempt := func() error {
		actx := ctx
		if e.exportTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, e.exportTimeout)
			defer cancel()
		}

		e.metrics.exportAttempts.Inc()
		err := e.sink.Export(actx, batch)
		if err == nil {
			return nil
		}
		e.metrics.exportFailures.Inc()
		if IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.retryLimit)), ctx)

	err := backoff.Retry(attempt, policy)
	if err == nil {
		e.metrics.spansExported.Add(float64(len(batch)))
		e.metrics.batchesExported.Inc()
		e.metrics.batchSize.Observe(float64(len(batch)))
		return nil
	}

	reason := dropReasonRetryExhausted
	if IsFatal(err) {
		reason = dropReasonFatal
	}
	e.dropped.Add(int64(len(batch)))
	e.metrics.spansDropped.WithLabelValues(reason).Add(float64(len(batch)))
	e.log.Error("dropping span batch after export failure",
		zap.Int("spans", len(batch)),
		zap.String("reason", reason),
		zap.Error(err))
	return fmt.Errorf("export batch of %d spans: %w", len(batch), err)
}

// flushWait runs a flush and waits for it - and any flush already in
// flight - to complete, or for ctx to expire. The flush itself runs detached
// from the caller's cancellation: an impatient caller only stops waiting,
// while the swapped-out batch keeps its full retry budget, each attempt still
// bounded by ExportTimeout.
func (e *BatchExporter) flushWait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- e.flush(context.WithoutCancel(ctx))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceFlush synchronously drains the buffer to the sink, waiting up to
// ctx's deadline. Returns nil only when every pending span was exported.
func (e *BatchExporter) ForceFlush(ctx context.Context) error {
	if e.closed.Load() {
		return ErrExporterClosed
	}
	return e.flushWait(ctx)
}

// Shutdown stops intake, waits for the final flush up to ctx's deadline (on
// expiry the flush completes in the background), tears down the background
// loop, and shuts the sink down. Spans ended after Shutdown are dropped and
// counted. Subsequent calls are no-ops.
func (e *BatchExporter) Shutdown(ctx context.Context) error {
	var err error
	e.shutdown.Do(func() {
		// Stop intake first so the final flush sees everything that got in.
		e.closed.Store(true)

		var errs []error
		if ferr := e.flushWait(ctx); ferr != nil {
			errs = append(errs, ferr)
		}

		close(e.stopCh)
		select {
		case <-e.loopDone:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}

		if serr := e.sink.Shutdown(ctx); serr != nil {
			errs = append(errs, serr)
		}
		err = errors.Join(errs...)
	})
	return err
}

// Count returns the number of spans currently buffered.
func (e *BatchExporter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

// Dropped returns the total number of spans dropped by this exporter, for
// any reason.
func (e *BatchExporter) Dropped() int64 {
	return e.dropped.Load()
}
