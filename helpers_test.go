package spanpipe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingProcessor captures dispatched spans for assertions.
type recordingProcessor struct {
	mu      sync.Mutex
	started []*ActiveSpan
	ended   []*ActiveSpan
}

func (r *recordingProcessor) OnStart(_ context.Context, span *ActiveSpan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, span)
}

func (r *recordingProcessor) OnEnd(span *ActiveSpan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, span)
}

func (*recordingProcessor) ForceFlush(context.Context) error { return nil }
func (*recordingProcessor) Shutdown(context.Context) error   { return nil }

func (r *recordingProcessor) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

func (r *recordingProcessor) endCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ended)
}

// funcProcessor adapts closures into a Processor.
type funcProcessor struct {
	onStart func(ctx context.Context, span *ActiveSpan)
	onEnd   func(span *ActiveSpan)
}

func (p *funcProcessor) OnStart(ctx context.Context, span *ActiveSpan) {
	if p.onStart != nil {
		p.onStart(ctx, span)
	}
}

func (p *funcProcessor) OnEnd(span *ActiveSpan) {
	if p.onEnd != nil {
		p.onEnd(span)
	}
}

func (*funcProcessor) ForceFlush(context.Context) error { return nil }
func (*funcProcessor) Shutdown(context.Context) error   { return nil }

// testSink records exported batches and simulates sink failures.
type testSink struct {
	mu        sync.Mutex
	batches   [][]Span
	calls     atomic.Int64
	failFirst int64         // Calls up to this count return a retryable error.
	fatal     bool          // Every call returns a fatal error.
	honorCtx  bool          // Fail with ctx.Err when the context is already dead.
	gate      chan struct{} // When non-nil, Export blocks until the gate closes.
	shutdowns atomic.Int64
}

func newTestSink() *testSink {
	return &testSink{}
}

func (s *testSink) Export(ctx context.Context, spans []Span) error {
	if s.gate != nil {
		<-s.gate
	}

	call := s.calls.Add(1)
	if s.honorCtx {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if s.fatal {
		return Fatal(errContrived)
	}
	if call <= s.failFirst {
		return errContrived
	}

	batch := make([]Span, len(spans))
	copy(batch, spans)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *testSink) Shutdown(context.Context) error {
	s.shutdowns.Add(1)
	return nil
}

func (s *testSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *testSink) allSpans() []Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Span
	for _, batch := range s.batches {
		all = append(all, batch...)
	}
	return all
}

func (s *testSink) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batches))
	for i, batch := range s.batches {
		sizes[i] = len(batch)
	}
	return sizes
}

var errContrived = errors.New("sink unavailable")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %s: %s", timeout, msg)
}
