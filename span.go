package spanpipe

import (
	"context"
	"sync"
	"time"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const bundleKey bundleKeyType = "spanpipe"

// StatusCode classifies the outcome of a span's unit of work.
type StatusCode int

const (
	// StatusUnset is the default status of a new span.
	StatusUnset StatusCode = iota
	// StatusOK marks the operation as completed successfully.
	StatusOK
	// StatusError marks the operation as failed.
	StatusError
)

// String returns the canonical name of the status code.
func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	default:
		return "UNSET"
	}
}

// Event is a timestamped annotation attached to a span.
type Event struct {
	Attributes map[string]any `json:"attributes,omitempty"`
	Time       time.Time      `json:"time"`
	Name       string         `json:"name"`
}

// Span is the immutable record of a finished unit of work. The exporter only
// ever sees Span values snapshotted after the full OnEnd chain has run.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Attributes    map[string]any `json:"attributes,omitempty"`
	Events        []Event        `json:"events,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time,omitempty"`
	Duration      time.Duration  `json:"duration"`
	TraceID       string         `json:"trace_id"`
	SpanID        string         `json:"span_id"`
	ParentID      string         `json:"parent_id,omitempty"`
	Name          string         `json:"name"`
	Status        StatusCode     `json:"status"`
	StatusMessage string         `json:"status_message,omitempty"`
}

// ActiveSpan is the mutable builder for an in-flight span.
// Safe for concurrent use by multiple goroutines.
//
// An ActiveSpan passes through three phases: in-flight (workflow and OnStart
// mutations), ending (End was called, the OnEnd chain may still mutate
// attributes), and sealed (the chain finished, all mutation is a no-op).
type ActiveSpan struct {
	span   *Span
	tracer *Tracer
	mu     sync.Mutex // Protects span fields and phase flags.
	ending bool
	sealed bool
}

// SetAttribute records a key-value pair on the span.
// No-op once the span is sealed; processors in the OnEnd chain may still
// mutate attributes after End was called.
func (a *ActiveSpan) SetAttribute(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return
	}

	if a.span.Attributes == nil {
		a.span.Attributes = make(map[string]any)
	}
	a.span.Attributes[key] = value
}

// Attribute retrieves an attribute value by key.
func (a *ActiveSpan) Attribute(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.span.Attributes == nil {
		return nil, false
	}
	value, ok := a.span.Attributes[key]
	return value, ok
}

// AttributeKeys returns the keys currently set on the span.
func (a *ActiveSpan) AttributeKeys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]string, 0, len(a.span.Attributes))
	for k := range a.span.Attributes {
		keys = append(keys, k)
	}
	return keys
}

// AddEvent appends a timestamped event to the span's event log.
// No-op once the span is sealed.
func (a *ActiveSpan) AddEvent(name string, attrs map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return
	}

	event := Event{
		Name: name,
		Time: a.tracer.clock.Now(),
	}
	if len(attrs) > 0 {
		event.Attributes = make(map[string]any, len(attrs))
		for k, v := range attrs {
			event.Attributes[k] = v
		}
	}
	a.span.Events = append(a.span.Events, event)
}

// SetStatus records the span outcome and an optional message.
// No-op once the span is sealed.
func (a *ActiveSpan) SetStatus(code StatusCode, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return
	}

	a.span.Status = code
	a.span.StatusMessage = message
}

// End finishes the span: it sets the end timestamp, dispatches the OnEnd
// chain in registration order on the calling goroutine, and seals the span.
// Returns ErrAlreadyEnded on subsequent calls without re-running the chain.
func (a *ActiveSpan) End() error {
	a.mu.Lock()
	if a.ending || a.sealed {
		a.mu.Unlock()
		return ErrAlreadyEnded
	}
	a.ending = true
	a.span.EndTime = a.tracer.clock.Now()
	a.span.Duration = a.span.EndTime.Sub(a.span.StartTime)
	a.mu.Unlock()

	// Processors may still mutate attributes here; the span seals only after
	// the whole chain has observed it.
	a.tracer.dispatchEnd(a)

	a.mu.Lock()
	a.sealed = true
	a.mu.Unlock()
	return nil
}

// Ended reports whether End has completed and the span is sealed.
func (a *ActiveSpan) Ended() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}

// TraceID returns the trace ID shared by every span in this trace.
func (a *ActiveSpan) TraceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.TraceID
}

// SpanID returns the unique ID of this span.
func (a *ActiveSpan) SpanID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.SpanID
}

// ParentID returns the parent span ID, or "" for a root span.
func (a *ActiveSpan) ParentID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.ParentID
}

// Name returns the operation label of this span.
func (a *ActiveSpan) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.Name
}

// Snapshot returns a deep copy of the span as an immutable value.
// The copy shares no state with the builder, so later mutation (or lack of
// it) cannot leak into an exported batch.
func (a *ActiveSpan) Snapshot() Span {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := *a.span
	if a.span.Attributes != nil {
		snap.Attributes = make(map[string]any, len(a.span.Attributes))
		for k, v := range a.span.Attributes {
			snap.Attributes[k] = v
		}
	}
	if a.span.Events != nil {
		snap.Events = make([]Event, len(a.span.Events))
		copy(snap.Events, a.span.Events)
		for i, ev := range a.span.Events {
			if ev.Attributes == nil {
				continue
			}
			attrs := make(map[string]any, len(ev.Attributes))
			for k, v := range ev.Attributes {
				attrs[k] = v
			}
			snap.Events[i].Attributes = attrs
		}
	}
	return snap
}

// Context creates a new context with this span embedded.
// The returned context can be used to start child spans.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	bundle := &contextBundle{tracer: a.tracer, span: a}
	return context.WithValue(parent, bundleKey, bundle)
}

// SpanFromContext extracts the current span from a context.
// Returns nil if no span is present.
func SpanFromContext(ctx context.Context) *ActiveSpan {
	if ctx == nil {
		return nil
	}

	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.span
	}

	return nil
}
