package spanpipe

import (
	"context"
	"regexp"
)

// RedactedMarker replaces the value of a sensitive attribute.
const RedactedMarker = "[REDACTED]"

// ScrubbedFlag is set to true on spans that had at least one sensitive
// attribute overwritten.
const ScrubbedFlag = "security.pii_scrubbed"

// RedactProcessor scrubs a fixed set of sensitive attribute keys at end
// time, before the span can reach the exporter. It must be registered at a
// chain position strictly before the exporting stage: the chain runs
// synchronously and in order for each span, so registration order alone
// guarantees the exporter never observes an unredacted value.
type RedactProcessor struct {
	keys map[string]struct{}
}

// NewRedactProcessor creates a processor that overwrites the given attribute
// keys with RedactedMarker.
func NewRedactProcessor(keys ...string) *RedactProcessor {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return &RedactProcessor{keys: set}
}

// OnStart is a no-op.
func (*RedactProcessor) OnStart(context.Context, *ActiveSpan) {}

// OnEnd overwrites each configured key present on the span. Idempotent:
// redacting twice yields the same result.
func (p *RedactProcessor) OnEnd(span *ActiveSpan) {
	scrubbed := false
	for key := range p.keys {
		if _, ok := span.Attribute(key); ok {
			span.SetAttribute(key, RedactedMarker)
			scrubbed = true
		}
	}
	if scrubbed {
		span.SetAttribute(ScrubbedFlag, true)
	}
}

// ForceFlush is a no-op: redaction holds no state.
func (*RedactProcessor) ForceFlush(context.Context) error { return nil }

// Shutdown is a no-op.
func (*RedactProcessor) Shutdown(context.Context) error { return nil }

// PatternRedactedMarker replaces substrings matching a PII pattern.
const PatternRedactedMarker = "[REDACTED PII]"

// PatternScrubbedFlag is set to true on spans that had pattern matches
// scrubbed from string attributes.
const PatternScrubbedFlag = "security.pattern_scrubbed"

// PatternRedactProcessor scrubs PII shapes (emails, card numbers, SSNs) out
// of string attribute values at end time. Identity attributes stamped by the
// enrichment processor are skipped.
type PatternRedactProcessor struct {
	patterns []*regexp.Regexp
	skipKeys map[string]struct{}
}

var defaultPIIPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,7}\b`), // Emails
	regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),                             // Credit cards
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                               // SSNs
}

// NewPatternRedactProcessor creates a pattern scrubber with the built-in
// email, credit-card and SSN patterns.
func NewPatternRedactProcessor() *PatternRedactProcessor {
	return &PatternRedactProcessor{
		patterns: defaultPIIPatterns,
		skipKeys: map[string]struct{}{
			AttrTraceID:  {},
			AttrSpanID:   {},
			AttrParentID: {},
		},
	}
}

// OnStart is a no-op.
func (*PatternRedactProcessor) OnStart(context.Context, *ActiveSpan) {}

// OnEnd rewrites string attribute values containing PII matches.
func (p *PatternRedactProcessor) OnEnd(span *ActiveSpan) {
	scrubbed := false
	for _, key := range span.AttributeKeys() {
		if _, skip := p.skipKeys[key]; skip {
			continue
		}
		value, ok := span.Attribute(key)
		if !ok {
			continue
		}
		str, ok := value.(string)
		if !ok {
			continue
		}

		cleaned := str
		for _, pattern := range p.patterns {
			cleaned = pattern.ReplaceAllString(cleaned, PatternRedactedMarker)
		}
		if cleaned != str {
			span.SetAttribute(key, cleaned)
			scrubbed = true
		}
	}
	if scrubbed {
		span.SetAttribute(PatternScrubbedFlag, true)
	}
}

// ForceFlush is a no-op.
func (*PatternRedactProcessor) ForceFlush(context.Context) error { return nil }

// Shutdown is a no-op.
func (*PatternRedactProcessor) Shutdown(context.Context) error { return nil }
