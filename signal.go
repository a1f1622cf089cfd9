package spanz

import (
	"strings"
	"time"
)

// Metadata keys set on lifecycle signals. They take precedence over span meta
// with the same key.
const (
	KeySpanID     = "span_id"
	KeyParentID   = "parent_span_id"
	KeyContext    = "context"
	KeyStatus     = "status"
	KeyResult     = "result"
	KeyKind       = "kind"
	KeyReason     = "reason"
	KeyStacktrace = "stacktrace"
)

// Measurement keys.
const (
	MeasureTimestamp = "timestamp"
	MeasureDuration  = "duration"
)

// Signal is a single emitted event.
type Signal struct {
	Measurements map[string]any
	Metadata     map[string]any
	Name         EventName
}

// HasPrefix reports whether the signal name starts with prefix.
func (s Signal) HasPrefix(prefix EventName) bool {
	if len(prefix) > len(s.Name) {
		return false
	}
	for i, seg := range prefix {
		if s.Name[i] != seg {
			return false
		}
	}
	return true
}

// Suffix returns the last name segment, e.g. "start" for span signals.
func (s Signal) Suffix() string {
	if len(s.Name) == 0 {
		return ""
	}
	return s.Name[len(s.Name)-1]
}

// String joins the name with dots.
func (s Signal) String() string {
	return strings.Join(s.Name, ".")
}

// SpanID returns the span id carried in the metadata, if any.
func (s Signal) SpanID() (SpanID, bool) {
	id, ok := s.Metadata[KeySpanID].(SpanID)
	return id, ok
}

// Handler receives signals. Handlers must not retain the maps beyond the call
// if they mutate them.
type Handler func(sig Signal)

type handlerEntry struct {
	handler Handler
	prefix  EventName
	id      uint64
	async   bool
}

func joinName(prefix, name EventName, suffix ...string) EventName {
	out := make(EventName, 0, len(prefix)+len(name)+len(suffix))
	out = append(out, prefix...)
	out = append(out, name...)
	return append(out, suffix...)
}

// spanMetadata spreads span meta and then sets the reserved keys.
func spanMetadata(span *Span, extra int) map[string]any {
	md := make(map[string]any, len(span.Meta)+3+extra)
	for k, v := range span.Meta {
		md[k] = v
	}
	md[KeySpanID] = span.ID
	md[KeyContext] = span.Context
	if span.ParentID != "" {
		md[KeyParentID] = span.ParentID
	}
	return md
}

func startSignal(span *Span) Signal {
	return Signal{
		Name:         append(append(EventName(nil), span.EventName...), SuffixStart),
		Measurements: map[string]any{MeasureTimestamp: span.StartTime},
		Metadata:     spanMetadata(span, 0),
	}
}

func stopSignal(span *Span, elapsed time.Duration) Signal {
	md := spanMetadata(span, 2)
	md[KeyStatus] = span.Status
	md[KeyResult] = span.Result
	return Signal{
		Name:         append(append(EventName(nil), span.EventName...), SuffixStop),
		Measurements: map[string]any{MeasureDuration: elapsed},
		Metadata:     md,
	}
}

func exceptionSignal(span *Span, kind ExceptionKind, reason any, stack []byte) Signal {
	md := spanMetadata(span, 4)
	md[KeyStatus] = span.Status
	md[KeyKind] = kind
	md[KeyReason] = reason
	if len(stack) > 0 {
		md[KeyStacktrace] = string(stack)
	}
	return Signal{
		Name:         append(append(EventName(nil), span.EventName...), SuffixException),
		Measurements: map[string]any{},
		Metadata:     md,
	}
}
