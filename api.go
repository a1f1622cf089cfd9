// Package spanz provides a span scoping core for instrumenting hierarchical
// units of work across goroutines.
//
// spanz does not export or store anything on its own. It opens spans, scopes
// them to the goroutine (execution unit) that opened them, and emits lifecycle
// signals to whatever handlers are attached. Consumers such as loggers or
// OpenTelemetry bridges live in sub-packages.
//
// Core Components:
//   - Tracer: an instrumentation namespace. Owns the prefix, the active flag,
//     the attached handlers and the span registry.
//   - Span: plain data describing one unit of work and its outcome.
//   - ActiveSpan: the handle returned by Open. Closed exactly once.
//   - Unit: an execution unit carried in a context.Context.
//   - SpanRegistry: the sharded table mapping units to their active span.
//
// Basic Usage:
//
//	tracer := spanz.New("billing", spanz.WithPrefix("billing"))
//	defer tracer.Close()
//
//	tracer.OnSignal(func(sig spanz.Signal) { ... })
//
//	result, err := tracer.Track(ctx, spanz.Name("charge"), nil,
//	    func(ctx context.Context, span *spanz.ActiveSpan) (any, error) {
//	        span.SetMeta(spanz.Meta{"customer": id})
//	        return spanz.Ok(receipt), nil
//	    })
//
// Lifecycle Guarantees:
//
// Every span opened through Track emits one start signal and exactly one of
// stop or exception, whether the work returns, returns an error, panics or
// calls runtime.Goexit. Errors and panics are handed back to the caller
// unchanged.
//
// Execution Units:
//
// Each goroutine that wants its own span scope runs with its own Unit. Use
// Spawn, Go or Group to start goroutines; the child unit remembers which unit
// spawned it, which lets CurrentSpan in the child resolve the span that was
// active in the parent at the time of the call.
//
// Thread Safety:
//
// Tracer and SpanRegistry are safe for concurrent use. A Unit belongs to one
// goroutine; pass a spawned context to new goroutines instead of sharing one.
package spanz

// Meta is the metadata attached to a span.
type Meta = map[string]any

// EventName is an ordered sequence of name segments.
type EventName = []string

// Name builds an EventName from segments.
func Name(segments ...string) EventName {
	return segments
}

// Event name suffixes for span lifecycle signals.
const (
	SuffixStart     = "start"
	SuffixStop      = "stop"
	SuffixException = "exception"
)
