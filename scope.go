package spanz

import (
	"sync"
)

// ExceptionKind classifies how tracked work terminated abruptly.
type ExceptionKind string

const (
	// KindError: the work returned a non-nil error.
	KindError ExceptionKind = "error"
	// KindPanic: the work panicked.
	KindPanic ExceptionKind = "panic"
	// KindExit: the goroutine exited through runtime.Goexit.
	KindExit ExceptionKind = "exit"
)

// ActiveSpan is the handle for an open span. It is owned by the unit that
// opened it and closed exactly once, with End or Fail. Later closes are no-ops.
//
// Whether the span reports signals is fixed when it opens: a span opened on an
// active tracer emits its terminal signal even if the tracer is deactivated
// first, and a span opened on an inactive tracer emits nothing.
type ActiveSpan struct {
	tracer    *Tracer
	unit      *Unit
	prev      *ActiveSpan
	span      Span
	id        SpanID
	context   string
	eventName EventName
	mu        sync.Mutex
	closed    bool
	emit      bool
}

// ID returns the span id.
func (a *ActiveSpan) ID() SpanID {
	return a.id
}

// Span returns a copy of the span as it stands.
func (a *ActiveSpan) Span() Span {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.clone()
}

// Closed reports whether End or Fail has run.
func (a *ActiveSpan) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// SetMeta merges additions into the span metadata reported at close.
// No-op once the span is closed.
func (a *ActiveSpan) SetMeta(additions Meta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.span = a.span.WithMeta(additions)
}

// SetStatus sets the status explicitly. An explicit status is never replaced
// by inference from the result.
func (a *ActiveSpan) SetStatus(kind StatusKind, details any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.span = a.span.WithStatus(kind, details)
}

// SetResult records a result without closing the span.
func (a *ActiveSpan) SetResult(v any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.span = a.span.WithResult(v)
}

func (a *ActiveSpan) ref() SpanRef {
	return SpanRef{
		ID:        a.id,
		Context:   a.context,
		EventName: append(EventName(nil), a.eventName...),
		Handle:    a,
	}
}

func (a *ActiveSpan) entry() RegistryEntry {
	return RegistryEntry{
		SpanID:    a.id,
		Context:   a.context,
		EventName: append(EventName(nil), a.eventName...),
	}
}

// End closes the span normally with result and emits the stop signal.
func (a *ActiveSpan) End(result any) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.span = a.span.WithResult(result)
	elapsed := a.tracer.clock.Since(a.span.StartTime)
	span := a.span.clone()
	a.mu.Unlock()

	if a.emit {
		a.tracer.deliver(stopSignal(&span, elapsed))
	}
	a.release()
}

// Fail closes the span as failed and emits the exception signal instead of stop.
// stack may be nil.
func (a *ActiveSpan) Fail(kind ExceptionKind, reason any, stack []byte) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.span = a.span.WithStatus(StatusError, reason)
	span := a.span.clone()
	a.mu.Unlock()

	if a.emit {
		a.tracer.deliver(exceptionSignal(&span, kind, reason, stack))
	}
	a.release()
}

// release hands the registry entry and the local slot back to the restore point.
func (a *ActiveSpan) release() {
	// Skip restore points that were closed out of order.
	prev := a.prev
	for prev != nil && prev.Closed() {
		prev = prev.prev
	}
	if !a.unit.restore(a.tracer, a, prev) {
		return
	}
	reg := a.tracer.registry.Load()
	if prev != nil {
		reg.Register(a.unit.id, prev.entry())
		return
	}
	reg.Unregister(a.unit.id)
}

// SpanRef describes the span active in the current scope. Handle is nil when
// the span was resolved through the spawning unit; such spans are read-only.
type SpanRef struct {
	Handle    *ActiveSpan
	ID        SpanID
	Context   string
	EventName EventName
}

// Local reports whether the span belongs to the calling unit.
func (r SpanRef) Local() bool {
	return r.Handle != nil
}
