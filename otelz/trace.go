// Package otelz bridges spanz signals to OpenTelemetry.
//
// TraceHandler turns start/stop/exception triples into OpenTelemetry spans.
// Metrics records span counts and durations on an OpenTelemetry meter.
package otelz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/spanz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScopeName is the instrumentation scope used for spans and metrics.
const ScopeName = "github.com/zoobzio/spanz"

type openSpan struct {
	start time.Time
	span  trace.Span
}

// TraceHandler translates lifecycle signals into OpenTelemetry spans.
// Safe for concurrent use.
type TraceHandler struct {
	tracer trace.Tracer
	spans  sync.Map // spanz.SpanID -> openSpan
}

// NewTraceHandler creates a handler that starts spans on tp.
func NewTraceHandler(tp trace.TracerProvider) *TraceHandler {
	return &TraceHandler{tracer: tp.Tracer(ScopeName)}
}

// Attach registers the handler for every signal under the tracer prefix.
func (h *TraceHandler) Attach(tracer *spanz.Tracer) uint64 {
	return tracer.OnSignal(h.Handle)
}

// Handle processes one signal. Plain observation signals are ignored.
func (h *TraceHandler) Handle(sig spanz.Signal) {
	id, ok := sig.SpanID()
	if !ok {
		return
	}

	switch sig.Suffix() {
	case spanz.SuffixStart:
		h.start(id, sig)
	case spanz.SuffixStop:
		h.stop(id, sig)
	case spanz.SuffixException:
		h.exception(id, sig)
	}
}

// Open returns the number of spans started but not yet ended.
func (h *TraceHandler) Open() int {
	n := 0
	h.spans.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (h *TraceHandler) start(id spanz.SpanID, sig spanz.Signal) {
	ctx := context.Background()
	if parentID, ok := sig.Metadata[spanz.KeyParentID].(spanz.SpanID); ok {
		if parent, ok := h.spans.Load(parentID); ok {
			ctx = trace.ContextWithSpan(ctx, parent.(openSpan).span)
		}
	}

	opts := []trace.SpanStartOption{trace.WithAttributes(Attributes(sig.Metadata)...)}
	ts, hasTS := sig.Measurements[spanz.MeasureTimestamp].(time.Time)
	if hasTS {
		opts = append(opts, trace.WithTimestamp(ts))
	}

	_, span := h.tracer.Start(ctx, spanName(sig), opts...)
	h.spans.Store(id, openSpan{start: ts, span: span})
}

func (h *TraceHandler) stop(id spanz.SpanID, sig spanz.Signal) {
	v, ok := h.spans.LoadAndDelete(id)
	if !ok {
		return
	}
	open := v.(openSpan)

	if status, ok := sig.Metadata[spanz.KeyStatus].(spanz.Status); ok {
		switch status.Kind {
		case spanz.StatusOK:
			open.span.SetStatus(codes.Ok, "")
		case spanz.StatusError:
			open.span.SetStatus(codes.Error, describe(status.Details))
		}
	}

	var endOpts []trace.SpanEndOption
	if d, ok := sig.Measurements[spanz.MeasureDuration].(time.Duration); ok && !open.start.IsZero() {
		endOpts = append(endOpts, trace.WithTimestamp(open.start.Add(d)))
	}
	open.span.End(endOpts...)
}

func (h *TraceHandler) exception(id spanz.SpanID, sig spanz.Signal) {
	v, ok := h.spans.LoadAndDelete(id)
	if !ok {
		return
	}
	open := v.(openSpan)

	reason := sig.Metadata[spanz.KeyReason]
	err, isErr := reason.(error)
	if !isErr {
		err = errors.New(describe(reason))
	}

	attrs := []attribute.KeyValue{attribute.String("spanz.kind", fmt.Sprint(sig.Metadata[spanz.KeyKind]))}
	if st, ok := sig.Metadata[spanz.KeyStacktrace].(string); ok {
		attrs = append(attrs, attribute.String("exception.stacktrace", st))
	}
	open.span.RecordError(err, trace.WithAttributes(attrs...))
	open.span.SetStatus(codes.Error, err.Error())
	open.span.End()
}

// spanName is the signal name without its lifecycle suffix.
func spanName(sig spanz.Signal) string {
	if len(sig.Name) == 0 {
		return ""
	}
	return strings.Join(sig.Name[:len(sig.Name)-1], ".")
}

func describe(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// reserved metadata keys that are not copied as span attributes.
var reserved = map[string]bool{
	spanz.KeyStatus:     true,
	spanz.KeyResult:     true,
	spanz.KeyReason:     true,
	spanz.KeyStacktrace: true,
}

// Attributes converts signal metadata into OpenTelemetry attributes.
// Values without a native attribute type are formatted with fmt.
func Attributes(md map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(md))
	for k, v := range md {
		if reserved[k] {
			continue
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case spanz.SpanID:
			attrs = append(attrs, attribute.String(k, string(val)))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case []string:
			attrs = append(attrs, attribute.StringSlice(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}
