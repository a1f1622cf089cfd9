package otelz

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/spanz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records span lifecycle counts and durations.
type Metrics struct {
	started  metric.Int64Counter
	stopped  metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics registers the span instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	m.started, err = meter.Int64Counter("spanz.spans.started",
		metric.WithDescription("Number of spans opened"),
		metric.WithUnit("{spans}"))
	if err != nil {
		return nil, fmt.Errorf("failed to register started counter: %w", err)
	}

	m.stopped, err = meter.Int64Counter("spanz.spans.stopped",
		metric.WithDescription("Number of spans closed normally"),
		metric.WithUnit("{spans}"))
	if err != nil {
		return nil, fmt.Errorf("failed to register stopped counter: %w", err)
	}

	m.failed, err = meter.Int64Counter("spanz.spans.failed",
		metric.WithDescription("Number of spans closed by an exception"),
		metric.WithUnit("{spans}"))
	if err != nil {
		return nil, fmt.Errorf("failed to register failed counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram("spanz.span.duration",
		metric.WithDescription("Duration of normally closed spans"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to register duration histogram: %w", err)
	}

	return &m, nil
}

// Attach registers the recorder for every signal under the tracer prefix.
func (m *Metrics) Attach(tracer *spanz.Tracer) uint64 {
	return tracer.OnSignal(m.Handle)
}

// Handle records one signal. Plain observation signals are ignored.
func (m *Metrics) Handle(sig spanz.Signal) {
	if _, ok := sig.SpanID(); !ok {
		return
	}

	switch sig.Suffix() {
	case spanz.SuffixStart, spanz.SuffixStop, spanz.SuffixException:
	default:
		return
	}

	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("span.name", spanName(sig)),
		attribute.String("spanz.context", fmt.Sprint(sig.Metadata[spanz.KeyContext])),
	)

	switch sig.Suffix() {
	case spanz.SuffixStart:
		m.started.Add(ctx, 1, attrs)
	case spanz.SuffixStop:
		m.stopped.Add(ctx, 1, attrs)
		if d, ok := sig.Measurements[spanz.MeasureDuration].(time.Duration); ok {
			m.duration.Record(ctx, d.Seconds(), attrs)
		}
	case spanz.SuffixException:
		m.failed.Add(ctx, 1, attrs)
	}
}
