// Package zapz formats spanz signals as zap log entries.
package zapz

import (
	"fmt"
	"time"

	"github.com/zoobzio/spanz"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Handler returns a signal handler that logs every signal it receives.
// Start and plain signals log at Debug, stop at Info, exception at Error.
func Handler(logger *zap.Logger) spanz.Handler {
	return func(sig spanz.Signal) {
		level := levelFor(sig)
		ce := logger.Check(level, sig.String())
		if ce == nil {
			return
		}
		ce.Write(Fields(sig)...)
	}
}

// Attach logs every signal under the tracer prefix. Returns the handler id.
func Attach(tracer *spanz.Tracer, logger *zap.Logger) uint64 {
	return tracer.OnSignal(Handler(logger))
}

func levelFor(sig spanz.Signal) zapcore.Level {
	switch sig.Suffix() {
	case spanz.SuffixStop:
		return zapcore.InfoLevel
	case spanz.SuffixException:
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}

// Fields converts a signal into zap fields. Well-known keys get typed fields;
// everything else goes through zap.Any.
func Fields(sig spanz.Signal) []zap.Field {
	fields := make([]zap.Field, 0, len(sig.Measurements)+len(sig.Metadata))

	for k, v := range sig.Measurements {
		switch m := v.(type) {
		case time.Duration:
			fields = append(fields, zap.Duration(k, m))
		case time.Time:
			fields = append(fields, zap.Time(k, m))
		default:
			fields = append(fields, zap.Any(k, v))
		}
	}

	for k, v := range sig.Metadata {
		switch m := v.(type) {
		case spanz.SpanID:
			fields = append(fields, zap.String(k, string(m)))
		case spanz.Status:
			fields = append(fields, zap.Stringer(k, m))
		case spanz.ExceptionKind:
			fields = append(fields, zap.String(k, string(m)))
		case error:
			fields = append(fields, zap.NamedError(k, m))
		case fmt.Stringer:
			fields = append(fields, zap.Stringer(k, m))
		default:
			fields = append(fields, zap.Any(k, v))
		}
	}

	return fields
}
