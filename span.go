package spanz

import (
	"fmt"
	"time"
)

// SpanID identifies a span. Unique per process and never reused.
type SpanID string

// StatusKind is the outcome class of a span.
type StatusKind uint8

const (
	// StatusUnknown is the zero value. Inference only runs while a span is Unknown.
	StatusUnknown StatusKind = iota
	StatusOK
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a span outcome with optional details.
type Status struct {
	Details any
	Kind    StatusKind
}

func (s Status) String() string {
	if s.Details == nil {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s(%v)", s.Kind, s.Details)
}

// OkResult is a success outcome value. The zero value is the bare OK marker.
type OkResult struct {
	Values []any
}

// ErrResult is a failure outcome value. The zero value is the bare Err marker.
type ErrResult struct {
	Values []any
}

// Pair packs an error reason together with its extra detail.
type Pair [2]any

var (
	// OK is the bare success marker.
	OK = OkResult{}
	// Err is the bare failure marker.
	Err = ErrResult{}
)

// Ok returns a success outcome carrying values.
func Ok(values ...any) OkResult {
	return OkResult{Values: values}
}

// Fail returns a failure outcome carrying a reason and optional detail.
func Fail(values ...any) ErrResult {
	return ErrResult{Values: values}
}

// StatusOf classifies an outcome value.
//
//	OK, Ok(x), Ok(x, y)   -> ok, details dropped
//	Err                   -> error(nil)
//	Fail(r)               -> error(r)
//	Fail(r, d)            -> error(Pair{r, d})
//	anything else         -> unknown
func StatusOf(v any) Status {
	switch o := v.(type) {
	case OkResult:
		if len(o.Values) <= 2 {
			return Status{Kind: StatusOK}
		}
	case ErrResult:
		switch len(o.Values) {
		case 0:
			return Status{Kind: StatusError}
		case 1:
			return Status{Kind: StatusError, Details: o.Values[0]}
		case 2:
			return Status{Kind: StatusError, Details: Pair{o.Values[0], o.Values[1]}}
		}
	}
	return Status{}
}

// Span is the data describing one unit of traced work.
// Span values are copied freely; the With* functions never modify the receiver.
//
//nolint:govet // Field order follows signal metadata order
type Span struct {
	Meta      Meta      `json:"meta,omitempty"`
	Result    any       `json:"result,omitempty"`
	Status    Status    `json:"status"`
	StartTime time.Time `json:"start_time"`
	ID        SpanID    `json:"span_id"`
	ParentID  SpanID    `json:"parent_id,omitempty"`
	Context   string    `json:"context"`
	EventName EventName `json:"event_name"`
}

// WithResult records v as the span result. The status is inferred from v only
// while it is still Unknown.
func (s Span) WithResult(v any) Span {
	s.Result = v
	if s.Status.Kind == StatusUnknown {
		s.Status = StatusOf(v)
	}
	return s
}

// WithStatus sets the status explicitly, replacing whatever was there.
// Details are discarded for StatusUnknown.
func (s Span) WithStatus(kind StatusKind, details any) Span {
	switch kind {
	case StatusOK, StatusError:
		s.Status = Status{Kind: kind, Details: details}
	default:
		s.Status = Status{}
	}
	return s
}

// WithMeta merges additions into the span metadata. Keys in additions win.
func (s Span) WithMeta(additions Meta) Span {
	merged := make(Meta, len(s.Meta)+len(additions))
	for k, v := range s.Meta {
		merged[k] = v
	}
	for k, v := range additions {
		merged[k] = v
	}
	s.Meta = merged
	return s
}

func (s Span) clone() Span {
	if s.Meta != nil {
		s = s.WithMeta(nil)
	}
	if s.EventName != nil {
		s.EventName = append(EventName(nil), s.EventName...)
	}
	return s
}
