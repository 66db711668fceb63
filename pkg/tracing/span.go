// Package tracing times a mining run and its phases as a tree of spans
// carried through the context. Finished trees are logged through slog;
// there is no exporter.
package tracing

import (
	"context"
	"iter"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

type spanKey struct{}

// Span is one timed operation. Spans are safe for concurrent use; the
// partition workers of a run add children to the same parent.
type Span struct {
	name    string
	traceID string
	start   time.Time

	mu       sync.Mutex
	end      time.Time
	attrs    []slog.Attr
	children []*Span
}

// StartSpan opens a root span for traceID.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{name: name, traceID: traceID, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan opens a span under the one in ctx. Without a parent the
// span is detached but still timed.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{name: name, start: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		s.traceID = parent.traceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) Name() string    { return s.name }
func (s *Span) TraceID() string { return s.traceID }

// End stamps the span finished and returns its duration. Only the first
// call has an effect.
func (s *Span) End() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
	return s.end.Sub(s.start)
}

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.start)
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Children returns a snapshot of the direct children.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Walk yields every span of the tree depth first with its depth.
func (s *Span) Walk() iter.Seq2[int, *Span] {
	return func(yield func(int, *Span) bool) {
		s.walk(0, yield)
	}
}

func (s *Span) walk(depth int, yield func(int, *Span) bool) bool {
	if !yield(depth, s) {
		return false
	}
	for _, c := range s.Children() {
		if !c.walk(depth+1, yield) {
			return false
		}
	}
	return true
}

// Log writes one debug record per span of the tree.
func (s *Span) Log(logger *slog.Logger) {
	ctx := context.Background()
	for depth, span := range s.Walk() {
		span.mu.Lock()
		attrs := append([]slog.Attr{
			slog.String("trace_id", span.traceID),
			slog.String("span", span.name),
			slog.Int("depth", depth),
		}, span.attrs...)
		span.mu.Unlock()
		attrs = append(attrs, slog.Int64("duration_ms", span.Duration().Milliseconds()))
		logger.LogAttrs(ctx, slog.LevelDebug, "span", attrs...)
	}
}

// Sampler decides which finished traces get logged.
type Sampler struct {
	Enabled bool
	Rate    float64
}

func (s Sampler) Sample() bool {
	switch {
	case !s.Enabled || s.Rate <= 0:
		return false
	case s.Rate >= 1:
		return true
	default:
		return rand.Float64() < s.Rate
	}
}
