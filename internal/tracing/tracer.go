// Package tracing records hierarchical spans in-process and exports each
// finished trace to an MLflow tracking server.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"databricks_smoke/internal/logger"

	"github.com/google/uuid"
)

// SpanType classifies a span for the MLflow trace UI.
type SpanType string

const (
	SpanAgent     SpanType = "AGENT"
	SpanTool      SpanType = "TOOL"
	SpanChain     SpanType = "CHAIN"
	SpanChatModel SpanType = "CHAT_MODEL"
	SpanRetriever SpanType = "RETRIEVER"
	SpanUnknown   SpanType = "UNKNOWN"
)

// Span statuses.
const (
	StatusUnset = "UNSET"
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Exporter persists a finished trace and returns its server-side id.
type Exporter interface {
	Export(ctx context.Context, tr *Trace) (string, error)
}

// Trace is a finished tree of spans. Spans are in end order; the root is last.
type Trace struct {
	TraceID  string
	RunID    string
	Root     *Span
	Spans    []*Span
	Metadata map[string]string
}

// Status is the root span's status.
func (tr *Trace) Status() string {
	if tr.Root.Status() == StatusError {
		return StatusError
	}
	return StatusOK
}

type activeTrace struct {
	id    string
	runID string
	mu    sync.Mutex
	spans []*Span
}

// Tracer creates spans and queues their traces for export.
type Tracer struct {
	exporter Exporter
	now      func() time.Time

	mu      sync.Mutex
	pending []*Trace
}

// NewTracer returns a tracer exporting through exporter.
func NewTracer(exporter Exporter) *Tracer {
	return &Tracer{exporter: exporter, now: time.Now}
}

type spanKey struct{}
type runKey struct{}

// ContextWithRun associates traces started under ctx with an MLflow run.
func ContextWithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// SpanFromContext returns the innermost open span, if any.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// StartSpan opens a span as a child of the span in ctx, or as the root of a
// new trace. The returned context carries the new span.
func (t *Tracer) StartSpan(ctx context.Context, name string, typ SpanType) (context.Context, *Span) {
	if typ == "" {
		typ = SpanUnknown
	}
	s := &Span{
		tracer:     t,
		id:         newSpanID(),
		name:       name,
		spanType:   typ,
		start:      t.now(),
		status:     StatusUnset,
		attributes: map[string]any{},
	}
	if parent := SpanFromContext(ctx); parent != nil && !parent.Ended() {
		s.trace = parent.trace
		s.parentID = parent.id
	} else {
		runID, _ := ctx.Value(runKey{}).(string)
		s.trace = &activeTrace{id: newTraceID(), runID: runID}
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func (t *Tracer) finish(s *Span) {
	s.trace.mu.Lock()
	s.trace.spans = append(s.trace.spans, s)
	spans := s.trace.spans
	s.trace.mu.Unlock()

	if s.parentID != "" {
		return
	}
	tr := &Trace{
		TraceID:  s.trace.id,
		RunID:    s.trace.runID,
		Root:     s,
		Spans:    spans,
		Metadata: map[string]string{},
	}
	t.mu.Lock()
	t.pending = append(t.pending, tr)
	t.mu.Unlock()
	logger.Debug().Str("trace_id", tr.TraceID).Int("spans", len(spans)).Msg("trace queued")
}

// Pending returns the number of finished traces not yet exported.
func (t *Tracer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Flush exports every queued trace and returns the ids the server assigned.
// Traces that fail to export are dropped; their errors are joined.
func (t *Tracer) Flush(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	queue := t.pending
	t.pending = nil
	t.mu.Unlock()

	if t.exporter == nil {
		return nil, nil
	}
	var ids []string
	var errs []error
	for _, tr := range queue {
		id, err := t.exporter.Export(ctx, tr)
		if err != nil {
			errs = append(errs, fmt.Errorf("export trace %q: %w", tr.Root.Name(), err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

func newTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newSpanID() string {
	return newTraceID()[:16]
}
