package tracing

import (
	"fmt"
	"sync"
	"time"
)

// Event is a timestamped annotation on a span.
type Event struct {
	Name       string
	Time       time.Time
	Attributes map[string]any
}

// Span is one timed operation. Methods are safe for concurrent use; calls
// after End are ignored.
type Span struct {
	tracer   *Tracer
	trace    *activeTrace
	id       string
	parentID string
	name     string
	spanType SpanType
	start    time.Time

	mu         sync.Mutex
	end        time.Time
	ended      bool
	status     string
	statusMsg  string
	attributes map[string]any
	inputs     any
	outputs    any
	events     []Event
}

func (s *Span) ID() string           { return s.id }
func (s *Span) ParentID() string     { return s.parentID }
func (s *Span) TraceID() string      { return s.trace.id }
func (s *Span) Name() string         { return s.name }
func (s *Span) Type() SpanType       { return s.spanType }
func (s *Span) StartTime() time.Time { return s.start }

func (s *Span) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end
}

func (s *Span) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Span) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Span) StatusMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusMsg
}

// Attributes returns a copy of the span's attributes.
func (s *Span) Attributes() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.attributes))
	for k, v := range s.attributes {
		out[k] = v
	}
	return out
}

func (s *Span) Inputs() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs
}

func (s *Span) Outputs() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs
}

func (s *Span) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *Span) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.attributes[key] = value
	}
}

func (s *Span) SetInputs(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.inputs = v
	}
}

func (s *Span) SetOutputs(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.outputs = v
	}
}

// RecordError adds an exception event and marks the span failed.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events = append(s.events, Event{
		Name: "exception",
		Time: s.tracer.now(),
		Attributes: map[string]any{
			"exception.message": err.Error(),
			"exception.type":    fmt.Sprintf("%T", err),
		},
	})
	s.status = StatusError
	s.statusMsg = err.Error()
}

// End closes the span. Ending the root span finishes the trace.
func (s *Span) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.end = s.tracer.now()
	if s.status == StatusUnset {
		s.status = StatusOK
	}
	s.mu.Unlock()

	s.tracer.finish(s)
}
