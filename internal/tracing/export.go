package tracing

import (
	"context"
	"errors"
	"fmt"

	"databricks_smoke/internal/logger"
	"databricks_smoke/internal/mlflow"

	"github.com/bytedance/sonic"
)

// Span attribute keys read by the MLflow trace UI.
const (
	attrRequestID = "mlflow.traceRequestId"
	attrSpanType  = "mlflow.spanType"
	attrInputs    = "mlflow.spanInputs"
	attrOutputs   = "mlflow.spanOutputs"
)

// maxPreviewChars bounds the request/response previews in trace metadata.
const maxPreviewChars = 250

// MLflowExporter writes traces to an experiment through the v2 traces API.
type MLflowExporter struct {
	client       *mlflow.Client
	experimentID string
}

func NewMLflowExporter(client *mlflow.Client, experimentID string) *MLflowExporter {
	return &MLflowExporter{client: client, experimentID: experimentID}
}

// Export starts the trace on the server, uploads its spans and ends it. The
// trace is ended even when the upload fails so it does not stay in progress.
func (e *MLflowExporter) Export(ctx context.Context, tr *Trace) (string, error) {
	root := tr.Root
	metadata := map[string]string{
		mlflow.TraceMetaInputs:  preview(root.Inputs()),
		mlflow.TraceMetaOutputs: preview(root.Outputs()),
	}
	for k, v := range tr.Metadata {
		metadata[k] = v
	}
	if tr.RunID != "" {
		metadata[mlflow.TraceMetaSourceRun] = tr.RunID
	}
	tags := map[string]string{mlflow.TraceTagName: root.Name()}

	info, err := e.client.StartTrace(ctx, e.experimentID, root.StartTime().UnixMilli(), metadata, tags)
	if err != nil {
		return "", err
	}
	log := logger.For("tracing")
	log.Debug().Str("request_id", info.RequestID).Str("name", root.Name()).Msg("trace started")

	data, err := traceData(info.RequestID, tr)
	if err == nil {
		err = e.client.UploadTraceData(ctx, info, data)
	}

	status := tr.Status()
	if err != nil {
		status = mlflow.TraceError
	}
	_, endErr := e.client.EndTrace(ctx, info.RequestID, root.EndTime().UnixMilli(), status, metadata, tags)
	if err != nil || endErr != nil {
		return info.RequestID, errors.Join(err, endErr)
	}
	log.Debug().Str("request_id", info.RequestID).Int("spans", len(tr.Spans)).Msg("trace exported")
	return info.RequestID, nil
}

// traceData converts spans to the traces.json layout, root first.
func traceData(requestID string, tr *Trace) (*mlflow.TraceData, error) {
	reqID, err := encodeAttr(requestID)
	if err != nil {
		return nil, err
	}
	ordered := make([]*Span, 0, len(tr.Spans))
	ordered = append(ordered, tr.Root)
	for _, s := range tr.Spans {
		if s != tr.Root {
			ordered = append(ordered, s)
		}
	}

	out := &mlflow.TraceData{Spans: make([]mlflow.SpanData, 0, len(ordered))}
	for _, s := range ordered {
		attrs := map[string]string{attrRequestID: reqID}
		typ, _ := encodeAttr(string(s.Type()))
		attrs[attrSpanType] = typ
		if in := s.Inputs(); in != nil {
			if attrs[attrInputs], err = encodeAttr(in); err != nil {
				return nil, fmt.Errorf("span %s inputs: %w", s.Name(), err)
			}
		}
		if o := s.Outputs(); o != nil {
			if attrs[attrOutputs], err = encodeAttr(o); err != nil {
				return nil, fmt.Errorf("span %s outputs: %w", s.Name(), err)
			}
		}
		for k, v := range s.Attributes() {
			if attrs[k], err = encodeAttr(v); err != nil {
				return nil, fmt.Errorf("span %s attribute %s: %w", s.Name(), k, err)
			}
		}

		sd := mlflow.SpanData{
			Name:          s.Name(),
			Context:       mlflow.SpanContext{SpanID: "0x" + s.ID(), TraceID: "0x" + tr.TraceID},
			StartTime:     s.StartTime().UnixNano(),
			EndTime:       s.EndTime().UnixNano(),
			StatusCode:    s.Status(),
			StatusMessage: s.StatusMessage(),
			Attributes:    attrs,
			Events:        []mlflow.SpanEvent{},
		}
		if s.ParentID() != "" {
			parent := "0x" + s.ParentID()
			sd.ParentID = &parent
		}
		for _, ev := range s.Events() {
			evAttrs := make(map[string]string, len(ev.Attributes))
			for k, v := range ev.Attributes {
				evAttrs[k] = fmt.Sprint(v)
			}
			sd.Events = append(sd.Events, mlflow.SpanEvent{Name: ev.Name, Timestamp: ev.Time.UnixNano(), Attributes: evAttrs})
		}
		out.Spans = append(out.Spans, sd)
	}
	return out, nil
}

func encodeAttr(v any) (string, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func preview(v any) string {
	if v == nil {
		return ""
	}
	s, err := encodeAttr(v)
	if err != nil {
		s = fmt.Sprint(v)
	}
	if r := []rune(s); len(r) > maxPreviewChars {
		return string(r[:maxPreviewChars])
	}
	return s
}
