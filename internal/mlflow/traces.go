package mlflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"
)

// Trace tags and metadata keys understood by the tracking server.
const (
	TraceTagArtifactLocation = "mlflow.artifactLocation"
	TraceTagName             = "mlflow.traceName"
	TraceMetaSourceRun       = "mlflow.sourceRun"
	TraceMetaInputs          = "mlflow.traceInputs"
	TraceMetaOutputs         = "mlflow.traceOutputs"
	TraceDataFile            = "traces.json"
)

// StartTrace registers a new in-progress trace and returns the server's header.
func (c *Client) StartTrace(ctx context.Context, experimentID string, timestampMs int64, metadata, tags map[string]string) (*TraceInfo, error) {
	req := map[string]any{
		"experiment_id":    experimentID,
		"timestamp_ms":     timestampMs,
		"request_metadata": sortedTags(metadata),
		"tags":             sortedTags(tags),
	}
	var resp struct {
		TraceInfo TraceInfo `json:"trace_info"`
	}
	if err := c.call(ctx, http.MethodPost, "/traces", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to start trace: %w", err)
	}
	return &resp.TraceInfo, nil
}

// EndTrace completes the trace with its final status.
func (c *Client) EndTrace(ctx context.Context, requestID string, timestampMs int64, status string, metadata, tags map[string]string) (*TraceInfo, error) {
	req := map[string]any{
		"request_id":       requestID,
		"timestamp_ms":     timestampMs,
		"status":           status,
		"request_metadata": sortedTags(metadata),
		"tags":             sortedTags(tags),
	}
	var resp struct {
		TraceInfo TraceInfo `json:"trace_info"`
	}
	if err := c.call(ctx, http.MethodPatch, "/traces/"+url.PathEscape(requestID), nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to end trace %s: %w", requestID, err)
	}
	return &resp.TraceInfo, nil
}

func (c *Client) GetTraceInfo(ctx context.Context, requestID string) (*TraceInfo, error) {
	var resp struct {
		TraceInfo TraceInfo `json:"trace_info"`
	}
	if err := c.call(ctx, http.MethodGet, "/traces/"+url.PathEscape(requestID)+"/info", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get trace %s: %w", requestID, err)
	}
	return &resp.TraceInfo, nil
}

// SearchTraces returns traces in the experiments matching filter (MLflow
// search syntax, may be empty).
func (c *Client) SearchTraces(ctx context.Context, experimentIDs []string, filter string, maxResults int) ([]TraceInfo, error) {
	q := url.Values{"experiment_ids": experimentIDs}
	if filter != "" {
		q.Set("filter", filter)
	}
	if maxResults > 0 {
		q.Set("max_results", strconv.Itoa(maxResults))
	}
	var resp struct {
		Traces        []TraceInfo `json:"traces"`
		NextPageToken string      `json:"next_page_token"`
	}
	if err := c.call(ctx, http.MethodGet, "/traces", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to search traces: %w", err)
	}
	return resp.Traces, nil
}

// UploadTraceData stores the trace's span data. Databricks hands out a signed
// URL; open-source servers take it through the artifact proxy at the
// location recorded in the trace's tags.
func (c *Client) UploadTraceData(ctx context.Context, info *TraceInfo, data *TraceData) error {
	body, err := sonic.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode trace %s: %w", info.RequestID, err)
	}

	if c.onDatabricks {
		var resp struct {
			CredentialInfo artifactCredential `json:"credential_info"`
		}
		endpoint := "/traces/" + url.PathEscape(info.RequestID) + "/credentials-for-data-upload"
		if err := c.call(ctx, http.MethodGet, endpoint, nil, nil, &resp); err != nil {
			return fmt.Errorf("failed to get upload credentials for trace %s: %w", info.RequestID, err)
		}
		if err := c.uploadSigned(ctx, resp.CredentialInfo, body); err != nil {
			return fmt.Errorf("failed to upload trace %s: %w", info.RequestID, err)
		}
		return nil
	}

	location, ok := info.Tag(TraceTagArtifactLocation)
	if !ok {
		return fmt.Errorf("trace %s has no %s tag", info.RequestID, TraceTagArtifactLocation)
	}
	if err := c.uploadThroughProxy(ctx, location, TraceDataFile, body); err != nil {
		return fmt.Errorf("failed to upload trace %s: %w", info.RequestID, err)
	}
	return nil
}
