// Package mlflow is a client for the MLflow REST API as served by Databricks
// workspaces and by open-source tracking servers.
package mlflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"databricks_smoke/internal/databricks"
	"databricks_smoke/internal/logger"
)

const apiPrefix = "/api/2.0/mlflow"

// Client calls the tracking API of one server.
type Client struct {
	api          *databricks.Client
	onDatabricks bool
	now          func() time.Time
}

// NewClient wraps api. onDatabricks selects Databricks artifact and trace
// upload (presigned credentials) over the open-source artifact proxy.
func NewClient(api *databricks.Client, onDatabricks bool) *Client {
	return &Client{api: api, onDatabricks: onDatabricks, now: time.Now}
}

// Host returns the tracking server base URL.
func (c *Client) Host() string {
	return c.api.Host()
}

// OnDatabricks reports whether the tracking server is a Databricks workspace.
func (c *Client) OnDatabricks() bool {
	return c.onDatabricks
}

func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	return c.api.Do(ctx, method, apiPrefix+endpoint, query, body, out)
}

func (c *Client) nowMillis() int64 {
	return c.now().UnixMilli()
}

// GetExperimentByName returns the experiment or a not-found *databricks.APIError.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var resp struct {
		Experiment Experiment `json:"experiment"`
	}
	q := url.Values{"experiment_name": {name}}
	if err := c.call(ctx, http.MethodGet, "/experiments/get-by-name", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get experiment %q: %w", name, err)
	}
	return &resp.Experiment, nil
}

func (c *Client) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	var resp struct {
		Experiment Experiment `json:"experiment"`
	}
	if err := c.call(ctx, http.MethodGet, "/experiments/get", url.Values{"experiment_id": {id}}, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get experiment %s: %w", id, err)
	}
	return &resp.Experiment, nil
}

// CreateExperiment returns the new experiment's id.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	var resp struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/experiments/create", nil, map[string]string{"name": name}, &resp); err != nil {
		return "", fmt.Errorf("failed to create experiment %q: %w", name, err)
	}
	return resp.ExperimentID, nil
}

// SetExperiment gets the experiment by name, creating it if needed.
func (c *Client) SetExperiment(ctx context.Context, name string) (*Experiment, error) {
	exp, err := c.GetExperimentByName(ctx, name)
	if err == nil {
		return exp, nil
	}
	if !databricks.IsNotFound(err) {
		return nil, err
	}

	id, err := c.CreateExperiment(ctx, name)
	if err != nil {
		// Lost a creation race; read it back.
		if databricks.IsAlreadyExists(err) {
			return c.GetExperimentByName(ctx, name)
		}
		return nil, err
	}
	logger.Info().Str("experiment", name).Str("experiment_id", id).Msg("created experiment")
	return c.GetExperiment(ctx, id)
}

func (c *Client) CreateRun(ctx context.Context, experimentID, runName string, tags map[string]string) (*Run, error) {
	req := map[string]any{
		"experiment_id": experimentID,
		"run_name":      runName,
		"start_time":    c.nowMillis(),
		"tags":          sortedTags(tags),
	}
	var resp struct {
		Run Run `json:"run"`
	}
	if err := c.call(ctx, http.MethodPost, "/runs/create", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &resp.Run, nil
}

// UpdateRun sets the run's terminal status and end time.
func (c *Client) UpdateRun(ctx context.Context, runID, status string) (*RunInfo, error) {
	req := map[string]any{
		"run_id":   runID,
		"status":   status,
		"end_time": c.nowMillis(),
	}
	var resp struct {
		RunInfo RunInfo `json:"run_info"`
	}
	if err := c.call(ctx, http.MethodPost, "/runs/update", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return &resp.RunInfo, nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	var resp struct {
		Run Run `json:"run"`
	}
	if err := c.call(ctx, http.MethodGet, "/runs/get", url.Values{"run_id": {runID}}, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return &resp.Run, nil
}

// LogBatch records params, metrics and tags in one call.
func (c *Client) LogBatch(ctx context.Context, runID string, params []Param, metrics []Metric, tags []Tag) error {
	req := map[string]any{
		"run_id":  runID,
		"params":  nonNil(params),
		"metrics": nonNil(metrics),
		"tags":    nonNil(tags),
	}
	if err := c.call(ctx, http.MethodPost, "/runs/log-batch", nil, req, nil); err != nil {
		return fmt.Errorf("failed to log batch to run %s: %w", runID, err)
	}
	return nil
}

// LogParams stringifies values with fmt.
func (c *Client) LogParams(ctx context.Context, runID string, params map[string]any) error {
	keys := sortedKeys(params)
	batch := make([]Param, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, Param{Key: k, Value: fmt.Sprint(params[k])})
	}
	return c.LogBatch(ctx, runID, batch, nil, nil)
}

func (c *Client) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	ts := c.nowMillis()
	keys := sortedKeys(metrics)
	batch := make([]Metric, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, Metric{Key: k, Value: metrics[k], Timestamp: ts})
	}
	return c.LogBatch(ctx, runID, nil, batch, nil)
}

// RecordLoggedModel attaches the MLmodel descriptor to the run's
// mlflow.log-model.history tag.
func (c *Client) RecordLoggedModel(ctx context.Context, runID string, m *MLModel) error {
	modelJSON, err := m.JSON()
	if err != nil {
		return err
	}
	req := map[string]string{"run_id": runID, "model_json": modelJSON}
	if err := c.call(ctx, http.MethodPost, "/runs/log-model", nil, req, nil); err != nil {
		return fmt.Errorf("failed to record model on run %s: %w", runID, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTags(tags map[string]string) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, Tag{Key: k, Value: tags[k]})
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
