package mlflow

import (
	"context"
	"fmt"

	"databricks_smoke/internal/logger"
)

// ActiveRun is a run started by this process. End must be called once.
type ActiveRun struct {
	client *Client
	Info   RunInfo
}

// StartRun creates a run in the experiment and returns it as active.
func (c *Client) StartRun(ctx context.Context, experimentID, runName string, tags map[string]string) (*ActiveRun, error) {
	run, err := c.CreateRun(ctx, experimentID, runName, tags)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("run_id", run.Info.RunID).Str("run_name", run.Info.RunName).Msg("run started")
	return &ActiveRun{client: c, Info: run.Info}, nil
}

func (r *ActiveRun) ID() string {
	return r.Info.RunID
}

func (r *ActiveRun) LogParams(ctx context.Context, params map[string]any) error {
	return r.client.LogParams(ctx, r.Info.RunID, params)
}

func (r *ActiveRun) LogParam(ctx context.Context, key string, value any) error {
	return r.client.LogParams(ctx, r.Info.RunID, map[string]any{key: value})
}

func (r *ActiveRun) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	return r.client.LogMetrics(ctx, r.Info.RunID, metrics)
}

func (r *ActiveRun) LogMetric(ctx context.Context, key string, value float64) error {
	return r.client.LogMetrics(ctx, r.Info.RunID, map[string]float64{key: value})
}

func (r *ActiveRun) LogArtifact(ctx context.Context, artifactPath string, data []byte) error {
	return r.client.LogArtifact(ctx, r.Info, artifactPath, data)
}

func (r *ActiveRun) LogDict(ctx context.Context, v any, artifactPath string) error {
	return r.client.LogDict(ctx, r.Info, v, artifactPath)
}

// LogModel uploads the model files and MLmodel descriptor under
// m.ArtifactPath and records the model on the run.
func (r *ActiveRun) LogModel(ctx context.Context, m *MLModel, files map[string][]byte) error {
	m.RunID = r.Info.RunID
	return r.client.LogModel(ctx, r.Info, m, files)
}

// End marks the run FINISHED, or FAILED when runErr is non-nil.
func (r *ActiveRun) End(ctx context.Context, runErr error) error {
	status := RunFinished
	if runErr != nil {
		status = RunFailed
	}
	info, err := r.client.UpdateRun(ctx, r.Info.RunID, status)
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	r.Info.Status = info.Status
	r.Info.EndTime = info.EndTime
	if r.Info.Status == "" {
		r.Info.Status = status
	}
	return nil
}
