package mlflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"databricks_smoke/internal/databricks"
	"databricks_smoke/internal/logger"
)

const ucPrefix = "/api/2.0/mlflow/unity-catalog"

// Registry is a model registry: either the workspace registry or the
// Unity Catalog registry, which uses three-level names and a finalize step.
type Registry struct {
	api          *databricks.Client
	prefix       string
	unityCatalog bool
	artifacts    ArtifactSource
	poll         databricks.PollPolicy
}

// ArtifactSource reads a run's logged files. *Client implements it.
type ArtifactSource interface {
	DownloadArtifacts(ctx context.Context, run RunInfo, dir string) (map[string][]byte, error)
}

type RegistryOption func(*Registry)

// WithArtifactSource sets where Unity Catalog registration reads the model
// files it copies into the version's storage.
func WithArtifactSource(src ArtifactSource) RegistryOption {
	return func(r *Registry) { r.artifacts = src }
}

// NewRegistry creates a registry client on api.
func NewRegistry(api *databricks.Client, unityCatalog bool, opts ...RegistryOption) *Registry {
	prefix := apiPrefix
	if unityCatalog {
		prefix = ucPrefix
	}
	r := &Registry{
		api:          api,
		prefix:       prefix,
		unityCatalog: unityCatalog,
		poll:         databricks.PollPolicy{Initial: time.Second, Max: 5 * time.Second, Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UnityCatalog reports whether the registry is backed by Unity Catalog.
func (r *Registry) UnityCatalog() bool {
	return r.unityCatalog
}

func (r *Registry) call(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	return r.api.Do(ctx, method, r.prefix+endpoint, query, body, out)
}

// CreateRegisteredModel creates the model; an existing model is not an error.
func (r *Registry) CreateRegisteredModel(ctx context.Context, name string) error {
	if r.unityCatalog && strings.Count(name, ".") != 2 {
		return fmt.Errorf("unity catalog model name %q must be catalog.schema.model", name)
	}
	err := r.call(ctx, http.MethodPost, "/registered-models/create", nil, map[string]string{"name": name}, nil)
	if databricks.IsAlreadyExists(err) {
		logger.Debug().Str("model", name).Msg("registered model already exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create registered model %s: %w", name, err)
	}
	return nil
}

func (r *Registry) CreateModelVersion(ctx context.Context, name, source, runID string) (*ModelVersion, error) {
	req := map[string]string{"name": name, "source": source, "run_id": runID}
	var resp struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	if err := r.call(ctx, http.MethodPost, "/model-versions/create", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to create version of %s: %w", name, err)
	}
	return &resp.ModelVersion, nil
}

func (r *Registry) GetModelVersion(ctx context.Context, name, version string) (*ModelVersion, error) {
	var resp struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	q := url.Values{"name": {name}, "version": {version}}
	if err := r.call(ctx, http.MethodGet, "/model-versions/get", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get %s version %s: %w", name, version, err)
	}
	return &resp.ModelVersion, nil
}

// FinalizeModelVersion moves a Unity Catalog version out of
// PENDING_REGISTRATION once its files are in place.
func (r *Registry) FinalizeModelVersion(ctx context.Context, name, version string) (*ModelVersion, error) {
	if !r.unityCatalog {
		return nil, fmt.Errorf("finalize is only supported by the unity catalog registry")
	}
	var resp struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	req := map[string]string{"name": name, "version": version}
	if err := r.call(ctx, http.MethodPost, "/model-versions/finalize", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to finalize %s version %s: %w", name, version, err)
	}
	return &resp.ModelVersion, nil
}

// WaitReady polls until the version is READY or registration fails.
func (r *Registry) WaitReady(ctx context.Context, name, version string) (*ModelVersion, error) {
	return databricks.Poll(ctx, r.poll, func(ctx context.Context) (*ModelVersion, bool, error) {
		mv, err := r.GetModelVersion(ctx, name, version)
		if err != nil {
			return nil, false, err
		}
		switch mv.Status {
		case VersionReady:
			return mv, true, nil
		case VersionFailed:
			return mv, false, fmt.Errorf("registration of %s version %s failed: %s", name, version, mv.StatusMessage)
		}
		return mv, false, nil
	})
}

func (r *Registry) UpdateModelVersion(ctx context.Context, name, version, description string) error {
	req := map[string]string{"name": name, "version": version, "description": description}
	if err := r.call(ctx, http.MethodPatch, "/model-versions/update", nil, req, nil); err != nil {
		return fmt.Errorf("failed to update %s version %s: %w", name, version, err)
	}
	return nil
}

func (r *Registry) SetModelVersionTag(ctx context.Context, name, version, key, value string) error {
	req := map[string]string{"name": name, "version": version, "key": key, "value": value}
	if err := r.call(ctx, http.MethodPost, "/model-versions/set-tag", nil, req, nil); err != nil {
		return fmt.Errorf("failed to tag %s version %s: %w", name, version, err)
	}
	return nil
}

// RegisterModel registers the model logged at <run artifact root>/<artifactPath>
// as a new version of name and waits for it to become READY. Unity Catalog
// versions are served from their own storage, so the model files are copied
// there before the version is finalized.
func (r *Registry) RegisterModel(ctx context.Context, run RunInfo, artifactPath, name string) (*ModelVersion, error) {
	var files map[string][]byte
	if r.unityCatalog {
		if r.artifacts == nil {
			return nil, fmt.Errorf("cannot register %s in unity catalog: no artifact source to copy the model from", name)
		}
		var err error
		if files, err = r.artifacts.DownloadArtifacts(ctx, run, artifactPath); err != nil {
			return nil, fmt.Errorf("failed to read model %s of run %s: %w", artifactPath, run.RunID, err)
		}
	}

	if err := r.CreateRegisteredModel(ctx, name); err != nil {
		return nil, err
	}
	source := strings.TrimRight(run.ArtifactURI, "/") + "/" + artifactPath
	mv, err := r.CreateModelVersion(ctx, name, source, run.RunID)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("model", name).Str("version", mv.Version).Str("status", mv.Status).Msg("model version created")

	if r.unityCatalog && mv.Status == VersionPending {
		if err := r.copyModelFiles(ctx, mv, files); err != nil {
			return nil, err
		}
		if mv, err = r.FinalizeModelVersion(ctx, name, mv.Version); err != nil {
			return nil, err
		}
	}
	if mv.Status == VersionReady {
		return mv, nil
	}
	return r.WaitReady(ctx, name, mv.Version)
}
