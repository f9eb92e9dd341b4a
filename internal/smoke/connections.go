package smoke

import (
	"context"
	"fmt"

	"databricks_smoke/internal/config"
	"databricks_smoke/internal/databricks"
	"databricks_smoke/internal/diagnose"
	"databricks_smoke/internal/mlflow"

	sdk "github.com/databricks/databricks-sdk-go"
)

// Connections resolves and caches the clients a suite needs.
type Connections struct {
	env *config.Env

	compute  *sdk.WorkspaceClient
	tracking *mlflow.Client
	registry *mlflow.Registry

	trackingURI config.ServiceURI
	registryURI config.ServiceURI
}

// NewConnections parses the tracking and registry URIs in env. Nothing is
// contacted until a client is requested.
func NewConnections(env *config.Env) *Connections {
	c := &Connections{env: env}
	if uri, err := config.ParseServiceURI(env.TrackingURI); err == nil {
		c.trackingURI = uri
		if reg, err := env.RegistryServiceURI(uri); err == nil {
			c.registryURI = reg
		}
	}
	return c
}

// RegistryURI is the parsed MLFLOW_REGISTRY_URI, or the tracking URI.
func (c *Connections) RegistryURI() config.ServiceURI {
	return c.registryURI
}

// Compute returns the SDK workspace client resolved from
// DATABRICKS_CONFIG_PROFILE and DATABRICKS_HOST.
func (c *Connections) Compute(ctx context.Context) (*sdk.WorkspaceClient, error) {
	if c.compute != nil {
		return c.compute, nil
	}
	w, err := databricks.WorkspaceClient(ctx, c.env.ConfigProfile, c.env.Host, c.env.HTTPTimeout)
	if err != nil {
		return nil, err
	}
	c.compute = w
	return w, nil
}

// Tracking returns the MLflow tracking client for MLFLOW_TRACKING_URI.
func (c *Connections) Tracking(ctx context.Context) (*mlflow.Client, error) {
	if c.tracking != nil {
		return c.tracking, nil
	}
	uri, err := config.ParseServiceURI(c.env.TrackingURI)
	if err != nil {
		return nil, fmt.Errorf("%w: MLFLOW_TRACKING_URI: %v", diagnose.ErrConfigMissing, err)
	}
	api, err := c.dial(ctx, uri)
	if err != nil {
		return nil, err
	}
	c.trackingURI = uri
	c.tracking = mlflow.NewClient(api, uri.IsDatabricks())
	return c.tracking, nil
}

// Registry returns the model registry for MLFLOW_REGISTRY_URI, falling back
// to the tracking URI.
func (c *Connections) Registry(ctx context.Context) (*mlflow.Registry, error) {
	if c.registry != nil {
		return c.registry, nil
	}
	tracking, err := config.ParseServiceURI(c.env.TrackingURI)
	if err != nil {
		return nil, fmt.Errorf("%w: MLFLOW_TRACKING_URI: %v", diagnose.ErrConfigMissing, err)
	}
	uri, err := c.env.RegistryServiceURI(tracking)
	if err != nil {
		return nil, fmt.Errorf("%w: MLFLOW_REGISTRY_URI: %v", diagnose.ErrConfigMissing, err)
	}
	api, err := c.dial(ctx, uri)
	if err != nil {
		return nil, err
	}
	var opts []mlflow.RegistryOption
	if uri.Kind == config.KindUnityCatalog {
		// Model files are read from the tracking server's run artifacts.
		runs, err := c.Tracking(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mlflow.WithArtifactSource(runs))
	}
	c.registryURI = uri
	c.registry = mlflow.NewRegistry(api, uri.Kind == config.KindUnityCatalog, opts...)
	return c.registry, nil
}

func (c *Connections) dial(ctx context.Context, uri config.ServiceURI) (*databricks.Client, error) {
	if uri.IsDatabricks() {
		profile := uri.Profile
		if profile == "" {
			profile = c.env.ProfileName()
		}
		return databricks.Workspace(ctx, profile, c.env.Host, databricks.WithTimeout(c.env.HTTPTimeout))
	}

	var auth databricks.Authenticator = databricks.NoAuth
	switch {
	case c.env.TrackingToken != "":
		auth = databricks.BearerToken(c.env.TrackingToken)
	case c.env.TrackingUser != "":
		auth = databricks.BasicAuth(c.env.TrackingUser, c.env.TrackingPass)
	}
	return databricks.NewClient(uri.BaseURL, auth, databricks.WithTimeout(c.env.HTTPTimeout)), nil
}
