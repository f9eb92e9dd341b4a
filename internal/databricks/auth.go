package databricks

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	sdk "github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/config"
)

// cliAuthType is the SDK auth type that shells out to the databricks CLI.
const cliAuthType = "databricks-cli"

// ResolveConfig resolves a Databricks profile (or DATABRICKS_* env vars)
// through the SDK's unified auth and authenticates once, so a bad login
// fails here instead of on the first API call.
func ResolveConfig(ctx context.Context, profile, host string) (*config.Config, error) {
	cfg := &config.Config{
		Profile: profile,
		Host:    host,
	}
	if err := cfg.EnsureResolved(); err != nil {
		return nil, fmt.Errorf("failed to resolve Databricks profile %q: %w", profile, err)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("profile %q does not define a workspace host", profile)
	}
	if err := requireCLI(cfg); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Host, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace host %q: %w", cfg.Host, err)
	}
	if err := cfg.Authenticate(req); err != nil {
		return nil, fmt.Errorf("failed to authenticate with profile %q: %w", profile, err)
	}
	return cfg, nil
}

// requireCLI fails with exec.ErrNotFound when the profile authenticates
// through the databricks CLI and the binary is not on PATH.
func requireCLI(cfg *config.Config) error {
	if cfg.AuthType != cliAuthType {
		return nil
	}
	if _, err := exec.LookPath("databricks"); err != nil {
		return fmt.Errorf("profile %q uses %s auth: %w", cfg.Profile, cliAuthType, err)
	}
	return nil
}

// Workspace returns a REST client for the workspace a profile points at.
func Workspace(ctx context.Context, profile, host string, opts ...Option) (*Client, error) {
	cfg, err := ResolveConfig(ctx, profile, host)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg.Host, cfg, opts...), nil
}

// WorkspaceClient returns the SDK workspace client for a profile. A zero
// timeout keeps the SDK default.
func WorkspaceClient(ctx context.Context, profile, host string, timeout time.Duration) (*sdk.WorkspaceClient, error) {
	cfg, err := ResolveConfig(ctx, profile, host)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		cfg.HTTPTimeoutSeconds = int(timeout.Seconds())
	}
	w, err := sdk.NewWorkspaceClient((*sdk.Config)(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace client for %s: %w", cfg.Host, err)
	}
	return w, nil
}
