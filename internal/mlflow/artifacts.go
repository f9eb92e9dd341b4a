package mlflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"databricks_smoke/internal/logger"

	"github.com/bytedance/sonic"
)

const proxyPrefix = "/api/2.0/mlflow-artifacts/artifacts/"

// Signed credential types returned by the Databricks credentials endpoints.
const (
	credAWS   = "AWS_PRESIGNED_URL"
	credAzure = "AZURE_SAS_URI"
	credGCP   = "GCP_SIGNED_URL"
)

// ListArtifacts lists the run's artifacts directly below dir ("" for the root).
func (c *Client) ListArtifacts(ctx context.Context, runID, dir string) ([]FileInfo, error) {
	q := url.Values{"run_id": {runID}}
	if dir != "" {
		q.Set("path", dir)
	}
	var resp struct {
		RootURI string     `json:"root_uri"`
		Files   []FileInfo `json:"files"`
	}
	if err := c.call(ctx, http.MethodGet, "/artifacts/list", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list artifacts of run %s: %w", runID, err)
	}
	return resp.Files, nil
}

// DownloadArtifacts reads every file below dir, keyed by path relative to dir.
func (c *Client) DownloadArtifacts(ctx context.Context, run RunInfo, dir string) (map[string][]byte, error) {
	dir = strings.Trim(dir, "/")
	files := map[string][]byte{}
	if err := c.downloadTree(ctx, run, dir, dir, files); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("run %s has no artifacts under %q", run.RunID, dir)
	}
	return files, nil
}

func (c *Client) downloadTree(ctx context.Context, run RunInfo, root, dir string, files map[string][]byte) error {
	entries, err := c.ListArtifacts(ctx, run.RunID, dir)
	if err != nil {
		return err
	}
	for _, f := range entries {
		if f.Path == "" || f.Path == dir {
			continue
		}
		if f.IsDir {
			if err := c.downloadTree(ctx, run, root, f.Path, files); err != nil {
				return err
			}
			continue
		}
		data, err := c.readArtifact(ctx, run, f.Path)
		if err != nil {
			return fmt.Errorf("failed to download artifact %s: %w", f.Path, err)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(f.Path, root), "/")
		files[rel] = data
	}
	return nil
}

func (c *Client) readArtifact(ctx context.Context, run RunInfo, artifactPath string) ([]byte, error) {
	if !c.onDatabricks {
		p, err := proxyPath(run.ArtifactURI, artifactPath)
		if err != nil {
			return nil, err
		}
		return c.api.GetAuthenticated(ctx, p)
	}

	var resp struct {
		CredentialInfos []artifactCredential `json:"credential_infos"`
	}
	q := url.Values{"run_id": {run.RunID}, "path": {artifactPath}}
	if err := c.call(ctx, http.MethodGet, "/artifacts/credentials-for-read", q, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.CredentialInfos) == 0 {
		return nil, fmt.Errorf("no read credentials returned for %s", artifactPath)
	}
	cred := resp.CredentialInfos[0]
	headers := make(map[string]string, len(cred.Headers))
	for _, h := range cred.Headers {
		headers[h.Name] = h.Value
	}
	return c.api.Download(ctx, cred.SignedURI, nil, headers)
}

// LogArtifact stores data at artifactPath relative to the run's artifact root.
func (c *Client) LogArtifact(ctx context.Context, run RunInfo, artifactPath string, data []byte) error {
	artifactPath = strings.TrimPrefix(path.Clean("/"+artifactPath), "/")
	if artifactPath == "" {
		return fmt.Errorf("empty artifact path")
	}

	var err error
	if c.onDatabricks {
		err = c.uploadWithWriteCredentials(ctx, run.RunID, artifactPath, data)
	} else {
		err = c.uploadThroughProxy(ctx, run.ArtifactURI, artifactPath, data)
	}
	if err != nil {
		return fmt.Errorf("failed to log artifact %s: %w", artifactPath, err)
	}
	logger.Debug().Str("run_id", run.RunID).Str("path", artifactPath).Int("bytes", len(data)).Msg("artifact logged")
	return nil
}

// LogDict writes v as a JSON artifact.
func (c *Client) LogDict(ctx context.Context, run RunInfo, v any, artifactPath string) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", artifactPath, err)
	}
	return c.LogArtifact(ctx, run, artifactPath, data)
}

// LogModel uploads the model directory and records the descriptor on the run.
func (c *Client) LogModel(ctx context.Context, run RunInfo, m *MLModel, files map[string][]byte) error {
	descriptor, err := m.YAML()
	if err != nil {
		return err
	}
	for _, name := range sortedKeys(files) {
		if err := c.LogArtifact(ctx, run, path.Join(m.ArtifactPath, name), files[name]); err != nil {
			return err
		}
	}
	if err := c.LogArtifact(ctx, run, path.Join(m.ArtifactPath, MLModelFile), descriptor); err != nil {
		return err
	}
	return c.RecordLoggedModel(ctx, run.RunID, m)
}

func (c *Client) uploadWithWriteCredentials(ctx context.Context, runID, artifactPath string, data []byte) error {
	var resp struct {
		CredentialInfos []artifactCredential `json:"credential_infos"`
	}
	q := url.Values{"run_id": {runID}, "path": {artifactPath}}
	if err := c.call(ctx, http.MethodGet, "/artifacts/credentials-for-write", q, nil, &resp); err != nil {
		return err
	}
	if len(resp.CredentialInfos) == 0 {
		return fmt.Errorf("no write credentials returned for %s", artifactPath)
	}
	return c.uploadSigned(ctx, resp.CredentialInfos[0], data)
}

func (c *Client) uploadSigned(ctx context.Context, cred artifactCredential, data []byte) error {
	headers := make(map[string]string, len(cred.Headers)+1)
	for _, h := range cred.Headers {
		headers[h.Name] = h.Value
	}
	switch cred.Type {
	case credAWS, credGCP:
	case credAzure:
		headers["x-ms-blob-type"] = "BlockBlob"
	default:
		return fmt.Errorf("unsupported credential type %q", cred.Type)
	}
	return c.api.Upload(ctx, cred.SignedURI, nil, headers, data)
}

func (c *Client) uploadThroughProxy(ctx context.Context, artifactURI, artifactPath string, data []byte) error {
	p, err := proxyPath(artifactURI, artifactPath)
	if err != nil {
		return err
	}
	return c.api.PutAuthenticated(ctx, p, "application/octet-stream", data)
}

// proxyPath maps mlflow-artifacts:/<root> plus a relative path to the
// tracking server's artifact proxy endpoint.
func proxyPath(artifactURI, rel string) (string, error) {
	u, err := url.Parse(artifactURI)
	if err != nil {
		return "", fmt.Errorf("invalid artifact URI %q: %w", artifactURI, err)
	}
	if u.Scheme != "mlflow-artifacts" {
		return "", fmt.Errorf("artifact URI %q is not served by the tracking server; start it with --serve-artifacts", artifactURI)
	}
	root := strings.Trim(u.Path, "/")
	return proxyPrefix + path.Join(root, rel), nil
}
