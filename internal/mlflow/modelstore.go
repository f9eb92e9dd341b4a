package mlflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"databricks_smoke/internal/databricks"
	"databricks_smoke/internal/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	readWriteOperation = "MODEL_VERSION_OPERATION_READ_WRITE"
	defaultS3Region    = "us-east-1"
)

// storageCredentials are scoped to a single Unity Catalog model version.
// Exactly one cloud is set.
type storageCredentials struct {
	AWS *struct {
		AccessKeyID     string `json:"access_key_id"`
		SecretAccessKey string `json:"secret_access_key"`
		SessionToken    string `json:"session_token"`
	} `json:"aws_temp_credentials"`
	Azure *struct {
		SASToken string `json:"sas_token"`
	} `json:"azure_user_delegation_sas"`
	GCP *struct {
		OAuthToken string `json:"oauth_token"`
	} `json:"gcp_oauth_token"`
	ExpirationTime int64 `json:"expiration_time"`
}

func (r *Registry) generateTemporaryCredentials(ctx context.Context, name, version string) (*storageCredentials, error) {
	req := map[string]string{"name": name, "version": version, "operation": readWriteOperation}
	var resp struct {
		Credentials storageCredentials `json:"credentials"`
	}
	if err := r.call(ctx, http.MethodPost, "/model-versions/generate-temporary-credentials", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to get storage credentials for %s version %s: %w", name, version, err)
	}
	return &resp.Credentials, nil
}

// versionStore writes objects below a model version's storage location.
type versionStore struct {
	api      *databricks.Client
	location *url.URL
	creds    *storageCredentials
	region   string
	now      func() time.Time
}

func (r *Registry) openVersionStore(ctx context.Context, mv *ModelVersion) (*versionStore, error) {
	if mv.StorageLocation == "" {
		return nil, fmt.Errorf("%s version %s has no storage location", mv.Name, mv.Version)
	}
	loc, err := url.Parse(mv.StorageLocation)
	if err != nil {
		return nil, fmt.Errorf("invalid storage location %q: %w", mv.StorageLocation, err)
	}
	creds, err := r.generateTemporaryCredentials(ctx, mv.Name, mv.Version)
	if err != nil {
		return nil, err
	}

	s := &versionStore{api: r.api, location: loc, creds: creds, now: time.Now}
	switch loc.Scheme {
	case "s3":
		if creds.AWS == nil {
			return nil, fmt.Errorf("no AWS credentials returned for %s", mv.StorageLocation)
		}
		s.region = s.bucketRegion(ctx)
	case "abfss":
		if creds.Azure == nil {
			return nil, fmt.Errorf("no Azure SAS token returned for %s", mv.StorageLocation)
		}
	case "gs":
		if creds.GCP == nil {
			return nil, fmt.Errorf("no GCP token returned for %s", mv.StorageLocation)
		}
	default:
		return nil, fmt.Errorf("unsupported storage location %q", mv.StorageLocation)
	}
	return s, nil
}

// bucketRegion asks S3 which region holds the bucket.
func (s *versionStore) bucketRegion(ctx context.Context) string {
	h, err := s.api.ObjectHeaders(ctx, "https://"+s.location.Host+".s3.amazonaws.com/")
	if err != nil {
		logger.Warn().Err(err).Str("bucket", s.location.Host).Msg("bucket region lookup failed")
		return defaultS3Region
	}
	if region := h.Get("x-amz-bucket-region"); region != "" {
		return region
	}
	return defaultS3Region
}

// objectURL maps a file below the storage location to its HTTPS endpoint.
func (s *versionStore) objectURL(rel string) (string, error) {
	key := path.Join(strings.Trim(s.location.Path, "/"), rel)
	switch s.location.Scheme {
	case "s3":
		u := url.URL{Scheme: "https", Host: s.location.Host + ".s3." + s.region + ".amazonaws.com", Path: "/" + key}
		return u.String(), nil
	case "abfss":
		// abfss://<container>@<account>.dfs.core.windows.net/<path>
		if s.location.User == nil {
			return "", fmt.Errorf("storage location %s names no container", s.location)
		}
		host := strings.Replace(s.location.Host, ".dfs.", ".blob.", 1)
		u := url.URL{
			Scheme:   "https",
			Host:     host,
			Path:     "/" + path.Join(s.location.User.Username(), key),
			RawQuery: strings.TrimPrefix(s.creds.Azure.SASToken, "?"),
		}
		return u.String(), nil
	case "gs":
		u := url.URL{Scheme: "https", Host: "storage.googleapis.com", Path: "/" + path.Join(s.location.Host, key)}
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported storage scheme %q", s.location.Scheme)
}

func (s *versionStore) put(ctx context.Context, rel string, data []byte) error {
	target, err := s.objectURL(rel)
	if err != nil {
		return err
	}
	var (
		sign    databricks.Authenticator
		headers map[string]string
	)
	switch s.location.Scheme {
	case "s3":
		sign = s.sigV4(data)
	case "abfss":
		headers = map[string]string{"x-ms-blob-type": "BlockBlob"}
	case "gs":
		sign = databricks.BearerToken(s.creds.GCP.OAuthToken)
	}
	if err := s.api.Upload(ctx, target, sign, headers, data); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", rel, s.location, err)
	}
	return nil
}

func (s *versionStore) sigV4(data []byte) databricks.Authenticator {
	sum := sha256.Sum256(data)
	payloadHash := hex.EncodeToString(sum[:])
	creds := aws.Credentials{
		AccessKeyID:     s.creds.AWS.AccessKeyID,
		SecretAccessKey: s.creds.AWS.SecretAccessKey,
		SessionToken:    s.creds.AWS.SessionToken,
	}
	signer := v4.NewSigner(func(o *v4.SignerOptions) { o.DisableURIPathEscaping = true })
	return databricks.AuthFunc(func(r *http.Request) error {
		r.Header.Set("X-Amz-Content-Sha256", payloadHash)
		return signer.SignHTTP(r.Context(), creds, r, payloadHash, "s3", s.region, s.now())
	})
}

// copyModelFiles places the logged model directory in the version's
// storage location.
func (r *Registry) copyModelFiles(ctx context.Context, mv *ModelVersion, files map[string][]byte) error {
	store, err := r.openVersionStore(ctx, mv)
	if err != nil {
		return err
	}
	for _, name := range sortedKeys(files) {
		if err := store.put(ctx, name, files[name]); err != nil {
			return err
		}
	}
	logger.Info().
		Str("model", mv.Name).
		Str("version", mv.Version).
		Int("files", len(files)).
		Str("location", mv.StorageLocation).
		Msg("model files copied")
	return nil
}
