// Package databricks is the REST transport shared by the compute and MLflow
// clients. Credentials come from an Authenticator; for workspaces this is the
// Databricks SDK's unified auth configuration.
package databricks

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"databricks_smoke/internal/logger"

	"github.com/bytedance/sonic"
)

const (
	DefaultTimeout   = 60 * time.Second
	DefaultUserAgent = "databricks-smoke/1.0"
	maxErrorBody     = 4096
)

// Authenticator decorates a request with credentials. The SDK's
// *config.Config implements it.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// AuthFunc adapts a function to Authenticator.
type AuthFunc func(r *http.Request) error

func (f AuthFunc) Authenticate(r *http.Request) error { return f(r) }

// NoAuth sends requests without credentials.
var NoAuth = AuthFunc(func(*http.Request) error { return nil })

// BearerToken authenticates with a static token.
func BearerToken(token string) Authenticator {
	return AuthFunc(func(r *http.Request) error {
		r.Header.Set("Authorization", "Bearer "+token)
		return nil
	})
}

// BasicAuth authenticates with a username and password.
func BasicAuth(user, password string) Authenticator {
	return AuthFunc(func(r *http.Request) error {
		cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		r.Header.Set("Authorization", "Basic "+cred)
		return nil
	})
}

// Client calls JSON REST endpoints below a base URL.
type Client struct {
	host       string
	auth       Authenticator
	httpClient *http.Client
	userAgent  string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on a copy of the HTTP client, so a
// client passed to WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.httpClient
			hc.Timeout = d
			c.httpClient = &hc
		}
	}
}

// NewClient creates a client for host (scheme included).
func NewClient(host string, auth Authenticator, opts ...Option) *Client {
	if auth == nil {
		auth = NoAuth
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	c := &Client{
		host:       strings.TrimRight(host, "/"),
		auth:       auth,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host returns the base URL requests are sent to.
func (c *Client) Host() string {
	return c.host
}

// Do sends body (if non-nil) as JSON and decodes the response into out (if
// non-nil). Non-2xx responses become *APIError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.auth.Authenticate(req); err != nil {
		return fmt.Errorf("failed to authenticate request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("rest call")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, method, path, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Upload PUTs body to an object-storage URL. Presigned URLs carry their own
// credentials and take a nil sign; temporary cloud credentials are applied
// through sign.
func (c *Client) Upload(ctx context.Context, objectURL string, sign Authenticator, headers map[string]string, body []byte) error {
	_, _, err := c.object(ctx, http.MethodPut, objectURL, sign, headers, body)
	return err
}

// Download GETs an object-storage URL.
func (c *Client) Download(ctx context.Context, objectURL string, sign Authenticator, headers map[string]string) ([]byte, error) {
	data, _, err := c.object(ctx, http.MethodGet, objectURL, sign, headers, nil)
	return data, err
}

// ObjectHeaders sends an anonymous HEAD and returns the response headers
// whatever the status. S3 names a bucket's region this way.
func (c *Client) ObjectHeaders(ctx context.Context, objectURL string) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, objectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build HEAD request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HEAD %s: %w", hostOf(objectURL), err)
	}
	resp.Body.Close()
	return resp.Header, nil
}

func (c *Client) object(ctx context.Context, method, objectURL string, sign Authenticator, headers map[string]string, body []byte) ([]byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, objectURL, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if sign != nil {
		if err := sign.Authenticate(req); err != nil {
			return nil, nil, fmt.Errorf("failed to sign %s request: %w", method, err)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, hostOf(objectURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, resp.Header, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Method:     method,
			URL:        redactQuery(objectURL),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("failed to read %s: %w", redactQuery(objectURL), err)
	}
	return data, resp.Header, nil
}

// GetAuthenticated GETs raw bytes from an endpoint below the client host.
func (c *Client) GetAuthenticated(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build GET %s request: %w", path, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if err := c.auth.Authenticate(req); err != nil {
		return nil, fmt.Errorf("failed to authenticate request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read GET %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp.StatusCode, http.MethodGet, path, data)
	}
	return data, nil
}

// PutAuthenticated PUTs raw bytes to an endpoint below the client host, e.g.
// the MLflow artifact proxy.
func (c *Client) PutAuthenticated(ctx context.Context, path, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.host+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build PUT %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.userAgent)
	if err := c.auth.Authenticate(req); err != nil {
		return fmt.Errorf("failed to authenticate request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("PUT %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return decodeAPIError(resp.StatusCode, http.MethodPut, path, data)
	}
	return nil
}

type errorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func decodeAPIError(status int, method, path string, data []byte) error {
	apiErr := &APIError{StatusCode: status, Method: method, URL: path}
	var eb errorBody
	if err := sonic.Unmarshal(data, &eb); err == nil && (eb.ErrorCode != "" || eb.Message != "") {
		apiErr.ErrorCode = eb.ErrorCode
		apiErr.Message = eb.Message
		return apiErr
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	apiErr.Message = msg
	return apiErr
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "object storage"
	}
	return u.Host
}

// redactQuery drops the signature from presigned URLs before they are shown.
func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "object storage"
	}
	u.RawQuery = ""
	return u.String()
}
