package mlflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"databricks_smoke/internal/databricks"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures requests so tests can assert on the wire calls.
type recorder struct {
	mu    sync.Mutex
	calls []string
	body  map[string][]byte
}

func newRecorder() *recorder {
	return &recorder{body: map[string][]byte{}}
}

func (rec *recorder) record(r *http.Request) []byte {
	data, _ := io.ReadAll(r.Body)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.calls = append(rec.calls, r.Method+" "+r.URL.Path)
	rec.body[r.URL.Path] = data
	return data
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, _ := sonic.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func newServer(t *testing.T, mux *http.ServeMux) *databricks.Client {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return databricks.NewClient(srv.URL, databricks.BearerToken("tok"))
}

func fixedClock(c *Client) {
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
}

func TestSetExperimentCreatesMissing(t *testing.T) {
	rec := newRecorder()
	created := false
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow/experiments/get-by-name", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		writeJSON(w, http.StatusNotFound, map[string]string{"error_code": "RESOURCE_DOES_NOT_EXIST", "message": "not found"})
	})
	mux.HandleFunc("/api/2.0/mlflow/experiments/create", func(w http.ResponseWriter, r *http.Request) {
		body := rec.record(r)
		assert.JSONEq(t, `{"name":"/Users/ana/test"}`, string(body))
		created = true
		writeJSON(w, http.StatusOK, map[string]string{"experiment_id": "7"})
	})
	mux.HandleFunc("/api/2.0/mlflow/experiments/get", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("experiment_id"))
		writeJSON(w, http.StatusOK, map[string]any{"experiment": map[string]string{
			"experiment_id": "7", "name": "/Users/ana/test", "artifact_location": "dbfs:/databricks/mlflow-tracking/7",
		}})
	})

	c := NewClient(newServer(t, mux), true)
	exp, err := c.SetExperiment(context.Background(), "/Users/ana/test")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "7", exp.ExperimentID)
	assert.Equal(t, "dbfs:/databricks/mlflow-tracking/7", exp.ArtifactLocation)
}

func TestSetExperimentPropagatesForbidden(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow/experiments/get-by-name", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error_code": "PERMISSION_DENIED", "message": "denied"})
	})
	c := NewClient(newServer(t, mux), true)
	_, err := c.SetExperiment(context.Background(), "/Users/ana/test")
	require.Error(t, err)
	assert.True(t, databricks.IsForbidden(err))
}

func TestRunLifecycle(t *testing.T) {
	rec := newRecorder()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow/runs/create", func(w http.ResponseWriter, r *http.Request) {
		body := rec.record(r)
		assert.JSONEq(t, `{"experiment_id":"7","run_name":"test_run","start_time":1700000000000,"tags":[{"key":"source","value":"smoke"}]}`, string(body))
		writeJSON(w, http.StatusOK, map[string]any{"run": map[string]any{"info": map[string]string{
			"run_id": "r1", "run_name": "test_run", "experiment_id": "7", "status": "RUNNING",
		}}})
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/log-batch", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/update", func(w http.ResponseWriter, r *http.Request) {
		body := rec.record(r)
		assert.Contains(t, string(body), `"status":"FINISHED"`)
		writeJSON(w, http.StatusOK, map[string]any{"run_info": map[string]any{"run_id": "r1", "status": "FINISHED", "end_time": 1700000000000}})
	})

	c := NewClient(newServer(t, mux), true)
	fixedClock(c)
	ctx := context.Background()

	run, err := c.StartRun(ctx, "7", "test_run", map[string]string{"source": "smoke"})
	require.NoError(t, err)
	assert.Equal(t, "r1", run.ID())

	require.NoError(t, run.LogParams(ctx, map[string]any{"n_estimators": 100, "test": "local_ide"}))
	assert.JSONEq(t,
		`{"run_id":"r1","params":[{"key":"n_estimators","value":"100"},{"key":"test","value":"local_ide"}],"metrics":[],"tags":[]}`,
		string(rec.body["/api/2.0/mlflow/runs/log-batch"]))

	require.NoError(t, run.LogMetric(ctx, "accuracy", 0.9))
	assert.JSONEq(t,
		`{"run_id":"r1","params":[],"metrics":[{"key":"accuracy","value":0.9,"timestamp":1700000000000,"step":0}],"tags":[]}`,
		string(rec.body["/api/2.0/mlflow/runs/log-batch"]))

	require.NoError(t, run.End(ctx, nil))
	assert.Equal(t, RunFinished, run.Info.Status)
}

func TestRunEndFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow/runs/update", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"status":"FAILED"`)
		writeJSON(w, http.StatusOK, map[string]any{"run_info": map[string]any{"run_id": "r1"}})
	})
	c := NewClient(newServer(t, mux), true)
	run := &ActiveRun{client: c, Info: RunInfo{RunID: "r1"}}
	require.NoError(t, run.End(context.Background(), errors.New("boom")))
	assert.Equal(t, RunFailed, run.Info.Status)
}

func TestLogArtifactWithWriteCredentials(t *testing.T) {
	var uploaded []byte
	var blobType, auth string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/api/2.0/mlflow/artifacts/credentials-for-write", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "r1", r.URL.Query().Get("run_id"))
		assert.Equal(t, "examples.json", r.URL.Query().Get("path"))
		writeJSON(w, http.StatusOK, map[string]any{"credential_infos": []map[string]any{{
			"run_id": "r1", "path": "examples.json", "type": "AZURE_SAS_URI",
			"signed_uri": srv.URL + "/blob/examples.json?sig=secret",
			"headers":    []map[string]string{{"name": "x-ms-meta-test", "value": "1"}},
		}}})
	})
	mux.HandleFunc("/blob/examples.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		uploaded, _ = io.ReadAll(r.Body)
		blobType = r.Header.Get("x-ms-blob-type")
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	})

	c := NewClient(databricks.NewClient(srv.URL, databricks.BearerToken("tok")), true)
	err := c.LogDict(context.Background(), RunInfo{RunID: "r1"}, map[string]any{"b": 1, "a": "x"}, "examples.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"x","b":1}`, string(uploaded))
	assert.Equal(t, "BlockBlob", blobType)
	assert.Empty(t, auth)
}

func TestLogArtifactSignedUploadForbidden(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/api/2.0/mlflow/artifacts/credentials-for-write", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"credential_infos": []map[string]any{{
			"type": "AWS_PRESIGNED_URL", "signed_uri": srv.URL + "/bucket/key?X-Amz-Signature=abc",
		}}})
	})
	mux.HandleFunc("/bucket/key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<Error><Code>AccessDenied</Code></Error>"))
	})

	c := NewClient(databricks.NewClient(srv.URL, nil), true)
	err := c.LogArtifact(context.Background(), RunInfo{RunID: "r1"}, "model/model.json", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403 Forbidden")
	assert.NotContains(t, err.Error(), "X-Amz-Signature")
}

func TestLogArtifactThroughProxy(t *testing.T) {
	rec := newRecorder()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow-artifacts/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	})
	c := NewClient(newServer(t, mux), false)
	run := RunInfo{RunID: "r1", ArtifactURI: "mlflow-artifacts:/1/r1/artifacts"}
	require.NoError(t, c.LogArtifact(context.Background(), run, "agent/MLmodel", []byte("x")))
	assert.Equal(t, []string{"PUT /api/2.0/mlflow-artifacts/artifacts/1/r1/artifacts/agent/MLmodel"}, rec.calls)
}

func TestProxyPath(t *testing.T) {
	p, err := proxyPath("mlflow-artifacts://host:5000/0/abc/artifacts", "traces.json")
	require.NoError(t, err)
	assert.Equal(t, "/api/2.0/mlflow-artifacts/artifacts/0/abc/artifacts/traces.json", p)

	_, err = proxyPath("file:///tmp/mlruns/0/abc/artifacts", "x")
	assert.Error(t, err)
}

func TestLogModelUploadsDescriptor(t *testing.T) {
	rec := newRecorder()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow-artifacts/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/log-model", func(w http.ResponseWriter, r *http.Request) {
		body := rec.record(r)
		var req map[string]string
		require.NoError(t, sonic.Unmarshal(body, &req))
		assert.Equal(t, "r1", req["run_id"])
		assert.Contains(t, req["model_json"], `"artifact_path":"model"`)
		writeJSON(w, http.StatusOK, map[string]any{})
	})

	c := NewClient(newServer(t, mux), false)
	run := &ActiveRun{client: c, Info: RunInfo{RunID: "r1", ArtifactURI: "mlflow-artifacts:/1/r1/artifacts"}}
	m := NewMLModel("model", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)).
		AddFlavor("forest", map[string]any{"model_file": "model.json"})
	require.NoError(t, run.LogModel(context.Background(), m, map[string][]byte{"model.json": []byte("{}")}))

	assert.Equal(t, []string{
		"PUT /api/2.0/mlflow-artifacts/artifacts/1/r1/artifacts/model/model.json",
		"PUT /api/2.0/mlflow-artifacts/artifacts/1/r1/artifacts/model/MLmodel",
		"POST /api/2.0/mlflow/runs/log-model",
	}, rec.calls)

	parsed, err := ParseMLModel(rec.body["/api/2.0/mlflow-artifacts/artifacts/1/r1/artifacts/model/MLmodel"])
	require.NoError(t, err)
	assert.Equal(t, "r1", parsed.RunID)
	assert.Equal(t, "2025-01-02 03:04:05.000000", parsed.UTCTimeCreated)
	assert.Equal(t, "model.json", parsed.Flavors["forest"]["model_file"])
}

func TestTensorSignature(t *testing.T) {
	sig, err := TensorSignature(TensorSpec{DType: "float64", Shape: []int{-1, 20}}, TensorSpec{DType: "int64", Shape: []int{-1}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"tensor","tensor-spec":{"dtype":"float64","shape":[-1,20]}}]`, sig.Inputs)
	assert.JSONEq(t, `[{"type":"tensor","tensor-spec":{"dtype":"int64","shape":[-1]}}]`, sig.Outputs)
}

type fakeRegistry struct {
	mu       sync.Mutex
	rec      *recorder
	exists   bool
	polls    int
	finalize int
	status   string
	source   string
	storage  string
	creds    map[string]any
}

func (f *fakeRegistry) mux(t *testing.T, prefix string) *http.ServeMux {
	f.rec = newRecorder()
	if f.source == "" {
		f.source = "dbfs:/databricks/mlflow-tracking/7/r1/artifacts/model"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(prefix+"/registered-models/create", func(w http.ResponseWriter, r *http.Request) {
		f.rec.record(r)
		if f.exists {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": "RESOURCE_ALREADY_EXISTS", "message": "exists"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc(prefix+"/model-versions/create", func(w http.ResponseWriter, r *http.Request) {
		body := f.rec.record(r)
		var req map[string]string
		require.NoError(t, sonic.Unmarshal(body, &req))
		assert.Equal(t, f.source, req["source"])
		assert.Equal(t, "r1", req["run_id"])
		writeJSON(w, http.StatusOK, map[string]any{"model_version": map[string]string{
			"name": req["name"], "version": "1", "status": f.status, "source": req["source"], "storage_location": f.storage,
		}})
	})
	mux.HandleFunc(prefix+"/model-versions/generate-temporary-credentials", func(w http.ResponseWriter, r *http.Request) {
		body := f.rec.record(r)
		assert.JSONEq(t, `{"name":"main.default.m","version":"1","operation":"MODEL_VERSION_OPERATION_READ_WRITE"}`, string(body))
		writeJSON(w, http.StatusOK, map[string]any{"credentials": f.creds})
	})
	mux.HandleFunc(prefix+"/model-versions/get", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.polls++
		status := VersionPending
		if f.polls > 1 {
			status = VersionReady
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"model_version": map[string]string{
			"name": r.URL.Query().Get("name"), "version": r.URL.Query().Get("version"), "status": status,
		}})
	})
	mux.HandleFunc(prefix+"/model-versions/finalize", func(w http.ResponseWriter, r *http.Request) {
		f.rec.record(r)
		f.mu.Lock()
		f.finalize++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"model_version": map[string]string{
			"name": "main.default.m", "version": "1", "status": VersionReady,
		}})
	})
	return mux
}

// serveLoggedModel adds the tracking endpoints a run with a two-file model
// directory needs, served through the artifact proxy.
func serveLoggedModel(t *testing.T, mux *http.ServeMux, rec *recorder) {
	mux.HandleFunc("/api/2.0/mlflow/artifacts/list", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		assert.Equal(t, "r1", r.URL.Query().Get("run_id"))
		switch r.URL.Query().Get("path") {
		case "model":
			writeJSON(w, http.StatusOK, map[string]any{"files": []map[string]any{
				{"path": "model/MLmodel", "is_dir": false},
				{"path": "model/data", "is_dir": true},
			}})
		case "model/data":
			writeJSON(w, http.StatusOK, map[string]any{"files": []map[string]any{
				{"path": "model/data/forest.json", "is_dir": false},
			}})
		default:
			writeJSON(w, http.StatusOK, map[string]any{})
		}
	})
	mux.HandleFunc("GET /api/2.0/mlflow-artifacts/artifacts/7/r1/artifacts/model/", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Write([]byte("contents of " + path.Base(r.URL.Path)))
	})
}

// anyHost routes every request to the test server, so object-storage URLs
// resolve locally. The original host is kept in X-Original-Host.
type anyHost struct{ target *url.URL }

func (a anyHost) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("X-Original-Host", r.URL.Host)
	r.URL.Scheme = a.target.Scheme
	r.URL.Host = a.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func newStorageServer(t *testing.T, mux *http.ServeMux) *databricks.Client {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	target, _ := url.Parse(srv.URL)
	hc := &http.Client{Transport: anyHost{target: target}}
	return databricks.NewClient(srv.URL, databricks.BearerToken("tok"), databricks.WithHTTPClient(hc))
}

var testRun = RunInfo{RunID: "r1", ArtifactURI: "dbfs:/databricks/mlflow-tracking/7/r1/artifacts"}

var proxiedRun = RunInfo{RunID: "r1", ArtifactURI: "mlflow-artifacts:/7/r1/artifacts"}

func TestWorkspaceRegisterModelWaitsForReady(t *testing.T) {
	f := &fakeRegistry{exists: true, status: VersionPending}
	reg := NewRegistry(newServer(t, f.mux(t, apiPrefix)), false)
	reg.poll = databricks.PollPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Timeout: 5 * time.Second}

	mv, err := reg.RegisterModel(context.Background(), testRun, "model", "test_sklearn_model")
	require.NoError(t, err)
	assert.Equal(t, VersionReady, mv.Status)
	assert.Equal(t, "1", mv.Version)
	assert.Equal(t, 2, f.polls)
}

func TestUnityCatalogRegisterModelCopiesFilesBeforeFinalize(t *testing.T) {
	f := &fakeRegistry{
		status:  VersionPending,
		source:  "mlflow-artifacts:/7/r1/artifacts/model",
		storage: "abfss://models@acct.dfs.core.windows.net/uc/m/versions/1",
		creds:   map[string]any{"azure_user_delegation_sas": map[string]string{"sas_token": "sv=2024&sig=abc"}},
	}
	mux := f.mux(t, ucPrefix)
	serveLoggedModel(t, mux, f.rec)
	uploaded := map[string]string{}
	mux.HandleFunc("PUT /models/uc/m/versions/1/", func(w http.ResponseWriter, r *http.Request) {
		body := f.rec.record(r)
		assert.Equal(t, "acct.blob.core.windows.net", r.Header.Get("X-Original-Host"))
		assert.Equal(t, "sv=2024&sig=abc", r.URL.RawQuery)
		assert.Equal(t, "BlockBlob", r.Header.Get("x-ms-blob-type"))
		assert.Empty(t, r.Header.Get("Authorization"))
		uploaded[strings.TrimPrefix(r.URL.Path, "/models/uc/m/versions/1/")] = string(body)
		w.WriteHeader(http.StatusCreated)
	})

	api := newStorageServer(t, mux)
	reg := NewRegistry(api, true, WithArtifactSource(NewClient(api, false)))

	mv, err := reg.RegisterModel(context.Background(), proxiedRun, "model", "main.default.m")
	require.NoError(t, err)
	assert.Equal(t, VersionReady, mv.Status)
	assert.Equal(t, 1, f.finalize)
	assert.Zero(t, f.polls)

	assert.Equal(t, map[string]string{
		"MLmodel":          "contents of MLmodel",
		"data/forest.json": "contents of forest.json",
	}, uploaded)

	position := func(call string) int {
		for i, c := range f.rec.calls {
			if c == call {
				return i
			}
		}
		t.Fatalf("%s was never called; calls: %v", call, f.rec.calls)
		return -1
	}
	finalize := position("POST " + ucPrefix + "/model-versions/finalize")
	assert.Less(t, position("POST "+ucPrefix+"/model-versions/generate-temporary-credentials"), finalize)
	assert.Less(t, position("PUT /models/uc/m/versions/1/MLmodel"), finalize)
	assert.Less(t, position("PUT /models/uc/m/versions/1/data/forest.json"), finalize)
	assert.Less(t, position("GET /api/2.0/mlflow-artifacts/artifacts/7/r1/artifacts/model/MLmodel"),
		position("POST "+ucPrefix+"/model-versions/create"))
}

func TestUnityCatalogRegisterModelSignsS3Uploads(t *testing.T) {
	f := &fakeRegistry{
		status:  VersionPending,
		source:  "mlflow-artifacts:/7/r1/artifacts/model",
		storage: "s3://uc-bucket/uc/m/versions/1",
		creds: map[string]any{"aws_temp_credentials": map[string]string{
			"access_key_id": "AKIDEXAMPLE", "secret_access_key": "secret", "session_token": "session",
		}},
	}
	mux := f.mux(t, ucPrefix)
	serveLoggedModel(t, mux, f.rec)
	mux.HandleFunc("HEAD /{$}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "uc-bucket.s3.amazonaws.com", r.Header.Get("X-Original-Host"))
		w.Header().Set("x-amz-bucket-region", "eu-west-1")
		w.WriteHeader(http.StatusForbidden)
	})
	var hosts []string
	mux.HandleFunc("PUT /uc/m/versions/1/", func(w http.ResponseWriter, r *http.Request) {
		body := f.rec.record(r)
		hosts = append(hosts, r.Header.Get("X-Original-Host"))
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"), auth)
		assert.Contains(t, auth, "/eu-west-1/s3/aws4_request")
		assert.Equal(t, "session", r.Header.Get("X-Amz-Security-Token"))
		sum := sha256.Sum256(body)
		assert.Equal(t, hex.EncodeToString(sum[:]), r.Header.Get("X-Amz-Content-Sha256"))
	})

	api := newStorageServer(t, mux)
	reg := NewRegistry(api, true, WithArtifactSource(NewClient(api, false)))

	_, err := reg.RegisterModel(context.Background(), proxiedRun, "model", "main.default.m")
	require.NoError(t, err)
	assert.Equal(t, []string{"uc-bucket.s3.eu-west-1.amazonaws.com", "uc-bucket.s3.eu-west-1.amazonaws.com"}, hosts)
	assert.Equal(t, 1, f.finalize)
}

func TestUnityCatalogRegisterModelNeedsArtifactSource(t *testing.T) {
	f := &fakeRegistry{status: VersionPending}
	reg := NewRegistry(newServer(t, f.mux(t, ucPrefix)), true)

	_, err := reg.RegisterModel(context.Background(), testRun, "model", "main.default.m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no artifact source")
	assert.Empty(t, f.rec.calls)
}

func TestUnityCatalogUploadFailureLeavesVersionPending(t *testing.T) {
	f := &fakeRegistry{
		status:  VersionPending,
		source:  "mlflow-artifacts:/7/r1/artifacts/model",
		storage: "gs://uc-bucket/uc/m/versions/1",
		creds:   map[string]any{"gcp_oauth_token": map[string]string{"oauth_token": "ya29.token"}},
	}
	mux := f.mux(t, ucPrefix)
	serveLoggedModel(t, mux, f.rec)
	mux.HandleFunc("PUT /uc-bucket/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "storage.googleapis.com", r.Header.Get("X-Original-Host"))
		assert.Equal(t, "Bearer ya29.token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("AccessDenied"))
	})

	api := newStorageServer(t, mux)
	reg := NewRegistry(api, true, WithArtifactSource(NewClient(api, false)))

	_, err := reg.RegisterModel(context.Background(), proxiedRun, "model", "main.default.m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Zero(t, f.finalize)
}

func TestVersionStoreObjectURL(t *testing.T) {
	var azure storageCredentials
	require.NoError(t, sonic.Unmarshal([]byte(`{"azure_user_delegation_sas":{"sas_token":"?sv=1&sig=x"}}`), &azure))

	tests := []struct {
		location string
		creds    *storageCredentials
		region   string
		want     string
	}{
		{
			location: "s3://bucket/uc/m/versions/3",
			region:   "us-west-2",
			want:     "https://bucket.s3.us-west-2.amazonaws.com/uc/m/versions/3/MLmodel",
		},
		{
			location: "abfss://container@acct.dfs.core.windows.net/uc/m/versions/3",
			creds:    &azure,
			want:     "https://acct.blob.core.windows.net/container/uc/m/versions/3/MLmodel?sv=1&sig=x",
		},
		{
			location: "gs://bucket/uc/m/versions/3",
			want:     "https://storage.googleapis.com/bucket/uc/m/versions/3/MLmodel",
		},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			loc, err := url.Parse(tt.location)
			require.NoError(t, err)
			s := &versionStore{location: loc, creds: tt.creds, region: tt.region}
			got, err := s.objectURL("MLmodel")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDownloadArtifactsWithReadCredentials(t *testing.T) {
	rec := newRecorder()
	mux := http.NewServeMux()
	var signedURL string
	mux.HandleFunc("/api/2.0/mlflow/artifacts/list", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"files": []map[string]any{{"path": "model/MLmodel"}}})
	})
	mux.HandleFunc("/api/2.0/mlflow/artifacts/credentials-for-read", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		assert.Equal(t, "model/MLmodel", r.URL.Query().Get("path"))
		writeJSON(w, http.StatusOK, map[string]any{"credential_infos": []map[string]any{{
			"run_id": "r1", "path": "model/MLmodel", "signed_uri": signedURL, "type": "AWS_PRESIGNED_URL",
		}}})
	})
	mux.HandleFunc("GET /bucket/MLmodel", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte("flavors: {}"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	signedURL = srv.URL + "/bucket/MLmodel?X-Amz-Signature=abc"

	c := NewClient(databricks.NewClient(srv.URL, databricks.BearerToken("tok")), true)
	files, err := c.DownloadArtifacts(context.Background(), testRun, "model")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"MLmodel": []byte("flavors: {}")}, files)
}

func TestUnityCatalogRejectsShortNames(t *testing.T) {
	reg := NewRegistry(databricks.NewClient("http://unused", nil), true)
	err := reg.CreateRegisteredModel(context.Background(), "just_a_model")
	assert.Error(t, err)
}

func TestModelVersionMetadata(t *testing.T) {
	rec := newRecorder()
	mux := http.NewServeMux()
	mux.HandleFunc(ucPrefix+"/model-versions/update", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		rec.record(r)
	})
	mux.HandleFunc(ucPrefix+"/model-versions/set-tag", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
	})
	reg := NewRegistry(newServer(t, mux), true)
	ctx := context.Background()
	require.NoError(t, reg.UpdateModelVersion(ctx, "main.default.m", "1", "Test model"))
	require.NoError(t, reg.SetModelVersionTag(ctx, "main.default.m", "1", "source", "local_ide_test"))
	assert.JSONEq(t, `{"name":"main.default.m","version":"1","key":"source","value":"local_ide_test"}`,
		string(rec.body[ucPrefix+"/model-versions/set-tag"]))
}

func TestTraceExportThroughProxy(t *testing.T) {
	rec := newRecorder()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow/traces", func(w http.ResponseWriter, r *http.Request) {
		body := rec.record(r)
		if r.Method == http.MethodGet {
			assert.Equal(t, []string{"7"}, r.URL.Query()["experiment_ids"])
			assert.Equal(t, "request_metadata.`mlflow.sourceRun` = 'r1'", r.URL.Query().Get("filter"))
			writeJSON(w, http.StatusOK, map[string]any{"traces": []map[string]string{{"request_id": "tr-1", "status": "OK"}}})
			return
		}
		assert.Contains(t, string(body), `{"key":"mlflow.sourceRun","value":"r1"}`)
		writeJSON(w, http.StatusOK, map[string]any{"trace_info": map[string]any{
			"request_id": "tr-1", "experiment_id": "7", "status": "IN_PROGRESS",
			"tags": []map[string]string{{"key": TraceTagArtifactLocation, "value": "mlflow-artifacts:/7/traces/tr-1/artifacts"}},
		}})
	})
	mux.HandleFunc("/api/2.0/mlflow-artifacts/artifacts/7/traces/tr-1/artifacts/traces.json", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
	})
	mux.HandleFunc("/api/2.0/mlflow/traces/tr-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		rec.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"trace_info": map[string]any{"request_id": "tr-1", "status": "OK"}})
	})

	c := NewClient(newServer(t, mux), false)
	ctx := context.Background()

	info, err := c.StartTrace(ctx, "7", 1, map[string]string{TraceMetaSourceRun: "r1"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.UploadTraceData(ctx, info, &TraceData{Spans: []SpanData{{Name: "root"}}}))
	done, err := c.EndTrace(ctx, info.RequestID, 2, TraceOK, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, TraceOK, done.Status)

	uploaded := rec.body["/api/2.0/mlflow-artifacts/artifacts/7/traces/tr-1/artifacts/traces.json"]
	assert.True(t, strings.HasPrefix(string(uploaded), `{"spans":[{"name":"root"`))

	traces, err := c.SearchTraces(ctx, []string{"7"}, "request_metadata.`mlflow.sourceRun` = 'r1'", 0)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "tr-1", traces[0].RequestID)
}

func TestUploadTraceDataNeedsLocationTag(t *testing.T) {
	c := NewClient(databricks.NewClient("http://unused", nil), false)
	err := c.UploadTraceData(context.Background(), &TraceInfo{RequestID: "tr-1"}, &TraceData{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), TraceTagArtifactLocation)
}
