package smoke

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"databricks_smoke/internal/databricks"
	"databricks_smoke/internal/mlflow"

	"github.com/bytedance/sonic"
	sdk "github.com/databricks/databricks-sdk-go"
	sdkconfig "github.com/databricks/databricks-sdk-go/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, _ := sonic.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func decode(t *testing.T, r *http.Request, v any) {
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, v))
}

// fakeMLflow is an in-memory open-source tracking server with a registry.
type fakeMLflow struct {
	t *testing.T

	mu          sync.Mutex
	nextID      int
	experiments map[string]mlflow.Experiment // by name
	runs        map[string]*mlflow.Run
	artifacts   map[string][]byte // proxy path below the artifact root
	traces      map[string]*mlflow.TraceInfo
	traceOrder  []string
	versions    map[string]*mlflow.ModelVersion
	versionTags map[string]map[string]string
	descs       map[string]string
	stored      map[string][]byte // object storage, by container path

	forbidTraceUpload bool
	forbidSearch      bool
}

func newFakeMLflow(t *testing.T) *fakeMLflow {
	return &fakeMLflow{
		t:           t,
		experiments: map[string]mlflow.Experiment{},
		runs:        map[string]*mlflow.Run{},
		artifacts:   map[string][]byte{},
		traces:      map[string]*mlflow.TraceInfo{},
		versions:    map[string]*mlflow.ModelVersion{},
		versionTags: map[string]map[string]string{},
		descs:       map[string]string{},
		stored:      map[string][]byte{},
	}
}

func (f *fakeMLflow) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

// client talks to the fake for every host, object storage included.
func (f *fakeMLflow) client() *databricks.Client {
	srv := httptest.NewServer(f.mux())
	f.t.Cleanup(srv.Close)
	target, _ := url.Parse(srv.URL)
	hc := &http.Client{Transport: anyHost{target: target}}
	return databricks.NewClient(srv.URL, databricks.NoAuth, databricks.WithHTTPClient(hc))
}

type anyHost struct{ target *url.URL }

func (a anyHost) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = a.target.Scheme
	r.URL.Host = a.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func (f *fakeMLflow) run(id string) *mlflow.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id]
}

func (f *fakeMLflow) runsNamed(prefix string) []*mlflow.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*mlflow.Run
	for _, r := range f.runs {
		if strings.HasPrefix(r.Info.RunName, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeMLflow) artifact(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.artifacts[p]
	return data, ok
}

func (f *fakeMLflow) mux() *http.ServeMux {
	t := f.t
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/2.0/mlflow/experiments/get-by-name", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		exp, ok := f.experiments[r.URL.Query().Get("experiment_name")]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error_code": "RESOURCE_DOES_NOT_EXIST", "message": "no experiment"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"experiment": exp})
	})
	mux.HandleFunc("POST /api/2.0/mlflow/experiments/create", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		decode(t, r, &req)
		f.mu.Lock()
		id := f.id("")
		f.experiments[req.Name] = mlflow.Experiment{
			ExperimentID: id, Name: req.Name, ArtifactLocation: "mlflow-artifacts:/" + id, LifecycleStage: "active",
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"experiment_id": id})
	})
	mux.HandleFunc("GET /api/2.0/mlflow/experiments/get", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, exp := range f.experiments {
			if exp.ExperimentID == r.URL.Query().Get("experiment_id") {
				writeJSON(w, http.StatusOK, map[string]any{"experiment": exp})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error_code": "RESOURCE_DOES_NOT_EXIST"})
	})

	mux.HandleFunc("POST /api/2.0/mlflow/runs/create", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExperimentID string `json:"experiment_id"`
			RunName      string `json:"run_name"`
			StartTime    int64  `json:"start_time"`
		}
		decode(t, r, &req)
		f.mu.Lock()
		id := f.id("run")
		run := &mlflow.Run{Info: mlflow.RunInfo{
			RunID: id, RunName: req.RunName, ExperimentID: req.ExperimentID, Status: mlflow.RunRunning,
			StartTime: req.StartTime, ArtifactURI: fmt.Sprintf("mlflow-artifacts:/%s/%s/artifacts", req.ExperimentID, id),
		}}
		f.runs[id] = run
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"run": run})
	})
	mux.HandleFunc("POST /api/2.0/mlflow/runs/update", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RunID   string `json:"run_id"`
			Status  string `json:"status"`
			EndTime int64  `json:"end_time"`
		}
		decode(t, r, &req)
		f.mu.Lock()
		run := f.runs[req.RunID]
		run.Info.Status = req.Status
		run.Info.EndTime = req.EndTime
		info := run.Info
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"run_info": info})
	})
	mux.HandleFunc("GET /api/2.0/mlflow/runs/get", func(w http.ResponseWriter, r *http.Request) {
		run := f.run(r.URL.Query().Get("run_id"))
		if run == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error_code": "RESOURCE_DOES_NOT_EXIST"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run": run})
	})
	mux.HandleFunc("POST /api/2.0/mlflow/runs/log-batch", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RunID   string          `json:"run_id"`
			Params  []mlflow.Param  `json:"params"`
			Metrics []mlflow.Metric `json:"metrics"`
			Tags    []mlflow.Tag    `json:"tags"`
		}
		decode(t, r, &req)
		f.mu.Lock()
		run := f.runs[req.RunID]
		run.Data.Params = append(run.Data.Params, req.Params...)
		run.Data.Metrics = append(run.Data.Metrics, req.Metrics...)
		run.Data.Tags = append(run.Data.Tags, req.Tags...)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("POST /api/2.0/mlflow/runs/log-model", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RunID     string `json:"run_id"`
			ModelJSON string `json:"model_json"`
		}
		decode(t, r, &req)
		f.mu.Lock()
		run := f.runs[req.RunID]
		run.Data.Tags = append(run.Data.Tags, mlflow.Tag{Key: "mlflow.log-model.history", Value: req.ModelJSON})
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("GET /api/2.0/mlflow/artifacts/list", func(w http.ResponseWriter, r *http.Request) {
		run := f.run(r.URL.Query().Get("run_id"))
		dir := r.URL.Query().Get("path")
		root := strings.TrimPrefix(run.Info.ArtifactURI, "mlflow-artifacts:/") + "/"
		if dir != "" {
			root += dir + "/"
		}
		f.mu.Lock()
		seen := map[string]mlflow.FileInfo{}
		for p, data := range f.artifacts {
			rel, ok := strings.CutPrefix(p, root)
			if !ok {
				continue
			}
			top, rest, nested := strings.Cut(rel, "/")
			fi := mlflow.FileInfo{Path: path.Join(dir, top), IsDir: nested && rest != ""}
			if !fi.IsDir {
				fi.FileSize = int64(len(data))
			}
			seen[fi.Path] = fi
		}
		f.mu.Unlock()
		files := make([]mlflow.FileInfo, 0, len(seen))
		for _, fi := range seen {
			files = append(files, fi)
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
		writeJSON(w, http.StatusOK, map[string]any{"root_uri": run.Info.ArtifactURI, "files": files})
	})
	mux.HandleFunc("GET /api/2.0/mlflow-artifacts/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		data, ok := f.artifact(strings.TrimPrefix(r.URL.Path, "/api/2.0/mlflow-artifacts/artifacts/"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error_code": "RESOURCE_DOES_NOT_EXIST"})
			return
		}
		w.Write(data)
	})
	mux.HandleFunc("PUT /api/2.0/mlflow-artifacts/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(r.URL.Path, "/api/2.0/mlflow-artifacts/artifacts/")
		if f.forbidTraceUpload && strings.Contains(p, "/traces/") {
			writeJSON(w, http.StatusForbidden, map[string]string{"error_code": "PERMISSION_DENIED", "message": "Access Denied"})
			return
		}
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.artifacts[p] = data
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /api/2.0/mlflow/traces", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExperimentID    string       `json:"experiment_id"`
			TimestampMs     int64        `json:"timestamp_ms"`
			RequestMetadata []mlflow.Tag `json:"request_metadata"`
			Tags            []mlflow.Tag `json:"tags"`
		}
		decode(t, r, &req)
		f.mu.Lock()
		id := f.id("tr-")
		info := &mlflow.TraceInfo{
			RequestID: id, ExperimentID: req.ExperimentID, TimestampMs: req.TimestampMs,
			Status: mlflow.TraceInProgress, RequestMetadata: req.RequestMetadata,
			Tags: append(req.Tags, mlflow.Tag{
				Key:   mlflow.TraceTagArtifactLocation,
				Value: fmt.Sprintf("mlflow-artifacts:/%s/traces/%s/artifacts", req.ExperimentID, id),
			}),
		}
		f.traces[id] = info
		f.traceOrder = append(f.traceOrder, id)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"trace_info": info})
	})
	mux.HandleFunc("GET /api/2.0/mlflow/traces", func(w http.ResponseWriter, r *http.Request) {
		if f.forbidSearch {
			writeJSON(w, http.StatusForbidden, map[string]string{"error_code": "PERMISSION_DENIED", "message": "no"})
			return
		}
		f.mu.Lock()
		var out []mlflow.TraceInfo
		for _, id := range f.traceOrder {
			out = append(out, *f.traces[id])
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"traces": out})
	})
	mux.HandleFunc("GET /api/2.0/mlflow/traces/{id}/info", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		info, ok := f.traces[r.PathValue("id")]
		var out mlflow.TraceInfo
		if ok {
			out = *info
		}
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error_code": "RESOURCE_DOES_NOT_EXIST"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"trace_info": out})
	})
	mux.HandleFunc("PATCH /api/2.0/mlflow/traces/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status          string       `json:"status"`
			TimestampMs     int64        `json:"timestamp_ms"`
			RequestMetadata []mlflow.Tag `json:"request_metadata"`
		}
		decode(t, r, &req)
		f.mu.Lock()
		info := f.traces[r.PathValue("id")]
		info.Status = req.Status
		info.ExecutionTimeMs = req.TimestampMs - info.TimestampMs
		info.RequestMetadata = append(info.RequestMetadata, req.RequestMetadata...)
		out := *info
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"trace_info": out})
	})

	for _, prefix := range []string{"/api/2.0/mlflow", "/api/2.0/mlflow/unity-catalog"} {
		uc := strings.HasSuffix(prefix, "unity-catalog")
		mux.HandleFunc("POST "+prefix+"/registered-models/create", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{})
		})
		mux.HandleFunc("POST "+prefix+"/model-versions/create", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Name   string `json:"name"`
				Source string `json:"source"`
				RunID  string `json:"run_id"`
			}
			decode(t, r, &req)
			status := mlflow.VersionReady
			if uc {
				status = mlflow.VersionPending
			}
			mv := &mlflow.ModelVersion{Name: req.Name, Version: "1", Status: status, Source: req.Source, RunID: req.RunID}
			if uc {
				mv.StorageLocation = "abfss://models@acct.dfs.core.windows.net/" + versionDir(req.Name)
			}
			f.mu.Lock()
			f.versions[req.Name] = mv
			out := *mv
			f.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{"model_version": out})
		})
		mux.HandleFunc("POST "+prefix+"/model-versions/finalize", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			}
			decode(t, r, &req)
			f.mu.Lock()
			defer f.mu.Unlock()
			if !f.hasStored("models/" + versionDir(req.Name) + "/" + mlflow.MLModelFile) {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error_code": "INVALID_STATE", "message": "no model files at the version's storage location",
				})
				return
			}
			mv := f.versions[req.Name]
			mv.Status = mlflow.VersionReady
			writeJSON(w, http.StatusOK, map[string]any{"model_version": *mv})
		})
		mux.HandleFunc("POST "+prefix+"/model-versions/generate-temporary-credentials", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Operation string `json:"operation"`
			}
			decode(t, r, &req)
			assert.Equal(t, "MODEL_VERSION_OPERATION_READ_WRITE", req.Operation)
			writeJSON(w, http.StatusOK, map[string]any{"credentials": map[string]any{
				"azure_user_delegation_sas": map[string]string{"sas_token": "sv=2024&sig=smoke"},
			}})
		})
		mux.HandleFunc("GET "+prefix+"/model-versions/get", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			out := *f.versions[r.URL.Query().Get("name")]
			f.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{"model_version": out})
		})
		mux.HandleFunc("PATCH "+prefix+"/model-versions/update", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			decode(t, r, &req)
			f.mu.Lock()
			f.descs[req.Name] = req.Description
			f.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{})
		})
		mux.HandleFunc("POST "+prefix+"/model-versions/set-tag", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Name  string `json:"name"`
				Key   string `json:"key"`
				Value string `json:"value"`
			}
			decode(t, r, &req)
			f.mu.Lock()
			if f.versionTags[req.Name] == nil {
				f.versionTags[req.Name] = map[string]string{}
			}
			f.versionTags[req.Name][req.Key] = req.Value
			f.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{})
		})
	}
	mux.HandleFunc("PUT /models/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sv=2024&sig=smoke", r.URL.RawQuery)
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.stored[strings.TrimPrefix(r.URL.Path, "/")] = data
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func versionDir(name string) string {
	return "uc/" + name + "/versions/1"
}

// hasStored must be called with f.mu held.
func (f *fakeMLflow) hasStored(key string) bool {
	_, ok := f.stored[key]
	return ok
}

func (f *fakeMLflow) storedObject(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.stored[key]
	return data, ok
}

// fakeWarehouse answers the statements the connect suite sends.
type fakeWarehouse struct {
	mu         sync.Mutex
	statements []string
}

func (f *fakeWarehouse) client(t *testing.T) *sdk.WorkspaceClient {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/2.0/sql/warehouses/wh-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "wh-1", "name": "smoke", "state": "RUNNING", "enable_serverless_compute": true,
		})
	})
	submit := func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Statement string `json:"statement"`
		}
		decode(t, r, &req)
		f.mu.Lock()
		f.statements = append(f.statements, req.Statement)
		f.mu.Unlock()

		cols := []map[string]string{{"name": "department", "type_name": "STRING"}, {"name": "count", "type_name": "LONG"}}
		rows := [][]any{{"Engineering", "2"}, {"Sales", "1"}, {"Marketing", "1"}}
		switch {
		case strings.Contains(req.Statement, "version()"):
			cols = []map[string]string{{"name": "version()", "type_name": "STRING"}}
			rows = [][]any{{"3.5.0 abc123"}}
		case !strings.Contains(req.Statement, "COUNT"):
			cols = []map[string]string{
				{"name": "name", "type_name": "STRING"}, {"name": "age", "type_name": "INT"}, {"name": "department", "type_name": "STRING"},
			}
			rows = [][]any{{"Alice", "34", "Engineering"}, {"Bob", "45", "Sales"}, {"Cathy", "29", "Engineering"}, {"David", "38", "Marketing"}}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"statement_id": "st-1",
			"status":       map[string]any{"state": "SUCCEEDED"},
			"manifest":     map[string]any{"schema": map[string]any{"columns": cols}},
			"result":       map[string]any{"data_array": rows},
		})
	}
	mux.HandleFunc("POST /api/2.0/sql/statements", submit)
	mux.HandleFunc("POST /api/2.0/sql/statements/", submit)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	w, err := sdk.NewWorkspaceClient(&sdk.Config{
		Host:    srv.URL,
		Token:   "tok",
		Loaders: []sdkconfig.Loader{sdkconfig.ConfigAttributes},
	})
	require.NoError(t, err)
	return w
}
