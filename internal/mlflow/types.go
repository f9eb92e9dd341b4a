package mlflow

// Run statuses.
const (
	RunRunning  = "RUNNING"
	RunFinished = "FINISHED"
	RunFailed   = "FAILED"
)

// Model version statuses.
const (
	VersionPending = "PENDING_REGISTRATION"
	VersionFailed  = "FAILED_REGISTRATION"
	VersionReady   = "READY"
)

// Trace statuses.
const (
	TraceOK         = "OK"
	TraceError      = "ERROR"
	TraceInProgress = "IN_PROGRESS"
)

type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage"`
	Tags             []Tag  `json:"tags,omitempty"`
}

type RunInfo struct {
	RunID          string `json:"run_id"`
	RunName        string `json:"run_name"`
	ExperimentID   string `json:"experiment_id"`
	UserID         string `json:"user_id"`
	Status         string `json:"status"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time"`
	ArtifactURI    string `json:"artifact_uri"`
	LifecycleStage string `json:"lifecycle_stage"`
}

type RunData struct {
	Metrics []Metric `json:"metrics,omitempty"`
	Params  []Param  `json:"params,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

type Run struct {
	Info RunInfo `json:"info"`
	Data RunData `json:"data"`
}

// FileInfo is one entry of an artifact listing.
type FileInfo struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	FileSize int64  `json:"file_size"`
}

type RegisteredModel struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ModelVersion struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	Status          string `json:"status"`
	StatusMessage   string `json:"status_message,omitempty"`
	Source          string `json:"source"`
	RunID           string `json:"run_id"`
	Description     string `json:"description,omitempty"`
	StorageLocation string `json:"storage_location,omitempty"`
}

// TraceInfo is the v2 trace header stored by the tracking server.
type TraceInfo struct {
	RequestID       string `json:"request_id"`
	ExperimentID    string `json:"experiment_id"`
	TimestampMs     int64  `json:"timestamp_ms"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Status          string `json:"status"`
	RequestMetadata []Tag  `json:"request_metadata,omitempty"`
	Tags            []Tag  `json:"tags,omitempty"`
}

// Tag returns the value of a trace tag.
func (t *TraceInfo) Tag(key string) (string, bool) {
	for _, tag := range t.Tags {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

func (t *TraceInfo) Metadata(key string) (string, bool) {
	for _, m := range t.RequestMetadata {
		if m.Key == key {
			return m.Value, true
		}
	}
	return "", false
}

// SpanData is one span as stored in a trace's traces.json artifact.
// Attribute values are JSON-encoded strings.
type SpanData struct {
	Name          string            `json:"name"`
	Context       SpanContext       `json:"context"`
	ParentID      *string           `json:"parent_id"`
	StartTime     int64             `json:"start_time"`
	EndTime       int64             `json:"end_time"`
	StatusCode    string            `json:"status_code"`
	StatusMessage string            `json:"status_message"`
	Attributes    map[string]string `json:"attributes"`
	Events        []SpanEvent       `json:"events"`
}

type SpanContext struct {
	SpanID  string `json:"span_id"`
	TraceID string `json:"trace_id"`
}

type SpanEvent struct {
	Name       string            `json:"name"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
}

// TraceData is the body of traces.json.
type TraceData struct {
	Spans []SpanData `json:"spans"`
}

type artifactCredential struct {
	RunID     string `json:"run_id"`
	Path      string `json:"path"`
	SignedURI string `json:"signed_uri"`
	Type      string `json:"type"`
	Headers   []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
}
