package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// LogConfig controls the structured logger.
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"warn"`
	Format     string `envconfig:"LOG_FORMAT" default:"console"`
	Output     string `envconfig:"LOG_OUTPUT" default:"stderr"`
	FilePath   string `envconfig:"LOG_FILE_PATH" default:"logs/smoke.log"`
	TimeFormat string `envconfig:"LOG_TIME_FORMAT" default:"rfc3339"`
}

// LLMConfig selects the chat model behind the GenAI agent.
type LLMConfig struct {
	Provider       string `envconfig:"LLM_PROVIDER" default:"mock"`
	Model          string `envconfig:"LLM_MODEL"`
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL"`
	OllamaBaseURL  string `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	DeepSeekAPIKey string `envconfig:"DEEPSEEK_API_KEY"`
	ArkAPIKey      string `envconfig:"ARK_API_KEY"`
	ArkBaseURL     string `envconfig:"ARK_BASE_URL"`
	MaxTurns       int    `envconfig:"AGENT_MAX_TURNS" default:"6"`
}

// Env is every environment variable the smoke commands read.
type Env struct {
	LogConfig
	LLMConfig

	TrackingURI    string `envconfig:"MLFLOW_TRACKING_URI"`
	RegistryURI    string `envconfig:"MLFLOW_REGISTRY_URI"`
	ExperimentName string `envconfig:"MLFLOW_EXPERIMENT_NAME"`
	TrackingToken  string `envconfig:"MLFLOW_TRACKING_TOKEN"`
	TrackingUser   string `envconfig:"MLFLOW_TRACKING_USERNAME"`
	TrackingPass   string `envconfig:"MLFLOW_TRACKING_PASSWORD"`

	Profile       string `envconfig:"DATABRICKS_PROFILE"`
	ConfigProfile string `envconfig:"DATABRICKS_CONFIG_PROFILE" default:"DEFAULT"`
	Host          string `envconfig:"DATABRICKS_HOST"`
	ClusterID     string `envconfig:"DATABRICKS_CLUSTER_ID"`
	WarehouseID   string `envconfig:"DATABRICKS_WAREHOUSE_ID"`

	Catalog string `envconfig:"UC_CATALOG" default:"main"`
	Schema  string `envconfig:"UC_SCHEMA" default:"default"`

	User     string `envconfig:"USER" default:"default"`
	RedisURL string `envconfig:"REDIS_URL"`

	HTTPTimeout     time.Duration `envconfig:"SMOKE_HTTP_TIMEOUT" default:"60s"`
	TraceExportWait time.Duration `envconfig:"TRACE_EXPORT_WAIT" default:"2s"`
}

// LoadEnv reads the process environment into an Env.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}
	return &env, nil
}

// ExperimentPath returns MLFLOW_EXPERIMENT_NAME, or a per-user workspace path
// ending in suffix.
func (e *Env) ExperimentPath(suffix string) string {
	if e.ExperimentName != "" {
		return e.ExperimentName
	}
	user := e.User
	if user == "" {
		user = "default"
	}
	return fmt.Sprintf("/Users/%s/%s", user, suffix)
}

// ProfileName is the profile used for workspace auth when the tracking URI
// does not name one.
func (e *Env) ProfileName() string {
	if e.Profile != "" {
		return e.Profile
	}
	return e.ConfigProfile
}
