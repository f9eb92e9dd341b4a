package mlflow

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const MLModelFile = "MLmodel"

const mlmodelTimeLayout = "2006-01-02 15:04:05.000000"

// MLModel is the descriptor stored next to a logged model.
type MLModel struct {
	ArtifactPath   string                    `yaml:"artifact_path" json:"artifact_path"`
	Flavors        map[string]map[string]any `yaml:"flavors" json:"flavors"`
	ModelUUID      string                    `yaml:"model_uuid" json:"model_uuid"`
	RunID          string                    `yaml:"run_id" json:"run_id"`
	Signature      *Signature                `yaml:"signature,omitempty" json:"signature,omitempty"`
	UTCTimeCreated string                    `yaml:"utc_time_created" json:"utc_time_created"`
}

// Signature holds column or tensor specs, each JSON-encoded as MLflow expects.
type Signature struct {
	Inputs  string `yaml:"inputs" json:"inputs"`
	Outputs string `yaml:"outputs" json:"outputs"`
}

// TensorSpec describes one tensor input or output. -1 marks a variable dimension.
type TensorSpec struct {
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

// ColumnSpec describes one named column.
type ColumnSpec struct {
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// NewMLModel creates a descriptor with a fresh model UUID.
func NewMLModel(artifactPath string, now time.Time) *MLModel {
	return &MLModel{
		ArtifactPath:   artifactPath,
		Flavors:        map[string]map[string]any{},
		ModelUUID:      uuid.NewString(),
		UTCTimeCreated: now.UTC().Format(mlmodelTimeLayout),
	}
}

// AddFlavor registers a flavor's configuration.
func (m *MLModel) AddFlavor(name string, conf map[string]any) *MLModel {
	m.Flavors[name] = conf
	return m
}

func (m *MLModel) YAML() ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode MLmodel: %w", err)
	}
	return data, nil
}

func (m *MLModel) JSON() (string, error) {
	data, err := sonic.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode MLmodel: %w", err)
	}
	return string(data), nil
}

// ParseMLModel decodes an MLmodel file.
func ParseMLModel(data []byte) (*MLModel, error) {
	var m MLModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode MLmodel: %w", err)
	}
	return &m, nil
}

// TensorSignature builds a signature from one input and one output tensor.
func TensorSignature(in, out TensorSpec) (*Signature, error) {
	enc := func(s TensorSpec) (string, error) {
		data, err := sonic.Marshal([]map[string]any{{"type": "tensor", "tensor-spec": s}})
		return string(data), err
	}
	inputs, err := enc(in)
	if err != nil {
		return nil, err
	}
	outputs, err := enc(out)
	if err != nil {
		return nil, err
	}
	return &Signature{Inputs: inputs, Outputs: outputs}, nil
}

// ColumnSignature builds a signature from column specs.
func ColumnSignature(in, out []ColumnSpec) (*Signature, error) {
	inputs, err := sonic.Marshal(in)
	if err != nil {
		return nil, err
	}
	outputs, err := sonic.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &Signature{Inputs: string(inputs), Outputs: string(outputs)}, nil
}
