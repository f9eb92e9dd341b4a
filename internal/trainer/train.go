package trainer

import (
	"databricks_smoke/internal/mlflow"
)

// FlavorName identifies the forest in an MLmodel descriptor.
const FlavorName = "smoke_forest"

// ModelFile is the serialized forest inside the model directory.
const ModelFile = "model.json"

// DefaultForest matches the parameters the smoke test logs.
var DefaultForest = ForestParams{NEstimators: 100, MaxDepth: 5, RandomState: 42}

// Result is a fitted model with its held-out scores.
type Result struct {
	Forest   *Forest
	Train    *Dataset
	Test     *Dataset
	Accuracy float64
	F1       float64
}

// Train generates data, holds out 20% and fits a forest.
func Train(spec ClassificationSpec, params ForestParams) (*Result, error) {
	ds, err := MakeClassification(spec)
	if err != nil {
		return nil, err
	}
	train, test, err := TrainTestSplit(ds, 0.2, spec.Seed)
	if err != nil {
		return nil, err
	}
	forest := NewForest(params)
	if err := forest.Fit(train); err != nil {
		return nil, err
	}
	pred := forest.Predict(test.X)
	acc, err := Accuracy(test.Y, pred)
	if err != nil {
		return nil, err
	}
	f1, err := F1Weighted(test.Y, pred)
	if err != nil {
		return nil, err
	}
	return &Result{Forest: forest, Train: train, Test: test, Accuracy: acc, F1: f1}, nil
}

// Metrics returns the scores under the names MLflow records.
func (r *Result) Metrics() map[string]float64 {
	return map[string]float64{"accuracy": r.Accuracy, "f1_score": r.F1}
}

// Signature describes the model's float64 feature matrix and int64 labels.
func (r *Result) Signature() (*mlflow.Signature, error) {
	return mlflow.TensorSignature(
		mlflow.TensorSpec{DType: "float64", Shape: []int{-1, r.Forest.Features}},
		mlflow.TensorSpec{DType: "int64", Shape: []int{-1}},
	)
}

// Artifacts returns the model directory contents and the flavor config.
func (r *Result) Artifacts() (map[string][]byte, map[string]any, error) {
	data, err := r.Forest.Encode()
	if err != nil {
		return nil, nil, err
	}
	flavor := map[string]any{
		"model_file":   ModelFile,
		"format":       "json",
		"n_estimators": r.Forest.Params.NEstimators,
		"max_depth":    r.Forest.Params.MaxDepth,
	}
	return map[string][]byte{ModelFile: data}, flavor, nil
}
