// Package trainer fits the toy classifier logged by the MLflow smoke test:
// synthetic binary data and a small random forest.
package trainer

import (
	"fmt"
	"math/rand"
)

// Dataset is a feature matrix with binary labels.
type Dataset struct {
	X [][]float64
	Y []int
}

func (d *Dataset) Len() int { return len(d.Y) }

// Features returns the row width.
func (d *Dataset) Features() int {
	if len(d.X) == 0 {
		return 0
	}
	return len(d.X[0])
}

// ClassificationSpec controls MakeClassification.
type ClassificationSpec struct {
	Samples     int
	Features    int
	Informative int
	ClassSep    float64
	FlipY       float64
	Seed        int64
}

// DefaultClassification is 1000 samples of 20 features, 2 informative.
var DefaultClassification = ClassificationSpec{
	Samples:     1000,
	Features:    20,
	Informative: 2,
	ClassSep:    1.0,
	FlipY:       0.01,
	Seed:        42,
}

// MakeClassification draws a balanced two-class problem. Informative features
// are Gaussian around a class centroid at ±ClassSep; the rest are noise. A
// FlipY share of labels is randomized. Output is deterministic for a seed.
func MakeClassification(spec ClassificationSpec) (*Dataset, error) {
	if spec.Samples < 2 || spec.Features < 1 {
		return nil, fmt.Errorf("need at least 2 samples and 1 feature, got %d x %d", spec.Samples, spec.Features)
	}
	if spec.Informative < 1 || spec.Informative > spec.Features {
		return nil, fmt.Errorf("informative features must be in [1, %d], got %d", spec.Features, spec.Informative)
	}
	rng := rand.New(rand.NewSource(spec.Seed))

	// Class 1 mirrors class 0 through the origin.
	centroids := [2][]float64{make([]float64, spec.Informative), make([]float64, spec.Informative)}
	for j := range centroids[0] {
		v := spec.ClassSep
		if rng.Intn(2) == 0 {
			v = -v
		}
		centroids[0][j] = v
		centroids[1][j] = -v
	}

	ds := &Dataset{X: make([][]float64, spec.Samples), Y: make([]int, spec.Samples)}
	for i := 0; i < spec.Samples; i++ {
		label := i % 2
		row := make([]float64, spec.Features)
		for j := range row {
			row[j] = rng.NormFloat64()
			if j < spec.Informative {
				row[j] += centroids[label][j]
			}
		}
		if rng.Float64() < spec.FlipY {
			label = rng.Intn(2)
		}
		ds.X[i] = row
		ds.Y[i] = label
	}

	rng.Shuffle(spec.Samples, func(a, b int) {
		ds.X[a], ds.X[b] = ds.X[b], ds.X[a]
		ds.Y[a], ds.Y[b] = ds.Y[b], ds.Y[a]
	})
	return ds, nil
}

// TrainTestSplit shuffles with seed and holds out testSize (a fraction).
func TrainTestSplit(ds *Dataset, testSize float64, seed int64) (train, test *Dataset, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be in (0, 1), got %v", testSize)
	}
	n := ds.Len()
	nTest := int(float64(n)*testSize + 0.999999)
	if nTest < 1 || nTest >= n {
		return nil, nil, fmt.Errorf("cannot hold out %d of %d samples", nTest, n)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	pick := func(idx []int) *Dataset {
		out := &Dataset{X: make([][]float64, len(idx)), Y: make([]int, len(idx))}
		for i, k := range idx {
			out.X[i] = ds.X[k]
			out.Y[i] = ds.Y[k]
		}
		return out
	}
	return pick(perm[nTest:]), pick(perm[:nTest]), nil
}
