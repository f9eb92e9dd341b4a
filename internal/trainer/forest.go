package trainer

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/bytedance/sonic"
)

// ForestParams mirrors the hyperparameters logged to MLflow.
type ForestParams struct {
	NEstimators int   `json:"n_estimators"`
	MaxDepth    int   `json:"max_depth"`
	RandomState int64 `json:"random_state"`
}

// Params returns the hyperparameters as MLflow params.
func (p ForestParams) Params() map[string]any {
	return map[string]any{
		"n_estimators": p.NEstimators,
		"max_depth":    p.MaxDepth,
		"random_state": p.RandomState,
	}
}

// Node is a decision tree node; leaves have no children.
type Node struct {
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      *Node   `json:"left,omitempty"`
	Right     *Node   `json:"right,omitempty"`
	Class     int     `json:"class"`
}

func (n *Node) leaf() bool { return n.Left == nil }

func (n *Node) predict(x []float64) int {
	for !n.leaf() {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Class
}

// Forest is a bagged ensemble of depth-limited gini trees. Each split
// considers sqrt(features) randomly chosen features.
type Forest struct {
	Params   ForestParams `json:"params"`
	Features int          `json:"n_features"`
	Classes  int          `json:"n_classes"`
	Trees    []*Node      `json:"trees"`
}

func NewForest(p ForestParams) *Forest {
	return &Forest{Params: p}
}

// Fit trains the forest on ds. Labels must be in [0, k).
func (f *Forest) Fit(ds *Dataset) error {
	if ds.Len() == 0 {
		return fmt.Errorf("empty training set")
	}
	if f.Params.NEstimators < 1 || f.Params.MaxDepth < 1 {
		return fmt.Errorf("n_estimators and max_depth must be positive")
	}
	f.Features = ds.Features()
	f.Classes = 0
	for _, y := range ds.Y {
		if y < 0 {
			return fmt.Errorf("negative label %d", y)
		}
		if y+1 > f.Classes {
			f.Classes = y + 1
		}
	}

	rng := rand.New(rand.NewSource(f.Params.RandomState))
	mtry := int(math.Sqrt(float64(f.Features)))
	if mtry < 1 {
		mtry = 1
	}
	f.Trees = make([]*Node, f.Params.NEstimators)
	n := ds.Len()
	for t := range f.Trees {
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.Intn(n)
		}
		b := &builder{ds: ds, classes: f.Classes, mtry: mtry, maxDepth: f.Params.MaxDepth, rng: rng}
		f.Trees[t] = b.grow(sample, 0)
	}
	return nil
}

// Predict returns the majority vote for each row.
func (f *Forest) Predict(X [][]float64) []int {
	out := make([]int, len(X))
	votes := make([]int, f.Classes)
	for i, x := range X {
		for c := range votes {
			votes[c] = 0
		}
		for _, t := range f.Trees {
			votes[t.predict(x)]++
		}
		out[i] = argmax(votes)
	}
	return out
}

// Encode serializes the fitted model as JSON.
func (f *Forest) Encode() ([]byte, error) {
	return sonic.Marshal(f)
}

// DecodeForest restores a model produced by Encode.
func DecodeForest(data []byte) (*Forest, error) {
	var f Forest
	if err := sonic.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode forest: %w", err)
	}
	return &f, nil
}

type builder struct {
	ds       *Dataset
	classes  int
	mtry     int
	maxDepth int
	rng      *rand.Rand
}

func (b *builder) grow(idx []int, depth int) *Node {
	counts := b.counts(idx)
	node := &Node{Class: argmax(counts)}
	if depth >= b.maxDepth || len(idx) < 2 || pure(counts) {
		return node
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		return node
	}
	var left, right []int
	for _, i := range idx {
		if b.ds.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	node.Feature = feature
	node.Threshold = threshold
	node.Left = b.grow(left, depth+1)
	node.Right = b.grow(right, depth+1)
	return node
}

func (b *builder) bestSplit(idx []int, total []int) (int, float64, bool) {
	best := gini(total, len(idx))
	bestFeature, bestThreshold, found := 0, 0.0, false

	features := b.rng.Perm(b.ds.Features())[:b.mtry]
	sorted := make([]int, len(idx))
	left := make([]int, b.classes)
	right := make([]int, b.classes)
	for _, feat := range features {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.ds.X[sorted[a]][feat] < b.ds.X[sorted[c]][feat] })
		for c := range left {
			left[c] = 0
		}
		copy(right, total)

		for k := 0; k < len(sorted)-1; k++ {
			y := b.ds.Y[sorted[k]]
			left[y]++
			right[y]--
			v, next := b.ds.X[sorted[k]][feat], b.ds.X[sorted[k+1]][feat]
			if v == next {
				continue
			}
			nl, nr := k+1, len(sorted)-k-1
			score := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(len(sorted))
			if score < best-1e-12 {
				best, bestFeature, bestThreshold, found = score, feat, (v+next)/2, true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func (b *builder) counts(idx []int) []int {
	c := make([]int, b.classes)
	for _, i := range idx {
		c[b.ds.Y[i]]++
	}
	return c
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}

func pure(counts []int) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func argmax(v []int) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
