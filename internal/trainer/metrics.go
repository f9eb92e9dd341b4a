package trainer

import "fmt"

// Accuracy is the share of exact matches.
func Accuracy(yTrue, yPred []int) (float64, error) {
	if err := sameLength(yTrue, yPred); err != nil {
		return 0, err
	}
	hit := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(yTrue)), nil
}

// F1Weighted averages per-class F1 weighted by class support. A class with no
// predicted or true positives contributes 0.
func F1Weighted(yTrue, yPred []int) (float64, error) {
	if err := sameLength(yTrue, yPred); err != nil {
		return 0, err
	}
	classes := 0
	for i := range yTrue {
		classes = max(classes, yTrue[i]+1, yPred[i]+1)
	}
	tp := make([]int, classes)
	fp := make([]int, classes)
	fn := make([]int, classes)
	support := make([]int, classes)
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		support[t]++
		if t == p {
			tp[t]++
		} else {
			fp[p]++
			fn[t]++
		}
	}

	var sum float64
	for c := 0; c < classes; c++ {
		denom := 2*tp[c] + fp[c] + fn[c]
		if denom == 0 || support[c] == 0 {
			continue
		}
		sum += float64(support[c]) * float64(2*tp[c]) / float64(denom)
	}
	return sum / float64(len(yTrue)), nil
}

func sameLength(a, b []int) error {
	if len(a) == 0 {
		return fmt.Errorf("no labels")
	}
	if len(a) != len(b) {
		return fmt.Errorf("label length mismatch: %d vs %d", len(a), len(b))
	}
	return nil
}
