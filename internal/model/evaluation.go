package model

import "math"

// Evaluation summarises hold-out performance for the fraud class.
type Evaluation struct {
	Samples   int     `json:"samples"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	// Confusion is indexed [actual][predicted], 0 = legitimate, 1 = fraud.
	Confusion [2][2]int `json:"confusion_matrix"`
}

// holdoutSplit shuffles 0..n-1 with a seeded stream and returns train and
// test indices, test holding ceil(n*fraction). When the split would leave
// either side empty, everything is training data and test is nil.
func holdoutSplit(n int, fraction float64, seed int64) (train, test []int) {
	perm := newRand(seed, "holdout").Perm(n)
	testSize := int(math.Ceil(float64(n) * fraction))
	if fraction <= 0 || testSize <= 0 || testSize >= n {
		return perm, nil
	}
	return perm[testSize:], perm[:testSize]
}

// evaluate scores binary predictions against truth.
func evaluate(truth, predicted []int) *Evaluation {
	e := &Evaluation{Samples: len(truth)}
	for i := range truth {
		a, p := 0, 0
		if truth[i] == 1 {
			a = 1
		}
		if predicted[i] == 1 {
			p = 1
		}
		e.Confusion[a][p]++
	}

	tn, fp := e.Confusion[0][0], e.Confusion[0][1]
	fn, tp := e.Confusion[1][0], e.Confusion[1][1]
	if e.Samples > 0 {
		e.Accuracy = round(float64(tp+tn)/float64(e.Samples), 3)
	}
	if tp+fp > 0 {
		e.Precision = round(float64(tp)/float64(tp+fp), 3)
	}
	if tp+fn > 0 {
		e.Recall = round(float64(tp)/float64(tp+fn), 3)
	}
	if e.Precision+e.Recall > 0 {
		e.F1 = round(2*e.Precision*e.Recall/(e.Precision+e.Recall), 3)
	}
	return e
}

func pick[T any](src []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}
