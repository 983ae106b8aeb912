package model

import "math"

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// quantile uses linear interpolation between closest ranks on sorted
// input; q is a fraction.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	idx := q * float64(n-1)
	lower := int(idx)
	if lower+1 >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

// checkMatrix validates a non-empty rectangular matrix and returns its width.
func checkMatrix(X [][]float64) (int, error) {
	if len(X) == 0 {
		return 0, ErrEmptyTrainingSet
	}
	width := len(X[0])
	if width == 0 {
		return 0, ErrDimension
	}
	for _, row := range X {
		if len(row) != width {
			return 0, ErrDimension
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, ErrNonFinite
			}
		}
	}
	return width, nil
}
