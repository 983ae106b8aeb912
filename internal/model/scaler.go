package model

import (
	"fmt"
	"math"
)

// Scaler standardizes columns to zero mean and unit variance using the
// population standard deviation. Constant columns get scale 1.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler learns per-column mean and scale.
func FitScaler(X [][]float64) (*Scaler, error) {
	width, err := checkMatrix(X)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}

	n := float64(len(X))
	s := &Scaler{Mean: make([]float64, width), Scale: make([]float64, width)}
	for _, row := range X {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / n)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s, nil
}

// Transform standardizes one row.
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) || len(s.Scale) != len(s.Mean) {
		return nil, fmt.Errorf("%w: scaler has %d columns, row has %d", ErrDimension, len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll standardizes every row.
func (s *Scaler) TransformAll(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		r, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
