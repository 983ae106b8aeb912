// Package dataset accumulates combined feature vectors for model training
// and materializes them into a uniform table.
package dataset

import (
	"math"
	"sort"
	"sync"

	"github.com/mbd888/defiintel/internal/features"
)

// Unlabeled marks a row whose sample carried no label.
const Unlabeled = -1

// Label values used by the supervised model.
const (
	LabelLegitimate = 0
	LabelFraud      = 1
)

// Sample is one training example: the merged feature vector plus an
// optional label.
type Sample struct {
	Features features.Vector `json:"features"`
	Label    *int            `json:"label,omitempty"`
}

// Table is a dense row-major matrix with named columns. Cells for
// features a sample did not carry are NaN.
type Table struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

// Len returns the row count.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of name or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Matrix projects the table onto the given columns in order. Missing
// columns and NaN cells become 0.
func (t *Table) Matrix(columns []string) [][]float64 {
	if t == nil {
		return nil
	}
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.ColumnIndex(c)
	}
	out := make([][]float64, len(t.Rows))
	for r, row := range t.Rows {
		dst := make([]float64, len(columns))
		for i, j := range idx {
			if j < 0 {
				continue
			}
			if v := row[j]; !math.IsNaN(v) {
				dst[i] = v
			}
		}
		out[r] = dst
	}
	return out
}

// Aggregator collects samples until they are materialized for training.
// Safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	samples []Sample
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// AddSample merges wallet, token and social (in that order, later keys
// overwrite earlier ones) and appends the result. Labels are not
// validated.
func (a *Aggregator) AddSample(wallet, token, social features.Vector, label *int) {
	sample := Sample{Features: features.Merge(wallet, token, social)}
	if label != nil {
		l := *label
		sample.Label = &l
	}

	a.mu.Lock()
	a.samples = append(a.samples, sample)
	a.mu.Unlock()
}

// Len returns the number of pending samples.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// Labeled returns the number of pending samples that carry a label.
func (a *Aggregator) Labeled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.samples {
		if s.Label != nil {
			n++
		}
	}
	return n
}

// TrainingData materializes the samples. Columns are the sorted union of
// all feature names. Labels are returned only if at least one sample was
// labeled; unlabeled rows then carry Unlabeled. An empty aggregator
// yields an empty table and nil labels.
func (a *Aggregator) TrainingData() (*Table, []int) {
	a.mu.Lock()
	samples := make([]Sample, len(a.samples))
	copy(samples, a.samples)
	a.mu.Unlock()

	seen := make(map[string]struct{})
	for _, s := range samples {
		for k := range s.Features {
			seen[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	table := &Table{Columns: columns, Rows: make([][]float64, 0, len(samples))}
	labels := make([]int, 0, len(samples))
	anyLabeled := false
	for _, s := range samples {
		row := make([]float64, len(columns))
		for i, c := range columns {
			if v, ok := s.Features[c]; ok {
				row[i] = v
			} else {
				row[i] = math.NaN()
			}
		}
		table.Rows = append(table.Rows, row)

		if s.Label != nil {
			anyLabeled = true
			labels = append(labels, *s.Label)
		} else {
			labels = append(labels, Unlabeled)
		}
	}

	if !anyLabeled {
		return table, nil
	}
	return table, labels
}

// Clear drops all pending samples.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.samples = nil
	a.mu.Unlock()
}
