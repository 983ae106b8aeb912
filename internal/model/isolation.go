package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	maxIsolationSamples = 256
	eulerGamma          = 0.5772156649015329
)

// IsolationParams configures isolation forest training.
type IsolationParams struct {
	Trees         int
	Contamination float64
	Seed          int64
}

// DefaultIsolationParams: 100 trees, 10% contamination, seed 42.
func DefaultIsolationParams() IsolationParams {
	return IsolationParams{Trees: 100, Contamination: 0.1, Seed: 42}
}

// isoNode is an isolation tree node. Leaves have Feature == -1 and record
// how many training samples reached them.
type isoNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Size      int     `json:"n,omitempty"`
}

// IsolationForest scores anomalies by how quickly random splits isolate
// a point. Decision scores are negative for outliers and positive for
// inliers, with the boundary placed at the contamination quantile of the
// training scores.
type IsolationForest struct {
	Features      int         `json:"n_features"`
	SampleSize    int         `json:"max_samples"`
	Contamination float64     `json:"contamination"`
	Offset        float64     `json:"offset"`
	Trees         [][]isoNode `json:"trees"`
}

// TrainIsolation fits an isolation forest on X.
func TrainIsolation(ctx context.Context, X [][]float64, p IsolationParams) (*IsolationForest, error) {
	width, err := checkMatrix(X)
	if err != nil {
		return nil, fmt.Errorf("train isolation forest: %w", err)
	}
	if p.Trees <= 0 || p.Contamination <= 0 || p.Contamination > 0.5 {
		return nil, fmt.Errorf("train isolation forest: %w: trees=%d contamination=%v",
			ErrInvalidParameters, p.Trees, p.Contamination)
	}

	n := len(X)
	psi := n
	if psi > maxIsolationSamples {
		psi = maxIsolationSamples
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	forest := &IsolationForest{
		Features:      width,
		SampleSize:    psi,
		Contamination: p.Contamination,
		Trees:         make([][]isoNode, 0, p.Trees),
	}
	for t := 0; t < p.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("train isolation forest: %w", err)
		}
		rng := newRand(p.Seed, fmt.Sprintf("isolation/tree/%d", t))
		sample := rng.Perm(n)[:psi]
		b := &isoBuilder{X: X, rng: rng, width: width, maxDepth: maxDepth}
		b.build(sample, 0)
		forest.Trees = append(forest.Trees, b.nodes)
	}

	scores := make([]float64, n)
	for i, row := range X {
		s, err := forest.ScoreSamples(row)
		if err != nil {
			return nil, fmt.Errorf("train isolation forest: %w", err)
		}
		scores[i] = s
	}
	sort.Float64s(scores)
	forest.Offset = quantile(scores, p.Contamination)
	return forest, nil
}

// ScoreSamples returns the raw anomaly score in [-1, 0): -2^(-E[h]/c(psi)).
// Lower is more anomalous.
func (f *IsolationForest) ScoreSamples(x []float64) (float64, error) {
	if len(x) != f.Features {
		return 0, fmt.Errorf("%w: isolation forest has %d features, row has %d", ErrDimension, f.Features, len(x))
	}
	if len(f.Trees) == 0 {
		return 0, ErrNoModel
	}
	sum := 0.0
	for _, tree := range f.Trees {
		h, err := isoPathLength(tree, x)
		if err != nil {
			return 0, err
		}
		sum += h
	}
	mean := sum / float64(len(f.Trees))
	norm := averagePathLength(f.SampleSize)
	if norm == 0 {
		norm = 1
	}
	return -math.Pow(2, -mean/norm), nil
}

// Decision shifts the raw score by the fitted offset.
func (f *IsolationForest) Decision(x []float64) (float64, error) {
	s, err := f.ScoreSamples(x)
	if err != nil {
		return 0, err
	}
	return s - f.Offset, nil
}

func isoPathLength(tree []isoNode, x []float64) (float64, error) {
	i, depth := 0, 0
	for depth <= len(tree) {
		if i < 0 || i >= len(tree) {
			return 0, fmt.Errorf("%w: node %d out of range", ErrDimension, i)
		}
		node := tree[i]
		if node.Feature < 0 {
			return float64(depth) + averagePathLength(node.Size), nil
		}
		if node.Feature >= len(x) {
			return 0, fmt.Errorf("%w: split on feature %d", ErrDimension, node.Feature)
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
		depth++
	}
	return 0, fmt.Errorf("%w: cycle in tree", ErrDimension)
}

// averagePathLength is c(n), the mean path length of an unsuccessful
// BST search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

type isoBuilder struct {
	X        [][]float64
	rng      *rand.Rand
	width    int
	maxDepth int
	nodes    []isoNode
}

func (b *isoBuilder) build(idx []int, depth int) int {
	self := len(b.nodes)
	b.nodes = append(b.nodes, isoNode{Feature: -1, Size: len(idx)})
	if depth >= b.maxDepth || len(idx) <= 1 {
		return self
	}

	// only features that vary within the node can split it
	type span struct {
		feature  int
		min, max float64
	}
	var candidates []span
	for f := 0; f < b.width; f++ {
		lo, hi := b.X[idx[0]][f], b.X[idx[0]][f]
		for _, i := range idx[1:] {
			v := b.X[i][f]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if lo < hi {
			candidates = append(candidates, span{f, lo, hi})
		}
	}
	if len(candidates) == 0 {
		return self
	}

	c := candidates[b.rng.Intn(len(candidates))]
	threshold := c.min + b.rng.Float64()*(c.max-c.min)
	if threshold >= c.max {
		threshold = c.min
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][c.feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[self] = isoNode{Feature: c.feature, Threshold: threshold, Left: l, Right: r}
	return self
}
