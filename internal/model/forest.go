package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ForestParams configures random forest training.
type ForestParams struct {
	Trees    int
	MaxDepth int
	Seed     int64
}

// DefaultForestParams: 100 trees, depth 10, seed 42.
func DefaultForestParams() ForestParams {
	return ForestParams{Trees: 100, MaxDepth: 10, Seed: 42}
}

// forestNode is a CART node. Leaves have Feature == -1 and carry the
// weighted fraction of the positive class that reached them.
type forestNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Prob      float64 `json:"p,omitempty"`
}

// RandomForest is a bagged ensemble of gini CART trees with balanced
// class weights and sqrt(features) candidates per split.
type RandomForest struct {
	Features int            `json:"n_features"`
	Trees    [][]forestNode `json:"trees"`
}

// TrainForest fits a forest on X with binary labels y (1 = fraud).
func TrainForest(ctx context.Context, X [][]float64, y []int, p ForestParams) (*RandomForest, error) {
	width, err := checkMatrix(X)
	if err != nil {
		return nil, fmt.Errorf("train forest: %w", err)
	}
	if len(y) != len(X) {
		return nil, fmt.Errorf("train forest: %w: %d rows, %d labels", ErrDimension, len(X), len(y))
	}
	if p.Trees <= 0 || p.MaxDepth <= 0 {
		return nil, fmt.Errorf("train forest: %w: trees=%d depth=%d", ErrInvalidParameters, p.Trees, p.MaxDepth)
	}

	classWeight := balancedWeights(y)
	mtry := int(math.Sqrt(float64(width)))
	if mtry < 1 {
		mtry = 1
	}

	forest := &RandomForest{Features: width, Trees: make([][]forestNode, 0, p.Trees)}
	n := len(X)
	for t := 0; t < p.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("train forest: %w", err)
		}
		rng := newRand(p.Seed, fmt.Sprintf("forest/tree/%d", t))

		// bootstrap: draw counts become sample weights
		weights := make([]float64, n)
		for i := 0; i < n; i++ {
			j := rng.Intn(n)
			weights[j] += classWeight[y[j]]
		}
		idx := make([]int, 0, n)
		for i, w := range weights {
			if w > 0 {
				idx = append(idx, i)
			}
		}

		b := &treeBuilder{X: X, y: y, w: weights, rng: rng, mtry: mtry, width: width, maxDepth: p.MaxDepth}
		b.build(idx, 0)
		forest.Trees = append(forest.Trees, b.nodes)
	}
	return forest, nil
}

// PredictProba returns the mean positive-class probability across trees.
func (f *RandomForest) PredictProba(x []float64) (float64, error) {
	if len(x) != f.Features {
		return 0, fmt.Errorf("%w: forest has %d features, row has %d", ErrDimension, f.Features, len(x))
	}
	if len(f.Trees) == 0 {
		return 0, ErrNoModel
	}
	sum := 0.0
	for _, tree := range f.Trees {
		p, err := walkForestTree(tree, x)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(f.Trees)), nil
}

func walkForestTree(tree []forestNode, x []float64) (float64, error) {
	i := 0
	for steps := 0; steps <= len(tree); steps++ {
		if i < 0 || i >= len(tree) {
			return 0, fmt.Errorf("%w: node %d out of range", ErrDimension, i)
		}
		node := tree[i]
		if node.Feature < 0 {
			return node.Prob, nil
		}
		if node.Feature >= len(x) {
			return 0, fmt.Errorf("%w: split on feature %d", ErrDimension, node.Feature)
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
	return 0, fmt.Errorf("%w: cycle in tree", ErrDimension)
}

// balancedWeights gives each class n / (classes * count) so both classes
// carry equal total weight.
func balancedWeights(y []int) map[int]float64 {
	counts := map[int]int{}
	for _, label := range y {
		counts[label]++
	}
	weights := make(map[int]float64, len(counts))
	for label, c := range counts {
		weights[label] = float64(len(y)) / (float64(len(counts)) * float64(c))
	}
	return weights
}

type treeBuilder struct {
	X        [][]float64
	y        []int
	w        []float64
	rng      *rand.Rand
	mtry     int
	width    int
	maxDepth int
	nodes    []forestNode
}

// build grows the subtree for idx and returns its node index.
func (b *treeBuilder) build(idx []int, depth int) int {
	var neg, pos float64
	for _, i := range idx {
		if b.y[i] == 1 {
			pos += b.w[i]
		} else {
			neg += b.w[i]
		}
	}
	total := neg + pos

	self := len(b.nodes)
	leaf := forestNode{Feature: -1}
	if total > 0 {
		leaf.Prob = pos / total
	}
	b.nodes = append(b.nodes, leaf)

	if depth >= b.maxDepth || len(idx) < 2 || neg == 0 || pos == 0 {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, neg, pos)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return self
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[self] = forestNode{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return self
}

// bestSplit draws candidate features in random order until mtry
// non-constant ones have been evaluated and an improving split exists,
// and returns the split with the lowest weighted gini impurity.
func (b *treeBuilder) bestSplit(idx []int, neg, pos float64) (int, float64, bool) {
	total := neg + pos
	parent := weightedGini(neg, pos)
	bestImpurity := parent
	bestFeature, bestThreshold := -1, 0.0

	sorted := make([]int, len(idx))
	evaluated := 0
	for _, f := range b.rng.Perm(b.width) {
		if evaluated >= b.mtry && bestFeature >= 0 {
			break
		}
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })
		if b.X[sorted[0]][f] == b.X[sorted[len(sorted)-1]][f] {
			continue
		}
		evaluated++

		var lNeg, lPos float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			if b.y[i] == 1 {
				lPos += b.w[i]
			} else {
				lNeg += b.w[i]
			}
			cur, next := b.X[i][f], b.X[sorted[k+1]][f]
			if cur == next {
				continue
			}
			impurity := weightedGini(lNeg, lPos) + weightedGini(neg-lNeg, pos-lPos)
			if impurity < bestImpurity-1e-12 {
				bestImpurity = impurity
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				if bestThreshold >= next {
					bestThreshold = cur
				}
			}
		}
	}

	if bestFeature < 0 || total == 0 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

// weightedGini is node weight times gini impurity.
func weightedGini(neg, pos float64) float64 {
	t := neg + pos
	if t <= 0 {
		return 0
	}
	return t - (neg*neg+pos*pos)/t
}
