package features

import (
	"math"
	"sort"
)

// mean calculates the arithmetic mean with a running update so values
// near math.MaxFloat64 do not overflow the sum.
func mean(values []float64) float64 {
	m := 0.0
	for i, v := range values {
		n := float64(i + 1)
		m += v/n - m/n
	}
	return m
}

// sampleStddev calculates sample standard deviation (n-1 denominator).
// Fewer than two samples yields 0. Deviations are scaled by the largest
// one before squaring.
func sampleStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	scale := 0.0
	for _, v := range values {
		scale = math.Max(scale, math.Abs(v-mean))
	}
	if scale == 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		d := (v - mean) / scale
		sumSq += d * d
	}
	return scale * math.Sqrt(sumSq/float64(n-1))
}

// finite maps NaN and ±Inf to 0.
func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// percentile uses linear interpolation between closest ranks.
// sorted must be pre-sorted ASC; p is a fraction (0.95 = 95th percentile).
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return (1-frac)*sorted[lower] + frac*sorted[upper]
}

// sortedCopy returns values sorted ASC without touching the input.
func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// minMax returns the extremes of a non-empty slice.
func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// ratioAbove returns the fraction of values strictly greater than threshold.
func ratioAbove(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	count := 0
	for _, v := range values {
		if v > threshold {
			count++
		}
	}
	return float64(count) / float64(len(values))
}

// ratioBelow returns the fraction of values strictly less than threshold.
func ratioBelow(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	count := 0
	for _, v := range values {
		if v < threshold {
			count++
		}
	}
	return float64(count) / float64(len(values))
}

// coefficientOfVariation is stddev / mean, 0 when the mean is not positive.
func coefficientOfVariation(stddev, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	return stddev / mean
}

// Concentration computes the Gini-style concentration of a value
// distribution: with n ascending values and cumulative sum C,
//
//	(n + 1 - 2*sum(C)/C[n-1]) / n
//
// 0 means perfectly even; (n-1)/n means one value carries everything.
// Negative values are ignored. Returns 0 for empty input or a
// non-positive total.
func Concentration(values []float64) float64 {
	kept := make([]float64, 0, len(values))
	top := 0.0
	for _, v := range values {
		if v >= 0 && !math.IsInf(v, 0) {
			kept = append(kept, v)
			top = math.Max(top, v)
		}
	}
	n := len(kept)
	if n == 0 || top == 0 {
		return 0
	}
	sort.Float64s(kept)

	// The measure is scale-free; dividing by the largest value keeps the
	// cumulative sums bounded by n.
	cumulative := 0.0
	sumCumulative := 0.0
	for _, v := range kept {
		cumulative += v / top
		sumCumulative += cumulative
	}
	g := (float64(n) + 1 - 2*sumCumulative/cumulative) / float64(n)
	return math.Min(math.Max(g, 0), 1)
}
