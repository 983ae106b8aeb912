package model

import (
	"math"
	"sort"

	"github.com/mbd888/defiintel/internal/canonhash"
	"github.com/mbd888/defiintel/internal/features"
)

// fallbackRule is one ratio the fallback predictor inspects. When the
// value exceeds the threshold it contributes value*multiplier points,
// capped at limit when limit > 0.
type fallbackRule struct {
	name       string
	threshold  float64
	multiplier float64
	limit      float64
}

var fallbackRules = []fallbackRule{
	{name: features.NameRapidTransactionsRatio, threshold: 0.2, multiplier: 40},
	{name: features.NameNightTransactionsRatio, threshold: 0.5, multiplier: 25},
	{name: features.NameFeeVolatility, threshold: 2.0, multiplier: 6, limit: 30},
	{name: features.NameLargeTransferRatio, threshold: 0.5, multiplier: 20},
	{name: features.NameSelfTransferRatio, threshold: 0.2, multiplier: 25},
}

// Activity bonus tiers on the event count.
const (
	highActivityCount  = 100
	highActivityPoints = 10
	someActivityCount  = 50
	someActivityPoints = 5
)

// Confidence is scaled into [0.9, 1.0) of max(p, 1-p) by the vector hash.
const (
	perturbBase  = 0.9
	perturbRange = 0.1
)

// FallbackPredict scores v with fixed heuristics. Identical vectors always
// produce identical predictions.
func FallbackPredict(v features.Vector, reason FallbackReason) Prediction {
	score := 0.0
	triggered := 0
	for _, r := range fallbackRules {
		val := v.Get(r.name)
		if val <= r.threshold {
			continue
		}
		pts := val * r.multiplier
		if r.limit > 0 && pts > r.limit {
			pts = r.limit
		}
		score += pts
		triggered++
	}

	count := v.Get(features.NameTotalTransactions)
	if count == 0 {
		count = v.Get(features.NameTotalTransfers)
	}
	switch {
	case count > highActivityCount:
		score += highActivityPoints
	case count > someActivityCount:
		score += someActivityPoints
	}

	score = math.Max(0, math.Min(100, score))
	p := score / 100
	confidence := math.Max(p, 1-p) * (perturbBase + perturbRange*vectorHash(v).Unit())

	riskScore := round(score, 1)
	total := len(fallbackRules)
	return Prediction{
		FraudProbability: round(p, 3),
		Prediction:       verdictFor(p),
		Confidence:       round(confidence, 3),
		ModelType:        TypeHeuristicFallback,
		RiskScore:        &riskScore,
		RiskCategory:     features.CategorizeRisk(int(riskScore)),
		FallbackReason:   reason,
		RiskFactors:      &triggered,
		TotalFactors:     &total,
		Degraded:         true,
	}
}

// vectorHash digests the (name, value) pairs in name order.
func vectorHash(v features.Vector) canonhash.Hash32 {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)

	b := canonhash.NewBuilder()
	for _, k := range names {
		b.PutString(k).PutFloat64(v[k])
	}
	return b.Sum32()
}
