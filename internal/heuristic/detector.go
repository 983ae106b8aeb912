package heuristic

import (
	"math"

	"github.com/mbd888/defiintel/internal/features"
)

// Detector performs weighted multi-source fusion. It is stateless after
// construction and safe for concurrent use.
type Detector struct {
	weights map[Source]float64
}

// NewDetector creates a detector with the default weights
// (wallet 0.4, token 0.35, social 0.25).
func NewDetector() *Detector {
	return &Detector{
		weights: map[Source]float64{
			SourceWallet: weightWallet,
			SourceToken:  weightToken,
			SourceSocial: weightSocial,
		},
	}
}

// WithWeight overrides the weight of one source. Non-positive weights
// are ignored.
func (d *Detector) WithWeight(src Source, w float64) *Detector {
	if w > 0 {
		d.weights[src] = w
	}
	return d
}

// Detect scores every present source and combines them. A nil or empty
// vector counts as absent. With no sources the result is score 0, LOW,
// confidence 0.
func (d *Detector) Detect(wallet, token, social features.Vector) *Result {
	result := &Result{
		RiskCategory:     features.RiskLow,
		FraudIndicators:  []string{},
		DetailedAnalysis: make(map[Source]*SourceAnalysis),
	}

	// fixed order keeps indicator output stable
	inputs := []struct {
		src     Source
		vec     features.Vector
		analyze func(features.Vector) *SourceAnalysis
	}{
		{SourceWallet, wallet, AnalyzeWallet},
		{SourceToken, token, AnalyzeToken},
		{SourceSocial, social, AnalyzeSocial},
	}

	var totalScore, totalWeight float64
	for _, in := range inputs {
		if len(in.vec) == 0 {
			continue
		}
		analysis := in.analyze(in.vec)
		result.DetailedAnalysis[in.src] = analysis
		result.FraudIndicators = append(result.FraudIndicators, analysis.Indicators...)

		w := d.weights[in.src]
		totalScore += float64(analysis.RiskScore) * w
		totalWeight += w
	}

	if totalWeight > 0 {
		// epsilon absorbs float error in score*w/w before truncation
		result.OverallRiskScore = features.ClampScore(int(totalScore/totalWeight + 1e-9))
	}
	result.RiskCategory = features.CategorizeRisk(result.OverallRiskScore)
	result.Confidence = confidence(len(result.FraudIndicators), result.Sources())

	if len(wallet) > 0 {
		result.Patterns = ApplyPatterns(wallet)
	}
	return result
}

// confidence grows with the indicator count and gets a boost when at
// least two sources contributed. Rounded to 2 decimals.
func confidence(indicators, sources int) float64 {
	if sources == 0 {
		return 0
	}
	c := math.Min(float64(indicators)/maxIndicators, 1)
	if sources >= multiSourceMinimum {
		c = math.Min(c+multiSourceBoost, 1)
	}
	return math.Round(c*100) / 100
}
