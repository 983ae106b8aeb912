// Package heuristic fuses wallet, token and social feature vectors into a
// single weighted fraud-risk score.
//
// Each present source is re-scored by its own analyzer. The analyzers use
// thresholds that differ from the extractors' embedded risk scores: an
// extractor answers "how risky is this history", an analyzer answers "how
// much does this source contribute to the combined verdict".
package heuristic

import "github.com/mbd888/defiintel/internal/features"

// Source identifies one input of the fusion.
type Source string

const (
	SourceWallet Source = "wallet"
	SourceToken  Source = "token"
	SourceSocial Source = "social"
)

// Default fusion weights.
const (
	weightWallet = 0.4
	weightToken  = 0.35
	weightSocial = 0.25
)

// Confidence shaping.
const (
	maxIndicators      = 10
	multiSourceBoost   = 0.2
	multiSourceMinimum = 2
)

// SourceAnalysis is one analyzer's verdict.
type SourceAnalysis struct {
	RiskScore          int      `json:"risk_score"`
	Indicators         []string `json:"indicators"`
	SuspiciousPatterns int      `json:"suspicious_patterns"`
}

// Result is the fused verdict across all present sources.
type Result struct {
	OverallRiskScore int                        `json:"overall_risk_score"`
	RiskCategory     features.RiskCategory      `json:"risk_category"`
	Confidence       float64                    `json:"confidence"`
	FraudIndicators  []string                   `json:"fraud_indicators"`
	DetailedAnalysis map[Source]*SourceAnalysis `json:"detailed_analysis"`
	Patterns         []PatternMatch             `json:"patterns,omitempty"`
}

// Sources returns how many sources contributed.
func (r *Result) Sources() int {
	return len(r.DetailedAnalysis)
}
