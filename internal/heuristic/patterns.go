package heuristic

import "github.com/mbd888/defiintel/internal/features"

// PatternType names a known scam pattern.
type PatternType string

const (
	PatternBotActivity PatternType = "BOT_ACTIVITY"
)

// PatternMatch is a single pattern hit.
type PatternMatch struct {
	Type        PatternType           `json:"type"`
	Confidence  float64               `json:"confidence"`
	Description string                `json:"description"`
	RiskLevel   features.RiskCategory `json:"risk_level"`
}

const (
	botRapidThreshold = 0.5
	botNightThreshold = 0.7
	botConfidence     = 0.8
)

// ApplyPatterns runs the rule-based pattern checks over a wallet vector
// and returns every match. Patterns do not move the fused score.
func ApplyPatterns(wallet features.Vector) []PatternMatch {
	var matches []PatternMatch
	if m, ok := botActivity(wallet); ok {
		matches = append(matches, m)
	}
	return matches
}

func botActivity(wallet features.Vector) (PatternMatch, bool) {
	rapid := wallet.Get(features.NameRapidTransactionsRatio)
	night := wallet.Get(features.NameNightTransactionsRatio)
	if rapid > botRapidThreshold && night > botNightThreshold {
		return PatternMatch{
			Type:        PatternBotActivity,
			Confidence:  botConfidence,
			Description: "High rapid transactions with night activity suggests bot behavior",
			RiskLevel:   features.RiskHigh,
		}, true
	}
	return PatternMatch{}, false
}
