package heuristic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/defiintel/internal/features"
)

func TestDetect_NoSources(t *testing.T) {
	d := NewDetector()

	result := d.Detect(nil, features.Vector{}, nil)
	assert.Equal(t, 0, result.OverallRiskScore)
	assert.Equal(t, features.RiskLow, result.RiskCategory)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Empty(t, result.FraudIndicators)
	assert.Equal(t, 0, result.Sources())
}

func TestDetect_SingleSourceNormalizesWeight(t *testing.T) {
	d := NewDetector()

	wallet := features.Vector{
		features.NameRapidTransactionsRatio: 0.4,
		features.NameNightTransactionsRatio: 0.7,
	}
	result := d.Detect(wallet, nil, nil)

	require.Contains(t, result.DetailedAnalysis, SourceWallet)
	assert.Equal(t, 45, result.DetailedAnalysis[SourceWallet].RiskScore)
	assert.Equal(t, 45, result.OverallRiskScore, "a lone source is not diluted by absent weights")
	assert.Equal(t, features.RiskMedium, result.RiskCategory)
	assert.Equal(t, 0.2, result.Confidence)
	assert.Equal(t, []string{
		"High rapid transaction ratio: 40.00%",
		"High night activity: 70.00%",
	}, result.FraudIndicators)
}

func TestDetect_MultiSourceWeighting(t *testing.T) {
	d := NewDetector()

	wallet := features.Vector{
		features.NameRapidTransactionsRatio: 0.4,
		features.NameNightTransactionsRatio: 0.7,
	}
	token := features.Vector{features.NameLargeTransferRatio: 0.9}

	result := d.Detect(wallet, token, nil)
	// (45*0.4 + 30*0.35) / 0.75
	assert.Equal(t, 38, result.OverallRiskScore)
	assert.Equal(t, features.RiskLow, result.RiskCategory)
	assert.Len(t, result.FraudIndicators, 3)
	// 3/10 plus the multi-source boost
	assert.Equal(t, 0.5, result.Confidence)
	assert.Equal(t, 2, result.Sources())
}

func TestDetect_CustomWeight(t *testing.T) {
	d := NewDetector().WithWeight(SourceToken, 0.6).WithWeight(SourceWallet, -1)

	wallet := features.Vector{features.NameRapidTransactionsRatio: 0.4}
	token := features.Vector{features.NameLargeTransferRatio: 0.9}

	// (25*0.4 + 30*0.6) / 1.0
	result := d.Detect(wallet, token, nil)
	assert.Equal(t, 28, result.OverallRiskScore)
}

func TestAnalyzeWallet_AllIndicators(t *testing.T) {
	a := AnalyzeWallet(features.Vector{
		features.NameRapidTransactionsRatio: 0.9,
		features.NameNightTransactionsRatio: 0.9,
		features.NameFeeVolatility:          3,
		features.NameVolumeVolatility:       20,
	})
	assert.Equal(t, 70, a.RiskScore)
	assert.Equal(t, 4, a.SuspiciousPatterns)
	assert.Contains(t, a.Indicators, "High fee volatility: 3.00")
	assert.Contains(t, a.Indicators, "High volume volatility: 20.00")
}

func TestAnalyzeToken(t *testing.T) {
	// missing average reads as 1
	a := AnalyzeToken(features.Vector{features.NameValueStd: 6})
	assert.Equal(t, 20, a.RiskScore)
	assert.Equal(t, []string{"High transfer value volatility: 6.00"}, a.Indicators)

	// zero average disables the volatility rule
	a = AnalyzeToken(features.Vector{features.NameValueStd: 6, features.NameAvgTransferValue: 0})
	assert.Equal(t, 0, a.RiskScore)

	a = AnalyzeToken(features.Vector{
		features.NameLargeTransferRatio: 0.85,
		features.NameTotalTransfers:     1500,
		features.NameAvgTransferValue:   10,
		features.NameValueStd:           10,
	})
	assert.Equal(t, 45, a.RiskScore)
	assert.Contains(t, a.Indicators, "Very high transfer activity: 1500 transfers")
	assert.Contains(t, a.Indicators, "High large transfer concentration: 85.00%")
}

func TestAnalyzeSocial(t *testing.T) {
	// missing sentiment is neutral
	a := AnalyzeSocial(features.Vector{features.NameTweetVolume: 5})
	assert.Equal(t, 0, a.RiskScore)

	a = AnalyzeSocial(features.Vector{features.NameSentimentRatio: 12, features.NameTweetVolume: 2000})
	assert.Equal(t, 40, a.RiskScore)

	a = AnalyzeSocial(features.Vector{features.NameSentimentRatio: 0.05})
	assert.Equal(t, 30, a.RiskScore)
	assert.Equal(t, []string{"Very negative sentiment: 0.05"}, a.Indicators)
}

// The extractor's embedded score and the fusion analyzer look at the same
// rapid ratio through different thresholds.
func TestRapidRatio_ExtractorAndFusionDisagree(t *testing.T) {
	const rapid = 0.25

	extractorScore := features.WalletRiskScore(features.WalletFeatures{RapidTransactionsRatio: rapid})
	assert.Equal(t, 30, extractorScore)

	fusion := AnalyzeWallet(features.Vector{features.NameRapidTransactionsRatio: rapid})
	assert.Equal(t, 0, fusion.RiskScore)
	assert.Empty(t, fusion.Indicators)
}

func TestApplyPatterns_BotActivity(t *testing.T) {
	bot := features.Vector{
		features.NameRapidTransactionsRatio: 0.6,
		features.NameNightTransactionsRatio: 0.8,
	}
	matches := ApplyPatterns(bot)
	require.Len(t, matches, 1)
	assert.Equal(t, PatternBotActivity, matches[0].Type)
	assert.Equal(t, 0.8, matches[0].Confidence)
	assert.Equal(t, features.RiskHigh, matches[0].RiskLevel)

	result := NewDetector().Detect(bot, nil, nil)
	assert.Len(t, result.Patterns, 1)

	assert.Empty(t, ApplyPatterns(features.Vector{features.NameRapidTransactionsRatio: 0.6}))
}
