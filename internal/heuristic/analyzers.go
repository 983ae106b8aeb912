package heuristic

import (
	"fmt"

	"github.com/mbd888/defiintel/internal/features"
)

// Wallet analyzer thresholds.
const (
	walletRapidThreshold     = 0.3
	walletNightThreshold     = 0.6
	walletFeeVolThreshold    = 2.5
	walletVolumeVolThreshold = 15.0
)

// Token analyzer thresholds.
const (
	tokenLargeThreshold    = 0.8
	tokenValueCVThreshold  = 5.0
	tokenActivityThreshold = 1000.0
)

// Social analyzer thresholds.
const (
	socialHypeThreshold     = 10.0
	socialNegativeThreshold = 0.1
	socialVolumeThreshold   = 1000.0
)

// AnalyzeWallet scores a wallet vector for the combined verdict.
func AnalyzeWallet(v features.Vector) *SourceAnalysis {
	a := newAnalysis()

	if r := v.Get(features.NameRapidTransactionsRatio); r > walletRapidThreshold {
		a.add(25, "High rapid transaction ratio: %s", percent(r))
	}
	if r := v.Get(features.NameNightTransactionsRatio); r > walletNightThreshold {
		a.add(20, "High night activity: %s", percent(r))
	}
	if fv := v.Get(features.NameFeeVolatility); fv > walletFeeVolThreshold {
		a.add(15, "High fee volatility: %.2f", fv)
	}
	if vv := v.Get(features.NameVolumeVolatility); vv > walletVolumeVolThreshold {
		a.add(10, "High volume volatility: %.2f", vv)
	}
	return a.done()
}

// AnalyzeToken scores a token vector for the combined verdict.
func AnalyzeToken(v features.Vector) *SourceAnalysis {
	a := newAnalysis()

	if r := v.Get(features.NameLargeTransferRatio); r > tokenLargeThreshold {
		a.add(30, "High large transfer concentration: %s", percent(r))
	}

	// a missing average reads as 1 so a bare stdev is still judged
	avg, ok := v.Lookup(features.NameAvgTransferValue)
	if !ok {
		avg = 1
	}
	if avg > 0 {
		if cv := v.Get(features.NameValueStd) / avg; cv > tokenValueCVThreshold {
			a.add(20, "High transfer value volatility: %.2f", cv)
		}
	}

	if n := v.Get(features.NameTotalTransfers); n > tokenActivityThreshold {
		a.add(15, "Very high transfer activity: %.0f transfers", n)
	}
	return a.done()
}

// AnalyzeSocial scores a social vector for the combined verdict.
// A missing sentiment ratio reads as neutral (1.0).
func AnalyzeSocial(v features.Vector) *SourceAnalysis {
	a := newAnalysis()

	sentiment, ok := v.Lookup(features.NameSentimentRatio)
	if !ok {
		sentiment = 1
	}
	switch {
	case sentiment > socialHypeThreshold:
		a.add(25, "Excessive positive sentiment: %.2f", sentiment)
	case sentiment < socialNegativeThreshold:
		a.add(30, "Very negative sentiment: %.2f", sentiment)
	}

	if n := v.Get(features.NameTweetVolume); n > socialVolumeThreshold {
		a.add(15, "High social activity: %.0f tweets", n)
	}
	return a.done()
}

type analysis struct {
	score      int
	indicators []string
}

func newAnalysis() *analysis {
	return &analysis{indicators: []string{}}
}

func (a *analysis) add(points int, format string, args ...any) {
	a.score += points
	a.indicators = append(a.indicators, fmt.Sprintf(format, args...))
}

func (a *analysis) done() *SourceAnalysis {
	return &SourceAnalysis{
		RiskScore:          features.ClampScore(a.score),
		Indicators:         a.indicators,
		SuspiciousPatterns: len(a.indicators),
	}
}

func percent(r float64) string {
	return fmt.Sprintf("%.2f%%", r*100)
}
