// Package features turns wallet transactions and token transfers into named
// numeric feature vectors with an additive heuristic risk score.
//
// Each source has an explicit struct (WalletFeatures, TokenFeatures,
// SocialFeatures) whose fields map one-to-one onto exported name constants.
// Vector is the flat wire form consumed by the detectors.
package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// SchemaVersion versions the feature name set. Bump it when a name is
// added, removed or changes meaning.
const SchemaVersion = 1

// Wallet feature names.
const (
	NameTotalTransactions      = "total_transactions"
	NameUniqueDays             = "unique_days"
	NameAvgTransactionsPerDay  = "avg_transactions_per_day"
	NameTransferRatio          = "transfer_ratio"
	NameSwapRatio              = "swap_ratio"
	NameOtherTypeRatio         = "other_type_ratio"
	NameAvgTimeBetweenTxns     = "avg_time_between_txns"
	NameMinTimeBetweenTxns     = "min_time_between_txns"
	NameRapidTransactionsRatio = "rapid_transactions_ratio"
	NameNightTransactionsRatio = "night_transactions_ratio"
	NamePeakHourRatio          = "peak_hour_ratio"
	NameAvgFee                 = "avg_fee"
	NameFeeStd                 = "fee_std"
	NameMinFee                 = "min_fee"
	NameMaxFee                 = "max_fee"
	NameFeeVolatility          = "fee_volatility"
	NameHighFeeRatio           = "high_fee_ratio"
	NameDailyVolumeStd         = "daily_volume_std"
	NameMaxDailyTransactions   = "max_daily_transactions"
	NameVolumeVolatility       = "volume_volatility"
	NameRiskScore              = "risk_score"
	NameRiskCategory           = "risk_category"
)

// Token feature names.
const (
	NameTotalTransfers           = "total_transfers"
	NameAvgTransfersPerDay       = "avg_transfers_per_day"
	NameUniqueSenders            = "unique_senders"
	NameUniqueReceivers          = "unique_receivers"
	NameAddressDiversity         = "address_diversity"
	NameAvgTransferValue         = "avg_transfer_value"
	NameValueStd                 = "value_std"
	NameMinTransferValue         = "min_transfer_value"
	NameMaxTransferValue         = "max_transfer_value"
	NameValueVolatility          = "value_volatility"
	NameLargeTransferRatio       = "large_transfer_ratio"
	NameDustTransferRatio        = "dust_transfer_ratio"
	NameValueConcentration       = "value_concentration"
	NameAvgTimeBetweenTransfers  = "avg_time_between_transfers"
	NameMinTimeBetweenTransfers  = "min_time_between_transfers"
	NameRapidTransfersRatio      = "rapid_transfers_ratio"
	NameNightTransfersRatio      = "night_transfers_ratio"
	NameTopSenderConcentration   = "top_sender_concentration"
	NameTopReceiverConcentration = "top_receiver_concentration"
	NameSenderDiversity          = "sender_diversity"
	NameReceiverDiversity        = "receiver_diversity"
	NameSelfTransferRatio        = "self_transfer_ratio"
)

// Social feature names.
const (
	NameTweetVolume    = "tweet_volume"
	NameSentimentRatio = "sentiment_ratio"
)

// Vector is the flat wire form of a feature set: feature name to value.
// risk_category is not numeric and never appears in a Vector.
type Vector map[string]float64

// Get returns the named value, 0 when absent.
func (v Vector) Get(name string) float64 {
	return v[name]
}

// Lookup returns the named value and whether it was present.
func (v Vector) Lookup(name string) (float64, bool) {
	f, ok := v[name]
	return f, ok
}

// Names returns the keys in ascending order.
func (v Vector) Names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Merge combines vectors into a new one. On a key collision the later
// vector wins, so callers pass wallet, then token, then social.
func Merge(vectors ...Vector) Vector {
	out := make(Vector)
	for _, vec := range vectors {
		for k, val := range vec {
			out[k] = val
		}
	}
	return out
}

// UnmarshalJSON accepts a flat object. Numbers and numeric strings are
// kept; other values (risk_category, nulls, nested objects) are skipped.
func (v *Vector) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("feature vector: %w", err)
	}
	out := make(Vector, len(raw))
	for k, val := range raw {
		if f := coerceFloat(val); f != nil {
			out[k] = *f
		}
	}
	*v = out
	return nil
}

// RiskCategory buckets a 0-100 risk score.
type RiskCategory string

const (
	RiskLow    RiskCategory = "LOW"
	RiskMedium RiskCategory = "MEDIUM"
	RiskHigh   RiskCategory = "HIGH"
)

// Category thresholds shared by every scorer.
const (
	HighRiskThreshold   = 70
	MediumRiskThreshold = 40
	MaxRiskScore        = 100
)

// CategorizeRisk maps a score to LOW / MEDIUM / HIGH.
func CategorizeRisk(score int) RiskCategory {
	switch {
	case score >= HighRiskThreshold:
		return RiskHigh
	case score >= MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ClampScore bounds an additive score to [0, 100].
func ClampScore(score int) int {
	if score > MaxRiskScore {
		return MaxRiskScore
	}
	if score < 0 {
		return 0
	}
	return score
}

// SocialFeatures is the opaque social-signal source. How callers populate
// it is up to them; the detectors only read the two named values.
type SocialFeatures struct {
	TweetVolume    float64 `json:"tweet_volume"`
	SentimentRatio float64 `json:"sentiment_ratio"`
}

// Vector returns the wire form.
func (s SocialFeatures) Vector() Vector {
	return Vector{
		NameTweetVolume:    s.TweetVolume,
		NameSentimentRatio: s.SentimentRatio,
	}
}
