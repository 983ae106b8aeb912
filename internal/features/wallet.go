package features

import (
	"strings"
	"time"
)

// Wallet heuristic thresholds and points.
const (
	walletRapidThreshold     = 0.2
	walletNightThreshold     = 0.5
	walletFeeVolThreshold    = 2.0
	walletTransferThreshold  = 0.9
	walletVolumeVolThreshold = 10.0
	walletRapidPoints        = 30
	walletNightPoints        = 20
	walletFeeVolPoints       = 25
	walletTransferPoints     = 15
	walletVolumeVolPoints    = 10
	highFeePercentile        = 0.95
)

// WalletFeatures is the feature vector for a wallet's transaction history.
type WalletFeatures struct {
	TotalTransactions      float64 `json:"total_transactions"`
	UniqueDays             float64 `json:"unique_days"`
	AvgTransactionsPerDay  float64 `json:"avg_transactions_per_day"`
	TransferRatio          float64 `json:"transfer_ratio"`
	SwapRatio              float64 `json:"swap_ratio"`
	OtherTypeRatio         float64 `json:"other_type_ratio"`
	AvgTimeBetweenTxns     float64 `json:"avg_time_between_txns"`
	MinTimeBetweenTxns     float64 `json:"min_time_between_txns"`
	RapidTransactionsRatio float64 `json:"rapid_transactions_ratio"`
	NightTransactionsRatio float64 `json:"night_transactions_ratio"`
	PeakHourRatio          float64 `json:"peak_hour_ratio"`
	AvgFee                 float64 `json:"avg_fee"`
	FeeStd                 float64 `json:"fee_std"`
	MinFee                 float64 `json:"min_fee"`
	MaxFee                 float64 `json:"max_fee"`
	FeeVolatility          float64 `json:"fee_volatility"`
	HighFeeRatio           float64 `json:"high_fee_ratio"`
	DailyVolumeStd         float64 `json:"daily_volume_std"`
	MaxDailyTransactions   float64 `json:"max_daily_transactions"`
	VolumeVolatility       float64 `json:"volume_volatility"`

	RiskScore    int          `json:"risk_score"`
	RiskCategory RiskCategory `json:"risk_category"`
}

// EmptyWalletFeatures is the documented default for a wallet with no history.
func EmptyWalletFeatures() WalletFeatures {
	return WalletFeatures{UniqueDays: 1, RiskCategory: RiskLow}
}

// Vector returns the flat wire form (risk_category omitted).
func (f WalletFeatures) Vector() Vector {
	return Vector{
		NameTotalTransactions:      f.TotalTransactions,
		NameUniqueDays:             f.UniqueDays,
		NameAvgTransactionsPerDay:  f.AvgTransactionsPerDay,
		NameTransferRatio:          f.TransferRatio,
		NameSwapRatio:              f.SwapRatio,
		NameOtherTypeRatio:         f.OtherTypeRatio,
		NameAvgTimeBetweenTxns:     f.AvgTimeBetweenTxns,
		NameMinTimeBetweenTxns:     f.MinTimeBetweenTxns,
		NameRapidTransactionsRatio: f.RapidTransactionsRatio,
		NameNightTransactionsRatio: f.NightTransactionsRatio,
		NamePeakHourRatio:          f.PeakHourRatio,
		NameAvgFee:                 f.AvgFee,
		NameFeeStd:                 f.FeeStd,
		NameMinFee:                 f.MinFee,
		NameMaxFee:                 f.MaxFee,
		NameFeeVolatility:          f.FeeVolatility,
		NameHighFeeRatio:           f.HighFeeRatio,
		NameDailyVolumeStd:         f.DailyVolumeStd,
		NameMaxDailyTransactions:   f.MaxDailyTransactions,
		NameVolumeVolatility:       f.VolumeVolatility,
		NameRiskScore:              float64(f.RiskScore),
	}
}

// Option configures an extractor.
type Option func(*extractorConfig)

type extractorConfig struct {
	loc *time.Location
}

// WithLocation sets the time zone used for hour-of-day and calendar-day
// bucketing. Defaults to UTC; nil is ignored.
func WithLocation(loc *time.Location) Option {
	return func(c *extractorConfig) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func newExtractorConfig(opts []Option) extractorConfig {
	cfg := extractorConfig{loc: time.UTC}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WalletExtractor derives WalletFeatures from transaction records.
// It holds no mutable state and is safe for concurrent use.
type WalletExtractor struct {
	cfg extractorConfig
}

// NewWalletExtractor creates a wallet extractor.
func NewWalletExtractor(opts ...Option) *WalletExtractor {
	return &WalletExtractor{cfg: newExtractorConfig(opts)}
}

// Extract computes the wallet feature vector. Missing fields only affect
// the group that needs them.
func (e *WalletExtractor) Extract(txs []TransactionRecord) WalletFeatures {
	if len(txs) == 0 {
		return EmptyWalletFeatures()
	}

	f := WalletFeatures{}
	total := len(txs)
	f.TotalTransactions = float64(total)

	// Basic
	transfers, swaps := 0, 0
	stamps := make([]*int64, 0, total)
	fees := make([]float64, 0, total)
	for _, tx := range txs {
		switch strings.ToUpper(tx.Type) {
		case TypeTransfer:
			transfers++
		case TypeSwap:
			swaps++
		}
		stamps = append(stamps, tx.Timestamp)
		if tx.Fee != nil {
			fees = append(fees, *tx.Fee)
		}
	}
	f.TransferRatio = float64(transfers) / float64(total)
	f.SwapRatio = float64(swaps) / float64(total)
	f.OtherTypeRatio = float64(total-transfers-swaps) / float64(total)

	sorted := collectTimestamps(stamps)
	daily := computeDaily(sorted, e.cfg.loc)
	f.UniqueDays = float64(daily.days)
	f.AvgTransactionsPerDay = f.TotalTransactions / f.UniqueDays

	// Temporal
	ts := computeTemporal(sorted, total, WalletRapidWindow, e.cfg.loc)
	f.AvgTimeBetweenTxns = ts.avgDelta
	f.MinTimeBetweenTxns = ts.minDelta
	f.RapidTransactionsRatio = ts.rapidRatio
	f.NightTransactionsRatio = ts.nightRatio
	f.PeakHourRatio = ts.peakRatio

	// Fee
	if len(fees) > 0 {
		avg := mean(fees)
		std := sampleStddev(fees, avg)
		f.AvgFee = finite(avg)
		f.FeeStd = finite(std)
		lo, hi := minMax(fees)
		f.MinFee, f.MaxFee = finite(lo), finite(hi)
		f.FeeVolatility = finite(coefficientOfVariation(std, avg))
		f.HighFeeRatio = ratioAbove(fees, percentile(sortedCopy(fees), highFeePercentile))
	}

	// Behavioral
	if len(sorted) > 0 {
		f.DailyVolumeStd = daily.countStd
		f.MaxDailyTransactions = daily.maxCount
		if daily.hasChange {
			f.VolumeVolatility = daily.avgAbsChange
		}
	}

	f.RiskScore = WalletRiskScore(f)
	f.RiskCategory = CategorizeRisk(f.RiskScore)
	return f
}

// WalletRiskScore is the extractor's additive heuristic, clamped to
// [0, 100]. heuristic.AnalyzeWallet scores the same vector with its own
// thresholds; the two are not interchangeable.
func WalletRiskScore(f WalletFeatures) int {
	score := 0
	if f.RapidTransactionsRatio > walletRapidThreshold {
		score += walletRapidPoints
	}
	if f.NightTransactionsRatio > walletNightThreshold {
		score += walletNightPoints
	}
	if f.FeeVolatility > walletFeeVolThreshold {
		score += walletFeeVolPoints
	}
	if f.TransferRatio > walletTransferThreshold {
		score += walletTransferPoints
	}
	if f.VolumeVolatility > walletVolumeVolThreshold {
		score += walletVolumeVolPoints
	}
	return ClampScore(score)
}
