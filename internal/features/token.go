package features

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Token heuristic thresholds and points.
const (
	tokenRapidThreshold         = 0.3
	tokenNightThreshold         = 0.6
	tokenConcentrationThreshold = 0.8
	tokenDiversityThreshold     = 0.1
	tokenLargeThreshold         = 0.5
	tokenSelfThreshold          = 0.2
	tokenRapidPoints            = 25
	tokenNightPoints            = 20
	tokenConcentrationPoints    = 30
	tokenDiversityPoints        = 20
	tokenLargePoints            = 15
	tokenSelfPoints             = 10
	largeValuePercentile        = 0.95
	dustValuePercentile         = 0.05
)

// TokenFeatures is the feature vector for a token's transfer history.
type TokenFeatures struct {
	TotalTransfers           float64 `json:"total_transfers"`
	UniqueDays               float64 `json:"unique_days"`
	AvgTransfersPerDay       float64 `json:"avg_transfers_per_day"`
	UniqueSenders            float64 `json:"unique_senders"`
	UniqueReceivers          float64 `json:"unique_receivers"`
	AddressDiversity         float64 `json:"address_diversity"`
	AvgTransferValue         float64 `json:"avg_transfer_value"`
	ValueStd                 float64 `json:"value_std"`
	MinTransferValue         float64 `json:"min_transfer_value"`
	MaxTransferValue         float64 `json:"max_transfer_value"`
	ValueVolatility          float64 `json:"value_volatility"`
	LargeTransferRatio       float64 `json:"large_transfer_ratio"`
	DustTransferRatio        float64 `json:"dust_transfer_ratio"`
	ValueConcentration       float64 `json:"value_concentration"`
	AvgTimeBetweenTransfers  float64 `json:"avg_time_between_transfers"`
	MinTimeBetweenTransfers  float64 `json:"min_time_between_transfers"`
	RapidTransfersRatio      float64 `json:"rapid_transfers_ratio"`
	NightTransfersRatio      float64 `json:"night_transfers_ratio"`
	PeakHourRatio            float64 `json:"peak_hour_ratio"`
	TopSenderConcentration   float64 `json:"top_sender_concentration"`
	TopReceiverConcentration float64 `json:"top_receiver_concentration"`
	SenderDiversity          float64 `json:"sender_diversity"`
	ReceiverDiversity        float64 `json:"receiver_diversity"`
	SelfTransferRatio        float64 `json:"self_transfer_ratio"`

	RiskScore    int          `json:"risk_score"`
	RiskCategory RiskCategory `json:"risk_category"`
}

// AddressesObserved reports whether any transfer carried a from or to
// address. A history without them has diversity 0 but says nothing about
// addresses, so the low-diversity rule stays off.
func (f TokenFeatures) AddressesObserved() bool {
	return f.UniqueSenders+f.UniqueReceivers > 0
}

// EmptyTokenFeatures is the documented default for a token with no transfers.
func EmptyTokenFeatures() TokenFeatures {
	return TokenFeatures{UniqueDays: 1, RiskCategory: RiskLow}
}

// Vector returns the flat wire form (risk_category omitted).
func (f TokenFeatures) Vector() Vector {
	return Vector{
		NameTotalTransfers:           f.TotalTransfers,
		NameUniqueDays:               f.UniqueDays,
		NameAvgTransfersPerDay:       f.AvgTransfersPerDay,
		NameUniqueSenders:            f.UniqueSenders,
		NameUniqueReceivers:          f.UniqueReceivers,
		NameAddressDiversity:         f.AddressDiversity,
		NameAvgTransferValue:         f.AvgTransferValue,
		NameValueStd:                 f.ValueStd,
		NameMinTransferValue:         f.MinTransferValue,
		NameMaxTransferValue:         f.MaxTransferValue,
		NameValueVolatility:          f.ValueVolatility,
		NameLargeTransferRatio:       f.LargeTransferRatio,
		NameDustTransferRatio:        f.DustTransferRatio,
		NameValueConcentration:       f.ValueConcentration,
		NameAvgTimeBetweenTransfers:  f.AvgTimeBetweenTransfers,
		NameMinTimeBetweenTransfers:  f.MinTimeBetweenTransfers,
		NameRapidTransfersRatio:      f.RapidTransfersRatio,
		NameNightTransfersRatio:      f.NightTransfersRatio,
		NamePeakHourRatio:            f.PeakHourRatio,
		NameTopSenderConcentration:   f.TopSenderConcentration,
		NameTopReceiverConcentration: f.TopReceiverConcentration,
		NameSenderDiversity:          f.SenderDiversity,
		NameReceiverDiversity:        f.ReceiverDiversity,
		NameSelfTransferRatio:        f.SelfTransferRatio,
		NameRiskScore:                float64(f.RiskScore),
	}
}

// NormalizeAddress returns the identity form of an address. EVM hex
// addresses compare case-insensitively; anything else is trimmed only,
// since base58 (Solana) addresses are case-sensitive.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return addr
}

// TokenExtractor derives TokenFeatures from transfer records.
// It holds no mutable state and is safe for concurrent use.
type TokenExtractor struct {
	cfg extractorConfig
}

// NewTokenExtractor creates a token extractor.
func NewTokenExtractor(opts ...Option) *TokenExtractor {
	return &TokenExtractor{cfg: newExtractorConfig(opts)}
}

// Extract computes the token feature vector.
func (e *TokenExtractor) Extract(transfers []TransferRecord) TokenFeatures {
	if len(transfers) == 0 {
		return EmptyTokenFeatures()
	}

	f := TokenFeatures{}
	total := len(transfers)
	f.TotalTransfers = float64(total)

	senders := make(map[string]int)
	receivers := make(map[string]int)
	selfTransfers := 0
	values := make([]float64, 0, total)
	stamps := make([]*int64, 0, total)
	for _, t := range transfers {
		from, to := NormalizeAddress(t.From), NormalizeAddress(t.To)
		if from != "" {
			senders[from]++
		}
		if to != "" {
			receivers[to]++
		}
		if from != "" && from == to {
			selfTransfers++
		}
		if t.Value != nil {
			values = append(values, *t.Value)
		}
		stamps = append(stamps, t.Timestamp)
	}

	// Basic
	sorted := collectTimestamps(stamps)
	daily := computeDaily(sorted, e.cfg.loc)
	f.UniqueDays = float64(daily.days)
	f.AvgTransfersPerDay = f.TotalTransfers / f.UniqueDays

	seen := len(senders) > 0 || len(receivers) > 0
	if seen {
		f.UniqueSenders = float64(len(senders))
		f.UniqueReceivers = float64(len(receivers))
		f.AddressDiversity = (f.UniqueSenders + f.UniqueReceivers) / (2 * f.TotalTransfers)
	}

	// Value
	if len(values) > 0 {
		avg := mean(values)
		std := sampleStddev(values, avg)
		sortedValues := sortedCopy(values)
		f.AvgTransferValue = finite(avg)
		f.ValueStd = finite(std)
		lo, hi := minMax(values)
		f.MinTransferValue, f.MaxTransferValue = finite(lo), finite(hi)
		f.ValueVolatility = finite(coefficientOfVariation(std, avg))
		f.LargeTransferRatio = ratioAbove(values, percentile(sortedValues, largeValuePercentile))
		f.DustTransferRatio = ratioBelow(values, percentile(sortedValues, dustValuePercentile))
		f.ValueConcentration = finite(Concentration(values))
	}

	// Temporal
	ts := computeTemporal(sorted, total, TokenRapidWindow, e.cfg.loc)
	f.AvgTimeBetweenTransfers = ts.avgDelta
	f.MinTimeBetweenTransfers = ts.minDelta
	f.RapidTransfersRatio = ts.rapidRatio
	f.NightTransfersRatio = ts.nightRatio
	f.PeakHourRatio = ts.peakRatio

	// Address
	if seen {
		f.TopSenderConcentration = float64(maxCount(senders)) / f.TotalTransfers
		f.TopReceiverConcentration = float64(maxCount(receivers)) / f.TotalTransfers
		f.SenderDiversity = float64(len(senders)) / f.TotalTransfers
		f.ReceiverDiversity = float64(len(receivers)) / f.TotalTransfers
		f.SelfTransferRatio = float64(selfTransfers) / f.TotalTransfers
	}

	f.RiskScore = TokenRiskScore(f)
	f.RiskCategory = CategorizeRisk(f.RiskScore)
	return f
}

// TokenRiskScore is the extractor's additive heuristic for tokens,
// clamped to [0, 100].
func TokenRiskScore(f TokenFeatures) int {
	score := 0
	if f.RapidTransfersRatio > tokenRapidThreshold {
		score += tokenRapidPoints
	}
	if f.NightTransfersRatio > tokenNightThreshold {
		score += tokenNightPoints
	}
	if f.ValueConcentration > tokenConcentrationThreshold {
		score += tokenConcentrationPoints
	}
	if f.AddressesObserved() && f.AddressDiversity < tokenDiversityThreshold {
		score += tokenDiversityPoints
	}
	if f.LargeTransferRatio > tokenLargeThreshold {
		score += tokenLargePoints
	}
	if f.SelfTransferRatio > tokenSelfThreshold {
		score += tokenSelfPoints
	}
	return ClampScore(score)
}

func maxCount(counts map[string]int) int {
	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}
	return best
}
