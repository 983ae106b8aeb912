// Package model implements the statistical fraud detector: a random
// forest classifier when labels are available, an isolation forest when
// they are not, and a deterministic heuristic fallback whenever neither
// can answer.
package model

import (
	"errors"

	"github.com/mbd888/defiintel/internal/features"
)

var (
	ErrNoModel           = errors.New("model: no trained model")
	ErrDimension         = errors.New("model: dimension mismatch")
	ErrEmptyTrainingSet  = errors.New("model: empty training set")
	ErrInvalidParameters = errors.New("model: invalid parameters")
	ErrNonFinite         = errors.New("model: non-finite value")
)

// State is the detector lifecycle.
type State string

const (
	StateUntrained    State = "UNTRAINED"
	StateSupervised   State = "TRAINED_SUPERVISED"
	StateUnsupervised State = "TRAINED_UNSUPERVISED"
	StateDegraded     State = "DEGRADED"
)

// ModelType names the path that produced a prediction.
type ModelType string

const (
	TypeSupervisedRF          ModelType = "SUPERVISED_RF"
	TypeUnsupervisedIsolation ModelType = "UNSUPERVISED_ISOLATION"
	TypeHeuristicFallback     ModelType = "HEURISTIC_FALLBACK"
	TypeUntrained             ModelType = "UNTRAINED"
	TypeNoModel               ModelType = "NO_MODEL"
)

// Verdict is the binary call.
type Verdict string

const (
	VerdictFraud      Verdict = "FRAUD"
	VerdictLegitimate Verdict = "LEGITIMATE"
	VerdictUnknown    Verdict = "UNKNOWN"
)

// FallbackReason says why the fallback predictor answered.
type FallbackReason string

const (
	ReasonUntrained      FallbackReason = "UNTRAINED"
	ReasonNoModel        FallbackReason = "NO_MODEL"
	ReasonDegraded       FallbackReason = "DEGRADED"
	ReasonInferenceError FallbackReason = "INFERENCE_ERROR"
)

// fraudThreshold splits probabilities into FRAUD / LEGITIMATE.
const fraudThreshold = 0.5

// CanonicalFeatures is the fixed column order the models are trained on.
var CanonicalFeatures = []string{
	features.NameTotalTransactions,
	features.NameAvgTransactionsPerDay,
	features.NameRapidTransactionsRatio,
	features.NameNightTransactionsRatio,
	features.NameFeeVolatility,
	features.NameVolumeVolatility,
	features.NameTotalTransfers,
	features.NameLargeTransferRatio,
	features.NameValueConcentration,
	features.NameAddressDiversity,
	features.NameSelfTransferRatio,
	features.NameTweetVolume,
	features.NameSentimentRatio,
}

// Prediction is the result of one Predict call.
type Prediction struct {
	FraudProbability float64               `json:"fraud_probability"`
	Prediction       Verdict               `json:"prediction"`
	Confidence       float64               `json:"confidence"`
	ModelType        ModelType             `json:"model_type"`
	RiskScore        *float64              `json:"risk_score,omitempty"`
	RiskCategory     features.RiskCategory `json:"risk_category,omitempty"`
	AnomalyScore     *float64              `json:"anomaly_score,omitempty"`
	FallbackReason   FallbackReason        `json:"fallback_reason,omitempty"`
	RiskFactors      *int                  `json:"risk_factors,omitempty"`
	TotalFactors     *int                  `json:"total_factors,omitempty"`

	// Degraded is set when the heuristic fallback answered.
	Degraded bool `json:"degraded"`
}

func untrainedPrediction() Prediction {
	return Prediction{FraudProbability: 0.5, Prediction: VerdictUnknown, ModelType: TypeUntrained}
}

func noModelPrediction() Prediction {
	return Prediction{FraudProbability: 0.5, Prediction: VerdictUnknown, ModelType: TypeNoModel}
}

// verdictFor applies the fraud threshold.
func verdictFor(p float64) Verdict {
	if p > fraudThreshold {
		return VerdictFraud
	}
	return VerdictLegitimate
}
