// Package assessments records the risk verdicts the service hands out so
// that a wallet or token's history can be reviewed later.
package assessments

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/defiintel/internal/features"
	"github.com/mbd888/defiintel/internal/pagination"
)

// ErrNotFound is returned when an assessment ID is unknown.
var ErrNotFound = errors.New("assessment not found")

// Source identifies which analysis produced an assessment.
type Source string

const (
	SourceWallet     Source = "wallet"
	SourceToken      Source = "token"
	SourceCombined   Source = "combined"
	SourcePrediction Source = "prediction"
)

// DefaultListLimit and MaxListLimit bound a page of history.
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// Assessment is one stored risk verdict for a subject address.
type Assessment struct {
	ID               string          `json:"id"`
	Subject          string          `json:"subject"`
	Source           Source          `json:"source"`
	Score            int             `json:"score"`
	Category         string          `json:"category"`
	Confidence       float64         `json:"confidence"`
	ModelType        string          `json:"model_type,omitempty"`
	FraudProbability *float64        `json:"fraud_probability,omitempty"`
	Indicators       []string        `json:"indicators"`
	Patterns         []string        `json:"patterns,omitempty"`
	Features         features.Vector `json:"features"`
	EvaluatedAt      time.Time       `json:"evaluated_at"`
}

// Store persists assessments.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	Get(ctx context.Context, id string) (*Assessment, error)
	// ListBySubject returns up to limit assessments for subject, newest
	// first, starting after the cursor when one is given.
	ListBySubject(ctx context.Context, subject string, limit int, after *pagination.Cursor) ([]*Assessment, error)
}

// ClampLimit maps a requested page size into [1, MaxListLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// PageKey is the keyset position of a in a newest-first listing.
func PageKey(a *Assessment) (time.Time, string) {
	return a.EvaluatedAt, a.ID
}

func (a *Assessment) clone() *Assessment {
	c := *a
	c.Indicators = append([]string(nil), a.Indicators...)
	c.Patterns = append([]string(nil), a.Patterns...)
	if a.Features != nil {
		c.Features = features.Merge(a.Features)
	}
	if a.FraudProbability != nil {
		p := *a.FraudProbability
		c.FraudProbability = &p
	}
	return &c
}
