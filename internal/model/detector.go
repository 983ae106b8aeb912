package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mbd888/defiintel/internal/dataset"
	"github.com/mbd888/defiintel/internal/features"
)

// Config holds the detector's construction parameters.
type Config struct {
	// Path is where the snapshot is loaded from and saved to. Empty
	// disables persistence.
	Path          string
	Trees         int
	MaxDepth      int
	Contamination float64
	TestFraction  float64
	Seed          int64
}

// DefaultModelPath is used when no path is configured.
const DefaultModelPath = "models/fraud_detector.json"

// DefaultConfig mirrors the stock training setup: 100 trees, depth 10,
// 10% contamination, 20% hold-out, seed 42.
func DefaultConfig() Config {
	forest, iso := DefaultForestParams(), DefaultIsolationParams()
	return Config{
		Path:          DefaultModelPath,
		Trees:         forest.Trees,
		MaxDepth:      forest.MaxDepth,
		Contamination: iso.Contamination,
		TestFraction:  0.2,
		Seed:          forest.Seed,
	}
}

// TrainMode says which model a training run fitted.
type TrainMode string

const (
	ModeSupervised   TrainMode = "supervised"
	ModeUnsupervised TrainMode = "unsupervised"
)

// TrainReport is the explicit outcome of Train.
type TrainReport struct {
	State      State       `json:"state"`
	Mode       TrainMode   `json:"mode"`
	Samples    int         `json:"samples"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
	Persisted  bool        `json:"persisted"`
	Reason     string      `json:"reason,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

// OK reports whether training produced a usable model.
func (r TrainReport) OK() bool {
	return r.State == StateSupervised || r.State == StateUnsupervised
}

// Status is a read-only view of the detector.
type Status struct {
	State     State     `json:"state"`
	IsTrained bool      `json:"is_trained"`
	ModelType ModelType `json:"model_type,omitempty"`
	Columns   []string  `json:"columns"`
	TrainedAt time.Time `json:"trained_at,omitzero"`
	Path      string    `json:"path,omitempty"`
	Fallback  bool      `json:"fallback_enabled"`
	LastError string    `json:"last_error,omitempty"`
}

// Option configures a Detector.
type Option func(*Detector)

// WithFallback toggles the heuristic fallback. When disabled, Predict
// returns the UNTRAINED / NO_MODEL results instead.
func WithFallback(enabled bool) Option {
	return func(d *Detector) { d.fallback = enabled }
}

// WithLogger sets the detector's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// Detector owns the model snapshot. Training is the single writer;
// predictions read under a shared lock.
type Detector struct {
	cfg      Config
	fallback bool
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
	state    State
	lastErr  string
}

// New creates a detector and tries to load a persisted snapshot from
// cfg.Path. A missing or unreadable snapshot leaves it UNTRAINED.
func New(cfg Config, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.Contamination <= 0 {
		cfg.Contamination = def.Contamination
	}
	if cfg.TestFraction < 0 {
		cfg.TestFraction = def.TestFraction
	}

	d := &Detector{
		cfg:      cfg,
		fallback: true,
		logger:   slog.Default(),
		state:    StateUntrained,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.load()
	return d
}

func (d *Detector) load() {
	if d.cfg.Path == "" {
		return
	}
	snap, err := LoadSnapshot(d.cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.logger.Info("no model snapshot, starting untrained", "path", d.cfg.Path)
			return
		}
		d.logger.Warn("could not load model snapshot", "path", d.cfg.Path, "error", err)
		d.lastErr = err.Error()
		return
	}
	d.snapshot = snap
	d.state = stateOf(snap)
	d.logger.Info("model snapshot loaded", "path", d.cfg.Path, "state", d.state)
}

func stateOf(s *Snapshot) State {
	switch {
	case s == nil || !s.IsTrained:
		return StateUntrained
	case s.RandomForest != nil:
		return StateSupervised
	case s.IsolationForest != nil:
		return StateUnsupervised
	default:
		return StateDegraded
	}
}

// State returns the current lifecycle state.
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Status returns a snapshot of the detector's state.
func (d *Detector) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{
		State:     d.state,
		Columns:   CanonicalFeatures,
		Path:      d.cfg.Path,
		Fallback:  d.fallback,
		LastError: d.lastErr,
	}
	if s := d.snapshot; s != nil {
		st.IsTrained = s.IsTrained
		st.Columns = s.columns()
		st.TrainedAt = s.TrainedAt
		switch {
		case s.RandomForest != nil:
			st.ModelType = TypeSupervisedRF
		case s.IsolationForest != nil:
			st.ModelType = TypeUnsupervisedIsolation
		}
	}
	return st
}

// Train fits a model on table. With labels, rows whose label is
// dataset.Unlabeled are dropped and a random forest is fitted (label 1 is
// fraud, anything else legitimate). Without labels an isolation forest is
// fitted. Failures move the detector to DEGRADED and are reported in the
// returned TrainReport; Train never panics.
func (d *Detector) Train(ctx context.Context, table *dataset.Table, labels []int) (report TrainReport) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			report = d.fail(report, fmt.Errorf("panic during training: %v", r))
		}
		report.DurationMS = time.Since(start).Milliseconds()
	}()

	report.Mode = ModeUnsupervised
	if labels != nil {
		report.Mode = ModeSupervised
	}

	if table.Len() == 0 {
		return d.fail(report, ErrEmptyTrainingSet)
	}
	X := table.Matrix(CanonicalFeatures)

	var snap *Snapshot
	var err error
	if labels != nil {
		snap, report.Evaluation, report.Samples, err = d.trainSupervised(ctx, X, labels)
	} else {
		report.Samples = len(X)
		snap, err = d.trainUnsupervised(ctx, X)
	}
	if err != nil {
		return d.fail(report, err)
	}

	snap.IsTrained = true
	snap.Columns = append([]string(nil), CanonicalFeatures...)
	snap.SchemaVersion = features.SchemaVersion
	snap.TrainedAt = time.Now().UTC()

	d.mu.Lock()
	d.snapshot = snap
	d.state = stateOf(snap)
	d.lastErr = ""
	report.State = d.state
	d.mu.Unlock()

	if d.cfg.Path != "" {
		if err := SaveSnapshot(d.cfg.Path, snap); err != nil {
			d.logger.Error("failed to persist model snapshot", "path", d.cfg.Path, "error", err)
			report.Reason = err.Error()
		} else {
			report.Persisted = true
		}
	}

	attrs := []any{"state", report.State, "mode", report.Mode, "samples", report.Samples, "persisted", report.Persisted}
	if e := report.Evaluation; e != nil {
		attrs = append(attrs, "accuracy", e.Accuracy, "precision", e.Precision, "recall", e.Recall, "f1", e.F1)
	}
	d.logger.Info("model trained", attrs...)
	return report
}

func (d *Detector) fail(report TrainReport, err error) TrainReport {
	d.mu.Lock()
	d.snapshot = nil
	d.state = StateDegraded
	d.lastErr = err.Error()
	d.mu.Unlock()

	d.logger.Error("model training failed", "mode", report.Mode, "error", err)
	report.State = StateDegraded
	report.Reason = err.Error()
	report.Persisted = false
	report.Evaluation = nil
	return report
}

func (d *Detector) trainSupervised(ctx context.Context, X [][]float64, labels []int) (*Snapshot, *Evaluation, int, error) {
	if len(labels) != len(X) {
		return nil, nil, 0, fmt.Errorf("%w: %d rows, %d labels", ErrDimension, len(X), len(labels))
	}

	var rows [][]float64
	var y []int
	for i, label := range labels {
		if label < 0 {
			continue
		}
		rows = append(rows, X[i])
		if label == dataset.LabelFraud {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}
	if len(rows) == 0 {
		return nil, nil, 0, ErrEmptyTrainingSet
	}

	scaler, err := FitScaler(rows)
	if err != nil {
		return nil, nil, 0, err
	}
	scaled, err := scaler.TransformAll(rows)
	if err != nil {
		return nil, nil, 0, err
	}

	trainIdx, testIdx := holdoutSplit(len(scaled), d.cfg.TestFraction, d.cfg.Seed)
	forest, err := TrainForest(ctx, pick(scaled, trainIdx), pick(y, trainIdx), ForestParams{
		Trees:    d.cfg.Trees,
		MaxDepth: d.cfg.MaxDepth,
		Seed:     d.cfg.Seed,
	})
	if err != nil {
		return nil, nil, 0, err
	}

	var eval *Evaluation
	if len(testIdx) > 0 {
		predicted := make([]int, len(testIdx))
		for i, j := range testIdx {
			p, err := forest.PredictProba(scaled[j])
			if err != nil {
				return nil, nil, 0, err
			}
			if p > fraudThreshold {
				predicted[i] = 1
			}
		}
		eval = evaluate(pick(y, testIdx), predicted)
	}

	return &Snapshot{RandomForest: forest, Scaler: scaler}, eval, len(rows), nil
}

func (d *Detector) trainUnsupervised(ctx context.Context, X [][]float64) (*Snapshot, error) {
	scaler, err := FitScaler(X)
	if err != nil {
		return nil, err
	}
	scaled, err := scaler.TransformAll(X)
	if err != nil {
		return nil, err
	}
	iso, err := TrainIsolation(ctx, scaled, IsolationParams{
		Trees:         d.cfg.Trees,
		Contamination: d.cfg.Contamination,
		Seed:          d.cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	return &Snapshot{IsolationForest: iso, Scaler: scaler}, nil
}

// Predict scores one combined feature vector. Missing canonical features
// read as 0. The trained model answers when there is one; otherwise, or
// when inference fails, the heuristic fallback does (unless disabled).
func (d *Detector) Predict(v features.Vector) Prediction {
	d.mu.RLock()
	snap, state := d.snapshot, d.state
	d.mu.RUnlock()

	var reason FallbackReason
	switch {
	case snap != nil && snap.IsTrained && (snap.RandomForest != nil || snap.IsolationForest != nil):
		pred, err := predictWith(snap, v)
		if err == nil {
			return pred
		}
		d.logger.Warn("model inference failed, using fallback", "error", err)
		reason = ReasonInferenceError
	case snap != nil && snap.IsTrained:
		reason = ReasonNoModel
	case state == StateDegraded:
		reason = ReasonDegraded
	default:
		reason = ReasonUntrained
	}

	if !d.fallback {
		if reason == ReasonUntrained || reason == ReasonDegraded {
			return untrainedPrediction()
		}
		p := noModelPrediction()
		if reason == ReasonInferenceError {
			p.FallbackReason = reason
		}
		return p
	}
	return FallbackPredict(v, reason)
}

// predictWith runs the snapshot's model on v. Panics from corrupt model
// data surface as errors.
func predictWith(snap *Snapshot, v features.Vector) (pred Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference panic: %v", r)
		}
	}()

	cols := snap.columns()
	x := make([]float64, len(cols))
	for i, name := range cols {
		x[i] = v.Get(name)
	}
	scaled, err := snap.Scaler.Transform(x)
	if err != nil {
		return Prediction{}, err
	}

	var p float64
	var modelType ModelType
	var anomaly *float64
	if snap.RandomForest != nil {
		p, err = snap.RandomForest.PredictProba(scaled)
		if err != nil {
			return Prediction{}, err
		}
		modelType = TypeSupervisedRF
	} else {
		s, err := snap.IsolationForest.Decision(scaled)
		if err != nil {
			return Prediction{}, err
		}
		p = 1 / (1 + math.Exp(s))
		a := round(s, 3)
		anomaly = &a
		modelType = TypeUnsupervisedIsolation
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return Prediction{}, fmt.Errorf("%w: probability %v", ErrNonFinite, p)
	}

	riskScore := round(p*100, 1)
	return Prediction{
		FraudProbability: round(p, 3),
		Prediction:       verdictFor(p),
		Confidence:       round(math.Max(p, 1-p), 3),
		ModelType:        modelType,
		RiskScore:        &riskScore,
		RiskCategory:     features.CategorizeRisk(int(riskScore)),
		AnomalyScore:     anomaly,
	}, nil
}
