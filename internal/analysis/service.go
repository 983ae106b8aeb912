// Package analysis is the service layer of the risk API. It runs the
// feature extractors, the heuristic fusion and the statistical model,
// records every verdict and pushes alerts for risky subjects.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/defiintel/internal/assessments"
	"github.com/mbd888/defiintel/internal/dataset"
	"github.com/mbd888/defiintel/internal/features"
	"github.com/mbd888/defiintel/internal/health"
	"github.com/mbd888/defiintel/internal/heuristic"
	"github.com/mbd888/defiintel/internal/idgen"
	"github.com/mbd888/defiintel/internal/logging"
	"github.com/mbd888/defiintel/internal/metrics"
	"github.com/mbd888/defiintel/internal/model"
	"github.com/mbd888/defiintel/internal/pagination"
	"github.com/mbd888/defiintel/internal/realtime"
	"github.com/mbd888/defiintel/internal/syncutil"
	"github.com/mbd888/defiintel/internal/traces"
)

var (
	// ErrTooManyRecords is returned when a history exceeds the record cap.
	ErrTooManyRecords = errors.New("too many records")
	// ErrNoLabels is returned when supervised training is requested but no
	// pending sample carries a label.
	ErrNoLabels = errors.New("no labeled samples")
	// ErrNoSamples is returned when training is requested with nothing
	// queued. The current model is left untouched.
	ErrNoSamples = errors.New("no training samples")
	// ErrNoInput is returned when a combined analysis has nothing to score.
	ErrNoInput = errors.New("no transactions, transfers or social features")
)

// Defaults for Service options.
const (
	DefaultAlertMinScore = features.MediumRiskThreshold
	DefaultMaxRecords    = 10000
)

// Alerter receives realtime notifications. *realtime.Hub satisfies it.
type Alerter interface {
	BroadcastRiskAlert(alert *realtime.RiskAlert)
	BroadcastModelTrained(info *realtime.ModelTrained)
}

// Alerters fans notifications out to every non-nil alerter in order.
func Alerters(list ...Alerter) Alerter {
	var out multiAlerter
	for _, a := range list {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

type multiAlerter []Alerter

func (m multiAlerter) BroadcastRiskAlert(alert *realtime.RiskAlert) {
	for _, a := range m {
		a.BroadcastRiskAlert(alert)
	}
}

func (m multiAlerter) BroadcastModelTrained(info *realtime.ModelTrained) {
	for _, a := range m {
		a.BroadcastModelTrained(info)
	}
}

// Service wires the scoring pipeline together.
type Service struct {
	wallets *features.WalletExtractor
	tokens  *features.TokenExtractor
	fusion  *heuristic.Detector
	model   *model.Detector
	samples *dataset.Aggregator
	store   assessments.Store
	alerts  Alerter
	logger  *slog.Logger

	alertMin   int
	maxRecords int
	loc        *time.Location
	now        func() time.Time

	trainMu *syncutil.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithStore sets where assessments are recorded. Defaults to memory.
func WithStore(store assessments.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithAlerter enables realtime notifications.
func WithAlerter(a Alerter) Option {
	return func(s *Service) { s.alerts = a }
}

// WithAlertThreshold sets the minimum score that triggers a risk alert.
func WithAlertThreshold(score int) Option {
	return func(s *Service) { s.alertMin = score }
}

// WithMaxRecords caps the records accepted per history.
func WithMaxRecords(n int) Option {
	return func(s *Service) { s.maxRecords = n }
}

// WithLocation sets the timezone used for hour and day bucketing.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithFusion replaces the heuristic detector, e.g. to change weights.
func WithFusion(d *heuristic.Detector) Option {
	return func(s *Service) { s.fusion = d }
}

// NewService creates an analysis service around a model detector.
func NewService(detector *model.Detector, opts ...Option) *Service {
	s := &Service{
		fusion:     heuristic.NewDetector(),
		model:      detector,
		samples:    dataset.NewAggregator(),
		store:      assessments.NewMemoryStore(),
		logger:     slog.Default(),
		alertMin:   DefaultAlertMinScore,
		maxRecords: DefaultMaxRecords,
		loc:        time.UTC,
		now:        time.Now,
		trainMu:    syncutil.NewMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wallets = features.NewWalletExtractor(features.WithLocation(s.loc))
	s.tokens = features.NewTokenExtractor(features.WithLocation(s.loc))
	metrics.SetModelState(string(detector.State()))
	return s
}

// ----- Results -----

// WalletAnalysis is the response to AnalyzeWallet.
type WalletAnalysis struct {
	AssessmentID string                   `json:"assessment_id"`
	Subject      string                   `json:"subject"`
	Features     features.WalletFeatures  `json:"features"`
	Indicators   []string                 `json:"indicators"`
	Patterns     []heuristic.PatternMatch `json:"patterns,omitempty"`

	// DataAvailable is false when the history was empty and the features
	// are the documented defaults.
	DataAvailable bool `json:"data_available"`
}

// TokenAnalysis is the response to AnalyzeToken.
type TokenAnalysis struct {
	AssessmentID string                 `json:"assessment_id"`
	Subject      string                 `json:"subject"`
	Features     features.TokenFeatures `json:"features"`
	Indicators   []string               `json:"indicators"`

	DataAvailable bool `json:"data_available"`
}

// CombinedRequest holds every source available for one subject.
type CombinedRequest struct {
	Subject      string
	Transactions []features.TransactionRecord
	Transfers    []features.TransferRecord
	Social       features.Vector
}

// CombinedAnalysis is the response to Analyze.
type CombinedAnalysis struct {
	AssessmentID string                   `json:"assessment_id"`
	Subject      string                   `json:"subject"`
	Wallet       *features.WalletFeatures `json:"wallet,omitempty"`
	Token        *features.TokenFeatures  `json:"token,omitempty"`
	Social       features.Vector          `json:"social,omitempty"`
	Detection    *heuristic.Result        `json:"detection"`
	Prediction   model.Prediction         `json:"prediction"`

	// DataAvailable is false when only social signals were supplied.
	DataAvailable bool `json:"data_available"`
	// Degraded mirrors Prediction.Degraded.
	Degraded bool `json:"degraded"`
}

// ----- Analysis -----

// AnalyzeWallet extracts wallet features for subject and records the
// extractor's risk score.
func (s *Service) AnalyzeWallet(ctx context.Context, subject string, txs []features.TransactionRecord) (*WalletAnalysis, error) {
	if err := s.checkRecords("transactions", len(txs)); err != nil {
		return nil, err
	}
	ctx = logging.WithSubject(ctx, subject)
	ctx, span := traces.StartSpan(ctx, "analysis.wallet",
		traces.Subject(subject), traces.Source(string(heuristic.SourceWallet)), traces.Records(len(txs)))
	defer span.End()

	wf := s.extractWallet(txs)
	vec := wf.Vector()
	detection := s.fusion.Detect(vec, nil, nil)
	indicators := detection.DetailedAnalysis[heuristic.SourceWallet].Indicators

	a := &assessments.Assessment{
		ID:          idgen.Assessment(),
		Subject:     subject,
		Source:      assessments.SourceWallet,
		Score:       wf.RiskScore,
		Category:    string(wf.RiskCategory),
		Confidence:  detection.Confidence,
		Indicators:  indicators,
		Patterns:    patternNames(detection.Patterns),
		Features:    vec,
		EvaluatedAt: s.now().UTC(),
	}
	s.record(ctx, a)
	span.SetAttributes(traces.Score(a.Score))

	return &WalletAnalysis{
		AssessmentID: a.ID,
		Subject:      subject,
		Features:     wf,
		Indicators:   indicators,
		Patterns:     detection.Patterns,

		DataAvailable: len(txs) > 0,
	}, nil
}

// AnalyzeToken extracts token features for subject and records the
// extractor's risk score.
func (s *Service) AnalyzeToken(ctx context.Context, subject string, transfers []features.TransferRecord) (*TokenAnalysis, error) {
	if err := s.checkRecords("transfers", len(transfers)); err != nil {
		return nil, err
	}
	ctx = logging.WithSubject(ctx, subject)
	ctx, span := traces.StartSpan(ctx, "analysis.token",
		traces.Subject(subject), traces.Source(string(heuristic.SourceToken)), traces.Records(len(transfers)))
	defer span.End()

	tf := s.extractToken(transfers)
	vec := tf.Vector()
	detection := s.fusion.Detect(nil, vec, nil)
	indicators := detection.DetailedAnalysis[heuristic.SourceToken].Indicators

	a := &assessments.Assessment{
		ID:          idgen.Assessment(),
		Subject:     subject,
		Source:      assessments.SourceToken,
		Score:       tf.RiskScore,
		Category:    string(tf.RiskCategory),
		Confidence:  detection.Confidence,
		Indicators:  indicators,
		Features:    vec,
		EvaluatedAt: s.now().UTC(),
	}
	s.record(ctx, a)
	span.SetAttributes(traces.Score(a.Score))

	return &TokenAnalysis{
		AssessmentID: a.ID,
		Subject:      subject,
		Features:     tf,
		Indicators:   indicators,

		DataAvailable: len(transfers) > 0,
	}, nil
}

// Analyze extracts every provided source concurrently, fuses them with the
// heuristic detector and scores the merged vector with the model. The
// recorded score is the fused heuristic score.
func (s *Service) Analyze(ctx context.Context, req CombinedRequest) (*CombinedAnalysis, error) {
	if len(req.Transactions) == 0 && len(req.Transfers) == 0 && len(req.Social) == 0 {
		return nil, ErrNoInput
	}
	if err := s.checkRecords("transactions", len(req.Transactions)); err != nil {
		return nil, err
	}
	if err := s.checkRecords("transfers", len(req.Transfers)); err != nil {
		return nil, err
	}
	ctx = logging.WithSubject(ctx, req.Subject)
	ctx, span := traces.StartSpan(ctx, "analysis.combined", traces.Subject(req.Subject))
	defer span.End()

	out := &CombinedAnalysis{
		Subject:       req.Subject,
		DataAvailable: len(req.Transactions) > 0 || len(req.Transfers) > 0,
	}
	g, gctx := errgroup.WithContext(ctx)
	if len(req.Transactions) > 0 {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			wf := s.extractWallet(req.Transactions)
			out.Wallet = &wf
			return nil
		})
	}
	if len(req.Transfers) > 0 {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tf := s.extractToken(req.Transfers)
			out.Token = &tf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		traces.Fail(span, err)
		return nil, fmt.Errorf("extract features: %w", err)
	}

	var wallet, token features.Vector
	if out.Wallet != nil {
		wallet = out.Wallet.Vector()
	}
	if out.Token != nil {
		token = out.Token.Vector()
	}
	if len(req.Social) > 0 {
		out.Social = req.Social
	}

	out.Detection = s.fusion.Detect(wallet, token, out.Social)
	out.Prediction = s.predict(ctx, features.Merge(wallet, token, out.Social))
	out.Degraded = out.Prediction.Degraded

	a := &assessments.Assessment{
		ID:          idgen.Assessment(),
		Subject:     req.Subject,
		Source:      assessments.SourceCombined,
		Score:       out.Detection.OverallRiskScore,
		Category:    string(out.Detection.RiskCategory),
		Confidence:  out.Detection.Confidence,
		ModelType:   string(out.Prediction.ModelType),
		Indicators:  out.Detection.FraudIndicators,
		Patterns:    patternNames(out.Detection.Patterns),
		Features:    features.Merge(wallet, token, out.Social),
		EvaluatedAt: s.now().UTC(),
	}
	p := out.Prediction.FraudProbability
	a.FraudProbability = &p
	s.record(ctx, a)
	out.AssessmentID = a.ID
	span.SetAttributes(traces.Score(a.Score), traces.ModelType(a.ModelType))
	return out, nil
}

// Detect fuses already extracted vectors. Nothing is recorded.
func (s *Service) Detect(ctx context.Context, wallet, token, social features.Vector) *heuristic.Result {
	_, span := traces.StartSpan(ctx, "analysis.detect")
	defer span.End()
	return s.fusion.Detect(wallet, token, social)
}

// Predict scores a combined vector with the statistical model. When
// subject is set the prediction is recorded as an assessment.
func (s *Service) Predict(ctx context.Context, subject string, v features.Vector) model.Prediction {
	if subject != "" {
		ctx = logging.WithSubject(ctx, subject)
	}
	ctx, span := traces.StartSpan(ctx, "analysis.predict", traces.Subject(subject))
	defer span.End()

	pred := s.predict(ctx, v)
	if subject == "" {
		return pred
	}

	score := int(pred.FraudProbability*100 + 1e-9)
	category := features.CategorizeRisk(score)
	if pred.RiskScore != nil {
		score = int(*pred.RiskScore + 1e-9)
		category = features.CategorizeRisk(score)
	}
	if pred.RiskCategory != "" {
		category = pred.RiskCategory
	}
	p := pred.FraudProbability
	s.record(ctx, &assessments.Assessment{
		ID:               idgen.Assessment(),
		Subject:          subject,
		Source:           assessments.SourcePrediction,
		Score:            features.ClampScore(score),
		Category:         string(category),
		Confidence:       pred.Confidence,
		ModelType:        string(pred.ModelType),
		FraudProbability: &p,
		Indicators:       []string{},
		Features:         v,
		EvaluatedAt:      s.now().UTC(),
	})
	return pred
}

func (s *Service) predict(ctx context.Context, v features.Vector) model.Prediction {
	pred := s.model.Predict(v)
	metrics.ObservePrediction(string(pred.ModelType), string(pred.FallbackReason))
	if pred.FallbackReason != "" {
		logging.L(ctx).Debug("prediction served without model",
			"model_type", pred.ModelType, "reason", pred.FallbackReason)
	}
	return pred
}

// ----- Training -----

// SampleCounts reports pending training samples.
type SampleCounts struct {
	Total   int `json:"total"`
	Labeled int `json:"labeled"`
}

// AddSample queues one training sample. label may be nil.
func (s *Service) AddSample(wallet, token, social features.Vector, label *int) SampleCounts {
	s.samples.AddSample(wallet, token, social, label)
	return s.Samples()
}

// Samples returns the pending sample counts.
func (s *Service) Samples() SampleCounts {
	return SampleCounts{Total: s.samples.Len(), Labeled: s.samples.Labeled()}
}

// ClearSamples drops every pending sample.
func (s *Service) ClearSamples() {
	s.samples.Clear()
}

// Train fits the model on the pending samples. supervised nil picks the
// mode from the data: labels present means supervised. Training runs are
// serialized.
func (s *Service) Train(ctx context.Context, supervised *bool) (model.TrainReport, error) {
	table, labels := s.samples.TrainingData()
	if table.Len() == 0 {
		return model.TrainReport{}, ErrNoSamples
	}
	if supervised != nil {
		if *supervised && labels == nil {
			return model.TrainReport{}, ErrNoLabels
		}
		if !*supervised {
			labels = nil
		}
	}
	return s.TrainTable(ctx, table, labels)
}

// TrainTable fits the model on an already materialized table. A caller
// queued behind another run stops waiting when ctx ends.
func (s *Service) TrainTable(ctx context.Context, table *dataset.Table, labels []int) (model.TrainReport, error) {
	if table.Len() == 0 {
		return model.TrainReport{}, ErrNoSamples
	}
	unlock, err := s.trainMu.LockContext(ctx)
	if err != nil {
		return model.TrainReport{}, fmt.Errorf("wait for training slot: %w", err)
	}
	defer unlock()

	mode := model.ModeUnsupervised
	if labels != nil {
		mode = model.ModeSupervised
	}
	ctx, span := traces.StartSpan(ctx, "analysis.train", traces.Records(table.Len()))
	defer span.End()

	report := s.model.Train(ctx, table, labels)
	span.SetAttributes(traces.ModelState(string(report.State)))
	if !report.OK() {
		traces.Fail(span, errors.New(report.Reason))
	}
	metrics.ObserveTraining(string(mode), string(report.State), report.OK())

	if s.alerts != nil {
		info := &realtime.ModelTrained{
			State:   string(report.State),
			Mode:    string(report.Mode),
			Samples: report.Samples,
			Reason:  report.Reason,
		}
		if report.Evaluation != nil {
			acc := report.Evaluation.Accuracy
			info.Accuracy = &acc
		}
		s.alerts.BroadcastModelTrained(info)
	}
	return report, nil
}

// ModelStatus returns the detector's status.
func (s *Service) ModelStatus() model.Status {
	return s.model.Status()
}

// HealthCheck reports the model as unhealthy only when it is DEGRADED and
// no fallback is available to answer predictions.
func (s *Service) HealthCheck(_ context.Context) health.Status {
	st := s.model.Status()
	return health.Status{
		Name:    "model",
		Healthy: st.State != model.StateDegraded || st.Fallback,
		Detail:  string(st.State),
	}
}

// ----- History -----

// History lists the most recent assessments for subject.
func (s *Service) History(ctx context.Context, subject string, limit int) ([]*assessments.Assessment, error) {
	page, err := s.HistoryPage(ctx, subject, limit, "")
	if err != nil {
		return nil, err
	}
	return page.Assessments, nil
}

// HistoryPage is one page of a subject's assessments, newest first.
type HistoryPage struct {
	Assessments []*assessments.Assessment `json:"assessments"`
	Count       int                       `json:"count"`
	NextCursor  string                    `json:"next_cursor,omitempty"`
	HasMore     bool                      `json:"has_more"`
}

// HistoryPage lists assessments for subject older than cursor. An empty
// cursor starts from the newest.
func (s *Service) HistoryPage(ctx context.Context, subject string, limit int, cursor string) (*HistoryPage, error) {
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	limit = assessments.ClampLimit(limit)

	list, err := s.store.ListBySubject(ctx, subject, limit+1, after)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	list, next := pagination.Page(list, limit, assessments.PageKey)
	if list == nil {
		list = []*assessments.Assessment{}
	}
	return &HistoryPage{
		Assessments: list,
		Count:       len(list),
		NextCursor:  next,
		HasMore:     next != "",
	}, nil
}

// Assessment returns one stored assessment.
func (s *Service) Assessment(ctx context.Context, id string) (*assessments.Assessment, error) {
	return s.store.Get(ctx, id)
}

// ----- Helpers -----

func (s *Service) checkRecords(field string, n int) error {
	if s.maxRecords > 0 && n > s.maxRecords {
		return fmt.Errorf("%w: %d %s exceeds limit of %d", ErrTooManyRecords, n, field, s.maxRecords)
	}
	return nil
}

func (s *Service) extractWallet(txs []features.TransactionRecord) features.WalletFeatures {
	defer metrics.ObserveExtraction(string(heuristic.SourceWallet))()
	return s.wallets.Extract(txs)
}

func (s *Service) extractToken(transfers []features.TransferRecord) features.TokenFeatures {
	defer metrics.ObserveExtraction(string(heuristic.SourceToken))()
	return s.tokens.Extract(transfers)
}

// record stores a and raises an alert when it crosses the threshold.
// Storage failures are logged; the verdict is still returned to the caller.
func (s *Service) record(ctx context.Context, a *assessments.Assessment) {
	logger := logging.L(ctx)
	metrics.AssessmentsTotal.WithLabelValues(string(a.Source), a.Category).Inc()

	if err := s.store.Record(ctx, a); err != nil {
		logger.Error("failed to record assessment", "id", a.ID, "error", err)
	}
	logger.Info("risk assessed", "source", a.Source, "score", a.Score, "category", a.Category)

	if s.alerts != nil && a.Score >= s.alertMin {
		s.alerts.BroadcastRiskAlert(&realtime.RiskAlert{
			AssessmentID: a.ID,
			Subject:      a.Subject,
			Source:       string(a.Source),
			Score:        a.Score,
			Category:     a.Category,
			Indicators:   a.Indicators,
		})
	}
}

func patternNames(matches []heuristic.PatternMatch) []string {
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = string(m.Type)
	}
	return names
}
