package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *RiskClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *RiskClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeWallet scores a wallet history.
func (h *Handlers) HandleAnalyzeWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	txs, ok := getList(req, "transactions")
	if !ok {
		return mcp.NewToolResultError("transactions must be an array of objects"), nil
	}

	raw, err := h.client.AnalyzeWallet(ctx, address, txs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze wallet: %v", err)), nil
	}

	text, err := formatSubjectAnalysis("Wallet", raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse analysis: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleAnalyzeToken scores a token transfer history.
func (h *Handlers) HandleAnalyzeToken(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	transfers, ok := getList(req, "transfers")
	if !ok {
		return mcp.NewToolResultError("transfers must be an array of objects"), nil
	}

	raw, err := h.client.AnalyzeToken(ctx, address, transfers)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze token: %v", err)), nil
	}

	text, err := formatSubjectAnalysis("Token", raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse analysis: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleAnalyzeSubject runs the combined pipeline.
func (h *Handlers) HandleAnalyzeSubject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subject := req.GetString("subject", "")
	if subject == "" {
		return mcp.NewToolResultError("subject is required"), nil
	}
	txs, ok := getList(req, "transactions")
	if !ok {
		return mcp.NewToolResultError("transactions must be an array of objects"), nil
	}
	transfers, ok := getList(req, "transfers")
	if !ok {
		return mcp.NewToolResultError("transfers must be an array of objects"), nil
	}
	social, _ := req.GetArguments()["social"].(map[string]any)
	if txs == nil && transfers == nil && social == nil {
		return mcp.NewToolResultError("provide at least one of transactions, transfers or social"), nil
	}

	raw, err := h.client.Analyze(ctx, subject, txs, transfers, social)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze subject: %v", err)), nil
	}

	text, err := formatCombined(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse analysis: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandlePredictFraud scores a feature vector.
func (h *Handlers) HandlePredictFraud(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vector, ok := req.GetArguments()["features"].(map[string]any)
	if !ok || len(vector) == 0 {
		return mcp.NewToolResultError("features must be a non-empty object"), nil
	}

	raw, err := h.client.Predict(ctx, req.GetString("subject", ""), vector)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to predict: %v", err)), nil
	}

	var pred prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse prediction: %v", err)), nil
	}

	var sb strings.Builder
	writePrediction(&sb, pred)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetAssessments lists recorded assessments.
func (h *Handlers) HandleGetAssessments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	raw, err := h.client.ListAssessments(ctx, address, req.GetInt("limit", 0), req.GetString("cursor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assessments: %v", err)), nil
	}

	text, err := formatAssessments(address, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessments: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleModelStatus describes the model.
func (h *Handlers) HandleModelStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ModelStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get model status: %v", err)), nil
	}

	var resp struct {
		Model   modelStatus  `json:"model"`
		Samples sampleCounts `json:"samples"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse model status: %v", err)), nil
	}

	var sb strings.Builder
	writeModelStatus(&sb, resp.Model)
	fmt.Fprintf(&sb, "Queued samples: %d (%d labeled)\n", resp.Samples.Total, resp.Samples.Labeled)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleTrainModel trains on the queued samples.
func (h *Handlers) HandleTrainModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var supervised *bool
	if v, ok := req.GetArguments()["supervised"].(bool); ok {
		supervised = &v
	}

	raw, err := h.client.Train(ctx, supervised)
	if err != nil && raw == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to train model: %v", err)), nil
	}

	var resp struct {
		Report trainReport `json:"report"`
		Model  modelStatus `json:"model"`
	}
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse training report: %v", jsonErr)), nil
	}

	var sb strings.Builder
	if err != nil {
		fmt.Fprintf(&sb, "Training failed: %s\n", resp.Report.Reason)
	} else {
		fmt.Fprintf(&sb, "Training finished: %s model on %d samples (%d ms)\n",
			resp.Report.Mode, resp.Report.Samples, resp.Report.DurationMS)
	}
	if e := resp.Report.Evaluation; e != nil {
		fmt.Fprintf(&sb, "Hold-out (%d): accuracy %.2f, precision %.2f, recall %.2f, F1 %.2f\n",
			e.Samples, e.Accuracy, e.Precision, e.Recall, e.F1)
	}
	if resp.Report.Persisted {
		sb.WriteString("Model saved.\n")
	}
	sb.WriteString("\n")
	writeModelStatus(&sb, resp.Model)

	if err != nil {
		return mcp.NewToolResultError(sb.String()), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ----- Response shapes -----

type prediction struct {
	FraudProbability float64  `json:"fraud_probability"`
	Prediction       string   `json:"prediction"`
	Confidence       float64  `json:"confidence"`
	ModelType        string   `json:"model_type"`
	RiskScore        *float64 `json:"risk_score"`
	RiskCategory     string   `json:"risk_category"`
	AnomalyScore     *float64 `json:"anomaly_score"`
	FallbackReason   string   `json:"fallback_reason"`
}

type pattern struct {
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	RiskLevel   string  `json:"risk_level"`
}

type modelStatus struct {
	State     string   `json:"state"`
	IsTrained bool     `json:"is_trained"`
	ModelType string   `json:"model_type"`
	Columns   []string `json:"columns"`
	TrainedAt string   `json:"trained_at"`
	Fallback  bool     `json:"fallback_enabled"`
	LastError string   `json:"last_error"`
}

type sampleCounts struct {
	Total   int `json:"total"`
	Labeled int `json:"labeled"`
}

type trainReport struct {
	State      string `json:"state"`
	Mode       string `json:"mode"`
	Samples    int    `json:"samples"`
	Persisted  bool   `json:"persisted"`
	Reason     string `json:"reason"`
	DurationMS int64  `json:"duration_ms"`
	Evaluation *struct {
		Samples   int     `json:"samples"`
		Accuracy  float64 `json:"accuracy"`
		Precision float64 `json:"precision"`
		Recall    float64 `json:"recall"`
		F1        float64 `json:"f1"`
	} `json:"evaluation"`
}

// ----- Formatting -----

func formatSubjectAnalysis(kind string, raw json.RawMessage) (string, error) {
	var resp struct {
		AssessmentID string         `json:"assessment_id"`
		Subject      string         `json:"subject"`
		Features     map[string]any `json:"features"`
		Indicators   []string       `json:"indicators"`
		Patterns     []pattern      `json:"patterns"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Risk Assessment (%s)\n", kind, resp.AssessmentID)
	fmt.Fprintf(&sb, "  Subject: %s\n", resp.Subject)
	if score, ok := getFloat(resp.Features, "risk_score"); ok {
		fmt.Fprintf(&sb, "  Risk: %.0f/100 (%s)\n", score, getString(resp.Features, "risk_category"))
	}
	writeIndicators(&sb, resp.Indicators)
	writePatterns(&sb, resp.Patterns)
	sb.WriteString("\nFeatures:\n")
	writeFeatures(&sb, resp.Features)
	return sb.String(), nil
}

func formatCombined(raw json.RawMessage) (string, error) {
	var resp struct {
		AssessmentID string `json:"assessment_id"`
		Subject      string `json:"subject"`
		Detection    struct {
			OverallRiskScore int            `json:"overall_risk_score"`
			RiskCategory     string         `json:"risk_category"`
			Confidence       float64        `json:"confidence"`
			FraudIndicators  []string       `json:"fraud_indicators"`
			DetailedAnalysis map[string]any `json:"detailed_analysis"`
			Patterns         []pattern      `json:"patterns"`
		} `json:"detection"`
		Prediction prediction `json:"prediction"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	d := resp.Detection
	sources := make([]string, 0, len(d.DetailedAnalysis))
	for s := range d.DetailedAnalysis {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Combined Risk Assessment (%s)\n", resp.AssessmentID)
	fmt.Fprintf(&sb, "  Subject: %s\n", resp.Subject)
	fmt.Fprintf(&sb, "  Risk: %d/100 (%s), confidence %.2f\n", d.OverallRiskScore, d.RiskCategory, d.Confidence)
	if len(sources) > 0 {
		fmt.Fprintf(&sb, "  Sources: %s\n", strings.Join(sources, ", "))
	}
	writeIndicators(&sb, d.FraudIndicators)
	writePatterns(&sb, d.Patterns)
	sb.WriteString("\n")
	writePrediction(&sb, resp.Prediction)
	return sb.String(), nil
}

func formatAssessments(address string, raw json.RawMessage) (string, error) {
	var resp struct {
		Assessments []struct {
			ID               string   `json:"id"`
			Source           string   `json:"source"`
			Score            int      `json:"score"`
			Category         string   `json:"category"`
			ModelType        string   `json:"model_type"`
			FraudProbability *float64 `json:"fraud_probability"`
			Patterns         []string `json:"patterns"`
			EvaluatedAt      string   `json:"evaluated_at"`
		} `json:"assessments"`
		NextCursor string `json:"next_cursor"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Assessments) == 0 {
		return fmt.Sprintf("No assessments recorded for %s.", address), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d assessment(s) for %s:\n\n", len(resp.Assessments), address)
	for i, a := range resp.Assessments {
		fmt.Fprintf(&sb, "%d. [%s] %s score %d (%s)", i+1, a.EvaluatedAt, a.Source, a.Score, a.Category)
		if a.FraudProbability != nil {
			fmt.Fprintf(&sb, ", fraud probability %.2f", *a.FraudProbability)
		}
		sb.WriteString("\n")
		if len(a.Patterns) > 0 {
			fmt.Fprintf(&sb, "   Patterns: %s\n", strings.Join(a.Patterns, ", "))
		}
		fmt.Fprintf(&sb, "   ID: %s\n", a.ID)
	}
	if resp.NextCursor != "" {
		fmt.Fprintf(&sb, "\nMore assessments available. Call again with cursor %q.\n", resp.NextCursor)
	}
	return sb.String(), nil
}

func writePrediction(sb *strings.Builder, p prediction) {
	fmt.Fprintf(sb, "Model Prediction (%s):\n", p.ModelType)
	fmt.Fprintf(sb, "  Verdict: %s\n", p.Prediction)
	fmt.Fprintf(sb, "  Fraud probability: %.2f\n", p.FraudProbability)
	fmt.Fprintf(sb, "  Confidence: %.2f\n", p.Confidence)
	if p.RiskScore != nil {
		fmt.Fprintf(sb, "  Risk score: %.1f", *p.RiskScore)
		if p.RiskCategory != "" {
			fmt.Fprintf(sb, " (%s)", p.RiskCategory)
		}
		sb.WriteString("\n")
	}
	if p.AnomalyScore != nil {
		fmt.Fprintf(sb, "  Anomaly score: %.4f\n", *p.AnomalyScore)
	}
	if p.FallbackReason != "" {
		fmt.Fprintf(sb, "  Note: heuristic fallback used (%s)\n", p.FallbackReason)
	}
}

func writeModelStatus(sb *strings.Builder, m modelStatus) {
	sb.WriteString("Fraud Model:\n")
	fmt.Fprintf(sb, "  State: %s\n", m.State)
	if m.ModelType != "" {
		fmt.Fprintf(sb, "  Type: %s\n", m.ModelType)
	}
	if m.TrainedAt != "" {
		fmt.Fprintf(sb, "  Trained: %s\n", m.TrainedAt)
	}
	fmt.Fprintf(sb, "  Features: %d\n", len(m.Columns))
	fmt.Fprintf(sb, "  Heuristic fallback: %t\n", m.Fallback)
	if m.LastError != "" {
		fmt.Fprintf(sb, "  Last error: %s\n", m.LastError)
	}
}

func writeIndicators(sb *strings.Builder, indicators []string) {
	if len(indicators) == 0 {
		sb.WriteString("  No fraud indicators.\n")
		return
	}
	sb.WriteString("  Indicators:\n")
	for _, ind := range indicators {
		fmt.Fprintf(sb, "    - %s\n", ind)
	}
}

func writePatterns(sb *strings.Builder, patterns []pattern) {
	if len(patterns) == 0 {
		return
	}
	sb.WriteString("  Patterns:\n")
	for _, p := range patterns {
		fmt.Fprintf(sb, "    - %s (%s, confidence %.2f): %s\n", p.Type, p.RiskLevel, p.Confidence, p.Description)
	}
}

// writeFeatures lists numeric features in name order, skipping the score
// fields already shown in the header.
func writeFeatures(sb *strings.Builder, m map[string]any) {
	names := make([]string, 0, len(m))
	for k := range m {
		if k == "risk_score" || k == "risk_category" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if v, ok := getFloat(m, k); ok {
			fmt.Fprintf(sb, "  %s: %.4g\n", k, v)
		}
	}
}

// getList reads an optional array argument. ok is false when the argument
// is present but not an array.
func getList(req mcp.CallToolRequest, key string) ([]any, bool) {
	v, present := req.GetArguments()[key]
	if !present || v == nil {
		return nil, true
	}
	list, ok := v.([]any)
	return list, ok
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
