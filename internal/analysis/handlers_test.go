package analysis

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T, opts ...Option) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t, opts...)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/v1"))
	return r, svc
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestHandler_AnalyzeWallet(t *testing.T) {
	r, _ := setupRouter(t)

	// mixed field types are coerced; checksummed address is normalized
	body := `{"transactions": [
		{"timestamp": 1704110400, "type": "TRANSFER", "fee": "0.001"},
		{"timestamp": "1704110410", "type": "TRANSFER", "fee": 0.001},
		{"timestamp": 1704110420, "type": "SWAP", "extra": {"ignored": true}}
	]}`
	w := doJSON(r, http.MethodPost, "/v1/wallets/0x52908400098527886E0F7030069857D2E4169EE7/analyze", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AssessmentID string `json:"assessment_id"`
		Subject      string `json:"subject"`
		Features     struct {
			TotalTransactions float64 `json:"total_transactions"`
			RiskScore         int     `json:"risk_score"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, walletAddr, resp.Subject)
	assert.Equal(t, 3.0, resp.Features.TotalTransactions)
	assert.NotEmpty(t, resp.AssessmentID)
}

func TestHandler_AnalyzeWallet_InvalidAddress(t *testing.T) {
	r, _ := setupRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/wallets/not-an-address/analyze", `{"transactions": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_address")
}

func TestHandler_AnalyzeWallet_NotAnArray(t *testing.T) {
	r, _ := setupRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/wallets/"+walletAddr+"/analyze", `{"transactions": {"timestamp": 1}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"invalid_request"`)

	w = doJSON(r, http.MethodPost, "/v1/tokens/"+tokenAddr+"/analyze", `{"transfers": [1, 2]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"invalid_request"`)
}

func TestHandler_EmptyHistory(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/wallets/"+walletAddr+"/analyze", `{"transactions": []}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"data_available":false`)

	w = doJSON(r, http.MethodPost, "/v1/wallets/"+walletAddr+"/analyze", mustJSON(t, map[string]any{"transactions": rapidHistory()}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data_available":true`)

	w = doJSON(r, http.MethodPost, "/v1/wallets/"+walletAddr+"/analyze?strict=true", `{"transactions": []}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"no_data"`)

	w = doJSON(r, http.MethodPost, "/v1/tokens/"+tokenAddr+"/analyze?strict=1", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"no_data"`)

	w = doJSON(r, http.MethodPost, "/v1/analyze?strict=true", `{"subject": "`+walletAddr+`", "social": {"tweet_volume": 5}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_AnalyzeToken_HugeValues(t *testing.T) {
	r, _ := setupRouter(t)
	body := `{"transfers": [
		{"from": "0x1111111111111111111111111111111111111111", "to": "0x2222222222222222222222222222222222222222", "value": 1e308, "timeStamp": 1704067200},
		{"from": "0x3333333333333333333333333333333333333333", "to": "0x4444444444444444444444444444444444444444", "value": "1e308", "timeStamp": 1704067800}
	]}`

	w := doJSON(r, http.MethodPost, "/v1/tokens/"+tokenAddr+"/analyze", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.String())

	var resp TokenAnalysis
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, 1e308, resp.Features.AvgTransferValue, 1e293)
	assert.Equal(t, 0.0, resp.Features.ValueVolatility)
	assert.Equal(t, 0.0, resp.Features.ValueConcentration)
}

func TestHandler_AnalyzeWallet_TooManyRecords(t *testing.T) {
	r, _ := setupRouter(t, WithMaxRecords(2))
	w := doJSON(r, http.MethodPost, "/v1/wallets/"+walletAddr+"/analyze", `{"transactions": [{}, {}, {}]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHandler_AnalyzeToken(t *testing.T) {
	r, _ := setupRouter(t)
	body := mustJSON(t, map[string]any{"transfers": washTrades()})

	w := doJSON(r, http.MethodPost, "/v1/tokens/"+tokenAddr+"/analyze", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"risk_score":85`)
}

func TestHandler_Analyze(t *testing.T) {
	r, _ := setupRouter(t)
	body := mustJSON(t, map[string]any{
		"subject":      walletAddr,
		"transactions": rapidHistory(),
		"social":       map[string]any{"tweet_volume": 3, "sentiment_ratio": "0.1"},
	})

	w := doJSON(r, http.MethodPost, "/v1/analyze", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CombinedAnalysis
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Detection.Sources())
	assert.Equal(t, 0.1, resp.Social["sentiment_ratio"])
	assert.True(t, resp.DataAvailable)
	assert.True(t, resp.Degraded, "no trained model, so the fallback answered")
	assert.True(t, resp.Prediction.Degraded)
	assert.Contains(t, w.Body.String(), `"degraded":true`)
}

func TestHandler_Analyze_Validation(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/analyze", `{"transactions": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")

	w = doJSON(r, http.MethodPost, "/v1/analyze", `{"subject": "`+walletAddr+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "empty_input")
}

func TestHandler_Detect(t *testing.T) {
	r, _ := setupRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/detect", `{"wallet": {"rapid_transactions_ratio": 0.4, "night_transactions_ratio": 0.7}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"overall_risk_score":45`)
}

func TestHandler_Predict(t *testing.T) {
	r, svc := setupRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/predict", `{"subject": "`+walletAddr+`", "features": {"rapid_transactions_ratio": 0.8}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model_type":"HEURISTIC_FALLBACK"`)
	assert.Contains(t, w.Body.String(), `"degraded":true`)

	history, _ := svc.History(t.Context(), walletAddr, 10)
	assert.Len(t, history, 1)
}

func TestHandler_TrainingFlow(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/training/samples", `{"wallet": {"rapid_transactions_ratio": 0.1}, "label": 3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/training/samples", `{"label": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/training/samples", `{"wallet": {"rapid_transactions_ratio": 0.1}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = doJSON(r, http.MethodPost, "/v1/training/train", `{"supervised": true}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodDelete, "/v1/training/samples", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)

	w = doJSON(r, http.MethodPost, "/v1/training/train", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"no_samples"`)

	w = doJSON(r, http.MethodGet, "/v1/model", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"UNTRAINED"`)
}

func TestHandler_ListAssessments(t *testing.T) {
	r, _ := setupRouter(t)
	for i := 0; i < 3; i++ {
		w := doJSON(r, http.MethodPost, "/v1/wallets/"+walletAddr+"/analyze", `{"transactions": []}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(r, http.MethodGet, "/v1/assessments/"+walletAddr+"?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp HistoryPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.True(t, resp.HasMore)
	require.NotEmpty(t, resp.NextCursor)

	w = doJSON(r, http.MethodGet, "/v1/assessments/"+walletAddr+"?limit=2&cursor="+resp.NextCursor, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rest HistoryPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rest))
	assert.Equal(t, 1, rest.Count)
	assert.False(t, rest.HasMore)
	assert.NotEqual(t, resp.Assessments[1].ID, rest.Assessments[0].ID)

	w = doJSON(r, http.MethodGet, "/v1/assessments/"+walletAddr+"?cursor=%21%21", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_cursor")

	w = doJSON(r, http.MethodGet, "/v1/assessments/"+tokenAddr, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"assessments":[]`)
}

func TestHandler_GetAssessment(t *testing.T) {
	r, _ := setupRouter(t)
	w := doJSON(r, http.MethodGet, "/v1/assessment/ra_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_InvalidJSON(t *testing.T) {
	r, _ := setupRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/detect", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}
