package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/defiintel/internal/circuitbreaker"
	"github.com/mbd888/defiintel/internal/retry"
	"github.com/mbd888/defiintel/internal/traces"
)

// Config holds the configuration for connecting to the risk scoring API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // optional; sent as X-API-Key
	Logger *slog.Logger
}

// RiskClient is a pure HTTP client for the risk scoring API. Reads are
// retried on transient failures, and a circuit breaker stops calls to an
// API that keeps failing.
type RiskClient struct {
	cfg        Config
	httpClient *http.Client
	retry      retry.Policy
	breaker    *circuitbreaker.Breaker
}

// NewRiskClient creates a new client for the risk scoring API.
func NewRiskClient(cfg Config) *RiskClient {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &RiskClient{
		cfg: cfg,
		httpClient: &http.Client{
			// training runs synchronously server-side
			Timeout: 90 * time.Second,
		},
		retry:   retry.DefaultPolicy,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
	c.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		c.cfg.Logger.Warn("risk API circuit changed", "api", key, "from", from.String(), "to", to.String())
	})
	return c
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusError is a non-2xx answer from the API.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.code, e.message)
}

// upstreamFailure reports whether err means the API itself is failing, as
// opposed to rejecting the request.
func upstreamFailure(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// doRequest makes an HTTP request to the API and returns the response body.
// GETs are retried on network errors, 429 and 5xx. Training answers 422
// with a report body, which is returned alongside the error so callers can
// still show it.
func (c *RiskClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var data []byte
	if body != nil {
		if data, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	policy := c.retry
	if method != http.MethodGet {
		policy.Attempts = 1
	}

	var out json.RawMessage
	err = retry.Do(ctx, policy, func(int) error {
		err := c.breaker.Do(c.cfg.APIURL, func() error {
			var err error
			out, err = c.send(ctx, method, u.String(), data)
			return err
		}, upstreamFailure)

		var se *statusError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, circuitbreaker.ErrOpen):
			return retry.Permanent(fmt.Errorf("risk API unavailable: %w", err))
		case errors.As(err, &se) && se.code != http.StatusTooManyRequests && se.code < 500:
			return retry.Permanent(err)
		}
		return err
	})
	return out, err
}

// send performs one HTTP round trip.
func (c *RiskClient) send(ctx context.Context, method, rawURL string, data []byte) (json.RawMessage, error) {
	var reqBody io.Reader
	if data != nil {
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	traces.Inject(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return json.RawMessage(respBody), &statusError{code: resp.StatusCode, message: "training did not produce a model"}
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, &statusError{code: resp.StatusCode, message: apiErr.Message}
		}
		return nil, &statusError{code: resp.StatusCode, message: string(respBody)}
	}
	return json.RawMessage(respBody), nil
}

func subjectPath(prefix, address, suffix string) string {
	return prefix + url.PathEscape(address) + suffix
}

// AnalyzeWallet scores a wallet's transaction history.
func (c *RiskClient) AnalyzeWallet(ctx context.Context, address string, transactions []any) (json.RawMessage, error) {
	body := map[string]any{"transactions": nonNilList(transactions)}
	return c.doRequest(ctx, http.MethodPost, subjectPath("/v1/wallets/", address, "/analyze"), nil, body)
}

// AnalyzeToken scores a token's transfer history.
func (c *RiskClient) AnalyzeToken(ctx context.Context, address string, transfers []any) (json.RawMessage, error) {
	body := map[string]any{"transfers": nonNilList(transfers)}
	return c.doRequest(ctx, http.MethodPost, subjectPath("/v1/tokens/", address, "/analyze"), nil, body)
}

// Analyze runs the combined pipeline for one subject.
func (c *RiskClient) Analyze(ctx context.Context, subject string, transactions, transfers []any, social map[string]any) (json.RawMessage, error) {
	body := map[string]any{"subject": subject}
	if transactions != nil {
		body["transactions"] = transactions
	}
	if transfers != nil {
		body["transfers"] = transfers
	}
	if social != nil {
		body["social"] = social
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/analyze", nil, body)
}

// Predict scores a pre-extracted feature vector.
func (c *RiskClient) Predict(ctx context.Context, subject string, vector map[string]any) (json.RawMessage, error) {
	body := map[string]any{"features": vector}
	if subject != "" {
		body["subject"] = subject
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/predict", nil, body)
}

// ListAssessments returns the newest assessments recorded for address.
// A cursor from a previous page continues the listing.
func (c *RiskClient) ListAssessments(ctx context.Context, address string, limit int, cursor string) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.doRequest(ctx, http.MethodGet, subjectPath("/v1/assessments/", address, ""), q, nil)
}

// ModelStatus returns the detector state and queued sample counts.
func (c *RiskClient) ModelStatus(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/model", nil, nil)
}

// Train fits a model on the queued samples. A nil mode auto-detects.
func (c *RiskClient) Train(ctx context.Context, supervised *bool) (json.RawMessage, error) {
	body := map[string]any{}
	if supervised != nil {
		body["supervised"] = *supervised
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/training/train", nil, body)
}

func nonNilList(items []any) []any {
	if items == nil {
		return []any{}
	}
	return items
}
