package traces

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// recordSpans installs an in-memory tracer provider for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestInit_NoEndpointIsNoop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, err := Init(context.Background(), Config{}, logger)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartSpan(context.Background(), "analysis.wallet", Subject("0xabc"), Records(3))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "analysis.wallet", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), Subject("0xabc"))
}

func TestFail(t *testing.T) {
	rec := recordSpans(t)

	_, failed := StartSpan(context.Background(), "failed")
	Fail(failed, errors.New("boom"))
	failed.End()

	_, canceled := StartSpan(context.Background(), "canceled")
	Fail(canceled, context.Canceled)
	canceled.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1, "cancellation still recorded")
}

func TestMiddleware_ContinuesInboundTrace(t *testing.T) {
	rec := recordSpans(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Init(context.Background(), Config{}, logger) // installs the propagator
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/assessments/:address", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/assessments/0xabc", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /v1/assessments/:address", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestInject(t *testing.T) {
	recordSpans(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Init(context.Background(), Config{}, logger)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "outbound")
	defer span.End()

	h := http.Header{}
	Inject(ctx, h)
	assert.Contains(t, h.Get("traceparent"), span.SpanContext().TraceID().String())
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, "risk.subject", string(Subject("x").Key))
	assert.Equal(t, "wallet", Source("wallet").Value.AsString())
	assert.Equal(t, int64(70), Score(70).Value.AsInt64())
	assert.Equal(t, "SUPERVISED_RF", ModelType("SUPERVISED_RF").Value.AsString())
	assert.Equal(t, "DEGRADED", ModelState("DEGRADED").Value.AsString())
	assert.Equal(t, "wh_1", Webhook("wh_1").Value.AsString())
}
