package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.OPTIONS("/test", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	return r
}

func TestHeadersMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(HeadersMiddleware()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		method      string
		wantCode    int
		wantOrigin  string
		wantCredits bool
	}{
		{name: "wildcard", allowed: []string{"*"}, origin: "https://ui.example", method: http.MethodGet, wantCode: http.StatusOK, wantOrigin: "https://ui.example"},
		{name: "empty list allows all", allowed: nil, origin: "https://ui.example", method: http.MethodGet, wantCode: http.StatusOK, wantOrigin: "https://ui.example"},
		{name: "listed origin", allowed: []string{"https://ui.example"}, origin: "https://ui.example", method: http.MethodGet, wantCode: http.StatusOK, wantOrigin: "https://ui.example", wantCredits: true},
		{name: "unlisted origin", allowed: []string{"https://ui.example"}, origin: "https://evil.example", method: http.MethodGet, wantCode: http.StatusOK},
		{name: "no origin", allowed: []string{"*"}, method: http.MethodGet, wantCode: http.StatusOK},
		{name: "preflight allowed", allowed: []string{"*"}, origin: "https://ui.example", method: http.MethodOptions, wantCode: http.StatusNoContent, wantOrigin: "https://ui.example"},
		{name: "preflight rejected", allowed: []string{"https://ui.example"}, origin: "https://evil.example", method: http.MethodOptions, wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			newRouter(CORSMiddleware(tt.allowed)).ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCredits, w.Header().Get("Access-Control-Allow-Credentials") == "true")
		})
	}
}
