package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

const (
	solanaTokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	solanaSystem       = "11111111111111111111111111111111"
)

func TestIsValidEthAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"0x1234567890123456789012345678901234567890", true},
		{"0xabcdefABCDEF1234567890123456789012345678", true},
		{"0x0000000000000000000000000000000000000000", true},

		{"1234567890123456789012345678901234567890", false},     // No 0x
		{"0x12345678901234567890123456789012345678", false},     // Too short
		{"0x123456789012345678901234567890123456789012", false}, // Too long
		{"0xGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG", false},   // Invalid chars
		{"", false},
		{"0x", false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.valid, IsValidEthAddress(tc.addr), "IsValidEthAddress(%q)", tc.addr)
	}
}

func TestIsValidSolanaAddress(t *testing.T) {
	assert.True(t, IsValidSolanaAddress(solanaTokenProgram))
	assert.True(t, IsValidSolanaAddress(solanaSystem))

	assert.False(t, IsValidSolanaAddress("0x1234567890123456789012345678901234567890"))
	assert.False(t, IsValidSolanaAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5D0")) // '0' is not base58
	assert.False(t, IsValidSolanaAddress("1111"))
	assert.False(t, IsValidSolanaAddress(""))
}

func TestDetectChain(t *testing.T) {
	assert.Equal(t, ChainEVM, DetectChain("0x1234567890123456789012345678901234567890"))
	assert.Equal(t, ChainSolana, DetectChain(solanaTokenProgram))
	assert.Equal(t, ChainUnknown, DetectChain("not-an-address"))
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0xABCDEF1234567890123456789012345678901234", "0xabcdef1234567890123456789012345678901234"},
		{"  0x1234567890123456789012345678901234567890  ", "0x1234567890123456789012345678901234567890"},
		{"  " + solanaTokenProgram + " ", solanaTokenProgram},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, NormalizeAddress(tc.input), "NormalizeAddress(%q)", tc.input)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 100))
	assert.Equal(t, "hel", SanitizeString("hello", 3))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 100))
}

func TestValidate(t *testing.T) {
	bad := 2
	ok := 1
	errs := Validate(
		Required("subject", ""),
		ValidAddress("subject", "nope"),
		ValidLabel("label", &bad),
		ValidLabel("label", &ok),
		ValidLabel("label", nil),
		MaxItems("transactions", 11, 10),
		MaxLength("name", "abc", 10),
	)
	assert.Len(t, errs, 4)
	assert.Equal(t, "subject: is required", errs.Error())
	assert.Equal(t, "validation failed", ValidationErrors(nil).Error())
}

func TestAddressParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/wallets/:address", AddressParamMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(AddressKey))
	})

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/wallets/0xABCDEF1234567890123456789012345678901234", http.StatusOK, "0xabcdef1234567890123456789012345678901234"},
		{"/wallets/" + solanaTokenProgram, http.StatusOK, solanaTokenProgram},
		{"/wallets/garbage", http.StatusBadRequest, "invalid_address"},
	}

	for _, tc := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.wantCode, w.Code, tc.path)
		assert.Contains(t, w.Body.String(), tc.wantBody)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"transactions": [1,2,3,4,5,6]}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
