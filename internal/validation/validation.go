// Package validation provides input validation middleware for the risk API.
package validation

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mr-tron/base58"
)

// MaxRequestSize is the maximum request body size (8MB). Transaction
// histories are posted inline, so this is larger than a typical API body.
const MaxRequestSize = 8 << 20

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// AddressKey is the gin context key holding the normalized :address param.
const AddressKey = "address"

// Chain identifies the address family an address belongs to.
type Chain string

const (
	ChainUnknown Chain = ""
	ChainEVM     Chain = "evm"
	ChainSolana  Chain = "solana"
)

// solanaKeyLen is the decoded length of a Solana public key.
const solanaKeyLen = 32

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEthAddress checks for a 0x-prefixed 20-byte hex address.
func IsValidEthAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
}

// IsValidSolanaAddress checks for a base58 string decoding to a 32-byte key.
func IsValidSolanaAddress(addr string) bool {
	if len(addr) < 32 || len(addr) > 44 {
		return false
	}
	b, err := base58.Decode(addr)
	return err == nil && len(b) == solanaKeyLen
}

// DetectChain reports which address family addr belongs to.
func DetectChain(addr string) Chain {
	switch {
	case IsValidEthAddress(addr):
		return ChainEVM
	case IsValidSolanaAddress(addr):
		return ChainSolana
	default:
		return ChainUnknown
	}
}

// NormalizeAddress lowercases EVM addresses and trims everything else.
// Base58 is case-sensitive and is never folded.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if IsValidEthAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return addr
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAddress checks if a field is an EVM or Solana address
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if DetectChain(value) == ChainUnknown {
			return &ValidationError{Field: field, Message: "must be an EVM (0x...) or Solana (base58) address"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// MaxItems checks that a list field holds at most max entries
func MaxItems(field string, n, max int) func() *ValidationError {
	return func() *ValidationError {
		if n > max {
			return &ValidationError{Field: field, Message: "too many records"}
		}
		return nil
	}
}

// ValidLabel accepts nil, -1 (unlabeled), 0 (legitimate) and 1 (fraud).
func ValidLabel(field string, label *int) func() *ValidationError {
	return func() *ValidationError {
		if label == nil {
			return nil
		}
		if *label < -1 || *label > 1 {
			return &ValidationError{Field: field, Message: "must be -1, 0 or 1"}
		}
		return nil
	}
}

// AddressParamMiddleware validates the :address URL parameter and stores
// its normalized form under AddressKey.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := strings.TrimSpace(c.Param("address"))
		if addr == "" {
			c.Next()
			return
		}
		if DetectChain(addr) == ChainUnknown {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be an EVM address (0x + 40 hex chars) or a base58 Solana address",
			})
			return
		}
		c.Set(AddressKey, NormalizeAddress(addr))
		c.Next()
	}
}
