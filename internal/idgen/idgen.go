// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Prefixes for the identifiers the service hands out.
const (
	AssessmentPrefix = "ra_"
	RequestPrefix    = "req_"
	WebhookPrefix    = "wh_"
	EventPrefix      = "evt_"
	APIKeyPrefix     = "ak_"
)

// WithPrefix generates a random ID with a prefix.
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Assessment returns a new risk assessment ID.
func Assessment() string { return WithPrefix(AssessmentPrefix) }

// Request returns a new request ID.
func Request() string { return WithPrefix(RequestPrefix) }

// Webhook returns a new webhook subscription ID.
func Webhook() string { return WithPrefix(WebhookPrefix) }

// Event returns a new webhook event ID.
func Event() string { return WithPrefix(EventPrefix) }

// APIKey returns a new API key ID.
func APIKey() string { return WithPrefix(APIKeyPrefix) }

// Secret returns 32 random bytes hex encoded, for signing keys.
func Secret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
