// Package auth provides API key authentication.
//
// Keys are issued by an operator holding the admin key and are stored
// only as SHA-256 hashes. When authentication is required every /v1
// route needs a key; otherwise keys only scope rate limiting.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/defiintel/internal/idgen"
)

// Errors
var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid or expired API key")
	ErrKeyNotFound   = errors.New("API key not found")
)

// KeyPrefix starts every raw key handed to a client.
const KeyPrefix = "sk_"

// AdminKeyID identifies the configured operator key in request context.
const AdminKeyID = "admin"

// touchInterval limits how often LastUsed is written for a busy key.
const touchInterval = time.Minute

// APIKey is the stored form of a key.
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Admin reports whether k is the operator key.
func (k *APIKey) Admin() bool { return k.ID == AdminKeyID }

func (k *APIKey) expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

func (k *APIKey) clone() *APIKey {
	c := *k
	if k.LastUsed != nil {
		t := *k.LastUsed
		c.LastUsed = &t
	}
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// Store persists API keys
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	List(ctx context.Context) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
}

// Manager issues and validates keys.
type Manager struct {
	store     Store
	adminHash string
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithAdminKey accepts raw as the operator key. Empty disables it.
func WithAdminKey(raw string) Option {
	return func(m *Manager) {
		if raw != "" {
			m.adminHash = hashKey(raw)
		}
	}
}

// NewManager creates a new auth manager
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateKey creates a key. The raw key is returned once and never
// stored. A zero ttl never expires.
func (m *Manager) GenerateKey(ctx context.Context, name string, ttl time.Duration) (rawKey string, key *APIKey, err error) {
	rawKey = KeyPrefix + idgen.Secret()
	now := m.now().UTC()
	key = &APIKey{
		ID:        idgen.APIKey(),
		Hash:      hashKey(rawKey),
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		key.ExpiresAt = &exp
	}
	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// ValidateKey resolves a raw key from an Authorization or X-API-Key
// header value.
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}
	hash := hashKey(rawKey)

	if m.adminHash != "" && subtle.ConstantTimeCompare([]byte(hash), []byte(m.adminHash)) == 1 {
		return &APIKey{ID: AdminKeyID, Name: "admin"}, nil
	}
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hash)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	now := m.now()
	if key.Revoked || key.expired(now) {
		return nil, ErrInvalidAPIKey
	}

	if key.LastUsed == nil || now.Sub(*key.LastUsed) >= touchInterval {
		used := now.UTC()
		key.LastUsed = &used
		// Best effort; a failed touch must not fail the request.
		_ = m.store.Update(ctx, key)
	}
	return key, nil
}

// ListKeys returns every issued key, newest first.
func (m *Manager) ListKeys(ctx context.Context) ([]*APIKey, error) {
	return m.store.List(ctx)
}

// RevokeKey revokes an API key
func (m *Manager) RevokeKey(ctx context.Context, keyID string) error {
	keys, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}
	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// ----- Memory store -----

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by ID
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

func (s *MemoryStore) Create(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key.clone()
	return nil
}

func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			return k.clone(), nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) List(ctx context.Context) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return ErrKeyNotFound
	}
	s.keys[key.ID] = key.clone()
	return nil
}
