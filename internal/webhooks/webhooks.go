// Package webhooks delivers risk alerts and model lifecycle events to
// external services that registered a callback URL.
//
// Each delivery is a signed JSON POST. Receivers verify
// X-DefiIntel-Signature, which is "sha256=" followed by the hex
// HMAC-SHA256 of "<timestamp>.<body>" under the subscription secret.
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown subscription IDs.
var ErrNotFound = errors.New("webhook subscription not found")

// EventType names what happened.
type EventType string

const (
	EventRiskAlert    EventType = "risk.alert"
	EventModelTrained EventType = "model.trained"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventRiskAlert || t == EventModelTrained
}

// Event is the JSON body of one delivery.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription is a registered callback. Subjects and MinScore narrow
// risk.alert deliveries; model.trained ignores them.
type Subscription struct {
	ID                  string      `json:"id"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"`
	Events              []EventType `json:"events"`
	Subjects            []string    `json:"subjects,omitempty"`
	MinScore            int         `json:"min_score"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"created_at"`
	LastSuccess         *time.Time  `json:"last_success,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
}

// Wants reports whether sub should receive an event of type t about
// subject with the given score.
func (s *Subscription) Wants(t EventType, subject string, score int) bool {
	if !s.Active || !slices.Contains(s.Events, t) {
		return false
	}
	if t != EventRiskAlert {
		return true
	}
	if score < s.MinScore {
		return false
	}
	if len(s.Subjects) == 0 {
		return true
	}
	for _, want := range s.Subjects {
		if strings.EqualFold(want, subject) {
			return true
		}
	}
	return false
}

func (s *Subscription) clone() *Subscription {
	c := *s
	c.Events = slices.Clone(s.Events)
	c.Subjects = slices.Clone(s.Subjects)
	if s.LastSuccess != nil {
		t := *s.LastSuccess
		c.LastSuccess = &t
	}
	return &c
}

// Store persists subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	ListByEvent(ctx context.Context, t EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Sign returns the signature header value for body sent at ts.
func Sign(secret string, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header produced by Sign.
func Verify(secret, timestamp, signature string, body []byte) bool {
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	want := Sign(secret, time.Unix(unix, 0), body)
	return hmac.Equal([]byte(want), []byte(signature))
}

// ----- Memory store -----

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewMemoryStore creates an in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub.clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.clone(), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Subscription, error) {
	return m.filter(func(*Subscription) bool { return true }), nil
}

func (m *MemoryStore) ListByEvent(ctx context.Context, t EventType) ([]*Subscription, error) {
	return m.filter(func(s *Subscription) bool {
		return s.Active && slices.Contains(s.Events, t)
	}), nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	m.subs[sub.ID] = sub.clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

// filter returns matching subscriptions, newest first.
func (m *MemoryStore) filter(keep func(*Subscription) bool) []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, s := range m.subs {
		if keep(s) {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
