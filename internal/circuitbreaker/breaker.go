// Package circuitbreaker stops calling an upstream that keeps failing.
// Each key moves closed -> open after consecutive failures, and open ->
// half-open once the cool-down passes, when a single probe decides
// whether it closes again.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do while a key's circuit rejects calls.
var ErrOpen = errors.New("circuit open")

// State is a circuit's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type entry struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks circuits per key.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	cooldown     time.Duration
	now          func() time.Time
	onTransition func(key string, from, to State)
}

// New returns a breaker that opens after threshold consecutive failures
// and probes again after cooldown. Non-positive values fall back to 5
// failures and 30 seconds.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		entries:   make(map[string]*entry),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnTransition registers a callback run synchronously on every state
// change. It must not call back into the breaker.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Do runs fn unless key's circuit is open. failed classifies fn's error;
// a nil failed treats every non-nil error as a failure.
func (b *Breaker) Do(key string, fn func() error, failed func(error) bool) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	err := fn()
	if err != nil && (failed == nil || failed(err)) {
		b.RecordFailure(key)
	} else {
		b.RecordSuccess(key)
	}
	return err
}

// Allow reports whether a call for key may proceed. An open circuit past
// its cool-down moves to half-open and admits exactly one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}
	switch e.state {
	case StateOpen:
		if b.now().Sub(e.openedAt) >= b.cooldown {
			b.transition(key, e, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets key's failure count and closes a probing circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	e.failures = 0
	if e.state != StateClosed {
		b.transition(key, e, StateClosed)
	}
}

// RecordFailure counts a failure for key, opening the circuit at the
// threshold or when a probe fails.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{}
		b.entries[key] = e
	}
	e.failures++

	if e.state == StateHalfOpen || (e.state == StateClosed && e.failures >= b.threshold) {
		e.openedAt = b.now()
		b.transition(key, e, StateOpen)
	}
}

// State returns key's current state; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		return e.state
	}
	return StateClosed
}

// caller holds b.mu
func (b *Breaker) transition(key string, e *entry, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	if b.onTransition != nil {
		b.onTransition(key, from, to)
	}
}
