// Package ratelimit provides per-client token bucket limiting for the API.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures rate limiting.
type Config struct {
	// RequestsPerMinute is the sustained refill rate per client.
	RequestsPerMinute int
	// BurstSize is the bucket capacity.
	BurstSize int
	// CleanupInterval is how often idle clients are dropped.
	CleanupInterval time.Duration
}

// DefaultConfig returns 120 requests per minute with bursts of 20.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
	}
}

// Enabled reports whether the config limits anything.
func (c Config) Enabled() bool {
	return c.RequestsPerMinute > 0 && c.BurstSize > 0
}

// Limiter tracks token buckets by client key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*bucket
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a limiter and starts its cleanup loop. Call Stop to end it.
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

// evictIdle drops buckets that have refilled completely.
func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	full := l.refillWindow()
	cutoff := l.now().Add(-full)
	for key, b := range l.clients {
		if b.lastCheck.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

func (l *Limiter) refillWindow() time.Duration {
	if l.cfg.RequestsPerMinute <= 0 {
		return 2 * time.Minute
	}
	perToken := time.Minute / time.Duration(l.cfg.RequestsPerMinute)
	return time.Duration(l.cfg.BurstSize)*perToken + time.Minute
}

// Stop ends the cleanup loop. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Clients returns the number of tracked buckets.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Allow consumes one token for key.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.AllowN(key, 1)
	return ok
}

// AllowN consumes cost tokens for key. When denied it returns how long
// until enough tokens will have refilled. A cost above the burst size is
// clamped to the burst size so expensive calls remain possible.
func (l *Limiter) AllowN(key string, cost int) (bool, time.Duration) {
	if !l.cfg.Enabled() {
		return true, 0
	}
	need := float64(cost)
	if need < 1 {
		need = 1
	}
	burst := float64(l.cfg.BurstSize)
	if need > burst {
		need = burst
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[key]
	if !ok {
		b = &bucket{tokens: burst, lastCheck: now}
		l.clients[key] = b
	}

	rate := float64(l.cfg.RequestsPerMinute) / 60.0
	b.tokens = math.Min(burst, b.tokens+now.Sub(b.lastCheck).Seconds()*rate)
	b.lastCheck = now

	if b.tokens >= need {
		b.tokens -= need
		return true, 0
	}
	wait := time.Duration((need - b.tokens) / rate * float64(time.Second))
	return false, wait
}

// Middleware limits every request by client IP at cost 1.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return l.Cost(1)
}

// Cost limits requests by client IP, charging cost tokens per request.
// Training and batch routes use a higher cost than lookups.
func (l *Limiter) Cost(cost int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.AllowN(clientKey(c), cost)
		if !ok {
			retry := int(math.Ceil(wait.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return "key:" + key[:min(20, len(key))]
	}
	return c.ClientIP()
}
