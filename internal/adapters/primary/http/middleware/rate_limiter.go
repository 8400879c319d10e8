package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucketTable holds one token bucket per key with TTL-based eviction. Both
// relay limiters (IP-keyed for the HTTP surface, identity-keyed for the
// websocket handshake) are views over this table, so neither can grow
// without bound on a public endpoint.
type bucketTable struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newBucketTable(requestsPerSecond float64, burst int, ttl time.Duration) *bucketTable {
	return &bucketTable{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// allow reports whether the key may proceed, creating its bucket on first
// sight and refreshing its eviction clock.
func (t *bucketTable) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = t.now()
	return b.limiter.Allow()
}

// evictStale removes buckets idle longer than the TTL and returns how many
// were dropped.
func (t *bucketTable) evictStale() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	evicted := 0
	for key, b := range t.buckets {
		if now.Sub(b.lastSeen) > t.ttl {
			delete(t.buckets, key)
			evicted++
		}
	}
	return evicted
}

func (t *bucketTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// sweep evicts stale buckets on a fixed interval until the process exits.
func (t *bucketTable) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		t.evictStale()
	}
}

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	RequestsPerSecond float64       // Requests allowed per second
	BurstSize         int           // Maximum burst size
	CleanupInterval   time.Duration // How often to evict idle clients
	TTL               time.Duration // How long to keep idle clients
}

// DefaultRateLimiterConfig returns the profile for the general HTTP surface
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
		TTL:               3 * time.Minute,
	}
}

// AuthRateLimiterConfig returns a stricter profile for token minting
func AuthRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
		TTL:               5 * time.Minute,
	}
}

// RateLimiter provides IP-based rate limiting for the HTTP surface.
type RateLimiter struct {
	table *bucketTable
}

// NewRateLimiter creates a rate limiter with the given configuration
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		table: newBucketTable(cfg.RequestsPerSecond, cfg.BurstSize, cfg.TTL),
	}
	go rl.table.sweep(cfg.CleanupInterval)
	return rl
}

// Allow checks if a request from the given IP is allowed
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.table.allow(ip)
}

// Middleware returns an HTTP middleware that rate limits requests
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(getClientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Too many requests. Please try again later.","code":"RATE_LIMITED"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request
// It checks X-Forwarded-For and X-Real-IP headers first (for reverse proxies)
func getClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		if ip, _, err := net.SplitHostPort(xff); err == nil {
			return ip
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// connectTTL bounds how long an identity's connect bucket outlives its last
// handshake attempt. Reconnect storms are short; anything older is noise.
const connectTTL = 5 * time.Minute

// RateLimitByKey bounds websocket connection attempts per authenticated
// identity, so one user's reconnect loop cannot starve the gateway.
type RateLimitByKey struct {
	table *bucketTable
}

// NewRateLimitByKey creates an identity-keyed connect limiter
func NewRateLimitByKey(requestsPerSecond float64, burst int) *RateLimitByKey {
	rl := &RateLimitByKey{
		table: newBucketTable(requestsPerSecond, burst, connectTTL),
	}
	go rl.table.sweep(time.Minute)
	return rl
}

// Allow checks if a connection attempt by the given identity is allowed
func (rl *RateLimitByKey) Allow(key string) bool {
	return rl.table.allow(key)
}

// TrackedKeys reports how many identities currently hold a bucket.
func (rl *RateLimitByKey) TrackedKeys() int {
	return rl.table.len()
}
