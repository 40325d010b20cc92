// ABOUTME: Per-client rate limiting for ceremony endpoints
// ABOUTME: Token buckets from x/time/rate keyed by client IP in a bounded LRU

package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterCacheSize = 10_000
	limiterIdleTTL   = 10 * time.Minute
)

// RateLimiter hands out one token bucket per client key.
// A nil *RateLimiter allows everything.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter returns nil when rps is not positive.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return newRateLimiter(rps, burst, limiterIdleTTL)
}

func newRateLimiter(rps float64, burst int, idle time.Duration) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, idle),
	}
}

// Allow reports whether a request from key may proceed. A bucket is
// dropped only after its key has been idle for the whole TTL.
func (l *RateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
	}
	// Get does not extend the TTL; re-adding does.
	l.buckets.Add(key, lim)
	l.mu.Unlock()
	return lim.Allow()
}

// rateLimited rejects requests over the limit with 429.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !s.limiter.Allow(key) {
			s.logger.Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
			s.metrics.SecurityEvent("rate_limited")
			s.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// clientIP strips the port from RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
