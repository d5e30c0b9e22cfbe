package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// ipLimiter holds a rate limiter and the last time it was accessed.
// lastSeen is written by request goroutines and read by cleanup, so it is
// stored atomically as unix nanoseconds.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// rateLimiterStore manages per-IP rate limiters with automatic cleanup.
type rateLimiterStore struct {
	limiters sync.Map
	rps      float64
	burst    int
}

func newRateLimiterStore(rps float64, burst int) *rateLimiterStore {
	s := &rateLimiterStore{rps: rps, burst: burst}
	go s.cleanup()
	return s
}

// getLimiter returns the rate limiter for the given IP, creating one if needed.
func (s *rateLimiterStore) getLimiter(ip string) *rate.Limiter {
	now := time.Now().UnixNano()

	if v, ok := s.limiters.Load(ip); ok {
		entry := v.(*ipLimiter)
		entry.lastSeen.Store(now)
		return entry.limiter
	}

	entry := &ipLimiter{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
	entry.lastSeen.Store(now)
	actual, loaded := s.limiters.LoadOrStore(ip, entry)
	if loaded {
		existing := actual.(*ipLimiter)
		existing.lastSeen.Store(now)
		return existing.limiter
	}
	return entry.limiter
}

// cleanup removes entries that haven't been seen in 3 minutes.
func (s *rateLimiterStore) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now().UnixNano()
		s.limiters.Range(func(key, value any) bool {
			entry := value.(*ipLimiter)
			if now-entry.lastSeen.Load() > int64(3*time.Minute) {
				s.limiters.Delete(key)
			}
			return true
		})
	}
}

// clientIP extracts the client IP address from the request, checking
// X-Forwarded-For first, then falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For may contain a comma-separated list; take the first.
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port.
		return r.RemoteAddr
	}
	return ip
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}

// RateLimit returns a gorilla/mux middleware that enforces per-IP rate
// limiting using a token bucket. rps is the sustained requests-per-second
// rate and burst is the maximum burst size.
func RateLimit(rps float64, burst int) mux.MiddlewareFunc {
	store := newRateLimiterStore(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.getLimiter(clientIP(r)).Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
