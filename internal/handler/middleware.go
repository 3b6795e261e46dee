package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ourhall/backend/internal/ratelimit"
)

// SecurityHeaders adds security response headers (CSP, X-Frame-Options, etc.)
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("X-XSS-Protection", "0")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; frame-ancestors 'none'")
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// RateLimiter provides IP-based rate limiting over a shared ratelimit.Store.
type RateLimiter struct {
	store             ratelimit.Store
	limit             int
	window            time.Duration
	scope             string
	trustedProxyCount int
}

// NewRateLimiter creates a rate limiter allowing limit requests per window
// for each client IP. scope separates the counters of different route groups.
// Assumes a single trusted reverse proxy (nginx) by default.
func NewRateLimiter(store ratelimit.Store, scope string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:             store,
		limit:             limit,
		window:            window,
		scope:             scope,
		trustedProxyCount: 1,
	}
}

// Middleware returns an http.Handler that enforces rate limits.
// If the store cannot be reached the request is let through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := rl.clientIP(r)
		d, err := rl.store.Allow(r.Context(), rl.scope+":"+ip, rl.limit, rl.window)
		if err != nil {
			slog.Warn("rate limit store failed, allowing request", "error", err, "scope", rl.scope)
			next.ServeHTTP(w, r)
			return
		}
		if !d.Allowed {
			w.Header().Set("Retry-After", retryAfterSeconds(d.RetryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP extracts the real client IP, reading from the rightmost trusted
// proxy position in X-Forwarded-For to prevent spoofing.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" && rl.trustedProxyCount > 0 {
		parts := strings.Split(xff, ",")
		// The rightmost entry added by our infrastructure is at
		// index len(parts) - trustedProxyCount.
		idx := len(parts) - rl.trustedProxyCount
		if idx >= 0 && idx < len(parts) {
			return strings.TrimSpace(parts[idx])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
