// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API for chat orchestration.
package server

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ============================================================================
// User Identity
// ============================================================================

// DefaultUserID is the identity used when authentication is disabled.
// Single-user deployments run everything under this one owner.
const DefaultUserID = "local"

type contextKey string

const userIDKey contextKey = "userID"

// UserID returns the authenticated user for the request. Falls back to
// DefaultUserID when no auth middleware ran.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok && id != "" {
		return id
	}
	return DefaultUserID
}

// WithUserID returns a context carrying the given user identity.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// ============================================================================
// Auth Configuration and Middleware
// ============================================================================

// AuthConfig contains authentication configuration options.
type AuthConfig struct {
	// Enabled indicates whether authentication is required.
	Enabled bool

	// Tokens maps bearer tokens to user identities. If Enabled is true
	// and the map is empty, all requests are rejected.
	Tokens map[string]string
}

// DefaultAuthConfig returns an AuthConfig with authentication disabled.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		Enabled: false,
		Tokens:  map[string]string{},
	}
}

// lookupToken resolves a bearer token to a user identity.
// Every stored token is compared in constant time to prevent timing
// attacks; the scan does not stop at the first match.
func (c *AuthConfig) lookupToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}

	var userID string
	var found bool
	for stored, user := range c.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(stored)) == 1 {
			userID = user
			found = true
		}
	}
	return userID, found
}

// AuthMiddleware returns HTTP middleware that authenticates requests.
//
// Authentication checks (in order):
//  1. If authentication is disabled, map everything to DefaultUserID
//  2. Check Authorization header for a known Bearer token
//
// Returns 401 Unauthorized if authentication fails. On success the
// resolved user identity is attached to the request context.
func AuthMiddleware(config *AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled {
				next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), DefaultUserID)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Warn("auth denied",
					zap.String("ip", GetClientIP(r)),
					zap.String("reason", "missing_bearer"))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			userID, ok := config.lookupToken(token)
			if !ok {
				logger.Warn("auth denied",
					zap.String("ip", GetClientIP(r)),
					zap.String("reason", "invalid_token"))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// ============================================================================
// Rate Limiter
// ============================================================================

// RateLimiter enforces a token-bucket limit per client IP.
type RateLimiter struct {
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	mu       sync.Mutex
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second
// with the given burst per client IP.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}

	go rl.cleanup()

	return rl
}

// DefaultRateLimiter returns a limiter with default settings:
// 10 requests per second, burst of 20.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(10, 20)
}

// Allow reports whether a request from the given IP should proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

// cleanup periodically drops limiters for IPs not seen recently.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-3 * time.Minute)
		for ip, entry := range rl.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware returns HTTP middleware that enforces rate limiting.
//
// Returns 429 Too Many Requests with a Retry-After header when the
// limit is exceeded.
func RateLimitMiddleware(limiter *RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := GetClientIP(r)

			if !limiter.Allow(clientIP) {
				w.Header().Set("Retry-After", "1")
				logger.Warn("rate limit exceeded", zap.String("ip", clientIP))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Request Logging Middleware
// ============================================================================

// responseWriter wraps http.ResponseWriter to capture the status code.
// Flush is forwarded so streaming handlers keep working behind it.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code before writing it.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer when it supports flushing.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware returns HTTP middleware that logs all requests.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// ============================================================================
// Security Headers Middleware
// ============================================================================

// SecurityHeadersMiddleware returns HTTP middleware that adds security headers.
//
// Headers set:
//   - X-Content-Type-Options: nosniff
//   - X-Frame-Options: DENY
//   - Cache-Control: no-store, no-cache, must-revalidate
//   - Referrer-Policy: strict-origin-when-cross-origin
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME type sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			w.Header().Set("X-Frame-Options", "DENY")

			// Chat content is per-user; never cache it
			w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")

			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Recovery Middleware
// ============================================================================

// RecoveryMiddleware returns HTTP middleware that recovers from panics,
// logs the stack trace, and returns 500 to the client.
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("error", err),
						zap.ByteString("stack", debug.Stack()),
					)

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Middleware Chain Helper
// ============================================================================

// Chain composes multiple middleware functions into a single middleware.
// Middlewares are applied in the order provided.
//
// Example:
//
//	chain := Chain(
//	    RecoveryMiddleware(logger),
//	    LoggingMiddleware(logger),
//	    RateLimitMiddleware(limiter, logger),
//	)
//	http.Handle("/api/", chain(handler))
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		// Apply middlewares in reverse order so they execute in order
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// ============================================================================
// IP Extraction Helper
// ============================================================================

// trustedProxies defines CIDR ranges allowed to set X-Forwarded-For and
// X-Real-IP. Forwarded headers from anywhere else are ignored so
// clients cannot spoof their way past rate limiting.
var trustedProxies = []string{
	"127.0.0.1/32",   // IPv4 localhost
	"::1/128",        // IPv6 localhost
	"10.0.0.0/8",     // Private network (RFC 1918)
	"172.16.0.0/12",  // Private network (RFC 1918)
	"192.168.0.0/16", // Private network (RFC 1918)
	"fc00::/7",       // IPv6 Unique Local Addresses (RFC 4193)
}

var (
	parsedTrustedProxies []*net.IPNet
	trustedProxiesOnce   sync.Once
)

func parseTrustedProxies() {
	trustedProxiesOnce.Do(func() {
		parsedTrustedProxies = make([]*net.IPNet, 0, len(trustedProxies))
		for _, cidr := range trustedProxies {
			if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
				parsedTrustedProxies = append(parsedTrustedProxies, ipNet)
			}
		}
	})
}

func isTrustedProxy(ipStr string) bool {
	parseTrustedProxies()

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	for _, cidr := range parsedTrustedProxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// getRemoteIP extracts the IP address from r.RemoteAddr.
func getRemoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// GetClientIP extracts the client IP address from an HTTP request.
//
// X-Forwarded-For and X-Real-IP are only honored when the direct
// connection comes from a trusted proxy, and only when they carry a
// parseable IP.
func GetClientIP(r *http.Request) string {
	connIP := getRemoteIP(r.RemoteAddr)

	if !isTrustedProxy(connIP) {
		return connIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// The first IP is the original client
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	return connIP
}
