package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// DefaultRetryAfterSeconds is the Retry-After value sent with a 429.
const DefaultRetryAfterSeconds = 1

// KeyFunc returns the limiter key for a request and whether the caller is signed in.
type KeyFunc func(r *http.Request) (key string, authenticated bool)

// RateLimitMiddleware creates HTTP middleware that enforces rate limits.
//
// Rejected requests get 429 with a GraphQL-shaped JSON body and:
//   - Retry-After header with the recommended wait time in seconds
//   - X-RateLimit-Remaining header with the approximate remaining requests
func RateLimitMiddleware(limiter *RateLimiter, keyOf KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, authenticated := keyOf(r)
			if key == "" {
				key = limiter.ClientIP(r)
				authenticated = false
			}

			rateLimiter := limiter.GetLimiter(key, authenticated)
			if !rateLimiter.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"errors":[{"message":"Too many requests","extensions":{"code":"RATE_LIMITED"}}]}`))
				return
			}

			remaining := int(rateLimiter.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the caller address under the limiter's proxy setting.
func (rl *RateLimiter) ClientIP(r *http.Request) string {
	return ClientIP(r, rl.config.TrustForwardedFor)
}

// ClientIP returns the connection's remote host. With trustForwarded it
// prefers the first X-Forwarded-For hop.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
