package api

import (
	"net/http"

	"github.com/kuitang/notedly/internal/auth"
	"github.com/kuitang/notedly/internal/obs"
	"github.com/kuitang/notedly/internal/ratelimit"
)

// RouterOptions configures the request pipeline around the routes.
type RouterOptions struct {
	// AllowOrigin is the CORS origin; empty allows any.
	AllowOrigin string
}

// NewRouter wraps the routes in the request pipeline: panic recovery,
// request ids, access logging, security headers and CORS, authentication,
// then rate limiting keyed by the authenticated user or the client address.
func NewRouter(h *Handler, users *auth.Service, limiter *ratelimit.RateLimiter, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var next http.Handler = mux
	if limiter != nil {
		next = ratelimit.RateLimitMiddleware(limiter, rateLimitKey(limiter))(next)
	}
	next = users.Middleware(next)
	next = cors(opts.AllowOrigin, next)
	next = securityHeaders(next)
	next = obs.AccessLogMiddleware("api", next)
	next = obs.RequestContextMiddleware(next)
	return obs.RecoverMiddleware("api", next)
}

func rateLimitKey(limiter *ratelimit.RateLimiter) ratelimit.KeyFunc {
	return func(r *http.Request) (string, bool) {
		if actor := auth.ActorFrom(r.Context()); actor != nil {
			return "user:" + actor.UserID, true
		}
		return "ip:" + limiter.ClientIP(r), false
	}
}
