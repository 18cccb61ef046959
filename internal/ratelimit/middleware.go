package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

// Config derives the bucket key and the budget per window.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces Config in front of the next handler. When Redis is
// unreachable requests are let through and the failure is logged on the
// request logger.
type Handler struct {
	Limiter Limiter
	Config  Config
}

// TenantKey buckets requests per tenant and client address, so one tenant's
// burst cannot starve another behind the same proxy.
func TenantKey(r *http.Request) string {
	tenantID, ok := tenant.From(r.Context())
	if !ok || tenantID == "" {
		tenantID = "anonymous"
	}
	return tenant.PrefixKey(tenantID, "ip:"+common.ClientIP(r))
}

// Middleware implements chi middleware.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Config.Key == nil || h.Config.Max <= 0 {
		return next
	}
	limit := strconv.Itoa(h.Config.Max)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", limit)
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := max(int(time.Until(resetAt).Round(time.Second).Seconds()), 1)
		headers.Set("Retry-After", strconv.Itoa(retryAfter))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", map[string]any{"retryAfter": retryAfter})
	})
}
