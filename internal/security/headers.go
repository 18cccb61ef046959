package security

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIHeaders sets the response headers of a JSON-only API. HSTS is sent when
// the request arrived over TLS, directly or behind a proxy that reports it in
// X-Forwarded-Proto. A zero hsts disables it.
func APIHeaders(hsts time.Duration) func(http.Handler) http.Handler {
	var sts string
	if hsts > 0 {
		sts = "max-age=" + strconv.FormatInt(int64(hsts/time.Second), 10)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")
			if sts != "" && overTLS(r) {
				h.Set("Strict-Transport-Security", sts)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func overTLS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
