package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

// NewLogger builds the process logger. Format "console" (or "text") gives
// human readable output; anything else is JSON. Unknown levels fall back to info.
func NewLogger(format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// RequestLogger writes one access log line per request and hands a
// request-scoped logger to downstream code through zerolog.Ctx.
type RequestLogger struct {
	Logger zerolog.Logger
	// Quiet lists paths logged at debug level only, e.g. probes and scrapes.
	Quiet []string
}

// Middleware implements chi middleware.
func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		fields := l.Logger.With().Str("request_id", middleware.GetReqID(ctx))
		if tenantID, ok := tenant.From(ctx); ok {
			fields = fields.Str("tenant_id", tenantID)
		}
		if span := trace.SpanContextFromContext(ctx); span.IsValid() {
			fields = fields.Str("trace_id", span.TraceID().String()).Str("span_id", span.SpanID().String())
		}
		reqLogger := fields.Logger()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(reqLogger.WithContext(ctx)))

		status := statusOf(ww)
		route := routeOr(r, r.URL.Path)
		reqLogger.WithLevel(l.levelFor(r.URL.Path, status)).
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int("bytes", ww.BytesWritten()).
			Str("remote_addr", r.RemoteAddr).
			Msg("http_request")
	})
}

func (l RequestLogger) levelFor(path string, status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest && status != http.StatusNotFound:
		return zerolog.WarnLevel
	}
	for _, quiet := range l.Quiet {
		if path == quiet {
			return zerolog.DebugLevel
		}
	}
	return zerolog.InfoLevel
}
