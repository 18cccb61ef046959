package tenant

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SlugLookup maps a tenant slug to its identifier.
type SlugLookup interface {
	TenantIDBySlug(ctx context.Context, slug string) (uuid.UUID, error)
}

// Resolver attaches the calling tenant to each request. A header wins over the
// subdomain; references that are not UUIDs are slugs looked up through Lookup.
type Resolver struct {
	HeaderName    string
	RootDomain    string
	DefaultTenant string
	Lookup        SlugLookup
	Logger        zerolog.Logger
}

// NewResolver builds a Resolver. headerName defaults to X-Tenant-ID.
func NewResolver(headerName, rootDomain, defaultTenant string, lookup SlugLookup) *Resolver {
	if headerName == "" {
		headerName = "X-Tenant-ID"
	}
	return &Resolver{
		HeaderName:    headerName,
		RootDomain:    strings.ToLower(strings.TrimSpace(rootDomain)),
		DefaultTenant: strings.TrimSpace(defaultTenant),
		Lookup:        lookup,
		Logger:        zerolog.Nop(),
	}
}

// Middleware stores the resolved tenant id in the request context, falling
// back to DefaultTenant. An unknown slug leaves the request without a tenant
// so RequireTenant can reject it.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw := r.Resolve(req)
		if raw == "" {
			raw = r.DefaultTenant
		}
		if raw != "" {
			if id, ok := r.canonical(req.Context(), raw); ok {
				req = req.WithContext(With(req.Context(), id))
			}
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Resolver) canonical(ctx context.Context, raw string) (string, bool) {
	if id, err := uuid.Parse(raw); err == nil {
		return id.String(), true
	}
	if r.Lookup == nil {
		return "", false
	}
	id, err := r.Lookup.TenantIDBySlug(ctx, strings.ToLower(raw))
	if err != nil {
		r.Logger.Debug().Err(err).Str("tenant_slug", raw).Msg("tenant lookup failed")
		return "", false
	}
	return id.String(), true
}

// Resolve returns the raw tenant reference carried by req: the configured
// header when present, else the left-most label of a host under RootDomain.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if v := strings.TrimSpace(req.Header.Get(r.HeaderName)); v != "" {
		return v
	}
	if r.RootDomain == "" {
		return ""
	}
	host := strings.ToLower(hostOnly(req.Host))
	sub, ok := strings.CutSuffix(host, "."+r.RootDomain)
	if !ok || sub == "" {
		return ""
	}
	label, _, _ := strings.Cut(sub, ".")
	return label
}

func hostOnly(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		hostport = h
	}
	return strings.Trim(hostport, "[]")
}
