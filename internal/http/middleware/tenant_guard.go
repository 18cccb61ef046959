package middleware

import (
	"errors"
	"net/http"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

var (
	// ErrTenantRequired is returned when no tenant could be resolved for a request.
	ErrTenantRequired = common.NewAppError("TENANT_REQUIRED", "tenant is required", http.StatusBadRequest, nil)
	// ErrTenantInvalid is returned when the resolved tenant is not a UUID.
	ErrTenantInvalid = common.NewAppError("TENANT_INVALID", "tenant must be a valid uuid", http.StatusBadRequest, nil)
)

// RequireTenant rejects requests whose context carries no usable tenant id.
// It must run after tenant.Resolver.Middleware.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := tenant.UUID(r.Context()); err != nil {
			if errors.Is(err, tenant.ErrTenantInvalid) {
				common.WriteError(w, ErrTenantInvalid)
				return
			}
			common.WriteError(w, ErrTenantRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}
