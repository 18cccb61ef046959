package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type ctxKey struct{}

var (
	// ErrTenantMissing means no tenant was resolved for the request.
	ErrTenantMissing = errors.New("tenant missing")
	// ErrTenantInvalid means the resolved tenant is not a UUID.
	ErrTenantInvalid = errors.New("tenant invalid")
)

// With returns a copy of ctx scoped to tenant id.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, strings.TrimSpace(id))
}

// From returns the tenant of ctx. Blank ids count as absent.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id, id != ""
}

// UUID returns the tenant of ctx as a UUID. Every tenant-scoped query goes
// through here.
func UUID(ctx context.Context) (uuid.UUID, error) {
	raw, ok := From(ctx)
	if !ok {
		return uuid.Nil, ErrTenantMissing
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrTenantInvalid, err)
	}
	return id, nil
}

// PrefixKey namespaces a Redis key by tenant.
func PrefixKey(tenantID, key string) string {
	if tenantID == "" {
		return key
	}
	return tenantID + ":" + key
}
