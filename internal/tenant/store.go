package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownTenant is returned when no tenant matches a slug.
var ErrUnknownTenant = errors.New("tenant: unknown slug")

// PgLookup resolves slugs against the tenants table.
type PgLookup struct {
	Pool *pgxpool.Pool
}

// TenantIDBySlug implements SlugLookup.
func (l PgLookup) TenantIDBySlug(ctx context.Context, slug string) (uuid.UUID, error) {
	if l.Pool == nil {
		return uuid.Nil, errors.New("tenant: pool not configured")
	}
	var id uuid.UUID
	err := l.Pool.QueryRow(ctx, `SELECT id FROM tenants WHERE slug = $1`, slug).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUnknownTenant
		}
		return uuid.Nil, fmt.Errorf("tenant: lookup %q: %w", slug, err)
	}
	return id, nil
}
