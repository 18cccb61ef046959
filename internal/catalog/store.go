package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

// PgQueries reads the products table for the tenant in context.
type PgQueries struct {
	Pool *pgxpool.Pool
}

// GetProduct loads one product.
func (q PgQueries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return Product{}, err
	}
	var p Product
	err = q.Pool.QueryRow(ctx, `SELECT id, sku, name FROM products WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&p.ID, &p.SKU, &p.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// ListProducts returns a page of products and the total count.
func (q PgQueries) ListProducts(ctx context.Context, limit, offset int) ([]Product, int, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := q.Pool.QueryRow(ctx, `SELECT count(*) FROM products WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Pool.Query(ctx, `SELECT id, sku, name FROM products WHERE tenant_id = $1
		ORDER BY sku LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Product, error) {
		var p Product
		err := row.Scan(&p.ID, &p.SKU, &p.Name)
		return p, err
	})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
