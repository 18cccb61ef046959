package cache

import (
	"context"

	"github.com/google/uuid"

	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

// KeyPriceRules returns the per-tenant key holding every rule of a product.
func KeyPriceRules(ctx context.Context, productID uuid.UUID) string {
	id, _ := tenant.From(ctx)
	return tenant.PrefixKey(id, "price-rules:"+productID.String())
}

// KeyProduct returns the per-tenant key for a product summary.
func KeyProduct(ctx context.Context, productID uuid.UUID) string {
	id, _ := tenant.From(ctx)
	return tenant.PrefixKey(id, "product:"+productID.String())
}
