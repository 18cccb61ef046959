package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emirsalihagic/miniERP-sub001/internal/cache"
	"github.com/emirsalihagic/miniERP-sub001/internal/common"
)

// ErrProductNotFound is returned when a product id is unknown to the tenant.
var ErrProductNotFound = common.NewAppError("PRODUCT_NOT_FOUND", "product not found", http.StatusNotFound, nil)

// Product is the read-only summary copied into line snapshots.
type Product struct {
	ID   uuid.UUID `json:"id"`
	SKU  string    `json:"sku"`
	Name string    `json:"name"`
}

type queryProvider interface {
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]Product, int, error)
}

// Service serves product lookups, caching single products in Redis.
type Service struct {
	queries      queryProvider
	cache        *cache.Cache
	defaultLimit int
	logger       zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Queries      queryProvider
	Cache        *cache.Cache
	DefaultLimit int
	Logger       zerolog.Logger
}

// NewService validates the config and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("catalog: queries are required")
	}
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = 20
	}
	return &Service{queries: cfg.Queries, cache: cfg.Cache, defaultLimit: limit, logger: cfg.Logger}, nil
}

// Product returns one product, from cache when possible.
func (s *Service) Product(ctx context.Context, id uuid.UUID) (Product, error) {
	key := cache.KeyProduct(ctx, id)
	var cached Product
	if hit, err := s.cache.GetJSON(ctx, key, &cached); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("product cache read failed")
	} else if hit {
		return cached, nil
	}
	p, err := s.queries.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if err := s.cache.SetJSON(ctx, key, p); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("product cache write failed")
	}
	return p, nil
}

// List returns a page of products ordered by sku.
func (s *Service) List(ctx context.Context, page common.Pagination) ([]Product, common.Pagination, error) {
	if page.PerPage <= 0 {
		page.PerPage = s.defaultLimit
	}
	items, total, err := s.queries.ListProducts(ctx, page.PerPage, page.Offset())
	if err != nil {
		return nil, page, fmt.Errorf("catalog: list products: %w", err)
	}
	page.TotalItems = total
	return items, page, nil
}
