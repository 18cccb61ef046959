package pricing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emirsalihagic/miniERP-sub001/internal/cache"
)

// CachedSource serves product rule sets from Redis, falling back to Source.
// Cache failures are logged and never fail the lookup.
type CachedSource struct {
	Source RuleSource
	Cache  *cache.Cache
	Logger zerolog.Logger
}

// RulesForProduct implements RuleSource.
func (c CachedSource) RulesForProduct(ctx context.Context, productID uuid.UUID) ([]Rule, error) {
	key := cache.KeyPriceRules(ctx, productID)
	var cached []Rule
	hit, err := c.Cache.GetJSON(ctx, key, &cached)
	if err != nil {
		c.Logger.Warn().Err(err).Str("key", key).Msg("price rule cache read failed")
	}
	if hit {
		return cached, nil
	}
	rules, err := c.Source.RulesForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := c.Cache.SetJSON(ctx, key, rules); err != nil {
		c.Logger.Warn().Err(err).Str("key", key).Msg("price rule cache write failed")
	}
	return rules, nil
}
