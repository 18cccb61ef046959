package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/emirsalihagic/miniERP-sub001/internal/obs"
)

// RuleSource loads every rule of a product for the current tenant.
type RuleSource interface {
	RulesForProduct(ctx context.Context, productID uuid.UUID) ([]Rule, error)
}

// Query names what a price is resolved for.
type Query struct {
	ProductID  uuid.UUID
	ClientID   *uuid.UUID
	SupplierID *uuid.UUID
}

// Resolver picks the single applicable rule for a product. It never writes.
type Resolver struct {
	Rules RuleSource
	Now   func() time.Time
}

// NewResolver returns a resolver reading from src.
func NewResolver(src RuleSource) *Resolver {
	return &Resolver{Rules: src, Now: time.Now}
}

// Resolve returns the rule applying to productID for the optional client.
func (r *Resolver) Resolve(ctx context.Context, productID uuid.UUID, clientID *uuid.UUID) (Rule, error) {
	return r.ResolveQuery(ctx, Query{ProductID: productID, ClientID: clientID})
}

// ResolveQuery is Resolve with an optional supplier context.
func (r *Resolver) ResolveQuery(ctx context.Context, q Query) (Rule, error) {
	if r == nil || r.Rules == nil {
		return Rule{}, errors.New("pricing resolver not configured")
	}
	ctx, span := otel.Tracer("pricing").Start(ctx, "pricing.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", q.ProductID.String()))

	rules, err := r.Rules.RulesForProduct(ctx, q.ProductID)
	if err != nil {
		obs.ObservePriceResolution("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "load rules")
		return Rule{}, fmt.Errorf("pricing: load rules: %w", err)
	}
	rule, err := Select(rules, q, r.now())
	if err != nil {
		obs.ObservePriceResolution("not_found")
		return Rule{}, err
	}
	obs.ObservePriceResolution("hit")
	span.SetAttributes(attribute.String("price_rule.id", rule.ID.String()))
	return rule, nil
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Select applies the precedence rules to an in-memory rule set.
//
// With a client the client override beats the base rule and supplier rules
// are ignored. Without a client a named supplier's rule beats the base rule;
// with neither, the base rule beats any supplier-scoped rule. Within a level
// the latest effectiveFrom wins, then the latest createdAt, then the greatest id.
func Select(rules []Rule, q Query, now time.Time) (Rule, error) {
	for _, level := range levels(q) {
		var (
			best  Rule
			found bool
		)
		for _, rule := range rules {
			if rule.ProductID != q.ProductID || !rule.ActiveAt(now) || !level(rule) {
				continue
			}
			if !found || newer(rule, best) {
				best = rule
				found = true
			}
		}
		if found {
			return best.Clone(), nil
		}
	}
	return Rule{}, ErrPriceNotFound
}

type levelFunc func(Rule) bool

func levels(q Query) []levelFunc {
	base := func(r Rule) bool { return r.IsBase() }
	switch {
	case q.ClientID != nil:
		client := *q.ClientID
		return []levelFunc{
			func(r Rule) bool { return r.SupplierID == nil && r.ClientID != nil && *r.ClientID == client },
			base,
		}
	case q.SupplierID != nil:
		supplier := *q.SupplierID
		return []levelFunc{
			func(r Rule) bool { return r.ClientID == nil && r.SupplierID != nil && *r.SupplierID == supplier },
			base,
		}
	default:
		return []levelFunc{
			base,
			func(r Rule) bool { return r.ClientID == nil && r.SupplierID != nil },
		}
	}
}

func newer(a, b Rule) bool {
	if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
		return a.EffectiveFrom.After(b.EffectiveFrom)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}
