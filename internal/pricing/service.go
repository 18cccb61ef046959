package pricing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/emirsalihagic/miniERP-sub001/internal/cache"
	"github.com/emirsalihagic/miniERP-sub001/internal/common"
	"github.com/emirsalihagic/miniERP-sub001/internal/events"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

// RuleTx is the transactional view of the rule store.
type RuleTx interface {
	// LockScope serialises writers of one scope and returns its rules.
	LockScope(ctx context.Context, productID uuid.UUID, clientID, supplierID *uuid.UUID) ([]Rule, error)
	HasBaseRule(ctx context.Context, productID uuid.UUID) (bool, error)
	InsertRule(ctx context.Context, rule Rule) (Rule, error)
	CloseRule(ctx context.Context, id uuid.UUID, at time.Time) error
	GetRule(ctx context.Context, id uuid.UUID, forUpdate bool) (Rule, error)
}

// RuleStore persists price rules.
type RuleStore interface {
	RuleSource
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx RuleTx) error) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// NewRule is the input of CreateRule.
type NewRule struct {
	ProductID       uuid.UUID
	ClientID        *uuid.UUID
	SupplierID      *uuid.UUID
	Price           decimal.Decimal
	Currency        string
	TaxRatePercent  *decimal.Decimal
	DiscountPercent *decimal.Decimal
	EffectiveFrom   time.Time
	EffectiveTo     *time.Time
}

// Service administers price rules. Rules are append-only: superseding a
// price inserts a new rule and closes the open one of the same scope.
type Service struct {
	Store  RuleStore
	Cache  *cache.Cache
	Events Emitter
	Now    func() time.Time
	Logger zerolog.Logger
}

// CreateRule validates and inserts a rule, closing the scope's open rule.
func (s *Service) CreateRule(ctx context.Context, in NewRule) (Rule, error) {
	if s == nil || s.Store == nil {
		return Rule{}, errors.New("pricing service not configured")
	}
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return Rule{}, err
	}
	now := s.now()
	rule := Rule{
		ID:              uuid.New(),
		TenantID:        tenantID,
		ProductID:       in.ProductID,
		ClientID:        in.ClientID,
		SupplierID:      in.SupplierID,
		Price:           in.Price,
		Currency:        in.Currency,
		TaxRatePercent:  in.TaxRatePercent,
		DiscountPercent: in.DiscountPercent,
		EffectiveFrom:   in.EffectiveFrom,
		EffectiveTo:     in.EffectiveTo,
		CreatedAt:       now,
	}
	if rule.EffectiveFrom.IsZero() {
		rule.EffectiveFrom = now
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}

	var created Rule
	err = s.Store.WithinTx(ctx, func(ctx context.Context, tx RuleTx) error {
		if !rule.IsBase() {
			ok, err := tx.HasBaseRule(ctx, rule.ProductID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrBaseRuleMissing
			}
		}
		existing, err := tx.LockScope(ctx, rule.ProductID, rule.ClientID, rule.SupplierID)
		if err != nil {
			return err
		}
		for _, ex := range existing {
			if !ex.EffectiveFrom.Before(rule.EffectiveFrom) {
				return common.WithDetails(ErrRuleOverlap, map[string]string{
					"conflictingRuleId": ex.ID.String(),
					"effectiveFrom":     ex.EffectiveFrom.Format(time.RFC3339),
				})
			}
		}
		for _, ex := range existing {
			if ex.OpenAt(rule.EffectiveFrom) {
				if err := tx.CloseRule(ctx, ex.ID, rule.EffectiveFrom); err != nil {
					return err
				}
			}
		}
		created, err = tx.InsertRule(ctx, rule)
		return err
	})
	if err != nil {
		return Rule{}, err
	}
	s.afterWrite(ctx, created, events.TopicPriceRuleCreated)
	return created, nil
}

// CloseRule ends an open rule at the given instant. A zero instant means now.
func (s *Service) CloseRule(ctx context.Context, id uuid.UUID, at time.Time) (Rule, error) {
	if s == nil || s.Store == nil {
		return Rule{}, errors.New("pricing service not configured")
	}
	if at.IsZero() {
		at = s.now()
	}
	var closed Rule
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx RuleTx) error {
		rule, err := tx.GetRule(ctx, id, true)
		if err != nil {
			return err
		}
		if !at.After(rule.EffectiveFrom) {
			return common.WithDetails(ErrInvalidRule, map[string]string{"effectiveTo": "must be after effectiveFrom"})
		}
		if !rule.OpenAt(at) {
			return common.WithDetails(ErrInvalidRule, map[string]string{"effectiveTo": "rule already closed"})
		}
		if err := tx.CloseRule(ctx, id, at); err != nil {
			return err
		}
		rule.EffectiveTo = &at
		closed = rule
		return nil
	})
	if err != nil {
		return Rule{}, err
	}
	s.afterWrite(ctx, closed, events.TopicPriceRuleClosed)
	return closed, nil
}

// ListRules returns a product's rules, newest first.
func (s *Service) ListRules(ctx context.Context, productID uuid.UUID) ([]Rule, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("pricing service not configured")
	}
	rules, err := s.Store.RulesForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out, nil
}

func (s *Service) afterWrite(ctx context.Context, rule Rule, topic string) {
	if err := s.Cache.Delete(ctx, cache.KeyPriceRules(ctx, rule.ProductID)); err != nil {
		s.Logger.Warn().Err(err).Str("product_id", rule.ProductID.String()).Msg("price rule cache invalidation failed")
	}
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, rule.ID, rule); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Str("rule_id", rule.ID.String()).Msg("emit price rule event")
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
