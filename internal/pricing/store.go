package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
	"github.com/emirsalihagic/miniERP-sub001/internal/db"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

// PgStore reads and writes price_rules. Every query is scoped to the tenant
// carried by the context.
type PgStore struct {
	Pool *pgxpool.Pool
}

const ruleColumns = `id, tenant_id, product_id, client_id, supplier_id, price, currency,
	tax_rate_percent, discount_percent, effective_from, effective_to, created_at`

// RulesForProduct implements RuleSource.
func (s PgStore) RulesForProduct(ctx context.Context, productID uuid.UUID) ([]Rule, error) {
	return ruleQueries{db: s.Pool}.rulesForProduct(ctx, productID)
}

// WithinTx implements RuleStore.
func (s PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx RuleTx) error) error {
	return db.InTx(ctx, s.Pool, func(tx pgx.Tx) error {
		return fn(ctx, ruleQueries{db: tx})
	})
}

type ruleQueries struct {
	db db.DBTX
}

func (q ruleQueries) rulesForProduct(ctx context.Context, productID uuid.UUID) ([]Rule, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx, `SELECT `+ruleColumns+` FROM price_rules
		WHERE tenant_id = $1 AND product_id = $2
		ORDER BY effective_from DESC, created_at DESC`, tenantID, productID)
	if err != nil {
		return nil, fmt.Errorf("query price rules: %w", err)
	}
	return collectRules(rows)
}

func (q ruleQueries) LockScope(ctx context.Context, productID uuid.UUID, clientID, supplierID *uuid.UUID) ([]Rule, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return nil, err
	}
	key := tenantID.String() + ":" + ScopeKey(productID, clientID, supplierID)
	if _, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return nil, fmt.Errorf("lock rule scope: %w", err)
	}
	rows, err := q.db.Query(ctx, `SELECT `+ruleColumns+` FROM price_rules
		WHERE tenant_id = $1 AND product_id = $2
		  AND client_id IS NOT DISTINCT FROM $3
		  AND supplier_id IS NOT DISTINCT FROM $4
		ORDER BY effective_from DESC
		FOR UPDATE`, tenantID, productID, db.UUID(clientID), db.UUID(supplierID))
	if err != nil {
		return nil, fmt.Errorf("select rule scope: %w", err)
	}
	return collectRules(rows)
}

func (q ruleQueries) HasBaseRule(ctx context.Context, productID uuid.UUID) (bool, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = q.db.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM price_rules
		WHERE tenant_id = $1 AND product_id = $2 AND client_id IS NULL AND supplier_id IS NULL)`,
		tenantID, productID).Scan(&exists)
	return exists, err
}

func (q ruleQueries) InsertRule(ctx context.Context, r Rule) (Rule, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO price_rules
		(id, tenant_id, product_id, client_id, supplier_id, price, currency,
		 tax_rate_percent, discount_percent, effective_from, effective_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+ruleColumns,
		r.ID, r.TenantID, r.ProductID, db.UUID(r.ClientID), db.UUID(r.SupplierID),
		db.Numeric(r.Price), r.Currency, db.NullableNumeric(r.TaxRatePercent), db.NullableNumeric(r.DiscountPercent),
		r.EffectiveFrom, db.Timestamptz(r.EffectiveTo), r.CreatedAt)
	out, err := scanRule(row)
	if err != nil {
		if db.IsPgError(err, db.CodeForeignKeyViolation) {
			return Rule{}, common.WithDetails(ErrInvalidRule, map[string]string{"productId": "unknown product"})
		}
		if db.IsPgError(err, db.CodeCheckViolation) {
			return Rule{}, common.WithDetails(ErrInvalidRule, map[string]string{"rule": "violates a constraint"})
		}
		return Rule{}, fmt.Errorf("insert price rule: %w", err)
	}
	return out, nil
}

func (q ruleQueries) CloseRule(ctx context.Context, id uuid.UUID, at time.Time) error {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx, `UPDATE price_rules SET effective_to = $3
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, at)
	if err != nil {
		return fmt.Errorf("close price rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (q ruleQueries) GetRule(ctx context.Context, id uuid.UUID, forUpdate bool) (Rule, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return Rule{}, err
	}
	sql := `SELECT ` + ruleColumns + ` FROM price_rules WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	r, err := scanRule(q.db.QueryRow(ctx, sql, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrRuleNotFound
		}
		return Rule{}, err
	}
	return r, nil
}

func collectRules(rows pgx.Rows) ([]Rule, error) {
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRule(row pgx.Row) (Rule, error) {
	var (
		r                  Rule
		clientID, supplier pgtype.UUID
		price, tax, disc   pgtype.Numeric
		effectiveTo        pgtype.Timestamptz
	)
	if err := row.Scan(&r.ID, &r.TenantID, &r.ProductID, &clientID, &supplier, &price, &r.Currency,
		&tax, &disc, &r.EffectiveFrom, &effectiveTo, &r.CreatedAt); err != nil {
		return Rule{}, err
	}
	var err error
	if r.Price, err = db.Decimal(price); err != nil {
		return Rule{}, err
	}
	if r.TaxRatePercent, err = db.OptionalDecimal(tax); err != nil {
		return Rule{}, err
	}
	if r.DiscountPercent, err = db.OptionalDecimal(disc); err != nil {
		return Rule{}, err
	}
	r.ClientID = db.UUIDPtr(clientID)
	r.SupplierID = db.UUIDPtr(supplier)
	r.EffectiveTo = db.TimePtr(effectiveTo)
	r.EffectiveFrom = r.EffectiveFrom.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}
