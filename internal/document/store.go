package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/emirsalihagic/miniERP-sub001/internal/db"
	"github.com/emirsalihagic/miniERP-sub001/internal/pricing"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

// PgStore persists documents and line items in PostgreSQL.
type PgStore struct {
	docQueries
	Pool *pgxpool.Pool
}

// NewPgStore returns a Store over pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{docQueries: docQueries{db: pool}, Pool: pool}
}

// InTx implements Store.
func (s *PgStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return db.InTx(ctx, s.Pool, func(tx pgx.Tx) error {
		return fn(docQueries{db: tx})
	})
}

type docQueries struct {
	db db.DBTX
}

const documentColumns = `id, tenant_id, kind, number, client_id, status, currency, discount_percent,
	subtotal, tax_total, discount_total, grand_total, linked_document_id, version, created_at, updated_at`

const lineColumns = `id, document_id, position, product_id, price_rule_id, sku, product_name,
	quantity, unit_price, tax_rate_percent, discount_percent,
	line_subtotal, line_discount, line_tax, line_total, created_at, updated_at`

func (q docQueries) Savepoint(ctx context.Context, fn func(q Queries) error) error {
	b, ok := q.db.(db.Beginner)
	if !ok {
		return errors.New("document: connection cannot open a savepoint")
	}
	return db.InTx(ctx, b, func(tx pgx.Tx) error {
		return fn(docQueries{db: tx})
	})
}

func (q docQueries) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	return q.getDocument(ctx, id, false)
}

func (q docQueries) LockDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	return q.getDocument(ctx, id, true)
}

func (q docQueries) getDocument(ctx context.Context, id uuid.UUID, forUpdate bool) (Document, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return Document{}, err
	}
	sql := `SELECT ` + documentColumns + ` FROM documents WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.db.QueryRow(ctx, sql, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (q docQueries) ListDocuments(ctx context.Context, f ListFilter) ([]Document, int, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return nil, 0, err
	}
	var status pgtype.Text
	if f.Status != nil {
		status = pgtype.Text{String: string(*f.Status), Valid: true}
	}
	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents
		WHERE tenant_id = $1 AND kind = $2 AND ($3::text IS NULL OR status = $3)`,
		tenantID, string(f.Kind), status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.db.Query(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE tenant_id = $1 AND kind = $2 AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`, tenantID, string(f.Kind), status, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	docs := make([]Document, 0, f.Limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

func (q docQueries) ListLines(ctx context.Context, documentID uuid.UUID) ([]LineItem, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx, `SELECT `+lineColumns+` FROM line_items
		WHERE tenant_id = $1 AND document_id = $2 ORDER BY position`, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	defer rows.Close()
	var lines []LineItem
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (q docQueries) InsertDocument(ctx context.Context, d Document) (Document, error) {
	const attempts = 3
	for i := 0; ; i++ {
		row := q.db.QueryRow(ctx, `INSERT INTO documents
			(id, tenant_id, kind, number, client_id, status, currency, discount_percent,
			 subtotal, tax_total, discount_total, grand_total, linked_document_id, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING `+documentColumns,
			d.ID, d.TenantID, string(d.Kind), d.Number, db.UUID(d.ClientID), string(d.Status), d.Currency,
			db.Numeric(d.DiscountPercent), db.Numeric(d.Subtotal), db.Numeric(d.TaxTotal),
			db.Numeric(d.DiscountTotal), db.Numeric(d.GrandTotal), db.UUID(d.LinkedDocumentID),
			d.Version, d.CreatedAt, d.UpdatedAt)
		out, err := scanDocument(row)
		if err == nil {
			return out, nil
		}
		// number collision: draw a new suffix
		if db.IsPgError(err, db.CodeUniqueViolation) && i+1 < attempts {
			d.Number = newNumber(d.Kind, d.CreatedAt)
			continue
		}
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
}

func (q docQueries) InsertLine(ctx context.Context, l LineItem) (LineItem, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return LineItem{}, err
	}
	row := q.db.QueryRow(ctx, `INSERT INTO line_items
		(id, document_id, tenant_id, position, product_id, price_rule_id, sku, product_name,
		 quantity, unit_price, tax_rate_percent, discount_percent,
		 line_subtotal, line_discount, line_tax, line_total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING `+lineColumns,
		l.ID, l.DocumentID, tenantID, l.Position, l.ProductID, db.UUID(l.PriceRuleID), l.SKU, l.ProductName,
		db.Numeric(l.Quantity), db.Numeric(l.UnitPrice), db.Numeric(l.TaxRatePercent), db.Numeric(l.DiscountPercent),
		db.Numeric(l.Subtotal), db.Numeric(l.Discount), db.Numeric(l.Tax), db.Numeric(l.Total),
		l.CreatedAt, l.UpdatedAt)
	out, err := scanLine(row)
	if err != nil {
		return LineItem{}, fmt.Errorf("insert line: %w", err)
	}
	return out, nil
}

func (q docQueries) UpdateLine(ctx context.Context, l LineItem) (LineItem, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return LineItem{}, err
	}
	row := q.db.QueryRow(ctx, `UPDATE line_items SET
		quantity = $4, line_subtotal = $5, line_discount = $6, line_tax = $7, line_total = $8, updated_at = $9
		WHERE tenant_id = $1 AND document_id = $2 AND id = $3
		RETURNING `+lineColumns,
		tenantID, l.DocumentID, l.ID, db.Numeric(l.Quantity),
		db.Numeric(l.Subtotal), db.Numeric(l.Discount), db.Numeric(l.Tax), db.Numeric(l.Total), l.UpdatedAt)
	out, err := scanLine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LineItem{}, ErrLineNotFound
		}
		return LineItem{}, fmt.Errorf("update line: %w", err)
	}
	return out, nil
}

func (q docQueries) DeleteLine(ctx context.Context, documentID, lineID uuid.UUID) error {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx, `DELETE FROM line_items WHERE tenant_id = $1 AND document_id = $2 AND id = $3`,
		tenantID, documentID, lineID)
	if err != nil {
		return fmt.Errorf("delete line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (q docQueries) NextPosition(ctx context.Context, documentID uuid.UUID) (int, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return 0, err
	}
	var next int
	err = q.db.QueryRow(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM line_items
		WHERE tenant_id = $1 AND document_id = $2`, tenantID, documentID).Scan(&next)
	return next, err
}

func (q docQueries) WriteTotals(ctx context.Context, id uuid.UUID, t pricing.Totals, version int64) error {
	return q.exec(ctx, `UPDATE documents SET
		subtotal = $3, tax_total = $4, discount_total = $5, grand_total = $6, version = $7, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		id, db.Numeric(t.Subtotal), db.Numeric(t.TaxTotal), db.Numeric(t.DiscountTotal), db.Numeric(t.GrandTotal), version)
}

func (q docQueries) SetDiscount(ctx context.Context, id uuid.UUID, percent decimal.Decimal) error {
	return q.exec(ctx, `UPDATE documents SET discount_percent = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`, id, db.Numeric(percent))
}

func (q docQueries) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return q.exec(ctx, `UPDATE documents SET status = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`, id, string(status))
}

func (q docQueries) SetLink(ctx context.Context, id, linked uuid.UUID) error {
	return q.exec(ctx, `UPDATE documents SET linked_document_id = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`, id, linked)
}

func (q docQueries) MarkSyncPending(ctx context.Context, sourceID uuid.UUID, version int64, reason string) error {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `INSERT INTO document_sync_outbox (source_id, tenant_id, version, last_error)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id) DO UPDATE SET
			version = GREATEST(document_sync_outbox.version, EXCLUDED.version),
			last_error = EXCLUDED.last_error`, sourceID, tenantID, version, reason)
	if err != nil {
		return fmt.Errorf("mark sync pending: %w", err)
	}
	return nil
}

func (q docQueries) ClearSyncPending(ctx context.Context, sourceID uuid.UUID, version int64) error {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `DELETE FROM document_sync_outbox
		WHERE tenant_id = $1 AND source_id = $2 AND version <= $3`, tenantID, sourceID, version)
	if err != nil {
		return fmt.Errorf("clear sync pending: %w", err)
	}
	return nil
}

// PendingSyncs lists outbox rows of every tenant recorded at or before
// before, oldest first.
func (s *PgStore) PendingSyncs(ctx context.Context, before time.Time, limit int) ([]SyncPayload, error) {
	rows, err := s.Pool.Query(ctx, `SELECT tenant_id, source_id, version FROM document_sync_outbox
		WHERE created_at <= $1 ORDER BY created_at LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending syncs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SyncPayload, error) {
		var p SyncPayload
		err := row.Scan(&p.TenantID, &p.SourceID, &p.Version)
		return p, err
	})
}

// exec runs a tenant-scoped single-row update. $1 and $2 are tenant and id.
func (q docQueries) exec(ctx context.Context, sql string, id uuid.UUID, args ...any) error {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx, sql, append([]any{tenantID, id}, args...)...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var (
		d                               Document
		kind, status                    string
		clientID, linkedID              pgtype.UUID
		discount, sub, tax, disc, grand pgtype.Numeric
	)
	if err := row.Scan(&d.ID, &d.TenantID, &kind, &d.Number, &clientID, &status, &d.Currency, &discount,
		&sub, &tax, &disc, &grand, &linkedID, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Document{}, err
	}
	d.Kind = Kind(kind)
	d.Status = Status(status)
	d.ClientID = db.UUIDPtr(clientID)
	d.LinkedDocumentID = db.UUIDPtr(linkedID)
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src pgtype.Numeric
	}{
		{&d.DiscountPercent, discount},
		{&d.Subtotal, sub},
		{&d.TaxTotal, tax},
		{&d.DiscountTotal, disc},
		{&d.GrandTotal, grand},
	} {
		if *f.dst, err = db.Decimal(f.src); err != nil {
			return Document{}, err
		}
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

func scanLine(row pgx.Row) (LineItem, error) {
	var (
		l                              LineItem
		ruleID                         pgtype.UUID
		qty, price, taxRate, discRate  pgtype.Numeric
		subtotal, discount, tax, total pgtype.Numeric
	)
	if err := row.Scan(&l.ID, &l.DocumentID, &l.Position, &l.ProductID, &ruleID, &l.SKU, &l.ProductName,
		&qty, &price, &taxRate, &discRate, &subtotal, &discount, &tax, &total, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return LineItem{}, err
	}
	l.PriceRuleID = db.UUIDPtr(ruleID)
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src pgtype.Numeric
	}{
		{&l.Quantity, qty},
		{&l.UnitPrice, price},
		{&l.TaxRatePercent, taxRate},
		{&l.DiscountPercent, discRate},
		{&l.Subtotal, subtotal},
		{&l.Discount, discount},
		{&l.Tax, tax},
		{&l.Total, total},
	} {
		if *f.dst, err = db.Decimal(f.src); err != nil {
			return LineItem{}, err
		}
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}
