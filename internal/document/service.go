package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emirsalihagic/miniERP-sub001/internal/catalog"
	"github.com/emirsalihagic/miniERP-sub001/internal/common"
	"github.com/emirsalihagic/miniERP-sub001/internal/events"
	"github.com/emirsalihagic/miniERP-sub001/internal/money"
	"github.com/emirsalihagic/miniERP-sub001/internal/obs"
	"github.com/emirsalihagic/miniERP-sub001/internal/pricing"
	"github.com/emirsalihagic/miniERP-sub001/internal/queue"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

// Queries is the persistence surface of the service. Every method is scoped
// to the tenant carried by ctx.
type Queries interface {
	GetDocument(ctx context.Context, id uuid.UUID) (Document, error)
	// LockDocument reads the document row FOR UPDATE.
	LockDocument(ctx context.Context, id uuid.UUID) (Document, error)
	ListDocuments(ctx context.Context, f ListFilter) ([]Document, int, error)
	ListLines(ctx context.Context, documentID uuid.UUID) ([]LineItem, error)
	InsertDocument(ctx context.Context, d Document) (Document, error)
	InsertLine(ctx context.Context, l LineItem) (LineItem, error)
	UpdateLine(ctx context.Context, l LineItem) (LineItem, error)
	DeleteLine(ctx context.Context, documentID, lineID uuid.UUID) error
	NextPosition(ctx context.Context, documentID uuid.UUID) (int, error)
	WriteTotals(ctx context.Context, id uuid.UUID, t pricing.Totals, version int64) error
	SetDiscount(ctx context.Context, id uuid.UUID, percent decimal.Decimal) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	SetLink(ctx context.Context, id, linked uuid.UUID) error
	// MarkSyncPending records a failed mirror in the outbox in the caller's
	// transaction. ClearSyncPending drops rows up to version.
	MarkSyncPending(ctx context.Context, sourceID uuid.UUID, version int64, reason string) error
	ClearSyncPending(ctx context.Context, sourceID uuid.UUID, version int64) error
	// Savepoint runs fn in a nested transaction. A failure rolls back only
	// the nested work.
	Savepoint(ctx context.Context, fn func(q Queries) error) error
}

// Store opens transactions over Queries.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
	// PendingSyncs is the only read that crosses tenants.
	PendingSyncs(ctx context.Context, before time.Time, limit int) ([]SyncPayload, error)
}

// PriceResolver resolves the rule applying to a product and client.
type PriceResolver interface {
	Resolve(ctx context.Context, productID uuid.UUID, clientID *uuid.UUID) (pricing.Rule, error)
}

// ProductLookup returns the sku and name copied into line snapshots.
type ProductLookup interface {
	Product(ctx context.Context, id uuid.UUID) (catalog.Product, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// TaskEnqueuer schedules sync retries.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Locker serialises sync retries per source document.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Breaker guards the sync retry path.
type Breaker interface {
	Execute(ctx context.Context, fn func(context.Context) error) error
}

// Service owns document lifecycle and keeps aggregates and linked
// counterparts consistent with the lines.
type Service struct {
	Store    Store
	Resolver PriceResolver
	Products ProductLookup
	Events   Emitter
	Queue    TaskEnqueuer
	Locker   Locker
	Breaker  Breaker
	LockTTL  time.Duration
	Now      func() time.Time
	Logger   zerolog.Logger
}

// outcome collects what has to happen once a transaction committed.
type outcome struct {
	doc           Document
	totalsChanged bool
	created       bool
	syncErr       *SyncError
	extra         []pendingEvent
}

type pendingEvent struct {
	topic     string
	aggregate uuid.UUID
	payload   any
}

// Create inserts a document in its initial state with zero totals.
func (s *Service) Create(ctx context.Context, in NewDocument) (Document, error) {
	if err := s.ready(); err != nil {
		return Document{}, err
	}
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return Document{}, err
	}
	problems := map[string]string{}
	if in.Kind != KindOrder && in.Kind != KindInvoice {
		problems["kind"] = "must be order or invoice"
	}
	if !validCurrency(in.Currency) {
		problems["currency"] = "must be a 3-letter uppercase code"
	}
	if len(problems) > 0 {
		return Document{}, common.WithDetails(ErrInvalidDocument, problems)
	}
	if err := money.ValidatePercent(in.DiscountPercent); err != nil {
		return Document{}, common.WithDetails(ErrInvalidPercent, map[string]string{"discountPercent": in.DiscountPercent.String()})
	}
	now := s.now()
	doc := Document{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Kind:            in.Kind,
		Number:          newNumber(in.Kind, now),
		ClientID:        in.ClientID,
		Status:          InitialStatus(in.Kind),
		Currency:        in.Currency,
		DiscountPercent: in.DiscountPercent,
		Subtotal:        money.Zero,
		TaxTotal:        money.Zero,
		DiscountTotal:   money.Zero,
		GrandTotal:      money.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, err := s.Store.InsertDocument(ctx, doc)
	if err != nil {
		return Document{}, err
	}
	s.afterCommit(ctx, outcome{doc: created, created: true})
	return created, nil
}

// Get returns a document with its lines ordered by position.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	if err := s.ready(); err != nil {
		return Document{}, err
	}
	return loadFull(ctx, s.Store, id)
}

// Kind reports whether id is an order or an invoice.
func (s *Service) Kind(ctx context.Context, id uuid.UUID) (Kind, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	doc, err := s.Store.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.Kind, nil
}

// List returns one page of documents of a kind, newest first.
func (s *Service) List(ctx context.Context, kind Kind, status *Status, page common.Pagination) ([]Document, common.Pagination, error) {
	if err := s.ready(); err != nil {
		return nil, page, err
	}
	if page.PerPage <= 0 {
		page.PerPage = 20
	}
	docs, total, err := s.Store.ListDocuments(ctx, ListFilter{Kind: kind, Status: status, Limit: page.PerPage, Offset: page.Offset()})
	if err != nil {
		return nil, page, fmt.Errorf("document: list: %w", err)
	}
	page.TotalItems = total
	return docs, page, nil
}

// AddLine resolves the price for the document's client, snapshots it into a
// new line and recomputes the document.
func (s *Service) AddLine(ctx context.Context, docID, productID uuid.UUID, quantity decimal.Decimal) (LineItem, error) {
	if err := pricing.ValidateQuantity(quantity); err != nil {
		return LineItem{}, err
	}
	if s != nil && s.Resolver == nil {
		return LineItem{}, errors.New("document service: price resolver not configured")
	}
	var added LineItem
	_, err := s.mutate(ctx, docID, "add_line", func(ctx context.Context, q Queries, doc *Document) error {
		rule, err := s.Resolver.Resolve(ctx, productID, doc.ClientID)
		if err != nil {
			return err
		}
		if rule.Currency != doc.Currency {
			return common.WithDetails(ErrCurrencyMismatch, map[string]string{"document": doc.Currency, "price": rule.Currency})
		}
		line, err := pricing.ComputeLine(rule, quantity)
		if err != nil {
			return err
		}
		product, err := s.product(ctx, productID)
		if err != nil {
			return err
		}
		position, err := q.NextPosition(ctx, doc.ID)
		if err != nil {
			return err
		}
		now := s.now()
		ruleID := rule.ID
		added, err = q.InsertLine(ctx, LineItem{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			Position:    position,
			ProductID:   productID,
			PriceRuleID: &ruleID,
			SKU:         product.SKU,
			ProductName: product.Name,
			Line:        line,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		return err
	})
	if err != nil {
		return LineItem{}, err
	}
	return added, nil
}

// UpdateLineQuantity recomputes a line from its own snapshot for a new
// quantity. The price is not re-resolved.
func (s *Service) UpdateLineQuantity(ctx context.Context, docID, lineID uuid.UUID, quantity decimal.Decimal) (LineItem, error) {
	if err := pricing.ValidateQuantity(quantity); err != nil {
		return LineItem{}, err
	}
	var updated LineItem
	_, err := s.mutate(ctx, docID, "update_line", func(ctx context.Context, q Queries, doc *Document) error {
		line, err := findLine(ctx, q, doc.ID, lineID)
		if err != nil {
			return err
		}
		snapshot, err := line.Requantify(quantity)
		if err != nil {
			return err
		}
		line.Line = snapshot
		line.UpdatedAt = s.now()
		updated, err = q.UpdateLine(ctx, line)
		return err
	})
	if err != nil {
		return LineItem{}, err
	}
	return updated, nil
}

// RemoveLine deletes a line and recomputes the document.
func (s *Service) RemoveLine(ctx context.Context, docID, lineID uuid.UUID) (Document, error) {
	return s.mutate(ctx, docID, "remove_line", func(ctx context.Context, q Queries, doc *Document) error {
		return q.DeleteLine(ctx, doc.ID, lineID)
	})
}

// SetDiscount changes the document-level discount percent.
func (s *Service) SetDiscount(ctx context.Context, docID uuid.UUID, percent decimal.Decimal) (Document, error) {
	if err := money.ValidatePercent(percent); err != nil {
		return Document{}, common.WithDetails(ErrInvalidPercent, map[string]string{"discountPercent": percent.String()})
	}
	return s.mutate(ctx, docID, "set_discount", func(ctx context.Context, q Queries, doc *Document) error {
		if doc.DiscountPercent.Equal(percent) {
			return nil
		}
		doc.DiscountPercent = percent
		return q.SetDiscount(ctx, doc.ID, percent)
	})
}

// Recompute rebuilds the aggregates from the lines and re-runs the sync. It
// writes nothing when the cached totals are already correct and works in any
// status. An order that has been invoiced is refreshed from its invoice.
func (s *Service) Recompute(ctx context.Context, docID uuid.UUID) (Document, error) {
	if err := s.ready(); err != nil {
		return Document{}, err
	}
	var out outcome
	err := s.Store.InTx(ctx, func(q Queries) error {
		doc, err := q.LockDocument(ctx, docID)
		if err != nil {
			return err
		}
		out, err = s.recompute(ctx, q, doc, "recompute")
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.afterCommit(ctx, out)
	return out.doc, nil
}

// Transition moves a document along its lifecycle.
func (s *Service) Transition(ctx context.Context, docID uuid.UUID, to Status) (Document, error) {
	if err := s.ready(); err != nil {
		return Document{}, err
	}
	var out outcome
	err := s.Store.InTx(ctx, func(q Queries) error {
		doc, err := q.LockDocument(ctx, docID)
		if err != nil {
			return err
		}
		if err := CheckTransition(doc.Kind, doc.Status, to); err != nil {
			return err
		}
		if doc.Mutable() && to != StatusVoid {
			lines, err := q.ListLines(ctx, doc.ID)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return ErrEmptyDocument
			}
		}
		if err := q.SetStatus(ctx, doc.ID, to); err != nil {
			return err
		}
		out.doc, err = loadFull(ctx, q, doc.ID)
		out.extra = append(out.extra, pendingEvent{
			topic:     events.TopicDocumentStatusChanged,
			aggregate: doc.ID,
			payload:   map[string]any{"kind": doc.Kind, "from": doc.Status, "to": to},
		})
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.afterCommit(ctx, out)
	return out.doc, nil
}

// CreateInvoiceFromOrder derives a draft invoice from a pending order,
// links the two and moves the order to INVOICE_CREATED.
func (s *Service) CreateInvoiceFromOrder(ctx context.Context, orderID uuid.UUID) (Document, error) {
	if err := s.ready(); err != nil {
		return Document{}, err
	}
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return Document{}, err
	}
	var invoiceOut outcome
	err = s.Store.InTx(ctx, func(q Queries) error {
		order, err := q.LockDocument(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Kind != KindOrder {
			return common.WithDetails(ErrNotFound, map[string]string{"id": orderID.String(), "kind": string(order.Kind)})
		}
		if order.LinkedDocumentID != nil {
			return common.WithDetails(ErrAlreadyLinked, map[string]string{"linkedDocumentId": order.LinkedDocumentID.String()})
		}
		if order.Status != StatusPending {
			return common.WithDetails(ErrInvalidTransition, map[string]string{"from": string(order.Status), "to": string(StatusInvoiceCreated)})
		}
		lines, err := q.ListLines(ctx, order.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyDocument
		}

		now := s.now()
		invoice, err := q.InsertDocument(ctx, Document{
			ID:              uuid.New(),
			TenantID:        tenantID,
			Kind:            KindInvoice,
			Number:          newNumber(KindInvoice, now),
			ClientID:        order.ClientID,
			Status:          InitialStatus(KindInvoice),
			Currency:        order.Currency,
			DiscountPercent: order.DiscountPercent,
			Subtotal:        money.Zero,
			TaxTotal:        money.Zero,
			DiscountTotal:   money.Zero,
			GrandTotal:      money.Zero,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return err
		}
		for _, l := range lines {
			copied := l
			copied.ID = uuid.New()
			copied.DocumentID = invoice.ID
			copied.CreatedAt = now
			copied.UpdatedAt = now
			if _, err := q.InsertLine(ctx, copied); err != nil {
				return err
			}
		}
		if err := q.SetLink(ctx, order.ID, invoice.ID); err != nil {
			return err
		}
		if err := q.SetLink(ctx, invoice.ID, order.ID); err != nil {
			return err
		}
		if err := q.SetStatus(ctx, order.ID, StatusInvoiceCreated); err != nil {
			return err
		}
		// recompute mirrors invoice totals into the order
		invoiceOut, err = s.recompute(ctx, q, invoice, "create_invoice")
		if err != nil {
			return err
		}
		invoiceOut.created = true
		invoiceOut.extra = append(invoiceOut.extra,
			pendingEvent{
				topic:     events.TopicDocumentInvoiceCreated,
				aggregate: order.ID,
				payload:   map[string]any{"orderId": order.ID, "invoiceId": invoice.ID, "number": invoice.Number},
			},
			pendingEvent{
				topic:     events.TopicDocumentStatusChanged,
				aggregate: order.ID,
				payload:   map[string]any{"kind": KindOrder, "from": order.Status, "to": StatusInvoiceCreated},
			},
		)
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.afterCommit(ctx, invoiceOut)
	return invoiceOut.doc, nil
}

// mutate runs fn against a locked, mutable document and recomputes it in
// the same transaction.
func (s *Service) mutate(ctx context.Context, docID uuid.UUID, op string, fn func(ctx context.Context, q Queries, doc *Document) error) (Document, error) {
	if err := s.ready(); err != nil {
		return Document{}, err
	}
	ctx, span := otel.Tracer("document").Start(ctx, "document."+op)
	defer span.End()
	span.SetAttributes(attribute.String("document.id", docID.String()))

	var out outcome
	err := s.Store.InTx(ctx, func(q Queries) error {
		doc, err := q.LockDocument(ctx, docID)
		if err != nil {
			return err
		}
		if !doc.Mutable() {
			return common.WithDetails(ErrDocumentLocked, map[string]string{"status": string(doc.Status)})
		}
		if err := fn(ctx, q, &doc); err != nil {
			return err
		}
		out, err = s.recompute(ctx, q, doc, op)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Document{}, err
	}
	s.afterCommit(ctx, out)
	return out.doc, nil
}

// recompute derives the aggregates from the lines, writes them when they
// changed and mirrors them into the linked counterpart. A follower is
// refreshed from its counterpart instead.
func (s *Service) recompute(ctx context.Context, q Queries, doc Document, op string) (outcome, error) {
	if doc.Follower() {
		return s.follow(ctx, q, doc)
	}
	start := time.Now()
	lines, err := q.ListLines(ctx, doc.ID)
	if err != nil {
		obs.ObserveRecompute(string(doc.Kind), "error", time.Since(start))
		return outcome{}, err
	}
	totals, err := pricing.Summarize(lineSnapshots(lines), doc.DiscountPercent)
	if err != nil {
		obs.ObserveRecompute(string(doc.Kind), "error", time.Since(start))
		return outcome{}, err
	}
	out := outcome{}
	if !totals.Equal(doc.Totals()) {
		if err := q.WriteTotals(ctx, doc.ID, totals, doc.Version+1); err != nil {
			obs.ObserveRecompute(string(doc.Kind), "error", time.Since(start))
			return outcome{}, err
		}
		out.totalsChanged = true
		obs.ObserveRecompute(string(doc.Kind), "changed", time.Since(start))
	} else {
		obs.ObserveRecompute(string(doc.Kind), "unchanged", time.Since(start))
	}

	full, err := loadFull(ctx, q, doc.ID)
	if err != nil {
		return outcome{}, err
	}
	out.doc = full
	if full.LinkedDocumentID != nil {
		if syncErr := s.syncInto(ctx, q, full); syncErr != nil {
			if err := q.MarkSyncPending(ctx, syncErr.SourceID, syncErr.SourceVersion, syncErr.Err.Error()); err != nil {
				return outcome{}, err
			}
			out.syncErr = syncErr
			s.log(ctx).Warn().
				Err(syncErr.Err).
				Str("op", op).
				Str("source_id", syncErr.SourceID.String()).
				Str("counterpart_id", syncErr.CounterpartID.String()).
				Int64("version", syncErr.SourceVersion).
				Msg("document sync failed")
			obs.ObserveSync("failed")
		} else {
			obs.ObserveSync("ok")
		}
	}
	return out, nil
}

// follow re-reads the authoritative counterpart of a locked follower and
// copies its totals. The follower's own lines are not summed and nothing is
// written outward.
func (s *Service) follow(ctx context.Context, q Queries, doc Document) (outcome, error) {
	start := time.Now()
	authority, err := q.GetDocument(ctx, *doc.LinkedDocumentID)
	if err != nil {
		obs.ObserveRecompute(string(doc.Kind), "error", time.Since(start))
		return outcome{}, err
	}
	changed, err := copyTotals(ctx, q, authority, doc)
	if err != nil {
		obs.ObserveRecompute(string(doc.Kind), "error", time.Since(start))
		return outcome{}, err
	}
	result := "unchanged"
	if changed {
		result = "changed"
	}
	obs.ObserveRecompute(string(doc.Kind), result, time.Since(start))

	full, err := loadFull(ctx, q, doc.ID)
	if err != nil {
		return outcome{}, err
	}
	return outcome{doc: full, totalsChanged: changed}, nil
}

// syncInto mirrors subtotal, taxTotal and grandTotal of src into its
// counterpart inside a savepoint. The counterpart's lines and discount total
// are left alone.
func (s *Service) syncInto(ctx context.Context, q Queries, src Document) *SyncError {
	counterpartID := *src.LinkedDocumentID
	err := q.Savepoint(ctx, func(sq Queries) error {
		return mirror(ctx, sq, src, counterpartID)
	})
	if err == nil {
		return nil
	}
	return &SyncError{SourceID: src.ID, CounterpartID: counterpartID, SourceVersion: src.Version, Err: err}
}

func mirror(ctx context.Context, q Queries, src Document, counterpartID uuid.UUID) error {
	counterpart, err := q.LockDocument(ctx, counterpartID)
	if err != nil {
		return err
	}
	_, err = copyTotals(ctx, q, src, counterpart)
	return err
}

// copyTotals writes subtotal, taxTotal and grandTotal of src onto dst, which
// the caller holds locked, and reports whether dst changed.
func copyTotals(ctx context.Context, q Queries, src, dst Document) (bool, error) {
	next := dst.Totals()
	next.Subtotal = src.Subtotal
	next.TaxTotal = src.TaxTotal
	next.GrandTotal = src.GrandTotal
	if next.Equal(dst.Totals()) {
		return false, nil
	}
	if err := q.WriteTotals(ctx, dst.ID, next, dst.Version+1); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) afterCommit(ctx context.Context, out outcome) {
	doc := out.doc
	if out.created {
		s.emit(ctx, events.TopicDocumentCreated, doc.ID, map[string]any{"kind": doc.Kind, "number": doc.Number})
	}
	if out.totalsChanged {
		s.emit(ctx, events.TopicDocumentTotalsChanged, doc.ID, map[string]any{
			"version":       doc.Version,
			"subtotal":      doc.Subtotal,
			"taxTotal":      doc.TaxTotal,
			"discountTotal": doc.DiscountTotal,
			"grandTotal":    doc.GrandTotal,
		})
	}
	for _, ev := range out.extra {
		s.emit(ctx, ev.topic, ev.aggregate, ev.payload)
	}
	if out.syncErr != nil {
		s.scheduleSyncRetry(ctx, out.syncErr)
	}
}

func (s *Service) scheduleSyncRetry(ctx context.Context, syncErr *SyncError) {
	s.emit(ctx, events.TopicDocumentSyncFailed, syncErr.SourceID, map[string]any{
		"sourceId":      syncErr.SourceID,
		"counterpartId": syncErr.CounterpartID,
		"version":       syncErr.SourceVersion,
		"error":         syncErr.Err.Error(),
	})
	if s.Queue == nil {
		return
	}
	tenantID, _ := tenant.UUID(ctx)
	task, err := NewSyncTask(tenantID, syncErr.SourceID, syncErr.SourceVersion)
	if err != nil {
		s.log(ctx).Error().Err(err).Msg("encode sync task")
		return
	}
	if err := s.Queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		s.log(ctx).Error().Err(err).Str("source_id", syncErr.SourceID.String()).Msg("enqueue sync retry, left in outbox")
		return
	}
	if err := s.Store.ClearSyncPending(context.WithoutCancel(ctx), syncErr.SourceID, syncErr.SourceVersion); err != nil {
		s.log(ctx).Warn().Err(err).Str("source_id", syncErr.SourceID.String()).Msg("clear sync outbox")
	}
}

func (s *Service) emit(ctx context.Context, topic string, aggregate uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregate, payload); err != nil {
		s.log(ctx).Warn().Err(err).Str("topic", topic).Str("aggregate_id", aggregate.String()).Msg("emit document event")
	}
}

// log prefers the request-scoped logger installed by obs.RequestLogger.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}

func (s *Service) product(ctx context.Context, id uuid.UUID) (catalog.Product, error) {
	if s.Products == nil {
		return catalog.Product{ID: id}, nil
	}
	return s.Products.Product(ctx, id)
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil {
		return errors.New("document service not configured")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func loadFull(ctx context.Context, q Queries, id uuid.UUID) (Document, error) {
	doc, err := q.GetDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	lines, err := q.ListLines(ctx, id)
	if err != nil {
		return Document{}, err
	}
	doc.Lines = lines
	return doc, nil
}

func findLine(ctx context.Context, q Queries, docID, lineID uuid.UUID) (LineItem, error) {
	lines, err := q.ListLines(ctx, docID)
	if err != nil {
		return LineItem{}, err
	}
	for _, l := range lines {
		if l.ID == lineID {
			return l, nil
		}
	}
	return LineItem{}, ErrLineNotFound
}
