package document_test

import (
	"context"
	"maps"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/emirsalihagic/miniERP-sub001/internal/catalog"
	"github.com/emirsalihagic/miniERP-sub001/internal/common"
	"github.com/emirsalihagic/miniERP-sub001/internal/document"
	"github.com/emirsalihagic/miniERP-sub001/internal/events"
	"github.com/emirsalihagic/miniERP-sub001/internal/pricing"
	"github.com/emirsalihagic/miniERP-sub001/internal/queue"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// memoryStore keeps documents and lines in maps. InTx and Savepoint restore
// the state they started from when fn fails.
type memoryStore struct {
	mu         sync.Mutex
	docs       map[uuid.UUID]document.Document
	lines      map[uuid.UUID][]document.LineItem
	outbox     map[uuid.UUID]document.SyncPayload
	failTotals map[uuid.UUID]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		docs:       map[uuid.UUID]document.Document{},
		lines:      map[uuid.UUID][]document.LineItem{},
		outbox:     map[uuid.UUID]document.SyncPayload{},
		failTotals: map[uuid.UUID]error{},
	}
}

type snapshot struct {
	docs   map[uuid.UUID]document.Document
	lines  map[uuid.UUID][]document.LineItem
	outbox map[uuid.UUID]document.SyncPayload
}

func (m *memoryStore) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := snapshot{
		docs:   map[uuid.UUID]document.Document{},
		lines:  map[uuid.UUID][]document.LineItem{},
		outbox: maps.Clone(m.outbox),
	}
	for id, d := range m.docs {
		s.docs[id] = d
	}
	for id, ls := range m.lines {
		s.lines[id] = append([]document.LineItem(nil), ls...)
	}
	return s
}

func (m *memoryStore) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = s.docs
	m.lines = s.lines
	m.outbox = s.outbox
}

func (m *memoryStore) InTx(_ context.Context, fn func(q document.Queries) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memoryStore) Savepoint(_ context.Context, fn func(q document.Queries) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// failWrites makes WriteTotals fail for id until cleared with a nil error.
func (m *memoryStore) failWrites(id uuid.UUID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failTotals, id)
		return
	}
	m.failTotals[id] = err
}

// raw returns the stored row without tenant checks.
func (m *memoryStore) raw(id uuid.UUID) document.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id]
}

func (m *memoryStore) overwrite(d document.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.ID] = d
}

func (m *memoryStore) visible(ctx context.Context, id uuid.UUID) (document.Document, error) {
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return document.Document{}, err
	}
	d, ok := m.docs[id]
	if !ok || d.TenantID != tenantID {
		return document.Document{}, document.ErrNotFound
	}
	return d, nil
}

func (m *memoryStore) GetDocument(ctx context.Context, id uuid.UUID) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible(ctx, id)
}

func (m *memoryStore) LockDocument(ctx context.Context, id uuid.UUID) (document.Document, error) {
	return m.GetDocument(ctx, id)
}

func (m *memoryStore) ListDocuments(ctx context.Context, f document.ListFilter) ([]document.Document, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return nil, 0, err
	}
	var all []document.Document
	for _, d := range m.docs {
		if d.TenantID != tenantID || d.Kind != f.Kind {
			continue
		}
		if f.Status != nil && d.Status != *f.Status {
			continue
		}
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if f.Offset >= total {
		return []document.Document{}, total, nil
	}
	end := min(f.Offset+f.Limit, total)
	return all[f.Offset:end], total, nil
}

func (m *memoryStore) ListLines(ctx context.Context, documentID uuid.UUID) ([]document.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.visible(ctx, documentID); err != nil {
		return nil, err
	}
	out := append([]document.LineItem(nil), m.lines[documentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memoryStore) InsertDocument(_ context.Context, d document.Document) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.Version = 1
	d.Lines = nil
	m.docs[d.ID] = d
	return d, nil
}

func (m *memoryStore) InsertLine(_ context.Context, l document.LineItem) (document.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[l.DocumentID] = append(m.lines[l.DocumentID], l)
	return l, nil
}

func (m *memoryStore) UpdateLine(_ context.Context, l document.LineItem) (document.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls := m.lines[l.DocumentID]
	for i := range ls {
		if ls[i].ID == l.ID {
			ls[i] = l
			return l, nil
		}
	}
	return document.LineItem{}, document.ErrLineNotFound
}

func (m *memoryStore) DeleteLine(_ context.Context, documentID, lineID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls := m.lines[documentID]
	for i := range ls {
		if ls[i].ID == lineID {
			m.lines[documentID] = append(ls[:i:i], ls[i+1:]...)
			return nil
		}
	}
	return document.ErrLineNotFound
}

func (m *memoryStore) NextPosition(_ context.Context, documentID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := 1
	for _, l := range m.lines[documentID] {
		if l.Position >= next {
			next = l.Position + 1
		}
	}
	return next, nil
}

func (m *memoryStore) update(ctx context.Context, id uuid.UUID, fn func(d *document.Document)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.visible(ctx, id)
	if err != nil {
		return err
	}
	fn(&d)
	m.docs[id] = d
	return nil
}

func (m *memoryStore) WriteTotals(ctx context.Context, id uuid.UUID, t pricing.Totals, version int64) error {
	m.mu.Lock()
	failure := m.failTotals[id]
	m.mu.Unlock()
	if failure != nil {
		return failure
	}
	return m.update(ctx, id, func(d *document.Document) {
		d.Subtotal = t.Subtotal
		d.TaxTotal = t.TaxTotal
		d.DiscountTotal = t.DiscountTotal
		d.GrandTotal = t.GrandTotal
		d.Version = version
	})
}

func (m *memoryStore) SetDiscount(ctx context.Context, id uuid.UUID, percent decimal.Decimal) error {
	return m.update(ctx, id, func(d *document.Document) { d.DiscountPercent = percent })
}

func (m *memoryStore) SetStatus(ctx context.Context, id uuid.UUID, status document.Status) error {
	return m.update(ctx, id, func(d *document.Document) { d.Status = status })
}

func (m *memoryStore) SetLink(ctx context.Context, id, linked uuid.UUID) error {
	return m.update(ctx, id, func(d *document.Document) { d.LinkedDocumentID = &linked })
}

func (m *memoryStore) MarkSyncPending(ctx context.Context, sourceID uuid.UUID, version int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenantID, err := tenant.UUID(ctx)
	if err != nil {
		return err
	}
	if prev, ok := m.outbox[sourceID]; ok && prev.Version > version {
		version = prev.Version
	}
	m.outbox[sourceID] = document.SyncPayload{TenantID: tenantID, SourceID: sourceID, Version: version}
	return nil
}

func (m *memoryStore) ClearSyncPending(_ context.Context, sourceID uuid.UUID, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.outbox[sourceID]; ok && p.Version <= version {
		delete(m.outbox, sourceID)
	}
	return nil
}

func (m *memoryStore) PendingSyncs(_ context.Context, _ time.Time, limit int) ([]document.SyncPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]document.SyncPayload, 0, len(m.outbox))
	for _, p := range m.outbox {
		out = append(out, p)
	}
	return out[:min(limit, len(out))], nil
}

func (m *memoryStore) pending(sourceID uuid.UUID) (document.SyncPayload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.outbox[sourceID]
	return p, ok
}

// stubResolver returns a fixed rule per product and records the client each
// lookup was made for.
type stubResolver struct {
	rules   map[uuid.UUID]pricing.Rule
	clients []*uuid.UUID
}

func (s *stubResolver) Resolve(_ context.Context, productID uuid.UUID, clientID *uuid.UUID) (pricing.Rule, error) {
	s.clients = append(s.clients, clientID)
	rule, ok := s.rules[productID]
	if !ok {
		return pricing.Rule{}, pricing.ErrPriceNotFound
	}
	return rule, nil
}

type stubProducts struct{}

func (stubProducts) Product(_ context.Context, id uuid.UUID) (catalog.Product, error) {
	return catalog.Product{ID: id, SKU: "SKU-" + id.String()[:4], Name: "Widget"}, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	topics []string
}

func (c *captureEmitter) Emit(_ context.Context, topic string, aggregateID uuid.UUID, _ any) (events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return events.Event{ID: uuid.New(), Topic: topic, AggregateID: aggregateID}, nil
}

func (c *captureEmitter) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.topics {
		if t == topic {
			n++
		}
	}
	return n
}

// captureQueue records tasks. A non-nil fail is returned instead.
type captureQueue struct {
	tasks []queue.Task
	fail  error
}

func (c *captureQueue) Enqueue(_ context.Context, t queue.Task) error {
	if c.fail != nil {
		return c.fail
	}
	c.tasks = append(c.tasks, t)
	return nil
}

type fixture struct {
	svc     *document.Service
	store   *memoryStore
	prices  *stubResolver
	events  *captureEmitter
	queue   *captureQueue
	ctx     context.Context
	product uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newMemoryStore(),
		prices:  &stubResolver{rules: map[uuid.UUID]pricing.Rule{}},
		events:  &captureEmitter{},
		queue:   &captureQueue{},
		ctx:     tenant.With(context.Background(), uuid.NewString()),
		product: uuid.New(),
	}
	f.price(f.product, "100", "EUR", "20", "0")
	f.svc = &document.Service{
		Store:    f.store,
		Resolver: f.prices,
		Products: stubProducts{},
		Events:   f.events,
		Queue:    f.queue,
		Now:      func() time.Time { return t0 },
		Logger:   zerolog.Nop(),
	}
	return f
}

func (f *fixture) price(productID uuid.UUID, price, currency, tax, discount string) {
	taxRate := decimal.RequireFromString(tax)
	discountRate := decimal.RequireFromString(discount)
	f.prices.rules[productID] = pricing.Rule{
		ID:              uuid.New(),
		ProductID:       productID,
		Price:           decimal.RequireFromString(price),
		Currency:        currency,
		TaxRatePercent:  &taxRate,
		DiscountPercent: &discountRate,
		EffectiveFrom:   t0.Add(-24 * time.Hour),
	}
}

func (f *fixture) create(t *testing.T, kind document.Kind) document.Document {
	t.Helper()
	doc, err := f.svc.Create(f.ctx, document.NewDocument{Kind: kind, Currency: "EUR"})
	require.NoError(t, err)
	return doc
}

func (f *fixture) addLine(t *testing.T, docID uuid.UUID, qty string) document.LineItem {
	t.Helper()
	line, err := f.svc.AddLine(f.ctx, docID, f.product, decimal.RequireFromString(qty))
	require.NoError(t, err)
	return line
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func pagination(page, perPage int) common.Pagination {
	return common.Pagination{Page: page, PerPage: perPage}
}
