package document_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/emirsalihagic/miniERP-sub001/internal/document"
	"github.com/emirsalihagic/miniERP-sub001/internal/events"
	"github.com/emirsalihagic/miniERP-sub001/internal/money"
	"github.com/emirsalihagic/miniERP-sub001/internal/pricing"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

func TestCreateStartsEmpty(t *testing.T) {
	f := newFixture(t)

	order := f.create(t, document.KindOrder)
	require.Equal(t, document.StatusPending, order.Status)
	require.Regexp(t, `^ORD-20250301-[0-9A-F]{6}$`, order.Number)
	requireMoney(t, "0", order.GrandTotal)
	require.EqualValues(t, 1, order.Version)
	require.Equal(t, 1, f.events.count(events.TopicDocumentCreated))

	invoice := f.create(t, document.KindInvoice)
	require.Equal(t, document.StatusDraft, invoice.Status)
	require.Regexp(t, `^INV-`, invoice.Number)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(f.ctx, document.NewDocument{Kind: document.KindOrder, Currency: "eur"})
	require.ErrorIs(t, err, document.ErrInvalidDocument)

	_, err = f.svc.Create(f.ctx, document.NewDocument{Kind: document.KindOrder, Currency: "EUR", DiscountPercent: dec("101")})
	require.ErrorIs(t, err, document.ErrInvalidPercent)
	_, err = f.svc.Create(f.ctx, document.NewDocument{Kind: document.KindOrder, Currency: "EUR", DiscountPercent: dec("10.00005")})
	require.ErrorIs(t, err, document.ErrInvalidPercent)

	_, err = f.svc.Create(context.Background(), document.NewDocument{Kind: document.KindOrder, Currency: "EUR"})
	require.ErrorIs(t, err, tenant.ErrTenantMissing)
}

func TestAddLineRecomputesTotals(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)

	line := f.addLine(t, order.ID, "2")
	require.Equal(t, 1, line.Position)
	require.NotNil(t, line.PriceRuleID)
	require.Equal(t, "Widget", line.ProductName)
	requireMoney(t, "200", line.Subtotal)
	requireMoney(t, "40", line.Tax)
	requireMoney(t, "240", line.Total)

	got, err := f.svc.Get(f.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	requireMoney(t, "200", got.Subtotal)
	requireMoney(t, "40", got.TaxTotal)
	requireMoney(t, "0", got.DiscountTotal)
	requireMoney(t, "240", got.GrandTotal)
	require.EqualValues(t, 2, got.Version)
	require.Equal(t, 1, f.events.count(events.TopicDocumentTotalsChanged))

	second := f.addLine(t, order.ID, "1")
	require.Equal(t, 2, second.Position)
}

func TestAddLineUsesDocumentClient(t *testing.T) {
	f := newFixture(t)
	client := uuid.New()
	order, err := f.svc.Create(f.ctx, document.NewDocument{Kind: document.KindOrder, ClientID: &client, Currency: "EUR"})
	require.NoError(t, err)

	f.addLine(t, order.ID, "1")
	require.NotEmpty(t, f.prices.clients)
	last := f.prices.clients[len(f.prices.clients)-1]
	require.NotNil(t, last)
	require.Equal(t, client, *last)
}

func TestAddLineRejections(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)

	_, err := f.svc.AddLine(f.ctx, order.ID, f.product, dec("0"))
	require.ErrorIs(t, err, pricing.ErrInvalidQuantity)

	_, err = f.svc.AddLine(f.ctx, order.ID, uuid.New(), dec("1"))
	require.ErrorIs(t, err, pricing.ErrPriceNotFound)

	usd, err := f.svc.Create(f.ctx, document.NewDocument{Kind: document.KindOrder, Currency: "USD"})
	require.NoError(t, err)
	_, err = f.svc.AddLine(f.ctx, usd.ID, f.product, dec("1"))
	require.ErrorIs(t, err, document.ErrCurrencyMismatch)

	_, err = f.svc.AddLine(f.ctx, uuid.New(), f.product, dec("1"))
	require.ErrorIs(t, err, document.ErrNotFound)

	got, err := f.svc.Get(f.ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, got.Lines)
	require.EqualValues(t, 1, got.Version)
}

func TestUpdateLineKeepsSnapshotPrice(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)
	line := f.addLine(t, order.ID, "2")

	f.price(f.product, "150", "EUR", "20", "0")
	updated, err := f.svc.UpdateLineQuantity(f.ctx, order.ID, line.ID, dec("3"))
	require.NoError(t, err)
	requireMoney(t, "100", updated.UnitPrice)
	requireMoney(t, "300", updated.Subtotal)
	requireMoney(t, "360", updated.Total)

	got, err := f.svc.Get(f.ctx, order.ID)
	require.NoError(t, err)
	requireMoney(t, "360", got.GrandTotal)

	_, err = f.svc.UpdateLineQuantity(f.ctx, order.ID, uuid.New(), dec("1"))
	require.ErrorIs(t, err, document.ErrLineNotFound)
}

func TestRemoveLineZeroesTotals(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)
	line := f.addLine(t, order.ID, "2")

	got, err := f.svc.RemoveLine(f.ctx, order.ID, line.ID)
	require.NoError(t, err)
	require.Empty(t, got.Lines)
	requireMoney(t, "0", got.Subtotal)
	requireMoney(t, "0", got.GrandTotal)
	require.EqualValues(t, 3, got.Version)
}

func TestSetDiscountAppliesToNetSubtotal(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)
	f.addLine(t, order.ID, "2")

	got, err := f.svc.SetDiscount(f.ctx, order.ID, dec("10"))
	require.NoError(t, err)
	requireMoney(t, "20", got.DiscountTotal)
	requireMoney(t, "220", got.GrandTotal)

	_, err = f.svc.SetDiscount(f.ctx, order.ID, dec("-1"))
	require.ErrorIs(t, err, document.ErrInvalidPercent)
}

func TestSetDiscountRejectsUnstorablePrecision(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)
	f.addLine(t, order.ID, "2")
	before := f.store.raw(order.ID)

	_, err := f.svc.SetDiscount(f.ctx, order.ID, dec("10.00005"))
	require.ErrorIs(t, err, document.ErrInvalidPercent)

	after := f.store.raw(order.ID)
	require.True(t, after.DiscountPercent.IsZero())
	require.Equal(t, before.Version, after.Version)
	requireMoney(t, before.GrandTotal.String(), after.GrandTotal)

	got, err := f.svc.SetDiscount(f.ctx, order.ID, dec("10.0001"))
	require.NoError(t, err)
	requireMoney(t, "220", got.GrandTotal)
	require.True(t, dec("10.0001").Equal(got.DiscountPercent))
}

func TestAddLineOverflowLeavesDocumentUntouched(t *testing.T) {
	f := newFixture(t)
	costly := uuid.New()
	f.price(costly, "99999999999999", "EUR", "0", "0")
	order := f.create(t, document.KindOrder)

	_, err := f.svc.AddLine(f.ctx, order.ID, costly, dec("1"))
	require.NoError(t, err)
	before := f.store.raw(order.ID)
	requireMoney(t, "99999999999999", before.GrandTotal)

	_, err = f.svc.AddLine(f.ctx, order.ID, costly, dec("1"))
	require.ErrorIs(t, err, money.ErrOverflow)

	got, err := f.svc.Get(f.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	require.Equal(t, before.Version, got.Version)
	require.True(t, before.Totals().Equal(got.Totals()))
	require.Equal(t, 1, f.events.count(events.TopicDocumentTotalsChanged))
}

func TestRecomputeRepairsDriftOnce(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)
	f.addLine(t, order.ID, "2")

	drifted := f.store.raw(order.ID)
	drifted.GrandTotal = dec("999")
	f.store.overwrite(drifted)

	got, err := f.svc.Recompute(f.ctx, order.ID)
	require.NoError(t, err)
	requireMoney(t, "240", got.GrandTotal)
	require.EqualValues(t, 3, got.Version)

	again, err := f.svc.Recompute(f.ctx, order.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, again.Version)
	require.Equal(t, 2, f.events.count(events.TopicDocumentTotalsChanged))
}

func TestTransitionsFreezeDocument(t *testing.T) {
	f := newFixture(t)
	invoice := f.create(t, document.KindInvoice)

	_, err := f.svc.Transition(f.ctx, invoice.ID, document.StatusIssued)
	require.ErrorIs(t, err, document.ErrEmptyDocument)

	f.addLine(t, invoice.ID, "1")
	issued, err := f.svc.Transition(f.ctx, invoice.ID, document.StatusIssued)
	require.NoError(t, err)
	require.Equal(t, document.StatusIssued, issued.Status)
	require.Equal(t, 1, f.events.count(events.TopicDocumentStatusChanged))

	_, err = f.svc.AddLine(f.ctx, invoice.ID, f.product, dec("1"))
	require.ErrorIs(t, err, document.ErrDocumentLocked)
	_, err = f.svc.SetDiscount(f.ctx, invoice.ID, dec("5"))
	require.ErrorIs(t, err, document.ErrDocumentLocked)

	_, err = f.svc.Transition(f.ctx, invoice.ID, document.StatusPaid)
	require.ErrorIs(t, err, document.ErrInvalidTransition)

	voided, err := f.svc.Transition(f.ctx, invoice.ID, document.StatusVoid)
	require.NoError(t, err)
	require.Equal(t, document.StatusVoid, voided.Status)

	_, err = f.svc.Transition(f.ctx, invoice.ID, document.StatusSent)
	require.ErrorIs(t, err, document.ErrInvalidTransition)

	// recompute still works on frozen documents
	_, err = f.svc.Recompute(f.ctx, invoice.ID)
	require.NoError(t, err)
}

func TestTerminalDocumentsRejectEdits(t *testing.T) {
	for _, terminal := range []document.Status{document.StatusPaid, document.StatusVoid} {
		t.Run(string(terminal), func(t *testing.T) {
			f := newFixture(t)
			invoice := f.create(t, document.KindInvoice)
			line := f.addLine(t, invoice.ID, "2")

			path := []document.Status{document.StatusIssued, document.StatusSent, document.StatusPaid}
			if terminal == document.StatusVoid {
				path = []document.Status{document.StatusIssued, document.StatusVoid}
			}
			for _, to := range path {
				_, err := f.svc.Transition(f.ctx, invoice.ID, to)
				require.NoError(t, err)
			}
			before := f.store.raw(invoice.ID)
			require.Equal(t, terminal, before.Status)

			_, err := f.svc.AddLine(f.ctx, invoice.ID, f.product, dec("1"))
			require.ErrorIs(t, err, document.ErrDocumentLocked)
			_, err = f.svc.UpdateLineQuantity(f.ctx, invoice.ID, line.ID, dec("5"))
			require.ErrorIs(t, err, document.ErrDocumentLocked)
			_, err = f.svc.RemoveLine(f.ctx, invoice.ID, line.ID)
			require.ErrorIs(t, err, document.ErrDocumentLocked)
			_, err = f.svc.SetDiscount(f.ctx, invoice.ID, dec("5"))
			require.ErrorIs(t, err, document.ErrDocumentLocked)

			after, err := f.svc.Get(f.ctx, invoice.ID)
			require.NoError(t, err)
			require.Len(t, after.Lines, 1)
			require.Equal(t, before.Version, after.Version)
			require.True(t, before.Totals().Equal(after.Totals()))
			requireMoney(t, "240", after.GrandTotal)
		})
	}
}

func TestOrderCannotJumpToInvoiceCreated(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)
	f.addLine(t, order.ID, "1")

	_, err := f.svc.Transition(f.ctx, order.ID, document.StatusInvoiceCreated)
	require.ErrorIs(t, err, document.ErrInvalidTransition)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)

	other := tenant.With(context.Background(), uuid.NewString())
	_, err := f.svc.Get(other, order.ID)
	require.ErrorIs(t, err, document.ErrNotFound)

	docs, page, err := f.svc.List(other, document.KindOrder, nil, pagination(1, 10))
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Equal(t, 0, page.TotalItems)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, document.KindInvoice)
	f.create(t, document.KindInvoice)
	f.create(t, document.KindOrder)
	_, err := f.svc.Transition(f.ctx, first.ID, document.StatusVoid)
	require.NoError(t, err)

	docs, page, err := f.svc.List(f.ctx, document.KindInvoice, nil, pagination(1, 10))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, 2, page.TotalItems)

	void := document.StatusVoid
	docs, page, err = f.svc.List(f.ctx, document.KindInvoice, &void, pagination(1, 10))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, first.ID, docs[0].ID)
	require.Equal(t, 1, page.TotalItems)
}

func TestCreateInvoiceFromOrder(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)
	f.addLine(t, order.ID, "2")

	invoice, err := f.svc.CreateInvoiceFromOrder(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, document.KindInvoice, invoice.Kind)
	require.Equal(t, document.StatusDraft, invoice.Status)
	require.Len(t, invoice.Lines, 1)
	require.NotNil(t, invoice.LinkedDocumentID)
	require.Equal(t, order.ID, *invoice.LinkedDocumentID)
	requireMoney(t, "240", invoice.GrandTotal)

	linked, err := f.svc.Get(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, document.StatusInvoiceCreated, linked.Status)
	require.NotNil(t, linked.LinkedDocumentID)
	require.Equal(t, invoice.ID, *linked.LinkedDocumentID)
	requireMoney(t, "240", linked.GrandTotal)
	require.NotEqual(t, linked.Lines[0].ID, invoice.Lines[0].ID)
	require.Equal(t, 1, f.events.count(events.TopicDocumentInvoiceCreated))

	_, err = f.svc.CreateInvoiceFromOrder(f.ctx, order.ID)
	require.ErrorIs(t, err, document.ErrAlreadyLinked)
	_, err = f.svc.CreateInvoiceFromOrder(f.ctx, invoice.ID)
	require.ErrorIs(t, err, document.ErrNotFound)

	_, err = f.svc.AddLine(f.ctx, order.ID, f.product, dec("1"))
	require.ErrorIs(t, err, document.ErrDocumentLocked)
}

func TestCreateInvoiceRequiresLines(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)

	_, err := f.svc.CreateInvoiceFromOrder(f.ctx, order.ID)
	require.ErrorIs(t, err, document.ErrEmptyDocument)

	got, err := f.svc.Get(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, document.StatusPending, got.Status)
	require.Nil(t, got.LinkedDocumentID)
}

func TestRecomputeInvoicedOrderFollowsInvoice(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)
	f.addLine(t, order.ID, "2")
	invoice, err := f.svc.CreateInvoiceFromOrder(f.ctx, order.ID)
	require.NoError(t, err)
	f.addLine(t, invoice.ID, "1")
	invoiceBefore := f.store.raw(invoice.ID)
	requireMoney(t, "360", invoiceBefore.GrandTotal)

	got, err := f.svc.Recompute(f.ctx, order.ID)
	require.NoError(t, err)
	requireMoney(t, "300", got.Subtotal)
	requireMoney(t, "360", got.GrandTotal)
	require.Len(t, got.Lines, 1)

	inv := f.store.raw(invoice.ID)
	requireMoney(t, "360", inv.GrandTotal)
	requireMoney(t, "300", inv.Subtotal)
	require.Equal(t, invoiceBefore.Version, inv.Version)

	// a drifted order is repaired from the invoice, not from its own lines
	drifted := f.store.raw(order.ID)
	drifted.GrandTotal = dec("1")
	f.store.overwrite(drifted)
	got, err = f.svc.Recompute(f.ctx, order.ID)
	require.NoError(t, err)
	requireMoney(t, "360", got.GrandTotal)
	require.Equal(t, drifted.Version+1, got.Version)
	require.Equal(t, invoiceBefore.Version, f.store.raw(invoice.ID).Version)
}

func TestKind(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)
	invoice := f.create(t, document.KindInvoice)

	kind, err := f.svc.Kind(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, document.KindOrder, kind)
	kind, err = f.svc.Kind(f.ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, document.KindInvoice, kind)

	_, err = f.svc.Kind(f.ctx, uuid.New())
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.svc.Kind(tenant.With(context.Background(), uuid.NewString()), order.ID)
	require.ErrorIs(t, err, document.ErrNotFound)
}

func TestInvoiceEditsMirrorIntoOrder(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, document.KindOrder)
	f.addLine(t, order.ID, "2")
	invoice, err := f.svc.CreateInvoiceFromOrder(f.ctx, order.ID)
	require.NoError(t, err)
	before := f.store.raw(order.ID).Version

	f.addLine(t, invoice.ID, "1")
	_, err = f.svc.SetDiscount(f.ctx, invoice.ID, dec("10"))
	require.NoError(t, err)

	inv, err := f.svc.Get(f.ctx, invoice.ID)
	require.NoError(t, err)
	requireMoney(t, "300", inv.Subtotal)
	requireMoney(t, "60", inv.TaxTotal)
	requireMoney(t, "30", inv.DiscountTotal)
	requireMoney(t, "330", inv.GrandTotal)

	mirrored := f.store.raw(order.ID)
	requireMoney(t, "300", mirrored.Subtotal)
	requireMoney(t, "60", mirrored.TaxTotal)
	requireMoney(t, "330", mirrored.GrandTotal)
	requireMoney(t, "0", mirrored.DiscountTotal)
	require.Greater(t, mirrored.Version, before)
	require.Empty(t, f.queue.tasks)
}
