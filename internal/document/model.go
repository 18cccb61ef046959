package document

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emirsalihagic/miniERP-sub001/internal/pricing"
)

// Kind distinguishes orders from invoices.
type Kind string

const (
	KindOrder   Kind = "order"
	KindInvoice Kind = "invoice"
)

// ParseKind accepts the singular or plural route form.
func ParseKind(raw string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "order", "orders":
		return KindOrder, true
	case "invoice", "invoices":
		return KindInvoice, true
	}
	return "", false
}

func (k Kind) numberPrefix() string {
	if k == KindInvoice {
		return "INV"
	}
	return "ORD"
}

// Document is an order or invoice with its cached aggregates.
type Document struct {
	ID               uuid.UUID       `json:"id"`
	TenantID         uuid.UUID       `json:"tenantId"`
	Kind             Kind            `json:"kind"`
	Number           string          `json:"number"`
	ClientID         *uuid.UUID      `json:"clientId,omitempty"`
	Status           Status          `json:"status"`
	Currency         string          `json:"currency"`
	DiscountPercent  decimal.Decimal `json:"discountPercent"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	TaxTotal         decimal.Decimal `json:"taxTotal"`
	DiscountTotal    decimal.Decimal `json:"discountTotal"`
	GrandTotal       decimal.Decimal `json:"grandTotal"`
	LinkedDocumentID *uuid.UUID      `json:"linkedDocumentId,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	Lines            []LineItem      `json:"lines,omitempty"`
}

// Totals returns the persisted aggregate fields.
func (d Document) Totals() pricing.Totals {
	return pricing.Totals{
		Subtotal:      d.Subtotal,
		TaxTotal:      d.TaxTotal,
		DiscountTotal: d.DiscountTotal,
		GrandTotal:    d.GrandTotal,
	}
}

// Mutable reports whether lines and discount may still change.
func (d Document) Mutable() bool {
	return d.Status == InitialStatus(d.Kind)
}

// Follower reports whether the document takes its totals from its linked
// counterpart. Once an order is invoiced the invoice is authoritative.
func (d Document) Follower() bool {
	return d.Kind == KindOrder && d.LinkedDocumentID != nil && !d.Mutable()
}

func (d *Document) applyTotals(t pricing.Totals) {
	d.Subtotal = t.Subtotal
	d.TaxTotal = t.TaxTotal
	d.DiscountTotal = t.DiscountTotal
	d.GrandTotal = t.GrandTotal
}

// LineItem is a persisted line. Its monetary fields are a snapshot taken when
// the price was resolved.
type LineItem struct {
	ID          uuid.UUID  `json:"id"`
	DocumentID  uuid.UUID  `json:"documentId"`
	Position    int        `json:"position"`
	ProductID   uuid.UUID  `json:"productId"`
	PriceRuleID *uuid.UUID `json:"priceRuleId,omitempty"`
	SKU         string     `json:"sku"`
	ProductName string     `json:"productName"`
	pricing.Line
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewDocument is the input of Service.Create.
type NewDocument struct {
	Kind            Kind
	ClientID        *uuid.UUID
	Currency        string
	DiscountPercent decimal.Decimal
}

// ListFilter narrows Service.List.
type ListFilter struct {
	Kind   Kind
	Status *Status
	Limit  int
	Offset int
}

func newNumber(kind Kind, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return kind.numberPrefix() + "-" + now.UTC().Format("20060102") + "-" + suffix
}

func lineSnapshots(lines []LineItem) []pricing.Line {
	out := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Line)
	}
	return out
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
