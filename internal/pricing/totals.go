package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/emirsalihagic/miniERP-sub001/internal/money"
)

// Totals are the aggregate fields cached on a document.
type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxTotal      decimal.Decimal `json:"taxTotal"`
	DiscountTotal decimal.Decimal `json:"discountTotal"`
	GrandTotal    decimal.Decimal `json:"grandTotal"`
	// DocumentDiscount is the document-level share of DiscountTotal. It is
	// derived and not persisted.
	DocumentDiscount decimal.Decimal `json:"documentDiscount"`
}

// Summarize is the only way document aggregates are produced. The document
// discount applies to the subtotal net of line discounts.
func Summarize(lines []Line, discountPercent decimal.Decimal) (Totals, error) {
	if err := money.ValidatePercent(discountPercent); err != nil {
		return Totals{}, fmt.Errorf("pricing: document discount: %w", err)
	}
	subtotal, tax, lineDiscount := money.Zero, money.Zero, money.Zero
	for _, l := range lines {
		subtotal = money.Add(subtotal, l.Subtotal)
		tax = money.Add(tax, l.Tax)
		lineDiscount = money.Add(lineDiscount, l.Discount)
	}
	docDiscount := money.Round2(money.MulPercent(money.Sub(subtotal, lineDiscount), discountPercent))
	discountTotal := money.Add(lineDiscount, docDiscount)
	grand := money.Sub(money.Add(subtotal, tax), discountTotal)

	if err := money.CheckBounds(subtotal, tax, discountTotal, grand); err != nil {
		return Totals{}, fmt.Errorf("pricing: summarize: %w", err)
	}
	return Totals{
		Subtotal:         subtotal,
		TaxTotal:         tax,
		DiscountTotal:    discountTotal,
		GrandTotal:       grand,
		DocumentDiscount: docDiscount,
	}, nil
}

// Equal compares the persisted fields numerically.
func (t Totals) Equal(o Totals) bool {
	return t.Subtotal.Equal(o.Subtotal) &&
		t.TaxTotal.Equal(o.TaxTotal) &&
		t.DiscountTotal.Equal(o.DiscountTotal) &&
		t.GrandTotal.Equal(o.GrandTotal)
}
