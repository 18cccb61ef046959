package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
	"github.com/emirsalihagic/miniERP-sub001/internal/money"
)

// Line is the monetary snapshot of one product and quantity.
type Line struct {
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	TaxRatePercent  decimal.Decimal `json:"taxRatePercent"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Subtotal        decimal.Decimal `json:"lineSubtotal"`
	Discount        decimal.Decimal `json:"lineDiscount"`
	Tax             decimal.Decimal `json:"lineTax"`
	Total           decimal.Decimal `json:"lineTotal"`
}

// ComputeLine turns a resolved rule and a quantity into a line snapshot.
// Unset rule percents become zero.
func ComputeLine(rule Rule, quantity decimal.Decimal) (Line, error) {
	return computeLine(quantity, rule.Price, rule.TaxRate(), rule.Discount())
}

// Requantify recomputes the line for a new quantity from its own snapshot.
// The price is not re-resolved.
func (l Line) Requantify(quantity decimal.Decimal) (Line, error) {
	return computeLine(quantity, l.UnitPrice, l.TaxRatePercent, l.DiscountPercent)
}

// ValidateQuantity rejects non-positive quantities and quantities with more
// fractional digits than the storage scale.
func ValidateQuantity(quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return common.WithDetails(ErrInvalidQuantity, map[string]string{"quantity": quantity.String()})
	}
	if !quantity.Equal(quantity.Truncate(money.InternalScale)) {
		return common.WithDetails(ErrInvalidQuantity, map[string]any{"quantity": quantity.String(), "maxScale": money.InternalScale})
	}
	return nil
}

func computeLine(quantity, price, taxRate, discountRate decimal.Decimal) (Line, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return Line{}, err
	}
	if err := money.ValidatePercent(taxRate); err != nil {
		return Line{}, fmt.Errorf("pricing: tax rate: %w", err)
	}
	if err := money.ValidatePercent(discountRate); err != nil {
		return Line{}, fmt.Errorf("pricing: discount: %w", err)
	}

	// discount first, tax on the discounted base
	subtotal := money.Round2(quantity.Mul(price))
	discount := money.Round2(money.MulPercent(subtotal, discountRate))
	tax := money.Round2(money.MulPercent(money.Sub(subtotal, discount), taxRate))
	total := money.Add(money.Sub(subtotal, discount), tax)

	if err := money.CheckBounds(quantity, subtotal, discount, tax, total); err != nil {
		return Line{}, fmt.Errorf("pricing: compute line: %w", err)
	}
	return Line{
		Quantity:        quantity,
		UnitPrice:       price,
		TaxRatePercent:  taxRate,
		DiscountPercent: discountRate,
		Subtotal:        subtotal,
		Discount:        discount,
		Tax:             tax,
		Total:           total,
	}, nil
}
