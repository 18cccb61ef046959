package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
	"github.com/emirsalihagic/miniERP-sub001/internal/money"
)

// Rule is a time-bounded price/tax/discount tuple for a product, optionally
// scoped to a client or a supplier. A rule with neither is the base rule.
type Rule struct {
	ID              uuid.UUID        `json:"id"`
	TenantID        uuid.UUID        `json:"tenantId"`
	ProductID       uuid.UUID        `json:"productId"`
	ClientID        *uuid.UUID       `json:"clientId,omitempty"`
	SupplierID      *uuid.UUID       `json:"supplierId,omitempty"`
	Price           decimal.Decimal  `json:"price"`
	Currency        string           `json:"currency"`
	TaxRatePercent  *decimal.Decimal `json:"taxRatePercent,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discountPercent,omitempty"`
	EffectiveFrom   time.Time        `json:"effectiveFrom"`
	EffectiveTo     *time.Time       `json:"effectiveTo,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// IsBase reports whether the rule applies regardless of client and supplier.
func (r Rule) IsBase() bool {
	return r.ClientID == nil && r.SupplierID == nil
}

// ActiveAt reports whether t falls inside [EffectiveFrom, EffectiveTo).
func (r Rule) ActiveAt(t time.Time) bool {
	if r.EffectiveFrom.After(t) {
		return false
	}
	return r.EffectiveTo == nil || r.EffectiveTo.After(t)
}

// OpenAt reports whether the rule has not ended by t.
func (r Rule) OpenAt(t time.Time) bool {
	return r.EffectiveTo == nil || r.EffectiveTo.After(t)
}

// SameScope reports whether both rules target the same product, client and supplier.
func (r Rule) SameScope(o Rule) bool {
	return r.ProductID == o.ProductID && sameID(r.ClientID, o.ClientID) && sameID(r.SupplierID, o.SupplierID)
}

// ScopeKey identifies the (product, client, supplier) scope for advisory locking.
func (r Rule) ScopeKey() string {
	return ScopeKey(r.ProductID, r.ClientID, r.SupplierID)
}

// ScopeKey builds the advisory lock key of a rule scope.
func ScopeKey(productID uuid.UUID, clientID, supplierID *uuid.UUID) string {
	var b strings.Builder
	b.WriteString("price-rule:")
	b.WriteString(productID.String())
	b.WriteString(":c=")
	if clientID != nil {
		b.WriteString(clientID.String())
	}
	b.WriteString(":s=")
	if supplierID != nil {
		b.WriteString(supplierID.String())
	}
	return b.String()
}

// Clone returns a deep copy; callers may keep it after the source changes.
func (r Rule) Clone() Rule {
	out := r
	out.ClientID = cloneID(r.ClientID)
	out.SupplierID = cloneID(r.SupplierID)
	if r.TaxRatePercent != nil {
		v := *r.TaxRatePercent
		out.TaxRatePercent = &v
	}
	if r.DiscountPercent != nil {
		v := *r.DiscountPercent
		out.DiscountPercent = &v
	}
	if r.EffectiveTo != nil {
		v := *r.EffectiveTo
		out.EffectiveTo = &v
	}
	return out
}

// TaxRate returns the tax percent, with an unset value normalised to zero.
func (r Rule) TaxRate() decimal.Decimal {
	if r.TaxRatePercent == nil {
		return decimal.Zero
	}
	return *r.TaxRatePercent
}

// Discount returns the discount percent, with an unset value normalised to zero.
func (r Rule) Discount() decimal.Decimal {
	if r.DiscountPercent == nil {
		return decimal.Zero
	}
	return *r.DiscountPercent
}

// Validate checks the rule's own fields.
func (r Rule) Validate() error {
	problems := map[string]string{}
	if r.ProductID == uuid.Nil {
		problems["productId"] = "required"
	}
	if r.ClientID != nil && r.SupplierID != nil {
		problems["supplierId"] = "cannot be combined with clientId"
	}
	if r.Price.IsNegative() {
		problems["price"] = "must not be negative"
	} else if err := money.CheckBounds(r.Price); err != nil {
		problems["price"] = "out of range"
	} else if err := money.CheckScale(money.InternalScale, r.Price); err != nil {
		problems["price"] = "at most 4 decimals"
	}
	if !validCurrency(r.Currency) {
		problems["currency"] = "must be a 3-letter uppercase code"
	}
	if r.TaxRatePercent != nil && money.ValidatePercent(*r.TaxRatePercent) != nil {
		problems["taxRatePercent"] = "must be between 0 and 100 with at most 4 decimals"
	}
	if r.DiscountPercent != nil && money.ValidatePercent(*r.DiscountPercent) != nil {
		problems["discountPercent"] = "must be between 0 and 100 with at most 4 decimals"
	}
	if r.EffectiveFrom.IsZero() {
		problems["effectiveFrom"] = "required"
	}
	if r.EffectiveTo != nil && !r.EffectiveTo.After(r.EffectiveFrom) {
		problems["effectiveTo"] = "must be after effectiveFrom"
	}
	if len(problems) > 0 {
		return common.WithDetails(ErrInvalidRule, problems)
	}
	return nil
}

// String is used in logs.
func (r Rule) String() string {
	return fmt.Sprintf("rule %s product=%s price=%s %s", r.ID, r.ProductID, r.Price.String(), r.Currency)
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
