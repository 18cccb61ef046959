package pricing

import (
	"net/http"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
)

var (
	// ErrPriceNotFound is returned when no rule applies to the product. It is
	// never defaulted to a zero price.
	ErrPriceNotFound = common.NewAppError("PRICE_NOT_FOUND", "no applicable price rule", http.StatusUnprocessableEntity, nil)
	// ErrInvalidQuantity is returned for non-positive quantities or quantities
	// finer than the internal scale.
	ErrInvalidQuantity = common.NewAppError("INVALID_QUANTITY", "quantity must be positive with at most 4 decimals", http.StatusUnprocessableEntity, nil)
	// ErrInvalidRule reports a price rule that fails validation.
	ErrInvalidRule = common.NewAppError("INVALID_PRICE_RULE", "price rule is invalid", http.StatusUnprocessableEntity, nil)
	// ErrBaseRuleMissing is returned when an override is created before the product's base rule.
	ErrBaseRuleMissing = common.NewAppError("BASE_RULE_MISSING", "product has no base price rule", http.StatusUnprocessableEntity, nil)
	// ErrRuleOverlap is returned when a new rule would start before an existing rule of the same scope.
	ErrRuleOverlap = common.NewAppError("PRICE_RULE_OVERLAP", "price rule overlaps an existing rule", http.StatusConflict, nil)
	// ErrRuleNotFound is returned when a rule id does not exist for the tenant.
	ErrRuleNotFound = common.NewAppError("PRICE_RULE_NOT_FOUND", "price rule not found", http.StatusNotFound, nil)
)
