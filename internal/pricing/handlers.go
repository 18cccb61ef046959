package pricing

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
)

// Handler exposes price resolution and rule administration endpoints.
type Handler struct {
	Svc      *Service
	Resolver *Resolver
}

type createRuleRequest struct {
	ProductID       string           `json:"productId" validate:"required,uuid"`
	ClientID        *string          `json:"clientId" validate:"omitempty,uuid"`
	SupplierID      *string          `json:"supplierId" validate:"omitempty,uuid"`
	Price           decimal.Decimal  `json:"price"`
	Currency        string           `json:"currency" validate:"required,len=3,uppercase"`
	TaxRatePercent  *decimal.Decimal `json:"taxRatePercent"`
	DiscountPercent *decimal.Decimal `json:"discountPercent"`
	EffectiveFrom   *time.Time       `json:"effectiveFrom"`
	EffectiveTo     *time.Time       `json:"effectiveTo"`
}

type closeRuleRequest struct {
	EffectiveTo *time.Time `json:"effectiveTo"`
}

// Resolve handles GET /prices/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	if h.Resolver == nil {
		common.WriteError(w, errors.New("resolver not configured"))
		return
	}
	q := Query{}
	productID, err := common.OptionalUUIDQuery(r, "productId")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if productID == nil {
		common.WriteError(w, common.BadRequest("productId is required", nil))
		return
	}
	q.ProductID = *productID
	if q.ClientID, err = common.OptionalUUIDQuery(r, "clientId"); err != nil {
		common.WriteError(w, err)
		return
	}
	if q.SupplierID, err = common.OptionalUUIDQuery(r, "supplierId"); err != nil {
		common.WriteError(w, err)
		return
	}
	rule, err := h.Resolver.ResolveQuery(r.Context(), q)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rule)
}

// CreateRule handles POST /price-rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	in := NewRule{
		ProductID:       uuid.MustParse(req.ProductID),
		ClientID:        parseOptionalID(req.ClientID),
		SupplierID:      parseOptionalID(req.SupplierID),
		Price:           req.Price,
		Currency:        req.Currency,
		TaxRatePercent:  req.TaxRatePercent,
		DiscountPercent: req.DiscountPercent,
		EffectiveTo:     req.EffectiveTo,
	}
	if req.EffectiveFrom != nil {
		in.EffectiveFrom = req.EffectiveFrom.UTC()
	}
	rule, err := h.Svc.CreateRule(r.Context(), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, rule)
}

// ListRules handles GET /products/{productId}/price-rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	productID, err := common.UUIDParam(r, "productId")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	rules, err := h.Svc.ListRules(r.Context(), productID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rules)
}

// CloseRule handles POST /price-rules/{ruleId}/close.
func (h *Handler) CloseRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := common.UUIDParam(r, "ruleId")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req closeRuleRequest
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	var at time.Time
	if req.EffectiveTo != nil {
		at = req.EffectiveTo.UTC()
	}
	rule, err := h.Svc.CloseRule(r.Context(), ruleID, at)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rule)
}

func parseOptionalID(raw *string) *uuid.UUID {
	if raw == nil || *raw == "" {
		return nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil
	}
	return &id
}
