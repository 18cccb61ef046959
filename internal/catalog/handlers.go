package catalog

import (
	"net/http"
	"strconv"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
)

var errNotConfigured = common.NewAppError("CATALOG_UNAVAILABLE", "catalog service not configured", http.StatusServiceUnavailable, nil)

// Handler serves the read-only product lookups.
type Handler struct {
	service *Service
}

type HandlerConfig struct {
	Service *Service
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

type productPage struct {
	Data       []Product         `json:"data"`
	Pagination common.Pagination `json:"pagination"`
}

// Products handles GET /products. The total is repeated in X-Total-Count.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.WriteError(w, errNotConfigured)
		return
	}
	items, page, err := h.service.List(r.Context(), common.ParsePagination(r, h.service.defaultLimit))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if items == nil {
		items = []Product{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(page.TotalItems))
	common.JSON(w, http.StatusOK, productPage{Data: items, Pagination: page})
}

// ProductDetail handles GET /products/{productId}.
func (h *Handler) ProductDetail(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.WriteError(w, errNotConfigured)
		return
	}
	id, err := common.UUIDParam(r, "productId")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	p, err := h.service.Product(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, p)
}
