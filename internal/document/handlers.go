package document

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
)

// Handler exposes orders and invoices over HTTP. The same handlers serve
// both kinds; the route decides which.
type Handler struct {
	Svc          *Service
	DefaultLimit int
}

type createRequest struct {
	ClientID        *string          `json:"clientId" validate:"omitempty,uuid"`
	Currency        string           `json:"currency" validate:"required,len=3,uppercase"`
	DiscountPercent *decimal.Decimal `json:"discountPercent"`
}

type addLineRequest struct {
	ProductID string          `json:"productId" validate:"required,uuid"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type updateLineRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type discountRequest struct {
	DiscountPercent decimal.Decimal `json:"discountPercent"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// Routes registers the document endpoints of one kind.
func (h *Handler) Routes(kind Kind) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/", h.create(kind))
		r.Get("/", h.list(kind))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get(kind))
			r.Post("/lines", h.addLine(kind))
			r.Patch("/lines/{lineId}", h.updateLine(kind))
			r.Delete("/lines/{lineId}", h.removeLine(kind))
			r.Put("/discount", h.setDiscount(kind))
			r.Post("/status", h.transition(kind))
			r.Post("/recompute", h.recompute(kind))
			if kind == KindOrder {
				r.Post("/invoice", h.createInvoice)
			}
		})
	}
}

func (h *Handler) create(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
		if err := common.Validate(req); err != nil {
			common.WriteError(w, err)
			return
		}
		in := NewDocument{Kind: kind, Currency: req.Currency}
		if req.ClientID != nil && *req.ClientID != "" {
			id := uuid.MustParse(*req.ClientID)
			in.ClientID = &id
		}
		if req.DiscountPercent != nil {
			in.DiscountPercent = *req.DiscountPercent
		}
		doc, err := h.Svc.Create(r.Context(), in)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		writeDocument(w, http.StatusCreated, doc)
	}
}

func (h *Handler) list(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := h.DefaultLimit
		if limit <= 0 {
			limit = 20
		}
		page := common.ParsePagination(r, limit)
		var status *Status
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			s, ok := ParseStatus(kind, strings.ToUpper(raw))
			if !ok {
				common.WriteError(w, common.BadRequest("unknown status "+raw, nil))
				return
			}
			status = &s
		}
		docs, page, err := h.Svc.List(r.Context(), kind, status, page)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		common.JSON(w, http.StatusOK, map[string]any{"data": docs, "pagination": page})
	}
}

func (h *Handler) get(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.documentID(w, r, kind)
		if !ok {
			return
		}
		doc, err := h.Svc.Get(r.Context(), id)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		writeDocument(w, http.StatusOK, doc)
	}
}

func (h *Handler) addLine(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.documentID(w, r, kind)
		if !ok {
			return
		}
		var req addLineRequest
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
		if err := common.Validate(req); err != nil {
			common.WriteError(w, err)
			return
		}
		line, err := h.Svc.AddLine(r.Context(), id, uuid.MustParse(req.ProductID), req.Quantity)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		common.Data(w, http.StatusCreated, line)
	}
}

func (h *Handler) updateLine(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.documentID(w, r, kind)
		if !ok {
			return
		}
		lineID, err := common.UUIDParam(r, "lineId")
		if err != nil {
			common.WriteError(w, err)
			return
		}
		var req updateLineRequest
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
		line, err := h.Svc.UpdateLineQuantity(r.Context(), id, lineID, req.Quantity)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		common.Data(w, http.StatusOK, line)
	}
}

func (h *Handler) removeLine(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.documentID(w, r, kind)
		if !ok {
			return
		}
		lineID, err := common.UUIDParam(r, "lineId")
		if err != nil {
			common.WriteError(w, err)
			return
		}
		doc, err := h.Svc.RemoveLine(r.Context(), id, lineID)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		writeDocument(w, http.StatusOK, doc)
	}
}

func (h *Handler) setDiscount(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.documentID(w, r, kind)
		if !ok {
			return
		}
		var req discountRequest
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
		doc, err := h.Svc.SetDiscount(r.Context(), id, req.DiscountPercent)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		writeDocument(w, http.StatusOK, doc)
	}
}

func (h *Handler) transition(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.documentID(w, r, kind)
		if !ok {
			return
		}
		var req statusRequest
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
		if err := common.Validate(req); err != nil {
			common.WriteError(w, err)
			return
		}
		to, ok := ParseStatus(kind, strings.ToUpper(strings.TrimSpace(req.Status)))
		if !ok {
			common.WriteError(w, common.WithDetails(ErrInvalidTransition, map[string]string{"to": req.Status}))
			return
		}
		doc, err := h.Svc.Transition(r.Context(), id, to)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		writeDocument(w, http.StatusOK, doc)
	}
}

func (h *Handler) recompute(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.documentID(w, r, kind)
		if !ok {
			return
		}
		doc, err := h.Svc.Recompute(r.Context(), id)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		writeDocument(w, http.StatusOK, doc)
	}
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r, KindOrder)
	if !ok {
		return
	}
	invoice, err := h.Svc.CreateInvoiceFromOrder(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/invoices/"+invoice.ID.String())
	writeDocument(w, http.StatusCreated, invoice)
}

// documentID parses {id} and checks the document belongs to the route kind,
// so an invoice id under /orders is a 404.
func (h *Handler) documentID(w http.ResponseWriter, r *http.Request, kind Kind) (uuid.UUID, bool) {
	id, err := common.UUIDParam(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return uuid.Nil, false
	}
	got, err := h.Svc.Kind(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return uuid.Nil, false
	}
	if got != kind {
		common.WriteError(w, ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func writeDocument(w http.ResponseWriter, status int, doc Document) {
	w.Header().Set("ETag", `W/"`+strconv.FormatInt(doc.Version, 10)+`"`)
	common.Data(w, status, doc)
}
