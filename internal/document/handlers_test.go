package document_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/emirsalihagic/miniERP-sub001/internal/document"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

func newRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t)
	tenantID, ok := tenant.From(f.ctx)
	require.True(t, ok)
	h := &document.Handler{Svc: f.svc}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(tenant.With(req.Context(), tenantID)))
		})
	})
	r.Route("/orders", h.Routes(document.KindOrder))
	r.Route("/invoices", h.Routes(document.KindInvoice))
	return r, f
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type docEnvelope struct {
	Data struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		GrandTotal string `json:"grandTotal"`
		Lines      []struct {
			ID string `json:"id"`
		} `json:"lines"`
	} `json:"data"`
}

func decodeDoc(t *testing.T, rr *httptest.ResponseRecorder) docEnvelope {
	t.Helper()
	var env docEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env
}

func TestHandlerOrderFlow(t *testing.T) {
	router, f := newRouter(t)

	rr := do(t, router, http.MethodPost, "/orders", `{"currency":"EUR"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	orderID := decodeDoc(t, rr).Data.ID

	rr = do(t, router, http.MethodPost, "/orders/"+orderID+"/lines", `{"productId":"`+f.product.String()+`","quantity":"2"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodGet, "/orders/"+orderID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, `W/"2"`, rr.Header().Get("ETag"))
	order := decodeDoc(t, rr)
	require.Equal(t, "240", order.Data.GrandTotal)
	require.Len(t, order.Data.Lines, 1)
	lineID := order.Data.Lines[0].ID

	rr = do(t, router, http.MethodPatch, "/orders/"+orderID+"/lines/"+lineID, `{"quantity":"1"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodPut, "/orders/"+orderID+"/discount", `{"discountPercent":"50"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "70", decodeDoc(t, rr).Data.GrandTotal)

	rr = do(t, router, http.MethodPost, "/orders/"+orderID+"/invoice", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	invoice := decodeDoc(t, rr)
	require.Equal(t, "DRAFT", invoice.Data.Status)
	require.Equal(t, "/api/v1/invoices/"+invoice.Data.ID, rr.Header().Get("Location"))

	rr = do(t, router, http.MethodGet, "/orders/"+invoice.Data.ID, "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, http.MethodPost, "/invoices/"+invoice.Data.ID+"/status", `{"status":"issued"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "ISSUED", decodeDoc(t, rr).Data.Status)

	rr = do(t, router, http.MethodPost, "/orders/"+orderID+"/lines", `{"productId":"`+f.product.String()+`","quantity":"1"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "DOCUMENT_LOCKED")
}

func TestHandlerListPaginates(t *testing.T) {
	router, _ := newRouter(t)
	for i := 0; i < 3; i++ {
		rr := do(t, router, http.MethodPost, "/invoices", `{"currency":"EUR"}`)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := do(t, router, http.MethodGet, "/invoices?page=1&limit=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data       []json.RawMessage `json:"data"`
		Pagination struct {
			Page       int `json:"page"`
			PerPage    int `json:"per_page"`
			TotalItems int `json:"total_items"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	require.Equal(t, 3, body.Pagination.TotalItems)
	require.Equal(t, 2, body.Pagination.PerPage)

	rr = do(t, router, http.MethodGet, "/invoices?status=paid", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Empty(t, body.Data)

	rr = do(t, router, http.MethodGet, "/invoices?status=pending", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerErrors(t *testing.T) {
	router, _ := newRouter(t)

	rr := do(t, router, http.MethodPost, "/orders", `{"currency":"euro"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, http.MethodPost, "/orders", `{"currency":"EUR","unknown":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/orders/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/invoices", `{"currency":"EUR"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeDoc(t, rr).Data.ID

	rr = do(t, router, http.MethodPost, "/invoices/"+id+"/status", `{"status":"INVOICE_CREATED"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_TRANSITION")

	rr = do(t, router, http.MethodPost, "/invoices/"+id+"/invoice", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, http.MethodPut, "/invoices/"+id+"/discount", `{"discountPercent":"150"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_PERCENT")

	rr = do(t, router, http.MethodPut, "/invoices/"+id+"/discount", `{"discountPercent":"10.00005"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_PERCENT")
}
