package queue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/emirsalihagic/miniERP-sub001/internal/queue"
)

func TestDLQReplay(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	handler := queue.AdminHandler{
		Store:             store,
		Queue:             queue.Enqueuer{R: client, Prefix: "adm", DedupTTL: time.Minute, MaxAttempts: 5},
		PageSize:          10,
		VisibilityTimeout: 60 * time.Second,
	}

	raw, err := json.Marshal(struct {
		Kind        string `json:"kind"`
		Key         string `json:"key"`
		Payload     []byte `json:"payload"`
		Attempt     int    `json:"attempt"`
		MaxAttempts int    `json:"max_attempts"`
		AvailableAt int64  `json:"available_at"`
	}{
		Kind:        "document-sync",
		Key:         "dlq1",
		Payload:     []byte("payload"),
		Attempt:     2,
		MaxAttempts: 3,
		AvailableAt: time.Now().UnixNano(),
	})
	require.NoError(t, err)

	entry := queue.DLQEntry{
		Kind:           "document-sync",
		IdempotencyKey: "dlq1",
		Payload:        raw,
		Attempts:       2,
		CreatedAt:      time.Now(),
	}
	id, err := store.InsertDeadLetter(context.Background(), entry)
	require.NoError(t, err)

	body := bytes.NewBufferString(`{"ids":["` + id.String() + `"]}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.ReplayDLQ(rr, req)

	res := rr.Result()
	require.Equal(t, http.StatusOK, res.StatusCode)
	defer func() { _ = res.Body.Close() }()

	var resp struct {
		Replayed []string          `json:"replayed"`
		Failed   map[string]string `json:"failed"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	require.Contains(t, resp.Replayed, id.String())
	require.Empty(t, resp.Failed)

	depth, err := client.ZCard(context.Background(), "adm:queue:document-sync").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	_, err = store.GetDeadLetter(context.Background(), id)
	require.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func seedDLQ(t *testing.T, store *memoryStore, kind, key string) uuid.UUID {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"kind":         kind,
		"key":          key,
		"payload":      []byte(`{"sourceId":"x"}`),
		"attempt":      5,
		"max_attempts": 5,
	})
	require.NoError(t, err)
	id, err := store.InsertDeadLetter(context.Background(), queue.DLQEntry{
		Kind:           kind,
		IdempotencyKey: key,
		Payload:        raw,
		Attempts:       5,
	})
	require.NoError(t, err)
	return id
}

func newAdminRouter(h *queue.AdminHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/queue/dlq", h.ListDLQ)
	r.Delete("/admin/queue/dlq/{id}", h.DiscardDLQ)
	r.Get("/admin/queue/stats", h.Stats)
	return r
}

func TestListDLQFiltersByKind(t *testing.T) {
	store := newMemoryStore()
	seedDLQ(t, store, "document-sync", "a:1")
	seedDLQ(t, store, "document-sync", "b:1")
	seedDLQ(t, store, "other", "c:1")

	router := newAdminRouter(&queue.AdminHandler{Store: store, PageSize: 10})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/dlq?kind=document-sync&limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data []struct {
			Kind           string `json:"kind"`
			IdempotencyKey string `json:"idempotencyKey"`
			Attempts       int    `json:"attempts"`
		} `json:"data"`
		Pagination struct {
			Page       int `json:"page"`
			PerPage    int `json:"per_page"`
			TotalItems int `json:"total_items"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.Equal(t, "document-sync", resp.Data[0].Kind)
	require.Equal(t, 5, resp.Data[0].Attempts)
	require.Equal(t, 2, resp.Pagination.TotalItems)
	require.Equal(t, 1, resp.Pagination.PerPage)
}

func TestDiscardDLQ(t *testing.T) {
	store := newMemoryStore()
	id := seedDLQ(t, store, "document-sync", "a:1")
	router := newAdminRouter(&queue.AdminHandler{Store: store})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admin/queue/dlq/"+id.String(), nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, store.all())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admin/queue/dlq/"+id.String(), nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admin/queue/dlq/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatsReportsDepth(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	seedDLQ(t, store, "document-sync", "a:1")
	enq := queue.Enqueuer{R: client, Prefix: "st"}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "document-sync", Payload: []byte("{}"), IdempotencyKey: "b:1"}))

	router := newAdminRouter(&queue.AdminHandler{Store: store, Queue: enq})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats?kind=document-sync", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Data struct {
			Ready      int64 `json:"ready"`
			Processing int64 `json:"processing"`
			DLQ        int64 `json:"dlq"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, int64(1), resp.Data.Ready)
	require.Equal(t, int64(0), resp.Data.Processing)
	require.Equal(t, int64(1), resp.Data.DLQ)
}
