package queue

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
)

var (
	errQueueUnavailable = common.NewAppError("QUEUE_UNAVAILABLE", "queue dependencies unavailable", http.StatusServiceUnavailable, nil)
	errDLQEntryNotFound = common.NewAppError("DLQ_ENTRY_NOT_FOUND", "dead letter entry not found", http.StatusNotFound, nil)
	errKindRequired     = common.NewAppError("BAD_REQUEST", "a valid kind is required", http.StatusBadRequest, nil)
)

// AdminHandler is the operator surface over the queue: dead letter
// inspection, replay and discard, and per-kind depth.
type AdminHandler struct {
	Store             Store
	Queue             Enqueuer
	PageSize          int
	Logger            zerolog.Logger
	VisibilityTimeout time.Duration
}

type dlqView struct {
	ID             uuid.UUID    `json:"id"`
	Kind           string       `json:"kind"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Attempts       int          `json:"attempts"`
	LastError      *string      `json:"lastError,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	Message        *taskMessage `json:"message,omitempty"`
}

type dlqPage struct {
	Data       []dlqView         `json:"data"`
	Pagination common.Pagination `json:"pagination"`
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}

type replayResult struct {
	Replayed []uuid.UUID       `json:"replayed"`
	Failed   map[string]string `json:"failed,omitempty"`
}

type kindStats struct {
	Kind              string  `json:"kind"`
	Ready             int64   `json:"ready"`
	Processing        int64   `json:"processing"`
	DLQ               int64   `json:"dlq"`
	OldestLagMillis   int64   `json:"oldestLagMs"`
	VisibilitySeconds float64 `json:"visibilityTimeoutSeconds"`
}

func viewOf(entry DLQEntry) dlqView {
	v := dlqView{
		ID:             entry.ID,
		Kind:           entry.Kind,
		IdempotencyKey: entry.IdempotencyKey,
		Attempts:       entry.Attempts,
		LastError:      entry.LastError,
		CreatedAt:      entry.CreatedAt,
	}
	if msg, err := decodeMessage(string(entry.Payload)); err == nil {
		v.Message = &msg
	}
	return v
}

// ListDLQ handles GET /admin/queue/dlq. Entries come newest first; ?kind
// narrows the listing.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.WriteError(w, errQueueUnavailable)
		return
	}
	ctx := r.Context()
	kind := kindParam(r.URL.Query().Get("kind"))
	page := common.ParsePagination(r, h.pageSize())

	total, err := h.Store.CountDeadLetters(ctx, kind)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	entries, err := h.Store.ListDeadLetters(ctx, kind, page.PerPage, page.Offset())
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("kind", kind).Msg("list dead letters")
		common.WriteError(w, err)
		return
	}
	page.TotalItems = int(total)

	out := dlqPage{Data: make([]dlqView, 0, len(entries)), Pagination: page}
	for _, entry := range entries {
		out.Data = append(out.Data, viewOf(entry))
	}
	common.JSON(w, http.StatusOK, out)
}

// ReplayDLQ handles POST /admin/queue/dlq/replay. The body names either
// explicit ids or a kind whose newest entries are replayed up to limit.
// Per-entry failures are reported without failing the request.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.WriteError(w, errQueueUnavailable)
		return
	}
	var req replayRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	ctx := r.Context()
	res := replayResult{Replayed: []uuid.UUID{}, Failed: map[string]string{}}

	entries, err := h.replaySet(ctx, req, res.Failed)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	for _, entry := range entries {
		if err := h.requeue(ctx, entry); err != nil {
			res.Failed[entry.ID.String()] = err.Error()
			continue
		}
		res.Replayed = append(res.Replayed, entry.ID)
	}

	h.Logger.Info().
		Int("replayed", len(res.Replayed)).
		Int("failed", len(res.Failed)).
		Str("kind", req.Kind).
		Msg("dlq replay")
	if len(res.Failed) == 0 {
		res.Failed = nil
	}
	common.JSON(w, http.StatusOK, res)
}

// replaySet loads the entries a replay request addresses. Ids that cannot be
// loaded are recorded in failed.
func (h *AdminHandler) replaySet(ctx context.Context, req replayRequest, failed map[string]string) ([]DLQEntry, error) {
	ids := distinct(req.IDs)
	if len(ids) == 0 {
		kind := kindParam(req.Kind)
		if kind == "" {
			return nil, common.BadRequest("ids or kind required", nil)
		}
		limit := req.Limit
		if limit <= 0 || limit > common.MaxPerPage {
			limit = h.pageSize()
		}
		return h.Store.ListDeadLetters(ctx, kind, limit, 0)
	}

	entries := make([]DLQEntry, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			failed[raw] = "invalid uuid"
			continue
		}
		entry, err := h.Store.GetDeadLetter(ctx, id)
		if err != nil {
			failed[raw] = err.Error()
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// DiscardDLQ handles DELETE /admin/queue/dlq/{id}.
func (h *AdminHandler) DiscardDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.WriteError(w, errQueueUnavailable)
		return
	}
	id, err := common.UUIDParam(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	ctx := r.Context()
	entry, err := h.Store.GetDeadLetter(ctx, id)
	switch {
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, ErrEntryNotFound):
		common.WriteError(w, errDLQEntryNotFound)
		return
	case err != nil:
		common.WriteError(w, err)
		return
	}
	if err := h.Store.DeleteDeadLetter(ctx, id); err != nil {
		common.WriteError(w, err)
		return
	}
	h.refreshDLQ(ctx, entry.Kind)
	zerolog.Ctx(ctx).Info().Str("dlq_id", id.String()).Str("kind", entry.Kind).Msg("dlq entry discarded")
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /admin/queue/stats?kind=.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil || h.Store == nil {
		common.WriteError(w, errQueueUnavailable)
		return
	}
	kind := kindParam(r.URL.Query().Get("kind"))
	if kind == "" {
		common.WriteError(w, errKindRequired)
		return
	}
	ctx := r.Context()
	readyKey := queueKey(h.Queue.Prefix, kind)

	pipe := h.Queue.R.Pipeline()
	readyCmd := pipe.ZCard(ctx, readyKey)
	processingCmd := pipe.ZCard(ctx, Worker{Prefix: h.Queue.Prefix}.processingKey(kind))
	oldestCmd := pipe.ZRangeWithScores(ctx, readyKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		common.WriteError(w, err)
		return
	}
	dlq, err := h.Store.CountDeadLetters(ctx, kind)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = 60 * time.Second
	}
	stats := kindStats{
		Kind:              kind,
		Ready:             readyCmd.Val(),
		Processing:        processingCmd.Val(),
		DLQ:               dlq,
		VisibilitySeconds: visibility.Seconds(),
	}
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		if lag := time.Since(time.Unix(0, int64(oldest[0].Score))); lag > 0 {
			stats.OldestLagMillis = lag.Milliseconds()
		}
	}

	setDepth(kind, stats.Ready)
	setDLQ(kind, dlq)
	common.Data(w, http.StatusOK, stats)
}

// requeue gives a dead task one more delivery. The attempt counter steps back
// by one so the history survives; the dedup key was released when the task
// died, so Enqueue accepts it again.
func (h *AdminHandler) requeue(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	task := Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        max(msg.Attempt-1, 0),
	}
	if err := h.Queue.Enqueue(ctx, task); err != nil {
		return err
	}
	if err := h.Store.DeleteDeadLetter(ctx, entry.ID); err != nil {
		return err
	}
	h.refreshDLQ(ctx, msg.Kind)
	return nil
}

func (h *AdminHandler) refreshDLQ(ctx context.Context, kind string) {
	if n, err := h.Store.CountDeadLetters(ctx, kind); err == nil {
		setDLQ(kind, n)
	}
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize > 0 {
		return h.PageSize
	}
	return 50
}

func kindParam(raw string) string {
	return sanitizeKind(strings.TrimSpace(raw))
}

func distinct(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
