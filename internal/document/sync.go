package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emirsalihagic/miniERP-sub001/internal/lock"
	"github.com/emirsalihagic/miniERP-sub001/internal/obs"
	"github.com/emirsalihagic/miniERP-sub001/internal/queue"
	"github.com/emirsalihagic/miniERP-sub001/internal/resilience"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

// SyncTaskKind is the queue kind of sync retries.
const SyncTaskKind = "document-sync"

// SyncPayload is the body of a document-sync task.
type SyncPayload struct {
	TenantID uuid.UUID `json:"tenantId"`
	SourceID uuid.UUID `json:"sourceId"`
	Version  int64     `json:"version"`
}

// NewSyncTask builds the retry task for a failed sync. The idempotency key
// collapses retries of the same source version.
func NewSyncTask(tenantID, sourceID uuid.UUID, version int64) (queue.Task, error) {
	raw, err := json.Marshal(SyncPayload{TenantID: tenantID, SourceID: sourceID, Version: version})
	if err != nil {
		return queue.Task{}, err
	}
	return queue.Task{
		Kind:           SyncTaskKind,
		Payload:        raw,
		IdempotencyKey: fmt.Sprintf("%s:%d", sourceID, version),
	}, nil
}

// RetrySync mirrors the current totals of sourceID into its counterpart. It
// holds the per-source Redis lock and runs behind the sync circuit breaker.
func (s *Service) RetrySync(ctx context.Context, sourceID uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	run := func(ctx context.Context) error {
		if s.Breaker == nil {
			return s.retrySync(ctx, sourceID)
		}
		return s.Breaker.Execute(ctx, func(ctx context.Context) error {
			return s.retrySync(ctx, sourceID)
		})
	}
	if s.Locker == nil {
		return run(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return s.Locker.TryLock(ctx, lock.Key(SyncTaskKind, sourceID.String()), ttl, run)
}

func (s *Service) retrySync(ctx context.Context, sourceID uuid.UUID) error {
	err := s.Store.InTx(ctx, func(q Queries) error {
		src, err := q.LockDocument(ctx, sourceID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return resilience.Permanent(err)
			}
			return err
		}
		if src.LinkedDocumentID == nil {
			return resilience.Permanent(ErrNotLinked)
		}
		if err := resync(ctx, q, src); err != nil {
			return &SyncError{SourceID: src.ID, CounterpartID: *src.LinkedDocumentID, SourceVersion: src.Version, Err: err}
		}
		return q.ClearSyncPending(ctx, src.ID, src.Version)
	})
	if err != nil {
		if errors.Is(err, ErrSyncFailure) {
			obs.ObserveSync("failed")
		}
		return err
	}
	obs.ObserveSync("retried")
	s.log(ctx).Info().Str("source_id", sourceID.String()).Msg("document sync retried")
	return nil
}

// resync pushes the totals of an authoritative source into its counterpart.
// A follower pulls from its counterpart instead.
func resync(ctx context.Context, q Queries, src Document) error {
	if !src.Follower() {
		return mirror(ctx, q, src, *src.LinkedDocumentID)
	}
	authority, err := q.GetDocument(ctx, *src.LinkedDocumentID)
	if err != nil {
		return err
	}
	_, err = copyTotals(ctx, q, authority, src)
	return err
}

// SweepSyncOutbox enqueues a retry for every outbox row older than grace and
// drops the rows that were handed to the queue. Rows stay when the enqueue
// fails, so a crash between commit and enqueue is picked up on the next
// sweep. It returns the number of tasks enqueued.
func (s *Service) SweepSyncOutbox(ctx context.Context, grace time.Duration, limit int) (int, error) {
	if s == nil || s.Store == nil || s.Queue == nil {
		return 0, errors.New("document service: outbox sweep needs store and queue")
	}
	if limit <= 0 {
		limit = 100
	}
	pending, err := s.Store.PendingSyncs(ctx, s.now().Add(-grace), limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, p := range pending {
		tctx := tenant.With(ctx, p.TenantID.String())
		task, err := NewSyncTask(p.TenantID, p.SourceID, p.Version)
		if err != nil {
			return swept, err
		}
		if err := s.Queue.Enqueue(tctx, task); err != nil {
			return swept, fmt.Errorf("enqueue outbox row %s: %w", p.SourceID, err)
		}
		if err := s.Store.ClearSyncPending(tctx, p.SourceID, p.Version); err != nil {
			return swept, err
		}
		swept++
	}
	if swept > 0 {
		s.Logger.Info().Int("swept", swept).Msg("sync outbox swept")
	}
	return swept, nil
}

// SyncTaskHandler adapts RetrySync to the queue worker. Undecodable tasks go
// straight to the dead letter store, tasks whose source vanished or lost its
// link are discarded, and everything else is retried.
func SyncTaskHandler(svc *Service) func(context.Context, queue.Task) error {
	return func(ctx context.Context, task queue.Task) error {
		var payload SyncPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return queue.DeadLetter(fmt.Errorf("decode sync payload: %w", err))
		}
		if payload.TenantID == uuid.Nil || payload.SourceID == uuid.Nil {
			return queue.DeadLetter(errors.New("sync payload without tenant or source"))
		}
		ctx = tenant.With(ctx, payload.TenantID.String())
		err := svc.RetrySync(ctx, payload.SourceID)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotLinked) {
			return queue.Discard(err)
		}
		return err
	}
}
