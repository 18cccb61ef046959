package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/emirsalihagic/miniERP-sub001/internal/resilience"
)

// Task is a unit of deferred work.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is 1 for the first delivery. On Enqueue it carries the number
	// of deliveries already spent, which replays use to keep history.
	Attempt int
}

// Enqueuer publishes tasks into per-kind Redis sorted sets scored by the
// time they become due.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue schedules t. A task carrying an idempotency key is accepted once
// per dedup window; duplicates are dropped silently.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     max(t.Attempt, 0),
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		fresh, err := e.R.SetNX(ctx, dedupKey(e.Prefix, kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, queueKey(e.Prefix, kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return err
	}
	observeEnqueued(kind)
	return nil
}

// Discard wraps a handler error that should be acknowledged without retry.
func Discard(err error) error { return outcome(err, actionDiscard) }

// DeadLetter wraps a handler error that should skip the remaining attempts
// and go straight to the dead letter store.
func DeadLetter(err error) error { return outcome(err, actionDeadLetter) }

type action int

const (
	actionRetry action = iota
	actionDiscard
	actionDeadLetter
)

type outcomeError struct {
	err    error
	action action
}

func (o *outcomeError) Error() string { return o.err.Error() }
func (o *outcomeError) Unwrap() error { return o.err }

func outcome(err error, a action) error {
	if err == nil {
		return nil
	}
	return &outcomeError{err: err, action: a}
}

// IsDiscard reports whether err was wrapped with Discard.
func IsDiscard(err error) bool { return actionOf(err) == actionDiscard }

// IsDeadLetter reports whether err was wrapped with DeadLetter.
func IsDeadLetter(err error) bool { return actionOf(err) == actionDeadLetter }

func actionOf(err error) action {
	var o *outcomeError
	if errors.As(err, &o) {
		return o.action
	}
	return actionRetry
}

// claimScript moves the earliest due task from the ready set into the
// processing set, scored by its visibility deadline.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', '1')
if #due == 0 then
  return false
end
redis.call('ZREM', KEYS[1], due[1])
redis.call('ZADD', KEYS[2], ARGV[2], due[1])
return due[1]
`)

// Worker consumes one task kind. Claimed tasks sit in a processing set until
// they are acknowledged; entries whose visibility deadline passes are put
// back on the ready set, so a crashed worker loses nothing.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline bounds a single handler invocation. Zero means the
	// visibility timeout.
	SoftDeadline time.Duration
	// PollInterval is the idle wait between empty claims.
	PollInterval time.Duration
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	RetryJitter  float64
	// Store receives tasks that exhausted their attempts. Without a store
	// they are pushed to a Redis list.
	Store  Store
	Logger *zerolog.Logger
}

// Run processes tasks until ctx is cancelled, then waits for in-flight
// handlers to return.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	sem := make(chan struct{}, max(w.Concurrency, 1))
	sweep := time.NewTicker(visibility / 2)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			if err := w.requeueExpired(ctx, kind); err != nil && ctx.Err() == nil {
				return err
			}
			continue
		case sem <- struct{}{}:
		}

		raw, err := w.claim(ctx, kind, visibility)
		if err != nil {
			<-sem
			if errors.Is(err, redis.Nil) {
				if !sleep(ctx, poll) {
					return nil
				}
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			<-sem
			w.logger().Warn().Err(err).Str("kind", kind).Msg("drop undecodable task")
			_ = w.R.ZRem(context.WithoutCancel(ctx), w.processingKey(kind), raw).Err()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.deliver(ctx, kind, raw, msg, visibility)
		}()
	}
}

func (w Worker) claim(ctx context.Context, kind string, visibility time.Duration) (string, error) {
	now := time.Now()
	return claimScript.Run(ctx, w.R,
		[]string{queueKey(w.Prefix, kind), w.processingKey(kind)},
		strconv.FormatInt(now.UnixNano(), 10),
		strconv.FormatInt(now.Add(visibility).UnixNano(), 10),
	).Text()
}

func (w Worker) deliver(ctx context.Context, kind, raw string, msg taskMessage, visibility time.Duration) {
	soft := w.SoftDeadline
	if soft <= 0 || soft > visibility {
		soft = visibility
	}
	// bookkeeping must survive the handler's deadline and worker shutdown
	bookCtx := context.WithoutCancel(ctx)
	jobCtx, cancel := context.WithTimeout(ctx, soft)
	defer cancel()

	msg.Attempt++
	start := time.Now()
	err := w.Handler(jobCtx, Task{
		Kind:           kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        msg.Attempt,
	})
	observeDuration(kind, time.Since(start))

	_ = w.R.ZRem(bookCtx, w.processingKey(kind), raw).Err()
	log := w.logger().With().Str("kind", kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Logger()
	switch {
	case err == nil:
		observeProcessed(kind, "ok")
		w.release(bookCtx, msg)
	case IsDiscard(err):
		observeProcessed(kind, "discarded")
		log.Warn().Err(err).Msg("task discarded")
		w.release(bookCtx, msg)
	case IsDeadLetter(err), msg.Attempt >= msg.MaxAttempts:
		observeProcessed(kind, "dlq")
		w.moveToDLQ(bookCtx, msg, err, log)
		w.release(bookCtx, msg)
	default:
		observeProcessed(kind, "retry")
		w.retry(bookCtx, msg, err, log)
	}
}

func (w Worker) retry(ctx context.Context, msg taskMessage, cause error, log zerolog.Logger) {
	base := w.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	delay := resilience.Backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := w.R.ZAdd(ctx, queueKey(w.Prefix, msg.Kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		log.Error().Err(err).Msg("reschedule task")
		return
	}
	log.Warn().Err(cause).Dur("retry_in", delay).Msg("task failed, retry scheduled")
}

func (w Worker) moveToDLQ(ctx context.Context, msg taskMessage, cause error, log zerolog.Logger) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if w.Store == nil {
		_ = w.R.LPush(ctx, w.dlqKey(msg.Kind), raw).Err()
		log.Error().Err(cause).Msg("task moved to redis dlq")
		return
	}
	var lastErr *string
	if cause != nil {
		s := cause.Error()
		lastErr = &s
	}
	id, err := w.Store.InsertDeadLetter(ctx, DLQEntry{
		Kind:           msg.Kind,
		IdempotencyKey: msg.Key,
		Payload:        raw,
		Attempts:       msg.Attempt,
		LastError:      lastErr,
	})
	if err != nil {
		log.Error().Err(err).Msg("persist dlq entry, falling back to redis")
		_ = w.R.LPush(ctx, w.dlqKey(msg.Kind), raw).Err()
		return
	}
	addDLQ(msg.Kind, 1)
	log.Error().Err(cause).Str("dlq_id", id.String()).Msg("task moved to dlq")
}

// release frees the dedup key so a later failure can schedule a new task.
func (w Worker) release(ctx context.Context, msg taskMessage) {
	if msg.Key != "" {
		_ = w.R.Del(ctx, dedupKey(w.Prefix, msg.Kind, msg.Key)).Err()
	}
}

// requeueExpired returns tasks whose visibility deadline passed to the ready
// set, counting the lost delivery as an attempt.
func (w Worker) requeueExpired(ctx context.Context, kind string) error {
	processing := w.processingKey(kind)
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	due, err := w.R.ZRangeByScore(ctx, processing, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		removed, err := w.R.ZRem(ctx, processing, raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.Attempt++
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, queueKey(w.Prefix, kind), redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
		w.logger().Warn().Str("kind", kind).Int("attempt", msg.Attempt).Msg("visibility timeout expired, task requeued")
	}
	return nil
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (w Worker) processingKey(kind string) string { return scopedKey(w.Prefix, kind+":processing") }
func (w Worker) dlqKey(kind string) string        { return scopedKey(w.Prefix, kind+":dlq") }

func queueKey(prefix, kind string) string {
	if prefix == "" {
		return "queue:" + kind
	}
	return fmt.Sprintf("%s:queue:%s", prefix, kind)
}

func dedupKey(prefix, kind, key string) string {
	return scopedKey(prefix, "dedup:"+kind+":"+key)
}

func scopedKey(prefix, suffix string) string {
	if prefix == "" {
		prefix = "queue"
	}
	return prefix + ":" + suffix
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// sanitizeKind accepts lower-case alphanumerics plus "-", "_" and ":".
func sanitizeKind(kind string) string {
	for _, c := range kind {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return ""
		}
	}
	return kind
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
