package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/emirsalihagic/miniERP-sub001/internal/db"
)

var (
	// ErrStoreUnavailable indicates the DLQ store dependency is not configured.
	ErrStoreUnavailable = errors.New("queue: store unavailable")
	// ErrEntryNotFound is returned when a DLQ id does not exist.
	ErrEntryNotFound = errors.New("queue: dlq entry not found")
)

// Store persists tasks that exhausted their attempts.
type Store interface {
	InsertDeadLetter(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteDeadLetter(ctx context.Context, id uuid.UUID) error
	GetDeadLetter(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListDeadLetters(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountDeadLetters(ctx context.Context, kind string) (int64, error)
	DeadLetterSizes(ctx context.Context) (map[string]int64, error)
}

// DLQEntry is a row of queue_dlq. Payload holds the encoded task message.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}

// NewStore returns a Store over any pgx connection, pool or transaction.
func NewStore(conn db.DBTX) Store {
	return &pgStore{db: conn}
}

type pgStore struct {
	db db.DBTX
}

const dlqColumns = `id, kind, idem_key, payload, attempts, last_error, created_at`

func (s *pgStore) InsertDeadLetter(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	if s == nil || s.db == nil {
		return uuid.Nil, ErrStoreUnavailable
	}
	lastErr := pgtype.Text{}
	if entry.LastError != nil {
		lastErr = pgtype.Text{String: *entry.LastError, Valid: true}
	}
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, entry.Kind, entry.IdempotencyKey, entry.Payload, entry.Attempts, lastErr).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *pgStore) DeleteDeadLetter(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *pgStore) GetDeadLetter(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	if s == nil || s.db == nil {
		return DLQEntry{}, ErrStoreUnavailable
	}
	entry, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+dlqColumns+` FROM queue_dlq WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return DLQEntry{}, ErrEntryNotFound
	}
	return entry, err
}

func (s *pgStore) ListDeadLetters(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	limit = clampPositive(limit, 1, 500)
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `SELECT `+dlqColumns+` FROM queue_dlq
WHERE ($1 = '' OR kind = $1)
ORDER BY created_at DESC LIMIT $2 OFFSET $3`, strings.TrimSpace(kind), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]DLQEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *pgStore) CountDeadLetters(ctx context.Context, kind string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE ($1 = '' OR kind = $1)`, strings.TrimSpace(kind)).Scan(&total)
	return total, err
}

// DeadLetterSizes feeds the queue_dlq_size gauge on worker start.
func (s *pgStore) DeadLetterSizes(ctx context.Context) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.db.Query(ctx, `SELECT kind, COUNT(*) FROM queue_dlq GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var (
			kind  string
			total int64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, err
		}
		result[kind] = total
	}
	return result, rows.Err()
}

func scanEntry(row pgx.Row) (DLQEntry, error) {
	var (
		entry   DLQEntry
		lastErr pgtype.Text
	)
	if err := row.Scan(&entry.ID, &entry.Kind, &entry.IdempotencyKey, &entry.Payload, &entry.Attempts, &lastErr, &entry.CreatedAt); err != nil {
		return DLQEntry{}, err
	}
	if lastErr.Valid {
		entry.LastError = &lastErr.String
	}
	return entry, nil
}

// SyncDLQGauge seeds the dead letter gauge from the store.
func SyncDLQGauge(ctx context.Context, store Store) error {
	if store == nil {
		return ErrStoreUnavailable
	}
	sizes, err := store.DeadLetterSizes(ctx)
	if err != nil {
		return err
	}
	for kind, n := range sizes {
		setDLQ(kind, n)
	}
	return nil
}

func clampPositive(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
