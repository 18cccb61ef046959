package events

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emirsalihagic/miniERP-sub001/internal/db"
)

// PgStore persists events into the domain_events table.
type PgStore struct {
	Pool *pgxpool.Pool
}

const insertDomainEvent = `
INSERT INTO domain_events (tenant_id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4)
RETURNING id, occurred_at`

// InsertDomainEvent implements EventStore.
func (s PgStore) InsertDomainEvent(ctx context.Context, ev Event) (Event, error) {
	row := s.Pool.QueryRow(ctx, insertDomainEvent, db.UUID(ev.TenantID), ev.AggregateID, ev.Payload)
	if err := row.Scan(&ev.ID, &ev.OccurredAt); err != nil {
		return Event{}, err
	}
	return ev, nil
}
