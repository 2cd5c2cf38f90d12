// Package events tracks provider webhook events that were already handled so
// redeliveries do not fan out into duplicate work.
package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore is the dedup ledger for inbound provider events, keyed by
// (provider, event id).
type ProcessedStore struct {
	db execQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{db: pool}
}

func newProcessedStoreWithExec(exec execQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{db: exec}
}

// AlreadyProcessed reports whether this provider event id has been recorded.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2)`

	var seen bool
	if err := s.db.QueryRow(ctx, query, provider, eventID).Scan(&seen); err != nil {
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return seen, nil
}

// MarkProcessed records the event id. It returns false when a concurrent
// delivery recorded it first.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	const query = `INSERT INTO processed_events (provider, event_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	ct, err := s.db.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
