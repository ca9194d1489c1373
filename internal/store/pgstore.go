package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docforge/docforge/model"
)

// PgAggregateStore is a PostgreSQL-backed AggregateStore using pgx/v5.
//
// Schema:
//
//	CREATE TABLE aggregates (
//	    id         UUID PRIMARY KEY,
//	    kind       TEXT NOT NULL,
//	    state      JSONB NOT NULL,
//	    version    BIGINT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX aggregates_kind_created_idx ON aggregates (kind, created_at DESC);
type PgAggregateStore struct {
	pool *pgxpool.Pool
}

// NewPgAggregateStore creates a new PostgreSQL aggregate store.
func NewPgAggregateStore(pool *pgxpool.Pool) *PgAggregateStore {
	return &PgAggregateStore{pool: pool}
}

// Create inserts a new record.
func (s *PgAggregateStore) Create(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aggregates (id, kind, state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Kind, rec.State, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert aggregate: %w", err)
	}
	return nil
}

// Get retrieves a record by aggregate id.
func (s *PgAggregateStore) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, state, version, created_at, updated_at
		FROM aggregates
		WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.Kind, &rec.State, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return Record{}, model.NewNotFoundError(
			fmt.Sprintf("aggregate %q not found", id),
		)
	}
	if err != nil {
		return Record{}, fmt.Errorf("query aggregate: %w", err)
	}
	return rec, nil
}

// Update persists an updated record with optimistic locking.
func (s *PgAggregateStore) Update(ctx context.Context, rec Record) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE aggregates SET
			state = $1,
			version = $2,
			updated_at = $3
		WHERE id = $4 AND version = $5`,
		rec.State, rec.Version+1, time.Now().UTC(),
		rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("aggregate %q version conflict (expected %d)", rec.ID, rec.Version),
		)
	}
	return nil
}

// List returns records of one workflow kind, newest first.
func (s *PgAggregateStore) List(ctx context.Context, kind model.WorkflowKind, limit, offset int) ([]Record, error) {
	query := `SELECT id, kind, state, version, created_at, updated_at
	          FROM aggregates
	          WHERE kind = $1
	          ORDER BY created_at DESC`
	args := []any{kind}
	argIdx := 2

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
		argIdx++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.State, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// HealthCheck verifies database connectivity for the readiness endpoint.
func (s *PgAggregateStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
