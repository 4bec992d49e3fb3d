package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts *pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateRuns = `
        CREATE TABLE IF NOT EXISTS batch_runs (
            id          UUID PRIMARY KEY,
            started_at  TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ NOT NULL,
            batch_size  INTEGER NOT NULL,
            pool_size   INTEGER NOT NULL,
            succeeded   INTEGER NOT NULL,
            failed      INTEGER NOT NULL
        );`

	sqlCreateItems = `
        CREATE TABLE IF NOT EXISTS batch_run_items (
            run_id      UUID NOT NULL REFERENCES batch_runs(id) ON DELETE CASCADE,
            position    INTEGER NOT NULL,
            item        TEXT NOT NULL,
            group_index INTEGER NOT NULL,
            success     BOOLEAN NOT NULL,
            error       TEXT,
            duration_ms BIGINT NOT NULL,
            PRIMARY KEY (run_id, position)
        );`

	sqlInsertRun = `
        INSERT INTO batch_runs (id, started_at, finished_at, batch_size, pool_size, succeeded, failed)
        VALUES ($1, $2, $3, $4, $5, $6, $7);`

	sqlInsertItem = `
        INSERT INTO batch_run_items (run_id, position, item, group_index, success, error, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7);`
)

// Store persists run history to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// NewStore creates a store and verifies the connection.
func NewStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// Migrate creates the run history tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateRuns, sqlCreateItems} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate run history schema: %w", err)
		}
	}
	return nil
}

// SaveRun writes the run and every item verdict in one transaction.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertRun,
		rec.ID, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
		rec.BatchSize, rec.PoolSize, len(rec.Successes), len(rec.Failures),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", rec.ID, err)
	}

	for i, r := range rec.Results {
		var errText *string
		if r.Error != "" {
			errText = &r.Error
		}
		if _, err := tx.Exec(ctx, sqlInsertItem,
			rec.ID, i, r.Item, r.Group, r.Success, errText, r.DurationMs,
		); err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", r.Item, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Persisted run history", zap.String("run_id", rec.ID), zap.Int("items", len(rec.Results)))
	return nil
}
