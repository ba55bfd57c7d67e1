package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Entry is one recorded agent event. Payload is the JSON form of the bus
// payload.
type Entry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Subject    string    `json:"subject"` // agent id or proposal id
	Payload    []byte    `json:"payload"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Ledger is an append-only event history.
type Ledger interface {
	Record(ctx context.Context, entries ...Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
}

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateLedger = `
        CREATE TABLE IF NOT EXISTS evolution_ledger (
            id          TEXT PRIMARY KEY,
            type        TEXT NOT NULL,
            subject     TEXT NOT NULL,
            payload     JSONB NOT NULL,
            recorded_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlInsertEntry = `
        INSERT INTO evolution_ledger (id, type, subject, payload, recorded_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO NOTHING;
    `
	sqlListEntries = `
        SELECT id, type, subject, payload, recorded_at
        FROM evolution_ledger
        ORDER BY recorded_at ASC, id ASC
        LIMIT $1;
    `
)

// Store is the PostgreSQL Ledger.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ Ledger = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the ledger table if it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateLedger); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// Record inserts entries in a single transaction. Replayed ids are ignored.
func (s *Store) Record(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, e := range entries {
		if _, err := tx.Exec(ctx, sqlInsertEntry, e.ID, e.Type, e.Subject, e.Payload, e.RecordedAt); err != nil {
			return fmt.Errorf("failed to insert ledger entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List returns up to limit entries, oldest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, sqlListEntries, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Type, &e.Subject, &e.Payload, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	return entries, nil
}
