package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// CheckpointStore is a SQLite-based implementation of eventsourcing.CheckpointStore.
//
// The CheckpointStore can use either:
// 1. The same database as EventStore (for co-located deployments)
// 2. A separate database (for independent scaling of reads/projections)
type CheckpointStore struct {
	db *sql.DB
}

// checkpointStoreConfig holds internal configuration for the checkpoint store.
type checkpointStoreConfig struct {
	// autoMigrate automatically runs pending migrations on startup
	autoMigrate bool
}

// CheckpointStoreOption is a function that configures a CheckpointStore.
type CheckpointStoreOption func(*checkpointStoreConfig)

// WithCheckpointAutoMigrate enables automatic migration on startup.
func WithCheckpointAutoMigrate(enabled bool) CheckpointStoreOption {
	return func(c *checkpointStoreConfig) {
		c.autoMigrate = enabled
	}
}

// NewCheckpointStore creates a new SQLite checkpoint store with the given database and options.
// By default, it will auto-migrate the database schema.
//
// Example usage:
//
//	// Using the same database as EventStore
//	checkpointStore, err := sqlite.NewCheckpointStore(ctx, eventStore.DB())
func NewCheckpointStore(ctx context.Context, db *sql.DB, opts ...CheckpointStoreOption) (*CheckpointStore, error) {
	config := checkpointStoreConfig{autoMigrate: true}
	for _, opt := range opts {
		opt(&config)
	}

	if config.autoMigrate {
		if err := runMigrations(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to run checkpoint migrations: %w", err)
		}
	}

	return &CheckpointStore{db: db}, nil
}

// DB returns the underlying database connection for creating transactions.
func (s *CheckpointStore) DB() *sql.DB {
	return s.db
}

const saveCheckpointQuery = `INSERT INTO projection_checkpoints (projection_name, position, last_event_id, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (projection_name) DO UPDATE SET
		position = excluded.position,
		last_event_id = excluded.last_event_id,
		updated_at = excluded.updated_at`

// SaveCheckpoint implements eventsourcing.CheckpointStore.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, cp eventsourcing.Checkpoint) error {
	if _, err := s.db.ExecContext(ctx, saveCheckpointQuery,
		cp.ProjectionName, cp.Position, cp.LastEventID, cp.UpdatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// SaveCheckpointInTx saves a checkpoint within the provided transaction, so
// a projection update and its checkpoint commit together.
func (s *CheckpointStore) SaveCheckpointInTx(ctx context.Context, tx *sql.Tx, cp eventsourcing.Checkpoint) error {
	if _, err := tx.ExecContext(ctx, saveCheckpointQuery,
		cp.ProjectionName, cp.Position, cp.LastEventID, cp.UpdatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to save checkpoint in transaction: %w", err)
	}
	return nil
}

// LoadCheckpoint implements eventsourcing.CheckpointStore.
func (s *CheckpointStore) LoadCheckpoint(ctx context.Context, projectionName string) (eventsourcing.Checkpoint, error) {
	var (
		cp        = eventsourcing.Checkpoint{ProjectionName: projectionName}
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT position, last_event_id, updated_at
		FROM projection_checkpoints WHERE projection_name = ?
	`, projectionName).Scan(&cp.Position, &cp.LastEventID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return eventsourcing.Checkpoint{}, fmt.Errorf("%w: %s", eventsourcing.ErrCheckpointNotFound, projectionName)
	}
	if err != nil {
		return eventsourcing.Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	cp.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return cp, nil
}

// DeleteCheckpoint implements eventsourcing.CheckpointStore.
func (s *CheckpointStore) DeleteCheckpoint(ctx context.Context, projectionName string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM projection_checkpoints WHERE projection_name = ?`, projectionName); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

var _ eventsourcing.CheckpointStore = (*CheckpointStore)(nil)
