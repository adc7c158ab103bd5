// Package sqlite implements the event stream store and checkpoint store on
// SQLite through the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// EventStore is a SQLite-based implementation of eventsourcing.StreamStore.
// It provides ACID guarantees for event persistence with no CGo dependencies.
type EventStore struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.RWMutex // Serializes appends within this process
}

// eventStoreConfig holds internal configuration for the SQLite event store.
type eventStoreConfig struct {
	// dsn is the data source name (file path or ":memory:" for in-memory)
	dsn string

	// maxOpenConns sets the maximum number of open connections
	maxOpenConns int

	// maxIdleConns sets the maximum number of idle connections
	maxIdleConns int

	// walMode enables write-ahead logging for better concurrency
	walMode bool

	// autoMigrate automatically runs pending migrations on startup
	autoMigrate bool

	logger *slog.Logger
}

// defaultEventStoreConfig returns sensible defaults.
func defaultEventStoreConfig() eventStoreConfig {
	return eventStoreConfig{
		dsn:          "eventstore.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
		logger:       slog.Default(),
	}
}

// EventStoreOption is a function that configures an EventStore.
type EventStoreOption func(*eventStoreConfig)

// WithDSN sets the data source name (file path or ":memory:" for in-memory).
func WithDSN(dsn string) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = dsn
	}
}

// WithMemoryDatabase sets the database to an in-memory database.
func WithMemoryDatabase() EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = ":memory:"
	}
}

// WithMaxOpenConns sets the maximum number of open connections to the database.
func WithMaxOpenConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxOpenConns = n
	}
}

// WithMaxIdleConns sets the maximum number of idle connections in the pool.
func WithMaxIdleConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxIdleConns = n
	}
}

// WithWALMode enables write-ahead logging for better concurrency.
// This is recommended for production use but not available for :memory: databases.
func WithWALMode(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.walMode = enabled
	}
}

// WithAutoMigrate enables automatic migration on startup.
func WithAutoMigrate(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.autoMigrate = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.logger = logger
	}
}

// NewEventStore creates a new SQLite event store with the given options.
//
// Example usage:
//
//	// Use defaults (eventstore.db, WAL mode, auto-migrate)
//	store, err := sqlite.NewEventStore(ctx)
//
//	// In-memory database for testing
//	store, err := sqlite.NewEventStore(ctx, sqlite.WithMemoryDatabase())
func NewEventStore(ctx context.Context, opts ...EventStoreOption) (*EventStore, error) {
	config := defaultEventStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite", config.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: gets its own isolated database
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		config.walMode = false
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	store := &EventStore{
		db:     db,
		logger: config.logger.With(slog.String("store", "sqlite")),
	}

	if config.walMode {
		if err := store.setWALMode(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}

	if config.autoMigrate {
		if err := runMigrations(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return store, nil
}

// setWALMode configures the database for WAL mode.
func (s *EventStore) setWALMode(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;
	`)
	return err
}

// DB returns the underlying database, e.g. to share it with a CheckpointStore.
func (s *EventStore) DB() *sql.DB {
	return s.db
}

const (
	selectColumns = `position, event_id, aggregate_type, aggregate_id, event_type, version, timestamp, data, metadata`

	loadStreamQuery = `SELECT ` + selectColumns + ` FROM events
		WHERE aggregate_type = ? AND aggregate_id = ?
		ORDER BY version`

	loadAllQuery = `SELECT ` + selectColumns + ` FROM events
		WHERE position > ?
		ORDER BY position
		LIMIT ?`

	streamVersionQuery = `SELECT COALESCE(MAX(version), 0) FROM events
		WHERE aggregate_type = ? AND aggregate_id = ?`

	insertEventQuery = `INSERT INTO events
		(event_id, aggregate_type, aggregate_id, event_type, version, timestamp, data, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// Load implements eventsourcing.StreamStore.
func (s *EventStore) Load(ctx context.Context, aggregateType, aggregateID string) ([]eventsourcing.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, loadStreamQuery, aggregateType, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEnvelopes(rows)
}

// LoadAll implements eventsourcing.StreamStore.
func (s *EventStore) LoadAll(ctx context.Context, afterPosition int64, limit int) ([]eventsourcing.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx, loadAllQuery, afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEnvelopes(rows)
}

// Version implements eventsourcing.StreamStore.
func (s *EventStore) Version(ctx context.Context, aggregateType, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int64
	if err := s.db.QueryRowContext(ctx, streamVersionQuery, aggregateType, aggregateID).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to check current version: %w", err)
	}
	return version, nil
}

// Append implements eventsourcing.StreamStore. The version check and all
// inserts run in one transaction.
func (s *EventStore) Append(
	ctx context.Context,
	aggregateType string,
	aggregateID string,
	expectedVersion int64,
	envs []eventsourcing.Envelope,
) ([]eventsourcing.Envelope, error) {
	if len(envs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	if err := tx.QueryRowContext(ctx, streamVersionQuery, aggregateType, aggregateID).Scan(&current); err != nil {
		return nil, fmt.Errorf("failed to check current version: %w", err)
	}
	if current != expectedVersion {
		return nil, eventsourcing.ErrConcurrencyConflict
	}

	stored := make([]eventsourcing.Envelope, len(envs))
	for i, env := range envs {
		if env.AggregateType != aggregateType || env.AggregateID != aggregateID {
			return nil, eventsourcing.ErrAggregateMismatch
		}

		metadataJSON, err := json.Marshal(env.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}

		res, err := tx.ExecContext(ctx, insertEventQuery,
			env.ID,
			env.AggregateType,
			env.AggregateID,
			env.EventType,
			env.Version,
			env.Timestamp.UnixNano(),
			env.Data,
			string(metadataJSON),
		)
		if err != nil {
			if isVersionConflict(err) {
				return nil, eventsourcing.ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("failed to insert event: %w", err)
		}

		position, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read position: %w", err)
		}
		env.Position = position
		stored[i] = env
	}

	if err := tx.Commit(); err != nil {
		if isVersionConflict(err) {
			return nil, eventsourcing.ErrConcurrencyConflict
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.DebugContext(ctx, "append",
		slog.String("aggregate_type", aggregateType),
		slog.String("aggregate_id", aggregateID),
		slog.Int64("last_position", stored[len(stored)-1].Position),
		slog.Int("num_events", len(stored)),
	)

	return stored, nil
}

// isVersionConflict reports whether err is a violation of the per-stream
// version uniqueness, which happens when another process appended first.
func isVersionConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return false
	}
	return strings.Contains(se.Error(), "events.version")
}

func scanEnvelopes(rows *sql.Rows) ([]eventsourcing.Envelope, error) {
	defer rows.Close()

	envs := []eventsourcing.Envelope{}
	for rows.Next() {
		var (
			env      eventsourcing.Envelope
			ts       int64
			metadata string
		)
		if err := rows.Scan(
			&env.Position,
			&env.ID,
			&env.AggregateType,
			&env.AggregateID,
			&env.EventType,
			&env.Version,
			&ts,
			&env.Data,
			&metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		env.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(metadata), &env.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of %s: %w", env.ID, err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return envs, nil
}

// Close closes the database.
func (s *EventStore) Close() error {
	return s.db.Close()
}

var _ eventsourcing.StreamStore = (*EventStore)(nil)
