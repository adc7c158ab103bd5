package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/plaenen/eventfold/pkg/store/sqlite/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsTable tracks applied schema migrations.
const migrationsTable = "schema_migrations"

// runMigrations runs all pending migrations.
func runMigrations(ctx context.Context, db *sql.DB) error {
	m := migrate.New(db, migrationsTable)

	if err := m.LoadFromFS(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	if _, err := m.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RunMigrations runs all pending migrations on the event store.
func (s *EventStore) RunMigrations(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return runMigrations(ctx, s.db)
}

// MigrationVersion returns the current schema version.
func (s *EventStore) MigrationVersion(ctx context.Context) (int, error) {
	return migrate.New(s.db, migrationsTable).Version(ctx)
}
