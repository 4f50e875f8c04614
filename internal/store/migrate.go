package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const migrationsTable = "bifrost_schema_migrations"

//go:embed migrations
var migrations embed.FS

// migrateUp applies every pending migration for the dialect. Postgres
// migrates over a dedicated connection that is handed back afterwards; the
// sqlite driver works on db itself, so its instance is left open because
// closing it would close db.
func migrateUp(ctx context.Context, db *sql.DB, d dialect) error {
	src, err := iofs.New(migrations, "migrations/"+d.String())
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	var driver database.Driver
	switch d {
	case dialectPostgres:
		conn, connErr := db.Conn(ctx)
		if connErr != nil {
			_ = src.Close()
			return fmt.Errorf("migration connection: %w", connErr)
		}
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: migrationsTable})
		if err != nil {
			_ = conn.Close()
		}
	default:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: migrationsTable})
	}
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, d.String(), driver)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("migration setup: %w", err)
	}
	upErr := m.Up()
	if errors.Is(upErr, migrate.ErrNoChange) {
		upErr = nil
	}
	if upErr != nil {
		upErr = fmt.Errorf("apply migrations: %w", upErr)
	}

	if d == dialectPostgres {
		srcErr, dbErr := m.Close()
		return errors.Join(upErr, srcErr, dbErr)
	}
	return errors.Join(upErr, src.Close())
}

// SchemaVersion reports the applied migration version.
func (s *SQL) SchemaVersion() (uint, error) {
	var version uint
	err := s.db.QueryRow("SELECT version FROM " + migrationsTable + " LIMIT 1").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return version, nil
}
