package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// Migrator applies the versioned SQL files that define the cache_entries
// and paper_keywords schema. It drives golang-migrate over a database/sql
// bridge borrowed from the service pool, so it needs no credentials of
// its own.
type Migrator struct {
	m      *migrate.Migrate
	bridge *sql.DB // stdlib view of the pgx pool; released by Close
	log    zerolog.Logger
}

// NewMigrator wires golang-migrate to db's pool, reading migration files
// from dir. Close the migrator after use; closing it leaves the pool
// open.
func NewMigrator(db *DB, dir string, logger zerolog.Logger) (*Migrator, error) {
	switch {
	case db == nil:
		return nil, errors.New("migrator requires a database handle")
	case db.pool == nil:
		return nil, errors.New("database handle has no open pool")
	case dir == "":
		return nil, errors.New("migrations directory is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations directory: %w", err)
	}

	bridge := stdlib.OpenDBFromPool(db.pool)
	driver, err := postgres.WithInstance(bridge, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		_ = bridge.Close()
		return nil, fmt.Errorf("postgres migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		_ = bridge.Close()
		return nil, fmt.Errorf("load migrations from %s: %w", dir, err)
	}

	return &Migrator{m: m, bridge: bridge, log: logger}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Info().Msg("schema already current")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logVersion("schema migrated")
	return nil
}

// Down rolls every migration back. Meant for disposable databases.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Info().Msg("nothing to roll back")
			return nil
		}
		return fmt.Errorf("roll back migrations: %w", err)
	}
	m.log.Warn().Msg("schema rolled back to empty")
	return nil
}

// Steps applies n migrations upward, or rolls |n| back when n is
// negative.
func (m *Migrator) Steps(n int) error {
	err := m.m.Steps(n)
	switch {
	case err == nil:
		m.logVersion("schema stepped")
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		m.log.Info().Int("steps", n).Msg("no migrations to step")
		return nil
	case errors.Is(err, os.ErrNotExist):
		// Stepping past the newest or oldest migration runs off the end
		// of the source directory.
		m.log.Info().Int("steps", n).Msg("no further migrations")
		return nil
	default:
		return fmt.Errorf("step migrations by %d: %w", n, err)
	}
}

// Version reports the schema version golang-migrate has recorded and
// whether a failed migration left it dirty.
func (m *Migrator) Version() (uint, bool, error) {
	return m.m.Version()
}

// Force overwrites the recorded version without running any SQL. It is
// the escape hatch for a dirty schema after a failed migration.
func (m *Migrator) Force(version int) error {
	m.log.Warn().Int("version", version).Msg("forcing schema version")
	return m.m.Force(version)
}

// DropAll removes every object in the database, migrations table
// included. Test databases only.
func (m *Migrator) DropAll() error {
	m.log.Warn().Msg("dropping all database objects")
	return m.m.Drop()
}

// Close detaches golang-migrate from the database and releases the
// database/sql bridge. The pgx pool itself stays open.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	var bridgeErr error
	if m.bridge != nil {
		bridgeErr = m.bridge.Close()
	}
	return errors.Join(srcErr, dbErr, bridgeErr)
}

// logVersion logs msg together with the version the schema landed on.
func (m *Migrator) logVersion(msg string) {
	v, dirty, err := m.m.Version()
	if err != nil {
		m.log.Info().Msg(msg)
		return
	}
	m.log.Info().Uint("version", v).Bool("dirty", dirty).Msg(msg)
}
