// Command migrate manages the retrieval service database schema. Exactly
// one action flag is required per invocation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog"

	"github.com/scholarsift/retrieval-service/internal/config"
	"github.com/scholarsift/retrieval-service/internal/database"
	"github.com/scholarsift/retrieval-service/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		up      = flag.Bool("up", false, "apply all pending migrations")
		down    = flag.Bool("down", false, "roll back all migrations")
		steps   = flag.Int("steps", 0, "apply N migrations (negative rolls back)")
		version = flag.Bool("version", false, "print the current schema version")
		force   = flag.Int("force", -1, "overwrite the schema version without running SQL")
		drop    = flag.Bool("drop", false, "drop every database object (test databases only)")
		dir     = flag.String("path", "", "migrations directory (defaults to the configured path)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	type action struct {
		name string
		run  func(*database.Migrator) error
	}

	var chosen []action
	if *up {
		chosen = append(chosen, action{"up", (*database.Migrator).Up})
	}
	if *down {
		chosen = append(chosen, action{"down", (*database.Migrator).Down})
	}
	if *steps != 0 {
		n := *steps
		chosen = append(chosen, action{"steps", func(m *database.Migrator) error { return m.Steps(n) }})
	}
	if *version {
		chosen = append(chosen, action{"version", func(m *database.Migrator) error { return reportVersion(m, logger) }})
	}
	if *force >= 0 {
		v := *force
		chosen = append(chosen, action{"force", func(m *database.Migrator) error { return m.Force(v) }})
	}
	if *drop {
		chosen = append(chosen, action{"drop", (*database.Migrator).DropAll})
	}

	switch len(chosen) {
	case 1:
	case 0:
		flag.Usage()
		return errors.New("one of -up, -down, -steps N, -version, -force V or -drop is required")
	default:
		return fmt.Errorf("%d actions given, run one at a time", len(chosen))
	}

	migrationsDir := cfg.Database.MigrationPath
	if *dir != "" {
		migrationsDir = *dir
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationsDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("close migrator")
		}
	}()

	act := chosen[0]
	logger.Info().
		Str("action", act.name).
		Str("database", cfg.Database.Name).
		Msg("running migration action")

	if err := act.run(migrator); err != nil {
		return fmt.Errorf("%s: %w", act.name, err)
	}
	return nil
}

// reportVersion prints the version golang-migrate has recorded, treating
// a pristine database as not yet migrated rather than an error.
func reportVersion(m *database.Migrator, logger zerolog.Logger) error {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info().Msg("no migrations applied yet")
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	return nil
}
