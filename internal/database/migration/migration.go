package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// sentinelTable is checked before migrating; if it exists the schema is current.
const sentinelTable = "public.exports"

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_exports",
		SQL: `CREATE TABLE IF NOT EXISTS exports (
  id              UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  account         TEXT        NOT NULL,
  division        INTEGER     NOT NULL DEFAULT 0,
  requested_limit INTEGER     NOT NULL CHECK (requested_limit > 0),
  row_count       INTEGER     NOT NULL CHECK (row_count >= 0),
  columns         TEXT        NOT NULL DEFAULT '[]',
  storage_path    TEXT        NOT NULL UNIQUE,
  size            BIGINT      NOT NULL CHECK (size >= 0),
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_exports_account",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_exports_account ON exports (account);`,
	},
	{
		Name: "create_index_exports_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_exports_created_at ON exports (created_at);`,
	},
}

// EnsureMigrated creates the exports schema unless the sentinel table already exists.
func EnsureMigrated(ctx context.Context, db *sql.DB, logger *slog.Logger, dbHost string) error {
	start := time.Now()
	logger = logger.With("component", "database", "db_host", dbHost)

	logger.Info("db_migration_check", "status", "starting")

	var exists bool
	query := "SELECT to_regclass('" + sentinelTable + "') IS NOT NULL"
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		logger.Error("db_migration_failed",
			"status", "error",
			"error_message", fmt.Sprintf("failed to check sentinel table: %v", err),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		logger.Info("db_migration_skip",
			"status", "success",
			"detail", "schema already exists, skipping migration",
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	logger.Info("db_migration_start", "status", "in_progress")

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			logger.Error("db_migration_failed",
				"status", "error",
				"migration_step", step.Name,
				"error_message", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
				"step_duration_ms", time.Since(stepStart).Milliseconds(),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logger.Info("db_migration_step",
			"status", "success",
			"migration_step", step.Name,
			"step_duration_ms", time.Since(stepStart).Milliseconds(),
		)
	}

	logger.Info("db_migration_success",
		"status", "success",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
