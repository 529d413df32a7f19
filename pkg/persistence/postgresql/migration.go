package postgresql

import (
	"database/sql"
	"log/slog"

	"github.com/procflow/procflow/pkg/persistence/sqlbase"
)

func sqlMigrations(logger *slog.Logger, db *sql.DB) *sqlbase.MigrationManager {
	return sqlbase.NewMigrationManager(logger, db, map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_definitions (
				id TEXT PRIMARY KEY,
				active BOOLEAN NOT NULL DEFAULT FALSE,
				document JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS workflow_instances (
				id TEXT PRIMARY KEY,
				definition_id TEXT NOT NULL REFERENCES workflow_definitions (id),
				entity_ref TEXT NOT NULL,
				status TEXT NOT NULL,
				version BIGINT NOT NULL DEFAULT 0,
				history_length INTEGER NOT NULL DEFAULT 0,
				document JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_instances_entity
				ON workflow_instances (entity_ref);

			CREATE INDEX IF NOT EXISTS idx_workflow_instances_status
				ON workflow_instances (status);
		`,
	})
}
