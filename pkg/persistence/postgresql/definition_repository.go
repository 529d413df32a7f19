package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/persistence"
)

type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

func (r *DefinitionRepository) SaveDefinition(ctx context.Context, def *models.Definition) error {
	document, err := json.Marshal(def)
	if err != nil {
		return &persistence.DefinitionStoreError{Op: "SaveDefinition", DefinitionID: def.ID, Err: err}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, active, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET active = EXCLUDED.active, document = EXCLUDED.document`,
		def.ID, def.Active, document)
	if err != nil {
		return &persistence.DefinitionStoreError{Op: "SaveDefinition", DefinitionID: def.ID, Err: err}
	}

	return nil
}

func (r *DefinitionRepository) DefinitionByID(ctx context.Context, id string) (*models.Definition, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM workflow_definitions WHERE id = $1`, id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &persistence.DefinitionStoreError{
			Op: "DefinitionByID", DefinitionID: id, Err: persistence.ErrDefinitionNotFound,
		}
	}

	if err != nil {
		return nil, &persistence.DefinitionStoreError{Op: "DefinitionByID", DefinitionID: id, Err: err}
	}

	var def models.Definition
	if err := json.Unmarshal(document, &def); err != nil {
		return nil, &persistence.DefinitionStoreError{Op: "DefinitionByID", DefinitionID: id, Err: err}
	}

	return &def, nil
}

func (r *DefinitionRepository) ActiveDefinitions(ctx context.Context) ([]*models.Definition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document FROM workflow_definitions WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	var definitions []*models.Definition

	for rows.Next() {
		var document []byte

		if err := rows.Scan(&document); err != nil {
			return nil, err
		}

		var def models.Definition
		if err := json.Unmarshal(document, &def); err != nil {
			return nil, err
		}

		definitions = append(definitions, &def)
	}

	return definitions, rows.Err()
}
