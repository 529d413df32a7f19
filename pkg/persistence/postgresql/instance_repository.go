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

type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

func (r *InstanceRepository) CreateInstance(ctx context.Context, instance *models.Instance) error {
	document, err := json.Marshal(instance)
	if err != nil {
		return persistence.NewInstanceError("CreateInstance", instance.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, definition_id, entity_ref, status, version, history_length, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		instance.ID, instance.DefinitionID, instance.EntityRef,
		string(instance.Status), instance.Version, len(instance.History), document)
	if err != nil {
		return persistence.NewInstanceError("CreateInstance", instance.ID, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("CreateInstance", instance.ID, err)
	}

	if inserted == 0 {
		return persistence.NewInstanceError("CreateInstance", instance.ID, persistence.ErrInstanceAlreadyExists)
	}

	return nil
}

func (r *InstanceRepository) InstanceByID(ctx context.Context, id string) (*models.Instance, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM workflow_instances WHERE id = $1`, id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewInstanceError("InstanceByID", id, persistence.ErrInstanceNotFound)
	}

	if err != nil {
		return nil, persistence.NewInstanceError("InstanceByID", id, err)
	}

	var instance models.Instance
	if err := json.Unmarshal(document, &instance); err != nil {
		return nil, persistence.NewInstanceError("InstanceByID", id, err)
	}

	return &instance, nil
}

// SaveInstance performs the optimistic-concurrency write: the UPDATE is
// guarded on both the expected version and the append-only history length,
// so a lost race or a shrinking history affects zero rows.
func (r *InstanceRepository) SaveInstance(ctx context.Context, instance *models.Instance, expectedVersion int64) error {
	document, err := json.Marshal(instance)
	if err != nil {
		return persistence.NewInstanceError("SaveInstance", instance.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET status = $1, version = $2, history_length = $3, document = $4, updated_at = now()
		WHERE id = $5 AND version = $6 AND history_length <= $3`,
		string(instance.Status), instance.Version, len(instance.History), document,
		instance.ID, expectedVersion)
	if err != nil {
		return persistence.NewInstanceError("SaveInstance", instance.ID, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("SaveInstance", instance.ID, err)
	}

	if updated == 0 {
		return r.classifySaveConflict(ctx, instance)
	}

	return nil
}

func (r *InstanceRepository) classifySaveConflict(ctx context.Context, instance *models.Instance) error {
	var (
		storedVersion int64
		historyLength int
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT version, history_length FROM workflow_instances WHERE id = $1`, instance.ID).
		Scan(&storedVersion, &historyLength)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewInstanceError("SaveInstance", instance.ID, persistence.ErrInstanceNotFound)
	}

	if err != nil {
		return persistence.NewInstanceError("SaveInstance", instance.ID, err)
	}

	if len(instance.History) < historyLength {
		return persistence.NewInstanceError("SaveInstance", instance.ID, persistence.ErrHistoryTruncated)
	}

	return persistence.NewInstanceError("SaveInstance", instance.ID, persistence.ErrConcurrencyConflict)
}

func (r *InstanceRepository) InstancesByEntity(ctx context.Context, entityRef string) ([]*models.Instance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document FROM workflow_instances WHERE entity_ref = $1 ORDER BY created_at`, entityRef)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	var instances []*models.Instance

	for rows.Next() {
		var document []byte

		if err := rows.Scan(&document); err != nil {
			return nil, err
		}

		var instance models.Instance
		if err := json.Unmarshal(document, &instance); err != nil {
			return nil, err
		}

		instances = append(instances, &instance)
	}

	return instances, rows.Err()
}
