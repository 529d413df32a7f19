// Package persistence defines the storage contracts for workflow
// definitions and instances. Implementations are injected; the engine
// never assumes a particular backend.
package persistence

import (
	"context"

	"github.com/procflow/procflow/pkg/models"
)

// DefinitionStore holds published, immutable workflow definitions.
type DefinitionStore interface {
	SaveDefinition(ctx context.Context, def *models.Definition) error
	DefinitionByID(ctx context.Context, id string) (*models.Definition, error)
	ActiveDefinitions(ctx context.Context) ([]*models.Definition, error)
}

// InstanceStore holds live and retired workflow instances. Save enforces
// optimistic concurrency: the write succeeds only when the stored version
// equals expectedVersion, otherwise ErrConcurrencyConflict is returned and
// the caller reloads and retries. History is append-only through this
// contract; a save that shrinks history is rejected.
type InstanceStore interface {
	CreateInstance(ctx context.Context, instance *models.Instance) error
	InstanceByID(ctx context.Context, id string) (*models.Instance, error)
	SaveInstance(ctx context.Context, instance *models.Instance, expectedVersion int64) error
	InstancesByEntity(ctx context.Context, entityRef string) ([]*models.Instance, error)
}

// Persistence bundles both stores behind one backend handle.
type Persistence interface {
	DefinitionStore
	InstanceStore
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
