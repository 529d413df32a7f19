// Package workflow manages the publishing lifecycle of definitions.
// Published definitions are immutable snapshots: an edit is republished
// under a new identity and version while the predecessor is deactivated,
// so running instances keep executing the graph they started on.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/persistence"
)

type Manager struct {
	store    persistence.DefinitionStore
	validate *validator.Validate
	logger   *slog.Logger
}

func NewManager(store persistence.DefinitionStore, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		validate: validator.New(),
		logger:   logger.With("module", "workflow_manager"),
	}
}

// Publish validates a definition structurally and graph-wise, activates
// it and persists it. Validation runs here once; the engine assumes a
// published definition is sound.
func (m *Manager) Publish(ctx context.Context, def *models.Definition) (*models.Definition, error) {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}

	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}

	if err := m.validate.Struct(def); err != nil {
		return nil, fmt.Errorf("definition failed structural validation: %w", err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	def.Active = true

	if err := m.store.SaveDefinition(ctx, def); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Definition published",
		"definition_id", def.ID, "name", def.Name, "version", def.Version)

	return def, nil
}

// Republish publishes an edited copy under a new identity and version and
// deactivates the predecessor. The predecessor document itself is never
// mutated beyond the active flag.
func (m *Manager) Republish(ctx context.Context, predecessorID string, edited *models.Definition) (*models.Definition, error) {
	predecessor, err := m.store.DefinitionByID(ctx, predecessorID)
	if err != nil {
		return nil, err
	}

	if edited.Version == predecessor.Version {
		return nil, fmt.Errorf("republishing %s requires a new version, still %q", predecessorID, edited.Version)
	}

	clone := *edited
	clone.ID = uuid.New().String()
	clone.CreatedAt = time.Now().UTC()

	published, err := m.Publish(ctx, &clone)
	if err != nil {
		return nil, err
	}

	predecessor.Active = false
	if err := m.store.SaveDefinition(ctx, predecessor); err != nil {
		return nil, fmt.Errorf("deactivating predecessor %s: %w", predecessorID, err)
	}

	m.logger.InfoContext(ctx, "Definition republished",
		"predecessor_id", predecessorID, "definition_id", published.ID, "version", published.Version)

	return published, nil
}

// LoadDefinitionJSON checks raw JSON against the definition schema before
// decoding, so malformed documents fail with positional messages instead
// of partial structs.
func (m *Manager) LoadDefinitionJSON(raw []byte) (*models.Definition, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validating definition document: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, fmt.Errorf("definition document invalid: %s", strings.Join(problems, "; "))
	}

	var def models.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decoding definition document: %w", err)
	}

	return &def, nil
}
