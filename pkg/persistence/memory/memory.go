// Package memory provides an in-memory persistence implementation for
// tests and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/persistence"
)

// Persistence keeps definitions and instances in mutex-guarded maps.
// Instances are deep-copied on the way in and out, so callers never share
// mutable state with the store; the version check gives the same
// optimistic-concurrency behavior as the durable backends.
type Persistence struct {
	mu          sync.RWMutex
	definitions map[string]*models.Definition
	instances   map[string]*models.Instance
}

func NewPersistence() *Persistence {
	return &Persistence{
		definitions: make(map[string]*models.Definition),
		instances:   make(map[string]*models.Instance),
	}
}

func (p *Persistence) SaveDefinition(_ context.Context, def *models.Definition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.definitions[def.ID] = def

	return nil
}

func (p *Persistence) DefinitionByID(_ context.Context, id string) (*models.Definition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	def, ok := p.definitions[id]
	if !ok {
		return nil, &persistence.DefinitionStoreError{
			Op: "DefinitionByID", DefinitionID: id, Err: persistence.ErrDefinitionNotFound,
		}
	}

	return def, nil
}

func (p *Persistence) ActiveDefinitions(_ context.Context) ([]*models.Definition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var active []*models.Definition

	for _, def := range p.definitions {
		if def.Active {
			active = append(active, def)
		}
	}

	return active, nil
}

func (p *Persistence) CreateInstance(_ context.Context, instance *models.Instance) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.instances[instance.ID]; exists {
		return persistence.NewInstanceError("CreateInstance", instance.ID, persistence.ErrInstanceAlreadyExists)
	}

	p.instances[instance.ID] = instance.Clone()

	return nil
}

func (p *Persistence) InstanceByID(_ context.Context, id string) (*models.Instance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	instance, ok := p.instances[id]
	if !ok {
		return nil, persistence.NewInstanceError("InstanceByID", id, persistence.ErrInstanceNotFound)
	}

	return instance.Clone(), nil
}

func (p *Persistence) SaveInstance(_ context.Context, instance *models.Instance, expectedVersion int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.instances[instance.ID]
	if !ok {
		return persistence.NewInstanceError("SaveInstance", instance.ID, persistence.ErrInstanceNotFound)
	}

	if stored.Version != expectedVersion {
		return persistence.NewInstanceError("SaveInstance", instance.ID, persistence.ErrConcurrencyConflict)
	}

	if len(instance.History) < len(stored.History) {
		return persistence.NewInstanceError("SaveInstance", instance.ID, persistence.ErrHistoryTruncated)
	}

	p.instances[instance.ID] = instance.Clone()

	return nil
}

func (p *Persistence) InstancesByEntity(_ context.Context, entityRef string) ([]*models.Instance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var matched []*models.Instance

	for _, instance := range p.instances {
		if instance.EntityRef == entityRef {
			matched = append(matched, instance.Clone())
		}
	}

	return matched, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }
