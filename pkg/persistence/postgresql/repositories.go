package postgresql

import (
	"context"

	"github.com/procflow/procflow/pkg/models"
)

func (p *Persistence) SaveDefinition(ctx context.Context, def *models.Definition) error {
	return p.definitionRepo.SaveDefinition(ctx, def)
}

func (p *Persistence) DefinitionByID(ctx context.Context, id string) (*models.Definition, error) {
	return p.definitionRepo.DefinitionByID(ctx, id)
}

func (p *Persistence) ActiveDefinitions(ctx context.Context) ([]*models.Definition, error) {
	return p.definitionRepo.ActiveDefinitions(ctx)
}

func (p *Persistence) CreateInstance(ctx context.Context, instance *models.Instance) error {
	return p.instanceRepo.CreateInstance(ctx, instance)
}

func (p *Persistence) InstanceByID(ctx context.Context, id string) (*models.Instance, error) {
	return p.instanceRepo.InstanceByID(ctx, id)
}

func (p *Persistence) SaveInstance(ctx context.Context, instance *models.Instance, expectedVersion int64) error {
	return p.instanceRepo.SaveInstance(ctx, instance, expectedVersion)
}

func (p *Persistence) InstancesByEntity(ctx context.Context, entityRef string) ([]*models.Instance, error) {
	return p.instanceRepo.InstancesByEntity(ctx, entityRef)
}
