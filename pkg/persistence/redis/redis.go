// Package redis provides a Redis-backed persistence implementation.
// Optimistic concurrency on instances is enforced with WATCH: the save
// transaction aborts when another writer touches the key, and the stored
// version is re-checked inside the watch.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/persistence"
)

const (
	definitionKeyPrefix  = "procflow:definition:"
	instanceKeyPrefix    = "procflow:instance:"
	entityIndexPrefix    = "procflow:entity:"
	activeDefinitionsKey = "procflow:definitions:active"
)

type Persistence struct {
	client redis.UniversalClient
}

func NewPersistence(client redis.UniversalClient) *Persistence {
	return &Persistence{client: client}
}

func (p *Persistence) SaveDefinition(ctx context.Context, def *models.Definition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition %s: %w", def.ID, err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, definitionKeyPrefix+def.ID, payload, 0)

	if def.Active {
		pipe.SAdd(ctx, activeDefinitionsKey, def.ID)
	} else {
		pipe.SRem(ctx, activeDefinitionsKey, def.ID)
	}

	_, err = pipe.Exec(ctx)

	return err
}

func (p *Persistence) DefinitionByID(ctx context.Context, id string) (*models.Definition, error) {
	payload, err := p.client.Get(ctx, definitionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &persistence.DefinitionStoreError{
			Op: "DefinitionByID", DefinitionID: id, Err: persistence.ErrDefinitionNotFound,
		}
	}

	if err != nil {
		return nil, err
	}

	var def models.Definition
	if err := json.Unmarshal(payload, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition %s: %w", id, err)
	}

	return &def, nil
}

func (p *Persistence) ActiveDefinitions(ctx context.Context) ([]*models.Definition, error) {
	ids, err := p.client.SMembers(ctx, activeDefinitionsKey).Result()
	if err != nil {
		return nil, err
	}

	definitions := make([]*models.Definition, 0, len(ids))

	for _, id := range ids {
		def, err := p.DefinitionByID(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrDefinitionNotFound) {
				continue
			}

			return nil, err
		}

		definitions = append(definitions, def)
	}

	return definitions, nil
}

func (p *Persistence) CreateInstance(ctx context.Context, instance *models.Instance) error {
	payload, err := json.Marshal(instance)
	if err != nil {
		return persistence.NewInstanceError("CreateInstance", instance.ID, err)
	}

	created, err := p.client.SetNX(ctx, instanceKeyPrefix+instance.ID, payload, 0).Result()
	if err != nil {
		return persistence.NewInstanceError("CreateInstance", instance.ID, err)
	}

	if !created {
		return persistence.NewInstanceError("CreateInstance", instance.ID, persistence.ErrInstanceAlreadyExists)
	}

	return p.client.SAdd(ctx, entityIndexPrefix+instance.EntityRef, instance.ID).Err()
}

func (p *Persistence) InstanceByID(ctx context.Context, id string) (*models.Instance, error) {
	return p.instanceByKey(ctx, instanceKeyPrefix+id, id)
}

func (p *Persistence) instanceByKey(ctx context.Context, key, id string) (*models.Instance, error) {
	payload, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewInstanceError("InstanceByID", id, persistence.ErrInstanceNotFound)
	}

	if err != nil {
		return nil, persistence.NewInstanceError("InstanceByID", id, err)
	}

	var instance models.Instance
	if err := json.Unmarshal(payload, &instance); err != nil {
		return nil, persistence.NewInstanceError("InstanceByID", id, err)
	}

	return &instance, nil
}

func (p *Persistence) SaveInstance(ctx context.Context, instance *models.Instance, expectedVersion int64) error {
	key := instanceKeyPrefix + instance.ID

	txn := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return persistence.ErrInstanceNotFound
		}

		if err != nil {
			return err
		}

		var stored models.Instance
		if err := json.Unmarshal(payload, &stored); err != nil {
			return err
		}

		if stored.Version != expectedVersion {
			return persistence.ErrConcurrencyConflict
		}

		if len(instance.History) < len(stored.History) {
			return persistence.ErrHistoryTruncated
		}

		updated, err := json.Marshal(instance)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)

			return nil
		})

		return err
	}

	err := p.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer slipped in between WATCH and EXEC.
		err = persistence.ErrConcurrencyConflict
	}

	if err != nil {
		return persistence.NewInstanceError("SaveInstance", instance.ID, err)
	}

	return nil
}

func (p *Persistence) InstancesByEntity(ctx context.Context, entityRef string) ([]*models.Instance, error) {
	ids, err := p.client.SMembers(ctx, entityIndexPrefix+entityRef).Result()
	if err != nil {
		return nil, err
	}

	instances := make([]*models.Instance, 0, len(ids))

	for _, id := range ids {
		instance, err := p.InstanceByID(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrInstanceNotFound) {
				continue
			}

			return nil, err
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}
