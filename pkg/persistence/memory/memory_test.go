package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/persistence"
)

func testInstance(id, entityRef string) *models.Instance {
	return &models.Instance{
		ID:            id,
		DefinitionID:  "def-1",
		EntityRef:     entityRef,
		Status:        models.InstanceStatusRunning,
		ActiveNodes:   []string{"draft"},
		Variables:     map[string]any{},
		JoinArrivals:  map[string]int{},
		SLADeadlines:  map[string]time.Time{},
		ExecutionKeys: map[string]bool{},
		StartedAt:     time.Now().UTC(),
		StartedBy:     "alice",
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	_, err := store.DefinitionByID(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

	def := &models.Definition{ID: "def-1", Name: "Approval", Version: "1.0.0", Active: true}
	require.NoError(t, store.SaveDefinition(ctx, def))

	loaded, err := store.DefinitionByID(ctx, "def-1")
	require.NoError(t, err)
	assert.Equal(t, "Approval", loaded.Name)

	inactive := &models.Definition{ID: "def-2", Name: "Old", Version: "0.9.0"}
	require.NoError(t, store.SaveDefinition(ctx, inactive))

	active, err := store.ActiveDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "def-1", active[0].ID)
}

func TestCreateInstanceRejectsDuplicates(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-1", "doc-1")))

	err := store.CreateInstance(ctx, testInstance("inst-1", "doc-1"))

	require.ErrorIs(t, err, persistence.ErrInstanceAlreadyExists)
}

func TestSaveInstanceVersionDiscipline(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-1", "doc-1")))

	first, err := store.InstanceByID(ctx, "inst-1")
	require.NoError(t, err)

	second, err := store.InstanceByID(ctx, "inst-1")
	require.NoError(t, err)

	first.AppendTransition("draft", "review", "alice", "", time.Now().UTC(), nil)
	first.Version++
	require.NoError(t, store.SaveInstance(ctx, first, 0))

	// The concurrent writer loses: its expectation is stale.
	second.AppendTransition("draft", "review", "bob", "", time.Now().UTC(), nil)
	second.Version++

	err = store.SaveInstance(ctx, second, 0)

	require.ErrorIs(t, err, persistence.ErrConcurrencyConflict)
}

func TestSaveInstanceRejectsHistoryShrink(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	instance := testInstance("inst-1", "doc-1")
	instance.AppendTransition("draft", "review", "alice", "", time.Now().UTC(), nil)
	require.NoError(t, store.CreateInstance(ctx, instance))

	truncated, err := store.InstanceByID(ctx, "inst-1")
	require.NoError(t, err)

	truncated.History = nil

	err = store.SaveInstance(ctx, truncated, 0)

	require.ErrorIs(t, err, persistence.ErrHistoryTruncated)
}

func TestSaveInstanceUnknownID(t *testing.T) {
	store := NewPersistence()

	err := store.SaveInstance(context.Background(), testInstance("ghost", "doc-1"), 0)

	require.ErrorIs(t, err, persistence.ErrInstanceNotFound)
}

func TestInstanceByIDReturnsIsolatedCopy(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-1", "doc-1")))

	loaded, err := store.InstanceByID(ctx, "inst-1")
	require.NoError(t, err)

	loaded.Variables["tampered"] = true

	reloaded, err := store.InstanceByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.NotContains(t, reloaded.Variables, "tampered")
}

func TestInstancesByEntity(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-1", "doc-1")))
	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-2", "doc-1")))
	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-3", "doc-2")))

	matched, err := store.InstancesByEntity(ctx, "doc-1")

	require.NoError(t, err)
	assert.Len(t, matched, 2)
}
