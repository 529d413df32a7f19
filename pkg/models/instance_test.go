package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalDefinition() *Definition {
	graph := NewGraph()
	graph.AddNode(&Node{ID: "start", Name: "Start", Kind: NodeKindStart})
	graph.AddNode(&Node{ID: "work", Name: "Work", Kind: NodeKindTask})
	graph.AddNode(&Node{ID: "done", Name: "Done", Kind: NodeKindEnd})
	graph.AddEdge(&Edge{ID: "e1", From: "start", To: "work"})
	graph.AddEdge(&Edge{ID: "e2", From: "work", To: "done"})

	return &Definition{
		ID:      "def-1",
		Name:    "Minimal",
		Version: "1.0.0",
		Graph:   graph,
		Variables: map[string]VariableDef{
			"priority": {Type: VariableTypeString, Default: "normal"},
			"owner":    {Type: VariableTypeString},
		},
	}
}

func TestNewInstanceSeedsDefaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	instance := NewInstance(minimalDefinition(), "doc-42", "alice", now)

	assert.NotEmpty(t, instance.ID)
	assert.Equal(t, InstanceStatusRunning, instance.Status)
	assert.Equal(t, []string{"start"}, instance.ActiveNodes)
	assert.Equal(t, "normal", instance.Variables["priority"])
	assert.NotContains(t, instance.Variables, "owner")
	assert.Equal(t, int64(0), instance.Version)
	assert.Equal(t, "alice", instance.StartedBy)
	assert.Empty(t, instance.History)
}

func TestAppendTransitionGrowsHistory(t *testing.T) {
	instance := NewInstance(minimalDefinition(), "doc-1", "alice", time.Now().UTC())

	first := instance.AppendTransition("start", "work", "alice", "", time.Now().UTC(), nil)
	second := instance.AppendTransition("work", "done", "bob", "finished", time.Now().UTC(),
		map[string]any{"priority": "high"})

	require.Len(t, instance.History, 2)
	assert.Equal(t, first.ID, instance.History[0].ID)
	assert.Equal(t, "work", instance.History[1].FromNode)
	assert.Equal(t, "finished", second.Reason)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestActiveNodeBookkeeping(t *testing.T) {
	instance := NewInstance(minimalDefinition(), "doc-1", "alice", time.Now().UTC())
	instance.SLADeadlines["work"] = time.Now().Add(time.Hour)
	instance.AddActiveNode("work")
	instance.AddActiveNode("work")

	assert.Equal(t, []string{"start", "work"}, instance.ActiveNodes)

	instance.RemoveActiveNode("work")

	assert.Equal(t, []string{"start"}, instance.ActiveNodes)
	assert.NotContains(t, instance.SLADeadlines, "work")
}

func TestExecutionKeys(t *testing.T) {
	instance := NewInstance(minimalDefinition(), "doc-1", "alice", time.Now().UTC())

	assert.False(t, instance.HasExecutionKey("i:n:a"))

	instance.RecordExecutionKey("i:n:a")

	assert.True(t, instance.HasExecutionKey("i:n:a"))
}

func TestCloneIsolatesMutableState(t *testing.T) {
	instance := NewInstance(minimalDefinition(), "doc-1", "alice", time.Now().UTC())
	instance.Variables["priority"] = "high"
	instance.JoinArrivals["join"] = 1
	instance.AppendTransition("start", "work", "alice", "", time.Now().UTC(), map[string]any{"k": "v"})

	clone := instance.Clone()
	clone.Variables["priority"] = "low"
	clone.ActiveNodes[0] = "elsewhere"
	clone.JoinArrivals["join"] = 7
	clone.History[0].Variables["k"] = "mutated"
	clone.RecordExecutionKey("x")

	assert.Equal(t, "high", instance.Variables["priority"])
	assert.Equal(t, "start", instance.ActiveNodes[0])
	assert.Equal(t, 1, instance.JoinArrivals["join"])
	assert.Equal(t, "v", instance.History[0].Variables["k"])
	assert.False(t, instance.HasExecutionKey("x"))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, InstanceStatusRunning.Terminal())
	assert.False(t, InstanceStatusSuspended.Terminal())
	assert.True(t, InstanceStatusCompleted.Terminal())
	assert.True(t, InstanceStatusFailed.Terminal())
	assert.True(t, InstanceStatusCancelled.Terminal())
}

func TestInstanceJSONRoundTripRestoresMaps(t *testing.T) {
	instance := NewInstance(minimalDefinition(), "doc-1", "alice", time.Now().UTC())

	// Empty maps are dropped from the document by omitempty.
	payload, err := json.Marshal(instance)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "sla_deadlines")

	var decoded Instance
	require.NoError(t, json.Unmarshal(payload, &decoded))

	require.NotNil(t, decoded.Variables)
	require.NotNil(t, decoded.JoinArrivals)
	require.NotNil(t, decoded.SLADeadlines)
	require.NotNil(t, decoded.ExecutionKeys)

	// The engine writes bookkeeping straight into these on node entry.
	decoded.SLADeadlines["work"] = time.Now().UTC()
	decoded.JoinArrivals["join"]++
	decoded.RecordExecutionKey("inst:work:a1")
	decoded.Variables["decision"] = "approve"

	assert.True(t, decoded.HasExecutionKey("inst:work:a1"))
}
