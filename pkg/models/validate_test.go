package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *Definition {
	graph := NewGraph()
	graph.AddNode(&Node{ID: "start", Name: "Start", Kind: NodeKindStart})
	graph.AddNode(&Node{ID: "work", Name: "Work", Kind: NodeKindTask})
	graph.AddNode(&Node{
		ID: "decide", Name: "Decide", Kind: NodeKindDecision,
		Branches: []Branch{
			{
				Name:      "yes",
				Condition: Condition{Kind: ConditionEquals, Variable: "ok", Value: true},
				Edge:      "decide-done",
			},
		},
		DefaultEdge: "decide-work",
	})
	graph.AddNode(&Node{ID: "done", Name: "Done", Kind: NodeKindEnd})
	graph.AddEdge(&Edge{ID: "start-work", From: "start", To: "work"})
	graph.AddEdge(&Edge{ID: "work-decide", From: "work", To: "decide"})
	graph.AddEdge(&Edge{ID: "decide-done", From: "decide", To: "done"})
	graph.AddEdge(&Edge{ID: "decide-work", From: "decide", To: "work"})

	return &Definition{ID: "def-1", Name: "Valid", Version: "1.0.0", Graph: graph}
}

func TestValidateAcceptsSoundDefinition(t *testing.T) {
	assert.NoError(t, validDefinition().Validate())
}

func TestValidateRejectsMissingGraph(t *testing.T) {
	def := &Definition{ID: "def-x", Name: "Broken", Version: "1.0.0"}

	err := def.Validate()

	var defErr *DefinitionError

	require.ErrorAs(t, err, &defErr)
	assert.Contains(t, defErr.Problems, "definition has no graph")
}

func TestValidateCollectsStructuralProblems(t *testing.T) {
	def := validDefinition()
	def.Graph.AddNode(&Node{ID: "island", Name: "Island", Kind: NodeKindTask})
	def.Graph.AddEdge(&Edge{ID: "dangling", From: "work", To: "nowhere"})

	err := def.Validate()

	var defErr *DefinitionError

	require.ErrorAs(t, err, &defErr)
	assert.Contains(t, defErr.Error(), "island")
	assert.Contains(t, defErr.Error(), "dangling")
	assert.GreaterOrEqual(t, len(defErr.Problems), 3)
}

func TestValidateDecisionNeedsDefaultEdge(t *testing.T) {
	def := validDefinition()
	decide := def.Graph.Nodes["decide"]
	decide.DefaultEdge = ""

	err := def.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default edge")

	// An unconditional branch makes the decision exhaustive.
	decide.Branches = append(decide.Branches, Branch{
		Name:      "fallback",
		Condition: Condition{Kind: ConditionAlways},
		Edge:      "decide-work",
	})

	assert.NoError(t, def.Validate())
}

func TestValidateJoinBounds(t *testing.T) {
	graph := NewGraph()
	graph.AddNode(&Node{ID: "start", Name: "Start", Kind: NodeKindStart})
	graph.AddNode(&Node{ID: "fan", Name: "Fan", Kind: NodeKindParallel})
	graph.AddNode(&Node{ID: "a", Name: "A", Kind: NodeKindTask})
	graph.AddNode(&Node{ID: "b", Name: "B", Kind: NodeKindTask})
	graph.AddNode(&Node{ID: "join", Name: "Join", Kind: NodeKindJoin, ExpectedBranches: 3})
	graph.AddNode(&Node{ID: "done", Name: "Done", Kind: NodeKindEnd})
	graph.AddEdge(&Edge{ID: "e1", From: "start", To: "fan"})
	graph.AddEdge(&Edge{ID: "e2", From: "fan", To: "a"})
	graph.AddEdge(&Edge{ID: "e3", From: "fan", To: "b"})
	graph.AddEdge(&Edge{ID: "e4", From: "a", To: "join"})
	graph.AddEdge(&Edge{ID: "e5", From: "b", To: "join"})
	graph.AddEdge(&Edge{ID: "e6", From: "join", To: "done"})

	def := &Definition{ID: "def-join", Name: "Join Test", Version: "1.0.0", Graph: graph}

	err := def.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 3 branches but has only 2")

	graph.Nodes["join"].ExpectedBranches = 2
	assert.NoError(t, def.Validate())
}

func TestValidateStartAndEndConstraints(t *testing.T) {
	def := validDefinition()
	def.Graph.AddEdge(&Edge{ID: "back-to-start", From: "work", To: "start"})
	def.Graph.AddEdge(&Edge{ID: "out-of-end", From: "done", To: "work"})

	err := def.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "start node start has incoming edges")
	assert.Contains(t, err.Error(), "end node done has outgoing edges")
}

func TestValidateMissingErrorEdge(t *testing.T) {
	def := validDefinition()
	def.Graph.Nodes["work"].ErrorEdge = "no-such-edge"

	err := def.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing error edge")
}
