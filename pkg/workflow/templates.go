package workflow

import (
	"time"

	"github.com/procflow/procflow/pkg/models"
)

// DocumentApproval builds the canonical draft/review/decision process: the
// decision routes on the "decision" variable, with rejection looping back
// to draft. reviewSLA, when positive, arms an escalation on the review
// task.
func DocumentApproval(reviewSLA time.Duration) *models.Definition {
	graph := models.NewGraph()

	graph.AddNode(&models.Node{ID: "start", Name: "Start", Kind: models.NodeKindStart})
	graph.AddNode(&models.Node{
		ID: "draft", Name: "Draft", Kind: models.NodeKindTask,
		AssigneeRule: "author",
	})
	graph.AddNode(&models.Node{
		ID: "review", Name: "Review", Kind: models.NodeKindTask,
		AssigneeRule: "reviewer",
		SLA:          reviewSLA,
	})
	graph.AddNode(&models.Node{
		ID: "decision", Name: "Approval Decision", Kind: models.NodeKindDecision,
		Branches: []models.Branch{
			{
				Name:      "approve",
				Condition: models.Condition{Kind: models.ConditionEquals, Variable: "decision", Value: "approve"},
				Edge:      "decision-approved",
			},
			{
				Name:      "reject",
				Condition: models.Condition{Kind: models.ConditionEquals, Variable: "decision", Value: "reject"},
				Edge:      "decision-draft",
			},
		},
		DefaultEdge: "decision-draft",
	})
	graph.AddNode(&models.Node{ID: "approved", Name: "Approved", Kind: models.NodeKindEnd})

	graph.AddEdge(&models.Edge{ID: "start-draft", From: "start", To: "draft"})
	graph.AddEdge(&models.Edge{ID: "draft-review", From: "draft", To: "review"})
	graph.AddEdge(&models.Edge{ID: "review-decision", From: "review", To: "decision"})
	graph.AddEdge(&models.Edge{ID: "decision-approved", From: "decision", To: "approved"})
	graph.AddEdge(&models.Edge{ID: "decision-draft", From: "decision", To: "draft"})

	return &models.Definition{
		Name:        "Document Approval",
		Version:     "1.0.0",
		Description: "Draft, review and approve a document, with rejection looping back to draft.",
		Graph:       graph,
		Variables: map[string]models.VariableDef{
			"decision": {Type: models.VariableTypeString},
		},
	}
}

// ParallelSignoff builds a two-way sign-off: intake fans out to legal and
// finance review, and a join waits for both before completion.
func ParallelSignoff() *models.Definition {
	graph := models.NewGraph()

	graph.AddNode(&models.Node{ID: "start", Name: "Start", Kind: models.NodeKindStart})
	graph.AddNode(&models.Node{
		ID: "intake", Name: "Intake", Kind: models.NodeKindTask,
		AssigneeRule: "coordinator",
	})
	graph.AddNode(&models.Node{ID: "fanout", Name: "Fan Out", Kind: models.NodeKindParallel})
	graph.AddNode(&models.Node{
		ID: "legal", Name: "Legal Review", Kind: models.NodeKindTask,
		AssigneeRule: "legal",
	})
	graph.AddNode(&models.Node{
		ID: "finance", Name: "Finance Review", Kind: models.NodeKindTask,
		AssigneeRule: "finance",
	})
	graph.AddNode(&models.Node{
		ID: "signoff", Name: "Sign Off", Kind: models.NodeKindJoin,
		ExpectedBranches: 2,
	})
	graph.AddNode(&models.Node{ID: "done", Name: "Done", Kind: models.NodeKindEnd})

	graph.AddEdge(&models.Edge{ID: "start-intake", From: "start", To: "intake"})
	graph.AddEdge(&models.Edge{ID: "intake-fanout", From: "intake", To: "fanout"})
	graph.AddEdge(&models.Edge{ID: "fanout-legal", From: "fanout", To: "legal"})
	graph.AddEdge(&models.Edge{ID: "fanout-finance", From: "fanout", To: "finance"})
	graph.AddEdge(&models.Edge{ID: "legal-signoff", From: "legal", To: "signoff"})
	graph.AddEdge(&models.Edge{ID: "finance-signoff", From: "finance", To: "signoff"})
	graph.AddEdge(&models.Edge{ID: "signoff-done", From: "signoff", To: "done"})

	return &models.Definition{
		Name:        "Parallel Signoff",
		Version:     "1.0.0",
		Description: "Legal and finance review in parallel, joined before completion.",
		Graph:       graph,
	}
}
