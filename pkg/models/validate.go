package models

import (
	"fmt"
	"strings"
)

// DefinitionError aggregates every structural problem found in a definition
// so authors can fix them in one pass. It is fatal: invalid definitions are
// rejected at publish time and never reach the engine.
type DefinitionError struct {
	DefinitionID string
	Problems     []string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid workflow definition %s: %s", e.DefinitionID, strings.Join(e.Problems, "; "))
}

func (e *DefinitionError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the definition's graph for structural soundness. It runs
// once at publish time; the engine assumes published definitions are sound
// and does not re-validate per transition.
func (d *Definition) Validate() error {
	defErr := &DefinitionError{DefinitionID: d.ID}

	graph := d.Graph
	if graph == nil {
		defErr.add("definition has no graph")

		return defErr
	}

	if len(graph.StartNodes) == 0 {
		defErr.add("graph has no start node")
	}

	if len(graph.EndNodes) == 0 {
		defErr.add("graph has no end node")
	}

	for edgeID, edge := range graph.Edges {
		if _, ok := graph.Nodes[edge.From]; !ok {
			defErr.add("edge %s references missing source node %s", edgeID, edge.From)
		}

		if _, ok := graph.Nodes[edge.To]; !ok {
			defErr.add("edge %s references missing destination node %s", edgeID, edge.To)
		}
	}

	reachable := graph.ReachableNodes()

	for nodeID, node := range graph.Nodes {
		if !reachable[nodeID] {
			defErr.add("node %s is unreachable from any start node", nodeID)
		}

		outgoing := graph.OutgoingEdges(nodeID)
		incoming := graph.IncomingEdges(nodeID)

		switch node.Kind {
		case NodeKindStart:
			if len(incoming) > 0 {
				defErr.add("start node %s has incoming edges", nodeID)
			}

			if len(outgoing) == 0 {
				defErr.add("start node %s has no outgoing edge", nodeID)
			}
		case NodeKindEnd:
			if len(outgoing) > 0 {
				defErr.add("end node %s has outgoing edges", nodeID)
			}
		case NodeKindDecision:
			d.validateDecision(defErr, nodeID, node, graph)
		case NodeKindJoin:
			if node.ExpectedBranches < 1 {
				defErr.add("join node %s expects %d branches, need at least 1", nodeID, node.ExpectedBranches)
			}

			if node.ExpectedBranches > len(incoming) {
				defErr.add("join node %s expects %d branches but has only %d incoming edges",
					nodeID, node.ExpectedBranches, len(incoming))
			}

			if len(outgoing) == 0 {
				defErr.add("join node %s has no outgoing edge", nodeID)
			}
		case NodeKindParallel:
			if len(outgoing) < 2 {
				defErr.add("parallel node %s needs at least 2 outgoing edges, has %d", nodeID, len(outgoing))
			}
		default:
			if len(outgoing) == 0 {
				defErr.add("node %s has no outgoing edge and is not an end node", nodeID)
			}
		}

		if node.ErrorEdge != "" {
			if _, ok := graph.Edges[node.ErrorEdge]; !ok {
				defErr.add("node %s names missing error edge %s", nodeID, node.ErrorEdge)
			}
		}
	}

	if len(defErr.Problems) > 0 {
		return defErr
	}

	return nil
}

func (d *Definition) validateDecision(defErr *DefinitionError, nodeID string, node *Node, graph *Graph) {
	if len(node.Branches) == 0 {
		defErr.add("decision node %s declares no branches", nodeID)
	}

	for _, branch := range node.Branches {
		edge, ok := graph.Edges[branch.Edge]
		if !ok {
			defErr.add("decision node %s branch %q references missing edge %s", nodeID, branch.Name, branch.Edge)

			continue
		}

		if edge.From != nodeID {
			defErr.add("decision node %s branch %q routes through edge %s which does not leave the node",
				nodeID, branch.Name, branch.Edge)
		}
	}

	if node.DefaultEdge == "" {
		// A default is mandatory unless a branch matches unconditionally.
		exhaustive := false

		for _, branch := range node.Branches {
			if branch.Condition.Kind == ConditionAlways || branch.Condition.Kind == "" {
				exhaustive = true

				break
			}
		}

		if !exhaustive {
			defErr.add("decision node %s has conditional branches but no default edge", nodeID)
		}
	} else if edge, ok := graph.Edges[node.DefaultEdge]; !ok || edge.From != nodeID {
		defErr.add("decision node %s names invalid default edge %s", nodeID, node.DefaultEdge)
	}
}
