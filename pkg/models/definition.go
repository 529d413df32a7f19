// Package models defines the core domain models for graph-structured
// approval workflows: definitions, nodes, edges, guards, actions and
// live instances.
package models

import (
	"sort"
	"time"
)

// NodeKind discriminates the node variants of a workflow graph.
type NodeKind string

const (
	NodeKindStart    NodeKind = "start"
	NodeKindTask     NodeKind = "task"
	NodeKindDecision NodeKind = "decision"
	NodeKindParallel NodeKind = "parallel"
	NodeKindJoin     NodeKind = "join"
	NodeKindTimer    NodeKind = "timer"
	NodeKindEnd      NodeKind = "end"
)

// Definition is a published, versioned workflow. Definitions are immutable:
// editing a published definition produces a new Definition with a new ID and
// version, never an in-place change.
type Definition struct {
	ID          string                 `json:"id"          validate:"required"`
	Name        string                 `json:"name"        validate:"required,min=3"`
	Version     string                 `json:"version"     validate:"required"`
	Description string                 `json:"description"`
	Graph       *Graph                 `json:"graph"       validate:"required"`
	Variables   map[string]VariableDef `json:"variables,omitempty"`
	Active      bool                   `json:"active"`
	CreatedAt   time.Time              `json:"created_at"`
	CreatedBy   string                 `json:"created_by"`
}

// VariableDef declares a workflow variable, its type and optional default.
type VariableDef struct {
	Type     VariableType `json:"type" validate:"required"`
	Default  any          `json:"default,omitempty"`
	Required bool         `json:"required"`
}

type VariableType string

const (
	VariableTypeString   VariableType = "string"
	VariableTypeNumber   VariableType = "number"
	VariableTypeBoolean  VariableType = "boolean"
	VariableTypeDateTime VariableType = "datetime"
	VariableTypeDuration VariableType = "duration"
	VariableTypeJSON     VariableType = "json"
)

// Graph is a flat index of nodes and edges keyed by identifier. Cycles
// (e.g. a rejection edge back to a draft task) are expressible because
// nodes reference each other by ID only.
type Graph struct {
	Nodes      map[string]*Node `json:"nodes"`
	Edges      map[string]*Edge `json:"edges"`
	StartNodes []string         `json:"start_nodes"`
	EndNodes   []string         `json:"end_nodes"`
}

func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
		Edges: make(map[string]*Edge),
	}
}

// AddNode indexes the node and keeps the start/end sets in sync.
func (g *Graph) AddNode(node *Node) {
	switch node.Kind {
	case NodeKindStart:
		if !contains(g.StartNodes, node.ID) {
			g.StartNodes = append(g.StartNodes, node.ID)
		}
	case NodeKindEnd:
		if !contains(g.EndNodes, node.ID) {
			g.EndNodes = append(g.EndNodes, node.ID)
		}
	}

	g.Nodes[node.ID] = node
}

func (g *Graph) AddEdge(edge *Edge) {
	g.Edges[edge.ID] = edge
}

func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.Nodes[id]

	return n, ok
}

func (g *Graph) Edge(id string) (*Edge, bool) {
	e, ok := g.Edges[id]

	return e, ok
}

// OutgoingEdges returns the edges leaving a node in ascending priority
// order, with edge ID as the tie-break so iteration order is stable.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge

	for _, edge := range g.Edges {
		if edge.From == nodeID {
			out = append(out, edge)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}

		return out[i].ID < out[j].ID
	})

	return out
}

func (g *Graph) IncomingEdges(nodeID string) []*Edge {
	var in []*Edge

	for _, edge := range g.Edges {
		if edge.To == nodeID {
			in = append(in, edge)
		}
	}

	sort.Slice(in, func(i, j int) bool { return in[i].ID < in[j].ID })

	return in
}

// ReachableNodes walks edges from the start set.
func (g *Graph) ReachableNodes() map[string]bool {
	reachable := make(map[string]bool)
	toVisit := append([]string(nil), g.StartNodes...)

	for len(toVisit) > 0 {
		nodeID := toVisit[len(toVisit)-1]
		toVisit = toVisit[:len(toVisit)-1]

		if reachable[nodeID] {
			continue
		}

		reachable[nodeID] = true

		for _, edge := range g.Edges {
			if edge.From == nodeID {
				toVisit = append(toVisit, edge.To)
			}
		}
	}

	return reachable
}

// Node is a typed step in the graph. A single struct tagged by Kind keeps
// definitions serializable; only the fields for the node's kind are set.
type Node struct {
	ID   string   `json:"id"   validate:"required"`
	Name string   `json:"name" validate:"required,min=1"`
	Kind NodeKind `json:"kind" validate:"required"`

	// Task fields.
	AssigneeRule string        `json:"assignee_rule,omitempty"`
	SLA          time.Duration `json:"sla,omitempty"`
	Guards       []Guard       `json:"guards,omitempty"`
	EntryActions []Action      `json:"entry_actions,omitempty"`
	ExitActions  []Action      `json:"exit_actions,omitempty"`
	ErrorEdge    string        `json:"error_edge,omitempty"`

	// Decision fields. Branches are evaluated in declared order; the first
	// matching condition selects the branch edge.
	Branches    []Branch `json:"branches,omitempty"`
	DefaultEdge string   `json:"default_edge,omitempty"`

	// Join fields.
	ExpectedBranches int `json:"expected_branches,omitempty"`

	// Timer fields.
	Duration       time.Duration   `json:"duration,omitempty"`
	TimeoutActions []Action        `json:"timeout_actions,omitempty"`
	Escalation     *EscalationRule `json:"escalation,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Branch is a named decision outcome routing to a specific edge.
type Branch struct {
	Name      string    `json:"name"      validate:"required"`
	Condition Condition `json:"condition"`
	Edge      string    `json:"edge"      validate:"required"`
}

// Edge is a directed, optionally conditioned link between two nodes.
// Priority breaks ties when several edges from the same node could match;
// lower values are considered first.
type Edge struct {
	ID        string     `json:"id"   validate:"required"`
	From      string     `json:"from" validate:"required"`
	To        string     `json:"to"   validate:"required"`
	Condition *Condition `json:"condition,omitempty"`
	Priority  int        `json:"priority"`
}

// ConditionKind discriminates how a condition is evaluated.
type ConditionKind string

const (
	// ConditionAlways matches unconditionally.
	ConditionAlways ConditionKind = "always"
	// ConditionEquals compares a variable against a literal value.
	ConditionEquals ConditionKind = "equals"
	// ConditionTruthy matches when a variable holds a truthy value.
	ConditionTruthy ConditionKind = "truthy"
	// ConditionGuard delegates to a named guard.
	ConditionGuard ConditionKind = "guard"
)

// Condition is a serializable boolean expression over instance variables.
type Condition struct {
	Kind     ConditionKind `json:"kind"`
	Variable string        `json:"variable,omitempty"`
	Value    any           `json:"value,omitempty"`
	Guard    string        `json:"guard,omitempty"`
}

// Matches evaluates the condition against a variable snapshot. Conditions
// referencing variables not present in the snapshot evaluate to false
// rather than erroring, so a decision falls through to its default edge.
// Guard-kind conditions are resolved by the engine, not here.
func (c *Condition) Matches(vars map[string]any) bool {
	if c == nil {
		return true
	}

	switch c.Kind {
	case ConditionAlways, "":
		return true
	case ConditionEquals:
		v, ok := vars[c.Variable]
		if !ok {
			return false
		}

		return v == c.Value
	case ConditionTruthy:
		v, ok := vars[c.Variable]
		if !ok {
			return false
		}

		return truthy(v)
	default:
		return false
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return v != nil
	}
}

// EscalationRule describes automated follow-up when a deadline is missed.
// With RepeatInterval unset the rule fires exactly once. With it set, the
// rule refires every interval, MaxRepeats times (0 means indefinitely).
// CronExpression, when set, overrides RepeatInterval with a cron schedule.
type EscalationRule struct {
	TriggerAfter   time.Duration `json:"trigger_after"`
	Targets        []string      `json:"targets,omitempty"`
	RepeatInterval time.Duration `json:"repeat_interval,omitempty"`
	MaxRepeats     int           `json:"max_repeats,omitempty"`
	CronExpression string        `json:"cron_expression,omitempty"`
	Actions        []Action      `json:"actions,omitempty"`
}

func contains(list []string, item string) bool {
	for _, candidate := range list {
		if candidate == item {
			return true
		}
	}

	return false
}
