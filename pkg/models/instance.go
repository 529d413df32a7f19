package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusSuspended InstanceStatus = "suspended"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether the status retires the instance. Terminal
// instances are retained for audit but accept no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// Instance is a live execution of a Definition against one tracked entity.
// The engine is the sole writer; Version implements optimistic concurrency,
// so concurrent triggers race on the counter and the loser retries.
type Instance struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id"`
	EntityRef    string         `json:"entity_ref"`
	Status       InstanceStatus `json:"status"`

	// ActiveNodes holds more than one entry while parallel branches are
	// open.
	ActiveNodes []string       `json:"active_nodes"`
	Variables   map[string]any `json:"variables"`

	// History is append-only; entries are never mutated or deleted.
	History []Transition `json:"history"`

	// JoinArrivals counts recorded arrivals per join node for the current
	// visit. The counter resets when the join advances, so loops back
	// through a join start a fresh visit.
	JoinArrivals map[string]int `json:"join_arrivals,omitempty"`

	// SLADeadlines tracks the armed deadline per active node.
	SLADeadlines map[string]time.Time `json:"sla_deadlines,omitempty"`

	// ExecutionKeys records dispatched external side effects so retries
	// never re-trigger an acknowledged call.
	ExecutionKeys map[string]bool `json:"execution_keys,omitempty"`

	Version     int64      `json:"version"`
	StartedAt   time.Time  `json:"started_at"`
	StartedBy   string     `json:"started_by"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewInstance creates a running instance positioned at the definition's
// start nodes, with variables seeded from declared defaults.
func NewInstance(def *Definition, entityRef, startedBy string, now time.Time) *Instance {
	variables := make(map[string]any)

	for name, decl := range def.Variables {
		if decl.Default != nil {
			variables[name] = decl.Default
		}
	}

	return &Instance{
		ID:            uuid.New().String(),
		DefinitionID:  def.ID,
		EntityRef:     entityRef,
		Status:        InstanceStatusRunning,
		ActiveNodes:   append([]string(nil), def.Graph.StartNodes...),
		Variables:     variables,
		JoinArrivals:  make(map[string]int),
		SLADeadlines:  make(map[string]time.Time),
		ExecutionKeys: make(map[string]bool),
		StartedAt:     now,
		StartedBy:     startedBy,
	}
}

// UnmarshalJSON restores the bookkeeping maps after decoding. Empty maps
// are dropped from the stored document, and the engine writes into them
// on entry, so a loaded instance must never carry nil maps.
func (i *Instance) UnmarshalJSON(data []byte) error {
	type alias Instance

	if err := json.Unmarshal(data, (*alias)(i)); err != nil {
		return err
	}

	if i.Variables == nil {
		i.Variables = make(map[string]any)
	}

	if i.JoinArrivals == nil {
		i.JoinArrivals = make(map[string]int)
	}

	if i.SLADeadlines == nil {
		i.SLADeadlines = make(map[string]time.Time)
	}

	if i.ExecutionKeys == nil {
		i.ExecutionKeys = make(map[string]bool)
	}

	return nil
}

func (i *Instance) IsAtNode(nodeID string) bool {
	return contains(i.ActiveNodes, nodeID)
}

func (i *Instance) RemoveActiveNode(nodeID string) {
	remaining := i.ActiveNodes[:0]

	for _, active := range i.ActiveNodes {
		if active != nodeID {
			remaining = append(remaining, active)
		}
	}

	i.ActiveNodes = remaining
	delete(i.SLADeadlines, nodeID)
}

func (i *Instance) AddActiveNode(nodeID string) {
	if !contains(i.ActiveNodes, nodeID) {
		i.ActiveNodes = append(i.ActiveNodes, nodeID)
	}
}

// AppendTransition records a history entry and returns it.
func (i *Instance) AppendTransition(from, to, actor, reason string, at time.Time, snapshot map[string]any) Transition {
	transition := Transition{
		ID:        uuid.New().String(),
		FromNode:  from,
		ToNode:    to,
		At:        at,
		Actor:     actor,
		Reason:    reason,
		Variables: snapshot,
	}
	i.History = append(i.History, transition)

	return transition
}

// SnapshotVariables copies the current variable context for history records
// and event payloads.
func (i *Instance) SnapshotVariables() map[string]any {
	snapshot := make(map[string]any, len(i.Variables))

	for k, v := range i.Variables {
		snapshot[k] = v
	}

	return snapshot
}

// HasExecutionKey reports whether the side effect identified by key was
// already dispatched.
func (i *Instance) HasExecutionKey(key string) bool {
	return i.ExecutionKeys[key]
}

func (i *Instance) RecordExecutionKey(key string) {
	if i.ExecutionKeys == nil {
		i.ExecutionKeys = make(map[string]bool)
	}

	i.ExecutionKeys[key] = true
}

// Clone deep-copies the instance so stores can hand out isolated values.
func (i *Instance) Clone() *Instance {
	clone := *i
	clone.ActiveNodes = append([]string(nil), i.ActiveNodes...)
	clone.Variables = copyMap(i.Variables)

	clone.History = make([]Transition, len(i.History))
	for idx, transition := range i.History {
		cloned := transition
		cloned.Variables = copyMap(transition.Variables)
		clone.History[idx] = cloned
	}

	clone.JoinArrivals = make(map[string]int, len(i.JoinArrivals))
	for k, v := range i.JoinArrivals {
		clone.JoinArrivals[k] = v
	}

	clone.SLADeadlines = make(map[string]time.Time, len(i.SLADeadlines))
	for k, v := range i.SLADeadlines {
		clone.SLADeadlines[k] = v
	}

	clone.ExecutionKeys = make(map[string]bool, len(i.ExecutionKeys))
	for k, v := range i.ExecutionKeys {
		clone.ExecutionKeys[k] = v
	}

	if i.CompletedAt != nil {
		completed := *i.CompletedAt
		clone.CompletedAt = &completed
	}

	return &clone
}

func copyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}

// Transition is one append-only history record.
type Transition struct {
	ID        string         `json:"id"`
	FromNode  string         `json:"from_node"`
	ToNode    string         `json:"to_node"`
	At        time.Time      `json:"at"`
	Actor     string         `json:"actor"`
	Reason    string         `json:"reason,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}
