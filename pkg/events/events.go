// Package events defines the lifecycle events emitted by the workflow
// engine for audit and integration. Payloads carry identifiers and small
// variable snapshots only, never entity content.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries all workflow lifecycle events.
const Topic = "procflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowStartedEvent      EventType = "workflow.started"
	WorkflowTransitionedEvent EventType = "workflow.transitioned"
	TaskCompletedEvent        EventType = "workflow.task.completed"
	WorkflowEscalatedEvent    EventType = "workflow.escalated"
	WorkflowCompletedEvent    EventType = "workflow.completed"
	WorkflowFailedEvent       EventType = "workflow.failed"
	WorkflowCancelledEvent    EventType = "workflow.cancelled"
	WorkflowSuspendedEvent    EventType = "workflow.suspended"
	WorkflowResumedEvent      EventType = "workflow.resumed"
)

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	InstanceID   string    `json:"instance_id"`
	DefinitionID string    `json:"definition_id"`
	Actor        string    `json:"actor,omitempty"`
}

func NewBaseEvent(eventType EventType, instanceID, definitionID, actor string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		InstanceID:   instanceID,
		DefinitionID: definitionID,
		Actor:        actor,
	}
}

type WorkflowStarted struct {
	BaseEvent

	EntityRef   string         `json:"entity_ref"`
	StartNodes  []string       `json:"start_nodes"`
	Variables   map[string]any `json:"variables,omitempty"`
	DefVersion  string         `json:"definition_version"`
	WorkflowRef string         `json:"workflow_ref,omitempty"`
}

func (e WorkflowStarted) GetType() EventType { return WorkflowStartedEvent }

type WorkflowTransitioned struct {
	BaseEvent

	FromNode  string         `json:"from_node"`
	ToNode    string         `json:"to_node"`
	Reason    string         `json:"reason,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Version   int64          `json:"version"`
}

func (e WorkflowTransitioned) GetType() EventType { return WorkflowTransitionedEvent }

type TaskCompleted struct {
	BaseEvent

	NodeID         string         `json:"node_id"`
	CompletionData map[string]any `json:"completion_data,omitempty"`
}

func (e TaskCompleted) GetType() EventType { return TaskCompletedEvent }

type WorkflowEscalated struct {
	BaseEvent

	NodeID  string   `json:"node_id"`
	Targets []string `json:"targets,omitempty"`
	Repeat  int      `json:"repeat"`
	Reason  string   `json:"reason,omitempty"`
}

func (e WorkflowEscalated) GetType() EventType { return WorkflowEscalatedEvent }

type WorkflowCompleted struct {
	BaseEvent

	EndNodes  []string       `json:"end_nodes"`
	Variables map[string]any `json:"variables,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

func (e WorkflowCompleted) GetType() EventType { return WorkflowCompletedEvent }

type WorkflowFailed struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
	Error  string `json:"error"`
}

func (e WorkflowFailed) GetType() EventType { return WorkflowFailedEvent }

type WorkflowCancelled struct {
	BaseEvent

	Reason      string   `json:"reason,omitempty"`
	ActiveNodes []string `json:"active_nodes"`
}

func (e WorkflowCancelled) GetType() EventType { return WorkflowCancelledEvent }

type WorkflowSuspended struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e WorkflowSuspended) GetType() EventType { return WorkflowSuspendedEvent }

type WorkflowResumed struct {
	BaseEvent
}

func (e WorkflowResumed) GetType() EventType { return WorkflowResumedEvent }
