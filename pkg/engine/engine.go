// Package engine drives workflow instances through their definitions:
// edge selection, guard checks, action execution, parallel/join
// bookkeeping, timer arming and event emission. Each instance is
// single-writer; concurrent triggers race on the version counter and the
// loser reloads and retries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/procflow/procflow/pkg/actions"
	"github.com/procflow/procflow/pkg/clock"
	"github.com/procflow/procflow/pkg/eventbus"
	"github.com/procflow/procflow/pkg/events"
	"github.com/procflow/procflow/pkg/guards"
	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/persistence"
	"github.com/procflow/procflow/pkg/protocol"
	"github.com/procflow/procflow/pkg/scheduler"
)

// Config wires the engine's collaborators. Definitions, Instances,
// Evaluator, Executor, Scheduler and Clock are required; Publisher,
// Directory and Resolver may be nil.
type Config struct {
	Definitions persistence.DefinitionStore
	Instances   persistence.InstanceStore
	Evaluator   *guards.Evaluator
	Executor    actions.Executor
	Scheduler   *scheduler.Scheduler
	Publisher   eventbus.EventPublisher
	Directory   protocol.ActorDirectory
	Resolver    protocol.EntityResolver
	Clock       clock.Clock
	Logger      *slog.Logger
}

type Engine struct {
	definitions persistence.DefinitionStore
	instances   persistence.InstanceStore
	evaluator   *guards.Evaluator
	executor    actions.Executor
	scheduler   *scheduler.Scheduler
	publisher   eventbus.EventPublisher
	directory   protocol.ActorDirectory
	resolver    protocol.EntityResolver
	clk         clock.Clock
	logger      *slog.Logger
	tracer      trace.Tracer
}

func New(cfg Config) *Engine {
	return &Engine{
		definitions: cfg.Definitions,
		instances:   cfg.Instances,
		evaluator:   cfg.Evaluator,
		executor:    cfg.Executor,
		scheduler:   cfg.Scheduler,
		publisher:   cfg.Publisher,
		directory:   cfg.Directory,
		resolver:    cfg.Resolver,
		clk:         cfg.Clock,
		logger:      cfg.Logger.With("module", "engine"),
		tracer:      otel.Tracer("procflow/engine"),
	}
}

// Start creates a running instance of an active definition, seeds its
// variables and positions it on the successors of the start nodes. The
// start hop itself is not a recorded transition.
func (e *Engine) Start(
	ctx context.Context,
	definitionID, entityRef, initiator string,
	variables map[string]any,
) (*models.Instance, error) {
	ctx, span := e.tracer.Start(ctx, "engine.start", trace.WithAttributes(
		attribute.String("workflow.definition_id", definitionID),
		attribute.String("workflow.entity_ref", entityRef)))
	defer span.End()

	def, err := e.definitions.DefinitionByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	if !def.Active {
		return nil, fmt.Errorf("definition %s is not active", definitionID)
	}

	if e.resolver != nil {
		if _, err := e.resolver.Resolve(ctx, entityRef); err != nil {
			return nil, fmt.Errorf("resolving entity %s: %w", entityRef, err)
		}
	}

	instance := models.NewInstance(def, entityRef, initiator, e.clk.Now())
	for name, value := range variables {
		instance.Variables[name] = value
	}

	for name, decl := range def.Variables {
		if !decl.Required {
			continue
		}

		if _, ok := instance.Variables[name]; !ok {
			return nil, fmt.Errorf("required variable %q not supplied", name)
		}
	}

	span.SetAttributes(attribute.String("workflow.instance_id", instance.ID))

	p := &plan{}

	for _, startID := range def.Graph.StartNodes {
		if err := e.enterInitial(ctx, def, instance, startID, initiator, p); err != nil {
			span.RecordError(err)

			return nil, err
		}
	}

	e.detectCompletion(def, instance)

	if err := e.instances.CreateInstance(ctx, instance); err != nil {
		span.RecordError(err)

		return nil, err
	}

	e.armEntered(instance, p)

	e.publish(ctx, instance.ID, events.WorkflowStarted{
		BaseEvent:  events.NewBaseEvent(events.WorkflowStartedEvent, instance.ID, def.ID, initiator),
		EntityRef:  entityRef,
		StartNodes: append([]string(nil), instance.ActiveNodes...),
		Variables:  instance.SnapshotVariables(),
		DefVersion: def.Version,
	})
	e.publishTransitions(ctx, instance, p)

	e.logger.InfoContext(ctx, "Workflow started",
		"instance_id", instance.ID,
		"definition_id", def.ID,
		"entity_ref", entityRef,
		"active_nodes", instance.ActiveNodes)

	return instance, nil
}

// Transition moves an instance along an eligible edge. expectedVersion
// implements optimistic concurrency: a mismatch against the stored
// counter yields ErrConcurrencyConflict and the caller reloads and
// retries. Data is merged into the variable context before edge
// conditions are evaluated.
func (e *Engine) Transition(
	ctx context.Context,
	instanceID string,
	expectedVersion int64,
	from, to, actor string,
	data map[string]any,
) (*models.Instance, error) {
	ctx, span := e.tracer.Start(ctx, "engine.transition", trace.WithAttributes(
		attribute.String("workflow.instance_id", instanceID),
		attribute.String("workflow.from_node", from),
		attribute.String("workflow.to_node", to)))
	defer span.End()

	instance, def, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if err := e.checkWritable(instance, from); err != nil {
		return nil, err
	}

	if expectedVersion != instance.Version {
		return nil, persistence.NewInstanceError("Transition", instanceID, persistence.ErrConcurrencyConflict)
	}

	mergeVariables(instance, data)

	edge := e.selectEdgeTo(def, from, to, e.evalContext(ctx, instance, from, actor))
	if edge == nil {
		return nil, &TransitionNotAllowedError{InstanceID: instanceID, From: from, To: to}
	}

	result, err := e.advance(ctx, def, instance, edge, actor, "", expectedVersion, &plan{})
	if err != nil {
		span.RecordError(err)
	}

	return result, err
}

// CompleteTask records completion of an active task node and advances it
// along its first eligible outgoing edge.
func (e *Engine) CompleteTask(
	ctx context.Context,
	instanceID, nodeID string,
	data map[string]any,
	actor string,
) (*models.Instance, error) {
	ctx, span := e.tracer.Start(ctx, "engine.complete_task", trace.WithAttributes(
		attribute.String("workflow.instance_id", instanceID),
		attribute.String("workflow.node_id", nodeID)))
	defer span.End()

	instance, def, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if err := e.checkWritable(instance, nodeID); err != nil {
		return nil, err
	}

	node, ok := def.Graph.Node(nodeID)
	if !ok || node.Kind != models.NodeKindTask {
		return nil, &TransitionNotAllowedError{
			InstanceID: instanceID, From: nodeID, Reason: "node is not a task",
		}
	}

	mergeVariables(instance, data)

	edge := e.selectOutgoingEdge(def, nodeID, e.evalContext(ctx, instance, nodeID, actor))
	if edge == nil {
		return nil, &TransitionNotAllowedError{
			InstanceID: instanceID, From: nodeID, Reason: "no outgoing edge condition matched",
		}
	}

	p := &plan{completedTask: nodeID, completionData: data}

	result, err := e.advance(ctx, def, instance, edge, actor, "task completed", instance.Version, p)
	if err != nil {
		span.RecordError(err)
	}

	return result, err
}

// FireTimer runs a due timer node's timeout actions and advances the
// branch through its outgoing edge.
func (e *Engine) FireTimer(ctx context.Context, instanceID, nodeID string) (*models.Instance, error) {
	instance, def, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if err := e.checkWritable(instance, nodeID); err != nil {
		return nil, err
	}

	return e.fireTimerNode(ctx, def, instance, nodeID, "system", "timer elapsed")
}

// Signal wakes an active timer node before its duration elapses. The
// timeout actions still run, then the branch advances.
func (e *Engine) Signal(
	ctx context.Context,
	instanceID, nodeID, actor string,
	data map[string]any,
) (*models.Instance, error) {
	instance, def, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if err := e.checkWritable(instance, nodeID); err != nil {
		return nil, err
	}

	node, ok := def.Graph.Node(nodeID)
	if !ok || node.Kind != models.NodeKindTimer {
		return nil, &TransitionNotAllowedError{
			InstanceID: instanceID, From: nodeID, Reason: "signal targets a non-timer node",
		}
	}

	mergeVariables(instance, data)

	return e.fireTimerNode(ctx, def, instance, nodeID, actor, "signalled")
}

func (e *Engine) fireTimerNode(
	ctx context.Context,
	def *models.Definition,
	instance *models.Instance,
	nodeID, actor, reason string,
) (*models.Instance, error) {
	node, ok := def.Graph.Node(nodeID)
	if !ok {
		return nil, &DefinitionRuntimeError{DefinitionID: def.ID, NodeID: nodeID, Problem: "node not found"}
	}

	expected := instance.Version

	if err := e.runActions(ctx, instance, node, node.TimeoutActions, actor); err != nil {
		return nil, e.failInstance(ctx, instance, nodeID, expected, err)
	}

	edge := e.selectOutgoingEdge(def, nodeID, e.evalContext(ctx, instance, nodeID, actor))
	if edge == nil {
		return nil, &TransitionNotAllowedError{
			InstanceID: instance.ID, From: nodeID, Reason: "no outgoing edge condition matched",
		}
	}

	return e.advance(ctx, def, instance, edge, actor, reason, expected, &plan{})
}

// Cancel retires the instance, recording the canceller and reason. Exit
// actions of every active node run first; in-flight work is allowed to
// finish, there is no hard kill.
func (e *Engine) Cancel(ctx context.Context, instanceID, actor, reason string) (*models.Instance, error) {
	instance, def, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status.Terminal() {
		return nil, &TerminalStateViolationError{InstanceID: instanceID, Status: instance.Status}
	}

	expected := instance.Version
	now := e.clk.Now()

	instance.Variables["cancelled_by"] = actor
	instance.Variables["cancel_reason"] = reason

	activeNodes := append([]string(nil), instance.ActiveNodes...)

	for _, nodeID := range activeNodes {
		node, ok := def.Graph.Node(nodeID)
		if !ok {
			continue
		}

		if err := e.runActions(ctx, instance, node, node.ExitActions, actor); err != nil {
			e.logger.ErrorContext(ctx, "Cancellation exit action failed",
				"instance_id", instanceID, "node_id", nodeID, "error", err)
		}

		instance.AppendTransition(nodeID, nodeID, actor, "cancelled: "+reason, now, instance.SnapshotVariables())
	}

	instance.Status = models.InstanceStatusCancelled
	instance.CompletedAt = &now
	instance.Version++

	if err := e.instances.SaveInstance(ctx, instance, expected); err != nil {
		return nil, err
	}

	e.scheduler.DisarmInstance(instanceID)

	e.publish(ctx, instanceID, events.WorkflowCancelled{
		BaseEvent:   events.NewBaseEvent(events.WorkflowCancelledEvent, instanceID, instance.DefinitionID, actor),
		Reason:      reason,
		ActiveNodes: activeNodes,
	})

	e.logger.InfoContext(ctx, "Workflow cancelled",
		"instance_id", instanceID, "actor", actor, "reason", reason)

	return instance, nil
}

// Suspend pauses a running instance. Timers are disarmed until Resume.
func (e *Engine) Suspend(ctx context.Context, instanceID, actor, reason string) (*models.Instance, error) {
	instance, _, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status.Terminal() {
		return nil, &TerminalStateViolationError{InstanceID: instanceID, Status: instance.Status}
	}

	if instance.Status != models.InstanceStatusRunning {
		return nil, &SuspendedError{InstanceID: instanceID}
	}

	expected := instance.Version
	instance.Status = models.InstanceStatusSuspended
	instance.Version++

	if err := e.instances.SaveInstance(ctx, instance, expected); err != nil {
		return nil, err
	}

	e.scheduler.DisarmInstance(instanceID)

	e.publish(ctx, instanceID, events.WorkflowSuspended{
		BaseEvent: events.NewBaseEvent(events.WorkflowSuspendedEvent, instanceID, instance.DefinitionID, actor),
		Reason:    reason,
	})

	return instance, nil
}

// Resume reactivates a suspended instance and re-arms timers for its
// active nodes from their recorded deadlines.
func (e *Engine) Resume(ctx context.Context, instanceID, actor string) (*models.Instance, error) {
	instance, def, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status.Terminal() {
		return nil, &TerminalStateViolationError{InstanceID: instanceID, Status: instance.Status}
	}

	if instance.Status != models.InstanceStatusSuspended {
		return nil, fmt.Errorf("instance %s is not suspended", instanceID)
	}

	expected := instance.Version
	instance.Status = models.InstanceStatusRunning
	instance.Version++

	if err := e.instances.SaveInstance(ctx, instance, expected); err != nil {
		return nil, err
	}

	for _, nodeID := range instance.ActiveNodes {
		if node, ok := def.Graph.Node(nodeID); ok {
			e.armNode(instance, node)
		}
	}

	e.publish(ctx, instanceID, events.WorkflowResumed{
		BaseEvent: events.NewBaseEvent(events.WorkflowResumedEvent, instanceID, instance.DefinitionID, actor),
	})

	return instance, nil
}

// HandleTimerFired implements scheduler.TimerHandler. Firings for nodes
// no longer active are reported inactive and dropped.
func (e *Engine) HandleTimerFired(ctx context.Context, instanceID, nodeID string, firedAt time.Time) (bool, error) {
	_, err := e.FireTimer(ctx, instanceID, nodeID)
	if err != nil {
		if staleFiring(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// HandleEscalationFired implements scheduler.TimerHandler. The escalation
// actions go through the executor's idempotency discipline; the action ID
// is suffixed with the repeat count so each firing dispatches once.
func (e *Engine) HandleEscalationFired(
	ctx context.Context,
	instanceID, nodeID string,
	rule *models.EscalationRule,
	repeat int,
	firedAt time.Time,
) (bool, error) {
	instance, _, err := e.load(ctx, instanceID)
	if err != nil {
		if staleFiring(err) {
			return false, nil
		}

		return false, err
	}

	if instance.Status != models.InstanceStatusRunning || !instance.IsAtNode(nodeID) {
		return false, nil
	}

	expected := instance.Version

	acts := rule.Actions
	if len(acts) == 0 {
		acts = []models.Action{models.Escalate("sla-escalation", "sla deadline missed", rule.Targets...)}
	}

	execCtx := e.execContext(instance, nodeID, "system")

	for _, action := range acts {
		fired := action
		fired.ID = fmt.Sprintf("%s#%d", action.ID, repeat)

		result, err := e.executor.Execute(ctx, fired, execCtx, instance)
		if err != nil {
			e.logger.ErrorContext(ctx, "Escalation action failed",
				"instance_id", instanceID, "node_id", nodeID, "action_id", action.ID, "error", err)

			continue
		}

		e.applyActionOutput(instance, fired, result)
	}

	instance.Version++

	if err := e.instances.SaveInstance(ctx, instance, expected); err != nil {
		return false, err
	}

	e.publish(ctx, instanceID, events.WorkflowEscalated{
		BaseEvent: events.NewBaseEvent(events.WorkflowEscalatedEvent, instanceID, instance.DefinitionID, "system"),
		NodeID:    nodeID,
		Targets:   rule.Targets,
		Repeat:    repeat,
		Reason:    "sla deadline missed",
	})

	e.logger.WarnContext(ctx, "Workflow escalated",
		"instance_id", instanceID, "node_id", nodeID, "repeat", repeat, "targets", rule.Targets)

	return true, nil
}

// Instance loads the current state of an instance.
func (e *Engine) Instance(ctx context.Context, instanceID string) (*models.Instance, error) {
	return e.instances.InstanceByID(ctx, instanceID)
}

func (e *Engine) load(ctx context.Context, instanceID string) (*models.Instance, *models.Definition, error) {
	instance, err := e.instances.InstanceByID(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}

	def, err := e.definitions.DefinitionByID(ctx, instance.DefinitionID)
	if err != nil {
		return nil, nil, err
	}

	return instance, def, nil
}

func (e *Engine) checkWritable(instance *models.Instance, nodeID string) error {
	if instance.Status.Terminal() {
		return &TerminalStateViolationError{InstanceID: instance.ID, Status: instance.Status}
	}

	if instance.Status == models.InstanceStatusSuspended {
		return &SuspendedError{InstanceID: instance.ID}
	}

	if !instance.IsAtNode(nodeID) {
		return &TerminalStateViolationError{InstanceID: instance.ID, NodeID: nodeID, Status: instance.Status}
	}

	return nil
}

// staleFiring reports whether a timer firing failed only because the
// world moved on underneath it.
func staleFiring(err error) bool {
	var terminal *TerminalStateViolationError
	if errors.As(err, &terminal) {
		return true
	}

	var suspended *SuspendedError
	if errors.As(err, &suspended) {
		return true
	}

	return errors.Is(err, persistence.ErrInstanceNotFound)
}

func mergeVariables(instance *models.Instance, data map[string]any) {
	for name, value := range data {
		instance.Variables[name] = value
	}
}
