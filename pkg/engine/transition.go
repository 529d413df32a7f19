package engine

import (
	"context"
	"errors"
	"time"

	"github.com/procflow/procflow/pkg/eventbus"
	"github.com/procflow/procflow/pkg/events"
	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/protocol"
	"github.com/procflow/procflow/pkg/scheduler"
)

// plan accumulates the side effects of one stimulus across the cascade of
// transitions it causes (decision auto-advance, parallel fan-out, join
// release). Timers are synced and events emitted only after the instance
// persists.
type plan struct {
	departed       []string
	entered        []*models.Node
	records        []models.Transition
	completedTask  string
	completionData map[string]any
}

func (p *plan) depart(nodeID string) {
	for _, id := range p.departed {
		if id == nodeID {
			return
		}
	}

	p.departed = append(p.departed, nodeID)
}

func (p *plan) enter(node *models.Node) {
	p.entered = append(p.entered, node)
}

// advance applies a transition cascade and commits the result. Guard
// denials and definition defects abort without persisting, so the stored
// instance is unchanged; unroutable action failures retire the instance
// as Failed.
func (e *Engine) advance(
	ctx context.Context,
	def *models.Definition,
	instance *models.Instance,
	edge *models.Edge,
	actor, reason string,
	expectedVersion int64,
	p *plan,
) (*models.Instance, error) {
	if err := e.applyTransition(ctx, def, instance, edge, actor, reason, p); err != nil {
		var denied *GuardDeniedError

		var defect *DefinitionRuntimeError

		if errors.As(err, &denied) || errors.As(err, &defect) {
			return nil, err
		}

		return nil, e.failInstance(ctx, instance, edge.To, expectedVersion, err)
	}

	return e.commit(ctx, def, instance, actor, expectedVersion, p)
}

// applyTransition runs exit actions, then entry guards, then entry
// actions, then the state update, in that order, so suspension points
// fall between discrete idempotent steps. Destination kinds that cannot
// rest (decision, parallel, satisfied join) recurse immediately.
func (e *Engine) applyTransition(
	ctx context.Context,
	def *models.Definition,
	instance *models.Instance,
	edge *models.Edge,
	actor, reason string,
	p *plan,
) error {
	toNode, ok := def.Graph.Node(edge.To)
	if !ok {
		return &DefinitionRuntimeError{DefinitionID: def.ID, NodeID: edge.To, Problem: "edge destination not found"}
	}

	if fromNode, ok := def.Graph.Node(edge.From); ok && len(fromNode.ExitActions) > 0 {
		if err := e.runActions(ctx, instance, fromNode, fromNode.ExitActions, actor); err != nil {
			return e.routeError(ctx, def, instance, fromNode, actor, err, p)
		}
	}

	if len(toNode.Guards) > 0 {
		result := e.evaluator.EvaluateAll(toNode.Guards, e.evalContext(ctx, instance, toNode.ID, actor))
		if !result.Allowed() {
			return &GuardDeniedError{
				InstanceID:   instance.ID,
				NodeID:       toNode.ID,
				Reason:       result.Reason,
				Requirements: result.Requirements,
			}
		}
	}

	if err := e.runActions(ctx, instance, toNode, toNode.EntryActions, actor); err != nil {
		instance.RemoveActiveNode(edge.From)
		p.depart(edge.From)

		return e.routeError(ctx, def, instance, toNode, actor, err, p)
	}

	now := e.clk.Now()

	instance.RemoveActiveNode(edge.From)
	p.depart(edge.From)

	if toNode.Kind == models.NodeKindJoin {
		return e.arriveAtJoin(ctx, def, instance, edge, toNode, actor, reason, now, p)
	}

	instance.AddActiveNode(toNode.ID)
	p.records = append(p.records,
		instance.AppendTransition(edge.From, toNode.ID, actor, reason, now, instance.SnapshotVariables()))

	switch toNode.Kind {
	case models.NodeKindDecision:
		next, branch, err := e.selectDecisionEdge(ctx, def, instance, toNode, actor)
		if err != nil {
			return err
		}

		return e.applyTransition(ctx, def, instance, next, actor, branch, p)

	case models.NodeKindParallel:
		evalCtx := e.evalContext(ctx, instance, toNode.ID, actor)

		for _, branchEdge := range def.Graph.OutgoingEdges(toNode.ID) {
			if !e.conditionMatches(branchEdge.Condition, evalCtx) {
				continue
			}

			if err := e.applyTransition(ctx, def, instance, branchEdge, actor, "parallel branch", p); err != nil {
				return err
			}
		}

		return nil

	case models.NodeKindTask:
		if toNode.SLA > 0 {
			instance.SLADeadlines[toNode.ID] = now.Add(toNode.SLA)
		}

		p.enter(toNode)

	case models.NodeKindTimer:
		p.enter(toNode)

	case models.NodeKindStart, models.NodeKindEnd, models.NodeKindJoin:
	}

	return nil
}

// arriveAtJoin records one arrival for the current visit. The join stays
// pending in the active-node set until the expected count is reached,
// then advances and resets the counter so a loop back through the join
// starts a fresh visit. Partial arrivals are recorded in history.
func (e *Engine) arriveAtJoin(
	ctx context.Context,
	def *models.Definition,
	instance *models.Instance,
	edge *models.Edge,
	join *models.Node,
	actor, reason string,
	now time.Time,
	p *plan,
) error {
	if instance.JoinArrivals == nil {
		instance.JoinArrivals = make(map[string]int)
	}

	instance.JoinArrivals[join.ID]++
	instance.AddActiveNode(join.ID)
	p.records = append(p.records,
		instance.AppendTransition(edge.From, join.ID, actor, reason, now, instance.SnapshotVariables()))

	if instance.JoinArrivals[join.ID] < join.ExpectedBranches {
		return nil
	}

	delete(instance.JoinArrivals, join.ID)

	next := e.selectOutgoingEdge(def, join.ID, e.evalContext(ctx, instance, join.ID, actor))
	if next == nil {
		return &DefinitionRuntimeError{
			DefinitionID: def.ID, NodeID: join.ID, Problem: "join has no eligible outgoing edge",
		}
	}

	return e.applyTransition(ctx, def, instance, next, actor, "join satisfied", p)
}

func (e *Engine) routeError(
	ctx context.Context,
	def *models.Definition,
	instance *models.Instance,
	node *models.Node,
	actor string,
	cause error,
	p *plan,
) error {
	if node.ErrorEdge == "" {
		return cause
	}

	errEdge, ok := def.Graph.Edge(node.ErrorEdge)
	if !ok {
		return cause
	}

	e.logger.WarnContext(ctx, "Routing failed branch to error edge",
		"instance_id", instance.ID, "node_id", node.ID, "error_edge", node.ErrorEdge, "cause", cause)

	return e.applyTransition(ctx, def, instance, errEdge, actor, "action failed: "+cause.Error(), p)
}

// selectDecisionEdge evaluates the decision's branches in declared order;
// the first match wins. No match falls through to the default edge;
// absence of both is a definition defect surfaced at runtime.
func (e *Engine) selectDecisionEdge(
	ctx context.Context,
	def *models.Definition,
	instance *models.Instance,
	node *models.Node,
	actor string,
) (*models.Edge, string, error) {
	evalCtx := e.evalContext(ctx, instance, node.ID, actor)

	for _, branch := range node.Branches {
		condition := branch.Condition
		if !e.conditionMatches(&condition, evalCtx) {
			continue
		}

		edge, ok := def.Graph.Edge(branch.Edge)
		if !ok {
			return nil, "", &DefinitionRuntimeError{
				DefinitionID: def.ID, NodeID: node.ID,
				Problem: "branch " + branch.Name + " references unknown edge " + branch.Edge,
			}
		}

		return edge, "branch " + branch.Name, nil
	}

	if node.DefaultEdge != "" {
		edge, ok := def.Graph.Edge(node.DefaultEdge)
		if !ok {
			return nil, "", &DefinitionRuntimeError{
				DefinitionID: def.ID, NodeID: node.ID,
				Problem: "default edge " + node.DefaultEdge + " not found",
			}
		}

		return edge, "default branch", nil
	}

	return nil, "", &DefinitionRuntimeError{
		DefinitionID: def.ID, NodeID: node.ID,
		Problem: "no branch matched and no default edge declared",
	}
}

// selectOutgoingEdge returns the first eligible edge in priority order.
func (e *Engine) selectOutgoingEdge(
	def *models.Definition,
	nodeID string,
	evalCtx protocol.EvalContext,
) *models.Edge {
	for _, edge := range def.Graph.OutgoingEdges(nodeID) {
		if e.conditionMatches(edge.Condition, evalCtx) {
			return edge
		}
	}

	return nil
}

func (e *Engine) selectEdgeTo(
	def *models.Definition,
	from, to string,
	evalCtx protocol.EvalContext,
) *models.Edge {
	for _, edge := range def.Graph.OutgoingEdges(from) {
		if edge.To != to {
			continue
		}

		if e.conditionMatches(edge.Condition, evalCtx) {
			return edge
		}
	}

	return nil
}

// conditionMatches resolves guard-kind conditions through the evaluator;
// the data kinds evaluate directly against the variable snapshot.
func (e *Engine) conditionMatches(cond *models.Condition, evalCtx protocol.EvalContext) bool {
	if cond == nil {
		return true
	}

	if cond.Kind == models.ConditionGuard {
		return e.evaluator.Evaluate(models.NamedGuard(cond.Guard, nil), evalCtx).Allowed()
	}

	return cond.Matches(evalCtx.Variables)
}

// enterInitial positions a freshly started instance on the successor of a
// start node. The hop runs guards and entry actions but records no
// transition; history starts at the first real move.
func (e *Engine) enterInitial(
	ctx context.Context,
	def *models.Definition,
	instance *models.Instance,
	startID, actor string,
	p *plan,
) error {
	edge := e.selectOutgoingEdge(def, startID, e.evalContext(ctx, instance, startID, actor))
	if edge == nil {
		return &DefinitionRuntimeError{
			DefinitionID: def.ID, NodeID: startID, Problem: "start node has no eligible outgoing edge",
		}
	}

	toNode, ok := def.Graph.Node(edge.To)
	if !ok {
		return &DefinitionRuntimeError{DefinitionID: def.ID, NodeID: edge.To, Problem: "edge destination not found"}
	}

	if len(toNode.Guards) > 0 {
		result := e.evaluator.EvaluateAll(toNode.Guards, e.evalContext(ctx, instance, toNode.ID, actor))
		if !result.Allowed() {
			return &GuardDeniedError{
				InstanceID:   instance.ID,
				NodeID:       toNode.ID,
				Reason:       result.Reason,
				Requirements: result.Requirements,
			}
		}
	}

	if err := e.runActions(ctx, instance, toNode, toNode.EntryActions, actor); err != nil {
		return err
	}

	now := e.clk.Now()

	instance.RemoveActiveNode(startID)

	switch toNode.Kind {
	case models.NodeKindDecision:
		instance.AddActiveNode(toNode.ID)

		next, branch, err := e.selectDecisionEdge(ctx, def, instance, toNode, actor)
		if err != nil {
			return err
		}

		return e.applyTransition(ctx, def, instance, next, actor, branch, p)

	case models.NodeKindParallel:
		instance.AddActiveNode(toNode.ID)
		evalCtx := e.evalContext(ctx, instance, toNode.ID, actor)

		for _, branchEdge := range def.Graph.OutgoingEdges(toNode.ID) {
			if !e.conditionMatches(branchEdge.Condition, evalCtx) {
				continue
			}

			if err := e.applyTransition(ctx, def, instance, branchEdge, actor, "parallel branch", p); err != nil {
				return err
			}
		}

		return nil

	case models.NodeKindTask:
		instance.AddActiveNode(toNode.ID)

		if toNode.SLA > 0 {
			instance.SLADeadlines[toNode.ID] = now.Add(toNode.SLA)
		}

		p.enter(toNode)

	case models.NodeKindTimer:
		instance.AddActiveNode(toNode.ID)
		p.enter(toNode)

	case models.NodeKindStart, models.NodeKindEnd, models.NodeKindJoin:
		instance.AddActiveNode(toNode.ID)
	}

	return nil
}

// commit detects completion, persists under the optimistic version check,
// syncs timers and emits the accumulated events.
func (e *Engine) commit(
	ctx context.Context,
	def *models.Definition,
	instance *models.Instance,
	actor string,
	expectedVersion int64,
	p *plan,
) (*models.Instance, error) {
	completed := e.detectCompletion(def, instance)

	instance.Version++

	if err := e.instances.SaveInstance(ctx, instance, expectedVersion); err != nil {
		return nil, err
	}

	for _, nodeID := range p.departed {
		e.scheduler.Disarm(instance.ID, nodeID)
	}

	if instance.Status.Terminal() {
		e.scheduler.DisarmInstance(instance.ID)
	} else {
		e.armEntered(instance, p)
	}

	if p.completedTask != "" {
		e.publish(ctx, instance.ID, events.TaskCompleted{
			BaseEvent:      events.NewBaseEvent(events.TaskCompletedEvent, instance.ID, instance.DefinitionID, actor),
			NodeID:         p.completedTask,
			CompletionData: p.completionData,
		})
	}

	e.publishTransitions(ctx, instance, p)

	if completed {
		e.publish(ctx, instance.ID, events.WorkflowCompleted{
			BaseEvent: events.NewBaseEvent(events.WorkflowCompletedEvent, instance.ID, instance.DefinitionID, actor),
			EndNodes:  append([]string(nil), instance.ActiveNodes...),
			Variables: instance.SnapshotVariables(),
			Duration:  e.clk.Now().Sub(instance.StartedAt),
		})

		e.logger.InfoContext(ctx, "Workflow completed",
			"instance_id", instance.ID, "end_nodes", instance.ActiveNodes)
	}

	return instance, nil
}

// detectCompletion retires the instance when every remaining active node
// is an end node.
func (e *Engine) detectCompletion(def *models.Definition, instance *models.Instance) bool {
	if instance.Status != models.InstanceStatusRunning || len(instance.ActiveNodes) == 0 {
		return false
	}

	for _, nodeID := range instance.ActiveNodes {
		node, ok := def.Graph.Node(nodeID)
		if !ok || node.Kind != models.NodeKindEnd {
			return false
		}
	}

	now := e.clk.Now()
	instance.Status = models.InstanceStatusCompleted
	instance.CompletedAt = &now

	return true
}

// failInstance retires the instance as Failed after an unroutable action
// error. The persisted state remains the source of truth for what
// actually happened before the failure.
func (e *Engine) failInstance(
	ctx context.Context,
	instance *models.Instance,
	nodeID string,
	expectedVersion int64,
	cause error,
) error {
	now := e.clk.Now()
	instance.Status = models.InstanceStatusFailed
	instance.CompletedAt = &now
	instance.Version++

	if err := e.instances.SaveInstance(ctx, instance, expectedVersion); err != nil {
		e.logger.ErrorContext(ctx, "Persisting failed instance",
			"instance_id", instance.ID, "error", err)

		return cause
	}

	e.scheduler.DisarmInstance(instance.ID)

	e.publish(ctx, instance.ID, events.WorkflowFailed{
		BaseEvent: events.NewBaseEvent(events.WorkflowFailedEvent, instance.ID, instance.DefinitionID, "system"),
		NodeID:    nodeID,
		Error:     cause.Error(),
	})

	e.logger.ErrorContext(ctx, "Workflow failed",
		"instance_id", instance.ID, "node_id", nodeID, "error", cause)

	return cause
}

// runActions executes a node's action list in order, applying
// set_variable outputs to the instance context.
func (e *Engine) runActions(
	ctx context.Context,
	instance *models.Instance,
	node *models.Node,
	acts []models.Action,
	actor string,
) error {
	if len(acts) == 0 {
		return nil
	}

	execCtx := e.execContext(instance, node.ID, actor)

	for _, action := range acts {
		execCtx.Variables = instance.SnapshotVariables()

		result, err := e.executor.Execute(ctx, action, execCtx, instance)
		if err != nil {
			return err
		}

		e.applyActionOutput(instance, action, result)
	}

	return nil
}

func (e *Engine) applyActionOutput(instance *models.Instance, action models.Action, result models.ActionResult) {
	if action.Kind != models.ActionKindSetVariable {
		return
	}

	for name, value := range result.Output {
		instance.Variables[name] = value
	}
}

func (e *Engine) execContext(instance *models.Instance, nodeID, actor string) protocol.ExecContext {
	return protocol.ExecContext{
		InstanceID: instance.ID,
		NodeID:     nodeID,
		EntityRef:  instance.EntityRef,
		ActorID:    actor,
		Variables:  instance.SnapshotVariables(),
	}
}

// evalContext snapshots everything a guard may look at. Roles and
// permissions come from the directory when one is wired; approvals ride
// on the instance variable of the same name.
func (e *Engine) evalContext(ctx context.Context, instance *models.Instance, nodeID, actor string) protocol.EvalContext {
	evalCtx := protocol.EvalContext{
		InstanceID: instance.ID,
		NodeID:     nodeID,
		ActorID:    actor,
		Now:        e.clk.Now().Unix(),
		Variables:  instance.SnapshotVariables(),
	}

	if e.directory != nil {
		if roles, err := e.directory.Roles(ctx, actor); err == nil {
			evalCtx.Roles = roles
		} else {
			e.logger.WarnContext(ctx, "Resolving actor roles", "actor", actor, "error", err)
		}

		if permissions, err := e.directory.Permissions(ctx, actor); err == nil {
			evalCtx.Permissions = permissions
		}
	}

	switch approvals := instance.Variables["approvals"].(type) {
	case int:
		evalCtx.Approvals = approvals
	case int64:
		evalCtx.Approvals = int(approvals)
	case float64:
		evalCtx.Approvals = int(approvals)
	}

	return evalCtx
}

// armEntered arms timers for the nodes the cascade settled on.
func (e *Engine) armEntered(instance *models.Instance, p *plan) {
	for _, node := range p.entered {
		if instance.IsAtNode(node.ID) {
			e.armNode(instance, node)
		}
	}
}

// armNode arms the deadline appropriate for a node kind. Tasks with an
// SLA get an escalation entry at the recorded deadline; a task without an
// explicit rule escalates once to its assignee.
func (e *Engine) armNode(instance *models.Instance, node *models.Node) {
	switch node.Kind {
	case models.NodeKindTask:
		if node.SLA <= 0 {
			return
		}

		deadline, ok := instance.SLADeadlines[node.ID]
		if !ok {
			deadline = e.clk.Now().Add(node.SLA)
		}

		rule := node.Escalation
		if rule == nil {
			rule = &models.EscalationRule{TriggerAfter: node.SLA, Targets: assigneeTargets(node)}
		}

		e.scheduler.Arm(scheduler.Entry{
			FireAt:     deadline,
			InstanceID: instance.ID,
			NodeID:     node.ID,
			Rule:       rule,
		})

	case models.NodeKindTimer:
		e.scheduler.ArmTimer(instance.ID, node.ID, node.Duration)

	case models.NodeKindStart, models.NodeKindDecision, models.NodeKindParallel,
		models.NodeKindJoin, models.NodeKindEnd:
	}
}

func assigneeTargets(node *models.Node) []string {
	if node.AssigneeRule == "" {
		return nil
	}

	return []string{node.AssigneeRule}
}

func (e *Engine) publishTransitions(ctx context.Context, instance *models.Instance, p *plan) {
	for _, record := range p.records {
		e.publish(ctx, instance.ID, events.WorkflowTransitioned{
			BaseEvent: events.NewBaseEvent(events.WorkflowTransitionedEvent,
				instance.ID, instance.DefinitionID, record.Actor),
			FromNode:  record.FromNode,
			ToNode:    record.ToNode,
			Reason:    record.Reason,
			Variables: record.Variables,
			Version:   instance.Version,
		})
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Publishing workflow event",
			"event_type", event.GetType(), "key", key, "error", err)
	}
}
