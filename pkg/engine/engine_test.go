package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/pkg/actions"
	"github.com/procflow/procflow/pkg/clock"
	"github.com/procflow/procflow/pkg/engine"
	"github.com/procflow/procflow/pkg/eventbus"
	"github.com/procflow/procflow/pkg/events"
	"github.com/procflow/procflow/pkg/guards"
	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/persistence"
	"github.com/procflow/procflow/pkg/persistence/memory"
	"github.com/procflow/procflow/pkg/scheduler"
	"github.com/procflow/procflow/pkg/workflow"
)

type sentNotification struct {
	template   string
	recipients []string
}

type captureNotifier struct {
	sent []sentNotification
}

func (n *captureNotifier) Send(_ context.Context, template string, recipients []string, _ map[string]any) error {
	n.sent = append(n.sent, sentNotification{template: template, recipients: recipients})

	return nil
}

type captureIntegration struct {
	err error
}

func (i *captureIntegration) Invoke(_ context.Context, _, _ string, _ map[string]any) (map[string]any, error) {
	if i.err != nil {
		return nil, i.err
	}

	return map[string]any{}, nil
}

type captureBus struct {
	published []eventbus.Event
}

func (b *captureBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.published = append(b.published, event)

	return nil
}

func (b *captureBus) count(eventType events.EventType) int {
	n := 0

	for _, event := range b.published {
		if event.GetType() == eventType {
			n++
		}
	}

	return n
}

type staticDirectory struct {
	roles map[string][]string
}

func (d *staticDirectory) Roles(_ context.Context, actorID string) ([]string, error) {
	return d.roles[actorID], nil
}

func (d *staticDirectory) Permissions(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

type harness struct {
	engine    *engine.Engine
	store     *memory.Persistence
	clock     *clock.Fake
	scheduler *scheduler.Scheduler
	notifier  *captureNotifier
	bus       *captureBus
}

func newHarness(t *testing.T, def *models.Definition, opts ...func(*engine.Config)) *harness {
	t.Helper()

	store := memory.NewPersistence()
	fake := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	sched := scheduler.NewScheduler(fake, slog.Default(), time.Second)
	notifier := &captureNotifier{}
	bus := &captureBus{}

	executor := actions.NewDefaultExecutor(notifier, &captureIntegration{}, nil,
		actions.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxRetries: 1},
		slog.Default())

	cfg := engine.Config{
		Definitions: store,
		Instances:   store,
		Evaluator:   guards.NewEvaluator(nil),
		Executor:    executor,
		Scheduler:   sched,
		Publisher:   bus,
		Clock:       fake,
		Logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	def.Active = true
	if def.ID == "" {
		def.ID = "def-" + def.Name
	}

	require.NoError(t, def.Validate())
	require.NoError(t, store.SaveDefinition(context.Background(), def))

	return &harness{
		engine:    engine.New(cfg),
		store:     store,
		clock:     fake,
		scheduler: sched,
		notifier:  notifier,
		bus:       bus,
	}
}

func TestApprovalPathCompletes(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(0))
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"draft"}, instance.ActiveNodes)
	assert.Empty(t, instance.History)
	assert.Equal(t, int64(0), instance.Version)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, instance.ActiveNodes)
	assert.Len(t, instance.History, 1)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "review",
		map[string]any{"decision": "approve"}, "bob")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Len(t, instance.History, 3)
	assert.Equal(t, []string{"approved"}, instance.ActiveNodes)
	require.NotNil(t, instance.CompletedAt)

	assert.Equal(t, 1, h.bus.count(events.WorkflowStartedEvent))
	assert.Equal(t, 3, h.bus.count(events.WorkflowTransitionedEvent))
	assert.Equal(t, 2, h.bus.count(events.TaskCompletedEvent))
	assert.Equal(t, 1, h.bus.count(events.WorkflowCompletedEvent))
}

func TestRejectionLoopsBackToDraft(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(0))
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")
	require.NoError(t, err)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "review",
		map[string]any{"decision": "reject"}, "bob")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusRunning, instance.Status)
	assert.Len(t, instance.History, 3)
	assert.Equal(t, []string{"draft"}, instance.ActiveNodes)

	// The loop is live: the draft can be completed again.
	instance, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, instance.ActiveNodes)
}

func TestDecisionWithoutVariableTakesDefaultEdge(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(0))
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")
	require.NoError(t, err)

	// No decision variable: both branch conditions evaluate false and the
	// default edge routes back to draft.
	instance, err = h.engine.CompleteTask(ctx, instance.ID, "review", nil, "bob")
	require.NoError(t, err)

	assert.Equal(t, []string{"draft"}, instance.ActiveNodes)
}

func TestReviewSLAEscalatesExactlyOnce(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(time.Hour))
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	h.scheduler.Tick(ctx, h.engine)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, "escalation", h.notifier.sent[0].template)
	assert.Equal(t, []string{"reviewer"}, h.notifier.sent[0].recipients)

	// No repeat interval on the default rule: one firing only.
	h.clock.Advance(24 * time.Hour)
	h.scheduler.Tick(ctx, h.engine)

	assert.Len(t, h.notifier.sent, 1)
	assert.Equal(t, 1, h.bus.count(events.WorkflowEscalatedEvent))

	reloaded, err := h.engine.Instance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, reloaded.Status)
	assert.Equal(t, []string{"review"}, reloaded.ActiveNodes)
}

func TestParallelJoinWaitsForAllBranches(t *testing.T) {
	h := newHarness(t, workflow.ParallelSignoff())
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Parallel Signoff", "doc-1", "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"intake"}, instance.ActiveNodes)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "intake", nil, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"legal", "finance"}, instance.ActiveNodes)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "legal", nil, "lawyer")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"signoff", "finance"}, instance.ActiveNodes)
	assert.Equal(t, 1, instance.JoinArrivals["signoff"])
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "finance", nil, "accountant")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, []string{"done"}, instance.ActiveNodes)
	assert.Empty(t, instance.JoinArrivals, "arrival counter resets when the join advances")
}

func guardedReviewDefinition() *models.Definition {
	def := workflow.DocumentApproval(0)
	review := def.Graph.Nodes["review"]
	review.Guards = []models.Guard{models.RequireRole("reviewer")}

	return def
}

func TestGuardDenialLeavesInstanceUnchanged(t *testing.T) {
	h := newHarness(t, guardedReviewDefinition())
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	_, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")

	var denied *engine.GuardDeniedError

	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "review", denied.NodeID)
	assert.Contains(t, denied.Reason, "reviewer")

	reloaded, err := h.engine.Instance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"draft"}, reloaded.ActiveNodes)
	assert.Empty(t, reloaded.History)
	assert.Equal(t, int64(0), reloaded.Version)
}

func TestGuardAllowsActorWithRole(t *testing.T) {
	directory := &staticDirectory{roles: map[string][]string{"bob": {"reviewer"}}}
	h := newHarness(t, guardedReviewDefinition(), func(cfg *engine.Config) {
		cfg.Directory = directory
	})
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, instance.ActiveNodes)
}

func TestConcurrentTransitionLosesOnVersion(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(0))
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	stale := instance.Version

	// Two administrative writes move the version while the instance stays
	// on draft.
	_, err = h.engine.Suspend(ctx, instance.ID, "admin", "maintenance")
	require.NoError(t, err)
	_, err = h.engine.Resume(ctx, instance.ID, "admin")
	require.NoError(t, err)

	_, err = h.engine.Transition(ctx, instance.ID, stale, "draft", "review", "bob", nil)

	require.ErrorIs(t, err, persistence.ErrConcurrencyConflict)

	current, err := h.engine.Instance(ctx, instance.ID)
	require.NoError(t, err)

	// The reloaded version succeeds.
	_, err = h.engine.Transition(ctx, instance.ID, current.Version, "draft", "review", "bob", nil)
	require.NoError(t, err)
}

func TestTransitionFromInactiveNodeIsRejected(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(0))
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	_, err = h.engine.CompleteTask(ctx, instance.ID, "review", nil, "bob")

	var violation *engine.TerminalStateViolationError

	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "review", violation.NodeID)
}

func TestCompletedInstanceAcceptsNoFurtherTransitions(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(0))
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	_, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")
	require.NoError(t, err)

	_, err = h.engine.CompleteTask(ctx, instance.ID, "review",
		map[string]any{"decision": "approve"}, "bob")
	require.NoError(t, err)

	_, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")

	var violation *engine.TerminalStateViolationError

	require.ErrorAs(t, err, &violation)
}

func timerDefinition() *models.Definition {
	graph := models.NewGraph()
	graph.AddNode(&models.Node{ID: "start", Name: "Start", Kind: models.NodeKindStart})
	graph.AddNode(&models.Node{
		ID: "cooldown", Name: "Cooldown", Kind: models.NodeKindTimer,
		Duration:       30 * time.Minute,
		TimeoutActions: []models.Action{models.SetVariable("mark", "expired", true)},
	})
	graph.AddNode(&models.Node{ID: "done", Name: "Done", Kind: models.NodeKindEnd})
	graph.AddEdge(&models.Edge{ID: "e1", From: "start", To: "cooldown"})
	graph.AddEdge(&models.Edge{ID: "e2", From: "cooldown", To: "done"})

	return &models.Definition{Name: "Cooldown", Version: "1.0.0", Graph: graph}
}

func TestTimerNodeFiresAndAdvances(t *testing.T) {
	h := newHarness(t, timerDefinition())
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Cooldown", "doc-1", "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cooldown"}, instance.ActiveNodes)

	h.clock.Advance(30 * time.Minute)
	h.scheduler.Tick(ctx, h.engine)

	reloaded, err := h.engine.Instance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, reloaded.Status)
	assert.Equal(t, true, reloaded.Variables["expired"])
	assert.Len(t, reloaded.History, 1)
}

func TestSignalWakesTimerEarly(t *testing.T) {
	h := newHarness(t, timerDefinition())
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Cooldown", "doc-1", "alice", nil)
	require.NoError(t, err)

	instance, err = h.engine.Signal(ctx, instance.ID, "cooldown", "alice", nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, true, instance.Variables["expired"])

	// The armed timer is gone; a later tick must not fire anything.
	h.clock.Advance(time.Hour)
	h.scheduler.Tick(ctx, h.engine)
	assert.Zero(t, h.scheduler.Pending())
}

func TestCancelRecordsActorAndReason(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(time.Hour))
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	instance, err = h.engine.Cancel(ctx, instance.ID, "carol", "superseded by v2")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCancelled, instance.Status)
	assert.Equal(t, "carol", instance.Variables["cancelled_by"])
	assert.Equal(t, "superseded by v2", instance.Variables["cancel_reason"])
	require.Len(t, instance.History, 1)
	assert.Contains(t, instance.History[0].Reason, "superseded by v2")
	assert.Equal(t, 1, h.bus.count(events.WorkflowCancelledEvent))
	assert.Zero(t, h.scheduler.Pending())

	_, err = h.engine.Cancel(ctx, instance.ID, "carol", "again")

	var violation *engine.TerminalStateViolationError

	require.ErrorAs(t, err, &violation)
}

func TestSuspendAndResume(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(0))
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	instance, err = h.engine.Suspend(ctx, instance.ID, "admin", "maintenance")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusSuspended, instance.Status)

	_, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")

	var suspended *engine.SuspendedError

	require.ErrorAs(t, err, &suspended)

	instance, err = h.engine.Resume(ctx, instance.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)

	_, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, h.bus.count(events.WorkflowSuspendedEvent))
	assert.Equal(t, 1, h.bus.count(events.WorkflowResumedEvent))
}

func failingEntryDefinition(errorEdge bool) *models.Definition {
	graph := models.NewGraph()
	graph.AddNode(&models.Node{ID: "start", Name: "Start", Kind: models.NodeKindStart})
	graph.AddNode(&models.Node{ID: "prepare", Name: "Prepare", Kind: models.NodeKindTask})
	publishNode := &models.Node{
		ID: "publish", Name: "Publish", Kind: models.NodeKindTask,
		EntryActions: []models.Action{models.InvokeExternal("push", "cms", "publish")},
	}
	graph.AddNode(publishNode)
	graph.AddNode(&models.Node{ID: "manual", Name: "Manual Fallback", Kind: models.NodeKindTask})
	graph.AddNode(&models.Node{ID: "done", Name: "Done", Kind: models.NodeKindEnd})
	graph.AddEdge(&models.Edge{ID: "e1", From: "start", To: "prepare"})
	graph.AddEdge(&models.Edge{ID: "e2", From: "prepare", To: "publish"})
	graph.AddEdge(&models.Edge{ID: "e3", From: "publish", To: "done"})
	graph.AddEdge(&models.Edge{ID: "e4", From: "manual", To: "done"})
	graph.AddEdge(&models.Edge{ID: "err", From: "publish", To: "manual"})

	if errorEdge {
		publishNode.ErrorEdge = "err"
	}

	return &models.Definition{Name: "Publishing", Version: "1.0.0", Graph: graph}
}

func TestFatalEntryActionFailsInstance(t *testing.T) {
	h := newHarness(t, failingEntryDefinition(false), func(cfg *engine.Config) {
		cfg.Executor = actions.NewDefaultExecutor(&captureNotifier{},
			&captureIntegration{err: actions.Permanent(errors.New("cms rejected the document"))},
			nil,
			actions.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxRetries: 1},
			slog.Default())
	})
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Publishing", "doc-1", "alice", nil)
	require.NoError(t, err)

	_, err = h.engine.CompleteTask(ctx, instance.ID, "prepare", nil, "alice")

	var actionErr *actions.ActionError

	require.ErrorAs(t, err, &actionErr)
	assert.False(t, actionErr.Transient)

	reloaded, err := h.engine.Instance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, reloaded.Status)
	assert.Equal(t, 1, h.bus.count(events.WorkflowFailedEvent))
}

func TestFatalEntryActionRoutesToErrorEdge(t *testing.T) {
	h := newHarness(t, failingEntryDefinition(true), func(cfg *engine.Config) {
		cfg.Executor = actions.NewDefaultExecutor(&captureNotifier{},
			&captureIntegration{err: actions.Permanent(errors.New("cms rejected the document"))},
			nil,
			actions.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxRetries: 1},
			slog.Default())
	})
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Publishing", "doc-1", "alice", nil)
	require.NoError(t, err)

	instance, err = h.engine.CompleteTask(ctx, instance.ID, "prepare", nil, "alice")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusRunning, instance.Status)
	assert.Equal(t, []string{"manual"}, instance.ActiveNodes)
	require.Len(t, instance.History, 1)
	assert.Contains(t, instance.History[0].Reason, "action failed")
}

func TestStartRequiresDeclaredVariables(t *testing.T) {
	def := workflow.DocumentApproval(0)
	def.Variables["owner"] = models.VariableDef{Type: models.VariableTypeString, Required: true}
	h := newHarness(t, def)
	ctx := context.Background()

	_, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice",
		map[string]any{"owner": "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", instance.Variables["owner"])
}

func TestStartRejectsInactiveDefinition(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(0))
	ctx := context.Background()

	def, err := h.store.DefinitionByID(ctx, "def-Document Approval")
	require.NoError(t, err)

	def.Active = false
	require.NoError(t, h.store.SaveDefinition(ctx, def))

	_, err = h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

// documentStore loads instances through a JSON round trip, the way the
// redis and postgres backends store them.
type documentStore struct {
	persistence.InstanceStore
}

func (s *documentStore) InstanceByID(ctx context.Context, id string) (*models.Instance, error) {
	instance, err := s.InstanceStore.InstanceByID(ctx, id)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(instance)
	if err != nil {
		return nil, err
	}

	var decoded models.Instance
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}

	return &decoded, nil
}

func TestInstanceLoadedFromDocumentStoreKeepsBookkeeping(t *testing.T) {
	h := newHarness(t, workflow.DocumentApproval(time.Hour), func(cfg *engine.Config) {
		cfg.Instances = &documentStore{InstanceStore: cfg.Instances}
	})
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Document Approval", "doc-1", "alice", nil)
	require.NoError(t, err)

	// Entering review writes its SLA deadline into a map the stored
	// document dropped as empty.
	instance, err = h.engine.CompleteTask(ctx, instance.ID, "draft", nil, "alice")
	require.NoError(t, err)

	assert.Equal(t, []string{"review"}, instance.ActiveNodes)
	assert.Contains(t, instance.SLADeadlines, "review")
	assert.Equal(t, 1, h.scheduler.Pending())
}

func gatedJoinDefinition() *models.Definition {
	graph := models.NewGraph()
	graph.AddNode(&models.Node{ID: "start", Name: "Start", Kind: models.NodeKindStart})
	graph.AddNode(&models.Node{ID: "work", Name: "Work", Kind: models.NodeKindTask})
	graph.AddNode(&models.Node{
		ID: "gate", Name: "Gate", Kind: models.NodeKindJoin,
		ExpectedBranches: 1,
	})
	graph.AddNode(&models.Node{ID: "done", Name: "Done", Kind: models.NodeKindEnd})
	graph.AddEdge(&models.Edge{ID: "e1", From: "start", To: "work"})
	graph.AddEdge(&models.Edge{ID: "e2", From: "work", To: "gate"})
	graph.AddEdge(&models.Edge{
		ID: "e3", From: "gate", To: "done",
		Condition: &models.Condition{Kind: models.ConditionEquals, Variable: "release", Value: true},
	})

	return &models.Definition{Name: "Gated Join", Version: "1.0.0", Graph: graph}
}

func TestJoinWithNoEligibleEdgeAbortsUnpersisted(t *testing.T) {
	h := newHarness(t, gatedJoinDefinition())
	ctx := context.Background()

	instance, err := h.engine.Start(ctx, "def-Gated Join", "doc-1", "alice", nil)
	require.NoError(t, err)

	// The join is satisfied but its only outgoing edge's condition is
	// false, a definition defect at runtime. The stored instance must be
	// untouched, not retired as Failed.
	_, err = h.engine.CompleteTask(ctx, instance.ID, "work", nil, "alice")

	var defect *engine.DefinitionRuntimeError

	require.ErrorAs(t, err, &defect)
	assert.Equal(t, "gate", defect.NodeID)

	reloaded, err := h.engine.Instance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, reloaded.Status)
	assert.Equal(t, []string{"work"}, reloaded.ActiveNodes)
	assert.Empty(t, reloaded.History)
	assert.Equal(t, int64(0), reloaded.Version)
	assert.Zero(t, h.bus.count(events.WorkflowFailedEvent))

	// With the releasing variable supplied the same completion goes
	// through.
	instance, err = h.engine.CompleteTask(ctx, instance.ID, "work",
		map[string]any{"release": true}, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
}
