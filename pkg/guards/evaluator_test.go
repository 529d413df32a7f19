package guards

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/protocol"
)

func reviewerContext() protocol.EvalContext {
	return protocol.EvalContext{
		InstanceID:  "inst-1",
		NodeID:      "review",
		ActorID:     "alice",
		Roles:       []string{"reviewer"},
		Permissions: []string{"documents.approve"},
		Approvals:   1,
		Now:         time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC).Unix(),
		Variables:   map[string]any{"decision": "approve"},
	}
}

func TestEvaluateRequireRole(t *testing.T) {
	evaluator := NewEvaluator(nil)
	ctx := reviewerContext()

	assert.True(t, evaluator.Evaluate(models.RequireRole("reviewer"), ctx).Allowed())

	result := evaluator.Evaluate(models.RequireRole("admin"), ctx)

	assert.True(t, result.Denied())
	assert.Contains(t, result.Reason, "admin")
}

func TestEvaluateRequirePermission(t *testing.T) {
	evaluator := NewEvaluator(nil)
	ctx := reviewerContext()

	assert.True(t, evaluator.Evaluate(models.RequirePermission("documents.approve"), ctx).Allowed())
	assert.True(t, evaluator.Evaluate(models.RequirePermission("documents.delete"), ctx).Denied())
}

func TestEvaluateTimeWindow(t *testing.T) {
	evaluator := NewEvaluator(nil)
	ctx := reviewerContext()
	now := time.Unix(ctx.Now, 0).UTC()

	inside := models.WithinTimeWindow(now.Add(-time.Hour), now.Add(time.Hour))
	assert.True(t, evaluator.Evaluate(inside, ctx).Allowed())

	outside := models.WithinTimeWindow(now.Add(time.Hour), now.Add(2*time.Hour))
	assert.True(t, evaluator.Evaluate(outside, ctx).Denied())

	// Window bounds are inclusive.
	boundary := models.WithinTimeWindow(now, now)
	assert.True(t, evaluator.Evaluate(boundary, ctx).Allowed())
}

func TestEvaluateApprovalCount(t *testing.T) {
	evaluator := NewEvaluator(nil)
	ctx := reviewerContext()

	assert.True(t, evaluator.Evaluate(models.RequireApprovals(1), ctx).Allowed())

	result := evaluator.Evaluate(models.RequireApprovals(2), ctx)

	require.Equal(t, models.GuardRequireAdditional, result.Decision)
	require.Len(t, result.Requirements, 1)
	assert.Equal(t, models.RequirementAdditionalApproval, result.Requirements[0].Kind)
	assert.Contains(t, result.Requirements[0].Detail, "1 of 2")
}

func TestEvaluateNamedGuard(t *testing.T) {
	evaluator := NewEvaluator(map[string]protocol.GuardFunc{
		"entity_locked": func(_ protocol.EvalContext, params map[string]any) models.GuardResult {
			if locked, _ := params["locked"].(bool); locked {
				return models.Deny("entity is locked")
			}

			return models.Allow()
		},
	})
	ctx := reviewerContext()

	allowed := evaluator.Evaluate(models.NamedGuard("entity_locked", map[string]any{"locked": false}), ctx)
	assert.True(t, allowed.Allowed())

	denied := evaluator.Evaluate(models.NamedGuard("entity_locked", map[string]any{"locked": true}), ctx)
	assert.True(t, denied.Denied())

	unknown := evaluator.Evaluate(models.NamedGuard("never_registered", nil), ctx)
	assert.True(t, unknown.Denied())
	assert.Contains(t, unknown.Reason, "never_registered")
}

func TestEvaluateIsDeterministic(t *testing.T) {
	evaluator := NewEvaluator(nil)
	ctx := reviewerContext()
	guard := models.RequireRole("reviewer")

	first := evaluator.Evaluate(guard, ctx)
	second := evaluator.Evaluate(guard, ctx)

	assert.Equal(t, first, second)
}

func TestEvaluateAllShortCircuitsOnDeny(t *testing.T) {
	calls := 0
	evaluator := NewEvaluator(map[string]protocol.GuardFunc{
		"counting": func(_ protocol.EvalContext, _ map[string]any) models.GuardResult {
			calls++

			return models.Allow()
		},
	})
	ctx := reviewerContext()

	result := evaluator.EvaluateAll([]models.Guard{
		models.RequireRole("admin"),
		models.NamedGuard("counting", nil),
	}, ctx)

	assert.True(t, result.Denied())
	assert.Zero(t, calls)
}

func TestEvaluateAllFoldsRequirements(t *testing.T) {
	evaluator := NewEvaluator(nil)
	ctx := reviewerContext()

	result := evaluator.EvaluateAll([]models.Guard{
		models.RequireRole("reviewer"),
		models.RequireApprovals(3),
	}, ctx)

	require.Equal(t, models.GuardRequireAdditional, result.Decision)
	assert.Len(t, result.Requirements, 1)
}

func TestEvaluateAllEmptyAllows(t *testing.T) {
	evaluator := NewEvaluator(nil)

	assert.True(t, evaluator.EvaluateAll(nil, reviewerContext()).Allowed())
}
