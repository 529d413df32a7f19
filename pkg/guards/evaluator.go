// Package guards evaluates entry preconditions for workflow nodes.
// Evaluation is a pure function of (guard, context): no side effects and no
// I/O, which keeps replay deterministic and tests mock-free.
package guards

import (
	"fmt"
	"time"

	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/protocol"
)

// Evaluator resolves guard variants, including custom named guards looked
// up in a table supplied at construction. The table is read-only after
// construction and shared process-wide.
type Evaluator struct {
	custom map[string]protocol.GuardFunc
}

func NewEvaluator(custom map[string]protocol.GuardFunc) *Evaluator {
	table := make(map[string]protocol.GuardFunc, len(custom))
	for name, fn := range custom {
		table[name] = fn
	}

	return &Evaluator{custom: table}
}

// Evaluate resolves a single guard against the context snapshot.
func (e *Evaluator) Evaluate(guard models.Guard, ctx protocol.EvalContext) models.GuardResult {
	switch guard.Kind {
	case models.GuardKindRequireRole:
		if ctx.HasRole(guard.Role) {
			return models.Allow()
		}

		return models.Deny(fmt.Sprintf("actor %s lacks required role %q", ctx.ActorID, guard.Role))

	case models.GuardKindRequirePermission:
		if ctx.HasPermission(guard.Permission) {
			return models.Allow()
		}

		return models.Deny(fmt.Sprintf("actor %s lacks required permission %q", ctx.ActorID, guard.Permission))

	case models.GuardKindTimeWindow:
		if guard.Window == nil {
			return models.Deny("time window guard has no window configured")
		}

		if guard.Window.Contains(time.Unix(ctx.Now, 0).UTC()) {
			return models.Allow()
		}

		return models.Deny(fmt.Sprintf("outside permitted time window %s - %s",
			guard.Window.Start.Format(time.RFC3339), guard.Window.End.Format(time.RFC3339)))

	case models.GuardKindApprovalCount:
		if ctx.Approvals >= guard.Required {
			return models.Allow()
		}

		return models.RequireAdditional(models.Requirement{
			Kind:   models.RequirementAdditionalApproval,
			Detail: fmt.Sprintf("%d of %d approvals recorded", ctx.Approvals, guard.Required),
		})

	case models.GuardKindNamed:
		fn, ok := e.custom[guard.Name]
		if !ok {
			return models.Deny(fmt.Sprintf("unknown guard %q", guard.Name))
		}

		return fn(ctx, guard.Params)

	default:
		return models.Deny(fmt.Sprintf("unsupported guard kind %q", guard.Kind))
	}
}

// EvaluateAll combines a node's guards with AND semantics. The first denial
// short-circuits; outstanding requirements from the guards evaluated so far
// are folded together otherwise.
func (e *Evaluator) EvaluateAll(guardList []models.Guard, ctx protocol.EvalContext) models.GuardResult {
	results := make([]models.GuardResult, 0, len(guardList))

	for _, guard := range guardList {
		result := e.Evaluate(guard, ctx)
		if result.Denied() {
			return result
		}

		results = append(results, result)
	}

	return models.CombineGuardResults(results)
}
