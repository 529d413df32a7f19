// Package actions executes the side-effecting operations requested by
// workflow nodes: variable updates, notifications, external integration
// calls and escalations.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/protocol"
)

// ActionError reports a failed action. Transient failures are retried by
// the executor with bounded exponential backoff; fatal failures halt the
// branch and either route to the node's error edge or fail the instance.
type ActionError struct {
	ActionID  string
	Transient bool
	Err       error
}

func (e *ActionError) Error() string {
	category := "fatal"
	if e.Transient {
		category = "transient"
	}

	return fmt.Sprintf("action %s failed (%s): %v", e.ActionID, category, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Permanent marks a collaborator error as non-retryable. Errors not marked
// permanent are treated as transient and retried.
func Permanent(err error) error {
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// ExecutionKeys is the idempotency ledger the executor consults before
// dispatching external side effects. The engine passes the instance, which
// persists recorded keys with its history.
type ExecutionKeys interface {
	HasExecutionKey(key string) bool
	RecordExecutionKey(key string)
}

// Executor performs one action and reports its result.
type Executor interface {
	Execute(ctx context.Context, action models.Action, execCtx protocol.ExecContext, keys ExecutionKeys) (models.ActionResult, error)
}

// RetryPolicy bounds the executor's backoff. It is process-wide, read-only
// configuration established at engine construction.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxRetries:      4,
	}
}

// DefaultExecutor dispatches the closed action variants by a single switch
// and routes named custom actions through the registered handler table.
type DefaultExecutor struct {
	notifier    protocol.NotificationSink
	integration protocol.IntegrationClient
	handlers    map[string]protocol.ActionHandler
	retry       RetryPolicy
	logger      *slog.Logger
}

func NewDefaultExecutor(
	notifier protocol.NotificationSink,
	integration protocol.IntegrationClient,
	handlers map[string]protocol.ActionHandler,
	retry RetryPolicy,
	logger *slog.Logger,
) *DefaultExecutor {
	table := make(map[string]protocol.ActionHandler, len(handlers))
	for name, handler := range handlers {
		table[name] = handler
	}

	return &DefaultExecutor{
		notifier:    notifier,
		integration: integration,
		handlers:    table,
		retry:       retry,
		logger:      logger.With("module", "action_executor"),
	}
}

// Execute runs one action. External actions are idempotent per
// (instance, node, action): the execution key is recorded before dispatch
// and duplicate keys are skipped without re-triggering the side effect.
func (x *DefaultExecutor) Execute(
	ctx context.Context,
	action models.Action,
	execCtx protocol.ExecContext,
	keys ExecutionKeys,
) (models.ActionResult, error) {
	switch action.Kind {
	case models.ActionKindSetVariable:
		return models.ActionResult{
			ActionID: action.ID,
			Status:   models.ActionCompleted,
			Output:   map[string]any{action.Variable: action.Value},
		}, nil

	case models.ActionKindLog:
		x.logAction(ctx, action, execCtx)

		return models.ActionResult{ActionID: action.ID, Status: models.ActionCompleted}, nil

	case models.ActionKindNotify:
		return x.dispatch(ctx, action, execCtx, keys, func(dispatchCtx context.Context) (map[string]any, error) {
			return nil, x.notifier.Send(dispatchCtx, action.Template, action.Recipients, notifyPayload(action, execCtx))
		})

	case models.ActionKindEscalate:
		return x.dispatch(ctx, action, execCtx, keys, func(dispatchCtx context.Context) (map[string]any, error) {
			payload := notifyPayload(action, execCtx)
			payload["reason"] = action.Reason

			return nil, x.notifier.Send(dispatchCtx, "escalation", action.Targets, payload)
		})

	case models.ActionKindInvokeExternal:
		return x.dispatch(ctx, action, execCtx, keys, func(dispatchCtx context.Context) (map[string]any, error) {
			return x.integration.Invoke(dispatchCtx, action.Target, action.Operation, execCtx.Variables)
		})

	case models.ActionKindNamed:
		handler, ok := x.handlers[action.Name]
		if !ok {
			return models.ActionResult{}, &ActionError{
				ActionID: action.ID,
				Err:      fmt.Errorf("no handler registered for action %q", action.Name),
			}
		}

		return x.dispatch(ctx, action, execCtx, keys, func(dispatchCtx context.Context) (map[string]any, error) {
			return handler.Execute(dispatchCtx, execCtx, action.Params)
		})

	default:
		return models.ActionResult{}, &ActionError{
			ActionID: action.ID,
			Err:      fmt.Errorf("unsupported action kind %q", action.Kind),
		}
	}
}

// ExecutionKey derives the idempotency key for an action dispatch.
func ExecutionKey(instanceID, nodeID, actionID string) string {
	return instanceID + ":" + nodeID + ":" + actionID
}

func (x *DefaultExecutor) dispatch(
	ctx context.Context,
	action models.Action,
	execCtx protocol.ExecContext,
	keys ExecutionKeys,
	call func(ctx context.Context) (map[string]any, error),
) (models.ActionResult, error) {
	key := ExecutionKey(execCtx.InstanceID, execCtx.NodeID, action.ID)

	if keys.HasExecutionKey(key) {
		x.logger.DebugContext(ctx, "Skipping already-dispatched action",
			"action_id", action.ID, "execution_key", key)

		return models.ActionResult{ActionID: action.ID, Status: models.ActionSkipped}, nil
	}

	keys.RecordExecutionKey(key)

	var (
		output map[string]any
		fatal  bool
	)

	// backoff.Retry hands back the unwrapped inner error for permanent
	// failures, so permanence is recorded here where the marker is still
	// visible.
	operation := func() error {
		result, err := call(ctx)
		if err != nil {
			var permanent *permanentError
			if errors.As(err, &permanent) {
				fatal = true

				return backoff.Permanent(permanent.err)
			}

			return err
		}

		output = result

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = x.retry.InitialInterval
	policy.MaxInterval = x.retry.MaxInterval

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, x.retry.MaxRetries), ctx))
	if err != nil {
		return models.ActionResult{}, &ActionError{ActionID: action.ID, Transient: !fatal, Err: err}
	}

	return models.ActionResult{ActionID: action.ID, Status: models.ActionCompleted, Output: output}, nil
}

func (x *DefaultExecutor) logAction(ctx context.Context, action models.Action, execCtx protocol.ExecContext) {
	attrs := []any{
		"instance_id", execCtx.InstanceID,
		"node_id", execCtx.NodeID,
		"action_id", action.ID,
	}

	switch action.Level {
	case "debug":
		x.logger.DebugContext(ctx, action.Message, attrs...)
	case "warn":
		x.logger.WarnContext(ctx, action.Message, attrs...)
	case "error":
		x.logger.ErrorContext(ctx, action.Message, attrs...)
	default:
		x.logger.InfoContext(ctx, action.Message, attrs...)
	}
}

func notifyPayload(action models.Action, execCtx protocol.ExecContext) map[string]any {
	return map[string]any{
		"instance_id": execCtx.InstanceID,
		"node_id":     execCtx.NodeID,
		"entity_ref":  execCtx.EntityRef,
		"message":     action.Message,
	}
}
