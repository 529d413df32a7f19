// Package protocol defines the interfaces and contracts between the engine
// and its external collaborators: custom guards, action handlers, the
// notification/integration sinks, and the entity reference resolver.
package protocol

import (
	"context"

	"github.com/procflow/procflow/pkg/models"
)

// EvalContext is the snapshot a guard sees. It is an owned value, copied in
// per evaluation, so guard implementations cannot mutate engine state.
type EvalContext struct {
	InstanceID  string
	NodeID      string
	ActorID     string
	Roles       []string
	Permissions []string
	Approvals   int
	Now         int64 // unix seconds, supplied by the engine's clock
	Variables   map[string]any
}

func (c EvalContext) HasRole(role string) bool {
	for _, candidate := range c.Roles {
		if candidate == role {
			return true
		}
	}

	return false
}

func (c EvalContext) HasPermission(permission string) bool {
	for _, candidate := range c.Permissions {
		if candidate == permission {
			return true
		}
	}

	return false
}

// GuardFunc is a registered custom guard. Implementations must be pure:
// no side effects, no I/O, same result for the same inputs.
type GuardFunc func(ctx EvalContext, params map[string]any) models.GuardResult

// ExecContext carries everything an action handler needs for one dispatch.
type ExecContext struct {
	InstanceID string
	NodeID     string
	EntityRef  string
	ActorID    string
	Variables  map[string]any
}

// ActionHandler executes a registered custom action. Handlers must be
// idempotent per (instance, node, action): the executor skips dispatch when
// the execution key is already recorded, but a handler may still be retried
// after a transient failure.
type ActionHandler interface {
	ID() string
	Execute(ctx context.Context, execCtx ExecContext, params map[string]any) (map[string]any, error)
}

// ActionHandlerFactory builds configured handler instances, mirroring how
// deploy-time plugins register themselves.
type ActionHandlerFactory interface {
	Create(config map[string]any) (ActionHandler, error)
	ID() string
}

// NotificationSink delivers notify and escalate actions. Implementations
// may fail transiently; the executor retries with bounded backoff.
type NotificationSink interface {
	Send(ctx context.Context, template string, recipients []string, payload map[string]any) error
}

// IntegrationClient invokes an external system on behalf of an
// invoke_external action.
type IntegrationClient interface {
	Invoke(ctx context.Context, target, operation string, payload map[string]any) (map[string]any, error)
}

// ActorDirectory supplies the roles and permissions of an actor. The
// engine resolves them before guard evaluation so guards themselves stay
// pure and I/O-free.
type ActorDirectory interface {
	Roles(ctx context.Context, actorID string) ([]string, error)
	Permissions(ctx context.Context, actorID string) ([]string, error)
}

// EntityDescriptor is the small, content-free projection of a tracked
// entity. The engine never inspects entity content.
type EntityDescriptor struct {
	Ref      string
	Kind     string
	Metadata map[string]string
}

// EntityResolver resolves the opaque reference an instance tracks.
type EntityResolver interface {
	Resolve(ctx context.Context, ref string) (EntityDescriptor, error)
}
