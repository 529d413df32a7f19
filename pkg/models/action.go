package models

// ActionKind discriminates the closed set of side-effecting action variants.
// Like guards, actions are serializable data dispatched by a single switch;
// ActionKindNamed routes to a handler registered at engine construction.
type ActionKind string

const (
	ActionKindSetVariable    ActionKind = "set_variable"
	ActionKindNotify         ActionKind = "notify"
	ActionKindInvokeExternal ActionKind = "invoke_external"
	ActionKindEscalate       ActionKind = "escalate"
	ActionKindLog            ActionKind = "log"
	ActionKindNamed          ActionKind = "named"
)

// Action is a named side-effecting operation executed on node entry, exit
// or timeout. ID must be unique within its node: the executor derives the
// idempotency key for external calls from (instance, node, action ID).
type Action struct {
	ID   string     `json:"id"   validate:"required"`
	Kind ActionKind `json:"kind" validate:"required"`

	// set_variable
	Variable string `json:"variable,omitempty"`
	Value    any    `json:"value,omitempty"`

	// notify
	Template   string   `json:"template,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Message    string   `json:"message,omitempty"`

	// invoke_external
	Target    string `json:"target,omitempty"`
	Operation string `json:"operation,omitempty"`

	// escalate
	Targets []string `json:"targets,omitempty"`
	Reason  string   `json:"reason,omitempty"`

	// log
	Level string `json:"level,omitempty"`

	// named
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

func SetVariable(id, variable string, value any) Action {
	return Action{ID: id, Kind: ActionKindSetVariable, Variable: variable, Value: value}
}

func Notify(id, template string, recipients ...string) Action {
	return Action{ID: id, Kind: ActionKindNotify, Template: template, Recipients: recipients}
}

func InvokeExternal(id, target, operation string) Action {
	return Action{ID: id, Kind: ActionKindInvokeExternal, Target: target, Operation: operation}
}

func Escalate(id, reason string, targets ...string) Action {
	return Action{ID: id, Kind: ActionKindEscalate, Reason: reason, Targets: targets}
}

func LogAction(id, level, message string) Action {
	return Action{ID: id, Kind: ActionKindLog, Level: level, Message: message}
}

func NamedAction(id, name string, params map[string]any) Action {
	return Action{ID: id, Kind: ActionKindNamed, Name: name, Params: params}
}

// ActionStatus reports how an action concluded.
type ActionStatus string

const (
	ActionCompleted ActionStatus = "completed"
	// ActionSkipped means the idempotency key was already recorded and the
	// side effect was not re-triggered.
	ActionSkipped ActionStatus = "skipped"
)

// ActionResult is the successful outcome of one action execution.
type ActionResult struct {
	ActionID string         `json:"action_id"`
	Status   ActionStatus   `json:"status"`
	Output   map[string]any `json:"output,omitempty"`
}
