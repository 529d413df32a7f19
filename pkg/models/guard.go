package models

import (
	"strings"
	"time"
)

// GuardKind discriminates the closed set of guard variants. Guards are data,
// not code, so definitions stay serializable; the escape hatch is
// GuardKindNamed, resolved through a lookup table registered at engine
// construction.
type GuardKind string

const (
	GuardKindRequireRole       GuardKind = "require_role"
	GuardKindRequirePermission GuardKind = "require_permission"
	GuardKindTimeWindow        GuardKind = "time_window"
	GuardKindApprovalCount     GuardKind = "approval_count"
	GuardKindNamed             GuardKind = "named"
)

// Guard is a named precondition evaluated before entering a node.
type Guard struct {
	Kind       GuardKind      `json:"kind" validate:"required"`
	Role       string         `json:"role,omitempty"`
	Permission string         `json:"permission,omitempty"`
	Window     *TimeWindow    `json:"window,omitempty"`
	Required   int            `json:"required,omitempty"`
	Name       string         `json:"name,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

func RequireRole(role string) Guard {
	return Guard{Kind: GuardKindRequireRole, Role: role}
}

func RequirePermission(permission string) Guard {
	return Guard{Kind: GuardKindRequirePermission, Permission: permission}
}

func WithinTimeWindow(start, end time.Time) Guard {
	return Guard{Kind: GuardKindTimeWindow, Window: &TimeWindow{Start: start, End: end}}
}

func RequireApprovals(required int) Guard {
	return Guard{Kind: GuardKindApprovalCount, Required: required}
}

func NamedGuard(name string, params map[string]any) Guard {
	return Guard{Kind: GuardKindNamed, Name: name, Params: params}
}

// TimeWindow is an inclusive interval.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w *TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// GuardDecision is the outcome category of a guard evaluation.
type GuardDecision string

const (
	GuardAllow             GuardDecision = "allow"
	GuardDeny              GuardDecision = "deny"
	GuardRequireAdditional GuardDecision = "require_additional"
)

// GuardResult carries the decision plus a display-ready reason on denial or
// the outstanding requirements when more input is needed.
type GuardResult struct {
	Decision     GuardDecision `json:"decision"`
	Reason       string        `json:"reason,omitempty"`
	Requirements []Requirement `json:"requirements,omitempty"`
}

func Allow() GuardResult {
	return GuardResult{Decision: GuardAllow}
}

func Deny(reason string) GuardResult {
	return GuardResult{Decision: GuardDeny, Reason: reason}
}

func RequireAdditional(reqs ...Requirement) GuardResult {
	return GuardResult{Decision: GuardRequireAdditional, Requirements: reqs}
}

func (r GuardResult) Allowed() bool { return r.Decision == GuardAllow }

func (r GuardResult) Denied() bool { return r.Decision == GuardDeny }

// CombineGuardResults folds multiple results with AND semantics: any denial
// denies (reasons joined), otherwise outstanding requirements accumulate.
func CombineGuardResults(results []GuardResult) GuardResult {
	var (
		denials      []string
		requirements []Requirement
	)

	for _, result := range results {
		switch result.Decision {
		case GuardDeny:
			denials = append(denials, result.Reason)
		case GuardRequireAdditional:
			requirements = append(requirements, result.Requirements...)
		case GuardAllow:
		}
	}

	if len(denials) > 0 {
		return Deny(strings.Join(denials, "; "))
	}

	if len(requirements) > 0 {
		return RequireAdditional(requirements...)
	}

	return Allow()
}

// RequirementKind categorizes what a guard needs before it can allow.
type RequirementKind string

const (
	RequirementAdditionalApproval RequirementKind = "additional_approval"
	RequirementCompleteTask       RequirementKind = "complete_task"
	RequirementWaitUntil          RequirementKind = "wait_until"
	RequirementProvideData        RequirementKind = "provide_data"
)

// Requirement is an outstanding precondition reported by a guard.
type Requirement struct {
	Kind   RequirementKind `json:"kind"`
	Target string          `json:"target,omitempty"`
	Until  time.Time       `json:"until,omitempty"`
	Detail string          `json:"detail,omitempty"`
}
