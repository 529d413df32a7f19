package engine

import (
	"fmt"
	"strings"

	"github.com/procflow/procflow/pkg/models"
)

// GuardDeniedError reports an entry guard rejecting a transition. The
// instance is left unchanged; the caller may retry after satisfying the
// guard. Reason and Requirements are display-ready.
type GuardDeniedError struct {
	InstanceID   string
	NodeID       string
	Reason       string
	Requirements []models.Requirement
}

func (e *GuardDeniedError) Error() string {
	if len(e.Requirements) > 0 {
		details := make([]string, 0, len(e.Requirements))
		for _, req := range e.Requirements {
			details = append(details, req.Detail)
		}

		return fmt.Sprintf("entry to node %s requires: %s", e.NodeID, strings.Join(details, "; "))
	}

	return fmt.Sprintf("entry to node %s denied: %s", e.NodeID, e.Reason)
}

// TerminalStateViolationError reports a transition attempted from a node
// that is not currently active, or against a retired instance. This is a
// caller error, not an engine fault.
type TerminalStateViolationError struct {
	InstanceID string
	NodeID     string
	Status     models.InstanceStatus
}

func (e *TerminalStateViolationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("instance %s is not active at node %s", e.InstanceID, e.NodeID)
	}

	return fmt.Sprintf("instance %s is %s and accepts no further transitions", e.InstanceID, e.Status)
}

// DefinitionRuntimeError reports a structural defect encountered while
// executing a published definition, such as a decision with no matching
// branch and no default edge. Publish-time validation catches these for
// well-formed definitions; hitting one at runtime is fatal for the
// transition.
type DefinitionRuntimeError struct {
	DefinitionID string
	NodeID       string
	Problem      string
}

func (e *DefinitionRuntimeError) Error() string {
	return fmt.Sprintf("definition %s, node %s: %s", e.DefinitionID, e.NodeID, e.Problem)
}

// TransitionNotAllowedError reports a requested transition with no
// eligible edge between the two nodes under the current variable context.
type TransitionNotAllowedError struct {
	InstanceID string
	From       string
	To         string
	Reason     string
}

func (e *TransitionNotAllowedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transition %s -> %s not allowed: %s", e.From, e.To, e.Reason)
	}

	return fmt.Sprintf("no eligible edge from %s to %s", e.From, e.To)
}

// SuspendedError reports an operation against a suspended instance that
// only accepts Resume.
type SuspendedError struct {
	InstanceID string
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("instance %s is suspended", e.InstanceID)
}
