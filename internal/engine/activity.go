// Package engine executes activity trees: a scheduler drives an explicit
// work list of activity executions inside one serializable instance state,
// suspending on bookmarks and resuming when they are claimed.
package engine

import (
	"github.com/rendis/waypoint/pkg/schema"
)

// Signal is what an activity reports after each invocation.
type Signal int

const (
	// SignalNone is the zero value; returning it is a scheduling violation.
	SignalNone Signal = iota
	// Completed: the activity is done and has no live children.
	Completed
	// Suspended: the activity created at least one bookmark and waits for it.
	Suspended
	// ScheduledChildren: the activity scheduled children and waits for their callbacks.
	ScheduledChildren
)

func (s Signal) String() string {
	switch s {
	case Completed:
		return "completed"
	case Suspended:
		return "suspended"
	case ScheduledChildren:
		return "scheduled_children"
	default:
		return "none"
	}
}

// OutcomeDone is the outcome reported when an activity completes without
// naming one.
const OutcomeDone = "Done"

// Node is the identity and tooling metadata of an activity. Activities embed
// it to satisfy the Meta method.
type Node struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name,omitempty"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	// CanStart marks a non-root trigger as able to start new instances.
	CanStart bool `json:"can_start,omitempty"`
	// Outputs maps output names to the variables they are copied into.
	Outputs map[string]string `json:"outputs,omitempty"`
}

// Meta returns the node itself.
func (n *Node) Meta() *Node { return n }

// Activity is the unit of work. Execute must return exactly one signal and
// leave the instance consistent with it.
type Activity interface {
	Meta() *Node
	Execute(ctx *ActivityContext) (Signal, error)
}

// ChildResult describes a child execution that finished or faulted.
type ChildResult struct {
	ExecutionID string
	ActivityID  string
	Tag         string
	Outcomes    []string
	Fault       *schema.Fault
}

// HasOutcome reports whether the child completed with the named outcome.
func (c ChildResult) HasOutcome(name string) bool {
	for _, o := range c.Outcomes {
		if o == name {
			return true
		}
	}
	return false
}

// Container exposes the statically known children of a composite activity.
type Container interface {
	Children() []Activity
}

// CompletionHandler is invoked on the parent each time a scheduled child
// completes. Without it a parent completes once its last child has.
type CompletionHandler interface {
	OnChildCompleted(ctx *ActivityContext, child ChildResult) (Signal, error)
}

// Resumer is invoked when one of the activity's bookmarks is claimed.
// Without it the activity completes on resume.
type Resumer interface {
	OnResume(ctx *ActivityContext, bookmark schema.Bookmark) (Signal, error)
}

// FaultHandler contains faults raised by descendants. The faulted child's
// subtree is already removed when OnChildFaulted runs; returning an error
// faults the handler itself.
type FaultHandler interface {
	OnChildFaulted(ctx *ActivityContext, child ChildResult) (Signal, error)
}

// Trigger is an activity that can resume or start instances on an event.
// TriggerPayload must be computable without an instance.
type Trigger interface {
	TriggerKind() string
	TriggerPayload() (any, error)
}

// OutcomeDeclarer lists the outcomes an activity may complete with.
type OutcomeDeclarer interface {
	Outcomes() []string
}

// Validator is run once against the built definition.
type Validator interface {
	Validate(def *Definition) error
}
