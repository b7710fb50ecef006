package schema

import (
	"sort"
	"time"
)

// InstanceState is the complete serializable state of one workflow instance.
// It is sufficient to reconstruct and continue execution in another process.
type InstanceState struct {
	ID                string                    `json:"id"`
	DefinitionID      string                    `json:"definition_id"`
	DefinitionVersion int                       `json:"definition_version"`
	Status            InstanceStatus            `json:"status"`
	Inputs            map[string]any            `json:"inputs,omitempty"`
	Variables         map[string]any            `json:"variables"`
	Outputs           map[string]map[string]any `json:"outputs"`
	Executions        map[string]*Execution     `json:"executions"`
	WorkList          []WorkItem                `json:"work_list,omitempty"`
	Bookmarks         []Bookmark                `json:"bookmarks,omitempty"`
	TriggerActivityID string                    `json:"trigger_activity_id,omitempty"`
	TriggerEvent      *Event                    `json:"trigger_event,omitempty"`
	ParentInstanceID  string                    `json:"parent_instance_id,omitempty"`
	ParentActivityID  string                    `json:"parent_activity_id,omitempty"`
	Fault             *Fault                    `json:"fault,omitempty"`
	Sequence          int64                     `json:"sequence"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
	CompletedAt       *time.Time                `json:"completed_at,omitempty"`
}

// Execution is one scheduled-but-not-completed invocation of an activity.
// The set of live executions forms the pending-completion tree.
type Execution struct {
	ID         string         `json:"id"`
	ActivityID string         `json:"activity_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Tag        string         `json:"tag,omitempty"`
	Status     ActivityStatus `json:"status"`
	Properties map[string]any `json:"properties,omitempty"`
	Seq        int64          `json:"seq"`
}

// WorkItemKind distinguishes entries on the scheduler work list.
type WorkItemKind string

const (
	WorkExecute  WorkItemKind = "execute"
	WorkComplete WorkItemKind = "complete"
	WorkFault    WorkItemKind = "fault"
)

// WorkItem is one unit of pending scheduler work.
type WorkItem struct {
	Kind        WorkItemKind `json:"kind"`
	ExecutionID string       `json:"execution_id"`
	// Completed-child details for WorkComplete / WorkFault items.
	ChildID         string   `json:"child_id,omitempty"`
	ChildActivityID string   `json:"child_activity_id,omitempty"`
	Tag             string   `json:"tag,omitempty"`
	Outcomes        []string `json:"outcomes,omitempty"`
	Fault           *Fault   `json:"fault,omitempty"`
}

// Fault describes an unrecoverable activity failure.
type Fault struct {
	ActivityID  string    `json:"activity_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

// AsError converts the fault to a structured *Error.
func (f *Fault) AsError() *Error {
	if f == nil {
		return nil
	}
	return NewError(f.Code, f.Message).WithActivity(f.ActivityID)
}

// ChildrenOf returns the live executions whose parent is parentID, in
// scheduling order.
func (s *InstanceState) ChildrenOf(parentID string) []*Execution {
	var out []*Execution
	for _, e := range s.Executions {
		if e.ParentID == parentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// BookmarksOf returns the bookmarks owned by an execution.
func (s *InstanceState) BookmarksOf(executionID string) []Bookmark {
	var out []Bookmark
	for _, b := range s.Bookmarks {
		if b.ExecutionID == executionID {
			out = append(out, b)
		}
	}
	return out
}

// Bookmark returns the bookmark with the given ID.
func (s *InstanceState) Bookmark(id string) (Bookmark, bool) {
	for _, b := range s.Bookmarks {
		if b.ID == id {
			return b, true
		}
	}
	return Bookmark{}, false
}
