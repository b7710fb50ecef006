package schema

// Journal event types appended to the instance event log.
const (
	EventInstanceStarted   = "instance_started"
	EventInstanceSuspended = "instance_suspended"
	EventInstanceResumed   = "instance_resumed"
	EventInstanceCompleted = "instance_completed"
	EventInstanceFaulted   = "instance_faulted"
	EventInstanceCancelled = "instance_cancelled"

	EventActivityScheduled = "activity_scheduled"
	EventActivityStarted   = "activity_started"
	EventActivityCompleted = "activity_completed"
	EventActivitySuspended = "activity_suspended"
	EventActivityFaulted   = "activity_faulted"
	EventActivityCancelled = "activity_cancelled"

	EventBookmarkCreated = "bookmark_created"
	EventBookmarkResumed = "bookmark_resumed"
	EventVariableSet     = "variable_set"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusSuspended InstanceStatus = "suspended"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFaulted   InstanceStatus = "faulted"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether no further execution can happen in this status.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFaulted || s == InstanceStatusCancelled
}

// ActivityStatus represents the lifecycle state of one activity execution.
type ActivityStatus string

const (
	ActivityStatusPending   ActivityStatus = "pending"
	ActivityStatusRunning   ActivityStatus = "running"
	ActivityStatusWaiting   ActivityStatus = "waiting" // scheduled children, awaiting callbacks
	ActivityStatusSuspended ActivityStatus = "suspended"
	ActivityStatusCompleted ActivityStatus = "completed"
	ActivityStatusFaulted   ActivityStatus = "faulted"
	ActivityStatusCancelled ActivityStatus = "cancelled"
)
