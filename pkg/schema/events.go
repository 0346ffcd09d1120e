package schema

// Push event types delivered over the subscriber stream.
const (
	EventTypeStatusUpdate = "workflow_status_update"
	EventTypeHeartbeat    = "heartbeat"
	EventTypeConnected    = "connected"
)

// Notification types carried by workflow_status_update events.
const (
	NotifyActivated          = "activated"
	NotifyDeactivated        = "deactivated"
	NotifyCreated            = "created"
	NotifyUpdated            = "updated"
	NotifyDeleted            = "deleted"
	NotifyTestStarted        = "test_started"
	NotifyExecutionStarted   = "execution_started"
	NotifyExecutionCompleted = "execution_completed"
	NotifyExecutionFailed    = "execution_failed"
	NotifyStepStarted        = "step_started"
	NotifyStepCompleted      = "step_completed"
	NotifyStepFailed         = "step_failed"
)

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
)
