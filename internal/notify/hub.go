package notify

import (
	"context"
	"time"

	"github.com/rendis/flowcore/pkg/schema"
)

// StatusEvent is a real-time event pushed to subscribers while workflows
// execute or change state.
type StatusEvent struct {
	Type             string         `json:"type"`
	WorkflowID       string         `json:"workflowId,omitempty"`
	NotificationType string         `json:"notificationType,omitempty"`
	RunID            string         `json:"runId,omitempty"`
	StepID           string         `json:"stepId,omitempty"`
	StepName         string         `json:"stepName,omitempty"`
	Mode             schema.RunMode `json:"mode,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	Data             map[string]any `json:"data,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive. Zero
// fields match everything; set fields narrow the stream to one workflow,
// one run, or a set of notification types.
type EventFilter struct {
	WorkflowID        string   `json:"workflow_id,omitempty"`
	RunID             string   `json:"run_id,omitempty"`
	NotificationTypes []string `json:"notification_types,omitempty"`
}

// matches reports whether the event passes the filter.
func (f EventFilter) matches(e StatusEvent) bool {
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if len(f.NotificationTypes) == 0 {
		return true
	}
	for _, t := range f.NotificationTypes {
		if t == e.NotificationType {
			return true
		}
	}
	return false
}

// Hub provides pub/sub for real-time workflow status events. Subscriptions
// end when the cancel function runs or the subscriber's context is done,
// whichever comes first.
type Hub interface {
	Publish(ctx context.Context, event StatusEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StatusEvent, func(), error)
}
