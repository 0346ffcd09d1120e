package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/flowcore/pkg/schema"
)

const (
	// defaultSettleDelay is the pause after delivering a step_completed or
	// step_failed event before the next event of the same run goes out. It
	// gives subscribers time to render per-step results instead of seeing a
	// burst collapse into the final state.
	defaultSettleDelay = 2500 * time.Millisecond

	runQueueBuffer = 256
)

// Notifier serializes status events per run. Events of one run are delivered
// in FIFO order through a dedicated queue; events of different runs do not
// block each other. Workflow-level events outside a run bypass the queues.
type Notifier struct {
	hub         Hub
	logger      *slog.Logger
	settleDelay time.Duration

	mu     sync.Mutex
	queues map[string]*runQueue
}

type runQueue struct {
	ch   chan StatusEvent
	done chan struct{}
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSettleDelay overrides the post-step settling delay. Mainly for tests.
func WithSettleDelay(d time.Duration) Option {
	return func(n *Notifier) { n.settleDelay = d }
}

// WithLogger sets the notifier's logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// NewNotifier creates a Notifier publishing through the given hub.
func NewNotifier(hub Hub, opts ...Option) *Notifier {
	n := &Notifier{
		hub:         hub,
		logger:      slog.Default(),
		settleDelay: defaultSettleDelay,
		queues:      make(map[string]*runQueue),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// StartRun creates the run's delivery queue and starts its drain loop.
// Must be called before the first Enqueue for the run.
func (n *Notifier) StartRun(runID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.queues[runID]; ok {
		return
	}
	q := &runQueue{
		ch:   make(chan StatusEvent, runQueueBuffer),
		done: make(chan struct{}),
	}
	n.queues[runID] = q
	go n.drain(q)
}

// FinishRun closes the run's queue after the final event has been enqueued.
// Pending events are still delivered; the queue is torn down afterwards.
// The returned channel closes once the queue has fully drained.
func (n *Notifier) FinishRun(runID string) <-chan struct{} {
	n.mu.Lock()
	q, ok := n.queues[runID]
	if ok {
		delete(n.queues, runID)
	}
	n.mu.Unlock()
	if !ok {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	close(q.ch)
	return q.done
}

// Enqueue appends an event to the run's FIFO queue. Events enqueued before
// StartRun or after FinishRun are published directly, keeping delivery
// best-effort rather than silently lost.
func (n *Notifier) Enqueue(runID string, event StatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	n.mu.Lock()
	q, ok := n.queues[runID]
	n.mu.Unlock()
	if !ok {
		n.publish(event)
		return
	}

	select {
	case q.ch <- event:
	default:
		n.logger.Warn("run event queue full, delivering out of band",
			"run_id", runID, "notification_type", event.NotificationType)
		n.publish(event)
	}
}

// Broadcast publishes a workflow-level event that is not tied to a run
// (created, updated, activated, deactivated, deleted).
func (n *Notifier) Broadcast(event StatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	n.publish(event)
}

func (n *Notifier) drain(q *runQueue) {
	defer close(q.done)
	for event := range q.ch {
		n.publish(event)
		if settles(event.NotificationType) {
			time.Sleep(n.settleDelay)
		}
	}
}

func (n *Notifier) publish(event StatusEvent) {
	if event.Type == "" {
		event.Type = schema.EventTypeStatusUpdate
	}
	if err := n.hub.Publish(context.Background(), event); err != nil {
		n.logger.Warn("publish status event failed",
			"workflow_id", event.WorkflowID, "notification_type", event.NotificationType, "error", err)
	}
}

// settles reports whether delivery of this notification imposes the settling
// delay before the run's next event.
func settles(notificationType string) bool {
	return notificationType == schema.NotifyStepCompleted || notificationType == schema.NotifyStepFailed
}
