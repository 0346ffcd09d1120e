package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcore/pkg/schema"
)

func collect(t *testing.T, ch <-chan StatusEvent, n int, timeout time.Duration) []StatusEvent {
	t.Helper()
	var events []StatusEvent
	deadline := time.After(timeout)
	for len(events) < n {
		select {
		case e := <-ch:
			events = append(events, e)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestNotifierDeliversRunEventsInOrder(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	defer cancel()

	n := NewNotifier(hub, WithSettleDelay(10*time.Millisecond))
	n.StartRun("run-1")

	types := []string{
		schema.NotifyExecutionStarted,
		schema.NotifyStepStarted,
		schema.NotifyStepCompleted,
		schema.NotifyStepStarted,
		schema.NotifyStepFailed,
		schema.NotifyExecutionFailed,
	}
	for _, typ := range types {
		n.Enqueue("run-1", StatusEvent{WorkflowID: "wf-1", RunID: "run-1", NotificationType: typ})
	}
	<-n.FinishRun("run-1")

	events := collect(t, ch, len(types), 2*time.Second)
	for i, e := range events {
		assert.Equal(t, types[i], e.NotificationType)
		assert.Equal(t, schema.EventTypeStatusUpdate, e.Type)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestNotifierSettlingDelaysNextEvent(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	defer cancel()

	const settle = 80 * time.Millisecond
	n := NewNotifier(hub, WithSettleDelay(settle))
	n.StartRun("run-1")

	n.Enqueue("run-1", StatusEvent{RunID: "run-1", NotificationType: schema.NotifyStepCompleted})
	n.Enqueue("run-1", StatusEvent{RunID: "run-1", NotificationType: schema.NotifyExecutionCompleted})
	defer n.FinishRun("run-1")

	var received []time.Time
	for len(received) < 2 {
		select {
		case <-ch:
			received = append(received, time.Now())
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	gap := received[1].Sub(received[0])
	assert.GreaterOrEqual(t, gap, settle-10*time.Millisecond,
		"terminal event must wait for the settling delay")
}

func TestNotifierRunsDoNotBlockEachOther(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{WorkflowID: "wf-b"})
	require.NoError(t, err)
	defer cancel()

	n := NewNotifier(hub, WithSettleDelay(500*time.Millisecond))
	n.StartRun("run-a")
	n.StartRun("run-b")

	// run-a enters its settling delay; run-b's event must still arrive promptly.
	n.Enqueue("run-a", StatusEvent{WorkflowID: "wf-a", RunID: "run-a", NotificationType: schema.NotifyStepCompleted})
	n.Enqueue("run-a", StatusEvent{WorkflowID: "wf-a", RunID: "run-a", NotificationType: schema.NotifyExecutionCompleted})
	n.Enqueue("run-b", StatusEvent{WorkflowID: "wf-b", RunID: "run-b", NotificationType: schema.NotifyStepStarted})
	defer n.FinishRun("run-a")
	defer n.FinishRun("run-b")

	select {
	case e := <-ch:
		assert.Equal(t, "run-b", e.RunID)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("run-b event was delayed by run-a's settling")
	}
}

func TestNotifierBroadcastBypassesQueues(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	defer cancel()

	n := NewNotifier(hub)
	n.Broadcast(StatusEvent{WorkflowID: "wf-1", NotificationType: schema.NotifyActivated})

	events := collect(t, ch, 1, time.Second)
	assert.Equal(t, schema.NotifyActivated, events[0].NotificationType)
}

func TestNotifierEnqueueWithoutRunStillDelivers(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	defer cancel()

	n := NewNotifier(hub)
	n.Enqueue("unknown-run", StatusEvent{RunID: "unknown-run", NotificationType: schema.NotifyStepStarted})

	events := collect(t, ch, 1, time.Second)
	assert.Equal(t, "unknown-run", events[0].RunID)
}

func TestMemoryHubRunScopedFilter(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StatusEvent{WorkflowID: "wf-1", RunID: "run-2", NotificationType: schema.NotifyStepStarted}))
	require.NoError(t, hub.Publish(ctx, StatusEvent{WorkflowID: "wf-1", RunID: "run-1", NotificationType: schema.NotifyStepCompleted}))

	events := collect(t, ch, 1, time.Second)
	assert.Equal(t, "run-1", events[0].RunID)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event for other run: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryHubContextCancelUnsubscribes(t *testing.T) {
	hub := NewMemoryHub()

	subCtx, cancelCtx := context.WithCancel(context.Background())
	_, cancel, err := hub.Subscribe(subCtx, EventFilter{})
	require.NoError(t, err)
	defer cancel()
	assert.Equal(t, 1, hub.SubscriberCount())

	cancelCtx()
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestMemoryHubFilters(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	all, cancelAll, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancelAll()

	scoped, cancelScoped, err := hub.Subscribe(ctx, EventFilter{
		WorkflowID:        "wf-1",
		NotificationTypes: []string{schema.NotifyStepFailed},
	})
	require.NoError(t, err)
	defer cancelScoped()

	require.NoError(t, hub.Publish(ctx, StatusEvent{WorkflowID: "wf-1", NotificationType: schema.NotifyStepStarted}))
	require.NoError(t, hub.Publish(ctx, StatusEvent{WorkflowID: "wf-2", NotificationType: schema.NotifyStepFailed}))
	require.NoError(t, hub.Publish(ctx, StatusEvent{WorkflowID: "wf-1", NotificationType: schema.NotifyStepFailed}))

	collect(t, all, 3, time.Second)

	events := collect(t, scoped, 1, time.Second)
	assert.Equal(t, "wf-1", events[0].WorkflowID)
	assert.Equal(t, schema.NotifyStepFailed, events[0].NotificationType)
	select {
	case e := <-scoped:
		t.Fatalf("unexpected extra event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}
