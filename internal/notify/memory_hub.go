package notify

import (
	"context"
	"log/slog"
	"sync"
)

const defaultSubscriberBuffer = 64

// hubSub is one subscription. dropped counts events discarded because the
// subscriber's channel was full; it is read and written only under the hub
// lock.
type hubSub struct {
	ch      chan StatusEvent
	filter  EventFilter
	dropped uint64
}

// MemoryHub is an in-process Hub. Delivery is fan-out over buffered channels
// and never blocks the publisher: a subscriber that stops draining loses
// events instead of stalling the run that produced them.
type MemoryHub struct {
	logger *slog.Logger
	buffer int

	mu   sync.Mutex
	subs map[*hubSub]struct{}
}

// HubOption configures a MemoryHub.
type HubOption func(*MemoryHub)

// WithHubLogger sets the logger used to report dropped events.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *MemoryHub) { h.logger = l }
}

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) HubOption {
	return func(h *MemoryHub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub(opts ...HubOption) *MemoryHub {
	h := &MemoryHub{
		logger: slog.Default(),
		buffer: defaultSubscriberBuffer,
		subs:   make(map[*hubSub]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish fans the event out to every subscriber whose filter matches.
func (h *MemoryHub) Publish(ctx context.Context, event StatusEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
			h.logger.Warn("status event dropped for slow subscriber",
				"workflow_id", event.WorkflowID,
				"notification_type", event.NotificationType,
				"dropped_total", sub.dropped)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The subscription is removed
// when the returned cancel function runs or when ctx is done, so handlers
// can tie a subscriber's lifetime to their request context and skip the
// explicit cleanup on disconnect.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StatusEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &hubSub{
		ch:     make(chan StatusEvent, h.buffer),
		filter: filter,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return sub.ch, cancel, nil
}

// SubscriberCount reports the number of live subscriptions.
func (h *MemoryHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
