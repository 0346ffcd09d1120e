package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowcore/internal/notify"
)

// AgentNotifier pushes notifications to connected agents.
type AgentNotifier interface {
	Notify(ctx context.Context, agentID string, payload map[string]any) error
}

// MCPNotifier implements AgentNotifier using MCP push notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via the agent's MCP session.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the agent's session.
// Best-effort: returns nil if the agent is not connected.
func (n *MCPNotifier) Notify(_ context.Context, agentID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(agentID)
	if !ok {
		return nil // agent not connected, best-effort
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send, not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// EventBridge subscribes to the status hub and mirrors each event to the
// agents watching its workflow.
type EventBridge struct {
	hub      notify.Hub
	sessions *SessionRegistry
	notifier AgentNotifier
	logger   *slog.Logger
}

// NewEventBridge creates an EventBridge.
func NewEventBridge(hub notify.Hub, sessions *SessionRegistry, notifier AgentNotifier, logger *slog.Logger) *EventBridge {
	return &EventBridge{hub: hub, sessions: sessions, notifier: notifier, logger: logger}
}

// Run consumes hub events until ctx is cancelled or the hub closes the
// subscription. Delivery to agents is best-effort.
func (b *EventBridge) Run(ctx context.Context) error {
	events, cancel, err := b.hub.Subscribe(ctx, notify.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			b.forward(ctx, event)
		}
	}
}

func (b *EventBridge) forward(ctx context.Context, event notify.StatusEvent) {
	agents := b.sessions.WatchersFor(event.WorkflowID)
	if len(agents) == 0 {
		return
	}

	payload, err := eventPayload(event)
	if err != nil {
		b.logger.Warn("encode status event failed", slog.String("error", err.Error()))
		return
	}

	for _, agentID := range agents {
		if err := b.notifier.Notify(ctx, agentID, payload); err != nil {
			b.logger.Warn("push to agent failed",
				slog.String("agent_id", agentID),
				slog.String("workflow_id", event.WorkflowID),
				slog.String("error", err.Error()))
		}
	}
}

// eventPayload flattens a StatusEvent into the generic map the MCP
// notification channel carries.
func eventPayload(event notify.StatusEvent) (map[string]any, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
