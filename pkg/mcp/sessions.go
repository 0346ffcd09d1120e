package mcp

import "sync"

// SessionRegistry maps agent IDs to MCP session IDs and records which
// workflows each agent watches. Populated automatically when agents call
// tools that include agent_id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string              // agentID → sessionID
	watchers map[string]map[string]struct{} // workflowID → agentIDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]string),
		watchers: make(map[string]map[string]struct{}),
	}
}

// Register associates an agent ID with a session ID.
// If the agent already has a session, it is overwritten (reconnect).
func (r *SessionRegistry) Register(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[agentID] = sessionID
}

// SessionFor returns the session ID for the given agent, if connected.
func (r *SessionRegistry) SessionFor(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[agentID]
	return sid, ok
}

// Watch subscribes an agent to status updates for a workflow.
func (r *SessionRegistry) Watch(workflowID, agentID string) {
	if workflowID == "" || agentID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[workflowID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[workflowID] = set
	}
	set[agentID] = struct{}{}
}

// WatchersFor returns the agents watching a workflow.
func (r *SessionRegistry) WatchersFor(workflowID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.watchers[workflowID]
	if len(set) == 0 {
		return nil
	}
	agents := make([]string, 0, len(set))
	for agentID := range set {
		agents = append(agents, agentID)
	}
	return agents
}

// Unwatch removes a workflow's watcher set, typically after deletion.
func (r *SessionRegistry) Unwatch(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watchers, workflowID)
}

// Remove deletes all agent mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for aid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, aid)
			for _, set := range r.watchers {
				delete(set, aid)
			}
		}
	}
}
