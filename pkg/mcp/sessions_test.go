package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistryRegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("agent-1", "session-abc")
	sid, ok := r.SessionFor("agent-1")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)
}

func TestSessionRegistryNotFound(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistryOverwrite(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("agent-1", "session-old")
	r.Register("agent-1", "session-new")

	sid, ok := r.SessionFor("agent-1")
	assert.True(t, ok)
	assert.Equal(t, "session-new", sid)
}

func TestSessionRegistryWatchers(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("wf-1", "agent-1")
	r.Watch("wf-1", "agent-2")
	r.Watch("wf-2", "agent-1")

	assert.ElementsMatch(t, []string{"agent-1", "agent-2"}, r.WatchersFor("wf-1"))
	assert.ElementsMatch(t, []string{"agent-1"}, r.WatchersFor("wf-2"))
	assert.Empty(t, r.WatchersFor("wf-3"))

	// Watching twice does not duplicate.
	r.Watch("wf-1", "agent-1")
	assert.Len(t, r.WatchersFor("wf-1"), 2)
}

func TestSessionRegistryUnwatch(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("wf-1", "agent-1")
	r.Unwatch("wf-1")
	assert.Empty(t, r.WatchersFor("wf-1"))
}

func TestSessionRegistryRemove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("agent-1", "session-abc")
	r.Register("agent-2", "session-abc")
	r.Register("agent-3", "session-xyz")
	r.Watch("wf-1", "agent-1")
	r.Watch("wf-1", "agent-3")

	r.Remove("session-abc")

	_, ok := r.SessionFor("agent-1")
	assert.False(t, ok, "agent-1 should be removed")

	_, ok = r.SessionFor("agent-2")
	assert.False(t, ok, "agent-2 should be removed")

	sid, ok := r.SessionFor("agent-3")
	assert.True(t, ok, "agent-3 should still exist")
	assert.Equal(t, "session-xyz", sid)

	// Watch entries for removed agents are gone too.
	assert.ElementsMatch(t, []string{"agent-3"}, r.WatchersFor("wf-1"))
}
