package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentRegistry(t *testing.T) {
	r := NewAgentRegistry()
	assert.Zero(t, r.CountAvailableAgents())
	assert.Error(t, r.Register(&Agent{}))

	require.NoError(t, r.Register(&Agent{ID: "a1", Model: "gpt-4o"}))
	require.NoError(t, r.Register(&Agent{ID: "a2", Status: AgentBusy}))

	// Registration without a status defaults to available.
	assert.Equal(t, 1, r.CountAvailableAgents())

	require.NoError(t, r.SetStatus("a2", AgentAvailable))
	assert.Equal(t, 2, r.CountAvailableAgents())
	assert.Error(t, r.SetStatus("ghost", AgentBusy))

	agents := r.List()
	require.Len(t, agents, 2)
	assert.Equal(t, "a1", agents[0].ID)
	assert.False(t, agents[0].RegisteredAt.IsZero())

	r.Remove("a1")
	assert.Equal(t, 1, r.CountAvailableAgents())
}

func TestAgentRegistryReturnsCopies(t *testing.T) {
	r := NewAgentRegistry()
	require.NoError(t, r.Register(&Agent{ID: "a1"}))

	r.List()[0].Status = AgentOffline
	assert.Equal(t, 1, r.CountAvailableAgents())
}

func TestSkillRegistry(t *testing.T) {
	r := NewSkillRegistry()
	assert.Error(t, r.Register(&Skill{}))
	assert.False(t, r.SkillExists("triage"))

	require.NoError(t, r.Register(&Skill{ID: "triage", Name: "Triage failures"}))
	require.NoError(t, r.Register(&Skill{ID: "summarize"}))

	assert.True(t, r.SkillExists("triage"))
	s, ok := r.Get("triage")
	require.True(t, ok)
	assert.Equal(t, "Triage failures", s.Name)
	assert.False(t, s.CreatedAt.IsZero())

	_, ok = r.Get("ghost")
	assert.False(t, ok)

	skills := r.List()
	require.Len(t, skills, 2)
	assert.Equal(t, "summarize", skills[0].ID)

	r.Remove("triage")
	assert.False(t, r.SkillExists("triage"))
}
