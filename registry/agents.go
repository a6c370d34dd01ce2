// Package registry holds the in-memory agent and skill registries the
// automation engine consults read-only. Both registries are safe for
// concurrent use.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// AgentStatus is an agent's availability for task routing.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

// Agent is a registered AI-model agent.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name,omitempty"`
	Model        string      `json:"model,omitempty"`
	Status       AgentStatus `json:"status"`
	Capabilities []string    `json:"capabilities,omitempty"`
	RegisteredAt time.Time   `json:"registered_at"`
	LastSeenAt   time.Time   `json:"last_seen_at,omitzero"`
}

// AgentRegistry tracks registered agents and their availability.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewAgentRegistry creates an empty agent registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]*Agent)}
}

// Register adds or replaces an agent. A registered agent with no status
// starts available.
func (r *AgentRegistry) Register(a *Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	stored := *a
	if stored.Status == "" {
		stored.Status = AgentAvailable
	}
	if stored.RegisteredAt.IsZero() {
		stored.RegisteredAt = time.Now()
	}

	r.mu.Lock()
	r.agents[stored.ID] = &stored
	r.mu.Unlock()
	return nil
}

// SetStatus updates an agent's availability.
func (r *AgentRegistry) SetStatus(id string, status AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("agent %q is not registered", id)
	}
	a.Status = status
	a.LastSeenAt = time.Now()
	return nil
}

// Remove deregisters an agent.
func (r *AgentRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.agents, id)
	r.mu.Unlock()
}

// CountAvailableAgents implements the automation engine's AgentCounter.
func (r *AgentRegistry) CountAvailableAgents() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.agents {
		if a.Status == AgentAvailable {
			n++
		}
	}
	return n
}

// List returns all agents sorted by id.
func (r *AgentRegistry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
