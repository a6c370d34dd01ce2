package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Skill is a reusable prompt definition dispatched by the automation
// engine through the skill router.
type Skill struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SkillRegistry is the in-memory skill store.
type SkillRegistry struct {
	mu     sync.RWMutex
	skills map[string]*Skill
}

// NewSkillRegistry creates an empty skill registry.
func NewSkillRegistry() *SkillRegistry {
	return &SkillRegistry{skills: make(map[string]*Skill)}
}

// Register adds or replaces a skill.
func (r *SkillRegistry) Register(s *Skill) error {
	if s.ID == "" {
		return fmt.Errorf("skill id is required")
	}
	stored := *s
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	r.mu.Lock()
	r.skills[stored.ID] = &stored
	r.mu.Unlock()
	return nil
}

// Get returns a copy of the skill, or false when unknown.
func (r *SkillRegistry) Get(id string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	if !ok {
		return nil, false
	}
	copied := *s
	return &copied, true
}

// SkillExists implements the automation engine's SkillChecker.
func (r *SkillRegistry) SkillExists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.skills[id]
	return ok
}

// Remove deletes a skill.
func (r *SkillRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.skills, id)
	r.mu.Unlock()
}

// List returns all skills sorted by id.
func (r *SkillRegistry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		copied := *s
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
