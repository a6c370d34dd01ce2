package automation

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Persistence is the pluggable load/save contract for rule definitions.
// Saves are full-collection overwrites: the store reads the whole
// collection, mutates in memory, and writes the whole collection back.
// In-memory state is authoritative; persistence failures are logged as
// warnings and never roll back a mutation.
type Persistence interface {
	LoadRules() ([]*Rule, error)
	SaveRules(rules []*Rule) error
}

// Store owns the in-memory rule map and rule versioning. All mutation is
// serialized behind a single lock; reads hand out clones so callers never
// share mutable state with the store.
type Store struct {
	mu      sync.RWMutex
	rules   map[string]*Rule
	order   []string // insertion order, preserved in persistence
	persist Persistence
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a rule store backed by the given persistence contract.
// persist may be nil for a purely in-memory store.
func NewStore(persist Persistence, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rules:   make(map[string]*Rule),
		persist: persist,
		logger:  logger,
		now:     time.Now,
	}
}

// Load replaces the in-memory rule set with the persisted collection.
// Called on startup and by the rules-file watcher on external edits.
func (s *Store) Load() error {
	if s.persist == nil {
		return nil
	}
	loaded, err := s.persist.LoadRules()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[string]*Rule, len(loaded))
	s.order = s.order[:0]
	for _, r := range loaded {
		if err := r.Validate(); err != nil {
			s.logger.Warn("skipping invalid persisted rule", "rule", r.ID, "error", err)
			continue
		}
		if r.Version == "" {
			r.Version = "1.0.0"
		}
		s.rules[r.ID] = r.Clone()
		s.order = append(s.order, r.ID)
	}
	s.logger.Info("rules loaded", "count", len(s.order))
	return nil
}

// Create validates and registers a new rule. The stored copy is returned.
func (s *Store) Create(r *Rule) (*Rule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.rules[r.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRuleExists, r.ID)
	}

	stored := r.Clone()
	if stored.Version == "" {
		stored.Version = "1.0.0"
	}
	if stored.Priority == "" {
		stored.Priority = PriorityNormal
	}
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.rules[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	s.mu.Unlock()

	s.save()
	return stored.Clone(), nil
}

// Get returns a copy of the rule with the given id.
func (s *Store) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return r.Clone(), nil
}

// Update applies a partial patch, bumps the version, and persists.
// Unspecified fields are preserved.
func (s *Store) Update(id string, patch *RulePatch) (*Rule, error) {
	s.mu.Lock()
	r, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	updated := r.Clone()
	patch.apply(updated)
	if err := updated.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	updated.Version = bumpVersion(r.Version)
	updated.UpdatedAt = s.now()
	s.rules[id] = updated
	s.mu.Unlock()

	s.save()
	return updated.Clone(), nil
}

// SetEnabled toggles a rule without bumping its version.
func (s *Store) SetEnabled(id string, enabled bool) (*Rule, error) {
	s.mu.Lock()
	r, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	r.Enabled = enabled
	r.UpdatedAt = s.now()
	out := r.Clone()
	s.mu.Unlock()

	s.save()
	return out, nil
}

// Remove deletes a rule.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	if _, ok := s.rules[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(s.rules, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.save()
	return nil
}

// ListFilter narrows List results. Zero value lists everything.
type ListFilter struct {
	// Tag keeps only rules carrying the tag. Glob patterns ('*', '?')
	// are matched against each tag.
	Tag string

	// Enabled keeps only rules in the given enablement state.
	Enabled *bool
}

// List returns rules in insertion order, optionally filtered.
func (s *Store) List(filter ListFilter) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		r := s.rules[id]
		if filter.Enabled != nil && r.Enabled != *filter.Enabled {
			continue
		}
		if filter.Tag != "" && !matchesTag(r, filter.Tag) {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

// Matching returns enabled rules whose matcher accepts the event, ordered
// by priority then insertion order. Matching is side-effect free.
func (s *Store) Matching(name string, data map[string]any) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, id := range s.order {
		r := s.rules[id]
		if !r.Enabled {
			continue
		}
		if RuleMatches(r, name, data) {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.rank() < out[j].Priority.rank()
	})
	return out
}

// Count returns total and enabled rule counts.
func (s *Store) Count() (total, enabled int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total = len(s.rules)
	for _, r := range s.rules {
		if r.Enabled {
			enabled++
		}
	}
	return total, enabled
}

// save writes the full collection through the persistence contract.
// Failures are logged and do not roll back the in-memory mutation.
func (s *Store) save() {
	if s.persist == nil {
		return
	}
	s.mu.RLock()
	snapshot := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, s.rules[id].Clone())
	}
	s.mu.RUnlock()

	if err := s.persist.SaveRules(snapshot); err != nil {
		s.logger.Warn("persisting rules failed, in-memory state is authoritative", "error", err)
	}
}
