// Package automation implements the event-driven rule scheduler at the heart
// of the orchestration server: declarative rules that match system events,
// gate on runtime conditions and throttle windows, resolve skill parameters
// from event data, and fire skill executions with retry, concurrency, and
// audit semantics.
package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority orders rules when multiple match the same event.
type Priority string

// Rule priorities, highest first.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// rank returns a sortable weight for the priority. Unknown values sort
// with normal.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// ThrottleMode selects the edge of the throttle window that fires.
type ThrottleMode string

const (
	// ThrottleLeading fires on the first event of a window and suppresses
	// the rest. No deferred re-fire occurs.
	ThrottleLeading ThrottleMode = "leading"

	// ThrottleTrailing debounces: each event re-arms the window and only
	// the final event of a burst fires, after the quiet period.
	ThrottleTrailing ThrottleMode = "trailing"
)

// Matcher is the event predicate attached to a rule.
type Matcher struct {
	// Events lists event-name patterns. A pattern is either an exact name
	// or "prefix:*", which matches any event sharing the prefix.
	Events []string `json:"events" yaml:"events"`

	// Filters maps event-data field paths to value patterns. A pattern may
	// contain '*' as a multi-character wildcard. All filters must match.
	Filters map[string]string `json:"filters,omitempty" yaml:"filters,omitempty"`

	// RequiredFields lists field paths that must be present in event data.
	RequiredFields []string `json:"required_fields,omitempty" yaml:"required_fields,omitempty"`
}

// ThrottleConfig rate-limits rule firings.
type ThrottleConfig struct {
	// IntervalMs is the throttle window in milliseconds.
	IntervalMs int64 `json:"interval_ms" yaml:"interval_ms"`

	// Mode is leading or trailing. Defaults to leading when empty.
	Mode ThrottleMode `json:"mode,omitempty" yaml:"mode,omitempty"`

	// GroupBy is an event-data field path that partitions throttle state.
	// Empty means one global window per rule.
	GroupBy string `json:"group_by,omitempty" yaml:"group_by,omitempty"`
}

// Interval returns the throttle window as a duration.
func (t *ThrottleConfig) Interval() time.Duration {
	return time.Duration(t.IntervalMs) * time.Millisecond
}

// ModeOrDefault returns the configured mode, defaulting to leading.
func (t *ThrottleConfig) ModeOrDefault() ThrottleMode {
	if t.Mode == ThrottleTrailing {
		return ThrottleTrailing
	}
	return ThrottleLeading
}

// RetryConfig controls exponential-backoff retries of failed executions.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryBaseDelayMs is the base backoff delay; attempt n waits
	// base * 2^n milliseconds.
	RetryBaseDelayMs int64 `json:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
}

// Delay returns the backoff delay before re-running an execution that has
// already made attempt attempts (0-based).
func (r *RetryConfig) Delay(attempt int) time.Duration {
	return time.Duration(r.RetryBaseDelayMs) * time.Millisecond << attempt
}

// Condition is a runtime precondition checked before a rule fires.
// Recognized types: "min-agents", "skill-exists", "cooldown", "expression".
// Unrecognized types pass by default so newer rule files keep working
// against older engines.
type Condition struct {
	Type  string `json:"type" yaml:"type"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Condition types understood by the evaluator.
const (
	ConditionMinAgents   = "min-agents"
	ConditionSkillExists = "skill-exists"
	ConditionCooldown    = "cooldown"
	ConditionExpression  = "expression"
)

// Rule is a declarative event → skill trigger binding.
type Rule struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Priority    Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	Matcher     Matcher  `json:"matcher" yaml:"matcher"`

	// SkillID names the skill dispatched when the rule fires.
	SkillID string `json:"skill_id" yaml:"skill_id"`

	// Parameter mapping, resolved static < event < template.
	StaticParams   map[string]string `json:"static_params,omitempty" yaml:"static_params,omitempty"`
	EventParams    map[string]string `json:"event_params,omitempty" yaml:"event_params,omitempty"`
	TemplateParams map[string]string `json:"template_params,omitempty" yaml:"template_params,omitempty"`

	Throttle *ThrottleConfig `json:"throttle,omitempty" yaml:"throttle,omitempty"`
	Retry    *RetryConfig    `json:"retry,omitempty" yaml:"retry,omitempty"`

	// MaxConcurrent caps in-flight executions for this rule. 0 = unlimited.
	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`

	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Tags       []string    `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Version is bumped (semantic patch increment) on every update.
	// Enable/disable toggles do not bump it.
	Version string `json:"version" yaml:"version"`

	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

// Validate rejects malformed rule definitions before they enter the store.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if r.SkillID == "" {
		return fmt.Errorf("%w: skill_id is required", ErrInvalidRule)
	}
	if len(r.Matcher.Events) == 0 {
		return fmt.Errorf("%w: matcher.events needs at least one pattern", ErrInvalidRule)
	}
	if r.Throttle != nil && r.Throttle.IntervalMs <= 0 {
		return fmt.Errorf("%w: throttle.interval_ms must be positive", ErrInvalidRule)
	}
	if r.Retry != nil && r.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: retry.max_retries must not be negative", ErrInvalidRule)
	}
	if r.MaxConcurrent < 0 {
		return fmt.Errorf("%w: max_concurrent must not be negative", ErrInvalidRule)
	}
	return nil
}

// HasTag reports whether the rule carries the given tag.
func (r *Rule) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the rule so callers outside the store never
// share mutable state with it.
func (r *Rule) Clone() *Rule {
	out := *r
	out.Matcher.Events = append([]string(nil), r.Matcher.Events...)
	out.Matcher.RequiredFields = append([]string(nil), r.Matcher.RequiredFields...)
	out.Matcher.Filters = cloneStringMap(r.Matcher.Filters)
	out.StaticParams = cloneStringMap(r.StaticParams)
	out.EventParams = cloneStringMap(r.EventParams)
	out.TemplateParams = cloneStringMap(r.TemplateParams)
	out.Tags = append([]string(nil), r.Tags...)
	out.Conditions = append([]Condition(nil), r.Conditions...)
	if r.Throttle != nil {
		t := *r.Throttle
		out.Throttle = &t
	}
	if r.Retry != nil {
		rt := *r.Retry
		out.Retry = &rt
	}
	return &out
}

// RulePatch is a partial rule update. Nil fields leave the stored value
// untouched.
type RulePatch struct {
	Name           *string           `json:"name,omitempty"`
	Description    *string           `json:"description,omitempty"`
	Priority       *Priority         `json:"priority,omitempty"`
	Matcher        *Matcher          `json:"matcher,omitempty"`
	SkillID        *string           `json:"skill_id,omitempty"`
	StaticParams   map[string]string `json:"static_params,omitempty"`
	EventParams    map[string]string `json:"event_params,omitempty"`
	TemplateParams map[string]string `json:"template_params,omitempty"`
	Throttle       *ThrottleConfig   `json:"throttle,omitempty"`
	Retry          *RetryConfig      `json:"retry,omitempty"`
	MaxConcurrent  *int              `json:"max_concurrent,omitempty"`
	Conditions     []Condition       `json:"conditions,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
}

// apply merges the patch into the rule in place.
func (p *RulePatch) apply(r *Rule) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.Matcher != nil {
		r.Matcher = *p.Matcher
	}
	if p.SkillID != nil {
		r.SkillID = *p.SkillID
	}
	if p.StaticParams != nil {
		r.StaticParams = p.StaticParams
	}
	if p.EventParams != nil {
		r.EventParams = p.EventParams
	}
	if p.TemplateParams != nil {
		r.TemplateParams = p.TemplateParams
	}
	if p.Throttle != nil {
		r.Throttle = p.Throttle
	}
	if p.Retry != nil {
		r.Retry = p.Retry
	}
	if p.MaxConcurrent != nil {
		r.MaxConcurrent = *p.MaxConcurrent
	}
	if p.Conditions != nil {
		r.Conditions = p.Conditions
	}
	if p.Tags != nil {
		r.Tags = p.Tags
	}
}

// bumpVersion increments the patch component of a semantic version string.
// Unparseable versions restart at 1.0.1.
func bumpVersion(v string) string {
	parts := strings.Split(v, ".")
	if len(parts) == 3 {
		if patch, err := strconv.Atoi(parts[2]); err == nil {
			return fmt.Sprintf("%s.%s.%d", parts[0], parts[1], patch+1)
		}
	}
	return "1.0.1"
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
