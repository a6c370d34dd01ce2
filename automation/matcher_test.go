package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func matcherRule(m Matcher) *Rule {
	return &Rule{ID: "r1", SkillID: "s1", Enabled: true, Matcher: m}
}

func TestRuleMatchesEventName(t *testing.T) {
	tests := []struct {
		name      string
		patterns  []string
		eventName string
		want      bool
	}{
		{name: "exact match", patterns: []string{"task:completed"}, eventName: "task:completed", want: true},
		{name: "exact mismatch", patterns: []string{"task:completed"}, eventName: "task:failed", want: false},
		{name: "wildcard matches domain", patterns: []string{"workspace:*"}, eventName: "workspace:git-event", want: true},
		{name: "wildcard rejects other domain", patterns: []string{"workspace:*"}, eventName: "task:completed", want: false},
		{name: "wildcard rejects bare domain", patterns: []string{"workspace:*"}, eventName: "workspace", want: false},
		{name: "second pattern matches", patterns: []string{"task:completed", "agent:*"}, eventName: "agent:registered", want: true},
		{name: "no patterns", patterns: nil, eventName: "task:completed", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := matcherRule(Matcher{Events: tt.patterns})
			assert.Equal(t, tt.want, RuleMatches(r, tt.eventName, nil))
		})
	}
}

func TestRuleMatchesFilters(t *testing.T) {
	data := map[string]any{
		"path":   "/proj/src/main.go",
		"branch": "main",
		"detail": map[string]any{"author": "sam"},
		"count":  float64(3),
	}

	tests := []struct {
		name    string
		filters map[string]string
		want    bool
	}{
		{name: "exact value", filters: map[string]string{"branch": "main"}, want: true},
		{name: "exact mismatch", filters: map[string]string{"branch": "dev"}, want: false},
		{name: "wildcard spans separators", filters: map[string]string{"path": "/proj*"}, want: true},
		{name: "wildcard suffix", filters: map[string]string{"path": "*.go"}, want: true},
		{name: "wildcard middle", filters: map[string]string{"path": "/proj/*/main.go"}, want: true},
		{name: "wildcard mismatch", filters: map[string]string{"path": "/other*"}, want: false},
		{name: "nested field", filters: map[string]string{"detail.author": "sam"}, want: true},
		{name: "missing field", filters: map[string]string{"missing": "*"}, want: false},
		{name: "number matched as string", filters: map[string]string{"count": "3"}, want: true},
		{name: "all must match", filters: map[string]string{"branch": "main", "path": "/other*"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := matcherRule(Matcher{Events: []string{"workspace:*"}, Filters: tt.filters})
			assert.Equal(t, tt.want, RuleMatches(r, "workspace:file-changed", data))
		})
	}
}

func TestRuleMatchesRequiredFields(t *testing.T) {
	r := matcherRule(Matcher{
		Events:         []string{"workspace:*"},
		RequiredFields: []string{"path", "detail.author"},
	})

	assert.True(t, RuleMatches(r, "workspace:save", map[string]any{
		"path":   "/x",
		"detail": map[string]any{"author": "sam"},
	}))
	assert.False(t, RuleMatches(r, "workspace:save", map[string]any{
		"path": "/x",
	}))
}

func TestRuleMatchesNameOnly(t *testing.T) {
	// No filters and no required fields: event name alone decides.
	r := matcherRule(Matcher{Events: []string{"agent:registered"}})
	assert.True(t, RuleMatches(r, "agent:registered", nil))
}

func TestMatchesTagGlob(t *testing.T) {
	r := &Rule{Tags: []string{"env-prod", "ci"}}
	assert.True(t, matchesTag(r, "ci"))
	assert.True(t, matchesTag(r, "env-*"))
	assert.False(t, matchesTag(r, "env-dev"))
}
