package automation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule(id string) *Rule {
	return &Rule{
		ID:      id,
		Name:    "Rule " + id,
		SkillID: "triage",
		Enabled: true,
		Matcher: Matcher{Events: []string{"task:*"}},
	}
}

func TestStoreCreateDefaults(t *testing.T) {
	s := NewStore(nil, nil)

	created, err := s.Create(validRule("r1"))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", created.Version)
	assert.Equal(t, PriorityNormal, created.Priority)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
}

func TestStoreCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Rule)
	}{
		{"missing id", func(r *Rule) { r.ID = "" }},
		{"missing skill", func(r *Rule) { r.SkillID = "" }},
		{"no event patterns", func(r *Rule) { r.Matcher.Events = nil }},
		{"zero throttle interval", func(r *Rule) { r.Throttle = &ThrottleConfig{} }},
		{"negative retries", func(r *Rule) { r.Retry = &RetryConfig{MaxRetries: -1} }},
		{"negative concurrency", func(r *Rule) { r.MaxConcurrent = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(nil, nil)
			r := validRule("r1")
			tt.mutate(r)
			_, err := s.Create(r)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestStoreCreateDuplicate(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.Create(validRule("r1"))
	require.NoError(t, err)
	_, err = s.Create(validRule("r1"))
	assert.ErrorIs(t, err, ErrRuleExists)
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.Create(validRule("r1"))
	require.NoError(t, err)

	got, err := s.Get("r1")
	require.NoError(t, err)
	got.SkillID = "mutated"

	again, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "triage", again.SkillID)
}

func TestStoreUpdateBumpsVersion(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.Create(validRule("r1"))
	require.NoError(t, err)

	name := "renamed"
	updated, err := s.Update("r1", &RulePatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "1.0.1", updated.Version)
	assert.Equal(t, "triage", updated.SkillID) // unspecified fields preserved

	updated, err = s.Update("r1", &RulePatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", updated.Version)
}

func TestStoreUpdateInvalidPatchRejected(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.Create(validRule("r1"))
	require.NoError(t, err)

	empty := ""
	_, err = s.Update("r1", &RulePatch{SkillID: &empty})
	assert.ErrorIs(t, err, ErrInvalidRule)

	// The failed patch left the stored rule untouched.
	r, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "triage", r.SkillID)
	assert.Equal(t, "1.0.0", r.Version)
}

func TestStoreSetEnabledDoesNotBumpVersion(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.Create(validRule("r1"))
	require.NoError(t, err)

	r, err := s.SetEnabled("r1", false)
	require.NoError(t, err)
	assert.False(t, r.Enabled)
	assert.Equal(t, "1.0.0", r.Version)
}

func TestStoreRemove(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.Create(validRule("r1"))
	require.NoError(t, err)

	require.NoError(t, s.Remove("r1"))
	_, err = s.Get("r1")
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.ErrorIs(t, s.Remove("r1"), ErrRuleNotFound)
}

func TestStoreListFilters(t *testing.T) {
	s := NewStore(nil, nil)

	r1 := validRule("r1")
	r1.Tags = []string{"auto-triage", "workspace"}
	r2 := validRule("r2")
	r2.Tags = []string{"manual"}
	r2.Enabled = false
	for _, r := range []*Rule{r1, r2} {
		_, err := s.Create(r)
		require.NoError(t, err)
	}

	assert.Len(t, s.List(ListFilter{}), 2)

	enabled := true
	got := s.List(ListFilter{Enabled: &enabled})
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)

	got = s.List(ListFilter{Tag: "auto-*"})
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
}

func TestStoreMatchingSkipsDisabled(t *testing.T) {
	s := NewStore(nil, nil)
	r := validRule("r1")
	r.Enabled = false
	_, err := s.Create(r)
	require.NoError(t, err)

	assert.Empty(t, s.Matching("task:completed", nil))
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	fs := NewFileStore(path)

	r := validRule("r1")
	r.Priority = PriorityHigh
	r.Throttle = &ThrottleConfig{IntervalMs: 5000, Mode: ThrottleTrailing, GroupBy: "path"}
	r.Retry = &RetryConfig{MaxRetries: 2, RetryBaseDelayMs: 1000}
	r.Conditions = []Condition{{Type: ConditionMinAgents, Value: 1}}
	r.StaticParams = map[string]string{"mode": "auto"}
	r.Tags = []string{"workspace"}
	r.Version = "1.2.3"

	require.NoError(t, fs.SaveRules([]*Rule{r}))

	loaded, err := fs.LoadRules()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "r1", loaded[0].ID)
	assert.Equal(t, PriorityHigh, loaded[0].Priority)
	assert.Equal(t, int64(5000), loaded[0].Throttle.IntervalMs)
	assert.Equal(t, ThrottleTrailing, loaded[0].Throttle.Mode)
	assert.Equal(t, 2, loaded[0].Retry.MaxRetries)
	assert.Equal(t, "1.2.3", loaded[0].Version)
	assert.Equal(t, map[string]string{"mode": "auto"}, loaded[0].StaticParams)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "absent.yaml"))
	rules, err := fs.LoadRules()
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestStorePersistsThroughFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	s := NewStore(NewFileStore(path), nil)

	_, err := s.Create(validRule("r1"))
	require.NoError(t, err)
	_, err = s.Create(validRule("r2"))
	require.NoError(t, err)
	require.NoError(t, s.Remove("r2"))

	// A fresh store over the same file sees the surviving collection.
	reloaded := NewStore(NewFileStore(path), nil)
	require.NoError(t, reloaded.Load())
	total, enabled := reloaded.Count()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, enabled)

	r, err := reloaded.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", r.Version)
}

func TestStoreLoadSkipsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	fs := NewFileStore(path)
	bad := &Rule{ID: "bad"} // no skill, no matcher
	require.NoError(t, fs.SaveRules([]*Rule{validRule("good"), bad}))

	s := NewStore(fs, nil)
	require.NoError(t, s.Load())
	total, _ := s.Count()
	assert.Equal(t, 1, total)
	_, err := s.Get("good")
	assert.NoError(t, err)
}
