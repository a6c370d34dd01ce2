package automation

import (
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/automatonhq/automaton/event"
)

// RuleMatches reports whether the rule's matcher accepts the event.
// A rule matches when its event-name patterns contain the name (exact or
// "prefix:*" wildcard), every filter pattern matches the field's string
// value, and every required field is present in event data. A rule with no
// filters or required fields matches on event name alone.
func RuleMatches(r *Rule, name string, data map[string]any) bool {
	if !matchesEventName(r.Matcher.Events, name) {
		return false
	}
	for field, pattern := range r.Matcher.Filters {
		value, ok := event.Lookup(data, field)
		if !ok {
			return false
		}
		if !wildcardMatch(pattern, event.Stringify(value)) {
			return false
		}
	}
	for _, field := range r.Matcher.RequiredFields {
		if _, ok := event.Lookup(data, field); !ok {
			return false
		}
	}
	return true
}

// matchesEventName checks the name against each pattern. Patterns are
// either exact names or "prefix:*", matching any event in the prefix's
// namespace (including the bare "prefix:" boundary).
func matchesEventName(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if pattern == name {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
			if strings.HasPrefix(name, prefix+":") {
				return true
			}
		}
	}
	return false
}

// wildcardCache memoizes compiled filter patterns; rule sets are small and
// stable so this stays bounded.
var wildcardCache sync.Map // pattern string -> *regexp.Regexp

// wildcardMatch matches a value against a pattern where '*' is a
// multi-character wildcard crossing every character class. Filter values
// are frequently file paths, so '*' must span path separators too — glob
// matchers that stop '*' at '/' would reject patterns like "/proj*".
func wildcardMatch(pattern, value string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	re, ok := wildcardCache.Load(pattern)
	if !ok {
		compiled := regexp.MustCompile("^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$")
		re, _ = wildcardCache.LoadOrStore(pattern, compiled)
	}
	return re.(*regexp.Regexp).MatchString(value)
}

// matchesTag matches a rule's tags against a tag filter, which may be a
// glob pattern (e.g. "env-*").
func matchesTag(r *Rule, pattern string) bool {
	for _, tag := range r.Tags {
		if ok, err := doublestar.Match(pattern, tag); err == nil && ok {
			return true
		}
	}
	return false
}
