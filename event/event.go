// Package event defines the generic event envelope that flows through the
// automation engine. Event data is an arbitrary JSON-like map; typed access
// goes through dot-path lookup helpers rather than reflection.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is a named occurrence with an arbitrary key/value payload.
// Names use a "domain:action" convention (e.g. "workspace:git-event").
type Event struct {
	// Name identifies the event (e.g. "task:completed").
	Name string `json:"name"`

	// Data is the event payload. Values may be nested maps, slices,
	// or scalars as produced by JSON decoding.
	Data map[string]any `json:"data,omitempty"`

	// OccurredAt is when the event was observed.
	OccurredAt time.Time `json:"occurred_at,omitzero"`
}

// New creates an event with the given name and payload.
func New(name string, data map[string]any) Event {
	return Event{Name: name, Data: data, OccurredAt: time.Now()}
}

// Lookup resolves a dot-separated path (e.g. "a.b.c") into the event data.
// The second return is false when any segment of the path is missing or a
// non-map value is traversed.
func (e Event) Lookup(path string) (any, bool) {
	return Lookup(e.Data, path)
}

// Domain returns the event-name prefix before the first ':', or the whole
// name when no separator is present.
func (e Event) Domain() string {
	if i := strings.Index(e.Name, ":"); i >= 0 {
		return e.Name[:i]
	}
	return e.Name
}

// Clone returns a copy of the event with a deep-copied data map. Used when
// an event snapshot must outlive the caller (trailing throttle, retries).
func (e Event) Clone() Event {
	return Event{Name: e.Name, Data: cloneMap(e.Data), OccurredAt: e.OccurredAt}
}

// Lookup resolves a dot-separated path into a nested map structure.
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = data
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a payload value as a string. Strings pass through
// unchanged; everything else is JSON-serialized. Values that cannot be
// marshalled (channels, cyclic structures) render as a bounded type
// placeholder so resolution never fails — and never recurses into the
// value, which for a cyclic structure would exhaust the stack.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unserializable %T>", v)
	}
	return string(b)
}

// maxCloneDepth bounds recursion in Clone. Decoded JSON payloads never get
// near it; only a cyclic structure handed in through a manual trigger can,
// and a cycle cannot be deep-copied at all.
const maxCloneDepth = 100

func cloneMap(m map[string]any) map[string]any {
	return cloneMapDepth(m, 0)
}

func cloneMapDepth(m map[string]any, depth int) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v, depth+1)
	}
	return out
}

// cloneValue deep-copies nested maps and slices. Past maxCloneDepth the
// value is shared instead of copied.
func cloneValue(v any, depth int) any {
	if depth > maxCloneDepth {
		return v
	}
	switch val := v.(type) {
	case map[string]any:
		return cloneMapDepth(val, depth)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item, depth+1)
		}
		return out
	default:
		return v
	}
}
