package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": map[string]any{
					"d": map[string]any{"e": "deep!"},
				},
			},
		},
		"path": "/proj",
		"num":  float64(42),
	}

	tests := []struct {
		name   string
		path   string
		want   any
		wantOK bool
	}{
		{name: "top level", path: "path", want: "/proj", wantOK: true},
		{name: "deep path", path: "a.b.c.d.e", want: "deep!", wantOK: true},
		{name: "missing leaf", path: "a.b.x", wantOK: false},
		{name: "missing root", path: "z", wantOK: false},
		{name: "traverse through scalar", path: "path.sub", wantOK: false},
		{name: "empty path", path: "", wantOK: false},
		{name: "number value", path: "num", want: float64(42), wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lookup(data, tt.path)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLookupEmptyData(t *testing.T) {
	_, ok := Lookup(map[string]any{"a": map[string]any{}}, "a.b.c.d.e")
	assert.False(t, ok)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "plain", Stringify("plain"))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "42", Stringify(float64(42)))
	assert.Equal(t, `{"k":"v"}`, Stringify(map[string]any{"k": "v"}))
	assert.Equal(t, `["a","b"]`, Stringify([]any{"a", "b"}))
}

func TestStringifyUnmarshalable(t *testing.T) {
	// Channels cannot be JSON-marshalled; Stringify must still return
	// something instead of erroring.
	assert.Equal(t, "<unserializable chan int>", Stringify(make(chan int)))
}

func TestStringifyCyclic(t *testing.T) {
	// A self-referential payload must come back as a bounded placeholder,
	// not crash the process by recursing through the cycle.
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	assert.Equal(t, "<unserializable map[string]interface {}>", Stringify(cyclic))
}

func TestEventCloneCyclic(t *testing.T) {
	cyclic := map[string]any{"path": "/proj"}
	cyclic["self"] = cyclic
	ev := New("manual:trigger", cyclic)

	// Clone must terminate; past the depth cap the cyclic tail is shared
	// rather than copied.
	clone := ev.Clone()
	assert.Equal(t, "/proj", clone.Data["path"])
	assert.NotNil(t, clone.Data["self"])
}

func TestEventClone(t *testing.T) {
	ev := New("workspace:file-changed", map[string]any{
		"path":   "/proj/main.go",
		"nested": map[string]any{"lines": float64(10)},
	})

	clone := ev.Clone()
	clone.Data["path"] = "/other"
	clone.Data["nested"].(map[string]any)["lines"] = float64(99)

	assert.Equal(t, "/proj/main.go", ev.Data["path"])
	assert.Equal(t, float64(10), ev.Data["nested"].(map[string]any)["lines"])
}

func TestEventDomain(t *testing.T) {
	assert.Equal(t, "workspace", New("workspace:git-event", nil).Domain())
	assert.Equal(t, "tick", New("tick", nil).Domain())
}
