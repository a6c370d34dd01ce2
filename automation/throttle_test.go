package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automatonhq/automaton/event"
)

// gateFixture collects trailing firings from a Gate.
type gateFixture struct {
	gate   *Gate
	firedC chan event.Event
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	f := &gateFixture{firedC: make(chan event.Event, 16)}
	f.gate = NewGate(newTimerRegistry(), nil, func(ruleID string, ev event.Event) {
		f.firedC <- ev
	})
	return f
}

func throttledRule(mode ThrottleMode, intervalMs int64, groupBy string) *Rule {
	return &Rule{
		ID:      "r1",
		SkillID: "s1",
		Enabled: true,
		Matcher: Matcher{Events: []string{"x:*"}},
		Throttle: &ThrottleConfig{
			IntervalMs: intervalMs,
			Mode:       mode,
			GroupBy:    groupBy,
		},
	}
}

func TestGateNoThrottleAlwaysFires(t *testing.T) {
	f := newGateFixture(t)
	r := &Rule{ID: "r1", SkillID: "s1"}
	for i := 0; i < 5; i++ {
		assert.Equal(t, ThrottleFire, f.gate.Check(r, event.New("x:y", nil)))
	}
}

func TestGateLeadingWithinWindow(t *testing.T) {
	f := newGateFixture(t)
	r := throttledRule(ThrottleLeading, 60_000, "")

	// First event of the window fires; the second is suppressed with no
	// deferred re-fire.
	assert.Equal(t, ThrottleFire, f.gate.Check(r, event.New("x:y", nil)))
	assert.Equal(t, ThrottleSuppress, f.gate.Check(r, event.New("x:y", nil)))
}

func TestGateLeadingAcrossWindows(t *testing.T) {
	f := newGateFixture(t)
	r := throttledRule(ThrottleLeading, 30, "")

	assert.Equal(t, ThrottleFire, f.gate.Check(r, event.New("x:y", nil)))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, ThrottleFire, f.gate.Check(r, event.New("x:y", nil)))
}

func TestGateLeadingGroupsAreIndependent(t *testing.T) {
	f := newGateFixture(t)
	r := throttledRule(ThrottleLeading, 60_000, "path")

	evA := event.New("x:y", map[string]any{"path": "/a"})
	evB := event.New("x:y", map[string]any{"path": "/b"})

	assert.Equal(t, ThrottleFire, f.gate.Check(r, evA))
	assert.Equal(t, ThrottleFire, f.gate.Check(r, evB))
	assert.Equal(t, ThrottleSuppress, f.gate.Check(r, evA))
}

func TestGateTrailingFiresOnceWithLastEvent(t *testing.T) {
	f := newGateFixture(t)
	r := throttledRule(ThrottleTrailing, 40, "")

	// Three events inside one debounce window: exactly one firing, with
	// the third event's data.
	for i := 1; i <= 3; i++ {
		decision := f.gate.Check(r, event.New("x:y", map[string]any{"seq": i}))
		assert.Equal(t, ThrottleDeferred, decision)
	}

	select {
	case fired := <-f.firedC:
		assert.Equal(t, 3, fired.Data["seq"])
	case <-time.After(time.Second):
		t.Fatal("trailing firing never arrived")
	}

	select {
	case <-f.firedC:
		t.Fatal("trailing window fired more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGateTrailingReArmsOnNewEvents(t *testing.T) {
	f := newGateFixture(t)
	r := throttledRule(ThrottleTrailing, 60, "")

	f.gate.Check(r, event.New("x:y", map[string]any{"seq": 1}))
	time.Sleep(30 * time.Millisecond)
	// Still inside the window: re-arms, so nothing fires at 60ms after
	// the first event.
	f.gate.Check(r, event.New("x:y", map[string]any{"seq": 2}))

	select {
	case fired := <-f.firedC:
		assert.Equal(t, 2, fired.Data["seq"])
	case <-time.After(time.Second):
		t.Fatal("trailing firing never arrived")
	}
}

func TestGateCancelRuleDropsPendingWindow(t *testing.T) {
	f := newGateFixture(t)
	r := throttledRule(ThrottleTrailing, 40, "")

	require.Equal(t, ThrottleDeferred, f.gate.Check(r, event.New("x:y", nil)))
	f.gate.CancelRule(r.ID)

	select {
	case <-f.firedC:
		t.Fatal("cancelled window still fired")
	case <-time.After(120 * time.Millisecond):
	}
}

func TestGateGroupKeyFallsBackToGlobal(t *testing.T) {
	f := newGateFixture(t)
	r := throttledRule(ThrottleLeading, 60_000, "path")

	// Events without the group_by field share the global window.
	assert.Equal(t, ThrottleFire, f.gate.Check(r, event.New("x:y", nil)))
	assert.Equal(t, ThrottleSuppress, f.gate.Check(r, event.New("x:y", map[string]any{"other": 1})))
}
