package automation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/automatonhq/automaton/event"
)

// globalGroup is the throttle group key used when a rule has no
// throttle.group_by field.
const globalGroup = "__global__"

// ThrottleDecision is the gate's verdict for one matched event.
type ThrottleDecision int

const (
	// ThrottleFire means the event fires immediately.
	ThrottleFire ThrottleDecision = iota

	// ThrottleSuppress means the event is dropped entirely (leading mode
	// inside the window). Recorded as a skipped execution.
	ThrottleSuppress

	// ThrottleDeferred means the event was absorbed into a pending
	// trailing-debounce window; the gate will fire later with the last
	// stored event data.
	ThrottleDeferred
)

// throttleState tracks one (rule, group) throttle window. Created lazily
// on first match; never explicitly destroyed.
type throttleState struct {
	lastFiredAt  time.Time
	pending      bool
	pendingEvent event.Event
}

// Gate is the per-rule, per-group throttle/debounce gate. It owns all
// ThrottleState and is the only mutator of it. Trailing-mode windows are
// armed on the shared timer registry so disabling a rule cancels them in
// one sweep.
type Gate struct {
	mu     sync.Mutex
	states map[string]*throttleState
	timers *timerRegistry
	logger *slog.Logger
	now    func() time.Time

	// fire delivers a trailing-debounce firing back to the engine with
	// the last event observed in the window.
	fire func(ruleID string, ev event.Event)
}

// NewGate creates a throttle gate. fire is invoked from timer goroutines
// when a trailing window elapses.
func NewGate(timers *timerRegistry, logger *slog.Logger, fire func(ruleID string, ev event.Event)) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		states: make(map[string]*throttleState),
		timers: timers,
		logger: logger,
		now:    time.Now,
		fire:   fire,
	}
}

// Check decides whether a matched, condition-passed event may fire now.
// Rules without throttle config always fire immediately.
func (g *Gate) Check(r *Rule, ev event.Event) ThrottleDecision {
	if r.Throttle == nil {
		return ThrottleFire
	}

	group := g.groupKey(r, ev)
	key := timerKey("throttle", r.ID, group)
	interval := r.Throttle.Interval()

	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[key]
	if !ok {
		state = &throttleState{}
		g.states[key] = state
	}

	switch r.Throttle.ModeOrDefault() {
	case ThrottleTrailing:
		// Absorb the event and re-arm the quiet-period timer. Only the
		// final event of the burst fires.
		state.pending = true
		state.pendingEvent = ev.Clone()
		ruleID := r.ID
		g.timers.Schedule(key, interval, func() {
			g.fireTrailing(key, ruleID)
		})
		return ThrottleDeferred

	default: // leading
		now := g.now()
		if state.lastFiredAt.IsZero() || now.Sub(state.lastFiredAt) >= interval {
			state.lastFiredAt = now
			return ThrottleFire
		}
		return ThrottleSuppress
	}
}

// fireTrailing runs on the timer goroutine when a trailing window elapses
// without being re-armed.
func (g *Gate) fireTrailing(key, ruleID string) {
	g.mu.Lock()
	state, ok := g.states[key]
	if !ok || !state.pending {
		g.mu.Unlock()
		return
	}
	ev := state.pendingEvent
	state.pending = false
	state.pendingEvent = event.Event{}
	state.lastFiredAt = g.now()
	g.mu.Unlock()

	g.fire(ruleID, ev)
}

// CancelRule drops pending trailing windows for the rule and stops their
// timers. In-flight executions are unaffected.
func (g *Gate) CancelRule(ruleID string) {
	prefix := timerKey("throttle", ruleID) + "/"
	g.timers.CancelPrefix(prefix)

	g.mu.Lock()
	defer g.mu.Unlock()
	for key, state := range g.states {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			state.pending = false
			state.pendingEvent = event.Event{}
		}
	}
}

// groupKey resolves the throttle partition for the event.
func (g *Gate) groupKey(r *Rule, ev event.Event) string {
	if r.Throttle.GroupBy == "" {
		return globalGroup
	}
	value, ok := ev.Lookup(r.Throttle.GroupBy)
	if !ok {
		return globalGroup
	}
	return event.Stringify(value)
}
