package automation

import (
	"strings"
	"sync"
	"time"
)

// timerRegistry tracks outstanding timers by key so cancellation on rule
// disable is a single operation instead of scattered handle juggling.
// Throttle timers use "throttle/ruleID/groupKey" keys; retry timers use
// "retry/ruleID/executionID".
type timerRegistry struct {
	mu     sync.Mutex
	gen    uint64
	timers map[string]*timerEntry
}

// timerEntry pairs a timer with the generation it was armed under, so a
// callback that lost the race against a replacing Schedule can tell it is
// stale.
type timerEntry struct {
	timer *time.Timer
	gen   uint64
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{timers: make(map[string]*timerEntry)}
}

// timerKey joins key parts with '/'.
func timerKey(parts ...string) string {
	return strings.Join(parts, "/")
}

// Schedule arms a timer for the key, replacing (and stopping) any timer
// already armed under the same key. fn runs on the timer goroutine. A
// replaced timer that had already fired and was waiting on the lock runs
// nothing: its generation no longer matches the registry entry.
func (tr *timerRegistry) Schedule(key string, d time.Duration, fn func()) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if existing, ok := tr.timers[key]; ok {
		existing.timer.Stop()
	}
	tr.gen++
	gen := tr.gen
	entry := &timerEntry{gen: gen}
	entry.timer = time.AfterFunc(d, func() {
		tr.expire(key, gen, fn)
	})
	tr.timers[key] = entry
}

// expire removes the entry and runs fn, unless the key was replaced or
// cancelled after this timer was armed.
func (tr *timerRegistry) expire(key string, gen uint64, fn func()) {
	tr.mu.Lock()
	entry, ok := tr.timers[key]
	if !ok || entry.gen != gen {
		tr.mu.Unlock()
		return
	}
	delete(tr.timers, key)
	tr.mu.Unlock()
	fn()
}

// Cancel stops and removes the timer for the key, if any. Returns whether
// a timer was pending.
func (tr *timerRegistry) Cancel(key string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	entry, ok := tr.timers[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(tr.timers, key)
	return true
}

// CancelPrefix stops every timer whose key starts with the prefix.
// Cancelling "throttle/ruleID/" drops all of a rule's pending throttle
// windows at once.
func (tr *timerRegistry) CancelPrefix(prefix string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for key, entry := range tr.timers {
		if strings.HasPrefix(key, prefix) {
			entry.timer.Stop()
			delete(tr.timers, key)
			n++
		}
	}
	return n
}

// CancelAll stops every outstanding timer.
func (tr *timerRegistry) CancelAll() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := len(tr.timers)
	for key, entry := range tr.timers {
		entry.timer.Stop()
		delete(tr.timers, key)
	}
	return n
}

// Pending returns the number of armed timers.
func (tr *timerRegistry) Pending() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.timers)
}
