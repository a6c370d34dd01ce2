package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerRegistryScheduleAndCancel(t *testing.T) {
	tr := newTimerRegistry()

	tr.Schedule("a", time.Hour, func() {})
	tr.Schedule("b", time.Hour, func() {})
	assert.Equal(t, 2, tr.Pending())

	assert.True(t, tr.Cancel("a"))
	assert.False(t, tr.Cancel("a"))
	assert.Equal(t, 1, tr.Pending())

	assert.Equal(t, 1, tr.CancelAll())
	assert.Zero(t, tr.Pending())
}

func TestTimerRegistryCancelPrefix(t *testing.T) {
	tr := newTimerRegistry()
	tr.Schedule(timerKey("throttle", "r1", "g1"), time.Hour, func() {})
	tr.Schedule(timerKey("throttle", "r1", "g2"), time.Hour, func() {})
	tr.Schedule(timerKey("throttle", "r2", "g1"), time.Hour, func() {})
	tr.Schedule(timerKey("retry", "r1", "e1"), time.Hour, func() {})

	assert.Equal(t, 2, tr.CancelPrefix(timerKey("throttle", "r1")+"/"))
	assert.Equal(t, 2, tr.Pending())
}

func TestTimerRegistryScheduleReplaces(t *testing.T) {
	tr := newTimerRegistry()

	tr.Schedule("k", time.Hour, func() { t.Error("replaced timer ran") })
	fired := make(chan struct{})
	tr.Schedule("k", 10*time.Millisecond, func() { close(fired) })
	assert.Equal(t, 1, tr.Pending())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("replacement timer never fired")
	}
	assert.Zero(t, tr.Pending())
}

func TestTimerRegistryStaleExpiryLeavesReplacement(t *testing.T) {
	tr := newTimerRegistry()

	// First timer armed, then replaced. A late expiry from the first
	// timer (it can fire and lose the race to a replacing Schedule) must
	// neither run its fn nor unregister the replacement.
	tr.Schedule("k", time.Hour, func() {})
	tr.mu.Lock()
	staleGen := tr.timers["k"].gen
	tr.mu.Unlock()

	tr.Schedule("k", time.Hour, func() {})

	tr.expire("k", staleGen, func() { t.Error("stale expiry ran its callback") })
	assert.Equal(t, 1, tr.Pending())
	assert.True(t, tr.Cancel("k")) // the replacement is still cancellable

	// An expiry whose key was cancelled outright is likewise a no-op.
	tr.Schedule("k", time.Hour, func() {})
	tr.mu.Lock()
	gen := tr.timers["k"].gen
	tr.mu.Unlock()
	require.True(t, tr.Cancel("k"))
	tr.expire("k", gen, func() { t.Error("cancelled expiry ran its callback") })
	assert.Zero(t, tr.Pending())
}

func TestTimerRegistryCurrentExpiryRuns(t *testing.T) {
	tr := newTimerRegistry()
	tr.Schedule("k", time.Hour, func() {})
	tr.mu.Lock()
	gen := tr.timers["k"].gen
	tr.timers["k"].timer.Stop()
	tr.mu.Unlock()

	ran := false
	tr.expire("k", gen, func() { ran = true })
	assert.True(t, ran)
	assert.Zero(t, tr.Pending())
}
