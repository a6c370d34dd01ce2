package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/automatonhq/automaton/event"
)

// SkillResult is the skill router's report for one dispatch.
type SkillResult struct {
	Success bool   `json:"success"`
	Summary string `json:"result_summary,omitempty"`
	Error   string `json:"error,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

// SkillRouter dispatches a resolved skill invocation to the task-routing
// engine. The engine treats it as opaque: routing strategy, agent
// selection, and the router's own concurrency handling are not inspected.
type SkillRouter interface {
	Execute(ctx context.Context, skillID string, params map[string]string) (*SkillResult, error)
}

// EngineStatus is the snapshot returned by the status surface.
type EngineStatus struct {
	Enabled          bool                 `json:"enabled"`
	RuleCount        int                  `json:"rule_count"`
	ActiveRules      int                  `json:"active_rules"`
	TotalExecutions  int                  `json:"total_executions"`
	PendingTimers    int                  `json:"pending_timers"`
	RuleStats        map[string]RuleStats `json:"rule_stats"`
	RecentExecutions []*ExecutionRecord   `json:"recent_executions"`
}

// Engine is the automation engine: it decides, for every system event,
// which rules match, whether they may fire right now, and how the event
// becomes a skill invocation — plus the retry and audit machinery around
// each firing. Collaborators are injected so tests substitute fakes; the
// engine holds no global state.
type Engine struct {
	store      *Store
	conditions *ConditionEvaluator
	gate       *Gate
	history    *History
	reviews    *ReviewQueue
	router     SkillRouter
	metrics    *Metrics
	logger     *slog.Logger
	timers     *timerRegistry

	enabled atomic.Bool

	inflightMu sync.Mutex
	inflight   map[string]int

	recentWindow int

	// OnExecution, when set, observes every terminal execution record.
	// Called outside engine locks; used by the bus bridge to publish
	// lifecycle events.
	OnExecution func(rec *ExecutionRecord)
}

// EngineOptions configures engine construction.
type EngineOptions struct {
	Store        *Store
	Agents       AgentCounter
	Skills       SkillChecker
	Router       SkillRouter
	Metrics      *Metrics
	Logger       *slog.Logger
	HistorySize  int
	RecentWindow int
}

// NewEngine constructs an automation engine from its collaborators.
func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recentWindow := opts.RecentWindow
	if recentWindow <= 0 {
		recentWindow = 20
	}

	timers := newTimerRegistry()
	e := &Engine{
		store:        opts.Store,
		conditions:   NewConditionEvaluator(opts.Agents, opts.Skills, logger),
		history:      NewHistory(opts.HistorySize),
		reviews:      NewReviewQueue(),
		router:       opts.Router,
		metrics:      opts.Metrics,
		logger:       logger,
		timers:       timers,
		inflight:     make(map[string]int),
		recentWindow: recentWindow,
	}
	e.gate = NewGate(timers, logger, e.fireTrailing)
	e.enabled.Store(true)
	return e
}

// Store exposes the rule store for the command surface.
func (e *Engine) Store() *Store { return e.store }

// History exposes the execution history for the command surface.
func (e *Engine) History() *History { return e.history }

// Reviews exposes the review queue for the command surface.
func (e *Engine) Reviews() *ReviewQueue { return e.reviews }

// Enabled reports whether the whole engine accepts new firings.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// SetEnabled toggles the whole engine. Disabling cancels every pending
// trailing-debounce window and scheduled retry; in-flight executions
// already dispatched to the router are not aborted.
func (e *Engine) SetEnabled(enabled bool) {
	wasEnabled := e.enabled.Swap(enabled)
	if wasEnabled && !enabled {
		cancelled := e.timers.CancelAll()
		e.logger.Info("engine disabled", "timers_cancelled", cancelled)
	} else if !wasEnabled && enabled {
		e.logger.Info("engine enabled")
	}
}

// SetRuleEnabled toggles one rule, cancelling its pending throttle windows
// and scheduled retries on disable.
func (e *Engine) SetRuleEnabled(ruleID string, enabled bool) (*Rule, error) {
	r, err := e.store.SetEnabled(ruleID, enabled)
	if err != nil {
		return nil, err
	}
	if !enabled {
		e.gate.CancelRule(ruleID)
		e.timers.CancelPrefix(timerKey("retry", ruleID) + "/")
	}
	return r, nil
}

// RemoveRule deletes a rule and cancels everything pending for it.
func (e *Engine) RemoveRule(ruleID string) error {
	if err := e.store.Remove(ruleID); err != nil {
		return err
	}
	e.gate.CancelRule(ruleID)
	e.timers.CancelPrefix(timerKey("retry", ruleID) + "/")
	return nil
}

// HandleEvent runs the full decision path for one event: match, conditions,
// throttle, concurrency, resolution, dispatch. Denials are recorded as
// skipped executions and never surfaced as errors to the event source.
// Returns the terminal records produced synchronously (trailing-debounce
// deferrals produce their record later, when the window elapses).
func (e *Engine) HandleEvent(ctx context.Context, ev event.Event) []*ExecutionRecord {
	if !e.enabled.Load() {
		return nil
	}
	e.metrics.recordEvent()

	var records []*ExecutionRecord
	for _, r := range e.store.Matching(ev.Name, ev.Data) {
		if rec := e.processMatch(ctx, r, ev); rec != nil {
			records = append(records, rec)
		}
	}
	return records
}

// processMatch takes one matched rule through conditions and the throttle
// gate, then into the pipeline.
func (e *Engine) processMatch(ctx context.Context, r *Rule, ev event.Event) *ExecutionRecord {
	if ok, reason := e.conditions.Evaluate(r, ev, e.history.LastAttempt(r.ID)); !ok {
		return e.recordSkip(r, ev, 0, reason, SkipReasonCondition)
	}

	switch e.gate.Check(r, ev) {
	case ThrottleSuppress:
		return e.recordSkip(r, ev, 0, "throttle window active", SkipReasonThrottled)
	case ThrottleDeferred:
		return nil
	}

	return e.run(ctx, r, ev, 0, false)
}

// fireTrailing is the gate's callback when a trailing-debounce window
// elapses. The rule is re-read so config changes during the window take
// effect; a rule disabled or removed meanwhile fires nothing.
func (e *Engine) fireTrailing(ruleID string, ev event.Event) {
	if !e.enabled.Load() {
		return
	}
	r, err := e.store.Get(ruleID)
	if err != nil || !r.Enabled {
		return
	}
	e.run(context.Background(), r, ev, 0, false)
}

// Trigger manually fires a rule with arbitrary test event data. It
// deliberately bypasses matching, conditions, and throttling, but still
// resolves parameters and passes the concurrency limiter. With dryRun the
// router is never invoked and no review item is enqueued.
func (e *Engine) Trigger(ctx context.Context, ruleID string, data map[string]any, dryRun bool) (*ExecutionRecord, error) {
	if !e.enabled.Load() {
		return nil, ErrEngineDisabled
	}
	r, err := e.store.Get(ruleID)
	if err != nil {
		return nil, err
	}
	ev := event.New("manual:trigger", data)
	return e.run(ctx, r, ev, 0, dryRun), nil
}

// run is the execution pipeline for a single firing attempt. It owns the
// pending → running → {success, failed} state machine; skipped is terminal
// from pending for concurrency denial and dry-run.
func (e *Engine) run(ctx context.Context, r *Rule, ev event.Event, attempt int, dryRun bool) *ExecutionRecord {
	if !e.tryAcquire(r) {
		return e.recordSkip(r, ev, attempt, fmt.Sprintf("max_concurrent=%d reached", r.MaxConcurrent), SkipReasonConcurrency)
	}
	defer e.release(r)

	rec := &ExecutionRecord{
		ExecutionID:  uuid.NewString(),
		RuleID:       r.ID,
		SkillID:      r.SkillID,
		TriggerEvent: ev.Name,
		Status:       ExecutionPending,
		RetryAttempt: attempt,
		DryRun:       dryRun,
		StartedAt:    time.Now(),
	}
	rec.Params = ResolveParams(r, ev)

	if dryRun {
		rec.Status = ExecutionSkipped
		rec.SkipReason = SkipReasonDryRun
		rec.Summary = fmt.Sprintf("dry run: would execute skill %q with %d params", r.SkillID, len(rec.Params))
		rec.CompletedAt = time.Now()
		e.finish(rec)
		return rec
	}

	rec.Status = ExecutionRunning
	e.metrics.inFlightDelta(1)
	result, err := e.router.Execute(ctx, r.SkillID, rec.Params)
	e.metrics.inFlightDelta(-1)

	rec.CompletedAt = time.Now()
	rec.DurationMs = rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()

	switch {
	case err != nil:
		rec.Status = ExecutionFailed
		rec.Error = err.Error()
	case result == nil || !result.Success:
		rec.Status = ExecutionFailed
		if result != nil {
			rec.Error = result.Error
			rec.Summary = result.Summary
			rec.TaskID = result.TaskID
		}
		if rec.Error == "" {
			rec.Error = "skill execution reported failure"
		}
	default:
		rec.Status = ExecutionSuccess
		rec.Summary = result.Summary
		rec.TaskID = result.TaskID
	}

	e.finish(rec)

	if rec.Status == ExecutionSuccess {
		e.reviews.Enqueue(rec)
	} else if !e.maybeScheduleRetry(r, ev, rec) {
		// Terminal failure: the execution is completed, so it still
		// lands in the review queue for human triage.
		e.reviews.Enqueue(rec)
	}
	return rec
}

// maybeScheduleRetry arms an exponential-backoff re-invocation when the
// rule's retry budget allows. Retries skip matching, conditions, and
// throttling; parameters are re-resolved against the stored event snapshot
// and the attempt passes the concurrency limiter again on re-entry.
func (e *Engine) maybeScheduleRetry(r *Rule, ev event.Event, rec *ExecutionRecord) bool {
	if r.Retry == nil || rec.RetryAttempt >= r.Retry.MaxRetries {
		if r.Retry != nil {
			e.logger.Warn("rule failed terminally, retries exhausted",
				"rule", r.ID, "attempts", rec.RetryAttempt+1, "error", rec.Error)
		}
		return false
	}

	nextAttempt := rec.RetryAttempt + 1
	delay := r.Retry.Delay(rec.RetryAttempt)
	snapshot := ev.Clone()
	key := timerKey("retry", r.ID, rec.ExecutionID)

	e.metrics.recordRetry()
	e.logger.Debug("retry scheduled",
		"rule", r.ID, "attempt", nextAttempt, "delay", delay)

	e.timers.Schedule(key, delay, func() {
		if !e.enabled.Load() {
			return
		}
		current, err := e.store.Get(r.ID)
		if err != nil || !current.Enabled {
			return
		}
		e.run(context.Background(), current, snapshot, nextAttempt, false)
	})
	return true
}

// recordSkip writes a terminal skipped record without entering running.
func (e *Engine) recordSkip(r *Rule, ev event.Event, attempt int, detail, reason string) *ExecutionRecord {
	now := time.Now()
	rec := &ExecutionRecord{
		ExecutionID:  uuid.NewString(),
		RuleID:       r.ID,
		SkillID:      r.SkillID,
		TriggerEvent: ev.Name,
		Status:       ExecutionSkipped,
		SkipReason:   reason,
		RetryAttempt: attempt,
		Summary:      detail,
		StartedAt:    now,
		CompletedAt:  now,
	}
	e.metrics.recordSkip(reason)
	e.finish(rec)
	return rec
}

// finish appends the terminal record to history, updates metrics, and
// notifies the execution observer.
func (e *Engine) finish(rec *ExecutionRecord) {
	e.history.Append(rec)
	e.metrics.recordExecution(rec.Status)

	if rec.Status == ExecutionFailed {
		e.logger.Warn("execution failed",
			"rule", rec.RuleID, "skill", rec.SkillID, "attempt", rec.RetryAttempt, "error", rec.Error)
	} else {
		e.logger.Debug("execution finished",
			"rule", rec.RuleID, "status", rec.Status, "reason", rec.SkipReason)
	}

	if e.OnExecution != nil {
		e.OnExecution(rec.clone())
	}
}

// tryAcquire increments the rule's in-flight counter unless the rule is at
// its max_concurrent cap.
func (e *Engine) tryAcquire(r *Rule) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if r.MaxConcurrent > 0 && e.inflight[r.ID] >= r.MaxConcurrent {
		return false
	}
	e.inflight[r.ID]++
	return true
}

// release decrements the rule's in-flight counter when the attempt's
// pipeline run completes.
func (e *Engine) release(r *Rule) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if e.inflight[r.ID] > 0 {
		e.inflight[r.ID]--
	}
}

// InFlight returns the rule's current in-flight execution count.
func (e *Engine) InFlight(ruleID string) int {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	return e.inflight[ruleID]
}

// Status snapshots the engine for the status surface.
func (e *Engine) Status() EngineStatus {
	total, enabled := e.store.Count()

	stats := make(map[string]RuleStats)
	for _, r := range e.store.List(ListFilter{}) {
		stats[r.ID] = e.history.StatsFor(r.ID)
	}

	return EngineStatus{
		Enabled:          e.enabled.Load(),
		RuleCount:        total,
		ActiveRules:      enabled,
		TotalExecutions:  e.history.Total(),
		PendingTimers:    e.timers.Pending(),
		RuleStats:        stats,
		RecentExecutions: e.history.Recent(e.recentWindow),
	}
}
