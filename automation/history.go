package automation

import (
	"sync"
	"time"
)

// ExecutionStatus is the lifecycle state of one execution attempt.
type ExecutionStatus string

const (
	// ExecutionPending is the initial state of an accepted firing.
	ExecutionPending ExecutionStatus = "pending"
	// ExecutionRunning means the skill router has been dispatched.
	ExecutionRunning ExecutionStatus = "running"
	// ExecutionSuccess is terminal: the router reported success.
	ExecutionSuccess ExecutionStatus = "success"
	// ExecutionFailed is terminal: the router reported or returned failure.
	ExecutionFailed ExecutionStatus = "failed"
	// ExecutionSkipped is terminal, reached from pending without ever
	// running: condition failure, throttle suppression, concurrency
	// denial, or dry-run.
	ExecutionSkipped ExecutionStatus = "skipped"
)

// Skip reasons recorded on skipped executions.
const (
	SkipReasonCondition   = "condition-failed"
	SkipReasonThrottled   = "throttled"
	SkipReasonConcurrency = "concurrency-limit"
	SkipReasonDryRun      = "dry-run"
)

// ExecutionRecord is one audited attempt (including each retry) to fire a
// rule. Records are never mutated after reaching a terminal state; retries
// create a new record with an incremented RetryAttempt.
type ExecutionRecord struct {
	ExecutionID  string            `json:"execution_id"`
	RuleID       string            `json:"rule_id"`
	SkillID      string            `json:"skill_id"`
	TriggerEvent string            `json:"trigger_event"`
	TaskID       string            `json:"task_id,omitempty"`
	Status       ExecutionStatus   `json:"status"`
	SkipReason   string            `json:"skip_reason,omitempty"`
	RetryAttempt int               `json:"retry_attempt"`
	Params       map[string]string `json:"resolved_params,omitempty"`
	Summary      string            `json:"result_summary,omitempty"`
	Error        string            `json:"error,omitempty"`
	DryRun       bool              `json:"dry_run,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  time.Time         `json:"completed_at,omitzero"`
	DurationMs   int64             `json:"duration_ms"`
}

// clone copies the record so history consumers never observe later writes.
func (r *ExecutionRecord) clone() *ExecutionRecord {
	out := *r
	out.Params = cloneStringMap(r.Params)
	return &out
}

// RuleStats is the per-rule aggregate derived from execution history.
type RuleStats struct {
	TotalExecutions int       `json:"total_executions"`
	SuccessCount    int       `json:"success_count"`
	FailureCount    int       `json:"failure_count"`
	ThrottledCount  int       `json:"throttled_count"`
	AvgDurationMs   float64   `json:"avg_duration_ms"`
	LastExecutedAt  time.Time `json:"last_executed_at,omitzero"`
}

// History is the append-only in-memory execution log. Creation order is
// preserved per rule; the overall log interleaves across rules by arrival.
type History struct {
	mu      sync.RWMutex
	records []*ExecutionRecord
	byRule  map[string][]*ExecutionRecord

	// lastAttempt feeds the cooldown condition: most recent attempt of
	// any kind per rule.
	lastAttempt map[string]time.Time

	// maxRecords bounds memory; the oldest records are dropped past it.
	maxRecords int
}

// NewHistory creates an execution history retaining up to maxRecords
// entries (0 uses a default of 1000).
func NewHistory(maxRecords int) *History {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &History{
		byRule:      make(map[string][]*ExecutionRecord),
		lastAttempt: make(map[string]time.Time),
		maxRecords:  maxRecords,
	}
}

// Append records a terminal execution record.
func (h *History) Append(rec *ExecutionRecord) {
	stored := rec.clone()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, stored)
	h.byRule[stored.RuleID] = append(h.byRule[stored.RuleID], stored)
	if stored.StartedAt.After(h.lastAttempt[stored.RuleID]) {
		h.lastAttempt[stored.RuleID] = stored.StartedAt
	}

	if len(h.records) > h.maxRecords {
		evicted := h.records[0]
		h.records = h.records[1:]
		perRule := h.byRule[evicted.RuleID]
		if len(perRule) > 0 && perRule[0] == evicted {
			h.byRule[evicted.RuleID] = perRule[1:]
		}
	}
}

// ExecutionFilter narrows List results. Zero value lists everything.
type ExecutionFilter struct {
	RuleID string
	Status ExecutionStatus
	Limit  int
}

// List returns matching records, oldest first.
func (h *History) List(filter ExecutionFilter) []*ExecutionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	source := h.records
	if filter.RuleID != "" {
		source = h.byRule[filter.RuleID]
	}

	out := make([]*ExecutionRecord, 0, len(source))
	for _, rec := range source {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec.clone())
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// Recent returns the n most recent records, newest first.
func (h *History) Recent(n int) []*ExecutionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]*ExecutionRecord, 0, n)
	for i := len(h.records) - 1; i >= len(h.records)-n; i-- {
		out = append(out, h.records[i].clone())
	}
	return out
}

// Total returns the number of retained records.
func (h *History) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// LastAttempt returns when the rule last attempted an execution of any
// kind, or the zero time. Feeds the cooldown condition.
func (h *History) LastAttempt(ruleID string) time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastAttempt[ruleID]
}

// StatsFor derives the per-rule aggregate from retained history.
// Dry-run records are excluded from every counter.
func (h *History) StatsFor(ruleID string) RuleStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var stats RuleStats
	var durationTotal int64
	var durationCount int
	for _, rec := range h.byRule[ruleID] {
		if rec.DryRun {
			continue
		}
		stats.TotalExecutions++
		switch rec.Status {
		case ExecutionSuccess:
			stats.SuccessCount++
		case ExecutionFailed:
			stats.FailureCount++
		case ExecutionSkipped:
			if rec.SkipReason == SkipReasonThrottled {
				stats.ThrottledCount++
			}
		}
		if rec.Status == ExecutionSuccess || rec.Status == ExecutionFailed {
			durationTotal += rec.DurationMs
			durationCount++
			if rec.CompletedAt.After(stats.LastExecutedAt) {
				stats.LastExecutedAt = rec.CompletedAt
			}
		}
	}
	if durationCount > 0 {
		stats.AvgDurationMs = float64(durationTotal) / float64(durationCount)
	}
	return stats
}
