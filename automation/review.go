package automation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReviewStatus is the human-review state of one completed execution.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewApproved  ReviewStatus = "approved"
	ReviewDismissed ReviewStatus = "dismissed"
	ReviewFlagged   ReviewStatus = "flagged"
)

// valid reports whether s is a known review status.
func (s ReviewStatus) valid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewDismissed, ReviewFlagged:
		return true
	}
	return false
}

// ReviewItem is a human-in-the-loop queue entry created from a completed
// execution. It references (never mutates) the execution's data.
type ReviewItem struct {
	ReviewID       string       `json:"review_id"`
	Status         ReviewStatus `json:"status"`
	Notes          string       `json:"notes,omitempty"`
	GithubIssueURL string       `json:"github_issue_url,omitempty"`

	// Denormalized execution summary.
	ExecutionID  string          `json:"execution_id"`
	RuleID       string          `json:"rule_id"`
	SkillID      string          `json:"skill_id"`
	TriggerEvent string          `json:"trigger_event"`
	Result       ExecutionStatus `json:"result"`
	Summary      string          `json:"summary,omitempty"`
	Error        string          `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReviewStats summarizes the queue by status.
type ReviewStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Dismissed int `json:"dismissed"`
	Flagged   int `json:"flagged"`
}

// ReviewQueue is the mailbox of completed executions awaiting human review.
// Every completed non-dry-run execution enqueues an item; reviewer actions
// move it between statuses.
type ReviewQueue struct {
	mu    sync.RWMutex
	items map[string]*ReviewItem
	order []string
	now   func() time.Time
}

// NewReviewQueue creates an empty review queue.
func NewReviewQueue() *ReviewQueue {
	return &ReviewQueue{
		items: make(map[string]*ReviewItem),
		now:   time.Now,
	}
}

// Enqueue creates a pending review item from a completed execution record
// and returns it.
func (q *ReviewQueue) Enqueue(rec *ExecutionRecord) *ReviewItem {
	now := q.now()
	item := &ReviewItem{
		ReviewID:     uuid.NewString(),
		Status:       ReviewPending,
		ExecutionID:  rec.ExecutionID,
		RuleID:       rec.RuleID,
		SkillID:      rec.SkillID,
		TriggerEvent: rec.TriggerEvent,
		Result:       rec.Status,
		Summary:      rec.Summary,
		Error:        rec.Error,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	q.mu.Lock()
	q.items[item.ReviewID] = item
	q.order = append(q.order, item.ReviewID)
	q.mu.Unlock()

	copied := *item
	return &copied
}

// SetStatus transitions an item. Setting ReviewPending reverts a prior
// decision. Notes, when non-empty, replace the item's notes.
func (q *ReviewQueue) SetStatus(reviewID string, status ReviewStatus, notes string) (*ReviewItem, error) {
	if !status.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReviewStatus, status)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[reviewID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
	}
	item.Status = status
	if notes != "" {
		item.Notes = notes
	}
	item.UpdatedAt = q.now()

	copied := *item
	return &copied, nil
}

// AttachIssueURL records the URL of an externally filed issue. Status is
// not changed.
func (q *ReviewQueue) AttachIssueURL(reviewID, url string) (*ReviewItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[reviewID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
	}
	item.GithubIssueURL = url
	item.UpdatedAt = q.now()

	copied := *item
	return &copied, nil
}

// Get returns a copy of one item.
func (q *ReviewQueue) Get(reviewID string) (*ReviewItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[reviewID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
	}
	copied := *item
	return &copied, nil
}

// List returns items in creation order, optionally filtered by status,
// along with queue statistics.
func (q *ReviewQueue) List(status ReviewStatus) ([]*ReviewItem, ReviewStats) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var stats ReviewStats
	out := make([]*ReviewItem, 0, len(q.order))
	for _, id := range q.order {
		item := q.items[id]
		stats.Total++
		switch item.Status {
		case ReviewPending:
			stats.Pending++
		case ReviewApproved:
			stats.Approved++
		case ReviewDismissed:
			stats.Dismissed++
		case ReviewFlagged:
			stats.Flagged++
		}
		if status != "" && item.Status != status {
			continue
		}
		copied := *item
		out = append(out, &copied)
	}
	return out, stats
}

// Clear empties the queue and returns how many items were dropped.
func (q *ReviewQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = make(map[string]*ReviewItem)
	q.order = nil
	return n
}
