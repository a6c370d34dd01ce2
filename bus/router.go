package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/automatonhq/automaton/automation"
)

// skillRequest is the payload sent to the task-routing engine.
type skillRequest struct {
	SkillID string            `json:"skill_id"`
	Params  map[string]string `json:"params,omitempty"`
}

// SkillRouter dispatches skill executions over NATS request/reply. The
// task-routing engine answers on "<prefix>.<skillID>" with a JSON
// automation.SkillResult; routing strategy stays opaque to the caller.
type SkillRouter struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSkillRouter creates a NATS-backed skill router. prefix defaults to
// "skills.execute" and timeout to two minutes.
func NewSkillRouter(nc *nats.Conn, prefix string, timeout time.Duration, logger *slog.Logger) *SkillRouter {
	if prefix == "" {
		prefix = "skills.execute"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SkillRouter{nc: nc, prefix: prefix, timeout: timeout, logger: logger}
}

// Execute implements automation.SkillRouter.
func (r *SkillRouter) Execute(ctx context.Context, skillID string, params map[string]string) (*automation.SkillResult, error) {
	payload, err := json.Marshal(skillRequest{SkillID: skillID, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal skill request: %w", err)
	}

	reqCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	msg, err := r.nc.RequestWithContext(reqCtx, r.prefix+"."+skillID, payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch skill %s: %w", skillID, err)
	}

	var result automation.SkillResult
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		return nil, fmt.Errorf("decode skill result: %w", err)
	}
	return &result, nil
}

// LocalRouter is the skill router used without a bus connection: it logs
// the dispatch and reports success. Useful for local development and as a
// dry-run-adjacent smoke path.
type LocalRouter struct {
	Logger *slog.Logger
}

// Execute implements automation.SkillRouter.
func (r *LocalRouter) Execute(_ context.Context, skillID string, params map[string]string) (*automation.SkillResult, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("local skill dispatch", "skill", skillID, "params", len(params))
	return &automation.SkillResult{
		Success: true,
		Summary: fmt.Sprintf("local dispatch of %s", skillID),
	}, nil
}
