package automation

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/automatonhq/automaton/event"
)

// AgentCounter reports how many agents are currently available. Backed by
// the agent registry; the evaluator only reads it.
type AgentCounter interface {
	CountAvailableAgents() int
}

// SkillChecker reports whether a skill id is registered.
type SkillChecker interface {
	SkillExists(id string) bool
}

// ConditionEvaluator decides whether a rule's runtime conditions pass.
// All conditions must pass (logical AND); an empty list trivially passes.
// Evaluation is read-only.
type ConditionEvaluator struct {
	agents AgentCounter
	skills SkillChecker
	logger *slog.Logger
	now    func() time.Time

	celEnv   *cel.Env
	progMu   sync.RWMutex
	programs map[string]cel.Program
}

// NewConditionEvaluator builds an evaluator over the given read-only
// collaborators. Either collaborator may be nil, in which case the
// corresponding condition type fails closed (min-agents) or open
// (skill-exists is treated as unknown and passes).
func NewConditionEvaluator(agents AgentCounter, skills SkillChecker, logger *slog.Logger) *ConditionEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("name", cel.StringType),
	)
	if err != nil {
		// The static environment above is valid; an error here would be a
		// programming error. Keep going without expression support.
		logger.Warn("cel environment unavailable, expression conditions will pass", "error", err)
		env = nil
	}
	return &ConditionEvaluator{
		agents:   agents,
		skills:   skills,
		logger:   logger,
		now:      time.Now,
		celEnv:   env,
		programs: make(map[string]cel.Program),
	}
}

// Evaluate checks every condition on the rule against the triggering event.
// lastAttemptAt is the rule's most recent execution attempt (zero when the
// rule has never fired), used by the cooldown condition. Returns the first
// failing condition's description, or ok.
func (ce *ConditionEvaluator) Evaluate(r *Rule, ev event.Event, lastAttemptAt time.Time) (bool, string) {
	for _, cond := range r.Conditions {
		ok, reason := ce.evaluateOne(cond, ev, lastAttemptAt)
		if !ok {
			return false, reason
		}
	}
	return true, ""
}

func (ce *ConditionEvaluator) evaluateOne(cond Condition, ev event.Event, lastAttemptAt time.Time) (bool, string) {
	switch cond.Type {
	case ConditionMinAgents:
		want := asInt(cond.Value)
		have := 0
		if ce.agents != nil {
			have = ce.agents.CountAvailableAgents()
		}
		if have < want {
			return false, fmt.Sprintf("min-agents: %d available, need %d", have, want)
		}
		return true, ""

	case ConditionSkillExists:
		id, _ := cond.Value.(string)
		if id == "" || ce.skills == nil {
			return true, ""
		}
		if !ce.skills.SkillExists(id) {
			return false, fmt.Sprintf("skill-exists: %q is not registered", id)
		}
		return true, ""

	case ConditionCooldown:
		// Cooldown is measured from the last execution attempt of any
		// kind, including skips and failures.
		if lastAttemptAt.IsZero() {
			return true, ""
		}
		cooldown := time.Duration(asInt64(cond.Value)) * time.Millisecond
		if elapsed := ce.now().Sub(lastAttemptAt); elapsed < cooldown {
			return false, fmt.Sprintf("cooldown: %s elapsed of %s", elapsed.Round(time.Millisecond), cooldown)
		}
		return true, ""

	case ConditionExpression:
		return ce.evaluateExpression(cond, ev)

	default:
		// Unknown condition types pass so rule files written for newer
		// engines stay runnable.
		return true, ""
	}
}

// evaluateExpression compiles and runs a CEL expression against the event.
// The expression sees `name` (event name) and `event` (the data map) and
// must evaluate to a boolean; false fails the condition. Compile or
// evaluation errors keep the non-blocking policy of unknown condition
// types: the condition passes with a warning.
func (ce *ConditionEvaluator) evaluateExpression(cond Condition, ev event.Event) (bool, string) {
	expr, _ := cond.Value.(string)
	if expr == "" || ce.celEnv == nil {
		return true, ""
	}

	prog, err := ce.program(expr)
	if err != nil {
		ce.logger.Warn("expression condition does not compile, passing", "expression", expr, "error", err)
		return true, ""
	}

	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := prog.Eval(map[string]any{"event": data, "name": ev.Name})
	if err != nil {
		ce.logger.Warn("expression condition failed to evaluate, passing", "expression", expr, "error", err)
		return true, ""
	}
	if matched, ok := out.Value().(bool); ok && !matched {
		return false, fmt.Sprintf("expression: %q is false", expr)
	}
	return true, ""
}

// program returns the compiled CEL program for the expression, compiling
// and caching it on first use.
func (ce *ConditionEvaluator) program(expr string) (cel.Program, error) {
	ce.progMu.RLock()
	prog, ok := ce.programs[expr]
	ce.progMu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := ce.celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	prog, err := ce.celEnv.Program(ast, cel.CostLimit(1_000_000))
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}

	ce.progMu.Lock()
	ce.programs[expr] = prog
	ce.progMu.Unlock()
	return prog, nil
}

func asInt(v any) int {
	return int(asInt64(v))
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}
