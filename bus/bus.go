// Package bus bridges the automation engine to NATS: it subscribes to the
// server's event subjects, converts messages into engine events, and
// publishes execution lifecycle records back onto the bus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/nats-io/nats.go"

	"github.com/automatonhq/automaton/automation"
	"github.com/automatonhq/automaton/event"
)

// Config configures the bus bridge.
type Config struct {
	// SubjectPrefix is the subject namespace carrying system events.
	// A subject "events.workspace.git-event" becomes the engine event
	// "workspace:git-event".
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`

	// AllowPatterns optionally narrows which event names are forwarded
	// to the engine. Patterns are globs matched against the converted
	// event name (e.g. "workspace:*", "task:completed"). Empty forwards
	// everything.
	AllowPatterns []string `json:"allow_patterns,omitempty" yaml:"allow_patterns,omitempty"`

	// PublishPrefix is the namespace for execution lifecycle events
	// published by the bridge (suffixed with the terminal status).
	PublishPrefix string `json:"publish_prefix" yaml:"publish_prefix"`
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix: "events",
		PublishPrefix: "automation.execution",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix is required")
	}
	if strings.ContainsAny(c.SubjectPrefix, ">*") {
		return fmt.Errorf("subject_prefix must not contain wildcards")
	}
	for _, p := range c.AllowPatterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid allow pattern %q", p)
		}
	}
	return nil
}

// Bridge subscribes to event subjects and feeds the automation engine.
type Bridge struct {
	config Config
	nc     *nats.Conn
	engine *automation.Engine
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	sub     *nats.Subscription

	// Metrics
	eventsReceived atomic.Int64
	eventsDropped  atomic.Int64
	published      atomic.Int64
}

// New creates a bus bridge. The engine's execution observer is wired to
// publish lifecycle events under config.PublishPrefix.
func New(config Config, nc *nats.Conn, engine *automation.Engine, logger *slog.Logger) (*Bridge, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bus config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		config: config,
		nc:     nc,
		engine: engine,
		logger: logger,
	}
	engine.OnExecution = b.publishExecution
	return b, nil
}

// Start subscribes to the event namespace. The subscription lives until
// Stop or ctx cancellation.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("bus bridge already running")
	}
	if b.nc == nil {
		return fmt.Errorf("nats connection required")
	}

	subject := b.config.SubjectPrefix + ".>"
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		b.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	b.sub = sub
	b.running = true

	go func() {
		<-ctx.Done()
		b.Stop()
	}()

	b.logger.Info("bus bridge started", "subject", subject)
	return nil
}

// Stop drains the subscription.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			b.logger.Warn("drain subscription", "error", err)
		}
		b.sub = nil
	}
	b.running = false
	b.logger.Info("bus bridge stopped",
		"events_received", b.eventsReceived.Load(),
		"events_dropped", b.eventsDropped.Load())
}

// handleMessage converts one NATS message into an engine event.
func (b *Bridge) handleMessage(ctx context.Context, msg *nats.Msg) {
	b.eventsReceived.Add(1)

	name, ok := EventName(b.config.SubjectPrefix, msg.Subject)
	if !ok {
		b.eventsDropped.Add(1)
		return
	}
	if !b.allowed(name) {
		b.eventsDropped.Add(1)
		return
	}

	var data map[string]any
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			b.logger.Warn("dropping event with non-object payload", "subject", msg.Subject, "error", err)
			b.eventsDropped.Add(1)
			return
		}
	}

	b.engine.HandleEvent(ctx, event.New(name, data))
}

// allowed checks the event name against the allow patterns.
func (b *Bridge) allowed(name string) bool {
	if len(b.config.AllowPatterns) == 0 {
		return true
	}
	for _, p := range b.config.AllowPatterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// executionEvent is the published lifecycle payload.
type executionEvent struct {
	ExecutionID  string    `json:"execution_id"`
	RuleID       string    `json:"rule_id"`
	SkillID      string    `json:"skill_id"`
	TriggerEvent string    `json:"trigger_event"`
	Status       string    `json:"status"`
	SkipReason   string    `json:"skip_reason,omitempty"`
	RetryAttempt int       `json:"retry_attempt"`
	Error        string    `json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	CompletedAt  time.Time `json:"completed_at"`
}

// publishExecution reports a terminal execution record on the bus.
// Publish failures are logged and never affect the engine.
func (b *Bridge) publishExecution(rec *automation.ExecutionRecord) {
	if b.nc == nil || b.config.PublishPrefix == "" {
		return
	}

	payload, err := json.Marshal(executionEvent{
		ExecutionID:  rec.ExecutionID,
		RuleID:       rec.RuleID,
		SkillID:      rec.SkillID,
		TriggerEvent: rec.TriggerEvent,
		Status:       string(rec.Status),
		SkipReason:   rec.SkipReason,
		RetryAttempt: rec.RetryAttempt,
		Error:        rec.Error,
		DurationMs:   rec.DurationMs,
		CompletedAt:  rec.CompletedAt,
	})
	if err != nil {
		return
	}

	subject := b.config.PublishPrefix + "." + string(rec.Status)
	if err := b.nc.Publish(subject, payload); err != nil {
		b.logger.Warn("publish execution event", "subject", subject, "error", err)
		return
	}
	b.published.Add(1)
}

// EventName converts a NATS subject under prefix into an engine event
// name: "events.workspace.git-event" → "workspace:git-event". Deeper
// subject levels join the action with dots. Returns false for subjects
// outside the prefix or without a domain and action.
func EventName(prefix, subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || rest == "" {
		return "", false
	}
	parts := strings.Split(rest, ".")
	if len(parts) < 2 {
		return "", false
	}
	return parts[0] + ":" + strings.Join(parts[1:], "."), true
}
