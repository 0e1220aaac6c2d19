package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Aixtrade/LLMTrigger/internal/engine"
	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// DedupGate claims the cooldown window for a (rule, context key) pair.
type DedupGate interface {
	TryAcquire(ctx context.Context, ruleID, contextKey string, cooldown time.Duration) (bool, error)
}

// RateGate enforces the per-rule per-minute enqueue limit.
type RateGate interface {
	Allow(ctx context.Context, ruleID string, maxPerMinute int, now time.Time) (bool, error)
}

// Enqueuer pushes tasks onto the durable notification queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *models.NotificationTask) error
}

// Dispatcher gates and enqueues notifications for triggered rules.
type Dispatcher struct {
	dedup           DedupGate
	rate            RateGate
	queue           Enqueuer
	defaultCooldown time.Duration
	now             func() time.Time
}

// NewDispatcher creates a dispatcher with the given gates and queue.
func NewDispatcher(dedup DedupGate, rate RateGate, queue Enqueuer, defaultCooldown time.Duration) *Dispatcher {
	return &Dispatcher{
		dedup:           dedup,
		rate:            rate,
		queue:           queue,
		defaultCooldown: defaultCooldown,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs the enqueue gate for a fired rule and queues a notification
// task when it passes. The returned status is what the execution record
// carries: queued on success, skipped when dedup or the rate limit dropped
// it. The event may be nil for clock-driven fires.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *models.Rule, contextKey string, event *models.Event, result engine.Result, executionID string) (models.NotificationStatus, error) {
	if len(rule.NotifyPolicy.Targets) == 0 {
		slog.Debug("No notification targets", "rule_id", rule.RuleID)
		return models.StatusSkipped, nil
	}

	cooldown := time.Duration(rule.NotifyPolicy.RateLimit.CooldownSeconds) * time.Second
	if cooldown == 0 {
		cooldown = d.defaultCooldown
	}

	allowed, err := d.dedup.TryAcquire(ctx, rule.RuleID, contextKey, cooldown)
	if err != nil {
		return models.StatusSkipped, fmt.Errorf("dedup check: %w", err)
	}
	if !allowed {
		slog.Info("Notification skipped",
			"rule_id", rule.RuleID,
			"context_key", contextKey,
			"reason", fmt.Sprintf("in cooldown period (%s)", cooldown),
		)
		return models.StatusSkipped, nil
	}

	allowed, err = d.rate.Allow(ctx, rule.RuleID, rule.NotifyPolicy.RateLimit.MaxPerMinute, d.now())
	if err != nil {
		return models.StatusSkipped, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		slog.Info("Notification skipped",
			"rule_id", rule.RuleID,
			"context_key", contextKey,
			"reason", fmt.Sprintf("rate limit exceeded (%d/min)", rule.NotifyPolicy.RateLimit.MaxPerMinute),
		)
		return models.StatusSkipped, nil
	}

	task := &models.NotificationTask{
		TaskID:     "notify_" + uuid.NewString()[:12],
		RuleID:     rule.RuleID,
		ContextKey: contextKey,
		Targets:    rule.NotifyPolicy.Targets,
		Message:    BuildMessage(rule, event, result),
		CreatedAt:  d.now(),
		Metadata: map[string]any{
			"rule_name":  rule.Name,
			"confidence": result.Confidence,
			"reason":     result.Reason,
		},
	}
	if event != nil {
		task.Metadata["event_id"] = event.EventID
		task.Metadata["event_type"] = event.EventType
	}
	if executionID != "" {
		task.Metadata["execution_id"] = executionID
	}

	if err := d.queue.Enqueue(ctx, task); err != nil {
		return models.StatusFailed, fmt.Errorf("enqueue notification: %w", err)
	}

	slog.Info("Notification queued",
		"task_id", task.TaskID,
		"rule_id", rule.RuleID,
		"targets", len(task.Targets),
	)
	return models.StatusQueued, nil
}
