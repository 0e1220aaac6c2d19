// Package processor orchestrates event processing: the per-event pipeline
// from idempotency check through rule evaluation to notification dispatch,
// and the periodic tick that flushes batch timeouts and fires interval
// analyses when no events arrive.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Aixtrade/LLMTrigger/internal/engine"
	"github.com/Aixtrade/LLMTrigger/internal/metrics"
	"github.com/Aixtrade/LLMTrigger/internal/models"
	"github.com/Aixtrade/LLMTrigger/internal/retry"
)

// Idempotency remembers processed event IDs.
type Idempotency interface {
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

// ContextAppender appends events to context windows.
type ContextAppender interface {
	Append(ctx context.Context, event *models.Event) error
}

// RuleMatcher returns the rules to evaluate for an event.
type RuleMatcher interface {
	Match(ctx context.Context, eventType, contextKey string) ([]*models.Rule, error)
}

// Evaluator evaluates one rule against one event.
type Evaluator interface {
	Evaluate(ctx context.Context, event *models.Event, rule *models.Rule) (engine.Result, error)
}

// NotificationDispatcher gates and enqueues notifications for fired rules.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, rule *models.Rule, contextKey string, event *models.Event, result engine.Result, executionID string) (models.NotificationStatus, error)
}

// Recorder persists execution records.
type Recorder interface {
	Record(ctx context.Context, rec *models.ExecutionRecord) error
}

// Handler runs the end-to-end per-event pipeline.
type Handler struct {
	idempotency Idempotency
	contexts    ContextAppender
	rules       RuleMatcher
	evaluator   Evaluator
	dispatcher  NotificationDispatcher
	recorder    Recorder
	reporter    *metrics.Reporter
	now         func() time.Time
}

// NewHandler creates an event handler. reporter may be nil.
func NewHandler(
	idempotency Idempotency,
	contexts ContextAppender,
	rules RuleMatcher,
	evaluator Evaluator,
	dispatcher NotificationDispatcher,
	recorder Recorder,
	reporter *metrics.Reporter,
) *Handler {
	return &Handler{
		idempotency: idempotency,
		contexts:    contexts,
		rules:       rules,
		evaluator:   evaluator,
		dispatcher:  dispatcher,
		recorder:    recorder,
		reporter:    reporter,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent processes one event. A nil return acknowledges the broker
// message; an error nacks it for redelivery. Per-rule failures never bubble
// up: a failing rule logs and the remaining rules still run.
func (h *Handler) HandleEvent(ctx context.Context, event *models.Event) error {
	started := h.now()
	metrics.EventsReceived.WithLabelValues(event.EventType).Inc()
	if h.reporter != nil {
		h.reporter.RecordEventReceived()
	}

	slog.Info("Processing event",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"context_key", event.ContextKey,
	)

	// Store operations get a brief retry before the failure surfaces as a
	// nack; a wedged Redis should requeue the message, not drop it.
	storeRetry := retry.DefaultConfig()

	// Step 1: idempotency. A duplicate is acknowledged silently.
	var fresh bool
	err := retry.WithRetry(ctx, storeRetry, "mark_processed", func() error {
		var err error
		fresh, err = h.idempotency.MarkProcessed(ctx, event.EventID)
		return err
	})
	if err != nil {
		return fmt.Errorf("idempotency check for %s: %w", event.EventID, err)
	}
	if !fresh {
		slog.Debug("Event already processed", "event_id", event.EventID)
		metrics.EventsProcessed.WithLabelValues("duplicate").Inc()
		return nil
	}

	// Step 2: context window update.
	err = retry.WithRetry(ctx, storeRetry, "context_append", func() error {
		return h.contexts.Append(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("context append for %s: %w", event.ContextKey, err)
	}

	// Step 3: rule fetch, already filtered and priority-ordered.
	var matched []*models.Rule
	err = retry.WithRetry(ctx, storeRetry, "rule_match", func() error {
		var err error
		matched, err = h.rules.Match(ctx, event.EventType, event.ContextKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("rule match for %s: %w", event.EventType, err)
	}
	if len(matched) == 0 {
		slog.Debug("No rules match event type", "event_type", event.EventType)
		metrics.EventsProcessed.WithLabelValues("no_rules").Inc()
		return nil
	}

	// Steps 4-5: evaluate each rule in priority order; every fire enqueues.
	for _, rule := range matched {
		h.evaluateRule(ctx, event, rule)
	}

	elapsed := h.now().Sub(started)
	metrics.EventsProcessed.WithLabelValues("ok").Inc()
	metrics.EventLatency.Observe(elapsed.Seconds())
	if h.reporter != nil {
		h.reporter.RecordEventProcessed()
	}

	slog.Info("Event processing complete",
		"event_id", event.EventID,
		"rules_evaluated", len(matched),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return nil
}

// evaluateRule runs a single rule and records the outcome. Failures are
// contained to the rule.
func (h *Handler) evaluateRule(ctx context.Context, event *models.Event, rule *models.Rule) {
	started := h.now()
	metrics.RulesEvaluated.WithLabelValues(string(rule.RuleConfig.NormalizedKind())).Inc()

	result, err := h.evaluator.Evaluate(ctx, event, rule)
	if err != nil {
		slog.Error("Rule evaluation failed",
			"rule_id", rule.RuleID,
			"event_id", event.EventID,
			"error", err,
		)
		if h.reporter != nil {
			h.reporter.RecordError()
		}
		return
	}

	executionID := "exec_" + uuid.NewString()[:12]
	status := models.StatusSkipped

	if result.ShouldTrigger {
		slog.Info("Rule triggered",
			"rule_id", rule.RuleID,
			"event_id", event.EventID,
			"confidence", result.Confidence,
			"reason", result.Reason,
		)
		metrics.RulesTriggered.WithLabelValues(rule.RuleID).Inc()

		status, err = h.dispatcher.Dispatch(ctx, rule, event.ContextKey, event, result, executionID)
		if err != nil {
			slog.Error("Notification dispatch failed",
				"rule_id", rule.RuleID,
				"event_id", event.EventID,
				"error", err,
			)
		}
		metrics.NotificationsQueued.WithLabelValues(string(status)).Inc()
		if h.reporter != nil {
			if status == models.StatusQueued {
				h.reporter.RecordNotificationQueued()
			} else {
				h.reporter.RecordNotificationDropped()
			}
		}
	} else {
		slog.Debug("Rule not triggered",
			"rule_id", rule.RuleID,
			"event_id", event.EventID,
			"reason", result.Reason,
		)
	}

	rec := &models.ExecutionRecord{
		ExecutionID:        executionID,
		RuleID:             rule.RuleID,
		EventID:            event.EventID,
		ContextKey:         event.ContextKey,
		Triggered:          result.ShouldTrigger,
		Confidence:         result.Confidence,
		Reason:             result.Reason,
		NotificationStatus: status,
		LatencyMS:          h.now().Sub(started).Milliseconds(),
		CreatedAt:          h.now(),
	}
	if err := h.recorder.Record(ctx, rec); err != nil {
		slog.Warn("Failed to persist execution record",
			"execution_id", executionID,
			"error", err,
		)
	}
}
