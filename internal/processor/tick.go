package processor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Aixtrade/LLMTrigger/internal/engine"
	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// tickEventID marks execution records produced by clock-driven analyses.
const tickEventID = "tick"

// ActiveRules lists the enabled rules the sweep examines.
type ActiveRules interface {
	Active(ctx context.Context) ([]*models.Rule, error)
}

// SweepStore is the trigger-mode state the sweep reads. Flushes and locks
// are atomic server-side, so concurrent ticks from multiple workers each
// win at most once.
type SweepStore interface {
	PendingBatchContexts(ctx context.Context, ruleID string) ([]string, error)
	BatchSince(ctx context.Context, ruleID, contextKey string) (time.Time, bool, error)
	FlushBatch(ctx context.Context, ruleID, contextKey string) ([]models.Event, error)
	LastAnalysis(ctx context.Context, ruleID, contextKey string) (time.Time, bool, error)
	AnalyzedContexts(ctx context.Context, ruleID string) ([]string, error)
	TryAcquireIntervalLock(ctx context.Context, ruleID string, ttl time.Duration) (bool, error)
}

// Tick sweeps trigger-mode state on a fixed schedule: batch accumulators
// whose max_wait expired with no new event, and interval rules whose clocks
// elapsed while their context keys stayed quiet.
type Tick struct {
	rules      ActiveRules
	state      SweepStore
	trigger    engine.TriggerDecider
	llm        engine.LLMEvaluator
	contexts   engine.ContextReader
	dispatcher NotificationDispatcher
	recorder   Recorder
	now        func() time.Time
}

// NewTick creates the periodic sweeper.
func NewTick(
	rules ActiveRules,
	state SweepStore,
	trigger engine.TriggerDecider,
	llm engine.LLMEvaluator,
	contexts engine.ContextReader,
	dispatcher NotificationDispatcher,
	recorder Recorder,
) *Tick {
	return &Tick{
		rules:      rules,
		state:      state,
		trigger:    trigger,
		llm:        llm,
		contexts:   contexts,
		dispatcher: dispatcher,
		recorder:   recorder,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep every interval until ctx is cancelled.
func (t *Tick) Start(ctx context.Context, every time.Duration) *cron.Cron {
	scheduler := cron.New()
	scheduler.Schedule(cron.Every(every), cron.FuncJob(func() {
		t.Sweep(ctx)
	}))
	scheduler.Start()

	go func() {
		<-ctx.Done()
		scheduler.Stop()
		slog.Info("Periodic tick stopped")
	}()
	return scheduler
}

// Sweep runs one pass over the active rule set.
func (t *Tick) Sweep(ctx context.Context) {
	active, err := t.rules.Active(ctx)
	if err != nil {
		slog.Error("Tick failed to list rules", "error", err)
		return
	}

	for _, rule := range active {
		cfg := rule.RuleConfig.LLMConfig
		if cfg == nil {
			continue
		}
		switch cfg.TriggerMode {
		case models.ModeBatch:
			t.sweepBatch(ctx, rule, cfg)
		case models.ModeInterval:
			t.sweepInterval(ctx, rule, cfg)
		}
	}
}

// sweepBatch flushes accumulators whose max_wait expired without a new
// event arriving to trip the timeout check.
func (t *Tick) sweepBatch(ctx context.Context, rule *models.Rule, cfg *models.LLMConfig) {
	contextKeys, err := t.state.PendingBatchContexts(ctx, rule.RuleID)
	if err != nil {
		slog.Error("Batch sweep failed", "rule_id", rule.RuleID, "error", err)
		return
	}

	maxWait := time.Duration(cfg.MaxWaitSeconds) * time.Second
	for _, contextKey := range contextKeys {
		since, ok, err := t.state.BatchSince(ctx, rule.RuleID, contextKey)
		if err != nil || !ok {
			continue
		}
		if t.now().Sub(since) < maxWait {
			continue
		}

		batch, err := t.state.FlushBatch(ctx, rule.RuleID, contextKey)
		if err != nil {
			slog.Error("Batch flush failed",
				"rule_id", rule.RuleID,
				"context_key", contextKey,
				"error", err,
			)
			continue
		}
		if len(batch) == 0 {
			continue // another worker's tick won the flush
		}

		slog.Info("Batch timeout flush",
			"rule_id", rule.RuleID,
			"context_key", contextKey,
			"batch_size", len(batch),
		)
		t.analyze(ctx, rule, contextKey, batch)
	}
}

// sweepInterval fires analyses for interval rules whose clocks elapsed even
// when no event arrived, so empty-window reports still go out.
func (t *Tick) sweepInterval(ctx context.Context, rule *models.Rule, cfg *models.LLMConfig) {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second

	for _, contextKey := range t.intervalContexts(ctx, rule) {
		last, ok, err := t.state.LastAnalysis(ctx, rule.RuleID, contextKey)
		if err != nil {
			continue
		}
		if ok && t.now().Sub(last) < interval {
			continue
		}

		acquired, err := t.state.TryAcquireIntervalLock(ctx, rule.RuleID, interval)
		if err != nil || !acquired {
			continue
		}

		slog.Info("Interval clock fire",
			"rule_id", rule.RuleID,
			"context_key", contextKey,
		)
		t.analyze(ctx, rule, contextKey, nil)
	}
}

// intervalContexts collects the context keys an interval rule watches: keys
// it has analyzed before plus any literal (wildcard-free) configured keys.
func (t *Tick) intervalContexts(ctx context.Context, rule *models.Rule) []string {
	seen := map[string]bool{}
	var keys []string

	analyzed, err := t.state.AnalyzedContexts(ctx, rule.RuleID)
	if err != nil {
		slog.Error("Interval sweep failed", "rule_id", rule.RuleID, "error", err)
	} else {
		for _, key := range analyzed {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}

	for _, pattern := range rule.ContextKeys {
		if strings.Contains(pattern, "*") {
			continue
		}
		if !seen[pattern] {
			seen[pattern] = true
			keys = append(keys, pattern)
		}
	}
	return keys
}

// analyze runs an LLM evaluation outside the event path and dispatches on
// fire. batch is nil for interval clock fires.
func (t *Tick) analyze(ctx context.Context, rule *models.Rule, contextKey string, batch []models.Event) {
	window, err := t.contexts.Events(ctx, contextKey)
	if err != nil {
		slog.Error("Context read failed",
			"rule_id", rule.RuleID,
			"context_key", contextKey,
			"error", err,
		)
		return
	}

	started := t.now()
	result := t.llm.EvaluateBatch(ctx, rule, batch, window)

	if err := t.trigger.MarkAnalyzed(ctx, rule, contextKey); err != nil {
		slog.Warn("Failed to record analysis time",
			"rule_id", rule.RuleID,
			"context_key", contextKey,
			"error", err,
		)
	}

	executionID := "exec_" + uuid.NewString()[:12]
	status := models.StatusSkipped
	eventID := tickEventID

	var representative *models.Event
	if len(batch) > 0 {
		representative = &batch[len(batch)-1]
		eventID = representative.EventID
	}

	if result.ShouldTrigger {
		status, err = t.dispatcher.Dispatch(ctx, rule, contextKey, representative, result, executionID)
		if err != nil {
			slog.Error("Notification dispatch failed",
				"rule_id", rule.RuleID,
				"context_key", contextKey,
				"error", err,
			)
		}
	}

	rec := &models.ExecutionRecord{
		ExecutionID:        executionID,
		RuleID:             rule.RuleID,
		EventID:            eventID,
		ContextKey:         contextKey,
		Triggered:          result.ShouldTrigger,
		Confidence:         result.Confidence,
		Reason:             result.Reason,
		NotificationStatus: status,
		LatencyMS:          t.now().Sub(started).Milliseconds(),
		CreatedAt:          t.now(),
	}
	if err := t.recorder.Record(ctx, rec); err != nil {
		slog.Warn("Failed to persist execution record",
			"execution_id", executionID,
			"error", err,
		)
	}
}
