package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/engine"
	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// StateStore persists trigger-mode state in shared storage. All mutations
// must be atomic server-side so multiple workers can share the state without
// split-brain.
type StateStore interface {
	AppendBatch(ctx context.Context, ruleID string, event *models.Event, maxWait time.Duration) (int64, error)
	BatchSince(ctx context.Context, ruleID, contextKey string) (time.Time, bool, error)
	FlushBatch(ctx context.Context, ruleID, contextKey string) ([]models.Event, error)
	LastAnalysis(ctx context.Context, ruleID, contextKey string) (time.Time, bool, error)
	SetLastAnalysis(ctx context.Context, ruleID, contextKey string, at time.Time) error
	TryAcquireIntervalLock(ctx context.Context, ruleID string, ttl time.Duration) (bool, error)
	ReleaseIntervalLock(ctx context.Context, ruleID string) error
}

// TriggerManager implements the three trigger-mode state machines over a
// shared state store.
type TriggerManager struct {
	store StateStore
	now   func() time.Time
}

// NewTriggerManager creates a trigger manager over the given store.
func NewTriggerManager(store StateStore) *TriggerManager {
	return &TriggerManager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Decide determines whether the event should skip, pend, or trigger LLM
// analysis for the rule.
func (m *TriggerManager) Decide(ctx context.Context, rule *models.Rule, event *models.Event) (engine.TriggerResult, error) {
	cfg := rule.RuleConfig.LLMConfig
	if cfg == nil {
		return engine.TriggerResult{Decision: engine.DecisionSkip, Reason: "No LLM config"}, nil
	}

	switch cfg.TriggerMode {
	case models.ModeRealtime:
		return engine.TriggerResult{
			Decision: engine.DecisionTrigger,
			Reason:   "Realtime mode: analyze every event",
		}, nil
	case models.ModeBatch:
		return m.decideBatch(ctx, rule, event, cfg)
	case models.ModeInterval:
		return m.decideInterval(ctx, rule, event, cfg)
	default:
		slog.Warn("Unknown trigger mode, falling back to realtime",
			"rule_id", rule.RuleID,
			"mode", cfg.TriggerMode,
		)
		return engine.TriggerResult{
			Decision: engine.DecisionTrigger,
			Reason:   fmt.Sprintf("Unknown mode %s, falling back to realtime", cfg.TriggerMode),
		}, nil
	}
}

// MarkAnalyzed records a completed analysis: the last-analysis timestamp for
// interval pacing, and lock release so the next interval can fire.
func (m *TriggerManager) MarkAnalyzed(ctx context.Context, rule *models.Rule, contextKey string) error {
	cfg := rule.RuleConfig.LLMConfig
	if cfg == nil {
		return nil
	}
	if err := m.store.SetLastAnalysis(ctx, rule.RuleID, contextKey, m.now()); err != nil {
		return err
	}
	if cfg.TriggerMode == models.ModeInterval {
		return m.store.ReleaseIntervalLock(ctx, rule.RuleID)
	}
	return nil
}

// decideBatch accumulates the event, flushing when the batch fills or the
// oldest entry has waited past max_wait_seconds. The flush is an atomic
// snapshot-and-clear, so concurrent workers race for the whole batch and
// the loser just keeps accumulating.
func (m *TriggerManager) decideBatch(ctx context.Context, rule *models.Rule, event *models.Event, cfg *models.LLMConfig) (engine.TriggerResult, error) {
	maxWait := time.Duration(cfg.MaxWaitSeconds) * time.Second

	size, err := m.store.AppendBatch(ctx, rule.RuleID, event, maxWait)
	if err != nil {
		return engine.TriggerResult{}, err
	}

	if size >= int64(cfg.BatchSize) {
		batch, err := m.store.FlushBatch(ctx, rule.RuleID, event.ContextKey)
		if err != nil {
			return engine.TriggerResult{}, err
		}
		if len(batch) == 0 {
			// Another worker flushed first; this event went with it.
			return engine.TriggerResult{
				Decision: engine.DecisionPending,
				Reason:   "Batch flushed by a concurrent worker",
			}, nil
		}
		return engine.TriggerResult{
			Decision:    engine.DecisionTrigger,
			Reason:      fmt.Sprintf("Batch full: %d/%d events", len(batch), cfg.BatchSize),
			BatchEvents: batch,
		}, nil
	}

	since, ok, err := m.store.BatchSince(ctx, rule.RuleID, event.ContextKey)
	if err != nil {
		return engine.TriggerResult{}, err
	}
	if ok {
		elapsed := m.now().Sub(since)
		if elapsed >= maxWait {
			batch, err := m.store.FlushBatch(ctx, rule.RuleID, event.ContextKey)
			if err != nil {
				return engine.TriggerResult{}, err
			}
			if len(batch) == 0 {
				return engine.TriggerResult{
					Decision: engine.DecisionPending,
					Reason:   "Batch flushed by a concurrent worker",
				}, nil
			}
			return engine.TriggerResult{
				Decision:    engine.DecisionTrigger,
				Reason:      fmt.Sprintf("Batch timeout: %.1fs >= %ds", elapsed.Seconds(), cfg.MaxWaitSeconds),
				BatchEvents: batch,
			}, nil
		}
	}

	return engine.TriggerResult{
		Decision: engine.DecisionPending,
		Reason:   fmt.Sprintf("Batch pending: %d/%d events", size, cfg.BatchSize),
	}, nil
}

// decideInterval fires at most once per interval for each (rule, context key)
// pair; a per-rule advisory lock lets a single worker win each fire.
func (m *TriggerManager) decideInterval(ctx context.Context, rule *models.Rule, event *models.Event, cfg *models.LLMConfig) (engine.TriggerResult, error) {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second

	last, ok, err := m.store.LastAnalysis(ctx, rule.RuleID, event.ContextKey)
	if err != nil {
		return engine.TriggerResult{}, err
	}
	if ok {
		elapsed := m.now().Sub(last)
		if elapsed < interval {
			return engine.TriggerResult{
				Decision: engine.DecisionSkip,
				Reason:   fmt.Sprintf("Interval not reached: %.1fs < %ds", elapsed.Seconds(), cfg.IntervalSeconds),
			}, nil
		}
	}

	acquired, err := m.store.TryAcquireIntervalLock(ctx, rule.RuleID, interval)
	if err != nil {
		return engine.TriggerResult{}, err
	}
	if !acquired {
		return engine.TriggerResult{
			Decision: engine.DecisionSkip,
			Reason:   "Interval analysis already in progress",
		}, nil
	}

	return engine.TriggerResult{
		Decision: engine.DecisionTrigger,
		Reason:   fmt.Sprintf("Interval reached: analyzing at %ds interval", cfg.IntervalSeconds),
	}, nil
}
