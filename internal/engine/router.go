package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aixtrade/LLMTrigger/internal/expr"
	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// Router dispatches a matched (event, rule) pair to the engine composition
// the rule kind requires.
type Router struct {
	trigger TriggerDecider
	llm     LLMEvaluator
	context ContextReader
}

// NewRouter creates a router over the given engines.
func NewRouter(trigger TriggerDecider, llm LLMEvaluator, contextReader ContextReader) *Router {
	return &Router{
		trigger: trigger,
		llm:     llm,
		context: contextReader,
	}
}

// Evaluate routes the rule by kind and returns the evaluation result. An
// expression failure degrades to a non-fire for this rule only; the error is
// logged with its kind and never aborts sibling rules.
func (r *Router) Evaluate(ctx context.Context, event *models.Event, rule *models.Rule) (Result, error) {
	switch rule.RuleConfig.NormalizedKind() {
	case models.KindExpression:
		return r.evaluateExpression(event, rule), nil
	case models.KindLLM:
		return r.evaluateLLM(ctx, event, rule)
	case models.KindHybrid:
		pre := r.evaluateExpression(event, rule)
		if !pre.ShouldTrigger {
			return Result{Reason: "Pre-filter: " + pre.Reason}, nil
		}
		return r.evaluateLLM(ctx, event, rule)
	default:
		slog.Warn("Unknown rule kind",
			"rule_id", rule.RuleID,
			"kind", rule.RuleConfig.Kind,
		)
		return Result{Reason: fmt.Sprintf("Unknown rule kind: %s", rule.RuleConfig.Kind)}, nil
	}
}

func (r *Router) evaluateExpression(event *models.Event, rule *models.Rule) Result {
	pf := rule.RuleConfig.PreFilter
	if pf == nil || pf.Expression == "" {
		return Result{Reason: "Missing pre-filter expression"}
	}

	matched, err := EvaluateExpression(pf.Expression, event.Data)
	if err != nil {
		var exprErr *expr.Error
		kind := "error"
		if errors.As(err, &exprErr) {
			kind = string(exprErr.Kind)
		}
		slog.Warn("Expression evaluation failed",
			"rule_id", rule.RuleID,
			"event_id", event.EventID,
			"error_kind", kind,
			"error", err,
		)
		return Result{Reason: "expression_error:" + kind}
	}

	if matched {
		return Result{ShouldTrigger: true, Confidence: 1.0, Reason: "Expression matched"}
	}
	return Result{Reason: "Expression not matched"}
}

func (r *Router) evaluateLLM(ctx context.Context, event *models.Event, rule *models.Rule) (Result, error) {
	decision, err := r.trigger.Decide(ctx, rule, event)
	if err != nil {
		return Result{}, fmt.Errorf("trigger mode decision for rule %s: %w", rule.RuleID, err)
	}

	switch decision.Decision {
	case DecisionSkip, DecisionPending:
		return Result{Reason: decision.Reason}, nil
	case DecisionTrigger:
		// Fall through to inference.
	default:
		return Result{Reason: "Unknown trigger decision"}, nil
	}

	window, err := r.context.Events(ctx, event.ContextKey)
	if err != nil {
		return Result{}, fmt.Errorf("context read for %s: %w", event.ContextKey, err)
	}

	var result Result
	if decision.BatchEvents != nil {
		result = r.llm.EvaluateBatch(ctx, rule, decision.BatchEvents, window)
	} else {
		result = r.llm.Evaluate(ctx, rule, event, window)
	}

	if err := r.trigger.MarkAnalyzed(ctx, rule, event.ContextKey); err != nil {
		slog.Warn("Failed to record analysis time",
			"rule_id", rule.RuleID,
			"context_key", event.ContextKey,
			"error", err,
		)
	}
	return result, nil
}
