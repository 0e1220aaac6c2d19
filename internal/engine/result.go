// Package engine evaluates events against rules. The router dispatches each
// rule to the engine composition its kind requires: the expression engine,
// the LLM engine behind a trigger-mode decision, or both in sequence.
package engine

import (
	"context"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// Result is the outcome of evaluating one rule against one event.
type Result struct {
	ShouldTrigger bool
	Confidence    float64
	Reason        string
}

// TriggerDecision says what the trigger-mode controller decided for an event.
type TriggerDecision string

const (
	DecisionTrigger TriggerDecision = "trigger"
	DecisionSkip    TriggerDecision = "skip"
	DecisionPending TriggerDecision = "pending"
)

// TriggerResult carries the decision plus, for batch flushes, the
// accumulated events that form the analysis payload.
type TriggerResult struct {
	Decision    TriggerDecision
	Reason      string
	BatchEvents []models.Event
}

// TriggerDecider is the trigger-mode controller consulted before LLM
// inference runs.
type TriggerDecider interface {
	Decide(ctx context.Context, rule *models.Rule, event *models.Event) (TriggerResult, error)
	MarkAnalyzed(ctx context.Context, rule *models.Rule, contextKey string) error
}

// LLMEvaluator runs LLM inference over a rule, its analysis payload and the
// context window.
type LLMEvaluator interface {
	// Evaluate analyzes a single current event against the window.
	Evaluate(ctx context.Context, rule *models.Rule, event *models.Event, window []models.Event) Result
	// EvaluateBatch analyzes a flushed batch (may be empty for clock-driven
	// interval analyses) against the window.
	EvaluateBatch(ctx context.Context, rule *models.Rule, batch []models.Event, window []models.Event) Result
}

// ContextReader reads a context window for LLM input.
type ContextReader interface {
	Events(ctx context.Context, contextKey string) ([]models.Event, error)
}
