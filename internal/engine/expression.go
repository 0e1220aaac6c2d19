package engine

import (
	"fmt"

	"github.com/Aixtrade/LLMTrigger/internal/expr"
)

// Flatten flattens nested event data for expression evaluation. Nested maps
// are joined with "_" and leaf keys stay addressable directly, so both
// "metrics_cpu" and "cpu" resolve for {"metrics": {"cpu": 0.9}}.
func Flatten(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	flattenInto(out, "", data)
	return out
}

func flattenInto(out map[string]any, prefix string, data map[string]any) {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
		if prefix != "" {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
}

// EvaluateExpression evaluates a pre-filter expression against event data.
// Errors are returned, never swallowed; the caller decides how a failing
// rule degrades.
func EvaluateExpression(expression string, data map[string]any) (bool, error) {
	result, err := expr.Evaluate(expression, Flatten(data))
	if err != nil {
		return false, fmt.Errorf("expression %q: %w", expression, err)
	}
	return result, nil
}
