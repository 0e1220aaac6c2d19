package expr

import (
	"fmt"
	"math"
	"sync"
)

var (
	astCacheMu sync.RWMutex
	astCache   = map[string]Node{}
)

// Evaluate parses (with caching) and evaluates an expression against the
// given variable map, coercing the result to a boolean.
func Evaluate(expression string, vars map[string]any) (bool, error) {
	node, err := cachedParse(expression)
	if err != nil {
		return false, err
	}
	result, err := eval(node, vars)
	if err != nil {
		return false, err
	}
	return truthy(result), nil
}

// Validate reports whether the expression parses under the closed grammar.
func Validate(expression string) error {
	_, err := cachedParse(expression)
	return err
}

func cachedParse(expression string) (Node, error) {
	astCacheMu.RLock()
	node, ok := astCache[expression]
	astCacheMu.RUnlock()
	if ok {
		return node, nil
	}

	node, err := Parse(expression)
	if err != nil {
		return nil, err
	}

	astCacheMu.Lock()
	astCache[expression] = node
	astCacheMu.Unlock()
	return node, nil
}

func eval(node Node, vars map[string]any) (any, error) {
	switch n := node.(type) {
	case *LiteralNode:
		return n.Value, nil

	case *NameNode:
		v, ok := vars[n.Name]
		if !ok {
			return nil, &Error{Kind: ErrUnknownName, Msg: fmt.Sprintf("unknown name %q", n.Name)}
		}
		return normalize(v), nil

	case *ListNode:
		elems := make([]any, 0, len(n.Elems))
		for _, e := range n.Elems {
			v, err := eval(e, vars)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		return elems, nil

	case *NegNode:
		v, err := eval(n.Expr, vars)
		if err != nil {
			return nil, err
		}
		f, ok := toFloat64(v)
		if !ok {
			return nil, &Error{Kind: ErrType, Msg: fmt.Sprintf("unary - requires a number, got %T", v)}
		}
		return -f, nil

	case *NotNode:
		v, err := eval(n.Expr, vars)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil

	case *LogicalNode:
		left, err := eval(n.Left, vars)
		if err != nil {
			return nil, err
		}
		// Short-circuit; the untaken branch is never evaluated.
		if n.Op == "and" {
			if !truthy(left) {
				return false, nil
			}
		} else {
			if truthy(left) {
				return true, nil
			}
		}
		right, err := eval(n.Right, vars)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil

	case *ArithNode:
		return evalArith(n, vars)

	case *CompareNode:
		return evalCompare(n, vars)
	}
	return nil, &Error{Kind: ErrType, Msg: fmt.Sprintf("unsupported node %T", node)}
}

func evalArith(n *ArithNode, vars map[string]any) (any, error) {
	left, err := eval(n.Left, vars)
	if err != nil {
		return nil, err
	}
	right, err := eval(n.Right, vars)
	if err != nil {
		return nil, err
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, &Error{Kind: ErrType, Msg: fmt.Sprintf("operator %s requires numeric operands, got %T and %T", n.Op, left, right)}
	}

	switch n.Op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, &Error{Kind: ErrDivByZero, Msg: "division by zero"}
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, &Error{Kind: ErrDivByZero, Msg: "modulo by zero"}
		}
		return math.Mod(lf, rf), nil
	}
	return nil, &Error{Kind: ErrType, Msg: fmt.Sprintf("unknown arithmetic operator %q", n.Op)}
}

func evalCompare(n *CompareNode, vars map[string]any) (any, error) {
	left, err := eval(n.Left, vars)
	if err != nil {
		return nil, err
	}
	right, err := eval(n.Right, vars)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case ">", ">=", "<", "<=":
		return ordered(n.Op, left, right)
	case "in":
		return membership(left, right)
	}
	return nil, &Error{Kind: ErrType, Msg: fmt.Sprintf("unknown comparison operator %q", n.Op)}
}

// equal compares by value; numeric types are coerced, mismatched families
// compare unequal rather than erroring.
func equal(left, right any) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	if ls, ok := left.(string); ok {
		rs, ok := right.(string)
		return ok && ls == rs
	}
	return false
}

func ordered(op string, left, right any) (bool, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		switch op {
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}
	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		}
	}
	return false, &Error{Kind: ErrType, Msg: fmt.Sprintf("operator %s requires two numbers or two strings, got %T and %T", op, left, right)}
}

func membership(left, right any) (bool, error) {
	switch container := right.(type) {
	case []any:
		for _, elem := range container {
			if equal(left, elem) {
				return true, nil
			}
		}
		return false, nil
	case string:
		ls, ok := left.(string)
		if !ok {
			return false, &Error{Kind: ErrType, Msg: fmt.Sprintf("in: left operand must be a string for string containers, got %T", left)}
		}
		return contains(container, ls), nil
	}
	return false, &Error{Kind: ErrType, Msg: fmt.Sprintf("in: container must be a list or string, got %T", right)}
}

func contains(s, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// toFloat64 coerces a numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// normalize converts JSON-decoded values to the interpreter's value set.
func normalize(v any) any {
	if f, ok := toFloat64(v); ok {
		if _, isBool := v.(bool); !isBool {
			return f
		}
	}
	switch s := v.(type) {
	case []any:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	}
	return v
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case nil:
		return false
	}
	return true
}
