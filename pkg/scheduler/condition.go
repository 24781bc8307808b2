package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maestro-ai/maestro/pkg/models"
)

// Condition is a parsed loop exit check: a dotted field path, an
// optional comparator, and a literal. A bare field path checks presence.
// The comparator set is closed: <, <=, >, >=, ==, !=.
type Condition struct {
	Field    string
	Operator string
	Literal  string
}

var comparators = []string{"<=", ">=", "==", "!=", "<", ">"}

// ParseCondition parses expressions like "accuracy > 0.9",
// "status == success", or "result.done".
func ParseCondition(expr string) (*Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	for _, op := range comparators {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}
		field := strings.TrimSpace(expr[:idx])
		literal := strings.TrimSpace(expr[idx+len(op):])
		if field == "" || literal == "" {
			return nil, fmt.Errorf("malformed condition %q", expr)
		}
		return &Condition{Field: field, Operator: op, Literal: literal}, nil
	}

	if strings.ContainsAny(expr, " \t") {
		return nil, fmt.Errorf("malformed condition %q", expr)
	}
	return &Condition{Field: expr}, nil
}

// Evaluate checks the condition against the aggregated iteration fields.
// The boolean reports satisfaction; ok is false when the field is absent
// or not comparable, which callers treat as not-met with a warning.
func (c *Condition) Evaluate(fields map[string]any) (met bool, ok bool) {
	value, found := lookupField(fields, c.Field)
	if c.Operator == "" {
		return found, true
	}
	if !found {
		return false, false
	}

	if lhs, lok := toFloat(value); lok {
		if rhs, rok := toFloat(c.Literal); rok {
			return compareFloats(lhs, rhs, c.Operator), true
		}
	}

	// Fall back to string equality for non-numeric operands.
	switch c.Operator {
	case "==":
		return fmt.Sprintf("%v", value) == c.Literal, true
	case "!=":
		return fmt.Sprintf("%v", value) != c.Literal, true
	default:
		return false, false
	}
}

// aggregateFields merges the payloads of one iteration's results into a
// single field map for condition evaluation. Later agents win key
// collisions; the overall status is exposed as "status".
func aggregateFields(results []models.AgentResult) map[string]any {
	fields := make(map[string]any)
	status := "success"
	for _, ar := range results {
		if ar.Result == nil {
			continue
		}
		for k, v := range ar.Result.Payload {
			fields[k] = v
		}
		if ar.Result.Status != models.InvocationSuccess {
			status = string(ar.Result.Status)
		}
	}
	fields["status"] = status
	return fields
}

func lookupField(fields map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = fields
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compareFloats(lhs, rhs float64, op string) bool {
	switch op {
	case "<":
		return lhs < rhs
	case "<=":
		return lhs <= rhs
	case ">":
		return lhs > rhs
	case ">=":
		return lhs >= rhs
	case "==":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	}
	return false
}
