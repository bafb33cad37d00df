package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/tenantcore/internal/errs"
	"github.com/roach88/tenantcore/internal/ir"
)

// Where builds a predicate from an operator name, for callers that receive
// filters as data (query strings, scenario files).
//
// Operators: eq, ne, lt, lte, gt, gte, in, is_null, not_null, prefix.
// value is converted with ir.FromGo; "in" requires a list and "prefix" a
// string. is_null and not_null ignore value.
func Where(field, op string, value any) (Predicate, error) {
	op = strings.ToLower(strings.TrimSpace(op))

	switch op {
	case "is_null":
		return IsNull{Field: field}, nil
	case "not_null":
		return NotNull{Field: field}, nil
	}

	v, err := ir.FromGo(value)
	if err != nil {
		return nil, errs.InvalidArgumentf("invalid_filter_value", "field %q: %v", field, err)
	}

	switch op {
	case "eq", "=":
		return Equals{Field: field, Value: v}, nil
	case "ne", "!=", "<>":
		return NotEquals{Field: field, Value: v}, nil
	case "lt", "<":
		return Compare{Field: field, Op: Lt, Value: v}, nil
	case "lte", "<=":
		return Compare{Field: field, Op: Lte, Value: v}, nil
	case "gt", ">":
		return Compare{Field: field, Op: Gt, Value: v}, nil
	case "gte", ">=":
		return Compare{Field: field, Op: Gte, Value: v}, nil
	case "in":
		arr, ok := v.(ir.IRArray)
		if !ok {
			return nil, errs.InvalidArgumentf("invalid_filter_value", "field %q: in requires a list", field)
		}
		return In{Field: field, Values: []ir.IRValue(arr)}, nil
	case "prefix":
		s, ok := v.(ir.IRString)
		if !ok {
			return nil, errs.InvalidArgumentf("invalid_filter_value", "field %q: prefix requires a string", field)
		}
		return HasPrefix{Field: field, Prefix: string(s)}, nil
	default:
		return nil, errs.InvalidArgumentf("invalid_operator", "unknown operator %q", op)
	}
}

// String renders a predicate for logs and error messages.
func String(p Predicate) string {
	switch pred := p.(type) {
	case Equals:
		return fmt.Sprintf("%s = %s", pred.Field, literal(pred.Value))
	case NotEquals:
		return fmt.Sprintf("%s <> %s", pred.Field, literal(pred.Value))
	case Compare:
		return fmt.Sprintf("%s %s %s", pred.Field, pred.Op, literal(pred.Value))
	case In:
		parts := make([]string, len(pred.Values))
		for i, v := range pred.Values {
			parts[i] = literal(v)
		}
		return fmt.Sprintf("%s IN (%s)", pred.Field, strings.Join(parts, ", "))
	case IsNull:
		return pred.Field + " IS NULL"
	case NotNull:
		return pred.Field + " IS NOT NULL"
	case HasPrefix:
		return fmt.Sprintf("%s PREFIX %q", pred.Field, pred.Prefix)
	case And:
		parts := make([]string, len(pred.Predicates))
		for i, sub := range pred.Predicates {
			parts[i] = String(sub)
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("<%T>", p)
	}
}

func literal(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return "?"
	}
	return string(b)
}
