package queryir

import (
	"slices"

	"github.com/roach88/tenantcore/internal/errs"
	"github.com/roach88/tenantcore/internal/ir"
)

// Validate checks predicates against the columns a table allows filtering
// on. It returns an INVALID_ARGUMENT error with one of these reasons:
//
//   - unknown_filter_field: a field outside allowed
//   - invalid_filter: nil predicate, bad operator, empty In, or Equals/NotEquals
//     against null
//   - invalid_filter_value: array or object literal
//
// Validate is a pure function with no side effects.
func Validate(preds []Predicate, allowed []string) error {
	v := &validator{allowed: allowed}
	for _, p := range preds {
		if err := v.validatePredicate(p); err != nil {
			return err
		}
	}
	return nil
}

// validator carries the allowed column set during traversal.
type validator struct {
	allowed []string
}

func (v *validator) checkField(field string) error {
	if !slices.Contains(v.allowed, field) {
		return errs.InvalidArgumentf("unknown_filter_field", "cannot filter on %q", field)
	}
	return nil
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) error {
	if p == nil {
		return errs.InvalidArgumentf("invalid_filter", "nil predicate")
	}
	for _, f := range p.fields() {
		if err := v.checkField(f); err != nil {
			return err
		}
	}

	switch pred := p.(type) {
	case Equals:
		return checkComparable(pred.Field, pred.Value, "=")
	case NotEquals:
		return checkComparable(pred.Field, pred.Value, "<>")
	case Compare:
		if !pred.Op.Valid() {
			return errs.InvalidArgumentf("invalid_filter", "field %q: unknown operator %q", pred.Field, pred.Op)
		}
		return checkComparable(pred.Field, pred.Value, string(pred.Op))
	case In:
		if len(pred.Values) == 0 {
			return errs.InvalidArgumentf("invalid_filter", "field %q: empty IN list", pred.Field)
		}
		for _, val := range pred.Values {
			if err := checkComparable(pred.Field, val, "IN"); err != nil {
				return err
			}
		}
	case And:
		for _, sub := range pred.Predicates {
			if err := v.validatePredicate(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkComparable(field string, val ir.IRValue, op string) error {
	switch val.(type) {
	case nil, ir.IRNull:
		return errs.InvalidArgumentf("invalid_filter", "field %q: %s null never matches, use IsNull", field, op)
	case ir.IRArray, ir.IRObject:
		return errs.InvalidArgumentf("invalid_filter_value", "field %q: %T is not a scalar", field, val)
	}
	return nil
}
