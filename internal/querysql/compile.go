package querysql

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/tenantcore/internal/ir"
	"github.com/roach88/tenantcore/internal/queryir"
)

// Compiler compiles queryir predicates to parameterized SQL fragments.
//
// Values are never interpolated: every literal becomes a ? parameter.
type Compiler struct {
	Dialect Dialect
}

// NewCompiler creates a Compiler for the given dialect.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{Dialect: d}
}

// CompileFilters compiles predicates into one AND-joined fragment. No
// predicates yields an empty string and no params. Callers validate column
// names with queryir.Validate first; the compiler trusts them.
func (c *Compiler) CompileFilters(preds []queryir.Predicate) (string, []any, error) {
	if len(preds) == 0 {
		return "", nil, nil
	}
	return c.compileAnd(queryir.And{Predicates: preds})
}

// compilePredicate compiles a single predicate.
func (c *Compiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileBinary(pred.Field, "=", pred.Value)
	case queryir.NotEquals:
		return c.compileBinary(pred.Field, "<>", pred.Value)
	case queryir.Compare:
		if !pred.Op.Valid() {
			return "", nil, fmt.Errorf("unsupported operator %q", pred.Op)
		}
		return c.compileBinary(pred.Field, string(pred.Op), pred.Value)
	case queryir.In:
		return c.compileIn(pred)
	case queryir.IsNull:
		return pred.Field + " IS NULL", nil, nil
	case queryir.NotNull:
		return pred.Field + " IS NOT NULL", nil, nil
	case queryir.HasPrefix:
		// substr counts characters in both dialects; LIKE would be case
		// insensitive on SQLite and needs wildcard escaping.
		sql := fmt.Sprintf("substr(%s, 1, ?) = ?", pred.Field)
		return sql, []any{int64(utf8.RuneCountInString(pred.Prefix)), pred.Prefix}, nil
	case queryir.And:
		return c.compileAnd(pred)
	case nil:
		return "", nil, fmt.Errorf("cannot compile nil predicate")
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileBinary compiles "field <op> ?".
func (c *Compiler) compileBinary(field, op string, v ir.IRValue) (string, []any, error) {
	param, err := ir.ToParam(v)
	if err != nil {
		return "", nil, fmt.Errorf("field %s: %w", field, err)
	}
	return fmt.Sprintf("%s %s ?", field, op), []any{param}, nil
}

func (c *Compiler) compileIn(in queryir.In) (string, []any, error) {
	if len(in.Values) == 0 {
		return "1 = 0", nil, nil
	}
	marks := make([]string, len(in.Values))
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		param, err := ir.ToParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("field %s: %w", in.Field, err)
		}
		marks[i] = "?"
		params[i] = param
	}
	return fmt.Sprintf("%s IN (%s)", in.Field, strings.Join(marks, ", ")), params, nil
}

// compileAnd compiles a conjunction. Nested conjunctions are parenthesized.
func (c *Compiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		if _, nested := pred.(queryir.And); nested && len(pred.(queryir.And).Predicates) > 1 {
			sql = "(" + sql + ")"
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}
	return strings.Join(sqlParts, " AND "), allParams, nil
}
