package harness

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/tenantcore/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			target := ev.Table
			if target == "" {
				target = ev.Key
			}
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", ev.Seq, ev.Op, target, ev.Outcome)
		}
	}

	return buf.String()
}

// assertTraceOrder checks if ops appear in the specified order.
// Ops don't need to be consecutive (intervening steps are allowed); each op
// is matched at its first occurrence after the previous match.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, want := range assertion.Ops {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if ev.Op == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual:   fmt.Sprintf("no %s after the previous match", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the op appears exactly the specified number of
// times, counting only events with the given outcome when one is set.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Op != assertion.Op {
			continue
		}
		if assertion.Outcome != "" && ev.Outcome != assertion.Outcome {
			continue
		}
		count++
	}

	if count != assertion.Count {
		what := assertion.Op
		if assertion.Outcome != "" {
			what += " with outcome " + assertion.Outcome
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks that exactly one row of the table matches and that
// it holds the expected column values (subset semantics).
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	where := make(map[string]any, len(assertion.Where)+2)
	maps.Copy(where, assertion.Where)
	if _, ok := where["tenant_id"]; !ok {
		where["tenant_id"] = actx.Tenant
	}
	if assertion.Ref != "" {
		id, ok := actx.Refs[assertion.Ref]
		if !ok {
			return fmt.Errorf("final_state: unknown ref %q", assertion.Ref)
		}
		where["id"] = id
	}

	whereSQL, whereArgs, err := buildWhereClause(where)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", assertion.Table, whereSQL)

	rows, err := actx.DB.QueryContext(actx.Ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actual := make(map[string]any, len(columns))
	for i, col := range columns {
		actual[col] = values[i]
	}

	for _, key := range slices.Sorted(maps.Keys(assertion.Expect)) {
		want := assertion.Expect[key]
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, want, want),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for determinism; a nil value matches NULL.
func buildWhereClause(where map[string]any) (string, []any, error) {
	keys := slices.Sorted(maps.Keys(where))
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, key+" IS NULL")
			continue
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, where[key])
	}
	return strings.Join(clauses, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := slices.Sorted(maps.Keys(where))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a scenario value with a stored or decoded one.
// YAML yields int where SQLite yields int64, and SQLite stores booleans as
// 0/1, so numbers and booleans are compared by value.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	case bool:
		switch act := actual.(type) {
		case bool:
			return exp == act
		case int64:
			return exp == (act != 0)
		}
		return false
	case float64:
		switch act := actual.(type) {
		case float64:
			return exp == act
		case int64:
			return exp == float64(act)
		}
		return false
	}

	e, ok := asInt64(expected)
	if !ok {
		return false
	}
	a, ok := asInt64(actual)
	return ok && e == a
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	DB  store.Executor
	Ctx context.Context
	// Tenant scopes final_state queries unless an assertion sets tenant_id.
	Tenant string
	// Refs maps step names to record ids.
	Refs map[string]string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.DB == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
