package repository

import (
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/roach88/tenantcore/internal/querysql"
)

// Column maps one domain column to a field of T.
type Column[T any] struct {
	Name string

	filter bool

	// value returns the field value to write.
	value func(*T) any
	// dest returns a scan destination pointing into T.
	dest func(*T) any
	// coerce converts an assigned value to the field type.
	coerce func(any) (any, bool)
	// check, when set, validates every value written to the column.
	check func(any) error
}

// Col declares a column backed by the field field returns. Nullable columns
// use pointer fields (*string, *int64).
//
// Values assigned to the column in an update must convert to V without loss:
// any integer for an int64 field, a string or nil for a *string field.
func Col[T, V any](name string, field func(*T) *V) Column[T] {
	return Column[T]{
		Name:   name,
		value:  func(t *T) any { return *field(t) },
		dest:   func(t *T) any { return field(t) },
		coerce: coerceTo[V],
	}
}

// Check attaches a validation to c that Create and Update run before any
// statement. V must be the column's field type.
func Check[T, V any](c Column[T], fn func(V) error) Column[T] {
	name := c.Name
	c.check = func(v any) error {
		x, ok := v.(V)
		if !ok {
			return fmt.Errorf("column %q: check takes %T, value is %T", name, *new(V), v)
		}
		return fn(x)
	}
	return c
}

func (c Column[T]) validate(v any) error {
	if c.check == nil {
		return nil
	}
	return c.check(v)
}

// Filterable marks the column as usable in list filters.
func (c Column[T]) Filterable() Column[T] {
	c.filter = true
	return c
}

// Table describes how records of type T are stored.
type Table[T any] struct {
	// Name is the SQL table name.
	Name string
	// Entity names the record kind in errors and spans ("document").
	Entity string
	// Columns are the domain columns, in schema order.
	Columns []Column[T]
}

// Validate checks the descriptor for mistakes that would otherwise surface
// as SQL errors.
func (t Table[T]) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if t.Entity == "" {
		return fmt.Errorf("table %s: entity is required", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: at least one column is required", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		switch {
		case c.Name == "":
			return fmt.Errorf("table %s: column name is required", t.Name)
		case slices.Contains(querysql.MetaColumns, c.Name):
			return fmt.Errorf("table %s: column %q is reserved", t.Name, c.Name)
		case seen[c.Name]:
			return fmt.Errorf("table %s: duplicate column %q", t.Name, c.Name)
		case c.value == nil || c.dest == nil || c.coerce == nil:
			return fmt.Errorf("table %s: column %q must be declared with Col", t.Name, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Replace returns assignments that overwrite every domain column with the
// values in fields.
func (t Table[T]) Replace(fields T) []Assignment {
	out := make([]Assignment, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = Set(c.Name, c.value(&fields))
	}
	return out
}

func (t Table[T]) sqlTable() querysql.Table {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return querysql.Table{Name: t.Name, Columns: names}
}

func (t Table[T]) filterable() []string {
	var names []string
	for _, c := range t.Columns {
		if c.filter {
			names = append(names, c.Name)
		}
	}
	return names
}

func (t Table[T]) column(name string) (Column[T], bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column[T]{}, false
}

// Assignment sets one domain column in an update.
type Assignment struct {
	Column string
	Value  any
}

// Set builds an Assignment.
func Set(column string, value any) Assignment {
	return Assignment{Column: column, Value: value}
}

// coerceTo converts v to V. Integers convert between widths when the value
// fits, integral floats convert to integers, and pointer fields accept nil or
// their element value.
func coerceTo[V any](v any) (any, bool) {
	if x, ok := v.(V); ok {
		return x, true
	}
	t := reflect.TypeFor[V]()
	nullable := t.Kind() == reflect.Pointer
	base := t
	if nullable {
		base = t.Elem()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			rv = reflect.Value{}
		} else {
			rv = rv.Elem()
		}
	}
	if !rv.IsValid() {
		if nullable {
			return *new(V), true
		}
		return nil, false
	}

	out, ok := convertScalar(rv, base)
	if !ok {
		return nil, false
	}
	if nullable {
		p := reflect.New(base)
		p.Elem().Set(out)
		return p.Interface(), true
	}
	return out.Interface(), true
}

func convertScalar(v reflect.Value, to reflect.Type) (reflect.Value, bool) {
	out := reflect.New(to).Elem()
	switch {
	case isInt(to.Kind()):
		n, ok := asInt(v)
		if !ok || out.OverflowInt(n) {
			return out, false
		}
		out.SetInt(n)
	case isUint(to.Kind()):
		n, ok := asInt(v)
		if !ok || n < 0 || out.OverflowUint(uint64(n)) {
			return out, false
		}
		out.SetUint(uint64(n))
	case isFloat(to.Kind()):
		var f float64
		switch {
		case isInt(v.Kind()):
			f = float64(v.Int())
		case isUint(v.Kind()):
			f = float64(v.Uint())
		case isFloat(v.Kind()):
			f = v.Float()
		default:
			return out, false
		}
		if out.OverflowFloat(f) {
			return out, false
		}
		out.SetFloat(f)
	case v.Kind() == to.Kind() && v.Type().ConvertibleTo(to):
		out.Set(v.Convert(to))
	default:
		return out, false
	}
	return out, true
}

func asInt(v reflect.Value) (int64, bool) {
	switch {
	case isInt(v.Kind()):
		return v.Int(), true
	case isUint(v.Kind()):
		u := v.Uint()
		return int64(u), u <= math.MaxInt64
	case isFloat(v.Kind()):
		f := v.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
