package queryir

import "github.com/roach88/tenantcore/internal/ir"

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
	fields() []string
}

// Op is a comparison operator for Compare.
type Op string

const (
	Lt  Op = "<"
	Lte Op = "<="
	Gt  Op = ">"
	Gte Op = ">="
)

// Valid reports whether op is one of the four comparison operators.
func (op Op) Valid() bool {
	switch op {
	case Lt, Lte, Gt, Gte:
		return true
	}
	return false
}

// Equals matches rows whose field equals a literal. Comparing to null is
// rejected by Validate; use IsNull.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode()     {}
func (p Equals) fields() []string { return []string{p.Field} }

// NotEquals matches rows whose field differs from a literal. Rows where the
// field is NULL never match.
type NotEquals struct {
	Field string
	Value ir.IRValue
}

func (NotEquals) predicateNode()     {}
func (p NotEquals) fields() []string { return []string{p.Field} }

// Compare is an ordered comparison against a literal.
type Compare struct {
	Field string
	Op    Op
	Value ir.IRValue
}

func (Compare) predicateNode()     {}
func (p Compare) fields() []string { return []string{p.Field} }

// In matches rows whose field equals any of Values. Values must be non-empty.
type In struct {
	Field  string
	Values []ir.IRValue
}

func (In) predicateNode()     {}
func (p In) fields() []string { return []string{p.Field} }

// IsNull matches rows whose field is NULL.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode()     {}
func (p IsNull) fields() []string { return []string{p.Field} }

// NotNull matches rows whose field is not NULL.
type NotNull struct {
	Field string
}

func (NotNull) predicateNode()     {}
func (p NotNull) fields() []string { return []string{p.Field} }

// HasPrefix matches string fields starting with Prefix. The match is case
// sensitive in every dialect.
type HasPrefix struct {
	Field  string
	Prefix string
}

func (HasPrefix) predicateNode()     {}
func (p HasPrefix) fields() []string { return []string{p.Field} }

// And is a conjunction. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

func (p And) fields() []string {
	var out []string
	for _, sub := range p.Predicates {
		if sub != nil {
			out = append(out, sub.fields()...)
		}
	}
	return out
}

// Fields returns every column referenced by preds, in order, with duplicates.
func Fields(preds ...Predicate) []string {
	return And{Predicates: preds}.fields()
}
