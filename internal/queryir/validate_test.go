package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tenantcore/internal/errs"
	"github.com/roach88/tenantcore/internal/ir"
)

var documentColumns = []string{"title", "status", "chunk_count", "source_uri"}

func TestValidate_Accepts(t *testing.T) {
	preds := []Predicate{
		Equals{Field: "status", Value: ir.IRString("ready")},
		NotEquals{Field: "title", Value: ir.IRString("")},
		Compare{Field: "chunk_count", Op: Gt, Value: ir.IRInt(0)},
		In{Field: "status", Values: []ir.IRValue{ir.IRString("ready"), ir.IRString("failed")}},
		IsNull{Field: "source_uri"},
		NotNull{Field: "title"},
		HasPrefix{Field: "title", Prefix: "Q"},
		And{},
		And{Predicates: []Predicate{Equals{Field: "status", Value: ir.IRString("ready")}}},
	}

	assert.NoError(t, Validate(preds, documentColumns))
	assert.NoError(t, Validate(nil, documentColumns))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		pred   Predicate
		reason string
	}{
		{
			name:   "unknown field",
			pred:   Equals{Field: "password", Value: ir.IRString("x")},
			reason: "unknown_filter_field",
		},
		{
			name:   "tenant_id is not a filter",
			pred:   Equals{Field: "tenant_id", Value: ir.IRString("other")},
			reason: "unknown_filter_field",
		},
		{
			name:   "unknown field nested in and",
			pred:   And{Predicates: []Predicate{IsNull{Field: "nope"}}},
			reason: "unknown_filter_field",
		},
		{
			name:   "nil predicate",
			pred:   nil,
			reason: "invalid_filter",
		},
		{
			name:   "nil nested predicate",
			pred:   And{Predicates: []Predicate{nil}},
			reason: "invalid_filter",
		},
		{
			name:   "equals null",
			pred:   Equals{Field: "status", Value: ir.IRNull{}},
			reason: "invalid_filter",
		},
		{
			name:   "missing value",
			pred:   NotEquals{Field: "status"},
			reason: "invalid_filter",
		},
		{
			name:   "bad operator",
			pred:   Compare{Field: "chunk_count", Op: "LIKE", Value: ir.IRInt(1)},
			reason: "invalid_filter",
		},
		{
			name:   "empty in",
			pred:   In{Field: "status"},
			reason: "invalid_filter",
		},
		{
			name:   "array literal",
			pred:   Equals{Field: "status", Value: ir.IRArray{ir.IRString("a")}},
			reason: "invalid_filter_value",
		},
		{
			name:   "object inside in",
			pred:   In{Field: "status", Values: []ir.IRValue{ir.IRObject{}}},
			reason: "invalid_filter_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]Predicate{tt.pred}, documentColumns)
			require.Error(t, err)
			assert.True(t, errs.IsInvalidArgument(err))
			assert.Equal(t, tt.reason, errs.ReasonOf(err))
		})
	}
}
