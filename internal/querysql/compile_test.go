package querysql

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tenantcore/internal/ir"
	"github.com/roach88/tenantcore/internal/queryir"
)

var documents = Table{Name: "documents", Columns: []string{"title", "status"}}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCompileFilters(t *testing.T) {
	c := NewCompiler(SQLite)

	tests := []struct {
		name   string
		preds  []queryir.Predicate
		sql    string
		params []any
	}{
		{
			name:  "none",
			preds: nil,
		},
		{
			name:   "equals",
			preds:  []queryir.Predicate{queryir.Equals{Field: "status", Value: ir.IRString("ready")}},
			sql:    "status = ?",
			params: []any{"ready"},
		},
		{
			name: "several",
			preds: []queryir.Predicate{
				queryir.NotEquals{Field: "status", Value: ir.IRString("failed")},
				queryir.Compare{Field: "chunk_count", Op: queryir.Gte, Value: ir.IRInt(2)},
				queryir.IsNull{Field: "source_uri"},
			},
			sql:    "status <> ? AND chunk_count >= ? AND source_uri IS NULL",
			params: []any{"failed", int64(2)},
		},
		{
			name: "in",
			preds: []queryir.Predicate{
				queryir.In{Field: "role", Values: []ir.IRValue{ir.IRString("user"), ir.IRString("tool")}},
			},
			sql:    "role IN (?, ?)",
			params: []any{"user", "tool"},
		},
		{
			name:   "prefix counts characters",
			preds:  []queryir.Predicate{queryir.HasPrefix{Field: "title", Prefix: "résumé"}},
			sql:    "substr(title, 1, ?) = ?",
			params: []any{int64(6), "résumé"},
		},
		{
			name: "nested and",
			preds: []queryir.Predicate{
				queryir.NotNull{Field: "title"},
				queryir.And{Predicates: []queryir.Predicate{
					queryir.Equals{Field: "archived", Value: ir.IRBool(false)},
					queryir.Compare{Field: "score", Op: queryir.Lt, Value: ir.IRNumber("0.5")},
				}},
			},
			sql:    "title IS NOT NULL AND (archived = ? AND score < ?)",
			params: []any{false, 0.5},
		},
		{
			name:  "empty and",
			preds: []queryir.Predicate{queryir.And{}},
			sql:   "1 = 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := c.CompileFilters(tt.preds)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCompileFilters_NeverInterpolates(t *testing.T) {
	c := NewCompiler(SQLite)
	injection := "x'; DROP TABLE documents; --"

	sql, params, err := c.CompileFilters([]queryir.Predicate{
		queryir.Equals{Field: "title", Value: ir.IRString(injection)},
	})
	require.NoError(t, err)
	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, []any{injection}, params)
}

func TestCompileFilters_Errors(t *testing.T) {
	c := NewCompiler(SQLite)

	_, _, err := c.CompileFilters([]queryir.Predicate{nil})
	assert.Error(t, err)

	_, _, err = c.CompileFilters([]queryir.Predicate{
		queryir.Equals{Field: "title", Value: ir.IRObject{}},
	})
	assert.Error(t, err)

	_, _, err = c.CompileFilters([]queryir.Predicate{
		queryir.Compare{Field: "n", Op: "~", Value: ir.IRInt(1)},
	})
	assert.Error(t, err)
}

func TestCompileList_FirstPage(t *testing.T) {
	c := NewCompiler(SQLite)

	sql, params, err := c.CompileList(ListQuery{
		Table:    documents,
		TenantID: "tenant-a",
		Filters:  []queryir.Predicate{queryir.Equals{Field: "status", Value: ir.IRString("ready")}},
		Limit:    3,
	})
	require.NoError(t, err)

	newGoldie(t).Assert(t, "list_first_page_sqlite", []byte(sql))
	assert.Equal(t, []any{"tenant-a", "ready", int64(3)}, params)
}

func TestCompileList_SeekOldestFirstPostgres(t *testing.T) {
	c := NewCompiler(Postgres)

	sql, params, err := c.CompileList(ListQuery{
		Table:     documents,
		TenantID:  "tenant-a",
		Filters:   []queryir.Predicate{queryir.HasPrefix{Field: "title", Prefix: "Q3"}},
		Direction: Ascending,
		After:     &Seek{CreatedAt: 1700000000000000, ID: "0190-b"},
		Limit:     11,
	})
	require.NoError(t, err)

	newGoldie(t).Assert(t, "list_seek_oldest_postgres", []byte(sql))
	assert.Equal(t, []any{"tenant-a", int64(2), "Q3", int64(1700000000000000), "0190-b", int64(11)}, params)
}

func TestCompileList_SeekNewestFirstSQLite(t *testing.T) {
	c := NewCompiler(SQLite)

	sql, params, err := c.CompileList(ListQuery{
		Table:    documents,
		TenantID: "tenant-a",
		After:    &Seek{CreatedAt: 5, ID: "b"},
		Limit:    2,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "WHERE tenant_id = ? AND (created_at, id) < (?, ?)")
	assert.Contains(t, sql, "ORDER BY created_at DESC, id DESC LIMIT ?")
	assert.Equal(t, []any{"tenant-a", int64(5), "b", int64(2)}, params)
}

func TestCompileList_RejectsNonPositiveLimit(t *testing.T) {
	_, _, err := NewCompiler(SQLite).CompileList(ListQuery{Table: documents, TenantID: "t"})
	assert.Error(t, err)
}

func TestStatements(t *testing.T) {
	cols := "id, tenant_id, version, created_at, updated_at, title, status"

	assert.Equal(t, cols, documents.SelectList())
	assert.Equal(t,
		"INSERT INTO documents ("+cols+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		SQLite.Insert(documents))
	assert.Equal(t,
		"SELECT "+cols+" FROM documents WHERE id = $1 AND tenant_id = $2",
		Postgres.Get(documents))
	assert.Equal(t,
		"SELECT version FROM documents WHERE id = ? AND tenant_id = ?",
		SQLite.CurrentVersion(documents))
	assert.Equal(t,
		"DELETE FROM documents WHERE id = ? AND tenant_id = ?",
		SQLite.Delete(documents))
	assert.Equal(t,
		"DELETE FROM documents WHERE id = $1 AND tenant_id = $2 AND version = $3",
		Postgres.DeleteVersion(documents))
}

func TestUpdateStatement(t *testing.T) {
	newGoldie(t).Assert(t, "update_postgres", []byte(Postgres.Update(documents, []string{"title"})))

	assert.Equal(t,
		"UPDATE documents SET title = ?, status = ?, version = version + 1, updated_at = ? "+
			"WHERE id = ? AND tenant_id = ? AND version = ? RETURNING id, tenant_id, version, created_at, updated_at, title, status",
		SQLite.Update(documents, []string{"title", "status"}))
}
