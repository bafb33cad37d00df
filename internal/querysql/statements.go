package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/tenantcore/internal/queryir"
)

// MetaColumns are the bookkeeping columns every tenant-scoped table carries,
// in scan order.
var MetaColumns = []string{"id", "tenant_id", "version", "created_at", "updated_at"}

// Table describes a tenant-scoped table for statement generation.
type Table struct {
	Name    string
	Columns []string // domain columns, in scan order after MetaColumns
}

// SelectList returns the column list used by every read and RETURNING clause.
func (t Table) SelectList() string {
	return strings.Join(append(append([]string{}, MetaColumns...), t.Columns...), ", ")
}

// Insert renders the INSERT for a new row: meta columns then domain columns.
func (d Dialect) Insert(t Table) string {
	cols := append(append([]string{}, MetaColumns...), t.Columns...)
	return d.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(cols, ", "), placeholders(len(cols))))
}

// Get renders the tenant-scoped point read. Params: id, tenant_id.
func (d Dialect) Get(t Table) string {
	return d.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE id = ? AND tenant_id = ?",
		t.SelectList(), t.Name))
}

// CurrentVersion renders the existence re-check used after a failed CAS.
// Params: id, tenant_id.
func (d Dialect) CurrentVersion(t Table) string {
	return d.Rebind(fmt.Sprintf("SELECT version FROM %s WHERE id = ? AND tenant_id = ?", t.Name))
}

// Update renders the single-statement compare-and-swap update. Params: one per
// set column, then updated_at, id, tenant_id, expected version.
func (d Dialect) Update(t Table, set []string) string {
	assignments := make([]string, 0, len(set)+2)
	for _, col := range set {
		assignments = append(assignments, col+" = ?")
	}
	assignments = append(assignments, "version = version + 1", "updated_at = ?")
	return d.Rebind(fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = ? AND tenant_id = ? AND version = ? RETURNING %s",
		t.Name, strings.Join(assignments, ", "), t.SelectList()))
}

// Delete renders the tenant-scoped delete. Params: id, tenant_id.
func (d Dialect) Delete(t Table) string {
	return d.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ? AND tenant_id = ?", t.Name))
}

// DeleteVersion renders the optimistic delete. Params: id, tenant_id, version.
func (d Dialect) DeleteVersion(t Table) string {
	return d.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ? AND tenant_id = ? AND version = ?", t.Name))
}

// Direction is the keyset traversal order.
type Direction int

const (
	// Descending lists newest first: ORDER BY created_at DESC, id DESC.
	Descending Direction = iota
	// Ascending lists oldest first: ORDER BY created_at ASC, id ASC.
	Ascending
)

// Seek is the exclusive lower bound of a keyset page, in traversal order.
type Seek struct {
	CreatedAt int64 // unix microseconds
	ID        string
}

// ListQuery describes one keyset page read.
type ListQuery struct {
	Table     Table
	TenantID  string
	Filters   []queryir.Predicate
	Direction Direction
	After     *Seek // nil for the first page
	Limit     int   // rows to fetch; callers pass page size + 1
}

// CompileList renders a keyset page query.
//
// Every list query is scoped to one tenant and totally ordered by
// (created_at, id), so a seek position identifies exactly one place in the
// sequence.
func (c *Compiler) CompileList(q ListQuery) (string, []any, error) {
	if q.Limit < 1 {
		return "", nil, fmt.Errorf("list limit must be positive, got %d", q.Limit)
	}

	where := []string{"tenant_id = ?"}
	params := []any{q.TenantID}

	if len(q.Filters) > 0 {
		filterSQL, filterParams, err := c.CompileFilters(q.Filters)
		if err != nil {
			return "", nil, fmt.Errorf("compile filters: %w", err)
		}
		where = append(where, filterSQL)
		params = append(params, filterParams...)
	}

	cmp, dir := "<", "DESC"
	if q.Direction == Ascending {
		cmp, dir = ">", "ASC"
	}
	collate := c.Dialect.collateID()

	if q.After != nil {
		where = append(where, fmt.Sprintf("(created_at, id%s) %s (?, ?)", collate, cmp))
		params = append(params, q.After.CreatedAt, q.After.ID)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at %s, id%s %s LIMIT ?",
		q.Table.SelectList(), q.Table.Name, strings.Join(where, " AND "), dir, collate, dir)
	params = append(params, int64(q.Limit))

	return c.Dialect.Rebind(sql), params, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
