package repository

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/tenantcore/internal/cursor"
	"github.com/roach88/tenantcore/internal/errs"
	"github.com/roach88/tenantcore/internal/queryir"
	"github.com/roach88/tenantcore/internal/querysql"
)

// Page size bounds.
const (
	MinLimit = 1
	MaxLimit = 100
)

// Order is the traversal order of a listing.
type Order int

const (
	// NewestFirst orders by created_at DESC, id DESC. It is the default.
	NewestFirst Order = iota
	// OldestFirst orders by created_at ASC, id ASC.
	OldestFirst
)

// String returns the order name.
func (o Order) String() string {
	if o == OldestFirst {
		return "oldest_first"
	}
	return "newest_first"
}

// ListOptions selects one page.
type ListOptions struct {
	// Filters are ANDed with the tenant predicate. Only columns declared
	// Filterable may appear.
	Filters []queryir.Predicate
	Order   Order
	// Limit is the page size, 1 to 100.
	Limit int
	// Cursor is the NextCursor of the previous page, or "" for the first page.
	Cursor string
}

// Page is one page of records.
type Page[T any] struct {
	Items []Record[T]
	// NextCursor continues the listing; "" means there are no more rows.
	NextCursor string
}

// HasMore reports whether another page follows.
func (p Page[T]) HasMore() bool {
	return p.NextCursor != ""
}

// List returns one keyset page.
//
// The query fetches limit+1 rows; the extra row only signals that more exist
// and is dropped, and NextCursor encodes the last row kept. A page fetched
// with a cursor never contains a row at or before the cursor position, so a
// full traversal returns every row exactly once provided returned rows are
// not re-created with new timestamps.
func (r *Repository[T]) List(ctx context.Context, tenantID string, opts ListOptions) (page Page[T], err error) {
	ctx, span := r.startSpan(ctx, "list", tenantID)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.Int("tenantcore.limit", opts.Limit),
		attribute.String("tenantcore.order", opts.Order.String()),
	)

	if err := checkTenant(tenantID); err != nil {
		return Page[T]{}, err
	}
	if opts.Limit < MinLimit || opts.Limit > MaxLimit {
		return Page[T]{}, errs.InvalidArgumentf("limit_out_of_range", "limit must be between %d and %d, got %d", MinLimit, MaxLimit, opts.Limit)
	}
	if opts.Order != NewestFirst && opts.Order != OldestFirst {
		return Page[T]{}, errs.InvalidArgumentf("invalid_order", "unknown order %d", opts.Order)
	}
	if err := queryir.Validate(opts.Filters, r.table.filterable()); err != nil {
		return Page[T]{}, err
	}

	q := querysql.ListQuery{
		Table:    r.sqlTable,
		TenantID: tenantID,
		Filters:  opts.Filters,
		Limit:    opts.Limit + 1,
	}
	if opts.Order == OldestFirst {
		q.Direction = querysql.Ascending
	}
	if opts.Cursor != "" {
		pos, err := cursor.Decode(opts.Cursor)
		if err != nil {
			return Page[T]{}, err
		}
		q.After = &querysql.Seek{CreatedAt: pos.Micros(), ID: pos.ID}
	}

	sql, params, err := r.compiler.CompileList(q)
	if err != nil {
		return Page[T]{}, fmt.Errorf("list %s: %w", r.table.Entity, err)
	}

	rows, err := r.exec.QueryContext(ctx, sql, params...)
	if err != nil {
		return Page[T]{}, fmt.Errorf("list %s: %w", r.table.Entity, err)
	}
	defer rows.Close()

	items := make([]Record[T], 0, opts.Limit+1)
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return Page[T]{}, fmt.Errorf("scan %s: %w", r.table.Entity, err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return Page[T]{}, fmt.Errorf("list %s: %w", r.table.Entity, err)
	}

	page = Page[T]{Items: items}
	if len(items) > opts.Limit {
		page.Items = items[:opts.Limit]
		last := page.Items[opts.Limit-1]
		page.NextCursor = cursor.Encode(last.CreatedAt, last.ID)
	}
	span.SetAttributes(attribute.Int("tenantcore.rows", len(page.Items)))
	return page, nil
}
