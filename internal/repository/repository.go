package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tenantcore/internal/clock"
	"github.com/roach88/tenantcore/internal/cursor"
	"github.com/roach88/tenantcore/internal/errs"
	"github.com/roach88/tenantcore/internal/ids"
	"github.com/roach88/tenantcore/internal/querysql"
	"github.com/roach88/tenantcore/internal/store"
)

// Meta is the bookkeeping every stored record carries.
type Meta struct {
	ID        string
	TenantID  string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Record is a stored row: metadata plus the domain fields.
type Record[T any] struct {
	Meta
	Fields T
}

// Repository is tenant-scoped CRUD over one table.
//
// A Repository holds no mutable state; it is safe for concurrent use when its
// executor is (the pool is, a transaction is not).
type Repository[T any] struct {
	exec     store.Executor
	table    Table[T]
	sqlTable querysql.Table
	compiler *querysql.Compiler

	clock  clock.Clock
	ids    ids.Generator
	logger *slog.Logger
	tracer trace.Tracer
}

// New binds table to an executor.
func New[T any](exec store.Executor, table Table[T], opts ...Option) *Repository[T] {
	o := buildOptions(opts)
	return &Repository[T]{
		exec:     exec,
		table:    table,
		sqlTable: table.sqlTable(),
		compiler: querysql.NewCompiler(exec.Dialect()),
		clock:    o.clock,
		ids:      o.ids,
		logger:   o.logger,
		tracer:   o.tracer,
	}
}

// Table returns the table descriptor.
func (r *Repository[T]) Table() Table[T] {
	return r.table
}

// Replace returns assignments that overwrite every domain column.
func (r *Repository[T]) Replace(fields T) []Assignment {
	return r.table.Replace(fields)
}

// Create inserts a new record at version 1.
//
// A unique violation yields a DUPLICATE error and a dangling reference a
// FOREIGN_KEY_VIOLATION error.
func (r *Repository[T]) Create(ctx context.Context, tenantID string, fields T, opts ...CreateOption) (rec Record[T], err error) {
	ctx, span := r.startSpan(ctx, "create", tenantID)
	defer func() { endSpan(span, err) }()

	if err := checkTenant(tenantID); err != nil {
		return Record[T]{}, err
	}
	var co createOptions
	for _, opt := range opts {
		opt(&co)
	}
	id := co.id
	if id == "" {
		id = r.ids.NewID()
	}
	if err := checkID(id); err != nil {
		return Record[T]{}, err
	}
	span.SetAttributes(attribute.String("tenantcore.record_id", id))
	for _, c := range r.table.Columns {
		if err := c.validate(c.value(&fields)); err != nil {
			return Record[T]{}, err
		}
	}

	now := clock.Normalize(r.clock.Now())
	args := make([]any, 0, len(querysql.MetaColumns)+len(r.table.Columns))
	args = append(args, id, tenantID, int64(1), now.UnixMicro(), now.UnixMicro())
	for _, c := range r.table.Columns {
		args = append(args, c.value(&fields))
	}

	if _, err := r.exec.ExecContext(ctx, r.exec.Dialect().Insert(r.sqlTable), args...); err != nil {
		return Record[T]{}, store.Classify(err, "create "+r.table.Entity, r.table.Entity)
	}

	return Record[T]{
		Meta: Meta{
			ID:        id,
			TenantID:  tenantID,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Fields: fields,
	}, nil
}

// Get reads one record. A missing record, or one owned by another tenant,
// returns ok == false and a nil error.
func (r *Repository[T]) Get(ctx context.Context, tenantID, id string) (rec Record[T], ok bool, err error) {
	ctx, span := r.startSpan(ctx, "get", tenantID)
	defer func() { endSpan(span, err) }()

	if err := checkTenant(tenantID); err != nil {
		return Record[T]{}, false, err
	}

	row := r.exec.QueryRowContext(ctx, r.exec.Dialect().Get(r.sqlTable), id, tenantID)
	rec, err = r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record[T]{}, false, nil
	}
	if err != nil {
		return Record[T]{}, false, fmt.Errorf("get %s: %w", r.table.Entity, err)
	}
	return rec, true, nil
}

// MustGet is Get with a missing record reported as a NOT_FOUND error.
func (r *Repository[T]) MustGet(ctx context.Context, tenantID, id string) (Record[T], error) {
	rec, ok, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return Record[T]{}, err
	}
	if !ok {
		return Record[T]{}, errs.NotFound(r.table.Entity, id)
	}
	return rec, nil
}

// Update applies changes if the stored version still equals expectedVersion,
// incrementing the version by one and refreshing updated_at.
//
// The check and the write are one statement. When it matches no row the
// record is looked up again only to pick the error: NOT_FOUND if it is gone,
// CONCURRENCY (with expected and actual version) if someone else won.
func (r *Repository[T]) Update(ctx context.Context, tenantID, id string, expectedVersion int64, changes ...Assignment) (rec Record[T], err error) {
	ctx, span := r.startSpan(ctx, "update", tenantID)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("tenantcore.record_id", id),
		attribute.Int64("tenantcore.expected_version", expectedVersion),
	)

	if err := checkTenant(tenantID); err != nil {
		return Record[T]{}, err
	}
	if expectedVersion < 1 {
		return Record[T]{}, errs.InvalidArgumentf("invalid_version", "expected version must be >= 1, got %d", expectedVersion)
	}
	cols, args, err := r.assignments(changes)
	if err != nil {
		return Record[T]{}, err
	}

	now := clock.Normalize(r.clock.Now())
	args = append(args, now.UnixMicro(), id, tenantID, expectedVersion)

	row := r.exec.QueryRowContext(ctx, r.exec.Dialect().Update(r.sqlTable, cols), args...)
	rec, err = r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record[T]{}, r.missed(ctx, tenantID, id, expectedVersion)
	}
	if err != nil {
		return Record[T]{}, store.Classify(err, "update "+r.table.Entity, r.table.Entity)
	}
	return rec, nil
}

// Delete removes a record regardless of version. It reports whether a row
// was deleted.
func (r *Repository[T]) Delete(ctx context.Context, tenantID, id string) (deleted bool, err error) {
	ctx, span := r.startSpan(ctx, "delete", tenantID)
	defer func() { endSpan(span, err) }()

	if err := checkTenant(tenantID); err != nil {
		return false, err
	}

	res, err := r.exec.ExecContext(ctx, r.exec.Dialect().Delete(r.sqlTable), id, tenantID)
	if err != nil {
		return false, store.Classify(err, "delete "+r.table.Entity, r.table.Entity)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", r.table.Entity, err)
	}
	return n > 0, nil
}

// DeleteVersion removes a record only if its version equals expectedVersion,
// with the same NOT_FOUND / CONCURRENCY split as Update.
func (r *Repository[T]) DeleteVersion(ctx context.Context, tenantID, id string, expectedVersion int64) (err error) {
	ctx, span := r.startSpan(ctx, "delete_version", tenantID)
	defer func() { endSpan(span, err) }()

	if err := checkTenant(tenantID); err != nil {
		return err
	}
	if expectedVersion < 1 {
		return errs.InvalidArgumentf("invalid_version", "expected version must be >= 1, got %d", expectedVersion)
	}

	res, err := r.exec.ExecContext(ctx, r.exec.Dialect().DeleteVersion(r.sqlTable), id, tenantID, expectedVersion)
	if err != nil {
		return store.Classify(err, "delete "+r.table.Entity, r.table.Entity)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", r.table.Entity, err)
	}
	if n == 0 {
		return r.missed(ctx, tenantID, id, expectedVersion)
	}
	return nil
}

// missed decides why a compare-and-swap matched no row.
func (r *Repository[T]) missed(ctx context.Context, tenantID, id string, expected int64) error {
	var actual int64
	err := r.exec.QueryRowContext(ctx, r.exec.Dialect().CurrentVersion(r.sqlTable), id, tenantID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound(r.table.Entity, id)
	}
	if err != nil {
		return fmt.Errorf("check %s version: %w", r.table.Entity, err)
	}
	r.logger.Debug("version conflict",
		"entity", r.table.Entity,
		"tenant_id", tenantID,
		"id", id,
		"expected_version", expected,
		"actual_version", actual,
	)
	return errs.Concurrency(r.table.Entity, id, expected, actual)
}

// assignments validates changes and returns column names and values in order.
func (r *Repository[T]) assignments(changes []Assignment) ([]string, []any, error) {
	if len(changes) == 0 {
		return nil, nil, errs.InvalidArgument("no_changes")
	}
	cols := make([]string, 0, len(changes))
	args := make([]any, 0, len(changes)+4)
	seen := make(map[string]bool, len(changes))
	for _, ch := range changes {
		col, ok := r.table.column(ch.Column)
		if !ok {
			return nil, nil, errs.InvalidArgumentf("unknown_column", "%s has no column %q", r.table.Entity, ch.Column)
		}
		if seen[ch.Column] {
			return nil, nil, errs.InvalidArgumentf("duplicate_column", "column %q assigned twice", ch.Column)
		}
		seen[ch.Column] = true
		value, ok := col.coerce(ch.Value)
		if !ok {
			return nil, nil, errs.InvalidArgumentf("invalid_column_value",
				"%s column %q cannot hold %T value %v", r.table.Entity, ch.Column, ch.Value, ch.Value)
		}
		if err := col.validate(value); err != nil {
			return nil, nil, err
		}
		cols = append(cols, ch.Column)
		args = append(args, value)
	}
	return cols, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository[T]) scan(row rowScanner) (Record[T], error) {
	var rec Record[T]
	var created, updated int64
	dest := make([]any, 0, len(querysql.MetaColumns)+len(r.table.Columns))
	dest = append(dest, &rec.ID, &rec.TenantID, &rec.Version, &created, &updated)
	for _, c := range r.table.Columns {
		dest = append(dest, c.dest(&rec.Fields))
	}
	if err := row.Scan(dest...); err != nil {
		return Record[T]{}, err
	}
	rec.CreatedAt = clock.FromMicros(created)
	rec.UpdatedAt = clock.FromMicros(updated)
	return rec, nil
}

func checkTenant(tenantID string) error {
	if tenantID == "" {
		return errs.InvalidArgument("tenant_id_required")
	}
	return nil
}

// checkID enforces what a cursor can carry, so every stored id can be paged
// past.
func checkID(id string) error {
	if id == "" || len(id) > cursor.MaxIDLen || !utf8.ValidString(id) {
		return errs.InvalidArgumentf("invalid_id", "id must be 1-%d bytes of UTF-8", cursor.MaxIDLen)
	}
	for _, c := range id {
		if unicode.IsControl(c) {
			return errs.InvalidArgumentf("invalid_id", "id must not contain control characters")
		}
	}
	return nil
}

func (r *Repository[T]) startSpan(ctx context.Context, op, tenantID string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "tenantcore.repository."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tenantcore.tenant_id", tenantID),
			attribute.String("tenantcore.table", r.table.Name),
		),
	)
}

// endSpan records the outcome. Typed errors are expected results and are
// tagged with their code; anything else marks the span as failed.
func endSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetAttributes(attribute.String("tenantcore.outcome", "ok"))
		return
	}
	if code := errs.CodeOf(err); code != "" {
		span.SetAttributes(attribute.String("tenantcore.outcome", string(code)))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
