// Package uow runs groups of repository operations atomically.
//
// A UnitOfWork checks out exactly one pooled connection, opens one
// transaction on it and hands the body a *Tx. Repositories built with Repo
// over that Tx share the transaction: they commit together when the body
// returns nil and roll back together when it returns an error or panics. The
// connection goes back to the pool on every path.
//
// A UnitOfWork runs once. It is not reentrant, and a unit of work cannot be
// started from inside another unit of work of the same Manager.
package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tenantcore/internal/querysql"
	"github.com/roach88/tenantcore/internal/repository"
	"github.com/roach88/tenantcore/internal/store"
)

const instrumentationName = "github.com/roach88/tenantcore/internal/uow"

var (
	// ErrReentrant is returned by Run on a unit of work that is running.
	ErrReentrant = errors.New("unit of work is already running")
	// ErrAlreadyUsed is returned by Run on a unit of work that has finished.
	ErrAlreadyUsed = errors.New("unit of work has already run")
	// ErrNested is returned when a unit of work is started from a context
	// that belongs to another unit of work of the same manager.
	ErrNested = errors.New("unit of work started inside another unit of work")
)

// Manager creates units of work over one database.
type Manager struct {
	db       *store.DB
	txOpts   sql.TxOptions
	repoOpts []repository.Option
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithIsolation sets the transaction isolation level. SQLite ignores it;
// its transactions are always serializable.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(m *Manager) { m.txOpts.Isolation = level }
}

// WithReadOnly opens read-only transactions.
func WithReadOnly() Option {
	return func(m *Manager) { m.txOpts.ReadOnly = true }
}

// WithRepositoryOptions sets options applied to every repository built with
// Repo.
func WithRepositoryOptions(opts ...repository.Option) Option {
	return func(m *Manager) { m.repoOpts = append(m.repoOpts, opts...) }
}

// WithLogger sets the logger. Defaults to the database logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracer = tp.Tracer(instrumentationName) }
}

// NewManager returns a Manager for db.
func NewManager(db *store.DB, opts ...Option) *Manager {
	m := &Manager{db: db}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = db.Logger()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(instrumentationName)
	}
	return m
}

// New returns a fresh unit of work.
func (m *Manager) New() *UnitOfWork {
	return &UnitOfWork{m: m}
}

// Do runs fn in a fresh unit of work.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	return m.New().Run(ctx, fn)
}

type ctxKey struct{ m *Manager }

const (
	stateIdle int32 = iota
	stateRunning
	stateDone
)

// UnitOfWork is a single-use transaction scope.
type UnitOfWork struct {
	m     *Manager
	state atomic.Int32
}

// Run executes fn inside one transaction on one connection.
//
// fn's error is returned unchanged after rollback. A panic in fn rolls back
// and is re-raised. A commit failure is classified like a statement failure,
// so a deferred constraint surfaces as a typed error.
func (u *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	if ctx.Value(ctxKey{u.m}) != nil {
		return ErrNested
	}
	if !u.state.CompareAndSwap(stateIdle, stateRunning) {
		if u.state.Load() == stateRunning {
			return ErrReentrant
		}
		return ErrAlreadyUsed
	}
	defer u.state.Store(stateDone)

	ctx, span := u.m.tracer.Start(ctx, "tenantcore.uow.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Bool("tenantcore.read_only", u.m.txOpts.ReadOnly)),
	)
	defer func() { endSpan(span, err) }()

	conn, err := u.m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("unit of work: %w", err)
	}
	defer conn.Close()

	sqlTx, err := conn.BeginTx(ctx, &u.m.txOpts)
	if err != nil {
		return fmt.Errorf("unit of work: begin: %w", err)
	}
	tx := &Tx{tx: store.NewTx(sqlTx, u.m.db.Dialect()), m: u.m}

	defer func() {
		if p := recover(); p != nil {
			u.rollback(tx, "panic")
			span.SetStatus(codes.Error, "panic")
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, ctxKey{u.m}, u), tx); err != nil {
		u.rollback(tx, err.Error())
		span.SetAttributes(attribute.Bool("tenantcore.rolled_back", true))
		return err
	}
	if err := tx.tx.Commit(); err != nil {
		return store.Classify(err, "unit of work: commit", "")
	}
	return nil
}

func (u *UnitOfWork) rollback(tx *Tx, cause string) {
	if err := tx.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		u.m.logger.Error("unit of work rollback failed", "cause", cause, "error", err)
		return
	}
	u.m.logger.Warn("unit of work rolled back", "cause", cause)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Tx is the executor handed to a unit-of-work body. It cannot commit or roll
// back; the unit of work owns the transaction.
type Tx struct {
	tx *store.Tx
	m  *Manager
}

var _ store.Executor = (*Tx)(nil)

// Dialect returns the SQL dialect.
func (t *Tx) Dialect() querysql.Dialect { return t.tx.Dialect() }

// ExecContext runs a statement inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Repo returns a repository for table bound to tx. The manager's repository
// options apply first, then opts.
func Repo[T any](tx *Tx, table repository.Table[T], opts ...repository.Option) *repository.Repository[T] {
	all := make([]repository.Option, 0, len(tx.m.repoOpts)+len(opts))
	all = append(all, tx.m.repoOpts...)
	all = append(all, opts...)
	return repository.New[T](tx, table, all...)
}
