package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/tenantcore/internal/errs"
	"github.com/roach88/tenantcore/internal/idempotency"
	"github.com/roach88/tenantcore/internal/queryir"
	"github.com/roach88/tenantcore/internal/repository"
	"github.com/roach88/tenantcore/internal/store"
	"github.com/roach88/tenantcore/internal/testutil"
)

// Defaults for reserve steps that leave fields unset.
const (
	DefaultUser   = "user-1"
	DefaultMethod = "POST"
	DefaultPath   = "/"
	DefaultStatus = 200
)

// cursorNext in a list step continues the previous listing of the same table.
const cursorNext = "next"

// Harness executes one scenario. It is not safe for concurrent use.
type Harness struct {
	scenario *Scenario
	db       *store.DB
	clock    *testutil.DeterministicClock
	tables   map[string]tableOps
	coord    *idempotency.Coordinator
	logger   *slog.Logger

	refs         map[string]string
	reservations map[string]idempotency.Reservation
	cursors      map[string]string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
//  1. Create a fresh migrated in-memory database
//  2. Execute the steps in order, checking each expect clause
//  3. Evaluate the assertions against the trace and the final tables
//
// A returned error means the scenario could not run at all; failed
// expectations are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.Open(ctx, store.Config{Driver: "sqlite3", DSN: ":memory:", Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer db.Close()

	h, err := newHarness(scenario, db, logger)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	actx := &AssertionContext{DB: db, Ctx: ctx, Tenant: scenario.Tenant, Refs: h.refs}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario, db *store.DB, logger *slog.Logger) (*Harness, error) {
	step := time.Second
	if s.ClockStep != nil {
		step = *s.ClockStep
	}
	clk := testutil.NewDeterministicClock(testutil.Epoch, step)

	cfg := idempotency.DefaultConfig()
	if o := s.Idempotency; o != nil {
		if o.TTL != nil {
			cfg.TTL = *o.TTL
		}
		if o.Lease != nil {
			cfg.Lease = *o.Lease
		}
		if o.MaxResponseBytes != nil {
			cfg.MaxResponseBytes = *o.MaxResponseBytes
		}
		cfg.RedactHeaders = o.RedactHeaders
	}
	coord, err := idempotency.New(db, cfg,
		idempotency.WithClock(clk),
		idempotency.WithTokenGenerator(testutil.NewSequentialIDs("tok")),
		idempotency.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("idempotency config: %w", err)
	}

	return &Harness{
		scenario: s,
		db:       db,
		clock:    clk,
		tables: newTables(db,
			repository.WithClock(clk),
			repository.WithIDGenerator(testutil.NewSequentialIDs("rec")),
			repository.WithLogger(logger),
		),
		coord:        coord,
		logger:       logger,
		refs:         make(map[string]string),
		reservations: make(map[string]idempotency.Reservation),
		cursors:      make(map[string]string),
	}, nil
}

// outcome is what a step produced, for expect checks.
type outcome struct {
	row     *row
	found   *bool
	deleted *bool
	rows    []row
	cursor  string
	res     *idempotency.Reservation
	stored  *idempotency.Response
	purged  *int64
}

func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	ev := TraceEvent{Op: step.Op, Table: step.Table, Key: step.Key, Ref: step.Ref}
	out, err := h.dispatch(ctx, step)
	if err != nil && errs.CodeOf(err) == "" {
		// Untyped errors are infrastructure failures, never an expected outcome.
		if errors.Is(err, errSetup) {
			return err
		}
		result.AddTrace(ev)
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", index, step.Op, err))
		return nil
	}

	ev.Outcome = OutcomeOK
	if err != nil {
		ev.Outcome = string(errs.CodeOf(err))
		ev.Reason = errs.ReasonOf(err)
	} else {
		ev.Result = traceResult(step.Op, out, h.refName)
		if out.res != nil {
			switch {
			case out.res.Replay != nil:
				ev.Outcome = OutcomeReplay
			case out.res.TookOver:
				ev.Outcome = OutcomeTakeover
			}
		}
	}
	result.AddTrace(ev)

	for _, msg := range h.checkExpect(step, out, err) {
		result.AddError(fmt.Sprintf("steps[%d] %s: %s", index, step.Op, msg))
	}
	return nil
}

// errSetup marks scenario mistakes found while running, like an unknown
// table name.
var errSetup = errors.New("invalid step")

func (h *Harness) dispatch(ctx context.Context, step Step) (outcome, error) {
	tenant := step.Tenant
	if tenant == "" {
		tenant = h.scenario.Tenant
	}

	switch step.Op {
	case OpCreate, OpGet, OpUpdate, OpDelete, OpList:
		t, ok := h.tables[step.Table]
		if !ok {
			return outcome{}, fmt.Errorf("%w: unknown table %q", errSetup, step.Table)
		}
		return h.tableStep(ctx, t, tenant, step)
	case OpReserve:
		return h.reserve(ctx, tenant, step)
	case OpComplete:
		status := step.Status
		if status == 0 {
			status = DefaultStatus
		}
		stored, err := h.coord.Complete(ctx, h.reservations[step.Ref], idempotency.Response{
			StatusCode: status,
			Headers:    step.Headers,
			Body:       []byte(step.Body),
		}, step.TTL)
		if err != nil {
			return outcome{}, err
		}
		return outcome{stored: &stored}, nil
	case OpRelease:
		return outcome{}, h.coord.Release(ctx, h.reservations[step.Ref])
	case OpPurge:
		n, err := h.coord.Purge(ctx, h.clock.Peek())
		if err != nil {
			return outcome{}, err
		}
		return outcome{purged: &n}, nil
	case OpAdvance:
		h.clock.Advance(step.Duration)
		return outcome{}, nil
	}
	return outcome{}, fmt.Errorf("%w: unknown op %q", errSetup, step.Op)
}

func (h *Harness) tableStep(ctx context.Context, t tableOps, tenant string, step Step) (outcome, error) {
	id := step.ID
	if step.Ref != "" {
		id = h.refs[step.Ref]
	}

	switch step.Op {
	case OpCreate:
		r, err := t.create(ctx, tenant, id, step.Fields)
		if err != nil {
			return outcome{}, err
		}
		if step.As != "" {
			h.refs[step.As] = r.ID
		}
		return outcome{row: &r}, nil
	case OpGet:
		r, ok, err := t.get(ctx, tenant, id)
		if err != nil {
			return outcome{}, err
		}
		if !ok {
			return outcome{found: &ok}, nil
		}
		return outcome{row: &r, found: &ok}, nil
	case OpUpdate:
		r, err := t.update(ctx, tenant, id, step.Version, step.Set)
		if err != nil {
			return outcome{}, err
		}
		return outcome{row: &r}, nil
	case OpDelete:
		deleted, err := t.delete(ctx, tenant, id)
		if err != nil {
			return outcome{}, err
		}
		return outcome{deleted: &deleted}, nil
	}

	opts := repository.ListOptions{Limit: step.Limit, Cursor: h.resolveCursor(step)}
	switch step.Order {
	case "", "newest_first":
	case "oldest_first":
		opts.Order = repository.OldestFirst
	default:
		// Mirrors how a transport layer would reject the parameter.
		return outcome{}, errs.InvalidArgumentf("invalid_order", "unknown order %q", step.Order)
	}
	for _, f := range step.Filters {
		p, err := queryir.Where(f.Field, f.Op, f.Value)
		if err != nil {
			return outcome{}, err
		}
		opts.Filters = append(opts.Filters, p)
	}

	rows, next, err := t.list(ctx, tenant, opts)
	if err != nil {
		return outcome{}, err
	}
	h.cursors[step.Table] = next
	if step.As != "" {
		h.cursors[step.As] = next
	}
	return outcome{rows: rows, cursor: next}, nil
}

// resolveCursor maps "next" and list step names to the cursor they produced;
// anything else is passed through as a literal token.
func (h *Harness) resolveCursor(step Step) string {
	if step.Cursor == cursorNext {
		return h.cursors[step.Table]
	}
	if c, ok := h.cursors[step.Cursor]; ok && step.Cursor != step.Table {
		return c
	}
	return step.Cursor
}

func (h *Harness) reserve(ctx context.Context, tenant string, step Step) (outcome, error) {
	req := idempotency.Request{
		TenantID: tenant,
		UserID:   firstNonEmpty(step.User, h.scenario.User, DefaultUser),
		Key:      step.Key,
		Method:   firstNonEmpty(step.Method, DefaultMethod),
		Path:     firstNonEmpty(step.Path, DefaultPath),
		Body:     []byte(step.Body),
	}
	res, err := h.coord.TryReserve(ctx, req)
	if err != nil {
		return outcome{}, err
	}
	if step.As != "" {
		h.reservations[step.As] = res
	}
	return outcome{res: &res}, nil
}

// refName maps a record id back to the name a step gave it, so traces and
// expectations read in scenario terms.
func (h *Harness) refName(id string) string {
	for name, v := range h.refs {
		if v == id {
			return name
		}
	}
	return id
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// traceResult renders out for the trace. Timestamps, cursors and owner
// tokens are left out; ids appear under their step names.
func traceResult(op string, out outcome, name func(string) string) map[string]any {
	switch {
	case out.row != nil:
		return map[string]any{
			"id":      name(out.row.ID),
			"version": out.row.Version,
			"fields":  out.row.Fields,
		}
	case out.found != nil:
		return map[string]any{"found": *out.found}
	case out.deleted != nil:
		return map[string]any{"deleted": *out.deleted}
	case op == OpList:
		ids := make([]any, len(out.rows))
		for i, r := range out.rows {
			ids[i] = name(r.ID)
		}
		return map[string]any{"ids": ids, "has_more": out.cursor != ""}
	case out.res != nil:
		m := map[string]any{"owned": out.res.Owned}
		if out.res.Replay != nil {
			m["status"] = int64(out.res.Replay.StatusCode)
			m["body"] = string(out.res.Replay.Body)
		}
		return m
	case out.stored != nil:
		m := map[string]any{
			"status":    int64(out.stored.StatusCode),
			"body":      string(out.stored.Body),
			"truncated": out.stored.Truncated,
		}
		if len(out.stored.Headers) > 0 {
			headers := make(map[string]any, len(out.stored.Headers))
			for k, v := range out.stored.Headers {
				headers[k] = v
			}
			m["headers"] = headers
		}
		return m
	case out.purged != nil:
		return map[string]any{"purged": *out.purged}
	}
	return nil
}
