package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tenantcore/internal/clock"
	"github.com/roach88/tenantcore/internal/errs"
	"github.com/roach88/tenantcore/internal/ids"
	"github.com/roach88/tenantcore/internal/ir"
	"github.com/roach88/tenantcore/internal/store"
)

const instrumentationName = "github.com/roach88/tenantcore/internal/idempotency"

// maxReserveAttempts bounds the reserve loop. A round only repeats when a
// racing caller changed the row between our insert and our read, or between
// our read and our compare-and-swap.
const maxReserveAttempts = 4

// Coordinator reserves, completes and releases idempotency keys.
//
// It holds no mutable state and is safe for concurrent use when its executor
// is. Use the pool, not a unit-of-work transaction: a reservation must be
// visible to other callers before the guarded operation starts.
type Coordinator struct {
	rows   rows
	cfg    Config
	redact map[string]bool
	clock  clock.Clock
	tokens ids.Generator
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithTokenGenerator sets the generator for owner tokens.
func WithTokenGenerator(g ids.Generator) Option {
	return func(co *Coordinator) { co.tokens = g }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(co *Coordinator) { co.tracer = tp.Tracer(instrumentationName) }
}

// New returns a Coordinator storing keys through exec.
func New(exec store.Executor, cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		rows:   rows{exec: exec},
		cfg:    cfg,
		redact: redactSet(cfg.RedactHeaders),
		clock:  clock.System{},
		tokens: ids.UUIDv7{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(instrumentationName)
	}
	return c, nil
}

// Config returns the coordinator configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// TryReserve claims the key of req or reports why it cannot.
//
//   - key free (or its row expired): Owned reservation
//   - same request already completed: Replay holds the stored response
//   - different request under the key: IDEMPOTENCY_CONFLICT
//   - same request in flight: IDEMPOTENCY_IN_PROGRESS, unless its lease has
//     passed, in which case the key is taken over and owned
func (c *Coordinator) TryReserve(ctx context.Context, req Request) (res Reservation, err error) {
	ctx, span := c.startSpan(ctx, "try_reserve", req.TenantID)
	defer func() { c.endSpan(span, res, err) }()

	if err := checkRequest(req); err != nil {
		return Reservation{}, err
	}
	hash, err := ir.RequestHash(ir.Fingerprint{
		Method:   req.Method,
		Path:     req.Path,
		Body:     req.Body,
		TenantID: req.TenantID,
		UserID:   req.UserID,
	})
	if err != nil {
		return Reservation{}, err
	}

	key := req.ID()
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		now := clock.Normalize(c.clock.Now())
		row := c.reservationRow(key, req, hash, now)

		inserted, err := c.rows.insert(ctx, row)
		if err != nil {
			return Reservation{}, err
		}
		if inserted {
			return Reservation{Key: key, Owned: true, Token: row.token, RequestHash: hash}, nil
		}

		existing, ok, err := c.rows.get(ctx, key)
		if err != nil {
			return Reservation{}, err
		}
		if !ok {
			// Released or purged between the insert and the read.
			continue
		}

		if !existing.ExpiresAt.After(now) {
			replaced, err := c.rows.replaceExpired(ctx, row, existing.OwnerToken, now)
			if err != nil {
				return Reservation{}, err
			}
			if replaced {
				c.logger.Debug("idempotency key expired, reserved again", "key", key.String())
				return Reservation{Key: key, Owned: true, Token: row.token, RequestHash: hash}, nil
			}
			continue
		}

		if existing.RequestHash != hash {
			c.logger.Info("idempotency key reused for a different request",
				"key", key.String(), "method", req.Method, "path", req.Path)
			return Reservation{}, errs.IdempotencyConflict(req.Key)
		}

		if existing.Status == StatusCompleted {
			c.logger.Debug("idempotency replay", "key", key.String(), "status", existing.Response.StatusCode)
			return Reservation{
				Key:         key,
				Replay:      existing.Response,
				RequestHash: hash,
			}, nil
		}

		if c.cfg.Lease <= 0 || existing.LockedUntil.After(now) {
			return Reservation{}, errs.IdempotencyInProgress(req.Key)
		}
		took, err := c.rows.takeover(ctx, key, existing.OwnerToken, row.token, row.lockedUntil, now)
		if err != nil {
			return Reservation{}, err
		}
		if took {
			c.logger.Info("idempotency reservation taken over",
				"key", key.String(), "locked_until", existing.LockedUntil)
			return Reservation{Key: key, Owned: true, Token: row.token, RequestHash: hash, TookOver: true}, nil
		}
	}
	return Reservation{}, errs.IdempotencyInProgress(req.Key)
}

// Complete stores resp for replay and marks the reservation completed.
//
// Bodies over MaxResponseBytes are cut and end with TruncationMarker;
// redacted headers are dropped. ttl <= 0 uses the configured TTL. The stored
// response is returned.
//
// Completing after another caller took the key over is a CONCURRENCY error
// with reason ownership_lost; completing a key that no longer exists is
// NOT_FOUND.
func (c *Coordinator) Complete(ctx context.Context, res Reservation, resp Response, ttl time.Duration) (stored Response, err error) {
	ctx, span := c.startSpan(ctx, "complete", res.Key.TenantID)
	defer func() { c.endSpan(span, Reservation{}, err) }()

	if !res.Owned || res.Token == "" {
		return Response{}, errs.InvalidArgument("not_owner")
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	stored = c.prepare(resp)
	now := clock.Normalize(c.clock.Now())
	expiresAt := now.Add(ttl)

	ok, err := c.rows.complete(ctx, res.Key, res.Token, stored, expiresAt, expiresAt)
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{}, c.lost(ctx, res)
	}
	if stored.Truncated {
		c.logger.Warn("idempotent response truncated",
			"key", res.Key.String(), "size", len(resp.Body), "max", c.cfg.MaxResponseBytes)
	}
	return stored, nil
}

// Release deletes a reservation the caller still owns, so the request can be
// retried with the same key at once. Completed keys are never released.
func (c *Coordinator) Release(ctx context.Context, res Reservation) (err error) {
	ctx, span := c.startSpan(ctx, "release", res.Key.TenantID)
	defer func() { c.endSpan(span, Reservation{}, err) }()

	if !res.Owned || res.Token == "" {
		return errs.InvalidArgument("not_owner")
	}
	ok, err := c.rows.release(ctx, res.Key, res.Token)
	if err != nil {
		return err
	}
	if !ok {
		return c.lost(ctx, res)
	}
	c.logger.Debug("idempotency reservation released", "key", res.Key.String())
	return nil
}

// lost explains why a token-guarded write matched no row.
func (c *Coordinator) lost(ctx context.Context, res Reservation) error {
	rec, ok, err := c.rows.get(ctx, res.Key)
	if err != nil {
		return err
	}
	switch {
	case !ok:
		return errs.NotFound("idempotency_key", res.Key.Name)
	case rec.OwnerToken == res.Token && rec.Status == StatusCompleted:
		return errs.InvalidArgumentf("already_completed", "idempotency key %q is already completed", res.Key.Name)
	default:
		return errs.OwnershipLost("idempotency_key", res.Key.Name)
	}
}

// Result is the outcome of Execute.
type Result struct {
	Response Response
	// Replayed reports that Response came from an earlier execution and fn
	// did not run.
	Replayed bool
}

// Execute runs fn at most once per idempotency key.
//
// A replayable key returns the stored response without calling fn. When fn
// fails, the reservation is released and fn's error returned, so the caller
// may retry with the same key. When fn succeeds, its response is completed
// with the default TTL and the stored form returned. A panic in fn also
// releases the reservation before it propagates.
func (c *Coordinator) Execute(ctx context.Context, req Request, fn func(ctx context.Context) (Response, error)) (Result, error) {
	res, err := c.TryReserve(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if !res.Owned {
		return Result{Response: *res.Replay, Replayed: true}, nil
	}

	resp, err := c.runOwned(ctx, res, fn)
	if err != nil {
		c.releaseAfterFailure(ctx, res)
		return Result{}, err
	}

	stored, err := c.Complete(ctx, res, resp, 0)
	if err != nil {
		return Result{}, fmt.Errorf("complete idempotency key: %w", err)
	}
	return Result{Response: stored}, nil
}

func (c *Coordinator) runOwned(ctx context.Context, res Reservation, fn func(ctx context.Context) (Response, error)) (Response, error) {
	defer func() {
		if p := recover(); p != nil {
			c.releaseAfterFailure(ctx, res)
			panic(p)
		}
	}()
	return fn(ctx)
}

func (c *Coordinator) releaseAfterFailure(ctx context.Context, res Reservation) {
	if err := c.Release(context.WithoutCancel(ctx), res); err != nil {
		c.logger.Error("release idempotency reservation failed",
			"key", res.Key.String(), "error", err)
	}
}

// Get returns the stored record for a key.
func (c *Coordinator) Get(ctx context.Context, key Key) (Record, bool, error) {
	return c.rows.get(ctx, key)
}

// Purge deletes every record that expired at or before before and returns
// how many were removed.
func (c *Coordinator) Purge(ctx context.Context, before time.Time) (int64, error) {
	n, err := c.rows.purge(ctx, clock.Normalize(before))
	if err != nil {
		return 0, err
	}
	c.logger.Info("purged idempotency keys", "count", n, "before", before)
	return n, nil
}

func (c *Coordinator) reservationRow(key Key, req Request, hash string, now time.Time) newRow {
	expiresAt := now.Add(c.cfg.TTL)
	lockedUntil := expiresAt
	if c.cfg.Lease > 0 {
		lockedUntil = now.Add(c.cfg.Lease)
	}
	return newRow{
		key:         key,
		method:      strings.ToUpper(strings.TrimSpace(req.Method)),
		path:        req.Path,
		hash:        hash,
		token:       c.tokens.NewID(),
		lockedUntil: lockedUntil,
		createdAt:   now,
		expiresAt:   expiresAt,
	}
}

// prepare returns the form of resp that is stored and replayed.
func (c *Coordinator) prepare(resp Response) Response {
	body, truncated := truncate(resp.Body, c.cfg.MaxResponseBytes)
	if len(body) == 0 {
		body = nil
	}
	return Response{
		StatusCode: resp.StatusCode,
		Headers:    filterHeaders(resp.Headers, c.redact),
		Body:       body,
		Truncated:  truncated || resp.Truncated,
	}
}

func checkRequest(req Request) error {
	switch {
	case req.TenantID == "":
		return errs.InvalidArgument("tenant_id_required")
	case req.UserID == "":
		return errs.InvalidArgument("user_id_required")
	case req.Key == "":
		return errs.InvalidArgument("idempotency_key_required")
	case len(req.Key) > MaxKeyLen || !utf8.ValidString(req.Key):
		return errs.InvalidArgumentf("invalid_idempotency_key", "key must be 1-%d bytes of UTF-8", MaxKeyLen)
	case strings.TrimSpace(req.Method) == "":
		return errs.InvalidArgument("method_required")
	}
	return nil
}

func (c *Coordinator) startSpan(ctx context.Context, op, tenantID string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "tenantcore.idempotency."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("tenantcore.tenant_id", tenantID)),
	)
}

func (c *Coordinator) endSpan(span trace.Span, res Reservation, err error) {
	defer span.End()
	switch {
	case err == nil && res.Replay != nil:
		span.SetAttributes(attribute.String("tenantcore.outcome", "replay"))
	case err == nil && res.TookOver:
		span.SetAttributes(attribute.String("tenantcore.outcome", "takeover"))
	case err == nil:
		span.SetAttributes(attribute.String("tenantcore.outcome", "ok"))
	case errs.CodeOf(err) != "":
		span.SetAttributes(attribute.String("tenantcore.outcome", string(errs.CodeOf(err))))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
