package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tenantcore/internal/clock"
	"github.com/roach88/tenantcore/internal/store"
)

const (
	insertSQL = `INSERT INTO idempotency_keys
    (tenant_id, user_id, key, method, path, request_hash, status, response_truncated, owner_token, locked_until, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, 'reserved', ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, user_id, key) DO NOTHING`

	selectSQL = `SELECT tenant_id, user_id, key, method, path, request_hash, status,
    response_status, response_body, response_headers, response_truncated,
    owner_token, locked_until, created_at, expires_at
FROM idempotency_keys
WHERE tenant_id = ? AND user_id = ? AND key = ?`

	// The old owner token and the expiry check together make the
	// replacement a compare-and-swap: of two racing callers only one
	// matches.
	replaceExpiredSQL = `UPDATE idempotency_keys
SET method = ?, path = ?, request_hash = ?, status = 'reserved',
    response_status = NULL, response_body = NULL, response_headers = NULL, response_truncated = ?,
    owner_token = ?, locked_until = ?, created_at = ?, expires_at = ?
WHERE tenant_id = ? AND user_id = ? AND key = ? AND owner_token = ? AND expires_at <= ?`

	takeoverSQL = `UPDATE idempotency_keys
SET owner_token = ?, locked_until = ?
WHERE tenant_id = ? AND user_id = ? AND key = ?
    AND status = 'reserved' AND owner_token = ? AND locked_until <= ?`

	completeSQL = `UPDATE idempotency_keys
SET status = 'completed', response_status = ?, response_body = ?, response_headers = ?,
    response_truncated = ?, locked_until = ?, expires_at = ?
WHERE tenant_id = ? AND user_id = ? AND key = ? AND status = 'reserved' AND owner_token = ?`

	releaseSQL = `DELETE FROM idempotency_keys
WHERE tenant_id = ? AND user_id = ? AND key = ? AND status = 'reserved' AND owner_token = ?`

	purgeSQL = `DELETE FROM idempotency_keys WHERE expires_at <= ?`
)

// rows is the SQL access layer of the coordinator. Every write is a single
// statement whose WHERE clause carries the precondition.
type rows struct {
	exec store.Executor
}

type newRow struct {
	key         Key
	method      string
	path        string
	hash        string
	token       string
	lockedUntil time.Time
	createdAt   time.Time
	expiresAt   time.Time
}

func (r rows) insert(ctx context.Context, n newRow) (bool, error) {
	res, err := r.exec.ExecContext(ctx, insertSQL,
		n.key.TenantID, n.key.UserID, n.key.Name, n.method, n.path, n.hash,
		false, n.token, n.lockedUntil.UnixMicro(), n.createdAt.UnixMicro(), n.expiresAt.UnixMicro(),
	)
	return affected(res, err, "reserve idempotency key")
}

func (r rows) get(ctx context.Context, k Key) (Record, bool, error) {
	var (
		rec         Record
		status      string
		respStatus  sql.NullInt64
		respBody    []byte
		respHeaders sql.NullString
		truncated   bool
		locked      int64
		created     int64
		expires     int64
	)
	err := r.exec.QueryRowContext(ctx, selectSQL, k.TenantID, k.UserID, k.Name).Scan(
		&rec.Key.TenantID, &rec.Key.UserID, &rec.Key.Name, &rec.Method, &rec.Path, &rec.RequestHash, &status,
		&respStatus, &respBody, &respHeaders, &truncated,
		&rec.OwnerToken, &locked, &created, &expires,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load idempotency key: %w", err)
	}

	rec.Status = Status(status)
	rec.LockedUntil = clock.FromMicros(locked)
	rec.CreatedAt = clock.FromMicros(created)
	rec.ExpiresAt = clock.FromMicros(expires)

	if rec.Status == StatusCompleted {
		resp := &Response{
			StatusCode: int(respStatus.Int64),
			Truncated:  truncated,
		}
		if len(respBody) > 0 {
			resp.Body = respBody
		}
		if respHeaders.Valid && respHeaders.String != "" {
			if err := json.Unmarshal([]byte(respHeaders.String), &resp.Headers); err != nil {
				return Record{}, false, fmt.Errorf("decode stored headers: %w", err)
			}
		}
		rec.Response = resp
	}
	return rec, true, nil
}

func (r rows) replaceExpired(ctx context.Context, n newRow, oldToken string, now time.Time) (bool, error) {
	res, err := r.exec.ExecContext(ctx, replaceExpiredSQL,
		n.method, n.path, n.hash, false,
		n.token, n.lockedUntil.UnixMicro(), n.createdAt.UnixMicro(), n.expiresAt.UnixMicro(),
		n.key.TenantID, n.key.UserID, n.key.Name, oldToken, now.UnixMicro(),
	)
	return affected(res, err, "replace expired idempotency key")
}

func (r rows) takeover(ctx context.Context, k Key, oldToken, token string, lockedUntil, now time.Time) (bool, error) {
	res, err := r.exec.ExecContext(ctx, takeoverSQL,
		token, lockedUntil.UnixMicro(),
		k.TenantID, k.UserID, k.Name, oldToken, now.UnixMicro(),
	)
	return affected(res, err, "take over idempotency key")
}

func (r rows) complete(ctx context.Context, k Key, token string, resp Response, lockedUntil, expiresAt time.Time) (bool, error) {
	var headers any
	if len(resp.Headers) > 0 {
		b, err := json.Marshal(resp.Headers)
		if err != nil {
			return false, fmt.Errorf("encode headers: %w", err)
		}
		headers = string(b)
	}
	var body any
	if len(resp.Body) > 0 {
		body = resp.Body
	}
	res, err := r.exec.ExecContext(ctx, completeSQL,
		int64(resp.StatusCode), body, headers, resp.Truncated,
		lockedUntil.UnixMicro(), expiresAt.UnixMicro(),
		k.TenantID, k.UserID, k.Name, token,
	)
	return affected(res, err, "complete idempotency key")
}

func (r rows) release(ctx context.Context, k Key, token string) (bool, error) {
	res, err := r.exec.ExecContext(ctx, releaseSQL, k.TenantID, k.UserID, k.Name, token)
	return affected(res, err, "release idempotency key")
}

func (r rows) purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.exec.ExecContext(ctx, purgeSQL, before.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return n, nil
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, store.Classify(err, op, "idempotency_key")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}
