// Package idempotency coordinates at-most-once execution of write requests.
//
// Each (tenant, user, key) moves through absent -> reserved -> completed.
// TryReserve claims a key with a single constrained insert; the caller that
// wins runs the operation and calls Complete, which stores the response so
// retries replay it instead of executing again. A retry with the same key but
// a different request is an IDEMPOTENCY_CONFLICT error, and a retry while the
// first caller is still running is IDEMPOTENCY_IN_PROGRESS.
//
// A reservation whose owner crashed is recovered two ways. Every reservation
// carries a lease; once it passes, the next TryReserve takes the key over.
// Callers that fail cleanly call Release, which deletes the reservation so a
// retry can proceed immediately. Rows past expires_at are treated as absent.
package idempotency
