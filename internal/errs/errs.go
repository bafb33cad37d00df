// Package errs defines the typed error taxonomy of the data-access layer.
//
// Every expected, recoverable outcome (missing row, lost CAS race, constraint
// violation, bad cursor, bad argument, idempotency clash) is reported as an
// *Error carrying a Code. Callers branch on the code with errors.Is against the
// sentinels below or with the IsX helpers; mapping codes to transport statuses
// is the caller's job.
//
// Connection loss and other infrastructure failures are never converted into
// an *Error. They are wrapped with fmt.Errorf and propagated unchanged.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code categorizes data-access errors.
type Code string

const (
	// CodeNotFound means the row does not exist for the tenant. A row owned by
	// another tenant is reported the same way.
	CodeNotFound Code = "NOT_FOUND"

	// CodeDuplicate means a unique constraint rejected the write.
	CodeDuplicate Code = "DUPLICATE"

	// CodeConcurrency means a compare-and-swap lost: the stored version (or
	// reservation owner) differs from the one the caller observed.
	CodeConcurrency Code = "CONCURRENCY"

	// CodeForeignKey means a foreign key constraint rejected the write.
	CodeForeignKey Code = "FOREIGN_KEY_VIOLATION"

	// CodeInvalidCursor means a pagination token could not be decoded.
	CodeInvalidCursor Code = "INVALID_CURSOR"

	// CodeInvalidArgument means a caller-supplied argument is out of domain.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeIdempotencyConflict means an idempotency key was reused for a
	// different request.
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"

	// CodeIdempotencyInProgress means another caller holds the reservation.
	CodeIdempotencyInProgress Code = "IDEMPOTENCY_IN_PROGRESS"
)

// Error is a coded data-access error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Entity names the record kind involved ("document", "idempotency_key").
	Entity string

	// ID identifies the record, when one is involved.
	ID string

	// Reason is a stable machine-readable detail such as "limit_out_of_range".
	Reason string

	// Message is a human-readable description.
	Message string

	// Details carries additional context (expected/actual versions, field names).
	Details map[string]string

	// Cause is the underlying driver or decoding error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Reason != "" {
		b.WriteString("(")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Entity != "" && e.ID != "" {
		fmt.Fprintf(&b, " (%s=%s)", e.Entity, e.ID)
	} else if e.Entity != "" {
		fmt.Fprintf(&b, " (%s)", e.Entity)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.Details[k])
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code. A target that
// also sets Reason must match it too, so errors.Is(err,
// errs.InvalidArgument("limit_out_of_range")) is precise.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrNotFound              = &Error{Code: CodeNotFound}
	ErrDuplicate             = &Error{Code: CodeDuplicate}
	ErrConcurrency           = &Error{Code: CodeConcurrency}
	ErrForeignKey            = &Error{Code: CodeForeignKey}
	ErrInvalidCursor         = &Error{Code: CodeInvalidCursor}
	ErrInvalidArgument       = &Error{Code: CodeInvalidArgument}
	ErrIdempotencyConflict   = &Error{Code: CodeIdempotencyConflict}
	ErrIdempotencyInProgress = &Error{Code: CodeIdempotencyInProgress}
)

// NotFound reports a missing (or tenant-mismatched) record.
func NotFound(entity, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Entity:  entity,
		ID:      id,
		Message: "record not found",
	}
}

// Duplicate reports a unique constraint violation.
func Duplicate(entity string, cause error) *Error {
	return &Error{
		Code:    CodeDuplicate,
		Entity:  entity,
		Message: "unique constraint violated",
		Cause:   cause,
	}
}

// Concurrency reports a lost compare-and-swap on a record version.
func Concurrency(entity, id string, expected, actual int64) *Error {
	return &Error{
		Code:    CodeConcurrency,
		Entity:  entity,
		ID:      id,
		Message: "version mismatch",
		Details: map[string]string{
			"expected_version": fmt.Sprintf("%d", expected),
			"actual_version":   fmt.Sprintf("%d", actual),
		},
	}
}

// OwnershipLost reports a compare-and-swap on an owner token that no longer
// matches, e.g. completing a reservation another caller has taken over.
func OwnershipLost(entity, id string) *Error {
	return &Error{
		Code:    CodeConcurrency,
		Entity:  entity,
		ID:      id,
		Reason:  "ownership_lost",
		Message: "reservation is owned by another caller",
	}
}

// ForeignKey reports a foreign key constraint violation.
func ForeignKey(entity string, cause error) *Error {
	return &Error{
		Code:    CodeForeignKey,
		Entity:  entity,
		Message: "foreign key constraint violated",
		Cause:   cause,
	}
}

// InvalidCursor reports an undecodable pagination token.
func InvalidCursor(reason string, cause error) *Error {
	return &Error{
		Code:    CodeInvalidCursor,
		Reason:  reason,
		Message: "invalid cursor",
		Cause:   cause,
	}
}

// InvalidArgument reports an out-of-domain argument. Reason is the stable
// token callers match on, e.g. "limit_out_of_range".
func InvalidArgument(reason string) *Error {
	return &Error{
		Code:   CodeInvalidArgument,
		Reason: reason,
	}
}

// InvalidArgumentf is InvalidArgument with a formatted message.
func InvalidArgumentf(reason, format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidArgument,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

// IdempotencyConflict reports an idempotency key reused for a different request.
func IdempotencyConflict(key string) *Error {
	return &Error{
		Code:    CodeIdempotencyConflict,
		Entity:  "idempotency_key",
		ID:      key,
		Message: "idempotency key reused with a different request",
	}
}

// IdempotencyInProgress reports a key reserved by another in-flight caller.
func IdempotencyInProgress(key string) *Error {
	return &Error{
		Code:    CodeIdempotencyInProgress,
		Entity:  "idempotency_key",
		ID:      key,
		Message: "request with this idempotency key is in progress",
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ReasonOf returns the reason of the first *Error in err's chain, or "".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsNotFound returns true if err is a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsDuplicate returns true if err is a DUPLICATE error.
func IsDuplicate(err error) bool { return CodeOf(err) == CodeDuplicate }

// IsConcurrency returns true if err is a CONCURRENCY error.
func IsConcurrency(err error) bool { return CodeOf(err) == CodeConcurrency }

// IsForeignKey returns true if err is a FOREIGN_KEY_VIOLATION error.
func IsForeignKey(err error) bool { return CodeOf(err) == CodeForeignKey }

// IsInvalidCursor returns true if err is an INVALID_CURSOR error.
func IsInvalidCursor(err error) bool { return CodeOf(err) == CodeInvalidCursor }

// IsInvalidArgument returns true if err is an INVALID_ARGUMENT error.
func IsInvalidArgument(err error) bool { return CodeOf(err) == CodeInvalidArgument }

// IsIdempotencyConflict returns true if err is an IDEMPOTENCY_CONFLICT error.
func IsIdempotencyConflict(err error) bool { return CodeOf(err) == CodeIdempotencyConflict }

// IsIdempotencyInProgress returns true if err is an IDEMPOTENCY_IN_PROGRESS error.
func IsIdempotencyInProgress(err error) bool { return CodeOf(err) == CodeIdempotencyInProgress }
