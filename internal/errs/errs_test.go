package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := NotFound("document", "doc-1")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrDuplicate))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConcurrency(err))
}

func TestError_IsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("update document: %w", Concurrency("document", "doc-1", 1, 2))

	assert.True(t, errors.Is(err, ErrConcurrency))
	assert.True(t, IsConcurrency(err))
	assert.Equal(t, CodeConcurrency, CodeOf(err))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "1", e.Details["expected_version"])
	assert.Equal(t, "2", e.Details["actual_version"])
}

func TestError_IsMatchesReasonWhenTargetSetsIt(t *testing.T) {
	err := InvalidArgument("limit_out_of_range")

	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.True(t, errors.Is(err, InvalidArgument("limit_out_of_range")))
	assert.False(t, errors.Is(err, InvalidArgument("no_changes")))
	assert.Equal(t, "limit_out_of_range", ReasonOf(err))
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed: documents.content_hash")
	err := Duplicate("document", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsDuplicate(err))
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "not found",
			err:  NotFound("document", "doc-1"),
			want: "NOT_FOUND: record not found (document=doc-1)",
		},
		{
			name: "reason only",
			err:  InvalidArgument("limit_out_of_range"),
			want: "INVALID_ARGUMENT(limit_out_of_range)",
		},
		{
			name: "details sorted",
			err:  Concurrency("document", "doc-1", 1, 3),
			want: "CONCURRENCY: version mismatch (document=doc-1) [actual_version=3, expected_version=1]",
		},
		{
			name: "entity without id",
			err:  ForeignKey("message", nil),
			want: "FOREIGN_KEY_VIOLATION: foreign key constraint violated (message)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCodeOf_NonTypedError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("connection refused")))
	assert.Equal(t, "", ReasonOf(nil))
	assert.False(t, IsNotFound(nil))
}

func TestIdempotencyErrors(t *testing.T) {
	assert.True(t, IsIdempotencyConflict(IdempotencyConflict("k1")))
	assert.True(t, IsIdempotencyInProgress(IdempotencyInProgress("k1")))
	assert.True(t, errors.Is(IdempotencyConflict("k1"), ErrIdempotencyConflict))
	assert.False(t, errors.Is(IdempotencyConflict("k1"), ErrIdempotencyInProgress))
	assert.True(t, IsInvalidCursor(InvalidCursor("bad_base64", nil)))
	assert.True(t, IsForeignKey(ForeignKey("message", nil)))
	assert.True(t, IsInvalidArgument(InvalidArgumentf("unknown_column", "column %q", "x")))
}

func TestOwnershipLost(t *testing.T) {
	err := OwnershipLost("idempotency_key", "k1")
	assert.True(t, IsConcurrency(err))
	assert.Equal(t, "ownership_lost", ReasonOf(err))
	assert.Equal(t, "CONCURRENCY(ownership_lost): reservation is owned by another caller (idempotency_key=k1)", err.Error())
}
