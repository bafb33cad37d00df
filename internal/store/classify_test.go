package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tenantcore/internal/errs"
)

func insertConversation(ctx context.Context, db *DB, tenantID, id string) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO conversations (id, tenant_id, version, created_at, updated_at, title, owner_user_id, archived) VALUES (?, ?, 1, 1, 1, 't', 'u', 0)",
		id, tenantID)
	return err
}

func TestClassify_SQLiteConstraints(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	require.NoError(t, insertConversation(ctx, db, "t1", "c1"))

	err := Classify(insertConversation(ctx, db, "t1", "c1"), "insert conversation", "conversation")
	assert.True(t, errs.IsDuplicate(err), "primary key: %v", err)
	assert.True(t, IsUniqueViolation(insertConversation(ctx, db, "t1", "c1")))

	// The same id under another tenant is a different row.
	require.NoError(t, insertConversation(ctx, db, "t2", "c1"))

	_, fkErr := db.ExecContext(ctx,
		"INSERT INTO messages (id, tenant_id, version, created_at, updated_at, conversation_id, role, content, token_count) VALUES ('m1', 't3', 1, 1, 1, 'c1', 'user', 'hi', 0)")
	err = Classify(fkErr, "insert message", "message")
	assert.True(t, errs.IsForeignKey(err), "foreign key: %v", err)
}

func TestClassify_Postgres(t *testing.T) {
	unique := Classify(&pgconn.PgError{Code: "23505"}, "insert", "document")
	assert.True(t, errs.IsDuplicate(unique))

	fk := Classify(&pgconn.PgError{Code: "23503"}, "insert", "message")
	assert.True(t, errs.IsForeignKey(fk))

	other := Classify(&pgconn.PgError{Code: "42601"}, "insert", "message")
	assert.False(t, errs.IsDuplicate(other))
	assert.Equal(t, errs.Code(""), errs.CodeOf(other))
}

func TestClassify_PassesThroughInfrastructureErrors(t *testing.T) {
	assert.NoError(t, Classify(nil, "op", "x"))

	cause := errors.New("connection reset by peer")
	err := Classify(cause, "get document", "document")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "get document: connection reset by peer", err.Error())
	assert.Equal(t, errs.Code(""), errs.CodeOf(err))

	canceled := Classify(context.Canceled, "list", "document")
	assert.ErrorIs(t, canceled, context.Canceled)
}
