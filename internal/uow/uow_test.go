package uow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/tenantcore/internal/errs"
	"github.com/roach88/tenantcore/internal/model"
	"github.com/roach88/tenantcore/internal/repository"
	"github.com/roach88/tenantcore/internal/store"
	"github.com/roach88/tenantcore/internal/testutil"
)

func assertNoConnsInUse(t *testing.T, db *store.DB) {
	t.Helper()
	assert.Equal(t, 0, db.SQL().Stats().InUse, "connection leaked")
}

func countConversations(t *testing.T, db *store.DB, tenantID string) int {
	t.Helper()
	page, err := repository.New(db, model.Conversations).List(context.Background(), tenantID, repository.ListOptions{Limit: 100})
	require.NoError(t, err)
	return len(page.Items)
}

func TestRun_CommitsAllRepositories(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	m := NewManager(db)
	ctx := context.Background()

	var convID, msgID string
	err := m.Do(ctx, func(ctx context.Context, tx *Tx) error {
		conv, err := Repo(tx, model.Conversations).Create(ctx, "tenant-a", model.Conversation{Title: "t", OwnerUserID: "u"})
		if err != nil {
			return err
		}
		msg, err := Repo(tx, model.Messages).Create(ctx, "tenant-a", model.Message{ConversationID: conv.ID, Role: model.RoleUser, Content: "hi"})
		if err != nil {
			return err
		}
		convID, msgID = conv.ID, msg.ID
		return nil
	})
	require.NoError(t, err)
	assertNoConnsInUse(t, db)

	_, ok, err := repository.New(db, model.Conversations).Get(ctx, "tenant-a", convID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = repository.New(db, model.Messages).Get(ctx, "tenant-a", msgID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_ErrorRollsBackEverything(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	m := NewManager(db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.Do(ctx, func(ctx context.Context, tx *Tx) error {
		conv, err := Repo(tx, model.Conversations).Create(ctx, "tenant-a", model.Conversation{Title: "t", OwnerUserID: "u"})
		if err != nil {
			return err
		}
		if _, err := Repo(tx, model.Messages).Create(ctx, "tenant-a", model.Message{ConversationID: conv.ID, Role: model.RoleUser}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assertNoConnsInUse(t, db)
	assert.Equal(t, 0, countConversations(t, db, "tenant-a"))
}

func TestRun_TypedErrorRollsBack(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	m := NewManager(db)
	ctx := context.Background()

	err := m.Do(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := Repo(tx, model.Conversations).Create(ctx, "tenant-a", model.Conversation{Title: "t", OwnerUserID: "u"}); err != nil {
			return err
		}
		_, err := Repo(tx, model.Messages).Create(ctx, "tenant-a", model.Message{ConversationID: "missing", Role: model.RoleUser})
		return err
	})
	assert.True(t, errs.IsForeignKey(err), "got %v", err)
	assert.Equal(t, 0, countConversations(t, db, "tenant-a"))
}

func TestRun_PanicRollsBackAndPropagates(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	m := NewManager(db)
	ctx := context.Background()

	assert.PanicsWithValue(t, "boom", func() {
		_ = m.Do(ctx, func(ctx context.Context, tx *Tx) error {
			if _, err := Repo(tx, model.Conversations).Create(ctx, "tenant-a", model.Conversation{Title: "t", OwnerUserID: "u"}); err != nil {
				return err
			}
			panic("boom")
		})
	})
	assertNoConnsInUse(t, db)
	assert.Equal(t, 0, countConversations(t, db, "tenant-a"))

	// The write lock was released: a later unit of work succeeds.
	err := m.Do(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := Repo(tx, model.Conversations).Create(ctx, "tenant-a", model.Conversation{Title: "t", OwnerUserID: "u"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countConversations(t, db, "tenant-a"))
}

func TestRun_CASConflictInsideUnit(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	m := NewManager(db)
	ctx := context.Background()

	conv, err := repository.New(db, model.Conversations).Create(ctx, "tenant-a", model.Conversation{Title: "t", OwnerUserID: "u"})
	require.NoError(t, err)

	err = m.Do(ctx, func(ctx context.Context, tx *Tx) error {
		repo := Repo(tx, model.Conversations)
		if _, err := repo.Update(ctx, "tenant-a", conv.ID, 1, repository.Set("title", "first")); err != nil {
			return err
		}
		_, err := repo.Update(ctx, "tenant-a", conv.ID, 1, repository.Set("title", "second"))
		return err
	})
	require.True(t, errs.IsConcurrency(err))

	got, err := repository.New(db, model.Conversations).MustGet(ctx, "tenant-a", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "t", got.Fields.Title)
	assert.Equal(t, int64(1), got.Version)
}

func TestRun_SingleUse(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	m := NewManager(db)
	ctx := context.Background()
	u := m.New()

	err := u.Run(ctx, func(ctx context.Context, tx *Tx) error {
		assert.ErrorIs(t, u.Run(context.Background(), func(context.Context, *Tx) error { return nil }), ErrReentrant)
		return nil
	})
	require.NoError(t, err)

	err = u.Run(ctx, func(context.Context, *Tx) error { return nil })
	assert.ErrorIs(t, err, ErrAlreadyUsed)
	assertNoConnsInUse(t, db)
}

func TestRun_Nested(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	m := NewManager(db)

	called := false
	err := m.Do(context.Background(), func(ctx context.Context, tx *Tx) error {
		return m.Do(ctx, func(context.Context, *Tx) error {
			called = true
			return nil
		})
	})
	assert.ErrorIs(t, err, ErrNested)
	assert.False(t, called)
	assertNoConnsInUse(t, db)
}

func TestRun_CanceledContext(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	m := NewManager(db)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.Do(ctx, func(context.Context, *Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assertNoConnsInUse(t, db)
}

// Units of work serialize on SQLite, so read-modify-write inside one never
// loses an increment.
func TestRun_ConcurrentUnits(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	m := NewManager(db)
	ctx := context.Background()

	doc, err := repository.New(db, model.Documents).Create(ctx, "tenant-a", model.Document{Title: "d", ContentHash: "h", Status: model.DocumentPending})
	require.NoError(t, err)

	const workers = 6
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- m.Do(ctx, func(ctx context.Context, tx *Tx) error {
				repo := Repo(tx, model.Documents)
				cur, err := repo.MustGet(ctx, "tenant-a", doc.ID)
				if err != nil {
					return err
				}
				_, err = repo.Update(ctx, "tenant-a", doc.ID, cur.Version, repository.Set("chunk_count", cur.Fields.ChunkCount+1))
				return err
			})
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := repository.New(db, model.Documents).MustGet(ctx, "tenant-a", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.Fields.ChunkCount)
	assert.Equal(t, int64(1+workers), got.Version)
	assertNoConnsInUse(t, db)
}

func TestRun_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	db := testutil.NewSQLiteDB(t)
	m := NewManager(db,
		WithTracerProvider(tp),
		WithRepositoryOptions(repository.WithTracerProvider(tp)),
	)

	err := m.Do(context.Background(), func(ctx context.Context, tx *Tx) error {
		_, err := Repo(tx, model.Conversations).Create(ctx, "tenant-a", model.Conversation{Title: "t", OwnerUserID: "u"})
		return err
	})
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	create, run := spans[0], spans[1]
	assert.Equal(t, "tenantcore.repository.create", create.Name())
	assert.Equal(t, "tenantcore.uow.run", run.Name())
	assert.Equal(t, run.SpanContext().SpanID(), create.Parent().SpanID())
}
