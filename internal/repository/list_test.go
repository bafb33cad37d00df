package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tenantcore/internal/cursor"
	"github.com/roach88/tenantcore/internal/errs"
	"github.com/roach88/tenantcore/internal/queryir"
	"github.com/roach88/tenantcore/internal/testutil"
)

func seed(t *testing.T, repo *Repository[doc], tenantID string, n int) []Record[doc] {
	t.Helper()
	out := make([]Record[doc], 0, n)
	for i := 0; i < n; i++ {
		rec, err := repo.Create(context.Background(), tenantID, newDoc(tenantID+string(rune('a'+i))))
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func listAll(t *testing.T, repo *Repository[doc], tenantID string, opts ListOptions) ([]string, []int) {
	t.Helper()
	var ids []string
	var sizes []int
	for i := 0; ; i++ {
		require.Less(t, i, 100, "pagination did not terminate")
		page, err := repo.List(context.Background(), tenantID, opts)
		require.NoError(t, err)
		sizes = append(sizes, len(page.Items))
		for _, rec := range page.Items {
			ids = append(ids, rec.ID)
		}
		if !page.HasMore() {
			return ids, sizes
		}
		opts.Cursor = page.NextCursor
	}
}

// Five records paged two at a time: 2, 2, 1, newest first, every id once.
func TestList_Pagination(t *testing.T) {
	f := newFixture(t)
	recs := seed(t, f.repo, "tenant-a", 5)

	ids, sizes := listAll(t, f.repo, "tenant-a", ListOptions{Limit: 2})
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []string{recs[4].ID, recs[3].ID, recs[2].ID, recs[1].ID, recs[0].ID}, ids)
}

func TestList_CursorEncodesLastItem(t *testing.T) {
	f := newFixture(t)
	recs := seed(t, f.repo, "tenant-a", 3)

	page, err := f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	pos, err := cursor.Decode(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, recs[1].ID, pos.ID)
	assert.Equal(t, recs[1].CreatedAt, pos.CreatedAt)
}

func TestList_ExactPageHasNoCursor(t *testing.T) {
	f := newFixture(t)
	seed(t, f.repo, "tenant-a", 2)

	page, err := f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.HasMore())
	assert.Empty(t, page.NextCursor)
}

func TestList_Empty(t *testing.T) {
	f := newFixture(t)

	page, err := f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore())
}

func TestList_OldestFirst(t *testing.T) {
	f := newFixture(t)
	recs := seed(t, f.repo, "tenant-a", 5)

	ids, sizes := listAll(t, f.repo, "tenant-a", ListOptions{Limit: 3, Order: OldestFirst})
	assert.Equal(t, []int{3, 2}, sizes)
	assert.Equal(t, []string{recs[0].ID, recs[1].ID, recs[2].ID, recs[3].ID, recs[4].ID}, ids)
}

// With a frozen clock every created_at ties; the id breaks the tie.
func TestList_TimestampTies(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := New(db, docs,
		WithClock(testutil.NewDeterministicClock(testutil.Epoch, 0)),
		WithIDGenerator(testutil.NewSequentialIDs("doc")),
	)
	recs := seed(t, repo, "tenant-a", 7)
	for _, rec := range recs {
		require.Equal(t, testutil.Epoch, rec.CreatedAt)
	}

	for _, order := range []Order{NewestFirst, OldestFirst} {
		t.Run(order.String(), func(t *testing.T) {
			for _, limit := range []int{1, 2, 3, 7, 100} {
				ids, _ := listAll(t, repo, "tenant-a", ListOptions{Limit: limit, Order: order})
				require.Len(t, ids, 7, "limit %d", limit)

				seen := map[string]bool{}
				for _, id := range ids {
					assert.False(t, seen[id], "duplicate %s at limit %d", id, limit)
					seen[id] = true
				}
				if order == NewestFirst {
					assert.Equal(t, "doc-0007", ids[0])
				} else {
					assert.Equal(t, "doc-0001", ids[0])
				}
			}
		})
	}
}

// Rows inserted after the first page is fetched sort ahead of the cursor and
// are not returned by later pages; nothing already seen is repeated.
func TestList_StableUnderInsert(t *testing.T) {
	f := newFixture(t)
	recs := seed(t, f.repo, "tenant-a", 4)

	first, err := f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: 2})
	require.NoError(t, err)

	seed(t, f.repo, "tenant-b", 1)
	_, err = f.repo.Create(context.Background(), "tenant-a", newDoc("late"))
	require.NoError(t, err)

	second, err := f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.Equal(t, recs[1].ID, second.Items[0].ID)
	assert.Equal(t, recs[0].ID, second.Items[1].ID)
	assert.False(t, second.HasMore())
}

func TestList_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	a := seed(t, f.repo, "tenant-a", 3)
	seed(t, f.repo, "tenant-b", 4)

	ids, _ := listAll(t, f.repo, "tenant-a", ListOptions{Limit: 100})
	assert.ElementsMatch(t, []string{a[0].ID, a[1].ID, a[2].ID}, ids)

	// A cursor minted for one tenant only positions within the other.
	page, err := f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: 1})
	require.NoError(t, err)
	rest, err := f.repo.List(context.Background(), "tenant-b", ListOptions{Limit: 100, Cursor: page.NextCursor})
	require.NoError(t, err)
	for _, rec := range rest.Items {
		assert.Equal(t, "tenant-b", rec.TenantID)
	}
}

// Limits 0 and 101 are rejected before any query runs.
func TestList_LimitOutOfRange(t *testing.T) {
	f := newFixture(t)

	for _, limit := range []int{0, -1, MaxLimit + 1} {
		_, err := f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: limit})
		require.Error(t, err, "limit %d", limit)
		assert.True(t, errs.IsInvalidArgument(err))
		assert.Equal(t, "limit_out_of_range", errs.ReasonOf(err))
		assert.ErrorIs(t, err, errs.InvalidArgument("limit_out_of_range"))
	}

	for _, limit := range []int{MinLimit, MaxLimit} {
		_, err := f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: limit})
		assert.NoError(t, err, "limit %d", limit)
	}
}

func TestList_InvalidOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: 1, Order: Order(9)})
	assert.Equal(t, "invalid_order", errs.ReasonOf(err))
}

func TestList_InvalidCursor(t *testing.T) {
	f := newFixture(t)

	for _, token := range []string{"!!!", "bm9zZXBhcmF0b3I", cursor.Encode(time.Now(), "")} {
		_, err := f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: 1, Cursor: token})
		assert.True(t, errs.IsInvalidCursor(err), "token %q: %v", token, err)
	}
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recs := seed(t, f.repo, "tenant-a", 5)

	for i, rec := range recs {
		status := "pending"
		if i%2 == 0 {
			status = "ready"
		}
		_, err := f.repo.Update(ctx, "tenant-a", rec.ID, rec.Version,
			Set("status", status), Set("chunk_count", int64(i*10)))
		require.NoError(t, err)
	}

	ready, err := queryir.Where("status", "eq", "ready")
	require.NoError(t, err)
	big, err := queryir.Where("chunk_count", "gte", 20)
	require.NoError(t, err)

	page, err := f.repo.List(ctx, "tenant-a", ListOptions{Limit: 10, Filters: []queryir.Predicate{ready}})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)

	page, err = f.repo.List(ctx, "tenant-a", ListOptions{Limit: 10, Filters: []queryir.Predicate{ready, big}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, recs[4].ID, page.Items[0].ID)
	assert.Equal(t, recs[2].ID, page.Items[1].ID)

	prefix, err := queryir.Where("title", "prefix", "title tenant-a")
	require.NoError(t, err)
	page, err = f.repo.List(ctx, "tenant-a", ListOptions{Limit: 10, Filters: []queryir.Predicate{prefix}})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)

	null, err := queryir.Where("source_uri", "is_null", nil)
	require.NoError(t, err)
	page, err = f.repo.List(ctx, "tenant-a", ListOptions{Limit: 10, Filters: []queryir.Predicate{null}})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)

	// Filtered pagination still visits every match once.
	ids, sizes := listAll(t, f.repo, "tenant-a", ListOptions{Limit: 1, Filters: []queryir.Predicate{ready}})
	assert.Equal(t, []int{1, 1, 1}, sizes)
	assert.Equal(t, []string{recs[4].ID, recs[2].ID, recs[0].ID}, ids)
}

func TestList_UnknownFilterField(t *testing.T) {
	f := newFixture(t)

	for _, field := range []string{"content_hash", "tenant_id", "bogus"} {
		p, err := queryir.Where(field, "eq", "x")
		require.NoError(t, err)
		_, err = f.repo.List(context.Background(), "tenant-a", ListOptions{Limit: 1, Filters: []queryir.Predicate{p}})
		assert.Equal(t, "unknown_filter_field", errs.ReasonOf(err), "field %s", field)
	}
}
