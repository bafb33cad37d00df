package repository

import (
	"testing"
	"time"

	"github.com/roach88/tenantcore/internal/store"
	"github.com/roach88/tenantcore/internal/testutil"
)

// doc maps onto the documents table created by the store migrations.
type doc struct {
	Title       string
	SourceURI   *string
	ContentHash string
	Status      string
	ChunkCount  int64
}

var docs = Table[doc]{
	Name:   "documents",
	Entity: "document",
	Columns: []Column[doc]{
		Col("title", func(d *doc) *string { return &d.Title }).Filterable(),
		Col("source_uri", func(d *doc) **string { return &d.SourceURI }).Filterable(),
		Col("content_hash", func(d *doc) *string { return &d.ContentHash }),
		Col("status", func(d *doc) *string { return &d.Status }).Filterable(),
		Col("chunk_count", func(d *doc) *int64 { return &d.ChunkCount }).Filterable(),
	},
}

type fixture struct {
	db    *store.DB
	clock *testutil.DeterministicClock
	ids   *testutil.SequentialIDs
	repo  *Repository[doc]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	clk := testutil.NewDeterministicClock(testutil.Epoch, time.Second)
	gen := testutil.NewSequentialIDs("doc")
	return &fixture{
		db:    db,
		clock: clk,
		ids:   gen,
		repo:  New(db, docs, WithClock(clk), WithIDGenerator(gen)),
	}
}

func newDoc(hash string) doc {
	return doc{Title: "title " + hash, ContentHash: hash, Status: "pending"}
}
