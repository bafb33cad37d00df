// Package repository implements tenant-scoped CRUD over versioned records.
//
// Every operation takes the tenant id as an explicit argument and every
// statement filters on it; a record owned by another tenant is
// indistinguishable from a missing one.
//
// Updates are a single compare-and-swap statement on (id, tenant_id,
// version). A lost race is reported as a CONCURRENCY error carrying the
// expected and actual version; it is never retried here.
//
// Listing is keyset paginated on (created_at, id) with opaque cursors from
// package cursor.
//
// A Repository runs on any store.Executor: the pool for standalone calls, or
// a unit-of-work transaction so several repositories commit together.
package repository
