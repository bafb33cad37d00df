package harness

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tenantcore/internal/testutil"
)

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return s
}

func run(t *testing.T, content string) *Result {
	t.Helper()
	result, err := Run(t.Context(), mustParse(t, content))
	require.NoError(t, err)
	return result
}

func TestRun_CreateGetDelete(t *testing.T) {
	result := run(t, `
name: crud
description: create, read and delete
tenant: t1
steps:
  - op: create
    table: conversations
    as: c
    fields: { title: hello, owner_user_id: u1 }
    expect: { version: 1, fields: { title: hello, archived: false } }
  - op: get
    table: conversations
    ref: c
    expect: { found: true, fields: { owner_user_id: u1 } }
  - op: delete
    table: conversations
    ref: c
    expect: { deleted: true }
  - op: delete
    table: conversations
    ref: c
    expect: { deleted: false }
  - op: get
    table: conversations
    ref: c
    expect: { found: false }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 5)
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, OutcomeOK, ev.Outcome)
	}
	assert.Equal(t, "c", result.Trace[0].Result["id"])
	assert.Equal(t, map[string]any{"found": false}, result.Trace[4].Result)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	result := run(t, `
name: mismatch
description: wrong expectations are reported
tenant: t1
steps:
  - op: create
    table: documents
    as: d
    fields: { title: a, content_hash: h1, status: pending }
    expect: { version: 2 }
  - op: update
    table: documents
    ref: d
    version: 1
    set: { status: ready }
    expect: { error: CONCURRENCY }
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected version 2, got 1")
	assert.Contains(t, result.Errors[1], "expected error CONCURRENCY, got success")
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	result := run(t, `
name: unexpected
description: an error without an expect clause fails the run
tenant: t1
steps:
  - op: update
    table: documents
    id: missing
    version: 1
    set: { status: ready }
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "NOT_FOUND", result.Trace[0].Outcome)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected error")
}

func TestRun_MistypedSetIsRejected(t *testing.T) {
	result := run(t, `
name: mistyped
description: a value of the wrong type never reaches the row
tenant: t1
steps:
  - op: create
    table: documents
    as: d
    fields: { title: a, content_hash: h1, status: pending }
  - op: update
    table: documents
    ref: d
    version: 1
    set: { chunk_count: not-a-number }
    expect: { error: INVALID_ARGUMENT, reason: invalid_column_value }
  - op: update
    table: documents
    ref: d
    version: 1
    set: { chunk_count: 3 }
    expect: { version: 2, fields: { chunk_count: 3 } }
  - op: list
    table: documents
    limit: 10
    expect: { count: 1 }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "INVALID_ARGUMENT", result.Trace[1].Outcome)
	assert.Equal(t, "invalid_column_value", result.Trace[1].Reason)
}

func TestRun_UnknownTable(t *testing.T) {
	_, err := Run(t.Context(), mustParse(t, `
name: unknown_table
description: tables are checked when the step runs
tenant: t1
steps:
  - op: list
    table: invoices
    limit: 1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown table "invoices"`)
}

func TestRun_ForeignKeyAndTenantIsolation(t *testing.T) {
	result := run(t, `
name: fk
description: messages need a conversation of the same tenant
tenant: t1
steps:
  - op: create
    table: conversations
    as: c
    fields: { title: hello, owner_user_id: u1 }
  - op: create
    table: messages
    as: m
    fields: { conversation_id: nope, role: user, content: hi }
    expect: { error: FOREIGN_KEY_VIOLATION }
  - op: get
    table: conversations
    tenant: t2
    ref: c
    expect: { found: false }
  - op: update
    table: conversations
    tenant: t2
    ref: c
    version: 1
    set: { title: stolen }
    expect: { error: NOT_FOUND }
assertions:
  - type: final_state
    table: conversations
    ref: c
    expect: { title: hello, version: 1 }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FrozenClockTiesPageOnID(t *testing.T) {
	result := run(t, `
name: ties
description: equal created_at values are ordered by id
tenant: t1
clock_step: 0s
steps:
  - { op: create, table: conversations, as: a, fields: { title: a, owner_user_id: u } }
  - { op: create, table: conversations, as: b, fields: { title: b, owner_user_id: u } }
  - { op: create, table: conversations, as: c, fields: { title: c, owner_user_id: u } }
  - op: list
    table: conversations
    limit: 2
    expect: { ids: [c, b], has_more: true }
  - op: list
    table: conversations
    limit: 2
    cursor: next
    expect: { ids: [a], has_more: false }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_NamedCursor(t *testing.T) {
	result := run(t, `
name: named_cursor
description: a list step name can be reused as a cursor
tenant: t1
steps:
  - { op: create, table: conversations, as: a, fields: { title: a, owner_user_id: u } }
  - { op: create, table: conversations, as: b, fields: { title: b, owner_user_id: u } }
  - { op: create, table: conversations, as: c, fields: { title: c, owner_user_id: u } }
  - op: list
    table: conversations
    as: first
    limit: 1
    order: oldest_first
    expect: { ids: [a] }
  - op: list
    table: conversations
    limit: 5
    order: oldest_first
    expect: { ids: [a, b, c] }
  - op: list
    table: conversations
    limit: 5
    order: oldest_first
    cursor: first
    expect: { ids: [b, c], has_more: false }
  - op: list
    table: conversations
    limit: 5
    order: sideways
    expect: { error: INVALID_ARGUMENT, reason: invalid_order }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_TruncatedResponse(t *testing.T) {
	result := run(t, `
name: truncation
description: oversized bodies are cut and marked
tenant: t1
idempotency:
  max_response_bytes: 32
steps:
  - { op: reserve, key: k1, as: r }
  - op: complete
    ref: r
    body: "0123456789012345678901234567890123456789"
    expect: { truncated: true }
  - op: reserve
    key: k1
    expect: { replay: true, truncated: true }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	body := result.Trace[1].Result["body"].(string)
	assert.Len(t, body, 32)
	assert.Contains(t, body, "[truncated]")
}

func TestRun_ExpiredKeyIsReservedAgain(t *testing.T) {
	result := run(t, `
name: expiry
description: a completed key past its ttl can be reserved again
tenant: t1
idempotency:
  ttl: 1m
steps:
  - { op: reserve, key: k1, as: r1 }
  - { op: complete, ref: r1, status: 201 }
  - { op: reserve, key: k1, expect: { replay: true, status: 201 } }
  - { op: advance, duration: 2m }
  - { op: reserve, key: k1, as: r2, expect: { owned: true, took_over: false } }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ZeroLeaseNeverTakesOver(t *testing.T) {
	result := run(t, `
name: zero_lease
description: without a lease an in-flight key stays locked until it expires
tenant: t1
idempotency:
  lease: 0s
steps:
  - { op: reserve, key: k1, as: r1 }
  - { op: advance, duration: 1h }
  - { op: reserve, key: k1, expect: { error: IDEMPOTENCY_IN_PROGRESS } }
  - { op: release, ref: r1 }
  - { op: reserve, key: k1, expect: { owned: true } }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_InvalidIdempotencyConfig(t *testing.T) {
	_, err := Run(t.Context(), mustParse(t, `
name: bad_config
description: coordinator config is validated
tenant: t1
idempotency:
  ttl: 0s
steps:
  - { op: purge }
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idempotency config")
}

func TestRun_FreshDatabasePerRun(t *testing.T) {
	content := `
name: fresh
description: every run starts from an empty database
tenant: t1
steps:
  - op: create
    table: documents
    id: fixed
    fields: { title: a, content_hash: h1, status: pending }
`
	for range 2 {
		result := run(t, content)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
	}
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)

	result.AddError("boom")
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"boom"}, result.Errors)
}

func TestResult_AddTrace(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Op: OpAdvance, Outcome: OutcomeOK, Seq: 99})
	result.AddTrace(TraceEvent{Op: OpPurge, Outcome: OutcomeOK})

	require.Len(t, result.Trace, 2)
	assert.Equal(t, int64(1), result.Trace[0].Seq)
	assert.Equal(t, int64(2), result.Trace[1].Seq)
}

func TestNewHarness_DefaultClockStep(t *testing.T) {
	s := mustParse(t, "name: n\ndescription: d\ntenant: t\nsteps: [{op: purge}]\n")
	h, err := newHarness(s, testutil.NewSQLiteDB(t), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	first := h.clock.Now()
	assert.Equal(t, time.Second, h.clock.Now().Sub(first))
}
