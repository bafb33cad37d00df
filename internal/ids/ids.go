// Package ids generates record identifiers.
package ids

import "github.com/google/uuid"

// Generator produces unique record ids.
type Generator interface {
	NewID() string
}

// UUIDv7 generates time-sortable UUIDv7 ids.
//
// UUIDv7 embeds a millisecond timestamp in the most significant bits, so ids
// created later sort later. Keyset ordering never relies on that; created_at
// is the primary sort key and the id only breaks ties.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// NewID returns a hyphenated UUIDv7 string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Func adapts a function to Generator.
type Func func() string

// NewID calls f.
func (f Func) NewID() string { return f() }
