package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable ids: prefix-0001, prefix-0002, ...
//
// The zero padding keeps bytewise order equal to generation order, which is
// what keyset tie-break assertions rely on.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. If prefix is empty, "id" is used.
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// NewID returns the next id.
//
// Implements ids.Generator interface.
func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
