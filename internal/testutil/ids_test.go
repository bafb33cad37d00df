package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs(t *testing.T) {
	gen := NewSequentialIDs("doc")

	assert.Equal(t, "doc-0001", gen.NewID())
	assert.Equal(t, "doc-0002", gen.NewID())

	gen.Reset()
	assert.Equal(t, "doc-0001", gen.NewID())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "id-0001", NewSequentialIDs("").NewID())
}

func TestSequentialIDs_SortInGenerationOrder(t *testing.T) {
	gen := NewSequentialIDs("x")
	prev := gen.NewID()
	for i := 0; i < 20; i++ {
		next := gen.NewID()
		assert.Less(t, prev, next)
		prev = next
	}
}
