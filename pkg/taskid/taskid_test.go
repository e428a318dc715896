package taskid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_NewRootIsStrictlyIncreasing(t *testing.T) {
	c := NewCounter()

	a := c.NewRoot()
	b := c.NewRoot()

	require.NotEqual(t, a, b, "two roots from the same generator must never collide")
	assert.True(t, len(a) >= 4 && len(a) <= 6, "root id should be 4-6 chars for early counter values, got %q", a)
}

func TestCounter_ChildAppendsStep(t *testing.T) {
	c := NewCounter()
	root := c.NewRoot()

	child := c.Child(root, 1)
	grandchild := c.Child(child, 3)

	assert.Equal(t, root+".1", child)
	assert.Equal(t, child+".3", grandchild)
}

func TestCounter_WideningNeverRepeats(t *testing.T) {
	c := NewCounter()
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		id := c.NewRoot()
		require.False(t, seen[id], "id %q minted twice", id)
		seen[id] = true
	}
}

func TestUUIDGenerator_NeverCollides(t *testing.T) {
	g := NewUUIDGenerator()
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := g.NewRoot()
		require.False(t, seen[id])
		seen[id] = true
		assert.Len(t, id, 36, "UUID string form should be 36 characters")
	}
}
