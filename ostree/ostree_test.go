package ostree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstLast(t *testing.T) {
	tr := New()
	tr.Insert(Key{Value: 5, RowID: 1}, "a")
	tr.Insert(Key{Value: 1, RowID: 2}, "b")
	tr.Insert(Key{Value: 9, RowID: 3}, "c")

	k, p, ok := tr.First()
	assert.True(t, ok)
	assert.Equal(t, 1, k.Value)
	assert.Equal(t, "b", p)

	k, p, ok = tr.Last()
	assert.True(t, ok)
	assert.Equal(t, 9, k.Value)
	assert.Equal(t, "c", p)
}

func TestSelectKthAndRank(t *testing.T) {
	tr := New()
	for i, v := range []int{30, 10, 20, 50, 40} {
		tr.Insert(Key{Value: v, RowID: i}, v)
	}
	k, _, ok := tr.SelectKth(0)
	assert.True(t, ok)
	assert.Equal(t, 10, k.Value)

	k, _, ok = tr.SelectKth(4)
	assert.True(t, ok)
	assert.Equal(t, 50, k.Value)

	assert.Equal(t, 1, tr.Rank(Key{Value: 20, RowID: 2}))
}

func TestRemoveRebalances(t *testing.T) {
	tr := New()
	for i := 0; i < 100; i++ {
		tr.Insert(Key{Value: i, RowID: i}, i)
	}
	for i := 0; i < 100; i += 2 {
		tr.Remove(Key{Value: i, RowID: i})
	}
	assert.Equal(t, 50, tr.Len())
	k, _, ok := tr.First()
	assert.True(t, ok)
	assert.Equal(t, 1, k.Value)
}

func TestStableTiebreakByRowID(t *testing.T) {
	tr := New()
	tr.Insert(Key{Value: 5, RowID: 2}, "second")
	tr.Insert(Key{Value: 5, RowID: 1}, "first")
	k, p, ok := tr.First()
	assert.True(t, ok)
	assert.Equal(t, 1, k.RowID)
	assert.Equal(t, "first", p)
}
