package dimension

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddAndEqual(t *testing.T) {
	d := New("c")
	d.AddDocument(0, "a")
	d.AddDocument(1, "b")
	d.AddDocument(2, "a")

	rows := d.Equal("a")
	sort.Ints(rows)
	assert.Equal(t, []int{0, 2}, rows)
	assert.Equal(t, 2, d.Cardinality())
	assert.Equal(t, 3, d.Total())
}

func TestRemoveDocumentUsesRowToValue(t *testing.T) {
	d := New("c")
	d.AddDocument(0, "a")
	d.AddDocument(1, "a")
	d.RemoveDocument(0)
	assert.Equal(t, []int{1}, d.Equal("a"))
	assert.Equal(t, 1, d.Cardinality())
}

func TestRangeInclusive(t *testing.T) {
	d := New("v")
	for i := 0; i < 10; i++ {
		d.AddDocument(i, i)
	}
	rows := d.Range(3, 6, RangeSpec{LoInclusive: true, HiInclusive: true})
	sort.Ints(rows)
	assert.Equal(t, []int{3, 4, 5, 6}, rows)

	rows = d.Range(3, 6, RangeSpec{LoInclusive: false, HiInclusive: false})
	sort.Ints(rows)
	assert.Equal(t, []int{4, 5}, rows)
}

func TestSelectivity(t *testing.T) {
	d := New("c")
	d.AddDocument(0, "a")
	d.AddDocument(1, "a")
	assert.InDelta(t, 0.5, d.Selectivity(), 1e-9)
}
