package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareOrdering(t *testing.T) {
	cases := []struct {
		lo, hi interface{}
	}{
		{nil, 1},
		{1, "a"},
		{"a", Array{1}},
		{Array{1}, Document{"a": 1}},
		{Document{"a": 1}, false},
		{false, true},
		{true, "unused"}, // timestamps covered separately
	}
	for _, c := range cases[:len(cases)-1] {
		assert.Equal(t, -1, Compare(c.lo, c.hi), "%v < %v", c.lo, c.hi)
		assert.Equal(t, 1, Compare(c.hi, c.lo), "%v > %v", c.hi, c.lo)
	}
}

func TestCompareNumbers(t *testing.T) {
	assert.Equal(t, 0, Compare(int64(3), 3.0))
	assert.Equal(t, -1, Compare(2, 3))
	assert.Equal(t, 1, Compare(3.5, 2))
}

func TestCompareNaN(t *testing.T) {
	nan := 0.0
	nan = nan / nan
	assert.Equal(t, 0, Compare(nan, nan))
	assert.Equal(t, 1, Compare(nan, 5.0))
	assert.Equal(t, -1, Compare(5.0, nan))
}

func TestCompareArrays(t *testing.T) {
	assert.Equal(t, -1, Compare(Array{1, 2}, Array{1, 2, 3}))
	assert.Equal(t, 0, Compare(Array{1, 2}, Array{1, 2}))
	assert.Equal(t, -1, Compare(Array{1, 1}, Array{1, 2}))
}

func TestResolvePath(t *testing.T) {
	doc := Document{"a": Document{"b": 1}}
	assert.Equal(t, 1, Resolve(doc, "a.b"))
	assert.True(t, IsMissing(Resolve(doc, "a.c")))
	assert.True(t, IsMissing(Resolve(doc, "x.y")))
}

func TestResolveArrayElementwise(t *testing.T) {
	doc := Document{"items": Array{
		Document{"v": 1},
		Document{"v": 2},
		Document{"v": 3},
	}}
	got := Resolve(doc, "items.v")
	assert.Equal(t, Array{1, 2, 3}, got)
}

func TestResolveArrayIndex(t *testing.T) {
	doc := Document{"a": Array{10, 20, 30}}
	assert.Equal(t, 20, Resolve(doc, "a.1"))
	assert.True(t, IsMissing(Resolve(doc, "a.9")))
}

func TestKeyOfStructuralEquality(t *testing.T) {
	a := Document{"x": 1, "y": "z"}
	b := Document{"y": "z", "x": 1}
	assert.Equal(t, KeyOf(a), KeyOf(b))

	c := Document{"x": 1, "y": "zz"}
	assert.NotEqual(t, KeyOf(a), KeyOf(c))
}

func TestKeyOfNumericEquivalence(t *testing.T) {
	assert.Equal(t, KeyOf(int64(5)), KeyOf(5.0))
}
