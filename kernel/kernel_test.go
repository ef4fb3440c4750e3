package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddNoNulls(t *testing.T) {
	a := NewColumn([]float64{1, 2, 3})
	b := NewColumn([]float64{10, 20, 30})
	out := Add(a, b)
	assert.Equal(t, []float64{11, 22, 33}, out.Values)
	assert.False(t, out.IsNull(0))
	assert.False(t, out.IsNull(1))
	assert.False(t, out.IsNull(2))
}

func TestDivByZeroYieldsNull(t *testing.T) {
	a := NewColumn([]float64{10, 5})
	b := NewColumn([]float64{2, 0})
	out := Div(a, b)
	assert.Equal(t, 5.0, out.Values[0])
	assert.False(t, out.IsNull(0))
	assert.True(t, out.IsNull(1))
}

func TestNullPropagation(t *testing.T) {
	a := NewColumn([]float64{1, 2})
	a.SetNull(0)
	b := NewColumn([]float64{5, 6})
	out := Add(a, b)
	assert.True(t, out.IsNull(0))
	assert.False(t, out.IsNull(1))
	assert.Equal(t, 8.0, out.Values[1])
}

func TestUnrolledMatchesScalarLargeBatch(t *testing.T) {
	n := 1000
	av := make([]float64, n)
	bv := make([]float64, n)
	for i := 0; i < n; i++ {
		av[i] = float64(i)
		bv[i] = float64(2 * i)
	}
	out := Add(NewColumn(av), NewColumn(bv))
	for i := 0; i < n; i++ {
		assert.Equal(t, float64(3*i), out.Values[i])
	}
}

func TestKahanSum(t *testing.T) {
	col := NewColumn([]float64{1, 2, 3, 4})
	assert.Equal(t, 10.0, Sum(col))
}

func TestAvgExcludesNulls(t *testing.T) {
	col := NewColumn([]float64{10, 20, 30})
	col.SetNull(1)
	avg, ok := Avg(col)
	assert.True(t, ok)
	assert.Equal(t, 20.0, avg) // (10+30)/2
}

func TestMinMaxReduce(t *testing.T) {
	col := NewColumn([]float64{5, 1, 9, 3})
	min, pos, ok := MinReduce(col)
	assert.True(t, ok)
	assert.Equal(t, 1.0, min)
	assert.Equal(t, 1, pos)

	max, pos, ok := MaxReduce(col)
	assert.True(t, ok)
	assert.Equal(t, 9.0, max)
	assert.Equal(t, 2, pos)
}

func TestBooleanAndOrNot(t *testing.T) {
	a := NewBoolColumn(3)
	a.Set(0, true)
	a.Set(1, true)
	b := NewBoolColumn(3)
	b.Set(1, true)
	b.Set(2, true)

	and := And(a, b)
	v, _ := and.Get(0)
	assert.False(t, v)
	v, _ = and.Get(1)
	assert.True(t, v)

	not := Not(a)
	v, _ = not.Get(2)
	assert.True(t, v)
}

func TestPopcount(t *testing.T) {
	a := NewBoolColumn(5)
	a.Set(0, true)
	a.Set(3, true)
	assert.Equal(t, 2, Popcount(a))
}
