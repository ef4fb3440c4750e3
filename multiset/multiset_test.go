package multiset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinMax(t *testing.T) {
	m := New()
	m.Add(5)
	m.Add(1)
	m.Add(9)
	lo, ok := m.Min()
	assert.True(t, ok)
	assert.Equal(t, 1, lo)
	hi, ok := m.Max()
	assert.True(t, ok)
	assert.Equal(t, 9, hi)
}

func TestRemoveToEmpty(t *testing.T) {
	m := New()
	m.Add(3)
	m.Remove(3)
	assert.True(t, m.Empty())
	_, ok := m.Min()
	assert.False(t, ok)
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	m := New()
	m.Add(3)
	m.Remove(7)
	assert.Equal(t, 1, m.Len())
}

func TestDuplicateValues(t *testing.T) {
	m := New()
	m.Add(4)
	m.Add(4)
	assert.Equal(t, 1, m.Len())
	m.Remove(4)
	lo, ok := m.Min()
	assert.True(t, ok)
	assert.Equal(t, 4, lo)
	m.Remove(4)
	assert.True(t, m.Empty())
}
