// Package multiset implements a sorted multiset with O(log n) min/max,
// backing $min/$max accumulators so deletes never require a full rescan
// (spec §4.2).
package multiset

import (
	"sort"

	"github.com/TomNeyland/modash.js-sub008/value"
)

// MultiSet maps values to reference counts while maintaining a sorted
// sequence of distinct values for O(1) endpoint access.
type MultiSet struct {
	counts  map[string]int
	samples map[string]interface{} // canonical key -> representative value
	sorted  []string                // distinct keys, kept sorted by value order
}

// New returns an empty MultiSet.
func New() *MultiSet {
	return &MultiSet{
		counts:  make(map[string]int),
		samples: make(map[string]interface{}),
	}
}

func (m *MultiSet) valueOf(key string) interface{} {
	return m.samples[key]
}

// Add increments v's reference count, inserting it into the sorted
// sequence via binary search if it is new.
func (m *MultiSet) Add(v interface{}) {
	key := value.KeyOf(v)
	if m.counts[key] == 0 {
		m.samples[key] = v
		idx := sort.Search(len(m.sorted), func(i int) bool {
			return value.Compare(m.valueOf(m.sorted[i]), v) >= 0
		})
		m.sorted = append(m.sorted, "")
		copy(m.sorted[idx+1:], m.sorted[idx:])
		m.sorted[idx] = key
	}
	m.counts[key]++
}

// Remove decrements v's reference count; when it reaches zero, v is
// removed from the sorted sequence. Removing an absent value is a no-op.
func (m *MultiSet) Remove(v interface{}) {
	key := value.KeyOf(v)
	c, ok := m.counts[key]
	if !ok || c <= 0 {
		return
	}
	c--
	if c == 0 {
		delete(m.counts, key)
		delete(m.samples, key)
		idx := sort.Search(len(m.sorted), func(i int) bool {
			return value.Compare(m.valueOf(m.sorted[i]), v) >= 0
		})
		for idx < len(m.sorted) && m.sorted[idx] != key {
			idx++
		}
		if idx < len(m.sorted) {
			m.sorted = append(m.sorted[:idx], m.sorted[idx+1:]...)
		}
		return
	}
	m.counts[key] = c
}

// Min returns the smallest value and whether the set is non-empty.
func (m *MultiSet) Min() (interface{}, bool) {
	if len(m.sorted) == 0 {
		return nil, false
	}
	return m.samples[m.sorted[0]], true
}

// Max returns the largest value and whether the set is non-empty.
func (m *MultiSet) Max() (interface{}, bool) {
	if len(m.sorted) == 0 {
		return nil, false
	}
	return m.samples[m.sorted[len(m.sorted)-1]], true
}

// Len returns the number of distinct values currently present.
func (m *MultiSet) Len() int {
	return len(m.sorted)
}

// Empty reports whether no values remain.
func (m *MultiSet) Empty() bool {
	return len(m.sorted) == 0
}
