// Package topk implements the bounded stable Top-K buffer used by the
// $sort+$limit fusion (spec §4.11). It provides a single, ungrouped
// buffer; there is no per-group variant for grouped Top-K.
package topk

import (
	"sort"

	"github.com/TomNeyland/modash.js-sub008/value"
)

// SortKey is one field of a $sort specification: a field path and
// direction (+1 ascending, -1 descending).
type SortKey struct {
	Path string
	Dir  int
}

// Item is one buffered row: its sort key values (one per SortKey, in
// spec order), the payload document, its row-id, and an insertion
// sequence used to break exact ties stably.
type Item struct {
	Keys      []interface{}
	Payload   interface{}
	RowID     int
	Inserted  uint64
}

// Buffer is a bounded buffer of at most K items, ordered by the sort
// spec then by insertion order for stability.
type Buffer struct {
	K       int
	Keys    []SortKey
	items   []Item
	nextSeq uint64
}

// New returns an empty Top-K buffer bounded to k items under the given
// sort spec (purely field-ordered, per the fuser's fusability guard).
func New(k int, keys []SortKey) *Buffer {
	return &Buffer{K: k, Keys: keys}
}

// less reports whether a sorts strictly before b under the buffer's sort
// spec, falling back to insertion order for full ties.
func (b *Buffer) less(a, x Item) bool {
	for i, sk := range b.Keys {
		c := value.Compare(a.Keys[i], x.Keys[i])
		if sk.Dir < 0 {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return a.Inserted < x.Inserted
}

// worstIndex returns the index of the item that sorts last (the weakest
// member of the buffer).
func (b *Buffer) worstIndex() int {
	worst := 0
	for i := 1; i < len(b.items); i++ {
		if b.less(b.items[worst], b.items[i]) {
			worst = i
		}
	}
	return worst
}

// Insert offers an item to the buffer. If the buffer has fewer than K
// items it is always kept; otherwise it replaces the current worst
// member iff it sorts strictly before it.
func (b *Buffer) Insert(keys []interface{}, payload interface{}, rowid int) {
	it := Item{Keys: keys, Payload: payload, RowID: rowid, Inserted: b.nextSeq}
	b.nextSeq++

	if len(b.items) < b.K {
		b.items = append(b.items, it)
		return
	}
	w := b.worstIndex()
	if b.less(it, b.items[w]) {
		b.items[w] = it
	}
}

// Remove deletes rowid from the buffer if present, reporting whether a
// refill is needed (the buffer had been full and lost a member — the
// caller must re-scan the full input to refill, per spec §4.11, since
// this operator is only used for small, bounded Top-K buffers).
func (b *Buffer) Remove(rowid int) (needsRefill bool) {
	wasFull := len(b.items) >= b.K
	for i, it := range b.items {
		if it.RowID == rowid {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return wasFull
		}
	}
	return false
}

// Len returns the number of items currently buffered.
func (b *Buffer) Len() int {
	return len(b.items)
}

// Materialize returns the buffered items in sorted order.
func (b *Buffer) Materialize() []Item {
	out := make([]Item, len(b.items))
	copy(out, b.items)
	sort.SliceStable(out, func(i, j int) bool { return b.less(out[i], out[j]) })
	return out
}

// Reset clears the buffer.
func (b *Buffer) Reset() {
	b.items = nil
}
