package operator

import (
	"sort"

	"github.com/TomNeyland/modash.js-sub008/ostree"
	"github.com/TomNeyland/modash.js-sub008/topk"
	"github.com/TomNeyland/modash.js-sub008/value"
)

// Sort is an isolated $sort: incremental maintenance is only supported
// when fused with a subsequent $limit into Top-K (spec §4.11); on its
// own it buffers every live row and performs a full O(n log n) sort on
// Materialize.
type Sort struct {
	Keys []topk.SortKey

	live map[RowKey]value.Document
}

// NewSort returns an isolated Sort stage over the given field-ordered
// sort spec.
func NewSort(keys []topk.SortKey) *Sort {
	return &Sort{Keys: keys, live: make(map[RowKey]value.Document)}
}

func (s *Sort) Push(batch Batch) (Batch, error) {
	for _, d := range batch {
		switch d.Op {
		case OpInsert:
			s.live[d.Row] = d.After
		case OpDelete:
			delete(s.live, d.Row)
		case OpUpdate:
			s.live[d.Row] = d.After
		}
	}
	// Sort passes every delta through unsorted: order only matters at
	// Materialize time, and a downstream stage that cares about order
	// (Limit/TopK) is expected to be fused rather than chained here.
	return batch, nil
}

func (s *Sort) less(a, b value.Document) bool {
	for _, k := range s.Keys {
		c := value.Compare(value.Resolve(a, k.Path), value.Resolve(b, k.Path))
		if k.Dir < 0 {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func (s *Sort) Materialize() []value.Document {
	out := make([]value.Document, 0, len(s.live))
	for _, d := range s.live {
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return s.less(out[i], out[j]) })
	return out
}

func (s *Sort) Reset() {
	s.live = make(map[RowKey]value.Document)
}

// LimitSkip implements an isolated $limit/$skip: it applies to the
// effective materialized output (the post-project view) rather than the
// underlying row-ids (spec §4.10), retaining insertion-order bookkeeping
// via an order-statistics tree keyed by insertion sequence so the window
// [Skip, Skip+Limit) can be recomputed after each batch without a full
// upstream rescan. Limit <= 0 means unbounded.
type LimitSkip struct {
	Skip  int
	Limit int

	order    *ostree.Tree // seq -> RowKey, in insertion order
	seqOf    map[RowKey]int
	docs     map[RowKey]value.Document
	window   map[RowKey]bool // rows currently emitted downstream
	nextSeq  int
}

// NewLimitSkip returns a LimitSkip stage. limit <= 0 means no upper bound.
func NewLimitSkip(skip, limit int) *LimitSkip {
	return &LimitSkip{
		Skip:   skip,
		Limit:  limit,
		order:  ostree.New(),
		seqOf:  make(map[RowKey]int),
		docs:   make(map[RowKey]value.Document),
		window: make(map[RowKey]bool),
	}
}

func (l *LimitSkip) inWindow(rank int) bool {
	if rank < l.Skip {
		return false
	}
	if l.Limit <= 0 {
		return true
	}
	return rank < l.Skip+l.Limit
}

// recompute walks the current insertion-ordered row set and emits
// deltas for every row whose window membership changed.
func (l *LimitSkip) recompute() Batch {
	var out Batch
	rank := 0
	seen := make(map[RowKey]bool, len(l.seqOf))
	l.order.Each(func(k ostree.Key, payload interface{}) {
		row := payload.(RowKey)
		seen[row] = true
		want := l.inWindow(rank)
		was := l.window[row]
		doc := l.docs[row]
		switch {
		case want && !was:
			l.window[row] = true
			out = append(out, Delta{Op: OpInsert, Row: row, After: doc})
		case !want && was:
			delete(l.window, row)
			out = append(out, Delta{Op: OpDelete, Row: row, Before: doc})
		}
		rank++
	})
	for row := range l.window {
		if !seen[row] {
			delete(l.window, row)
			out = append(out, Delta{Op: OpDelete, Row: row})
		}
	}
	return out
}

func (l *LimitSkip) Push(batch Batch) (Batch, error) {
	for _, d := range ExpandUpdates(batch) {
		switch d.Op {
		case OpInsert:
			seq := l.nextSeq
			l.nextSeq++
			l.seqOf[d.Row] = seq
			l.docs[d.Row] = d.After
			l.order.Insert(ostree.Key{Value: seq, RowID: seq}, d.Row)
		case OpDelete:
			if seq, ok := l.seqOf[d.Row]; ok {
				l.order.Remove(ostree.Key{Value: seq, RowID: seq})
				delete(l.seqOf, d.Row)
				delete(l.docs, d.Row)
			}
		}
	}
	return l.recompute(), nil
}

func (l *LimitSkip) Materialize() []value.Document {
	out := make([]value.Document, 0, len(l.window))
	for row := range l.window {
		out = append(out, l.docs[row])
	}
	return out
}

func (l *LimitSkip) Reset() {
	l.order = ostree.New()
	l.seqOf = make(map[RowKey]int)
	l.docs = make(map[RowKey]value.Document)
	l.window = make(map[RowKey]bool)
	l.nextSeq = 0
}

// TopK is the fused $sort + $limit operator (spec §4.11): a bounded
// stable Top-K buffer wrapping the topk package. The fuser installs
// this in place of a Sort followed by a LimitSkip whenever the sort
// spec is purely field-ordered and k > 0.
type TopK struct {
	Keys []topk.SortKey
	K    int

	buf  *topk.Buffer
	docs map[RowKey]value.Document
	rows map[int]RowKey // rowid -> RowKey, for Remove
}

// NewTopK returns a fused Top-K stage bounded to k items under keys.
func NewTopK(keys []topk.SortKey, k int) *TopK {
	return &TopK{
		Keys: keys,
		K:    k,
		buf:  topk.New(k, keys),
		docs: make(map[RowKey]value.Document),
		rows: make(map[int]RowKey),
	}
}

func (t *TopK) keysOf(doc value.Document) []interface{} {
	out := make([]interface{}, len(t.Keys))
	for i, k := range t.Keys {
		out[i] = value.Resolve(doc, k.Path)
	}
	return out
}

// membership returns the current buffer contents as a RowKey set, for
// diffing after a rescan-triggered refill.
func (t *TopK) membership() map[RowKey]bool {
	m := make(map[RowKey]bool, t.buf.Len())
	for _, it := range t.buf.Materialize() {
		m[t.rows[it.RowID]] = true
	}
	return m
}

func (t *TopK) Push(batch Batch) (Batch, error) {
	var out Batch
	for _, d := range ExpandUpdates(batch) {
		rowid := parseRowID(d.Row)
		switch d.Op {
		case OpInsert:
			before := t.membership()
			t.docs[d.Row] = d.After
			t.rows[rowid] = d.Row
			t.buf.Insert(t.keysOf(d.After), d.Row, rowid)
			out = append(out, t.diff(before)...)
		case OpDelete:
			before := t.membership()
			needsRefill := t.buf.Remove(rowid)
			delete(t.docs, d.Row)
			delete(t.rows, rowid)
			if needsRefill {
				// The buffer lost a member while full: nothing upstream
				// to rescan from here (TopK owns no upstream state), so
				// the remaining docs map is the full candidate pool.
				t.buf.Reset()
				for row, doc := range t.docs {
					t.buf.Insert(t.keysOf(doc), row, parseRowID(row))
				}
			}
			out = append(out, t.diff(before)...)
		}
	}
	return out, nil
}

// diff compares the buffer's membership before a mutation to its
// current membership and emits insert/delete deltas for the difference.
func (t *TopK) diff(before map[RowKey]bool) Batch {
	after := t.membership()
	var out Batch
	for row := range before {
		if !after[row] {
			out = append(out, Delta{Op: OpDelete, Row: row, Before: t.docs[row]})
		}
	}
	for row := range after {
		if !before[row] {
			out = append(out, Delta{Op: OpInsert, Row: row, After: t.docs[row]})
		}
	}
	return out
}

func (t *TopK) Materialize() []value.Document {
	items := t.buf.Materialize()
	out := make([]value.Document, len(items))
	for i, it := range items {
		out[i] = t.docs[it.Payload.(RowKey)]
	}
	return out
}

func (t *TopK) Reset() {
	t.buf = topk.New(t.K, t.Keys)
	t.docs = make(map[RowKey]value.Document)
	t.rows = make(map[int]RowKey)
}
