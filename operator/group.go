package operator

import (
	"github.com/TomNeyland/modash.js-sub008/expr"
	"github.com/TomNeyland/modash.js-sub008/liveset"
	"github.com/TomNeyland/modash.js-sub008/multiset"
	"github.com/TomNeyland/modash.js-sub008/ostree"
	"github.com/TomNeyland/modash.js-sub008/value"
)

// AccumKind enumerates the supported $group accumulator operators.
type AccumKind int

const (
	AccumSum AccumKind = iota
	AccumAvg
	AccumMin
	AccumMax
	AccumPush
	AccumAddToSet
	AccumFirst
	AccumLast
)

// AccumSpec is one compiled accumulator field of a $group stage: the
// output field name, its kind, and the expression evaluated per source
// document to produce the value it accumulates.
type AccumSpec struct {
	Field string
	Kind  AccumKind
	Expr  expr.Expr
}

// compensatedSum is a Kahan-compensated running sum, mirroring the
// kernel package's reduction but kept per-group here since group sums
// accumulate one scalar at a time rather than over a batch column.
type compensatedSum struct {
	sum, c float64
	n      int
}

func (s *compensatedSum) add(v float64) {
	y := v - s.c
	t := s.sum + y
	s.c = (t - s.sum) - y
	s.sum = t
	s.n++
}

func (s *compensatedSum) remove(v float64) {
	s.add(-v)
	s.n -= 2 // add() already incremented n once; undo that and decrement for the removal
}

// groupState is the per-group-key accumulator state (spec §4.10).
type groupState struct {
	count int

	sums    map[string]*compensatedSum        // field -> running $sum/$avg
	minmax  map[string]*multiset.MultiSet      // field -> RefCounted MultiSet for $min/$max
	push    map[string]*ostree.Tree            // field -> ordered-by-rowid list for $push
	addSet  map[string]map[string]int          // field -> value-key -> refcount for $addToSet
	addVal  map[string]map[string]interface{}  // field -> value-key -> sample value
	firstLast map[string]*ostree.Tree          // field -> order-stats tree keyed by rowid for $first/$last

	contributing *liveset.LiveSet
	rowidIndex   map[int]int // rowid -> dense index into the contributing LiveSet
	nextIndex    int
}

func newGroupState() *groupState {
	return &groupState{
		sums:      make(map[string]*compensatedSum),
		minmax:    make(map[string]*multiset.MultiSet),
		push:      make(map[string]*ostree.Tree),
		addSet:    make(map[string]map[string]int),
		addVal:    make(map[string]map[string]interface{}),
		firstLast: make(map[string]*ostree.Tree),
		contributing: liveset.New(64),
		rowidIndex:   make(map[int]int),
	}
}

func (g *groupState) indexFor(rowid int) int {
	if idx, ok := g.rowidIndex[rowid]; ok {
		return idx
	}
	idx := g.nextIndex
	g.nextIndex++
	g.rowidIndex[rowid] = idx
	return idx
}

// Group implements $group (spec §4.10): a mapping group_key ->
// GroupState. Insert evaluates the group-key expression, looks up or
// creates the group, and updates every accumulator with sign +1,
// emitting an insert of the materialized group iff it was empty and
// becomes nonempty. Delete is symmetric with sign -1, emitting a delete
// and dropping the group iff its count reaches 0.
type Group struct {
	KeyExpr  expr.Expr
	Accums   []AccumSpec

	groups map[string]*groupState
	keyVal map[string]interface{} // group key string -> the actual key value, for materialization
}

// NewGroup returns a Group stage for the given key expression and
// accumulator specs.
func NewGroup(keyExpr expr.Expr, accums []AccumSpec) *Group {
	return &Group{
		KeyExpr: keyExpr,
		Accums:  accums,
		groups:  make(map[string]*groupState),
		keyVal:  make(map[string]interface{}),
	}
}

func (g *Group) keyOf(doc value.Document) (string, interface{}, error) {
	ctx := expr.NewCtx(doc)
	v, err := g.KeyExpr.Eval(ctx)
	if err != nil {
		return "", nil, err
	}
	return value.KeyOf(v), v, nil
}

func (gr *groupState) apply(a AccumSpec, rowid int, doc value.Document, sign int) error {
	ctx := expr.NewCtx(doc)
	v, err := a.Expr.Eval(ctx)
	if err != nil {
		return err
	}
	switch a.Kind {
	case AccumSum, AccumAvg:
		s, ok := gr.sums[a.Field]
		if !ok {
			s = &compensatedSum{}
			gr.sums[a.Field] = s
		}
		f, _ := value.AsFloat(v)
		if sign > 0 {
			s.add(f)
		} else {
			s.remove(f)
		}
	case AccumMin, AccumMax:
		ms, ok := gr.minmax[a.Field]
		if !ok {
			ms = multiset.New()
			gr.minmax[a.Field] = ms
		}
		if sign > 0 {
			ms.Add(v)
		} else {
			ms.Remove(v)
		}
	case AccumPush:
		tr, ok := gr.push[a.Field]
		if !ok {
			tr = ostree.New()
			gr.push[a.Field] = tr
		}
		idx := gr.indexFor(rowid)
		if sign > 0 {
			tr.Insert(ostree.Key{Value: idx, RowID: rowid}, v)
		} else {
			tr.Remove(ostree.Key{Value: idx, RowID: rowid})
		}
	case AccumAddToSet:
		counts, ok := gr.addSet[a.Field]
		if !ok {
			counts = make(map[string]int)
			gr.addSet[a.Field] = counts
			gr.addVal[a.Field] = make(map[string]interface{})
		}
		k := value.KeyOf(v)
		counts[k] += sign
		if counts[k] > 0 {
			gr.addVal[a.Field][k] = v
		} else if counts[k] <= 0 {
			delete(counts, k)
			delete(gr.addVal[a.Field], k)
		}
	case AccumFirst, AccumLast:
		tr, ok := gr.firstLast[a.Field]
		if !ok {
			tr = ostree.New()
			gr.firstLast[a.Field] = tr
		}
		if sign > 0 {
			tr.Insert(ostree.Key{Value: rowid, RowID: rowid}, v)
		} else {
			tr.Remove(ostree.Key{Value: rowid, RowID: rowid})
		}
	}
	return nil
}

func (g *Group) materialize(key interface{}, gr *groupState) value.Document {
	out := value.Document{"_id": key}
	for _, a := range g.Accums {
		switch a.Kind {
		case AccumSum:
			if s, ok := gr.sums[a.Field]; ok {
				out[a.Field] = s.sum
			} else {
				out[a.Field] = 0.0
			}
		case AccumAvg:
			if s, ok := gr.sums[a.Field]; ok && s.n > 0 {
				out[a.Field] = s.sum / float64(s.n)
			} else {
				out[a.Field] = nil
			}
		case AccumMin:
			out[a.Field] = nil
			if ms, ok := gr.minmax[a.Field]; ok {
				if v, present := ms.Min(); present {
					out[a.Field] = v
				}
			}
		case AccumMax:
			out[a.Field] = nil
			if ms, ok := gr.minmax[a.Field]; ok {
				if v, present := ms.Max(); present {
					out[a.Field] = v
				}
			}
		case AccumPush:
			arr := value.Array{}
			if tr, ok := gr.push[a.Field]; ok {
				tr.Each(func(_ ostree.Key, payload interface{}) {
					arr = append(arr, payload)
				})
			}
			out[a.Field] = arr
		case AccumAddToSet:
			arr := value.Array{}
			if vals, ok := gr.addVal[a.Field]; ok {
				for _, v := range vals {
					arr = append(arr, v)
				}
			}
			out[a.Field] = arr
		case AccumFirst:
			if tr, ok := gr.firstLast[a.Field]; ok {
				if _, payload, present := tr.First(); present {
					out[a.Field] = payload
				} else {
					out[a.Field] = nil
				}
			} else {
				out[a.Field] = nil
			}
		case AccumLast:
			if tr, ok := gr.firstLast[a.Field]; ok {
				if _, payload, present := tr.Last(); present {
					out[a.Field] = payload
				} else {
					out[a.Field] = nil
				}
			} else {
				out[a.Field] = nil
			}
		}
	}
	return out
}

func (g *Group) Push(batch Batch) (Batch, error) {
	var out Batch
	for _, d := range ExpandUpdates(batch) {
		rowid := parseRowID(d.Row)
		switch d.Op {
		case OpInsert:
			key, keyVal, err := g.keyOf(d.After)
			if err != nil {
				return nil, err
			}
			gr, exists := g.groups[key]
			if !exists {
				gr = newGroupState()
				g.groups[key] = gr
				g.keyVal[key] = keyVal
			}
			wasEmpty := gr.count == 0
			var before value.Document
			if !wasEmpty {
				before = g.materialize(keyVal, gr)
			}
			for _, a := range g.Accums {
				if err := gr.apply(a, rowid, d.After, +1); err != nil {
					return nil, err
				}
			}
			gr.count++
			gr.contributing.Set(gr.indexFor(rowid))
			if wasEmpty {
				out = append(out, Delta{Op: OpInsert, Row: RowKey(key), After: g.materialize(keyVal, gr)})
			} else {
				out = append(out, Delta{Op: OpUpdate, Row: RowKey(key), Before: before, After: g.materialize(keyVal, gr)})
			}
		case OpDelete:
			key, keyVal, err := g.keyOf(d.Before)
			if err != nil {
				return nil, err
			}
			gr, exists := g.groups[key]
			if !exists {
				continue
			}
			idx, known := gr.rowidIndex[rowid]
			if !known || !gr.contributing.Test(idx) {
				continue
			}
			before := g.materialize(keyVal, gr)
			for _, a := range g.Accums {
				if err := gr.apply(a, rowid, d.Before, -1); err != nil {
					return nil, err
				}
			}
			gr.count--
			gr.contributing.Clear(idx)
			if gr.count <= 0 {
				delete(g.groups, key)
				delete(g.keyVal, key)
				out = append(out, Delta{Op: OpDelete, Row: RowKey(key), Before: before})
			} else {
				out = append(out, Delta{Op: OpUpdate, Row: RowKey(key), Before: before, After: g.materialize(keyVal, gr)})
			}
		}
	}
	return out, nil
}

func (g *Group) Materialize() []value.Document {
	out := make([]value.Document, 0, len(g.groups))
	for key, gr := range g.groups {
		out = append(out, g.materialize(g.keyVal[key], gr))
	}
	return out
}

func (g *Group) Reset() {
	g.groups = make(map[string]*groupState)
	g.keyVal = make(map[string]interface{})
}
