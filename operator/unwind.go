package operator

import (
	"github.com/TomNeyland/modash.js-sub008/value"
)

// Unwind implements $unwind (spec §4.10): for an insert of a document
// with an array field of length m, it emits m inserts of synthesized
// documents differing only in Path (replaced by each element) and
// tagged with a synthetic row-id (rowid, i). If the array is absent,
// null, or empty, behavior follows PreserveNullAndEmptyArrays: true
// emits a single insert with Path absent, false drops the document
// entirely. Delete is the exact inverse via the synthetic row-id.
//
// Updates are handled via ExpandUpdates: rather than diffing the before
// and after arrays element-by-element (which would need extra state to
// track which synthetic rows survive), Unwind recomputes the full
// explosion for Before and After independently and lets the delete/
// insert pair reestablish the 1-to-m cardinality identity, preserving
// it across arbitrary array-length changes.
type Unwind struct {
	Path                       string
	PreserveNullAndEmptyArrays bool
}

// NewUnwind returns an Unwind stage over path.
func NewUnwind(path string, preserveNullAndEmpty bool) *Unwind {
	return &Unwind{Path: path, PreserveNullAndEmptyArrays: preserveNullAndEmpty}
}

// explode returns the synthetic row keys and documents produced by
// unwinding doc, given the base row key it was derived from.
func (u *Unwind) explode(rowid int, doc value.Document) ([]RowKey, []value.Document) {
	v := value.Resolve(doc, u.Path)
	arr, isArray := v.(value.Array)
	if !isArray {
		if a, ok := v.([]interface{}); ok {
			arr = value.Array(a)
			isArray = true
		}
	}

	if !isArray || len(arr) == 0 {
		if !u.PreserveNullAndEmptyArrays {
			return nil, nil
		}
		out := value.Document{}
		for k, v := range doc {
			out[k] = v
		}
		value.RemovePath(out, u.Path)
		return []RowKey{SyntheticRowKey(rowid, 0)}, []value.Document{out}
	}

	keys := make([]RowKey, len(arr))
	docs := make([]value.Document, len(arr))
	for i, elem := range arr {
		out := value.Document{}
		for k, v := range doc {
			out[k] = v
		}
		value.Set(out, u.Path, elem)
		keys[i] = SyntheticRowKey(rowid, i)
		docs[i] = out
	}
	return keys, docs
}

func (u *Unwind) Push(batch Batch) (Batch, error) {
	var out Batch
	for _, d := range ExpandUpdates(batch) {
		rowid := parseRowID(d.Row)
		switch d.Op {
		case OpInsert:
			keys, docs := u.explode(rowid, d.After)
			for i := range keys {
				out = append(out, Delta{Op: OpInsert, Row: keys[i], After: docs[i]})
			}
		case OpDelete:
			keys, docs := u.explode(rowid, d.Before)
			for i := range keys {
				out = append(out, Delta{Op: OpDelete, Row: keys[i], Before: docs[i]})
			}
		}
	}
	return out, nil
}

// Materialize always returns nil: Unwind tracks no live state of its
// own. When it is the terminal stage of a pipeline, Graph falls back to
// its own delta-tracked view built from Unwind's Push output.
func (u *Unwind) Materialize() []value.Document { return nil }

func (u *Unwind) Reset() {}
