// Package operator implements the incremental operator graph: per-stage
// state that absorbs insert/update/delete deltas and emits downstream
// deltas without rescanning upstream state (spec §4.10).
package operator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TomNeyland/modash.js-sub008/value"
)

// Op enumerates a delta's kind at the operator-graph level.
type Op int

const (
	OpInsert Op = iota
	OpDelete
	OpUpdate
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// RowKey identifies a document flowing through the operator graph. It is
// the decimal row-id for ordinary documents, or "rowid:i" for the i-th
// synthetic document $unwind produces from one source row (spec §4.10,
// "tagged with a synthetic row-id (rowid, i)").
type RowKey string

// RowKeyOf formats a plain row-id as a RowKey.
func RowKeyOf(rowid int) RowKey {
	return RowKey(fmt.Sprintf("%d", rowid))
}

// SyntheticRowKey formats an $unwind-synthesized (rowid, i) pair.
func SyntheticRowKey(rowid, i int) RowKey {
	return RowKey(fmt.Sprintf("%d:%d", rowid, i))
}

// parseRowID extracts the base row-id from a RowKey, stripping any
// synthetic ":i" suffix a prior $unwind stage appended.
func parseRowID(k RowKey) int {
	s := string(k)
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		s = s[:idx]
	}
	n, _ := strconv.Atoi(s)
	return n
}

// Delta is one insert/update/delete of a single document as it flows
// between two stages of the operator graph.
type Delta struct {
	Op     Op
	Row    RowKey
	Before value.Document
	After  value.Document
}

// Batch is an ordered sequence of Deltas; per spec §3, operations on the
// same row-id within a batch are order-preserving.
type Batch []Delta

// ExpandUpdates rewrites every OpUpdate in batch into a Delete(Before)
// immediately followed by an Insert(After) carrying the same Row. This is
// the standard decomposition used by operators whose output cardinality
// or identity can change under an update (Unwind, Group) and that would
// otherwise need bespoke update handling.
func ExpandUpdates(batch Batch) Batch {
	out := make(Batch, 0, len(batch))
	for _, d := range batch {
		if d.Op != OpUpdate {
			out = append(out, d)
			continue
		}
		out = append(out,
			Delta{Op: OpDelete, Row: d.Row, Before: d.Before},
			Delta{Op: OpInsert, Row: d.Row, After: d.After},
		)
	}
	return out
}

// Stage is one node of the incremental operator graph.
type Stage interface {
	// Push consumes a batch of upstream deltas, updates this stage's
	// state, and returns the batch of deltas to emit downstream.
	Push(batch Batch) (Batch, error)

	// Materialize returns a snapshot of this stage's current output
	// without re-executing upstream stages.
	Materialize() []value.Document

	// Reset clears all state.
	Reset()
}
