package expr

import (
	"github.com/TomNeyland/modash.js-sub008/kernel"
	"github.com/TomNeyland/modash.js-sub008/value"
)

// Vector is the columnar counterpart of a single evaluated value: one
// entry per document in a ColumnBatch, in the same order. A nil entry
// means null; an absent field path is carried as value.Missing (see
// ColumnBatch.column), while kernel-computed entries use nil for both.
type Vector []interface{}

// ColumnBatch is a window of documents evaluated together by EvalVector.
// Field-path lookups are resolved once per path and cached, so a fused
// run of several $match/$project steps over the same batch only pays
// for value.Resolve once per path rather than once per step.
type ColumnBatch struct {
	docs    []value.Document
	columns map[string]Vector
}

// NewColumnBatch returns a ColumnBatch over docs.
func NewColumnBatch(docs []value.Document) *ColumnBatch {
	return &ColumnBatch{docs: docs, columns: make(map[string]Vector)}
}

// Len returns the number of rows in the batch.
func (b *ColumnBatch) Len() int { return len(b.docs) }

// Doc returns the i-th row's source document, for the scalar fallback
// path and for non-expression field handling ($project's raw 1/0
// inclusion/exclusion flags).
func (b *ColumnBatch) Doc(i int) value.Document { return b.docs[i] }

// column resolves path once across every row, caching the result. Each
// entry is the raw value.Resolve result, including the value.Missing
// sentinel for an absent path: callers that care about the null/missing
// distinction (Project's shape application) must check value.IsMissing
// rather than assume a nil entry always means missing.
func (b *ColumnBatch) column(path string) Vector {
	if v, ok := b.columns[path]; ok {
		return v
	}
	v := make(Vector, len(b.docs))
	for i, d := range b.docs {
		v[i] = value.Resolve(d, path)
	}
	b.columns[path] = v
	return v
}

func broadcast(v interface{}, n int) Vector {
	out := make(Vector, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// EvalVector evaluates e across every row of batch at once. Expressions
// in the "simple" arithmetic/comparison/logical subset (expr.IsSimple)
// are routed through the kernel package's packed columnar kernels;
// anything else (ObjectShape, $filter/$map, an operator outside that
// subset) falls back to evaluating e once per row via Eval, so EvalVector
// always produces results identical to scalar evaluation.
func EvalVector(e Expr, batch *ColumnBatch) (Vector, error) {
	switch node := e.(type) {
	case Literal:
		return broadcast(node.Value, batch.Len()), nil
	case FieldPath:
		return batch.column(node.Path), nil
	case Operator:
		if fn, ok := vectorOps[node.Name]; ok {
			v, ok, err := fn(node.Args, batch)
			if err != nil {
				return nil, err
			}
			if ok {
				return v, nil
			}
		}
	}
	return evalVectorFallback(e, batch)
}

// evalVectorFallback evaluates e once per row through the ordinary
// scalar Eval path, for expressions EvalVector's fast path does not
// cover.
func evalVectorFallback(e Expr, batch *ColumnBatch) (Vector, error) {
	out := make(Vector, batch.Len())
	for i := 0; i < batch.Len(); i++ {
		v, err := e.Eval(NewCtx(batch.Doc(i)))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// vectorOp evaluates one node's arguments across the whole batch, as a
// Vector. A false ok return (with a nil error) means the operator's
// inputs were not uniformly vectorizable for this batch (e.g. an
// arithmetic operand that is a date rather than a number) and the caller
// must fall back to evalVectorFallback for the entire node, preserving
// exact scalar semantics (including date arithmetic, which the numeric
// kernels do not model).
type vectorOp func(args []Expr, batch *ColumnBatch) (Vector, bool, error)

var vectorOps map[string]vectorOp

func init() {
	vectorOps = map[string]vectorOp{
		"add":      vecNumericFold(kernel.Add),
		"multiply": vecNumericFold(kernel.Mul),
		"subtract": vecNumericBinary(kernel.Sub),
		"divide":   vecNumericBinary(kernel.Div),
		"mod":      vecNumericBinary(kernel.Mod),
		"abs":      vecNumericUnary(kernel.Abs),
		"ceil":     vecNumericUnary(kernel.Ceil),
		"floor":    vecNumericUnary(kernel.Floor),
		"round":    vecNumericUnary(kernel.Round),

		"eq":  vecCompare(func(c int) bool { return c == 0 }),
		"ne":  vecCompare(func(c int) bool { return c != 0 }),
		"gt":  vecCompare(func(c int) bool { return c > 0 }),
		"gte": vecCompare(func(c int) bool { return c >= 0 }),
		"lt":  vecCompare(func(c int) bool { return c < 0 }),
		"lte": vecCompare(func(c int) bool { return c <= 0 }),

		"and": vecLogicalFold(kernel.And),
		"or":  vecLogicalFold(kernel.Or),
		"not": vecNot,

		"cond":   vecCond,
		"ifNull": vecIfNull,
	}
}

// toNumericColumn builds a kernel.Column from v, nullifying nullish
// entries. ok is false if some non-nullish entry cannot coerce to a
// float64 (e.g. a date, per opAdd/opSubtract's date-arithmetic branch),
// signaling the caller to fall back to scalar evaluation for the whole
// node rather than silently nulling out date arithmetic.
func toNumericColumn(v Vector) (kernel.Column, bool) {
	col := kernel.NewColumn(make([]float64, len(v)))
	for i, raw := range v {
		if isNullish(raw) {
			col.SetNull(i)
			continue
		}
		f, ok := value.AsFloat(raw)
		if !ok {
			return kernel.Column{}, false
		}
		col.Values[i] = f
	}
	return col, true
}

func fromNumericColumn(col kernel.Column) Vector {
	out := make(Vector, col.Len)
	for i, f := range col.Values {
		if col.IsNull(i) {
			out[i] = nil
		} else {
			out[i] = f
		}
	}
	return out
}

// toBoolColumn builds a kernel.BoolColumn from v using the same
// truthy() coercion opAnd/opOr/opNot use, never marking a bit null:
// scalar and/or/not never produce null either, so the packed column's
// null mask would otherwise diverge from scalar three-valued logic.
func toBoolColumn(v Vector) kernel.BoolColumn {
	col := kernel.NewBoolColumn(len(v))
	for i, raw := range v {
		col.Set(i, truthy(raw))
	}
	return col
}

func fromBoolColumn(col kernel.BoolColumn) Vector {
	out := make(Vector, col.Len)
	for i := 0; i < col.Len; i++ {
		v, isNull := col.Get(i)
		if isNull {
			out[i] = nil
		} else {
			out[i] = v
		}
	}
	return out
}

func vecNumericFold(op func(a, b kernel.Column) kernel.Column) vectorOp {
	return func(args []Expr, batch *ColumnBatch) (Vector, bool, error) {
		if len(args) == 0 {
			return nil, false, nil
		}
		first, err := EvalVector(args[0], batch)
		if err != nil {
			return nil, false, err
		}
		acc, ok := toNumericColumn(first)
		if !ok {
			return nil, false, nil
		}
		for _, a := range args[1:] {
			v, err := EvalVector(a, batch)
			if err != nil {
				return nil, false, err
			}
			col, ok := toNumericColumn(v)
			if !ok {
				return nil, false, nil
			}
			acc = op(acc, col)
		}
		return fromNumericColumn(acc), true, nil
	}
}

func vecNumericBinary(op func(a, b kernel.Column) kernel.Column) vectorOp {
	return func(args []Expr, batch *ColumnBatch) (Vector, bool, error) {
		if len(args) != 2 {
			return nil, false, nil
		}
		av, err := EvalVector(args[0], batch)
		if err != nil {
			return nil, false, err
		}
		bv, err := EvalVector(args[1], batch)
		if err != nil {
			return nil, false, err
		}
		a, ok := toNumericColumn(av)
		if !ok {
			return nil, false, nil
		}
		b, ok := toNumericColumn(bv)
		if !ok {
			return nil, false, nil
		}
		return fromNumericColumn(op(a, b)), true, nil
	}
}

func vecNumericUnary(op func(a kernel.Column) kernel.Column) vectorOp {
	return func(args []Expr, batch *ColumnBatch) (Vector, bool, error) {
		if len(args) != 1 {
			return nil, false, nil
		}
		av, err := EvalVector(args[0], batch)
		if err != nil {
			return nil, false, err
		}
		a, ok := toNumericColumn(av)
		if !ok {
			return nil, false, nil
		}
		return fromNumericColumn(op(a)), true, nil
	}
}

func vecCompare(pred func(c int) bool) vectorOp {
	return func(args []Expr, batch *ColumnBatch) (Vector, bool, error) {
		if len(args) != 2 {
			return nil, false, nil
		}
		a, err := EvalVector(args[0], batch)
		if err != nil {
			return nil, false, err
		}
		b, err := EvalVector(args[1], batch)
		if err != nil {
			return nil, false, err
		}
		col := kernel.NewBoolColumn(len(a))
		for i := range a {
			col.Set(i, pred(value.Compare(a[i], b[i])))
		}
		return fromBoolColumn(col), true, nil
	}
}

func vecLogicalFold(op func(a, b kernel.BoolColumn) kernel.BoolColumn) vectorOp {
	return func(args []Expr, batch *ColumnBatch) (Vector, bool, error) {
		if len(args) == 0 {
			return nil, false, nil
		}
		first, err := EvalVector(args[0], batch)
		if err != nil {
			return nil, false, err
		}
		acc := toBoolColumn(first)
		for _, a := range args[1:] {
			v, err := EvalVector(a, batch)
			if err != nil {
				return nil, false, err
			}
			acc = op(acc, toBoolColumn(v))
		}
		return fromBoolColumn(acc), true, nil
	}
}

func vecNot(args []Expr, batch *ColumnBatch) (Vector, bool, error) {
	if len(args) != 1 {
		return nil, false, nil
	}
	v, err := EvalVector(args[0], batch)
	if err != nil {
		return nil, false, err
	}
	return fromBoolColumn(kernel.Not(toBoolColumn(v))), true, nil
}

func vecCond(args []Expr, batch *ColumnBatch) (Vector, bool, error) {
	if len(args) != 3 {
		return nil, false, nil
	}
	c, err := EvalVector(args[0], batch)
	if err != nil {
		return nil, false, err
	}
	t, err := EvalVector(args[1], batch)
	if err != nil {
		return nil, false, err
	}
	f, err := EvalVector(args[2], batch)
	if err != nil {
		return nil, false, err
	}
	out := make(Vector, len(c))
	for i := range out {
		if truthy(c[i]) {
			out[i] = t[i]
		} else {
			out[i] = f[i]
		}
	}
	return out, true, nil
}

func vecIfNull(args []Expr, batch *ColumnBatch) (Vector, bool, error) {
	if len(args) == 0 {
		return nil, false, nil
	}
	cols := make([]Vector, len(args))
	for i, a := range args {
		v, err := EvalVector(a, batch)
		if err != nil {
			return nil, false, err
		}
		cols[i] = v
	}
	n := batch.Len()
	out := make(Vector, n)
	for i := 0; i < n; i++ {
		out[i] = cols[len(cols)-1][i]
		for _, col := range cols {
			if !isNullish(col[i]) {
				out[i] = col[i]
				break
			}
		}
	}
	return out, true, nil
}
