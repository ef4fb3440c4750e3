// Package kernel implements the vectorized numeric and boolean kernels
// wired into the fused $match/$project/$addFields/$set operator
// (operator.FusedLinear) and the expression evaluator's EvalVector path
// (spec §4.8).
//
// Every kernel operates on a pair of (values, null mask) of equal length.
// A fast path with no nulls in either input skips null propagation
// entirely; a null-aware path propagates null bits and additionally
// checks for NaN/Infinity/div-by-zero. The null mask is a packed bitset,
// one bit per row, mirroring BoolColumn's bit/null layout rather than a
// byte-per-row []bool.
package kernel

import "math"

// Column is a fixed-length vector of float64 values with an accompanying
// packed null-bit mask (bit i set means the value at i is null/missing).
type Column struct {
	Values []float64
	Nulls  []uint64
	Len    int
}

// NewColumn returns a Column with no nulls set.
func NewColumn(values []float64) Column {
	return Column{Values: values, Nulls: make([]uint64, wordsFor(len(values))), Len: len(values)}
}

// IsNull reports whether the value at position i is null.
func (c Column) IsNull(i int) bool { return maskGet(c.Nulls, i) }

// SetNull marks position i as null.
func (c Column) SetNull(i int) { maskSet(c.Nulls, i, true) }

func newNullColumn(n int) Column {
	return Column{Values: make([]float64, n), Nulls: make([]uint64, wordsFor(n)), Len: n}
}

// BinaryOp is a scalar float64 binary operator.
type BinaryOp func(a, b float64) float64

func applyBinary(a, b Column, op BinaryOp, divLike bool) Column {
	n := a.Len
	out := newNullColumn(n)

	if !anyMaskBits(a.Nulls) && !anyMaskBits(b.Nulls) && !divLike {
		fastBinaryUnrolled(a.Values, b.Values, out.Values, op)
		return out
	}

	for i := 0; i < n; i++ {
		if a.IsNull(i) || b.IsNull(i) {
			out.SetNull(i)
			continue
		}
		if divLike && b.Values[i] == 0 {
			out.SetNull(i)
			continue
		}
		r := op(a.Values[i], b.Values[i])
		if math.IsNaN(r) || math.IsInf(r, 0) {
			out.SetNull(i)
			continue
		}
		out.Values[i] = r
	}
	return out
}

// fastBinaryUnrolled applies op elementwise, unrolled x4 for batches up to
// 256 elements (ALU-bound) and x2 beyond that (memory-bound), per the
// kernel's two-regime tuning in spec §4.8.
func fastBinaryUnrolled(a, b, out []float64, op BinaryOp) {
	n := len(a)
	if n <= 256 {
		i := 0
		for ; i+4 <= n; i += 4 {
			out[i] = op(a[i], b[i])
			out[i+1] = op(a[i+1], b[i+1])
			out[i+2] = op(a[i+2], b[i+2])
			out[i+3] = op(a[i+3], b[i+3])
		}
		for ; i < n; i++ {
			out[i] = op(a[i], b[i])
		}
		return
	}
	i := 0
	for ; i+2 <= n; i += 2 {
		out[i] = op(a[i], b[i])
		out[i+1] = op(a[i+1], b[i+1])
	}
	for ; i < n; i++ {
		out[i] = op(a[i], b[i])
	}
}

// Add returns a + b, elementwise.
func Add(a, b Column) Column { return applyBinary(a, b, func(x, y float64) float64 { return x + y }, false) }

// Sub returns a - b, elementwise.
func Sub(a, b Column) Column { return applyBinary(a, b, func(x, y float64) float64 { return x - y }, false) }

// Mul returns a * b, elementwise.
func Mul(a, b Column) Column { return applyBinary(a, b, func(x, y float64) float64 { return x * y }, false) }

// Div returns a / b, elementwise; division by zero yields null rather
// than Inf/NaN (spec §4.7 "divide/mod by zero yields null").
func Div(a, b Column) Column {
	return applyBinary(a, b, func(x, y float64) float64 { return x / y }, true)
}

// Mod returns a mod b, elementwise; mod by zero yields null.
func Mod(a, b Column) Column {
	return applyBinary(a, b, func(x, y float64) float64 { return math.Mod(x, y) }, true)
}

// Min returns the elementwise minimum of a and b.
func Min(a, b Column) Column {
	return applyBinary(a, b, math.Min, false)
}

// Max returns the elementwise maximum of a and b.
func Max(a, b Column) Column {
	return applyBinary(a, b, math.Max, false)
}

func applyUnary(a Column, op func(float64) float64) Column {
	n := a.Len
	out := newNullColumn(n)
	for i := 0; i < n; i++ {
		if a.IsNull(i) {
			out.SetNull(i)
			continue
		}
		r := op(a.Values[i])
		if math.IsNaN(r) || math.IsInf(r, 0) {
			out.SetNull(i)
			continue
		}
		out.Values[i] = r
	}
	return out
}

// Abs returns |a|, elementwise.
func Abs(a Column) Column { return applyUnary(a, math.Abs) }

// Ceil returns ceil(a), elementwise.
func Ceil(a Column) Column { return applyUnary(a, math.Ceil) }

// Floor returns floor(a), elementwise.
func Floor(a Column) Column { return applyUnary(a, math.Floor) }

// Round returns round(a), elementwise.
func Round(a Column) Column { return applyUnary(a, math.Round) }

// Sqrt returns sqrt(a), elementwise; negative inputs propagate to null.
func Sqrt(a Column) Column { return applyUnary(a, math.Sqrt) }

// Pow returns a ** b, elementwise.
func Pow(a, b Column) Column { return applyBinary(a, b, math.Pow, false) }

// reduction holds the running state for compensated (Kahan) summation.
type reduction struct {
	sum   float64
	c     float64 // running compensation
	count int
}

func (r *reduction) add(v float64) {
	y := v - r.c
	t := r.sum + y
	r.c = (t - r.sum) - y
	r.sum = t
	r.count++
}

// Sum computes a Kahan-compensated sum over non-null elements of a.
func Sum(a Column) float64 {
	var r reduction
	for i, v := range a.Values {
		if a.IsNull(i) {
			continue
		}
		r.add(v)
	}
	return r.sum
}

// Avg computes sum/count over non-null elements of a. Returns (0, false)
// if every element is null.
func Avg(a Column) (float64, bool) {
	var r reduction
	for i, v := range a.Values {
		if a.IsNull(i) {
			continue
		}
		r.add(v)
	}
	if r.count == 0 {
		return 0, false
	}
	return r.sum / float64(r.count), true
}

// MinReduce returns the minimum non-null value and its position, or
// ok=false if every element is null.
func MinReduce(a Column) (val float64, pos int, ok bool) {
	best := math.Inf(1)
	bestPos := -1
	for i, v := range a.Values {
		if a.IsNull(i) {
			continue
		}
		if v < best {
			best, bestPos = v, i
		}
	}
	if bestPos < 0 {
		return 0, -1, false
	}
	return best, bestPos, true
}

// MaxReduce returns the maximum non-null value and its position, or
// ok=false if every element is null.
func MaxReduce(a Column) (val float64, pos int, ok bool) {
	best := math.Inf(-1)
	bestPos := -1
	for i, v := range a.Values {
		if a.IsNull(i) {
			continue
		}
		if v > best {
			best, bestPos = v, i
		}
	}
	if bestPos < 0 {
		return 0, -1, false
	}
	return best, bestPos, true
}
