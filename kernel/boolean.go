package kernel

// BoolColumn is a packed-bit boolean vector of logical length Len, plus a
// parallel null mask.
type BoolColumn struct {
	Bits  []uint64
	Nulls []uint64
	Len   int
}

// NewBoolColumn returns a column of length n with all bits clear and no
// nulls.
func NewBoolColumn(n int) BoolColumn {
	w := wordsFor(n)
	return BoolColumn{Bits: make([]uint64, w), Nulls: make([]uint64, w), Len: n}
}

// Set assigns the boolean value at position i.
func (c BoolColumn) Set(i int, v bool) {
	maskSet(c.Bits, i, v)
}

// SetNull marks position i as null.
func (c BoolColumn) SetNull(i int) {
	maskSet(c.Nulls, i, true)
}

// Get returns the boolean value and null flag at position i.
func (c BoolColumn) Get(i int) (v bool, isNull bool) {
	return maskGet(c.Bits, i), maskGet(c.Nulls, i)
}

func hasAnyNulls(c BoolColumn) bool {
	return anyMaskBits(c.Nulls)
}

// And returns the bulk bitwise AND of a and b when neither has nulls;
// otherwise a bit is null in the output if it is null in either operand
// (standard three-valued-logic AND would additionally let false-AND-null
// resolve to false, but the spec's null-propagation model treats this
// uniformly for the incremental core).
func And(a, b BoolColumn) BoolColumn {
	return combineBool(a, b, func(x, y uint64) uint64 { return x & y })
}

// Or returns the bulk bitwise OR of a and b (see And for the null-mask
// policy).
func Or(a, b BoolColumn) BoolColumn {
	return combineBool(a, b, func(x, y uint64) uint64 { return x | y })
}

// Xor returns the bulk bitwise XOR of a and b.
func Xor(a, b BoolColumn) BoolColumn {
	return combineBool(a, b, func(x, y uint64) uint64 { return x ^ y })
}

func combineBool(a, b BoolColumn, op func(x, y uint64) uint64) BoolColumn {
	n := a.Len
	out := NewBoolColumn(n)
	for i := range out.Bits {
		var av, bv uint64
		if i < len(a.Bits) {
			av = a.Bits[i]
		}
		if i < len(b.Bits) {
			bv = b.Bits[i]
		}
		out.Bits[i] = op(av, bv)
		var an, bn uint64
		if i < len(a.Nulls) {
			an = a.Nulls[i]
		}
		if i < len(b.Nulls) {
			bn = b.Nulls[i]
		}
		out.Nulls[i] = an | bn
	}
	maskLastWord(out.Bits, n)
	maskLastWord(out.Nulls, n)
	return out
}

// Not returns the bitwise complement of a, masking off high bits in the
// partial last word so they do not read as spuriously set.
func Not(a BoolColumn) BoolColumn {
	out := NewBoolColumn(a.Len)
	for i := range out.Bits {
		out.Bits[i] = ^a.Bits[i]
		out.Nulls[i] = a.Nulls[i]
	}
	maskLastWord(out.Bits, a.Len)
	return out
}

// Popcount returns the number of set (true, non-null) bits, by clearing
// the lowest set bit of each word in a loop rather than a population-count
// intrinsic.
func Popcount(a BoolColumn) int {
	hasNulls := hasAnyNulls(a)
	if !hasNulls {
		return maskPopcount(a.Bits)
	}
	live := make([]uint64, len(a.Bits))
	for i, w := range a.Bits {
		live[i] = w &^ a.Nulls[i]
	}
	return maskPopcount(live)
}
