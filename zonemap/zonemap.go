// Package zonemap implements per-chunk min/max zone maps, a standard
// k-hash-function Bloom filter, and a session-scoped trigram prefilter
// for substring queries (spec §4.6).
package zonemap

import (
	"math"
	"time"

	"github.com/TomNeyland/modash.js-sub008/value"
)

// CompareOp names the operators a zone map's can_skip is asked about.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpIn
	OpNin
)

// ZoneMap holds chunk-level statistics: min, max, null count, total
// count, and an inferred type tag (the kind-rank of the first non-null
// observed value).
type ZoneMap struct {
	Min, Max   interface{}
	NullCount  int
	TotalCount int
	hasValue   bool
	typeTag    int
}

// New returns an empty zone map.
func New() *ZoneMap {
	return &ZoneMap{}
}

// Observe folds v into the chunk's statistics.
func (z *ZoneMap) Observe(v interface{}) {
	z.TotalCount++
	if value.IsMissing(v) || v == nil {
		z.NullCount++
		return
	}
	if !z.hasValue {
		z.Min, z.Max = v, v
		z.hasValue = true
		return
	}
	if value.Compare(v, z.Min) < 0 {
		z.Min = v
	}
	if value.Compare(v, z.Max) > 0 {
		z.Max = v
	}
}

// CanSkip conservatively decides whether a chunk can be skipped for a
// predicate {op, v}. It must never return true ("can skip") when the
// chunk might actually contain a match — false negatives on the
// "cannot skip" side are always safe; this function may only ever err
// toward scanning.
func (z *ZoneMap) CanSkip(op CompareOp, v interface{}, in []interface{}) bool {
	if z.NullCount > 0 {
		// A null eq/in operand may match the chunk's null entries.
		if op == OpEq && v == nil {
			return false
		}
		if op == OpIn {
			for _, e := range in {
				if e == nil {
					return false
				}
			}
		}
	}
	if !z.hasValue {
		// All-null chunk: eq/in against a non-null value can never match.
		switch op {
		case OpEq, OpIn:
			return z.NullCount == z.TotalCount && z.TotalCount > 0
		default:
			return false
		}
	}
	switch op {
	case OpEq:
		return value.Compare(v, z.Min) < 0 || value.Compare(v, z.Max) > 0
	case OpNe:
		return false // cannot safely skip: ne rarely prunable without full distinctness info
	case OpGt:
		return value.Compare(z.Max, v) <= 0
	case OpGe:
		return value.Compare(z.Max, v) < 0
	case OpLt:
		return value.Compare(z.Min, v) >= 0
	case OpLe:
		return value.Compare(z.Min, v) > 0
	case OpIn:
		for _, e := range in {
			if value.Compare(e, z.Min) >= 0 && value.Compare(e, z.Max) <= 0 {
				return false
			}
		}
		return true
	case OpNin:
		return false
	default:
		return false
	}
}

// BloomParams computes m (bit array size) and k (hash count) from an
// expected element count n and target false-positive rate p, using the
// standard formulas, clamping k to [1, 20].
func BloomParams(n int, p float64) (m int, k int) {
	if n <= 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	nf := float64(n)
	ln2 := math.Ln2
	mf := -nf * math.Log(p) / (ln2 * ln2)
	m = int(math.Ceil(mf))
	if m < 1 {
		m = 1
	}
	kf := (float64(m) / nf) * ln2
	k = int(math.Ceil(kf))
	if k < 1 {
		k = 1
	}
	if k > 20 {
		k = 20
	}
	return m, k
}

// Bloom is a standard bit-array Bloom filter with k independent hash
// functions derived by double hashing two base hashes (Kirsch-Mitzenmacher).
type Bloom struct {
	bits []uint64
	m    int
	k    int
}

// NewBloom returns a Bloom filter sized for expected n elements at target
// false-positive rate p.
func NewBloom(n int, p float64) *Bloom {
	m, k := BloomParams(n, p)
	words := (m + 63) / 64
	return &Bloom{bits: make([]uint64, words), m: m, k: k}
}

func (b *Bloom) hashPair(data []byte) (uint64, uint64) {
	h1 := fnv1a(data, 0xcbf29ce484222325)
	h2 := fnv1a(data, 0x9e3779b97f4a7c15)
	return h1, h2
}

func fnv1a(data []byte, seed uint64) uint64 {
	h := seed
	const prime = 1099511628211
	for _, c := range data {
		h ^= uint64(c)
		h *= prime
	}
	return h
}

// Add inserts an element's byte encoding into the filter.
func (b *Bloom) Add(data []byte) {
	h1, h2 := b.hashPair(data)
	for i := 0; i < b.k; i++ {
		idx := (h1 + uint64(i)*h2) % uint64(b.m)
		b.bits[idx/64] |= 1 << (idx % 64)
	}
}

// MightContain reports whether data may have been added. It never
// produces false negatives; false positives are expected.
func (b *Bloom) MightContain(data []byte) bool {
	h1, h2 := b.hashPair(data)
	for i := 0; i < b.k; i++ {
		idx := (h1 + uint64(i)*h2) % uint64(b.m)
		if b.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// Trigram is a session-scoped candidate-set prefilter for repeated
// %substring% queries on one column. It is activated only after a
// session's substring-query count crosses a threshold, bounded in
// memory, and expired after an idle interval (spec §4.6).
type Trigram struct {
	index      map[string]map[int]struct{}
	queryCount int
	threshold  int
	lastTouch  time.Time
	idleExpiry time.Duration
	maxRows    int
}

// NewTrigram returns a trigram prefilter that activates after `threshold`
// substring queries and expires after `idleExpiry` of inactivity, bounding
// memory to at most maxRowEntries total (rowid, trigram) pairs.
func NewTrigram(threshold int, idleExpiry time.Duration, maxRowEntries int) *Trigram {
	return &Trigram{
		index:      make(map[string]map[int]struct{}),
		threshold:  threshold,
		idleExpiry: idleExpiry,
		maxRows:    maxRowEntries,
	}
}

func trigramsOf(s string) []string {
	padded := "\x02\x02" + s + "\x03\x03"
	if len(padded) < 3 {
		return nil
	}
	out := make([]string, 0, len(padded)-2)
	for i := 0; i+3 <= len(padded); i++ {
		out = append(out, padded[i:i+3])
	}
	return out
}

// Active reports whether the prefilter has crossed its activation
// threshold and has not gone idle.
func (tg *Trigram) Active(now time.Time) bool {
	if tg.queryCount < tg.threshold {
		return false
	}
	if tg.idleExpiry > 0 && !tg.lastTouch.IsZero() && now.Sub(tg.lastTouch) > tg.idleExpiry {
		return false
	}
	return true
}

// RecordQuery notes a substring query was issued against this column,
// advancing the activation counter and idle clock.
func (tg *Trigram) RecordQuery(now time.Time) {
	tg.queryCount++
	tg.lastTouch = now
}

// Index adds rowid's trigrams for the given string value, bounded by
// maxRows total entries (oldest-inserted entries are not evicted here;
// the caller is expected to Reset() on idle expiry).
func (tg *Trigram) Index(rowid int, s string) {
	entries := 0
	for _, tri := range trigramsOf(s) {
		set, ok := tg.index[tri]
		if !ok {
			if tg.maxRows > 0 && len(tg.index) >= tg.maxRows {
				continue
			}
			set = make(map[int]struct{})
			tg.index[tri] = set
		}
		set[rowid] = struct{}{}
		entries++
	}
	_ = entries
}

// Remove drops rowid from every trigram bucket for the given string.
func (tg *Trigram) Remove(rowid int, s string) {
	for _, tri := range trigramsOf(s) {
		if set, ok := tg.index[tri]; ok {
			delete(set, rowid)
			if len(set) == 0 {
				delete(tg.index, tri)
			}
		}
	}
}

// Candidates returns the intersection of trigram sets for every trigram
// in pattern, i.e. the row-ids that could possibly contain pattern as a
// substring. The pattern's own trigrams are taken unpadded, since it may
// occur anywhere in the value. A pattern shorter than 3 bytes has no
// trigram and returns (nil, false), meaning "no candidate restriction"
// to the caller (fall back to a full scan).
func (tg *Trigram) Candidates(pattern string) ([]int, bool) {
	var grams []string
	for i := 0; i+3 <= len(pattern); i++ {
		grams = append(grams, pattern[i:i+3])
	}
	if len(grams) == 0 {
		return nil, false
	}
	var result map[int]struct{}
	for _, g := range grams {
		set, ok := tg.index[g]
		if !ok {
			return nil, true // some trigram has zero candidates
		}
		if result == nil {
			result = make(map[int]struct{}, len(set))
			for r := range set {
				result[r] = struct{}{}
			}
			continue
		}
		for r := range result {
			if _, ok := set[r]; !ok {
				delete(result, r)
			}
		}
	}
	out := make([]int, 0, len(result))
	for r := range result {
		out = append(out, r)
	}
	return out, true
}

// Reset clears the index and activation state, e.g. after idle expiry.
func (tg *Trigram) Reset() {
	tg.index = make(map[string]map[int]struct{})
	tg.queryCount = 0
	tg.lastTouch = time.Time{}
}
