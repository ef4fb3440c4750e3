// Package dimension implements a per-field-path inverted index: value to
// row-id set, plus a sorted distinct-value list for range scans
// (spec §4.4). One Dimension exists per field path per collection; it is
// shared by identity across operators that reference the same path.
//
// Equal and Range are point-probe filters in front of the exact
// index: a Bloom filter over indexed keys short-circuits Equal when a
// value was never observed, and a zone map per chunk of row-ids
// (spec §4.6) short-circuits Range when no chunk's [min, max] can
// possibly overlap the requested bounds.
package dimension

import (
	"sort"

	"github.com/TomNeyland/modash.js-sub008/liveset"
	"github.com/TomNeyland/modash.js-sub008/value"
	"github.com/TomNeyland/modash.js-sub008/zonemap"
)

// chunkSize groups row-ids into fixed-size chunks for zone-map tracking,
// independent of the value-sorted index used for the exact scan.
const chunkSize = 1024

// bloomFalsePositiveRate targets a 1% false-positive rate for the
// membership prefilter in front of Equal's exact map lookup.
const bloomFalsePositiveRate = 0.01

// Dimension is the value -> row-id index for one field path.
type Dimension struct {
	path string

	byValue     map[string]*liveset.LiveSet
	sampleValue map[string]interface{}
	sortedKeys  []string // distinct keys kept in value order
	rowToKey    map[int]string

	chunks   map[int]*zonemap.ZoneMap // rowid/chunkSize -> observed min/max
	bloom    *zonemap.Bloom
	bloomCap int
}

// New returns an empty Dimension over the given field path.
func New(path string) *Dimension {
	return &Dimension{
		path:        path,
		byValue:     make(map[string]*liveset.LiveSet),
		sampleValue: make(map[string]interface{}),
		rowToKey:    make(map[int]string),
		chunks:      make(map[int]*zonemap.ZoneMap),
	}
}

// Path returns the field path this dimension indexes.
func (d *Dimension) Path() string {
	return d.path
}

func (d *Dimension) insertSortedKey(key string, v interface{}) {
	idx := sort.Search(len(d.sortedKeys), func(i int) bool {
		return value.Compare(d.sampleValue[d.sortedKeys[i]], v) >= 0
	})
	d.sortedKeys = append(d.sortedKeys, "")
	copy(d.sortedKeys[idx+1:], d.sortedKeys[idx:])
	d.sortedKeys[idx] = key
}

func (d *Dimension) removeSortedKey(key string) {
	for i, k := range d.sortedKeys {
		if k == key {
			d.sortedKeys = append(d.sortedKeys[:i], d.sortedKeys[i+1:]...)
			return
		}
	}
}

// AddDocument indexes a single resolved field value for rowid.
func (d *Dimension) AddDocument(rowid int, fieldValue interface{}) {
	key := value.KeyOf(fieldValue)
	ls, ok := d.byValue[key]
	if !ok {
		ls = liveset.New(0)
		d.byValue[key] = ls
		d.sampleValue[key] = fieldValue
		d.insertSortedKey(key, fieldValue)
		d.rebuildBloomIfNeeded()
	}
	ls.Set(rowid)
	d.rowToKey[rowid] = key
	d.observeChunk(rowid, fieldValue)
	d.bloom.Add([]byte(key))
}

// observeChunk folds fieldValue into the zone map for rowid's chunk,
// creating the chunk's zone map on first touch. Chunks are never shrunk
// on removal (ZoneMap has no decrement operation): a stale, too-wide
// [min, max] can only cause CanSkip to skip fewer chunks, never an
// incorrect one, so it stays safe to consult after deletes.
func (d *Dimension) observeChunk(rowid int, fieldValue interface{}) {
	c := rowid / chunkSize
	zm, ok := d.chunks[c]
	if !ok {
		zm = zonemap.New()
		d.chunks[c] = zm
	}
	zm.Observe(fieldValue)
}

// rebuildBloomIfNeeded replaces the Bloom filter once the number of
// distinct keys it was sized for is exceeded, rebuilding from
// sortedKeys so every previously indexed value is still a member.
func (d *Dimension) rebuildBloomIfNeeded() {
	n := len(d.sortedKeys) + 1
	if d.bloom != nil && n <= d.bloomCap {
		return
	}
	target := n * 2
	if target < 16 {
		target = 16
	}
	d.bloom = zonemap.NewBloom(target, bloomFalsePositiveRate)
	d.bloomCap = target
	for _, k := range d.sortedKeys {
		d.bloom.Add([]byte(k))
	}
}

// RemoveDocument removes rowid from whatever value it was last indexed
// under, using the cheap row_to_value lookup rather than a rescan.
func (d *Dimension) RemoveDocument(rowid int) {
	key, ok := d.rowToKey[rowid]
	if !ok {
		return
	}
	delete(d.rowToKey, rowid)
	ls, ok := d.byValue[key]
	if !ok {
		return
	}
	ls.Clear(rowid)
	if ls.Cardinality() == 0 {
		delete(d.byValue, key)
		delete(d.sampleValue, key)
		d.removeSortedKey(key)
	}
}

// Equal returns the row-ids whose indexed value equals v. A Bloom-filter
// negative short-circuits straight to nil without touching byValue, the
// point-probe prefilter spec §4.6 describes.
func (d *Dimension) Equal(v interface{}) []int {
	key := value.KeyOf(v)
	if d.bloom != nil && !d.bloom.MightContain([]byte(key)) {
		return nil
	}
	ls, ok := d.byValue[key]
	if !ok {
		return nil
	}
	return ls.ToSlice()
}

// RangeSpec describes inclusivity of a range scan's bounds. A nil bound
// means unbounded on that side.
type RangeSpec struct {
	LoInclusive bool
	HiInclusive bool
}

// rangeSkippable reports whether every chunk's zone map can conclusively
// rule out overlap with [lo, hi]: a chunk is skippable if it lies
// entirely below lo or entirely above hi. Only when ALL chunks are
// skippable can Range short-circuit, since a single non-skippable chunk
// may still hold a match.
func (d *Dimension) rangeSkippable(lo, hi interface{}, spec RangeSpec) bool {
	if len(d.chunks) == 0 {
		return false
	}
	for _, zm := range d.chunks {
		below := lo != nil && zm.CanSkip(loOp(spec), lo, nil)
		above := hi != nil && zm.CanSkip(hiOp(spec), hi, nil)
		if !below && !above {
			return false
		}
	}
	return true
}

func loOp(spec RangeSpec) zonemap.CompareOp {
	if spec.LoInclusive {
		return zonemap.OpGe
	}
	return zonemap.OpGt
}

func hiOp(spec RangeSpec) zonemap.CompareOp {
	if spec.HiInclusive {
		return zonemap.OpLe
	}
	return zonemap.OpLt
}

// Range returns the row-ids whose indexed value falls within [lo, hi]
// (bounds optionally nil for unbounded, inclusivity per spec).
func (d *Dimension) Range(lo, hi interface{}, spec RangeSpec) []int {
	if d.rangeSkippable(lo, hi, spec) {
		return nil
	}
	var out []int
	lo_i := sort.Search(len(d.sortedKeys), func(i int) bool {
		if lo == nil {
			return true
		}
		c := value.Compare(d.sampleValue[d.sortedKeys[i]], lo)
		if spec.LoInclusive {
			return c >= 0
		}
		return c > 0
	})
	for i := lo_i; i < len(d.sortedKeys); i++ {
		v := d.sampleValue[d.sortedKeys[i]]
		if hi != nil {
			c := value.Compare(v, hi)
			if spec.HiInclusive && c > 0 {
				break
			}
			if !spec.HiInclusive && c >= 0 {
				break
			}
		}
		out = append(out, d.byValue[d.sortedKeys[i]].ToSlice()...)
	}
	return out
}

// Cardinality returns the number of distinct values currently indexed.
func (d *Dimension) Cardinality() int {
	return len(d.sortedKeys)
}

// Total returns the number of documents currently indexed.
func (d *Dimension) Total() int {
	return len(d.rowToKey)
}

// Selectivity returns distinct/total, used by the optimizer to judge
// whether an equality/range scan on this dimension is worth using. A
// selectivity near 1 means nearly every value is distinct (point lookups
// cheap); near 0 means heavy duplication (range/bitmap scans cheap).
func (d *Dimension) Selectivity() float64 {
	total := d.Total()
	if total == 0 {
		return 0
	}
	return float64(d.Cardinality()) / float64(total)
}
