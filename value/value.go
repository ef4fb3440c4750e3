// Package value implements the document and value model shared by every
// stage in the aggregation engine: canonical value ordering, structural
// equality, and dotted field-path resolution (spec §3, §4.3).
//
// A Document is a bson.M: an unordered mapping from field name to Value.
// Arrays are bson.A; timestamps are primitive.DateTime. Representing
// documents this way keeps the stage and expression descriptors
// (spec §6) directly compatible with the shapes the mongo-driver bson
// package already defines, rather than inventing a parallel JSON tree.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is an unordered field-name to value mapping.
type Document = bson.M

// Array is an ordered sequence of values.
type Array = bson.A

// Missing is a distinguished sentinel distinct from an explicit null,
// returned by path resolution when a segment does not exist. It never
// appears inside a stored Document; it is only ever a resolution result.
type Missing struct{}

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v interface{}) bool {
	_, ok := v.(Missing)
	return ok
}

// kindRank assigns the canonical type ordering from spec §4.3:
// null < numbers < strings < arrays < documents < booleans < timestamps.
func kindRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int32, int64, float32, float64:
		return 1
	case string:
		return 2
	case Array, []interface{}:
		return 3
	case Document, map[string]interface{}:
		return 4
	case bool:
		return 5
	case primitive.DateTime, time.Time:
		return 6
	default:
		// Unknown kinds sort after everything else but stay internally
		// comparable by a stable fallback.
		return 7
	}
}

// AsFloat coerces a numeric value to float64. ok is false for non-numeric
// input.
func AsFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// AsInt coerces a numeric value to int64 when it represents an integral
// quantity without loss. ok is false otherwise.
func AsInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		if float64(n) == math.Trunc(float64(n)) {
			return int64(n), true
		}
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time(), true
	case time.Time:
		return t, true
	}
	return time.Time{}, false
}

func asArray(v interface{}) ([]interface{}, bool) {
	switch a := v.(type) {
	case Array:
		return []interface{}(a), true
	case []interface{}:
		return a, true
	}
	return nil, false
}

func asDoc(v interface{}) (Document, bool) {
	switch d := v.(type) {
	case Document:
		return d, true
	case map[string]interface{}:
		return Document(d), true
	}
	return nil, false
}

// Compare implements the total order of spec §4.3. It returns -1, 0, or 1.
// NaN compares equal to NaN and sorts as the greatest number.
func Compare(a, b interface{}) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case 0: // null
		return 0
	case 1: // numbers
		fa, _ := AsFloat(a)
		fb, _ := AsFloat(b)
		aNaN, bNaN := math.IsNaN(fa), math.IsNaN(fb)
		switch {
		case aNaN && bNaN:
			return 0
		case aNaN:
			return 1
		case bNaN:
			return -1
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case 2: // strings
		sa, _ := a.(string)
		sb, _ := b.(string)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	case 3: // arrays: elementwise, shorter-is-less on equal prefix
		aa, _ := asArray(a)
		ba, _ := asArray(b)
		n := len(aa)
		if len(ba) < n {
			n = len(ba)
		}
		for i := 0; i < n; i++ {
			if c := Compare(aa[i], ba[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(aa) < len(ba):
			return -1
		case len(aa) > len(ba):
			return 1
		default:
			return 0
		}
	case 4: // documents: sorted key sequence, then values
		da, _ := asDoc(a)
		db, _ := asDoc(b)
		ka := sortedKeys(da)
		kb := sortedKeys(db)
		n := len(ka)
		if len(kb) < n {
			n = len(kb)
		}
		for i := 0; i < n; i++ {
			if ka[i] != kb[i] {
				if ka[i] < kb[i] {
					return -1
				}
				return 1
			}
			if c := Compare(da[ka[i]], db[kb[i]]); c != 0 {
				return c
			}
		}
		switch {
		case len(ka) < len(kb):
			return -1
		case len(ka) > len(kb):
			return 1
		default:
			return 0
		}
	case 5: // booleans: false < true
		ba, _ := a.(bool)
		bb, _ := b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 6: // timestamps
		ta, _ := asTime(a)
		tb, _ := asTime(b)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		default:
			return 0
		}
	default: // unknown kinds: order by printed form, the form KeyOf encodes
		sa, sb := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	}
}

// Equal reports structural equality, i.e. Compare(a, b) == 0.
func Equal(a, b interface{}) bool {
	return Compare(a, b) == 0
}

// Less reports whether a sorts strictly before b.
func Less(a, b interface{}) bool {
	return Compare(a, b) < 0
}

func sortedKeys(d Document) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeyOf produces a deterministic string encoding of v such that
// KeyOf(a) == KeyOf(b) iff Equal(a, b), suitable for use as a Go map key
// (e.g. group keys, dimension values, $addToSet members). Nested document
// keys are sorted before encoding so structural equality ignores field
// order (spec §4.10, "Equal group-keys").
func KeyOf(v interface{}) string {
	var b strings.Builder
	writeKey(&b, v)
	return b.String()
}

func writeKey(b *strings.Builder, v interface{}) {
	switch kindRank(v) {
	case 0:
		b.WriteString("n:")
	case 1:
		f, _ := AsFloat(v)
		b.WriteString("#:")
		if math.IsNaN(f) {
			b.WriteString("NaN")
		} else {
			b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		}
	case 2:
		s, _ := v.(string)
		b.WriteString("s:")
		b.WriteString(strconv.Quote(s))
	case 3:
		arr, _ := asArray(v)
		b.WriteString("a:[")
		for i, e := range arr {
			if i > 0 {
				b.WriteByte(',')
			}
			writeKey(b, e)
		}
		b.WriteByte(']')
	case 4:
		d, _ := asDoc(v)
		keys := sortedKeys(d)
		b.WriteString("d:{")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeKey(b, d[k])
		}
		b.WriteByte('}')
	case 5:
		bl, _ := v.(bool)
		if bl {
			b.WriteString("b:1")
		} else {
			b.WriteString("b:0")
		}
	case 6:
		t, _ := asTime(v)
		b.WriteString("t:")
		b.WriteString(t.UTC().Format(time.RFC3339Nano))
	default:
		fmt.Fprintf(b, "?:%v", v)
	}
}
