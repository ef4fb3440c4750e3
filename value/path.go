package value

import "strconv"

// Resolve walks a dotted field path against doc and returns the resolved
// value, or Missing{} if any segment does not exist. When a segment is
// numeric and the current value is an array, it indexes; when the current
// value is an array and the segment is not numeric, the remaining path is
// mapped element-wise over the array and the result is flattened one
// level (spec §4.3).
func Resolve(doc Document, path string) interface{} {
	return resolveSegments(Document(doc), splitPath(path))
}

// ResolveAny resolves a path against an arbitrary root value ($$ROOT /
// $$CURRENT may be a non-document root in sub-expressions).
func ResolveAny(root interface{}, path string) interface{} {
	return resolveSegments(root, splitPath(path))
}

func splitPath(path string) []string {
	segs := make([]string, 0, 4)
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}

func resolveSegments(cur interface{}, segs []string) interface{} {
	if len(segs) == 0 {
		return cur
	}
	seg := segs[0]
	rest := segs[1:]

	switch t := cur.(type) {
	case nil:
		return Missing{}
	case Missing:
		return Missing{}
	case Document:
		v, ok := t[seg]
		if !ok {
			return Missing{}
		}
		return resolveSegments(v, rest)
	case map[string]interface{}:
		v, ok := t[seg]
		if !ok {
			return Missing{}
		}
		return resolveSegments(v, rest)
	case Array:
		return resolveArraySegment([]interface{}(t), seg, rest)
	case []interface{}:
		return resolveArraySegment(t, seg, rest)
	default:
		return Missing{}
	}
}

func resolveArraySegment(arr []interface{}, seg string, rest []string) interface{} {
	if idx, err := strconv.Atoi(seg); err == nil {
		if idx < 0 || idx >= len(arr) {
			return Missing{}
		}
		return resolveSegments(arr[idx], rest)
	}
	// Non-numeric segment against an array: map remaining path over
	// elements, flattening one level.
	out := make([]interface{}, 0, len(arr))
	for _, e := range arr {
		v := resolveSegments(e, append([]string{seg}, rest...))
		if IsMissing(v) {
			continue
		}
		if nested, ok := v.(Array); ok {
			out = append(out, []interface{}(nested)...)
		} else if nested, ok := v.([]interface{}); ok {
			out = append(out, nested...)
		} else {
			out = append(out, v)
		}
	}
	return Array(out)
}

// Set assigns value at the given dotted path in doc, creating intermediate
// documents as needed. It does not support array-index segments; its
// caller, $unwind, writes each array element back at the unwound path.
func Set(doc Document, path string, v interface{}) {
	segs := splitPath(path)
	cur := doc
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = v
			return
		}
		next, ok := cur[seg].(Document)
		if !ok {
			existing, has := cur[seg].(map[string]interface{})
			if has {
				next = Document(existing)
			} else {
				next = Document{}
				cur[seg] = next
			}
		}
		cur = next
	}
}

// RemovePath deletes the field at the given dotted path in doc, if
// present. Intermediate documents are left in place even if emptied.
func RemovePath(doc Document, path string) {
	segs := splitPath(path)
	cur := doc
	for i, seg := range segs {
		if i == len(segs)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg].(Document)
		if !ok {
			return
		}
		cur = next
	}
}
