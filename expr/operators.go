package expr

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/TomNeyland/modash.js-sub008/value"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// opFunc evaluates already-evaluated argument values into a result.
type opFunc func(args []interface{}) (interface{}, error)

var registry map[string]opFunc

func init() {
	registry = map[string]opFunc{
		// arithmetic
		"add":      opAdd,
		"subtract": opSubtract,
		"multiply": numericFold(func(a, b float64) float64 { return a * b }, 1),
		"divide":   opDivide,
		"mod":      opMod,
		"abs":      unaryNumeric(math.Abs),
		"ceil":     unaryNumeric(math.Ceil),
		"floor":    unaryNumeric(math.Floor),
		"round":    unaryNumeric(math.Round),
		"sqrt":     unaryNumeric(math.Sqrt),
		"pow":      opPow,

		// comparison
		"eq":  cmpOp(func(c int) bool { return c == 0 }),
		"ne":  cmpOp(func(c int) bool { return c != 0 }),
		"gt":  cmpOp(func(c int) bool { return c > 0 }),
		"gte": cmpOp(func(c int) bool { return c >= 0 }),
		"lt":  cmpOp(func(c int) bool { return c < 0 }),
		"lte": cmpOp(func(c int) bool { return c <= 0 }),
		"cmp": func(args []interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, errArity("cmp", 2)
			}
			return int64(value.Compare(args[0], args[1])), nil
		},

		// logical
		"and": opAnd,
		"or":  opOr,
		"not": opNot,

		// conditional
		"cond":   opCond,
		"ifNull": opIfNull,
		"switch": opSwitch,

		// string
		"concat":    opConcat,
		"substr":    opSubstr,
		"toLower":   unaryString(strings.ToLower),
		"toUpper":   unaryString(strings.ToUpper),
		"trim":      opTrim(strings.TrimSpace),
		"ltrim":     opTrim(func(s string) string { return strings.TrimLeft(s, " \t\n\r") }),
		"rtrim":     opTrim(func(s string) string { return strings.TrimRight(s, " \t\n\r") }),
		"split":     opSplit,
		"strLen":    opStrLen,

		// array ($filter and $map are parsed specially, see expr.go)
		"size":         opSize,
		"arrayElemAt":  opArrayElemAt,
		"concatArrays": opConcatArrays,
		"in":           opIn,
		"indexOfArray": opIndexOfArray,
		"reverseArray": opReverseArray,
		"slice":        opSliceArray,

		// set
		"setEquals":        opSetEquals,
		"setIntersection":  opSetIntersection,
		"setUnion":         opSetUnion,
		"setDifference":    opSetDifference,
		"setIsSubset":      opSetIsSubset,
		"anyElementTrue":   opAnyElementTrue,
		"allElementsTrue":  opAllElementsTrue,

		// date
		"year":          dateField(func(t time.Time) int { return t.Year() }),
		"month":         dateField(func(t time.Time) int { return int(t.Month()) }),
		"dayOfMonth":    dateField(func(t time.Time) int { return t.Day() }),
		"dayOfWeek":     dateField(func(t time.Time) int { return int(t.Weekday()) + 1 }),
		"dayOfYear":     dateField(func(t time.Time) int { return t.YearDay() }),
		"week":          dateField(weekISO),
		"hour":          dateField(func(t time.Time) int { return t.Hour() }),
		"minute":        dateField(func(t time.Time) int { return t.Minute() }),
		"second":        dateField(func(t time.Time) int { return t.Second() }),
		"millisecond":   dateField(func(t time.Time) int { return t.Nanosecond() / 1e6 }),
		"dateToString":  opDateToString,
	}
}

func weekISO(t time.Time) int {
	_, w := t.ISOWeek()
	return w
}

func errArity(op string, n int) error {
	return &Unsupported{Operator: op + ": wrong arity, want " + strconv.Itoa(n)}
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time(), true
	case time.Time:
		return t, true
	}
	return time.Time{}, false
}

func isNullish(v interface{}) bool {
	return v == nil || value.IsMissing(v)
}

// opAdd sums its numeric args, handling the date disambiguation from spec
// §4.7: add(date, number) treats the number as milliseconds. opSubtract
// below handles subtract(date, date), which yields milliseconds.
func opAdd(args []interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, errArity("add", 2)
	}
	if t, ok := toTime(args[0]); ok {
		if n, ok := value.AsFloat(args[1]); ok {
			return primitive.NewDateTimeFromTime(t.Add(time.Duration(n) * time.Millisecond)), nil
		}
	}
	if t, ok := toTime(args[1]); ok {
		if n, ok := value.AsFloat(args[0]); ok {
			return primitive.NewDateTimeFromTime(t.Add(time.Duration(n) * time.Millisecond)), nil
		}
	}
	sum := 0.0
	for _, a := range args {
		if isNullish(a) {
			return nil, nil
		}
		f, ok := value.AsFloat(a)
		if !ok {
			return nil, nil
		}
		sum += f
	}
	return sum, nil
}

func opSubtract(args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, errArity("subtract", 2)
	}
	ta, aok := toTime(args[0])
	tb, bok := toTime(args[1])
	if aok && bok {
		return float64(ta.Sub(tb).Milliseconds()), nil
	}
	if aok {
		if n, ok := value.AsFloat(args[1]); ok {
			return primitive.NewDateTimeFromTime(ta.Add(-time.Duration(n) * time.Millisecond)), nil
		}
	}
	if isNullish(args[0]) || isNullish(args[1]) {
		return nil, nil
	}
	fa, aok2 := value.AsFloat(args[0])
	fb, bok2 := value.AsFloat(args[1])
	if !aok2 || !bok2 {
		return nil, nil
	}
	return fa - fb, nil
}

func numericFold(op func(a, b float64) float64, identity float64) opFunc {
	return func(args []interface{}) (interface{}, error) {
		acc := identity
		for _, a := range args {
			if isNullish(a) {
				return nil, nil
			}
			f, ok := value.AsFloat(a)
			if !ok {
				return nil, nil
			}
			acc = op(acc, f)
		}
		return acc, nil
	}
}

func opDivide(args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, errArity("divide", 2)
	}
	if isNullish(args[0]) || isNullish(args[1]) {
		return nil, nil
	}
	a, aok := value.AsFloat(args[0])
	b, bok := value.AsFloat(args[1])
	if !aok || !bok || b == 0 {
		return nil, nil
	}
	return a / b, nil
}

func opMod(args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, errArity("mod", 2)
	}
	if isNullish(args[0]) || isNullish(args[1]) {
		return nil, nil
	}
	a, aok := value.AsFloat(args[0])
	b, bok := value.AsFloat(args[1])
	if !aok || !bok || b == 0 {
		return nil, nil
	}
	return math.Mod(a, b), nil
}

func opPow(args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, errArity("pow", 2)
	}
	a, aok := value.AsFloat(args[0])
	b, bok := value.AsFloat(args[1])
	if !aok || !bok {
		return nil, nil
	}
	return math.Pow(a, b), nil
}

func unaryNumeric(op func(float64) float64) opFunc {
	return func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errArity("unary", 1)
		}
		if isNullish(args[0]) {
			return nil, nil
		}
		f, ok := value.AsFloat(args[0])
		if !ok {
			return nil, nil
		}
		r := op(f)
		if math.IsNaN(r) {
			return nil, nil
		}
		return r, nil
	}
}

func cmpOp(pred func(c int) bool) opFunc {
	return func(args []interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errArity("cmp", 2)
		}
		return pred(value.Compare(args[0], args[1])), nil
	}
}

func opAnd(args []interface{}) (interface{}, error) {
	for _, a := range args {
		if !truthy(a) {
			return false, nil
		}
	}
	return true, nil
}

func opOr(args []interface{}) (interface{}, error) {
	for _, a := range args {
		if truthy(a) {
			return true, nil
		}
	}
	return false, nil
}

func opNot(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, errArity("not", 1)
	}
	return !truthy(args[0]), nil
}

func truthy(v interface{}) bool {
	if isNullish(v) {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if f, ok := value.AsFloat(v); ok {
		return f != 0
	}
	return true
}

func opCond(args []interface{}) (interface{}, error) {
	if len(args) != 3 {
		return nil, errArity("cond", 3)
	}
	if truthy(args[0]) {
		return args[1], nil
	}
	return args[2], nil
}

func opIfNull(args []interface{}) (interface{}, error) {
	for _, a := range args {
		if !isNullish(a) {
			return a, nil
		}
	}
	if len(args) == 0 {
		return nil, errArity("ifNull", 1)
	}
	return args[len(args)-1], nil
}

// opSwitch expects pairs interleaved as case1, then1, case2, then2, ...,
// optionally a trailing default.
func opSwitch(args []interface{}) (interface{}, error) {
	i := 0
	for i+1 < len(args) {
		if truthy(args[i]) {
			return args[i+1], nil
		}
		i += 2
	}
	if i < len(args) {
		return args[i], nil
	}
	return nil, nil
}

func asStr(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func opConcat(args []interface{}) (interface{}, error) {
	var b strings.Builder
	for _, a := range args {
		if isNullish(a) {
			return nil, nil
		}
		s, ok := asStr(a)
		if !ok {
			return nil, nil
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func opSubstr(args []interface{}) (interface{}, error) {
	if len(args) != 3 {
		return nil, errArity("substr", 3)
	}
	s, ok := asStr(args[0])
	if !ok {
		return nil, nil
	}
	start, sok := value.AsInt(args[1])
	length, lok := value.AsInt(args[2])
	if !sok || !lok {
		return nil, nil
	}
	runes := []rune(s)
	if start < 0 {
		start = 0
	}
	if int(start) >= len(runes) {
		return "", nil
	}
	end := int(start) + int(length)
	if length < 0 || end > len(runes) {
		end = len(runes)
	}
	return string(runes[start:end]), nil
}

func unaryString(op func(string) string) opFunc {
	return func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errArity("unary string", 1)
		}
		s, ok := asStr(args[0])
		if !ok {
			return nil, nil
		}
		return op(s), nil
	}
}

func opTrim(op func(string) string) opFunc {
	return unaryString(op)
}

func opSplit(args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, errArity("split", 2)
	}
	s, ok1 := asStr(args[0])
	sep, ok2 := asStr(args[1])
	if !ok1 || !ok2 {
		return nil, nil
	}
	parts := strings.Split(s, sep)
	out := make(value.Array, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func opStrLen(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, errArity("strLen", 1)
	}
	s, ok := asStr(args[0])
	if !ok {
		return nil, nil
	}
	return int64(len([]rune(s))), nil
}

func toArray(v interface{}) ([]interface{}, bool) {
	switch a := v.(type) {
	case value.Array:
		return []interface{}(a), true
	case []interface{}:
		return a, true
	}
	return nil, false
}

func opSize(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, errArity("size", 1)
	}
	a, ok := toArray(args[0])
	if !ok {
		return nil, nil
	}
	return int64(len(a)), nil
}

// opArrayElemAt returns null for any out-of-bounds index, positive or
// negative (spec §4.7).
func opArrayElemAt(args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, errArity("arrayElemAt", 2)
	}
	a, ok := toArray(args[0])
	if !ok {
		return nil, nil
	}
	idx, ok := value.AsInt(args[1])
	if !ok {
		return nil, nil
	}
	if idx < 0 {
		idx = int64(len(a)) + idx
	}
	if idx < 0 || idx >= int64(len(a)) {
		return nil, nil
	}
	return a[idx], nil
}

func opConcatArrays(args []interface{}) (interface{}, error) {
	var out value.Array
	for _, a := range args {
		arr, ok := toArray(a)
		if !ok {
			return nil, nil
		}
		out = append(out, arr...)
	}
	return out, nil
}

func opIn(args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, errArity("in", 2)
	}
	arr, ok := toArray(args[1])
	if !ok {
		return false, nil
	}
	for _, e := range arr {
		if value.Equal(e, args[0]) {
			return true, nil
		}
	}
	return false, nil
}

func opIndexOfArray(args []interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, errArity("indexOfArray", 2)
	}
	arr, ok := toArray(args[0])
	if !ok {
		return nil, nil
	}
	for i, e := range arr {
		if value.Equal(e, args[1]) {
			return int64(i), nil
		}
	}
	return int64(-1), nil
}

func opReverseArray(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, errArity("reverseArray", 1)
	}
	arr, ok := toArray(args[0])
	if !ok {
		return nil, nil
	}
	out := make(value.Array, len(arr))
	for i, e := range arr {
		out[len(arr)-1-i] = e
	}
	return out, nil
}

func opSliceArray(args []interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, errArity("slice", 2)
	}
	arr, ok := toArray(args[0])
	if !ok {
		return nil, nil
	}
	n := len(arr)
	var start, count int
	if len(args) == 2 {
		c, ok := value.AsInt(args[1])
		if !ok {
			return nil, nil
		}
		count = int(c)
		if count >= 0 {
			start = 0
		} else {
			start = n + count
			count = -count
			if start < 0 {
				start = 0
			}
		}
	} else {
		s, ok1 := value.AsInt(args[1])
		c, ok2 := value.AsInt(args[2])
		if !ok1 || !ok2 {
			return nil, nil
		}
		start = int(s)
		count = int(c)
		if start < 0 {
			start = n + start
			if start < 0 {
				start = 0
			}
		}
	}
	if start > n {
		start = n
	}
	end := start + count
	if end > n {
		end = n
	}
	if end < start {
		end = start
	}
	return value.Array(arr[start:end]), nil
}

func setKeys(v interface{}) (map[string]interface{}, bool) {
	arr, ok := toArray(v)
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(arr))
	for _, e := range arr {
		out[value.KeyOf(e)] = e
	}
	return out, true
}

func opSetEquals(args []interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, errArity("setEquals", 2)
	}
	first, ok := setKeys(args[0])
	if !ok {
		return false, nil
	}
	for _, a := range args[1:] {
		s, ok := setKeys(a)
		if !ok || len(s) != len(first) {
			return false, nil
		}
		for k := range first {
			if _, ok := s[k]; !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func opSetIntersection(args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return value.Array{}, nil
	}
	acc, ok := setKeys(args[0])
	if !ok {
		return nil, nil
	}
	for _, a := range args[1:] {
		s, ok := setKeys(a)
		if !ok {
			return nil, nil
		}
		for k := range acc {
			if _, ok := s[k]; !ok {
				delete(acc, k)
			}
		}
	}
	out := make(value.Array, 0, len(acc))
	for _, v := range acc {
		out = append(out, v)
	}
	return out, nil
}

func opSetUnion(args []interface{}) (interface{}, error) {
	acc := make(map[string]interface{})
	for _, a := range args {
		s, ok := setKeys(a)
		if !ok {
			return nil, nil
		}
		for k, v := range s {
			acc[k] = v
		}
	}
	out := make(value.Array, 0, len(acc))
	for _, v := range acc {
		out = append(out, v)
	}
	return out, nil
}

func opSetDifference(args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, errArity("setDifference", 2)
	}
	a, ok := setKeys(args[0])
	if !ok {
		return nil, nil
	}
	b, ok := setKeys(args[1])
	if !ok {
		return nil, nil
	}
	out := make(value.Array, 0, len(a))
	for k, v := range a {
		if _, ok := b[k]; !ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func opSetIsSubset(args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, errArity("setIsSubset", 2)
	}
	a, ok := setKeys(args[0])
	if !ok {
		return false, nil
	}
	b, ok := setKeys(args[1])
	if !ok {
		return false, nil
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func opAnyElementTrue(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, errArity("anyElementTrue", 1)
	}
	arr, ok := toArray(args[0])
	if !ok {
		return false, nil
	}
	for _, e := range arr {
		if truthy(e) {
			return true, nil
		}
	}
	return false, nil
}

func opAllElementsTrue(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, errArity("allElementsTrue", 1)
	}
	arr, ok := toArray(args[0])
	if !ok {
		return true, nil
	}
	for _, e := range arr {
		if !truthy(e) {
			return false, nil
		}
	}
	return true, nil
}

func dateField(op func(time.Time) int) opFunc {
	return func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errArity("date field", 1)
		}
		t, ok := toTime(args[0])
		if !ok {
			return nil, nil
		}
		return int64(op(t.UTC())), nil
	}
}

func opDateToString(args []interface{}) (interface{}, error) {
	if len(args) < 1 {
		return nil, errArity("dateToString", 1)
	}
	t, ok := toTime(args[0])
	if !ok {
		return nil, nil
	}
	format := "%Y-%m-%dT%H:%M:%S.%LZ"
	if len(args) > 1 {
		if f, ok := asStr(args[1]); ok {
			format = f
		}
	}
	return strftimeLike(t.UTC(), format), nil
}

func strftimeLike(t time.Time, format string) string {
	replacer := strings.NewReplacer(
		"%Y", pad4(t.Year()),
		"%m", pad2(int(t.Month())),
		"%d", pad2(t.Day()),
		"%H", pad2(t.Hour()),
		"%M", pad2(t.Minute()),
		"%S", pad2(t.Second()),
		"%L", pad3(t.Nanosecond()/1e6),
	)
	return replacer.Replace(format)
}

func pad2(n int) string { return pad(n, 2) }
func pad3(n int) string { return pad(n, 3) }
func pad4(n int) string { return pad(n, 4) }

func pad(n, width int) string {
	s := strconv.Itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}
