package expr

import (
	"testing"
	"time"

	"github.com/TomNeyland/modash.js-sub008/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func evalOK(t *testing.T, raw interface{}, doc value.Document) interface{} {
	t.Helper()
	v, err := EvalScalar(raw, doc, doc)
	require.NoError(t, err)
	return v
}

func TestLiteralAndFieldPath(t *testing.T) {
	doc := value.Document{"a": 5}
	assert.Equal(t, 5, evalOK(t, "$a", doc))
	assert.Equal(t, int64(7), evalOK(t, int64(7), doc))
}

func TestArithmeticOperators(t *testing.T) {
	doc := value.Document{"a": 10, "b": 3}
	assert.InDelta(t, 13.0, evalOK(t, value.Document{"$add": value.Array{"$a", "$b"}}, doc).(float64), 1e-9)
	assert.Nil(t, evalOK(t, value.Document{"$divide": value.Array{"$a", 0}}, doc))
}

func TestComparisonAndLogical(t *testing.T) {
	doc := value.Document{"age": 20}
	assert.Equal(t, true, evalOK(t, value.Document{"$gte": value.Array{"$age", 18}}, doc))
	assert.Equal(t, false, evalOK(t, value.Document{"$lt": value.Array{"$age", 18}}, doc))
}

func TestCondAndIfNull(t *testing.T) {
	doc := value.Document{"x": nil}
	got := evalOK(t, value.Document{"$ifNull": value.Array{"$x", "fallback"}}, doc)
	assert.Equal(t, "fallback", got)

	got = evalOK(t, value.Document{"$cond": value.Array{true, "yes", "no"}}, doc)
	assert.Equal(t, "yes", got)
}

func TestArrayElemAtOutOfBounds(t *testing.T) {
	doc := value.Document{"a": value.Array{1, 2, 3}}
	assert.Nil(t, evalOK(t, value.Document{"$arrayElemAt": value.Array{"$a", 10}}, doc))
	assert.Nil(t, evalOK(t, value.Document{"$arrayElemAt": value.Array{"$a", -10}}, doc))
	assert.Equal(t, 3, evalOK(t, value.Document{"$arrayElemAt": value.Array{"$a", -1}}, doc))
}

func TestFilterAndMapWithAs(t *testing.T) {
	doc := value.Document{"items": value.Array{1, 2, 3, 4}}
	filterExpr := value.Document{"$filter": value.Document{
		"input": "$items",
		"as":    "n",
		"cond":  value.Document{"$gt": value.Array{"$$n", 2}},
	}}
	got := evalOK(t, filterExpr, doc)
	assert.Equal(t, value.Array{3, 4}, got)

	mapExpr := value.Document{"$map": value.Document{
		"input": "$items",
		"as":    "n",
		"in":    value.Document{"$multiply": value.Array{"$$n", 10}},
	}}
	got = evalOK(t, mapExpr, doc)
	assert.Equal(t, value.Array{10.0, 20.0, 30.0, 40.0}, got)
}

func TestDateArithmeticDisambiguation(t *testing.T) {
	t0 := primitive.NewDateTimeFromTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	doc := value.Document{"d": t0}
	got := evalOK(t, value.Document{"$add": value.Array{"$d", 1000}}, doc)
	dt, ok := got.(primitive.DateTime)
	require.True(t, ok)
	assert.Equal(t, int64(1), dt.Time().Sub(t0.Time()).Milliseconds()/1000)
}

func TestSubtractDatesYieldsMillis(t *testing.T) {
	t1 := primitive.NewDateTimeFromTime(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))
	t0 := primitive.NewDateTimeFromTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	doc := value.Document{"a": t1, "b": t0}
	got := evalOK(t, value.Document{"$subtract": value.Array{"$a", "$b"}}, doc)
	assert.Equal(t, 1000.0, got)
}

func TestUnsupportedOperatorFallback(t *testing.T) {
	_, err := Parse(value.Document{"$function": value.Array{}})
	require.Error(t, err)
	var unsupported *Unsupported
	assert.ErrorAs(t, err, &unsupported)
}

func TestIsSimple(t *testing.T) {
	assert.True(t, IsSimple(value.Document{"$add": value.Array{"$a", 1}}))
	assert.False(t, IsSimple(value.Document{"$size": value.Array{"$a"}}))
}

func TestObjectShapeEvaluatesEachField(t *testing.T) {
	doc := value.Document{"a": 1, "b": 2}
	got := evalOK(t, value.Document{"x": "$a", "y": "$b"}, doc)
	d, ok := got.(value.Document)
	require.True(t, ok)
	assert.Equal(t, 1, d["x"])
	assert.Equal(t, 2, d["y"])
}
