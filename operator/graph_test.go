package operator

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomNeyland/modash.js-sub008/errs"
	"github.com/TomNeyland/modash.js-sub008/value"
)

func TestCompileScenarioA_ProjectionPassthrough(t *testing.T) {
	g, err := Compile([]map[string]interface{}{
		{"$project": map[string]interface{}{"v": 1, "_id": 0}},
	})
	require.NoError(t, err)

	var batch Batch
	for i, v := range []int{10, 20, 30} {
		batch = append(batch, Delta{Op: OpInsert, Row: RowKeyOf(i), After: value.Document{"_id": i, "v": v}})
	}
	_, err = g.Push(batch)
	require.NoError(t, err)

	got := g.Materialize()
	sort.Slice(got, func(i, j int) bool { return value.Compare(got[i]["v"], got[j]["v"]) < 0 })
	assert.Equal(t, []value.Document{{"v": 10}, {"v": 20}, {"v": 30}}, got)
}

func TestCompileScenarioB_GroupedSum(t *testing.T) {
	g, err := Compile([]map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id": "$c",
			"s":   map[string]interface{}{"$sum": "$v"},
		}},
	})
	require.NoError(t, err)

	data := []value.Document{
		{"c": "a", "v": 10}, {"c": "a", "v": 30}, {"c": "b", "v": 20},
	}
	var batch Batch
	for i, d := range data {
		batch = append(batch, Delta{Op: OpInsert, Row: RowKeyOf(i), After: d})
	}
	_, err = g.Push(batch)
	require.NoError(t, err)

	got := g.Materialize()
	sortByID(got)
	require.Len(t, got, 2)
	assert.Equal(t, 40.0, got[0]["s"])
	assert.Equal(t, 20.0, got[1]["s"])
}

func TestCompileSortStage(t *testing.T) {
	g, err := Compile([]map[string]interface{}{
		{"$sort": map[string]interface{}{"x": -1}},
	})
	require.NoError(t, err)

	_, err = g.Push(Batch{
		{Op: OpInsert, Row: RowKeyOf(1), After: value.Document{"x": 5}},
		{Op: OpInsert, Row: RowKeyOf(2), After: value.Document{"x": 9}},
	})
	require.NoError(t, err)
	got := g.Materialize()
	require.Len(t, got, 2)
	assert.Equal(t, 9, got[0]["x"])
}

func TestCompileUnwind(t *testing.T) {
	g, err := Compile([]map[string]interface{}{
		{"$unwind": "$a"},
	})
	require.NoError(t, err)

	_, err = g.Push(Batch{
		{Op: OpInsert, Row: RowKeyOf(1), After: value.Document{"a": value.Array{1, 2, 3}}},
		{Op: OpInsert, Row: RowKeyOf(2), After: value.Document{"a": value.Array{}}},
		{Op: OpInsert, Row: RowKeyOf(3), After: value.Document{"a": nil}},
	})
	require.NoError(t, err)
}

func TestCompileUnsupportedStageFallsBack(t *testing.T) {
	_, err := Compile([]map[string]interface{}{
		{"$lookup": map[string]interface{}{}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnsupportedStage))
}

func TestCompileMultiKeyStageIsParseError(t *testing.T) {
	_, err := Compile([]map[string]interface{}{
		{"$match": map[string]interface{}{}, "$project": map[string]interface{}{}},
	})
	require.Error(t, err)
	var pe *errs.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestCompileFullPipelineMatchThenProject(t *testing.T) {
	g, err := Compile([]map[string]interface{}{
		{"$match": map[string]interface{}{"age": map[string]interface{}{"$gte": 18}}},
		{"$project": map[string]interface{}{"age": 1}},
	})
	require.NoError(t, err)

	out, err := g.Push(Batch{
		{Op: OpInsert, Row: RowKeyOf(1), After: value.Document{"age": 17}},
		{Op: OpInsert, Row: RowKeyOf(2), After: value.Document{"age": 21}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 21, out[0].After["age"])
}
