package engine

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomNeyland/modash.js-sub008/errs"
	"github.com/TomNeyland/modash.js-sub008/value"
)

func sortByKey(docs []value.Document, key string) {
	sort.Slice(docs, func(i, j int) bool {
		return value.Compare(docs[i][key], docs[j][key]) < 0
	})
}

// d1 is the dataset D1 used throughout spec §8's literal scenarios.
func d1() []value.Document {
	return []value.Document{
		{"c": "a", "v": 10},
		{"c": "b", "v": 20},
		{"c": "a", "v": 30},
	}
}

func TestScenarioA_ProjectionPassthrough(t *testing.T) {
	c := New(d1())
	require.NoError(t, c.Install([]map[string]interface{}{
		{"$project": map[string]interface{}{"v": 1, "_id": 0}},
	}))
	out, err := c.Materialize()
	require.NoError(t, err)
	sortByKey(out, "v")
	assert.Equal(t, []value.Document{{"v": 10}, {"v": 20}, {"v": 30}}, out)
}

func TestScenarioB_GroupedSum(t *testing.T) {
	c := New(d1())
	require.NoError(t, c.Install([]map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id": "$c",
			"s":   map[string]interface{}{"$sum": "$v"},
		}},
	}))
	out, err := c.Materialize()
	require.NoError(t, err)
	sortByKey(out, "_id")
	assert.Equal(t, []value.Document{
		{"_id": "a", "s": float64(40)},
		{"_id": "b", "s": float64(20)},
	}, out)
}

func TestScenarioC_IncrementalDelete(t *testing.T) {
	c := New(d1())
	require.NoError(t, c.Install([]map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id": "$c",
			"s":   map[string]interface{}{"$sum": "$v"},
		}},
	}))
	_, err := c.Materialize()
	require.NoError(t, err)

	// row-id 1 is {c:"a", v:10} per New's insertion order.
	ok, err := c.Remove(1)
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := c.Materialize()
	require.NoError(t, err)
	sortByKey(out, "_id")
	assert.Equal(t, []value.Document{
		{"_id": "a", "s": float64(30)},
		{"_id": "b", "s": float64(20)},
	}, out)
}

func TestScenarioD_Unwind(t *testing.T) {
	c := New([]value.Document{
		{"a": value.Array{1, 2, 3}},
		{"a": value.Array{}},
		{"a": nil},
	})
	require.NoError(t, c.Install([]map[string]interface{}{
		{"$unwind": "$a"},
	}))
	out, err := c.Materialize()
	require.NoError(t, err)
	sortByKey(out, "a")
	assert.Equal(t, []value.Document{{"a": 1}, {"a": 2}, {"a": 3}}, out)
}

func TestScenarioD_UnwindPreserveNullAndEmpty(t *testing.T) {
	c := New([]value.Document{
		{"a": value.Array{1, 2, 3}},
		{"a": value.Array{}},
		{"a": nil},
	})
	require.NoError(t, c.Install([]map[string]interface{}{
		{"$unwind": map[string]interface{}{"path": "$a", "preserveNullAndEmptyArrays": true}},
	}))
	out, err := c.Materialize()
	require.NoError(t, err)
	assert.Len(t, out, 5)
}

func TestScenarioE_TopK(t *testing.T) {
	c := New([]value.Document{
		{"x": 5}, {"x": 1}, {"x": 9}, {"x": 3}, {"x": 7},
	})
	require.NoError(t, c.Install([]map[string]interface{}{
		{"$sort": map[string]interface{}{"x": -1}},
		{"$limit": 2},
	}))
	out, err := c.Materialize()
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 9, out[0]["x"])
	assert.Equal(t, 7, out[1]["x"])
}

func TestScenarioF_MatchUpdateSemantics(t *testing.T) {
	c := New([]value.Document{{"age": 17}})
	require.NoError(t, c.Install([]map[string]interface{}{
		{"$match": map[string]interface{}{"age": map[string]interface{}{"$gte": 18}}},
	}))
	out, err := c.Materialize()
	require.NoError(t, err)
	assert.Len(t, out, 0)

	ok, err := c.Update(1, value.Document{"age": 19})
	require.NoError(t, err)
	assert.True(t, ok)

	out, err = c.Materialize()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 19, out[0]["age"])
}

func TestInsertAssignsSequentialRowIDs(t *testing.T) {
	c := New(nil)
	id1, err := c.Insert(value.Document{"v": 1})
	require.NoError(t, err)
	id2, err := c.Insert(value.Document{"v": 2})
	require.NoError(t, err)
	assert.Equal(t, 1, id1)
	assert.Equal(t, 2, id2)
}

func TestRemoveUnknownRowReturnsFalse(t *testing.T) {
	c := New(d1())
	ok, err := c.Remove(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAggregateLeavesInstalledPipelineUnchanged(t *testing.T) {
	c := New(d1())
	require.NoError(t, c.Install([]map[string]interface{}{
		{"$project": map[string]interface{}{"v": 1, "_id": 0}},
	}))

	adHoc, err := c.Aggregate([]map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id": "$c",
			"s":   map[string]interface{}{"$sum": "$v"},
		}},
	})
	require.NoError(t, err)
	sortByKey(adHoc, "_id")
	assert.Equal(t, []value.Document{
		{"_id": "a", "s": float64(40)},
		{"_id": "b", "s": float64(20)},
	}, adHoc)

	out, err := c.Materialize()
	require.NoError(t, err)
	sortByKey(out, "v")
	assert.Equal(t, []value.Document{{"v": 10}, {"v": 20}, {"v": 30}}, out)
}

func TestInvalidStageReturnsUnsupportedParseError(t *testing.T) {
	c := New(d1())
	err := c.Install([]map[string]interface{}{{"$lookup": map[string]interface{}{}}})
	require.Error(t, err)
	diag, ok := asFallbackDiagnostic(err)
	require.True(t, ok)
	assert.Equal(t, "$lookup", diag.StageName)
}

type stubEvaluator struct {
	called bool
}

func (s *stubEvaluator) Evaluate(pipeline []map[string]interface{}, docs []value.Document) ([]value.Document, error) {
	s.called = true
	return []value.Document{{"fallback": true}}, nil
}

func TestAggregateFallsBackToExternalEvaluator(t *testing.T) {
	ev := &stubEvaluator{}
	c := New(d1(), WithFallback(ev))
	out, err := c.Aggregate([]map[string]interface{}{{"$lookup": map[string]interface{}{}}})
	require.NoError(t, err)
	assert.True(t, ev.called)
	assert.Equal(t, []value.Document{{"fallback": true}}, out)
}

func TestStatsTracksDeltasAndBatches(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Install([]map[string]interface{}{
		{"$project": map[string]interface{}{"v": 1}},
	}))
	_, err := c.Insert(value.Document{"v": 1})
	require.NoError(t, err)
	_, err = c.Materialize()
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.DeltasIn)
	assert.Equal(t, uint64(1), stats.BatchesOut)
}

func TestDimensionBuildsLazilyAndIsReusable(t *testing.T) {
	c := New(d1())
	dim1, err := c.Dimension("c")
	require.NoError(t, err)
	dim2, err := c.Dimension("c")
	require.NoError(t, err)
	assert.Same(t, dim1, dim2)
	assert.Equal(t, 2, dim1.Cardinality())
}

func TestDimensionStaysInSyncAcrossInsertAndUpdate(t *testing.T) {
	c := New(d1())
	dim, err := c.Dimension("c")
	require.NoError(t, err)
	assert.Equal(t, 2, dim.Cardinality())
	assert.Equal(t, 3, dim.Total())

	_, err = c.Insert(value.Document{"c": "z", "v": 1})
	require.NoError(t, err)
	assert.Equal(t, 3, dim.Cardinality())
	assert.Equal(t, 4, dim.Total())

	ok, err := c.Update(1, value.Document{"c": "z", "v": 99})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, dim.Cardinality())
	assert.Equal(t, 4, dim.Total())
	assert.Equal(t, []int{1, 4}, dim.Equal("z"))
}

func TestDestroyIsIdempotentAndRejectsFurtherOps(t *testing.T) {
	c := New(d1())
	require.NoError(t, c.Destroy())
	require.NoError(t, c.Destroy())

	_, err := c.Insert(value.Document{"v": 1})
	assert.ErrorIs(t, err, errs.ErrClosed)
}
