package operator

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomNeyland/modash.js-sub008/expr"
	"github.com/TomNeyland/modash.js-sub008/value"
)

func mustExpr(t *testing.T, raw interface{}) expr.Expr {
	t.Helper()
	e, err := expr.Parse(raw)
	require.NoError(t, err)
	return e
}

func newSumGroup(t *testing.T) *Group {
	return NewGroup(mustExpr(t, "$c"), []AccumSpec{
		{Field: "s", Kind: AccumSum, Expr: mustExpr(t, "$v")},
	})
}

func sortByID(docs []value.Document) {
	sort.Slice(docs, func(i, j int) bool {
		return value.Compare(docs[i]["_id"], docs[j]["_id"]) < 0
	})
}

func TestGroupScenarioB_GroupedSum(t *testing.T) {
	g := newSumGroup(t)

	data := []value.Document{
		{"c": "a", "v": 10},
		{"c": "a", "v": 30},
		{"c": "b", "v": 20},
	}
	var batch Batch
	for i, d := range data {
		batch = append(batch, Delta{Op: OpInsert, Row: RowKeyOf(i), After: d})
	}
	_, err := g.Push(batch)
	require.NoError(t, err)

	got := g.Materialize()
	sortByID(got)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0]["_id"])
	assert.Equal(t, 40.0, got[0]["s"])
	assert.Equal(t, "b", got[1]["_id"])
	assert.Equal(t, 20.0, got[1]["s"])
}

func TestGroupScenarioC_IncrementalDelete(t *testing.T) {
	g := newSumGroup(t)

	data := []value.Document{
		{"c": "a", "v": 10},
		{"c": "a", "v": 30},
		{"c": "b", "v": 20},
	}
	var batch Batch
	for i, d := range data {
		batch = append(batch, Delta{Op: OpInsert, Row: RowKeyOf(i), After: d})
	}
	_, err := g.Push(batch)
	require.NoError(t, err)

	_, err = g.Push(Batch{
		{Op: OpDelete, Row: RowKeyOf(0), Before: data[0]},
	})
	require.NoError(t, err)

	got := g.Materialize()
	sortByID(got)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0]["_id"])
	assert.Equal(t, 30.0, got[0]["s"])
	assert.Equal(t, "b", got[1]["_id"])
	assert.Equal(t, 20.0, got[1]["s"])
}

func TestGroupDropsOnCountZero(t *testing.T) {
	g := newSumGroup(t)

	doc := value.Document{"c": "a", "v": 5}
	_, err := g.Push(Batch{{Op: OpInsert, Row: RowKeyOf(1), After: doc}})
	require.NoError(t, err)

	out, err := g.Push(Batch{{Op: OpDelete, Row: RowKeyOf(1), Before: doc}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, OpDelete, out[0].Op)
	assert.Len(t, g.Materialize(), 0)
}

func TestGroupMinMaxPushAddToSetFirstLast(t *testing.T) {
	g := NewGroup(mustExpr(t, "$c"), []AccumSpec{
		{Field: "mn", Kind: AccumMin, Expr: mustExpr(t, "$v")},
		{Field: "mx", Kind: AccumMax, Expr: mustExpr(t, "$v")},
		{Field: "all", Kind: AccumPush, Expr: mustExpr(t, "$v")},
		{Field: "uniq", Kind: AccumAddToSet, Expr: mustExpr(t, "$v")},
		{Field: "f", Kind: AccumFirst, Expr: mustExpr(t, "$v")},
		{Field: "l", Kind: AccumLast, Expr: mustExpr(t, "$v")},
	})

	var batch Batch
	for i, v := range []int{3, 1, 3, 2} {
		batch = append(batch, Delta{Op: OpInsert, Row: RowKeyOf(i), After: value.Document{"c": "a", "v": v}})
	}
	_, err := g.Push(batch)
	require.NoError(t, err)

	got := g.Materialize()
	require.Len(t, got, 1)
	row := got[0]
	assert.Equal(t, 1, row["mn"])
	assert.Equal(t, 3, row["mx"])
	assert.Equal(t, value.Array{3, 1, 3, 2}, row["all"])
	assert.Equal(t, 3, row["f"])
	assert.Equal(t, 2, row["l"])
	uniq := row["uniq"].(value.Array)
	assert.Len(t, uniq, 3)
}

func TestGroupRootExpression(t *testing.T) {
	g := NewGroup(mustExpr(t, "$$ROOT"), []AccumSpec{
		{Field: "n", Kind: AccumSum, Expr: mustExpr(t, 1)},
	})
	doc := value.Document{"a": 1}
	_, err := g.Push(Batch{{Op: OpInsert, Row: RowKeyOf(1), After: doc}})
	require.NoError(t, err)
	got := g.Materialize()
	require.Len(t, got, 1)
	assert.Equal(t, doc, got[0]["_id"])
}
