package fuser

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomNeyland/modash.js-sub008/operator"
	"github.com/TomNeyland/modash.js-sub008/value"
)

func sortByID(docs []value.Document) {
	sort.Slice(docs, func(i, j int) bool {
		return value.Compare(docs[i]["_id"], docs[j]["_id"]) < 0
	})
}

func push(t *testing.T, g *operator.Graph, batch operator.Batch) {
	t.Helper()
	_, err := g.Push(batch)
	require.NoError(t, err)
}

func insertRows(docs []value.Document) operator.Batch {
	batch := make(operator.Batch, len(docs))
	for i, d := range docs {
		batch[i] = operator.Delta{Op: operator.OpInsert, Row: operator.RowKeyOf(i + 1), After: d}
	}
	return batch
}

// TestFuseCollapsesMatchProjectRun verifies a $match -> $project -> $addFields
// run of simple-expression stages gets collapsed into a single FusedLinear
// node rather than left as three separate Stage nodes.
func TestFuseCollapsesMatchProjectRun(t *testing.T) {
	pipeline := []map[string]interface{}{
		{"$match": map[string]interface{}{"age": map[string]interface{}{"$gte": 18}}},
		{"$project": map[string]interface{}{"_id": 1, "age": 1}},
		{"$addFields": map[string]interface{}{"adult": true}},
	}
	g, decisions, err := Fuse(pipeline, Options{})
	require.NoError(t, err)
	require.Len(t, g.Stages(), 1)
	_, ok := g.Stages()[0].(*operator.FusedLinear)
	assert.True(t, ok, "expected the three stages to collapse into a FusedLinear")

	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Fused)
	assert.Equal(t, 3, decisions[0].Size)
}

// TestFuseRewritesSortLimitToTopK verifies a field-ordered $sort
// immediately followed by a $limit becomes a single Top-K stage.
func TestFuseRewritesSortLimitToTopK(t *testing.T) {
	pipeline := []map[string]interface{}{
		{"$sort": map[string]interface{}{"score": -1}},
		{"$limit": 2},
	}
	g, decisions, err := Fuse(pipeline, Options{})
	require.NoError(t, err)
	require.Len(t, g.Stages(), 1)
	_, ok := g.Stages()[0].(*operator.TopK)
	assert.True(t, ok, "expected $sort+$limit to rewrite into a TopK stage")

	require.Len(t, decisions, 1)
	assert.Equal(t, "topk", decisions[0].Kind)
	assert.True(t, decisions[0].Fused)
}

// TestFuseDoesNotSpanGroup verifies $group always breaks a fusable run:
// the $match before it and the $project after it must stay separate.
func TestFuseDoesNotSpanGroup(t *testing.T) {
	pipeline := []map[string]interface{}{
		{"$match": map[string]interface{}{"age": map[string]interface{}{"$gte": 18}}},
		{"$group": map[string]interface{}{
			"_id": "$dept",
			"n":   map[string]interface{}{"$sum": 1},
		}},
		{"$project": map[string]interface{}{"_id": 1, "n": 1}},
	}
	g, _, err := Fuse(pipeline, Options{})
	require.NoError(t, err)
	require.Len(t, g.Stages(), 3)
	_, isGroup := g.Stages()[1].(*operator.Group)
	assert.True(t, isGroup)
}

// TestFuseRespectsMaxGroupSize verifies the fuser never fuses more
// stages than the configured guardrail, splitting into multiple groups.
func TestFuseRespectsMaxGroupSize(t *testing.T) {
	pipeline := []map[string]interface{}{
		{"$addFields": map[string]interface{}{"a": 1}},
		{"$addFields": map[string]interface{}{"b": 1}},
		{"$addFields": map[string]interface{}{"c": 1}},
		{"$addFields": map[string]interface{}{"d": 1}},
	}
	g, decisions, err := Fuse(pipeline, Options{MaxGroupSize: 2})
	require.NoError(t, err)
	require.Len(t, g.Stages(), 2)
	for _, d := range decisions {
		assert.LessOrEqual(t, d.Size, 2)
	}
}

// TestFuseSoundnessMatchProjectAddFields checks invariant 4 (spec §8):
// fusing a run of simple stages must produce the same materialized
// output as running the stages unfused, across inserts, updates, and
// deletes.
func TestFuseSoundnessMatchProjectAddFields(t *testing.T) {
	pipeline := []map[string]interface{}{
		{"$match": map[string]interface{}{"age": map[string]interface{}{"$gte": 18}}},
		{"$addFields": map[string]interface{}{"adult": true}},
		{"$project": map[string]interface{}{"_id": 1, "age": 1, "adult": 1}},
	}

	unfused, err := operator.Compile(pipeline)
	require.NoError(t, err)
	fused, _, err := Fuse(pipeline, Options{})
	require.NoError(t, err)
	require.Len(t, fused.Stages(), 1)

	docs := []value.Document{
		{"_id": 1, "age": 17},
		{"_id": 2, "age": 21},
		{"_id": 3, "age": 40},
	}
	inserts := insertRows(docs)
	push(t, unfused, inserts)
	push(t, fused, inserts)

	update := operator.Batch{
		{Op: operator.OpUpdate, Row: operator.RowKeyOf(1),
			Before: docs[0], After: value.Document{"_id": 1, "age": 30}},
	}
	push(t, unfused, update)
	push(t, fused, update)

	del := operator.Batch{
		{Op: operator.OpDelete, Row: operator.RowKeyOf(2), Before: docs[1]},
	}
	push(t, unfused, del)
	push(t, fused, del)

	a := unfused.Materialize()
	b := fused.Materialize()
	sortByID(a)
	sortByID(b)
	assert.Equal(t, a, b)
}

// TestFuseSoundnessSortLimit checks the $sort+$limit -> TopK rewrite
// materializes the same rows as the unfused $sort followed by $limit.
func TestFuseSoundnessSortLimit(t *testing.T) {
	pipeline := []map[string]interface{}{
		{"$sort": map[string]interface{}{"score": -1}},
		{"$limit": 2},
	}

	unfused, err := operator.Compile(pipeline)
	require.NoError(t, err)
	fused, _, err := Fuse(pipeline, Options{})
	require.NoError(t, err)

	docs := []value.Document{
		{"_id": 1, "score": 10},
		{"_id": 2, "score": 50},
		{"_id": 3, "score": 30},
		{"_id": 4, "score": 20},
	}
	inserts := insertRows(docs)
	push(t, unfused, inserts)
	push(t, fused, inserts)

	del := operator.Batch{
		{Op: operator.OpDelete, Row: operator.RowKeyOf(2), Before: docs[1]},
	}
	push(t, unfused, del)
	push(t, fused, del)

	a := unfused.Materialize()
	b := fused.Materialize()
	sortByID(a)
	sortByID(b)
	assert.Equal(t, a, b)
}

// TestFuseLowSpeedupThresholdSkipsFusion verifies an unreachable min
// speedup guardrail prevents fusion even when stages are fusable.
func TestFuseLowSpeedupThresholdSkipsFusion(t *testing.T) {
	pipeline := []map[string]interface{}{
		{"$match": map[string]interface{}{"age": map[string]interface{}{"$gte": 18}}},
		{"$project": map[string]interface{}{"_id": 1, "age": 1}},
	}
	g, decisions, err := Fuse(pipeline, Options{MinSpeedup: 1000})
	require.NoError(t, err)
	require.Len(t, g.Stages(), 2)
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Fused)
}

// TestFuseUnsupportedOperatorBreaksRun verifies a $project field using an
// operator outside the simple subset is excluded from fusion, so it
// remains its own compiled stage rather than joining a FusedLinear.
func TestFuseUnsupportedOperatorBreaksRun(t *testing.T) {
	pipeline := []map[string]interface{}{
		{"$addFields": map[string]interface{}{"a": 1}},
		{"$project": map[string]interface{}{
			"_id":  1,
			"root": map[string]interface{}{"$sqrt": "$a"},
		}},
	}
	g, decisions, err := Fuse(pipeline, Options{})
	require.NoError(t, err)
	require.Len(t, g.Stages(), 2)
	for _, d := range decisions {
		assert.False(t, d.Fused)
	}
}
