// Package fuser implements the pipeline fuser (spec §4.12): it scans a
// stage-descriptor pipeline for maximal contiguous runs that can be
// collapsed into a single operator, and the $sort immediately-followed-
// by-$limit shape that rewrites into Top-K (spec §4.11), subject to a
// small cost model and guardrails.
package fuser

import (
	"fmt"

	"github.com/TomNeyland/modash.js-sub008/expr"
	"github.com/TomNeyland/modash.js-sub008/operator"
	"github.com/TomNeyland/modash.js-sub008/topk"
)

// Options configures the fuser's guardrails (spec §4.12). Zero values
// are replaced by defaults in Fuse.
type Options struct {
	MaxGroupSize   int     // default 5 stages
	MaxTokenBudget int     // default 10,000
	MinSpeedup     float64 // default 1.2x
}

func (o Options) withDefaults() Options {
	if o.MaxGroupSize <= 0 {
		o.MaxGroupSize = 5
	}
	if o.MaxTokenBudget <= 0 {
		o.MaxTokenBudget = 10000
	}
	if o.MinSpeedup <= 0 {
		o.MinSpeedup = 1.2
	}
	return o
}

// Decision records why a candidate run was or wasn't fused, for
// diagnostics and tests.
type Decision struct {
	StartIndex int
	Size       int
	Fused      bool
	Kind       string // "linear" or "topk"
	Reason     string
}

// Fuse compiles pipeline into an operator.Graph, first rewriting it
// according to the fuser's rules: a $sort immediately followed by a
// $limit becomes a single Top-K stage when the sort spec is field-
// ordered and k > 0; maximal contiguous runs of $match/$project/
// $addFields/$set/$limit/$skip whose expressions are all in the simple
// operator subset are collapsed into a single operator.FusedLinear,
// subject to the guardrails in opts. $group, $unwind, and any stage
// outside the incremental core's supported set always break a run.
func Fuse(pipeline []map[string]interface{}, opts Options) (*operator.Graph, []Decision, error) {
	opts = opts.withDefaults()

	rewritten, topKDecisions := rewriteTopK(pipeline)

	stages, groupDecisions, err := compileWithFusion(rewritten, opts)
	if err != nil {
		return nil, nil, err
	}

	g := operator.NewGraphFromStages(stages)
	return g, append(topKDecisions, groupDecisions...), nil
}

// stageOrTopK is either an original descriptor passed through
// unchanged, or a pre-compiled Top-K stage produced by rewriteTopK.
type stageOrTopK struct {
	name string
	spec interface{}
	topK operator.Stage
}

func rewriteTopK(pipeline []map[string]interface{}) ([]stageOrTopK, []Decision) {
	var out []stageOrTopK
	var decisions []Decision
	i := 0
	for i < len(pipeline) {
		name, spec := soleEntry(pipeline[i])
		if name == "$sort" && i+1 < len(pipeline) {
			nextName, nextSpec := soleEntry(pipeline[i+1])
			if nextName == "$limit" {
				if keys, k, ok := sortLimitFusable(spec, nextSpec); ok {
					out = append(out, stageOrTopK{name: "$topk", topK: operator.NewTopK(keys, k)})
					decisions = append(decisions, Decision{StartIndex: i, Size: 2, Fused: true, Kind: "topk",
						Reason: "field-ordered $sort immediately followed by $limit > 0"})
					i += 2
					continue
				}
			}
		}
		out = append(out, stageOrTopK{name: name, spec: spec})
		i++
	}
	return out, decisions
}

func sortLimitFusable(sortSpec, limitSpec interface{}) ([]topk.SortKey, int, bool) {
	keys, err := operator.ParseSortSpec(sortSpec)
	if err != nil {
		return nil, 0, false
	}
	k, ok := operator.AsInt(limitSpec)
	if !ok || k <= 0 {
		return nil, 0, false
	}
	return keys, k, true
}

func soleEntry(m map[string]interface{}) (string, interface{}) {
	for k, v := range m {
		return k, v
	}
	return "", nil
}

// fusableKinds is the stage-name set that may participate in a linear
// fusion run (spec §4.12); $sort is handled only via the Top-K rewrite
// above, never as a member of a linear run.
var fusableKinds = map[string]bool{
	"$match": true, "$project": true, "$addFields": true, "$set": true,
	"$limit": true, "$skip": true,
}

func isFusable(s stageOrTopK) bool {
	if s.topK != nil {
		return false
	}
	if !fusableKinds[s.name] {
		return false
	}
	switch s.name {
	case "$match", "$project", "$addFields", "$set":
		return expr.IsSimple(s.spec)
	}
	return true
}

// tokenCost is a coarse proxy for generated-code size: the number of
// scalar fields/conditions a stage touches, used only to compare
// against the fuser's token-budget guardrail.
func tokenCost(s stageOrTopK) int {
	m, ok := s.spec.(map[string]interface{})
	if !ok || len(m) == 0 {
		return 1
	}
	return len(m)
}

// estimateSpeedup is the fuser's cost model (spec §4.12: "more stages +
// lower complexity -> higher estimate"): each additional fused stage
// saves roughly one Push/allocation hop, tempered by the average
// per-stage token cost so a run of a few heavy stages isn't
// overestimated the way a run of many trivial ones should be.
func estimateSpeedup(run []stageOrTopK) float64 {
	n := float64(len(run))
	if n <= 1 {
		return 1.0
	}
	totalCost := 0
	for _, s := range run {
		totalCost += tokenCost(s)
	}
	avgCost := float64(totalCost) / n
	return 1.0 + (n-1)*(0.3/avgCost)
}

func compileWithFusion(stages []stageOrTopK, opts Options) ([]operator.Stage, []Decision, error) {
	var out []operator.Stage
	var decisions []Decision

	i := 0
	idx := 0
	for i < len(stages) {
		if stages[i].topK != nil {
			out = append(out, stages[i].topK)
			i++
			idx++
			continue
		}
		if !isFusable(stages[i]) {
			st, err := operator.CompileStage(idx, stages[i].name, stages[i].spec)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, st)
			i++
			idx++
			continue
		}
		// Greedily extend a fusable run up to the group-size guardrail.
		j := i
		for j < len(stages) && isFusable(stages[j]) && j-i < opts.MaxGroupSize {
			j++
		}
		run := stages[i:j]

		cost := 0
		for _, s := range run {
			cost += tokenCost(s)
		}
		speedup := estimateSpeedup(run)

		if len(run) > 1 && cost <= opts.MaxTokenBudget && speedup >= opts.MinSpeedup {
			names := make([]string, len(run))
			specs := make([]interface{}, len(run))
			for k, s := range run {
				names[k] = s.name
				specs[k] = s.spec
			}
			fl, err := operator.NewFusedLinearFromSpecs(idx, names, specs)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, fl)
			decisions = append(decisions, Decision{StartIndex: idx, Size: len(run), Fused: true, Kind: "linear",
				Reason: fmt.Sprintf("estimated speedup %.2fx over %d stages", speedup, len(run))})
		} else {
			for k, s := range run {
				st, err := operator.CompileStage(idx+k, s.name, s.spec)
				if err != nil {
					return nil, nil, err
				}
				out = append(out, st)
			}
			reason := "below guardrails"
			if len(run) <= 1 {
				reason = "single stage, nothing to fuse"
			}
			decisions = append(decisions, Decision{StartIndex: idx, Size: len(run), Fused: false, Kind: "linear", Reason: reason})
		}
		idx += len(run)
		i = j
	}
	return out, decisions, nil
}
