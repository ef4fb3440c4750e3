package operator

import (
	"fmt"

	"github.com/TomNeyland/modash.js-sub008/errs"
	"github.com/TomNeyland/modash.js-sub008/expr"
	"github.com/TomNeyland/modash.js-sub008/topk"
	"github.com/TomNeyland/modash.js-sub008/value"
)

// supportedStages is the stage-name set the incremental core knows how
// to compile; any stage name outside this set forces a fallback to the
// external one-shot evaluator (spec §6).
var supportedStages = map[string]bool{
	"$match": true, "$project": true, "$addFields": true, "$set": true,
	"$unwind": true, "$group": true, "$sort": true, "$limit": true, "$skip": true,
}

// Graph is a compiled chain of Stages; pushing a batch into the graph
// runs it through every stage in order, feeding each stage's output
// into the next.
//
// A few terminal stages (Project, Unwind) are deliberately stateless
// and always return nil from Materialize, trusting they'll be composed
// upstream of a stateful stage. A pipeline can legally end on one of
// them (spec §8 scenario A: a bare $project; scenario D: a bare
// $unwind), so Graph keeps its own delta-driven view of the last
// stage's output as a fallback, used only when that stage's own
// Materialize reports nothing.
type Graph struct {
	stages []Stage
	own    map[RowKey]value.Document
}

// Push runs batch through every stage in the chain in order.
func (g *Graph) Push(batch Batch) (Batch, error) {
	cur := batch
	for _, s := range g.stages {
		var err error
		cur, err = s.Push(cur)
		if err != nil {
			return nil, err
		}
		if len(cur) == 0 {
			return cur, nil
		}
	}
	g.applyOwn(cur)
	return cur, nil
}

func (g *Graph) applyOwn(batch Batch) {
	if len(batch) == 0 {
		return
	}
	if g.own == nil {
		g.own = make(map[RowKey]value.Document)
	}
	for _, d := range batch {
		switch d.Op {
		case OpDelete:
			delete(g.own, d.Row)
		default: // OpInsert, OpUpdate
			g.own[d.Row] = d.After
		}
	}
}

// Materialize returns the last stage's current output, falling back to
// Graph's own delta-tracked view when the last stage is stateless.
func (g *Graph) Materialize() []value.Document {
	if len(g.stages) == 0 {
		return nil
	}
	if out := g.stages[len(g.stages)-1].Materialize(); out != nil {
		return out
	}
	out := make([]value.Document, 0, len(g.own))
	for _, d := range g.own {
		out = append(out, d)
	}
	return out
}

// Reset clears every stage's state.
func (g *Graph) Reset() {
	for _, s := range g.stages {
		s.Reset()
	}
	g.own = nil
}

// Stages exposes the compiled chain, for the fuser to rewrite in place.
func (g *Graph) Stages() []Stage { return g.stages }

// NewGraphFromStages assembles a Graph from an already-compiled stage
// chain, for the fuser, which compiles (and fuses) stages itself rather
// than handing raw descriptors to Compile.
func NewGraphFromStages(stages []Stage) *Graph {
	return &Graph{stages: stages}
}

// Compile builds a Graph from a raw pipeline: an ordered list of
// single-key stage descriptors (spec §6, "Stage descriptor format").
// Unknown stage names return a *errs.ParseError wrapping
// errs.ErrUnsupportedStage, signaling the caller to fall back to the
// external evaluator rather than treat this as a hard install failure.
func Compile(pipeline []map[string]interface{}) (*Graph, error) {
	g := &Graph{}
	for i, raw := range pipeline {
		if len(raw) != 1 {
			return nil, errs.NewParseError(i, "", "stage must be a single-key mapping")
		}
		var name string
		var spec interface{}
		for k, v := range raw {
			name, spec = k, v
		}
		if !supportedStages[name] {
			return nil, errs.NewUnsupportedStageError(i, name, "stage outside the incremental core's supported set")
		}
		stage, err := compileStage(i, name, spec)
		if err != nil {
			return nil, err
		}
		g.stages = append(g.stages, stage)
	}
	return g, nil
}

// CompileStage compiles a single stage descriptor in isolation. It is
// exported for the fuser package, which decides which stages to group
// before handing each surviving stage (fused or not) to this compiler.
func CompileStage(idx int, name string, spec interface{}) (Stage, error) {
	return compileStage(idx, name, spec)
}

// SupportedStageNames reports whether name is a stage the incremental
// core can compile, for the fuser's fusability analysis.
func SupportedStageNames() map[string]bool {
	out := make(map[string]bool, len(supportedStages))
	for k, v := range supportedStages {
		out[k] = v
	}
	return out
}

func compileStage(idx int, name string, spec interface{}) (Stage, error) {
	switch name {
	case "$match":
		m, ok := asDoc(spec)
		if !ok {
			return nil, errs.NewParseError(idx, name, "expected a document")
		}
		e, err := ParseMatchSpec(m)
		if err != nil {
			return nil, unsupportedOrParse(idx, name, err)
		}
		return NewMatch(exprPred{e}), nil

	case "$project":
		m, ok := asDoc(spec)
		if !ok {
			return nil, errs.NewParseError(idx, name, "expected a document")
		}
		shape, err := CompileShape(m, false)
		if err != nil {
			return nil, unsupportedOrParse(idx, name, err)
		}
		return NewProject(shape), nil

	case "$addFields", "$set":
		m, ok := asDoc(spec)
		if !ok {
			return nil, errs.NewParseError(idx, name, "expected a document")
		}
		shape, err := CompileShape(m, true)
		if err != nil {
			return nil, unsupportedOrParse(idx, name, err)
		}
		return NewProject(shape), nil

	case "$unwind":
		path, preserve, err := parseUnwindSpec(spec)
		if err != nil {
			return nil, errs.NewParseError(idx, name, err.Error())
		}
		return NewUnwind(path, preserve), nil

	case "$group":
		m, ok := asDoc(spec)
		if !ok {
			return nil, errs.NewParseError(idx, name, "expected a document")
		}
		return compileGroup(idx, name, m)

	case "$sort":
		keys, err := parseSortSpec(spec)
		if err != nil {
			return nil, errs.NewParseError(idx, name, err.Error())
		}
		return NewSort(keys), nil

	case "$limit":
		n, ok := asInt(spec)
		if !ok {
			return nil, errs.NewParseError(idx, name, "expected an integer")
		}
		return NewLimitSkip(0, n), nil

	case "$skip":
		n, ok := asInt(spec)
		if !ok {
			return nil, errs.NewParseError(idx, name, "expected an integer")
		}
		return NewLimitSkip(n, 0), nil
	}
	return nil, errs.NewUnsupportedStageError(idx, name, "stage outside the incremental core's supported set")
}

func compileGroup(idx int, name string, m map[string]interface{}) (Stage, error) {
	idRaw, ok := m["_id"]
	if !ok {
		return nil, errs.NewParseError(idx, name, "missing _id")
	}
	keyExpr, err := expr.Parse(idRaw)
	if err != nil {
		return nil, unsupportedOrParse(idx, name, err)
	}

	var accums []AccumSpec
	for field, rawSpec := range m {
		if field == "_id" {
			continue
		}
		spec, ok := asDoc(rawSpec)
		if !ok || len(spec) != 1 {
			return nil, errs.NewParseError(idx, name, fmt.Sprintf("field %q: expected a single-key accumulator", field))
		}
		var op string
		var argRaw interface{}
		for k, v := range spec {
			op, argRaw = k, v
		}
		kind, ok := accumKindOf(op)
		if !ok {
			return nil, errs.NewUnsupportedOperatorError(idx, name, fmt.Sprintf("field %q: unsupported accumulator %q", field, op))
		}
		argExpr, err := expr.Parse(argRaw)
		if err != nil {
			return nil, unsupportedOrParse(idx, name, err)
		}
		accums = append(accums, AccumSpec{Field: field, Kind: kind, Expr: argExpr})
	}
	return NewGroup(keyExpr, accums), nil
}

func accumKindOf(op string) (AccumKind, bool) {
	switch op {
	case "$sum":
		return AccumSum, true
	case "$avg":
		return AccumAvg, true
	case "$min":
		return AccumMin, true
	case "$max":
		return AccumMax, true
	case "$push":
		return AccumPush, true
	case "$addToSet":
		return AccumAddToSet, true
	case "$first":
		return AccumFirst, true
	case "$last":
		return AccumLast, true
	}
	return 0, false
}

// ParseSortSpec compiles a $sort stage's field -> 1/-1 document into
// Top-K sort keys. Exported for the fuser's $sort+$limit rewrite: this
// package only ever supports field-ordered sort specs (no expression
// keys), so any spec that parses here is automatically eligible for the
// Top-K fusion's "purely field-ordered" requirement (spec §4.11).
func ParseSortSpec(spec interface{}) ([]topk.SortKey, error) {
	return parseSortSpec(spec)
}

// AsInt coerces a BSON-numeric value to int, for the fuser's $limit
// guard (k > 0).
func AsInt(v interface{}) (int, bool) {
	return asInt(v)
}

func parseSortSpec(spec interface{}) ([]topk.SortKey, error) {
	m, ok := asDoc(spec)
	if !ok {
		return nil, fmt.Errorf("expected a document of field -> 1/-1")
	}
	keys := make([]topk.SortKey, 0, len(m))
	for field, v := range m {
		n, ok := asInt(v)
		if !ok || (n != 1 && n != -1) {
			return nil, fmt.Errorf("field %q: sort direction must be 1 or -1", field)
		}
		keys = append(keys, topk.SortKey{Path: field, Dir: n})
	}
	return keys, nil
}

func parseUnwindSpec(spec interface{}) (path string, preserve bool, err error) {
	switch t := spec.(type) {
	case string:
		return trimFieldPrefix(t), false, nil
	case map[string]interface{}:
		return unwindFields(t)
	case value.Document:
		return unwindFields(t)
	}
	return "", false, fmt.Errorf("expected a field path string or a {path, preserveNullAndEmptyArrays} document")
}

func unwindFields(m map[string]interface{}) (string, bool, error) {
	p, ok := m["path"].(string)
	if !ok {
		return "", false, fmt.Errorf("missing path")
	}
	preserve, _ := m["preserveNullAndEmptyArrays"].(bool)
	return trimFieldPrefix(p), preserve, nil
}

func trimFieldPrefix(s string) string {
	if len(s) > 0 && s[0] == '$' {
		return s[1:]
	}
	return s
}

func asDoc(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case value.Document:
		return map[string]interface{}(t), true
	}
	return nil, false
}

func asInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	}
	return 0, false
}

func unsupportedOrParse(idx int, stageName string, err error) error {
	if u, ok := err.(*expr.Unsupported); ok {
		return errs.NewUnsupportedOperatorError(idx, stageName, u.Error())
	}
	return errs.NewParseError(idx, stageName, err.Error())
}

// exprPred adapts an expr.Expr to the Predicate interface Match expects.
type exprPred struct {
	e expr.Expr
}

func (p exprPred) Test(doc value.Document) bool {
	v, err := p.e.Eval(expr.NewCtx(doc))
	if err != nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
