package operator

import (
	"github.com/TomNeyland/modash.js-sub008/errs"
	"github.com/TomNeyland/modash.js-sub008/expr"
	"github.com/TomNeyland/modash.js-sub008/value"
)

// fusedStepKind distinguishes a FusedLinear step that is evaluated
// vectorized across the whole batch from one that keeps its own
// stateful compiled Stage.
type fusedStepKind int

const (
	fusedMatch fusedStepKind = iota
	fusedProject
	fusedPassthrough
)

// fusedStep is one member of a FusedLinear run. $match and the
// $project/$addFields/$set family carry their compiled predicate/shape
// directly so Push can batch-evaluate them via expr.EvalVector;
// $limit/$skip are cardinality counters rather than expressions, so
// they keep delegating to their own compiled LimitSkip stage.
type fusedStep struct {
	kind  fusedStepKind
	pred  expr.Expr
	shape Shape
	stage Stage

	live map[RowKey]value.Document // fusedMatch's own Materialize state
}

// FusedLinear collapses a maximal run of fusable stages ($match/
// $project/$addFields/$set/$limit/$skip, spec §4.12) behind a single
// Stage. The expression-bearing members evaluate their predicate/shape
// across the whole incoming batch at once via expr.EvalVector and the
// kernel package's packed columnar kernels (spec §4.8), instead of
// walking each expression's tree once per row per stage; $limit/$skip
// members are pure cardinality counters and keep running through their
// own compiled LimitSkip stage's ordinary Push. It preserves the exact
// semantics of running the original stages back to back; the fuser
// decides which runs qualify and are worth the rewrite.
type FusedLinear struct {
	steps []fusedStep
}

// NewFusedLinearFromSpecs compiles a run of raw $match/$project/
// $addFields/$set/$limit/$skip stage descriptors, in order, into a
// single vectorized FusedLinear. idx is the pipeline index of the run's
// first stage, used only for error reporting.
func NewFusedLinearFromSpecs(idx int, names []string, specs []interface{}) (*FusedLinear, error) {
	steps := make([]fusedStep, len(names))
	for i, name := range names {
		s, err := compileFusedStep(idx+i, name, specs[i])
		if err != nil {
			return nil, err
		}
		steps[i] = s
	}
	return &FusedLinear{steps: steps}, nil
}

func compileFusedStep(idx int, name string, spec interface{}) (fusedStep, error) {
	switch name {
	case "$match":
		m, ok := asDoc(spec)
		if !ok {
			return fusedStep{}, errs.NewParseError(idx, name, "expected a document")
		}
		e, err := ParseMatchSpec(m)
		if err != nil {
			return fusedStep{}, unsupportedOrParse(idx, name, err)
		}
		return fusedStep{kind: fusedMatch, pred: e, live: make(map[RowKey]value.Document)}, nil

	case "$project":
		m, ok := asDoc(spec)
		if !ok {
			return fusedStep{}, errs.NewParseError(idx, name, "expected a document")
		}
		shape, err := CompileShape(m, false)
		if err != nil {
			return fusedStep{}, unsupportedOrParse(idx, name, err)
		}
		return fusedStep{kind: fusedProject, shape: shape}, nil

	case "$addFields", "$set":
		m, ok := asDoc(spec)
		if !ok {
			return fusedStep{}, errs.NewParseError(idx, name, "expected a document")
		}
		shape, err := CompileShape(m, true)
		if err != nil {
			return fusedStep{}, unsupportedOrParse(idx, name, err)
		}
		return fusedStep{kind: fusedProject, shape: shape}, nil

	case "$limit", "$skip":
		st, err := CompileStage(idx, name, spec)
		if err != nil {
			return fusedStep{}, err
		}
		return fusedStep{kind: fusedPassthrough, stage: st}, nil
	}
	return fusedStep{}, errs.NewUnsupportedStageError(idx, name, "stage outside FusedLinear's fusable set")
}

func (f *FusedLinear) Push(batch Batch) (Batch, error) {
	cur := batch
	for i := range f.steps {
		var err error
		cur, err = f.steps[i].push(cur)
		if err != nil {
			return nil, err
		}
		if len(cur) == 0 {
			return cur, nil
		}
	}
	return cur, nil
}

func (s *fusedStep) push(cur Batch) (Batch, error) {
	switch s.kind {
	case fusedMatch:
		return s.pushMatch(cur)
	case fusedProject:
		return s.pushProject(cur)
	default:
		return s.stage.Push(cur)
	}
}

// pushMatch mirrors Match.Push exactly (spec §4.10's insert/delete/
// update branching), but tests After-documents for every insert/update
// in the batch with one expr.EvalVector call instead of one Eval per row.
func (s *fusedStep) pushMatch(cur Batch) (Batch, error) {
	var testDocs []value.Document
	testIdx := make([]int, len(cur))
	for i, d := range cur {
		switch d.Op {
		case OpInsert, OpUpdate:
			testIdx[i] = len(testDocs)
			testDocs = append(testDocs, d.After)
		default:
			testIdx[i] = -1
		}
	}
	results := s.testVector(testDocs)
	test := func(i int) bool {
		if testIdx[i] < 0 {
			return false
		}
		b, ok := results[testIdx[i]].(bool)
		return ok && b
	}

	out := make(Batch, 0, len(cur))
	for i, d := range cur {
		switch d.Op {
		case OpInsert:
			if test(i) {
				s.live[d.Row] = d.After
				out = append(out, Delta{Op: OpInsert, Row: d.Row, After: d.After})
			}
		case OpDelete:
			if _, wasLive := s.live[d.Row]; wasLive {
				delete(s.live, d.Row)
				out = append(out, Delta{Op: OpDelete, Row: d.Row, Before: d.Before})
			}
		case OpUpdate:
			_, wasLive := s.live[d.Row]
			nowLive := test(i)
			switch {
			case wasLive && nowLive:
				s.live[d.Row] = d.After
				out = append(out, Delta{Op: OpUpdate, Row: d.Row, Before: d.Before, After: d.After})
			case wasLive && !nowLive:
				delete(s.live, d.Row)
				out = append(out, Delta{Op: OpDelete, Row: d.Row, Before: d.Before})
			case !wasLive && nowLive:
				s.live[d.Row] = d.After
				out = append(out, Delta{Op: OpInsert, Row: d.Row, After: d.After})
			default:
				// stays absent: drop
			}
		}
	}
	return out, nil
}

// testVector evaluates pred across docs in one vectorized pass. If that
// fails, it falls back to evaluating pred against each document
// independently and treating a per-row evaluation error as "does not
// match" rather than aborting the whole batch — the same behavior
// exprPred.Test gives an unfused Match stage.
func (s *fusedStep) testVector(docs []value.Document) expr.Vector {
	if len(docs) == 0 {
		return nil
	}
	if v, err := expr.EvalVector(s.pred, expr.NewColumnBatch(docs)); err == nil {
		return v
	}
	out := make(expr.Vector, len(docs))
	for i, d := range docs {
		if v, err := s.pred.Eval(expr.NewCtx(d)); err == nil {
			out[i] = v
		}
	}
	return out
}

// pushProject mirrors Project.Push (insert applies After, delete applies
// Before, update applies both and emits delete-old/insert-new), but
// shapes every Before/After document the batch touches with one
// expr.EvalVector call per expression field instead of one Eval call per
// field per row.
func (s *fusedStep) pushProject(cur Batch) (Batch, error) {
	var docs []value.Document
	type slot struct {
		deltaIdx int
		isAfter  bool
	}
	var slots []slot
	for i, d := range cur {
		switch d.Op {
		case OpInsert:
			slots = append(slots, slot{i, true})
			docs = append(docs, d.After)
		case OpDelete:
			slots = append(slots, slot{i, false})
			docs = append(docs, d.Before)
		case OpUpdate:
			slots = append(slots, slot{i, false})
			docs = append(docs, d.Before)
			slots = append(slots, slot{i, true})
			docs = append(docs, d.After)
		}
	}

	shaped, err := applyShapeVector(s.shape, docs)
	if err != nil {
		return nil, err
	}

	before := make([]value.Document, len(cur))
	after := make([]value.Document, len(cur))
	for k, sl := range slots {
		if sl.isAfter {
			after[sl.deltaIdx] = shaped[k]
		} else {
			before[sl.deltaIdx] = shaped[k]
		}
	}

	out := make(Batch, 0, len(cur))
	for i, d := range cur {
		switch d.Op {
		case OpInsert:
			out = append(out, Delta{Op: OpInsert, Row: d.Row, After: after[i]})
		case OpDelete:
			out = append(out, Delta{Op: OpDelete, Row: d.Row, Before: before[i]})
		case OpUpdate:
			out = append(out,
				Delta{Op: OpDelete, Row: d.Row, Before: before[i]},
				Delta{Op: OpInsert, Row: d.Row, After: after[i]},
			)
		}
	}
	return out, nil
}

// applyShapeVector computes shape's output documents for every row in
// docs at once: plain inclusion/exclusion fields are copied per row
// (there is no expression to vectorize), and every expression field is
// evaluated once across the whole batch via expr.EvalVector.
func applyShapeVector(shape Shape, docs []value.Document) ([]value.Document, error) {
	out := make([]value.Document, len(docs))
	for i, d := range docs {
		o := value.Document{}
		if shape.Merge {
			for k, v := range d {
				o[k] = v
			}
		}
		out[i] = o
	}
	if len(docs) == 0 {
		return out, nil
	}

	batch := expr.NewColumnBatch(docs)
	for _, name := range shape.Fields {
		spec := shape.Specs[name]
		switch {
		case spec.Exclude:
			for i := range out {
				delete(out[i], name)
			}
		case spec.Include:
			for i, d := range docs {
				if v := value.Resolve(d, name); !value.IsMissing(v) {
					out[i][name] = v
				}
			}
		default:
			vec, err := expr.EvalVector(spec.Expr, batch)
			if err != nil {
				return nil, err
			}
			for i, v := range vec {
				if value.IsMissing(v) {
					delete(out[i], name)
					continue
				}
				out[i][name] = v
			}
		}
	}
	return out, nil
}

func (f *FusedLinear) Materialize() []value.Document {
	if len(f.steps) == 0 {
		return nil
	}
	last := f.steps[len(f.steps)-1]
	switch last.kind {
	case fusedMatch:
		out := make([]value.Document, 0, len(last.live))
		for _, d := range last.live {
			out = append(out, d)
		}
		return out
	case fusedProject:
		return nil // stateless, same as an unfused Project
	default:
		return last.stage.Materialize()
	}
}

func (f *FusedLinear) Reset() {
	for i := range f.steps {
		switch f.steps[i].kind {
		case fusedMatch:
			f.steps[i].live = make(map[RowKey]value.Document)
		case fusedPassthrough:
			f.steps[i].stage.Reset()
		}
	}
}
