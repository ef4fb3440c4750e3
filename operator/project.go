package operator

import (
	"github.com/TomNeyland/modash.js-sub008/expr"
	"github.com/TomNeyland/modash.js-sub008/value"
)

// FieldSpec is one output field of a $project/$addFields/$set stage: an
// expression to evaluate, or (for $project only) a plain inclusion/
// exclusion flag with no expression.
type FieldSpec struct {
	Expr    expr.Expr
	Include bool // $project 1/true: re-emit the source field verbatim
	Exclude bool // $project 0/false: suppress the source field
}

// Shape is a compiled $project/$addFields/$set spec: an ordered list of
// output field names and how each is produced.
type Shape struct {
	Fields  []string
	Specs   map[string]FieldSpec
	Merge   bool // $addFields/$set: start from the source doc, then overlay
}

// Project is stateless under the assumption its expressions are pure: it
// computes the output shape for insert/delete directly, and for update
// emits delete-old followed by insert-new (spec §4.10).
type Project struct {
	Shape Shape
}

// NewProject returns a Project stage for the given compiled shape.
func NewProject(shape Shape) *Project {
	return &Project{Shape: shape}
}

func (p *Project) apply(doc value.Document) (value.Document, error) {
	ctx := expr.NewCtx(doc)
	out := value.Document{}
	if p.Shape.Merge {
		for k, v := range doc {
			out[k] = v
		}
	}
	for _, name := range p.Shape.Fields {
		spec := p.Shape.Specs[name]
		switch {
		case spec.Exclude:
			delete(out, name)
		case spec.Include:
			if v := value.Resolve(doc, name); !value.IsMissing(v) {
				out[name] = v
			}
		default:
			v, err := spec.Expr.Eval(ctx)
			if err != nil {
				return nil, err
			}
			if value.IsMissing(v) {
				delete(out, name)
				continue
			}
			out[name] = v
		}
	}
	return out, nil
}

func (p *Project) Push(batch Batch) (Batch, error) {
	out := make(Batch, 0, len(batch))
	for _, d := range batch {
		switch d.Op {
		case OpInsert:
			shaped, err := p.apply(d.After)
			if err != nil {
				return nil, err
			}
			out = append(out, Delta{Op: OpInsert, Row: d.Row, After: shaped})
		case OpDelete:
			shaped, err := p.apply(d.Before)
			if err != nil {
				return nil, err
			}
			out = append(out, Delta{Op: OpDelete, Row: d.Row, Before: shaped})
		case OpUpdate:
			before, err := p.apply(d.Before)
			if err != nil {
				return nil, err
			}
			after, err := p.apply(d.After)
			if err != nil {
				return nil, err
			}
			out = append(out,
				Delta{Op: OpDelete, Row: d.Row, Before: before},
				Delta{Op: OpInsert, Row: d.Row, After: after},
			)
		}
	}
	return out, nil
}

// CompileShape compiles a raw $project/$addFields/$set stage spec (a
// bson.M/map[string]interface{} of field name -> 1/0/true/false/
// expression) into a Shape. merge selects $addFields/$set semantics
// (start from the source document) versus $project semantics (start
// from nothing, honoring 1/true/0/false inclusion/exclusion).
func CompileShape(raw map[string]interface{}, merge bool) (Shape, error) {
	shape := Shape{Specs: make(map[string]FieldSpec, len(raw)), Merge: merge}
	for name, v := range raw {
		if merge {
			// $addFields/$set: every value, numbers and booleans included, is an expression.
			e, err := expr.Parse(v)
			if err != nil {
				return Shape{}, err
			}
			shape.Fields = append(shape.Fields, name)
			shape.Specs[name] = FieldSpec{Expr: e}
			continue
		}
		switch t := v.(type) {
		case int:
			shape.Fields = append(shape.Fields, name)
			shape.Specs[name] = FieldSpec{Include: t != 0, Exclude: t == 0}
		case int32:
			shape.Fields = append(shape.Fields, name)
			shape.Specs[name] = FieldSpec{Include: t != 0, Exclude: t == 0}
		case int64:
			shape.Fields = append(shape.Fields, name)
			shape.Specs[name] = FieldSpec{Include: t != 0, Exclude: t == 0}
		case float64:
			shape.Fields = append(shape.Fields, name)
			shape.Specs[name] = FieldSpec{Include: t != 0, Exclude: t == 0}
		case bool:
			shape.Fields = append(shape.Fields, name)
			shape.Specs[name] = FieldSpec{Include: t, Exclude: !t}
		default:
			e, err := expr.Parse(v)
			if err != nil {
				return Shape{}, err
			}
			shape.Fields = append(shape.Fields, name)
			shape.Specs[name] = FieldSpec{Expr: e}
		}
	}
	return shape, nil
}

// Materialize always returns nil: Project tracks no live state of its
// own. When it is the terminal stage of a pipeline, Graph falls back to
// its own delta-tracked view built from Project's Push output.
func (p *Project) Materialize() []value.Document { return nil }

func (p *Project) Reset() {}
