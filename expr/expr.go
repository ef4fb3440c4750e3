// Package expr implements the expression tree evaluator (spec §4.7). An
// expression is either a literal, a field-path string ("$a.b"), a system
// variable string ("$$ROOT" / "$$CURRENT"), or a single-key mapping from
// an operator name to its arguments ({"$add": [...]})  — the same shape
// mongo-driver's bson.M already gives stage and update pipelines, per
// spec §6.
package expr

import (
	"fmt"
	"strings"

	"github.com/TomNeyland/modash.js-sub008/value"
)

// Ctx carries the evaluation context: the current document, the
// $$ROOT document, and any bound loop variables ($$this, or a $filter/
// $map "as" alias) introduced by an enclosing array operator.
type Ctx struct {
	Doc  value.Document
	Root value.Document
	Vars map[string]interface{}
}

// NewCtx returns a root evaluation context for doc.
func NewCtx(doc value.Document) *Ctx {
	return &Ctx{Doc: doc, Root: doc}
}

// withVar returns a derived context binding name to v, leaving the
// receiver untouched (array operators restore the outer context per
// element).
func (c *Ctx) withVar(name string, v interface{}) *Ctx {
	vars := make(map[string]interface{}, len(c.Vars)+1)
	for k, val := range c.Vars {
		vars[k] = val
	}
	vars[name] = v
	return &Ctx{Doc: c.Doc, Root: c.Root, Vars: vars}
}

// Expr is a parsed expression node.
type Expr interface {
	Eval(ctx *Ctx) (interface{}, error)
}

// Unsupported is returned by Parse when an expression uses an operator
// outside the incremental core's supported set (spec §4.7); the caller
// must fall back to the external one-shot evaluator.
type Unsupported struct {
	Operator string
}

func (e *Unsupported) Error() string {
	return fmt.Sprintf("expr: unsupported operator %q, falling back to one-shot evaluator", e.Operator)
}

// Literal is a constant value.
type Literal struct{ Value interface{} }

func (l Literal) Eval(*Ctx) (interface{}, error) { return l.Value, nil }

// FieldPath resolves a dotted path against the current document.
type FieldPath struct{ Path string }

func (f FieldPath) Eval(ctx *Ctx) (interface{}, error) {
	return value.Resolve(ctx.Doc, f.Path), nil
}

// SystemVar resolves $$ROOT, $$CURRENT, or a bound loop variable such as
// $$this, optionally followed by a dotted sub-path (e.g. "this.field").
type SystemVar struct{ Name string }

func (s SystemVar) Eval(ctx *Ctx) (interface{}, error) {
	head, rest, hasDot := strings.Cut(s.Name, ".")
	var base interface{}
	switch head {
	case "ROOT":
		base = ctx.Root
	case "CURRENT":
		base = ctx.Doc
	default:
		v, ok := ctx.Vars[head]
		if !ok {
			return value.Missing{}, nil
		}
		base = v
	}
	if !hasDot {
		return base, nil
	}
	return value.ResolveAny(base, rest), nil
}

// ObjectShape builds a nested document from field name -> sub-expression.
type ObjectShape struct {
	Fields map[string]Expr
	Order  []string // field names in the (map iteration) order parseObjectShape saw them
}

func (o ObjectShape) Eval(ctx *Ctx) (interface{}, error) {
	out := value.Document{}
	for _, k := range o.Order {
		v, err := o.Fields[k].Eval(ctx)
		if err != nil {
			return nil, err
		}
		if value.IsMissing(v) {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// Operator applies a named operator to evaluated argument expressions.
type Operator struct {
	Name string
	Args []Expr
}

func (op Operator) Eval(ctx *Ctx) (interface{}, error) {
	fn, ok := registry[op.Name]
	if !ok {
		return nil, &Unsupported{Operator: op.Name}
	}
	args := make([]interface{}, len(op.Args))
	for i, a := range op.Args {
		v, err := a.Eval(ctx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(args)
}

// FilterExpr implements $filter: {input, cond, as}.
type FilterExpr struct {
	Input Expr
	Cond  Expr
	As    string
}

func (f FilterExpr) Eval(ctx *Ctx) (interface{}, error) {
	inVal, err := f.Input.Eval(ctx)
	if err != nil {
		return nil, err
	}
	arr, ok := toArray(inVal)
	if !ok {
		return nil, nil
	}
	as := f.As
	if as == "" {
		as = "this"
	}
	out := make(value.Array, 0, len(arr))
	for _, e := range arr {
		sub := ctx.withVar(as, e)
		v, err := f.Cond.Eval(sub)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			out = append(out, e)
		}
	}
	return out, nil
}

// MapExpr implements $map: {input, in, as}.
type MapExpr struct {
	Input Expr
	In    Expr
	As    string
}

func (m MapExpr) Eval(ctx *Ctx) (interface{}, error) {
	inVal, err := m.Input.Eval(ctx)
	if err != nil {
		return nil, err
	}
	arr, ok := toArray(inVal)
	if !ok {
		return nil, nil
	}
	as := m.As
	if as == "" {
		as = "this"
	}
	out := make(value.Array, len(arr))
	for i, e := range arr {
		sub := ctx.withVar(as, e)
		v, err := m.In.Eval(sub)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Parse compiles a raw expression descriptor (spec §6's expression
// descriptor format) into an Expr tree. It returns *Unsupported when an
// operator name falls outside the incremental core's supported set.
func Parse(raw interface{}) (Expr, error) {
	switch t := raw.(type) {
	case string:
		if strings.HasPrefix(t, "$$") {
			return SystemVar{Name: strings.TrimPrefix(t, "$$")}, nil
		}
		if strings.HasPrefix(t, "$") {
			return FieldPath{Path: strings.TrimPrefix(t, "$")}, nil
		}
		return Literal{Value: t}, nil
	case value.Document:
		return parseObjectOrOperator(t)
	case map[string]interface{}:
		return parseObjectOrOperator(value.Document(t))
	default:
		return Literal{Value: raw}, nil
	}
}

func parseObjectOrOperator(m value.Document) (Expr, error) {
	if len(m) == 1 {
		for k, v := range m {
			if strings.HasPrefix(k, "$") {
				name := strings.TrimPrefix(k, "$")
				switch name {
				case "filter":
					return parseFilter(v)
				case "map":
					return parseMap(v)
				}
				if _, ok := registry[name]; !ok {
					return nil, &Unsupported{Operator: name}
				}
				args, err := parseArgs(v)
				if err != nil {
					return nil, err
				}
				return Operator{Name: name, Args: args}, nil
			}
		}
	}
	return parseObjectShape(m)
}

func specDoc(raw interface{}) (value.Document, bool) {
	switch t := raw.(type) {
	case value.Document:
		return t, true
	case map[string]interface{}:
		return value.Document(t), true
	}
	return nil, false
}

func parseFilter(raw interface{}) (Expr, error) {
	spec, ok := specDoc(raw)
	if !ok {
		return nil, &Unsupported{Operator: "filter"}
	}
	input, err := Parse(spec["input"])
	if err != nil {
		return nil, err
	}
	cond, err := Parse(spec["cond"])
	if err != nil {
		return nil, err
	}
	as, _ := spec["as"].(string)
	return FilterExpr{Input: input, Cond: cond, As: as}, nil
}

func parseMap(raw interface{}) (Expr, error) {
	spec, ok := specDoc(raw)
	if !ok {
		return nil, &Unsupported{Operator: "map"}
	}
	input, err := Parse(spec["input"])
	if err != nil {
		return nil, err
	}
	in, err := Parse(spec["in"])
	if err != nil {
		return nil, err
	}
	as, _ := spec["as"].(string)
	return MapExpr{Input: input, In: in, As: as}, nil
}

func parseArgs(raw interface{}) ([]Expr, error) {
	if arr, ok := raw.(value.Array); ok {
		out := make([]Expr, len(arr))
		for i, a := range arr {
			e, err := Parse(a)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	}
	if arr, ok := raw.([]interface{}); ok {
		out := make([]Expr, len(arr))
		for i, a := range arr {
			e, err := Parse(a)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	}
	e, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return []Expr{e}, nil
}

func parseObjectShape(m value.Document) (Expr, error) {
	shape := ObjectShape{Fields: make(map[string]Expr, len(m))}
	for k, v := range m {
		e, err := Parse(v)
		if err != nil {
			return nil, err
		}
		shape.Fields[k] = e
		shape.Order = append(shape.Order, k)
	}
	return shape, nil
}

// EvalScalar parses and evaluates raw against doc/root in one step.
func EvalScalar(raw interface{}, doc value.Document, root value.Document) (interface{}, error) {
	e, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return e.Eval(&Ctx{Doc: doc, Root: root})
}

// IsSimple reports whether raw's operators are all drawn from the
// "simple" comparison/logical/arithmetic subset the fuser is allowed to
// compile into a single vectorized kernel chain (spec §4.12). Field
// paths, literals, and system vars are always simple.
func IsSimple(raw interface{}) bool {
	switch t := raw.(type) {
	case string:
		return true
	case value.Document:
		return isSimpleDoc(t)
	case map[string]interface{}:
		return isSimpleDoc(value.Document(t))
	case value.Array:
		for _, e := range t {
			if !IsSimple(e) {
				return false
			}
		}
		return true
	case []interface{}:
		for _, e := range t {
			if !IsSimple(e) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func isSimpleDoc(m value.Document) bool {
	if len(m) == 1 {
		for k, v := range m {
			if strings.HasPrefix(k, "$") {
				name := strings.TrimPrefix(k, "$")
				if !simpleOperators[name] {
					return false
				}
				return IsSimple(v)
			}
		}
	}
	for _, v := range m {
		if !IsSimple(v) {
			return false
		}
	}
	return true
}

var simpleOperators = map[string]bool{
	"add": true, "subtract": true, "multiply": true, "divide": true,
	"mod": true, "abs": true, "ceil": true, "floor": true, "round": true,
	"eq": true, "ne": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"and": true, "or": true, "not": true, "cond": true, "ifNull": true,
}

// IsSimpleOperator reports whether name (without its "$" prefix) is in
// the simple comparison/logical/arithmetic subset the fuser is allowed
// to compile into a single vectorized kernel chain (spec §4.12).
func IsSimpleOperator(name string) bool {
	return simpleOperators[name]
}
