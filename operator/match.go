package operator

import (
	"strings"

	"github.com/TomNeyland/modash.js-sub008/expr"
	"github.com/TomNeyland/modash.js-sub008/value"
)

// Predicate evaluates a $match-style filter document against a document.
type Predicate interface {
	Test(doc value.Document) bool
}

// Match keeps the set of rows currently passing its predicate, for
// Materialize and for routing deletes. An insert passes through iff the
// predicate is true for After; a delete passes through iff the row is
// currently live. An update compares live membership before with the
// predicate on After, emitting one of {pass-through update, insert-only,
// delete-only, drop} (spec §4.10).
type Match struct {
	Pred Predicate

	live map[RowKey]value.Document // current output, for Materialize
}

// NewMatch returns a Match stage over the given predicate.
func NewMatch(pred Predicate) *Match {
	return &Match{Pred: pred, live: make(map[RowKey]value.Document)}
}

func (m *Match) Push(batch Batch) (Batch, error) {
	out := make(Batch, 0, len(batch))
	for _, d := range batch {
		switch d.Op {
		case OpInsert:
			if m.Pred.Test(d.After) {
				m.live[d.Row] = d.After
				out = append(out, Delta{Op: OpInsert, Row: d.Row, After: d.After})
			}
		case OpDelete:
			if _, wasLive := m.live[d.Row]; wasLive {
				delete(m.live, d.Row)
				out = append(out, Delta{Op: OpDelete, Row: d.Row, Before: d.Before})
			}
		case OpUpdate:
			_, wasLive := m.live[d.Row]
			nowLive := m.Pred.Test(d.After)
			switch {
			case wasLive && nowLive:
				m.live[d.Row] = d.After
				out = append(out, Delta{Op: OpUpdate, Row: d.Row, Before: d.Before, After: d.After})
			case wasLive && !nowLive:
				delete(m.live, d.Row)
				out = append(out, Delta{Op: OpDelete, Row: d.Row, Before: d.Before})
			case !wasLive && nowLive:
				m.live[d.Row] = d.After
				out = append(out, Delta{Op: OpInsert, Row: d.Row, After: d.After})
			default:
				// stays absent: drop
			}
		}
	}
	return out, nil
}

func (m *Match) Materialize() []value.Document {
	out := make([]value.Document, 0, len(m.live))
	for _, d := range m.live {
		out = append(out, d)
	}
	return out
}

func (m *Match) Reset() {
	m.live = make(map[RowKey]value.Document)
}

// ParseMatchSpec compiles a $match filter document (spec §6's stage
// descriptor format: a mapping from field name to either a literal
// equality or an operator document like {"$gte": 18}, implicitly ANDed
// across fields) into an expr.Expr that evaluates to a boolean. Unlike
// expr.Parse, which treats a document as a shape to construct, a filter
// document's top-level keys are field paths to test, not output fields
// to build — so this is a distinct compiler, not a thin wrapper.
func ParseMatchSpec(spec map[string]interface{}) (expr.Expr, error) {
	var conds []expr.Expr
	for field, v := range spec {
		switch field {
		case "$and":
			sub, err := parseLogicalArray(v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, expr.Operator{Name: "and", Args: sub})
		case "$or":
			sub, err := parseLogicalArray(v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, expr.Operator{Name: "or", Args: sub})
		default:
			cond, err := parseFieldCond(field, v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
	}
	return andAll(conds), nil
}

func parseLogicalArray(raw interface{}) ([]expr.Expr, error) {
	arr, ok := toDocSlice(raw)
	if !ok {
		return nil, &expr.Unsupported{Operator: "and/or operand must be an array of filter documents"}
	}
	out := make([]expr.Expr, len(arr))
	for i, d := range arr {
		e, err := ParseMatchSpec(d)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func toDocSlice(raw interface{}) ([]map[string]interface{}, bool) {
	var elems []interface{}
	switch t := raw.(type) {
	case value.Array:
		elems = []interface{}(t)
	case []interface{}:
		elems = t
	default:
		return nil, false
	}
	out := make([]map[string]interface{}, 0, len(elems))
	for _, e := range elems {
		d, ok := asDoc(e)
		if !ok {
			return nil, false
		}
		out = append(out, d)
	}
	return out, true
}

// isOperatorDoc reports whether m is an operator document ({"$gte": 18})
// rather than a literal document to compare for equality — true iff it
// is non-empty and every key starts with "$".
func isOperatorDoc(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func parseFieldCond(field string, v interface{}) (expr.Expr, error) {
	if m, ok := asDoc(v); ok && isOperatorDoc(m) {
		var conds []expr.Expr
		for op, arg := range m {
			argExpr, err := expr.Parse(arg)
			if err != nil {
				return nil, err
			}
			conds = append(conds, expr.Operator{
				Name: strings.TrimPrefix(op, "$"),
				Args: []expr.Expr{expr.FieldPath{Path: field}, argExpr},
			})
		}
		return andAll(conds), nil
	}
	return expr.Operator{
		Name: "eq",
		Args: []expr.Expr{expr.FieldPath{Path: field}, expr.Literal{Value: v}},
	}, nil
}

func andAll(conds []expr.Expr) expr.Expr {
	switch len(conds) {
	case 0:
		return expr.Literal{Value: true}
	case 1:
		return conds[0]
	default:
		return expr.Operator{Name: "and", Args: conds}
	}
}
