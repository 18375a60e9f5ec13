// Package predicate composes row filters that can be rendered into a SQL
// WHERE fragment with positional arguments, or evaluated directly against an
// in-memory record. Domain packages describe visibility rules once and use
// the same expression for queries and for checks.
package predicate

import (
	"fmt"
	"strings"
)

// Field names a logical attribute of a record, e.g. "patient.facility.state".
type Field string

// Record exposes logical fields for in-memory evaluation.
type Record interface {
	Value(f Field) (any, bool)
}

// Expr is a boolean condition over a record.
type Expr interface {
	Eval(r Record) bool
	String() string
	render(q *Query) string
}

type all struct{}

func (all) Eval(Record) bool { return true }

func (all) String() string { return "ALL" }

func (all) render(*Query) string { return "TRUE" }

type eq struct {
	field Field
	value any
}

func (e eq) Eval(r Record) bool {
	v, ok := r.Value(e.field)
	return ok && v == e.value
}

func (e eq) String() string { return fmt.Sprintf("%s = %v", e.field, e.value) }

func (e eq) render(q *Query) string {
	return fmt.Sprintf("%s = $%d", q.column(e.field), q.bind(e.value))
}

type in struct {
	field  Field
	values []int64
}

func (e in) Eval(r Record) bool {
	v, ok := r.Value(e.field)
	if !ok {
		return false
	}
	id, ok := v.(int64)
	if !ok {
		return false
	}
	for _, x := range e.values {
		if x == id {
			return true
		}
	}
	return false
}

func (e in) String() string { return fmt.Sprintf("%s IN %v", e.field, e.values) }

func (e in) render(q *Query) string {
	values := e.values
	if values == nil {
		values = []int64{}
	}
	return fmt.Sprintf("%s = ANY($%d)", q.column(e.field), q.bind(values))
}

type and []Expr

func (e and) Eval(r Record) bool {
	for _, x := range e {
		if !x.Eval(r) {
			return false
		}
	}
	return true
}

func (e and) String() string { return join(e, " AND ") }

func (e and) render(q *Query) string {
	if len(e) == 0 {
		return "TRUE"
	}
	parts := make([]string, len(e))
	for i, x := range e {
		parts[i] = x.render(q)
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

type or []Expr

func (e or) Eval(r Record) bool {
	for _, x := range e {
		if x.Eval(r) {
			return true
		}
	}
	return false
}

func (e or) String() string { return join(e, " OR ") }

func (e or) render(q *Query) string {
	if len(e) == 0 {
		return "FALSE"
	}
	parts := make([]string, len(e))
	for i, x := range e {
		parts[i] = x.render(q)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func join(es []Expr, sep string) string {
	parts := make([]string, len(es))
	for i, x := range es {
		parts[i] = x.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// All matches every record.
func All() Expr { return all{} }

// Eq matches records whose field equals value. Values are compared with ==,
// so callers must use the same dynamic type the record reports (int64 for ids).
func Eq(f Field, value any) Expr { return eq{field: f, value: value} }

// In matches records whose int64 field is one of values. An empty set
// matches nothing.
func In(f Field, values []int64) Expr {
	cp := make([]int64, len(values))
	copy(cp, values)
	return in{field: f, values: cp}
}

// And matches when every operand matches.
func And(es ...Expr) Expr { return and(es) }

// Or matches when any operand matches.
func Or(es ...Expr) Expr { return or(es) }

// IsAll reports whether e places no restriction at all.
func IsAll(e Expr) bool {
	_, ok := e.(all)
	return ok
}
