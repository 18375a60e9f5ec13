package predicate

import (
	"fmt"
)

// Query builds SELECT and COUNT statements from a FROM clause, a column map
// for logical fields, and any number of predicates and raw clauses.
type Query struct {
	from    string
	cols    string
	columns map[Field]string
	where   string
	args    []interface{}
	orderBy string
	suffix  string
	err     error
}

// NewQuery creates a Query. from may contain joins; columns maps each
// logical field used in predicates to its qualified SQL column.
func NewQuery(from, cols string, columns map[Field]string) *Query {
	return &Query{from: from, cols: cols, columns: columns}
}

func (q *Query) column(f Field) string {
	col, ok := q.columns[f]
	if !ok {
		if q.err == nil {
			q.err = fmt.Errorf("predicate: no column for field %q", f)
		}
		return "NULL"
	}
	return col
}

func (q *Query) bind(v interface{}) int {
	q.args = append(q.args, v)
	return len(q.args)
}

// Where ANDs the rendered expression into the WHERE clause. Match-all
// expressions add nothing.
func (q *Query) Where(e Expr) *Query {
	if e == nil || IsAll(e) {
		return q
	}
	q.where += " AND " + e.render(q)
	return q
}

// Add appends a raw clause. Placeholders are written as $%d; each verb
// receives the positional index of the matching argument, in order.
func (q *Query) Add(clause string, args ...interface{}) *Query {
	idx := make([]interface{}, len(args))
	for i, a := range args {
		idx[i] = q.bind(a)
	}
	q.where += " AND " + fmt.Sprintf(clause, idx...)
	return q
}

// OrderBy sets the ORDER BY clause (without the keyword).
func (q *Query) OrderBy(orderBy string) *Query {
	q.orderBy = orderBy
	return q
}

// ForUpdate locks the selected rows of the given table alias.
func (q *Query) ForUpdate(alias string) *Query {
	q.suffix = " FOR UPDATE OF " + alias
	return q
}

// Err reports the first rendering error, such as an unmapped field.
func (q *Query) Err() error { return q.err }

// Args returns the bound arguments.
func (q *Query) Args() []interface{} { return q.args }

// CountSQL returns the count query.
func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.from, q.where)
}

func (q *Query) selectSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.from, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

// SelectSQL returns the data query without pagination.
func (q *Query) SelectSQL() string {
	return q.selectSQL() + q.suffix
}

// FirstSQL returns the data query limited to a single row.
func (q *Query) FirstSQL() string {
	return q.selectSQL() + " LIMIT 1" + q.suffix
}

// DataSQL returns the data query with LIMIT/OFFSET placeholders appended.
func (q *Query) DataSQL() string {
	n := len(q.args)
	return q.selectSQL() + fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2) + q.suffix
}

// DataArgs returns the bound arguments followed by limit and offset.
func (q *Query) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}
