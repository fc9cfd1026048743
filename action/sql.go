package action

import (
	"strings"

	"github.com/syssam/persist/dialect"
)

// Statement is a rendered DML statement with its arguments in marker order.
type Statement struct {
	SQL  string
	Args []any
}

// Assignments are column values of one table in mapping order.
type Assignments struct {
	Columns []string
	Values  []any
}

// Add appends the values of columns. A value of several columns is []any;
// any other value fills the first column and leaves the rest nil.
func (a *Assignments) Add(columns []string, v any) {
	parts, ok := v.([]any)
	if !ok || len(columns) == 1 {
		parts = []any{v}
	}
	for i, c := range columns {
		var pv any
		if i < len(parts) {
			pv = parts[i]
		}
		a.Columns = append(a.Columns, c)
		a.Values = append(a.Values, pv)
	}
}

// Len returns the number of columns.
func (a *Assignments) Len() int { return len(a.Columns) }

// builder writes one statement for a dialect.
type builder struct {
	d    dialect.Dialect
	b    strings.Builder
	args []any
}

func (w *builder) param(v any) {
	w.args = append(w.args, v)
	w.b.WriteString(w.d.ParameterMarker(len(w.args)))
}

func (w *builder) where(cond Assignments) {
	if cond.Len() == 0 {
		return
	}
	w.b.WriteString(" where ")
	for i, c := range cond.Columns {
		if i > 0 {
			w.b.WriteString(" and ")
		}
		w.b.WriteString(c)
		if cond.Values[i] == nil {
			w.b.WriteString(" is null")
			continue
		}
		w.b.WriteByte('=')
		w.param(cond.Values[i])
	}
}

func (w *builder) statement() Statement {
	return Statement{SQL: w.b.String(), Args: w.args}
}

// InsertSQL renders "insert into table (cols) values (markers)". Without
// columns it renders an insert of default values.
func InsertSQL(d dialect.Dialect, table string, values Assignments) Statement {
	w := &builder{d: d}
	w.b.WriteString("insert into ")
	w.b.WriteString(table)
	if values.Len() == 0 {
		w.b.WriteString(" default values")
		return w.statement()
	}
	w.b.WriteString(" (")
	w.b.WriteString(strings.Join(values.Columns, ", "))
	w.b.WriteString(") values (")
	for i, v := range values.Values {
		if i > 0 {
			w.b.WriteString(", ")
		}
		w.param(v)
	}
	w.b.WriteByte(')')
	return w.statement()
}

// InsertReturningSQL renders an insert returning the given columns, for
// dialects supporting it.
func InsertReturningSQL(d dialect.Dialect, table string, values Assignments, returning []string) Statement {
	st := InsertSQL(d, table, values)
	st.SQL += " returning " + strings.Join(returning, ", ")
	return st
}

// UpdateSQL renders "update table set ... where ...". A nil condition
// value renders "is null".
func UpdateSQL(d dialect.Dialect, table string, set, cond Assignments) Statement {
	w := &builder{d: d}
	w.b.WriteString("update ")
	w.b.WriteString(table)
	w.b.WriteString(" set ")
	for i, c := range set.Columns {
		if i > 0 {
			w.b.WriteString(", ")
		}
		w.b.WriteString(c)
		w.b.WriteByte('=')
		w.param(set.Values[i])
	}
	w.where(cond)
	return w.statement()
}

// DeleteSQL renders "delete from table where ...".
func DeleteSQL(d dialect.Dialect, table string, cond Assignments) Statement {
	w := &builder{d: d}
	w.b.WriteString("delete from ")
	w.b.WriteString(table)
	w.where(cond)
	return w.statement()
}
