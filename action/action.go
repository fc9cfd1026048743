// Package action holds the work scheduled by a flush: entity inserts,
// updates and deletes and collection recreations, updates and removals.
//
// Actions are collected in a Queue, which executes them in the order that
// satisfies foreign key constraints: insertions (parents before children),
// updates, collection removals, collection updates, collection creations
// and finally deletions (children before parents).
package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/metamodel"
)

// Action is a unit of flush work.
type Action interface {
	// Execute runs the statements of the action.
	Execute(ctx context.Context, x *Executor) error
	// QuerySpaces returns the tables the action writes.
	QuerySpaces() []string
}

// Executor runs the statements of actions on a connection.
type Executor struct {
	Conn     dialect.ExecQuerier
	Dialect  dialect.Dialect
	Resolver metamodel.Resolver
	Logger   *slog.Logger
}

func (x *Executor) logger() *slog.Logger {
	if x.Logger == nil {
		return slog.Default()
	}
	return x.Logger
}

func (x *Executor) execResult(ctx context.Context, st Statement) (sql.Result, error) {
	x.logger().DebugContext(ctx, "executing statement", "sql", st.SQL, "args", len(st.Args))
	var res sql.Result
	if err := x.Conn.Exec(ctx, st.SQL, st.Args, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// exec runs st and returns the number of affected rows.
func (x *Executor) exec(ctx context.Context, st Statement) (int64, error) {
	res, err := x.execResult(ctx, st)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("action: rows affected: %w", err)
	}
	return n, nil
}

// queryRow runs st and returns the values of its first row.
func (x *Executor) queryRow(ctx context.Context, st Statement) ([]any, error) {
	x.logger().DebugContext(ctx, "executing query", "sql", st.SQL, "args", len(st.Args))
	var rows sql.Rows
	if err := x.Conn.Query(ctx, st.SQL, st.Args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("action: %q returned no rows", st.SQL)
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	return vals, rows.Err()
}
