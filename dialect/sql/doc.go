// Package sql executes statements for sessions over database/sql.
//
// Driver implements dialect.Driver on top of a *sql.DB, and Tx implements
// dialect.Tx on top of a *sql.Tx. Exec scans into a *sql.Result, Query into
// a *Rows:
//
//	drv, err := sql.Open("sqlite", "file:app.db?_pragma=foreign_keys(1)")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var rows sql.Rows
//	if err := drv.Query(ctx, "select id, name from employees", []any{}, &rows); err != nil {
//	    log.Fatal(err)
//	}
//	records, err := sql.ScanMaps(rows) // []map[string]any keyed by lower case column name
//
// # Timeouts and Lock Failures
//
// WithQueryTimeout attaches a statement timeout to a context. Errors from
// the MySQL, Postgres and SQLite drivers that report a lock failure or a
// canceled statement are returned as *persist.PessimisticLockError and
// *persist.QueryTimeoutError:
//
//	ctx = sql.WithQueryTimeout(ctx, 2*time.Second)
//	err := drv.Query(ctx, query, args, &rows)
//	if persist.IsPessimisticLock(err) {
//	    // retry the transaction
//	}
//
// # Statistics
//
// StatsDriver counts statements, errors and lock failures and reports slow
// statements through a hook or the driver logger; DebugDriver logs every
// statement at Debug level.
package sql
