// Package dialect abstracts the database a session talks to.
//
// It defines two things:
//
//   - the Driver, Tx and ExecQuerier interfaces sessions execute
//     statements through, implemented for database/sql by package
//     dialect/sql;
//   - the Dialect SPI supplying the SQL fragments that differ between
//     databases: parameter markers, pessimistic lock clauses and hints,
//     and generated key retrieval.
//
// # Supported Dialects
//
//	dialect.Postgres  = "postgres"
//	dialect.MySQL     = "mysql"
//	dialect.SQLite    = "sqlite"
//	dialect.SQLServer = "sqlserver"
//	dialect.Oracle    = "oracle"
//
// # Locking
//
// Postgres, MySQL and Oracle append a trailing clause ("for update",
// "for share of t1_") whose item list follows the dialect's
// RowLockStrategy. SQL Server expresses locks as table hints
// ("with (updlock,rowlock)") and SQLite has no row locks at all:
//
//	d, _ := dialect.For(dialect.Postgres)
//	d.WriteLockStringFor("employee0_", persist.NoWait) // " for update of employee0_ nowait"
//
// # Usage
//
//	drv, err := sql.Open(dialect.SQLite, "file:app.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
package dialect
