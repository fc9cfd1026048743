package sql

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDriverQuery tests query operations.
func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("simple_query", func(t *testing.T) {
		mock.ExpectQuery("select id, name from employees").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Alice"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "select id, name from employees", []any{}, rows)
		require.NoError(t, err)
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_with_args", func(t *testing.T) {
		mock.ExpectQuery("select name from employees where id=\\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alice"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "select name from employees where id=$1", []any{1}, rows)
		require.NoError(t, err)
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_error", func(t *testing.T) {
		mock.ExpectQuery("select").WillReturnError(errors.New("database error"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "select", []any{}, rows)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dialect/sql: query")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_arguments", func(t *testing.T) {
		var rows Rows
		err := drv.Query(context.Background(), "select 1", 1, &rows)
		require.Error(t, err)
		err = drv.Query(context.Background(), "select 1", []any{}, rows)
		require.Error(t, err)
	})
}

// TestDriverExec tests execute operations.
func TestDriverExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("exec_without_result", func(t *testing.T) {
		mock.ExpectExec("insert into employees").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := drv.Exec(context.Background(), "insert into employees (name) values ('test')", []any{}, nil)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec_with_result", func(t *testing.T) {
		mock.ExpectExec("update employees set name=\\$1 where id=\\$2").
			WithArgs("Alice", 1).
			WillReturnResult(sqlmock.NewResult(0, 2))

		var res Result
		err := drv.Exec(context.Background(), "update employees set name=$1 where id=$2", []any{"Alice", 1}, &res)
		require.NoError(t, err)
		n, err := RowsAffected(res)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec_error", func(t *testing.T) {
		mock.ExpectExec("delete").WillReturnError(errors.New("constraint violation"))

		err := drv.Exec(context.Background(), "delete from employees", []any{}, nil)
		require.Error(t, err)
		assert.False(t, persist.IsPessimisticLock(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_result", func(t *testing.T) {
		var n int
		err := drv.Exec(context.Background(), "delete from employees", []any{}, &n)
		require.Error(t, err)
	})

	t.Run("nil_result", func(t *testing.T) {
		_, err := RowsAffected(nil)
		require.Error(t, err)
	})
}

// TestDriverTransaction tests transaction operations.
func TestDriverTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("successful_commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("insert into employees").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		err = tx.Exec(context.Background(), "insert into employees (name) values ('test')", []any{}, nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("insert into employees").WillReturnError(errors.New("error"))
		mock.ExpectRollback()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		err = tx.Exec(context.Background(), "insert into employees (name) values ('test')", []any{}, nil)
		require.Error(t, err)
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_in_transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("select").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		rows := &Rows{}
		err = tx.Query(context.Background(), "select id from employees", []any{}, rows)
		require.NoError(t, err)
		require.NoError(t, rows.Close())
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin_error", func(t *testing.T) {
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
		_, err := drv.Tx(context.Background())
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDialectMethod(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{dialect.Postgres, dialect.Postgres},
		{dialect.MySQL, dialect.MySQL},
		{dialect.SQLite, dialect.SQLite},
		{"sqlite3", dialect.SQLite},
		{"postgres+otel", dialect.Postgres},
		{"sqlserver", dialect.SQLServer},
		{"oracle", dialect.Oracle},
		{"cockroach", "cockroach"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv := OpenDB(tt.name, db)
			assert.Equal(t, tt.want, drv.Dialect())
			assert.Same(t, db, drv.DB())
		})
	}
}

func TestScanMaps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.SQLite, db)
	mock.ExpectQuery("select").
		WillReturnRows(sqlmock.NewRows([]string{"ID", "name", "email"}).
			AddRow(int64(1), []byte("Alice"), nil).
			AddRow(int64(2), "Bob", "bob@example.com"))

	rows := &Rows{}
	err = drv.Query(context.Background(), "select id, name, email from employees", []any{}, rows)
	require.NoError(t, err)
	records, err := ScanMaps(rows)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, map[string]any{"id": int64(1), "name": "Alice", "email": nil}, records[0])
	assert.Equal(t, "bob@example.com", records[1]["email"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanMapsRowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.SQLite, db)
	mock.ExpectQuery("select").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(int64(1)).
			AddRow(int64(2)).
			RowError(1, errors.New("read failure")))

	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "select id from employees", []any{}, rows))
	_, err = ScanMaps(rows)
	require.EqualError(t, err, "read failure")
}

func TestQueryTimeout(t *testing.T) {
	ctx := context.Background()
	_, ok := QueryTimeoutFromContext(ctx)
	assert.False(t, ok)

	d, ok := QueryTimeoutFromContext(WithQueryTimeout(ctx, 3*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = QueryTimeoutFromContext(WithQueryTimeout(ctx, 0))
	assert.False(t, ok, "zero timeout disables the deadline")

	tctx, cancel := applyQueryTimeout(WithQueryTimeout(ctx, time.Minute))
	defer cancel()
	deadline, ok := tctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	nctx, ncancel := applyQueryTimeout(ctx)
	defer ncancel()
	_, ok = nctx.Deadline()
	assert.False(t, ok)
}

func TestClassifyError(t *testing.T) {
	const query = "select * from employees for update"
	tests := []struct {
		name       string
		err        error
		lock       bool
		timeout    bool
		constraint persist.ConstraintKind
	}{
		{name: "nil"},
		{name: "plain", err: errors.New("syntax error")},
		{name: "mysql_lock_wait", err: &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, lock: true},
		{name: "mysql_deadlock", err: &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, lock: true},
		{name: "mysql_nowait", err: &mysql.MySQLError{Number: 3572, Message: "NOWAIT is set"}, lock: true},
		{name: "mysql_interrupted", err: &mysql.MySQLError{Number: 3024, Message: "maximum statement execution time exceeded"}, timeout: true},
		{name: "mysql_duplicate", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, constraint: persist.ConstraintUnique},
		{name: "mysql_referenced", err: &mysql.MySQLError{Number: 1451, Message: "Cannot delete or update a parent row"}, constraint: persist.ConstraintForeignKey},
		{name: "mysql_other", err: &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}},
		{name: "pq_lock_not_available", err: &pq.Error{Code: "55P03"}, lock: true},
		{name: "pq_deadlock", err: &pq.Error{Code: "40P01"}, lock: true},
		{name: "pq_canceled", err: &pq.Error{Code: "57014"}, timeout: true},
		{name: "pq_unique", err: &pq.Error{Code: "23505"}, constraint: persist.ConstraintUnique},
		{name: "pq_check", err: &pq.Error{Code: "23514"}, constraint: persist.ConstraintCheck},
		{name: "deadline", err: context.DeadlineExceeded, timeout: true},
		{name: "sqlite_busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), lock: true},
		{name: "sqlite_interrupt", err: errors.New("interrupted (9)"), timeout: true},
		{name: "sqlite_foreign_key", err: errors.New("constraint failed: FOREIGN KEY constraint failed (787)"), constraint: persist.ConstraintForeignKey},
		{name: "sqlite_primary_key", err: errors.New("constraint failed: UNIQUE constraint failed: products.id (1555)"), constraint: persist.ConstraintUnique},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyError(query, tt.err)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, tt.lock, persist.IsPessimisticLock(err))
			assert.Equal(t, tt.timeout, persist.IsQueryTimeout(err))
			assert.Equal(t, tt.constraint != persist.ConstraintUnknown, persist.IsConstraintViolation(err))
			var cv *persist.ConstraintViolationError
			if errors.As(err, &cv) {
				assert.Equal(t, tt.constraint, cv.Kind)
			}
			assert.ErrorIs(t, err, tt.err)
			var lockErr *persist.PessimisticLockError
			if errors.As(err, &lockErr) {
				assert.Equal(t, query, lockErr.SQL)
			}
		})
	}
}

func TestDriverClassifiesErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.MySQL, db)
	mock.ExpectQuery("for update nowait").WillReturnError(&mysql.MySQLError{Number: 3572})
	mock.ExpectExec("update employees").WillReturnError(&mysql.MySQLError{Number: 3024})

	rows := &Rows{}
	err = drv.Query(context.Background(), "select id from employees for update nowait", []any{}, rows)
	require.Error(t, err)
	assert.True(t, persist.IsPessimisticLock(err))

	err = drv.Exec(context.Background(), "update employees set name=?", []any{"x"}, nil)
	require.Error(t, err)
	assert.True(t, persist.IsQueryTimeout(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var slow []string
	drv := NewStatsDriver(OpenDB(dialect.Postgres, db),
		WithSlowThreshold(0),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	assert.Equal(t, time.Duration(0), drv.SlowThreshold())

	mock.ExpectQuery("select 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("update").WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectBegin()
	mock.ExpectExec("delete").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "select 1", []any{}, rows))
	require.NoError(t, rows.Close())
	require.Error(t, drv.Exec(context.Background(), "update employees set version=2", []any{}, nil))
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), "delete from employees", []any{}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	snap := drv.QueryStats().Stats()
	assert.EqualValues(t, 1, snap.TotalQueries)
	assert.EqualValues(t, 2, snap.TotalExecs)
	assert.EqualValues(t, 1, snap.Errors)
	assert.EqualValues(t, 1, snap.LockFailures)
	assert.EqualValues(t, 3, snap.SlowQueries)
	assert.Equal(t, []string{"select 1", "update employees set version=2", "delete from employees"}, slow)
	assert.Contains(t, snap.String(), "lock_failures=1")

	drv.QueryStats().Reset()
	assert.Zero(t, drv.QueryStats().Stats().TotalQueries)
	assert.Zero(t, drv.QueryStats().Stats().AvgQueryDuration())

	drv.SetSlowThreshold(time.Hour)
	assert.Equal(t, time.Hour, drv.SlowThreshold())
}

func TestStatsDriverSlowQueryLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	drv := NewStatsDriver(OpenDB(dialect.Postgres, db),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
		WithSlowThreshold(0),
		WithSlowQueryLog(),
	)
	mock.ExpectExec("delete").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, drv.Exec(context.Background(), "delete from employees", []any{}, nil))
	assert.Contains(t, buf.String(), "slow query detected")
	assert.Contains(t, buf.String(), `query="delete from employees"`)
}

func TestDebugDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	drv := NewDebugDriver(OpenDB(dialect.SQLite, db), logger)

	mock.ExpectQuery("select 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("delete").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "select 1", []any{}, rows))
	require.NoError(t, rows.Close())
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), "delete from employees", []any{}, nil))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	assert.Contains(t, out, `sql="select 1"`)
	assert.Contains(t, out, "begin transaction")
	assert.Contains(t, out, `msg="tx exec" sql="delete from employees"`)
	assert.Contains(t, out, "rollback transaction")
	assert.Equal(t, dialect.SQLite, drv.Dialect())
}

func TestUnwrap(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)
	for _, wrapped := range []dialect.ExecQuerier{
		drv,
		NewStatsDriver(drv),
		NewDebugDriver(drv, nil),
		NewDebugDriver(NewStatsDriver(drv), nil),
	} {
		got, ok := Unwrap(wrapped)
		require.True(t, ok)
		assert.Same(t, drv, got)
	}
	_, ok := Unwrap(dialect.NopTx(drv))
	assert.False(t, ok)
}
