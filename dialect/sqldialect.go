package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/persist"
)

// RowLockStrategy says what a lock clause names when only some of the
// tables of a statement must be locked.
type RowLockStrategy int

// Row lock strategies.
const (
	// RowLockNone means the clause takes no item list and locks every table.
	RowLockNone RowLockStrategy = iota
	// RowLockTable lists the aliases of the tables to lock.
	RowLockTable
	// RowLockColumn lists a qualified key column of each table to lock.
	RowLockColumn
)

// String returns the name of the strategy.
func (s RowLockStrategy) String() string {
	switch s {
	case RowLockTable:
		return "TABLE"
	case RowLockColumn:
		return "COLUMN"
	default:
		return "NONE"
	}
}

// LockingClauseStyle says where a dialect expresses pessimistic locks.
type LockingClauseStyle int

// Locking clause styles.
const (
	// ClauseTrailing appends a clause such as "for update" to the statement.
	ClauseTrailing LockingClauseStyle = iota
	// ClauseTableHint decorates table references in the FROM clause.
	ClauseTableHint
	// ClauseUnsupported means the dialect cannot lock rows in a select.
	ClauseUnsupported
)

// Dialect supplies the SQL fragments that differ between databases.
type Dialect interface {
	// Name returns one of the dialect name constants.
	Name() string
	// ParameterMarker returns the marker of the n-th parameter, counting from 1.
	ParameterMarker(n int) string

	// WriteLockString returns the clause locking every table for writing.
	WriteLockString(timeout int) string
	// WriteLockStringFor returns the clause locking the listed items for writing.
	WriteLockStringFor(items string, timeout int) string
	// ReadLockString returns the clause locking every table for reading.
	ReadLockString(timeout int) string
	// ReadLockStringFor returns the clause locking the listed items for reading.
	ReadLockStringFor(items string, timeout int) string
	WriteRowLockStrategy() RowLockStrategy
	ReadRowLockStrategy() RowLockStrategy
	// SupportsOuterJoinForUpdate reports whether rows reached through an
	// outer join may be locked.
	SupportsOuterJoinForUpdate() bool
	LockingClauseStyle() LockingClauseStyle
	// TableHint returns the FROM clause hint of a locked table reference,
	// or "" when the mode needs none.
	TableHint(mode persist.LockMode, timeout int) string

	// SupportsInsertReturning reports whether generated identifiers can be
	// read back with a returning clause.
	SupportsInsertReturning() bool
}

// For returns the dialect registered under name.
func For(name string) (Dialect, error) {
	switch name {
	case Postgres:
		return postgres{}, nil
	case MySQL:
		return mysql{}, nil
	case SQLite:
		return sqlite{}, nil
	case SQLServer:
		return sqlServer{}, nil
	case Oracle:
		return oracle{}, nil
	}
	return nil, persist.NewUnrecognizedSettingError(name, "hibernate.dialect")
}

// MustFor is like For but panics on an unknown name. It simplifies
// static initialization.
func MustFor(name string) Dialect {
	d, err := For(name)
	if err != nil {
		panic(err)
	}
	return d
}

// TimeoutInSeconds converts a lock timeout in milliseconds to whole
// seconds, rounding positive values up to at least one second.
func TimeoutInSeconds(millis int) int {
	if millis <= 0 {
		return 0
	}
	s := (millis + 500) / 1000
	if s == 0 {
		s = 1
	}
	return s
}

// lockSupport holds the timeout handling shared by trailing clause dialects.
type lockSupport struct {
	noWait, skipLocked, wait bool
}

func (l lockSupport) withTimeout(clause string, timeout int) string {
	switch timeout {
	case persist.NoWait:
		if l.noWait {
			return clause + " nowait"
		}
	case persist.SkipLocked:
		if l.skipLocked {
			return clause + " skip locked"
		}
	case persist.WaitForever:
	default:
		if l.wait {
			return clause + " wait " + strconv.Itoa(TimeoutInSeconds(timeout))
		}
	}
	return clause
}

type postgres struct{}

var pgLocks = lockSupport{noWait: true, skipLocked: true}

func (postgres) Name() string                           { return Postgres }
func (postgres) ParameterMarker(n int) string           { return "$" + strconv.Itoa(n) }
func (postgres) WriteLockString(t int) string           { return pgLocks.withTimeout(" for update", t) }
func (postgres) ReadLockString(t int) string            { return pgLocks.withTimeout(" for share", t) }
func (postgres) WriteRowLockStrategy() RowLockStrategy  { return RowLockTable }
func (postgres) ReadRowLockStrategy() RowLockStrategy   { return RowLockTable }
func (postgres) SupportsOuterJoinForUpdate() bool       { return false }
func (postgres) LockingClauseStyle() LockingClauseStyle { return ClauseTrailing }
func (postgres) TableHint(persist.LockMode, int) string { return "" }
func (postgres) SupportsInsertReturning() bool          { return true }

func (postgres) WriteLockStringFor(items string, t int) string {
	return pgLocks.withTimeout(" for update of "+items, t)
}

func (postgres) ReadLockStringFor(items string, t int) string {
	return pgLocks.withTimeout(" for share of "+items, t)
}

type mysql struct{}

var mysqlLocks = lockSupport{noWait: true, skipLocked: true}

func (mysql) Name() string                           { return MySQL }
func (mysql) ParameterMarker(int) string             { return "?" }
func (mysql) WriteLockString(t int) string           { return mysqlLocks.withTimeout(" for update", t) }
func (mysql) ReadLockString(t int) string            { return mysqlLocks.withTimeout(" for share", t) }
func (mysql) WriteRowLockStrategy() RowLockStrategy  { return RowLockTable }
func (mysql) ReadRowLockStrategy() RowLockStrategy   { return RowLockTable }
func (mysql) SupportsOuterJoinForUpdate() bool       { return true }
func (mysql) LockingClauseStyle() LockingClauseStyle { return ClauseTrailing }
func (mysql) TableHint(persist.LockMode, int) string { return "" }
func (mysql) SupportsInsertReturning() bool          { return false }

func (mysql) WriteLockStringFor(items string, t int) string {
	return mysqlLocks.withTimeout(" for update of "+items, t)
}

func (mysql) ReadLockStringFor(items string, t int) string {
	return mysqlLocks.withTimeout(" for share of "+items, t)
}

// oracle has no shared row lock, read locks are write locks.
type oracle struct{}

var oracleLocks = lockSupport{noWait: true, skipLocked: true, wait: true}

func (oracle) Name() string                           { return Oracle }
func (oracle) ParameterMarker(n int) string           { return ":" + strconv.Itoa(n) }
func (oracle) WriteLockString(t int) string           { return oracleLocks.withTimeout(" for update", t) }
func (o oracle) ReadLockString(t int) string          { return o.WriteLockString(t) }
func (oracle) WriteRowLockStrategy() RowLockStrategy  { return RowLockColumn }
func (oracle) ReadRowLockStrategy() RowLockStrategy   { return RowLockColumn }
func (oracle) SupportsOuterJoinForUpdate() bool       { return false }
func (oracle) LockingClauseStyle() LockingClauseStyle { return ClauseTrailing }
func (oracle) TableHint(persist.LockMode, int) string { return "" }
func (oracle) SupportsInsertReturning() bool          { return false }

func (oracle) WriteLockStringFor(items string, t int) string {
	return oracleLocks.withTimeout(" for update of "+items, t)
}

func (o oracle) ReadLockStringFor(items string, t int) string {
	return o.WriteLockStringFor(items, t)
}

// sqlServer locks through table hints, the trailing clause methods
// return "".
type sqlServer struct{}

func (sqlServer) Name() string                          { return SQLServer }
func (sqlServer) ParameterMarker(n int) string          { return "@p" + strconv.Itoa(n) }
func (sqlServer) WriteLockString(int) string            { return "" }
func (sqlServer) WriteLockStringFor(string, int) string { return "" }
func (sqlServer) ReadLockString(int) string             { return "" }
func (sqlServer) ReadLockStringFor(string, int) string  { return "" }
func (sqlServer) WriteRowLockStrategy() RowLockStrategy { return RowLockNone }
func (sqlServer) ReadRowLockStrategy() RowLockStrategy  { return RowLockNone }
func (sqlServer) SupportsOuterJoinForUpdate() bool      { return true }
func (sqlServer) LockingClauseStyle() LockingClauseStyle {
	return ClauseTableHint
}
func (sqlServer) SupportsInsertReturning() bool { return false }

func (sqlServer) TableHint(mode persist.LockMode, timeout int) string {
	var hints []string
	switch mode {
	case persist.LockPessimisticRead:
		hints = []string{"holdlock", "rowlock"}
	case persist.LockPessimisticWrite, persist.LockPessimisticForceIncrement, persist.LockUpgradeNoWait:
		hints = []string{"updlock", "rowlock"}
	case persist.LockUpgradeSkipLocked:
		hints = []string{"updlock", "rowlock", "readpast"}
	default:
		return ""
	}
	switch timeout {
	case persist.NoWait:
		hints = append(hints, "nowait")
	case persist.SkipLocked:
		if mode != persist.LockUpgradeSkipLocked {
			hints = append(hints, "readpast")
		}
	}
	return fmt.Sprintf(" with (%s)", strings.Join(hints, ","))
}

// sqlite serializes writers on the whole database and has no row locks.
type sqlite struct{}

func (sqlite) Name() string                           { return SQLite }
func (sqlite) ParameterMarker(int) string             { return "?" }
func (sqlite) WriteLockString(int) string             { return "" }
func (sqlite) WriteLockStringFor(string, int) string  { return "" }
func (sqlite) ReadLockString(int) string              { return "" }
func (sqlite) ReadLockStringFor(string, int) string   { return "" }
func (sqlite) WriteRowLockStrategy() RowLockStrategy  { return RowLockNone }
func (sqlite) ReadRowLockStrategy() RowLockStrategy   { return RowLockNone }
func (sqlite) SupportsOuterJoinForUpdate() bool       { return true }
func (sqlite) LockingClauseStyle() LockingClauseStyle { return ClauseUnsupported }
func (sqlite) TableHint(persist.LockMode, int) string { return "" }
func (sqlite) SupportsInsertReturning() bool          { return true }

var (
	_ Dialect = postgres{}
	_ Dialect = mysql{}
	_ Dialect = oracle{}
	_ Dialect = sqlServer{}
	_ Dialect = sqlite{}
)
