package sql

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/syssam/persist"
)

// MySQL error numbers.
const (
	mysqlLockWaitTimeout   = 1205
	mysqlDeadlock          = 1213
	mysqlLockNoWait        = 3572
	mysqlQueryInterrupted  = 3024
	mysqlQueryInterrupted2 = 1317
	mysqlDuplicateEntry    = 1062
	mysqlRowIsReferenced   = 1451
	mysqlNoReferencedRow   = 1452
	mysqlCheckViolated     = 3819
)

// Postgres SQLSTATE codes.
const (
	pqLockNotAvailable = "55P03"
	pqDeadlock         = "40P01"
	pqQueryCanceled    = "57014"
	pqUniqueViolation  = "23505"
	pqForeignKey       = "23503"
	pqCheckViolation   = "23514"
)

// The sqlite driver reports constraint failures in the message only.
var sqliteConstraints = []struct {
	text string
	kind persist.ConstraintKind
}{
	{"UNIQUE constraint failed", persist.ConstraintUnique},
	{"PRIMARY KEY constraint failed", persist.ConstraintUnique},
	{"FOREIGN KEY constraint failed", persist.ConstraintForeignKey},
	{"CHECK constraint failed", persist.ConstraintCheck},
}

// ClassifyError maps lock failures, statement timeouts and constraint
// violations reported by the MySQL, Postgres and SQLite drivers to
// *persist.PessimisticLockError, *persist.QueryTimeoutError and
// *persist.ConstraintViolationError. Other errors are returned unchanged.
func ClassifyError(query string, err error) error {
	if err == nil {
		return nil
	}
	var (
		myErr *mysql.MySQLError
		pqErr *pq.Error
	)
	switch {
	case errors.As(err, &myErr):
		switch myErr.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock, mysqlLockNoWait:
			return &persist.PessimisticLockError{SQL: query, Err: err}
		case mysqlQueryInterrupted, mysqlQueryInterrupted2:
			return &persist.QueryTimeoutError{SQL: query, Err: err}
		case mysqlDuplicateEntry:
			return &persist.ConstraintViolationError{Kind: persist.ConstraintUnique, SQL: query, Err: err}
		case mysqlRowIsReferenced, mysqlNoReferencedRow:
			return &persist.ConstraintViolationError{Kind: persist.ConstraintForeignKey, SQL: query, Err: err}
		case mysqlCheckViolated:
			return &persist.ConstraintViolationError{Kind: persist.ConstraintCheck, SQL: query, Err: err}
		}
	case errors.As(err, &pqErr):
		switch pqErr.Code {
		case pqLockNotAvailable, pqDeadlock:
			return &persist.PessimisticLockError{SQL: query, Err: err}
		case pqQueryCanceled:
			return &persist.QueryTimeoutError{SQL: query, Err: err}
		case pqUniqueViolation:
			return &persist.ConstraintViolationError{Kind: persist.ConstraintUnique, SQL: query, Err: err}
		case pqForeignKey:
			return &persist.ConstraintViolationError{Kind: persist.ConstraintForeignKey, SQL: query, Err: err}
		case pqCheckViolation:
			return &persist.ConstraintViolationError{Kind: persist.ConstraintCheck, SQL: query, Err: err}
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &persist.QueryTimeoutError{SQL: query, Err: err}
	default:
		msg := err.Error()
		for _, c := range sqliteConstraints {
			if strings.Contains(msg, c.text) {
				return &persist.ConstraintViolationError{Kind: c.kind, SQL: query, Err: err}
			}
		}
		switch {
		case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
			return &persist.PessimisticLockError{SQL: query, Err: err}
		case strings.Contains(msg, "interrupted"), strings.Contains(msg, "SQLITE_INTERRUPT"):
			return &persist.QueryTimeoutError{SQL: query, Err: err}
		}
	}
	return err
}
