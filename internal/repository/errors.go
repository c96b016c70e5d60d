// Package repository holds the persistence contracts of the reservation
// core together with their MySQL and in-memory implementations.  The
// sentinel values below let the service layer tell storage outcomes
// apart without depending on a particular driver.
package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a raffle, cart or order does not exist.
var ErrNotFound = errors.New("not found")

// ErrActiveCartExists is returned by CreateCart when the user already owns
// an ACTIVE cart.  The unique index on carts.active_user_id raises it under
// a creation race; callers retry and pick up the winner's cart.
var ErrActiveCartExists = errors.New("user already has an active cart")

// ErrRetryable marks transient failures (deadlocks, lock wait timeouts)
// after which the whole transaction can be run again.
var ErrRetryable = errors.New("retryable storage failure")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.  Handlers translate it into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a state transition lost a race against a
// concurrent writer.  Handlers translate it into HTTP 409.
var ErrConflict = errors.New("conflict")

// MySQL server error numbers the store reacts to.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// classify maps driver errors onto the package sentinels.  Errors that do
// not come from the MySQL server are returned unchanged.
func classify(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case mysqlDeadlock, mysqlLockWaitTimeout:
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	return err
}

// isDuplicate reports whether err is a unique key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
