// Package repository implements the MySQL persistence layer.  Transactional
// circulation work goes through Store; the remaining repositories serve the
// catalog, membership and auth endpoints.  Driver errors are translated into
// the sentinel values below or into the circulation taxonomy so higher layers
// can use errors.Is without knowing about MySQL.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/library-circulation/internal/circulation"
)

// ErrDuplicate is returned when an insert collides with a unique key such as
// a book ISBN or a membership number.  Handlers translate it into HTTP 409.
var ErrDuplicate = errors.New("duplicate entry")

// ErrEmailExists is returned when registering an email that is already taken.
var ErrEmailExists = errors.New("email already exists")

// ErrInvalidToken is returned for unknown, expired or revoked refresh tokens.
var ErrInvalidToken = errors.New("invalid refresh token")

// MySQL server error numbers the repositories react to.
const (
	mysqlDupEntry        = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlNoReferencedRow = 1452
)

// translate maps driver errors onto sentinel errors.  dup is the error a
// unique key violation should become for the calling repository.
func translate(err, dup error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return circulation.ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDeadlock, mysqlLockWaitTimeout:
			return circulation.ErrConflict
		case mysqlDupEntry:
			if dup != nil {
				return dup
			}
			return ErrDuplicate
		case mysqlNoReferencedRow:
			return circulation.ErrNotFound
		}
	}
	return err
}
