package db

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// MySQL のエラー番号
const (
	ErrNumDuplicateKey    = 1062
	ErrNumLockWaitTimeout = 1205
	ErrNumDeadlock        = 1213
	ErrNumForeignKey      = 1452
)

// ErrWriteConflict は同時更新の競合。リトライで解消できる
var ErrWriteConflict = errors.New("write conflict")

func mysqlNumber(err error) (uint16, bool) {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number, true
	}
	return 0, false
}

func IsDuplicateKey(err error) bool {
	n, ok := mysqlNumber(err)
	return ok && n == ErrNumDuplicateKey
}

func IsForeignKey(err error) bool {
	n, ok := mysqlNumber(err)
	return ok && n == ErrNumForeignKey
}

func IsWriteConflict(err error) bool {
	if errors.Is(err, ErrWriteConflict) {
		return true
	}
	n, ok := mysqlNumber(err)
	return ok && (n == ErrNumDeadlock || n == ErrNumLockWaitTimeout)
}

func classify(err error) error {
	if err == nil || errors.Is(err, ErrWriteConflict) {
		return err
	}
	if IsWriteConflict(err) {
		return fmt.Errorf("%w: %v", ErrWriteConflict, err)
	}
	return err
}
