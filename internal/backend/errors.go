package backend

import (
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/yanizio/adept-shell/internal/rpc"
)

// MySQL server error numbers that mean the request never reached a
// healthy server.
const (
	erConCount        = 1040 // too many connections
	erServerShutdown  = 1053
	erLockWaitTimeout = 1205
	erUnknownTable    = 1146
)

// tag converts a driver error into an *rpc.Error.
func tag(err error) error {
	if err == nil {
		return nil
	}

	var my *mysql.MySQLError
	if errors.As(err, &my) {
		switch my.Number {
		case erConCount, erServerShutdown, erLockWaitTimeout:
			return &rpc.Error{Kind: rpc.KindNetwork, Code: codeOf(my), Message: my.Message, Err: err}
		default:
			return &rpc.Error{Kind: rpc.KindUnknown, Code: codeOf(my), Message: my.Message, Err: err}
		}
	}
	return rpc.Wrap(rpc.Classify(err), err)
}

func codeOf(my *mysql.MySQLError) string {
	if my.SQLState != [5]byte{} {
		return string(my.SQLState[:])
	}
	return ""
}

// IsUnknownTable recognises MySQL/MariaDB error 1146 ("table does not
// exist"), which shows up before migrations have run.
func IsUnknownTable(err error) bool {
	var my *mysql.MySQLError
	return errors.As(err, &my) && my.Number == erUnknownTable
}
