package resolver

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var errAccessDenied = errors.New("access denied")

const (
	mysqlErrDBAccessDenied     = 1044 // Access denied for user to database
	mysqlErrTableAccessDenied  = 1142 // Command denied to user for table
	mysqlErrColumnAccessDenied = 1143 // Command denied to user for column
)

// normalizeQueryError hides MySQL privilege errors behind errAccessDenied so
// grants are not leaked to clients.
func normalizeQueryError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDBAccessDenied, mysqlErrTableAccessDenied, mysqlErrColumnAccessDenied:
			return errAccessDenied
		}
	}
	return err
}

// mutationError carries a machine-readable code in the GraphQL error
// extensions.
type mutationError struct {
	message string
	code    string
	number  uint16
}

func (e *mutationError) Error() string { return e.message }

// Extensions implements gqlerrors.ExtendedError.
func (e *mutationError) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": e.code}
	if e.number != 0 {
		ext["mysql_code"] = e.number
	}
	return ext
}

func newMutationError(message, code string, number uint16) error {
	return &mutationError{message: message, code: code, number: number}
}

func normalizeMutationError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return err
	}

	switch mysqlErr.Number {
	case mysqlErrDBAccessDenied, mysqlErrTableAccessDenied, mysqlErrColumnAccessDenied:
		return newMutationError(mysqlErr.Message, "access_denied", mysqlErr.Number)
	case 1062:
		return newMutationError(mysqlErr.Message, "unique_violation", mysqlErr.Number)
	case 1451, 1452:
		return newMutationError(mysqlErr.Message, "foreign_key_violation", mysqlErr.Number)
	case 1048, 1364:
		return newMutationError(mysqlErr.Message, "not_null_violation", mysqlErr.Number)
	default:
		return err
	}
}
