package db

import (
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"
)

func constraintCode(err error) (sqlite3.ErrNoExtended, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return 0, false
	}
	return sqliteErr.ExtendedCode, true
}

// IsUniqueConstraintError reports a duplicate email or payment event ID.
func IsUniqueConstraintError(err error) bool {
	code, ok := constraintCode(err)
	return ok && (code == sqlite3.ErrConstraintUnique || code == sqlite3.ErrConstraintPrimaryKey)
}

// IsCheckConstraintError reports a write that would have left credits negative.
func IsCheckConstraintError(err error) bool {
	code, ok := constraintCode(err)
	return ok && code == sqlite3.ErrConstraintCheck
}
