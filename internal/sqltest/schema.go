// Package sqltest holds sqlmock expectations shared by the SQL backend tests.
package sqltest

import (
	"regexp"

	"github.com/DATA-DOG/go-sqlmock"
)

// ExpectSchema expects the pragmas to run on their own, followed by the
// schema statements inside one transaction.
func ExpectSchema(mock sqlmock.Sqlmock, pragmas, schema []string) {
	for _, stmt := range pragmas {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectBegin()
	for _, stmt := range schema {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()
}
