package database

import "database/sql"

// Queryable is the common seam between *sqlx.DB and *sqlx.Tx which the
// stores in this codebase accept. It allows a store method to run either
// standalone or as part of a larger transaction without caring which.
type Queryable interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	NamedExec(query string, arg interface{}) (sql.Result, error)
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	Rebind(query string) string
}
