package nestedtx

import "strconv"

// SavepointName returns the savepoint identifier of the scope pushed at depth.
func SavepointName(depth int) string {
	return "savepoint_" + strconv.Itoa(depth)
}

// Dialect renders the savepoint statements of a database.
type Dialect interface {
	Savepoint(name string) string
	// Release returns an empty string when the database has no release statement.
	Release(name string) string
	RollbackTo(name string) string
}

var (
	// Savepoints is compatible with PostgreSQL, MySQL, MariaDB, and SQLite.
	Savepoints Dialect = savepointsDialect{}
	// MSSQL uses Microsoft SQL Server savepoints, which are never released.
	MSSQL Dialect = mssqlDialect{}
	// Oracle uses Oracle savepoints, which are never released.
	Oracle Dialect = oracleDialect{}
)

type savepointsDialect struct{}

func (savepointsDialect) Savepoint(name string) string  { return "SAVEPOINT " + name }
func (savepointsDialect) Release(name string) string    { return "RELEASE SAVEPOINT " + name }
func (savepointsDialect) RollbackTo(name string) string { return "ROLLBACK TO SAVEPOINT " + name }

type mssqlDialect struct{}

func (mssqlDialect) Savepoint(name string) string  { return "SAVE TRANSACTION " + name }
func (mssqlDialect) Release(string) string         { return "" }
func (mssqlDialect) RollbackTo(name string) string { return "ROLLBACK TRANSACTION " + name }

type oracleDialect struct{}

func (oracleDialect) Savepoint(name string) string  { return "SAVEPOINT " + name }
func (oracleDialect) Release(string) string         { return "" }
func (oracleDialect) RollbackTo(name string) string { return "ROLLBACK TO SAVEPOINT " + name }
