package drivers

import (
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/nxsql/sqldest/internal/sqldest"
)

func init() {
	// afsql_dd_set_type rewrites the "mssql" config-time alias to
	// "freetds" before the dialect ever reaches the driver table;
	// NormalizeDialect replays that rewrite, so this registers under
	// the post-rewrite name.
	Register("freetds", func() sqldest.Driver {
		return &sqlDriver{
			dialect:    sqldest.DialectFreeTDS,
			driverName: "sqlserver",
			buildDSN:   mssqlDSN,
			quoteValue: quoteWithDoubledChar,
		}
	})
}

// mssqlDSN ignores opts.AutoCommit: SQL Server sessions are autocommit
// by default, switching only on an explicit "SET IMPLICIT_TRANSACTIONS
// ON" or a BEGIN TRANSACTION, which the worker already issues itself
// per Dialect.BeginLiteral.
func mssqlDSN(opts sqldest.ConnectOptions) string {
	host := opts.Endpoint.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Endpoint.Port
	if port == "" {
		port = "1433"
	}
	dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%s?database=%s",
		opts.Endpoint.User, opts.Endpoint.Password, host, port, opts.Endpoint.Database)
	return dsn
}
