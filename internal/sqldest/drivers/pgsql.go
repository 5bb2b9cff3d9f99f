package drivers

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nxsql/sqldest/internal/sqldest"
)

func init() {
	Register("pgsql", func() sqldest.Driver {
		return &sqlDriver{
			dialect:    sqldest.DialectPgSQL,
			driverName: "pgx",
			buildDSN:   pgsqlDSN,
			quoteValue: quoteWithDoubledChar,
		}
	})
}

// pgsqlDSN ignores opts.AutoCommit: a postgres session is already
// per-statement-autocommit until the app issues an explicit BEGIN, so
// there is no connect-time option to set either way.
func pgsqlDSN(opts sqldest.ConnectOptions) string {
	host := opts.Endpoint.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Endpoint.Port
	if port == "" {
		port = "5432"
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=prefer",
		host, port, opts.Endpoint.User, opts.Endpoint.Database)
	if opts.Endpoint.Password != "" {
		dsn += fmt.Sprintf(" password=%s", opts.Endpoint.Password)
	}
	if opts.Endpoint.Encoding != "" {
		dsn += fmt.Sprintf(" client_encoding=%s", opts.Endpoint.Encoding)
	}
	return dsn
}
