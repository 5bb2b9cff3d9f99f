package drivers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/nxsql/sqldest/internal/sqldest"
)

func init() {
	Register("mysql", func() sqldest.Driver {
		return &sqlDriver{
			dialect:    sqldest.DialectMySQL,
			driverName: "mysql",
			buildDSN:   mysqlDSN,
			quoteValue: mysqlQuote,
		}
	})
}

// mysqlDSN builds a go-sql-driver/mysql DSN. MySQL is the one dialect
// afsql_dd_ensure_initialized_connection sends the port to libdbi as a
// numeric option rather than a string; database/sql DSNs carry the port
// as host:port text regardless, so the numeric-vs-string distinction
// has no effect here; Dialect.PortOptionIsNumeric records it, but the
// DSN builder does not consult it.
//
// autocommit is passed as a session variable (go-sql-driver/mysql sends
// any unrecognized DSN parameter as "SET <name>=<value>" right after
// connecting), the database/sql equivalent of
// dbi_conn_set_option(self->dbi_ctx, "auto-commit", ...).
func mysqlDSN(opts sqldest.ConnectOptions) string {
	cfg := mysql.NewConfig()
	cfg.User = opts.Endpoint.User
	cfg.Passwd = opts.Endpoint.Password
	cfg.DBName = opts.Endpoint.Database
	cfg.Net = "tcp"
	host := opts.Endpoint.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Endpoint.Port
	if port == "" {
		port = "3306"
	}
	cfg.Addr = fmt.Sprintf("%s:%s", host, port)
	cfg.Params = map[string]string{"autocommit": strconv.FormatBool(opts.AutoCommit)}
	if opts.Endpoint.Encoding != "" {
		cfg.Params["charset"] = opts.Endpoint.Encoding
	}
	return cfg.FormatDSN()
}

// mysqlQuote escapes a literal the way the mysql driver's own text
// protocol would, instead of the generic SQL-92 doubled-quote rule:
// backslash is also a mysql escape character by default (NO_BACKSLASH_ESCAPES
// off), so a bare doubled-quote would leave embedded backslashes unescaped.
func mysqlQuote(s string) (string, bool) {
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'', '\\':
			b.WriteByte('\\')
			b.WriteByte(s[i])
		default:
			b.WriteByte(s[i])
		}
	}
	b.WriteByte('\'')
	return b.String(), true
}
