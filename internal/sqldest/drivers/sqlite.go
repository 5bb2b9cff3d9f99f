package drivers

import (
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nxsql/sqldest/internal/sqldest"
)

func init() {
	Register("sqlite", func() sqldest.Driver {
		return &sqlDriver{
			dialect:    sqldest.DialectSQLite,
			driverName: "sqlite",
			buildDSN:   sqliteDSN,
			quoteValue: quoteWithDoubledChar,
		}
	})
}

// sqliteDSN joins host and database into a filesystem path, the Go
// equivalent of afsql_dd_ensure_initialized_connection's sqlite_dbdir
// option: libdbi's sqlite driver took a bare filename plus a directory
// option, we just build the path ourselves since database/sql's sqlite
// drivers take a single file path DSN.
// sqliteDSN ignores opts.AutoCommit for the same reason pgsqlDSN does:
// sqlite is already autocommit between statements unless the app opens
// an explicit transaction.
func sqliteDSN(opts sqldest.ConnectOptions) string {
	dir := opts.Endpoint.Host
	file := opts.Endpoint.Database
	if dir == "" {
		return file
	}
	return fmt.Sprintf("file:%s", filepath.Join(dir, file))
}
