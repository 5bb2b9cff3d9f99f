package sqldest

import (
	"context"
	"database/sql"
)

// ConnectOptions carries the driver option set
// afsql_dd_ensure_initialized_connection sends to libdbi: endpoint plus
// whether auto-commit should be left on (it is, unless explicit_commits
// is set).
type ConnectOptions struct {
	Endpoint   Endpoint
	AutoCommit bool
}

// Driver is the plugin-layer contract §9's design notes call for:
// connect, query, quote, ping, close, plus a dialect tag for statement
// shaping. It replaces afsql's runtime-loaded libdbi driver table
// without changing behavior — one concrete Driver per supported
// database family, registered in drivers.Registry.
type Driver interface {
	// Dialect reports the statement-shaping dialect tag this driver
	// backs (it may differ from the registry lookup key, e.g. "dolt"
	// shapes statements as "other").
	Dialect() Dialect

	// Connect dials the database and leaves the connection ready for
	// queries. Calling Connect on an already-connected Driver is
	// undefined; Conn never does so (§4.3's ensure_connected checks
	// first).
	Connect(ctx context.Context, opts ConnectOptions) error

	// Exec runs a statement that returns no rows (DDL, BEGIN/COMMIT/
	// ROLLBACK, INSERT).
	Exec(ctx context.Context, stmt string) error

	// Query runs a statement that returns rows, used only for the
	// schema-probe SELECT.
	Query(ctx context.Context, stmt string) (*sql.Rows, error)

	// Quote returns a driver-quoted SQL string literal. ok=false
	// signals quoting failed, in which case the caller substitutes ''
	// per §4.2.
	Quote(value string) (quoted string, ok bool)

	// Ping is a liveness probe used only after a query failure, to
	// discriminate a dead connection from a row-level error (§4.3).
	Ping(ctx context.Context) bool

	// Close releases the connection. Idempotent.
	Close() error
}

// HasColumn reports whether rows' result set contains a column named
// name, the Go equivalent of afsql's
// "dbi_result_get_field_idx(db_res, name) == 0" absence check.
func HasColumn(rows *sql.Rows, name string) bool {
	cols, err := rows.Columns()
	if err != nil {
		return false
	}
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}
