package sqldest

import "strings"

// Dialect is the database-family tag controlling statement-shape
// variations: the literal that opens a transaction, whether the driver
// expects a numeric or string port option, and identifier-length quirks.
type Dialect string

const (
	DialectMySQL   Dialect = "mysql"
	DialectPgSQL   Dialect = "pgsql"
	DialectSQLite  Dialect = "sqlite"
	DialectOracle  Dialect = "oracle"
	DialectFreeTDS Dialect = "freetds"
	DialectDolt    Dialect = "dolt"
	DialectOther   Dialect = "other"
)

// NormalizeDialect rewrites the "mssql" alias to "freetds" the way
// afsql_dd_set_type does at configuration time, so every downstream
// component only ever sees "freetds". Every tag is lowercased;
// unrecognized tags otherwise pass through and fall into the "other"
// statement-shaping bucket.
func NormalizeDialect(driverKind string) Dialect {
	d := Dialect(strings.ToLower(driverKind))
	if d == "mssql" {
		return DialectFreeTDS
	}
	return d
}

// PortOptionIsNumeric reports whether the dialect's driver option for
// "port" must be set as a numeric value rather than a string. Only
// mysql does; every other dialect (including the unspecified
// freetds/mssql case, left to "string" per spec §9's open question)
// takes the port as a string.
func (d Dialect) PortOptionIsNumeric() bool {
	return d == DialectMySQL
}

// BeginLiteral returns the SQL text that opens a transaction for this
// dialect, and ok=false when no literal should be sent at all (oracle,
// where a transaction is implicitly open after every COMMIT).
func (d Dialect) BeginLiteral() (stmt string, ok bool) {
	switch d {
	case DialectOracle:
		return "", false
	case DialectFreeTDS:
		return "BEGIN TRANSACTION", true
	default:
		return "BEGIN", true
	}
}

// UsesLongIndexNameRule reports whether index names must be derived
// with OracleIndexName rather than DefaultIndexName.
func (d Dialect) UsesLongIndexNameRule() bool {
	return d == DialectOracle
}
