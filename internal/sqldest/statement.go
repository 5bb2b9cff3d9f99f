package sqldest

import "strings"

// RenderedValue is one column's already-rendered, already-quoted (or
// NULL) SQL literal, produced by Worker before BuildInsert assembles the
// statement text. Keeping rendering and assembly separate lets the
// assembly logic be tested without a live driver or template engine.
type RenderedValue struct {
	Name  string
	Value string
}

// BuildInsert renders "INSERT INTO {table} (col, ...) VALUES (val, ...)"
// from already-rendered column/value pairs. Column and value lists have
// equal cardinality by construction (the caller has already skipped
// DEFAULT_FLAG fields on both sides) and no trailing comma is ever
// emitted, matching afsql_dd_build_insert_command.
func BuildInsert(table string, values []RenderedValue) string {
	var cols, vals strings.Builder
	for i, v := range values {
		if i > 0 {
			cols.WriteString(", ")
			vals.WriteString(", ")
		}
		cols.WriteString(v.Name)
		vals.WriteString(v.Value)
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(cols.String())
	b.WriteString(") VALUES (")
	b.WriteString(vals.String())
	b.WriteString(")")
	return b.String()
}

// QuoteOrNull renders one field value: the literal NULL when value
// equals nullSentinel (and a sentinel is configured), otherwise the
// driver-quoted literal, falling back to '' when quoting fails — exactly
// afsql_dd_build_insert_command's per-value logic.
func QuoteOrNull(quote func(string) (string, bool), nullSentinel, value string) string {
	if nullSentinel != "" && value == nullSentinel {
		return "NULL"
	}
	if quoted, ok := quote(value); ok {
		return quoted
	}
	return "''"
}

// BuildCreateTable renders "CREATE TABLE {table} ({name1} {type1}, ...)"
// in declared field order.
func BuildCreateTable(table string, fields []FieldSpec) string {
	var cols strings.Builder
	for i, f := range fields {
		if i > 0 {
			cols.WriteString(", ")
		}
		cols.WriteString(f.Name)
		cols.WriteString(" ")
		cols.WriteString(f.SQLType)
	}
	return "CREATE TABLE " + table + " (" + cols.String() + ")"
}

// BuildAlterTableAddColumn renders "ALTER TABLE {table} ADD {name} {type}".
func BuildAlterTableAddColumn(table, name, sqlType string) string {
	return "ALTER TABLE " + table + " ADD " + name + " " + sqlType
}

// BuildCreateIndex renders "CREATE INDEX {indexName} ON {table} ({column})"
// using the dialect-appropriate index name (OracleIndexName for oracle,
// DefaultIndexName otherwise).
func BuildCreateIndex(d Dialect, table, column string) string {
	var name string
	if d.UsesLongIndexNameRule() {
		name = OracleIndexName(table, column)
	} else {
		name = DefaultIndexName(table, column)
	}
	return "CREATE INDEX " + name + " ON " + table + " (" + column + ")"
}

// BuildProbeQuery renders the silent existence probe used by the schema
// reconciler: "SELECT * FROM {table} WHERE 0=1".
func BuildProbeQuery(table string) string {
	return "SELECT * FROM " + table + " WHERE 0=1"
}
