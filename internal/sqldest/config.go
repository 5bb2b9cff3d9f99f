package sqldest

import (
	"fmt"
	"log/slog"
)

// FieldSpec describes one column of the destination table: its SQL
// name/type and either a value template or the DEFAULT_FLAG sentinel
// that excludes it from both the column list and the values list,
// letting the database supply its own default.
type FieldSpec struct {
	Name          string
	SQLType       string
	ValueTemplate string
	IsDefault     bool
}

// Endpoint is the connection target for a destination: host/port/user/
// password/database/encoding, matching the driver option set
// afsql_dd_ensure_initialized_connection sends to libdbi.
type Endpoint struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Encoding string
}

// ValidatePort reports whether port consists solely of ASCII digits,
// mirroring afsql_dd_check_port exactly: an empty string is not
// validated here, callers decide what an empty port means.
func ValidatePort(port string) bool {
	for i := 0; i < len(port); i++ {
		if port[i] < '0' || port[i] > '9' {
			return false
		}
	}
	return true
}

// Flags are the boolean destination options recognized via
// ParseFlags/afsql_dd_lookup_flag.
type Flags struct {
	ExplicitCommits  bool
	DontCreateTables bool
}

// ParseFlags resolves a list of flag names into Flags, warning and
// ignoring anything unrecognized rather than failing — the same
// warn-and-ignore forward-compatibility policy as
// afsql_dd_lookup_flag's default branch.
func ParseFlags(logger *slog.Logger, names []string) Flags {
	var f Flags
	for _, name := range names {
		switch name {
		case "explicit-commits", "explicit_commits":
			f.ExplicitCommits = true
		case "dont-create-tables", "dont_create_tables":
			f.DontCreateTables = true
		default:
			if logger != nil {
				logger.Warn("unknown SQL destination flag", slog.String("flag", name))
			}
		}
	}
	return f
}

// Config is the immutable-after-initialization destination
// configuration: data model §3 of the specification.
type Config struct {
	DriverKind        string
	Endpoint          Endpoint
	TableTemplate     string
	Fields            []FieldSpec
	Indexes           []string
	NullSentinel      string
	Flags             Flags
	FlushLines        int
	NumRetries        int
	TimeReopen        int
	SessionStatements []string
}

// Dialect returns the normalized dialect tag for this config, rewriting
// the "mssql" alias the way afsql_dd_set_type does.
func (c Config) Dialect() Dialect {
	return NormalizeDialect(c.DriverKind)
}

// IndexingEnabled reports whether indexes is non-empty: an empty index
// set means indexing is disabled entirely, matching
// afsql_dd_set_indexes's enable_indexes bookkeeping.
func (c Config) IndexingEnabled() bool {
	return len(c.Indexes) > 0
}

// Validate checks the initialization-fatal conditions from §7's
// taxonomy: a valid column name per field, and (implicitly, by
// construction) an equal column/value count since FieldSpec pairs them.
// Returns the first violation found.
func (c Config) Validate() error {
	if len(c.Fields) == 0 {
		return fmt.Errorf("sqldest: no fields declared for destination")
	}
	for _, f := range c.Fields {
		if _, ok := CheckIdentifier(f.Name, false); !ok {
			return fmt.Errorf("sqldest: column name %q is not a valid SQL identifier", f.Name)
		}
	}
	if c.NumRetries < 1 {
		return fmt.Errorf("sqldest: num_retries must be >= 1, got %d", c.NumRetries)
	}
	return nil
}

// InitialFlushCounter returns the flush_counter a fresh worker starts
// with: -1 when transactions are permanently disabled (flush_lines ==
// -1), 0 otherwise — the invariant
// "flush_lines == -1 ⇔ flush_counter == -1" from §3.
func (c Config) InitialFlushCounter() int {
	if c.FlushLines == -1 {
		return -1
	}
	return 0
}

// PersistKey derives the stable key used to look up persisted queue and
// sequence-number state: (driver_kind, host, port, database,
// table_template), per §6.
func (c Config) PersistKey() PersistKeyParts {
	return PersistKeyParts{
		Dialect:       string(c.Dialect()),
		Host:          c.Endpoint.Host,
		Port:          c.Endpoint.Port,
		Database:      c.Endpoint.Database,
		TableTemplate: c.TableTemplate,
	}
}
