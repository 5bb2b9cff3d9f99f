package sqldest

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaReconciler implements §4.4: on first contact with a table,
// probe, create, or diff-and-alter as needed, then cache the table as
// validated for the lifetime of the current connection.
type SchemaReconciler struct {
	cfg       Config
	conn      *Conn
	validated map[string]bool
}

func NewSchemaReconciler(cfg Config, conn *Conn) *SchemaReconciler {
	return &SchemaReconciler{cfg: cfg, conn: conn, validated: make(map[string]bool)}
}

// Reset clears the validated-tables cache. Called on every disconnect:
// §3's invariant is that validated_tables entries are only meaningful
// while conn is open.
func (r *SchemaReconciler) Reset() {
	r.validated = make(map[string]bool)
}

// EnsureTable reconciles rawTable's schema against cfg.Fields/Indexes,
// beginning and committing/bracketing whatever transactions the probe,
// CREATE, or ALTER statements require, per §4.4's "new transaction
// required" rule: DDL never shares a transaction with prior DML.
// beginNewTxn is supplied by the worker so this package
// doesn't need to know the worker's transaction bookkeeping.
func (r *SchemaReconciler) EnsureTable(
	ctx context.Context,
	rawTable string,
	beginNewTxn func(ctx context.Context) error,
) (table string, err error) {
	if r.cfg.Flags.DontCreateTables {
		return rawTable, nil
	}

	sanitized, _ := CheckIdentifier(rawTable, true)

	if r.validated[sanitized] {
		return sanitized, nil
	}

	if err := beginNewTxn(ctx); err != nil {
		return "", fmt.Errorf("sqldest: starting transaction for querying table %q: %w", sanitized, err)
	}

	rows, probeErr := r.conn.Query(ctx, BuildProbeQuery(sanitized))
	if probeErr == nil {
		defer rows.Close()
		if err := r.alterMissingColumns(ctx, sanitized, rows, beginNewTxn); err != nil {
			return "", err
		}
	} else {
		if err := r.createTable(ctx, sanitized, beginNewTxn); err != nil {
			return "", err
		}
	}

	r.validated[sanitized] = true
	return sanitized, nil
}

func (r *SchemaReconciler) alterMissingColumns(
	ctx context.Context,
	table string,
	probe *sql.Rows,
	beginNewTxn func(ctx context.Context) error,
) error {
	indexSet := make(map[string]bool, len(r.cfg.Indexes))
	for _, name := range r.cfg.Indexes {
		indexSet[name] = true
	}

	var missing []FieldSpec
	for _, f := range r.cfg.Fields {
		if !HasColumn(probe, f.Name) {
			missing = append(missing, f)
		}
	}
	// The open probe result holds the destination's single connection;
	// release it before any ALTER runs on that same connection.
	probe.Close()

	newTxnStarted := false
	for _, f := range missing {
		if !newTxnStarted {
			if err := beginNewTxn(ctx); err != nil {
				return fmt.Errorf("sqldest: starting transaction for altering table %q: %w", table, err)
			}
			newTxnStarted = true
		}
		if err := r.conn.Run(ctx, BuildAlterTableAddColumn(table, f.Name, f.SQLType), false); err != nil {
			return fmt.Errorf("sqldest: adding missing column %q to %q: %w", f.Name, table, err)
		}
		if r.cfg.IndexingEnabled() && indexSet[f.Name] {
			_ = r.conn.Run(ctx, BuildCreateIndex(r.cfg.Dialect(), table, f.Name), false)
		}
	}
	return nil
}

func (r *SchemaReconciler) createTable(
	ctx context.Context,
	table string,
	beginNewTxn func(ctx context.Context) error,
) error {
	if err := beginNewTxn(ctx); err != nil {
		return fmt.Errorf("sqldest: starting transaction for creating table %q: %w", table, err)
	}
	if err := r.conn.Run(ctx, BuildCreateTable(table, r.cfg.Fields), false); err != nil {
		return fmt.Errorf("sqldest: creating table %q: %w", table, err)
	}
	if r.cfg.IndexingEnabled() {
		for _, col := range r.cfg.Indexes {
			_ = r.conn.Run(ctx, BuildCreateIndex(r.cfg.Dialect(), table, col), false)
		}
	}
	return nil
}
