//go:build cgo

package drivers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	embedded "github.com/dolthub/driver"

	"github.com/nxsql/sqldest/internal/sqldest"
)

func init() {
	// dolt is not one of the five driver_kind values the specification
	// names; it rides the "other" dialect bucket (generic BEGIN, string
	// port, no long-index-name rule) the same way afsql's unknown-driver
	// fallback would, while still getting its own database/sql backend.
	Register("dolt", func() sqldest.Driver {
		return &doltDriver{}
	})
}

// doltDriver wraps the embedded Dolt engine. Unlike the other dialects,
// the embedded driver is opened through a parsed Config and a Connector
// rather than a plain sql.Open(name, dsn) call, so it gets its own
// Driver implementation instead of reusing sqlDriver.
type doltDriver struct {
	db *sql.DB
}

func (d *doltDriver) Dialect() sqldest.Dialect { return sqldest.DialectOther }

// Connect builds an embedded-Dolt DSN from the endpoint: host carries the
// on-disk repository directory (an absolute path, per the embedded
// driver's own working-directory caveat), database names the Dolt
// database within it. User doubles as the commit author name and
// password as the commit author email, the closest fit the endpoint's
// generic fields have for Dolt's two mandatory commit identity params.
func (d *doltDriver) Connect(ctx context.Context, opts sqldest.ConnectOptions) error {
	dsn := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s",
		opts.Endpoint.Host, opts.Endpoint.User, opts.Endpoint.Password, opts.Endpoint.Database)

	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("sqldest: parsing dolt DSN: %w", err)
	}
	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("sqldest: opening dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	// Dolt's embedded engine is single-writer regardless of pool size.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return fmt.Errorf("sqldest: connecting to dolt: %w", err)
	}
	d.db = db
	return nil
}

func (d *doltDriver) Exec(ctx context.Context, stmt string) error {
	_, err := d.db.ExecContext(ctx, stmt)
	return err
}

func (d *doltDriver) Query(ctx context.Context, stmt string) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, stmt)
}

func (d *doltDriver) Quote(value string) (string, bool) {
	return quoteWithDoubledChar(value)
}

func (d *doltDriver) Ping(ctx context.Context) bool {
	if d.db == nil {
		return false
	}
	return d.db.PingContext(ctx) == nil
}

func (d *doltDriver) Close() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}
