package sqldest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// fakeDriver backs sqldest.Driver with a real in-memory sqlite database
// so schema probes and INSERTs exercise genuine *sql.Rows, while still
// letting a test inject a forced failure on the next Exec/Query call
// and flip liveness for the ping-discriminated failure paths §4.5
// describes. One fakeDriver instance is one "connection".
type fakeDriver struct {
	mu        sync.Mutex
	db        *sql.DB
	connected bool
	alive     bool
	dialect   Dialect

	execHook  func(stmt string) error // non-nil error short-circuits the real Exec
	queryHook func(stmt string) error // non-nil error short-circuits the real Query

	execLog []string
}

func newFakeDriver(dialect Dialect) *fakeDriver {
	return &fakeDriver{dialect: dialect, alive: true}
}

func (d *fakeDriver) Dialect() Dialect { return d.dialect }

func (d *fakeDriver) Connect(ctx context.Context, opts ConnectOptions) error {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	d.db = db
	d.connected = true
	d.alive = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Exec(ctx context.Context, stmt string) error {
	d.mu.Lock()
	d.execLog = append(d.execLog, stmt)
	hook := d.execHook
	d.execHook = nil
	db := d.db
	d.mu.Unlock()

	if hook != nil {
		if err := hook(stmt); err != nil {
			return err
		}
	}
	if db == nil {
		return fmt.Errorf("fakedriver: not connected")
	}
	_, err := db.ExecContext(ctx, stmt)
	return err
}

func (d *fakeDriver) Query(ctx context.Context, stmt string) (*sql.Rows, error) {
	d.mu.Lock()
	hook := d.queryHook
	d.queryHook = nil
	db := d.db
	d.mu.Unlock()

	if hook != nil {
		if err := hook(stmt); err != nil {
			return nil, err
		}
	}
	if db == nil {
		return nil, fmt.Errorf("fakedriver: not connected")
	}
	return db.QueryContext(ctx, stmt)
}

func (d *fakeDriver) Quote(value string) (string, bool) {
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(value); i++ {
		if value[i] == '\'' {
			b.WriteByte('\'')
		}
		b.WriteByte(value[i])
	}
	b.WriteByte('\'')
	return b.String(), true
}

func (d *fakeDriver) Ping(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected && d.alive
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	db := d.db
	d.db = nil
	d.connected = false
	d.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

// setAlive flips what Ping reports, simulating a dead connection
// without tearing down the underlying sqlite handle.
func (d *fakeDriver) setAlive(alive bool) {
	d.mu.Lock()
	d.alive = alive
	d.mu.Unlock()
}

// failNextExec arranges for the next Exec call to return err instead of
// touching the database.
func (d *fakeDriver) failNextExec(err error) {
	d.mu.Lock()
	d.execHook = func(string) error { return err }
	d.mu.Unlock()
}

// onNextExec installs a one-shot hook invoked with the statement text
// before it runs; returning a non-nil error suppresses the real Exec.
func (d *fakeDriver) onNextExec(hook func(stmt string) error) {
	d.mu.Lock()
	d.execHook = hook
	d.mu.Unlock()
}

func (d *fakeDriver) statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.execLog))
	copy(out, d.execLog)
	return out
}

// resetLog discards everything recorded so far, used after a test's
// own setup statements (e.g. pre-creating a table) so later assertions
// only see the statements the code under test actually issued.
func (d *fakeDriver) resetLog() {
	d.mu.Lock()
	d.execLog = nil
	d.mu.Unlock()
}
