package sqldest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const connectRetryMaxElapsed = 30 * time.Second

func newConnectBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectRetryMaxElapsed
	return bo
}

// isRetryableError reports whether err looks like a transient
// connection problem worth retrying rather than a permanent one.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, substr := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"lost connection",
		"gone away",
		"i/o timeout",
		"eof",
	} {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

var connMetrics struct {
	retryCount metric.Int64Counter
}

func init() {
	connMetrics.retryCount, _ = meter.Int64Counter("sqldest.conn.retry_count",
		metric.WithDescription("Connect attempts retried due to transient errors"),
		metric.WithUnit("{retry}"),
	)
}

// Conn wraps a Driver with the connection-manager operations §4.3
// specifies: ensure_connected, disconnect, ping, run. It owns nothing
// about transactions or schema; the worker and schema reconciler call
// through it.
type Conn struct {
	driver    Driver
	log       *slog.Logger
	cfg       Config
	connected bool
}

// NewConn builds a Conn around an unconnected driver. The driver is not
// dialed until EnsureConnected is called.
func NewConn(driver Driver, cfg Config, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	return &Conn{driver: driver, cfg: cfg, log: log}
}

// Connected reports whether EnsureConnected has succeeded since the last
// Disconnect. It does not probe the connection's liveness; Ping does.
func (c *Conn) Connected() bool {
	return c.connected
}

// EnsureConnected dials the driver if not already connected and runs
// session_statements in order, matching
// afsql_dd_ensure_initialized_connection. A session-statement failure
// is fatal: the connection is closed again and fail is returned.
func (c *Conn) EnsureConnected(ctx context.Context) error {
	if c.connected {
		return nil
	}
	ctx, span := tracer.Start(ctx, "sqldest.ensure_connected",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", string(c.cfg.Dialect())),
			attribute.String("db.name", c.cfg.Endpoint.Database),
		),
	)
	defer func() { endSpan(span, nil) }()

	opts := ConnectOptions{
		Endpoint:   c.cfg.Endpoint,
		AutoCommit: !c.cfg.Flags.ExplicitCommits,
	}

	var attempts int
	bo := newConnectBackoff()
	err := backoff.Retry(func() error {
		attempts++
		err := c.driver.Connect(ctx, opts)
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		connMetrics.retryCount.Add(ctx, int64(attempts-1))
	}
	if err != nil {
		c.log.Error("error establishing SQL connection",
			slog.String("dialect", string(c.cfg.Dialect())),
			slog.String("host", c.cfg.Endpoint.Host),
			slog.String("port", c.cfg.Endpoint.Port),
			slog.String("username", c.cfg.Endpoint.User),
			slog.String("database", c.cfg.Endpoint.Database),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("sqldest: connecting: %w", err)
	}

	for _, stmt := range c.cfg.SessionStatements {
		if err := c.Run(ctx, stmt, false); err != nil {
			c.log.Error("error executing SQL connection statement",
				slog.String("statement", stmt),
				slog.String("error", err.Error()),
			)
			_ = c.driver.Close()
			return fmt.Errorf("sqldest: running session statement %q: %w", stmt, err)
		}
	}
	c.connected = true
	return nil
}

// Disconnect closes the driver handle. Idempotent.
func (c *Conn) Disconnect() {
	_ = c.driver.Close()
	c.connected = false
}

// Ping is a liveness probe, used only after a query failure to tell
// transient connection loss from a semantic row-level error.
func (c *Conn) Ping(ctx context.Context) bool {
	return c.driver.Ping(ctx)
}

// Run submits one SQL statement with no expected result set. On
// failure it logs the full endpoint context unless silent (used for
// the schema reconciler's existence probe).
func (c *Conn) Run(ctx context.Context, stmt string, silent bool) error {
	ctx, span := tracer.Start(ctx, "sqldest.run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.statement", spanSQL(stmt)),
		),
	)
	c.log.Debug("running SQL query", slog.String("query", stmt))
	err := c.driver.Exec(ctx, stmt)
	endSpan(span, err)
	if err != nil && !silent {
		c.log.Error("error running SQL query",
			slog.String("dialect", string(c.cfg.Dialect())),
			slog.String("host", c.cfg.Endpoint.Host),
			slog.String("port", c.cfg.Endpoint.Port),
			slog.String("user", c.cfg.Endpoint.User),
			slog.String("database", c.cfg.Endpoint.Database),
			slog.String("error", err.Error()),
			slog.String("query", stmt),
		)
	}
	return err
}

// Query submits one SQL statement that returns rows, used only for the
// schema-probe SELECT. The caller is responsible for closing the
// returned rows.
func (c *Conn) Query(ctx context.Context, stmt string) (*sql.Rows, error) {
	ctx, span := tracer.Start(ctx, "sqldest.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.statement", spanSQL(stmt))),
	)
	rows, err := c.driver.Query(ctx, stmt)
	endSpan(span, err)
	return rows, err
}

// Quote delegates to the driver's quoting primitive.
func (c *Conn) Quote(value string) (string, bool) {
	return c.driver.Quote(value)
}

func spanSQL(q string) string {
	const max = 300
	if len(q) > max {
		return q[:max] + "…"
	}
	return q
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
