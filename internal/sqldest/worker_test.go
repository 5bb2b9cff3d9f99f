package sqldest

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStats struct {
	stored, dropped int
}

func (s *countingStats) IncStored()  { s.stored++ }
func (s *countingStats) IncDropped() { s.dropped++ }

func fieldTemplate(name string) Template {
	return TemplateFunc(func(msg Message, _ TimeZone, _ int64) (string, error) {
		rec, _ := msg.(map[string]string)
		return rec[name], nil
	})
}

func fixedTemplate(s string) Template {
	return TemplateFunc(func(Message, TimeZone, int64) (string, error) { return s, nil })
}

// newTestWorker wires a Worker against a fresh in-memory sqlite-backed
// fakeDriver, ready to have insertOne/commit/begin/rollback driven
// directly so each seed scenario in §8 can be asserted step by step
// without running the full goroutine loop.
func newTestWorker(t *testing.T, cfg Config, fieldNames []string, tableName string) (*Worker, *fakeDriver, *MemQueue, *countingStats) {
	t.Helper()
	driver := newFakeDriver(cfg.Dialect())
	conn := NewConn(driver, cfg, slog.Default())
	schema := NewSchemaReconciler(cfg, conn)
	queue := NewMemQueue()
	stats := &countingStats{}

	fields := make(map[string]Template, len(fieldNames))
	for _, f := range fieldNames {
		fields[f] = fieldTemplate(f)
	}
	render := WorkerTemplates{Table: fixedTemplate(tableName), Fields: fields}

	w := NewWorker(cfg, conn, schema, queue, stats, nil, render, slog.Default())
	t.Cleanup(func() { driver.Close() })
	return w, driver, queue, stats
}

func msg(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

// Scenario 1: autocommit happy path.
func TestInsertOneAutocommitHappyPath(t *testing.T) {
	cfg := Config{
		DriverKind: "mysql",
		Fields:     []FieldSpec{{Name: "msg", SQLType: "TEXT"}},
		Flags:      Flags{DontCreateTables: true},
		FlushLines: -1,
		NumRetries: 3,
	}
	w, driver, queue, stats := newTestWorker(t, cfg, []string{"msg"}, "messages")
	ctx := context.Background()
	require.NoError(t, w.conn.EnsureConnected(ctx))
	require.NoError(t, w.conn.Run(ctx, "CREATE TABLE messages (msg TEXT)", false))
	driver.resetLog()
	queue.PushTail(QueueEntry{Message: msg("msg", "hello")})

	ok := w.insertOne(ctx)
	require.True(t, ok)

	stmts := driver.statements()
	assert.Contains(t, stmts, "INSERT INTO messages (msg) VALUES ('hello')")
	for _, s := range stmts {
		assert.NotEqual(t, "BEGIN", s, "autocommit mode must never emit BEGIN")
		assert.NotEqual(t, "COMMIT", s, "autocommit mode must never emit COMMIT")
	}
	assert.Equal(t, 1, stats.stored)
	assert.Equal(t, 0, queue.GetLength())
	assert.Equal(t, -1, w.flushCounter, "flush_counter stays the permanent -1 sentinel")
}

// In autocommit mode the schema reconciler still brackets its own
// CREATE TABLE in a transaction; that transaction must be committed
// before the INSERT runs, or it is never closed at all under flush_lines
// == -1 (the data path has no commit checkpoint of its own there).
func TestInsertOneAutocommitCommitsReconcilerTransactionBeforeInsert(t *testing.T) {
	cfg := Config{
		DriverKind: "mysql",
		Fields:     []FieldSpec{{Name: "msg", SQLType: "TEXT"}},
		FlushLines: -1,
		NumRetries: 3,
	}
	w, driver, queue, _ := newTestWorker(t, cfg, []string{"msg"}, "messages")
	queue.PushTail(QueueEntry{Message: msg("msg", "hello")})

	ctx := context.Background()
	require.True(t, w.insertOne(ctx))

	stmts := driver.statements()
	require.Contains(t, stmts, "BEGIN", "the reconciler must still bracket its CREATE TABLE")
	require.Contains(t, stmts, "COMMIT", "the bracketing transaction must be closed before the INSERT runs")
	beginIdx, commitIdx, insertIdx := -1, -1, -1
	for i, s := range stmts {
		switch s {
		case "BEGIN":
			beginIdx = i
		case "COMMIT":
			commitIdx = i
		case "INSERT INTO messages (msg) VALUES ('hello')":
			insertIdx = i
		}
	}
	assert.True(t, beginIdx < commitIdx && commitIdx < insertIdx,
		"BEGIN/COMMIT around the schema work must fully precede the INSERT, not wrap it")
	assert.False(t, w.inTxn, "no transaction must be left open after an autocommit insert")
}

// Scenario 2: batched commit.
func TestInsertOneBatchedCommit(t *testing.T) {
	cfg := Config{
		DriverKind: "pgsql",
		Fields:     []FieldSpec{{Name: "msg", SQLType: "TEXT"}},
		Flags:      Flags{ExplicitCommits: true, DontCreateTables: true},
		FlushLines: 3,
		NumRetries: 3,
	}
	w, driver, queue, stats := newTestWorker(t, cfg, []string{"msg"}, "messages")
	ctx := context.Background()
	require.NoError(t, w.conn.EnsureConnected(ctx))
	require.NoError(t, w.conn.Run(ctx, "CREATE TABLE messages (msg TEXT)", false))
	driver.resetLog()
	for i := 0; i < 5; i++ {
		queue.PushTail(QueueEntry{Message: msg("msg", "m")})
	}

	for i := 0; i < 5; i++ {
		require.True(t, w.insertOne(ctx))
	}

	stmts := driver.statements()
	begins, commits, inserts := 0, 0, 0
	for _, s := range stmts {
		switch s {
		case "BEGIN":
			begins++
		case "COMMIT":
			commits++
		default:
			if len(s) > 6 && s[:6] == "INSERT" {
				inserts++
			}
		}
	}
	assert.Equal(t, 2, begins, "BEGIN, then a fresh BEGIN after the mid-stream commit")
	assert.Equal(t, 1, commits, "only the flush-threshold commit fires mid-stream")
	assert.Equal(t, 5, inserts)
	assert.Equal(t, 2, w.flushCounter, "2 inserts accumulated since the mid-stream commit")
	assert.Equal(t, 5, stats.stored)

	// Idle-path commit closes the remaining batch, the same way the
	// worker loop's idle branch does when the queue drains.
	require.True(t, w.commit(ctx))
	assert.Equal(t, 0, w.flushCounter)
	assert.Equal(t, 0, queue.GetLength(), "ack_backlog must discard every acknowledged entry")
}

// Scenario 3: row-level retry then drop.
func TestInsertOneRowLevelRetryThenDrop(t *testing.T) {
	cfg := Config{
		DriverKind: "mysql",
		Fields:     []FieldSpec{{Name: "msg", SQLType: "TEXT"}},
		FlushLines: -1,
		NumRetries: 3,
	}
	w, driver, queue, stats := newTestWorker(t, cfg, []string{"msg"}, "messages")
	queue.PushTail(QueueEntry{Message: msg("msg", "bad")})
	queue.PushTail(QueueEntry{Message: msg("msg", "good")})

	ctx := context.Background()
	attempts := 0
	// The hook is one-shot and any Exec consumes it (the reconciler's
	// BEGIN/CREATE/COMMIT included), so it re-arms itself until the bad
	// INSERT has failed three times.
	var failBadInsert func(stmt string) error
	failBadInsert = func(stmt string) error {
		if len(stmt) >= 6 && stmt[:6] == "INSERT" && attempts < 3 {
			attempts++
			driver.onNextExec(failBadInsert)
			return errors.New("duplicate key")
		}
		if attempts < 3 {
			driver.onNextExec(failBadInsert)
		}
		return nil
	}
	driver.onNextExec(failBadInsert)

	// drive insertOne until the bad message has been retried and
	// dropped, and the good message has gone through.
	for i := 0; i < 4; i++ {
		require.True(t, w.insertOne(ctx))
	}

	assert.Equal(t, 3, attempts, "the same INSERT must be attempted num_retries times before dropping")
	assert.Equal(t, 1, stats.dropped)
	assert.Equal(t, 1, stats.stored, "the second message must still be processed normally")
	assert.Equal(t, 0, w.consecutiveFailures, "consecutive_failures resets after a drop")
}

// Scenario 4: mid-batch disconnect.
func TestInsertOneMidBatchDisconnectRewindsWholeBacklog(t *testing.T) {
	cfg := Config{
		DriverKind: "mysql",
		Fields:     []FieldSpec{{Name: "msg", SQLType: "TEXT"}},
		Flags:      Flags{ExplicitCommits: true},
		FlushLines: 5,
		NumRetries: 3,
	}
	w, driver, queue, _ := newTestWorker(t, cfg, []string{"msg"}, "messages")
	for i := 0; i < 3; i++ {
		queue.PushTail(QueueEntry{Message: msg("msg", "m")})
	}

	ctx := context.Background()
	require.True(t, w.insertOne(ctx)) // 1st insert succeeds
	require.True(t, w.insertOne(ctx)) // 2nd insert succeeds
	assert.Equal(t, 2, w.flushCounter)

	driver.failNextExec(errors.New("server closed the connection"))
	driver.setAlive(false)

	ok := w.insertOne(ctx) // 3rd insert fails, ping reports dead
	assert.False(t, ok, "insertOne must report failure so the caller disconnects and suspends")
	assert.Equal(t, 0, w.flushCounter, "flush_counter resets once the whole backlog is rewound")
	assert.Equal(t, 3, queue.GetLength(), "all 3 entries (2 acked-pending + the failed one) must be replayable")

	// Ping reports the connection alive again (the test does not go
	// through Disconnect, so the validated table stays cached) and the
	// backlog is replayed: a fresh BEGIN starts the batch over from
	// scratch, so flush_counter counts only the 3 replayed inserts.
	driver.setAlive(true)
	for i := 0; i < 3; i++ {
		require.True(t, w.insertOne(ctx))
	}
	assert.Equal(t, 3, w.flushCounter)
}

func TestBeginSkipsLiteralForOracle(t *testing.T) {
	cfg := Config{DriverKind: "oracle", Fields: []FieldSpec{{Name: "msg", SQLType: "TEXT"}}, NumRetries: 3}
	w, driver, _, _ := newTestWorker(t, cfg, []string{"msg"}, "messages")

	require.NoError(t, w.begin(context.Background()))
	assert.True(t, w.inTxn, "oracle still tracks an implicit open transaction")
	assert.Empty(t, driver.statements(), "oracle must never send an explicit BEGIN")
}

func TestBeginUsesFreetdsLiteral(t *testing.T) {
	cfg := Config{DriverKind: "freetds", Fields: []FieldSpec{{Name: "msg", SQLType: "TEXT"}}, NumRetries: 3}
	w, driver, _, _ := newTestWorker(t, cfg, []string{"msg"}, "messages")

	require.NoError(t, w.conn.EnsureConnected(context.Background()))
	require.NoError(t, w.begin(context.Background()))
	assert.Contains(t, driver.statements(), "BEGIN TRANSACTION")
}

func TestCommitNoActiveTransactionIsOK(t *testing.T) {
	cfg := Config{DriverKind: "mysql", Fields: []FieldSpec{{Name: "msg", SQLType: "TEXT"}}, NumRetries: 3}
	w, _, _, _ := newTestWorker(t, cfg, []string{"msg"}, "messages")
	assert.True(t, w.commit(context.Background()))
}

func TestCommitFailureRewindsAndResetsCounter(t *testing.T) {
	cfg := Config{
		DriverKind: "mysql",
		Fields:     []FieldSpec{{Name: "msg", SQLType: "TEXT"}},
		Flags:      Flags{ExplicitCommits: true},
		FlushLines: 2,
		NumRetries: 3,
	}
	w, driver, queue, _ := newTestWorker(t, cfg, []string{"msg"}, "messages")
	queue.PushTail(QueueEntry{Message: msg("msg", "m")})
	queue.PushTail(QueueEntry{Message: msg("msg", "m")})

	ctx := context.Background()
	require.True(t, w.insertOne(ctx))
	// let the second INSERT through, then fail the flush-threshold COMMIT
	driver.onNextExec(func(string) error {
		driver.failNextExec(errors.New("deadlock"))
		return nil
	})
	ok := w.insertOne(ctx)
	assert.False(t, ok, "a commit failure inside insertOne must surface as a failure")
	assert.Equal(t, 0, w.flushCounter)
	assert.Equal(t, 2, queue.GetLength(), "the whole batch must be replayable after a failed commit")
}

func TestRunDrainsQueueOnStop(t *testing.T) {
	cfg := Config{
		DriverKind: "mysql",
		Fields:     []FieldSpec{{Name: "msg", SQLType: "TEXT"}},
		FlushLines: -1,
		NumRetries: 3,
		TimeReopen: 1,
	}
	w, driver, queue, stats := newTestWorker(t, cfg, []string{"msg"}, "messages")
	queue.PushTail(QueueEntry{Message: msg("msg", "a")})
	queue.PushTail(QueueEntry{Message: msg("msg", "b")})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// give the worker a moment to drain the two queued messages, then
	// ask it to stop; the shutdown path must drain synchronously.
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not shut down in time")
	}

	assert.Equal(t, 2, stats.stored)
	assert.Equal(t, 0, queue.GetLength())
	assert.False(t, driver.Ping(context.Background()), "Stop's drain must disconnect at the end")
}
