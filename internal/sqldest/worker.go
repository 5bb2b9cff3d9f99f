package sqldest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerState names the states §4.5 defines for the transaction/worker
// loop.
type WorkerState int

const (
	StateIdle WorkerState = iota
	StateAccumulating
	StateSuspended
	StateTerminating
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateSuspended:
		return "suspended"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Worker is the single dedicated database-facing state machine: it
// dequeues messages, manages transaction boundaries, handles commit
// failures, retries, suspension, and graceful shutdown. Every field it
// touches (inTxn, flushCounter, seqNum, consecutiveFailures) is worker-
// exclusive, per §5's "no locking needed around them" — the only
// shared state is the mutex/condition pair guarding terminate/suspended
// /suspendDeadline.
type Worker struct {
	cfg     Config
	conn    *Conn
	schema  *SchemaReconciler
	queue   Queue
	stats   Stats
	persist *PersistStore
	persKey PersistKeyParts
	render  WorkerTemplates
	log     *slog.Logger
	alerter *Alerter

	mu             sync.Mutex
	cond           *sync.Cond
	terminate      bool
	suspended      bool
	suspendDeadline time.Time

	inTxn               bool
	flushCounter        int
	seqNum              int64
	consecutiveFailures int
	state               WorkerState
}

// WorkerTemplates are the two template hooks the worker renders
// against each dequeued message: the destination table name (local
// time zone) and each field's value (send time zone). Both are
// host-supplied; sqldest never compiles or caches templates itself.
type WorkerTemplates struct {
	Table  Template
	Fields map[string]Template
}

// NewWorker wires a destination's collaborators into a running state
// machine. The caller is expected to call Run in its own goroutine and
// push to the queue and call Stop from others.
func NewWorker(cfg Config, conn *Conn, schema *SchemaReconciler, queue Queue, stats Stats, persist *PersistStore, render WorkerTemplates, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	persKey := cfg.PersistKey()
	w := &Worker{
		cfg:          cfg,
		conn:         conn,
		schema:       schema,
		queue:        queue,
		stats:        stats,
		persist:      persist,
		persKey:      persKey,
		render:       render,
		log:          log,
		flushCounter: cfg.InitialFlushCounter(),
		state:        StateIdle,
	}
	w.cond = sync.NewCond(&w.mu)
	if persist != nil {
		w.seqNum = persist.SequenceNumber(persKey)
	} else {
		w.seqNum = 1
	}
	queue.SetUseBacklog(cfg.Flags.ExplicitCommits)
	queue.ResetParallelPush()
	return w
}

// SetAlerter attaches an optional Alerter the worker notifies on
// sustained suspension and on message drop. Without one, those events
// are only logged.
func (w *Worker) SetAlerter(a *Alerter) {
	w.alerter = a
}

// Stop requests graceful shutdown and wakes the worker if it is
// blocked. Run drains the remaining queue before returning.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.terminate = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// notifyAvailable is registered with the queue so a producer's
// PushTail can wake a blocked worker without knowing its internals
// (§9's weak-reference design note).
func (w *Worker) notifyAvailable() {
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

// State reports the worker's current state, useful for tests and
// health reporting.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Run executes the main cycle until Stop is called, then drains the
// remaining backlog before returning. It is meant to run in its own
// goroutine; ctx cancellation is honored at the same checkpoints
// terminate is.
func (w *Worker) Run(ctx context.Context) {
	for {
		w.mu.Lock()
		terminate := w.terminate || ctx.Err() != nil
		if terminate {
			w.mu.Unlock()
			break
		}

		if w.suspended {
			w.state = StateSuspended
			w.waitForSuspensionWakeupLocked()
			w.mu.Unlock()
			continue
		}

		if !w.queue.CheckItems(w.notifyAvailable) {
			if w.flushCounter > 0 {
				w.mu.Unlock()
				if !w.commit(ctx) {
					if !w.rollback(ctx) {
						w.conn.Disconnect()
						w.schema.Reset()
						w.suspend()
					}
				}
				continue
			}
			if !w.terminate {
				w.state = StateIdle
				w.cond.Wait()
			}
			w.mu.Unlock()
			continue
		}
		w.mu.Unlock()

		if !w.insertOne(ctx) {
			w.conn.Disconnect()
			w.schema.Reset()
			w.suspend()
		}
	}

	w.drain(ctx)
}

// waitForSuspensionWakeupLocked blocks on cond until suspendDeadline or
// a terminate signal, then clears suspension. mu must be held.
func (w *Worker) waitForSuspensionWakeupLocked() {
	if w.terminate {
		w.suspended = false
		return
	}
	deadline := w.suspendDeadline
	for !w.terminate && time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		timer := time.AfterFunc(remaining, func() {
			w.mu.Lock()
			w.cond.Broadcast()
			w.mu.Unlock()
		})
		w.cond.Wait()
		timer.Stop()
	}
	w.suspended = false
}

// suspend enters the SUSPENDED state for time_reopen seconds, mirroring
// afsql_dd_suspend.
func (w *Worker) suspend() {
	w.mu.Lock()
	w.suspended = true
	w.suspendDeadline = time.Now().Add(time.Duration(w.cfg.TimeReopen) * time.Second)
	w.mu.Unlock()
	if w.alerter != nil {
		w.alerter.NotifySuspended(string(w.cfg.Dialect()), w.cfg.Endpoint.Database, w.cfg.TimeReopen)
	}
}

// drain implements the shutdown path: continue insertOne until the
// queue is empty, bailing immediately on the first failure so the
// backlog persists for the next start; then attempt a final commit (or
// rollback on its failure), then disconnect.
func (w *Worker) drain(ctx context.Context) {
	w.mu.Lock()
	w.state = StateTerminating
	w.mu.Unlock()

	for w.queue.GetLength() > 0 {
		if !w.insertOne(ctx) {
			break
		}
	}

	if w.flushCounter > 0 {
		if !w.commit(ctx) {
			w.rollback(ctx)
		}
	}
	w.conn.Disconnect()
	w.schema.Reset()

	if w.persist != nil {
		_ = w.persist.SaveSequenceNumber(w.persKey, w.seqNum)
	}
}

// insertOne is the insert_one() sub-protocol from §4.5.
func (w *Worker) insertOne(ctx context.Context) bool {
	if !w.conn.Connected() {
		if err := w.conn.EnsureConnected(ctx); err != nil {
			return false
		}
	}

	entry, ok := w.queue.PopHead()
	if !ok {
		return true
	}

	table, err := w.schema.EnsureTable(ctx, w.renderTable(entry), w.beginNewTransaction)
	if err != nil {
		w.log.Error("error checking table, disconnecting from database, trying again shortly",
			slog.Int("time_reopen", w.cfg.TimeReopen),
			slog.String("error", err.Error()),
		)
		w.rollbackMsg(entry)
		return false
	}

	if w.inTxn && w.flushCounter <= 0 {
		// the reconciler may have opened a transaction to bracket its
		// own DDL (schema.go's EnsureTable) while no batch has
		// accumulated; close it here so the INSERT runs either under the
		// driver's own auto-commit setting or inside the fresh batch
		// transaction begun below, never inside the DDL's transaction.
		if !w.commit(ctx) {
			w.rollback(ctx)
			w.rollbackMsg(entry)
			return false
		}
	}

	if w.shouldBeginNewTransaction() {
		if err := w.begin(ctx); err != nil {
			w.rollbackMsg(entry)
			return false
		}
	}

	insertStmt := w.buildInsert(entry, table)
	if err := w.conn.Run(ctx, insertStmt, false); err != nil {
		return w.handleInsertFailure(ctx, entry)
	}

	if w.isTransactionsEnabled() {
		w.flushCounter++
		if w.shouldCommitTransaction() {
			if !w.commit(ctx) {
				w.rollback(ctx)
				return false
			}
		}
	}

	w.seqNum++
	w.consecutiveFailures = 0
	w.stats.IncStored()
	if w.persist != nil {
		_ = w.persist.SaveSequenceNumber(w.persKey, w.seqNum)
	}
	w.mu.Lock()
	w.state = StateAccumulating
	w.mu.Unlock()
	return true
}

// handleInsertFailure implements §4.5 step 7: on query failure, ping
// discriminates a row-level error from a dead connection.
func (w *Worker) handleInsertFailure(ctx context.Context, entry QueueEntry) bool {
	if w.conn.Ping(ctx) {
		w.consecutiveFailures++
		if w.consecutiveFailures >= w.cfg.NumRetries {
			w.dropMsg()
			w.stats.IncDropped()
			w.consecutiveFailures = 0
			w.log.Error("multiple failures while inserting this record into the database, message dropped",
				slog.Int("attempts", w.cfg.NumRetries),
			)
			if w.alerter != nil {
				w.alerter.NotifyDropped(string(w.cfg.Dialect()), w.cfg.Endpoint.Database, w.cfg.NumRetries)
			}
			return true
		}
		w.rollbackMsg(entry)
		return true
	}

	if w.isTransactionsEnabled() && w.inTxn {
		w.queue.RewindBacklogAll()
		w.flushCounter = 0
	} else {
		w.rollbackMsg(entry)
	}
	w.log.Error("SQL connection lost in the middle of a transaction, rewinding backlog and starting again")
	return false
}

// rollbackMsg rewinds one message: the whole backlog entry when
// explicit_commits is on, otherwise a plain push back to the queue
// head.
func (w *Worker) rollbackMsg(entry QueueEntry) {
	if w.cfg.Flags.ExplicitCommits {
		w.queue.RewindBacklog(1)
	} else {
		w.queue.PushHead(entry)
	}
}

// dropMsg permanently discards the message currently at the tail of
// the backlog after it has exhausted num_retries: under
// explicit_commits the entry is still sitting in the backlog (PopHead
// retained it there) and must be acked away so it is never replayed by
// a later RewindBacklogAll; without a backlog the failing entry was
// never retained anywhere once PopHead returned it, so there is
// nothing left to discard.
func (w *Worker) dropMsg() {
	if w.cfg.Flags.ExplicitCommits {
		w.queue.AckBacklog(1)
	}
}

func (w *Worker) isTransactionsEnabled() bool {
	return w.flushCounter != -1
}

func (w *Worker) shouldBeginNewTransaction() bool {
	return w.flushCounter == 0
}

func (w *Worker) shouldCommitTransaction() bool {
	return w.isTransactionsEnabled() && w.flushCounter == w.cfg.FlushLines
}

// begin issues the dialect-appropriate BEGIN literal, skipping it
// entirely for oracle (implicit after COMMIT), per §4.5's begin path.
func (w *Worker) begin(ctx context.Context) error {
	stmt, ok := w.cfg.Dialect().BeginLiteral()
	var err error
	if ok {
		err = w.conn.Run(ctx, stmt, false)
	}
	w.inTxn = true
	return err
}

// beginNewTransaction commits any open transaction first (rewinding on
// commit failure), then begins a fresh one. Used by the schema
// reconciler so DDL never shares a transaction with prior DML.
func (w *Worker) beginNewTransaction(ctx context.Context) error {
	if w.inTxn {
		if !w.commit(ctx) {
			w.rollback(ctx)
			return errCommitFailed
		}
	}
	return w.begin(ctx)
}

// commit implements §4.5's commit path. Note flush_counter may be the
// permanent -1 sentinel here even while in_txn is true: the schema
// reconciler brackets its own DDL in a transaction regardless of
// whether data-path batching is enabled at all (§4.4's "new
// transaction required" step runs unconditionally). When that is the
// case there is no accumulated batch to acknowledge or rewind, and
// flush_counter must not be disturbed away from -1.
func (w *Worker) commit(ctx context.Context) bool {
	if !w.inTxn {
		return true
	}
	if err := w.conn.Run(ctx, "COMMIT", false); err != nil {
		w.log.Error("SQL transaction commit failed, rewinding backlog and starting again")
		if w.flushCounter > 0 {
			w.queue.RewindBacklogAll()
		}
		if w.flushCounter != -1 {
			w.flushCounter = 0
		}
		return false
	}
	if w.flushCounter > 0 {
		w.queue.AckBacklog(w.flushCounter)
	}
	if w.flushCounter != -1 {
		w.flushCounter = 0
	}
	w.inTxn = false
	return true
}

// rollback implements §4.5's rollback path.
func (w *Worker) rollback(ctx context.Context) bool {
	if !w.inTxn {
		return true
	}
	w.inTxn = false
	return w.conn.Run(ctx, "ROLLBACK", false) == nil
}

func (w *Worker) renderTable(entry QueueEntry) string {
	if w.render.Table == nil {
		return ""
	}
	s, err := w.render.Table.Render(entry.Message, TimeZoneLocal, w.seqNum)
	if err != nil {
		return ""
	}
	return s
}

func (w *Worker) buildInsert(entry QueueEntry, table string) string {
	values := make([]RenderedValue, 0, len(w.cfg.Fields))
	for _, f := range w.cfg.Fields {
		if f.IsDefault {
			continue
		}
		tmpl := w.render.Fields[f.Name]
		if tmpl == nil {
			continue
		}
		rendered, err := tmpl.Render(entry.Message, TimeZoneSend, w.seqNum)
		if err != nil {
			rendered = ""
		}
		quoted := QuoteOrNull(w.conn.Quote, w.cfg.NullSentinel, rendered)
		values = append(values, RenderedValue{Name: f.Name, Value: quoted})
	}
	return BuildInsert(table, values)
}

// errCommitFailed is a sentinel used internally by beginNewTransaction;
// the schema reconciler only cares that an error occurred, not its
// identity.
var errCommitFailed = &commitFailedError{}

type commitFailedError struct{}

func (*commitFailedError) Error() string { return "sqldest: commit failed while starting new transaction" }
