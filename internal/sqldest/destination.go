package sqldest

import (
	"context"
	"log/slog"
)

// Destination is the top-level handle a host constructs once per
// configured SQL destination: it owns the driver, connection manager,
// schema reconciler, worker loop, queue, and counters, and exposes the
// only two operations a host needs — Enqueue and Stop — plus Start to
// launch the worker goroutine.
type Destination struct {
	cfg    Config
	worker *Worker
	queue  Queue
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and wires driver, queue, stats, and persistence
// into a running destination's collaborators. The caller resolves
// driver from the drivers registry (package drivers imports this
// package, so resolution can't happen in here without a cycle) — see
// drivers.NewDestination for the convenience wrapper most hosts want
// instead of calling this directly. The returned Destination is not
// yet running; call Start.
func New(cfg Config, driver Driver, queue Queue, stats Stats, persist *PersistStore, render WorkerTemplates, log *slog.Logger) (*Destination, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn := NewConn(driver, cfg, log)
	schema := NewSchemaReconciler(cfg, conn)
	worker := NewWorker(cfg, conn, schema, queue, stats, persist, render, log)

	return &Destination{cfg: cfg, worker: worker, queue: queue}, nil
}

// Start launches the worker's main cycle in its own goroutine. Stop
// must be called exactly once to request shutdown; Stop blocks until
// the drain has finished.
func (d *Destination) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		d.worker.Run(ctx)
	}()
}

// Enqueue hands a message to the backing queue; the worker's wakeup
// condition is signaled as a side effect of the queue's own
// check-items/notify contract.
func (d *Destination) Enqueue(msg Message) {
	d.queue.PushTail(QueueEntry{Message: msg})
}

// Stop requests graceful shutdown and blocks until the worker's drain
// has completed.
func (d *Destination) Stop() {
	d.worker.Stop()
	if d.cancel != nil {
		d.cancel()
	}
	if d.done != nil {
		<-d.done
	}
}

// State reports the worker's current state.
func (d *Destination) State() WorkerState {
	return d.worker.State()
}

// SetAlerter attaches an optional Alerter the worker notifies on
// sustained suspension and message drops.
func (d *Destination) SetAlerter(a *Alerter) {
	d.worker.SetAlerter(a)
}
