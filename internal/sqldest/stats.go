package sqldest

import "github.com/prometheus/client_golang/prometheus"

// Stats is the counter pair §6 requires per destination: stored and
// dropped message counts, keyed by the destination's identity. The
// worker only ever increments; nothing in this package reads the
// counters back.
type Stats interface {
	IncStored()
	IncDropped()
}

// PromStats backs Stats with Prometheus counters labeled the way
// §6 keys statistics: {id, dialect, host, port, database,
// table_template}.
type PromStats struct {
	stored  prometheus.Counter
	dropped prometheus.Counter
}

// NewPromStats registers (or, on a second call with the same labels,
// reuses) the stored/dropped counter pair for one destination against
// reg.
func NewPromStats(reg prometheus.Registerer, id string, key PersistKeyParts) *PromStats {
	labels := prometheus.Labels{
		"id":             id,
		"dialect":        key.Dialect,
		"host":           key.Host,
		"port":           key.Port,
		"database":       key.Database,
		"table_template": key.TableTemplate,
	}
	stored := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "sqldest",
		Name:        "messages_stored_total",
		Help:        "Messages successfully committed to the destination database.",
		ConstLabels: labels,
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "sqldest",
		Name:        "messages_dropped_total",
		Help:        "Messages dropped after exhausting retry attempts.",
		ConstLabels: labels,
	})
	register := func(c prometheus.Counter) prometheus.Counter {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector.(prometheus.Counter)
			}
			panic(err)
		}
		return c
	}
	return &PromStats{stored: register(stored), dropped: register(dropped)}
}

func (s *PromStats) IncStored() { s.stored.Inc() }

func (s *PromStats) IncDropped() { s.dropped.Inc() }

// NoopStats discards both counters; useful for tests that don't want a
// Prometheus registry in the loop.
type NoopStats struct{}

func (NoopStats) IncStored()  {}
func (NoopStats) IncDropped() {}
