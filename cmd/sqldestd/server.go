package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nxsql/sqldest/internal/sqldest"
)

// healthStater is the subset of *sqldest.Destination the health handler
// needs; kept narrow so the server can be exercised with a fake in
// tests without constructing a real destination.
type healthStater interface {
	State() sqldest.WorkerState
}

// newRouter builds the daemon's minimal HTTP surface: a worker-state
// health check and the Prometheus registry's scrape endpoint, the same
// pairing ned1313-tf-mirror's internal/server wires with chi.
func newRouter(dests map[string]healthStater) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		body := make(map[string]string, len(dests))
		status := http.StatusOK
		for name, d := range dests {
			state := d.State()
			body[name] = state.String()
			if state == sqldest.StateSuspended {
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
