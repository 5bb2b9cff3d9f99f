// Command sqldestd is a standalone runner around package sqldest: it
// loads one TOML daemon settings file plus a set of per-destination
// YAML files, wires each into a running sqldest.Destination fed by a
// trivial line-oriented stdin reader, and serves /healthz and /metrics
// until interrupted.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nxsql/sqldest/internal/sqldest"
	"github.com/nxsql/sqldest/internal/sqldest/drivers"
)

var (
	settingsPath string
	destPaths    []string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sqldestd",
		Short: "Run one or more SQL destination sinks against a set of destination configs",
		RunE:  runDaemon,
	}
	root.Flags().StringVar(&settingsPath, "settings", "", "path to the daemon's TOML settings file (optional)")
	root.Flags().StringArrayVar(&destPaths, "dest", nil, "path to a destination YAML config (repeatable)")
	root.AddCommand(newConfigCmd())
	return root
}

// rootLogger builds a plain stderr text logger for one-shot CLI
// subcommands (like "config effective") that run outside runDaemon's
// JSON-structured, run-id-tagged logger.
func rootLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	settings, err := loadDaemonSettings(settingsPath)
	if err != nil {
		return err
	}
	if len(destPaths) == 0 {
		return fmt.Errorf("sqldestd: at least one --dest is required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(settings.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	runID := uuid.NewString()
	log = log.With(slog.String("run_id", runID))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if settings.Telemetry {
		shutdown, err := sqldest.Init(ctx)
		if err != nil {
			return fmt.Errorf("sqldestd: initializing telemetry: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	var alerter *sqldest.Alerter
	if settings.AlertURL != "" {
		alerter = sqldest.NewAlerter(settings.AlertURL, nil, time.Duration(settings.AlertCooldown)*time.Second, log)
	}

	persist, err := sqldest.OpenPersistStore(settings.PersistPath)
	if err != nil {
		return err
	}

	reg := prometheus.DefaultRegisterer
	dests := make(map[string]*sqldest.Destination, len(destPaths))

	for _, path := range destPaths {
		name := filepath.Base(path)
		cfg, tableTemplate, valueTemplates, err := loadDestination(log, path)
		if err != nil {
			return err
		}
		render, err := buildRenderers(tableTemplate, valueTemplates, time.Local, time.UTC)
		if err != nil {
			return err
		}

		stats := sqldest.NewPromStats(reg, name, cfg.PersistKey())
		dest, err := drivers.NewDestination(cfg, sqldest.NewMemQueue(), stats, persist, render, log.With(slog.String("destination", name)))
		if err != nil {
			return fmt.Errorf("sqldestd: constructing destination %q: %w", name, err)
		}
		if alerter != nil {
			dest.SetAlerter(alerter)
		}
		dests[name] = dest

		watchDestination(log, path, func(sqldest.Config) {
			log.Info("destination config changed on disk; restart sqldestd to apply it",
				slog.String("destination", name))
		})
	}

	healthDests := make(map[string]healthStater, len(dests))
	for name, d := range dests {
		healthDests[name] = d
	}

	httpServer := &http.Server{
		Addr:    settings.ListenAddr,
		Handler: newRouter(healthDests),
	}

	g, gctx := errgroup.WithContext(ctx)

	for name, d := range dests {
		name, d := name, d
		d.Start(gctx)
		g.Go(func() error {
			<-gctx.Done()
			log.Info("stopping destination", slog.String("destination", name))
			d.Stop()
			return nil
		})
	}

	g.Go(func() error {
		log.Info("serving health/metrics", slog.String("addr", settings.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("sqldestd: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return feedStdin(gctx, dests)
	})

	return g.Wait()
}

// feedStdin reads newline-delimited JSON objects from stdin and
// enqueues each onto every configured destination, the simplest
// possible stand-in for the host's real message-intake path (spec.md
// treats message delivery into the destination as the host's job; this
// binary only needs something to drive the worker end-to-end).
func feedStdin(ctx context.Context, dests map[string]*sqldest.Destination) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		var rec logRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		for _, d := range dests {
			d.Enqueue(rec)
		}
	}
	return scanner.Err()
}
