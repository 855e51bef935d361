// Command atlas runs the topology processor end to end: a mock substream
// source feeds events through the dispatcher, which emits canonical graphs
// to a durable log sink and periodically persists its snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"atlas/internal/atlas/dispatcher"
	"atlas/internal/atlas/id"
	"atlas/internal/config"
	"atlas/internal/core/app"
	"atlas/internal/core/ports"
	"atlas/internal/data/history"
	logsink "atlas/internal/sink/log"
	"atlas/internal/source/mock"
	"atlas/internal/ui/monitor"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file; if omitted, built-in defaults are used")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve Prometheus metrics on; empty disables it")
	snapshotInterval := flag.Duration("snapshot-interval", 5*time.Second, "how often to persist a snapshot while the dispatcher runs")
	ui := flag.Bool("ui", false, "show a live terminal monitor of dispatcher state instead of plain logs")
	flag.Parse()

	if err := run(*configPath, *metricsAddr, *snapshotInterval, *ui); err != nil {
		slog.Error("atlas exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string, snapshotInterval time.Duration, withUI bool) error {
	cfg, rootID, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var persistence *history.Adapter
	if cfg.Snapshot.Path != "" {
		store, err := history.Open(cfg.Snapshot.Path)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		defer store.Close()
		persistence = history.NewAdapter(store, 20)
	}

	var snap *ports.Snapshot
	if persistence != nil {
		snap, err = persistence.LoadSnapshot(context.Background())
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
	}

	baseSink := logsink.New(os.Stdout)
	durableSink, err := app.NewDurableSink(baseSink, app.DurableSinkConfig{
		SpoolPath:      spoolPathFor(cfg.Snapshot.Path),
		RetryBaseDelay: mustParseDuration(cfg.Sink.RetryBaseDelay, 500*time.Millisecond),
		RetryMaxDelay:  mustParseDuration(cfg.Sink.RetryMaxDelay, 30*time.Second),
	})
	if err != nil {
		return fmt.Errorf("start durable sink: %w", err)
	}

	source := mock.New(mock.DefaultConfig())

	portsCfg := ports.Config{
		RootNodeID:    rootID,
		HashSeed:      cfg.HashSeed,
		CacheEntryCap: cfg.Cache.EntryCap,
	}
	d := dispatcher.New(portsCfg, source, durableSink, snap)

	stopConfigWatcher := startConfigWatcher(context.Background(), configPath, cfg, durableSink)
	defer stopConfigWatcher()

	var persistencePort ports.Persistence
	if persistence != nil {
		persistencePort = persistence
	}
	health := app.NewHealthService(d, durableSink, persistencePort, cfg.Cache.EntryCap)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopMetrics := serveMetrics(metricsAddr, health)
	defer stopMetrics()

	stopSnapshotLoop := startSnapshotLoop(ctx, d, persistence, snapshotInterval)
	defer stopSnapshotLoop()

	runErr := runDispatcher(ctx, cancel, d, withUI)
	if runErr != nil && !errors.Is(runErr, io.EOF) {
		_ = durableSink.Close(context.Background())
		return fmt.Errorf("dispatcher run: %w", runErr)
	}

	if persistence != nil {
		if err := persistence.SaveSnapshot(context.Background(), d.Snapshot()); err != nil {
			slog.Warn("final snapshot save failed", "error", err)
		}
	}

	return durableSink.Close(context.Background())
}

// runDispatcher drives the dispatcher either headlessly (blocking until it
// returns) or, with withUI, in the background while the terminal monitor
// runs in the foreground. Quitting the monitor cancels ctx, which in turn
// unblocks the background Run.
func runDispatcher(ctx context.Context, cancel context.CancelFunc, d *dispatcher.Dispatcher, withUI bool) error {
	if !withUI {
		return d.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	if err := monitor.Run(d); err != nil {
		slog.Warn("monitor exited with error", "error", err)
	}
	cancel()

	return <-errCh
}

// startConfigWatcher hot-reloads the knobs that can safely change without a
// restart: the durable sink's retry backoff bounds. root_node_id, hash_seed,
// and cache.entry_cap are baked into the dispatcher and cache at startup, so
// a reload that changes them is ignored until the next restart; a change to
// root_node_id or cache.entry_cap is logged, a change to hash_seed is not.
// configPath == "" means defaults were used and there is nothing to watch.
func startConfigWatcher(ctx context.Context, configPath string, original *config.Config, sink *app.DurableSink) func() {
	if configPath == "" {
		return func() {}
	}

	watcher := config.NewWatcher(configPath, func(cfg *config.Config) {
		if cfg.RootNodeID != original.RootNodeID {
			slog.Warn("root_node_id changed on disk but is immutable for this process; restart to apply", "old", original.RootNodeID, "new", cfg.RootNodeID)
		}
		if cfg.Cache.EntryCap != original.Cache.EntryCap {
			slog.Warn("cache.entry_cap changed on disk but is fixed for this process; restart to apply", "old", original.Cache.EntryCap, "new", cfg.Cache.EntryCap)
		}
		sink.UpdateRetryDelays(
			mustParseDuration(cfg.Sink.RetryBaseDelay, 0),
			mustParseDuration(cfg.Sink.RetryMaxDelay, 0),
		)
		slog.Info("applied reloaded sink retry delays", "retry_base_delay", cfg.Sink.RetryBaseDelay, "retry_max_delay", cfg.Sink.RetryMaxDelay)
	})

	if err := watcher.Start(ctx); err != nil {
		slog.Warn("config watcher failed to start", "error", err)
		return func() {}
	}
	return watcher.Stop
}

func loadConfig(path string) (*config.Config, id.NodeId, error) {
	if path == "" {
		cfg := &config.Config{}
		cfg.Snapshot.Path = "atlas.db"
		cfg.Sink.RetryBaseDelay = "500ms"
		cfg.Sink.RetryMaxDelay = "30s"
		return cfg, mock.RootNodeID(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, id.NilNode, err
	}
	root, err := cfg.RootID()
	if err != nil {
		return nil, id.NilNode, err
	}
	return cfg, root, nil
}

func spoolPathFor(snapshotPath string) string {
	if snapshotPath == "" {
		return ""
	}
	return snapshotPath + ".spool"
}

func mustParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func startSnapshotLoop(ctx context.Context, d *dispatcher.Dispatcher, persistence *history.Adapter, interval time.Duration) func() {
	if persistence == nil || interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := persistence.SaveSnapshot(ctx, d.Snapshot()); err != nil {
					slog.Warn("periodic snapshot save failed", "error", err)
				}
			}
		}
	}()
	return func() { <-done }
}

func serveMetrics(addr string, health *app.HealthService) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := health.Check(r.Context())
		status := http.StatusOK
		if report.Overall == app.StatusDown {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
		fmt.Fprintf(w, "%s\n", report.Overall)
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
