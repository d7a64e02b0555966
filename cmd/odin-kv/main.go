// Command odin-kv is the server binary: it loads configuration, wires
// every collaborator package together, and runs until a shutdown signal
// arrives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/odin-kv/internal/config"
	"github.com/adred-codev/odin-kv/internal/logging"
	"github.com/adred-codev/odin-kv/internal/metrics"
	"github.com/adred-codev/odin-kv/internal/monitor"
	"github.com/adred-codev/odin-kv/internal/pubsub"
	"github.com/adred-codev/odin-kv/internal/resourceguard"
	"github.com/adred-codev/odin-kv/internal/server"
	"github.com/adred-codev/odin-kv/internal/snapshot"
	"github.com/adred-codev/odin-kv/internal/stats"
	"github.com/adred-codev/odin-kv/internal/store"
	"github.com/adred-codev/odin-kv/internal/workerpool"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code spec.md §6 calls for: 0 on a clean
// shutdown, non-zero on a configuration error or a failed bind.
func run() int {
	var configPath string
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "odin-kv: %v\n", err)
		return 1
	}
	cfgStore := config.NewStore(cfg)

	logger := logging.New(cfg.LogFile, cfg.LogLevel, cfg.Verbose)
	logger.Info().Str("addr", cfg.Addr()).Msg("starting odin-kv")

	metricsRegistry := metrics.New()

	guard := resourceguard.New(logger, cfg.CPURejectPct)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go guard.Run(ctx, 5*time.Second)

	keyspace := store.New(cfg.ShardCount)
	if err := snapshot.Load(keyspace, cfg.DBFilename); err != nil {
		logger.Error().Err(err).Str("path", cfg.DBFilename).Msg("snapshot restore failed")
		return 1
	}

	pubsubRegistry := pubsub.New()
	pubsubRegistry.SetMetrics(metricsRegistry)
	monitorRegistry := monitor.New()
	pool := workerpool.New(cfg.WorkerCount)
	st := stats.New()

	snapshotInterval := time.Duration(cfg.SnapshotEvery) * time.Second
	if snapshotInterval <= 0 {
		snapshotInterval = 10 * time.Minute
	}
	snapshotMgr := snapshot.NewManager(keyspace, cfg.DBFilename, guard, logger)
	snapshotMgr.SetMetrics(metricsRegistry)
	snapshotStop := make(chan struct{})
	go snapshotMgr.Run(snapshotStop, snapshotInterval)
	go sampleGauges(ctx, metricsRegistry, pool, keyspace, 5*time.Second)

	srv := server.New(cfgStore, logger, keyspace, pubsubRegistry, monitorRegistry, pool, st, snapshotMgr, metricsRegistry)
	if err := srv.Listen(); err != nil {
		logger.Error().Err(err).Msg("listen failed")
		close(snapshotStop)
		return 1
	}

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve() }()

	var metricsServer *http.Server
	metricsErrCh := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		metricsServer = newMetricsServer(cfg.MetricsAddr, metricsRegistry, keyspace)
		go func() { metricsErrCh <- metricsServer.ListenAndServe() }()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
		stop()
	case err := <-metricsErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
		stop()
	}

	_ = srv.Close()
	close(snapshotStop)
	pool.Shutdown()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	if err := snapshotMgr.SaveNow(); err != nil {
		logger.Error().Err(err).Msg("final snapshot save failed")
	}

	logger.Info().Msg("odin-kv stopped")
	return 0
}

// sampleGauges periodically samples the point-in-time metrics that have
// no natural mutation-time hook — worker queue depth and keyspace size —
// the same way guard.Run samples CPU, until ctx is cancelled.
func sampleGauges(ctx context.Context, reg *metrics.Registry, pool *workerpool.Pool, ks *store.Keyspace, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			reg.WorkerQueueDepth.Set(float64(pool.QueueDepth()))
			reg.KeyspaceSize.Set(float64(ks.Length()))
		case <-ctx.Done():
			return
		}
	}
}

// newMetricsServer builds the separate HTTP listener SPEC_FULL.md §6
// carries alongside the command protocol's own TCP listener: Prometheus
// scraping and a lightweight health check, kept off the wire protocol
// port so a scraper never competes with RESP traffic.
func newMetricsServer(addr string, reg *metrics.Registry, ks *store.Keyspace) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "healthy",
			"keys":   ks.Length(),
		})
	})
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}
