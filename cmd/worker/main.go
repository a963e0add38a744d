// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command worker runs the Dispatcher: it repeatedly claims one queued
// job at a time from the Progress Store and drives its Row Loop to
// completion, pause, or stop.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/dessentialist/rowforge/internal/credentials"
	"github.com/dessentialist/rowforge/internal/dispatcher"
	"github.com/dessentialist/rowforge/internal/fixtures"
	"github.com/dessentialist/rowforge/internal/lease"
	"github.com/dessentialist/rowforge/internal/providercall"
	"github.com/dessentialist/rowforge/internal/rowloop"
	"github.com/dessentialist/rowforge/internal/store"
	"github.com/dessentialist/rowforge/pkg/config"
	"github.com/dessentialist/rowforge/pkg/logging"
	"github.com/dessentialist/rowforge/pkg/middleware"
	"github.com/dessentialist/rowforge/pkg/metrics"
	"github.com/dessentialist/rowforge/pkg/pool"
)

func main() {
	seedPath := flag.String("seed", "", "path to a YAML fixture to seed before starting (dev/demo only)")
	flag.Parse()

	cfg := config.NewDefault()
	cfg.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := logging.NewLogger(&logging.Config{
		Level:  loggingLevel(cfg.Debug),
		Format: logging.FormatJSON,
		Output: os.Stdout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress, blobs, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error("failed to open stores", "error", err.Error())
		os.Exit(1)
	}
	if closer, ok := progress.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	credStore := credentials.NewMemoryStore()

	if *seedPath != "" {
		fixture, err := fixtures.LoadFile(*seedPath)
		if err != nil {
			logger.Error("failed to load seed fixture", "error", err.Error())
			os.Exit(1)
		}
		jobID, err := fixtures.Seed(ctx, fixture, progress, blobs, credStore)
		if err != nil {
			logger.Error("failed to seed fixture", "error", err.Error())
			os.Exit(1)
		}
		logger.Info("seeded job from fixture", "jobId", jobID, "fixture", *seedPath)
	}

	collector := metrics.GetDefaultCollector()
	clientPool := pool.NewHTTPClientPool(nil, logger)
	connMgr := pool.NewConnectionManager(clientPool, probeEndpoint, logger)
	connMgr.Start()
	defer connMgr.Stop()

	requestIDs := middleware.Chain(
		middleware.WithRequestID(uuid.NewString),
		middleware.WithUserAgent("rowforge-worker/1.0"),
	)
	chain := middleware.Chain(
		middleware.WithTimeout(60*time.Second),
		requestIDs,
		middleware.WithLogging(logger),
		middleware.WithRetry(cfg.MaxRetries, middleware.DefaultShouldRetry),
		middleware.WithCircuitBreaker(5, 30*time.Second),
		middleware.WithMetrics(collector),
	)
	callerFactory := providercall.HTTPCallerFactory(connMgr, chain, logger)

	leaseMgr := lease.New(progress, cfg.LeaseDuration)
	loop := rowloop.New(progress, blobs, credStore, callerFactory, leaseMgr, rowloop.Config{
		PartialStride: cfg.PartialSaveInterval,
		DedupeEnabled: cfg.DedupeEnabled,
		DedupeSecret:  cfg.DedupeSecret,
		PauseWait:     5 * time.Second,
		MaxRetries:    cfg.MaxRetries,
	}, logger, collector)

	d := dispatcher.New(leaseMgr, loop, cfg.PollInterval, logger)

	go logPoolStats(ctx, clientPool, collector, logger, cfg.HeartbeatInterval)

	logger.Info("worker starting", "pollInterval", cfg.PollInterval.String())
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("dispatcher exited with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

// probeEndpoint is the ConnectionManager's HealthCheckFunc: it confirms
// the provider endpoint's host resolves and accepts a TCP connection
// before Provider Call hands the pooled client to a request, so a
// dead endpoint fails fast instead of riding the full HTTP timeout.
func probeEndpoint(ctx context.Context, endpoint string, client *http.Client) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Hostname()+":443")
	if err != nil {
		return err
	}
	return conn.Close()
}

// logPoolStats periodically logs the connection pool's per-endpoint
// usage and the process-wide Provider Call request/cache counters, so
// dispatcher-level visibility into the HTTP transport and the Dedupe
// Cache doesn't require scraping metrics separately.
func logPoolStats(ctx context.Context, p *pool.HTTPClientPool, collector metrics.Collector, logger logging.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poolStats := p.Stats()
			callStats := collector.GetStats()
			logger.Info("provider_pool_stats",
				"totalClients", poolStats.TotalClients,
				"totalRequests", callStats.TotalRequests,
				"totalErrors", callStats.TotalErrors,
				"cacheHits", callStats.CacheHits,
				"cacheMisses", callStats.CacheMisses,
			)
		}
	}
}

func loggingLevel(debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// openStores builds the Progress Store and Blob Store from their DSNs.
// A "file://" Blob Store DSN is the local-filesystem convenience
// backend; a Progress Store DSN is always a Postgres connection
// string in production, with an in-memory fallback for "memory://"
// (used by local dev and the -seed demo flow).
func openStores(ctx context.Context, cfg *config.Config) (store.ProgressStore, store.BlobStore, error) {
	var progress store.ProgressStore
	if cfg.ProgressStoreDSN == "memory://" {
		progress = store.NewMemoryProgressStore(nil)
	} else {
		pg, err := store.OpenPostgresProgressStore(ctx, cfg.ProgressStoreDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		progress = pg
	}

	var blobs store.BlobStore
	if strings.HasPrefix(cfg.BlobStoreDSN, "file://") {
		root := strings.TrimPrefix(cfg.BlobStoreDSN, "file://")
		fs, err := store.NewFSBlobStore(root)
		if err != nil {
			return nil, nil, err
		}
		blobs = fs
	} else if cfg.BlobStoreDSN == "memory://" {
		blobs = store.NewMemoryBlobStore()
	} else {
		if _, err := url.Parse(cfg.BlobStoreDSN); err != nil {
			return nil, nil, err
		}
		fs, err := store.NewFSBlobStore(cfg.BlobStoreDSN)
		if err != nil {
			return nil, nil, err
		}
		blobs = fs
	}

	return progress, blobs, nil
}
