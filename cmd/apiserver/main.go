// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command apiserver runs the control-plane HTTP API: job enqueue,
// inspection, pause/resume/stop, logs, and live event streaming.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/dessentialist/rowforge/internal/controlplane"
	"github.com/dessentialist/rowforge/internal/store"
	"github.com/dessentialist/rowforge/pkg/config"
	"github.com/dessentialist/rowforge/pkg/logging"
)

func main() {
	cfg := config.NewDefault()
	cfg.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{
		Level:  level,
		Format: logging.FormatJSON,
		Output: os.Stdout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress, err := openProgressStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open progress store", "error", err.Error())
		os.Exit(1)
	}
	if closer, ok := progress.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	server := controlplane.NewServer(progress, logger, 2*time.Second)

	addr := cfg.APIAddr
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streaming handlers hold the connection open
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("apiserver listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("apiserver exited with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("apiserver stopped")
}

func openProgressStore(ctx context.Context, cfg *config.Config) (store.ProgressStore, error) {
	if cfg.ProgressStoreDSN == "memory://" {
		return store.NewMemoryProgressStore(nil), nil
	}
	pg, err := store.OpenPostgresProgressStore(ctx, cfg.ProgressStoreDSN)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}
