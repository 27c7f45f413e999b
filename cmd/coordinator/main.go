// Package main implements the fleetdb coordinator, the control-plane daemon
// that owns the authoritative database catalog and shard registry.
//
// The coordinator is where DDL enters the cluster:
//   - Accepting database DDL and propagating it to every worker node
//   - Assigning databases to node groups and sweeping CONNECT privileges
//   - Mirroring shard registry changes to metadata-holding nodes
//   - Monitoring worker health and flipping shard availability
//   - Regenerating the connection pooler config when assignments change
//
// Configuration is a YAML file named by COORDINATOR_CONFIG; a missing file
// falls back to defaults. COORDINATOR_LISTEN overrides the listen address.
//
// Example usage:
//
//	# Start coordinator
//	COORDINATOR_CONFIG=coordinator.yaml ./coordinator
//
//	# Create a database cluster-wide
//	curl -X POST localhost:8080/ddl \
//	  -d '{"command":"CREATE DATABASE appdb OWNER alice","role":"postgres"}'
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dreamware/fleetdb/internal/config"
)

// logFatal is a variable to allow intercepting fatal exits in tests.
var logFatal = func(logger *zap.Logger, msg string, fields ...zap.Field) {
	logger.Fatal(msg, fields...)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadCoordinator(getenv("COORDINATOR_CONFIG", ""))
	if err != nil {
		logFatal(logger, "load config", zap.Error(err))
	}
	if v := os.Getenv("COORDINATOR_LISTEN"); v != "" {
		cfg.Listen = v
	}

	srv := newServer(cfg, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	srv.routes(r)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go srv.health.Start(monitorCtx, srv.registry.All)

	go func() {
		logger.Info("coordinator listening",
			zap.String("addr", cfg.Listen),
			zap.String("control_database", cfg.Flags.ControlDatabase),
			zap.Bool("sharding", cfg.Flags.EnableDatabaseSharding))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal(logger, "listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	stopMonitor()
	srv.health.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("coordinator stopped")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
