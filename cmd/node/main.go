// Package main implements the fleetdb node service, the worker daemon that
// keeps a local replica of the database catalog in step with the
// coordinator.
//
// The node is the receiving end of DDL propagation:
//   - Executing commands dispatched by the coordinator on /exec
//   - Replaying create/drop database commands idempotently
//   - Holding mirrored shard registry rows when it carries metadata
//   - Applying accepted DDL to a backing Postgres server when configured
//   - Registering with the coordinator and answering health checks
//
// Configuration is a YAML file named by NODE_CONFIG; individual settings can
// be overridden with NODE_ID, NODE_LISTEN, NODE_ADDR, NODE_GROUP,
// COORDINATOR_ADDR, and POSTGRES_DSN.
//
// Example usage:
//
//	NODE_ID=node-1 NODE_GROUP=1 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./node
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dreamware/fleetdb/internal/catalog"
	"github.com/dreamware/fleetdb/internal/cluster"
	"github.com/dreamware/fleetdb/internal/commands"
	"github.com/dreamware/fleetdb/internal/config"
	"github.com/dreamware/fleetdb/internal/ddl"
	"github.com/dreamware/fleetdb/internal/metrics"
	"github.com/dreamware/fleetdb/internal/pgexec"
	"github.com/dreamware/fleetdb/internal/sharding"
)

// logFatal is a variable to allow intercepting fatal exits in tests.
var logFatal = func(logger *zap.Logger, msg string, fields ...zap.Field) {
	logger.Fatal(msg, fields...)
}

// nodeServer executes coordinator-dispatched commands against the node's
// catalog replica and, when configured, a backing Postgres server.
type nodeServer struct {
	cfg        config.Node
	engine     *catalog.Engine
	propagator *commands.Propagator
	sharder    *sharding.Manager
	pg         *pgexec.Executor
	logger     *zap.Logger

	// Guard settings applied through /exec persist across requests, the way
	// SET persists on a session. execMu serializes /exec handling.
	execMu          sync.Mutex
	execDDLGuard    bool
	execCreateGuard bool
}

func newNodeServer(cfg config.Node, pg *pgexec.Executor, logger *zap.Logger) *nodeServer {
	// The node's registry only carries its own group; it never dispatches to
	// peers, so membership stays empty.
	registry := cluster.NewRegistry(cfg.GroupID)
	engine := catalog.NewEngine()
	dispatcher := cluster.NewHTTPDispatcher(catalog.SuperuserRole, logger)

	propagator := commands.NewPropagator(cfg.Flags, false, registry, dispatcher, logger)
	sharder := sharding.NewManager(cfg.Flags, registry, dispatcher, logger)
	propagator.SetSharder(sharder)

	s := &nodeServer{
		cfg:             cfg,
		engine:          engine,
		propagator:      propagator,
		sharder:         sharder,
		pg:              pg,
		logger:          logger,
		execDDLGuard:    true,
		execCreateGuard: true,
	}

	tx := engine.Begin()
	defer tx.Rollback()
	if _, err := tx.CreateDatabase(cfg.Flags.ControlDatabase, catalog.SuperuserRole, nil); err != nil {
		logger.Warn("bootstrap control database", zap.Error(err))
		return s
	}
	tx.Commit()
	return s
}

func (s *nodeServer) routes(r chi.Router) {
	r.Post("/exec", s.handleExec)
	r.Get("/databases", s.handleListDatabases)
	r.Get("/shards", s.handleShards)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())
}

// handleExec runs one dispatched command. Guard SET statements persist
// across requests like session settings; other SET statements are accepted
// and ignored so connection markers pass through harmlessly.
func (s *nodeServer) handleExec(w http.ResponseWriter, r *http.Request) {
	var req cluster.ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()

	if req.Role == "" {
		req.Role = catalog.SuperuserRole
	}
	sess := commands.NewSession(s.cfg.Flags, req.Role, req.Database)
	sess.DDLPropagation = s.execDDLGuard
	sess.CreateDatabasePropagation = s.execCreateGuard

	err := s.execCommand(r.Context(), sess, req.Command)
	if err != nil {
		s.logger.Warn("exec failed",
			zap.String("command", req.Command),
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		writeJSON(w, statusFor(err), cluster.ExecResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cluster.ExecResponse{})
}

// execCommand applies one command to the catalog replica and mirrors the
// effect to Postgres when a backing server is configured. The Postgres write
// happens before the catalog commit so a failure leaves both sides
// untouched.
func (s *nodeServer) execCommand(ctx context.Context, sess *commands.Session, command string) error {
	stmt, err := ddl.Parse(command)
	if err != nil {
		return err
	}

	if stmt.Kind == ddl.KindSetGuard {
		switch stmt.Guard {
		case ddl.GuardDDLPropagation, ddl.GuardCreateDatabasePropagation:
			if err := sess.ApplyGuard(stmt); err != nil {
				return err
			}
			s.execDDLGuard = sess.DDLPropagation
			s.execCreateGuard = sess.CreateDatabasePropagation
		}
		return nil
	}

	tx := s.engine.Begin()
	defer tx.Rollback()

	switch stmt.Kind {
	case ddl.KindInternalDatabaseCommand:
		applied, err := s.propagator.ReplayDatabaseCommand(ctx, sess, tx, stmt.Command)
		if err != nil {
			return err
		}
		if applied && s.pg != nil {
			if err := s.pg.Apply(ctx, stmt.Command); err != nil {
				return err
			}
		}

	case ddl.KindInternalAddDatabaseShard:
		if err := s.sharder.AddShardLocally(tx, stmt.Database, stmt.GroupID, sess.Role); err != nil {
			return err
		}
		if s.pg != nil {
			db, ok := tx.LookupDatabase(stmt.Database)
			if !ok {
				return errors.Wrap(catalog.ErrUndefinedDatabase, stmt.Database)
			}
			upsert := fmt.Sprintf(
				"INSERT INTO fleetdb_catalog.database_shard (database_id, node_group_id) VALUES (%d, %d) "+
					"ON CONFLICT (database_id) DO UPDATE SET node_group_id = EXCLUDED.node_group_id",
				db.ID, stmt.GroupID)
			if err := s.pg.Apply(ctx, upsert); err != nil {
				return err
			}
		}

	case ddl.KindInternalDeleteDatabaseShard:
		var dbID uint32
		if db, ok := tx.LookupDatabase(stmt.Database); ok {
			dbID = db.ID
		}
		if err := s.sharder.DeleteShardLocally(tx, stmt.Database, sess.Role); err != nil {
			return err
		}
		if s.pg != nil && dbID != 0 {
			del := fmt.Sprintf(
				"DELETE FROM fleetdb_catalog.database_shard WHERE database_id = %d", dbID)
			if err := s.pg.Apply(ctx, del); err != nil {
				return err
			}
		}

	default:
		if err := s.propagator.ProcessUtility(ctx, sess, tx, stmt); err != nil {
			return err
		}
		if s.pg != nil {
			if err := s.pg.Apply(ctx, command); err != nil {
				return err
			}
		}
	}

	tx.Commit()
	return nil
}

func (s *nodeServer) handleListDatabases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Databases []string `json:"databases"`
	}{Databases: s.engine.ListDatabases()})
}

func (s *nodeServer) handleShards(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Shards []catalog.ShardView `json:"shards"`
	}{Shards: s.engine.ListShards()})
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadNode(getenv("NODE_CONFIG", ""))
	if err != nil {
		logFatal(logger, "load config", zap.Error(err))
	}
	applyEnvOverrides(&cfg)
	if cfg.ID == "" {
		logFatal(logger, "node id required (NODE_ID or config file)")
	}

	var pg *pgexec.Executor
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pg, err = pgexec.New(ctx, cfg.PostgresDSN, logger)
		cancel()
		if err != nil {
			logFatal(logger, "connect postgres", zap.Error(err))
		}
		defer pg.Close()
	}

	srv := newNodeServer(cfg, pg, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	srv.routes(r)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("node listening",
			zap.String("id", cfg.ID),
			zap.String("listen", cfg.Listen),
			zap.String("public", cfg.PublicAddr),
			zap.Int("group_id", cfg.GroupID))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal(logger, "listen", zap.Error(err))
		}
	}()

	register(context.Background(), cfg, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("node stopped")
}

// register announces the node to the coordinator, retrying to ride out
// coordinator startup delays. Persistent failure is fatal: an unregistered
// node never receives propagated DDL.
func register(ctx context.Context, cfg config.Node, logger *zap.Logger) {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{
		ID:          cfg.ID,
		Addr:        cfg.PublicAddr,
		GroupID:     cfg.GroupID,
		HasMetadata: cfg.HasMetadata,
	}}
	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, cfg.Coordinator+"/register", body, nil)
		if lastErr == nil {
			logger.Info("registered with coordinator", zap.String("coordinator", cfg.Coordinator))
			return
		}
		logger.Warn("register retry", zap.Int("attempt", i+1), zap.Error(lastErr))
		time.Sleep(400 * time.Millisecond)
	}
	logFatal(logger, "failed to register with coordinator", zap.Error(lastErr))
}

func applyEnvOverrides(cfg *config.Node) {
	if v := os.Getenv("NODE_ID"); v != "" {
		cfg.ID = v
	}
	if v := os.Getenv("NODE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("NODE_ADDR"); v != "" {
		cfg.PublicAddr = v
	}
	if v := os.Getenv("COORDINATOR_ADDR"); v != "" {
		cfg.Coordinator = v
	}
	if v := os.Getenv("NODE_GROUP"); v != "" {
		if g, err := strconv.Atoi(v); err == nil {
			cfg.GroupID = g
		}
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps catalog and parser errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, catalog.ErrUndefinedDatabase), errors.Is(err, sharding.ErrNotAssigned):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrDuplicateDatabase), errors.Is(err, catalog.ErrDuplicateAssignment):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrPermissionDenied), errors.Is(err, commands.ErrNotCoordinator):
		return http.StatusForbidden
	case errors.Is(err, ddl.ErrSyntax), errors.Is(err, ddl.ErrUnsupportedStatement):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
