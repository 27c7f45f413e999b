package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dreamware/fleetdb/internal/catalog"
	"github.com/dreamware/fleetdb/internal/cluster"
	"github.com/dreamware/fleetdb/internal/commands"
	"github.com/dreamware/fleetdb/internal/config"
	"github.com/dreamware/fleetdb/internal/ddl"
	"github.com/dreamware/fleetdb/internal/metrics"
	"github.com/dreamware/fleetdb/internal/pooler"
	"github.com/dreamware/fleetdb/internal/sharding"
)

// server ties the catalog engine, the node registry, and the propagation
// machinery together behind the coordinator's HTTP API.
type server struct {
	cfg        config.Coordinator
	registry   *cluster.Registry
	engine     *catalog.Engine
	propagator *commands.Propagator
	sharder    *sharding.Manager
	health     *cluster.HealthMonitor
	logger     *zap.Logger

	// Guard settings applied through /exec persist across requests, the way
	// SET persists on a session. execMu serializes /exec handling.
	execMu          sync.Mutex
	execDDLGuard    bool
	execCreateGuard bool
}

func newServer(cfg config.Coordinator, logger *zap.Logger) *server {
	registry := cluster.NewRegistry(cluster.CoordinatorGroupID)
	engine := catalog.NewEngine()
	dispatcher := cluster.NewHTTPDispatcher(catalog.SuperuserRole, logger)

	propagator := commands.NewPropagator(cfg.Flags, true, registry, dispatcher, logger)
	sharder := sharding.NewManager(cfg.Flags, registry, dispatcher, logger)
	propagator.SetSharder(sharder)

	// DDL issued inside a shard database is re-entered through /exec against
	// the control database, tagged with the delegation marker.
	if cfg.PublicAddr != "" {
		controlNode := cluster.NodeInfo{
			ID:      "coordinator",
			Addr:    cfg.PublicAddr,
			GroupID: cluster.CoordinatorGroupID,
		}
		propagator.SetDelegator(sharding.NewDelegator(
			controlNode, cfg.Flags.ControlDatabase, dispatcher, logger))
	}

	if cfg.Flags.PoolerConfigFile != "" {
		pm := pooler.NewManager(cfg.Flags.PoolerConfigFile,
			engine.ListShards, registry.ByGroup, logger)
		engine.SetReconfigureHook(pm.Reconfigure)
	}

	s := &server{
		cfg:             cfg,
		registry:        registry,
		engine:          engine,
		propagator:      propagator,
		sharder:         sharder,
		logger:          logger,
		execDDLGuard:    true,
		execCreateGuard: true,
	}

	s.health = cluster.NewHealthMonitor(5*time.Second, logger)
	s.health.SetGroupCallbacks(s.onGroupUnhealthy, s.onGroupRecovered)

	// The control database exists from the start; everything else is created
	// through DDL.
	tx := engine.Begin()
	defer tx.Rollback()
	if _, err := tx.CreateDatabase(cfg.Flags.ControlDatabase, catalog.SuperuserRole, nil); err != nil {
		logger.Warn("bootstrap control database", zap.Error(err))
		return s
	}
	tx.Commit()
	return s
}

func (s *server) routes(r chi.Router) {
	r.Post("/register", s.handleRegister)
	r.Get("/nodes", s.handleListNodes)
	r.Post("/ddl", s.handleDDL)
	r.Post("/exec", s.handleExec)
	r.Get("/databases", s.handleListDatabases)
	r.Get("/shards", s.handleShards)
	r.Post("/shards/assign", s.handleShardAssign)
	r.Post("/shards/move", s.handleShardMove)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())
}

// onGroupUnhealthy marks a group's shards unavailable once no node in the
// group passes health checks.
func (s *server) onGroupUnhealthy(groupID int) {
	for _, n := range s.registry.ByGroup(groupID) {
		if s.health.IsHealthy(n.ID) {
			return
		}
	}
	s.logger.Warn("node group unavailable", zap.Int("group_id", groupID))
	s.engine.SetGroupAvailability(groupID, false)
}

func (s *server) onGroupRecovered(groupID int) {
	s.logger.Info("node group recovered", zap.Int("group_id", groupID))
	s.engine.SetGroupAvailability(groupID, true)
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}
	s.registry.Register(req.Node)
	s.logger.Info("node registered",
		zap.String("id", req.Node.ID),
		zap.String("addr", req.Node.Addr),
		zap.Int("group_id", req.Node.GroupID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}{Nodes: s.registry.All()})
}

// ddlRequest is one statement submitted to the cluster. Role defaults to the
// superuser and Database to the control database.
type ddlRequest struct {
	Command  string `json:"command"`
	Role     string `json:"role"`
	Database string `json:"database"`
}

type ddlResponse struct {
	Error string `json:"error,omitempty"`
}

// handleDDL parses one statement and runs it through utility processing:
// local catalog application, propagation to workers, and shard assignment
// when sharding is enabled. The whole statement commits or nothing does.
func (s *server) handleDDL(w http.ResponseWriter, r *http.Request) {
	var req ddlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = catalog.SuperuserRole
	}
	if req.Database == "" {
		req.Database = s.cfg.Flags.ControlDatabase
	}

	sess := commands.NewSession(s.cfg.Flags, req.Role, req.Database)
	err := s.runStatement(r.Context(), sess, req.Command)
	if err != nil {
		s.logger.Warn("ddl failed",
			zap.String("command", req.Command),
			zap.String("role", req.Role),
			zap.Error(err))
		writeJSON(w, statusFor(err), ddlResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ddlResponse{})
}

// runStatement executes one statement in its own catalog transaction.
func (s *server) runStatement(ctx context.Context, sess *commands.Session, command string) error {
	stmt, err := ddl.Parse(command)
	if err != nil {
		return err
	}
	if stmt.Kind == ddl.KindSetGuard {
		return sess.ApplyGuard(stmt)
	}
	return s.runParsed(ctx, sess, stmt)
}

// handleExec serves commands dispatched by peers: deparsed statements from
// shard databases delegating to the control database, and mirrored registry
// calls. Guard SET statements persist across requests like session settings;
// other SET statements are accepted and ignored.
func (s *server) handleExec(w http.ResponseWriter, r *http.Request) {
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

	stmt, err := ddl.Parse(req.Command)
	if err == nil && stmt.Kind == ddl.KindSetGuard {
		switch stmt.Guard {
		case ddl.GuardDDLPropagation, ddl.GuardCreateDatabasePropagation:
			if err = sess.ApplyGuard(stmt); err == nil {
				s.execDDLGuard = sess.DDLPropagation
				s.execCreateGuard = sess.CreateDatabasePropagation
			}
		default:
			// Session settings like application_name are accepted as-is.
			err = nil
		}
	} else if err == nil {
		// Never delegate from here: delegated traffic re-enters this same
		// endpoint and would block on execMu until the client times out.
		// Anything arriving on /exec executes against this server.
		err = s.runLocal(r.Context(), sess, stmt)
	}

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

func (s *server) runParsed(ctx context.Context, sess *commands.Session, stmt *ddl.Statement) error {
	// Delegation re-enters this server over HTTP and must run before the
	// catalog transaction is opened.
	if handled, err := s.propagator.MaybeDelegate(ctx, sess, stmt); handled || err != nil {
		return err
	}
	return s.runLocal(ctx, sess, stmt)
}

func (s *server) runLocal(ctx context.Context, sess *commands.Session, stmt *ddl.Statement) error {
	tx := s.engine.Begin()
	defer tx.Rollback()

	switch stmt.Kind {
	case ddl.KindInternalDatabaseCommand:
		if _, err := s.propagator.ReplayDatabaseCommand(ctx, sess, tx, stmt.Command); err != nil {
			return err
		}
	case ddl.KindInternalAddDatabaseShard:
		if err := s.sharder.AddShardLocally(tx, stmt.Database, stmt.GroupID, sess.Role); err != nil {
			return err
		}
	case ddl.KindInternalDeleteDatabaseShard:
		if err := s.sharder.DeleteShardLocally(tx, stmt.Database, sess.Role); err != nil {
			return err
		}
	default:
		if err := s.propagator.ProcessUtility(ctx, sess, tx, stmt); err != nil {
			return err
		}
	}
	tx.Commit()
	return nil
}

func (s *server) handleListDatabases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Databases []string `json:"databases"`
	}{Databases: s.engine.ListDatabases()})
}

func (s *server) handleShards(w http.ResponseWriter, _ *http.Request) {
	shards := s.engine.ListShards()
	writeJSON(w, http.StatusOK, struct {
		Shards []catalog.ShardView `json:"shards"`
	}{Shards: shards})
}

type shardAssignRequest struct {
	Database string `json:"database"`
	Role     string `json:"role"`
}

func (s *server) handleShardAssign(w http.ResponseWriter, r *http.Request) {
	var req shardAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = catalog.SuperuserRole
	}

	tx := s.engine.Begin()
	defer tx.Rollback()
	groupID, err := s.sharder.Assign(r.Context(), tx, req.Database, req.Role)
	if err != nil {
		writeJSON(w, statusFor(err), ddlResponse{Error: err.Error()})
		return
	}
	tx.Commit()

	writeJSON(w, http.StatusOK, struct {
		GroupID int `json:"group_id"`
	}{GroupID: groupID})
}

type shardMoveRequest struct {
	Database string `json:"database"`
	GroupID  int    `json:"group_id"`
	Role     string `json:"role"`
}

func (s *server) handleShardMove(w http.ResponseWriter, r *http.Request) {
	var req shardMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = catalog.SuperuserRole
	}

	tx := s.engine.Begin()
	defer tx.Rollback()
	if err := s.sharder.Move(r.Context(), tx, req.Database, req.GroupID, req.Role); err != nil {
		writeJSON(w, statusFor(err), ddlResponse{Error: err.Error()})
		return
	}
	tx.Commit()
	w.WriteHeader(http.StatusNoContent)
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
